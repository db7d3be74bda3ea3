package watchers

import (
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/pulsepoint/pulsewatch/internal/core/interfaces"
	"github.com/pulsepoint/pulsewatch/internal/watchers/local"
	"github.com/pulsepoint/pulsewatch/internal/watchers/poll"
	pperrors "github.com/pulsepoint/pulsewatch/pkg/errors"
	"github.com/pulsepoint/pulsewatch/pkg/models"
)

// newPrimaryBackend picks the backend a session starts with
func newPrimaryBackend(opts Options) (interfaces.Backend, error) {
	nativeConfig := local.NativeConfig{
		RegisterTimeout: opts.RegisterTimeout,
		Logger:          opts.Logger,
	}

	switch {
	case opts.UsePolling:
		return newPoller(opts), nil
	case opts.UseFSEvents && local.FSEventsSupported:
		return local.NewPulseFSEventsBackend(nativeConfig)
	}

	if opts.UseFSEvents {
		opts.Logger.Warn("FSEvents is not available in this build, using fsnotify")
	}

	nb, err := local.NewPulseNativeBackend(nativeConfig)
	if err != nil {
		if !opts.FallbackToPolling {
			return nil, err
		}
		opts.Logger.Error("Native backend unavailable, falling back to polling", zap.Error(err))
		return newPoller(opts), nil
	}
	return nb, nil
}

func newPoller(opts Options) *poll.PulsePoller {
	return poll.NewPulsePoller(poll.PollConfig{
		Interval:    opts.PollInterval,
		Concurrency: opts.PollConcurrency,
		Metrics:     opts.Metrics,
		Logger:      opts.Logger,
	})
}

// backendFor returns the backend responsible for path.
// Subtrees moved to the fallback poller stay there.
func (w *PulseWatcher) backendFor(path string) interfaces.Backend {
	if w.fallback == nil {
		return w.primary
	}
	for root := range w.fallbackRoots {
		if isWithin(path, root) {
			return w.fallback
		}
	}
	return w.primary
}

// ensureFallback lazily creates the polling backend used for subtrees the
// primary backend cannot watch
func (w *PulseWatcher) ensureFallback() interfaces.Backend {
	if w.fallback != nil {
		return w.fallback
	}
	if w.primary.Name() == poll.BackendName {
		return w.primary
	}

	w.stateMu.Lock()
	w.fallback = newPoller(w.opts)
	w.stateMu.Unlock()

	w.logger.Info("Started polling fallback backend")
	return w.fallback
}

// register hands a path to its backend. It reports false when the path
// cannot be watched and should be skipped.
func (w *PulseWatcher) register(path string, kind models.PathKind) bool {
	if _, ok := w.routes[path]; ok {
		return true
	}

	backend := w.backendFor(path)
	err := backend.Register(path, kind)
	if err == nil {
		w.routes[path] = backend
		return true
	}

	switch {
	case pperrors.IsNotExist(err):
		// Vanished between stat and registration
		return false

	case pperrors.IsClosedError(err):
		return false

	case pperrors.IsPermissionError(err):
		w.metrics.RegistrationFailed(string(pperrors.PermissionError))
		w.reportError(err)
		return false

	case pperrors.IsFatal(err) && w.opts.FallbackToPolling && backend != w.ensureFallback():
		w.metrics.RegistrationFailed(string(pperrors.BackendError))
		w.reportError(err)

		fallback := w.ensureFallback()
		if ferr := fallback.Register(path, kind); ferr != nil {
			w.reportError(pperrors.Classify(path, ferr))
			return false
		}
		w.fallbackRoots[path] = struct{}{}
		w.routes[path] = fallback
		w.logger.Warn("Watching subtree with polling fallback", zap.String("path", path))
		return true

	default:
		w.metrics.RegistrationFailed(string(pperrors.BackendError))
		w.reportError(err)
		return false
	}
}

// unregister releases the backend registration of an indexed path
func (w *PulseWatcher) unregister(path string) {
	if w.sentinels[path] > 0 {
		return
	}
	backend, ok := w.routes[path]
	if !ok {
		return
	}
	delete(w.routes, path)
	delete(w.fallbackRoots, path)

	if err := backend.Unregister(path); err != nil {
		w.logger.Debug("Failed to unregister path",
			zap.String("path", path),
			zap.String("backend", backend.Name()),
			zap.Error(err))
	}
}

// parentRegistered reports whether path's parent is a watched, indexed directory
func (w *PulseWatcher) parentRegistered(path string) bool {
	parent := filepath.Dir(path)
	if parent == path {
		return false
	}
	stat, ok := w.index.Lookup(parent)
	if !ok || !stat.IsDir() {
		return false
	}
	_, routed := w.routes[parent]
	return routed
}

// backendNames lists the active backends for stats
func (w *PulseWatcher) backendNames() []string {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()

	names := []string{w.primary.Name()}
	if w.fallback != nil {
		names = append(names, w.fallback.Name())
	}
	return names
}

// closeBackends closes every backend a session created
func (w *PulseWatcher) closeBackends() error {
	var errs []error
	if err := w.primary.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close %s backend: %w", w.primary.Name(), err))
	}
	if w.fallback != nil {
		if err := w.fallback.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s backend: %w", w.fallback.Name(), err))
		}
	}
	return multierr.Combine(errs...)
}

// isWithin reports whether path is root or lies beneath it
func isWithin(path, root string) bool {
	if path == root {
		return true
	}
	if root == string(filepath.Separator) {
		return strings.HasPrefix(path, root)
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}
