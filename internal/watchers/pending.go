package watchers

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"

	pperrors "github.com/pulsepoint/pulsewatch/pkg/errors"
	"github.com/pulsepoint/pulsewatch/pkg/models"
)

// addPending records a root that does not exist yet and watches its
// nearest existing ancestor for the root to appear.
func (w *PulseWatcher) addPending(root string) {
	sentinel := nearestExistingDir(root)

	w.stateMu.Lock()
	w.pending[root] = ""
	w.stateMu.Unlock()

	w.logger.Info("Root does not exist yet, waiting for it",
		zap.String("path", root),
		zap.String("sentinel", sentinel))

	w.moveSentinel(root, sentinel)
	w.resolvePending(root)
}

// checkPending re-evaluates the pending roots a signal could concern
func (w *PulseWatcher) checkPending(path string) {
	for root := range w.pending {
		if isWithin(root, path) || isWithin(path, root) {
			w.resolvePending(root)
		}
	}
}

// resolvePending activates a pending root that now exists, or moves its
// sentinel down to the deepest ancestor that does
func (w *PulseWatcher) resolvePending(root string) {
	for {
		sentinel, ok := w.pending[root]
		if !ok {
			return
		}

		if _, err := os.Lstat(root); err == nil {
			w.activatePending(root, sentinel)
			return
		}

		next := nearestExistingDir(root)
		if next == sentinel {
			return
		}
		w.moveSentinel(root, next)
	}
}

func (w *PulseWatcher) activatePending(root, sentinel string) {
	w.stateMu.Lock()
	delete(w.pending, root)
	w.roots[root] = struct{}{}
	w.stateMu.Unlock()
	w.filter.AddRoot(root)

	w.logger.Info("Pending root appeared", zap.String("path", root))

	// It appeared after the watch started, so its content is new
	if _, err := w.scan(w.ctx, root, true); err != nil && !pperrors.IsNotExist(err) && w.ctx.Err() == nil {
		w.logger.Warn("Scan of appeared root failed", zap.String("path", root), zap.Error(err))
	}
	w.releaseSentinel(sentinel)
}

// moveSentinel points a pending root at a new sentinel directory
func (w *PulseWatcher) moveSentinel(root, next string) {
	w.stateMu.Lock()
	prev := w.pending[root]
	w.pending[root] = next
	w.stateMu.Unlock()

	w.acquireSentinel(next)
	if prev != "" {
		w.releaseSentinel(prev)
	}
}

func (w *PulseWatcher) acquireSentinel(dir string) {
	if dir == "" {
		return
	}
	w.sentinels[dir]++
	if w.sentinels[dir] > 1 {
		return
	}
	if _, routed := w.routes[dir]; routed {
		return
	}
	if !w.register(dir, models.KindDirectory) {
		w.logger.Debug("Failed to watch sentinel directory", zap.String("path", dir))
	}
}

func (w *PulseWatcher) releaseSentinel(dir string) {
	if dir == "" || w.sentinels[dir] == 0 {
		return
	}
	w.sentinels[dir]--
	if w.sentinels[dir] > 0 {
		return
	}
	delete(w.sentinels, dir)

	// Still needed when the directory is itself tracked
	if _, indexed := w.index.Lookup(dir); indexed {
		return
	}
	w.unregister(dir)
}

// nearestExistingDir returns the closest ancestor of path that is a directory
func nearestExistingDir(path string) string {
	dir := filepath.Dir(path)
	for {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}
