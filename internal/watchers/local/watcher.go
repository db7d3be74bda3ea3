// Package local implements the native change-notification backends.
package local

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/pulsepoint/pulsewatch/internal/core/interfaces"
	pperrors "github.com/pulsepoint/pulsewatch/pkg/errors"
	"github.com/pulsepoint/pulsewatch/pkg/logger"
	"github.com/pulsepoint/pulsewatch/pkg/models"
)

// NativeBackendName identifies the fsnotify backend in logs and metrics
const NativeBackendName = "fsnotify"

// ErrOverflow is reported when the OS dropped notifications and the
// watched tree must be reconciled from disk.
var ErrOverflow = fsnotify.ErrEventOverflow

// NativeConfig contains configuration for the native backends
type NativeConfig struct {
	RegisterTimeout time.Duration // Upper bound for retrying transient registration failures
	BufferSize      int           // Capacity of the signal channel
	Logger          *zap.Logger
}

func (c *NativeConfig) setDefaults() {
	if c.RegisterTimeout == 0 {
		c.RegisterTimeout = 2 * time.Second
	}
	if c.BufferSize == 0 {
		c.BufferSize = 1024
	}
	if c.Logger == nil {
		c.Logger = logger.Get()
	}
}

// PulseNativeBackend implements interfaces.Backend using fsnotify
// (inotify, kqueue or ReadDirectoryChangesW depending on the platform).
// Only directories are handed to fsnotify. A registered file rides on its
// parent's watch, so replacing the file by rename keeps it observed; events
// are forwarded only for registered paths and children of registered
// directories.
type PulseNativeBackend struct {
	watcher *fsnotify.Watcher
	paths   map[string]models.PathKind // registered paths
	watches map[string]int             // watched directory -> registrations relying on it
	pathsMu sync.RWMutex

	signals chan interfaces.RawSignal
	errors  chan error

	registerTimeout time.Duration
	logger          *zap.Logger
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	closeOnce       sync.Once
}

// NewPulseNativeBackend creates a new fsnotify backend and starts its monitor
func NewPulseNativeBackend(config NativeConfig) (*PulseNativeBackend, error) {
	config.setDefaults()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, pperrors.NewFatalBackendError("failed to create fsnotify watcher", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	nb := &PulseNativeBackend{
		watcher:         w,
		paths:           make(map[string]models.PathKind),
		watches:         make(map[string]int),
		signals:         make(chan interfaces.RawSignal, config.BufferSize),
		errors:          make(chan error, 16),
		registerTimeout: config.RegisterTimeout,
		logger:          config.Logger,
		ctx:             ctx,
		cancel:          cancel,
	}

	nb.wg.Add(1)
	go nb.pulseMonitor()

	return nb, nil
}

// Name returns the backend name
func (nb *PulseNativeBackend) Name() string {
	return NativeBackendName
}

// Signals returns the channel raw signals are delivered on
func (nb *PulseNativeBackend) Signals() <-chan interfaces.RawSignal {
	return nb.signals
}

// Errors returns the channel for asynchronous backend errors
func (nb *PulseNativeBackend) Errors() <-chan error {
	return nb.errors
}

// Register begins monitoring a path
func (nb *PulseNativeBackend) Register(path string, kind models.PathKind) error {
	dir := watchDir(path, kind)

	nb.pathsMu.Lock()
	if nb.ctx.Err() != nil {
		nb.pathsMu.Unlock()
		return pperrors.NewClosedError("backend is closed")
	}
	if _, ok := nb.paths[path]; ok {
		nb.pathsMu.Unlock()
		return nil
	}
	if nb.watches[dir] > 0 {
		nb.watches[dir]++
		nb.paths[path] = kind
		nb.pathsMu.Unlock()
		return nil
	}
	nb.pathsMu.Unlock()

	// fsnotify is never called with pathsMu held: the monitor needs it to filter events
	if err := nb.pulseAddWatch(dir); err != nil {
		return err
	}

	nb.pathsMu.Lock()
	defer nb.pathsMu.Unlock()
	if nb.ctx.Err() != nil {
		return pperrors.NewClosedError("backend is closed")
	}
	if _, ok := nb.paths[path]; !ok {
		nb.watches[dir]++
		nb.paths[path] = kind
	}
	return nil
}

// watchDir is the directory whose watch covers a registered path
func watchDir(path string, kind models.PathKind) string {
	if kind == models.KindDirectory {
		return path
	}
	return filepath.Dir(path)
}

// pulseAddWatch hands a path to fsnotify, retrying transient failures
func (nb *PulseNativeBackend) pulseAddWatch(path string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxElapsedTime = nb.registerTimeout

	err := backoff.Retry(func() error {
		err := nb.watcher.Add(path)
		if err == nil {
			return nil
		}
		if pperrors.IsTransient(err) {
			nb.logger.Debug("Retrying watch registration",
				zap.String("path", path),
				zap.Error(err))
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(b, nb.ctx))
	if err != nil {
		return pperrors.Classify(path, err)
	}
	return nil
}

// Unregister stops monitoring a path
func (nb *PulseNativeBackend) Unregister(path string) error {
	nb.pathsMu.Lock()
	kind, ok := nb.paths[path]
	if !ok {
		nb.pathsMu.Unlock()
		return nil
	}
	delete(nb.paths, path)

	dir := watchDir(path, kind)
	nb.watches[dir]--
	if nb.watches[dir] > 0 {
		nb.pathsMu.Unlock()
		return nil
	}
	delete(nb.watches, dir)
	nb.pathsMu.Unlock()

	// The kernel drops the watch itself when the directory is deleted
	if err := nb.watcher.Remove(dir); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) && !pperrors.IsNotExist(err) {
		return pperrors.NewBackendError("failed to remove watch", err).WithPath(dir)
	}
	return nil
}

// WatchedPaths returns the registered paths, sorted
func (nb *PulseNativeBackend) WatchedPaths() []string {
	nb.pathsMu.RLock()
	defer nb.pathsMu.RUnlock()

	paths := make([]string, 0, len(nb.paths))
	for path := range nb.paths {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Close stops the monitor and releases the fsnotify watcher
func (nb *PulseNativeBackend) Close() error {
	var err error
	nb.closeOnce.Do(func() {
		nb.cancel()

		if cerr := nb.watcher.Close(); cerr != nil {
			err = fmt.Errorf("failed to close fsnotify watcher: %w", cerr)
		}
		nb.wg.Wait()

		nb.pathsMu.Lock()
		nb.paths = make(map[string]models.PathKind)
		nb.watches = make(map[string]int)
		nb.pathsMu.Unlock()

		close(nb.signals)
		close(nb.errors)

		nb.logger.Debug("Native backend closed")
	})
	return err
}

// pulseMonitor forwards fsnotify events and errors until the backend closes
func (nb *PulseNativeBackend) pulseMonitor() {
	defer nb.wg.Done()

	for {
		select {
		case <-nb.ctx.Done():
			return
		case event, ok := <-nb.watcher.Events:
			if !ok {
				return
			}
			nb.pulseHandleEvent(event)
		case err, ok := <-nb.watcher.Errors:
			if !ok {
				return
			}
			nb.pulseHandleError(err)
		}
	}
}

// pulseHandleEvent translates one fsnotify event into a raw signal
func (nb *PulseNativeBackend) pulseHandleEvent(event fsnotify.Event) {
	if event.Name == "" {
		return
	}
	path := filepath.Clean(event.Name)
	if !nb.covers(path) {
		return
	}
	sig := interfaces.NewRawSignal(NativeBackendName, path, MapOp(event.Op))

	nb.logger.Debug("Native signal",
		zap.String("path", sig.Path),
		zap.String("op", event.Op.String()))

	select {
	case nb.signals <- sig:
	case <-nb.ctx.Done():
	}
}

// covers reports whether path is registered or a child of a registered directory
func (nb *PulseNativeBackend) covers(path string) bool {
	nb.pathsMu.RLock()
	defer nb.pathsMu.RUnlock()

	if _, ok := nb.paths[path]; ok {
		return true
	}
	return nb.paths[filepath.Dir(path)] == models.KindDirectory
}

func (nb *PulseNativeBackend) pulseHandleError(err error) {
	if !errors.Is(err, fsnotify.ErrEventOverflow) {
		err = pperrors.NewFatalBackendError("fsnotify error", err)
	}
	nb.logger.Error("File watcher error", zap.Error(err))

	select {
	case nb.errors <- err:
	case <-nb.ctx.Done():
	}
}

// MapOp maps fsnotify operations to signal kinds
func MapOp(op fsnotify.Op) interfaces.SignalKind {
	switch {
	case op.Has(fsnotify.Create):
		return interfaces.SignalCreated
	case op.Has(fsnotify.Remove):
		return interfaces.SignalRemoved
	case op.Has(fsnotify.Rename):
		return interfaces.SignalRenamed
	case op.Has(fsnotify.Write):
		return interfaces.SignalModified
	case op.Has(fsnotify.Chmod):
		return interfaces.SignalModified
	default:
		return interfaces.SignalUnknown
	}
}
