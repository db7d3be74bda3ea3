//go:build darwin && cgo

package local

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsevents"
	"go.uber.org/zap"

	"github.com/pulsepoint/pulsewatch/internal/core/interfaces"
	pperrors "github.com/pulsepoint/pulsewatch/pkg/errors"
	"github.com/pulsepoint/pulsewatch/pkg/models"
)

// FSEventsSupported reports whether this build can use the FSEvents backend
const FSEventsSupported = true

// FSEventsBackendName identifies the FSEvents backend in logs and metrics
const FSEventsBackendName = "fsevents"

// pulseStream is one recursive FSEvents stream. Event paths arrive with
// symlinks resolved and are translated back to the registered root.
type pulseStream struct {
	es       *fsevents.EventStream
	root     string
	resolved string
	done     chan struct{}
}

// PulseFSEventsBackend implements interfaces.Backend using macOS FSEvents.
// One stream covers a whole registered tree; events are filtered down to
// registered paths and the direct children of registered directories.
type PulseFSEventsBackend struct {
	paths   map[string]models.PathKind
	streams map[string]*pulseStream
	pathsMu sync.RWMutex

	signals chan interfaces.RawSignal
	errors  chan error

	latency   time.Duration
	logger    *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewPulseFSEventsBackend creates a new FSEvents backend
func NewPulseFSEventsBackend(config NativeConfig) (interfaces.Backend, error) {
	config.setDefaults()

	ctx, cancel := context.WithCancel(context.Background())

	return &PulseFSEventsBackend{
		paths:   make(map[string]models.PathKind),
		streams: make(map[string]*pulseStream),
		signals: make(chan interfaces.RawSignal, config.BufferSize),
		errors:  make(chan error, 16),
		latency: 10 * time.Millisecond,
		logger:  config.Logger,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Name returns the backend name
func (fb *PulseFSEventsBackend) Name() string {
	return FSEventsBackendName
}

// Signals returns the channel raw signals are delivered on
func (fb *PulseFSEventsBackend) Signals() <-chan interfaces.RawSignal {
	return fb.signals
}

// Errors returns the channel for asynchronous backend errors
func (fb *PulseFSEventsBackend) Errors() <-chan error {
	return fb.errors
}

// Register begins monitoring a path, starting a stream when no existing one covers it
func (fb *PulseFSEventsBackend) Register(path string, kind models.PathKind) error {
	fb.pathsMu.Lock()
	defer fb.pathsMu.Unlock()

	if fb.ctx.Err() != nil {
		return pperrors.NewClosedError("backend is closed")
	}
	if _, ok := fb.paths[path]; ok {
		return nil
	}

	streamRoot := path
	if kind == models.KindFile {
		streamRoot = filepath.Dir(path)
	}
	if fb.coveredLocked(streamRoot) {
		fb.paths[path] = kind
		return nil
	}

	if err := fb.startStreamLocked(streamRoot); err != nil {
		return err
	}
	fb.paths[path] = kind
	return nil
}

func (fb *PulseFSEventsBackend) coveredLocked(path string) bool {
	for root := range fb.streams {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (fb *PulseFSEventsBackend) startStreamLocked(root string) error {
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return pperrors.Classify(root, err)
	}

	dev, err := fsevents.DeviceForPath(resolved)
	if err != nil {
		return pperrors.Classify(root, err)
	}

	es := &fsevents.EventStream{
		Paths:   []string{resolved},
		Latency: fb.latency,
		Device:  dev,
		Flags:   fsevents.FileEvents | fsevents.WatchRoot,
	}
	es.Start()

	stream := &pulseStream{es: es, root: root, resolved: resolved, done: make(chan struct{})}
	fb.streams[root] = stream

	fb.wg.Add(1)
	go fb.pulseForward(stream)

	fb.logger.Debug("Started FSEvents stream",
		zap.String("root", root),
		zap.String("resolved", resolved))
	return nil
}

// pulseForward delivers the events of one stream until it is stopped
func (fb *PulseFSEventsBackend) pulseForward(stream *pulseStream) {
	defer fb.wg.Done()

	for {
		select {
		case <-fb.ctx.Done():
			return
		case <-stream.done:
			return
		case events, ok := <-stream.es.Events:
			if !ok {
				return
			}
			for _, ev := range events {
				fb.pulseHandleEvent(stream, ev)
			}
		}
	}
}

func (fb *PulseFSEventsBackend) pulseHandleEvent(stream *pulseStream, ev fsevents.Event) {
	if ev.Flags&fsevents.MustScanSubDirs != 0 {
		select {
		case fb.errors <- ErrOverflow:
		case <-fb.ctx.Done():
		}
		return
	}

	path := ev.Path
	if len(path) > 0 && path[0] != '/' {
		path = "/" + path
	}
	path = filepath.Clean(path)
	if stream.resolved != stream.root && strings.HasPrefix(path, stream.resolved) {
		path = stream.root + strings.TrimPrefix(path, stream.resolved)
	}

	if !fb.relevant(path) {
		return
	}

	sig := interfaces.NewRawSignal(FSEventsBackendName, path, mapFlags(ev.Flags))
	select {
	case fb.signals <- sig:
	case <-fb.ctx.Done():
	}
}

// relevant reports whether path is registered or a direct child of a registered directory
func (fb *PulseFSEventsBackend) relevant(path string) bool {
	fb.pathsMu.RLock()
	defer fb.pathsMu.RUnlock()

	if _, ok := fb.paths[path]; ok {
		return true
	}
	return fb.paths[filepath.Dir(path)] == models.KindDirectory
}

func mapFlags(flags fsevents.EventFlags) interfaces.SignalKind {
	switch {
	case flags&fsevents.ItemRemoved != 0:
		return interfaces.SignalRemoved
	case flags&fsevents.ItemRenamed != 0:
		return interfaces.SignalRenamed
	case flags&fsevents.ItemCreated != 0:
		return interfaces.SignalCreated
	case flags&(fsevents.ItemModified|fsevents.ItemInodeMetaMod|fsevents.ItemChangeOwner|fsevents.ItemXattrMod) != 0:
		return interfaces.SignalModified
	default:
		return interfaces.SignalUnknown
	}
}

// Unregister stops monitoring a path; a stream is stopped with its root
func (fb *PulseFSEventsBackend) Unregister(path string) error {
	fb.pathsMu.Lock()
	defer fb.pathsMu.Unlock()

	delete(fb.paths, path)
	if stream, ok := fb.streams[path]; ok {
		delete(fb.streams, path)
		close(stream.done)
		stream.es.Stop()
	}
	return nil
}

// WatchedPaths returns the registered paths, sorted
func (fb *PulseFSEventsBackend) WatchedPaths() []string {
	fb.pathsMu.RLock()
	defer fb.pathsMu.RUnlock()

	paths := make([]string, 0, len(fb.paths))
	for path := range fb.paths {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Close stops every stream
func (fb *PulseFSEventsBackend) Close() error {
	fb.closeOnce.Do(func() {
		fb.cancel()

		fb.pathsMu.Lock()
		for root, stream := range fb.streams {
			close(stream.done)
			stream.es.Stop()
			delete(fb.streams, root)
		}
		fb.paths = make(map[string]models.PathKind)
		fb.pathsMu.Unlock()

		fb.wg.Wait()
		close(fb.signals)
		close(fb.errors)
	})
	return nil
}
