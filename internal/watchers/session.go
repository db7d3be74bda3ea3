// Package watchers runs watch sessions: it drives a change-notification
// backend, normalizes its raw signals into add, addDir, change, unlink and
// unlinkDir events, and delivers them to subscribers.
package watchers

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/pulsepoint/pulsewatch/internal/core/interfaces"
	"github.com/pulsepoint/pulsewatch/internal/watchers/ignore"
	"github.com/pulsepoint/pulsewatch/internal/watchers/index"
	"github.com/pulsepoint/pulsewatch/internal/watchers/local"
	"github.com/pulsepoint/pulsewatch/internal/watchers/queue"
	pperrors "github.com/pulsepoint/pulsewatch/pkg/errors"
	"github.com/pulsepoint/pulsewatch/pkg/logger"
	"github.com/pulsepoint/pulsewatch/pkg/metrics"
	"github.com/pulsepoint/pulsewatch/pkg/models"
	"github.com/pulsepoint/pulsewatch/pkg/utils"
)

// PulseWatcher is one watch session over a set of roots
type PulseWatcher struct {
	opts      Options
	sessionID string
	logger    *zap.Logger
	metrics   *metrics.Collectors

	index      *index.PathIndex
	filter     *ignore.Filter
	queue      *queue.PulseSignalQueue
	dispatcher *pulseDispatcher

	// Owned by the loop goroutine; stateMu guards what Stats reads
	stateMu       sync.RWMutex
	primary       interfaces.Backend
	fallback      interfaces.Backend
	roots         map[string]struct{}
	pending       map[string]string // pending root -> sentinel directory
	routes        map[string]interfaces.Backend
	fallbackRoots map[string]struct{}
	sentinels     map[string]int

	requests  chan addRequest
	ready     chan struct{}
	readyOnce sync.Once
	emitted   map[models.EventType]*atomic.Int64

	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
	closed   *atomic.Bool
}

type addRequest struct {
	path string
}

// Stats is a point-in-time view of a session
type Stats struct {
	SessionID        string                     `json:"session_id"`
	WatchedPaths     int                        `json:"watched_paths"`
	Roots            []string                   `json:"roots"`
	PendingRoots     []string                   `json:"pending_roots"`
	Backends         []string                   `json:"backends"`
	QueuedSignals    int                        `json:"queued_signals"`
	CoalescedSignals int64                      `json:"coalesced_signals"`
	FlushedSignals   int64                      `json:"flushed_signals"`
	EventsEmitted    map[models.EventType]int64 `json:"events_emitted"`
}

// New creates a session with no roots. Add paths to start watching.
func New(opts Options) (*PulseWatcher, error) {
	opts.setDefaults()

	filter, err := newFilter(opts)
	if err != nil {
		return nil, err
	}

	primary, err := newPrimaryBackend(opts)
	if err != nil {
		return nil, err
	}

	return newSession(opts, filter, primary), nil
}

func newFilter(opts Options) (*ignore.Filter, error) {
	filter, err := ignore.NewFilter(opts.Logger, opts.DefaultIgnores, opts.Ignored...)
	if err != nil {
		return nil, pperrors.NewValidationError("invalid ignore rules", err)
	}
	if opts.IgnoreFile != "" {
		if err := filter.LoadFile(opts.IgnoreFile); err != nil {
			return nil, pperrors.NewConfigError("failed to load ignore file", err).WithPath(opts.IgnoreFile)
		}
	}
	return filter, nil
}

// newSession wires a session around an already created backend and starts its loop
func newSession(opts Options, filter *ignore.Filter, primary interfaces.Backend) *PulseWatcher {
	sessionID := utils.PulseSessionID()
	log := logger.WithSessionID(opts.Logger, sessionID)
	ctx, cancel := context.WithCancel(context.Background())

	w := &PulseWatcher{
		opts:          opts,
		sessionID:     sessionID,
		logger:        log,
		metrics:       opts.Metrics,
		index:         index.New(),
		filter:        filter,
		dispatcher:    newPulseDispatcher(log),
		primary:       primary,
		roots:         make(map[string]struct{}),
		pending:       make(map[string]string),
		routes:        make(map[string]interfaces.Backend),
		fallbackRoots: make(map[string]struct{}),
		sentinels:     make(map[string]int),
		requests:      make(chan addRequest, 64),
		ready:         make(chan struct{}),
		emitted:       make(map[models.EventType]*atomic.Int64, len(models.AllEventTypes)),
		ctx:           ctx,
		cancel:        cancel,
		loopDone:      make(chan struct{}),
		closed:        atomic.NewBool(false),
	}
	w.queue = queue.NewPulseSignalQueue(queue.QueueConfig{
		Window:  opts.CoalesceWindow,
		MaxWait: opts.CoalesceMaxWait,
		Metrics: opts.Metrics,
		Logger:  log,
	})
	for _, t := range models.AllEventTypes {
		w.emitted[t] = atomic.NewInt64(0)
	}

	go w.pulseLoop()

	log.Info("Watch session started",
		zap.String("backend", primary.Name()),
		zap.Bool("ignore_initial", opts.IgnoreInitial),
		zap.Duration("coalesce_window", opts.CoalesceWindow))

	return w
}

// Watch creates a session watching path. Ready closes once its initial scan is done.
func Watch(path string, opts Options) (*PulseWatcher, error) {
	w, err := New(opts)
	if err != nil {
		return nil, err
	}

	if err := w.Add(path); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

// Add starts watching another path. It returns once the request is queued;
// a path that does not exist yet is watched for its creation.
func (w *PulseWatcher) Add(path string) error {
	if w.closed.Load() {
		return pperrors.NewClosedError("watcher is closed")
	}
	if path == "" {
		return pperrors.NewValidationError("path must not be empty", nil)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return pperrors.NewValidationError("failed to get absolute path", err).WithPath(path)
	}

	select {
	case w.requests <- addRequest{path: absPath}:
		return nil
	case <-w.ctx.Done():
		return pperrors.NewClosedError("watcher is closed")
	}
}

// Ready closes once the first root has been scanned: for Watch, its initial
// scan; for a session made with New, the first Add.
func (w *PulseWatcher) Ready() <-chan struct{} {
	return w.ready
}

// On subscribes fn to one event type; it receives the absolute path
func (w *PulseWatcher) On(eventType models.EventType, fn func(path string)) {
	if !eventType.Valid() {
		w.logger.Warn("Ignoring handler for unknown event type", zap.String("type", string(eventType)))
		return
	}
	w.dispatcher.on(eventType, fn)
}

// OnEvent subscribes fn to every event
func (w *PulseWatcher) OnEvent(fn func(models.Event)) {
	w.dispatcher.onEvent(fn)
}

// OnError subscribes fn to non-fatal and fatal session errors
func (w *PulseWatcher) OnError(fn func(error)) {
	w.dispatcher.onError(fn)
}

// WatchedPaths returns every tracked path, sorted
func (w *PulseWatcher) WatchedPaths() []string {
	return w.index.Paths()
}

// Stats returns a snapshot of the session
func (w *PulseWatcher) Stats() Stats {
	w.stateMu.RLock()
	roots := make([]string, 0, len(w.roots))
	for root := range w.roots {
		roots = append(roots, root)
	}
	pending := make([]string, 0, len(w.pending))
	for root := range w.pending {
		pending = append(pending, root)
	}
	w.stateMu.RUnlock()

	sort.Strings(roots)
	sort.Strings(pending)

	emitted := make(map[models.EventType]int64, len(w.emitted))
	for t, n := range w.emitted {
		emitted[t] = n.Load()
	}

	queueStats := w.queue.GetQueueStats()
	return Stats{
		SessionID:        w.sessionID,
		WatchedPaths:     w.index.Len(),
		Roots:            roots,
		PendingRoots:     pending,
		Backends:         w.backendNames(),
		QueuedSignals:    queueStats.Pending + queueStats.Ready,
		CoalescedSignals: queueStats.Coalesced,
		FlushedSignals:   queueStats.Flushed,
		EventsEmitted:    emitted,
	}
}

// Close stops the session and releases every backend resource. No event is
// delivered after it returns. It is idempotent and safe to call from a handler.
func (w *PulseWatcher) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}

	w.dispatcher.shutdown()
	w.cancel()
	<-w.loopDone

	w.queue.Stop()

	w.sentinels = make(map[string]int)
	for path := range w.routes {
		w.unregister(path)
	}
	err := w.closeBackends()

	w.index.Clear()
	w.metrics.SetWatchedPaths(0)

	if !w.dispatcher.wait(w.opts.DrainTimeout) {
		w.logger.Debug("Handler still running after drain timeout")
	}

	w.logger.Info("Watch session closed")
	return err
}

// pulseLoop owns the index and routing state: it serializes add requests,
// backend signals and errors, and coalesced flushes.
func (w *PulseWatcher) pulseLoop() {
	defer close(w.loopDone)

	primarySignals := w.primary.Signals()
	primaryErrors := w.primary.Errors()
	var fallbackSignals <-chan interfaces.RawSignal
	var fallbackErrors <-chan error
	fallbackWired := false

	for {
		if w.fallback != nil && !fallbackWired {
			fallbackSignals = w.fallback.Signals()
			fallbackErrors = w.fallback.Errors()
			fallbackWired = true
		}

		select {
		case <-w.ctx.Done():
			return

		case req := <-w.requests:
			w.handleAdd(req)

		case sig, ok := <-primarySignals:
			if !ok {
				primarySignals = nil
				continue
			}
			w.receive(sig)

		case sig, ok := <-fallbackSignals:
			if !ok {
				fallbackSignals = nil
				continue
			}
			w.receive(sig)

		case err, ok := <-primaryErrors:
			if !ok {
				primaryErrors = nil
				continue
			}
			w.handleBackendError(err)

		case err, ok := <-fallbackErrors:
			if !ok {
				fallbackErrors = nil
				continue
			}
			w.handleBackendError(err)

		case <-w.queue.Notify():
			for _, sig := range w.queue.Drain() {
				w.normalize(sig.Path)
			}
		}
	}
}

func (w *PulseWatcher) receive(sig interfaces.RawSignal) {
	w.metrics.SignalReceived(sig.Backend, sig.Kind.String())
	w.logger.Debug("Raw signal",
		zap.String("path", sig.Path),
		zap.String("kind", sig.Kind.String()),
		zap.String("backend", sig.Backend))
	w.queue.Add(sig)
}

func (w *PulseWatcher) handleBackendError(err error) {
	if errors.Is(err, local.ErrOverflow) {
		w.reconcileAll()
		return
	}
	w.reportError(err)
}

// handleAdd registers a new root. A path inside an existing root needs no
// scan: that tree already reports it through live signals.
func (w *PulseWatcher) handleAdd(req addRequest) {
	defer w.readyOnce.Do(func() { close(w.ready) })

	path := req.path
	w.stateMu.RLock()
	_, isRoot := w.roots[path]
	_, isPending := w.pending[path]
	w.stateMu.RUnlock()
	if isRoot || isPending {
		return
	}

	covered := w.withinRoots(path)
	w.stateMu.Lock()
	w.roots[path] = struct{}{}
	w.stateMu.Unlock()

	if covered {
		w.logger.Debug("Path already covered by a watched root", zap.String("path", path))
		return
	}
	w.filter.AddRoot(path)

	w.logger.Info("Watching root", zap.String("path", path))
	_, err := w.scan(w.ctx, path, !w.opts.IgnoreInitial)
	switch {
	case err == nil:
	case pperrors.IsNotExist(err):
		w.stateMu.Lock()
		delete(w.roots, path)
		w.stateMu.Unlock()
		w.addPending(path)
	case w.ctx.Err() != nil:
	default:
		w.logger.Warn("Initial scan failed", zap.String("path", path), zap.Error(err))
	}
}

// emit records an event and hands it to the dispatcher
func (w *PulseWatcher) emit(eventType models.EventType, path string, stat models.Stat) {
	if w.closed.Load() {
		return
	}

	event := models.NewEvent(eventType, path)
	if !eventType.IsRemoval() {
		event.Size = stat.Size
	}
	if backend, ok := w.routes[path]; ok {
		event.Backend = backend.Name()
	} else {
		event.Backend = w.backendFor(path).Name()
	}

	w.emitted[eventType].Inc()
	w.metrics.EventEmitted(eventType.String())
	w.logger.Debug("Event",
		zap.String("type", eventType.String()),
		zap.String("path", path))

	w.dispatcher.enqueue(delivery{event: &event})
}

// reportError logs err and hands it to error subscribers
func (w *PulseWatcher) reportError(err error) {
	if pperrors.IsFatal(err) {
		w.logger.Error("Watch error", zap.Error(err))
	} else {
		w.logger.Warn("Watch warning", zap.Error(err))
	}
	w.dispatcher.enqueue(delivery{err: err})
}
