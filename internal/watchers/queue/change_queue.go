// Package queue coalesces raw backend signals per path before normalization.
package queue

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pulsepoint/pulsewatch/internal/core/interfaces"
	"github.com/pulsepoint/pulsewatch/pkg/logger"
	"github.com/pulsepoint/pulsewatch/pkg/metrics"
)

// DefaultWindow is the coalescing window used when none is configured
const DefaultWindow = 50 * time.Millisecond

// DefaultMaxWaitFactor sets the default MaxWait as a multiple of the window
const DefaultMaxWaitFactor = 10

// PulseSignalQueue merges the raw signals for a path that arrive within one
// window into a single pending entry. A path that keeps receiving signals is
// still flushed once MaxWait has passed since its first signal. Expired
// entries move to a ready list and the consumer is woken through Notify.
type PulseSignalQueue struct {
	items   map[string]*pendingSignal // keyed by path
	ready   []interfaces.RawSignal
	itemsMu sync.Mutex
	notify  chan struct{}
	stopped bool

	window  time.Duration
	maxWait time.Duration
	maxSize int
	metrics *metrics.Collectors
	logger  *zap.Logger

	coalesced int64
	flushed   int64
}

type pendingSignal struct {
	signal   interfaces.RawSignal
	first    time.Time
	deadline time.Time
	timer    *time.Timer
	merged   int
}

// QueueConfig contains configuration for the signal queue
type QueueConfig struct {
	Window  time.Duration // Quiet period after the last signal for a path; negative disables coalescing
	MaxWait time.Duration // Longest a path is held after its first signal; 0 means DefaultMaxWaitFactor windows
	MaxSize int           // Pending paths above this are flushed without waiting
	Metrics *metrics.Collectors
	Logger  *zap.Logger
}

// NewPulseSignalQueue creates a new signal queue
func NewPulseSignalQueue(config QueueConfig) *PulseSignalQueue {
	if config.Window == 0 {
		config.Window = DefaultWindow
	}
	if config.Window < 0 {
		config.Window = 0
	}
	if config.MaxWait <= 0 {
		config.MaxWait = DefaultMaxWaitFactor * config.Window
	}
	if config.MaxWait < config.Window {
		config.MaxWait = config.Window
	}
	if config.MaxSize == 0 {
		config.MaxSize = 10000
	}
	if config.Logger == nil {
		config.Logger = logger.Get()
	}

	return &PulseSignalQueue{
		items:   make(map[string]*pendingSignal),
		notify:  make(chan struct{}, 1),
		window:  config.Window,
		maxWait: config.MaxWait,
		maxSize: config.MaxSize,
		metrics: config.Metrics,
		logger:  config.Logger,
	}
}

// Add queues a signal, merging it with a pending signal for the same path
func (q *PulseSignalQueue) Add(sig interfaces.RawSignal) {
	q.itemsMu.Lock()
	defer q.itemsMu.Unlock()

	if q.stopped {
		return
	}

	if q.window == 0 {
		q.pushReadyLocked(sig)
		return
	}

	if existing, exists := q.items[sig.Path]; exists {
		if shouldReplace(existing.signal, sig) {
			existing.signal.Kind = sig.Kind
		}
		existing.signal.Timestamp = sig.Timestamp
		existing.deadline = q.deadlineFor(existing.first, time.Now())
		existing.merged++
		existing.timer.Reset(time.Until(existing.deadline))

		q.coalesced++
		q.metrics.SignalCoalesced()
		q.logger.Debug("Coalesced signal",
			zap.String("path", sig.Path),
			zap.String("kind", sig.Kind.String()),
			zap.Int("merged", existing.merged),
		)
		return
	}

	if len(q.items) >= q.maxSize {
		q.logger.Debug("Signal queue at capacity, flushing without coalescing",
			zap.String("path", sig.Path),
			zap.Int("max_size", q.maxSize),
		)
		q.pushReadyLocked(sig)
		return
	}

	path := sig.Path
	now := time.Now()
	entry := &pendingSignal{
		signal:   sig,
		first:    now,
		deadline: now.Add(q.window),
	}
	entry.timer = time.AfterFunc(q.window, func() { q.expire(path) })
	q.items[path] = entry
}

// deadlineFor extends the quiet period from now, capped at MaxWait after first
func (q *PulseSignalQueue) deadlineFor(first, now time.Time) time.Time {
	deadline := now.Add(q.window)
	if limit := first.Add(q.maxWait); deadline.After(limit) {
		return limit
	}
	return deadline
}

// expire moves a pending signal to the ready list once its window has passed
func (q *PulseSignalQueue) expire(path string) {
	q.itemsMu.Lock()
	defer q.itemsMu.Unlock()

	entry, ok := q.items[path]
	if !ok || q.stopped {
		return
	}
	// A signal merged while this callback was waiting re-armed the timer
	if time.Now().Before(entry.deadline) {
		return
	}

	delete(q.items, path)
	q.pushReadyLocked(entry.signal)
}

func (q *PulseSignalQueue) pushReadyLocked(sig interfaces.RawSignal) {
	q.ready = append(q.ready, sig)
	q.flushed++
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Notify returns a channel that receives whenever signals become ready
func (q *PulseSignalQueue) Notify() <-chan struct{} {
	return q.notify
}

// Drain returns the ready signals in the order their windows closed
func (q *PulseSignalQueue) Drain() []interfaces.RawSignal {
	q.itemsMu.Lock()
	defer q.itemsMu.Unlock()

	batch := q.ready
	q.ready = nil
	return batch
}

// GetPendingCount returns the number of signals still inside their window or waiting to be drained
func (q *PulseSignalQueue) GetPendingCount() int {
	q.itemsMu.Lock()
	defer q.itemsMu.Unlock()
	return len(q.items) + len(q.ready)
}

// Stop cancels every pending timer; later signals are dropped
func (q *PulseSignalQueue) Stop() {
	q.itemsMu.Lock()
	defer q.itemsMu.Unlock()

	q.stopped = true
	q.clearLocked()
}

func (q *PulseSignalQueue) clearLocked() {
	for _, entry := range q.items {
		entry.timer.Stop()
	}
	q.items = make(map[string]*pendingSignal)
	q.ready = nil
}

// QueueStats counts the work a queue has done
type QueueStats struct {
	Pending   int   `json:"pending"`
	Ready     int   `json:"ready"`
	Coalesced int64 `json:"coalesced"`
	Flushed   int64 `json:"flushed"`
}

// GetQueueStats returns statistics about the queue
func (q *PulseSignalQueue) GetQueueStats() QueueStats {
	q.itemsMu.Lock()
	defer q.itemsMu.Unlock()

	return QueueStats{
		Pending:   len(q.items),
		Ready:     len(q.ready),
		Coalesced: q.coalesced,
		Flushed:   q.flushed,
	}
}

// shouldReplace decides which kind a merged signal reports. The normalizer
// re-stats every path, so the kind only feeds logs and metrics.
func shouldReplace(existing, next interfaces.RawSignal) bool {
	switch {
	case next.Kind == interfaces.SignalRemoved || next.Kind == interfaces.SignalRenamed:
		return true
	case existing.Kind == interfaces.SignalCreated && next.Kind == interfaces.SignalModified:
		return false
	case next.Kind == interfaces.SignalUnknown:
		return false
	default:
		return true
	}
}
