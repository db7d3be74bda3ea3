package watchers

import (
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/pulsepoint/pulsewatch/pkg/models"
)

// delivery is one queued item: either an event or an error
type delivery struct {
	event *models.Event
	err   error
}

// pulseDispatcher is the only goroutine that runs subscriber handlers.
// Its queue is unbounded so a slow handler never stalls the session loop.
type pulseDispatcher struct {
	handlersMu    sync.RWMutex
	typed         map[models.EventType][]func(string)
	all           []func(models.Event)
	errorHandlers []func(error)

	queueMu sync.Mutex
	queue   []delivery
	notify  chan struct{}

	closed *atomic.Bool
	stop   chan struct{}
	done   chan struct{}
	logger *zap.Logger
}

func newPulseDispatcher(logger *zap.Logger) *pulseDispatcher {
	d := &pulseDispatcher{
		typed:  make(map[models.EventType][]func(string)),
		notify: make(chan struct{}, 1),
		closed: atomic.NewBool(false),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
	go d.run()
	return d
}

func (d *pulseDispatcher) on(eventType models.EventType, fn func(string)) {
	d.handlersMu.Lock()
	defer d.handlersMu.Unlock()
	d.typed[eventType] = append(d.typed[eventType], fn)
}

func (d *pulseDispatcher) onEvent(fn func(models.Event)) {
	d.handlersMu.Lock()
	defer d.handlersMu.Unlock()
	d.all = append(d.all, fn)
}

func (d *pulseDispatcher) onError(fn func(error)) {
	d.handlersMu.Lock()
	defer d.handlersMu.Unlock()
	d.errorHandlers = append(d.errorHandlers, fn)
}

func (d *pulseDispatcher) enqueue(item delivery) {
	if d.closed.Load() {
		return
	}

	d.queueMu.Lock()
	d.queue = append(d.queue, item)
	d.queueMu.Unlock()

	select {
	case d.notify <- struct{}{}:
	default:
	}
}

func (d *pulseDispatcher) run() {
	defer close(d.done)

	for {
		select {
		case <-d.stop:
			return
		case <-d.notify:
		}

		d.queueMu.Lock()
		batch := d.queue
		d.queue = nil
		d.queueMu.Unlock()

		for _, item := range batch {
			// Close may run inside a handler of this batch
			if d.closed.Load() {
				return
			}
			d.deliver(item)
		}
	}
}

func (d *pulseDispatcher) deliver(item delivery) {
	d.handlersMu.RLock()
	var typed []func(string)
	if item.event != nil {
		typed = d.typed[item.event.Type]
	}
	all := d.all
	errorHandlers := d.errorHandlers
	d.handlersMu.RUnlock()

	if item.err != nil {
		for _, fn := range errorHandlers {
			d.safely(func() { fn(item.err) })
		}
		return
	}

	for _, fn := range typed {
		if d.closed.Load() {
			return
		}
		d.safely(func() { fn(item.event.Path) })
	}
	for _, fn := range all {
		if d.closed.Load() {
			return
		}
		d.safely(func() { fn(*item.event) })
	}
}

// safely runs a handler, logging instead of crashing on panic
func (d *pulseDispatcher) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Event handler panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

// shutdown stops delivery; queued items are dropped
func (d *pulseDispatcher) shutdown() {
	if d.closed.CompareAndSwap(false, true) {
		close(d.stop)
		d.queueMu.Lock()
		d.queue = nil
		d.queueMu.Unlock()
	}
}

// wait blocks up to timeout for a running handler to return.
// It reports false when the handler was still running at the deadline.
func (d *pulseDispatcher) wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-d.done:
		return true
	case <-timer.C:
		return false
	}
}
