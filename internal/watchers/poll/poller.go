// Package poll implements a backend that detects changes by periodic re-stat.
package poll

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pulsepoint/pulsewatch/internal/core/interfaces"
	pperrors "github.com/pulsepoint/pulsewatch/pkg/errors"
	"github.com/pulsepoint/pulsewatch/pkg/logger"
	"github.com/pulsepoint/pulsewatch/pkg/metrics"
	"github.com/pulsepoint/pulsewatch/pkg/models"
)

// BackendName identifies the polling backend in logs and metrics
const BackendName = "poll"

const (
	// DefaultInterval is the time between two polling passes
	DefaultInterval = 250 * time.Millisecond
	// DefaultConcurrency bounds the targets observed at the same time
	DefaultConcurrency = 8
)

// PollConfig contains configuration for the poller
type PollConfig struct {
	Interval    time.Duration
	Concurrency int
	BufferSize  int
	Metrics     *metrics.Collectors
	Logger      *zap.Logger
}

// observation is what one pass saw for a registered target.
// stat is nil when the target was missing.
type observation struct {
	stat     *models.Stat
	children map[string]models.Stat // base name -> stat, directories only
}

// PulsePoller implements interfaces.Backend by re-stating every registered
// target on a ticker and diffing against its own previous observation.
type PulsePoller struct {
	targets  map[string]models.PathKind
	observed map[string]observation
	mu       sync.Mutex

	signals chan interfaces.RawSignal
	errors  chan error

	interval    time.Duration
	concurrency int
	metrics     *metrics.Collectors
	logger      *zap.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

// NewPulsePoller creates a poller and starts its ticker
func NewPulsePoller(config PollConfig) *PulsePoller {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}
	if config.BufferSize == 0 {
		config.BufferSize = 1024
	}
	if config.Logger == nil {
		config.Logger = logger.Get()
	}

	ctx, cancel := context.WithCancel(context.Background())

	pp := &PulsePoller{
		targets:     make(map[string]models.PathKind),
		observed:    make(map[string]observation),
		signals:     make(chan interfaces.RawSignal, config.BufferSize),
		errors:      make(chan error, 16),
		interval:    config.Interval,
		concurrency: config.Concurrency,
		metrics:     config.Metrics,
		logger:      config.Logger,
		ctx:         ctx,
		cancel:      cancel,
	}

	pp.wg.Add(1)
	go pp.pulseTicker()

	return pp
}

// Name returns the backend name
func (pp *PulsePoller) Name() string {
	return BackendName
}

// Signals returns the channel raw signals are delivered on
func (pp *PulsePoller) Signals() <-chan interfaces.RawSignal {
	return pp.signals
}

// Errors returns the channel for asynchronous backend errors
func (pp *PulsePoller) Errors() <-chan error {
	return pp.errors
}

// Register begins polling a path, seeding its baseline observation
func (pp *PulsePoller) Register(path string, kind models.PathKind) error {
	if pp.ctx.Err() != nil {
		return pperrors.NewClosedError("backend is closed")
	}

	obs, err := observe(path, kind)
	if err != nil {
		return pperrors.Classify(path, err)
	}
	if obs.stat == nil {
		return pperrors.NewFileSystemError("path does not exist", os.ErrNotExist).WithPath(path)
	}

	pp.mu.Lock()
	defer pp.mu.Unlock()

	if _, ok := pp.targets[path]; ok {
		return nil
	}
	pp.targets[path] = kind
	pp.observed[path] = obs
	return nil
}

// Unregister stops polling a path
func (pp *PulsePoller) Unregister(path string) error {
	pp.mu.Lock()
	defer pp.mu.Unlock()

	delete(pp.targets, path)
	delete(pp.observed, path)
	return nil
}

// WatchedPaths returns the registered paths, sorted
func (pp *PulsePoller) WatchedPaths() []string {
	pp.mu.Lock()
	defer pp.mu.Unlock()

	paths := make([]string, 0, len(pp.targets))
	for path := range pp.targets {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Close stops the ticker
func (pp *PulsePoller) Close() error {
	pp.closeOnce.Do(func() {
		pp.cancel()
		pp.wg.Wait()

		pp.mu.Lock()
		pp.targets = make(map[string]models.PathKind)
		pp.observed = make(map[string]observation)
		pp.mu.Unlock()

		close(pp.signals)
		close(pp.errors)
	})
	return nil
}

func (pp *PulsePoller) pulseTicker() {
	defer pp.wg.Done()

	ticker := time.NewTicker(pp.interval)
	defer ticker.Stop()

	for {
		select {
		case <-pp.ctx.Done():
			return
		case <-ticker.C:
			pp.pulsePollOnce(pp.ctx)
		}
	}
}

// pulsePollOnce observes every target and delivers the signals for what changed
func (pp *PulsePoller) pulsePollOnce(ctx context.Context) {
	start := time.Now()

	pp.mu.Lock()
	targets := make(map[string]models.PathKind, len(pp.targets))
	for path, kind := range pp.targets {
		// Files under a registered directory are seen through its listing
		if kind == models.KindFile && pp.targets[filepath.Dir(path)] == models.KindDirectory {
			continue
		}
		targets[path] = kind
	}
	pp.mu.Unlock()

	results := make(map[string]observation, len(targets))
	var resultsMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pp.concurrency)
	for path, kind := range targets {
		path, kind := path, kind
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			obs, err := observe(path, kind)
			if err != nil {
				// Unreadable this pass; keep the previous observation
				pp.logger.Debug("Poll observation failed",
					zap.String("path", path),
					zap.Error(err))
				return nil
			}
			resultsMu.Lock()
			results[path] = obs
			resultsMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return
	}

	var pending []interfaces.RawSignal
	pp.mu.Lock()
	for path, obs := range results {
		prev, ok := pp.observed[path]
		if !ok {
			// Unregistered during the pass
			continue
		}
		pending = append(pending, diff(path, prev, obs)...)
		pp.observed[path] = obs
	}
	pp.mu.Unlock()

	pp.metrics.ObservePoll(time.Since(start).Seconds())

	sort.Slice(pending, func(i, j int) bool { return pending[i].Path < pending[j].Path })
	for _, sig := range pending {
		select {
		case pp.signals <- sig:
		case <-ctx.Done():
			return
		}
	}
}

// diff synthesizes the signals between two observations of one target
func diff(path string, prev, next observation) []interfaces.RawSignal {
	var out []interfaces.RawSignal

	switch {
	case prev.stat == nil && next.stat == nil:
		return nil
	case prev.stat != nil && next.stat == nil:
		return append(out, interfaces.NewRawSignal(BackendName, path, interfaces.SignalRemoved))
	case prev.stat == nil && next.stat != nil:
		out = append(out, interfaces.NewRawSignal(BackendName, path, interfaces.SignalCreated))
	case next.stat.Changed(*prev.stat):
		out = append(out, interfaces.NewRawSignal(BackendName, path, interfaces.SignalModified))
	}

	for name, stat := range next.children {
		old, existed := prev.children[name]
		child := filepath.Join(path, name)
		switch {
		case !existed:
			out = append(out, interfaces.NewRawSignal(BackendName, child, interfaces.SignalCreated))
		case stat.Changed(old):
			out = append(out, interfaces.NewRawSignal(BackendName, child, interfaces.SignalModified))
		}
	}
	for name := range prev.children {
		if _, exists := next.children[name]; !exists {
			out = append(out, interfaces.NewRawSignal(BackendName, filepath.Join(path, name), interfaces.SignalRemoved))
		}
	}
	return out
}

// observe stats a target and, for a directory, lists its direct children.
// A missing target is a nil stat, not an error.
func observe(path string, kind models.PathKind) (observation, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if pperrors.IsNotExist(err) {
			return observation{}, nil
		}
		return observation{}, err
	}

	stat := models.StatFromFileInfo(info)
	obs := observation{stat: &stat}
	if !stat.IsDir() || kind != models.KindDirectory {
		return obs, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		if pperrors.IsNotExist(err) {
			return observation{}, nil
		}
		return observation{}, err
	}

	obs.children = make(map[string]models.Stat, len(entries))
	for _, entry := range entries {
		childInfo, err := os.Lstat(filepath.Join(path, entry.Name()))
		if err != nil {
			// Vanished between the listing and the stat
			continue
		}
		obs.children[entry.Name()] = models.StatFromFileInfo(childInfo)
	}
	return obs, nil
}
