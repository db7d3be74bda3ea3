package watchers

import (
	"time"

	"go.uber.org/zap"

	"github.com/pulsepoint/pulsewatch/internal/watchers/ignore"
	"github.com/pulsepoint/pulsewatch/internal/watchers/poll"
	"github.com/pulsepoint/pulsewatch/internal/watchers/queue"
	"github.com/pulsepoint/pulsewatch/pkg/logger"
	"github.com/pulsepoint/pulsewatch/pkg/metrics"
)

// Options contains configuration for a watch session
type Options struct {
	UsePolling        bool          // Re-stat on a ticker instead of native notifications
	UseFSEvents       bool          // Prefer FSEvents on darwin cgo builds
	IgnoreInitial     bool          // No events for the baseline of a root
	Ignored           []ignore.Rule // Patterns and predicates, shared by the scan and live events
	IgnoreFile        string        // Optional gitignore-style file of patterns
	DefaultIgnores    bool          // Skip OS and editor droppings such as .DS_Store
	PollInterval      time.Duration // Polling pass interval
	PollConcurrency   int           // Targets observed in parallel per polling pass
	CoalesceWindow    time.Duration // Quiet period merging the signals of a path; negative disables
	CoalesceMaxWait   time.Duration // Longest a busy path is held; 0 means ten windows
	DrainTimeout      time.Duration // How long Close waits for a running handler
	RegisterTimeout   time.Duration // Retry budget for transient registration failures
	FallbackToPolling bool          // Poll subtrees the native backend cannot watch
	Logger            *zap.Logger
	Metrics           *metrics.Collectors
}

// DefaultOptions returns the options used by the CLI when nothing is configured
func DefaultOptions() Options {
	return Options{
		DefaultIgnores:    true,
		PollInterval:      poll.DefaultInterval,
		PollConcurrency:   poll.DefaultConcurrency,
		CoalesceWindow:    queue.DefaultWindow,
		DrainTimeout:      100 * time.Millisecond,
		RegisterTimeout:   2 * time.Second,
		FallbackToPolling: true,
	}
}

func (o *Options) setDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = poll.DefaultInterval
	}
	if o.PollConcurrency <= 0 {
		o.PollConcurrency = poll.DefaultConcurrency
	}
	if o.CoalesceWindow == 0 {
		o.CoalesceWindow = queue.DefaultWindow
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = 100 * time.Millisecond
	}
	if o.RegisterTimeout <= 0 {
		o.RegisterTimeout = 2 * time.Second
	}
	if o.Logger == nil {
		o.Logger = logger.Get()
	}
}
