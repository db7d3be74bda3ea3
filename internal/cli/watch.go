package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pulsepoint/pulsewatch/internal/journal"
	"github.com/pulsepoint/pulsewatch/internal/watchers"
	"github.com/pulsepoint/pulsewatch/internal/watchers/ignore"
	"github.com/pulsepoint/pulsewatch/pkg/metrics"
	"github.com/pulsepoint/pulsewatch/pkg/models"
	"github.com/pulsepoint/pulsewatch/pkg/utils"
)

// watchCmd represents the watch command (main monitoring command)
var watchCmd = &cobra.Command{
	Use:   "watch [path...]",
	Short: "Watch directories and print every change",
	Long: `Watch one or more paths recursively and print an event for every file
or directory that is added, changed or removed.

A path that does not exist yet is watched for its creation.`,
	Args:    cobra.MinimumNArgs(1),
	PreRunE: bindWatchFlags,
	RunE:    runWatch,
}

func init() {
	watchCmd.Flags().Bool("poll", false, "Poll with periodic stat calls instead of native notifications")
	watchCmd.Flags().Duration("poll-interval", 0, "Interval between polling passes (e.g., 250ms, 1s)")
	watchCmd.Flags().Bool("fsevents", false, "Use FSEvents on macOS when available")
	watchCmd.Flags().Bool("ignore-initial", false, "Do not report paths that exist when watching starts")
	watchCmd.Flags().StringSlice("ignore", []string{}, "Patterns to ignore (gitignore style, repeatable)")
	watchCmd.Flags().String("ignore-file", "", "Path to ignore file (defaults to .pulseignore or .gitignore)")
	watchCmd.Flags().Duration("coalesce", 0, "Window merging bursts of changes to one path")
	watchCmd.Flags().Bool("skip-binary", false, "Do not report files with a binary extension")
	watchCmd.Flags().String("journal", "", "Append events to this journal file")
	watchCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g., :9090)")
	watchCmd.Flags().Bool("json", false, "Print events as JSON lines")
	watchCmd.Flags().Duration("stats-interval", 0, "Print session statistics at this interval")
}

// bindWatchFlags binds flags to their config keys when the command runs,
// so commands sharing a key do not override each other's binding
func bindWatchFlags(cmd *cobra.Command, args []string) error {
	bindings := map[string]string{
		"watch.use_polling":     "poll",
		"watch.poll_interval":   "poll-interval",
		"watch.use_fsevents":    "fsevents",
		"watch.ignore_initial":  "ignore-initial",
		"watch.ignore_file":     "ignore-file",
		"watch.coalesce_window": "coalesce",
		"watch.skip_binary":     "skip-binary",
		"metrics.addr":          "metrics-addr",
	}
	for key, flag := range bindings {
		if !cmd.Flags().Changed(flag) {
			continue
		}
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", flag, err)
		}
	}
	return nil
}

// watchOptionsFromConfig builds session options from configuration keys
func watchOptionsFromConfig(v *viper.Viper, extraIgnores []string) watchers.Options {
	opts := watchers.DefaultOptions()
	opts.UsePolling = v.GetBool("watch.use_polling")
	opts.UseFSEvents = v.GetBool("watch.use_fsevents")
	opts.IgnoreInitial = v.GetBool("watch.ignore_initial")
	opts.IgnoreFile = v.GetString("watch.ignore_file")

	if d := v.GetDuration("watch.poll_interval"); d > 0 {
		opts.PollInterval = d
	}
	if d := v.GetDuration("watch.coalesce_window"); d != 0 {
		opts.CoalesceWindow = d
	}
	if d := v.GetDuration("watch.coalesce_max_wait"); d > 0 {
		opts.CoalesceMaxWait = d
	}

	patterns := append(v.GetStringSlice("watch.ignore"), extraIgnores...)
	opts.Ignored = ignore.PatternRules(patterns...)
	return opts
}

// findIgnoreFile looks for a .pulseignore or .gitignore at the top of root
func findIgnoreFile(root string) string {
	for _, name := range []string{".pulseignore", ".gitignore"} {
		candidate := filepath.Join(root, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

func runWatch(cmd *cobra.Command, args []string) error {
	ignorePatterns, _ := cmd.Flags().GetStringSlice("ignore")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	statsInterval, _ := cmd.Flags().GetDuration("stats-interval")
	skipBinary := viper.GetBool("watch.skip_binary")
	out := cmd.OutOrStdout()

	opts := watchOptionsFromConfig(viper.GetViper(), ignorePatterns)
	opts.Logger = logger
	if opts.IgnoreFile == "" {
		if abs, err := filepath.Abs(args[0]); err == nil {
			opts.IgnoreFile = findIgnoreFile(abs)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if addr := viper.GetString("metrics.addr"); addr != "" {
		registry := prometheus.NewRegistry()
		collectors, err := metrics.NewCollectors(registry)
		if err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
		opts.Metrics = collectors

		shutdown := serveMetrics(addr, registry)
		defer shutdown()
	}

	var j *journal.Journal
	if path, enabled := journalPath(cmd); enabled {
		j = journal.New(&journal.Options{
			Path:     path,
			FileMode: 0600,
			Timeout:  time.Second,
			Logger:   logger,
		})
		if err := j.Open(); err != nil {
			return err
		}
		defer j.Close()
	}

	w, err := watchers.New(opts)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()

	// Stops handlers before the session and journal close
	handlerCtx, cancelHandlers := context.WithCancel(ctx)
	defer cancelHandlers()

	w.OnEvent(eventHandler(handlerCtx, out, j, jsonOutput, skipBinary))
	w.OnError(func(err error) {
		fmt.Fprintf(cmd.ErrOrStderr(), "[%s] ⚠️  %v\n", time.Now().Format("15:04:05"), err)
	})

	for _, path := range args {
		if err := w.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
	}

	if !jsonOutput {
		fmt.Fprintf(out, "🚀 Starting PulseWatch\n")
		fmt.Fprintf(out, "📁 Watching: %s\n", strings.Join(args, ", "))
		fmt.Fprintf(out, "🔧 Backends: %s\n", strings.Join(w.Stats().Backends, ", "))
		if opts.IgnoreFile != "" {
			fmt.Fprintf(out, "📝 Using ignore file: %s\n", opts.IgnoreFile)
		}
		if len(ignorePatterns) > 0 {
			fmt.Fprintf(out, "🚫 Ignore Patterns: %v\n", ignorePatterns)
		}
		if j != nil {
			fmt.Fprintf(out, "📒 Journal: %s\n", j.Path())
		}
		fmt.Fprintf(out, "\n")
	}

	started := time.Now()
	var ticks <-chan time.Time
	if statsInterval > 0 {
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		ticks = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			stats := w.Stats()
			if !jsonOutput {
				fmt.Fprintf(out, "\n[%s] 🛑 Stopping after %s, %d paths watched\n",
					time.Now().Format("15:04:05"), utils.FormatDuration(time.Since(started)), stats.WatchedPaths)
			}
			return nil
		case <-ticks:
			stats := w.Stats()
			fmt.Fprintf(cmd.ErrOrStderr(), "[%s] 📊 %d paths, %d signals queued, %d coalesced, backends %s\n",
				time.Now().Format("15:04:05"), stats.WatchedPaths, stats.QueuedSignals,
				stats.CoalescedSignals, strings.Join(stats.Backends, ","))
		}
	}
}

// eventHandler prints each event and appends it to j when journaling.
// Events arriving after ctx is done, or after j closed, are dropped quietly.
func eventHandler(ctx context.Context, out io.Writer, j *journal.Journal, jsonOutput, skipBinary bool) func(models.Event) {
	return func(event models.Event) {
		if ctx.Err() != nil {
			return
		}
		if skipBinary && !event.IsDir && utils.IsBinaryPath(event.Path) {
			return
		}
		printEvent(out, event, jsonOutput)

		if j == nil {
			return
		}
		if err := j.Append(event); err != nil && j.IsOpen() {
			logger.Warn("Failed to journal event", zap.String("path", event.Path), zap.Error(err))
		}
	}
}

// journalPath reports where events go and whether journaling is on
func journalPath(cmd *cobra.Command) (string, bool) {
	if cmd.Flags().Changed("journal") {
		path, _ := cmd.Flags().GetString("journal")
		return path, path != ""
	}
	path := viper.GetString("journal.path")
	return path, viper.GetBool("journal.enabled") && path != ""
}

// serveMetrics serves the registry over HTTP and returns a shutdown func
func serveMetrics(addr string, registry *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(registry))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.String("addr", addr), zap.Error(err))
		}
	}()
	logger.Info("Serving metrics", zap.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}

// printEvent writes one event line, human readable or JSON
func printEvent(out io.Writer, event models.Event, jsonOutput bool) {
	if jsonOutput {
		data, err := json.Marshal(event)
		if err != nil {
			return
		}
		fmt.Fprintln(out, string(data))
		return
	}
	fmt.Fprintln(out, formatEvent(event))
}

// maxPathWidth bounds the path column of human readable event lines
const maxPathWidth = 120

func formatEvent(event models.Event) string {
	path := event.Path
	if home, err := os.UserHomeDir(); err == nil && home != "" && strings.HasPrefix(path, home+string(filepath.Separator)) {
		path = "~" + strings.TrimPrefix(path, home)
	}

	var icon string
	switch event.Type {
	case models.EventAdd:
		icon = "📄 ➕"
	case models.EventAddDir:
		icon = "📁 ➕"
	case models.EventChange:
		icon = "📄 ✏️ "
	case models.EventUnlink:
		icon = "📄 🗑️ "
	case models.EventUnlinkDir:
		icon = "📁 🗑️ "
	default:
		icon = "❓"
	}

	return fmt.Sprintf("[%s] %s %-9s %s", event.Timestamp.Format("15:04:05"), icon, event.Type, utils.ShortenPath(path, maxPathWidth))
}
