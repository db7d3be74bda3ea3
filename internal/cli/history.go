package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pulsepoint/pulsewatch/internal/journal"
	"github.com/pulsepoint/pulsewatch/pkg/models"
	"github.com/pulsepoint/pulsewatch/pkg/utils"
)

// historyCmd lists journaled events
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show journaled events",
	Long: `Display events recorded by 'pulsewatch watch --journal'.

Events are listed oldest first; --limit keeps the most recent ones.`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().String("journal", "", "Journal file (defaults to journal.path)")
	historyCmd.Flags().String("since", "", "Show events since a duration ago (e.g., 2h, 30m, 1d)")
	historyCmd.Flags().StringSlice("type", []string{}, "Only show these event types (add, addDir, change, unlink, unlinkDir)")
	historyCmd.Flags().Int("limit", 50, "Number of events to display (0 for all)")
	historyCmd.Flags().Bool("clear", false, "Delete every journaled event")
	historyCmd.Flags().String("backup", "", "Copy the journal to this file before anything else")
	historyCmd.Flags().Bool("json", false, "Output events as JSON lines")
}

// openJournal opens the journal named by the --journal flag or journal.path
func openJournal(cmd *cobra.Command) (*journal.Journal, error) {
	path, _ := cmd.Flags().GetString("journal")
	if path == "" {
		path = viper.GetString("journal.path")
	}
	if path == "" {
		path = journal.DefaultOptions().Path
	}

	j := journal.New(&journal.Options{
		Path:     path,
		FileMode: 0600,
		Timeout:  time.Second,
		Logger:   logger,
	})
	if err := j.Open(); err != nil {
		return nil, err
	}
	return j, nil
}

// buildQuery turns history flags into a journal query
func buildQuery(since string, types []string, limit int, now time.Time) (journal.Query, error) {
	q := journal.Query{Limit: limit}

	if since != "" {
		d, err := utils.ParseDuration(since)
		if err != nil {
			return q, fmt.Errorf("invalid --since value %q: %w", since, err)
		}
		q.Since = now.Add(-d)
	}

	for _, t := range types {
		eventType, err := models.ParseEventType(t)
		if err != nil {
			return q, err
		}
		q.Types = append(q.Types, eventType)
	}
	return q, nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	since, _ := cmd.Flags().GetString("since")
	types, _ := cmd.Flags().GetStringSlice("type")
	limit, _ := cmd.Flags().GetInt("limit")
	clearJournal, _ := cmd.Flags().GetBool("clear")
	backupPath, _ := cmd.Flags().GetString("backup")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	out := cmd.OutOrStdout()

	q, err := buildQuery(since, types, limit, time.Now())
	if err != nil {
		return err
	}

	j, err := openJournal(cmd)
	if err != nil {
		return err
	}
	defer j.Close()

	if backupPath != "" {
		if err := j.Backup(backupPath); err != nil {
			return fmt.Errorf("failed to back up journal: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "💾 Journal backed up to %s\n", backupPath)
	}

	if clearJournal {
		if err := j.Clear(); err != nil {
			return fmt.Errorf("failed to clear journal: %w", err)
		}
		fmt.Fprintf(out, "🗑️  Journal cleared: %s\n", j.Path())
		return nil
	}

	events, err := j.List(q)
	if err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(out)
		for _, event := range events {
			if err := enc.Encode(event); err != nil {
				return err
			}
		}
		return nil
	}

	fmt.Fprintf(out, "📜 PulseWatch History\n")
	fmt.Fprintf(out, "═══════════════════════════════════════\n")
	if since != "" {
		fmt.Fprintf(out, "⏰ Since: %s ago\n", since)
	}
	fmt.Fprintf(out, "\n")

	if len(events) == 0 {
		fmt.Fprintf(out, "  No events recorded\n")
		return nil
	}
	for _, event := range events {
		fmt.Fprintln(out, formatEvent(event))
	}

	total, err := j.Count()
	if err != nil {
		return fmt.Errorf("failed to count journal: %w", err)
	}
	fmt.Fprintf(out, "\nShowing %d of %d events\n", len(events), total)
	return nil
}
