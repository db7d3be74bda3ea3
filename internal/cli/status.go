package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pulsepoint/pulsewatch/pkg/models"
	"github.com/pulsepoint/pulsewatch/pkg/utils"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize the event journal",
	Long: `Display how many events of each type the journal holds and the
time span they cover.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().String("journal", "", "Journal file (defaults to journal.path)")
	statusCmd.Flags().Bool("json", false, "Output status in JSON format")
}

func runStatus(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	out := cmd.OutOrStdout()

	j, err := openJournal(cmd)
	if err != nil {
		return err
	}
	defer j.Close()

	summary, err := j.Summary()
	if err != nil {
		return fmt.Errorf("failed to summarize journal: %w", err)
	}

	if jsonOutput {
		data, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	fmt.Fprintf(out, "🎯 PulseWatch Status\n")
	fmt.Fprintf(out, "═══════════════════════════════════════\n\n")
	fmt.Fprintf(out, "📒 Journal: %s\n", j.Path())
	fmt.Fprintf(out, "  Events: %d\n", summary.Total)

	if summary.Total == 0 {
		return nil
	}

	fmt.Fprintf(out, "  First: %s\n", summary.First.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "  Last:  %s\n", summary.Last.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "  Span:  %s\n\n", utils.FormatDuration(summary.Last.Sub(summary.First)))

	fmt.Fprintf(out, "📊 By Type\n")
	fmt.Fprintf(out, "─────────\n")
	for _, t := range models.AllEventTypes {
		fmt.Fprintf(out, "  %-9s %d\n", t, summary.ByType[t])
	}
	return nil
}
