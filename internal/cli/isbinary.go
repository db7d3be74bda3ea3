package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pulsepoint/pulsewatch/pkg/utils"
)

// isBinaryCmd reports which paths have a binary file extension
var isBinaryCmd = &cobra.Command{
	Use:   "isbinary [path...]",
	Short: "Classify paths as binary or text by extension",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, path := range args {
			kind := "text"
			if utils.IsBinaryPath(path) {
				kind = "binary"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", kind, path)
		}
		return nil
	},
}
