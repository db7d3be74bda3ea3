package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pulsepoint/pulsewatch/internal/watchers/poll"
	"github.com/pulsepoint/pulsewatch/internal/watchers/queue"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize PulseWatch configuration",
	Long: `Initialize PulseWatch configuration in your home directory.

This command creates:
- ~/.pulsewatch/config.yaml - Main configuration file
- ~/.pulsewatch/logs/ - Directory for log files`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().Bool("force", false, "Overwrite existing configuration")
}

// defaultConfig is the configuration written by init and used for unset keys
func defaultConfig(dir string) map[string]interface{} {
	return map[string]interface{}{
		"watch": map[string]interface{}{
			"use_polling":       false,
			"poll_interval":     poll.DefaultInterval.String(),
			"use_fsevents":      false,
			"ignore_initial":    false,
			"ignore":            []string{".git/", "node_modules/"},
			"ignore_file":       "",
			"coalesce_window":   queue.DefaultWindow.String(),
			"coalesce_max_wait": (queue.DefaultMaxWaitFactor * queue.DefaultWindow).String(),
			"skip_binary":       false,
		},
		"journal": map[string]interface{}{
			"enabled": false,
			"path":    filepath.Join(dir, "journal.db"),
		},
		"metrics": map[string]interface{}{
			"addr": "",
		},
		"logging": map[string]interface{}{
			"level":       "info",
			"file":        filepath.Join(dir, "logs", "pulsewatch.log"),
			"max_size":    100,
			"max_backups": 5,
			"max_age":     30,
		},
	}
}

// writeDefaultConfig creates dir and its config.yaml, returning the file path
func writeDefaultConfig(dir string, force bool) (string, error) {
	if err := os.MkdirAll(filepath.Join(dir, "logs"), 0700); err != nil {
		return "", fmt.Errorf("failed to create PulseWatch directory: %w", err)
	}

	configPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil && !force {
		return "", fmt.Errorf("configuration already exists at %s. Use --force to overwrite", configPath)
	}

	configData, err := yaml.Marshal(defaultConfig(dir))
	if err != nil {
		return "", fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if err := os.WriteFile(configPath, configData, 0600); err != nil {
		return "", fmt.Errorf("failed to write configuration file: %w", err)
	}
	return configPath, nil
}

func runInit(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")

	dir := pulseDir()
	configPath, err := writeDefaultConfig(dir, force)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✅ PulseWatch initialized successfully!\n")
	fmt.Fprintf(out, "📁 Configuration directory: %s\n", dir)
	fmt.Fprintf(out, "📝 Configuration file: %s\n", configPath)
	fmt.Fprintf(out, "\n")
	fmt.Fprintf(out, "Next step: run 'pulsewatch watch /path/to/folder' to start watching\n")

	return nil
}
