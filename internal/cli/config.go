package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage PulseWatch configuration",
	Long:  `View and modify PulseWatch configuration settings.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSet,
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Get a configuration value",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
}

func configFileUsed() string {
	if file := viper.ConfigFileUsed(); file != "" {
		return file
	}
	return filepath.Join(pulseDir(), "config.yaml")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "📋 PulseWatch Configuration\n")
	fmt.Fprintf(out, "═══════════════════════════════════════\n\n")
	fmt.Fprintf(out, "📁 Config File: %s\n\n", configFileUsed())

	yamlData, err := yaml.Marshal(viper.AllSettings())
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	fmt.Fprintln(out, string(yamlData))
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	viper.Set(key, value)

	if err := viper.WriteConfig(); err != nil {
		if err := viper.WriteConfigAs(configFileUsed()); err != nil {
			return fmt.Errorf("failed to write configuration: %w", err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✅ Configuration updated\n")
	fmt.Fprintf(cmd.OutOrStdout(), "   %s = %s\n", key, value)
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	key := args[0]
	if !viper.IsSet(key) {
		return fmt.Errorf("configuration key '%s' not found", key)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%v\n", viper.Get(key))
	return nil
}
