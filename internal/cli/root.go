// Package cli implements the command-line interface for PulseWatch
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	pplogger "github.com/pulsepoint/pulsewatch/pkg/logger"
)

var (
	cfgFile     string
	verboseMode bool
	logger      *zap.Logger
	version     string
	buildDate   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pulsewatch",
	Short: "PulseWatch - Feel every change in your directories",
	Long: `PulseWatch watches directory trees and reports every file and directory
that is added, changed or removed, on Linux, macOS and Windows.

Events can be printed, journaled to disk for later inspection and
counted as Prometheus metrics.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, bd string) {
	version = v
	buildDate = bd
	rootCmd.Version = fmt.Sprintf("%s (built %s)", version, buildDate)
}

func init() {
	logger = zap.NewNop()

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.pulsewatch/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verboseMode, "verbose", "v", false, "verbose output")

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(isBinaryCmd)
}

// pulseDir is where configuration, logs and the journal live by default
func pulseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pulsewatch"
	}
	return filepath.Join(home, ".pulsewatch")
}

// setConfigDefaults registers the defaults every key falls back to
func setConfigDefaults(v *viper.Viper) {
	defaults := defaultConfig(pulseDir())
	for section, values := range defaults {
		settings, ok := values.(map[string]interface{})
		if !ok {
			v.SetDefault(section, values)
			continue
		}
		for key, value := range settings {
			v.SetDefault(section+"."+key, value)
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	setConfigDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(pulseDir())
		viper.AddConfigPath("/etc/pulsewatch/")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// PULSEWATCH_WATCH_USE_POLLING overrides watch.use_polling
	viper.SetEnvPrefix("PULSEWATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	configErr := viper.ReadInConfig()

	logConfig := pplogger.DefaultConfig()
	logConfig.Level = viper.GetString("logging.level")
	logConfig.OutputPath = viper.GetString("logging.file")
	logConfig.MaxSize = viper.GetInt("logging.max_size")
	logConfig.MaxBackups = viper.GetInt("logging.max_backups")
	logConfig.MaxAge = viper.GetInt("logging.max_age")
	if verboseMode {
		logConfig.Level = "debug"
		logConfig.Development = true
	}

	if err := pplogger.Initialize(logConfig); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
	}
	logger = pplogger.Get()

	if configErr == nil {
		logger.Debug("Using config file", zap.String("file", viper.ConfigFileUsed()))
	}
}
