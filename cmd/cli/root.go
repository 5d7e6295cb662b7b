// Package cli provides the command-line interface of the mcscan scanner.
// It implements the Cobra-based command tree for migrating the store,
// seeding sockets, scanning, listing results and running the API.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/mcscan/internal/config"
	"github.com/anstrom/mcscan/internal/errors"
	"github.com/anstrom/mcscan/internal/logging"
)

const (
	envPrefix         = "MCSCAN"
	defaultConfigFile = "config.yaml"
)

var (
	cfgFile string
	verbose bool
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "mcscan",
	Short: "Minecraft server scanner",
	Long: `mcscan discovers Minecraft Java edition servers across large address and
port ranges. Sockets are seeded into a relational store, probed with the
Server List Ping query by a bounded worker pool, and every outcome is
persisted with deduplication against earlier runs.`,
	Version:       getVersion(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it. A
// failing command exits the process with status 1.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if hint := exitHint(err); hint != "" {
			fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
		}
		os.Exit(1)
	}
}

// exitHint suggests a way out of errors that stop a command outright.
func exitHint(err error) string {
	if !errors.IsFatal(err) {
		return ""
	}
	switch errors.GetCode(err) {
	case errors.CodeProbeUnexpected:
		return "pass --fail-fast=false to skip sockets that fail in unexpected ways"
	case errors.CodeConfiguration:
		return "check the configuration file and MCSCAN_* environment variables"
	case errors.CodeDatabaseMigration:
		return "inspect the schema with 'mcscan migrate --status'"
	default:
		return ""
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "log format: text, json")
	rootCmd.PersistentFlags().String("db", "", "SQLite database path")

	bindFlags(rootCmd.PersistentFlags(), map[string]string{
		"log-level":  "logging.level",
		"log-format": "logging.format",
		"db":         "database.path",
	})
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}

	initLogging()
}

// getConfigFilePath returns the config file in use, or the default name.
func getConfigFilePath() string {
	if path := viper.ConfigFileUsed(); path != "" {
		return path
	}
	return defaultConfigFile
}

// loadConfig loads the config file and applies flag and environment
// overrides on top of it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(getConfigFilePath())
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}

// initLogging initializes structured logging based on configuration.
func initLogging() {
	cfg, err := loadConfig()
	if err != nil {
		logging.SetDefault(logging.NewWithWriter(logging.DefaultConfig(), os.Stderr))
		return
	}

	logConfig := cfg.Logging
	if verbose {
		logConfig.Level = logging.LevelDebug
	}
	logConfig.AddSource = logConfig.AddSource || logConfig.Level == logging.LevelDebug

	logger, err := logging.New(logConfig)
	if err != nil {
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}
	logging.SetDefault(logger)

	if verbose {
		logging.Info("Structured logging initialized", "level", logConfig.Level, "format", logConfig.Format)
	}
}
