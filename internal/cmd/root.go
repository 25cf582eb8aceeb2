package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Hasintha01/logwatcher/internal/config"
	"github.com/Hasintha01/logwatcher/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

// defaultConfigFile is where the original deployment keeps its settings.
var defaultConfigFile = filepath.Join("config", "config.json")

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "logwatcher",
	Short: "LogWatcher - automated log monitoring and alerting",
	Long: `LogWatcher follows log files as they grow, survives rotation and truncation,
classifies new lines against keyword rules, and raises alerts to the console,
a durable alerts log, email, webhooks and a small query API.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ./config/config.json, then $HOME/.logwatcher.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text, json")

	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func initConfig() {
	config.SetDefaults(viper.GetViper())

	switch {
	case cfgFile != "":
		viper.SetConfigFile(cfgFile)
	case fileExists(defaultConfigFile):
		viper.SetConfigFile(defaultConfigFile)
	default:
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigName(".logwatcher")
		viper.SetConfigType("yaml")
	}
}

// loadConfig reads the config file, sets up logging and reports
// normalization warnings through it. A config file that cannot be parsed is
// logged and defaults apply.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, warnings, err := config.Read(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}

	logger := logging.Init(cfg.LogFormat, cfg.LogLevel, os.Stderr)
	switch {
	case cfg.FileError != nil:
		logger.Error("configuration file unreadable, using defaults",
			slog.String("path", cfg.ConfigPath), slog.Any("error", cfg.FileError))
	case cfg.ConfigPath != "":
		logger.Info("configuration loaded", slog.String("path", cfg.ConfigPath))
	default:
		logger.Info("no configuration file found, using defaults")
	}
	for _, w := range warnings {
		logger.Warn(w)
	}
	return cfg, logger, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
