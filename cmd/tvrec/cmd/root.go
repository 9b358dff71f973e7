// Package cmd implements the CLI commands for tvrec.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmylchreest/tvrec/internal/config"
	"github.com/jmylchreest/tvrec/internal/observability"
	"github.com/jmylchreest/tvrec/internal/version"
)

var (
	// cfgFile holds the config file path from CLI flag.
	cfgFile string
	// envFile holds the .env path from CLI flag.
	envFile string
	// cfg is loaded before any subcommand runs.
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "tvrec",
	Short:   "Telegram bot that records IPTV channels",
	Version: version.Short(),
	Long: `tvrec records live IPTV channels on request from a Telegram chat.

Channels come from one or more M3U playlists. Admins start recordings now
or at a wall-clock time; each capture runs through ffmpeg, reports
progress by editing a chat message, and is uploaded to a storage channel
and copied back to the requesting chat.`,
	SilenceUsage: true,
	// PersistentPreRunE is set in init() to avoid initialization cycle
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	// initConfig references rootCmd.PersistentFlags.
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initConfig()
	}

	// Log flags are not bound to the config layer. They only override
	// config/env values when Changed(), which keeps the precedence
	// CLI flag > env var > config file > default.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml, /etc/tvrec/config.yaml or $HOME/.tvrec/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// initConfig loads the .env file and configuration, then installs the
// default logger.
//
// Priority order (highest to lowest):
//  1. CLI flags (--log-level, --log-format) - only if explicitly provided
//  2. Environment variables (TVREC_LOGGING_LEVEL, TVREC_LOGGING_FORMAT)
//  3. Config file values
//  4. Built-in defaults (info, json)
func initConfig() error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}

	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	cfg = loaded

	flags := rootCmd.PersistentFlags()
	overrideString(flags, "log-level", &cfg.Logging.Level)
	overrideString(flags, "log-format", &cfg.Logging.Format)
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	cfg.Logging.Format = strings.ToLower(cfg.Logging.Format)
	if cfg.Logging.Level == "warning" {
		cfg.Logging.Level = "warn"
	}

	logCfg := cfg.Logging
	logCfg.Redact = append([]string(nil), logCfg.Redact...)
	for _, secret := range []string{cfg.Telegram.Token, cfg.Server.APIToken} {
		if secret != "" {
			logCfg.Redact = append(logCfg.Redact, secret)
		}
	}
	observability.SetDefault(observability.NewLoggerWithWriter(logCfg, os.Stderr))
	return nil
}

// overrideString copies flag name into dst when the user set it explicitly.
func overrideString(flags *pflag.FlagSet, name string, dst *string) {
	if flags.Changed(name) {
		*dst, _ = flags.GetString(name)
	}
}

// overrideInt copies flag name into dst when the user set it explicitly.
func overrideInt(flags *pflag.FlagSet, name string, dst *int) {
	if flags.Changed(name) {
		*dst, _ = flags.GetInt(name)
	}
}
