package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/tvrec/internal/config"
	"github.com/jmylchreest/tvrec/internal/observability"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing tvrec configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the effective configuration in YAML format.

With no config file or environment overrides this shows every option with
its default value. Redirect the output to create a configuration template:

  tvrec config dump > config.yaml

Configuration can be set via:
  - Config file (config.yaml, /etc/tvrec/config.yaml, $HOME/.tvrec/config.yaml)
  - A .env file (see --env-file)
  - Environment variables (TVREC_TELEGRAM_TOKEN, TVREC_DATABASE_DSN, etc.)

Environment variables use the TVREC_ prefix and underscores for nesting.
Example: telegram.store_chat_id -> TVREC_TELEGRAM_STORE_CHAT_ID`,
	RunE: runConfigDump,
}

var dumpSecrets bool

func init() {
	configDumpCmd.Flags().BoolVar(&dumpSecrets, "show-secrets", false, "print the bot and API tokens instead of masking them")
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// dumpable returns a copy of c safe to print.
func dumpable(c config.Config, showSecrets bool) config.Config {
	if !showSecrets && c.Telegram.Token != "" {
		c.Telegram.Token = observability.RedactedMarker
	}
	if !showSecrets && c.Server.APIToken != "" {
		c.Server.APIToken = observability.RedactedMarker
	}
	c.Database.DSN = observability.RedactQuery(c.Database.DSN)
	return c
}

func runConfigDump(cmd *cobra.Command, _ []string) error {
	yamlData, err := yaml.Marshal(dumpable(*cfg, dumpSecrets))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "# tvrec Configuration File")
	fmt.Fprintln(out, "# ========================")
	fmt.Fprintln(out, "#")
	fmt.Fprintln(out, "# Duration format: 30s, 5m, 1h, 30d")
	fmt.Fprintln(out, "# Size format: 50MB, 2GiB")
	fmt.Fprintln(out, "#")
	fmt.Fprintln(out, "# Environment variable overrides:")
	fmt.Fprintln(out, "#   TVREC_TELEGRAM_TOKEN, TVREC_TELEGRAM_STORE_CHAT_ID")
	fmt.Fprintln(out, "#   TVREC_SERVER_HOST, TVREC_SERVER_API_TOKEN")
	fmt.Fprintln(out, "#   TVREC_DATABASE_DRIVER, TVREC_DATABASE_DSN")
	fmt.Fprintln(out, "#   TVREC_RECORDING_DIR, TVREC_RECORDING_TIMEZONE")
	fmt.Fprintln(out, "#   TVREC_LOGGING_LEVEL, TVREC_LOGGING_FORMAT")
	fmt.Fprintln(out, "#   etc.")
	fmt.Fprintln(out)
	_, err = out.Write(yamlData)
	return err
}
