package commands

import (
	"encoding/json"
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/etlpulse/am"
	"github.com/teranos/etlpulse/sym"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: sym.AM + " Show etlpulse configuration",
	Long: sym.AM + ` am - etlpulse configuration ("I am")

Configuration sources (later overrides earlier):
1. Default values
2. System config (/etc/etlpulse/am.toml)
3. User config (~/.etlpulse/am.toml)
4. Project config (./am.toml, searched up the directory tree)
5. Environment variables (ETLPULSE_* prefix)

Examples:
  etlpulse am show                # Show current configuration
  etlpulse am show --format json  # Show configuration as JSON
  etlpulse am get pulse.workers   # Show one value
  etlpulse am validate            # Validate current configuration`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runAmValidate,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")
	AmCmd.AddCommand(amShowCmd, amGetCmd, amValidateCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	out, err := marshalConfig(cfg, configFormat)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), out)
	return nil
}

func marshalConfig(cfg *am.Config, format string) (string, error) {
	switch format {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		return string(data) + "\n", nil
	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return "", fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
		return "# etlpulse configuration\n" + string(data), nil
	case "toml":
		data, err := toml.Marshal(cfg)
		if err != nil {
			return "", fmt.Errorf("failed to marshal config to TOML: %w", err)
		}
		return "# etlpulse configuration\n" + string(data), nil
	default:
		return "", fmt.Errorf("unsupported format: %s (supported: toml, json, yaml)", format)
	}
}

func runAmGet(cmd *cobra.Command, args []string) error {
	v := am.GetViper()
	if !v.IsSet(args[0]) {
		return fmt.Errorf("configuration key %q not found", args[0])
	}
	fmt.Fprintln(cmd.OutOrStdout(), v.Get(args[0]))
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), sym.Success+" Configuration is valid")
	return nil
}
