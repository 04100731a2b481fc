package cmd

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Zerofisher/honeypot/internal/config"
)

var configFile string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration "honeypot serve" would run with, as YAML.
Without --config this is the built-in default plus HONEYPOT_* overrides,
a good starting point for a config file.`,
	Example: `  honeypot config > honeypot.yaml
  honeypot config --config honeypot.yaml`,
	GroupID: "info",
	RunE:    runConfig,
}

func init() {
	configCmd.Flags().StringVar(&configFile, "config", "", "YAML configuration file")
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}
