package cli

import (
	"fmt"

	"github.com/nimburion/monjobs/pkg/config"
	"github.com/nimburion/monjobs/pkg/version"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCommand(state *rootState) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management commands",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file and environment variables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, closeLog, err := state.load(cmd)
			if err != nil {
				return err
			}
			closeLog()
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration is valid")
			return nil
		},
	})

	var showSecrets bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, closeLog, err := state.load(cmd)
			if err != nil {
				return err
			}
			closeLog()
			formatted, err := formatConfig(cfg, showSecrets)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatted)
			return nil
		},
	}
	showCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "print the MongoDB URL without masking its password")
	configCmd.AddCommand(showCmd)

	envCmd := &cobra.Command{
		Use:   "env",
		Short: "List the environment variables read by the configuration loader",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range config.EnvVars(state.opts.EnvPrefix) {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}
	configCmd.AddCommand(envCmd)

	return configCmd
}

func formatConfig(cfg *config.Config, showSecrets bool) (string, error) {
	if !showSecrets {
		return cfg.String(), nil
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to format configuration: %w", err)
	}
	return string(raw), nil
}

func newVersionCommand(state *rootState) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Current(state.opts.Name)
			if asJSON {
				return printJSON(cmd.OutOrStdout(), info)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Service: %s\n", info.Service)
			fmt.Fprintf(out, "Version: %s\n", info.Version)
			fmt.Fprintf(out, "Commit: %s\n", info.Commit)
			fmt.Fprintf(out, "Build Time: %s\n", info.BuildTime)
			fmt.Fprintf(out, "Go: %s\n", info.GoVersion)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}
