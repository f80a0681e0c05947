package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/telekom/oidc-session/pkg/config"
	"github.com/telekom/oidc-session/pkg/output"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage oidc-session configuration",
	}
	cmd.AddCommand(
		newConfigInitCommand(),
		newConfigViewCommand(),
	)
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var (
		issuer    string
		clientID  string
		port      int
		keySource string
		force     bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a new config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			path := rt.configPathValue()
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("config already exists: %s", path)
				}
			}
			cfg := config.DefaultConfig()
			cfg.Provider.Issuer = issuer
			cfg.Provider.ClientID = clientID
			cfg.Callback.Port = port
			cfg.Session.KeySource = keySource
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.Save(path, &cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Initialized config at %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&issuer, "issuer", "", "OIDC issuer URL")
	cmd.Flags().StringVar(&clientID, "client-id", "", "OIDC client ID")
	cmd.Flags().IntVar(&port, "port", config.DefaultConfig().Callback.Port, "Local callback port")
	cmd.Flags().StringVar(&keySource, "key-source", config.KeySourceHost, "Session key source: host or keychain")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config")
	_ = cmd.MarkFlagRequired("issuer")
	_ = cmd.MarkFlagRequired("client-id")

	return cmd
}

func newConfigViewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			format, err := rt.OutputFormat()
			if err != nil {
				return err
			}
			if format == output.FormatTable {
				format = output.FormatYAML
			}
			view := *rt.cfg
			if view.Provider.ClientSecret != "" {
				view.Provider.ClientSecret = "REDACTED"
			}
			return output.WriteObject(rt.Writer(), format, view)
		},
	}
}
