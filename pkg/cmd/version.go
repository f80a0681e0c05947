package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telekom/oidc-session/pkg/output"
	"github.com/telekom/oidc-session/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show oidc-session version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.GetBuildInfo()

			rt, _ := getRuntime(cmd)
			writer := cmd.OutOrStdout()
			format := output.FormatTable
			if rt != nil {
				writer = rt.Writer()
				if f, err := rt.OutputFormat(); err == nil {
					format = f
				}
			}
			if format == output.FormatTable {
				_, _ = fmt.Fprintf(writer, "oidc-session %s (commit: %s, built: %s)\n", info.Version, info.GitCommit, info.BuildDate)
				return nil
			}
			return output.WriteObject(writer, format, info)
		},
	}
}
