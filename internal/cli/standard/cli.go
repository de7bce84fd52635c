package standard

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/featherproxy/feather/internal/cli/client"
)

// Version is stamped at build time.
var Version = "dev"

// Execute runs the Cobra-based CLI entry point.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "feather",
		Short:         "Feather command-line interface",
		Long:          "Feather CLI manages the routing configuration served by featherd: source and target servers, routes, and credentials.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringP("api", "a", envOrDefault("FEATHER_API", client.DefaultBaseURL), "featherd base URL")
	cmd.PersistentFlags().String("api-key", envOrDefault("FEATHER_API_KEY", ""), "featherd operator API key")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newSourceServersCmd())
	cmd.AddCommand(newTargetServersCmd())
	cmd.AddCommand(newAuthsCmd())
	cmd.AddCommand(newRoutesCmd())
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newReloadCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newAPICmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the Feather client version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Feather CLI %s\n", Version)
		},
	}
}
