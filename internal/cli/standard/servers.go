package standard

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/featherproxy/feather/internal/cli/client"
)

// serverAPI abstracts over the source and target server endpoints, which
// share their shape.
type serverAPI struct {
	noun   string
	target bool
	list   func(*client.Client, context.Context) ([]client.Server, error)
	get    func(*client.Client, context.Context, string) (*client.Server, error)
	create func(*client.Client, context.Context, client.ServerRequest) (*client.Server, error)
	update func(*client.Client, context.Context, string, client.ServerRequest) (*client.Server, error)
	remove func(*client.Client, context.Context, string) error
}

var sourceServers = serverAPI{
	noun:   "source server",
	list:   (*client.Client).ListSourceServers,
	get:    (*client.Client).GetSourceServer,
	create: (*client.Client).CreateSourceServer,
	update: (*client.Client).UpdateSourceServer,
	remove: (*client.Client).DeleteSourceServer,
}

var targetServers = serverAPI{
	noun:   "target server",
	target: true,
	list:   (*client.Client).ListTargetServers,
	get:    (*client.Client).GetTargetServer,
	create: (*client.Client).CreateTargetServer,
	update: (*client.Client).UpdateTargetServer,
	remove: (*client.Client).DeleteTargetServer,
}

func newSourceServersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "source-servers",
		Aliases: []string{"sources"},
		Short:   "Manage listeners the proxy accepts traffic on",
	}
	addServerCommands(cmd, sourceServers)
	cmd.AddCommand(newCandidateTargetsCmd())
	cmd.AddCommand(newServerOptionsCmd())
	cmd.AddCommand(newACLCmd())
	return cmd
}

func newTargetServersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "target-servers",
		Aliases: []string{"targets"},
		Short:   "Manage upstreams the proxy forwards to",
	}
	addServerCommands(cmd, targetServers)
	return cmd
}

func addServerCommands(parent *cobra.Command, api serverAPI) {
	parent.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List " + api.noun + "s",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			servers, err := api.list(c, ctx)
			if err != nil {
				return err
			}
			printServers(cmd.OutOrStdout(), servers, api.noun)
			return nil
		},
	})

	parent.AddCommand(&cobra.Command{
		Use:   "get <id>",
		Short: "Show " + api.noun + " details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			server, err := api.get(c, ctx, args[0])
			if err != nil {
				return err
			}
			return encodeAsJSON(cmd.OutOrStdout(), server)
		},
	})

	create := &cobra.Command{
		Use:   "create",
		Short: "Create a " + api.noun,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := serverRequestFromFlags(cmd, client.ServerRequest{})
			if err != nil {
				return err
			}
			c, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			server, err := api.create(c, ctx, req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s %s (%s)\n", api.noun, server.ID, server.Label)
			return nil
		},
	}
	addServerFlags(create, api.target)
	parent.AddCommand(create)

	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a " + api.noun + "; unset flags keep their value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			current, err := api.get(c, ctx, args[0])
			if err != nil {
				return err
			}
			req, err := serverRequestFromFlags(cmd, client.ServerRequest{
				Name:     current.Name,
				Protocol: current.Protocol,
				Host:     current.Host,
				Port:     current.Port,
				BasePath: current.BasePath,
			})
			if err != nil {
				return err
			}
			server, err := api.update(c, ctx, args[0], req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %s %s (%s)\n", api.noun, server.ID, server.Label)
			return nil
		},
	}
	addServerFlags(update, api.target)
	parent.AddCommand(update)

	parent.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a " + api.noun,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			if err := api.remove(c, ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s %s\n", api.noun, args[0])
			return nil
		},
	})
}

func addServerFlags(cmd *cobra.Command, target bool) {
	cmd.Flags().String("name", "", "Display name")
	cmd.Flags().String("protocol", "http", "Protocol (http or https)")
	cmd.Flags().String("host", "", "Host name or address")
	cmd.Flags().Int("port", 0, "Port (1-65535)")
	if target {
		cmd.Flags().String("base-path", "", "Path prefix prepended to every forwarded request")
	}
}

// serverRequestFromFlags overlays explicitly set flags onto base.
func serverRequestFromFlags(cmd *cobra.Command, base client.ServerRequest) (client.ServerRequest, error) {
	flags := cmd.Flags()
	var err error
	if flags.Changed("name") {
		if base.Name, err = flags.GetString("name"); err != nil {
			return base, err
		}
	}
	if flags.Changed("protocol") || base.Protocol == "" {
		if base.Protocol, err = flags.GetString("protocol"); err != nil {
			return base, err
		}
	}
	if flags.Changed("host") {
		if base.Host, err = flags.GetString("host"); err != nil {
			return base, err
		}
	}
	if flags.Changed("port") {
		if base.Port, err = flags.GetInt("port"); err != nil {
			return base, err
		}
	}
	if flags.Lookup("base-path") != nil && flags.Changed("base-path") {
		if base.BasePath, err = flags.GetString("base-path"); err != nil {
			return base, err
		}
	}
	return base, nil
}

func printServers(out io.Writer, servers []client.Server, noun string) {
	if len(servers) == 0 {
		fmt.Fprintf(out, "No %ss found\n", noun)
		return
	}
	fmt.Fprintf(out, "%-36s %-24s %-8s %-24s %-6s %s\n", "ID", "LABEL", "PROTO", "HOST", "PORT", "BASE PATH")
	for _, s := range servers {
		fmt.Fprintf(out, "%-36s %-24s %-8s %-24s %-6d %s\n", s.ID, s.Label, s.Protocol, s.Host, s.Port, orDash(s.BasePath))
	}
}

func newCandidateTargetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "candidates <source-id>",
		Short: "List target servers a route from this source may use",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			targets, err := c.ListCandidateTargets(ctx, args[0])
			if err != nil {
				return err
			}
			printServers(cmd.OutOrStdout(), targets, "candidate target")
			return nil
		},
	}
}

func newServerOptionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tls <source-id>",
		Short: "Show or set TLS certificate paths for a source server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()

			flags := cmd.Flags()
			if !flags.Changed("cert") && !flags.Changed("key") {
				opts, err := c.GetServerOptions(ctx, args[0])
				if err != nil {
					return err
				}
				return encodeAsJSON(cmd.OutOrStdout(), opts)
			}
			cert, _ := flags.GetString("cert")
			key, _ := flags.GetString("key")
			opts, err := c.SetServerOptions(ctx, args[0], client.ServerOptions{TLSCertPath: cert, TLSKeyPath: key})
			if err != nil {
				return err
			}
			return encodeAsJSON(cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().String("cert", "", "TLS certificate path (empty clears)")
	cmd.Flags().String("key", "", "TLS private key path (empty clears)")
	return cmd
}

func newACLCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "acl <source-id>",
		Short: "Show or set the client address filter of a source server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()

			flags := cmd.Flags()
			if !flags.Changed("mode") {
				acl, err := c.GetACL(ctx, args[0])
				if err != nil {
					return err
				}
				return encodeAsJSON(cmd.OutOrStdout(), acl)
			}
			mode, _ := flags.GetString("mode")
			header, _ := flags.GetString("client-ip-header")
			allow, _ := flags.GetString("allow")
			deny, _ := flags.GetString("deny")
			acl, err := c.SetACL(ctx, args[0], client.ACLOptions{
				Mode:           mode,
				ClientIPHeader: header,
				AllowList:      splitList(allow),
				DenyList:       splitList(deny),
			})
			if err != nil {
				return err
			}
			return encodeAsJSON(cmd.OutOrStdout(), acl)
		},
	}
	cmd.Flags().String("mode", "", "off, allow_only or deny_only")
	cmd.Flags().String("client-ip-header", "", "Header carrying the client address behind a proxy")
	cmd.Flags().String("allow", "", "Comma separated addresses or CIDRs to allow")
	cmd.Flags().String("deny", "", "Comma separated addresses or CIDRs to deny")
	return cmd
}
