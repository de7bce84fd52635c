package standard

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/featherproxy/feather/internal/cli/client"
)

func newRoutesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Manage routes from source servers to target servers",
	}
	cmd.AddCommand(newRoutesListCmd())
	cmd.AddCommand(newRoutesGetCmd())
	cmd.AddCommand(newRoutesCreateCmd())
	cmd.AddCommand(newRoutesUpdateCmd())
	cmd.AddCommand(newRoutesDeleteCmd())
	cmd.AddCommand(newRoutesResolveCmd())
	cmd.AddCommand(newRoutesAuthCmd())
	return cmd
}

func newRoutesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			routes, err := c.ListRoutes(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(routes) == 0 {
				fmt.Fprintln(out, "No routes found")
				return nil
			}
			fmt.Fprintf(out, "%-36s %-7s %-24s %-24s %-36s %s\n", "ID", "METHOD", "SOURCE PATH", "TARGET PATH", "SOURCE SERVER", "TARGET SERVER")
			for _, r := range routes {
				fmt.Fprintf(out, "%-36s %-7s %-24s %-24s %-36s %s\n", r.ID, r.Method, r.SourcePath, r.TargetPath, r.SourceServerID, r.TargetServerID)
			}
			return nil
		},
	}
}

func newRoutesGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a route",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			route, err := c.GetRoute(ctx, args[0])
			if err != nil {
				return err
			}
			return encodeAsJSON(cmd.OutOrStdout(), route)
		},
	}
}

func addRouteFlags(cmd *cobra.Command) {
	cmd.Flags().String("source", "", "Source server id")
	cmd.Flags().String("target", "", "Target server id")
	cmd.Flags().String("method", "GET", "HTTP method")
	cmd.Flags().String("path", "", "Path matched on the source server")
	cmd.Flags().String("target-path", "", "Path requested on the target server")
}

func routeRequestFromFlags(cmd *cobra.Command, base client.RouteRequest) client.RouteRequest {
	flags := cmd.Flags()
	set := func(name string, dst *string) {
		if flags.Changed(name) || *dst == "" {
			*dst, _ = flags.GetString(name)
		}
	}
	set("source", &base.SourceServerID)
	set("target", &base.TargetServerID)
	set("method", &base.Method)
	set("path", &base.SourcePath)
	set("target-path", &base.TargetPath)
	return base
}

func newRoutesCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a route",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := routeRequestFromFlags(cmd, client.RouteRequest{})
			if req.TargetPath == "" {
				req.TargetPath = req.SourcePath
			}
			c, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			route, err := c.CreateRoute(ctx, req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created route %s: %s %s -> %s\n", route.ID, route.Method, route.SourcePath, route.TargetPath)
			return nil
		},
	}
	addRouteFlags(cmd)
	return cmd
}

func newRoutesUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a route; unset flags keep their value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			current, err := c.GetRoute(ctx, args[0])
			if err != nil {
				return err
			}
			req := routeRequestFromFlags(cmd, client.RouteRequest{
				SourceServerID: current.SourceServerID,
				TargetServerID: current.TargetServerID,
				Method:         current.Method,
				SourcePath:     current.SourcePath,
				TargetPath:     current.TargetPath,
			})
			route, err := c.UpdateRoute(ctx, args[0], req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated route %s: %s %s -> %s\n", route.ID, route.Method, route.SourcePath, route.TargetPath)
			return nil
		},
	}
	addRouteFlags(cmd)
	return cmd
}

func newRoutesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a route and its authentication bindings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			if err := c.DeleteRoute(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted route %s\n", args[0])
			return nil
		},
	}
}

func newRoutesResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <source-id> <method> <path>",
		Short: "Show which route a request would match",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			route, err := c.ResolveRoute(ctx, args[0], args[1], args[2])
			if err != nil {
				if client.IsNotFound(err) {
					fmt.Fprintln(cmd.OutOrStdout(), "No matching route")
					return nil
				}
				return err
			}
			return encodeAsJSON(cmd.OutOrStdout(), route)
		},
	}
}

func newRoutesAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth <route-id>",
		Short: "Show or replace the authentications bound to a route",
		Long:  "Without flags prints the route's source and target authentications. --source and --target (or --clear-target) are applied together in one transaction.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()

			flags := cmd.Flags()
			var req client.RouteAuthRequest
			if flags.Changed("source") {
				raw, _ := flags.GetString("source")
				ids := splitList(raw)
				if ids == nil {
					ids = []string{}
				}
				req.SourceAuthIDs = &ids
			}
			clearTarget, _ := flags.GetBool("clear-target")
			switch {
			case clearTarget && flags.Changed("target"):
				return fmt.Errorf("--target and --clear-target are mutually exclusive")
			case clearTarget:
				empty := ""
				req.TargetAuthID = &empty
			case flags.Changed("target"):
				target, _ := flags.GetString("target")
				req.TargetAuthID = &target
			}

			var state *client.RouteAuth
			if req.SourceAuthIDs == nil && req.TargetAuthID == nil {
				state, err = c.GetRouteAuth(ctx, args[0])
			} else {
				state, err = c.SetRouteAuth(ctx, args[0], req)
			}
			if err != nil {
				return err
			}
			target := ""
			if state.TargetAuthID != nil {
				target = *state.TargetAuthID
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Route:  %s\nSource: %s\nTarget: %s\n", state.RouteID, orDash(strings.Join(state.SourceAuthIDs, ", ")), orDash(target))
			return nil
		},
	}
	cmd.Flags().String("source", "", "Comma separated authentication ids accepted from callers (empty clears)")
	cmd.Flags().String("target", "", "Authentication id presented upstream")
	cmd.Flags().Bool("clear-target", false, "Remove the upstream authentication")
	return cmd
}
