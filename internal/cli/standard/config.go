package standard

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/featherproxy/feather/internal/cli/client"
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print a consistent snapshot of the whole configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("output")
			c, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			snapshot, err := c.Snapshot(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch strings.ToLower(format) {
			case "json":
				return encodeAsJSON(out, snapshot)
			case "yaml", "yml":
				// Go through the JSON form so YAML keys match the API field names.
				data, err := json.Marshal(snapshot)
				if err != nil {
					return err
				}
				var doc any
				if err := json.Unmarshal(data, &doc); err != nil {
					return err
				}
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				if err := enc.Encode(doc); err != nil {
					return err
				}
				return enc.Close()
			default:
				return fmt.Errorf("unsupported output format %q (json or yaml)", format)
			}
		},
	}
	cmd.Flags().StringP("output", "o", "json", "Output format: json or yaml")
	return cmd
}

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Ask featherd to signal the data plane to reload",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			if err := c.Reload(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Reload requested")
			return nil
		},
	}
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream configuration change events",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}
			useSSE, _ := cmd.Flags().GetBool("sse")

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			out := cmd.OutOrStdout()
			handler := func(ev client.ConfigEvent) {
				fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%s\n", ev.Timestamp.Format(time.RFC3339), ev.Type, ev.Kind, orDash(ev.ID), ev.Message)
			}
			if useSSE {
				err = c.WatchEvents(ctx, handler)
			} else {
				err = c.StreamEvents(ctx, handler)
			}
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("event stream ended: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().Bool("sse", false, "Use server-sent events instead of the websocket feed")
	return cmd
}
