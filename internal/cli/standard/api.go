package standard

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/spf13/cobra"

	"github.com/featherproxy/feather/internal/cli/openapiutil"
)

func newAPICmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "api",
		Short: "Inspect the featherd HTTP API",
	}
	cmd.AddCommand(newAPIOperationsCmd())
	cmd.AddCommand(newAPIDescribeCmd())
	return cmd
}

func newAPIOperationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "operations",
		Short: "List the operations published in /openapi.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := fetchDocument(cmd)
			if err != nil {
				return err
			}
			if validate, _ := cmd.Flags().GetBool("validate"); validate {
				if err := openapiutil.Validate(cmd.Context(), doc); err != nil {
					return err
				}
			}
			tag, _ := cmd.Flags().GetString("tag")

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "METHOD\tPATH\tOPERATION\tSUMMARY")
			for _, op := range openapiutil.ListOperations(doc) {
				if tag != "" && !hasTag(op.Tags, tag) {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", op.Method, op.Path, orDash(op.OperationID), op.Summary)
			}
			return w.Flush()
		},
	}
	cmd.Flags().String("tag", "", "Only list operations carrying this tag")
	cmd.Flags().Bool("validate", false, "Validate the document before listing")
	return cmd
}

func newAPIDescribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe <operation-id|METHOD:PATH>",
		Short: "Show parameters and responses of one operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := fetchDocument(cmd)
			if err != nil {
				return err
			}
			op, err := openapiutil.FindOperation(doc, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", op.Method, op.Path)
			fmt.Fprintf(out, "Operation: %s\n", orDash(op.OperationID))
			fmt.Fprintf(out, "Summary:   %s\n", orDash(op.Summary))
			for _, in := range []string{openapi3.ParameterInPath, openapi3.ParameterInQuery} {
				if names := openapiutil.RequiredParameters(op, in); len(names) > 0 {
					fmt.Fprintf(out, "Required %s params: %s\n", in, strings.Join(names, ", "))
				}
			}
			fmt.Fprintf(out, "Request body: %t\n", op.HasBody)
			fmt.Fprintf(out, "Responses: %s\n", strings.Join(op.Responses, ", "))
			return nil
		},
	}
}

func fetchDocument(cmd *cobra.Command) (*openapi3.T, error) {
	c, err := clientFromCmd(cmd)
	if err != nil {
		return nil, err
	}
	ctx, cancel := requestContext(cmd)
	defer cancel()
	raw, err := c.OpenAPIDocument(ctx)
	if err != nil {
		return nil, err
	}
	return openapiutil.ParseDocument(raw)
}

func hasTag(tags []string, want string) bool {
	for _, tag := range tags {
		if strings.EqualFold(tag, want) {
			return true
		}
	}
	return false
}
