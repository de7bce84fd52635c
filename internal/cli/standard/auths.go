package standard

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/featherproxy/feather/internal/cli/client"
)

func newAuthsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "auths",
		Aliases: []string{"authentications"},
		Short:   "Manage stored credentials",
	}
	cmd.AddCommand(newAuthsListCmd())
	cmd.AddCommand(newAuthsGetCmd())
	cmd.AddCommand(newAuthsCreateCmd())
	cmd.AddCommand(newAuthsUpdateCmd())
	cmd.AddCommand(newAuthsDeleteCmd())
	return cmd
}

func newAuthsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List authentications (tokens are masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			auths, err := c.ListAuthentications(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(auths) == 0 {
				fmt.Fprintln(out, "No authentications found")
				return nil
			}
			fmt.Fprintf(out, "%-36s %-24s %-10s %s\n", "ID", "NAME", "TYPE", "TOKEN")
			for _, a := range auths {
				fmt.Fprintf(out, "%-36s %-24s %-10s %s\n", a.ID, a.Name, a.TokenType, a.TokenMasked)
			}
			return nil
		},
	}
}

func newAuthsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show an authentication",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			auth, err := c.GetAuthentication(ctx, args[0])
			if err != nil {
				return err
			}
			return encodeAsJSON(cmd.OutOrStdout(), auth)
		},
	}
}

func newAuthsCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an authentication; the token is prompted for when --token is omitted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tokenType, _ := cmd.Flags().GetString("type")
			token, err := tokenFromFlagsOrPrompt(cmd)
			if err != nil {
				return err
			}
			c, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			auth, err := c.CreateAuthentication(ctx, client.AuthenticationRequest{Name: args[0], TokenType: tokenType, Token: &token})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created authentication %s (%s)\n", auth.ID, auth.TokenMasked)
			return nil
		},
	}
	addTokenFlags(cmd)
	return cmd
}

func newAuthsUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Rename an authentication or rotate its token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			current, err := c.GetAuthentication(ctx, args[0])
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			req := client.AuthenticationRequest{Name: current.Name, TokenType: current.TokenType}
			if flags.Changed("name") {
				req.Name, _ = flags.GetString("name")
			}
			if flags.Changed("type") {
				req.TokenType, _ = flags.GetString("type")
			}
			if rotate, _ := flags.GetBool("rotate"); rotate || flags.Changed("token") || flags.Changed("token-stdin") {
				token, err := tokenFromFlagsOrPrompt(cmd)
				if err != nil {
					return err
				}
				req.Token = &token
			}
			auth, err := c.UpdateAuthentication(ctx, args[0], req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated authentication %s (%s)\n", auth.ID, auth.TokenMasked)
			return nil
		},
	}
	cmd.Flags().String("name", "", "New name")
	cmd.Flags().Bool("rotate", false, "Prompt for a replacement token")
	addTokenFlags(cmd)
	return cmd
}

func newAuthsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an authentication and detach it from every route",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			if err := c.DeleteAuthentication(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted authentication %s\n", args[0])
			return nil
		},
	}
}

func addTokenFlags(cmd *cobra.Command) {
	cmd.Flags().String("type", "", "Token type (default bearer)")
	cmd.Flags().String("token", "", "Token value (visible in shell history; prefer the prompt or --token-stdin)")
	cmd.Flags().Bool("token-stdin", false, "Read the token from stdin")
}

// tokenFromFlagsOrPrompt resolves the token from --token, --token-stdin or
// an interactive prompt, in that order.
func tokenFromFlagsOrPrompt(cmd *cobra.Command) (string, error) {
	flags := cmd.Flags()
	if flags.Changed("token") {
		return flags.GetString("token")
	}
	if fromStdin, _ := flags.GetBool("token-stdin"); fromStdin {
		return readTokenLine(cmd.InOrStdin())
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no token given: use --token, --token-stdin or run interactively")
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Token: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func readTokenLine(in io.Reader) (string, error) {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(line), nil
}
