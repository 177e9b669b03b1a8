package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"skylightcal/internal/skylight"
)

func newLoginCmd(a *app) *cobra.Command {
	var logout bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and cache the session",
		Long: `login prompts for the account email and password (unless configured),
exchanges them for a session and caches it in session_file with mode 0600.
The password itself is never written to disk.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			if logout {
				if err := skylight.ClearSession(cfg.SessionFile); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Session cleared.")
				return nil
			}

			in := bufio.NewReader(cmd.InOrStdin())
			if cfg.Email == "" {
				fmt.Fprint(cmd.ErrOrStderr(), "Email: ")
				line, err := in.ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("reading email: %w", err)
				}
				cfg.Email = strings.TrimSpace(line)
			}
			if cfg.Password == "" {
				pw, err := readPassword(cmd, in)
				if err != nil {
					return err
				}
				cfg.Password = pw
			}

			sess, err := login(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (user %s). Session cached in %s.\n", cfg.Email, sess.UserID, cfg.SessionFile)
			return nil
		},
	}
	cmd.Flags().BoolVar(&logout, "logout", false, "Remove the cached session instead")
	return cmd
}

// readPassword reads without echo from a terminal, or a plain line otherwise.
func readPassword(cmd *cobra.Command, in *bufio.Reader) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(b), nil
	}
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading password: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", errors.New("empty password")
	}
	return pw, nil
}
