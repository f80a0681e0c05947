package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/telekom/oidc-session/pkg/auth"
)

func NewLoginCommand() *cobra.Command {
	var (
		noBrowser bool
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in through the browser and store the session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			m, _, err := rt.NewManager()
			if err != nil {
				return err
			}
			defer m.Shutdown()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			attempt, err := m.Authenticate(ctx, nil)
			if err != nil {
				return err
			}
			w := rt.Writer()
			_, _ = fmt.Fprintf(w, "Open the following URL to sign in:\n\n  %s\n\n", attempt.AuthorizationURL())
			if !noBrowser {
				if err := rt.openBrowser(attempt.AuthorizationURL()); err != nil {
					rt.Logger().Warnw("Failed to open browser", "error", err)
				}
			}

			creds, err := attempt.Wait(ctx)
			switch {
			case err == nil:
			case errors.Is(err, auth.ErrUserInfo) && m.IsAuthenticated():
				rt.Logger().Warnw("Signed in without user info", "error", err)
				creds, _ = m.Credentials()
			case ctx.Err() != nil:
				return fmt.Errorf("login aborted: %w", ctx.Err())
			default:
				return err
			}

			path := rt.SessionPath()
			if err := m.SaveToFile(path); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(w, "Authenticated as %s. Token expires at %s\n", displayName(creds), formatExpiry(creds.TokenSet.Expiry))
			return nil
		},
	}

	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "Print the URL instead of opening a browser")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Give up waiting for the callback after this long (0 waits forever)")

	return cmd
}

func displayName(creds auth.SessionCredentials) string {
	for _, key := range []string{"email", "preferred_username", "name", "sub"} {
		if v, ok := creds.UserInfo[key].(string); ok && v != "" {
			return v
		}
		if v, ok := creds.TokenSet.Claims[key].(string); ok && v != "" {
			return v
		}
	}
	return "unknown user"
}

func formatExpiry(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.UTC().Format(time.RFC3339)
}
