package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/telekom/oidc-session/pkg/auth"
	"github.com/telekom/oidc-session/pkg/output"
)

func NewRefreshCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the stored tokens",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			m, loaded, err := rt.NewManager()
			if err != nil {
				return err
			}
			if !loaded {
				return fmt.Errorf("%w: run login first", auth.ErrNotAuthenticated)
			}
			tokens, err := m.Refresh(cmd.Context(), nil)
			if err != nil {
				return err
			}
			if err := m.SaveToFile(rt.SessionPath()); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Refreshed. Token expires at %s\n", formatExpiry(tokens.Expiry))
			return nil
		},
	}
}

func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			format, err := rt.OutputFormat()
			if err != nil {
				return err
			}
			m, _, err := rt.NewManager()
			if err != nil {
				return err
			}
			return output.WriteStatus(rt.Writer(), format, sessionStatus(m, rt.SessionPath(), time.Now()))
		},
	}
}

func NewLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			store, err := rt.TokenStore()
			if err != nil {
				return err
			}
			if err := store.Delete(rt.SessionPath()); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(rt.Writer(), "Logged out")
			return nil
		},
	}
}

func sessionStatus(m *auth.Manager, path string, now time.Time) output.SessionStatus {
	status := output.SessionStatus{
		State:       m.State().String(),
		SessionFile: path,
	}
	creds, ok := m.Credentials()
	if !ok {
		return status
	}
	claim := func(key string) string {
		if v, ok := creds.UserInfo[key].(string); ok {
			return v
		}
		v, _ := creds.TokenSet.Claims[key].(string)
		return v
	}
	status.Authenticated = true
	status.Issuer, _ = creds.TokenSet.Claims["iss"].(string)
	status.Subject = claim("sub")
	status.Name = claim("name")
	status.Email = claim("email")
	status.TokenType = creds.TokenSet.TokenType
	status.Expiry = creds.TokenSet.Expiry
	status.Expired = creds.TokenSet.Expired(now)
	status.CanRefresh = m.CanRefresh()
	return status
}
