package output

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"
)

// SessionStatus is the printable view of a stored or live session.
type SessionStatus struct {
	State         string    `json:"state" yaml:"state"`
	Authenticated bool      `json:"authenticated" yaml:"authenticated"`
	Issuer        string    `json:"issuer,omitempty" yaml:"issuer,omitempty"`
	Subject       string    `json:"subject,omitempty" yaml:"subject,omitempty"`
	Name          string    `json:"name,omitempty" yaml:"name,omitempty"`
	Email         string    `json:"email,omitempty" yaml:"email,omitempty"`
	TokenType     string    `json:"tokenType,omitempty" yaml:"tokenType,omitempty"`
	Expiry        time.Time `json:"expiry,omitempty" yaml:"expiry,omitempty"`
	Expired       bool      `json:"expired" yaml:"expired"`
	CanRefresh    bool      `json:"canRefresh" yaml:"canRefresh"`
	SessionFile   string    `json:"sessionFile,omitempty" yaml:"sessionFile,omitempty"`
}

func WriteStatusTable(w io.Writer, s SessionStatus) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	row := func(k, v string) {
		if v == "" {
			v = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", k, v)
	}
	row("STATE", s.State)
	row("ISSUER", s.Issuer)
	row("SUBJECT", s.Subject)
	row("NAME", s.Name)
	row("EMAIL", s.Email)
	row("EXPIRES", formatExpiry(s.Expiry, s.Expired))
	row("REFRESHABLE", fmt.Sprintf("%t", s.CanRefresh))
	row("SESSION FILE", s.SessionFile)
	_ = tw.Flush()
}

// WriteStatus picks the table writer or the structured encoder.
func WriteStatus(w io.Writer, format Format, s SessionStatus) error {
	if format == FormatTable {
		WriteStatusTable(w, s)
		return nil
	}
	return WriteObject(w, format, s)
}

func formatExpiry(t time.Time, expired bool) string {
	if t.IsZero() {
		return ""
	}
	out := t.Local().Format(time.RFC3339)
	if expired {
		out += " (expired)"
	}
	return out
}
