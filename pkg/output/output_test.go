/*
SPDX-FileCopyrightText: 2025 Deutsche Telekom AG

SPDX-License-Identifier: Apache-2.0
*/

package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatTable, "table": FormatTable, "json": FormatJSON, "yaml": FormatYAML} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("xml")
	require.ErrorContains(t, err, "unknown output format")
}

func TestWriteObject(t *testing.T) {
	obj := map[string]any{"state": "Authenticated", "expired": false}

	var buf bytes.Buffer
	require.NoError(t, WriteObject(&buf, FormatJSON, obj))
	var fromJSON map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fromJSON))
	assert.Equal(t, "Authenticated", fromJSON["state"])

	buf.Reset()
	require.NoError(t, WriteObject(&buf, FormatYAML, obj))
	var fromYAML map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &fromYAML))
	assert.Equal(t, false, fromYAML["expired"])

	require.Error(t, WriteObject(&buf, FormatTable, obj))
	require.Error(t, WriteObject(&buf, Format("xml"), obj))
}

func TestWriteStatusTable(t *testing.T) {
	var buf bytes.Buffer
	WriteStatusTable(&buf, SessionStatus{
		State:         "Authenticated",
		Authenticated: true,
		Issuer:        "https://idp.example.com",
		Subject:       "user-1",
		Email:         "user@example.com",
		Expiry:        time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Expired:       true,
		CanRefresh:    true,
	})
	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 8)
	assert.True(t, strings.HasPrefix(lines[0], "STATE"))
	assert.Contains(t, lines[0], "Authenticated")
	assert.Contains(t, out, "user@example.com")
	assert.Contains(t, out, "(expired)")
	assert.Regexp(t, `NAME\s+-`, lines[3])
	assert.Contains(t, lines[6], "true")
}

func TestWriteStatus(t *testing.T) {
	status := SessionStatus{State: "Idle"}

	var buf bytes.Buffer
	require.NoError(t, WriteStatus(&buf, FormatTable, status))
	assert.Contains(t, buf.String(), "Idle")

	buf.Reset()
	require.NoError(t, WriteStatus(&buf, FormatJSON, status))
	var decoded SessionStatus
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "Idle", decoded.State)
	assert.False(t, decoded.Authenticated)
}
