package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns stdout and the
// command error.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// decode parses a JSON CLIResponse whose data is an object.
func decode(t *testing.T, out string) (CLIResponse, map[string]any) {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	data, _ := resp.Data.(map[string]any)
	return resp, data
}

// runTiny runs the four-point grid study into a fresh database and
// returns its path.
func runTiny(t *testing.T, backend string) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "sweep.db")
	_, err := execute(t, "run", "--db", db, "--backend", backend, "--workers", "2", "--format", "json", "testdata/studies")
	require.NoError(t, err)
	return db
}
