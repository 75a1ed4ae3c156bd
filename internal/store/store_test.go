package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sweep/internal/ir"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "Open() iteration %d", i)
		s.Close()
	}

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	for _, table := range []string{"results", "runs"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		assert.NoError(t, err, "table %q not found after idempotent opens", table)
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("synchronous", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestOpen_RefusesNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Open(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than supported")
}

func TestStore_ResultsAreAppendOnly(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	rec := testRecord("run-1", 1, 1, 1)
	require.NoError(t, s.Append(ctx, "T", []ir.Record{rec}))

	_, err := s.db.Exec("UPDATE results SET outcome = 'failed' WHERE id = ?", rec.ID)
	assert.ErrorContains(t, err, "append-only")

	_, err = s.db.Exec("DELETE FROM results WHERE id = ?", rec.ID)
	assert.ErrorContains(t, err, "append-only")

	got, err := s.ReadRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, ir.OutcomeSuccess, got.Outcome)
}

func TestStore_AppendIsAtomic(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	bad := testRecord("run-1", 2, 2, 2)
	bad.Outcome = "unknown" // violates the CHECK constraint
	err := s.Append(ctx, "T", []ir.Record{testRecord("run-1", 1, 1, 1), bad})
	require.Error(t, err)

	got, err := s.ReadResults(ctx, "T", Filter{})
	require.NoError(t, err)
	assert.Empty(t, got, "a failed batch leaves nothing behind")
}

func TestStore_ReadRecordNotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.ReadRecord(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ReadRuns(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteRun(ctx, ir.Run{ID: "b", Study: "s", Table: "T", Objective: "o", Budget: 5, Priming: 2, Version: "0.1.0"}))
	require.NoError(t, s.WriteRun(ctx, ir.Run{ID: "a", Study: "s", Table: "T", Objective: "o", Budget: 9, Priming: 3, Version: "0.1.0"}))
	require.NoError(t, s.WriteRun(ctx, ir.Run{ID: "c", Study: "s", Table: "other", Objective: "o", Budget: 1, Priming: 1, Version: "0.1.0"}))

	runs, err := s.ReadRuns(ctx, "T")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "a", runs[0].ID)
	assert.Equal(t, 9, runs[0].Budget)
}

func TestStore_CanonicalColumns(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := testRecord("run-1", 1, 3, 9)
	rec.Params["b"] = ir.IRFloat(1)
	require.NoError(t, s.Append(ctx, "T", []ir.Record{rec}))

	var params, metrics, obs string
	err := s.db.QueryRow("SELECT params, metrics, observables FROM results WHERE id = ?", rec.ID).
		Scan(&params, &metrics, &obs)
	require.NoError(t, err)
	assert.Equal(t, `{"b":1.0,"x":3}`, params)
	assert.Equal(t, `{"score":9.0}`, metrics)
	assert.Equal(t, `{}`, obs)
}
