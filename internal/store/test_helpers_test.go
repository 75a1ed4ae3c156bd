package store

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/sweep/internal/ir"
)

// createTestStore opens a SQLite store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestBadger opens an in-memory Badger backend.
func createTestBadger(t *testing.T) *Badger {
	t.Helper()
	b, err := OpenBadger(BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

// backends runs fn against every backend implementation.
func backends(t *testing.T, fn func(t *testing.T, b Backend)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, createTestStore(t)) })
	t.Run("badger", func(t *testing.T) { fn(t, createTestBadger(t)) })
}

// testRecord creates a successful record with x and score.
func testRecord(runID string, seq int64, x int64, score float64) ir.Record {
	key := fmt.Sprintf("[%d]", x)
	keyHash := ir.KeyHash(key)
	return ir.Record{
		ID:            ir.RecordID(runID, keyHash, seq),
		RunID:         runID,
		Seq:           seq,
		Key:           key,
		KeyHash:       keyHash,
		SuggestionRef: fmt.Sprintf("s%d", x),
		Params:        ir.ParameterSet{"x": ir.IRInt(x)},
		Metrics:       map[string]float64{"score": score},
		Outcome:       ir.OutcomeSuccess,
		DurationMS:    3,
	}
}

func failedRecord(runID string, seq int64, x int64) ir.Record {
	rec := testRecord(runID, seq, x, 0)
	rec.Metrics = map[string]float64{}
	rec.Outcome = ir.OutcomeFailed
	rec.Error = "evaluation panicked: boom"
	return rec
}
