package store

import (
	"context"
	"fmt"

	"github.com/roach88/sweep/internal/ir"
)

// Append inserts recs into table in one transaction.
// Uses ON CONFLICT(id) DO NOTHING for idempotency: records already
// stored are silently skipped. Other constraint violations still fail
// the whole batch.
func (s *Store) Append(ctx context.Context, table string, recs []ir.Record) error {
	if err := ValidateTable(table); err != nil {
		return fmt.Errorf("append: %w", err)
	}
	if len(recs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append: begin tx: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO results
		(id, table_name, run_id, seq, key, key_hash, suggestion_ref,
		 params, metrics, observables, outcome, error, duration_ms, record_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("append: prepare: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		paramsJSON, err := marshalParams(rec.Params)
		if err != nil {
			return fmt.Errorf("append %s: %w", rec.ID, err)
		}
		metricsJSON, err := marshalMetrics(rec.Metrics)
		if err != nil {
			return fmt.Errorf("append %s: %w", rec.ID, err)
		}
		obsJSON, err := marshalObservables(rec.Observables)
		if err != nil {
			return fmt.Errorf("append %s: %w", rec.ID, err)
		}

		if _, err := stmt.ExecContext(ctx,
			rec.ID,
			table,
			rec.RunID,
			rec.Seq,
			rec.Key,
			rec.KeyHash,
			rec.SuggestionRef,
			paramsJSON,
			metricsJSON,
			obsJSON,
			string(rec.Outcome),
			rec.Error,
			rec.DurationMS,
			ir.RecordVersion,
		); err != nil {
			return fmt.Errorf("append %s: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append: commit: %w", err)
	}
	return nil
}

// WriteRun inserts run metadata. Duplicate run IDs are ignored.
func (s *Store) WriteRun(ctx context.Context, run ir.Run) error {
	if err := ValidateTable(run.Table); err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, study, table_name, objective, budget, priming, engine_version)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		run.Study,
		run.Table,
		run.Objective,
		run.Budget,
		run.Priming,
		run.Version,
	)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	return nil
}
