package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/roach88/sweep/internal/ir"
)

const recordColumns = `id, table_name, run_id, seq, key, key_hash, suggestion_ref,
	params, metrics, observables, outcome, error, duration_ms`

// ReadResults returns the records of table matching f, ordered by
// run_id, seq, id. Returns an empty slice (not nil) when nothing matches.
//
// Run and outcome filters run in SQL; parameter filters are applied to
// decoded records so numeric values compare by value.
func (s *Store) ReadResults(ctx context.Context, table string, f Filter) ([]ir.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM results WHERE table_name = ?`
	args := []any{table}
	if f.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, f.RunID)
	}
	if f.Outcome != "" {
		query += ` AND outcome = ?`
		args = append(args, string(f.Outcome))
	}
	query += ` ORDER BY run_id ASC, seq ASC, id COLLATE BINARY ASC`
	if f.Limit > 0 && len(f.Params) == 0 {
		query += ` LIMIT ` + strconv.Itoa(f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	recs := []ir.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if !f.Match(rec) {
			continue
		}
		recs = append(recs, rec)
		if f.Limit > 0 && len(recs) == f.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return recs, nil
}

// ReadRecord retrieves a single record by ID.
// Returns ErrNotFound if absent.
func (s *Store) ReadRecord(ctx context.Context, id string) (ir.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM results WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Record{}, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	return rec, err
}

// Best returns the successful record of table with the best value of
// metric. Records missing the metric are skipped.
func (s *Store) Best(ctx context.Context, table string, metric ir.MetricSpec) (ir.Record, error) {
	dir := "DESC"
	if metric.Goal == ir.GoalMinimize {
		dir = "ASC"
	}
	// JSON path with a quoted member name, so any metric name is safe.
	path := "$." + strconv.Quote(metric.Name)

	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM results
		WHERE table_name = ? AND outcome = 'success'
		  AND json_extract(metrics, ?) IS NOT NULL
		ORDER BY json_extract(metrics, ?) `+dir+`, run_id ASC, seq ASC, id COLLATE BINARY ASC
		LIMIT 1
	`, table, path, path)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Record{}, fmt.Errorf("best %s in %s: %w", metric.Name, table, ErrNotFound)
	}
	return rec, err
}

// Tables lists the tables that hold records, sorted by name.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT table_name FROM results ORDER BY table_name COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return tables, nil
}

// ReadRuns returns the runs recorded for table, oldest first.
func (s *Store) ReadRuns(ctx context.Context, table string) ([]ir.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, study, table_name, objective, budget, priming, engine_version
		FROM runs
		WHERE table_name = ?
		ORDER BY id COLLATE BINARY ASC
	`, table)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []ir.Run{}
	for rows.Next() {
		var r ir.Run
		if err := rows.Scan(&r.ID, &r.Study, &r.Table, &r.Objective, &r.Budget, &r.Priming, &r.Version); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (ir.Record, error) {
	var (
		rec                        ir.Record
		params, metrics, obs, outc string
	)
	err := row.Scan(
		&rec.ID,
		&rec.Table,
		&rec.RunID,
		&rec.Seq,
		&rec.Key,
		&rec.KeyHash,
		&rec.SuggestionRef,
		&params,
		&metrics,
		&obs,
		&outc,
		&rec.Error,
		&rec.DurationMS,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ir.Record{}, err
		}
		return ir.Record{}, fmt.Errorf("scan record: %w", err)
	}
	rec.Outcome = ir.Outcome(outc)

	if rec.Params, err = unmarshalParams(params); err != nil {
		return ir.Record{}, fmt.Errorf("record %s: %w", rec.ID, err)
	}
	if rec.Metrics, err = unmarshalMetrics(metrics); err != nil {
		return ir.Record{}, fmt.Errorf("record %s: %w", rec.ID, err)
	}
	if rec.Observables, err = unmarshalObservables(obs); err != nil {
		return ir.Record{}, fmt.Errorf("record %s: %w", rec.ID, err)
	}
	return rec, nil
}
