package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/roach88/sweep/internal/ir"
)

// Key layout:
//
//	r/<table>/<run_id>/<seq:%020d>/<id>  -> JSON record
//	i/<id>                               -> record key (dedup index)
//	u/<run_id>                           -> JSON run
//
// Table names cannot contain '/', so the record prefix of one table is
// never a prefix of another's. Lexicographic key order equals the read
// order of the SQLite backend.
const (
	prefixRecord = "r/"
	prefixIndex  = "i/"
	prefixRun    = "u/"
)

// BadgerConfig holds configuration for a Badger backend.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Useful for testing.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives Badger's internal logging. Nil disables it.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns durable defaults.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{SyncWrites: true}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Badger is the BadgerDB backend.
//
// Thread Safety: safe for concurrent use.
type Badger struct {
	db *badger.DB
}

// OpenBadger opens (creating if needed) a Badger backend.
func OpenBadger(cfg BadgerConfig) (*Badger, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Badger{db: db}, nil
}

// Close closes the database.
func (b *Badger) Close() error {
	return b.db.Close()
}

func recordKey(table string, rec ir.Record) []byte {
	return fmt.Appendf(nil, "%s%s/%s/%020d/%s", prefixRecord, table, rec.RunID, rec.Seq, rec.ID)
}

// Append stores recs in one transaction, skipping IDs already present.
func (b *Badger) Append(ctx context.Context, table string, recs []ir.Record) error {
	if err := ValidateTable(table); err != nil {
		return fmt.Errorf("append: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("append: %w", err)
	}
	if len(recs) == 0 {
		return nil
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		for _, rec := range recs {
			idx := []byte(prefixIndex + rec.ID)
			_, err := txn.Get(idx)
			if err == nil {
				continue
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("lookup %s: %w", rec.ID, err)
			}

			rec.Table = table
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("encode %s: %w", rec.ID, err)
			}
			key := recordKey(table, rec)
			if err := txn.Set(key, data); err != nil {
				return fmt.Errorf("set %s: %w", rec.ID, err)
			}
			if err := txn.Set(idx, key); err != nil {
				return fmt.Errorf("index %s: %w", rec.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append: %w", err)
	}
	return nil
}

// WriteRun stores run metadata. Duplicate run IDs are ignored.
func (b *Badger) WriteRun(ctx context.Context, run ir.Run) error {
	if err := ValidateTable(run.Table); err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		key := []byte(prefixRun + run.ID)
		if _, err := txn.Get(key); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	return nil
}

// scan calls fn for every record of table in key order until fn returns
// false.
func (b *Badger) scan(ctx context.Context, table string, fn func(ir.Record) bool) error {
	prefix := []byte(prefixRecord + table + "/")
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec ir.Record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			if rec.Metrics == nil {
				rec.Metrics = map[string]float64{}
			}
			if !fn(rec) {
				return nil
			}
		}
		return nil
	})
}

// ReadResults returns the records of table matching f in key order.
func (b *Badger) ReadResults(ctx context.Context, table string, f Filter) ([]ir.Record, error) {
	recs := []ir.Record{}
	err := b.scan(ctx, table, func(rec ir.Record) bool {
		if f.Match(rec) {
			recs = append(recs, rec)
		}
		return f.Limit == 0 || len(recs) < f.Limit
	})
	if err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}
	return recs, nil
}

// Best scans table for the best successful value of metric.
func (b *Badger) Best(ctx context.Context, table string, metric ir.MetricSpec) (ir.Record, error) {
	var (
		best  ir.Record
		found bool
	)
	err := b.scan(ctx, table, func(rec ir.Record) bool {
		if rec.Outcome != ir.OutcomeSuccess {
			return true
		}
		v, ok := rec.Metrics[metric.Name]
		if !ok {
			return true
		}
		if !found || metric.Better(v, best.Metrics[metric.Name]) {
			best, found = rec, true
		}
		return true
	})
	if err != nil {
		return ir.Record{}, fmt.Errorf("best: %w", err)
	}
	if !found {
		return ir.Record{}, fmt.Errorf("best %s in %s: %w", metric.Name, table, ErrNotFound)
	}
	return best, nil
}

// Tables lists the tables that hold records, sorted by name.
func (b *Badger) Tables(ctx context.Context) ([]string, error) {
	var tables []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixRecord)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			rest := bytes.TrimPrefix(it.Item().Key(), opts.Prefix)
			name, _, _ := strings.Cut(string(rest), "/")
			if len(tables) == 0 || tables[len(tables)-1] != name {
				tables = append(tables, name)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	if tables == nil {
		return []string{}, nil
	}
	// '/' sorts after '-' and '.', so key order is not name order.
	slices.Sort(tables)
	return tables, nil
}
