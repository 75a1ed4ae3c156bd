package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/sweep/internal/ir"
	"github.com/roach88/sweep/internal/store"
	"github.com/roach88/sweep/internal/study"
)

// QueryOptions holds flags shared by the results and best commands.
type QueryOptions struct {
	*RootOptions
	Database string
	Backend  string
	Table    string
}

func (o *QueryOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Database, "db", "", "path to the result database (required)")
	cmd.Flags().StringVar(&o.Backend, "backend", string(store.KindSQLite), "result store backend (sqlite|badger)")
	cmd.Flags().StringVar(&o.Table, "table", "", "result table")
	_ = cmd.MarkFlagRequired("db")
}

// open opens an existing database; queries never create one.
func (o *QueryOptions) open() (store.Backend, error) {
	if _, err := os.Stat(o.Database); err != nil {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", o.Database))
	}
	b, err := store.OpenBackend(store.Kind(o.Backend), o.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return b, nil
}

// ResultsOptions holds flags for the results command.
type ResultsOptions struct {
	QueryOptions
	Where   []string
	RunID   string
	Outcome string
	Limit   int
}

// NewResultsCommand creates the results command.
func NewResultsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResultsOptions{QueryOptions: QueryOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "results",
		Short: "List stored results",
		Long: `List the records of a result table. Without --table, list the tables.

Parameter filters compare numbers by value, so --where x=2 matches
both 2 and 2.0.

Example:
  sweep results --db ./sweep.db
  sweep results --db ./sweep.db --table XYZ_test --where z=g --outcome success
  sweep results --db ./sweep.db --table XYZ_test --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResults(opts, cmd)
		},
	}

	opts.bind(cmd)
	cmd.Flags().StringArrayVar(&opts.Where, "where", nil, "parameter filter as name=value (repeatable)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "only records of this run")
	cmd.Flags().StringVar(&opts.Outcome, "outcome", "", "only records with this outcome (success|failed)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of records (0 = all)")

	return cmd
}

func runResults(opts *ResultsOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	ctx := commandContext(cmd)

	switch ir.Outcome(opts.Outcome) {
	case "", ir.OutcomeSuccess, ir.OutcomeFailed:
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid outcome %q: must be success or failed", opts.Outcome))
	}
	params, err := store.ParseFilterParams(opts.Where)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --where", err)
	}

	b, err := opts.open()
	if err != nil {
		return err
	}
	defer closeBackend(b)

	if opts.Table == "" {
		tables, err := b.Tables(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list tables", err)
		}
		if formatter.JSON() {
			return formatter.Success(map[string]any{"tables": tables})
		}
		for _, t := range tables {
			fmt.Fprintln(formatter.Writer, t)
		}
		return nil
	}

	recs, err := b.ReadResults(ctx, opts.Table, store.Filter{
		RunID:   opts.RunID,
		Outcome: ir.Outcome(opts.Outcome),
		Params:  params,
		Limit:   opts.Limit,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read results", err)
	}

	if formatter.JSON() {
		return formatter.Success(map[string]any{"table": opts.Table, "records": recs})
	}
	for _, rec := range recs {
		fmt.Fprintln(formatter.Writer, formatRecord(rec))
	}
	formatter.VerboseLog("%d record(s) in %s", len(recs), opts.Table)
	return nil
}

func formatRecord(rec ir.Record) string {
	metrics, err := ir.MarshalCanonical(metricsObject(rec.Metrics))
	if err != nil {
		metrics = []byte(fmt.Sprintf("%v", rec.Metrics))
	}
	line := fmt.Sprintf("%s #%d %-7s %s %s", rec.RunID, rec.Seq, rec.Outcome, formatParams(rec.Params), metrics)
	if rec.Error != "" {
		line += " error=" + rec.Error
	}
	return line
}

func metricsObject(m map[string]float64) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// BestOptions holds flags for the best command.
type BestOptions struct {
	QueryOptions
	Metric   string
	Minimize bool
}

// NewBestCommand creates the best command.
func NewBestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BestOptions{QueryOptions: QueryOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "best",
		Short: "Show the best stored result",
		Long: `Show the successful record of a table with the best value of a
metric. Ties go to the earliest record.

Example:
  sweep best --db ./sweep.db --table XYZ_test --metric objective
  sweep best --db ./sweep.db --table loss_runs --metric loss --minimize`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBest(opts, cmd)
		},
	}

	opts.bind(cmd)
	cmd.Flags().StringVar(&opts.Metric, "metric", "", "metric to optimise (required)")
	cmd.Flags().BoolVar(&opts.Minimize, "minimize", false, "lower is better")
	_ = cmd.MarkFlagRequired("table")
	_ = cmd.MarkFlagRequired("metric")

	return cmd
}

func runBest(opts *BestOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	b, err := opts.open()
	if err != nil {
		return err
	}
	defer closeBackend(b)

	metric := ir.MetricSpec{Name: opts.Metric, Goal: ir.GoalMaximize}
	if opts.Minimize {
		metric.Goal = ir.GoalMinimize
	}

	rec, err := b.Best(commandContext(cmd), opts.Table, metric)
	if errors.Is(err, store.ErrNotFound) {
		if formatter.JSON() {
			_ = formatter.Error(study.ErrCodeNotFound, err.Error(), nil)
		} else {
			formatter.Fail("no successful record with metric %s in %s", opts.Metric, opts.Table)
		}
		return WrapExitError(ExitFailure, "no best record", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to query best record", err)
	}

	best := BestReport{Metric: metric.Name, Value: rec.Metrics[metric.Name], Params: rec.Params, Ref: rec.SuggestionRef}
	if formatter.JSON() {
		return formatter.Success(map[string]any{"table": opts.Table, "run_id": rec.RunID, "best": best})
	}
	formatter.Pass("best %s in %s", metric.Name, opts.Table)
	formatter.Field("value", best.Value)
	formatter.Field("params", formatParams(best.Params))
	formatter.Field("run", rec.RunID)
	formatter.Field("seq", rec.Seq)
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func closeBackend(b store.Backend) {
	if err := b.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}
