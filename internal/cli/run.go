package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/roach88/sweep/internal/dataset"
	"github.com/roach88/sweep/internal/engine"
	"github.com/roach88/sweep/internal/ir"
	"github.com/roach88/sweep/internal/objective"
	"github.com/roach88/sweep/internal/oracle"
	"github.com/roach88/sweep/internal/pool"
	"github.com/roach88/sweep/internal/sink"
	"github.com/roach88/sweep/internal/store"
	"github.com/roach88/sweep/internal/study"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database    string
	Backend     string
	Study       string
	Workers     int
	Budget      int
	Priming     int
	BatchSize   int
	Retries     uint
	SuggestRate float64
	MetricsAddr string
	Datasets    []string // name=path
	DatasetDir  string

	// RunIDGen allows overriding the run ID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDGen engine.RunIDGenerator

	// Registry receives the coordinator metrics. If nil, a fresh
	// registry is used.
	Registry *prometheus.Registry
}

// RunReport is the outcome of one sweep.
type RunReport struct {
	RunID          string      `json:"run_id"`
	Study          string      `json:"study"`
	Table          string      `json:"table"`
	Budget         int         `json:"budget"`
	Priming        int         `json:"priming"`
	Submitted      int         `json:"submitted"`
	Completed      int         `json:"completed"`
	Failed         int         `json:"failed"`
	Discarded      int         `json:"discarded"`
	Unresolved     int         `json:"unresolved"`
	ReportFailures int         `json:"report_failures"`
	MaxInFlight    int         `json:"max_in_flight"`
	Best           *BestReport `json:"best,omitempty"`
	Error          string      `json:"error,omitempty"`
}

// BestReport is the best trial of a run or table.
type BestReport struct {
	Metric string          `json:"metric"`
	Value  float64         `json:"value"`
	Params ir.ParameterSet `json:"params"`
	Ref    string          `json:"ref,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <study-dir>",
		Short: "Run a parameter sweep",
		Long: `Run the sweep a CUE study defines.

The study's oracle suggests parameter sets, a local worker pool evaluates
the study's objective on them, and every result is appended to the study's
table in the database. The run ends when the budget is used up or the
oracle runs out of suggestions.

Example:
  sweep run --db ./sweep.db ./studies
  sweep run --db ./sweep.db --study xyz --budget 20 --workers 4 ./studies
  sweep run --backend badger --db ./sweep.badger ./studies --metrics-addr :9090`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the result database (required)")
	cmd.Flags().StringVar(&opts.Backend, "backend", string(store.KindSQLite), "result store backend (sqlite|badger)")
	cmd.Flags().StringVar(&opts.Study, "study", "", "study to run when the directory defines several")
	cmd.Flags().IntVar(&opts.Workers, "workers", runtime.NumCPU(), "number of pool workers")
	cmd.Flags().IntVar(&opts.Budget, "budget", 0, "total evaluations (overrides the study)")
	cmd.Flags().IntVar(&opts.Priming, "priming", 0, "suggestions submitted up front (overrides the study)")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", sink.DefaultBatchSize, "records buffered per database write")
	cmd.Flags().UintVar(&opts.Retries, "retries", sink.DefaultMaxTries, "attempts per database write")
	cmd.Flags().Float64Var(&opts.SuggestRate, "suggest-rate", 0, "max oracle suggest calls per second (0 = unlimited)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().StringArrayVar(&opts.Datasets, "dataset", nil, "broadcast dataset as name=path (repeatable)")
	cmd.Flags().StringVar(&opts.DatasetDir, "dataset-dir", "", "broadcast every dataset file in this directory")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runSweep(opts *RunOptions, studyDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	spec, err := loadStudy(studyDir, opts.Study)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load study", err)
	}
	if cmd.Flags().Changed("budget") {
		spec.Budget = opts.Budget
	}
	if cmd.Flags().Changed("priming") {
		spec.Priming = opts.Priming
	}
	slog.Info("study loaded", "study", spec.Name, "table", spec.Table, "objective", spec.Objective, "oracle", spec.Oracle)

	fn, err := objective.Lookup(spec.Objective)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid objective", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cache, err := publishDatasets(ctx, opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load datasets", err)
	}

	orc, err := oracle.New(spec)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid oracle", err)
	}
	var suggester engine.Oracle = orc
	if opts.SuggestRate > 0 {
		limited, err := oracle.NewRateLimited(orc, opts.SuggestRate)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid suggest rate", err)
		}
		suggester = limited
	}

	backend, err := store.OpenBackend(store.Kind(opts.Backend), opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	backend = &closeOnce{Backend: backend}
	defer func() {
		if err := backend.Close(); err != nil {
			slog.Error("error closing database", "error", err)
		}
	}()

	p, err := pool.NewLocalPool(opts.Workers, pool.WithDatasets(cache))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start pool", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := p.Shutdown(shutdownCtx); err != nil {
			slog.Error("error stopping pool", "error", err)
		}
	}()

	results, err := sink.New(spec.Table, backend,
		sink.WithBatchSize(opts.BatchSize),
		sink.WithMaxTries(opts.Retries),
		sink.WithRelease(p.Shutdown),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid sink settings", err)
	}

	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if opts.MetricsAddr != "" {
		stopMetrics := serveMetrics(opts.MetricsAddr, reg)
		defer stopMetrics()
	}

	coordOpts := []engine.Option{engine.WithMetrics(engine.NewMetrics(reg))}
	if spec.Budget > 0 {
		coordOpts = append(coordOpts, engine.WithBudget(spec.Budget))
	}
	if spec.Priming > 0 {
		coordOpts = append(coordOpts, engine.WithPrimingWidth(spec.Priming))
	}
	if opts.RunIDGen != nil {
		coordOpts = append(coordOpts, engine.WithRunIDGenerator(opts.RunIDGen))
	}
	coord, err := engine.New(suggester, p, p.Stream(), results, fn, coordOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid run settings", err)
	}

	formatter.RunID = coord.RunID()
	sum := coord.Summary()
	if err := backend.WriteRun(ctx, ir.Run{
		ID:        coord.RunID(),
		Study:     spec.Name,
		Table:     spec.Table,
		Objective: spec.Objective,
		Budget:    sum.Budget,
		Priming:   sum.PrimingWidth,
		Version:   ir.EngineVersion,
	}); err != nil {
		return WrapExitError(ExitCommandError, "failed to record run", err)
	}

	sum, runErr := coord.Run(ctx)
	report := newRunReport(spec, sum, orc)
	if runErr != nil {
		report.Error = runErr.Error()
	}

	if formatter.JSON() {
		if runErr != nil {
			if err := formatter.Error(runErrorCode(runErr), runErr.Error(), report); err != nil {
				return err
			}
		} else if err := formatter.Success(report); err != nil {
			return err
		}
	} else {
		printRunReport(formatter, report, runErr)
	}

	if runErr != nil {
		return WrapExitError(ExitFailure, "sweep failed", runErr)
	}
	return nil
}

func loadStudy(dir, name string) (*ir.StudySpec, error) {
	result, errs := study.Load(dir, study.LoadModeFailFast)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return result.Find(name)
}

// publishDatasets fills a cache from --dataset and --dataset-dir.
func publishDatasets(ctx context.Context, opts *RunOptions) (*dataset.Cache, error) {
	var cacheOpts []dataset.Option
	if opts.DatasetDir != "" {
		cacheOpts = append(cacheOpts, dataset.WithLoader(dataset.DirLoader(opts.DatasetDir)))
	}
	cache := dataset.NewCache(cacheOpts...)

	for _, pair := range opts.Datasets {
		name, path, ok := strings.Cut(pair, "=")
		if !ok || name == "" || path == "" {
			return nil, fmt.Errorf("dataset %q: want name=path", pair)
		}
		ds, err := dataset.ReadFile(path)
		if err != nil {
			return nil, err
		}
		ds.Name = name
		if err := cache.Publish(ds); err != nil {
			return nil, err
		}
	}

	if opts.DatasetDir != "" {
		entries, err := os.ReadDir(opts.DatasetDir)
		if err != nil {
			return nil, fmt.Errorf("read dataset dir: %w", err)
		}
		for _, e := range entries {
			ext := filepath.Ext(e.Name())
			if e.IsDir() || (ext != ".yaml" && ext != ".yml" && ext != ".json") {
				continue
			}
			if _, err := cache.GetOrLoad(ctx, strings.TrimSuffix(e.Name(), ext)); err != nil {
				return nil, err
			}
		}
	}

	slog.Debug("datasets published", "names", cache.Names())
	return cache, nil
}

// serveMetrics exposes reg on addr until the returned stop func is called.
func serveMetrics(addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		slog.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func newRunReport(spec *ir.StudySpec, sum engine.Summary, orc oracle.Tracker) RunReport {
	report := RunReport{
		RunID:          sum.RunID,
		Study:          spec.Name,
		Table:          spec.Table,
		Budget:         sum.Budget,
		Priming:        sum.PrimingWidth,
		Submitted:      sum.Submitted,
		Completed:      sum.Completed,
		Failed:         sum.Failed,
		Discarded:      sum.Discarded,
		Unresolved:     sum.Unresolved,
		ReportFailures: sum.ReportFailures,
		MaxInFlight:    sum.MaxInFlight,
	}
	if best, err := orc.Best(); err == nil {
		metric := orc.Metric().Name
		report.Best = &BestReport{
			Metric: metric,
			Value:  best.Measurement.Metrics[metric],
			Params: best.Params,
			Ref:    best.Ref,
		}
	}
	return report
}

func printRunReport(f *OutputFormatter, r RunReport, runErr error) {
	if runErr != nil {
		f.Fail("sweep %s failed: %v", r.RunID, runErr)
	} else {
		f.Pass("sweep %s finished", r.RunID)
	}
	f.Field("study", r.Study)
	f.Field("table", r.Table)
	f.Field("budget", r.Budget)
	f.Field("submitted", r.Submitted)
	f.Field("completed", r.Completed)
	f.Field("failed", r.Failed)
	f.Field("discarded", r.Discarded)
	f.Field("unresolved", r.Unresolved)
	if r.Best != nil {
		f.Field("best", fmt.Sprintf("%s=%g %s", r.Best.Metric, r.Best.Value, formatParams(r.Best.Params)))
	}
}

func formatParams(ps ir.ParameterSet) string {
	b, err := ir.MarshalCanonical(ps.Object())
	if err != nil {
		return fmt.Sprintf("%v", map[string]ir.IRValue(ps))
	}
	return string(b)
}

func runErrorCode(err error) string {
	var rtErr *engine.RuntimeError
	if errors.As(err, &rtErr) {
		return string(rtErr.Code)
	}
	return study.ErrCodeGeneric
}

// closeOnce lets both the sink's final push and the command's cleanup
// close the backend.
type closeOnce struct {
	store.Backend
	once sync.Once
	err  error
}

func (c *closeOnce) Close() error {
	c.once.Do(func() {
		c.err = c.Backend.Close()
	})
	return c.err
}
