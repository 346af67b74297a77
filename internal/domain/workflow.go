package domain

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"prompteval.dev/pkg/prompteval/internal/adapter"
	"prompteval.dev/pkg/prompteval/internal/controller"
	m "prompteval.dev/pkg/prompteval/internal/model"
)

// RunArgs carries everything one evaluation run needs.
type RunArgs struct {
	// Paths are the discovery roots.
	Paths []m.Path

	// Filter is a ::-separated list of globs selecting tests to run.
	Filter string

	ShardIndex  int
	TotalShards int

	// Repeat duplicates the discovered set this many extra times.
	Repeat int

	// Retries is the retry budget R: failed tests are re-run for up to R
	// additional rounds.
	Retries int

	// Workers is the worker count; -1 uses one worker per test.
	Workers int

	// SourceRoot is the checkout that workdirs are copied from.
	SourceRoot m.Path

	Options              WorkerOptions
	Install              adapter.InstallConfig
	PrintOutputOnSuccess bool
}

// ListArgs selects testcases for display.
type ListArgs struct {
	Paths       []m.Path
	Filter      string
	ShardIndex  int
	TotalShards int
}

// RunVerdict is the outcome of a full run including all retry rounds.
type RunVerdict struct {
	// ExitCode is 0 when every test eventually passed, 1 otherwise.
	ExitCode int

	// Failed holds the tests still failing after the last round.
	Failed []m.TestResult

	// Rounds is how many rounds actually ran.
	Rounds int
}

// Workflow is the caller-facing contract of the harness.
type Workflow interface {
	// RunEvals executes the selected testcases with retries. A test that
	// passes within Retries+1 attempts counts as a success; one still
	// failing after all attempts is a hard failure.
	RunEvals(ctx context.Context, args RunArgs) (RunVerdict, error)

	// ListTestcases returns the selected testcases with their run
	// settings.
	ListTestcases(ctx context.Context, args ListArgs) ([]m.Testcase, error)
}

// PoolFactory builds the worker pool a run uses; injectable for tests.
type PoolFactory func(cfg PoolConfig) Pool

type workflow struct {
	testcases adapter.TestcaseFSAdapter
	checkout  adapter.CheckoutAdapter
	ui        controller.UI
	newPool   PoolFactory
}

// NewWorkflow creates a Workflow with the provided dependencies.
func NewWorkflow(
	testcases adapter.TestcaseFSAdapter,
	checkout adapter.CheckoutAdapter,
	ui controller.UI,
	newPool PoolFactory,
) Workflow {
	return &workflow{
		testcases: testcases,
		checkout:  checkout,
		ui:        ui,
		newPool:   newPool,
	}
}

func (w *workflow) selectTestcases(paths []m.Path, filter string, shardIndex, totalShards int) ([]m.Path, error) {
	files, err := w.testcases.Discover(paths)
	if err != nil {
		return nil, err
	}

	base := m.Path(".")
	if len(paths) > 0 {
		base = paths[0]
	}

	files = adapter.FilterTestcases(files, filter, base)
	files = adapter.ShardTestcases(files, shardIndex, totalShards)

	return files, nil
}

// ListTestcases implements Workflow.
func (w *workflow) ListTestcases(ctx context.Context, args ListArgs) ([]m.Testcase, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	files, err := w.selectTestcases(args.Paths, args.Filter, args.ShardIndex, args.TotalShards)
	if err != nil {
		return nil, err
	}

	testcases := make([]m.Testcase, 0, len(files))

	for _, file := range files {
		runConfig, err := w.testcases.ReadRunConfig(file)
		if err != nil {
			return nil, err
		}

		testcases = append(testcases, m.Testcase{File: file, Run: runConfig})
	}

	return testcases, nil
}

// RunEvals implements Workflow.
func (w *workflow) RunEvals(ctx context.Context, args RunArgs) (RunVerdict, error) {
	files, err := w.selectTestcases(args.Paths, args.Filter, args.ShardIndex, args.TotalShards)
	if err != nil {
		return RunVerdict{ExitCode: 1}, err
	}

	files = repeatFiles(files, args.Repeat)

	if len(files) == 0 {
		slog.Info("No tests to run after filtering and sharding")
		return RunVerdict{ExitCode: 1}, nil
	}

	w.checkout.WarnDirtyCheckout(args.SourceRoot)

	eval := adapter.NewInstallation(args.Install)
	if !eval.IsInstalled() {
		if err := eval.Setup(); err != nil {
			return RunVerdict{ExitCode: 1}, fmt.Errorf("set up evaluation tool: %w", err)
		}
	}

	numWorkers := args.Workers
	if numWorkers == -1 {
		numWorkers = len(files)
	}

	workspaces := adapter.NewLocalWorkdirManager(args.SourceRoot, args.Options.Clean, args.Options.Verbose)

	pool := w.newPool(PoolConfig{
		NumWorkers:           numWorkers,
		Eval:                 eval,
		Workspaces:           workspaces,
		Sink:                 adapter.NewResultSinkFromEnv(),
		Options:              args.Options,
		PrintOutputOnSuccess: args.PrintOutputOnSuccess,
	})
	defer pool.ShutdownBlocking(DefaultShutdownTimeout)

	var currentRound atomic.Int64

	w.startUI(ctx, pool, &currentRound)
	defer w.ui.Close(ctx)

	verdict, err := w.runRetryRounds(ctx, pool, files, args.Retries, &currentRound)
	if err != nil {
		return RunVerdict{ExitCode: 1}, err
	}

	pool.ShutdownBlocking(DefaultShutdownTimeout)
	w.ui.DisplayFinalSummary(ctx, len(files), verdict.Failed, args.Retries)

	return verdict, nil
}

// runRetryRounds drives the pool: an initial round with the full set,
// then up to retries rounds with only the previous round's failures,
// stopping early the moment a round is clean.
func (w *workflow) runRetryRounds(
	ctx context.Context,
	pool Pool,
	files []m.Path,
	retries int,
	currentRound *atomic.Int64,
) (RunVerdict, error) {
	current := files

	var (
		failed []m.TestResult
		rounds int
	)

	for round := 0; round <= retries; round++ {
		currentRound.Store(int64(round))
		w.ui.DisplayRoundStart(ctx, round, len(current))

		if round != 0 {
			slog.Info("Re-running failed tests", "count", len(current))
		}

		pool.QueueTests(current)

		rounds++

		var err error

		failed, err = pool.WaitForAllQueuedTests()
		if err != nil {
			return RunVerdict{}, fmt.Errorf("wait for queued tests: %w", err)
		}

		w.ui.DisplayRoundSummary(ctx, round, failed)

		if len(failed) == 0 {
			break
		}

		current = failedFiles(failed)
	}

	exitCode := 0
	if len(failed) > 0 {
		exitCode = 1

		slog.Warn("Tests failed after all retry rounds", "failed", len(failed), "retries", retries)

		for _, result := range failed {
			slog.Warn("Failed test", "test", result.TestFile)
		}
	} else {
		slog.Info("Successfully ran all tests", "count", len(files))
	}

	return RunVerdict{ExitCode: exitCode, Failed: failed, Rounds: rounds}, nil
}

func (w *workflow) startUI(ctx context.Context, pool Pool, currentRound *atomic.Int64) {
	snapshotter, ok := pool.(interface{ Snapshot() PoolSnapshot })
	if !ok {
		if err := w.ui.Start(ctx); err != nil {
			slog.Warn("Failed to start UI", "error", err)
		}

		return
	}

	err := w.ui.Start(ctx, controller.WithProgress(func() controller.Progress {
		snapshot := snapshotter.Snapshot()

		return controller.Progress{
			Queued:   snapshot.Queued,
			Reported: snapshot.Reported,
			Failed:   snapshot.Failed,
			Round:    int(currentRound.Load()),
		}
	}))
	if err != nil {
		slog.Warn("Failed to start UI", "error", err)
	}
}

func repeatFiles(files []m.Path, repeat int) []m.Path {
	if repeat <= 0 || len(files) == 0 {
		return files
	}

	repeated := make([]m.Path, 0, len(files)*(repeat+1))

	for i := 0; i < repeat+1; i++ {
		repeated = append(repeated, files...)
	}

	return repeated
}

func failedFiles(failed []m.TestResult) []m.Path {
	files := make([]m.Path, 0, len(failed))

	for _, result := range failed {
		files = append(files, result.TestFile)
	}

	return files
}
