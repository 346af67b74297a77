package domain

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"prompteval.dev/pkg/prompteval/internal/adapter"
	m "prompteval.dev/pkg/prompteval/internal/model"
	"prompteval.dev/pkg/prompteval/pkg"
)

// DefaultTestTimeout bounds a single evaluation; on expiry the evaluator
// process is killed and the test is recorded as failed.
const DefaultTestTimeout = 10 * time.Minute

// WorkerOptions holds the per-test execution settings shared by all
// workers in a pool.
type WorkerOptions struct {
	// Clean removes each workdir after its test finishes.
	Clean bool

	// Verbose is forwarded to the evaluator and enables debug logging.
	Verbose bool

	// Force destroys stale workdirs instead of failing on them.
	Force bool

	// Sandbox asks the evaluator to run the agent inside a sandbox.
	Sandbox bool

	// AgentBin optionally overrides the agent binary the evaluator invokes.
	AgentBin m.Path

	// ConsoleWidth is forwarded to the evaluator so captured agent output
	// wraps like the operator's terminal.
	ConsoleWidth int

	// TestTimeout bounds one evaluation; zero means DefaultTestTimeout.
	TestTimeout time.Duration
}

func (o WorkerOptions) testTimeout() time.Duration {
	if o.TestTimeout <= 0 {
		return DefaultTestTimeout
	}

	return o.TestTimeout
}

// Worker executes tests one at a time against its own exclusive workdir
// slot. It pulls from the shared input queue until shut down; an error
// that makes a TestResult impossible is recorded as the worker's fatal
// error and stops only this worker, never its siblings.
type Worker struct {
	index      int
	eval       adapter.Installation
	workspaces adapter.WorkspaceManager
	opts       WorkerOptions

	input   *pkg.PollQueue[m.Path]
	results *pkg.PollQueue[m.TestResult]

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	mu    sync.Mutex
	fatal error
}

// NewWorker constructs a worker for slot index. Start must be called to
// begin processing.
func NewWorker(
	index int,
	eval adapter.Installation,
	workspaces adapter.WorkspaceManager,
	opts WorkerOptions,
	input *pkg.PollQueue[m.Path],
	results *pkg.PollQueue[m.TestResult],
) *Worker {
	return &Worker{
		index:      index,
		eval:       eval,
		workspaces: workspaces,
		opts:       opts,
		input:      input,
		results:    results,
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (w *Worker) Start() {
	go w.run()
}

// Shutdown signals the worker to stop after its current test. Safe to
// call more than once.
func (w *Worker) Shutdown() {
	w.shutdownOnce.Do(func() { close(w.shutdown) })
}

// Join waits for the worker goroutine to exit, reporting false on
// timeout.
func (w *Worker) Join(timeout time.Duration) bool {
	select {
	case <-w.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Err returns the fatal error that terminated the worker, if any.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.fatal
}

func (w *Worker) run() {
	defer close(w.done)

	for {
		testFile, ok := w.input.Pop(w.shutdown)
		if !ok {
			return
		}

		if err := w.runSingleTest(testFile); err != nil {
			w.mu.Lock()
			w.fatal = err
			w.mu.Unlock()

			slog.Error("Worker terminated by fatal error", "worker", w.index, "error", err)

			return
		}
	}
}

// runSingleTest executes one test inside a fresh workdir and publishes
// exactly one TestResult. The returned error is reserved for conditions
// that made a result impossible.
func (w *Worker) runSingleTest(testFile m.Path) error {
	slog.Debug("Running test", "worker", w.index, "test", testFile)

	workspace, err := w.workspaces.Acquire(fmt.Sprintf("workdir-%d", w.index), w.opts.Force)
	if err != nil {
		return fmt.Errorf("acquire workdir for %s: %w", testFile, err)
	}

	defer workspace.Release()

	runDir, err := os.MkdirTemp("", "prompteval-run-*")
	if err != nil {
		return fmt.Errorf("create run dir for %s: %w", testFile, err)
	}

	defer func() {
		if err := os.RemoveAll(runDir); err != nil {
			slog.Warn("Failed to remove run dir", "dir", runDir, "error", err)
		}
	}()

	homeDir := filepath.Join(runDir, "home")
	if err := os.Mkdir(homeDir, 0o750); err != nil {
		return fmt.Errorf("create isolated home for %s: %w", testFile, err)
	}

	resultsPath := filepath.Join(runDir, "results.json")
	args := w.buildEvalArgs(testFile, resultsPath, homeDir)

	ctx, cancel := context.WithTimeout(context.Background(), w.opts.testTimeout())
	defer cancel()

	start := time.Now()

	output, exitCode, err := w.eval.Run(ctx, string(workspace.Path()), args)
	if err != nil {
		return fmt.Errorf("invoke evaluator for %s: %w", testFile, err)
	}

	duration := time.Since(start)

	if ctx.Err() != nil {
		slog.Warn("Test timed out, evaluator killed", "test", testFile, "timeout", w.opts.testTimeout())
	}

	// Pass/fail is the process exit code alone, independent of anything
	// the evaluator printed.
	result := m.TestResult{
		TestFile: testFile,
		Success:  exitCode == 0,
		Duration: duration,
		TestLog:  output,
		Metrics:  ExtractMetrics(m.Path(resultsPath)),
	}

	w.results.Push(result)

	return nil
}

// buildEvalArgs templates the evaluator invocation for one test. The
// variable list is in fixed order so invocations are reproducible.
func (w *Worker) buildEvalArgs(testFile m.Path, resultsPath, homeDir string) []string {
	args := []string{
		"eval",
		"--config", string(testFile),
		"--output", resultsPath,
		"--no-progress-bar",
	}

	appendVar := func(key, value string) {
		args = append(args, "--var", fmt.Sprintf("%s=%s", key, value))
	}

	appendVar("console_width", fmt.Sprintf("%d", w.opts.ConsoleWidth))
	appendVar("home_dir", homeDir)
	appendVar("sandbox", fmt.Sprintf("%t", w.opts.Sandbox))
	appendVar("verbose", fmt.Sprintf("%t", w.opts.Verbose))

	if w.opts.AgentBin != "" {
		appendVar("agent_bin", string(w.opts.AgentBin))
	}

	return args
}
