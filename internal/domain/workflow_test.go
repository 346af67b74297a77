package domain

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prompteval.dev/pkg/prompteval/internal/adapter"
	"prompteval.dev/pkg/prompteval/internal/controller"
	m "prompteval.dev/pkg/prompteval/internal/model"
)

type fakeTestcaseFS struct {
	files       []m.Path
	discoverErr error
	runConfigs  map[m.Path]m.RunConfig
}

func (f *fakeTestcaseFS) Discover(_ []m.Path) ([]m.Path, error) {
	if f.discoverErr != nil {
		return nil, f.discoverErr
	}

	return f.files, nil
}

func (f *fakeTestcaseFS) ReadRunConfig(file m.Path) (m.RunConfig, error) {
	if cfg, ok := f.runConfigs[file]; ok {
		return cfg, nil
	}

	return m.DefaultRunConfig(), nil
}

type fakeCheckout struct {
	mu     sync.Mutex
	warned []m.Path
}

func (f *fakeCheckout) WarnDirtyCheckout(root m.Path) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.warned = append(f.warned, root)
}

type recordingUI struct {
	mu              sync.Mutex
	started         bool
	closed          bool
	roundStarts     []int
	roundTestCounts []int
	finalFailed     int
}

func (u *recordingUI) Start(_ context.Context, _ ...controller.StartOption) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.started = true

	return nil
}

func (u *recordingUI) Close(_ context.Context) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.closed = true
}

func (u *recordingUI) DisplayRoundStart(_ context.Context, round, testCount int) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.roundStarts = append(u.roundStarts, round)
	u.roundTestCounts = append(u.roundTestCounts, testCount)
}

func (u *recordingUI) DisplayRoundSummary(_ context.Context, _ int, _ []m.TestResult) {}

func (u *recordingUI) DisplayFinalSummary(_ context.Context, _ int, failed []m.TestResult, _ int) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.finalFailed = len(failed)
}

func (u *recordingUI) DisplayTestcases(_ context.Context, _ []m.Testcase) error { return nil }

// scriptedPool returns a canned failure list per WaitForAllQueuedTests
// call.
type scriptedPool struct {
	mu        sync.Mutex
	queued    [][]m.Path
	rounds    [][]m.TestResult
	waits     int
	shutdowns int
	waitErr   error
}

func (p *scriptedPool) QueueTests(files []m.Path) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.queued = append(p.queued, append([]m.Path(nil), files...))
}

func (p *scriptedPool) WaitForAllQueuedTests() ([]m.TestResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.waitErr != nil {
		return nil, p.waitErr
	}

	call := p.waits
	p.waits++

	if call < len(p.rounds) {
		return p.rounds[call], nil
	}

	return nil, nil
}

func (p *scriptedPool) ShutdownBlocking(_ time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.shutdowns++
}

// preinstalledBin materializes a file that passes the installation check.
func preinstalledBin(t *testing.T) m.Path {
	t.Helper()

	bin := filepath.Join(t.TempDir(), "promptfoo")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755))

	return m.Path(bin)
}

type workflowFixture struct {
	workflow Workflow
	pool     *scriptedPool
	checkout *fakeCheckout
	ui       *recordingUI
	configs  []PoolConfig
}

func newWorkflowFixture(t *testing.T, fs *fakeTestcaseFS, pool *scriptedPool) *workflowFixture {
	t.Helper()

	fixture := &workflowFixture{
		pool:     pool,
		checkout: &fakeCheckout{},
		ui:       &recordingUI{},
	}

	fixture.workflow = NewWorkflow(fs, fixture.checkout, fixture.ui, func(cfg PoolConfig) Pool {
		fixture.configs = append(fixture.configs, cfg)
		return pool
	})

	return fixture
}

func baseRunArgs(t *testing.T) RunArgs {
	t.Helper()

	return RunArgs{
		Paths:      []m.Path{"eval"},
		Workers:    2,
		SourceRoot: m.Path(t.TempDir()),
		Install:    adapter.InstallConfig{Bin: preinstalledBin(t)},
	}
}

func TestRunEvals_AllPassFirstRound(t *testing.T) {
	fs := &fakeTestcaseFS{files: []m.Path{"eval/a.eval.yaml", "eval/b.eval.yaml", "eval/c.eval.yaml"}}
	pool := &scriptedPool{}
	fixture := newWorkflowFixture(t, fs, pool)

	verdict, err := fixture.workflow.RunEvals(context.Background(), baseRunArgs(t))
	require.NoError(t, err)

	assert.Equal(t, 0, verdict.ExitCode)
	assert.Empty(t, verdict.Failed)
	assert.Equal(t, 1, verdict.Rounds)

	require.Len(t, pool.queued, 1)
	assert.Len(t, pool.queued[0], 3)
	assert.GreaterOrEqual(t, pool.shutdowns, 1)

	assert.True(t, fixture.ui.started)
	assert.True(t, fixture.ui.closed)
	assert.Equal(t, []int{0}, fixture.ui.roundStarts)
}

func TestRunEvals_RetriesOnlyFailedTests(t *testing.T) {
	fs := &fakeTestcaseFS{files: []m.Path{"eval/a.eval.yaml", "eval/b.eval.yaml"}}
	pool := &scriptedPool{rounds: [][]m.TestResult{
		{{TestFile: "eval/b.eval.yaml", Success: false}},
		nil,
	}}
	fixture := newWorkflowFixture(t, fs, pool)

	args := baseRunArgs(t)
	args.Retries = 2

	verdict, err := fixture.workflow.RunEvals(context.Background(), args)
	require.NoError(t, err)

	assert.Equal(t, 0, verdict.ExitCode)
	assert.Equal(t, 2, verdict.Rounds)

	require.Len(t, pool.queued, 2)
	assert.Equal(t, []m.Path{"eval/a.eval.yaml", "eval/b.eval.yaml"}, pool.queued[0])
	assert.Equal(t, []m.Path{"eval/b.eval.yaml"}, pool.queued[1])
}

func TestRunEvals_ExhaustedRetriesFail(t *testing.T) {
	fs := &fakeTestcaseFS{files: []m.Path{"eval/a.eval.yaml"}}
	stubbornFailure := []m.TestResult{{TestFile: "eval/a.eval.yaml", Success: false}}
	pool := &scriptedPool{rounds: [][]m.TestResult{stubbornFailure, stubbornFailure}}
	fixture := newWorkflowFixture(t, fs, pool)

	args := baseRunArgs(t)
	args.Retries = 1

	verdict, err := fixture.workflow.RunEvals(context.Background(), args)
	require.NoError(t, err)

	assert.Equal(t, 1, verdict.ExitCode)
	require.Len(t, verdict.Failed, 1)
	assert.Equal(t, 2, verdict.Rounds)
	assert.Equal(t, 1, fixture.ui.finalFailed)
}

func TestRunEvals_NoTestsSelected(t *testing.T) {
	fs := &fakeTestcaseFS{}
	pool := &scriptedPool{}
	fixture := newWorkflowFixture(t, fs, pool)

	verdict, err := fixture.workflow.RunEvals(context.Background(), baseRunArgs(t))
	require.NoError(t, err)

	assert.Equal(t, 1, verdict.ExitCode)
	assert.Empty(t, fixture.configs, "the pool must not be built when there is nothing to run")
}

func TestRunEvals_DiscoveryErrorPropagates(t *testing.T) {
	discoverErr := errors.New("permission denied")
	fs := &fakeTestcaseFS{discoverErr: discoverErr}
	fixture := newWorkflowFixture(t, fs, &scriptedPool{})

	_, err := fixture.workflow.RunEvals(context.Background(), baseRunArgs(t))
	require.ErrorIs(t, err, discoverErr)
}

func TestRunEvals_OneWorkerPerTest(t *testing.T) {
	fs := &fakeTestcaseFS{files: []m.Path{"eval/a.eval.yaml", "eval/b.eval.yaml", "eval/c.eval.yaml"}}
	pool := &scriptedPool{}
	fixture := newWorkflowFixture(t, fs, pool)

	args := baseRunArgs(t)
	args.Workers = -1

	_, err := fixture.workflow.RunEvals(context.Background(), args)
	require.NoError(t, err)

	require.Len(t, fixture.configs, 1)
	assert.Equal(t, 3, fixture.configs[0].NumWorkers)
}

func TestRunEvals_RepeatDuplicatesTests(t *testing.T) {
	fs := &fakeTestcaseFS{files: []m.Path{"eval/a.eval.yaml"}}
	pool := &scriptedPool{}
	fixture := newWorkflowFixture(t, fs, pool)

	args := baseRunArgs(t)
	args.Repeat = 2

	_, err := fixture.workflow.RunEvals(context.Background(), args)
	require.NoError(t, err)

	require.Len(t, pool.queued, 1)
	assert.Len(t, pool.queued[0], 3)
}

func TestRunEvals_WarnsAboutDirtyCheckout(t *testing.T) {
	fs := &fakeTestcaseFS{files: []m.Path{"eval/a.eval.yaml"}}
	fixture := newWorkflowFixture(t, fs, &scriptedPool{})

	args := baseRunArgs(t)

	_, err := fixture.workflow.RunEvals(context.Background(), args)
	require.NoError(t, err)

	require.Len(t, fixture.checkout.warned, 1)
	assert.Equal(t, args.SourceRoot, fixture.checkout.warned[0])
}

func TestListTestcases_ReturnsRunConfigs(t *testing.T) {
	fs := &fakeTestcaseFS{
		files: []m.Path{"eval/a.eval.yaml", "eval/b.eval.yaml"},
		runConfigs: map[m.Path]m.RunConfig{
			"eval/b.eval.yaml": {RunsPerTest: 3, PassThreshold: 2},
		},
	}
	fixture := newWorkflowFixture(t, fs, &scriptedPool{})

	testcases, err := fixture.workflow.ListTestcases(context.Background(), ListArgs{Paths: []m.Path{"eval"}})
	require.NoError(t, err)

	require.Len(t, testcases, 2)
	assert.Equal(t, m.DefaultRunConfig(), testcases[0].Run)
	assert.Equal(t, m.RunConfig{RunsPerTest: 3, PassThreshold: 2}, testcases[1].Run)
}

func TestListTestcases_CancelledContext(t *testing.T) {
	fixture := newWorkflowFixture(t, &fakeTestcaseFS{}, &scriptedPool{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fixture.workflow.ListTestcases(ctx, ListArgs{})
	require.Error(t, err)
}

func TestRepeatFiles(t *testing.T) {
	files := []m.Path{"a", "b"}

	assert.Equal(t, files, repeatFiles(files, 0))
	assert.Equal(t, []m.Path{"a", "b", "a", "b"}, repeatFiles(files, 1))
	assert.Empty(t, repeatFiles(nil, 3))
}

func TestFailedFiles(t *testing.T) {
	failed := []m.TestResult{
		{TestFile: "a.eval.yaml"},
		{TestFile: "b.eval.yaml"},
	}

	assert.Equal(t, []m.Path{"a.eval.yaml", "b.eval.yaml"}, failedFiles(failed))
}
