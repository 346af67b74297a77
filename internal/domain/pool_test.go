package domain

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	m "prompteval.dev/pkg/prompteval/internal/model"
)

func shortenWaitPoll(t *testing.T) {
	t.Helper()

	original := waitPollInterval
	waitPollInterval = 5 * time.Millisecond

	t.Cleanup(func() { waitPollInterval = original })
}

// flakyEval fails each listed test a fixed number of times before letting
// it pass.
func flakyEval(failuresLeft map[string]int) *fakeEval {
	var mu sync.Mutex

	return &fakeEval{
		runFn: func(_ string, args []string) (string, int, error) {
			config := argValue(args, "--config")

			mu.Lock()
			defer mu.Unlock()

			if failuresLeft[config] > 0 {
				failuresLeft[config]--
				return "flaky failure", 1, nil
			}

			return "ok", 0, nil
		},
	}
}

func newTestPool(t *testing.T, numWorkers int, eval *fakeEval) *WorkerPool {
	t.Helper()

	pool := NewWorkerPool(PoolConfig{
		NumWorkers: numWorkers,
		Eval:       eval,
		Workspaces: &fakeWorkspaceManager{dir: t.TempDir()},
		Options:    WorkerOptions{Clean: true},
		Out:        &bytes.Buffer{},
	})

	t.Cleanup(func() { pool.ShutdownBlocking(2 * time.Second) })

	return pool
}

func TestWorkerPool_RunsAllQueuedTests(t *testing.T) {
	shortenWaitPoll(t)

	eval := &fakeEval{}
	pool := newTestPool(t, 3, eval)

	files := []m.Path{
		"eval/a.eval.yaml",
		"eval/b.eval.yaml",
		"eval/c.eval.yaml",
		"eval/d.eval.yaml",
		"eval/e.eval.yaml",
	}

	pool.QueueTests(files)

	failed, err := pool.WaitForAllQueuedTests()
	require.NoError(t, err)
	assert.Empty(t, failed)

	snapshot := pool.Snapshot()
	assert.Equal(t, int64(5), snapshot.Queued)
	assert.Equal(t, int64(5), snapshot.Reported)
	assert.Equal(t, int64(0), snapshot.Failed)
	assert.Equal(t, 5, eval.callCount())
}

func TestWorkerPool_ReturnsFailuresSorted(t *testing.T) {
	shortenWaitPoll(t)

	eval := flakyEval(map[string]int{
		"eval/z.eval.yaml": 1,
		"eval/a.eval.yaml": 1,
	})
	pool := newTestPool(t, 2, eval)

	pool.QueueTests([]m.Path{"eval/z.eval.yaml", "eval/m.eval.yaml", "eval/a.eval.yaml"})

	failed, err := pool.WaitForAllQueuedTests()
	require.NoError(t, err)

	require.Len(t, failed, 2)
	assert.Equal(t, m.Path("eval/a.eval.yaml"), failed[0].TestFile)
	assert.Equal(t, m.Path("eval/z.eval.yaml"), failed[1].TestFile)
}

func TestWorkerPool_RequeueingFailedTestsDrainsThem(t *testing.T) {
	shortenWaitPoll(t)

	eval := flakyEval(map[string]int{"eval/flaky.eval.yaml": 1})
	pool := newTestPool(t, 2, eval)

	pool.QueueTests([]m.Path{"eval/flaky.eval.yaml", "eval/solid.eval.yaml"})

	failed, err := pool.WaitForAllQueuedTests()
	require.NoError(t, err)
	require.Len(t, failed, 1)

	pool.QueueTests([]m.Path{failed[0].TestFile})

	failed, err = pool.WaitForAllQueuedTests()
	require.NoError(t, err)
	assert.Empty(t, failed)

	snapshot := pool.Snapshot()
	assert.Equal(t, int64(3), snapshot.Queued)
	assert.Equal(t, int64(3), snapshot.Reported)
	assert.Equal(t, int64(1), snapshot.Failed)
}

func TestWorkerPool_FatalWorkerErrorAbortsWait(t *testing.T) {
	shortenWaitPoll(t)

	spawnErr := errors.New("evaluator missing")
	eval := &fakeEval{
		runFn: func(_ string, _ []string) (string, int, error) {
			return "", 0, spawnErr
		},
	}
	pool := newTestPool(t, 1, eval)

	pool.QueueTests([]m.Path{"eval/a.eval.yaml"})

	_, err := pool.WaitForAllQueuedTests()
	require.ErrorIs(t, err, spawnErr)
}

func TestWorkerPool_WaitWithNothingQueuedReturnsImmediately(t *testing.T) {
	shortenWaitPoll(t)

	pool := newTestPool(t, 1, &fakeEval{})

	failed, err := pool.WaitForAllQueuedTests()
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestWorkerPool_ShutdownIsIdempotent(t *testing.T) {
	pool := newTestPool(t, 2, &fakeEval{})

	pool.ShutdownBlocking(time.Second)
	pool.ShutdownBlocking(time.Second)
}

func TestWorkerPool_ShutdownWithDefaultTimeout(t *testing.T) {
	pool := newTestPool(t, 1, &fakeEval{})

	// Non-positive timeouts fall back to the default.
	pool.ShutdownBlocking(0)
}
