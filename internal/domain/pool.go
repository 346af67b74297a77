package domain

import (
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"prompteval.dev/pkg/prompteval/internal/adapter"
	m "prompteval.dev/pkg/prompteval/internal/model"
	"prompteval.dev/pkg/prompteval/pkg"
)

// waitPollInterval is how often WaitForAllQueuedTests recomputes the
// queued-vs-reported comparison. A variable so tests can shorten it.
var waitPollInterval = 100 * time.Millisecond

// DefaultShutdownTimeout bounds how long ShutdownBlocking waits for each
// goroutine when the caller does not say otherwise.
const DefaultShutdownTimeout = 2 * time.Second

// Pool is the coordinator contract the retry loop drives.
type Pool interface {
	QueueTests(files []m.Path)
	WaitForAllQueuedTests() ([]m.TestResult, error)
	ShutdownBlocking(timeout time.Duration)
}

// PoolConfig wires a WorkerPool's collaborators.
type PoolConfig struct {
	NumWorkers           int
	Eval                 adapter.Installation
	Workspaces           adapter.WorkspaceManager
	Sink                 adapter.ResultSink
	Options              WorkerOptions
	PrintOutputOnSuccess bool

	// Out receives echoed test logs.
	Out io.Writer
}

// PoolSnapshot is a point-in-time view of the pool's progress counters.
type PoolSnapshot struct {
	Queued   int64
	Reported int64
	Failed   int64
}

// WorkerPool owns N workers plus one collector and exposes the
// enqueue/wait/shutdown contract. Workers and the collector start
// immediately and idle on their queues until tests arrive.
type WorkerPool struct {
	input     *pkg.PollQueue[m.Path]
	results   *pkg.PollQueue[m.TestResult]
	workers   []*Worker
	collector *Collector
	queued    *AtomicCounter

	shutdownMu   sync.Mutex
	shutdownDone bool
}

// NewWorkerPool constructs and starts a pool.
func NewWorkerPool(cfg PoolConfig) *WorkerPool {
	input := pkg.NewPollQueue[m.Path]()
	results := pkg.NewPollQueue[m.TestResult]()

	collector := NewCollector(results, cfg.Sink, cfg.PrintOutputOnSuccess, cfg.Out)
	collector.Start()

	workers := make([]*Worker, 0, cfg.NumWorkers)

	for i := 0; i < cfg.NumWorkers; i++ {
		worker := NewWorker(i, cfg.Eval, cfg.Workspaces, cfg.Options, input, results)
		worker.Start()
		workers = append(workers, worker)
	}

	return &WorkerPool{
		input:     input,
		results:   results,
		workers:   workers,
		collector: collector,
		queued:    &AtomicCounter{},
	}
}

// QueueTests appends test files to the shared input queue. Consumption
// order across workers is not guaranteed; only the aggregate completion
// count matters.
func (p *WorkerPool) QueueTests(files []m.Path) {
	p.input.PushBatch(files)
	p.queued.Add(int64(len(files)))
}

// WaitForAllQueuedTests blocks until every queued test has been reported,
// then drains and returns the failures accumulated since the previous
// call, sorted by test file. A fatal error in any worker or the collector
// aborts the wait instead of hanging it.
func (p *WorkerPool) WaitForAllQueuedTests() ([]m.TestResult, error) {
	for {
		if err := p.checkFatal(); err != nil {
			return nil, err
		}

		if p.collector.ReportedCount() >= p.queued.Get() {
			break
		}

		time.Sleep(waitPollInterval)
	}

	failed := p.collector.DrainFailures()

	sort.Slice(failed, func(i, j int) bool { return failed[i].Less(failed[j]) })

	return failed, nil
}

// ShutdownBlocking signals every worker and the collector to stop and
// joins each with the given timeout. A goroutine still alive afterwards
// is logged as an operational error, not treated as data loss. Idempotent
// and safe to call repeatedly.
func (p *WorkerPool) ShutdownBlocking(timeout time.Duration) {
	p.shutdownMu.Lock()
	defer p.shutdownMu.Unlock()

	if p.shutdownDone {
		return
	}

	p.shutdownDone = true

	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	for _, worker := range p.workers {
		worker.Shutdown()
	}

	p.collector.Shutdown()

	deadline := time.Now().Add(timeout)

	for i, worker := range p.workers {
		if !worker.Join(time.Until(deadline)) {
			slog.Error("Failed to gracefully shut down thread", "worker", i)
		}
	}

	if !p.collector.Join(time.Until(deadline)) {
		slog.Error("Failed to gracefully shut down thread", "thread", "collector")
	}
}

// Snapshot returns the pool's progress counters.
func (p *WorkerPool) Snapshot() PoolSnapshot {
	return PoolSnapshot{
		Queued:   p.queued.Get(),
		Reported: p.collector.ReportedCount(),
		Failed:   p.collector.FailedCount(),
	}
}

func (p *WorkerPool) checkFatal() error {
	for _, worker := range p.workers {
		if err := worker.Err(); err != nil {
			return err
		}
	}

	return p.collector.Err()
}
