package domain

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"prompteval.dev/pkg/prompteval/internal/adapter"
	m "prompteval.dev/pkg/prompteval/internal/model"
	"prompteval.dev/pkg/prompteval/pkg"
)

// Collector is the single consumer of the result queue. For each result
// it echoes the test log, forwards the result to the sink when one is
// configured, routes failures to the failure queue and then advances the
// reported counter. The counter moves last so "reported == queued" never
// holds while a failure is still in flight.
type Collector struct {
	results  *pkg.PollQueue[m.TestResult]
	failures *pkg.PollQueue[m.TestResult]
	reported *AtomicCounter
	failed   *AtomicCounter
	sink     adapter.ResultSink

	printOutputOnSuccess bool
	out                  io.Writer

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	mu    sync.Mutex
	fatal error
}

// NewCollector constructs a collector. Start must be called to begin
// draining; a nil sink disables reporting.
func NewCollector(
	results *pkg.PollQueue[m.TestResult],
	sink adapter.ResultSink,
	printOutputOnSuccess bool,
	out io.Writer,
) *Collector {
	if out == nil {
		out = os.Stdout
	}

	return &Collector{
		results:              results,
		failures:             pkg.NewPollQueue[m.TestResult](),
		reported:             &AtomicCounter{},
		failed:               &AtomicCounter{},
		sink:                 sink,
		printOutputOnSuccess: printOutputOnSuccess,
		out:                  out,
		shutdown:             make(chan struct{}),
		done:                 make(chan struct{}),
	}
}

// Start launches the collector goroutine.
func (c *Collector) Start() {
	go c.run()
}

// Shutdown signals the collector to stop. Safe to call more than once.
func (c *Collector) Shutdown() {
	c.shutdownOnce.Do(func() { close(c.shutdown) })
}

// Join waits for the collector goroutine to exit, reporting false on
// timeout.
func (c *Collector) Join(timeout time.Duration) bool {
	select {
	case <-c.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Err returns the fatal error that terminated the collector, if any.
func (c *Collector) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.fatal
}

// ReportedCount is the monotonic count of results fully processed.
func (c *Collector) ReportedCount() int64 {
	return c.reported.Get()
}

// FailedCount is the monotonic count of failed results seen.
func (c *Collector) FailedCount() int64 {
	return c.failed.Get()
}

// DrainFailures destructively reads the failures accumulated since the
// last drain.
func (c *Collector) DrainFailures() []m.TestResult {
	return c.failures.Drain()
}

func (c *Collector) run() {
	defer close(c.done)

	for {
		result, ok := c.results.Pop(c.shutdown)
		if !ok {
			return
		}

		if err := c.handleResult(result); err != nil {
			c.mu.Lock()
			c.fatal = err
			c.mu.Unlock()

			slog.Error("Result collector terminated by fatal error", "error", err)

			return
		}
	}
}

func (c *Collector) handleResult(result m.TestResult) error {
	if result.Success {
		slog.Info("Test passed", "test", result.TestFile, "duration", result.Duration)
	} else {
		slog.Warn("Test failed", "test", result.TestFile, "duration", result.Duration)
	}

	// The captured log is surfaced whenever a test fails; on success only
	// when the operator asked for it.
	if !result.Success || c.printOutputOnSuccess {
		if err := c.echoLog(result); err != nil {
			return err
		}
	}

	if c.sink != nil {
		if err := c.sink.Post(context.Background(), result); err != nil {
			slog.Warn("Failed to report result to sink", "test", result.TestFile, "error", err)
		}
	}

	if !result.Success {
		c.failures.Push(result)
		c.failed.Increment()
	}

	c.reported.Increment()

	return nil
}

func (c *Collector) echoLog(result m.TestResult) error {
	status := "FAILED"
	if result.Success {
		status = "PASSED"
	}

	_, err := fmt.Fprintf(c.out, "===== %s: %s (%.1fs) =====\n%s\n",
		status, result.TestFile, result.Duration.Seconds(), result.TestLog)
	if err != nil {
		return fmt.Errorf("echo test log for %s: %w", result.TestFile, err)
	}

	return nil
}
