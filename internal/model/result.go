package model

import "time"

// Metrics is the nested score/usage structure extracted from the
// evaluator's result document. Values are either numbers or nested maps.
type Metrics map[string]any

// TestResult is the outcome of one test execution. A worker produces
// exactly one TestResult per dequeued test file, even when the evaluator
// itself fails: a non-zero exit is a valid (failed) result, not an error.
type TestResult struct {
	TestFile Path
	Success  bool
	Duration time.Duration
	TestLog  string
	Metrics  Metrics
}

// Less orders results by test file for deterministic display.
func (r TestResult) Less(other TestResult) bool {
	return r.TestFile < other.TestFile
}
