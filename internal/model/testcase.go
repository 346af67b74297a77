// Package model defines the data structures for prompt evaluation runs.
package model

// Path represents a file system path.
type Path string

// TestcaseExtension is the suffix identifying evaluation testcase files.
const TestcaseExtension = ".eval.yaml"

// RunConfig holds the per-testcase run settings read from the testcase
// file's first test entry. A testcase that does not specify them runs once
// and passes on its single attempt.
type RunConfig struct {
	RunsPerTest   int
	PassThreshold int
}

// DefaultRunConfig returns the settings used when a testcase carries no
// run metadata.
func DefaultRunConfig() RunConfig {
	return RunConfig{RunsPerTest: 1, PassThreshold: 1}
}

// Testcase pairs a discovered testcase file with its run settings.
type Testcase struct {
	File Path
	Run  RunConfig
}
