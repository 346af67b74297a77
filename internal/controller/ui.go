// Package controller provides output adapters for displaying evaluation
// progress and results.
package controller

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	m "prompteval.dev/pkg/prompteval/internal/model"
)

// Progress is a point-in-time view of a run, polled by live displays.
type Progress struct {
	Queued   int64
	Reported int64
	Failed   int64
	Round    int
}

// StartOption is a functional option for the Start method.
type StartOption func(*StartConfig)

// StartConfig holds configuration for starting the UI.
type StartConfig struct {
	snapshot func() Progress
}

// WithProgress supplies the snapshot function a live display polls.
func WithProgress(snapshot func() Progress) StartOption {
	return func(c *StartConfig) {
		c.snapshot = snapshot
	}
}

// UI displays run progress and summaries. Implementations can use
// different output methods (simple text, TUI, etc).
type UI interface {
	Start(ctx context.Context, options ...StartOption) error
	Close(ctx context.Context)
	DisplayRoundStart(ctx context.Context, round, testCount int)
	DisplayRoundSummary(ctx context.Context, round int, failed []m.TestResult)
	DisplayFinalSummary(ctx context.Context, totalTests int, failed []m.TestResult, retries int)
	DisplayTestcases(ctx context.Context, testcases []m.Testcase) error
}

// NewUI selects a UI implementation: a live TUI on a terminal, plain
// text everywhere else.
func NewUI(cmd *cobra.Command, tty bool) UI {
	if tty {
		return NewTUI(cmd)
	}

	return NewSimpleUI(cmd)
}

// IsTTY reports whether f is attached to a terminal.
func IsTTY(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
