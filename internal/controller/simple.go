package controller

import (
	"bytes"
	"context"
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	m "prompteval.dev/pkg/prompteval/internal/model"
)

// SimpleUI implements UI with plain text on the cobra command's output.
type SimpleUI struct {
	cmd *cobra.Command
}

// NewSimpleUI creates a new SimpleUI.
func NewSimpleUI(cmd *cobra.Command) *SimpleUI {
	return &SimpleUI{cmd: cmd}
}

// Start initializes the UI.
func (s *SimpleUI) Start(ctx context.Context, _ ...StartOption) error {
	return ctx.Err()
}

// Close finalizes the UI (no-op for SimpleUI).
func (s *SimpleUI) Close(ctx context.Context) {
	if err := ctx.Err(); err != nil {
		return
	}
}

// DisplayRoundStart announces a round. Round 0 is the initial full run,
// later rounds re-run previous failures.
func (s *SimpleUI) DisplayRoundStart(ctx context.Context, round, testCount int) {
	if err := ctx.Err(); err != nil {
		return
	}

	if round == 0 {
		s.printf("Running %d test(s)\n", testCount)
		return
	}

	s.printf("Re-running %d failed test(s) (retry round %d)\n", testCount, round)
}

// DisplayRoundSummary prints the failures of one finished round.
func (s *SimpleUI) DisplayRoundSummary(ctx context.Context, round int, failed []m.TestResult) {
	if err := ctx.Err(); err != nil {
		return
	}

	if len(failed) == 0 {
		s.printf("Round %d: all tests passed\n", round)
		return
	}

	s.printf("Round %d: %d test(s) failed\n", round, len(failed))

	for _, result := range failed {
		s.printf("  %s\n", result.TestFile)
	}
}

// DisplayFinalSummary prints the overall verdict after all rounds.
func (s *SimpleUI) DisplayFinalSummary(ctx context.Context, totalTests int, failed []m.TestResult, retries int) {
	if err := ctx.Err(); err != nil {
		return
	}

	if len(failed) == 0 {
		s.printf("Successfully ran %d test(s)\n", totalTests)
		return
	}

	s.printf("%d test(s) ran successfully and %d failed after %d additional tries\n",
		totalTests-len(failed), len(failed), retries)
	s.printf("\n%s", renderFailureTable(failed))
}

// DisplayTestcases prints the discovered testcases with their run
// settings.
func (s *SimpleUI) DisplayTestcases(ctx context.Context, testcases []m.Testcase) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.printf("\n%s", renderTestcaseTable(testcases))

	return nil
}

func renderFailureTable(failed []m.TestResult) string {
	var tableBuffer bytes.Buffer

	table := tablewriter.NewWriter(&tableBuffer)
	table.SetHeader([]string{"Failed Test", "Duration"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_CENTER})

	for _, result := range failed {
		table.Append([]string{
			string(result.TestFile),
			fmt.Sprintf("%.1fs", result.Duration.Seconds()),
		})
	}

	table.SetFooter([]string{"Total Failed", fmt.Sprintf("%d", len(failed))})
	table.Render()

	return tableBuffer.String()
}

func renderTestcaseTable(testcases []m.Testcase) string {
	var tableBuffer bytes.Buffer

	table := tablewriter.NewWriter(&tableBuffer)
	table.SetHeader([]string{"Testcase", "Runs", "Pass Threshold"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT, tablewriter.ALIGN_CENTER, tablewriter.ALIGN_CENTER,
	})

	for _, testcase := range testcases {
		table.Append([]string{
			string(testcase.File),
			fmt.Sprintf("%d", testcase.Run.RunsPerTest),
			fmt.Sprintf("%d", testcase.Run.PassThreshold),
		})
	}

	table.SetFooter([]string{fmt.Sprintf("Total %d", len(testcases)), "", ""})
	table.Render()

	return tableBuffer.String()
}

func (s *SimpleUI) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.cmd.OutOrStdout(), format, args...)
}
