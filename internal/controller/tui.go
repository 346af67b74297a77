package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	m "prompteval.dev/pkg/prompteval/internal/model"
)

// progressRefreshInterval is how often the live progress line re-reads
// the pool counters.
const progressRefreshInterval = 200 * time.Millisecond

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	faintStyle  = lipgloss.NewStyle().Faint(true)
	headerStyle = lipgloss.NewStyle().Bold(true)
)

// TUI implements UI with a live Bubble Tea progress line. Summaries are
// printed above the progress line so they survive the program exiting.
type TUI struct {
	cmd      *cobra.Command
	program  *tea.Program
	finished chan struct{}
}

// NewTUI creates a new TUI.
func NewTUI(cmd *cobra.Command) *TUI {
	return &TUI{cmd: cmd}
}

// Start launches the live progress display when a progress snapshot was
// supplied; without one the TUI behaves like the plain UI.
func (t *TUI) Start(ctx context.Context, options ...StartOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var cfg StartConfig
	for _, option := range options {
		option(&cfg)
	}

	if cfg.snapshot == nil {
		return nil
	}

	model := newProgressModel(cfg.snapshot)
	t.program = tea.NewProgram(model, tea.WithOutput(t.cmd.OutOrStdout()))
	t.finished = make(chan struct{})

	go func() {
		defer close(t.finished)

		if _, err := t.program.Run(); err != nil {
			fmt.Fprintf(t.cmd.ErrOrStderr(), "progress display error: %v\n", err)
		}
	}()

	return nil
}

// Close stops the live display and waits for it to exit.
func (t *TUI) Close(_ context.Context) {
	if t.program == nil {
		return
	}

	t.program.Quit()
	<-t.finished
	t.program = nil
}

// DisplayRoundStart announces a round above the progress line.
func (t *TUI) DisplayRoundStart(ctx context.Context, round, testCount int) {
	if err := ctx.Err(); err != nil {
		return
	}

	if round == 0 {
		t.println(headerStyle.Render(fmt.Sprintf("Running %d test(s)", testCount)))
		return
	}

	t.println(headerStyle.Render(
		fmt.Sprintf("Re-running %d failed test(s) (retry round %d)", testCount, round)))
}

// DisplayRoundSummary prints one round's failures above the progress line.
func (t *TUI) DisplayRoundSummary(ctx context.Context, round int, failed []m.TestResult) {
	if err := ctx.Err(); err != nil {
		return
	}

	if len(failed) == 0 {
		t.println(passStyle.Render(fmt.Sprintf("Round %d: all tests passed", round)))
		return
	}

	t.println(failStyle.Render(fmt.Sprintf("Round %d: %d test(s) failed", round, len(failed))))

	for _, result := range failed {
		t.println(faintStyle.Render("  " + string(result.TestFile)))
	}
}

// DisplayFinalSummary prints the overall verdict.
func (t *TUI) DisplayFinalSummary(ctx context.Context, totalTests int, failed []m.TestResult, retries int) {
	if err := ctx.Err(); err != nil {
		return
	}

	if len(failed) == 0 {
		t.println(passStyle.Render(fmt.Sprintf("Successfully ran %d test(s)", totalTests)))
		return
	}

	t.println(failStyle.Render(fmt.Sprintf(
		"%d test(s) ran successfully and %d failed after %d additional tries",
		totalTests-len(failed), len(failed), retries)))
	t.println(renderFailureTable(failed))
}

// DisplayTestcases prints the discovered testcases.
func (t *TUI) DisplayTestcases(ctx context.Context, testcases []m.Testcase) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.println(renderTestcaseTable(testcases))

	return nil
}

// println writes above the live progress line when it is running,
// directly to the command output otherwise.
func (t *TUI) println(line string) {
	if t.program != nil {
		t.program.Println(line)
		return
	}

	_, _ = fmt.Fprintln(t.cmd.OutOrStdout(), line)
}

type progressTickMsg struct{}

// progressModel renders a one-line spinner with the pool counters.
type progressModel struct {
	spinner  spinner.Model
	snapshot func() Progress
	current  Progress
	quitting bool
}

func newProgressModel(snapshot func() Progress) progressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return progressModel{
		spinner:  s,
		snapshot: snapshot,
		current:  snapshot(),
	}
}

func (pm progressModel) Init() tea.Cmd {
	return tea.Batch(pm.spinner.Tick, progressTick())
}

func progressTick() tea.Cmd {
	return tea.Tick(progressRefreshInterval, func(time.Time) tea.Msg {
		return progressTickMsg{}
	})
}

func (pm progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case progressTickMsg:
		pm.current = pm.snapshot()
		return pm, progressTick()

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			pm.quitting = true
			return pm, tea.Quit
		}

		return pm, nil

	case tea.QuitMsg:
		pm.quitting = true
		return pm, nil

	default:
		var cmd tea.Cmd
		pm.spinner, cmd = pm.spinner.Update(msg)

		return pm, cmd
	}
}

func (pm progressModel) View() string {
	if pm.quitting {
		return ""
	}

	p := pm.current

	counters := fmt.Sprintf("%d/%d reported", p.Reported, p.Queued)
	if p.Failed > 0 {
		counters += failStyle.Render(fmt.Sprintf(", %d failed", p.Failed))
	}

	return fmt.Sprintf("%s round %d: %s\n", pm.spinner.View(), p.Round, counters)
}
