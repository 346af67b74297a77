package adapter

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	m "prompteval.dev/pkg/prompteval/internal/model"
)

// evalToolPackage is the npm package providing the evaluation binary.
const evalToolPackage = "promptfoo"

// Installation is one way of obtaining and invoking the external
// evaluation tool. The harness only depends on this narrow contract: run a
// command, get combined output plus an exit code.
type Installation interface {
	// Setup makes the installation usable. It is a no-op when the variant
	// needs no preparation.
	Setup() error

	// IsInstalled reports whether the evaluation binary is ready to run.
	IsInstalled() bool

	// Run invokes the evaluation binary with args in workDir, capturing
	// combined stdout and stderr. A non-zero exit code is not an error; err
	// is only set when the process could not be started. A cancelled or
	// expired ctx kills the process and surfaces exit code -1.
	Run(ctx context.Context, workDir string, args []string) (output string, exitCode int, err error)

	// Cleanup removes whatever Setup created.
	Cleanup() error
}

// InstallConfig selects an Installation variant. Bin wins over
// SourceRevision, which wins over NpmVersion; with none set the latest npm
// release is installed.
type InstallConfig struct {
	// Bin points at a preinstalled evaluation binary.
	Bin m.Path

	// NpmVersion installs the given release through npm.
	NpmVersion string

	// SourceRevision builds the tool from the given source revision.
	SourceRevision string

	// SourceRepo is the repository SourceRevision is fetched from.
	SourceRepo string

	// Dir is where npm and source installations are materialized.
	Dir m.Path
}

// NewInstallation selects an Installation variant from config.
func NewInstallation(cfg InstallConfig) Installation {
	switch {
	case cfg.Bin != "":
		return &PreinstalledInstallation{bin: cfg.Bin}
	case cfg.SourceRevision != "":
		return &SourceInstallation{dir: cfg.Dir, repo: cfg.SourceRepo, revision: cfg.SourceRevision}
	default:
		version := cfg.NpmVersion
		if version == "" {
			version = "latest"
		}

		return &NpmInstallation{dir: cfg.Dir, version: version}
	}
}

// PreinstalledInstallation wraps an evaluation binary that already exists
// on disk; Setup and Cleanup are no-ops.
type PreinstalledInstallation struct {
	bin m.Path
}

// NewPreinstalledInstallation wraps the binary at bin.
func NewPreinstalledInstallation(bin m.Path) *PreinstalledInstallation {
	return &PreinstalledInstallation{bin: bin}
}

func (p *PreinstalledInstallation) Setup() error {
	if !p.IsInstalled() {
		return fmt.Errorf("evaluation binary not found at %s", p.bin)
	}

	return nil
}

func (p *PreinstalledInstallation) IsInstalled() bool {
	info, err := os.Stat(string(p.bin))

	return err == nil && !info.IsDir()
}

func (p *PreinstalledInstallation) Run(ctx context.Context, workDir string, args []string) (string, int, error) {
	return runEvalCommand(ctx, string(p.bin), workDir, args)
}

func (p *PreinstalledInstallation) Cleanup() error {
	return nil
}

// NpmInstallation installs the evaluation tool from npm into a private
// directory.
type NpmInstallation struct {
	dir     m.Path
	version string
}

func (n *NpmInstallation) binPath() string {
	return filepath.Join(string(n.dir), "node_modules", ".bin", evalToolPackage)
}

func (n *NpmInstallation) Setup() error {
	if err := os.MkdirAll(string(n.dir), 0o750); err != nil {
		return fmt.Errorf("create install dir: %w", err)
	}

	slog.Info("Installing evaluation tool from npm", "version", n.version, "dir", n.dir)

	cmd := exec.Command("npm", "install", "--prefix", string(n.dir),
		fmt.Sprintf("%s@%s", evalToolPackage, n.version))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("npm install: %w\n%s", err, out)
	}

	return nil
}

func (n *NpmInstallation) IsInstalled() bool {
	info, err := os.Stat(n.binPath())

	return err == nil && !info.IsDir()
}

func (n *NpmInstallation) Run(ctx context.Context, workDir string, args []string) (string, int, error) {
	return runEvalCommand(ctx, n.binPath(), workDir, args)
}

func (n *NpmInstallation) Cleanup() error {
	return os.RemoveAll(string(n.dir))
}

// SourceInstallation clones the evaluation tool's repository at a revision
// and builds it with npm.
type SourceInstallation struct {
	dir      m.Path
	repo     string
	revision string
}

func (s *SourceInstallation) binPath() string {
	return filepath.Join(string(s.dir), "dist", "src", "main.js")
}

func (s *SourceInstallation) Setup() error {
	if _, err := os.Stat(string(s.dir)); os.IsNotExist(err) {
		slog.Info("Cloning evaluation tool", "repo", s.repo, "dir", s.dir)

		cmd := exec.Command("git", "clone", s.repo, string(s.dir))
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("git clone: %w\n%s", err, out)
		}
	}

	for _, step := range [][]string{
		{"git", "checkout", s.revision},
		{"npm", "install"},
		{"npm", "run", "build"},
	} {
		cmd := exec.Command(step[0], step[1:]...)
		cmd.Dir = string(s.dir)

		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("%s: %w\n%s", step[0], err, out)
		}
	}

	return nil
}

func (s *SourceInstallation) IsInstalled() bool {
	info, err := os.Stat(s.binPath())

	return err == nil && !info.IsDir()
}

func (s *SourceInstallation) Run(ctx context.Context, workDir string, args []string) (string, int, error) {
	return runEvalCommand(ctx, "node", workDir, append([]string{s.binPath()}, args...))
}

func (s *SourceInstallation) Cleanup() error {
	return os.RemoveAll(string(s.dir))
}

// runEvalCommand executes the evaluation binary, returning its combined
// output and exit code. The exit code carries pass/fail; err is reserved
// for spawn failures that make a result impossible.
func runEvalCommand(ctx context.Context, bin, workDir string, args []string) (string, int, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = workDir

	var combined bytes.Buffer

	cmd.Stdout = &combined
	cmd.Stderr = &combined

	err := cmd.Run()
	if err != nil && cmd.ProcessState == nil {
		return "", 0, fmt.Errorf("run %s: %w", bin, err)
	}

	return combined.String(), cmd.ProcessState.ExitCode(), nil
}
