// Package adapter contains infrastructure adapters for the prompteval CLI:
// isolated workdirs, evaluator installations, testcase discovery and the
// external result sink.
package adapter

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	m "prompteval.dev/pkg/prompteval/internal/model"
)

// ErrWorkdirExists is returned when acquiring a workdir whose directory is
// already present and force was not requested.
var ErrWorkdirExists = errors.New("workdir already exists")

// Workspace is a private, disposable copy of the source tree held by one
// worker for the duration of a single test execution.
type Workspace interface {
	// Path is the root of the copy.
	Path() m.Path

	// Release destroys the copy per the manager's clean-up policy. Cleanup
	// failures are logged, never escalated: a stale workdir is evidence for
	// debugging, not data corruption.
	Release()
}

// WorkspaceManager creates isolated workdirs next to the source root.
type WorkspaceManager interface {
	// Acquire creates a workdir named name. When a directory of that name
	// already exists it fails with ErrWorkdirExists unless force is set, in
	// which case the stale directory is destroyed first.
	Acquire(name string, force bool) (Workspace, error)
}

// LocalWorkdirManager implements WorkspaceManager on the local filesystem.
// On btrfs it snapshots the source root; everywhere else it falls back to
// a recursive copy that skips version-control metadata so concurrent
// workers never share mutable files.
type LocalWorkdirManager struct {
	sourceRoot m.Path
	clean      bool
	verbose    bool

	// Injectable for tests.
	isBtrfs    func(path string) bool
	runCommand func(verbose bool, name string, args ...string) error
	exitCode   func(name string, args ...string) int
	removeAll  func(path string) error
}

// NewLocalWorkdirManager constructs a manager rooted at sourceRoot. When
// clean is false released workdirs are kept on disk for debugging.
func NewLocalWorkdirManager(sourceRoot m.Path, clean, verbose bool) *LocalWorkdirManager {
	return &LocalWorkdirManager{
		sourceRoot: sourceRoot,
		clean:      clean,
		verbose:    verbose,
		isBtrfs:    checkBtrfs,
		runCommand: runCommand,
		exitCode:   commandExitCode,
		removeAll:  os.RemoveAll,
	}
}

// Acquire creates the workdir as a sibling of the source root.
func (mgr *LocalWorkdirManager) Acquire(name string, force bool) (Workspace, error) {
	path := filepath.Join(filepath.Dir(string(mgr.sourceRoot)), name)

	if _, err := os.Stat(path); err == nil {
		if !force {
			return nil, fmt.Errorf("%w: %s", ErrWorkdirExists, path)
		}

		slog.Warn("Removing stale workdir", "path", path)
		mgr.destroy(path)
	}

	if mgr.isBtrfs(string(mgr.sourceRoot)) {
		err := mgr.runCommand(mgr.verbose, "btrfs", "subvol", "snapshot", string(mgr.sourceRoot), path)
		if err != nil {
			return nil, fmt.Errorf("snapshot source tree: %w", err)
		}
	} else {
		if err := copyTree(string(mgr.sourceRoot), path); err != nil {
			mgr.destroy(path)
			return nil, fmt.Errorf("copy source tree: %w", err)
		}
	}

	return &localWorkspace{mgr: mgr, path: m.Path(path)}, nil
}

// destroy removes a workdir, preferring the btrfs fast path and falling
// back to a recursive delete when that exits non-zero.
func (mgr *LocalWorkdirManager) destroy(path string) {
	if mgr.isBtrfs(string(mgr.sourceRoot)) {
		if mgr.exitCode("sudo", "btrfs", "subvolume", "delete", path) == 0 {
			return
		}

		slog.Warn("btrfs subvolume delete failed, falling back to recursive delete", "path", path)
	}

	if err := mgr.removeAll(path); err != nil {
		slog.Warn("Failed to remove workdir", "path", path, "error", err)
	}
}

type localWorkspace struct {
	mgr  *LocalWorkdirManager
	path m.Path
}

func (w *localWorkspace) Path() m.Path {
	return w.path
}

func (w *localWorkspace) Release() {
	if !w.mgr.clean {
		slog.Info("Keeping workdir for inspection", "path", w.path)
		return
	}

	w.mgr.destroy(string(w.path))
}

// checkBtrfs reports whether the filesystem backing path is btrfs.
func checkBtrfs(path string) bool {
	out, err := exec.Command("stat", "-f", "-c", "%T", path).Output()
	if err != nil {
		return false
	}

	return strings.TrimSpace(string(out)) == "btrfs"
}

// runCommand runs a command, discarding output unless verbose is set.
func runCommand(verbose bool, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if verbose {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stdout
	}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}

	return nil
}

// commandExitCode runs a command and returns its exit code, with a
// non-zero code standing in for any spawn failure.
func commandExitCode(name string, args ...string) int {
	cmd := exec.Command(name, args...)
	if err := cmd.Run(); err != nil {
		if cmd.ProcessState != nil {
			return cmd.ProcessState.ExitCode()
		}

		return 1
	}

	return 0
}

// copyTree recursively copies the tree at src to dst. Version-control
// metadata and dependency caches are skipped so the copy holds no state
// shared with the original checkout.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}

		if info.IsDir() {
			baseName := filepath.Base(path)
			if baseName == ".git" || baseName == "node_modules" {
				return filepath.SkipDir
			}
		}

		targetPath := filepath.Join(dst, relPath)

		if info.IsDir() {
			return os.MkdirAll(targetPath, info.Mode())
		}

		// Symlinks are re-created rather than followed so a link out of the
		// tree cannot drag unrelated directories into the copy.
		if info.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}

			return os.Symlink(target, targetPath)
		}

		return copyFile(path, targetPath, info.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}

	defer func() { _ = sourceFile.Close() }()

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}

	defer func() { _ = destFile.Close() }()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return err
	}

	return os.Chmod(dst, mode)
}
