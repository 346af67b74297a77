package adapter

import (
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	m "prompteval.dev/pkg/prompteval/internal/model"
)

// CheckoutAdapter inspects the source checkout before a run and warns
// about state that can leak into workdirs.
type CheckoutAdapter interface {
	WarnDirtyCheckout(root m.Path)
}

// LocalCheckoutAdapter implements CheckoutAdapter with git.
type LocalCheckoutAdapter struct {
	gitStatus func(dir string) (string, error)
}

// NewLocalCheckoutAdapter constructs a LocalCheckoutAdapter.
func NewLocalCheckoutAdapter() *LocalCheckoutAdapter {
	return &LocalCheckoutAdapter{gitStatus: gitStatusPorcelain}
}

// WarnDirtyCheckout logs when the checkout has uncommitted changes or
// unexpected build output directories. Both get copied into every workdir
// and can make tests unexpectedly pass or fail, so they are surfaced
// before the run rather than discovered mid-flight.
func (a *LocalCheckoutAdapter) WarnDirtyCheckout(root m.Path) {
	outDir := filepath.Join(string(root), "out")

	if entries, err := os.ReadDir(outDir); err == nil {
		var unexpected []string

		for _, entry := range entries {
			if entry.IsDir() && entry.Name() != "Default" {
				unexpected = append(unexpected, entry.Name())
			}
		}

		if len(unexpected) > 0 {
			slog.Warn("The out directory contains unexpected subdirectories; "+
				"these get copied into workdirs and can affect tests",
				"dirs", strings.Join(unexpected, ", "))
		}
	}

	status, err := a.gitStatus(string(root))
	if err != nil {
		slog.Warn("Failed to check for uncommitted changes", "root", root, "error", err)
		return
	}

	if status != "" {
		slog.Warn("There are uncommitted changes in the repository. This can " +
			"cause some tests to unexpectedly fail or pass. Commit or stash " +
			"them before running the evaluation.")
	}
}

func gitStatusPorcelain(dir string) (string, error) {
	cmd := exec.Command("git", "status", "--porcelain")
	cmd.Dir = dir

	out, err := cmd.Output()
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(out)), nil
}
