package adapter

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	m "prompteval.dev/pkg/prompteval/internal/model"
)

// discoveryThreads bounds the number of directory walks running at once
// when several roots are scanned.
const discoveryThreads = 4

// TestcaseFSAdapter abstracts testcase discovery and per-testcase config
// reading so the workflow can be tested without touching the disk.
type TestcaseFSAdapter interface {
	// Discover walks the given roots and returns every testcase file found,
	// sorted by path. No specific consumption ordering is implied.
	Discover(roots []m.Path) ([]m.Path, error)

	// ReadRunConfig reads the run settings from the testcase file's first
	// test entry. Files without run metadata get the defaults.
	ReadRunConfig(file m.Path) (m.RunConfig, error)
}

// LocalTestcaseFSAdapter implements TestcaseFSAdapter against the local
// filesystem.
type LocalTestcaseFSAdapter struct{}

// NewLocalTestcaseFSAdapter constructs a LocalTestcaseFSAdapter.
func NewLocalTestcaseFSAdapter() *LocalTestcaseFSAdapter {
	return &LocalTestcaseFSAdapter{}
}

// Discover walks each root in parallel collecting *.eval.yaml files.
func (a *LocalTestcaseFSAdapter) Discover(roots []m.Path) ([]m.Path, error) {
	var (
		mu    sync.Mutex
		files []m.Path
	)

	var group errgroup.Group
	group.SetLimit(discoveryThreads)

	for _, root := range roots {
		currentRoot := string(root)

		group.Go(func() error {
			return filepath.Walk(currentRoot, func(path string, info os.FileInfo, err error) error {
				if err != nil {
					return err
				}

				if info.IsDir() || !strings.HasSuffix(path, m.TestcaseExtension) {
					return nil
				}

				mu.Lock()
				files = append(files, m.Path(path))
				mu.Unlock()

				return nil
			})
		})
	}

	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("discover testcases: %w", err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i] < files[j] })

	return files, nil
}

type testcaseDoc struct {
	Tests []struct {
		Metadata map[string]any `yaml:"metadata"`
	} `yaml:"tests"`
}

// ReadRunConfig parses the testcase YAML and extracts runs_per_test and
// pass_k_threshold from the first test's metadata. Settings on any other
// test entry are ignored with a warning.
func (a *LocalTestcaseFSAdapter) ReadRunConfig(file m.Path) (m.RunConfig, error) {
	cfg := m.DefaultRunConfig()

	data, err := os.ReadFile(string(file))
	if err != nil {
		return cfg, fmt.Errorf("read testcase %s: %w", file, err)
	}

	var doc testcaseDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return cfg, fmt.Errorf("parse testcase %s: %w", file, err)
	}

	if len(doc.Tests) == 0 {
		return cfg, nil
	}

	if len(doc.Tests) > 1 {
		slog.Warn("Run settings are only read from the first test in a testcase file",
			"file", file, "tests", len(doc.Tests))
	}

	metadata := doc.Tests[0].Metadata

	if raw, ok := metadata["runs_per_test"]; ok {
		runs, ok := raw.(int)
		if !ok {
			return cfg, fmt.Errorf("runs_per_test in %s must be an integer", file)
		}

		cfg.RunsPerTest = runs
	}

	if raw, ok := metadata["pass_k_threshold"]; ok {
		threshold, ok := raw.(int)
		if !ok {
			return cfg, fmt.Errorf("pass_k_threshold in %s must be an integer", file)
		}

		cfg.PassThreshold = threshold
	}

	return cfg, nil
}

// FilterTestcases keeps the files matching any glob in the ::-separated
// filter. Globs are applied to paths relative to base so filtering ignores
// path components outside the checkout; a '*' crosses directory
// separators. An empty filter keeps everything.
func FilterTestcases(files []m.Path, filter string, base m.Path) []m.Path {
	if filter == "" {
		return files
	}

	var patterns []*regexp.Regexp

	for _, glob := range strings.Split(filter, "::") {
		if glob == "" {
			continue
		}

		patterns = append(patterns, globToRegexp(glob))
	}

	var kept []m.Path

	for _, file := range files {
		rel, err := filepath.Rel(string(base), string(file))
		if err != nil {
			rel = string(file)
		}

		for _, pattern := range patterns {
			if pattern.MatchString(rel) {
				kept = append(kept, file)
				break
			}
		}
	}

	return kept
}

// ShardTestcases selects this shard's interleaved slice: every
// totalShards-th file starting at shardIndex of the sorted set.
func ShardTestcases(files []m.Path, shardIndex, totalShards int) []m.Path {
	if totalShards <= 1 {
		return files
	}

	var shard []m.Path

	for i := shardIndex; i < len(files); i += totalShards {
		shard = append(shard, files[i])
	}

	return shard
}

// globToRegexp compiles a shell-style glob where '*' matches any run of
// characters, including path separators, and '?' matches one character.
func globToRegexp(glob string) *regexp.Regexp {
	var b strings.Builder

	b.WriteString("^")

	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}

	b.WriteString("$")

	return regexp.MustCompile(b.String())
}
