package domain

import (
	"encoding/json"
	"log/slog"
	"os"
	"unicode/utf8"

	m "prompteval.dev/pkg/prompteval/internal/model"
)

// tokenUsageKey is the metric name the evaluator attaches to a result
// entry's response metrics when the agent under test reports token usage.
const tokenUsageKey = "agent_token_usage"

// ExtractMetrics pulls the score and token usage out of the evaluator's
// JSON result document at path. Any problem (missing file, malformed JSON,
// invalid UTF-8, unexpected shape) degrades to an empty metrics map with a
// diagnostic; it never fails the test that produced the document.
func ExtractMetrics(path m.Path) m.Metrics {
	doc := loadResultsDoc(path)
	if len(doc) == 0 {
		return m.Metrics{}
	}

	metrics := m.Metrics{
		"token_usage": extractTokenUsage(doc),
	}

	if score, ok := extractScore(doc); ok {
		metrics["score"] = score
	}

	return metrics
}

// loadResultsDoc reads and parses the result document, returning an empty
// map on any error.
func loadResultsDoc(path m.Path) map[string]any {
	data, err := os.ReadFile(string(path))
	if err != nil {
		slog.Error("Error when parsing evaluator results", "path", path, "error", err)
		return map[string]any{}
	}

	if !utf8.Valid(data) {
		slog.Error("Error when parsing evaluator results", "path", path, "error", "invalid UTF-8")
		return map[string]any{}
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		slog.Error("Error when parsing evaluator results", "path", path, "error", err)
		return map[string]any{}
	}

	return doc
}

// firstResultEntry returns the first element of the document's
// results.results array. More than one entry is unexpected; the extras are
// ignored with a warning.
func firstResultEntry(doc map[string]any) (map[string]any, bool) {
	results, ok := doc["results"].(map[string]any)
	if !ok {
		return nil, false
	}

	entries, ok := results["results"].([]any)
	if !ok || len(entries) == 0 {
		return nil, false
	}

	if len(entries) > 1 {
		slog.Warn("Unexpectedly got multiple evaluator results, using the first", "count", len(entries))
	}

	entry, ok := entries[0].(map[string]any)

	return entry, ok
}

func extractTokenUsage(doc map[string]any) map[string]any {
	entry, ok := firstResultEntry(doc)
	if !ok {
		slog.Error("Did not find evaluator result information")
		return map[string]any{}
	}

	response, ok := entry["response"].(map[string]any)
	if !ok {
		slog.Warn("Did not find agent token usage in evaluator results")
		return map[string]any{}
	}

	responseMetrics, ok := response["metrics"].(map[string]any)
	if !ok {
		slog.Warn("Did not find agent token usage in evaluator results")
		return map[string]any{}
	}

	usage, ok := responseMetrics[tokenUsageKey].(map[string]any)
	if !ok || len(usage) == 0 {
		slog.Warn("Did not find agent token usage in evaluator results")
		return map[string]any{}
	}

	return usage
}

func extractScore(doc map[string]any) (float64, bool) {
	entry, ok := firstResultEntry(doc)
	if !ok {
		slog.Error("Did not find evaluator result information")
		return 0, false
	}

	score, ok := entry["score"].(float64)
	if !ok {
		slog.Warn("Did not find reported score in evaluator results")
		return 0, false
	}

	return score, true
}
