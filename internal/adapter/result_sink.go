package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	m "prompteval.dev/pkg/prompteval/internal/model"
)

// Environment variables announcing a local result sink. When the address
// is unset no sink is configured, which is a normal condition: reporting
// is best-effort and never affects local pass/fail determination.
const (
	sinkAddressEnvVar = "PROMPTEVAL_RESULT_SINK"
	sinkTokenEnvVar   = "PROMPTEVAL_RESULT_SINK_TOKEN"
)

// ResultSink receives finished test results.
type ResultSink interface {
	Post(ctx context.Context, result m.TestResult) error
}

// HTTPResultSink posts results to a local sink server.
type HTTPResultSink struct {
	address string
	token   string
	client  *http.Client
}

// NewResultSinkFromEnv builds a sink from the environment, or nil when no
// sink is announced.
func NewResultSinkFromEnv() ResultSink {
	address := os.Getenv(sinkAddressEnvVar)
	if address == "" {
		return nil
	}

	return &HTTPResultSink{
		address: address,
		token:   os.Getenv(sinkTokenEnvVar),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type sinkRequest struct {
	TestID     string `json:"test_id"`
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	Log        string `json:"log"`
}

// Post reports one result to the sink server.
func (s *HTTPResultSink) Post(ctx context.Context, result m.TestResult) error {
	status := "FAIL"
	if result.Success {
		status = "PASS"
	}

	body, err := json.Marshal(sinkRequest{
		TestID:     string(result.TestFile),
		Status:     status,
		DurationMS: result.Duration.Milliseconds(),
		Log:        result.TestLog,
	})
	if err != nil {
		return fmt.Errorf("encode sink request: %w", err)
	}

	url := fmt.Sprintf("http://%s/results", s.address)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sink request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "ResultSink "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post result: %w", err)
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sink returned status %d", resp.StatusCode)
	}

	return nil
}
