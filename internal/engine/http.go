package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/siteguard/siteguard-core/internal/models"
)

const maxProbeBodyBytes = 256 << 10

type httpProbeConfig struct {
	URL            string            `json:"url"`
	Method         string            `json:"method"`
	ExpectedStatus int               `json:"expected_status"`
	Headers        map[string]string `json:"headers"`
	BodyContains   string            `json:"body_contains"`
	SlowMs         int64             `json:"slow_ms"`
}

// HTTPStrategy probes a URL and classifies the response: connection
// failures and unexpected statuses are CRITICAL, a slow but correct
// response is WARNING.
type HTTPStrategy struct {
	client *http.Client
}

func NewHTTPStrategy(timeout time.Duration) *HTTPStrategy {
	return &HTTPStrategy{
		client: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPStrategy) Run(ctx context.Context, check *models.Check, site *models.Site) (*models.ExecutionOutcome, error) {
	var cfg httpProbeConfig
	if len(check.Config) > 0 {
		if err := json.Unmarshal(check.Config, &cfg); err != nil {
			return nil, fmt.Errorf("invalid http probe config: %w", err)
		}
	}
	if cfg.URL == "" {
		cfg.URL = site.URL
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("http probe for check %s has no target url", check.ID)
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, cfg.Method, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return &models.ExecutionOutcome{
			Status:  models.StatusCritical,
			Score:   0,
			Message: fmt.Sprintf("request failed: %v", err),
		}, nil
	}
	defer resp.Body.Close()

	details, _ := json.Marshal(map[string]interface{}{
		"status_code": resp.StatusCode,
		"latency_ms":  latency.Milliseconds(),
	})

	if !statusAcceptable(resp.StatusCode, cfg.ExpectedStatus) {
		return &models.ExecutionOutcome{
			Status:  models.StatusCritical,
			Score:   0,
			Message: fmt.Sprintf("unexpected status code %d", resp.StatusCode),
			Details: details,
		}, nil
	}

	if cfg.BodyContains != "" {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBodyBytes))
		if err != nil {
			return &models.ExecutionOutcome{
				Status:  models.StatusCritical,
				Score:   0,
				Message: fmt.Sprintf("read body: %v", err),
				Details: details,
			}, nil
		}
		if !strings.Contains(string(body), cfg.BodyContains) {
			return &models.ExecutionOutcome{
				Status:  models.StatusCritical,
				Score:   0,
				Message: fmt.Sprintf("response body does not contain %q", cfg.BodyContains),
				Details: details,
			}, nil
		}
	}

	if cfg.SlowMs > 0 && latency.Milliseconds() > cfg.SlowMs {
		return &models.ExecutionOutcome{
			Status:  models.StatusWarning,
			Score:   70,
			Message: fmt.Sprintf("response slow: %dms over %dms budget", latency.Milliseconds(), cfg.SlowMs),
			Details: details,
		}, nil
	}

	return &models.ExecutionOutcome{
		Status:  models.StatusPassed,
		Score:   100,
		Details: details,
	}, nil
}

// statusAcceptable treats any 2xx/3xx as healthy unless the check pins an
// exact status code.
func statusAcceptable(got, expected int) bool {
	if expected > 0 {
		return got == expected
	}
	return got >= 200 && got < 400
}
