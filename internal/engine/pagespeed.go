package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/siteguard/siteguard-core/internal/models"
)

type pageSpeedProbeConfig struct {
	URL      string `json:"url"`
	BudgetMs int64  `json:"budget_ms"`
}

const defaultPageSpeedBudgetMs = 2000

// PageSpeedStrategy downloads the full page body and grades the total
// transfer time against a latency budget. Over budget is WARNING, over
// twice the budget is CRITICAL.
type PageSpeedStrategy struct {
	client *http.Client
}

func NewPageSpeedStrategy(timeout time.Duration) *PageSpeedStrategy {
	return &PageSpeedStrategy{
		client: &http.Client{Timeout: timeout},
	}
}

func (s *PageSpeedStrategy) Run(ctx context.Context, check *models.Check, site *models.Site) (*models.ExecutionOutcome, error) {
	var cfg pageSpeedProbeConfig
	if len(check.Config) > 0 {
		if err := json.Unmarshal(check.Config, &cfg); err != nil {
			return nil, fmt.Errorf("invalid page speed probe config: %w", err)
		}
	}
	if cfg.URL == "" {
		cfg.URL = site.URL
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("page speed probe for check %s has no target url", check.ID)
	}
	if cfg.BudgetMs <= 0 {
		cfg.BudgetMs = defaultPageSpeedBudgetMs
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return &models.ExecutionOutcome{
			Status:  models.StatusCritical,
			Score:   0,
			Message: fmt.Sprintf("request failed: %v", err),
		}, nil
	}
	defer resp.Body.Close()

	bytes, err := io.Copy(io.Discard, resp.Body)
	elapsed := time.Since(start)
	if err != nil {
		return &models.ExecutionOutcome{
			Status:  models.StatusCritical,
			Score:   0,
			Message: fmt.Sprintf("body transfer failed: %v", err),
		}, nil
	}

	details, _ := json.Marshal(map[string]interface{}{
		"status_code": resp.StatusCode,
		"total_ms":    elapsed.Milliseconds(),
		"bytes":       bytes,
		"budget_ms":   cfg.BudgetMs,
	})

	switch {
	case elapsed.Milliseconds() > 2*cfg.BudgetMs:
		return &models.ExecutionOutcome{
			Status:  models.StatusCritical,
			Score:   20,
			Message: fmt.Sprintf("page load %dms exceeds twice the %dms budget", elapsed.Milliseconds(), cfg.BudgetMs),
			Details: details,
		}, nil
	case elapsed.Milliseconds() > cfg.BudgetMs:
		return &models.ExecutionOutcome{
			Status:  models.StatusWarning,
			Score:   70,
			Message: fmt.Sprintf("page load %dms exceeds the %dms budget", elapsed.Milliseconds(), cfg.BudgetMs),
			Details: details,
		}, nil
	}

	return &models.ExecutionOutcome{
		Status:  models.StatusPassed,
		Score:   100,
		Details: details,
	}, nil
}
