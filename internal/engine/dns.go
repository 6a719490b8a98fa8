package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/siteguard/siteguard-core/internal/models"
)

type dnsProbeConfig struct {
	Host        string   `json:"host"`
	ExpectedIPs []string `json:"expected_ips"`
}

// DNSStrategy resolves a hostname. Resolution failure is CRITICAL; a
// successful resolution missing an expected address is WARNING.
type DNSStrategy struct {
	timeout  time.Duration
	resolver *net.Resolver
}

func NewDNSStrategy(timeout time.Duration) *DNSStrategy {
	return &DNSStrategy{timeout: timeout, resolver: net.DefaultResolver}
}

func (s *DNSStrategy) Run(ctx context.Context, check *models.Check, site *models.Site) (*models.ExecutionOutcome, error) {
	var cfg dnsProbeConfig
	if len(check.Config) > 0 {
		if err := json.Unmarshal(check.Config, &cfg); err != nil {
			return nil, fmt.Errorf("invalid dns probe config: %w", err)
		}
	}
	if cfg.Host == "" {
		cfg.Host = hostFromURL(site.URL)
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("dns probe for check %s has no hostname", check.ID)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	addrs, err := s.resolver.LookupHost(ctx, cfg.Host)
	if err != nil {
		return &models.ExecutionOutcome{
			Status:  models.StatusCritical,
			Score:   0,
			Message: fmt.Sprintf("dns resolution failed for %s: %v", cfg.Host, err),
		}, nil
	}

	details, _ := json.Marshal(map[string]interface{}{
		"host":      cfg.Host,
		"addresses": addrs,
	})

	resolved := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		resolved[a] = true
	}
	for _, want := range cfg.ExpectedIPs {
		if !resolved[want] {
			return &models.ExecutionOutcome{
				Status:  models.StatusWarning,
				Score:   50,
				Message: fmt.Sprintf("expected address %s not in resolution set", want),
				Details: details,
			}, nil
		}
	}

	return &models.ExecutionOutcome{
		Status:  models.StatusPassed,
		Score:   100,
		Details: details,
	}, nil
}

func hostFromURL(raw string) string {
	if raw == "" {
		return ""
	}
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		return u.Hostname()
	}
	return raw
}
