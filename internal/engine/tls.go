package engine

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/siteguard/siteguard-core/internal/models"
)

type tlsProbeConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	WarnDays int    `json:"warn_days"`
}

const defaultCertWarnDays = 14

// TLSStrategy performs a handshake against host:port and grades the leaf
// certificate lifetime. Handshake failure or an expired certificate is
// CRITICAL; a certificate inside the warning window is WARNING.
type TLSStrategy struct {
	timeout time.Duration
	now     func() time.Time
}

func NewTLSStrategy(timeout time.Duration) *TLSStrategy {
	return &TLSStrategy{timeout: timeout, now: time.Now}
}

func (s *TLSStrategy) Run(ctx context.Context, check *models.Check, site *models.Site) (*models.ExecutionOutcome, error) {
	var cfg tlsProbeConfig
	if len(check.Config) > 0 {
		if err := json.Unmarshal(check.Config, &cfg); err != nil {
			return nil, fmt.Errorf("invalid tls probe config: %w", err)
		}
	}
	if cfg.Host == "" {
		cfg.Host = hostFromURL(site.URL)
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("tls probe for check %s has no hostname", check.ID)
	}
	if cfg.Port == 0 {
		cfg.Port = 443
	}
	if cfg.WarnDays == 0 {
		cfg.WarnDays = defaultCertWarnDays
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	dialer := &tls.Dialer{NetDialer: &net.Dialer{}}
	conn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
	if err != nil {
		return &models.ExecutionOutcome{
			Status:  models.StatusCritical,
			Score:   0,
			Message: fmt.Sprintf("tls handshake failed for %s: %v", cfg.Host, err),
		}, nil
	}
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return &models.ExecutionOutcome{
			Status:  models.StatusCritical,
			Score:   0,
			Message: "server presented no certificate",
		}, nil
	}

	leaf := state.PeerCertificates[0]
	now := s.now()
	daysLeft := int(leaf.NotAfter.Sub(now).Hours() / 24)
	details, _ := json.Marshal(map[string]interface{}{
		"subject":   leaf.Subject.CommonName,
		"not_after": leaf.NotAfter.UTC().Format(time.RFC3339),
		"days_left": daysLeft,
	})

	switch {
	case now.After(leaf.NotAfter):
		return &models.ExecutionOutcome{
			Status:  models.StatusCritical,
			Score:   0,
			Message: fmt.Sprintf("certificate expired on %s", leaf.NotAfter.UTC().Format(time.RFC3339)),
			Details: details,
		}, nil
	case daysLeft < cfg.WarnDays:
		return &models.ExecutionOutcome{
			Status:  models.StatusWarning,
			Score:   60,
			Message: fmt.Sprintf("certificate expires in %d days", daysLeft),
			Details: details,
		}, nil
	}

	return &models.ExecutionOutcome{
		Status:  models.StatusPassed,
		Score:   100,
		Details: details,
	}, nil
}
