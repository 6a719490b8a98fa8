// Package engine executes check jobs: a bounded worker pool drains the
// queue, dispatches each job to its typed probe strategy and records the
// outcome. Strategy failures become ERROR results, never worker crashes.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/siteguard/siteguard-core/internal/models"
	"github.com/siteguard/siteguard-core/pkg/logger"
)

// Strategy executes one probe for a check against its site. A returned
// error means the strategy itself could not run; the dispatcher converts
// it into an ERROR outcome. Degraded targets are reported through the
// outcome status, not through the error.
type Strategy interface {
	Run(ctx context.Context, check *models.Check, site *models.Site) (*models.ExecutionOutcome, error)
}

// StrategyFunc adapts a plain function to the Strategy interface.
type StrategyFunc func(ctx context.Context, check *models.Check, site *models.Site) (*models.ExecutionOutcome, error)

func (f StrategyFunc) Run(ctx context.Context, check *models.Check, site *models.Site) (*models.ExecutionOutcome, error) {
	return f(ctx, check, site)
}

// Dispatcher routes a check to the strategy registered for its type and
// shields the caller from strategy errors and panics.
type Dispatcher struct {
	mu         sync.RWMutex
	strategies map[models.CheckType]Strategy
	log        logger.Logger
}

func NewDispatcher(log logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewNop()
	}
	return &Dispatcher{
		strategies: make(map[models.CheckType]Strategy),
		log:        log,
	}
}

// NewDefaultDispatcher returns a dispatcher with every server-executed
// probe strategy registered. probeTimeout bounds each outbound probe.
func NewDefaultDispatcher(probeTimeout time.Duration, log logger.Logger) *Dispatcher {
	d := NewDispatcher(log)
	d.Register(models.CheckTypeHTTP, NewHTTPStrategy(probeTimeout))
	d.Register(models.CheckTypeDNS, NewDNSStrategy(probeTimeout))
	d.Register(models.CheckTypeTLS, NewTLSStrategy(probeTimeout))
	d.Register(models.CheckTypePageSpeed, NewPageSpeedStrategy(probeTimeout))
	return d
}

func (d *Dispatcher) Register(t models.CheckType, s Strategy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.strategies[t] = s
}

// Dispatch runs the check's strategy and always returns a usable outcome.
// Unknown types, strategy errors and panics all degrade to ERROR.
func (d *Dispatcher) Dispatch(ctx context.Context, check *models.Check, site *models.Site) (outcome *models.ExecutionOutcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("probe strategy panicked",
				"check_id", check.ID,
				"check_type", check.Type,
				"panic", r)
			outcome = &models.ExecutionOutcome{
				Status:  models.StatusError,
				Message: fmt.Sprintf("probe strategy panicked: %v", r),
			}
		}
		outcome.DurationMs = time.Since(start).Milliseconds()
	}()

	d.mu.RLock()
	strategy, ok := d.strategies[check.Type]
	d.mu.RUnlock()
	if !ok {
		return &models.ExecutionOutcome{
			Status:  models.StatusError,
			Message: fmt.Sprintf("no strategy registered for check type %q", check.Type),
		}
	}

	out, err := strategy.Run(ctx, check, site)
	if err != nil {
		d.log.Warn("probe strategy failed",
			"check_id", check.ID,
			"check_type", check.Type,
			"error", err)
		return &models.ExecutionOutcome{
			Status:  models.StatusError,
			Message: err.Error(),
		}
	}
	return out
}
