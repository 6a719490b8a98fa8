// Package sweeper runs the singleton periodic jobs: each registered
// sweep has exactly one cron slot and a fixed concurrency of one, with
// overlapping ticks skipped rather than queued.
package sweeper

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/siteguard/siteguard-core/internal/monitoring"
	"github.com/siteguard/siteguard-core/pkg/logger"
)

// Sweep is one periodic maintenance pass.
type Sweep func(ctx context.Context) error

const sweepTimeout = 5 * time.Minute

var sweepParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

type entry struct {
	id  cron.EntryID
	run func()
}

// Manager owns the shared cron driving every registered sweep.
// Re-registering a name replaces its previous slot, so restarts and
// reconfiguration cannot stack duplicate sweepers.
type Manager struct {
	cron *cron.Cron
	log  logger.Logger

	mu      sync.Mutex
	entries map[string]entry
}

func NewManager(log logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{
		cron:    cron.New(cron.WithParser(sweepParser)),
		log:     log,
		entries: make(map[string]entry),
	}
}

// Register installs (or replaces) the named sweep on the given schedule.
func (m *Manager) Register(name, spec string, sweep Sweep) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.entries[name]; ok {
		m.cron.Remove(old.id)
		delete(m.entries, name)
	}

	var running int32
	run := func() {
		if !atomic.CompareAndSwapInt32(&running, 0, 1) {
			m.log.Warn("sweep still running, skipping tick", "sweeper", name)
			monitoring.RecordSweepRun(name, "skipped")
			return
		}
		defer atomic.StoreInt32(&running, 0)

		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()

		start := time.Now()
		if err := sweep(ctx); err != nil {
			m.log.Error("sweep failed", "sweeper", name, "error", err)
			monitoring.RecordSweepRun(name, "error")
			return
		}
		m.log.Debug("sweep completed", "sweeper", name, "duration", time.Since(start))
		monitoring.RecordSweepRun(name, "success")
	}

	id, err := m.cron.AddFunc(spec, run)
	if err != nil {
		return fmt.Errorf("register sweeper %s: %w", name, err)
	}
	m.entries[name] = entry{id: id, run: run}
	m.log.Info("sweeper registered", "sweeper", name, "schedule", spec)
	return nil
}

// Trigger runs the named sweep immediately, outside its schedule. The
// single-flight guard still applies.
func (m *Manager) Trigger(name string) error {
	m.mu.Lock()
	e, ok := m.entries[name]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no sweeper registered as %q", name)
	}
	e.run()
	return nil
}

// Names enumerates the registered sweepers for diagnostics.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for name := range m.entries {
		out = append(out, name)
	}
	return out
}

func (m *Manager) Start() {
	m.cron.Start()
	m.log.Info("sweeper manager started", "sweepers", len(m.entries))
}

func (m *Manager) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
	m.log.Info("sweeper manager stopped")
}
