// Package agent serves remote pollers: agents authenticate with an API
// key, pull the checks due on their side, and submit results through the
// same recording path the server-side workers use.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/siteguard/siteguard-core/internal/engine"
	"github.com/siteguard/siteguard-core/internal/models"
	"github.com/siteguard/siteguard-core/internal/storage"
	"github.com/siteguard/siteguard-core/pkg/logger"
)

// ErrNotAssigned marks a result submission for a check that belongs to a
// different agent.
var ErrNotAssigned = errors.New("agent: check not assigned to this agent")

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

const alertHandoffTimeout = 30 * time.Second

type Service struct {
	store    storage.Store
	recorder *engine.Recorder
	alerts   engine.AlertSink
	log      logger.Logger
	now      func() time.Time
}

func NewService(store storage.Store, recorder *engine.Recorder, alerts engine.AlertSink, log logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		store:    store,
		recorder: recorder,
		alerts:   alerts,
		log:      log,
		now:      time.Now,
	}
}

// Authenticate resolves an API key to its agent.
func (s *Service) Authenticate(ctx context.Context, apiKey string) (*models.Agent, error) {
	return s.store.GetAgentByKey(ctx, apiKey)
}

// Heartbeat records that the agent is alive and stores its self-reported
// metadata.
func (s *Service) Heartbeat(ctx context.Context, agent *models.Agent, metadata []byte) error {
	if err := s.store.TouchAgent(ctx, agent.ID, metadata, s.now().UTC()); err != nil {
		return fmt.Errorf("heartbeat agent %s: %w", agent.ID, err)
	}
	return nil
}

// DueTasks returns the agent-executed checks whose next scheduled run is
// due. A check without a cron schedule is always due; a check that never
// ran is due immediately.
func (s *Service) DueTasks(ctx context.Context, agent *models.Agent) ([]*models.Check, error) {
	checks, err := s.store.ListChecksForAgent(ctx, agent.OrganizationID, agent.ID)
	if err != nil {
		return nil, fmt.Errorf("list checks for agent %s: %w", agent.ID, err)
	}

	now := s.now()
	var due []*models.Check
	for _, c := range checks {
		if !c.Enabled || !c.Type.AgentExecuted() {
			continue
		}
		if c.Schedule == "" {
			due = append(due, c)
			continue
		}

		sched, err := scheduleParser.Parse(c.Schedule)
		if err != nil {
			s.log.Warn("agent check has malformed schedule", "check_id", c.ID, "schedule", c.Schedule)
			continue
		}

		last, err := s.store.LastResultForCheck(ctx, c.ID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				due = append(due, c)
				continue
			}
			return nil, fmt.Errorf("last result for check %s: %w", c.ID, err)
		}
		if !sched.Next(last.CreatedAt).After(now) {
			due = append(due, c)
		}
	}
	return due, nil
}

// SubmitResult records one agent-executed outcome and feeds it to the
// alert gate exactly like a server-side execution.
func (s *Service) SubmitResult(ctx context.Context, agent *models.Agent, checkID string, outcome *models.ExecutionOutcome) (string, error) {
	check, err := s.store.GetCheck(ctx, agent.OrganizationID, checkID)
	if err != nil {
		return "", err
	}
	if check.AgentID != agent.ID {
		return "", ErrNotAssigned
	}
	if !check.Enabled {
		// Disabled after assignment: the submission is discarded without
		// a result row, same as the worker's skip for disabled checks.
		s.log.Debug("dropping submission for disabled check", "check_id", check.ID, "agent_id", agent.ID)
		return "", nil
	}

	job := &models.CheckJob{
		ID:             uuid.NewString(),
		CheckID:        check.ID,
		OrganizationID: agent.OrganizationID,
		SiteID:         check.SiteID,
		AgentID:        agent.ID,
		EnqueuedAt:     s.now(),
	}
	resultID, err := s.recorder.Record(ctx, job, outcome)
	if err != nil {
		return "", err
	}

	if resultID != "" && s.alerts != nil {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("alert handoff panicked", "result_id", resultID, "panic", r)
				}
			}()
			handoffCtx, cancel := context.WithTimeout(context.Background(), alertHandoffTimeout)
			defer cancel()
			s.alerts.HandleResult(handoffCtx, resultID)
		}()
	}

	if err := s.store.TouchAgent(ctx, agent.ID, nil, s.now().UTC()); err != nil {
		s.log.Warn("failed to touch agent on submit", "agent_id", agent.ID, "error", err)
	}
	return resultID, nil
}
