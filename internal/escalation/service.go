// Package escalation tracks unacknowledged critical failures through a
// site's contact ladder: an issue opens at the lowest configured level
// and climbs on timeout until someone acknowledges it or the ladder is
// exhausted.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/siteguard/siteguard-core/internal/models"
	"github.com/siteguard/siteguard-core/internal/monitoring"
	"github.com/siteguard/siteguard-core/internal/storage"
	"github.com/siteguard/siteguard-core/pkg/logger"
)

// ErrInvalidTransition marks a state change the ladder does not permit.
var ErrInvalidTransition = errors.New("escalation: invalid status transition")

// ContactNotifier delivers the access link for one ladder level to its
// contact. Delivery mechanics are pluggable; failures are best-effort.
type ContactNotifier interface {
	NotifyContact(ctx context.Context, issue *models.EscalationIssue, level *models.IssueLevel, accessURL string) error
}

// logNotifier is the fallback used when no delivery mechanism is wired.
type logNotifier struct {
	log logger.Logger
}

func (n *logNotifier) NotifyContact(_ context.Context, issue *models.EscalationIssue, level *models.IssueLevel, accessURL string) error {
	n.log.Info("escalation contact notified",
		"issue_id", issue.ID,
		"level", level.Level,
		"email", level.Email,
		"url", accessURL)
	return nil
}

// Service is the escalation ladder state machine.
type Service struct {
	store        storage.Store
	signer       *TokenSigner
	notifier     ContactNotifier
	levelTimeout time.Duration
	baseURL      string
	log          logger.Logger
	now          func() time.Time
}

func NewService(store storage.Store, signer *TokenSigner, notifier ContactNotifier, levelTimeout time.Duration, baseURL string, log logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	if notifier == nil {
		notifier = &logNotifier{log: log}
	}
	return &Service{
		store:        store,
		signer:       signer,
		notifier:     notifier,
		levelTimeout: levelTimeout,
		baseURL:      baseURL,
		log:          log,
		now:          time.Now,
	}
}

// OpenForSite attempts to open an issue for the site. Preconditions that
// fail silently: site deleted, no configured ticket contacts, an active
// issue already exists (including losing the race to a concurrent open).
func (s *Service) OpenForSite(ctx context.Context, orgID, siteID, reason string) error {
	site, err := s.store.GetSite(ctx, orgID, siteID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load site %s: %w", siteID, err)
	}
	if !site.HasTicketContact() {
		return nil
	}
	if _, err := s.store.GetOpenIssueForSite(ctx, siteID); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("check active issue for site %s: %w", siteID, err)
	}

	now := s.now().UTC()
	issue := &models.EscalationIssue{
		ID:             uuid.NewString(),
		SiteID:         siteID,
		OrganizationID: orgID,
		Status:         models.IssueOpen,
		LevelStartedAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if reason != "" {
		issue.Reports = []models.IssueReport{{
			Note:      reason,
			CreatedAt: now,
		}}
	}
	for i, contact := range site.Contacts {
		if !contact.Configured() {
			continue
		}
		issue.Levels = append(issue.Levels, models.IssueLevel{
			Level:       i + 1,
			ContactName: contact.Name,
			Email:       contact.Email,
			AccessToken: uuid.NewString(),
		})
	}
	issue.CurrentLevel = issue.Levels[0].Level

	if err := s.store.InsertIssue(ctx, issue); err != nil {
		if errors.Is(err, storage.ErrIssueExists) {
			// Concurrent open won; the site is already covered.
			return nil
		}
		return fmt.Errorf("open issue for site %s: %w", siteID, err)
	}

	monitoring.RecordEscalationTransition("opened")
	s.log.Info("escalation issue opened",
		"issue_id", issue.ID,
		"site_id", siteID,
		"level", issue.CurrentLevel)
	s.notifyLevel(ctx, issue, issue.CurrentLevel)
	return nil
}

// notifyLevel stamps the level as notified and delivers its signed access
// link. Notification failures never roll back the issue.
func (s *Service) notifyLevel(ctx context.Context, issue *models.EscalationIssue, level int) {
	lvl := issue.LevelFor(level)
	if lvl == nil {
		return
	}
	now := s.now().UTC()
	lvl.NotifiedAt = &now
	if err := s.store.UpdateIssue(ctx, issue); err != nil {
		s.log.Warn("failed to stamp level notification", "issue_id", issue.ID, "error", err)
	}

	url := s.accessURL(lvl)
	if err := s.notifier.NotifyContact(ctx, issue, lvl, url); err != nil {
		s.log.Warn("failed to notify escalation contact",
			"issue_id", issue.ID,
			"level", level,
			"error", err)
	}
}

func (s *Service) accessURL(lvl *models.IssueLevel) string {
	sig, err := s.signer.SignLevel(lvl.AccessToken, lvl.Level)
	if err != nil {
		s.log.Error("failed to sign level claim", "level", lvl.Level, "error", err)
		return ""
	}
	return fmt.Sprintf("%s/public/issues/%s?level=%d&sig=%s", s.baseURL, lvl.AccessToken, lvl.Level, sig)
}

// GetByToken loads the issue addressed by a per-level access token.
func (s *Service) GetByToken(ctx context.Context, token string) (*models.EscalationIssue, error) {
	return s.store.GetIssueByToken(ctx, token)
}

// authorize resolves the token to its issue and level and verifies the
// signed level claim.
func (s *Service) authorize(ctx context.Context, token, signature string) (*models.EscalationIssue, int, error) {
	issue, err := s.store.GetIssueByToken(ctx, token)
	if err != nil {
		return nil, 0, err
	}
	level := 0
	for _, lvl := range issue.Levels {
		if lvl.AccessToken == token {
			level = lvl.Level
			break
		}
	}
	if level == 0 {
		return nil, 0, storage.ErrNotFound
	}
	if err := s.signer.VerifyLevel(signature, token, level); err != nil {
		return nil, 0, err
	}
	return issue, level, nil
}

// Acknowledge moves an OPEN issue to ACKNOWLEDGED, stopping the timeout
// ladder.
func (s *Service) Acknowledge(ctx context.Context, token, signature string) (*models.EscalationIssue, error) {
	issue, _, err := s.authorize(ctx, token, signature)
	if err != nil {
		return nil, err
	}
	if issue.Status != models.IssueOpen {
		return nil, fmt.Errorf("%w: %s cannot be acknowledged", ErrInvalidTransition, issue.Status)
	}
	issue.Status = models.IssueAcknowledged
	issue.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateIssue(ctx, issue); err != nil {
		return nil, fmt.Errorf("acknowledge issue %s: %w", issue.ID, err)
	}
	monitoring.RecordEscalationTransition("acknowledged")
	return issue, nil
}

// Progress moves an OPEN or ACKNOWLEDGED issue to IN_PROGRESS.
func (s *Service) Progress(ctx context.Context, token, signature string) (*models.EscalationIssue, error) {
	issue, _, err := s.authorize(ctx, token, signature)
	if err != nil {
		return nil, err
	}
	if issue.Status != models.IssueOpen && issue.Status != models.IssueAcknowledged {
		return nil, fmt.Errorf("%w: %s cannot move to in-progress", ErrInvalidTransition, issue.Status)
	}
	issue.Status = models.IssueInProgress
	issue.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateIssue(ctx, issue); err != nil {
		return nil, fmt.Errorf("progress issue %s: %w", issue.ID, err)
	}
	monitoring.RecordEscalationTransition("in_progress")
	return issue, nil
}

// Resolve closes any non-terminal issue.
func (s *Service) Resolve(ctx context.Context, token, signature string) (*models.EscalationIssue, error) {
	issue, _, err := s.authorize(ctx, token, signature)
	if err != nil {
		return nil, err
	}
	if issue.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, issue.Status)
	}
	now := s.now().UTC()
	issue.Status = models.IssueResolved
	issue.ResolvedAt = &now
	issue.UpdatedAt = now
	if err := s.store.UpdateIssue(ctx, issue); err != nil {
		return nil, fmt.Errorf("resolve issue %s: %w", issue.ID, err)
	}
	monitoring.RecordEscalationTransition("resolved")
	return issue, nil
}

// AppendReport adds one timeline entry to a non-terminal issue.
func (s *Service) AppendReport(ctx context.Context, token, signature, author, note string) (*models.EscalationIssue, error) {
	issue, level, err := s.authorize(ctx, token, signature)
	if err != nil {
		return nil, err
	}
	if issue.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s accepts no further reports", ErrInvalidTransition, issue.Status)
	}
	now := s.now().UTC()
	issue.Reports = append(issue.Reports, models.IssueReport{
		Level:     level,
		Author:    author,
		Note:      note,
		CreatedAt: now,
	})
	issue.UpdatedAt = now
	if err := s.store.UpdateIssue(ctx, issue); err != nil {
		return nil, fmt.Errorf("append report to issue %s: %w", issue.ID, err)
	}
	return issue, nil
}

// nextLevel returns the lowest configured level above the current one, or
// 0 when the ladder is exhausted.
func nextLevel(issue *models.EscalationIssue) int {
	for l := issue.CurrentLevel + 1; l <= models.MaxEscalationLevel; l++ {
		if issue.LevelFor(l) != nil {
			return l
		}
	}
	return 0
}

// Sweep advances every OPEN issue whose current level has been waiting
// past the timeout: promote to the next configured level and restart the
// timer, or mark EXHAUSTED at the top of the ladder. Acknowledged and
// in-progress issues are in human hands and never time out.
func (s *Service) Sweep(ctx context.Context) (promoted, exhausted int, err error) {
	issues, err := s.store.ListNonTerminalIssues(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list active issues: %w", err)
	}

	now := s.now().UTC()
	for _, issue := range issues {
		if issue.Status != models.IssueOpen {
			continue
		}
		if now.Before(issue.LevelStartedAt.Add(s.levelTimeout)) {
			continue
		}

		if next := nextLevel(issue); next != 0 {
			issue.CurrentLevel = next
			issue.LevelStartedAt = now
			issue.UpdatedAt = now
			if err := s.store.UpdateIssue(ctx, issue); err != nil {
				s.log.Error("failed to promote issue", "issue_id", issue.ID, "error", err)
				continue
			}
			monitoring.RecordEscalationTransition("promoted")
			s.log.Info("escalation promoted", "issue_id", issue.ID, "level", next)
			s.notifyLevel(ctx, issue, next)
			promoted++
			continue
		}

		issue.Status = models.IssueExhausted
		issue.UpdatedAt = now
		if err := s.store.UpdateIssue(ctx, issue); err != nil {
			s.log.Error("failed to exhaust issue", "issue_id", issue.ID, "error", err)
			continue
		}
		monitoring.RecordEscalationTransition("exhausted")
		s.log.Warn("escalation ladder exhausted", "issue_id", issue.ID, "site_id", issue.SiteID)
		exhausted++
	}
	return promoted, exhausted, nil
}
