// Package storage defines the durable store contracts used by the
// scheduling, execution, alerting and escalation pipeline. Lookups are
// organization-scoped: the engine never trusts a bare check/site id pair.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/siteguard/siteguard-core/internal/models"
)

var (
	// ErrNotFound marks a missing row. Mid-flight deletions surface as
	// ErrNotFound and are treated as benign completion by callers.
	ErrNotFound = errors.New("storage: not found")

	// ErrForeignKey marks a write whose owning Check or Site was deleted
	// concurrently. Callers treat it like ErrNotFound, never as retryable.
	ErrForeignKey = errors.New("storage: referenced row gone")

	// ErrIssueExists marks an attempt to open a second non-terminal
	// escalation issue for the same site.
	ErrIssueExists = errors.New("storage: non-terminal issue already exists for site")
)

type CheckStore interface {
	GetCheck(ctx context.Context, orgID, checkID string) (*models.Check, error)
	ListRecurringChecks(ctx context.Context) ([]*models.Check, error)
	ListChecksForSite(ctx context.Context, orgID, siteID string) ([]*models.Check, error)
	ListChecksForAgent(ctx context.Context, orgID, agentID string) ([]*models.Check, error)
}

type SiteStore interface {
	GetSite(ctx context.Context, orgID, siteID string) (*models.Site, error)
	UpdateSiteHealthScore(ctx context.Context, siteID string, score float64) error
}

type ResultStore interface {
	InsertResult(ctx context.Context, result *models.CheckResult) error
	GetResult(ctx context.Context, resultID string) (*models.CheckResult, error)
	// LatestResultsForSite returns the newest result per enabled check of
	// the site, used for health score recomputation.
	LatestResultsForSite(ctx context.Context, siteID string) ([]*models.CheckResult, error)
	LastResultForCheck(ctx context.Context, checkID string) (*models.CheckResult, error)
}

type AlertStore interface {
	InsertAlert(ctx context.Context, alert *models.Alert) error
}

type ChannelStore interface {
	ListEnabledChannels(ctx context.Context, orgID string) ([]*models.NotificationChannel, error)
}

type IssueStore interface {
	// InsertIssue persists a new issue, failing with ErrIssueExists when
	// the site already has a non-terminal issue.
	InsertIssue(ctx context.Context, issue *models.EscalationIssue) error
	UpdateIssue(ctx context.Context, issue *models.EscalationIssue) error
	GetIssue(ctx context.Context, issueID string) (*models.EscalationIssue, error)
	GetIssueByToken(ctx context.Context, token string) (*models.EscalationIssue, error)
	GetOpenIssueForSite(ctx context.Context, siteID string) (*models.EscalationIssue, error)
	ListNonTerminalIssues(ctx context.Context) ([]*models.EscalationIssue, error)
}

type OrganizationStore interface {
	GetOrganization(ctx context.Context, orgID string) (*models.Organization, error)
	ListExpiredPlans(ctx context.Context, asOf time.Time) ([]*models.Organization, error)
	DowngradePlan(ctx context.Context, orgID string) error
}

type AgentStore interface {
	GetAgentByKey(ctx context.Context, apiKey string) (*models.Agent, error)
	TouchAgent(ctx context.Context, agentID string, metadata []byte, seenAt time.Time) error
}

// Store aggregates every durable-store contract the pipeline needs.
type Store interface {
	CheckStore
	SiteStore
	ResultStore
	AlertStore
	ChannelStore
	IssueStore
	OrganizationStore
	AgentStore
}
