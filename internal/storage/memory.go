package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/siteguard/siteguard-core/internal/models"
)

// MemoryStore is a mutex-guarded in-process Store used by tests and local
// development. It mirrors the relational semantics the MySQL store enforces:
// organization scoping, foreign-key checks on result writes, and the single
// non-terminal issue per site constraint.
type MemoryStore struct {
	mu       sync.RWMutex
	checks   map[string]*models.Check
	sites    map[string]*models.Site
	orgs     map[string]*models.Organization
	results  map[string]*models.CheckResult
	alerts   []*models.Alert
	channels map[string][]*models.NotificationChannel // orgID -> channels
	issues   map[string]*models.EscalationIssue
	agents   map[string]*models.Agent
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		checks:   make(map[string]*models.Check),
		sites:    make(map[string]*models.Site),
		orgs:     make(map[string]*models.Organization),
		results:  make(map[string]*models.CheckResult),
		channels: make(map[string][]*models.NotificationChannel),
		issues:   make(map[string]*models.EscalationIssue),
		agents:   make(map[string]*models.Agent),
	}
}

/* ------------------------------ test seeding ------------------------------ */

func (m *MemoryStore) PutCheck(c *models.Check) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.checks[c.ID] = &cp
}

func (m *MemoryStore) DeleteCheck(checkID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checks, checkID)
}

func (m *MemoryStore) PutSite(s *models.Site) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sites[s.ID] = &cp
}

func (m *MemoryStore) DeleteSite(siteID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sites, siteID)
}

func (m *MemoryStore) PutOrganization(o *models.Organization) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.orgs[o.ID] = &cp
}

func (m *MemoryStore) PutChannel(ch *models.NotificationChannel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ch
	m.channels[ch.OrganizationID] = append(m.channels[ch.OrganizationID], &cp)
}

func (m *MemoryStore) PutAgent(a *models.Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.agents[a.ID] = &cp
}

// Alerts returns a copy of every recorded alert, newest last.
func (m *MemoryStore) Alerts() []*models.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// Results returns every stored result for a check, oldest first.
func (m *MemoryStore) Results(checkID string) []*models.CheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.CheckResult
	for _, r := range m.results {
		if r.CheckID == checkID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

/* -------------------------------- CheckStore ------------------------------ */

func (m *MemoryStore) GetCheck(_ context.Context, orgID, checkID string) (*models.Check, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.checks[checkID]
	if !ok || c.OrganizationID != orgID {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) ListRecurringChecks(context.Context) ([]*models.Check, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Check
	for _, c := range m.checks {
		if c.Enabled && c.Schedule != "" {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) ListChecksForSite(_ context.Context, orgID, siteID string) ([]*models.Check, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Check
	for _, c := range m.checks {
		if c.OrganizationID == orgID && c.SiteID == siteID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) ListChecksForAgent(_ context.Context, orgID, agentID string) ([]*models.Check, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Check
	for _, c := range m.checks {
		if c.Enabled && c.OrganizationID == orgID && c.AgentID == agentID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

/* -------------------------------- SiteStore ------------------------------- */

func (m *MemoryStore) GetSite(_ context.Context, orgID, siteID string) (*models.Site, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sites[siteID]
	if !ok || s.OrganizationID != orgID {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) UpdateSiteHealthScore(_ context.Context, siteID string, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sites[siteID]
	if !ok {
		return ErrNotFound
	}
	s.HealthScore = score
	return nil
}

/* ------------------------------- ResultStore ------------------------------ */

func (m *MemoryStore) InsertResult(_ context.Context, result *models.CheckResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.checks[result.CheckID]; !ok {
		return ErrForeignKey
	}
	if _, ok := m.sites[result.SiteID]; !ok {
		return ErrForeignKey
	}
	cp := *result
	m.results[result.ID] = &cp
	return nil
}

func (m *MemoryStore) GetResult(_ context.Context, resultID string) (*models.CheckResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[resultID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) LatestResultsForSite(_ context.Context, siteID string) ([]*models.CheckResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	latest := make(map[string]*models.CheckResult)
	for _, r := range m.results {
		if r.SiteID != siteID {
			continue
		}
		if c, ok := m.checks[r.CheckID]; !ok || !c.Enabled {
			continue
		}
		if cur, ok := latest[r.CheckID]; !ok || r.CreatedAt.After(cur.CreatedAt) {
			latest[r.CheckID] = r
		}
	}
	out := make([]*models.CheckResult, 0, len(latest))
	for _, r := range latest {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CheckID < out[j].CheckID })
	return out, nil
}

func (m *MemoryStore) LastResultForCheck(_ context.Context, checkID string) (*models.CheckResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last *models.CheckResult
	for _, r := range m.results {
		if r.CheckID != checkID {
			continue
		}
		if last == nil || r.CreatedAt.After(last.CreatedAt) {
			last = r
		}
	}
	if last == nil {
		return nil, ErrNotFound
	}
	cp := *last
	return &cp, nil
}

/* -------------------------------- AlertStore ------------------------------ */

func (m *MemoryStore) InsertAlert(_ context.Context, alert *models.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *alert
	m.alerts = append(m.alerts, &cp)
	return nil
}

/* ------------------------------- ChannelStore ----------------------------- */

func (m *MemoryStore) ListEnabledChannels(_ context.Context, orgID string) ([]*models.NotificationChannel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.NotificationChannel
	for _, ch := range m.channels[orgID] {
		if ch.Enabled {
			cp := *ch
			out = append(out, &cp)
		}
	}
	return out, nil
}

/* -------------------------------- IssueStore ------------------------------ */

func (m *MemoryStore) InsertIssue(_ context.Context, issue *models.EscalationIssue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.issues {
		if existing.SiteID == issue.SiteID && !existing.Status.Terminal() {
			return ErrIssueExists
		}
	}
	cp := cloneIssue(issue)
	m.issues[issue.ID] = cp
	return nil
}

func (m *MemoryStore) UpdateIssue(_ context.Context, issue *models.EscalationIssue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.issues[issue.ID]; !ok {
		return ErrNotFound
	}
	m.issues[issue.ID] = cloneIssue(issue)
	return nil
}

func (m *MemoryStore) GetIssue(_ context.Context, issueID string) (*models.EscalationIssue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.issues[issueID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneIssue(i), nil
}

func (m *MemoryStore) GetIssueByToken(_ context.Context, token string) (*models.EscalationIssue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, i := range m.issues {
		for _, lvl := range i.Levels {
			if lvl.AccessToken == token {
				return cloneIssue(i), nil
			}
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) GetOpenIssueForSite(_ context.Context, siteID string) (*models.EscalationIssue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, i := range m.issues {
		if i.SiteID == siteID && !i.Status.Terminal() {
			return cloneIssue(i), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListNonTerminalIssues(context.Context) ([]*models.EscalationIssue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.EscalationIssue
	for _, i := range m.issues {
		if !i.Status.Terminal() {
			out = append(out, cloneIssue(i))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

/* ---------------------------- OrganizationStore --------------------------- */

func (m *MemoryStore) GetOrganization(_ context.Context, orgID string) (*models.Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orgs[orgID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) ListExpiredPlans(_ context.Context, asOf time.Time) ([]*models.Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Organization
	for _, o := range m.orgs {
		if o.Plan != "free" && o.PlanExpiresAt != nil && o.PlanExpiresAt.Before(asOf) {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) DowngradePlan(_ context.Context, orgID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orgs[orgID]
	if !ok {
		return ErrNotFound
	}
	o.Plan = "free"
	o.PlanExpiresAt = nil
	return nil
}

/* -------------------------------- AgentStore ------------------------------ */

func (m *MemoryStore) GetAgentByKey(_ context.Context, apiKey string) (*models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.agents {
		if a.APIKey == apiKey {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) TouchAgent(_ context.Context, agentID string, metadata []byte, seenAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[agentID]
	if !ok {
		return ErrNotFound
	}
	a.LastSeenAt = &seenAt
	if metadata != nil {
		a.Metadata = metadata
	}
	return nil
}

func cloneIssue(i *models.EscalationIssue) *models.EscalationIssue {
	cp := *i
	cp.Levels = append([]models.IssueLevel(nil), i.Levels...)
	cp.Reports = append([]models.IssueReport(nil), i.Reports...)
	return &cp
}

var _ Store = (*MemoryStore)(nil)
