package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/siteguard/siteguard-core/internal/models"
	"github.com/siteguard/siteguard-core/internal/storage"
)

// Store implements storage.Store on a MySQL-compatible database.
type Store struct {
	db *sql.DB
}

func NewStore(c *Client) *Store {
	return &Store{db: c.DB}
}

var _ storage.Store = (*Store)(nil)

// fkErrno is the MySQL "foreign key constraint fails" error. A result write
// hitting it means the owning check or site was deleted mid-flight.
const fkErrno = 1452

func mapWriteErr(err error) error {
	if err == nil {
		return nil
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == fkErrno {
		return storage.ErrForeignKey
	}
	return err
}

/* -------------------------------- CheckStore ------------------------------ */

const checkColumns = `id, organization_id, site_id, COALESCE(agent_id, ''), type,
	COALESCE(schedule, ''), COALESCE(config, 'null'), weight, enabled, created_at, updated_at`

func scanCheck(row interface{ Scan(...any) error }) (*models.Check, error) {
	var c models.Check
	var cfg []byte
	if err := row.Scan(&c.ID, &c.OrganizationID, &c.SiteID, &c.AgentID, &c.Type,
		&c.Schedule, &cfg, &c.Weight, &c.Enabled, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	c.Config = json.RawMessage(cfg)
	return &c, nil
}

func (s *Store) GetCheck(ctx context.Context, orgID, checkID string) (*models.Check, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+checkColumns+` FROM checks WHERE id = ? AND organization_id = ?`, checkID, orgID)
	return scanCheck(row)
}

func (s *Store) ListRecurringChecks(ctx context.Context) ([]*models.Check, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+checkColumns+` FROM checks WHERE enabled = 1 AND schedule IS NOT NULL AND schedule != '' ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Check
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ListChecksForSite(ctx context.Context, orgID, siteID string) ([]*models.Check, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+checkColumns+` FROM checks WHERE organization_id = ? AND site_id = ? ORDER BY id`,
		orgID, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Check
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ListChecksForAgent(ctx context.Context, orgID, agentID string) ([]*models.Check, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+checkColumns+` FROM checks WHERE enabled = 1 AND organization_id = ? AND agent_id = ? ORDER BY id`,
		orgID, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Check
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

/* -------------------------------- SiteStore ------------------------------- */

func (s *Store) GetSite(ctx context.Context, orgID, siteID string) (*models.Site, error) {
	var site models.Site
	var contacts []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, organization_id, name, COALESCE(url, ''), health_score, COALESCE(contacts, '[]'), created_at
		 FROM sites WHERE id = ? AND organization_id = ?`, siteID, orgID).
		Scan(&site.ID, &site.OrganizationID, &site.Name, &site.URL, &site.HealthScore, &contacts, &site.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var ladder []models.Contact
	if err := json.Unmarshal(contacts, &ladder); err != nil {
		return nil, fmt.Errorf("decode contacts for site %s: %w", siteID, err)
	}
	for i := 0; i < len(ladder) && i < models.MaxEscalationLevel; i++ {
		site.Contacts[i] = ladder[i]
	}
	return &site, nil
}

func (s *Store) UpdateSiteHealthScore(ctx context.Context, siteID string, score float64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sites SET health_score = ? WHERE id = ?`, score, siteID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

/* ------------------------------- ResultStore ------------------------------ */

func (s *Store) InsertResult(ctx context.Context, r *models.CheckResult) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO check_results
		 (id, check_id, organization_id, site_id, agent_id, status, score, message, details, duration_ms, retry_count, created_at)
		 VALUES (?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CheckID, r.OrganizationID, r.SiteID, r.AgentID, string(r.Status), r.Score,
		r.Message, nullableJSON(r.Details), r.DurationMs, r.RetryCount, r.CreatedAt)
	return mapWriteErr(err)
}

const resultColumns = `id, check_id, organization_id, site_id, COALESCE(agent_id, ''), status, score,
	COALESCE(message, ''), COALESCE(details, 'null'), duration_ms, retry_count, created_at`

func scanResult(row interface{ Scan(...any) error }) (*models.CheckResult, error) {
	var r models.CheckResult
	var details []byte
	var status string
	if err := row.Scan(&r.ID, &r.CheckID, &r.OrganizationID, &r.SiteID, &r.AgentID, &status,
		&r.Score, &r.Message, &details, &r.DurationMs, &r.RetryCount, &r.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	r.Status = models.CheckStatus(status)
	r.Details = json.RawMessage(details)
	return &r, nil
}

func (s *Store) GetResult(ctx context.Context, resultID string) (*models.CheckResult, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+resultColumns+` FROM check_results WHERE id = ?`, resultID)
	return scanResult(row)
}

func (s *Store) LatestResultsForSite(ctx context.Context, siteID string) ([]*models.CheckResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+resultColumns+` FROM check_results r
		 WHERE r.site_id = ?
		   AND r.created_at = (SELECT MAX(created_at) FROM check_results WHERE check_id = r.check_id)
		   AND EXISTS (SELECT 1 FROM checks c WHERE c.id = r.check_id AND c.enabled = 1)
		 ORDER BY r.check_id`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.CheckResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) LastResultForCheck(ctx context.Context, checkID string) (*models.CheckResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+resultColumns+` FROM check_results WHERE check_id = ? ORDER BY created_at DESC LIMIT 1`, checkID)
	return scanResult(row)
}

/* -------------------------------- AlertStore ------------------------------ */

func (s *Store) InsertAlert(ctx context.Context, a *models.Alert) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, organization_id, site_id, check_result_id, severity, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.OrganizationID, a.SiteID, a.CheckResultID, string(a.Severity), a.Message, a.CreatedAt)
	return mapWriteErr(err)
}

/* ------------------------------- ChannelStore ----------------------------- */

func (s *Store) ListEnabledChannels(ctx context.Context, orgID string) ([]*models.NotificationChannel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, organization_id, type, COALESCE(config, 'null'), enabled
		 FROM notification_channels WHERE organization_id = ? AND enabled = 1`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.NotificationChannel
	for rows.Next() {
		var ch models.NotificationChannel
		var cfg []byte
		if err := rows.Scan(&ch.ID, &ch.OrganizationID, &ch.Type, &cfg, &ch.Enabled); err != nil {
			return nil, err
		}
		ch.Config = json.RawMessage(cfg)
		out = append(out, &ch)
	}
	return out, rows.Err()
}

/* -------------------------------- IssueStore ------------------------------ */

func (s *Store) InsertIssue(ctx context.Context, issue *models.EscalationIssue) error {
	levels, err := json.Marshal(issue.Levels)
	if err != nil {
		return err
	}
	reports, err := json.Marshal(issue.Reports)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// The guarded insert enforces the single non-terminal issue per site
	// constraint at the database rather than in application code.
	res, err := tx.ExecContext(ctx,
		`INSERT INTO escalation_issues
		 (id, site_id, organization_id, status, current_level, levels, reports, level_started_at, created_at, updated_at)
		 SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		 FROM DUAL
		 WHERE NOT EXISTS (
			SELECT 1 FROM escalation_issues
			WHERE site_id = ? AND status IN ('OPEN', 'ACKNOWLEDGED', 'IN_PROGRESS')
		 )`,
		issue.ID, issue.SiteID, issue.OrganizationID, string(issue.Status), issue.CurrentLevel,
		levels, reports, issue.LevelStartedAt, issue.CreatedAt, issue.UpdatedAt, issue.SiteID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrIssueExists
	}

	for _, lvl := range issue.Levels {
		if lvl.AccessToken == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO issue_tokens (token, issue_id, level) VALUES (?, ?, ?)`,
			lvl.AccessToken, issue.ID, lvl.Level); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) UpdateIssue(ctx context.Context, issue *models.EscalationIssue) error {
	levels, err := json.Marshal(issue.Levels)
	if err != nil {
		return err
	}
	reports, err := json.Marshal(issue.Reports)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE escalation_issues
		 SET status = ?, current_level = ?, levels = ?, reports = ?, level_started_at = ?, resolved_at = ?
		 WHERE id = ?`,
		string(issue.Status), issue.CurrentLevel, levels, reports, issue.LevelStartedAt,
		issue.ResolvedAt, issue.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// The row may match exactly; distinguish a true miss.
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM escalation_issues WHERE id = ?`, issue.ID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return storage.ErrNotFound
		}
	}

	for _, lvl := range issue.Levels {
		if lvl.AccessToken == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT IGNORE INTO issue_tokens (token, issue_id, level) VALUES (?, ?, ?)`,
			lvl.AccessToken, issue.ID, lvl.Level); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const issueColumns = `id, site_id, organization_id, status, current_level,
	COALESCE(levels, '[]'), COALESCE(reports, '[]'), level_started_at, created_at, updated_at, resolved_at`

func scanIssue(row interface{ Scan(...any) error }) (*models.EscalationIssue, error) {
	var i models.EscalationIssue
	var status string
	var levels, reports []byte
	var resolvedAt sql.NullTime
	if err := row.Scan(&i.ID, &i.SiteID, &i.OrganizationID, &status, &i.CurrentLevel,
		&levels, &reports, &i.LevelStartedAt, &i.CreatedAt, &i.UpdatedAt, &resolvedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	i.Status = models.IssueStatus(status)
	if err := json.Unmarshal(levels, &i.Levels); err != nil {
		return nil, fmt.Errorf("decode issue levels: %w", err)
	}
	if err := json.Unmarshal(reports, &i.Reports); err != nil {
		return nil, fmt.Errorf("decode issue reports: %w", err)
	}
	if resolvedAt.Valid {
		i.ResolvedAt = &resolvedAt.Time
	}
	return &i, nil
}

func (s *Store) GetIssue(ctx context.Context, issueID string) (*models.EscalationIssue, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM escalation_issues WHERE id = ?`, issueID)
	return scanIssue(row)
}

func (s *Store) GetIssueByToken(ctx context.Context, token string) (*models.EscalationIssue, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+issueColumns+` FROM escalation_issues
		 WHERE id = (SELECT issue_id FROM issue_tokens WHERE token = ?)`, token)
	return scanIssue(row)
}

func (s *Store) GetOpenIssueForSite(ctx context.Context, siteID string) (*models.EscalationIssue, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+issueColumns+` FROM escalation_issues
		 WHERE site_id = ? AND status IN ('OPEN', 'ACKNOWLEDGED', 'IN_PROGRESS') LIMIT 1`, siteID)
	return scanIssue(row)
}

func (s *Store) ListNonTerminalIssues(ctx context.Context) ([]*models.EscalationIssue, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+issueColumns+` FROM escalation_issues
		 WHERE status IN ('OPEN', 'ACKNOWLEDGED', 'IN_PROGRESS') ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.EscalationIssue
	for rows.Next() {
		i, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

/* ---------------------------- OrganizationStore --------------------------- */

func scanOrg(row interface{ Scan(...any) error }) (*models.Organization, error) {
	var o models.Organization
	var expires sql.NullTime
	if err := row.Scan(&o.ID, &o.Name, &o.Plan, &expires, &o.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	if expires.Valid {
		o.PlanExpiresAt = &expires.Time
	}
	return &o, nil
}

func (s *Store) GetOrganization(ctx context.Context, orgID string) (*models.Organization, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, plan, plan_expires_at, created_at FROM organizations WHERE id = ?`, orgID)
	return scanOrg(row)
}

func (s *Store) ListExpiredPlans(ctx context.Context, asOf time.Time) ([]*models.Organization, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, plan, plan_expires_at, created_at FROM organizations
		 WHERE plan != 'free' AND plan_expires_at IS NOT NULL AND plan_expires_at < ? ORDER BY id`, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Organization
	for rows.Next() {
		o, err := scanOrg(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) DowngradePlan(ctx context.Context, orgID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE organizations SET plan = 'free', plan_expires_at = NULL WHERE id = ?`, orgID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

/* -------------------------------- AgentStore ------------------------------ */

func (s *Store) GetAgentByKey(ctx context.Context, apiKey string) (*models.Agent, error) {
	var a models.Agent
	var lastSeen sql.NullTime
	var metadata []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, organization_id, COALESCE(name, ''), api_key, last_seen_at, COALESCE(metadata, 'null')
		 FROM agents WHERE api_key = ?`, apiKey).
		Scan(&a.ID, &a.OrganizationID, &a.Name, &a.APIKey, &lastSeen, &metadata)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastSeen.Valid {
		a.LastSeenAt = &lastSeen.Time
	}
	a.Metadata = json.RawMessage(metadata)
	return &a, nil
}

func (s *Store) TouchAgent(ctx context.Context, agentID string, metadata []byte, seenAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET last_seen_at = ?, metadata = COALESCE(?, metadata) WHERE id = ?`,
		seenAt, nullableJSON(metadata), agentID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}
