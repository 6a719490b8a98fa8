package models

import (
	"encoding/json"
	"time"
)

// CheckType identifies the probe strategy used to execute a check.
type CheckType string

const (
	CheckTypeHTTP      CheckType = "http"
	CheckTypeDNS       CheckType = "dns"
	CheckTypeTLS       CheckType = "tls"
	CheckTypePageSpeed CheckType = "page_speed"

	// Agent-executed types. The server never runs these itself; an agent
	// polls for due tasks and submits results out-of-band.
	CheckTypeSystemHealth CheckType = "system_health"
	CheckTypeDiskUsage    CheckType = "disk_usage"
	CheckTypeLogMonitor   CheckType = "log_monitor"
	CheckTypeCustomScript CheckType = "custom_script"
)

// AgentExecuted reports whether this check type is run by a remote agent
// rather than by the server-side worker pool.
func (t CheckType) AgentExecuted() bool {
	switch t {
	case CheckTypeSystemHealth, CheckTypeDiskUsage, CheckTypeLogMonitor, CheckTypeCustomScript:
		return true
	}
	return false
}

// Check is a configured, typed, schedulable unit of monitoring work
// belonging to a site.
type Check struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organization_id"`
	SiteID         string          `json:"site_id"`
	AgentID        string          `json:"agent_id,omitempty"`
	Type           CheckType       `json:"type"`
	Schedule       string          `json:"schedule,omitempty"` // cron expression, empty = not recurring
	Config         json.RawMessage `json:"config,omitempty"`
	Weight         int             `json:"weight"`
	Enabled        bool            `json:"enabled"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Site groups checks and carries the escalation contact ladder.
type Site struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	URL            string    `json:"url"`
	HealthScore    float64   `json:"health_score"`
	Contacts       [3]Contact `json:"contacts"` // index 0 = level 1
	CreatedAt      time.Time `json:"created_at"`
}

// Contact is one rung of a site's escalation ladder. A zero-value contact
// means the level is not configured.
type Contact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Configured reports whether this contact level is usable for escalation.
func (c Contact) Configured() bool {
	return c.Email != ""
}

// HasTicketContact reports whether any of the site's three escalation
// levels has a configured contact.
func (s *Site) HasTicketContact() bool {
	for _, c := range s.Contacts {
		if c.Configured() {
			return true
		}
	}
	return false
}

// Organization owns sites, checks and notification channels.
type Organization struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Plan          string     `json:"plan"`
	PlanExpiresAt *time.Time `json:"plan_expires_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// NotificationChannel is one configured delivery target for an organization.
type NotificationChannel struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organization_id"`
	Type           string          `json:"type"` // slack | teams | webhook | email
	Config         json.RawMessage `json:"config"`
	Enabled        bool            `json:"enabled"`
}

// Agent is a remote poller registered to an organization.
type Agent struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organization_id"`
	Name           string          `json:"name"`
	APIKey         string          `json:"-"`
	LastSeenAt     *time.Time      `json:"last_seen_at,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}
