package models

import "time"

// IssueStatus is the escalation ladder state.
type IssueStatus string

const (
	IssueOpen         IssueStatus = "OPEN"
	IssueAcknowledged IssueStatus = "ACKNOWLEDGED"
	IssueInProgress   IssueStatus = "IN_PROGRESS"
	IssueResolved     IssueStatus = "RESOLVED"
	IssueExhausted    IssueStatus = "EXHAUSTED"
)

// Terminal reports whether the status permits no further transitions.
func (s IssueStatus) Terminal() bool {
	return s == IssueResolved || s == IssueExhausted
}

// MaxEscalationLevel is the top rung of the contact ladder.
const MaxEscalationLevel = 3

// IssueLevel is one rung of an escalation issue: the contact notified at
// that level plus its unguessable access token and notification timestamp.
type IssueLevel struct {
	Level       int        `json:"level"` // 1-3
	ContactName string     `json:"contact_name,omitempty"`
	Email       string     `json:"email,omitempty"`
	AccessToken string     `json:"-"`
	NotifiedAt  *time.Time `json:"notified_at,omitempty"`
}

// IssueReport is one append-only timeline entry on an issue.
type IssueReport struct {
	Level     int       `json:"level"`
	Author    string    `json:"author,omitempty"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}

// EscalationIssue tracks an unacknowledged critical failure through the
// contact ladder. At most one non-terminal issue exists per site.
type EscalationIssue struct {
	ID             string        `json:"id"`
	SiteID         string        `json:"site_id"`
	OrganizationID string        `json:"organization_id"`
	Status         IssueStatus   `json:"status"`
	CurrentLevel   int           `json:"current_level"` // 1-3
	Levels         []IssueLevel  `json:"levels"`
	Reports        []IssueReport `json:"reports"`
	LevelStartedAt time.Time     `json:"level_started_at"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	ResolvedAt     *time.Time    `json:"resolved_at,omitempty"`
}

// LevelFor returns the ladder entry for the given level, or nil when the
// level was never populated.
func (i *EscalationIssue) LevelFor(level int) *IssueLevel {
	for idx := range i.Levels {
		if i.Levels[idx].Level == level {
			return &i.Levels[idx]
		}
	}
	return nil
}
