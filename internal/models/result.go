package models

import (
	"encoding/json"
	"time"
)

// CheckStatus is the outcome classification of one check execution.
type CheckStatus string

const (
	StatusPassed   CheckStatus = "PASSED"
	StatusWarning  CheckStatus = "WARNING"
	StatusCritical CheckStatus = "CRITICAL"
	StatusError    CheckStatus = "ERROR"
	StatusPending  CheckStatus = "PENDING"
)

// Alerting reports whether this status should open or refresh an alert.
func (s CheckStatus) Alerting() bool {
	return s == StatusCritical || s == StatusError
}

// Recovery reports whether this status clears a previously alerting check.
func (s CheckStatus) Recovery() bool {
	return s == StatusPassed || s == StatusWarning
}

// CheckResult is the immutable outcome of one execution of a Check.
// Written only by the result recorder.
type CheckResult struct {
	ID             string          `json:"id"`
	CheckID        string          `json:"check_id"`
	OrganizationID string          `json:"organization_id"`
	SiteID         string          `json:"site_id"`
	AgentID        string          `json:"agent_id,omitempty"`
	Status         CheckStatus     `json:"status"`
	Score          int             `json:"score"` // 0-100
	Message        string          `json:"message,omitempty"`
	Details        json.RawMessage `json:"details,omitempty"`
	DurationMs     int64           `json:"duration_ms"`
	RetryCount     int             `json:"retry_count"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ExecutionOutcome is the strategy-facing result payload. SkipPersist marks
// outcomes (disabled check, agent-deferred type) that must not be written.
type ExecutionOutcome struct {
	Status      CheckStatus
	Score       int
	Message     string
	Details     json.RawMessage
	DurationMs  int64
	SkipPersist bool
}
