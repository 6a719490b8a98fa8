package models

import "time"

// AlertSeverity classifies a notification event.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "INFO"
	SeverityWarning  AlertSeverity = "WARNING"
	SeverityCritical AlertSeverity = "CRITICAL"
)

// SeverityForStatus maps a result status to the alert severity used when
// the cooldown gate decides to notify.
func SeverityForStatus(s CheckStatus) AlertSeverity {
	switch s {
	case StatusCritical:
		return SeverityCritical
	case StatusError:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Alert is one immutable notification event.
type Alert struct {
	ID             string        `json:"id"`
	OrganizationID string        `json:"organization_id"`
	SiteID         string        `json:"site_id"`
	CheckResultID  string        `json:"check_result_id"`
	Severity       AlertSeverity `json:"severity"`
	Message        string        `json:"message"`
	CreatedAt      time.Time     `json:"created_at"`
}

// FanoutResult records the per-channel outcome of one notification fan-out.
type FanoutResult struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}
