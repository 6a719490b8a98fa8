package models

import "time"

// TriggerReason records why a check job was enqueued.
type TriggerReason string

const (
	TriggerSchedule TriggerReason = "schedule"
	TriggerManual   TriggerReason = "manual"
	TriggerRetry    TriggerReason = "retry"
)

// CheckJob is the queue-resident payload dispatched to the worker pool.
// It exists only between enqueue and the end of the retention window.
type CheckJob struct {
	ID             string        `json:"id"`
	CheckID        string        `json:"check_id"`
	OrganizationID string        `json:"organization_id"`
	SiteID         string        `json:"site_id"`
	AgentID        string        `json:"agent_id,omitempty"`
	RetryCount     int           `json:"retry_count"`
	Trigger        TriggerReason `json:"trigger"`
	EnqueuedAt     time.Time     `json:"enqueued_at"`
}

// SchedulerOwned reports whether this job belongs to the recurring
// registration rather than to a manual or retry trigger. Ad-hoc
// cancellation must never remove scheduler-owned jobs.
func (j *CheckJob) SchedulerOwned() bool {
	return j.Trigger == TriggerSchedule
}
