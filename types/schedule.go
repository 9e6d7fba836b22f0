package types

import (
	"time"

	"github.com/google/uuid"
)

// Recurrence units for schedule entries.
const (
	RecurDaily   = "daily"
	RecurWeekly  = "weekly"
	RecurMonthly = "monthly"
)

// DateLayout is the calendar date format used for schedule bounds.
const DateLayout = "2006-01-02"

// ScheduleEntry is a long-lived recurring generation request
type ScheduleEntry struct {
	ID             string     `json:"id"`
	OwnerID        string     `json:"owner_id"`
	Recurrence     string     `json:"recurrence"`
	TimeOfDay      string     `json:"time_of_day"`
	Timezone       string     `json:"timezone"`
	StartDate      string     `json:"start_date"`
	EndDate        string     `json:"end_date,omitempty"`
	NextRun        time.Time  `json:"next_run"`
	Active         bool       `json:"active"`
	FailCount      int        `json:"fail_count"`
	LastFailReason string     `json:"last_fail_reason,omitempty"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`

	Category        string  `json:"category"`
	DurationSeconds float64 `json:"duration_seconds"`
	AspectRatio     string  `json:"aspect_ratio"`
	Language        string  `json:"language"`
	Country         string  `json:"country"`
	Topic           string  `json:"topic,omitempty"`
	Publish         bool    `json:"publish"`
}

// NewJob derives the GenerationJob handed to the orchestrator on a trigger.
func (e *ScheduleEntry) NewJob(now time.Time) *GenerationJob {
	return &GenerationJob{
		ID:              uuid.NewString(),
		OwnerID:         e.OwnerID,
		ScheduleID:      e.ID,
		Category:        e.Category,
		DurationSeconds: e.DurationSeconds,
		AspectRatio:     e.AspectRatio,
		Language:        e.Language,
		Country:         e.Country,
		Topic:           e.Topic,
		Publish:         e.Publish,
		Status:          JobPending,
		CreatedAt:       now,
	}
}
