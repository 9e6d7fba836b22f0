// Package store persists job records and schedule entries.
package store

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"shorts-pipeline/types"
)

// ErrNotFound is returned for unknown ids.
var ErrNotFound = errors.New("not found")

// JobStore persists generation job records.
type JobStore interface {
	SaveJob(ctx context.Context, job *types.GenerationJob) error
	GetJob(ctx context.Context, id string) (*types.GenerationJob, error)
	// DeleteJob removes a record; unknown ids are not an error.
	DeleteJob(ctx context.Context, id string) error
	// RecentTopics returns the topics of the owner's latest jobs, newest first.
	RecentTopics(ctx context.Context, ownerID string, limit int) ([]string, error)
}

// ScheduleStore persists schedule entries.
type ScheduleStore interface {
	SaveSchedule(ctx context.Context, entry *types.ScheduleEntry) error
	GetSchedule(ctx context.Context, id string) (*types.ScheduleEntry, error)
	// DueSchedules returns active entries whose next run is at or before now.
	DueSchedules(ctx context.Context, now time.Time) ([]*types.ScheduleEntry, error)
}

// Store is both.
type Store interface {
	JobStore
	ScheduleStore
}
