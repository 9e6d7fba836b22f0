package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"shorts-pipeline/types"
)

// Memory keeps copies of every record in process.
type Memory struct {
	mu        sync.RWMutex
	jobs      map[string]types.GenerationJob
	schedules map[string]types.ScheduleEntry
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		jobs:      make(map[string]types.GenerationJob),
		schedules: make(map[string]types.ScheduleEntry),
	}
}

// SaveJob stores a copy of job.
func (m *Memory) SaveJob(_ context.Context, job *types.GenerationJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = *job
	return nil
}

// GetJob returns a copy of the job record.
func (m *Memory) GetJob(_ context.Context, id string) (*types.GenerationJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "job %s", id)
	}
	return &job, nil
}

// DeleteJob removes the job record.
func (m *Memory) DeleteJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	return nil
}

// RecentTopics returns the owner's topics, newest job first.
func (m *Memory) RecentTopics(_ context.Context, ownerID string, limit int) ([]string, error) {
	m.mu.RLock()
	var jobs []types.GenerationJob
	for _, j := range m.jobs {
		if j.OwnerID == ownerID && j.Topic != "" {
			jobs = append(jobs, j)
		}
	}
	m.mu.RUnlock()

	sort.Slice(jobs, func(i, k int) bool { return jobs[i].CreatedAt.After(jobs[k].CreatedAt) })
	var topics []string
	for _, j := range jobs {
		if limit > 0 && len(topics) == limit {
			break
		}
		topics = append(topics, j.Topic)
	}
	return topics, nil
}

// SaveSchedule stores a copy of entry.
func (m *Memory) SaveSchedule(_ context.Context, entry *types.ScheduleEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[entry.ID] = *entry
	return nil
}

// GetSchedule returns a copy of the entry.
func (m *Memory) GetSchedule(_ context.Context, id string) (*types.ScheduleEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.schedules[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "schedule %s", id)
	}
	return &e, nil
}

// DueSchedules returns active entries due at now.
func (m *Memory) DueSchedules(_ context.Context, now time.Time) ([]*types.ScheduleEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var due []*types.ScheduleEntry
	for _, e := range m.schedules {
		if e.Active && !e.NextRun.After(now) {
			e := e
			due = append(due, &e)
		}
	}
	sort.Slice(due, func(i, k int) bool {
		if due[i].NextRun.Equal(due[k].NextRun) {
			return due[i].ID < due[k].ID
		}
		return due[i].NextRun.Before(due[k].NextRun)
	})
	return due, nil
}
