package queue

import (
	"context"
	"sync"

	"shorts-pipeline/types"
)

// Memory is an in-process Backend. Jobs do not survive a restart.
type Memory struct {
	mu       sync.Mutex
	jobs     []*types.GenerationJob
	inFlight map[string]bool
}

// NewMemory creates an empty in-process backend.
func NewMemory() *Memory {
	return &Memory{inFlight: make(map[string]bool)}
}

// Push appends job.
func (m *Memory) Push(_ context.Context, job *types.GenerationJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, job)
	return nil
}

// Pop removes and returns the oldest job, or nil.
func (m *Memory) Pop(context.Context) (*types.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.jobs) == 0 {
		return nil, nil
	}
	job := m.jobs[0]
	m.jobs = m.jobs[1:]
	return job, nil
}

// Ack is a no-op; popped jobs are already gone.
func (m *Memory) Ack(context.Context, *types.GenerationJob) error { return nil }

// Claim marks key in flight and reports whether it was free.
func (m *Memory) Claim(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight[key] {
		return false, nil
	}
	m.inFlight[key] = true
	return true, nil
}

// Release frees key.
func (m *Memory) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inFlight, key)
	return nil
}

// Len returns the number of waiting jobs.
func (m *Memory) Len(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs), nil
}
