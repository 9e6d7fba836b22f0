package events

import (
	"sort"
	"sync"
)

// Registry indexes streams by job id so callers can attach to a running
// or finished job.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]*Stream
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{streams: make(map[string]*Stream)}
}

// Open returns the stream for jobID, creating it on first use.
func (r *Registry) Open(jobID string) *Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.streams[jobID]; ok {
		return s
	}
	s := NewStream(jobID)
	r.streams[jobID] = s
	return s
}

// Get returns the stream for jobID if one exists.
func (r *Registry) Get(jobID string) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[jobID]
	return s, ok
}

// Prune drops finished streams, oldest finish first, until at most keep
// remain. Running streams are never dropped.
func (r *Registry) Prune(keep int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	excess := len(r.streams) - keep
	if excess <= 0 {
		return 0
	}

	type finished struct {
		id    string
		order uint64
	}
	var done []finished
	for id, s := range r.streams {
		if o := s.finishOrder(); o > 0 {
			done = append(done, finished{id, o})
		}
	}
	sort.Slice(done, func(i, j int) bool { return done[i].order < done[j].order })

	removed := 0
	for _, f := range done {
		if removed == excess {
			break
		}
		delete(r.streams, f.id)
		removed++
	}
	return removed
}
