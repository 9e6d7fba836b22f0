package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
)

// Phase is a pipeline progress stage.
type Phase string

const (
	PhaseInit             Phase = "INIT"
	PhaseGeneratingClips  Phase = "GENERATING_CLIPS"
	PhaseAssemblingVideo  Phase = "ASSEMBLING_VIDEO"
	PhaseAddingVoiceMusic Phase = "ADDING_VOICE_MUSIC"
	PhaseSyncingVoice     Phase = "SYNCING_VOICE_MUSIC"
	PhaseVideoUploaded    Phase = "VIDEO_UPLOADED"
	PhaseVideoScheduled   Phase = "VIDEO_SCHEDULED"
	PhaseCompleted        Phase = "COMPLETED"
	PhaseError            Phase = "ERROR"
)

var order = map[Phase]int{
	PhaseInit:             0,
	PhaseGeneratingClips:  1,
	PhaseAssemblingVideo:  2,
	PhaseAddingVoiceMusic: 3,
	PhaseSyncingVoice:     4,
	PhaseVideoUploaded:    5,
	PhaseVideoScheduled:   6,
	PhaseCompleted:        7,
}

var (
	ErrPhaseRegression = errors.New("phase moved backward")
	ErrTerminal        = errors.New("stream already terminated")
	ErrUnknownPhase    = errors.New("unknown phase")
)

// Terminal reports whether p ends a job's stream.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseError
}

// Event is one progress notification. Terminal events carry the ordered
// history of every event before them.
type Event struct {
	JobID     string         `json:"job_id"`
	Seq       int            `json:"seq"`
	Phase     Phase          `json:"phase"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
	History   []Event        `json:"history,omitempty"`
}

// finishSeq orders streams by when they reached a terminal event.
var finishSeq atomic.Uint64

// Stream is the append-only event log of one job.
type Stream struct {
	jobID string
	now   func() time.Time

	mu      sync.Mutex
	events  []Event
	subs    map[int]chan Event
	nextSub int
	done    bool
	// finished is finishSeq at the terminal event, 0 while running.
	finished uint64
}

// NewStream creates an empty stream for jobID.
func NewStream(jobID string) *Stream {
	return &Stream{jobID: jobID, now: time.Now, subs: make(map[int]chan Event)}
}

// Emit appends an event. Phases may repeat (progress updates) or move
// forward; moving backward is rejected. ERROR is accepted from any
// non-terminal state.
func (s *Stream) Emit(phase Phase, payload map[string]any) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return Event{}, errors.Wrapf(ErrTerminal, "job %s: emit %s", s.jobID, phase)
	}
	if phase != PhaseError {
		rank, ok := order[phase]
		if !ok {
			return Event{}, errors.Wrapf(ErrUnknownPhase, "%q", phase)
		}
		if n := len(s.events); n > 0 && rank < order[s.events[n-1].Phase] {
			return Event{}, errors.Wrapf(ErrPhaseRegression, "job %s: %s after %s", s.jobID, phase, s.events[n-1].Phase)
		}
	}

	ev := Event{
		JobID:     s.jobID,
		Seq:       len(s.events) + 1,
		Phase:     phase,
		Timestamp: s.now().UTC(),
		Payload:   payload,
	}
	if phase.Terminal() {
		ev.History = append([]Event(nil), s.events...)
		s.done = true
		s.finished = finishSeq.Add(1)
	}
	s.events = append(s.events, ev)

	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber: drop it rather than block the pipeline.
			close(ch)
			delete(s.subs, id)
		}
	}
	if s.done {
		for id, ch := range s.subs {
			close(ch)
			delete(s.subs, id)
		}
	}
	return ev, nil
}

// Subscribe returns a channel that replays the history and then receives
// live events. The channel closes after the terminal event. The returned
// func unsubscribes early.
func (s *Stream) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Event, len(s.events)+64)
	for _, ev := range s.events {
		ch <- ev
	}
	if s.done {
		close(ch)
		return ch, func() {}
	}

	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			close(c)
			delete(s.subs, id)
		}
	}
}

// History returns a copy of the events emitted so far.
func (s *Stream) History() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// Current returns the phase of the latest event, or "" when empty.
func (s *Stream) Current() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return ""
	}
	return s.events[len(s.events)-1].Phase
}

// Done reports whether a terminal event has been emitted.
func (s *Stream) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Stream) finishOrder() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}
