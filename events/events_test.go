package events

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func emit(t *testing.T, s *Stream, p Phase) Event {
	t.Helper()
	ev, err := s.Emit(p, nil)
	require.NoError(t, err)
	return ev
}

func TestStreamOrderedPhasesWithProgress(t *testing.T) {
	s := NewStream("job-1")

	emit(t, s, PhaseInit)
	emit(t, s, PhaseGeneratingClips)
	_, err := s.Emit(PhaseGeneratingClips, map[string]any{"done": 1, "total": 4})
	require.NoError(t, err, "same-phase progress is allowed")
	emit(t, s, PhaseAssemblingVideo)
	emit(t, s, PhaseAddingVoiceMusic)
	emit(t, s, PhaseSyncingVoice)
	done := emit(t, s, PhaseCompleted)

	assert.Equal(t, 7, done.Seq)
	require.Len(t, done.History, 6)
	assert.Equal(t, PhaseInit, done.History[0].Phase)
	assert.Equal(t, PhaseSyncingVoice, done.History[5].Phase)
	assert.True(t, s.Done())
}

func TestStreamRejectsBackwardTransition(t *testing.T) {
	s := NewStream("job-1")
	emit(t, s, PhaseInit)
	emit(t, s, PhaseAssemblingVideo)

	_, err := s.Emit(PhaseGeneratingClips, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPhaseRegression))
	assert.Equal(t, PhaseAssemblingVideo, s.Current())
}

func TestStreamSkippingOptionalPhases(t *testing.T) {
	s := NewStream("job-1")
	emit(t, s, PhaseInit)
	emit(t, s, PhaseSyncingVoice)
	emit(t, s, PhaseVideoScheduled)
	emit(t, s, PhaseCompleted)
	assert.Len(t, s.History(), 4)
}

func TestErrorIsTerminalFromAnyState(t *testing.T) {
	s := NewStream("job-1")
	emit(t, s, PhaseInit)
	emit(t, s, PhaseAssemblingVideo)

	ev, err := s.Emit(PhaseError, map[string]any{"error": "mux failed"})
	require.NoError(t, err)
	assert.Len(t, ev.History, 2)

	_, err = s.Emit(PhaseCompleted, nil)
	assert.True(t, errors.Is(err, ErrTerminal))
	_, err = s.Emit(PhaseError, nil)
	assert.True(t, errors.Is(err, ErrTerminal))
}

func TestUnknownPhase(t *testing.T) {
	s := NewStream("job-1")
	_, err := s.Emit(Phase("BOGUS"), nil)
	assert.True(t, errors.Is(err, ErrUnknownPhase))
}

func TestSubscribeReplaysAndCloses(t *testing.T) {
	s := NewStream("job-1")
	emit(t, s, PhaseInit)

	ch, _ := s.Subscribe()
	emit(t, s, PhaseGeneratingClips)
	emit(t, s, PhaseCompleted)

	var phases []Phase
	for ev := range ch {
		phases = append(phases, ev.Phase)
	}
	assert.Equal(t, []Phase{PhaseInit, PhaseGeneratingClips, PhaseCompleted}, phases)
}

func TestSubscribeAfterTerminal(t *testing.T) {
	s := NewStream("job-1")
	emit(t, s, PhaseInit)
	emit(t, s, PhaseError)

	ch, cancel := s.Subscribe()
	defer cancel()
	var n int
	for range ch {
		n++
	}
	assert.Equal(t, 2, n)
}

func TestUnsubscribe(t *testing.T) {
	s := NewStream("job-1")
	ch, cancel := s.Subscribe()
	cancel()
	_, open := <-ch
	assert.False(t, open)
	emit(t, s, PhaseInit)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a := r.Open("a")
	assert.Same(t, a, r.Open("a"))

	_, ok := r.Get("b")
	assert.False(t, ok)

	emit(t, a, PhaseInit)
	emit(t, a, PhaseCompleted)
	r.Open("b")
	assert.Equal(t, 1, r.Prune(1))
	_, ok = r.Get("a")
	assert.False(t, ok)
	_, ok = r.Get("b")
	assert.True(t, ok)
}

func TestRegistryPrunesOldestFinishedFirst(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"c", "a", "d", "b"} {
		s := r.Open(id)
		emit(t, s, PhaseInit)
		if id == "d" {
			emit(t, s, PhaseError)
			continue
		}
		emit(t, s, PhaseCompleted)
	}
	running := r.Open("e")
	emit(t, running, PhaseInit)

	assert.Equal(t, 3, r.Prune(2))
	for id, kept := range map[string]bool{"c": false, "a": false, "d": false, "b": true, "e": true} {
		_, ok := r.Get(id)
		assert.Equal(t, kept, ok, id)
	}
	assert.Equal(t, 1, r.Prune(0), "running streams stay")
	_, ok := r.Get("e")
	assert.True(t, ok)
}
