package script

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	timing "shorts-pipeline/02_timing"
	"shorts-pipeline/config"
	"shorts-pipeline/llm"
	"shorts-pipeline/types"
)

type cannedLLM struct {
	answer string
	err    error
	req    llm.Request
}

func (c *cannedLLM) Name() string { return "canned" }

func (c *cannedLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	c.req = req
	return c.answer, c.err
}

func plan(t *testing.T, category string) timing.Plan {
	t.Helper()
	return timing.NewPlanner(config.Default().Timing).Plan(timing.PlanRequest{
		Category:     category,
		TotalSeconds: 30,
		Language:     "en",
	})
}

func TestDraftUsesLLMLines(t *testing.T) {
	completer := &cannedLLM{answer: "```json\n" + `{
		"title": "Oscars 2026 in 30 seconds",
		"segments": [
			{"text": "The Oscars just made history.", "label": "Oscars 2026"},
			{"narration": ["A first-time director", "took Best Picture."], "motion_prompt": "dolly across a red carpet"},
			{"text": "And the upset of the night came late.", "label": "Upset"},
			{"text": "Follow for more."}
		]
	}` + "\n```"}
	w := New(completer, config.Default())
	job := &types.GenerationJob{ID: "j1", Category: types.CategoryStandard, Topic: "Oscars 2026", Language: "en"}

	draft := w.Draft(context.Background(), job, plan(t, types.CategoryStandard), nil)

	require.Len(t, draft.Segments, 4)
	assert.False(t, draft.Templated)
	assert.Equal(t, "Oscars 2026 in 30 seconds", draft.Title)
	assert.Equal(t, "The Oscars just made history.", draft.Segments[0].Text)
	assert.Equal(t, "A first-time director took Best Picture.", draft.Segments[1].Text)
	assert.Equal(t, "dolly across a red carpet", draft.Segments[1].MotionPrompt)
	assert.Equal(t, "Oscars 2026", draft.Segments[1].Label, "missing label defaults to topic")

	tail := draft.Segments[3]
	assert.Equal(t, types.SegmentTail, tail.Kind)
	assert.True(t, strings.HasPrefix(tail.Text, "Follow for more."))
	assert.GreaterOrEqual(t, len(strings.Fields(tail.Text)), 12)

	assert.Contains(t, completer.req.Prompt, "SLOTS:")
	assert.Contains(t, completer.req.Prompt, "max 6 words")
}

func TestDraftFallsBackToTemplates(t *testing.T) {
	w := New(&cannedLLM{err: fmt.Errorf("quota exceeded")}, config.Default())
	job := &types.GenerationJob{ID: "j2", Category: types.CategoryStandard}
	story := &types.Story{
		Title:    "Central bank holds rates",
		Articles: []types.Article{{Title: "Rates stay at 4 percent"}, {Title: "Markets shrug"}},
	}

	draft := w.Draft(context.Background(), job, plan(t, types.CategoryStandard), story)

	assert.True(t, draft.Templated)
	assert.Equal(t, "Central bank holds rates", draft.Title)
	for _, seg := range draft.Segments {
		assert.NotEmpty(t, seg.Text)
		assert.NotEmpty(t, seg.MotionPrompt)
	}
	assert.Equal(t, "Rates stay at 4 percent.", draft.Segments[1].Text)
	assert.GreaterOrEqual(t, len(strings.Fields(draft.Segments[3].Text)), 12)
}

func TestDraftWithoutLLMIsTemplated(t *testing.T) {
	w := New(nil, config.Default())
	draft := w.Draft(context.Background(), &types.GenerationJob{ID: "j", Topic: "tides"}, plan(t, types.CategoryStandard), nil)
	assert.True(t, draft.Templated)
	assert.Contains(t, draft.Segments[0].Text, "tides")
}

func TestDraftClampsOverBudgetLines(t *testing.T) {
	long := strings.Repeat("word ", 20)
	completer := &cannedLLM{answer: fmt.Sprintf(`{"segments":[{"text":%q}]}`, long)}
	w := New(completer, config.Default())

	draft := w.Draft(context.Background(), &types.GenerationJob{ID: "j", Topic: "t"}, plan(t, types.CategoryStandard), nil)

	intro := draft.Segments[0]
	assert.Equal(t, 6, intro.WordBudget)
	assert.Len(t, strings.Fields(intro.Text), 7)
	assert.True(t, strings.HasSuffix(intro.Text, "."))
}

func TestDraftCountdownUtterances(t *testing.T) {
	w := New(nil, config.Default())
	p := plan(t, types.CategoryTop5)

	draft := w.Draft(context.Background(), &types.GenerationJob{ID: "j", Topic: "volcanoes", Category: types.CategoryTop5}, p, nil)

	require.Len(t, draft.Segments, 7)
	first := draft.Segments[1]
	assert.Equal(t, types.SegmentCountdown, first.Kind)
	assert.Equal(t, 5, first.Rank)
	assert.Equal(t, "Number 5.", first.Utterances[0])
	assert.Equal(t, "#5", first.Label)

	counts := WordCounts(draft.Segments)
	assert.Equal(t, len(strings.Fields(first.Text))+2, counts[1])
}

func TestSafeHelpers(t *testing.T) {
	m := map[string]any{"a": "  ", "b": "x", "n": 3.0, "s": "#4"}
	assert.Equal(t, "x", safeString(m, "a", "b"))
	assert.Equal(t, "", safeString(nil, "a"))
	assert.Equal(t, 3, safeInt(m, "n"))
	assert.Equal(t, 4, safeInt(m, "s"))
	assert.Equal(t, 0, safeInt(m, "missing"))
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	cut := truncate("ab日本語", 6)
	assert.Equal(t, "ab日", cut)
	assert.True(t, utf8.ValidString(cut))
	assert.Equal(t, "ab日本", truncate("ab日本語", 8))
}
