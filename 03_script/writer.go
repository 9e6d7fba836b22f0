package script

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	timing "shorts-pipeline/02_timing"
	"shorts-pipeline/config"
	"shorts-pipeline/llm"
	"shorts-pipeline/logger"
	"shorts-pipeline/types"
)

const systemPrompt = `You are a scriptwriter for faceless short-form vertical videos.
You write punchy spoken narration: short sentences, concrete facts, no filler.

You MUST respond with ONLY valid JSON, no preamble, no markdown.

Shape:
{"title": "...", "segments": [{"text": "...", "label": "...", "motion_prompt": "..."}]}

Rules:
- Return exactly one segment per requested slot, in order.
- "text" is the exact narration for the slot and must stay within its word budget.
- "label" is a 1-4 word on-screen caption naming the subject of the slot.
- "motion_prompt" describes camera motion and action for a 5-10 second cinematic clip of the slot.
- The last slot is a call to action asking viewers to like, subscribe and comment.`

// Draft is the narration for one job.
type Draft struct {
	Title     string
	Segments  []types.Segment
	Templated bool
}

// Writer drafts per-segment narration with an LLM and falls back to
// templated lines.
type Writer struct {
	llm    llm.Completer
	cfg    config.ScriptConfig
	llmCfg config.LLMConfig
	ctaMin int
	log    *zap.SugaredLogger
}

// New creates a Writer. completer may be nil, in which case every draft is
// templated.
func New(completer llm.Completer, cfg *config.Config) *Writer {
	return &Writer{
		llm:    completer,
		cfg:    cfg.Script,
		llmCfg: cfg.LLM,
		ctaMin: cfg.Timing.CTAMinWords,
		log:    logger.Named("script"),
	}
}

type rawScript struct {
	Title    string           `json:"title"`
	Segments []map[string]any `json:"segments"`
}

// Draft writes one segment per planned slot. It never fails: LLM errors
// and missing lines are filled from templates.
func (w *Writer) Draft(ctx context.Context, job *types.GenerationJob, plan timing.Plan, story *types.Story) Draft {
	topic := topicOf(job, story)
	var raw rawScript
	templated := false
	if w.llm == nil {
		templated = true
	} else {
		req := llm.Request{
			System:      systemPrompt,
			Prompt:      buildUserPrompt(job, plan, story, topic),
			Temperature: w.llmCfg.Temperature,
			MaxTokens:   2048,
		}
		if err := llm.CompleteJSON(ctx, w.llm, req, &raw, w.llmCfg.JSONRetries); err != nil {
			w.log.Warnw("script generation failed, using templates", "job_id", job.ID, "error", err)
			templated = true
		}
	}

	segments := make([]types.Segment, len(plan.Slots))
	missing := 0
	for i, slot := range plan.Slots {
		var fields map[string]any
		if i < len(raw.Segments) {
			fields = raw.Segments[i]
		}
		seg := types.Segment{
			Index:        i + 1,
			Kind:         slot.Kind,
			Rank:         slot.Rank,
			Duration:     slot.Duration,
			WordBudget:   slot.WordBudget,
			Text:         safeString(fields, "text", "narration"),
			Label:        safeString(fields, "label", "title"),
			MotionPrompt: safeString(fields, "motion_prompt", "visual"),
		}
		if r := safeInt(fields, "rank"); slot.Kind == types.SegmentCountdown && r > 0 {
			seg.Rank = r
		}
		if seg.Text == "" {
			missing++
			seg.Text = templateLine(seg, topic, story)
		}
		seg.Text = w.clampWords(seg.Text, seg.WordBudget)
		if seg.Kind == types.SegmentTail {
			seg.Text = w.ensureCTA(seg.Text, topic)
		}
		if seg.Label == "" {
			seg.Label = defaultLabel(seg, topic)
		}
		if seg.MotionPrompt == "" {
			seg.MotionPrompt = fmt.Sprintf("slow cinematic push-in on %s", seg.Label)
		}
		if seg.Kind == types.SegmentCountdown {
			seg.Utterances = []string{fmt.Sprintf("Number %d.", seg.Rank), seg.Text}
		}
		segments[i] = seg
	}
	if missing > 0 && !templated {
		w.log.Warnw("script missing lines, filled from templates", "job_id", job.ID, "missing", missing)
	}

	title := strings.TrimSpace(raw.Title)
	if title == "" {
		title = topic
	}
	w.log.Infow("script ready", "job_id", job.ID, "segments", len(segments), "templated", templated)
	return Draft{Title: title, Segments: segments, Templated: templated}
}

// WordCounts returns the spoken word count per segment.
func WordCounts(segments []types.Segment) []int {
	out := make([]int, len(segments))
	for i, s := range segments {
		if len(s.Utterances) > 0 {
			out[i] = len(strings.Fields(strings.Join(s.Utterances, " ")))
			continue
		}
		out[i] = len(strings.Fields(s.Text))
	}
	return out
}

// clampWords trims text that overshoots its budget by more than the
// allowed ratio.
func (w *Writer) clampWords(text string, budget int) string {
	words := strings.Fields(text)
	ratio := w.cfg.OverBudgetRatio
	if ratio < 1 {
		ratio = 1
	}
	limit := int(float64(budget) * ratio)
	if budget <= 0 || len(words) <= limit {
		return strings.Join(words, " ")
	}
	out := strings.Join(words[:limit], " ")
	out = strings.TrimRight(out, ",;:-")
	if !strings.HasSuffix(out, ".") && !strings.HasSuffix(out, "!") && !strings.HasSuffix(out, "?") {
		out += "."
	}
	return out
}

// ensureCTA pads the closing line until it carries a full call to action.
func (w *Writer) ensureCTA(text, topic string) string {
	if len(strings.Fields(text)) >= w.ctaMin {
		return text
	}
	cta := fmt.Sprintf("Like and subscribe for more, and tell us in the comments what you think about %s.", topic)
	if strings.TrimSpace(text) == "" {
		return cta
	}
	return strings.TrimSpace(text) + " " + cta
}

func buildUserPrompt(job *types.GenerationJob, plan timing.Plan, story *types.Story, topic string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Write a %.0f second %s short about: %s\n", plan.TotalSeconds, job.Category, topic)
	fmt.Fprintf(&sb, "Language: %s. Audience country: %s.\n\n", languageOr(job.Language), job.Country)
	if story != nil {
		fmt.Fprintf(&sb, "STORY: %s\n", story.Title)
		if story.Body != "" && story.Body != story.Title {
			fmt.Fprintf(&sb, "DETAILS: %s\n", truncate(story.Body, 1500))
		}
		for _, a := range story.Articles {
			fmt.Fprintf(&sb, "- %s (%s)\n", a.Title, a.Source)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("SLOTS:\n")
	for i, slot := range plan.Slots {
		switch slot.Kind {
		case types.SegmentCountdown:
			fmt.Fprintf(&sb, "%d. countdown item #%d, %.1fs, max %d words\n", i+1, slot.Rank, slot.Duration, slot.WordBudget)
		default:
			fmt.Fprintf(&sb, "%d. %s, %.1fs, max %d words\n", i+1, slot.Kind, slot.Duration, slot.WordBudget)
		}
	}
	sb.WriteString("\nRespond ONLY with valid JSON.")
	return sb.String()
}

func templateLine(seg types.Segment, topic string, story *types.Story) string {
	switch seg.Kind {
	case types.SegmentIntro:
		return fmt.Sprintf("Here is what everyone is talking about: %s.", topic)
	case types.SegmentTail:
		return ""
	case types.SegmentCountdown:
		return fmt.Sprintf("Coming in at number %d, another standout moment from %s.", seg.Rank, topic)
	}
	// Content starts at index 2, after the intro.
	if k := seg.Index - 2; story != nil && k >= 0 && k < len(story.Articles) {
		return story.Articles[k].Title + "."
	}
	return fmt.Sprintf("There is more to %s than the headlines suggest.", topic)
}

func defaultLabel(seg types.Segment, topic string) string {
	if seg.Kind == types.SegmentCountdown {
		return fmt.Sprintf("#%d", seg.Rank)
	}
	return topic
}

func topicOf(job *types.GenerationJob, story *types.Story) string {
	if t := strings.TrimSpace(job.Topic); t != "" {
		return t
	}
	if story != nil && story.Title != "" {
		return story.Title
	}
	return job.Category
}

func languageOr(lang string) string {
	if lang == "" {
		return "en"
	}
	return lang
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// safeString returns the first non-empty string among keys.
func safeString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case []any:
			var parts []string
			for _, p := range v {
				if s, ok := p.(string); ok && strings.TrimSpace(s) != "" {
					parts = append(parts, strings.TrimSpace(s))
				}
			}
			if len(parts) > 0 {
				return strings.Join(parts, " ")
			}
		}
	}
	return ""
}

func safeInt(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(v), "#"))
		return n
	}
	return 0
}
