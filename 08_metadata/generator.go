package metadata

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"shorts-pipeline/config"
	"shorts-pipeline/llm"
	"shorts-pipeline/logger"
	"shorts-pipeline/types"
)

const systemPrompt = `You are a YouTube Shorts SEO strategist.
Generate metadata that maximizes click-through rate and search ranking while staying honest.

You MUST respond with ONLY valid JSON, no markdown, no explanation.

Fields:
- "title": string, max 70 chars, a curiosity hook that names the subject
- "description": string, 2-4 short sentences plus a question that invites comments
- "tags": array of strings, mixing broad and specific search terms`

type metadataJSON struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// Input is what the metadata is written from.
type Input struct {
	Job      *types.GenerationJob
	Title    string
	Segments []types.Segment
	Story    *types.Story
}

// Generator writes publish metadata with an LLM and falls back to a
// deterministic template.
type Generator struct {
	llm    llm.Completer
	cfg    config.MetadataConfig
	upload config.UploadConfig
	llmCfg config.LLMConfig
	log    *zap.SugaredLogger
}

// New creates a Generator. completer may be nil.
func New(completer llm.Completer, cfg *config.Config) *Generator {
	return &Generator{
		llm:    completer,
		cfg:    cfg.Metadata,
		upload: cfg.Upload,
		llmCfg: cfg.LLM,
		log:    logger.Named("metadata"),
	}
}

// Generate never fails; LLM problems degrade to templated metadata.
func (g *Generator) Generate(ctx context.Context, in Input) *types.VideoMetadata {
	raw, err := g.ask(ctx, in)
	if err != nil {
		g.log.Warnw("metadata generation failed, using template", "job_id", in.Job.ID, "error", err)
		raw = g.template(in)
	}
	if strings.TrimSpace(raw.Title) == "" {
		raw.Title = g.template(in).Title
	}
	if strings.TrimSpace(raw.Description) == "" {
		raw.Description = g.template(in).Description
	}

	meta := &types.VideoMetadata{
		Title:       clampTitle(raw.Title, g.cfg.TitleMaxChars),
		Description: g.withHashtags(raw.Description),
		Tags:        g.cleanTags(append(raw.Tags, topicOf(in))),
		CategoryID:  g.cfg.YouTubeCategoryID,
		Visibility:  g.upload.Visibility,
	}
	if in.Job.PublishAt != nil {
		at := in.Job.PublishAt.UTC()
		meta.PublishAt = &at
		meta.Visibility = "private"
	}
	g.log.Infow("metadata ready", "job_id", in.Job.ID, "title", meta.Title, "tags", len(meta.Tags))
	return meta
}

func (g *Generator) ask(ctx context.Context, in Input) (metadataJSON, error) {
	var raw metadataJSON
	if g.llm == nil {
		return raw, llm.ErrNoProvider
	}
	req := llm.Request{
		System:      systemPrompt,
		Prompt:      buildPrompt(in, g.cfg.TagsCount),
		Temperature: g.llmCfg.Temperature,
		MaxTokens:   1024,
	}
	err := llm.CompleteJSON(ctx, g.llm, req, &raw, g.llmCfg.JSONRetries)
	return raw, err
}

func buildPrompt(in Input, tags int) string {
	var sb strings.Builder
	sb.WriteString("Generate YouTube Shorts metadata for this video.\n\n")
	fmt.Fprintf(&sb, "WORKING TITLE: %s\n", in.Title)
	fmt.Fprintf(&sb, "TOPIC: %s\n", topicOf(in))
	fmt.Fprintf(&sb, "LANGUAGE: %s\n", in.Job.Language)
	fmt.Fprintf(&sb, "DURATION: %.0f seconds\n", in.Job.DurationSeconds)
	if in.Story != nil && in.Story.Source != "" {
		fmt.Fprintf(&sb, "SOURCE: %s\n", in.Story.Source)
	}
	sb.WriteString("\nNARRATION:\n")
	for _, s := range in.Segments {
		if s.Kind == types.SegmentTail {
			continue
		}
		fmt.Fprintf(&sb, "- %s\n", truncate(s.Text, 120))
	}
	fmt.Fprintf(&sb, "\nReturn %d tags. Respond ONLY with valid JSON.", tags)
	return sb.String()
}

func (g *Generator) template(in Input) metadataJSON {
	topic := topicOf(in)
	title := in.Title
	if title == "" {
		title = topic
	}
	var lines []string
	for _, s := range in.Segments {
		if s.Kind == types.SegmentIntro || s.Kind == types.SegmentTail {
			continue
		}
		lines = append(lines, s.Text)
		if len(lines) == 2 {
			break
		}
	}
	desc := strings.Join(lines, " ")
	if desc == "" {
		desc = fmt.Sprintf("Everything you need to know about %s in under a minute.", topic)
	}
	desc += fmt.Sprintf("\n\nWhat do you think about %s? Tell us in the comments.", topic)
	return metadataJSON{
		Title:       title,
		Description: desc,
		Tags:        strings.Fields(strings.ToLower(topic)),
	}
}

func (g *Generator) withHashtags(desc string) string {
	var missing []string
	for _, h := range g.cfg.Hashtags {
		if !strings.Contains(desc, h) {
			missing = append(missing, h)
		}
	}
	if len(missing) == 0 {
		return desc
	}
	return strings.TrimSpace(desc) + "\n\n" + strings.Join(missing, " ")
}

// cleanTags trims, dedupes case-insensitively and caps the list.
func (g *Generator) cleanTags(tags []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range tags {
		t = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(t), "#"))
		key := strings.ToLower(t)
		if t == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
		if g.cfg.TagsCount > 0 && len(out) == g.cfg.TagsCount {
			break
		}
	}
	return out
}

func clampTitle(title string, max int) string {
	title = strings.Join(strings.Fields(title), " ")
	if max <= 3 || utf8.RuneCountInString(title) <= max {
		return title
	}
	runes := []rune(title)
	return strings.TrimSpace(string(runes[:max-3])) + "..."
}

func topicOf(in Input) string {
	if t := strings.TrimSpace(in.Job.Topic); t != "" {
		return t
	}
	if in.Story != nil && in.Story.Title != "" {
		return in.Story.Title
	}
	if in.Title != "" {
		return in.Title
	}
	return in.Job.Category
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
