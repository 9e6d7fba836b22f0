package visuals

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/url"
	"strings"

	"shorts-pipeline/types"
)

const pollinationsURL = "https://image.pollinations.ai/prompt/"

// PromptSource synthesizes an image URL from the topic with Pollinations.
// It is only consulted when the other sources come up short.
type PromptSource struct {
	baseURL string
}

// NewPromptSource returns a source against baseURL, or Pollinations when
// baseURL is empty.
func NewPromptSource(baseURL string) *PromptSource {
	if baseURL == "" {
		baseURL = pollinationsURL
	}
	return &PromptSource{baseURL: baseURL}
}

func (p *PromptSource) Name() string { return "prompt" }

func (p *PromptSource) Candidates(_ context.Context, q Query) ([]Candidate, error) {
	if strings.TrimSpace(q.Topic) == "" {
		return nil, nil
	}
	dim := types.DimensionsFor(q.Ratio)
	prompt := enhancePrompt(q.Topic)
	link := fmt.Sprintf("%s%s?width=%d&height=%d&nologo=true&model=flux&seed=%d",
		p.baseURL, url.PathEscape(prompt), dim.Width, dim.Height, seedFor(q.Topic))
	return []Candidate{{
		URL:    link,
		Width:  dim.Width,
		Height: dim.Height,
		Title:  q.Topic,
		Source: "prompt",
	}}, nil
}

// enhancePrompt adds photographic modifiers to a topic.
func enhancePrompt(topic string) string {
	return strings.TrimSpace(topic) +
		", editorial news photograph, natural lighting, photorealistic, 4K, no text, no watermark"
}

// seedFor keeps the generated image stable for a topic.
func seedFor(topic string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(topic)))
	return h.Sum32() % 100000
}
