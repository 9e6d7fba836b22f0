package llm

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini completes with Google's Gemini models.
type Gemini struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGemini dials the Gemini API. Close releases the connection.
func NewGemini(ctx context.Context, apiKey, model string, timeout time.Duration) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: api key not set")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrap(err, "gemini client")
	}
	return &Gemini{client: client, model: model, timeout: timeout}, nil
}

func (g *Gemini) Name() string { return "gemini" }

// Close shuts the underlying client.
func (g *Gemini) Close() error { return g.client.Close() }

func (g *Gemini) Complete(ctx context.Context, req Request) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(float32(req.Temperature))
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.JSON {
		model.ResponseMIMEType = "application/json"
	}
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return "", errors.Wrap(err, "gemini generate")
	}
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		break
	}
	if sb.Len() == 0 {
		return "", errors.New("gemini: empty response")
	}
	return sb.String(), nil
}
