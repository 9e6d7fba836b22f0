package llm

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const (
	baseBackoff = 2 * time.Second
	maxBackoff  = 32 * time.Second
)

// OpenAI completes with the chat completions API, backing off on 429.
type OpenAI struct {
	client      openai.Client
	model       string
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
}

// NewOpenAI returns a client for model. Extra options are passed to the SDK.
func NewOpenAI(apiKey, model string, timeout time.Duration, maxRetries int, opts ...option.RequestOption) (*OpenAI, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key not set")
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAI{
		client:      openai.NewClient(opts...),
		model:       model,
		timeout:     timeout,
		maxRetries:  maxRetries,
		baseBackoff: baseBackoff,
	}, nil
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	var msgs []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	msgs = append(msgs, openai.UserMessage(req.Prompt))
	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(o.model),
		Messages:    msgs,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
		}
	}

	var lastErr error
	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		if attempt > 0 {
			wait := min(o.baseBackoff<<(attempt-1), maxBackoff)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(wait):
			}
		}
		completion, err := o.client.Chat.Completions.New(ctx, params)
		if err != nil {
			lastErr = err
			if isRateLimit(err) {
				continue
			}
			return "", errors.Wrap(err, "openai completion")
		}
		if len(completion.Choices) == 0 {
			return "", errors.New("openai: no choices returned")
		}
		return completion.Choices[0].Message.Content, nil
	}
	return "", errors.Wrapf(lastErr, "openai: rate limited after %d retries", o.maxRetries)
}

func isRateLimit(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}
