// Package llm is the text-generation capability used for scripts and
// metadata. Providers are interchangeable behind Completer; JSON answers
// are parsed leniently and re-asked once when malformed.
package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"shorts-pipeline/logger"
)

var (
	// ErrInvalidJSON is returned when no attempt produced parseable JSON.
	ErrInvalidJSON = errors.New("llm returned invalid JSON")
	// ErrNoProvider is returned by an empty Chain.
	ErrNoProvider = errors.New("no llm provider configured")
)

// Request is one completion.
type Request struct {
	System      string
	Prompt      string
	JSON        bool
	Temperature float64
	MaxTokens   int
}

// Completer generates text for a prompt.
type Completer interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

// Chain tries each completer in order until one answers.
type Chain struct {
	providers []Completer
	log       *zap.SugaredLogger
}

// NewChain skips nil providers.
func NewChain(providers ...Completer) *Chain {
	c := &Chain{log: logger.Named("llm")}
	for _, p := range providers {
		if p != nil {
			c.providers = append(c.providers, p)
		}
	}
	return c
}

func (c *Chain) Name() string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return strings.Join(names, ",")
}

// Len reports how many providers are configured.
func (c *Chain) Len() int { return len(c.providers) }

func (c *Chain) Complete(ctx context.Context, req Request) (string, error) {
	if len(c.providers) == 0 {
		return "", ErrNoProvider
	}
	var errs error
	for _, p := range c.providers {
		out, err := p.Complete(ctx, req)
		if err == nil {
			return out, nil
		}
		c.log.Warnw("llm provider failed", "provider", p.Name(), "error", err)
		errs = errors.CombineErrors(errs, errors.Wrap(err, p.Name()))
	}
	return "", errs
}

// CompleteJSON asks for JSON and decodes it into out. Fenced or padded
// answers are cleaned first; an unparseable answer is re-asked up to
// retries more times with a stricter instruction.
func CompleteJSON(ctx context.Context, c Completer, req Request, out any, retries int) error {
	req.JSON = true
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			req.Prompt += "\n\nYour previous answer was not valid JSON. Reply with one JSON value only, no prose or code fences."
		}
		text, err := c.Complete(ctx, req)
		if err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(CleanJSON(text)), out); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return errors.Mark(errors.Wrapf(lastErr, "after %d attempts", retries+1), ErrInvalidJSON)
}

// CleanJSON strips markdown fences and surrounding prose, keeping the
// outermost object or array.
func CleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return s[start:]
	}
	return s[start : end+1]
}
