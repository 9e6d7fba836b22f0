package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/openai/openai-go/v3/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scripted struct {
	name    string
	answers []string
	err     error
	prompts []string
}

func (s *scripted) Name() string { return s.name }

func (s *scripted) Complete(_ context.Context, req Request) (string, error) {
	s.prompts = append(s.prompts, req.Prompt)
	if s.err != nil {
		return "", s.err
	}
	if len(s.answers) == 0 {
		return "", fmt.Errorf("no more answers")
	}
	out := s.answers[0]
	s.answers = s.answers[1:]
	return out, nil
}

func TestCleanJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, CleanJSON("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, CleanJSON("Sure! Here it is: {\"a\":1} Hope that helps."))
	assert.Equal(t, `[1,2]`, CleanJSON("```\n[1,2]\n```"))
	assert.Equal(t, "plain", CleanJSON("  plain "))
}

func TestCompleteJSONRetriesOnce(t *testing.T) {
	c := &scripted{name: "s", answers: []string{"not json at all", "```json\n{\"title\":\"ok\"}\n```"}}
	var out struct {
		Title string `json:"title"`
	}

	err := CompleteJSON(context.Background(), c, Request{Prompt: "p"}, &out, 1)

	require.NoError(t, err)
	assert.Equal(t, "ok", out.Title)
	require.Len(t, c.prompts, 2)
	assert.Contains(t, c.prompts[1], "not valid JSON")
}

func TestCompleteJSONGivesUp(t *testing.T) {
	c := &scripted{name: "s", answers: []string{"nope", "still nope"}}
	var out map[string]any

	err := CompleteJSON(context.Background(), c, Request{Prompt: "p"}, &out, 1)

	assert.True(t, errors.Is(err, ErrInvalidJSON))
}

func TestChainFallsBack(t *testing.T) {
	bad := &scripted{name: "bad", err: fmt.Errorf("quota")}
	good := &scripted{name: "good", answers: []string{"hello"}}
	chain := NewChain(bad, nil, good)

	out, err := chain.Complete(context.Background(), Request{Prompt: "p"})

	require.NoError(t, err)
	assert.Equal(t, "hello", out)
	assert.Equal(t, 2, chain.Len())
	assert.Equal(t, "bad,good", chain.Name())
}

func TestChainAllFail(t *testing.T) {
	_, err := NewChain().Complete(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrNoProvider)

	chain := NewChain(&scripted{name: "a", err: fmt.Errorf("x")}, &scripted{name: "b", err: fmt.Errorf("y")})
	_, err = chain.Complete(context.Background(), Request{})
	assert.Error(t, err)
}

const completionBody = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-4o-mini",
  "choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "{\"ok\":true}"}}],
  "usage": {"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2}
}`

func TestOpenAIBacksOffOnRateLimit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		if hits.Add(1) == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody))
	}))
	defer srv.Close()

	client, err := NewOpenAI("sk-test", "gpt-4o-mini", 5*time.Second, 2,
		option.WithBaseURL(srv.URL+"/"),
		option.WithMaxRetries(0),
	)
	require.NoError(t, err)
	client.baseBackoff = time.Millisecond

	out, err := client.Complete(context.Background(), Request{Prompt: "hi", JSON: true})

	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)
	assert.EqualValues(t, 2, hits.Load())
}

func TestOpenAIRequiresKey(t *testing.T) {
	_, err := NewOpenAI("", "m", 0, 0)
	assert.Error(t, err)
}
