package visuals

import (
	"context"
	"net/url"
	"path"
	"strings"
)

// Candidate is an image discovered by a source, before validation.
type Candidate struct {
	URL    string
	Width  int
	Height int
	Title  string
	Source string
	// Order is the discovery position across all sources.
	Order int
}

// Scored is a candidate that survived filtering, with its relevance score.
type Scored struct {
	Candidate
	Score   float64
	Matches int
}

// Query describes what a source should look for.
type Query struct {
	Topic string
	Ratio string
	// Hints are image URLs already attached to the trend story.
	Hints []string
}

// Source discovers image candidates.
type Source interface {
	Name() string
	Candidates(ctx context.Context, q Query) ([]Candidate, error)
}

// TrendSource turns the images attached to a trend story into candidates.
type TrendSource struct{}

func (TrendSource) Name() string { return "trend" }

func (TrendSource) Candidates(_ context.Context, q Query) ([]Candidate, error) {
	out := make([]Candidate, 0, len(q.Hints))
	for _, h := range q.Hints {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		out = append(out, Candidate{URL: h, Title: q.Topic, Source: "trend"})
	}
	return out, nil
}

// dedupeKey collapses URLs that differ only by scheme, www prefix, case,
// query string or trailing slash.
func dedupeKey(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.ToLower(raw)
	}
	p := strings.TrimRight(strings.ToLower(path.Clean("/"+u.Path)), "/")
	return hostOf(raw) + p
}

// hostOf returns the lowercased host without a www. prefix.
func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
