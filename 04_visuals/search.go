package visuals

import (
	"context"

	"github.com/cockroachdb/errors"
	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"
)

// SearchSource finds images through Google Programmable Search.
type SearchSource struct {
	svc *customsearch.Service
	cx  string
	num int64
}

// NewSearchSource creates an image search source for engine cx.
func NewSearchSource(ctx context.Context, apiKey, cx string, num int64, opts ...option.ClientOption) (*SearchSource, error) {
	if apiKey == "" || cx == "" {
		return nil, errors.New("custom search: api key and engine id are required")
	}
	if num <= 0 || num > 10 {
		num = 10
	}
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := customsearch.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "custom search client")
	}
	return &SearchSource{svc: svc, cx: cx, num: num}, nil
}

func (s *SearchSource) Name() string { return "search" }

func (s *SearchSource) Candidates(ctx context.Context, q Query) ([]Candidate, error) {
	if q.Topic == "" {
		return nil, nil
	}
	res, err := s.svc.Cse.List().
		Cx(s.cx).
		Q(q.Topic).
		SearchType("image").
		Safe("active").
		Num(s.num).
		Context(ctx).
		Do()
	if err != nil {
		return nil, errors.Wrapf(err, "image search %q", q.Topic)
	}
	return fromSearchItems(res.Items), nil
}

func fromSearchItems(items []*customsearch.Result) []Candidate {
	out := make([]Candidate, 0, len(items))
	for _, it := range items {
		if it == nil || it.Link == "" {
			continue
		}
		c := Candidate{URL: it.Link, Title: it.Title, Source: "search"}
		if it.Image != nil {
			c.Width = int(it.Image.Width)
			c.Height = int(it.Image.Height)
		}
		out = append(out, c)
	}
	return out
}
