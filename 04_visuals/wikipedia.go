package visuals

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

const wikipediaSummaryURL = "https://en.wikipedia.org/api/rest_v1/page/summary/"

// WikipediaSource uses the lead image of the Wikipedia article that best
// matches the topic.
type WikipediaSource struct {
	baseURL    string
	httpClient *http.Client
}

// NewWikipediaSource creates a source against the REST summary endpoint.
// An empty baseURL uses en.wikipedia.org.
func NewWikipediaSource(baseURL string) *WikipediaSource {
	if baseURL == "" {
		baseURL = wikipediaSummaryURL
	}
	return &WikipediaSource{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

func (w *WikipediaSource) Name() string { return "wikipedia" }

func (w *WikipediaSource) Candidates(ctx context.Context, q Query) ([]Candidate, error) {
	query := extractSearchQuery(q.Topic)
	if query == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+url.PathEscape(query), nil)
	if err != nil {
		return nil, errors.Wrap(err, "wikipedia request")
	}
	req.Header.Set("User-Agent", "ShortsPipeline/1.0 (media research)")
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "wikipedia summary")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("wikipedia returned %d", resp.StatusCode)
	}

	var result struct {
		Title         string    `json:"title"`
		OriginalImage wikiImage `json:"originalimage"`
		Thumbnail     wikiImage `json:"thumbnail"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "wikipedia decode")
	}

	img := result.OriginalImage
	if img.Source == "" {
		img = result.Thumbnail
	}
	if img.Source == "" {
		return nil, nil
	}
	return []Candidate{{
		URL:    img.Source,
		Width:  img.Width,
		Height: img.Height,
		Title:  result.Title,
		Source: "wikipedia",
	}}, nil
}

type wikiImage struct {
	Source string `json:"source"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// extractSearchQuery keeps the first four meaningful words of a topic.
func extractSearchQuery(text string) string {
	var kept []string
	for _, w := range strings.Fields(text) {
		clean := strings.Trim(w, ".,!?\"'():;")
		if len(clean) <= 3 || stopwords[strings.ToLower(clean)] {
			continue
		}
		kept = append(kept, clean)
		if len(kept) == 4 {
			break
		}
	}
	return strings.Join(kept, " ")
}
