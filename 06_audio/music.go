package audio

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"shorts-pipeline/logger"
	"shorts-pipeline/media"
)

// MusicSource finds a royalty-free track for a search term. An empty
// result with a nil error means nothing matched.
type MusicSource interface {
	Name() string
	Search(ctx context.Context, term string) (string, error)
}

// Jamendo searches the Jamendo tracks API.
type Jamendo struct {
	baseURL  string
	clientID string
	http     *http.Client
}

// NewJamendo returns a Jamendo source.
func NewJamendo(baseURL, clientID string) *Jamendo {
	return &Jamendo{
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: clientID,
		http:     &http.Client{Timeout: 15 * time.Second},
	}
}

func (j *Jamendo) Name() string { return "jamendo" }

// Search returns the audio URL of the most popular downloadable track
// tagged with term.
func (j *Jamendo) Search(ctx context.Context, term string) (string, error) {
	q := url.Values{}
	q.Set("client_id", j.clientID)
	q.Set("format", "json")
	q.Set("limit", "5")
	q.Set("tags", term)
	q.Set("audioformat", "mp32")
	q.Set("order", "popularity_total")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.baseURL+"/tracks/?"+q.Encode(), nil)
	if err != nil {
		return "", errors.Wrap(err, "jamendo request")
	}
	resp, err := j.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "jamendo search")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Newf("jamendo search: HTTP %d", resp.StatusCode)
	}

	var body struct {
		Headers struct {
			Status       string `json:"status"`
			ErrorMessage string `json:"error_message"`
		} `json:"headers"`
		Results []struct {
			Name            string `json:"name"`
			Audio           string `json:"audio"`
			DownloadAllowed bool   `json:"audiodownload_allowed"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", errors.Wrap(err, "jamendo decode")
	}
	if body.Headers.Status == "failed" {
		return "", errors.Newf("jamendo: %s", body.Headers.ErrorMessage)
	}
	for _, r := range body.Results {
		if r.Audio != "" && r.DownloadAllowed {
			return r.Audio, nil
		}
	}
	return "", nil
}

// MusicFinder tries sources in order and materializes the first hit as a
// local file.
type MusicFinder struct {
	sources  []MusicSource
	http     *http.Client
	maxBytes int64
	log      *zap.SugaredLogger
}

// NewMusicFinder returns a finder over sources.
func NewMusicFinder(sources ...MusicSource) *MusicFinder {
	return &MusicFinder{
		sources:  sources,
		http:     &http.Client{Timeout: 60 * time.Second},
		maxBytes: 30 << 20,
		log:      logger.Named("music"),
	}
}

// Find returns a local music file for term, or "" when no source had one.
// Failures are logged, never returned: the video proceeds narration-only.
func (m *MusicFinder) Find(ctx context.Context, term, outDir string) string {
	for _, src := range m.sources {
		loc, err := src.Search(ctx, term)
		if err != nil {
			m.log.Warnw("music search failed", "source", src.Name(), "term", term, "error", err)
			continue
		}
		if loc == "" {
			continue
		}
		if !strings.HasPrefix(loc, "http://") && !strings.HasPrefix(loc, "https://") {
			m.log.Infow("music selected", "source", src.Name(), "file", loc)
			return loc
		}
		path := filepath.Join(outDir, "music"+extOf(loc))
		if err := media.Download(ctx, m.http, loc, path, m.maxBytes); err != nil {
			m.log.Warnw("music download failed", "source", src.Name(), "error", err)
			continue
		}
		m.log.Infow("music selected", "source", src.Name(), "url", loc)
		return path
	}
	m.log.Infow("no background music found", "term", term)
	return ""
}

func extOf(raw string) string {
	u, err := url.Parse(raw)
	if err == nil {
		if ext := filepath.Ext(u.Path); ext != "" && len(ext) <= 5 {
			return ext
		}
	}
	return ".mp3"
}
