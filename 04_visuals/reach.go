package visuals

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"
)

// ErrUnreachable is returned when a candidate cannot be fetched as an image.
var ErrUnreachable = errors.New("asset unreachable")

// Prober checks that an image URL answers before it is committed to.
type Prober struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewProber rate limits checks to rps requests per second.
func NewProber(client *http.Client, rps float64) *Prober {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Prober{client: client, limiter: rate.NewLimiter(limit, 1)}
}

// Check issues a HEAD and falls back to a one-byte ranged GET for hosts
// that refuse HEAD. It returns the content length when known, else -1.
func (p *Prober) Check(ctx context.Context, rawURL string) (int64, error) {
	size, headErr := p.do(ctx, http.MethodHead, rawURL)
	if headErr == nil {
		return size, nil
	}
	size, err := p.do(ctx, http.MethodGet, rawURL)
	if err != nil {
		return -1, errors.Mark(errors.Wrapf(err, "probe %s (head: %v)", rawURL, headErr), ErrUnreachable)
	}
	return size, nil
}

func (p *Prober) do(ctx context.Context, method, rawURL string) (int64, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return -1, err
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return -1, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; ShortsPipeline/1.0)")
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return -1, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return -1, errors.Newf("%s returned %d", method, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		return -1, errors.Newf("not an image: %s", ct)
	}
	if resp.StatusCode == http.StatusPartialContent {
		return totalFromContentRange(resp.Header.Get("Content-Range")), nil
	}
	return resp.ContentLength, nil
}

// totalFromContentRange parses "bytes 0-0/12345".
func totalFromContentRange(h string) int64 {
	i := strings.LastIndex(h, "/")
	if i < 0 {
		return -1
	}
	n, err := strconv.ParseInt(h[i+1:], 10, 64)
	if err != nil {
		return -1
	}
	return n
}
