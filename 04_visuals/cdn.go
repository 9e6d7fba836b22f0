package visuals

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"

	"shorts-pipeline/types"
)

// ErrSourceTooLarge is returned when the transform service refuses a source
// because of its size.
var ErrSourceTooLarge = errors.New("source image too large for transform")

// CDN crops and scales a remote image to an exact canvas.
type CDN interface {
	Normalize(ctx context.Context, src string, dim types.Dimensions) (string, error)
}

// Passthrough leaves URLs untouched. Clips are scaled locally anyway.
type Passthrough struct{}

func (Passthrough) Normalize(_ context.Context, src string, _ types.Dimensions) (string, error) {
	return src, nil
}

// Cloudinary normalizes through fetch-mode delivery URLs and verifies the
// transform with a HEAD request.
type Cloudinary struct {
	baseURL string
	cloud   string
	client  *http.Client
}

// NewCloudinary returns a Cloudinary CDN for the given cloud name.
func NewCloudinary(cloud string, client *http.Client) *Cloudinary {
	return &Cloudinary{baseURL: "https://res.cloudinary.com", cloud: cloud, client: client}
}

// WithBaseURL points the CDN at another delivery host.
func (c *Cloudinary) WithBaseURL(base string) *Cloudinary {
	c.baseURL = strings.TrimRight(base, "/")
	return c
}

// FetchURL builds the delivery URL for src at dim.
func (c *Cloudinary) FetchURL(src string, dim types.Dimensions) string {
	return fmt.Sprintf("%s/%s/image/fetch/c_fill,g_auto,w_%d,h_%d,f_auto,q_auto/%s",
		c.baseURL, c.cloud, dim.Width, dim.Height, url.QueryEscape(src))
}

func (c *Cloudinary) Normalize(ctx context.Context, src string, dim types.Dimensions) (string, error) {
	out := c.FetchURL(src, dim)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, out, nil)
	if err != nil {
		return "", errors.Wrap(err, "cdn request")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "cdn transform")
	}
	resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return out, nil
	}
	reason := resp.Header.Get("X-Cld-Error")
	if resp.StatusCode == http.StatusRequestEntityTooLarge || isSizeError(reason) {
		return "", errors.WithDetail(ErrSourceTooLarge, reason)
	}
	return "", errors.Newf("cdn transform: HTTP %d %s", resp.StatusCode, reason)
}

func isSizeError(reason string) bool {
	r := strings.ToLower(reason)
	return strings.Contains(r, "too large") ||
		strings.Contains(r, "file size") ||
		strings.Contains(r, "maximum")
}
