package media

import (
	"context"
	"io"
	"net/http"
	"os"

	"github.com/cockroachdb/errors"
)

// ErrTooSmall marks a response body too small to be real media.
var ErrTooSmall = errors.New("downloaded file too small")

// Download fetches url into path, refusing bodies larger than maxBytes.
func Download(ctx context.Context, client *http.Client, url, path string, maxBytes int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; shorts-pipeline/1.0)")

	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "get %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Newf("get %s: HTTP %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return errors.Wrapf(err, "read %s", url)
	}
	if int64(len(data)) > maxBytes {
		return errors.Newf("get %s: body exceeds %d bytes", url, maxBytes)
	}
	if len(data) < 512 {
		return errors.Wrapf(ErrTooSmall, "%s (%d bytes)", url, len(data))
	}
	return errors.Wrap(os.WriteFile(path, data, 0o644), "write download")
}
