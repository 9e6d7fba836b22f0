package upload

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"shorts-pipeline/config"
	"shorts-pipeline/types"
)

func TestUploadSchedulesPrivate(t *testing.T) {
	var body string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "vid123"}`))
	}))
	defer srv.Close()

	yt, err := newYouTube(context.Background(), config.Default().Upload,
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)

	file := filepath.Join(t.TempDir(), "final.mp4")
	require.NoError(t, os.WriteFile(file, []byte("fake video bytes"), 0o644))
	at := time.Date(2026, 5, 1, 14, 0, 0, 0, time.UTC)
	meta := &types.VideoMetadata{Title: "T", Description: "D", Tags: []string{"a"}, CategoryID: "24", Visibility: "public", PublishAt: &at}

	res, err := yt.Upload(context.Background(), file, meta)

	require.NoError(t, err)
	assert.Equal(t, "vid123", res.VideoID)
	assert.Equal(t, "https://www.youtube.com/shorts/vid123", res.URL)
	assert.True(t, res.Scheduled)
	assert.True(t, strings.HasSuffix(path, "youtube/v3/videos"))
	assert.Contains(t, body, `"privacyStatus":"private"`)
	assert.Contains(t, body, `"publishAt":"2026-05-01T14:00:00Z"`)
	assert.Contains(t, body, "fake video bytes")
}

func TestUploadMissingFile(t *testing.T) {
	yt, err := newYouTube(context.Background(), config.Default().Upload,
		option.WithEndpoint("http://127.0.0.1:1/"),
		option.WithHTTPClient(http.DefaultClient),
	)
	require.NoError(t, err)
	_, err = yt.Upload(context.Background(), filepath.Join(t.TempDir(), "nope.mp4"), &types.VideoMetadata{})
	assert.Error(t, err)
}

func TestNewYouTubeRequiresCredentials(t *testing.T) {
	_, err := NewYouTube(context.Background(), config.Default().Upload, config.Env{})
	assert.Error(t, err)
}

func TestWriteReceipt(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteReceipt(dir, "job1", Result{VideoID: "v", URL: "u"}, &types.VideoMetadata{Title: "T"})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "v", got["video_id"])
	assert.Equal(t, "job1", got["job_id"])
}
