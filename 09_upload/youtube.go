package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"shorts-pipeline/config"
	"shorts-pipeline/logger"
	"shorts-pipeline/types"
)

// Result describes a published video.
type Result struct {
	VideoID   string     `json:"video_id"`
	URL       string     `json:"url"`
	Scheduled bool       `json:"scheduled"`
	PublishAt *time.Time `json:"publish_at,omitempty"`
}

// Publisher uploads a finished file with its metadata.
type Publisher interface {
	Upload(ctx context.Context, file string, meta *types.VideoMetadata) (Result, error)
}

// YouTube publishes through the Data API v3.
type YouTube struct {
	svc *youtube.Service
	cfg config.UploadConfig
	log *zap.SugaredLogger
}

// NewYouTube authenticates with the refresh token from env. Extra client
// options are appended after the OAuth client.
func NewYouTube(ctx context.Context, cfg config.UploadConfig, env config.Env, opts ...option.ClientOption) (*YouTube, error) {
	if !env.HasYouTube() {
		return nil, errors.New("YOUTUBE_CLIENT_ID, YOUTUBE_CLIENT_SECRET or YOUTUBE_REFRESH_TOKEN not set")
	}
	conf := &oauth2.Config{
		ClientID:     env.YouTubeClientID,
		ClientSecret: env.YouTubeClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{youtube.YoutubeUploadScope, youtube.YoutubeScope},
	}
	token := &oauth2.Token{
		RefreshToken: env.YouTubeRefreshToken,
		Expiry:       time.Now().Add(-time.Hour),
	}
	opts = append([]option.ClientOption{option.WithHTTPClient(conf.Client(ctx, token))}, opts...)
	return newYouTube(ctx, cfg, opts...)
}

func newYouTube(ctx context.Context, cfg config.UploadConfig, opts ...option.ClientOption) (*YouTube, error) {
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "youtube service")
	}
	return &YouTube{svc: svc, cfg: cfg, log: logger.Named("upload")}, nil
}

// Upload inserts the video. A metadata publish time makes the upload
// private with a scheduled publishAt.
func (y *YouTube) Upload(ctx context.Context, file string, meta *types.VideoMetadata) (Result, error) {
	f, err := os.Open(file)
	if err != nil {
		return Result{}, errors.Wrap(err, "open video")
	}
	defer f.Close()

	status := &youtube.VideoStatus{
		PrivacyStatus:           meta.Visibility,
		SelfDeclaredMadeForKids: y.cfg.MadeForKids,
	}
	var res Result
	if meta.PublishAt != nil {
		status.PrivacyStatus = "private"
		status.PublishAt = meta.PublishAt.UTC().Format(time.RFC3339)
		res.Scheduled = true
		res.PublishAt = meta.PublishAt
	}
	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:                meta.Title,
			Description:          meta.Description,
			Tags:                 meta.Tags,
			CategoryId:           meta.CategoryID,
			DefaultLanguage:      y.cfg.DefaultLanguage,
			DefaultAudioLanguage: y.cfg.DefaultLanguage,
		},
		Status: status,
	}

	y.log.Infow("uploading video", "title", meta.Title, "file", file, "scheduled", res.Scheduled)
	uploaded, err := y.svc.Videos.Insert([]string{"snippet", "status"}, video).
		NotifySubscribers(y.cfg.NotifySubscribers).
		Media(f).
		Context(ctx).
		Do()
	if err != nil {
		return Result{}, errors.Wrap(err, "youtube upload")
	}

	res.VideoID = uploaded.Id
	res.URL = fmt.Sprintf("https://www.youtube.com/shorts/%s", uploaded.Id)
	y.log.Infow("video uploaded", "video_id", res.VideoID, "url", res.URL)
	return res, nil
}

// WriteReceipt saves the upload result next to the video.
func WriteReceipt(dir, jobID string, res Result, meta *types.VideoMetadata) (string, error) {
	entry := map[string]any{
		"job_id":      jobID,
		"video_id":    res.VideoID,
		"video_url":   res.URL,
		"title":       meta.Title,
		"scheduled":   res.Scheduled,
		"publish_at":  res.PublishAt,
		"uploaded_at": time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "encode receipt")
	}
	path := filepath.Join(dir, fmt.Sprintf("upload_%s.json", jobID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrap(err, "write receipt")
	}
	return path, nil
}
