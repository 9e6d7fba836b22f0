package clips

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

const (
	klingImagePath = "/v1/videos/image2video"
	klingTextPath  = "/v1/videos/text2video"

	// klingRiskCode is returned when input fails content review.
	klingRiskCode = 1301
)

// Kling is the Kling AI video generation API.
type Kling struct {
	baseURL   string
	accessKey string
	secretKey string
	model     string
	client    *http.Client
	limiter   *rate.Limiter
	now       func() time.Time
}

// NewKling returns a Kling client. Submissions are limited to rps per
// second.
func NewKling(baseURL, accessKey, secretKey, model string, rps float64) *Kling {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Kling{
		baseURL:   strings.TrimRight(baseURL, "/"),
		accessKey: accessKey,
		secretKey: secretKey,
		model:     model,
		client:    &http.Client{Timeout: 60 * time.Second},
		limiter:   rate.NewLimiter(limit, 1),
		now:       time.Now,
	}
}

func (k *Kling) Name() string { return "kling" }

// token signs a short-lived HS256 bearer token from the key pair.
func (k *Kling) token() (string, error) {
	now := k.now()
	claims := jwt.MapClaims{
		"iss": k.accessKey,
		"exp": now.Add(30 * time.Minute).Unix(),
		"nbf": now.Add(-5 * time.Second).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(k.secretKey))
	return signed, errors.Wrap(err, "kling token")
}

type klingEnvelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		TaskID        string `json:"task_id"`
		TaskStatus    string `json:"task_status"`
		TaskStatusMsg string `json:"task_status_msg"`
		TaskResult    struct {
			Videos []struct {
				URL      string `json:"url"`
				Duration string `json:"duration"`
			} `json:"videos"`
		} `json:"task_result"`
	} `json:"data"`
}

// Submit creates an image-to-video task, or text-to-video without an
// image. The returned id encodes which endpoint owns the task.
func (k *Kling) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if err := k.limiter.Wait(ctx); err != nil {
		return "", err
	}
	duration := "5"
	if req.Seconds > 5 {
		duration = "10"
	}
	body := map[string]any{
		"model_name":      k.model,
		"prompt":          req.Prompt,
		"negative_prompt": req.NegativePrompt,
		"duration":        duration,
		"mode":            "std",
		"cfg_scale":       0.5,
	}
	path := klingTextPath
	if req.ImageURL != "" {
		path = klingImagePath
		body["image"] = req.ImageURL
	} else {
		body["aspect_ratio"] = req.Ratio
	}

	var env klingEnvelope
	if err := k.do(ctx, http.MethodPost, path, body, &env); err != nil {
		return "", errors.Wrap(err, "kling submit")
	}
	if env.Data.TaskID == "" {
		return "", errors.Newf("kling submit: no task id (%s)", env.Message)
	}
	return path + "/" + env.Data.TaskID, nil
}

// Poll checks a task created by Submit.
func (k *Kling) Poll(ctx context.Context, taskID string) (PollResult, error) {
	var env klingEnvelope
	if err := k.do(ctx, http.MethodGet, taskID, nil, &env); err != nil {
		return PollResult{}, errors.Wrap(err, "kling poll")
	}
	d := env.Data
	switch d.TaskStatus {
	case "succeed":
		if len(d.TaskResult.Videos) == 0 || d.TaskResult.Videos[0].URL == "" {
			return PollResult{Status: StatusFailed, Reason: "no video in result"}, nil
		}
		return PollResult{Status: StatusSucceeded, VideoURL: d.TaskResult.Videos[0].URL}, nil
	case "failed":
		if isRiskMessage(d.TaskStatusMsg) {
			return PollResult{Status: StatusRejected, Reason: d.TaskStatusMsg}, nil
		}
		return PollResult{Status: StatusFailed, Reason: d.TaskStatusMsg}, nil
	default:
		return PollResult{Status: StatusPending}, nil
	}
}

func (k *Kling) do(ctx context.Context, method, path string, payload any, out *klingEnvelope) error {
	token, err := k.token()
	if err != nil {
		return err
	}
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, k.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := k.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode response (HTTP %d)", resp.StatusCode)
	}
	if out.Code == klingRiskCode || (out.Code != 0 && isRiskMessage(out.Message)) {
		return errors.Mark(errors.Newf("code %d: %s", out.Code, out.Message), ErrContentRejected)
	}
	if out.Code != 0 || resp.StatusCode >= 300 {
		return errors.Newf("HTTP %d code %d: %s", resp.StatusCode, out.Code, out.Message)
	}
	return nil
}

func isRiskMessage(msg string) bool {
	m := strings.ToLower(msg)
	for _, w := range []string{"risk", "sensitive", "safety", "inappropriate", "violat"} {
		if strings.Contains(m, w) {
			return true
		}
	}
	return false
}
