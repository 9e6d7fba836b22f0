package clips

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shorts-pipeline/config"
	"shorts-pipeline/media"
	"shorts-pipeline/media/mediatest"
	"shorts-pipeline/types"
)

type fakeProvider struct {
	mu        sync.Mutex
	submits   []SubmitRequest
	submitErr func(SubmitRequest) error
	poll      func(taskID string) PollResult
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Submit(_ context.Context, req SubmitRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submits = append(p.submits, req)
	if p.submitErr != nil {
		if err := p.submitErr(req); err != nil {
			return "", err
		}
	}
	return "task-" + strconv.Itoa(len(p.submits)) + "|" + req.ImageURL, nil
}

func (p *fakeProvider) Poll(_ context.Context, taskID string) (PollResult, error) {
	return p.poll(taskID), nil
}

func (p *fakeProvider) submitted() []SubmitRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SubmitRequest(nil), p.submits...)
}

func mediaServer(t *testing.T) *httptest.Server {
	t.Helper()
	payload := []byte(strings.Repeat("m", 1024))
	mux := http.NewServeMux()
	for _, p := range []string{"/video.mp4", "/a.jpg", "/b.jpg"} {
		mux.HandleFunc(p, func(w http.ResponseWriter, r *http.Request) { w.Write(payload) })
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newGenerator(t *testing.T, p VideoProvider, sleeps *[]time.Duration) (*Generator, *mediatest.Runner) {
	t.Helper()
	runner := mediatest.NewRunner()
	cfg := config.Default().Clips
	cfg.MaxPollAttempts = 3
	g := NewGenerator(cfg, p, media.NewFFmpeg(runner, media.Options{}))
	g.WithSleep(func(d time.Duration) {
		if sleeps != nil {
			*sleeps = append(*sleeps, d)
		}
	})
	return g, runner
}

func segment(index int, duration float64, asset int, hero bool) types.Segment {
	seg := types.Segment{Index: index, Kind: types.SegmentContent, Duration: duration, Text: "lava flows", Hero: hero}
	if asset >= 0 {
		seg.AssetIndex = &asset
	}
	return seg
}

func succeedWith(url string) func(string) PollResult {
	return func(string) PollResult { return PollResult{Status: StatusSucceeded, VideoURL: url} }
}

func TestGenerateUsesGenerativeTier(t *testing.T) {
	srv := mediaServer(t)
	p := &fakeProvider{poll: succeedWith(srv.URL + "/video.mp4")}
	g, runner := newGenerator(t, p, nil)
	assets := []*types.VisualAsset{{SourceURL: srv.URL + "/a.jpg"}}

	clip := g.Generate(context.Background(), types.NewJobContext("j"), Request{
		Segment: segment(1, 6.5, 0, false), Ratio: types.Ratio9x16, Assets: assets, OutDir: t.TempDir(),
	})

	assert.Equal(t, types.TierGenerative, clip.Tier)
	assert.Equal(t, 6.5, clip.Duration)
	assert.InDelta(t, 6.5, runner.DurationOf(clip.Path), 1e-9)
	assert.Equal(t, srv.URL+"/a.jpg", clip.AssetURL)
	require.Len(t, p.submitted(), 1)
	assert.Equal(t, srv.URL+"/a.jpg", p.submitted()[0].ImageURL)
	assert.Equal(t, config.Default().Clips.NegativePrompt, p.submitted()[0].NegativePrompt)
	assert.Len(t, runner.CallsMatching("tpad=stop_mode=clone"), 1)
}

func TestRejectionBansAssetForRestOfJob(t *testing.T) {
	srv := mediaServer(t)
	p := &fakeProvider{
		submitErr: func(SubmitRequest) error {
			return errors.Mark(errors.New("risk control"), ErrContentRejected)
		},
		poll: succeedWith(srv.URL + "/video.mp4"),
	}
	g, runner := newGenerator(t, p, nil)
	jc := types.NewJobContext("j")
	assets := []*types.VisualAsset{{SourceURL: srv.URL + "/a.jpg"}}
	dir := t.TempDir()

	first := g.Generate(context.Background(), jc, Request{Segment: segment(1, 5, 0, false), Assets: assets, OutDir: dir})
	second := g.Generate(context.Background(), jc, Request{Segment: segment(2, 4, 0, false), Assets: assets, OutDir: dir})

	assert.True(t, jc.Banned(srv.URL+"/a.jpg"))
	assert.Len(t, p.submitted(), 1, "banned asset is never resubmitted")
	assert.Equal(t, types.TierAnimatedStill, first.Tier, "banned asset stays usable as a still")
	assert.Equal(t, types.TierAnimatedStill, second.Tier)
	assert.InDelta(t, 4.0, runner.DurationOf(second.Path), 1e-9)
}

func TestHeroSegmentTriesAlternateAsset(t *testing.T) {
	srv := mediaServer(t)
	p := &fakeProvider{poll: func(taskID string) PollResult {
		if strings.HasSuffix(taskID, "/a.jpg") {
			return PollResult{Status: StatusRejected, Reason: "sensitive content"}
		}
		return PollResult{Status: StatusSucceeded, VideoURL: srv.URL + "/video.mp4"}
	}}
	g, _ := newGenerator(t, p, nil)
	jc := types.NewJobContext("j")
	assets := []*types.VisualAsset{{SourceURL: srv.URL + "/a.jpg"}, {SourceURL: srv.URL + "/b.jpg"}}

	clip := g.Generate(context.Background(), jc, Request{Segment: segment(1, 5, 0, true), Assets: assets, OutDir: t.TempDir()})

	assert.Equal(t, types.TierGenerativeAlt, clip.Tier)
	assert.Equal(t, srv.URL+"/b.jpg", clip.AssetURL)
	assert.True(t, jc.Banned(srv.URL+"/a.jpg"))
	subs := p.submitted()
	require.Len(t, subs, 2)
	assert.NotEqual(t, subs[0].Prompt, subs[1].Prompt)
}

func TestPollTimeoutAdvancesTier(t *testing.T) {
	var sleeps []time.Duration
	p := &fakeProvider{poll: func(string) PollResult { return PollResult{Status: StatusPending} }}
	g, runner := newGenerator(t, p, &sleeps)

	clip := g.Generate(context.Background(), types.NewJobContext("j"), Request{
		Segment: segment(3, 7.25, -1, false), OutDir: t.TempDir(),
	})

	assert.Equal(t, types.TierPlaceholder, clip.Tier)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, sleeps)
	assert.InDelta(t, 7.25, runner.DurationOf(clip.Path), 1e-9)
	assert.Len(t, runner.CallsMatching("color=c=0x111111"), 1)
}

func TestSubmitAndPollReportsTimeout(t *testing.T) {
	p := &fakeProvider{poll: func(string) PollResult { return PollResult{Status: StatusPending} }}
	g, _ := newGenerator(t, p, nil)
	_, err := g.submitAndPoll(context.Background(), SubmitRequest{Prompt: "x"})
	assert.True(t, errors.Is(err, ErrPollTimeout))
}

func TestAllPathsFailingStillYieldsExactClip(t *testing.T) {
	p := &fakeProvider{submitErr: func(SubmitRequest) error { return errors.New("provider down") }}
	for _, d := range []float64{3, 4.25, 13.5} {
		g, runner := newGenerator(t, p, nil)
		jc := types.NewJobContext("j")
		assets := []*types.VisualAsset{{SourceURL: "http://127.0.0.1:1/gone.jpg"}}

		clip := g.Generate(context.Background(), jc, Request{Segment: segment(1, d, 0, true), Assets: assets, OutDir: t.TempDir()})

		assert.Equal(t, types.TierPlaceholder, clip.Tier)
		assert.NotEmpty(t, clip.Path)
		assert.InDelta(t, d, runner.DurationOf(clip.Path), 1e-9)
		assert.True(t, jc.Unreachable("http://127.0.0.1:1/gone.jpg"))
	}
}

func TestStillPrefersUnusedAssets(t *testing.T) {
	srv := mediaServer(t)
	g, _ := newGenerator(t, nil, nil)
	jc := types.NewJobContext("j")
	assets := []*types.VisualAsset{{SourceURL: srv.URL + "/a.jpg"}, {SourceURL: srv.URL + "/b.jpg"}}
	dir := t.TempDir()

	first := g.Generate(context.Background(), jc, Request{Segment: segment(1, 5, -1, false), Assets: assets, OutDir: dir})
	second := g.Generate(context.Background(), jc, Request{Segment: segment(2, 5, -1, false), Assets: assets, OutDir: dir})
	third := g.Generate(context.Background(), jc, Request{Segment: segment(3, 5, -1, false), Assets: assets, OutDir: dir})

	assert.Equal(t, srv.URL+"/a.jpg", first.AssetURL)
	assert.Equal(t, srv.URL+"/b.jpg", second.AssetURL)
	assert.Equal(t, types.TierPlaceholder, third.Tier)
}

func TestKlingSubmitAndPoll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		tok, err := jwt.Parse(raw, func(*jwt.Token) (any, error) { return []byte("sk"), nil })
		require.NoError(t, err)
		assert.Equal(t, "ak", tok.Claims.(jwt.MapClaims)["iss"])

		switch {
		case r.Method == http.MethodPost && r.URL.Path == klingImagePath:
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "kling-v1-6", body["model_name"])
			assert.Equal(t, "https://img/a.jpg", body["image"])
			assert.Equal(t, "10", body["duration"])
			w.Write([]byte(`{"code":0,"message":"SUCCEED","data":{"task_id":"t1","task_status":"submitted"}}`))
		case r.Method == http.MethodPost && r.URL.Path == klingTextPath:
			w.Write([]byte(`{"code":1301,"message":"risk control triggered"}`))
		case r.URL.Path == klingImagePath+"/t1":
			w.Write([]byte(`{"code":0,"data":{"task_id":"t1","task_status":"succeed","task_result":{"videos":[{"url":"https://cdn/v.mp4","duration":"10"}]}}}`))
		case r.URL.Path == klingImagePath+"/t2":
			w.Write([]byte(`{"code":0,"data":{"task_id":"t2","task_status":"failed","task_status_msg":"Failure to pass the risk control system"}}`))
		default:
			w.Write([]byte(`{"code":0,"data":{"task_status":"processing"}}`))
		}
	}))
	defer srv.Close()

	k := NewKling(srv.URL, "ak", "sk", "kling-v1-6", 0)
	ctx := context.Background()

	id, err := k.Submit(ctx, SubmitRequest{ImageURL: "https://img/a.jpg", Prompt: "p", Seconds: 8})
	require.NoError(t, err)
	assert.Equal(t, klingImagePath+"/t1", id)

	res, err := k.Poll(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, PollResult{Status: StatusSucceeded, VideoURL: "https://cdn/v.mp4"}, res)

	res, err = k.Poll(ctx, klingImagePath+"/t2")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, res.Status)

	res, err = k.Poll(ctx, klingImagePath+"/t3")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, res.Status)

	_, err = k.Submit(ctx, SubmitRequest{Prompt: "p", Ratio: types.Ratio9x16})
	assert.True(t, errors.Is(err, ErrContentRejected))
}
