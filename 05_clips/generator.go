package clips

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"shorts-pipeline/config"
	"shorts-pipeline/logger"
	"shorts-pipeline/media"
	"shorts-pipeline/types"
)

const maxVideoBytes = 200 << 20

// Request is one segment's clip job.
type Request struct {
	JobID   string
	Segment types.Segment
	Ratio   string
	// Assets are the job's validated visuals; Segment.AssetIndex points
	// into this slice.
	Assets []*types.VisualAsset
	OutDir string
}

// Generator produces one clip per segment by walking the tiers in order:
// generative video, the alternate generative path for hero segments, an
// animated still, and a flat placeholder.
type Generator struct {
	cfg      config.ClipsConfig
	provider VideoProvider
	ff       *media.FFmpeg
	client   *http.Client
	sleep    func(time.Duration)
	log      *zap.SugaredLogger
}

// NewGenerator wires a generator. A nil provider disables generative tiers.
func NewGenerator(cfg config.ClipsConfig, provider VideoProvider, ff *media.FFmpeg) *Generator {
	return &Generator{
		cfg:      cfg,
		provider: provider,
		ff:       ff,
		client:   &http.Client{Timeout: 5 * time.Minute},
		sleep:    time.Sleep,
		log:      logger.Named("clips"),
	}
}

// WithSleep replaces the poll interval sleep.
func (g *Generator) WithSleep(sleep func(time.Duration)) *Generator {
	g.sleep = sleep
	return g
}

// Generate always returns a clip of exactly the segment's duration.
// Provider failures only move the segment to the next tier.
func (g *Generator) Generate(ctx context.Context, jc *types.JobContext, req Request) types.Clip {
	seg := req.Segment
	dim := types.DimensionsFor(req.Ratio)
	base := filepath.Join(req.OutDir, fmt.Sprintf("clip%02d", seg.Index))
	primary := assignedAsset(req)

	logFail := func(tier types.Tier, err error) {
		g.log.Warnw("clip tier failed",
			"job_id", jc.JobID,
			"segment", seg.Index,
			"tier", tier,
			"error", err,
		)
	}

	if g.provider != nil {
		if primary != nil && jc.Banned(primary.SourceURL) {
			logFail(types.TierGenerative, errors.Newf("asset banned: %s", primary.SourceURL))
		} else {
			clip, err := g.generative(ctx, jc, req, primary, seg.MotionPrompt, base+"_gen", dim)
			if err == nil {
				return g.done(jc, seg, clip, types.TierGenerative, primary)
			}
			logFail(types.TierGenerative, err)
		}

		if seg.Hero {
			alt := alternateAsset(jc, req.Assets, primary)
			if alt == nil && primary != nil && !jc.Banned(primary.SourceURL) {
				alt = primary
			}
			clip, err := g.generative(ctx, jc, req, alt, variantPrompt(seg), base+"_alt", dim)
			if err == nil {
				return g.done(jc, seg, clip, types.TierGenerativeAlt, alt)
			}
			logFail(types.TierGenerativeAlt, err)
		}
	}

	clip, asset, err := g.animatedStill(ctx, jc, req, primary, base+"_still", dim)
	if err == nil {
		return g.done(jc, seg, clip, types.TierAnimatedStill, asset)
	}
	logFail(types.TierAnimatedStill, err)

	return g.done(jc, seg, g.placeholder(ctx, jc, seg, base+"_placeholder.mp4", dim), types.TierPlaceholder, nil)
}

func (g *Generator) done(jc *types.JobContext, seg types.Segment, path string, tier types.Tier, asset *types.VisualAsset) types.Clip {
	clip := types.Clip{Path: path, Duration: seg.Duration, Tier: tier}
	if asset != nil {
		clip.AssetURL = asset.SourceURL
	}
	g.log.Infow("clip ready",
		"job_id", jc.JobID,
		"segment", seg.Index,
		"tier", tier,
		"duration", seg.Duration,
	)
	return clip
}

// generative submits to the provider, polls, downloads and fits the result.
// A safety rejection bans the asset for the rest of the job.
func (g *Generator) generative(ctx context.Context, jc *types.JobContext, req Request, asset *types.VisualAsset, prompt, base string, dim types.Dimensions) (string, error) {
	sub := SubmitRequest{
		Prompt:         prompt,
		NegativePrompt: g.cfg.NegativePrompt,
		Ratio:          req.Ratio,
		Seconds:        req.Segment.Duration,
	}
	if asset != nil {
		sub.ImageURL = asset.URL()
	}

	videoURL, err := g.submitAndPoll(ctx, sub)
	if err != nil {
		if asset != nil && errors.Is(err, ErrContentRejected) {
			jc.Ban(asset.SourceURL, err.Error())
			g.log.Warnw("asset banned for generative tiers",
				"job_id", jc.JobID,
				"segment", req.Segment.Index,
				"asset", asset.SourceURL,
			)
		}
		return "", err
	}

	raw := base + "_raw.mp4"
	defer os.Remove(raw)
	if err := media.Download(ctx, g.client, videoURL, raw, maxVideoBytes); err != nil {
		return "", errors.Wrap(err, "download generated video")
	}
	out := base + ".mp4"
	if err := g.ff.FitVideo(ctx, raw, out, dim, req.Segment.Duration); err != nil {
		return "", err
	}
	return out, nil
}

func (g *Generator) submitAndPoll(ctx context.Context, sub SubmitRequest) (string, error) {
	taskID, err := g.provider.Submit(ctx, sub)
	if err != nil {
		return "", err
	}
	attempts := max(1, g.cfg.MaxPollAttempts)
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		res, err := g.provider.Poll(ctx, taskID)
		switch {
		case err != nil:
			if errors.Is(err, ErrContentRejected) {
				return "", err
			}
			g.log.Debugw("poll error", "task", taskID, "attempt", attempt, "error", err)
		case res.Status == StatusSucceeded:
			return res.VideoURL, nil
		case res.Status == StatusRejected:
			return "", errors.Mark(errors.Newf("task %s: %s", taskID, res.Reason), ErrContentRejected)
		case res.Status == StatusFailed:
			return "", errors.Newf("task %s failed: %s", taskID, res.Reason)
		}
		if attempt < attempts {
			g.sleep(g.cfg.PollInterval)
		}
	}
	return "", errors.Wrapf(ErrPollTimeout, "task %s after %d attempts", taskID, attempts)
}

func assignedAsset(req Request) *types.VisualAsset {
	i := req.Segment.AssetIndex
	if i == nil || *i < 0 || *i >= len(req.Assets) {
		return nil
	}
	return req.Assets[*i]
}

// alternateAsset returns the first asset other than primary that may still
// go to a generative provider.
func alternateAsset(jc *types.JobContext, assets []*types.VisualAsset, primary *types.VisualAsset) *types.VisualAsset {
	for _, a := range assets {
		if a == nil || a == primary {
			continue
		}
		if primary != nil && a.SourceURL == primary.SourceURL {
			continue
		}
		if jc.Banned(a.SourceURL) || jc.Unreachable(a.SourceURL) {
			continue
		}
		return a
	}
	return nil
}

func variantPrompt(seg types.Segment) string {
	subject := seg.Label
	if subject == "" {
		subject = seg.Text
	}
	return "slow cinematic camera push-in, subtle natural motion, documentary style: " + subject
}
