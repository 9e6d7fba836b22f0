package clips

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"

	"shorts-pipeline/media"
	"shorts-pipeline/types"
)

const maxImageBytes = 25 << 20

// animatedStill renders a slow zoom over the segment's asset, or over the
// first unused reachable asset when that one cannot be fetched. Banned
// assets stay eligible here.
func (g *Generator) animatedStill(ctx context.Context, jc *types.JobContext, req Request, primary *types.VisualAsset, base string, dim types.Dimensions) (string, *types.VisualAsset, error) {
	var tried int
	for _, asset := range stillCandidates(jc, req.Assets, primary) {
		if asset != primary && !jc.ClaimStatic(asset.SourceURL) {
			continue
		}
		if asset == primary {
			jc.ClaimStatic(asset.SourceURL)
		}
		tried++

		img := base + "_src" + imageExt(asset.URL())
		if err := media.Download(ctx, g.client, asset.URL(), img, maxImageBytes); err != nil {
			jc.MarkUnreachable(asset.SourceURL)
			g.log.Debugw("still source unavailable", "asset", asset.SourceURL, "error", err)
			continue
		}
		out := base + ".mp4"
		err := g.ff.StillClip(ctx, img, out, dim, req.Segment.Duration, g.cfg.KenBurnsZoom)
		os.Remove(img)
		if err != nil {
			g.log.Debugw("still render failed", "asset", asset.SourceURL, "error", err)
			continue
		}
		return out, asset, nil
	}
	if tried == 0 {
		return "", nil, errors.New("no usable asset")
	}
	return "", nil, errors.Newf("all %d assets failed", tried)
}

func stillCandidates(jc *types.JobContext, assets []*types.VisualAsset, primary *types.VisualAsset) []*types.VisualAsset {
	var out []*types.VisualAsset
	if primary != nil && !jc.Unreachable(primary.SourceURL) {
		out = append(out, primary)
	}
	for _, a := range assets {
		if a == nil || a == primary || jc.Unreachable(a.SourceURL) || jc.UsedStatic(a.SourceURL) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// placeholder is the last tier. A render failure is logged and the path
// is still returned so the segment keeps its slot.
func (g *Generator) placeholder(ctx context.Context, jc *types.JobContext, seg types.Segment, out string, dim types.Dimensions) string {
	if err := g.ff.ColorClip(ctx, out, g.cfg.PlaceholderHex, dim, seg.Duration); err != nil {
		g.log.Errorw("placeholder render failed",
			"job_id", jc.JobID,
			"segment", seg.Index,
			"error", err,
		)
	}
	return out
}

func imageExt(raw string) string {
	u, err := url.Parse(raw)
	if err == nil {
		ext := strings.ToLower(filepath.Ext(u.Path))
		switch ext {
		case ".jpg", ".jpeg", ".png", ".webp", ".gif":
			return ext
		}
	}
	return ".jpg"
}
