package visuals

import (
	"context"
	"net/http"
	"sort"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"shorts-pipeline/config"
	"shorts-pipeline/logger"
	"shorts-pipeline/types"
)

// Resolver discovers, ranks and validates visual assets for a topic.
type Resolver struct {
	cfg      config.VisualsConfig
	sources  []Source
	fallback Source
	scorer   *Scorer
	prober   *Prober
	cdn      CDN
	stager   Stager
	client   *http.Client
	log      *zap.SugaredLogger
}

// NewResolver wires a resolver. A nil cdn normalizes nothing; a nil stager
// disables the downsize retry.
func NewResolver(cfg config.VisualsConfig, cdn CDN, stager Stager, sources ...Source) *Resolver {
	if cdn == nil {
		cdn = Passthrough{}
	}
	client := &http.Client{Timeout: cfg.RequestTimeout}
	return &Resolver{
		cfg:     cfg,
		sources: sources,
		scorer:  NewScorer(cfg),
		prober:  NewProber(client, cfg.ReachabilityRPS),
		cdn:     cdn,
		stager:  stager,
		client:  client,
		log:     logger.Named("visuals"),
	}
}

// WithFallback sets a source consulted only when the others yield fewer
// assets than requested.
func (r *Resolver) WithFallback(src Source) *Resolver {
	r.fallback = src
	return r
}

// ResolveCandidates gathers candidates from every source and returns the
// usable ones best first. Equal scores keep discovery order.
func (r *Resolver) ResolveCandidates(ctx context.Context, topic, ratio string, hints []string) []Scored {
	q := Query{Topic: topic, Ratio: ratio, Hints: hints}
	var all []Candidate
	for _, src := range r.sources {
		found, err := src.Candidates(ctx, q)
		if err != nil {
			r.log.Warnw("visual source failed", "source", src.Name(), "topic", topic, "error", err)
			continue
		}
		all = append(all, found...)
	}
	return r.rank(all, topic, ratio)
}

func (r *Resolver) rank(cands []Candidate, topic, ratio string) []Scored {
	terms := r.scorer.Terms(topic)
	target := types.DimensionsFor(ratio)
	seen := make(map[string]bool, len(cands))

	var out []Scored
	for i, c := range cands {
		c.Order = i
		key := dedupeKey(c.URL)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		if reason := r.scorer.Reject(c); reason != "" {
			r.log.Debugw("candidate rejected", "url", c.URL, "reason", reason)
			continue
		}
		matches := r.scorer.Matches(c, terms)
		if len(terms) > 0 && matches < r.cfg.MinTopicMatches {
			r.log.Debugw("candidate off topic", "url", c.URL, "matches", matches)
			continue
		}
		out = append(out, Scored{Candidate: c, Score: r.scorer.Score(c, matches, target), Matches: matches})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })

	perHost := make(map[string]int)
	capped := out[:0]
	for _, s := range out {
		h := hostOf(s.URL)
		if r.cfg.MaxPerHost > 0 && perHost[h] >= r.cfg.MaxPerHost {
			continue
		}
		perHost[h]++
		capped = append(capped, s)
	}
	return capped
}

// ValidateAndNormalize confirms rawURL is a reachable image and maps it
// through the CDN to the canvas for ratio. When the CDN refuses the source
// for its size, the image is downsized, staged and transformed once more.
func (r *Resolver) ValidateAndNormalize(ctx context.Context, rawURL, ratio string) (*types.VisualAsset, error) {
	if _, err := r.prober.Check(ctx, rawURL); err != nil {
		return nil, err
	}

	dim := types.DimensionsFor(ratio)
	cdnURL, err := r.cdn.Normalize(ctx, rawURL, dim)
	switch {
	case errors.Is(err, ErrSourceTooLarge):
		staged, serr := r.downsize(ctx, rawURL)
		if serr != nil {
			return nil, errors.Mark(errors.Wrap(serr, "downsize"), ErrSourceTooLarge)
		}
		cdnURL, err = r.cdn.Normalize(ctx, staged, dim)
		if err != nil {
			return nil, errors.Wrap(err, "normalize after downsize")
		}
	case err != nil:
		r.log.Warnw("cdn normalize failed, using source", "url", rawURL, "error", err)
		cdnURL = ""
	}

	return &types.VisualAsset{
		SourceURL:    rawURL,
		CDNURL:       cdnURL,
		Reachability: types.ReachReachable,
		Usage:        types.UsageAvailable,
	}, nil
}

// Resolve returns up to want validated assets in score order. Candidates
// that fail validation are skipped and marked unreachable in jc.
func (r *Resolver) Resolve(ctx context.Context, jc *types.JobContext, topic, ratio string, hints []string, want int) []*types.VisualAsset {
	assets := r.validate(ctx, jc, r.ResolveCandidates(ctx, topic, ratio, hints), ratio, want)

	if len(assets) < want && r.fallback != nil && r.cfg.PromptFallback {
		extra, err := r.fallback.Candidates(ctx, Query{Topic: topic, Ratio: ratio, Hints: hints})
		if err != nil {
			r.log.Warnw("fallback source failed", "source", r.fallback.Name(), "error", err)
		} else {
			more := r.validate(ctx, jc, r.rank(extra, topic, ratio), ratio, want-len(assets))
			assets = append(assets, more...)
		}
	}

	r.log.Infow("visual assets resolved",
		"job_id", jc.JobID,
		"topic", topic,
		"want", want,
		"got", len(assets),
	)
	return assets
}

// validate checks candidates in windows, concurrently within a window,
// until want assets pass. Result order follows candidate order.
func (r *Resolver) validate(ctx context.Context, jc *types.JobContext, cands []Scored, ratio string, want int) []*types.VisualAsset {
	var assets []*types.VisualAsset
	limit := max(1, r.cfg.Parallelism)

	for start := 0; start < len(cands) && len(assets) < want; {
		end := min(len(cands), start+max(want-len(assets), limit))
		window := cands[start:end]
		results := make([]*types.VisualAsset, len(window))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(limit)
		for i, c := range window {
			if jc.Unreachable(c.URL) {
				continue
			}
			g.Go(func() error {
				asset, err := r.ValidateAndNormalize(gctx, c.URL, ratio)
				if err != nil {
					jc.MarkUnreachable(c.URL)
					r.log.Debugw("candidate failed validation", "url", c.URL, "error", err)
					return nil
				}
				asset.Title = c.Title
				asset.Width = c.Width
				asset.Height = c.Height
				asset.Score = c.Score
				asset.Aspect = types.ClassifyAspect(c.Width, c.Height)
				results[i] = asset
				return nil
			})
		}
		_ = g.Wait()

		for _, a := range results {
			if a != nil && len(assets) < want {
				assets = append(assets, a)
			}
		}
		start = end
	}
	return assets
}
