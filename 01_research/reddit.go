package research

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vartanbeno/go-reddit/v2/reddit"

	"shorts-pipeline/config"
	"shorts-pipeline/types"
)

// postLister is the slice of the reddit client the source needs.
type postLister interface {
	HotPosts(ctx context.Context, subreddit string, opts *reddit.ListOptions) ([]*reddit.Post, *reddit.Response, error)
}

// Reddit lists hot posts from the subreddits configured per category.
type Reddit struct {
	cfg      config.ResearchConfig
	posts    postLister
	lookback time.Duration
	now      func() time.Time
}

// NewReddit uses script-app credentials when present, otherwise the
// read-only client.
func NewReddit(cfg config.ResearchConfig, env config.Env) (*Reddit, error) {
	var (
		client *reddit.Client
		err    error
	)
	if env.HasReddit() {
		client, err = reddit.NewClient(reddit.Credentials{
			ID:       env.RedditClientID,
			Secret:   env.RedditClientSecret,
			Username: env.RedditUsername,
			Password: env.RedditPassword,
		})
	} else {
		client, err = reddit.NewReadonlyClient()
	}
	if err != nil {
		return nil, errors.Wrap(err, "reddit client")
	}
	return newReddit(cfg, client.Subreddit), nil
}

func newReddit(cfg config.ResearchConfig, posts postLister) *Reddit {
	return &Reddit{cfg: cfg, posts: posts, lookback: 7 * 24 * time.Hour, now: time.Now}
}

func (r *Reddit) Name() string { return "reddit" }

func (r *Reddit) Stories(ctx context.Context, q TrendQuery) ([]*types.Story, error) {
	subs := r.cfg.Subreddits[q.Category]
	if len(subs) == 0 {
		subs = r.cfg.DefaultSubs
	}
	limit := r.cfg.MaxStoriesToEval
	if limit <= 0 {
		limit = 25
	}

	var (
		stories []*types.Story
		errs    error
	)
	cutoff := r.now().Add(-r.lookback)
	for _, sub := range subs {
		posts, _, err := r.posts.HotPosts(ctx, sub, &reddit.ListOptions{Limit: limit})
		if err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "r/%s", sub))
			continue
		}
		for _, p := range posts {
			if st := r.toStory(p, sub, cutoff); st != nil {
				stories = append(stories, st)
			}
		}
	}
	if len(stories) == 0 && errs != nil {
		return nil, errs
	}
	return stories, nil
}

func (r *Reddit) toStory(p *reddit.Post, sub string, cutoff time.Time) *types.Story {
	if p == nil || p.NSFW || p.Stickied || p.Score < r.cfg.MinRedditScore {
		return nil
	}
	var created time.Time
	if p.Created != nil {
		created = p.Created.Time
		if created.Before(cutoff) {
			return nil
		}
	}
	link := p.Permalink
	if strings.HasPrefix(link, "/") {
		link = "https://www.reddit.com" + link
	}
	st := &types.Story{
		ID:          "reddit_" + p.ID,
		Title:       strings.TrimSpace(p.Title),
		Body:        p.Body,
		Source:      "r/" + sub,
		SourceURL:   link,
		PublishedAt: created,
		Score:       p.Score,
		Articles:    []types.Article{{Title: p.Title, URL: link, Source: "r/" + sub}},
	}
	if isImageURL(p.URL) {
		st.Images = append(st.Images, p.URL)
	} else if p.URL != "" && !strings.Contains(p.URL, "reddit.com") {
		st.Articles = append(st.Articles, types.Article{Title: p.Title, URL: p.URL, Source: hostOf(p.URL)})
	}
	return st
}
