package research

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"shorts-pipeline/config"
	"shorts-pipeline/logger"
	"shorts-pipeline/types"
)

// ErrNoStories is returned when no source produced a usable story.
var ErrNoStories = errors.New("no trending story found")

// TrendQuery selects a trending story.
type TrendQuery struct {
	Category string
	Geo      string
	Language string
	Topic    string
	Exclude  []string
}

// StorySource lists candidate stories.
type StorySource interface {
	Name() string
	Stories(ctx context.Context, q TrendQuery) ([]*types.Story, error)
}

// Scraper merges stories from every source, scores them and hands out the
// best one not used before.
type Scraper struct {
	cfg     config.ResearchConfig
	sources []StorySource
	now     func() time.Time
	log     *zap.SugaredLogger

	mu   sync.Mutex
	used map[string]bool
}

// New creates a Scraper over sources.
func New(cfg config.ResearchConfig, sources ...StorySource) *Scraper {
	return &Scraper{
		cfg:     cfg,
		sources: sources,
		now:     time.Now,
		log:     logger.Named("research"),
		used:    make(map[string]bool),
	}
}

// FetchTrendingStory returns the highest scoring story for q. Sources that
// fail are skipped. Stories whose title mentions an excluded topic are
// dropped.
func (s *Scraper) FetchTrendingStory(ctx context.Context, q TrendQuery) (*types.Story, error) {
	var candidates []*types.Story
	for _, src := range s.sources {
		stories, err := src.Stories(ctx, q)
		if err != nil {
			s.log.Warnw("story source failed", "source", src.Name(), "error", err)
			continue
		}
		s.log.Infow("stories found", "source", src.Name(), "count", len(stories))
		candidates = append(candidates, stories...)
	}

	candidates = s.filter(candidates, q.Exclude)
	if len(candidates) == 0 {
		return nil, errors.Wrapf(ErrNoStories, "category %s", q.Category)
	}

	scored := make([]types.Story, len(candidates))
	for i, story := range candidates {
		scored[i] = *story
		scored[i].Score = s.score(story, q.Topic)
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range scored {
		story := &scored[i]
		if s.used[story.ID] {
			continue
		}
		s.used[story.ID] = true
		s.log.Infow("story selected", "title", story.Title, "score", story.Score, "source", story.Source)
		return story, nil
	}
	return nil, errors.Wrap(ErrNoStories, "all candidate stories already used")
}

func (s *Scraper) filter(stories []*types.Story, exclude []string) []*types.Story {
	var out []*types.Story
	seen := make(map[string]bool)
	for _, st := range stories {
		key := strings.ToLower(strings.TrimSpace(st.Title))
		if key == "" || seen[key] || mentionsAny(key, exclude) {
			continue
		}
		seen[key] = true
		out = append(out, st)
	}
	return out
}

func mentionsAny(title string, topics []string) bool {
	for _, t := range topics {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" && strings.Contains(title, t) {
			return true
		}
	}
	return false
}

// score starts from the source's own popularity and rewards imagery,
// recency, substance and words shared with the requested topic.
func (s *Scraper) score(story *types.Story, topic string) int {
	score := story.Score

	text := strings.ToLower(story.Title + " " + story.Body)
	for _, word := range strings.Fields(strings.ToLower(topic)) {
		if len(word) > 2 && strings.Contains(text, word) {
			score += 150
		}
	}
	if len(story.Images) > 0 {
		score += 100
	}
	if !story.PublishedAt.IsZero() && s.now().Sub(story.PublishedAt) < 72*time.Hour {
		score += 200
	}
	if len(story.Body) > 500 {
		score += 75
	}
	if len(story.Articles) > 1 {
		score += 25 * min(len(story.Articles)-1, 4)
	}
	return score
}

func isImageURL(u string) bool {
	lower := strings.ToLower(u)
	if i := strings.IndexByte(lower, '?'); i >= 0 {
		lower = lower[:i]
	}
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".webp", ".gif"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
