package research

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"shorts-pipeline/types"
)

// News reads the Google News RSS feed for a region, or a search feed when
// a topic is given.
type News struct {
	feedURL string
	client  *http.Client
}

// NewNews creates a feed reader rooted at feedURL.
func NewNews(feedURL string) *News {
	return &News{
		feedURL: strings.TrimRight(feedURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (n *News) Name() string { return "google-news" }

type rssFeed struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title   string `xml:"title"`
	Link    string `xml:"link"`
	PubDate string `xml:"pubDate"`
	GUID    string `xml:"guid"`
	Source  struct {
		Name string `xml:",chardata"`
		URL  string `xml:"url,attr"`
	} `xml:"source"`
}

func (n *News) Stories(ctx context.Context, q TrendQuery) ([]*types.Story, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.feedFor(q), nil)
	if err != nil {
		return nil, errors.Wrap(err, "news request")
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; ShortsPipeline/1.0)")
	resp, err := n.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "news feed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("news feed: HTTP %d", resp.StatusCode)
	}

	var feed rssFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, errors.Wrap(err, "parse news feed")
	}

	var stories []*types.Story
	for _, item := range feed.Channel.Items {
		title, source := splitHeadline(item.Title, item.Source.Name)
		if title == "" {
			continue
		}
		id := item.GUID
		if id == "" {
			id = uuid.NewString()[:8]
		}
		st := &types.Story{
			ID:        "news_" + id,
			Title:     title,
			Body:      title,
			Source:    source,
			SourceURL: item.Link,
			Articles:  []types.Article{{Title: title, URL: item.Link, Source: source}},
		}
		if t, err := time.Parse(time.RFC1123, item.PubDate); err == nil {
			st.PublishedAt = t
		} else if t, err := time.Parse(time.RFC1123Z, item.PubDate); err == nil {
			st.PublishedAt = t
		}
		stories = append(stories, st)
	}
	return stories, nil
}

func (n *News) feedFor(q TrendQuery) string {
	lang := q.Language
	if lang == "" {
		lang = "en"
	}
	geo := strings.ToUpper(q.Geo)
	if geo == "" {
		geo = "US"
	}
	params := url.Values{}
	params.Set("hl", fmt.Sprintf("%s-%s", lang, geo))
	params.Set("gl", geo)
	params.Set("ceid", fmt.Sprintf("%s:%s", geo, lang))
	if q.Topic != "" {
		params.Set("q", q.Topic)
		return n.feedURL + "/search?" + params.Encode()
	}
	return n.feedURL + "?" + params.Encode()
}

// splitHeadline removes the " - Publisher" suffix Google News appends.
func splitHeadline(title, source string) (string, string) {
	title = strings.TrimSpace(title)
	if source != "" {
		if t, ok := strings.CutSuffix(title, " - "+source); ok {
			return strings.TrimSpace(t), source
		}
		return title, source
	}
	if i := strings.LastIndex(title, " - "); i > 0 {
		return strings.TrimSpace(title[:i]), strings.TrimSpace(title[i+3:])
	}
	return title, "Google News"
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}
