package types

import "time"

// Article is a news link backing a story.
type Article struct {
	Title  string `json:"title"`
	URL    string `json:"url"`
	Source string `json:"source"`
}

// Story is a trending topic with the imagery and articles found for it.
type Story struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Body        string    `json:"body,omitempty"`
	Source      string    `json:"source"`
	SourceURL   string    `json:"source_url,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	Images      []string  `json:"images,omitempty"`
	Articles    []Article `json:"articles,omitempty"`
	Score       int       `json:"score"`
}
