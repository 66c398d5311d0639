package market

import "time"

// NewsItem 是一条已清洗的加密新闻。
type NewsItem struct {
	Title       string    `json:"title"`
	Source      string    `json:"source"`
	URL         string    `json:"url"`
	Body        string    `json:"body"`
	Categories  []string  `json:"categories,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}
