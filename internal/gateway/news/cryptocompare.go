// Package news 从 CryptoCompare 兼容接口拉取加密新闻，并去掉正文中的 HTML。
package news

import (
	"context"
	"fmt"
	"strings"
	"time"

	"quorum/internal/agent/interfaces"
	"quorum/internal/config"
	"quorum/internal/market"
	"quorum/internal/pkg/text"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

type Client struct {
	cfg  config.NewsConfig
	http *resty.Client
}

var _ interfaces.NewsProvider = (*Client)(nil)

func New(cfg config.NewsConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "Mozilla/5.0 (compatible; quorum/1.0)")
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		client.SetHeader("authorization", "Apikey "+key)
	}
	return &Client{cfg: cfg, http: client}
}

type newsPayload struct {
	Type     int         `json:"Type"`
	Response string      `json:"Response"`
	Message  string      `json:"Message"`
	Data     []newsEntry `json:"Data"`
}

type newsEntry struct {
	ID          string `json:"id"`
	PublishedOn int64  `json:"published_on"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Body        string `json:"body"`
	Categories  string `json:"categories"`
	Source      string `json:"source"`
	SourceInfo  struct {
		Name string `json:"name"`
	} `json:"source_info"`
}

// CryptoNews 返回最新的 limit 条新闻，新的在前。
func (c *Client) CryptoNews(ctx context.Context, limit int) ([]market.NewsItem, error) {
	if c == nil || !c.cfg.Enabled {
		return nil, nil
	}
	if limit <= 0 || (c.cfg.MaxItems > 0 && limit > c.cfg.MaxItems) {
		limit = c.cfg.MaxItems
	}
	req := c.http.R().SetContext(ctx).SetResult(&newsPayload{})
	if lang := strings.TrimSpace(c.cfg.Language); lang != "" {
		req.SetQueryParam("lang", lang)
	}
	if len(c.cfg.Categories) > 0 {
		req.SetQueryParam("categories", strings.Join(c.cfg.Categories, ","))
	}
	resp, err := req.Get(c.cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("fetch news: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch news: HTTP %d", resp.StatusCode())
	}
	payload, ok := resp.Result().(*newsPayload)
	if !ok || payload == nil {
		return nil, fmt.Errorf("fetch news: unexpected payload")
	}
	if strings.EqualFold(payload.Response, "Error") {
		return nil, fmt.Errorf("fetch news: %s", payload.Message)
	}
	return c.convert(payload.Data, limit), nil
}

func (c *Client) convert(entries []newsEntry, limit int) []market.NewsItem {
	out := make([]market.NewsItem, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		title := text.Squash(stripHTML(e.Title))
		if title == "" {
			continue
		}
		if _, dup := seen[strings.ToLower(title)]; dup {
			continue
		}
		seen[strings.ToLower(title)] = struct{}{}
		source := strings.TrimSpace(e.SourceInfo.Name)
		if source == "" {
			source = strings.TrimSpace(e.Source)
		}
		out = append(out, market.NewsItem{
			Title:       title,
			Source:      source,
			URL:         strings.TrimSpace(e.URL),
			Body:        text.Truncate(text.Squash(stripHTML(e.Body)), c.cfg.MaxBodyChars),
			Categories:  splitCategories(e.Categories),
			PublishedAt: time.Unix(e.PublishedOn, 0).UTC(),
		})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// stripHTML 把正文中的标签去掉，只保留文本。
func stripHTML(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || !strings.ContainsAny(raw, "<&") {
		return raw
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return raw
	}
	doc.Find("script,style").Remove()
	return strings.TrimSpace(doc.Text())
}

func splitCategories(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, "|")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
