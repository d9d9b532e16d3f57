package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed"

	"newscatcher/internal/config"
)

const maxPerFeed = 20

// RSSFetcher 从配置的 RSS 订阅源抓取条目。
// 单个源失败不影响其余源；条目缺标题/链接按跳过计数。
type RSSFetcher struct {
	Feeds   []config.Feed
	Timeout time.Duration
}

func (r *RSSFetcher) Name() string {
	return "rss"
}

func (r *RSSFetcher) Fetch(ctx context.Context, _ []config.Topic) (FetchResult, error) {
	var res FetchResult
	var lastErr error
	now := time.Now()

	parser := gofeed.NewParser()
	parser.UserAgent = defaultUserAgent

	for _, feed := range r.Feeds {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		items, skipped, err := r.parseFeed(ctx, parser, feed, now)
		res.Skipped += skipped
		if err != nil {
			lastErr = fmt.Errorf("feed %s: %w", feed.Name, err)
			continue
		}
		res.Items = append(res.Items, items...)
	}

	if lastErr != nil {
		return res, fmt.Errorf("rss: %w", lastErr)
	}
	return res, nil
}

func (r *RSSFetcher) parseFeed(ctx context.Context, parser *gofeed.Parser, fc config.Feed, now time.Time) ([]NewsItem, int, error) {
	feedCtx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	feed, err := parser.ParseURLWithContext(fc.URL, feedCtx)
	if err != nil {
		return nil, 0, err
	}

	var items []NewsItem
	skipped := 0
	for _, entry := range feed.Items {
		if len(items) >= maxPerFeed {
			break
		}

		title := cleanText(entry.Title)
		if title == "" || entry.Link == "" {
			skipped++
			continue
		}

		summary := entry.Description
		if summary == "" {
			summary = entry.Content
		}

		var published time.Time
		if entry.PublishedParsed != nil {
			published = *entry.PublishedParsed
		}

		items = append(items, NewsItem{
			Title:       title,
			URL:         entry.Link,
			Source:      fc.Name,
			Summary:     truncateRunes(cleanText(summary), 200),
			PublishedAt: published,
			FetchedAt:   now,
		})
	}

	return items, skipped, nil
}

func (r *RSSFetcher) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return 15 * time.Second
}
