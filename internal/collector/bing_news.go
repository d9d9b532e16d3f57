package collector

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"newscatcher/internal/config"
)

// BingNewsFetcher 抓取必应中文新闻搜索，作为百度之外的补充源
type BingNewsFetcher struct {
	Timeout     time.Duration
	MaxPerQuery int
}

func (b *BingNewsFetcher) Name() string {
	return "bing_news"
}

func (b *BingNewsFetcher) Fetch(ctx context.Context, topics []config.Topic) (FetchResult, error) {
	var res FetchResult
	var lastErr error
	now := time.Now()

	for _, topic := range topics {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if len(topic.Keywords) == 0 {
			continue
		}

		items, skipped, err := b.search(topic.Keywords[0], now)
		res.Skipped += skipped
		if err != nil {
			lastErr = err
			continue
		}
		res.Items = append(res.Items, items...)
	}

	if lastErr != nil {
		return res, fmt.Errorf("bing news: %w", lastErr)
	}
	return res, nil
}

func (b *BingNewsFetcher) search(keyword string, now time.Time) ([]NewsItem, int, error) {
	c := colly.NewCollector(colly.UserAgent(defaultUserAgent))
	c.SetRequestTimeout(b.timeout())

	items := make([]NewsItem, 0, b.maxPerQuery())
	skipped := 0

	c.OnHTML("div.news-card, div.newsitem", func(e *colly.HTMLElement) {
		if len(items) >= b.maxPerQuery() {
			return
		}

		titleSel := e.DOM.Find("a.title").First()
		if titleSel.Length() == 0 {
			titleSel = e.DOM.Find("a[href]").First()
		}
		title := cleanText(titleSel.Text())
		link, _ := titleSel.Attr("href")
		if title == "" || link == "" {
			skipped++
			return
		}
		// 补全相对链接
		if strings.HasPrefix(link, "/") {
			link = "https://cn.bing.com" + link
		}

		summary := firstText(e.DOM, "div.snippet", "p")
		sourceText := firstText(e.DOM, "div.source span", "span.source")
		if sourceText == "" {
			sourceText = "Bing新闻"
		}

		items = append(items, NewsItem{
			Title:     title,
			URL:       link,
			Source:    sourceText,
			Summary:   truncateRunes(cleanText(summary), 200),
			FetchedAt: now,
		})
	})

	searchURL := "https://cn.bing.com/news/search?q=" + url.QueryEscape(keyword) +
		"&FORM=HDRSC6&cc=cn"
	if err := c.Visit(searchURL); err != nil {
		return nil, skipped, fmt.Errorf("search %q: %w", keyword, err)
	}

	return items, skipped, nil
}

func (b *BingNewsFetcher) timeout() time.Duration {
	if b.Timeout > 0 {
		return b.Timeout
	}
	return 15 * time.Second
}

func (b *BingNewsFetcher) maxPerQuery() int {
	if b.MaxPerQuery > 0 {
		return b.MaxPerQuery
	}
	return 10
}
