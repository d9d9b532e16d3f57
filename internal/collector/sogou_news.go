package collector

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"

	"newscatcher/internal/config"
)

// SogouNewsFetcher 抓取搜狗新闻搜索，进一步补充覆盖面
type SogouNewsFetcher struct {
	Timeout     time.Duration
	MaxPerQuery int
}

func (s *SogouNewsFetcher) Name() string {
	return "sogou_news"
}

func (s *SogouNewsFetcher) Fetch(ctx context.Context, topics []config.Topic) (FetchResult, error) {
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

		items, skipped, err := s.search(topic.Keywords[0], now)
		res.Skipped += skipped
		if err != nil {
			lastErr = err
			continue
		}
		res.Items = append(res.Items, items...)
	}

	if lastErr != nil {
		return res, fmt.Errorf("sogou news: %w", lastErr)
	}
	return res, nil
}

func (s *SogouNewsFetcher) search(keyword string, now time.Time) ([]NewsItem, int, error) {
	c := colly.NewCollector(colly.UserAgent(defaultUserAgent))
	c.SetRequestTimeout(s.timeout())

	items := make([]NewsItem, 0, s.maxPerQuery())
	skipped := 0

	c.OnHTML("div.news-list li, div.results div.vrwrap", func(e *colly.HTMLElement) {
		if len(items) >= s.maxPerQuery() {
			return
		}

		titleSel := e.DOM.Find("h3 a").First()
		if titleSel.Length() == 0 {
			titleSel = e.DOM.Find("a[href]").First()
		}
		title := cleanText(titleSel.Text())
		link, _ := titleSel.Attr("href")
		if len([]rune(title)) < 4 || link == "" {
			skipped++
			return
		}

		summary := firstText(e.DOM, "p.txt-info", "div.news-detail")
		sourceText := firstText(e.DOM, "p.news-from span", "span.news-from")
		if sourceText == "" {
			sourceText = "搜狗新闻"
		}

		items = append(items, NewsItem{
			Title:       title,
			URL:         link,
			Source:      sourceText,
			Summary:     truncateRunes(cleanText(summary), 200),
			PublishedAt: parsePublishTime(sourceText, now),
			FetchedAt:   now,
		})
	})

	searchURL := "https://news.sogou.com/news?query=" + url.QueryEscape(keyword) +
		"&mode=1&sort=0"
	if err := c.Visit(searchURL); err != nil {
		return nil, skipped, fmt.Errorf("search %q: %w", keyword, err)
	}

	return items, skipped, nil
}

func (s *SogouNewsFetcher) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return 15 * time.Second
}

func (s *SogouNewsFetcher) maxPerQuery() int {
	if s.MaxPerQuery > 0 {
		return s.MaxPerQuery
	}
	return 10
}
