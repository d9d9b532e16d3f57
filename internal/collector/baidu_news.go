package collector

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"newscatcher/internal/config"
)

// BaiduNewsFetcher 抓取百度新闻搜索结果页，每个话题用第一个关键词检索
type BaiduNewsFetcher struct {
	Timeout     time.Duration
	MaxPerQuery int
}

func (b *BaiduNewsFetcher) Name() string {
	return "baidu_news"
}

func (b *BaiduNewsFetcher) Fetch(ctx context.Context, topics []config.Topic) (FetchResult, error) {
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
		// 有部分话题检索失败：返回已拿到的结果 + 降级错误
		return res, fmt.Errorf("baidu news: %w", lastErr)
	}
	return res, nil
}

func (b *BaiduNewsFetcher) search(keyword string, now time.Time) ([]NewsItem, int, error) {
	c := colly.NewCollector(colly.UserAgent(defaultUserAgent))
	c.SetRequestTimeout(b.timeout())

	items := make([]NewsItem, 0, b.maxPerQuery())
	skipped := 0

	// 页面结构可能调整，此处基于当前的 DOM 结构做"尽力而为"的解析
	c.OnHTML("div[class*='result']", func(e *colly.HTMLElement) {
		if len(items) >= b.maxPerQuery() {
			return
		}

		titleSel := e.DOM.Find("h3 a").First()
		if titleSel.Length() == 0 {
			titleSel = e.DOM.Find("a").First()
		}
		title := cleanText(titleSel.Text())
		link, _ := titleSel.Attr("href")
		if len([]rune(title)) < 4 || link == "" {
			skipped++
			return
		}

		summary := firstText(e.DOM, "div.c-summary", "div.c-abstract", "p")
		sourceText := firstText(e.DOM, "span.c-color-gray", "p.c-author")
		if sourceText == "" {
			sourceText = "百度新闻"
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

	searchURL := "https://news.baidu.com/ns?word=" + url.QueryEscape(keyword) +
		"&tn=news&from=news&cl=2&rn=10&ct=1"
	if err := c.Visit(searchURL); err != nil {
		return nil, skipped, fmt.Errorf("search %q: %w", keyword, err)
	}

	return items, skipped, nil
}

// firstText 按优先级尝试多个 selector，返回第一个非空文本
func firstText(dom *goquery.Selection, selectors ...string) string {
	for _, sel := range selectors {
		if t := strings.TrimSpace(dom.Find(sel).First().Text()); t != "" {
			return t
		}
	}
	return ""
}

func (b *BaiduNewsFetcher) timeout() time.Duration {
	if b.Timeout > 0 {
		return b.Timeout
	}
	return 15 * time.Second
}

func (b *BaiduNewsFetcher) maxPerQuery() int {
	if b.MaxPerQuery > 0 {
		return b.MaxPerQuery
	}
	return 10
}
