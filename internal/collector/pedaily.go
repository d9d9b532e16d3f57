package collector

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"newscatcher/internal/config"
)

// 投融资事件的时效窗口
const fundingMaxAge = 7 * 24 * time.Hour

// PedailyFetcher 从投资界抓取融资快讯与 IPO 前线两个列表页，
// 产出 FundingEvent 而非普通新闻条目。
type PedailyFetcher struct {
	Timeout time.Duration
}

func (p *PedailyFetcher) Name() string {
	return "pedaily"
}

func (p *PedailyFetcher) Fetch(ctx context.Context, _ []config.Topic) (FetchResult, error) {
	var res FetchResult
	var errs []string
	now := time.Now()

	if err := ctx.Err(); err != nil {
		return res, err
	}
	funding, skipped, err := p.fetchFundingList(now)
	res.Skipped += skipped
	if err != nil {
		errs = append(errs, err.Error())
	}
	res.Events = append(res.Events, funding...)

	if err := ctx.Err(); err != nil {
		return res, err
	}
	ipo, skipped, err := p.fetchIPOList(now)
	res.Skipped += skipped
	if err != nil {
		errs = append(errs, err.Error())
	}
	res.Events = append(res.Events, ipo...)

	if len(errs) == 2 {
		return res, fmt.Errorf("pedaily: %s", strings.Join(errs, "; "))
	}
	if len(errs) == 1 {
		return res, fmt.Errorf("pedaily degraded: %s", errs[0])
	}
	return res, nil
}

var pedailyDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)

// fetchFundingList 解析融资快讯列表页
func (p *PedailyFetcher) fetchFundingList(now time.Time) ([]FundingEvent, int, error) {
	c := colly.NewCollector(colly.UserAgent(defaultUserAgent))
	c.SetRequestTimeout(p.timeout())

	var events []FundingEvent
	skipped := 0

	c.OnHTML("li", func(e *colly.HTMLElement) {
		a := e.DOM.Find("a").First()
		title := cleanText(a.Text())
		href, _ := a.Attr("href")

		// 过滤非融资条目
		if href == "" || len([]rune(title)) < 10 {
			return
		}
		if !strings.Contains(href, "news.pedaily.cn") {
			return
		}
		if !containsAny(title, "融资", "轮", "投资") {
			return
		}

		var published time.Time
		e.DOM.Find("span").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text := strings.TrimSpace(s.Text())
			if pedailyDateRe.MatchString(text) {
				published = parsePublishTime(text, now)
				return false
			}
			return true
		})
		if !published.IsZero() && now.Sub(published) > fundingMaxAge {
			return
		}

		company, round, amount := parseFundingTitle(title)
		if company == "" {
			skipped++
			return
		}

		events = append(events, FundingEvent{
			Company:     company,
			Title:       title,
			URL:         href,
			EventType:   "融资",
			Round:       round,
			Amount:      amount,
			PublishedAt: published,
		})
	})

	if err := c.Visit("https://www.pedaily.cn/first/t76/"); err != nil {
		return nil, skipped, fmt.Errorf("融资快讯: %w", err)
	}
	return events, skipped, nil
}

var pedailyURLDateRe = regexp.MustCompile(`/(\d{4})(\d{2})/`)

// fetchIPOList 解析 IPO 前线列表页；该页日期只能从链接里的年月推断
func (p *PedailyFetcher) fetchIPOList(now time.Time) ([]FundingEvent, int, error) {
	c := colly.NewCollector(colly.UserAgent(defaultUserAgent))
	c.SetRequestTimeout(p.timeout())

	var events []FundingEvent
	skipped := 0

	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		title := cleanText(e.Text)
		href := e.Attr("href")

		if href == "" || len([]rune(title)) < 15 {
			return
		}
		if !strings.Contains(href, "news.pedaily.cn") {
			return
		}
		if !containsAny(title, "IPO", "上市", "敲钟", "市值") {
			return
		}

		if m := pedailyURLDateRe.FindStringSubmatch(href); m != nil {
			// 只保留当月与上月的事件
			if !sameOrPrevMonth(m[1]+"-"+m[2], now) {
				return
			}
		}

		company := parseIPOCompany(title)
		if company == "" {
			skipped++
			return
		}

		events = append(events, FundingEvent{
			Company:   company,
			Title:     title,
			URL:       href,
			EventType: "IPO",
			Round:     "IPO",
			Amount:    parseAmount(title),
		})
	})

	if err := c.Visit("https://www.pedaily.cn/exit/"); err != nil {
		return nil, skipped, fmt.Errorf("IPO前线: %w", err)
	}
	return events, skipped, nil
}

func (p *PedailyFetcher) timeout() time.Duration {
	if p.Timeout > 0 {
		return p.Timeout
	}
	return 15 * time.Second
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func sameOrPrevMonth(yearMonth string, now time.Time) bool {
	t, err := time.ParseInLocation("2006-01", yearMonth, now.Location())
	if err != nil {
		return true // 解析不出就保留
	}
	cur := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return !t.Before(cur.AddDate(0, -1, 0))
}

var (
	quotedCompanyRe  = regexp.MustCompile(`[「“](.*?)[」”]`)
	commaCompanyRe   = regexp.MustCompile(`[，,]\s*(.{2,15}?)(?:完成|获得|获|宣布|拟)`)
	leadingCompanyRe = regexp.MustCompile(`^(.{2,15}?)(?:完成|获得|获|宣布|拟)`)

	roundRes = []*regexp.Regexp{
		regexp.MustCompile(`((?:Pre-?)?[A-Z]\d*\+*轮)`),
		regexp.MustCompile(`(天使\+*轮)`),
		regexp.MustCompile(`(种子轮)`),
		regexp.MustCompile(`(战略融资)`),
		regexp.MustCompile(`(股权融资)`),
	}

	amountRes = []*regexp.Regexp{
		regexp.MustCompile(`(超[\d.]+\s*亿[美元人民币]*)`),
		regexp.MustCompile(`(近[\d.]+\s*亿[美元人民币]*)`),
		regexp.MustCompile(`(近[十百千]\s*亿[美元人民币]*)`),
		regexp.MustCompile(`([\d.]+\s*亿[美元人民币]*)`),
		regexp.MustCompile(`(数[千百十]万[美元人民币]*)`),
		regexp.MustCompile(`([\d.]+\s*万[美元人民币]*)`),
	}

	ipoCompanyRes = []*regexp.Regexp{
		regexp.MustCompile(`^(.{2,8}?)(?:赴港|赴美|赴纽)`),
		regexp.MustCompile(`今[天日]\s*(.{2,6}?)(?:IPO|上市|敲)`),
		regexp.MustCompile(`[，,]\s*(.{2,10}?)(?:要IPO|IPO了|赴港上市|要上市)`),
		regexp.MustCompile(`[，,]\s*(.{2,10}?)敲[钟锣]`),
		regexp.MustCompile(`[，,]\s*(.{2,8}?)市值`),
	}
	companySuffixRe = regexp.MustCompile(`([\p{Han}]{2,6}(?:科技|智能|生命|医疗|芯片|半导体|新材料|能源|航天|资本|集团))`)
	englishNameRe   = regexp.MustCompile(`([A-Z][A-Za-z]{2,15})`)
)

// parseFundingTitle 从融资标题提取公司名、轮次、金额。
// 例: "无界动力完成超2亿元天使+轮融资" -> ("无界动力", "天使+轮", "超2亿元")
func parseFundingTitle(title string) (company, round, amount string) {
	if m := quotedCompanyRe.FindStringSubmatch(title); m != nil {
		company = m[1]
	} else if m := commaCompanyRe.FindStringSubmatch(title); m != nil {
		company = strings.TrimSpace(m[1])
	} else if m := leadingCompanyRe.FindStringSubmatch(title); m != nil {
		company = strings.TrimSpace(m[1])
	}

	for _, re := range roundRes {
		if m := re.FindStringSubmatch(title); m != nil {
			round = m[1]
			break
		}
	}

	return company, round, parseAmount(title)
}

func parseAmount(title string) string {
	for _, re := range amountRes {
		if m := re.FindStringSubmatch(title); m != nil {
			return m[1]
		}
	}
	return ""
}

func parseIPOCompany(title string) string {
	if m := quotedCompanyRe.FindStringSubmatch(title); m != nil && len([]rune(m[1])) >= 2 {
		return m[1]
	}
	for _, re := range ipoCompanyRes {
		if m := re.FindStringSubmatch(title); m != nil {
			name := strings.TrimSpace(m[1])
			if len([]rune(name)) >= 2 {
				return name
			}
		}
	}
	if m := companySuffixRe.FindStringSubmatch(title); m != nil {
		return m[1]
	}
	if m := englishNameRe.FindStringSubmatch(title); m != nil {
		return m[1]
	}
	return ""
}
