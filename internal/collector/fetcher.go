package collector

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"newscatcher/internal/config"
)

// NewsItem 统一采集后的基础结构。Topics 由分类阶段填充，
// 去重之后不再修改。
type NewsItem struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	Summary     string    `json:"summary,omitempty"`
	PublishedAt time.Time `json:"publishedAt,omitempty"` // 零值表示来源未提供发布时间
	FetchedAt   time.Time `json:"fetchedAt"`
	Topics      []string  `json:"topics,omitempty"`
}

// FundingEvent 投融资/IPO 事件，从投资界等源采集
type FundingEvent struct {
	Company     string    `json:"company"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	EventType   string    `json:"eventType"` // "融资" | "IPO"
	Round       string    `json:"round,omitempty"`
	Amount      string    `json:"amount,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	PublishedAt time.Time `json:"publishedAt,omitempty"`
	Topics      []string  `json:"topics,omitempty"`
}

// HighlightText 生成卡片与摘要中的高亮展示文本
func (e FundingEvent) HighlightText() string {
	var b strings.Builder
	b.WriteString("💰 ")
	b.WriteString(e.Company)
	if e.EventType == "IPO" {
		b.WriteString(" IPO")
	} else if e.Round != "" {
		b.WriteString("完成")
		b.WriteString(e.Round)
	}
	if e.Amount != "" {
		b.WriteString("（")
		b.WriteString(e.Amount)
		b.WriteString("）")
	}
	return b.String()
}

// FetchResult 单个数据源一次抓取的结果。
// Skipped 记录因结构异常被跳过的条目数，跳过不算失败。
type FetchResult struct {
	Items   []NewsItem
	Events  []FundingEvent
	Skipped int
}

// Fetcher 抽象每一个数据源。
// 返回部分结果 + 非空 error 表示来源可达但有降级；
// 空结果 + error 表示来源不可用。Fetcher 自身不做重试。
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, topics []config.Topic) (FetchResult, error)
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

var htmlTagRe = regexp.MustCompile(`<[^>]+>`)

// cleanText 去掉残留 HTML 标签并压缩首尾空白
func cleanText(s string) string {
	return strings.TrimSpace(htmlTagRe.ReplaceAllString(s, ""))
}

// truncateRunes 按 rune 数截断，避免把多字节字符截成半个
func truncateRunes(s string, limit int) string {
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit])
}

var (
	absTimeRe  = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})(?:\s+(\d{2}):(\d{2}))?`)
	cnDateRe   = regexp.MustCompile(`(\d{4})年(\d{1,2})月(\d{1,2})日`)
	hoursAgoRe = regexp.MustCompile(`(\d{1,2})小时前`)
	minsAgoRe  = regexp.MustCompile(`(\d{1,2})分钟前`)
)

// parsePublishTime 从来源文本里尽力提取发布时间；解析不出返回零值，
// 下游把零值当作"未知时间"处理（排序时放到最后）。
func parsePublishTime(text string, now time.Time) time.Time {
	if m := absTimeRe.FindStringSubmatch(text); m != nil {
		layout := "2006-01-02"
		val := m[1] + "-" + m[2] + "-" + m[3]
		if m[4] != "" {
			layout = "2006-01-02 15:04"
			val += " " + m[4] + ":" + m[5]
		}
		if t, err := time.ParseInLocation(layout, val, now.Location()); err == nil {
			return t
		}
	}
	if m := cnDateRe.FindStringSubmatch(text); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		return time.Date(year, time.Month(month), day, 0, 0, 0, 0, now.Location())
	}
	if m := hoursAgoRe.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		return now.Add(-time.Duration(n) * time.Hour)
	}
	if m := minsAgoRe.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		return now.Add(-time.Duration(n) * time.Minute)
	}
	return time.Time{}
}
