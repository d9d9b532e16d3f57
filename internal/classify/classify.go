// Package classify 按关键词包含关系给新闻条目打行业标签。
// 关键词表在一轮运行内只读，增删关键词只影响后续运行。
package classify

import (
	"strings"

	"newscatcher/internal/collector"
	"newscatcher/internal/config"
)

// Result 一轮分类的产物。ByTopic 的每个列表保持条目的合并顺序；
// 同一条新闻可以同时进入多个话题（按引用复制）。
type Result struct {
	ByTopic   map[string][]collector.NewsItem
	Unmatched []collector.NewsItem
}

// Items 对条目做话题分类。未命中任何话题的条目进入 Unmatched，
// 只保留在原始备份里，不进入任何话题结果。
func Items(items []collector.NewsItem, topics []config.Topic) Result {
	res := Result{ByTopic: make(map[string][]collector.NewsItem, len(topics))}

	for _, item := range items {
		text := normalize(item.Title + " " + item.Summary)

		var matched []string
		for _, topic := range topics {
			if matchAny(text, topic.Keywords) {
				matched = append(matched, topic.ID)
			}
		}

		if len(matched) == 0 {
			res.Unmatched = append(res.Unmatched, item)
			continue
		}

		item.Topics = matched
		for _, id := range matched {
			res.ByTopic[id] = append(res.ByTopic[id], item)
		}
	}

	return res
}

// Events 给投融资事件打话题标签；融资标题往往不含行业正式名称，
// 所以额外叠加 funding_keywords 扩展词表。未命中的事件被丢弃。
func Events(events []collector.FundingEvent, topics []config.Topic) map[string][]collector.FundingEvent {
	byTopic := make(map[string][]collector.FundingEvent)

	for _, evt := range events {
		text := normalize(evt.Title + " " + evt.Summary + " " + evt.Company)

		var matched []string
		for _, topic := range topics {
			if matchAny(text, topic.Keywords) || matchAny(text, topic.FundingKeywords) {
				matched = append(matched, topic.ID)
			}
		}
		if len(matched) == 0 {
			continue
		}

		evt.Topics = matched
		for _, id := range matched {
			byTopic[id] = append(byTopic[id], evt)
		}
	}

	return byTopic
}

func matchAny(normalizedText string, keywords []string) bool {
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(normalizedText, normalize(kw)) {
			return true
		}
	}
	return false
}

// normalize 大小写折叠 + 去首尾空白；中文关键词不受影响，
// 英文缩写（AI、EDA、ESG 等）匹配不再区分大小写
func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
