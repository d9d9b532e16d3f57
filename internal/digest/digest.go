// Package digest 为每个话题生成一段动态要点总结。
// 优先调用外部文本生成服务；不可用或失败时确定性地回退为标题列表，
// 回退路径在输入非空时永不为空。
package digest

import (
	"context"
	"fmt"
	"log"
	"strings"

	"newscatcher/internal/collector"
	"newscatcher/internal/config"
)

const systemPrompt = `你是一位资深的产业研究分析师，擅长从新闻快讯中快速提炼行业动态要点。
你的任务是根据提供的新闻标题和摘要，为指定行业生成一段简洁、专业、信息密度高的动态总结。

写作要求：
1. 用 3~6 个要点概括当前行业最值得关注的动态，每个要点一行，以「·」开头
2. 投融资/IPO 事件必须排在最前面，用「🔥」标记开头，保留公司名、轮次、金额等关键数字
3. 每个要点控制在 30~60 字，提及具体企业名、数字、产品名时要保留
4. 如果新闻内容不足以提炼有价值的要点，就据实总结，不要编造
5. 直接输出要点列表，不要输出标题、前言、总结性段落`

// Generator 摘要生成的最小依赖面，便于测试替换
type Generator interface {
	ChatCompletion(ctx context.Context, system, user string) (string, error)
}

// Builder 按话题生成摘要
type Builder struct {
	client   Generator // 为 nil 时只走回退路径
	maxItems int       // 回退摘要最多列出的新闻条数
	maxRunes int       // 摘要文本长度上限（限制消息体积）
}

func NewBuilder(client Generator, maxItems int) *Builder {
	if maxItems <= 0 {
		maxItems = 5
	}
	return &Builder{client: client, maxItems: maxItems, maxRunes: 2000}
}

// Summarize 生成单个话题的摘要。外部生成失败只记日志不上抛，
// 调用方拿到的始终是可用的摘要文本。
func (b *Builder) Summarize(ctx context.Context, topic config.Topic, items []collector.NewsItem, events []collector.FundingEvent) string {
	if len(items) == 0 && len(events) == 0 {
		return ""
	}

	if b.client != nil {
		text, err := b.client.ChatCompletion(ctx, systemPrompt, b.buildUserPrompt(topic, items, events))
		if err == nil && strings.TrimSpace(text) != "" {
			return b.capLength(text)
		}
		if err != nil {
			log.Printf("digest %s llm failed, falling back to title list: %v", topic.ID, err)
		}
	}

	return b.capLength(b.Fallback(topic, items, events))
}

func (b *Builder) buildUserPrompt(topic config.Topic, items []collector.NewsItem, events []collector.FundingEvent) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "以下是【%s】行业今日抓取的 %d 条新闻：\n\n", topic.DisplayName, len(items))

	for i, item := range items {
		fmt.Fprintf(&sb, "%d. 【%s】\n", i+1, item.Title)
		if item.Summary != "" {
			fmt.Fprintf(&sb, "   摘要：%s\n", truncateRunes(item.Summary, 150))
		}
		if item.Source != "" {
			fmt.Fprintf(&sb, "   来源：%s\n", item.Source)
		}
		sb.WriteString("\n")
	}

	if len(events) > 0 {
		sb.WriteString("以下是该行业近期重要投融资/IPO事件（请重点关注并优先总结）：\n")
		for _, evt := range events {
			fmt.Fprintf(&sb, "🔥 %s\n   标题：%s\n", evt.HighlightText(), evt.Title)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("请根据以上信息，输出该行业今日动态要点总结（3~6 个要点，以「·」开头）。\n如有投融资/IPO 事件，必须排在最前面并用🔥标记：")
	return sb.String()
}

// Fallback 确定性回退：投融资事件高亮在前，再列新闻标题。
// 输入非空时输出必非空。
func (b *Builder) Fallback(_ config.Topic, items []collector.NewsItem, events []collector.FundingEvent) string {
	var lines []string

	for _, evt := range events {
		lines = append(lines, "🔥 "+evt.HighlightText())
	}

	n := len(items)
	if n > b.maxItems {
		n = b.maxItems
	}
	for _, item := range items[:n] {
		title := strings.TrimSpace(item.Title)
		if len([]rune(title)) > 50 {
			title = truncateRunes(title, 48) + "..."
		}
		line := "· " + title
		if item.Source != "" {
			line += "（" + item.Source + "）"
		}
		lines = append(lines, line)
	}

	return strings.Join(lines, "\n")
}

func (b *Builder) capLength(s string) string {
	return truncateRunes(strings.TrimSpace(s), b.maxRunes)
}

func truncateRunes(s string, limit int) string {
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit])
}
