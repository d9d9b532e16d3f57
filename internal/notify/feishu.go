// Package notify 通过飞书自定义机器人 Webhook 推送行业动态卡片。
// 签名算法见 https://open.feishu.cn/document/client-docs/bot-v3/add-custom-bot
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"time"

	"newscatcher/internal/collector"
	"newscatcher/internal/config"
)

const (
	defaultMaxAttempts = 3
	defaultBaseBackoff = 500 * time.Millisecond

	// 飞书消息体上限约 30KB，留出签名等字段的余量
	maxPayloadBytes = 20 * 1024
)

// DeliveryError 一次投递失败。Retriable 为 true 表示网络错误、429 或 5xx，
// 值得按退避策略重试；为 false 表示请求本身被拒绝，重试无意义。
type DeliveryError struct {
	StatusCode int
	Code       int
	Msg        string
	Retriable  bool
}

func (e *DeliveryError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("feishu rejected message: code=%d msg=%s", e.Code, e.Msg)
	}
	return fmt.Sprintf("feishu delivery failed: status=%d msg=%s", e.StatusCode, e.Msg)
}

// Notifier 飞书 Webhook 通知器
type Notifier struct {
	webhookURL  string
	secret      string
	httpClient  *http.Client
	maxAttempts int
	baseBackoff time.Duration
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewNotifier(webhookURL, secret string, timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Notifier{
		webhookURL:  webhookURL,
		secret:      secret,
		httpClient:  &http.Client{Timeout: timeout},
		maxAttempts: defaultMaxAttempts,
		baseBackoff: defaultBaseBackoff,
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// 卡片结构体按飞书 interactive 消息的 JSON 形状定义，
// 用具体类型而不是 map，保证序列化字段顺序稳定、便于测试比对

type cardText struct {
	Tag     string `json:"tag"`
	Content string `json:"content"`
}

type cardElement struct {
	Tag      string     `json:"tag"`
	Text     *cardText  `json:"text,omitempty"`
	Elements []cardText `json:"elements,omitempty"`
}

type cardHeader struct {
	Title    cardText `json:"title"`
	Template string   `json:"template"`
}

type cardConfig struct {
	WideScreenMode bool `json:"wide_screen_mode"`
}

type card struct {
	Config   cardConfig    `json:"config"`
	Header   cardHeader    `json:"header"`
	Elements []cardElement `json:"elements"`
}

type textContent struct {
	Text string `json:"text"`
}

type message struct {
	Timestamp string       `json:"timestamp,omitempty"`
	Sign      string       `json:"sign,omitempty"`
	MsgType   string       `json:"msg_type"`
	Card      *card        `json:"card,omitempty"`
	Content   *textContent `json:"content,omitempty"`
}

// 新旧版机器人分别用 code 与 StatusCode 报告结果，任一为 0 即成功
type webhookResponse struct {
	Code       *int   `json:"code"`
	StatusCode *int   `json:"StatusCode"`
	Msg        string `json:"msg"`
}

func (r *webhookResponse) ok() bool {
	return (r.Code != nil && *r.Code == 0) || (r.StatusCode != nil && *r.StatusCode == 0)
}

func (r *webhookResponse) code() int {
	if r.Code != nil {
		return *r.Code
	}
	if r.StatusCode != nil {
		return *r.StatusCode
	}
	return -1
}

// genSign 生成自定义机器人签名：以 "timestamp\nsecret" 为密钥、
// 空消息体做 HMAC-SHA256，结果 base64 编码
func genSign(secret string, timestamp int64) string {
	stringToSign := fmt.Sprintf("%d\n%s", timestamp, secret)
	h := hmac.New(sha256.New, []byte(stringToSign))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// SendTopicCard 把单个话题的条目、投融资事件与摘要打包为一张交互卡片发送。
// 条目按发布时间从新到旧排列，时间未知的排在最后。
// 卡片超过消息体上限时从最旧的条目开始裁剪，摘要永不裁剪。
func (n *Notifier) SendTopicCard(ctx context.Context, topic config.Topic, items []collector.NewsItem, events []collector.FundingEvent, digest string) error {
	if n.webhookURL == "" {
		return fmt.Errorf("feishu webhook url not configured")
	}

	sorted := make([]collector.NewsItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		ti, tj := sorted[i].PublishedAt, sorted[j].PublishedAt
		if ti.IsZero() {
			return false
		}
		if tj.IsZero() {
			return true
		}
		return ti.After(tj)
	})

	for {
		c := n.buildTopicCard(topic, sorted, events, digest)
		payload, err := json.Marshal(&message{MsgType: "interactive", Card: c})
		if err != nil {
			return fmt.Errorf("marshal card: %w", err)
		}
		if len(payload) <= maxPayloadBytes || len(sorted) == 0 {
			return n.send(ctx, &message{MsgType: "interactive", Card: c})
		}
		// 裁掉最旧的一条再试
		sorted = sorted[:len(sorted)-1]
	}
}

// SendText 发送纯文本消息，用于连通性测试
func (n *Notifier) SendText(ctx context.Context, text string) error {
	if n.webhookURL == "" {
		return fmt.Errorf("feishu webhook url not configured")
	}
	return n.send(ctx, &message{MsgType: "text", Content: &textContent{Text: text}})
}

func (n *Notifier) buildTopicCard(topic config.Topic, items []collector.NewsItem, events []collector.FundingEvent, digest string) *card {
	now := n.now()
	emoji := topic.Emoji
	if emoji == "" {
		emoji = "📰"
	}

	var elements []cardElement

	if digest != "" {
		elements = append(elements,
			cardElement{Tag: "div", Text: &cardText{Tag: "lark_md", Content: digest}},
			cardElement{Tag: "hr"},
		)
	}

	if len(events) > 0 {
		var lines string
		for _, evt := range events {
			line := "🔥 " + evt.HighlightText()
			if evt.URL != "" {
				line = fmt.Sprintf("🔥 [%s](%s)", evt.HighlightText(), evt.URL)
			}
			lines += line + "\n"
		}
		elements = append(elements,
			cardElement{Tag: "div", Text: &cardText{Tag: "lark_md", Content: "**💰 投融资动态**\n" + lines}},
			cardElement{Tag: "hr"},
		)
	}

	if len(items) > 0 {
		var lines string
		for i, item := range items {
			lines += fmt.Sprintf("%d. [%s](%s)", i+1, item.Title, item.URL)
			if item.Source != "" {
				lines += fmt.Sprintf("  *%s*", item.Source)
			}
			if !item.PublishedAt.IsZero() {
				lines += "  " + item.PublishedAt.Format("01-02 15:04")
			}
			lines += "\n"
		}
		elements = append(elements, cardElement{
			Tag:  "div",
			Text: &cardText{Tag: "lark_md", Content: fmt.Sprintf("**📡 今日新闻**（%d 条）\n%s", len(items), lines)},
		})
	}

	elements = append(elements, cardElement{
		Tag: "note",
		Elements: []cardText{{
			Tag:     "plain_text",
			Content: fmt.Sprintf("🕐 数据更新时间: %s | 行业新闻捕捉器", now.Format("2006-01-02 15:04:05")),
		}},
	})

	return &card{
		Config: cardConfig{WideScreenMode: true},
		Header: cardHeader{
			Title:    cardText{Tag: "plain_text", Content: fmt.Sprintf("%s %s 行业动态 | %s", emoji, topic.DisplayName, now.Format("2006年01月02日"))},
			Template: "red",
		},
		Elements: elements,
	}
}

// send 带重试地投递一条消息。签名在每次发送时用当前时间戳生成，
// 避免重试间隔导致时间戳过期。只对可重试错误退避重试。
func (n *Notifier) send(ctx context.Context, msg *message) error {
	var lastErr error

	for attempt := 0; attempt < n.maxAttempts; attempt++ {
		if attempt > 0 {
			// 第 k 次重试前退避 base * 2^(k-1)
			if err := n.sleep(ctx, n.baseBackoff<<(attempt-1)); err != nil {
				return err
			}
			log.Printf("feishu retrying delivery, attempt %d/%d", attempt+1, n.maxAttempts)
		}

		err := n.sendOnce(ctx, msg)
		if err == nil {
			return nil
		}
		lastErr = err

		var de *DeliveryError
		if errors.As(err, &de) && !de.Retriable {
			return err
		}
	}

	return fmt.Errorf("feishu delivery exhausted %d attempts: %w", n.maxAttempts, lastErr)
}

func (n *Notifier) sendOnce(ctx context.Context, msg *message) error {
	if n.secret != "" {
		ts := n.now().Unix()
		msg.Timestamp = fmt.Sprintf("%d", ts)
		msg.Sign = genSign(n.secret, ts)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return &DeliveryError{Msg: err.Error(), Retriable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return &DeliveryError{StatusCode: resp.StatusCode, Msg: resp.Status, Retriable: true}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return &DeliveryError{StatusCode: resp.StatusCode, Msg: resp.Status, Retriable: false}
	}

	var parsed webhookResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return &DeliveryError{StatusCode: resp.StatusCode, Msg: "decode response: " + err.Error(), Retriable: true}
	}
	if !parsed.ok() {
		return &DeliveryError{Code: parsed.code(), Msg: parsed.Msg, Retriable: false}
	}

	return nil
}
