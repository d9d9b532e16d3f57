package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"newscatcher/internal/collector"
	"newscatcher/internal/config"
)

var aiTopic = config.Topic{ID: "ai", DisplayName: "人工智能", Emoji: "🤖"}

func newTestNotifier(url, secret string) *Notifier {
	n := NewNotifier(url, secret, 5*time.Second)
	n.baseBackoff = time.Millisecond
	return n
}

func TestGenSign(t *testing.T) {
	// 与飞书文档算法对齐的已知向量
	got := genSign("secret", 1234567890)
	want := "ZfKVuj6L5hFYWbpNk/R//8s1lu9nDXiIbG0Fc4NaCEk="
	if got != want {
		t.Fatalf("genSign = %q, want %q", got, want)
	}
}

func TestSendTopicCardSuccess(t *testing.T) {
	var captured message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Errorf("unmarshal payload: %v", err)
		}
		w.Write([]byte(`{"code":0,"msg":"success"}`))
	}))
	defer srv.Close()

	n := newTestNotifier(srv.URL, "secret")
	items := []collector.NewsItem{
		{Title: "老新闻", URL: "https://a.example/1", Source: "rss", PublishedAt: time.Date(2026, 8, 23, 8, 0, 0, 0, time.UTC)},
		{Title: "新新闻", URL: "https://a.example/2", Source: "baidu_news", PublishedAt: time.Date(2026, 8, 24, 8, 0, 0, 0, time.UTC)},
		{Title: "无时间新闻", URL: "https://a.example/3", Source: "bing_news"},
	}
	events := []collector.FundingEvent{
		{Company: "无界动力", EventType: "融资", Round: "天使+轮", Amount: "超2亿元", URL: "https://p.example/f"},
	}

	if err := n.SendTopicCard(context.Background(), aiTopic, items, events, "· 今日要点"); err != nil {
		t.Fatalf("SendTopicCard: %v", err)
	}

	if captured.MsgType != "interactive" || captured.Card == nil {
		t.Fatalf("expected interactive card, got %+v", captured)
	}
	if captured.Timestamp == "" || captured.Sign == "" {
		t.Fatalf("signed delivery should carry timestamp and sign")
	}
	if !strings.Contains(captured.Card.Header.Title.Content, "人工智能") {
		t.Fatalf("card header should name the topic: %q", captured.Card.Header.Title.Content)
	}

	// 摘要区块在最前，新闻按时间从新到旧、未知时间排最后
	if captured.Card.Elements[0].Text == nil || captured.Card.Elements[0].Text.Content != "· 今日要点" {
		t.Fatalf("digest should be the first element")
	}
	var newsBlock string
	for _, el := range captured.Card.Elements {
		if el.Text != nil && strings.Contains(el.Text.Content, "今日新闻") {
			newsBlock = el.Text.Content
		}
	}
	iNew := strings.Index(newsBlock, "新新闻")
	iOld := strings.Index(newsBlock, "老新闻")
	iNone := strings.Index(newsBlock, "无时间新闻")
	if iNew == -1 || !(iNew < iOld && iOld < iNone) {
		t.Fatalf("news should be newest first with unknown time last: %q", newsBlock)
	}
}

func TestSendRetriesOnServerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"code":0}`))
	}))
	defer srv.Close()

	n := newTestNotifier(srv.URL, "")
	var backoffs []time.Duration
	n.sleep = func(_ context.Context, d time.Duration) error {
		backoffs = append(backoffs, d)
		return nil
	}

	if err := n.SendText(context.Background(), "ping"); err != nil {
		t.Fatalf("should succeed on third attempt: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
	// 两次重试，退避间隔按指数增长
	if len(backoffs) != 2 {
		t.Fatalf("expected 2 backoff waits, got %v", backoffs)
	}
	if backoffs[0] != n.baseBackoff || backoffs[1] != 2*n.baseBackoff {
		t.Fatalf("backoff should double each retry: %v", backoffs)
	}
}

func TestSendGivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	n := newTestNotifier(srv.URL, "")
	err := n.SendText(context.Background(), "ping")
	if err == nil {
		t.Fatalf("expected failure after exhausting retries")
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", got)
	}
}

func TestSendDoesNotRetryClientError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n := newTestNotifier(srv.URL, "")
	err := n.SendText(context.Background(), "ping")

	var de *DeliveryError
	if !errors.As(err, &de) || de.Retriable {
		t.Fatalf("400 should be a non-retriable DeliveryError, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("client error must not be retried, got %d attempts", got)
	}
}

func TestSendDoesNotRetryFeishuRejection(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"code":19021,"msg":"sign match fail"}`))
	}))
	defer srv.Close()

	n := newTestNotifier(srv.URL, "")
	err := n.SendText(context.Background(), "ping")

	var de *DeliveryError
	if !errors.As(err, &de) || de.Retriable || de.Code != 19021 {
		t.Fatalf("feishu code!=0 should be a non-retriable rejection, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("rejection must not be retried, got %d attempts", got)
	}
}

func TestOversizeCardDropsOldestItemsKeepsDigest(t *testing.T) {
	var captured message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		w.Write([]byte(`{"code":0}`))
	}))
	defer srv.Close()

	// 大量长标题条目，保证超出消息体上限
	long := strings.Repeat("超长标题", 100)
	var items []collector.NewsItem
	base := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 100; i++ {
		items = append(items, collector.NewsItem{
			Title:       long,
			URL:         "https://a.example/x",
			PublishedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	n := newTestNotifier(srv.URL, "")
	if err := n.SendTopicCard(context.Background(), aiTopic, items, nil, "· 必须保留的摘要"); err != nil {
		t.Fatalf("SendTopicCard: %v", err)
	}

	payload, _ := json.Marshal(captured.Card)
	if len(payload) > maxPayloadBytes {
		t.Fatalf("truncated card still exceeds limit: %d bytes", len(payload))
	}
	if captured.Card.Elements[0].Text.Content != "· 必须保留的摘要" {
		t.Fatalf("digest must survive truncation")
	}
	var newsBlock string
	for _, el := range captured.Card.Elements {
		if el.Text != nil && strings.Contains(el.Text.Content, "今日新闻") {
			newsBlock = el.Text.Content
		}
	}
	// 裁剪应保留最新的条目（裁掉排序后的尾部，即最旧的）
	if !strings.Contains(newsBlock, "01:39") {
		t.Fatalf("newest item should survive truncation")
	}
}

func TestUnconfiguredWebhook(t *testing.T) {
	n := NewNotifier("", "", 0)
	if err := n.SendText(context.Background(), "ping"); err == nil {
		t.Fatalf("missing webhook url should error")
	}
}
