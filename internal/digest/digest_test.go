package digest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"newscatcher/internal/collector"
	"newscatcher/internal/config"
)

var aiTopic = config.Topic{ID: "ai", DisplayName: "人工智能"}

func sampleItems() []collector.NewsItem {
	return []collector.NewsItem{
		{Title: "大语言模型推理成本下降", Source: "36氪"},
		{Title: "智能算力中心落地西部", Source: "baidu_news"},
	}
}

type failingGenerator struct{}

func (failingGenerator) ChatCompletion(context.Context, string, string) (string, error) {
	return "", errors.New("timeout")
}

func TestSummarizeFallsBackOnLLMFailure(t *testing.T) {
	b := NewBuilder(failingGenerator{}, 5)
	got := b.Summarize(context.Background(), aiTopic, sampleItems(), nil)

	want := b.Fallback(aiTopic, sampleItems(), nil)
	if got != want {
		t.Fatalf("failed llm should produce exact fallback digest:\n got  %q\n want %q", got, want)
	}
	if got == "" {
		t.Fatalf("fallback must be non-empty for non-empty input")
	}
}

func TestFallbackDeterministicAndTruncated(t *testing.T) {
	b := NewBuilder(nil, 2)
	items := append(sampleItems(), collector.NewsItem{Title: "第三条新闻", Source: "rss"})

	first := b.Fallback(aiTopic, items, nil)
	second := b.Fallback(aiTopic, items, nil)
	if first != second {
		t.Fatalf("fallback must be deterministic")
	}
	// 最多列出 maxItems 条
	if strings.Count(first, "·") != 2 {
		t.Fatalf("fallback should cap at 2 items: %q", first)
	}
	if strings.Contains(first, "第三条新闻") {
		t.Fatalf("truncated item should not appear: %q", first)
	}
}

func TestFallbackPutsFundingFirst(t *testing.T) {
	b := NewBuilder(nil, 5)
	events := []collector.FundingEvent{
		{Company: "无界动力", EventType: "融资", Round: "天使+轮", Amount: "超2亿元"},
	}
	got := b.Fallback(aiTopic, sampleItems(), events)

	lines := strings.Split(got, "\n")
	if !strings.HasPrefix(lines[0], "🔥 💰 无界动力") {
		t.Fatalf("funding highlight should lead the fallback: %q", lines[0])
	}
}

func TestSummarizeEmptyInputIsEmpty(t *testing.T) {
	b := NewBuilder(nil, 5)
	if got := b.Summarize(context.Background(), aiTopic, nil, nil); got != "" {
		t.Fatalf("empty input should produce empty digest, got %q", got)
	}
}

func TestLLMClientChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("missing bearer auth, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"<think>推理过程</think>· 要点一\n· 要点二"}}]}`))
	}))
	defer srv.Close()

	c := NewLLMClient(srv.URL, "deepseek-chat", "test-key", 5*time.Second)
	got, err := c.ChatCompletion(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	if got != "· 要点一\n· 要点二" {
		t.Fatalf("thinking tags should be stripped: %q", got)
	}
}

func TestLLMClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewLLMClient(srv.URL, "deepseek-chat", "test-key", 5*time.Second)
	if _, err := c.ChatCompletion(context.Background(), "s", "u"); err == nil {
		t.Fatalf("expected error on 429")
	}
}

func TestCleanThinkingTags(t *testing.T) {
	cases := []struct{ in, want string }{
		{"<think>abc</think>结论", "结论"},
		{"<think>未闭合", ""},
		{"```markdown\n· 要点\n```", "· 要点"},
		{"· 普通输出", "· 普通输出"},
	}
	for _, tc := range cases {
		if got := cleanThinkingTags(tc.in); got != tc.want {
			t.Fatalf("cleanThinkingTags(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
