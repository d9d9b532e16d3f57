package digest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// LLMClient 调用 OpenAI 兼容的 chat completions 接口
// （DeepSeek / Moonshot / OpenAI / 智谱 均可）。
// 摘要是尽力而为：单次有界调用，不重试。
type LLMClient struct {
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
}

func NewLLMClient(baseURL, model, apiKey string, timeout time.Duration) *LLMClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LLMClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ChatCompletion 发送一轮 system+user 对话并返回清洗后的回复文本
func (c *LLMClient) ChatCompletion(ctx context.Context, system, user string) (string, error) {
	if c == nil || c.apiKey == "" || c.baseURL == "" || c.model == "" {
		return "", fmt.Errorf("llm client misconfigured")
	}

	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens:   500,
		Temperature: 0.3,
	}
	// Kimi K2 系列是思考模型：只接受 temperature=1，且思考过程占用更多 token
	if isThinkingModel(c.model) {
		reqBody.Temperature = 1.0
		reqBody.MaxTokens = 2048
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("llm error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("llm returned no choices")
	}

	return cleanThinkingTags(parsed.Choices[0].Message.Content), nil
}

func isThinkingModel(model string) bool {
	m := strings.ToLower(model)
	return strings.Contains(m, "kimi") && strings.Contains(m, "k2")
}

var (
	thinkBlockRe   = regexp.MustCompile(`(?s)<think>.*?</think>`)
	thinkTrailRe   = regexp.MustCompile(`(?s)<think>.*`)
	codeFenceOpen  = regexp.MustCompile(`(?m)^` + "```" + `[a-z]*\n?`)
	codeFenceClose = regexp.MustCompile(`\n?` + "```" + `$`)
)

// cleanThinkingTags 去掉思考模型回复里的 <think> 过程与 Markdown 代码块包裹
func cleanThinkingTags(text string) string {
	cleaned := thinkBlockRe.ReplaceAllString(text, "")
	cleaned = thinkTrailRe.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(cleaned)
	cleaned = codeFenceOpen.ReplaceAllString(cleaned, "")
	cleaned = codeFenceClose.ReplaceAllString(strings.TrimSpace(cleaned), "")
	return strings.TrimSpace(cleaned)
}
