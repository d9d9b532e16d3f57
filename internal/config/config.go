package config

import (
	_ "embed"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed topics.yaml
var defaultTopicsYAML []byte

// Topic 一个行业类别：稳定 id + 展示名 + 匹配关键词
type Topic struct {
	ID          string   `yaml:"id" json:"id"`
	DisplayName string   `yaml:"name" json:"name"`
	Emoji       string   `yaml:"emoji" json:"emoji"`
	Keywords    []string `yaml:"keywords" json:"keywords"`
	// FundingKeywords 仅用于投融资事件的扩展匹配（融资标题往往不含行业正式名称）
	FundingKeywords []string `yaml:"funding_keywords" json:"fundingKeywords,omitempty"`
}

// Feed 一个 RSS 订阅源
type Feed struct {
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`
}

// TopicsFile 话题配置文件结构，进程启动时加载一次，运行期间不可变
type TopicsFile struct {
	Topics []Topic `yaml:"topics"`
	Feeds  []Feed  `yaml:"feeds"`
}

type Config struct {
	AppPort string

	BasicAuthUser string
	BasicAuthPass string

	FeishuWebhookURL    string
	FeishuWebhookSecret string

	LLMAPIKey  string
	LLMBaseURL string
	LLMModel   string

	PostgresDSN string
	RedisAddr   string

	CronSpec  string
	BackupDir string

	TopicsFile string

	DedupThreshold float64
	MaxPerTopic    int
	MaxTotalItems  int

	RequestTimeout     time.Duration
	SourceTimeout      time.Duration
	GlobalFetchTimeout time.Duration
	MaxParallelFetch   int
}

func Load() *Config {
	cfg := &Config{
		AppPort: getEnv("APP_PORT", "9000"),

		BasicAuthUser: getEnv("APP_BASIC_USER", ""),
		BasicAuthPass: getEnv("APP_BASIC_PASS", ""),

		FeishuWebhookURL:    getEnv("FEISHU_WEBHOOK_URL", ""),
		FeishuWebhookSecret: getEnv("FEISHU_WEBHOOK_SECRET", ""),

		LLMAPIKey:  getEnv("LLM_API_KEY", ""),
		LLMBaseURL: getEnv("LLM_BASE_URL", "https://api.moonshot.cn/v1"),
		LLMModel:   getEnv("LLM_MODEL", "kimi-k2.5"),

		PostgresDSN: getEnv("POSTGRES_DSN", ""),
		RedisAddr:   getEnv("REDIS_ADDR", ""),

		// 每天 09:30（本地时区）执行
		CronSpec:  getEnv("CRON_SPEC", "30 9 * * *"),
		BackupDir: getEnv("BACKUP_DIR", "data"),

		TopicsFile: getEnv("TOPICS_FILE", ""),

		DedupThreshold: getEnvFloat("DEDUP_THRESHOLD", 0.8),
		MaxPerTopic:    getEnvInt("MAX_NEWS_PER_TOPIC", 5),
		MaxTotalItems:  getEnvInt("MAX_TOTAL_NEWS", 50),

		RequestTimeout:     getEnvDuration("REQUEST_TIMEOUT", 15*time.Second),
		SourceTimeout:      getEnvDuration("SOURCE_TIMEOUT", 60*time.Second),
		GlobalFetchTimeout: getEnvDuration("FETCH_TIMEOUT", 120*time.Second),
		MaxParallelFetch:   getEnvInt("FETCH_PARALLEL", 3),
	}

	log.Printf("config loaded: port=%s cron=%q llm=%v archive=%v",
		cfg.AppPort, cfg.CronSpec, cfg.LLMAPIKey != "", cfg.PostgresDSN != "")
	return cfg
}

// LoadTopics 加载话题/RSS 配置；path 为空时使用内置默认配置
func LoadTopics(path string) (*TopicsFile, error) {
	raw := defaultTopicsYAML
	if path != "" {
		bs, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read topics file: %w", err)
		}
		raw = bs
	}

	var tf TopicsFile
	if err := yaml.Unmarshal(raw, &tf); err != nil {
		return nil, fmt.Errorf("parse topics file: %w", err)
	}
	if len(tf.Topics) == 0 {
		return nil, fmt.Errorf("topics file contains no topics")
	}
	for _, t := range tf.Topics {
		if t.ID == "" || len(t.Keywords) == 0 {
			return nil, fmt.Errorf("topic %q missing id or keywords", t.DisplayName)
		}
	}
	return &tf, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
		log.Printf("warn: invalid %s=%q, using default %d", key, v, def)
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 && f <= 1 {
			return f
		}
		log.Printf("warn: invalid %s=%q, using default %v", key, v, def)
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
		log.Printf("warn: invalid %s=%q, using default %v", key, v, def)
	}
	return def
}
