// Package storage 负责一轮运行结果的持久化：
// 本地 JSON 备份（始终开启）、PostgreSQL 归档与 Redis 最近一轮缓存（均可选）。
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"newscatcher/internal/collector"
	"newscatcher/internal/pipeline"
)

const latestRunKey = "newscatcher:latest_run"
const latestRunTTL = 48 * time.Hour

// Run 一轮运行的归档记录
type Run struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	RanAt            time.Time `gorm:"index" json:"ranAt"`
	RunDate          string    `gorm:"size:10;index" json:"runDate"` // 东八区日期 YYYY-MM-DD
	TotalFetched     int       `json:"totalFetched"`
	AfterDedup       int       `json:"afterDedup"`
	Unmatched        int       `json:"unmatched"`
	Deliveries       int       `json:"deliveries"`
	DeliveryFailures int       `json:"deliveryFailures"`
	// 过程统计原样存 jsonb，含各源的抓取明细
	Stats datatypes.JSONMap `gorm:"type:jsonb" json:"stats"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// News 归档的单条新闻，归属于某轮运行和某个话题
type News struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	RunID       uint      `gorm:"index" json:"runId"`
	TopicID     string    `gorm:"size:64;index" json:"topicId"`
	Title       string    `gorm:"size:512" json:"title"`
	URL         string    `gorm:"size:1024;index" json:"url"`
	Source      string    `gorm:"size:64;index" json:"source"`
	Summary     string    `gorm:"size:600" json:"summary"`
	PublishedAt time.Time `gorm:"index" json:"publishedAt"`

	CreatedAt time.Time `json:"createdAt"`
}

// Store 归档与缓存的访问入口。DB 与 Redis 都允许为 nil，
// 对应的能力自动退化为不可用。
type Store struct {
	DB    *gorm.DB
	Redis *redis.Client
}

// NewStore 按配置打开归档存储。dsn 为空时跳过数据库，
// redisAddr 为空时跳过缓存；两者都为空时仍返回可用的空 Store。
func NewStore(dsn, redisAddr string) (*Store, error) {
	s := &Store{}

	if dsn != "" {
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.AutoMigrate(&Run{}, &News{}); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		s.DB = db
	}

	if redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("warn: redis ping failed: %v", err)
		}
		s.Redis = rdb
	}

	return s, nil
}

// 东八区，用于归档日期
var locEast8 *time.Location

func init() {
	locEast8, _ = time.LoadLocation("Asia/Shanghai")
	if locEast8 == nil {
		locEast8 = time.FixedZone("CST", 8*3600)
	}
}

// toValidUTF8 将字符串规范为合法 UTF-8，避免 PostgreSQL invalid byte sequence 错误（百度等源可能含 GBK/混编）
func toValidUTF8(s string) string {
	return strings.ToValidUTF8(s, "�")
}

// truncateRunesDB 按 rune 数截断字符串，确保不超过数据库字段长度（例如 varchar(600)）
func truncateRunesDB(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit])
}

// SaveRun 归档一轮运行结果并刷新最近一轮缓存。
// 数据库与缓存各自独立失败，缓存失败只记日志。
func (s *Store) SaveRun(ctx context.Context, result *pipeline.RunResult) error {
	if s.Redis != nil {
		if bs, err := json.Marshal(result); err == nil {
			if err := s.Redis.Set(ctx, latestRunKey, bs, latestRunTTL).Err(); err != nil {
				log.Printf("warn: cache latest run failed: %v", err)
			}
		}
	}

	if s.DB == nil {
		return nil
	}

	run := &Run{
		RanAt:            result.Timestamp,
		RunDate:          result.Timestamp.In(locEast8).Format("2006-01-02"),
		TotalFetched:     result.Stats.TotalFetched,
		AfterDedup:       result.Stats.AfterDedup,
		Unmatched:        result.Stats.Unmatched,
		Deliveries:       result.Stats.Deliveries,
		DeliveryFailures: result.Stats.DeliveryFailures,
		Stats:            statsToMap(result.Stats),
	}
	if err := s.DB.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("archive run: %w", err)
	}

	var rows []News
	for _, tr := range result.Topics {
		for _, item := range tr.Items {
			rows = append(rows, News{
				RunID:       run.ID,
				TopicID:     tr.TopicID,
				Title:       truncateRunesDB(toValidUTF8(item.Title), 512),
				URL:         item.URL,
				Source:      item.Source,
				Summary:     truncateRunesDB(toValidUTF8(item.Summary), 600),
				PublishedAt: item.PublishedAt,
			})
		}
	}
	if len(rows) == 0 {
		return nil
	}
	if err := s.DB.WithContext(ctx).CreateInBatches(rows, 100).Error; err != nil {
		return fmt.Errorf("archive news: %w", err)
	}

	return nil
}

// statsToMap 把统计结构转成 jsonb 可存的通用 map
func statsToMap(stats pipeline.Stats) datatypes.JSONMap {
	bs, err := json.Marshal(stats)
	if err != nil {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(bs, &m); err != nil {
		return nil
	}
	return datatypes.JSONMap(m)
}

// LatestRun 返回最近一轮的完整结果。优先读 Redis 缓存，
// 缓存不可用时从数据库重建（不含过程统计明细之外的原始数据）。
func (s *Store) LatestRun(ctx context.Context) (*pipeline.RunResult, error) {
	if s.Redis != nil {
		if bs, err := s.Redis.Get(ctx, latestRunKey).Bytes(); err == nil {
			var cached pipeline.RunResult
			if err := json.Unmarshal(bs, &cached); err == nil {
				return &cached, nil
			}
		}
	}

	if s.DB == nil {
		return nil, fmt.Errorf("no archived runs available")
	}

	var run Run
	if err := s.DB.WithContext(ctx).Order("ran_at DESC").First(&run).Error; err != nil {
		return nil, fmt.Errorf("load latest run: %w", err)
	}

	var rows []News
	if err := s.DB.WithContext(ctx).Where("run_id = ?", run.ID).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load run news: %w", err)
	}

	result := &pipeline.RunResult{
		Timestamp: run.RanAt,
		Stats: pipeline.Stats{
			TotalFetched:     run.TotalFetched,
			AfterDedup:       run.AfterDedup,
			Unmatched:        run.Unmatched,
			Deliveries:       run.Deliveries,
			DeliveryFailures: run.DeliveryFailures,
		},
	}

	byTopic := make(map[string]int) // topic id -> index in result.Topics
	for _, row := range rows {
		idx, ok := byTopic[row.TopicID]
		if !ok {
			result.Topics = append(result.Topics, pipeline.TopicResult{TopicID: row.TopicID, DisplayName: row.TopicID})
			idx = len(result.Topics) - 1
			byTopic[row.TopicID] = idx
		}
		result.Topics[idx].Items = append(result.Topics[idx].Items, collector.NewsItem{
			Title:       row.Title,
			URL:         row.URL,
			Source:      row.Source,
			Summary:     row.Summary,
			PublishedAt: row.PublishedAt,
			Topics:      []string{row.TopicID},
		})
	}

	return result, nil
}
