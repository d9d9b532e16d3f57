// Package pipeline 串起一轮完整的采集流程：
// 抓取 -> 分类 -> 去重 -> 摘要 -> 备份落盘 -> 飞书推送。
// 备份写在推送之前，推送失败也不丢当轮数据。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"newscatcher/internal/classify"
	"newscatcher/internal/collector"
	"newscatcher/internal/config"
	"newscatcher/internal/dedupe"
)

// Summarizer 为单个话题生成摘要文本，失败时返回空串或回退文本
type Summarizer interface {
	Summarize(ctx context.Context, topic config.Topic, items []collector.NewsItem, events []collector.FundingEvent) string
}

// Notifier 推送渠道，当前只有飞书实现
type Notifier interface {
	SendTopicCard(ctx context.Context, topic config.Topic, items []collector.NewsItem, events []collector.FundingEvent, digest string) error
	SendText(ctx context.Context, text string) error
}

// BackupWriter 把一轮结果写成本地备份文件
type BackupWriter interface {
	Write(result *RunResult) (string, error)
}

// Archiver 把一轮结果归档到数据库，并更新最近一轮缓存
type Archiver interface {
	SaveRun(ctx context.Context, result *RunResult) error
}

// TopicResult 单个话题在一轮运行中的产出
type TopicResult struct {
	TopicID     string                   `json:"topic_id"`
	DisplayName string                   `json:"display_name"`
	Items       []collector.NewsItem     `json:"items"`
	Events      []collector.FundingEvent `json:"events,omitempty"`
	Digest      string                   `json:"digest,omitempty"`
}

// Stats 一轮运行的过程统计
type Stats struct {
	Sources          []collector.SourceStat `json:"sources"`
	TotalFetched     int                    `json:"total_fetched"`
	AfterDedup       int                    `json:"after_dedup"`
	DedupRemoved     int                    `json:"dedup_removed"`
	Unmatched        int                    `json:"unmatched"`
	Deliveries       int                    `json:"deliveries"`
	DeliveryFailures int                    `json:"delivery_failures"`
}

// RunResult 一轮运行的完整产物。Topics 按配置里的话题顺序排列。
type RunResult struct {
	Timestamp time.Time            `json:"timestamp"`
	Topics    []TopicResult        `json:"topics"`
	Unmatched []collector.NewsItem `json:"unmatched,omitempty"`
	Stats     Stats                `json:"stats"`
}

// ErrRunInProgress 已有一轮在执行时再次触发返回
var ErrRunInProgress = errors.New("run already in progress")

// Pipeline 一轮采集推送流程的编排器。
// 定时触发与 API 触发共用同一个在途标记，任何时刻最多一轮在执行。
type Pipeline struct {
	cfg         *config.Config
	topics      []config.Topic
	coordinator *collector.Coordinator
	summarizer  Summarizer
	notifier    Notifier
	backup      BackupWriter
	archiver    Archiver
	running     atomic.Bool
}

func New(cfg *config.Config, topics []config.Topic, coord *collector.Coordinator, sum Summarizer, notifier Notifier, backup BackupWriter, archiver Archiver) *Pipeline {
	return &Pipeline{
		cfg:         cfg,
		topics:      topics,
		coordinator: coord,
		summarizer:  sum,
		notifier:    notifier,
		backup:      backup,
		archiver:    archiver,
	}
}

// Run 执行一轮完整流程。已有一轮在执行时返回 ErrRunInProgress，
// 此外只有两类错误会上抛：所有源都失败（collector.ErrAllSourcesFailed），
// 以及推送失败。备份、归档失败只记日志，不中断流程。
func (p *Pipeline) Run(ctx context.Context) (*RunResult, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer p.running.Store(false)
	return p.run(ctx)
}

// RunAsync 在后台启动一轮并立即返回。
// 抢不到在途标记时返回 ErrRunInProgress，运行期错误只记日志。
func (p *Pipeline) RunAsync(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}
	go func() {
		defer p.running.Store(false)
		if _, err := p.run(ctx); err != nil {
			log.Printf("async run failed: %v", err)
		}
	}()
	return nil
}

func (p *Pipeline) run(ctx context.Context) (*RunResult, error) {
	result, err := p.collect(ctx)
	if err != nil {
		return nil, err
	}

	if p.backup != nil {
		if path, err := p.backup.Write(result); err != nil {
			log.Printf("backup write failed: %v", err)
		} else {
			log.Printf("backup written to %s", path)
		}
	}

	var deliveryErrs []error
	if p.notifier != nil {
		for _, tr := range result.Topics {
			if len(tr.Items) == 0 && len(tr.Events) == 0 {
				continue
			}
			topic := p.topicByID(tr.TopicID)
			if err := p.notifier.SendTopicCard(ctx, topic, tr.Items, tr.Events, tr.Digest); err != nil {
				log.Printf("deliver topic %s failed: %v", tr.TopicID, err)
				result.Stats.DeliveryFailures++
				deliveryErrs = append(deliveryErrs, fmt.Errorf("topic %s: %w", tr.TopicID, err))
				continue
			}
			result.Stats.Deliveries++
		}
	}

	if p.archiver != nil {
		if err := p.archiver.SaveRun(ctx, result); err != nil {
			log.Printf("archive run failed: %v", err)
		}
	}

	log.Printf("run finished: fetched=%d after_dedup=%d unmatched=%d delivered=%d failed=%d",
		result.Stats.TotalFetched, result.Stats.AfterDedup, result.Stats.Unmatched,
		result.Stats.Deliveries, result.Stats.DeliveryFailures)

	if len(deliveryErrs) > 0 {
		return result, fmt.Errorf("%d of %d deliveries failed: %w",
			len(deliveryErrs), result.Stats.Deliveries+len(deliveryErrs), errors.Join(deliveryErrs...))
	}
	return result, nil
}

// DryRun 只抓取和加工，不推送也不落盘，用于验证配置与源可用性
func (p *Pipeline) DryRun(ctx context.Context) (*RunResult, error) {
	return p.collect(ctx)
}

// TestDelivery 发送一条探活文本，验证 Webhook 配置与签名
func (p *Pipeline) TestDelivery(ctx context.Context) error {
	if p.notifier == nil {
		return fmt.Errorf("notifier not configured")
	}
	text := fmt.Sprintf("✅ 行业新闻捕捉器测试消息\n发送时间: %s", time.Now().Format("2006-01-02 15:04:05"))
	return p.notifier.SendText(ctx, text)
}

// collect 抓取并加工出一轮结果，不带任何外部副作用
func (p *Pipeline) collect(ctx context.Context) (*RunResult, error) {
	items, events, sourceStats, err := p.coordinator.Run(ctx, p.topics)
	if err != nil {
		return nil, err
	}

	itemRes := classify.Items(items, p.topics)
	eventsByTopic := classify.Events(events, p.topics)

	result := &RunResult{
		Timestamp: time.Now(),
		Unmatched: itemRes.Unmatched,
		Stats: Stats{
			Sources:      sourceStats,
			TotalFetched: len(items),
			Unmatched:    len(itemRes.Unmatched),
		},
	}

	total := 0
	for _, topic := range p.topics {
		deduped, dstats := dedupe.Items(itemRes.ByTopic[topic.ID], p.cfg.DedupThreshold)
		result.Stats.DedupRemoved += dstats.Removed

		if len(deduped) > p.cfg.MaxPerTopic {
			deduped = deduped[:p.cfg.MaxPerTopic]
		}
		// 全局条数上限，按话题顺序截断
		if remain := p.cfg.MaxTotalItems - total; remain >= 0 && len(deduped) > remain {
			deduped = deduped[:remain]
		}
		total += len(deduped)

		topicEvents := eventsByTopic[topic.ID]
		if len(deduped) == 0 && len(topicEvents) == 0 {
			continue
		}

		tr := TopicResult{
			TopicID:     topic.ID,
			DisplayName: topic.DisplayName,
			Items:       deduped,
			Events:      topicEvents,
		}
		if p.summarizer != nil {
			tr.Digest = p.summarizer.Summarize(ctx, topic, deduped, topicEvents)
		}
		result.Topics = append(result.Topics, tr)
	}
	result.Stats.AfterDedup = total

	return result, nil
}

func (p *Pipeline) topicByID(id string) config.Topic {
	for _, t := range p.topics {
		if t.ID == id {
			return t
		}
	}
	return config.Topic{ID: id, DisplayName: id}
}
