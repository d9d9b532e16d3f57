package collector

import (
	"context"
	"errors"
	"log"
	"time"

	"newscatcher/internal/config"
)

// ErrAllSourcesFailed 所有数据源都失败时返回；只要有一个源成功就继续降级运行
var ErrAllSourcesFailed = errors.New("all sources failed")

// Policy 抓取阶段的隔离策略
type Policy struct {
	SourceTimeout time.Duration // 单个源的执行上限
	GlobalTimeout time.Duration // 整个抓取阶段的上限，超时的源被放弃
	MaxParallel   int           // 并发抓取的源数量上限
}

// SourceStat 单个源的采集统计
type SourceStat struct {
	Source   string `json:"source"`
	Fetched  int    `json:"fetched"`
	Events   int    `json:"events,omitempty"`
	Skipped  int    `json:"skipped,omitempty"`
	Error    string `json:"error,omitempty"`
	TimedOut bool   `json:"timedOut,omitempty"`
}

// Failed 判定该源本轮是否算失败：超时，或出错且一无所获。
// 降级（部分结果 + 错误）与安静（0 条且无错误）都不算失败。
func (s SourceStat) Failed() bool {
	if s.TimedOut {
		return true
	}
	return s.Error != "" && s.Fetched == 0 && s.Events == 0
}

// Coordinator 并发驱动所有数据源，单源故障互不影响。
// 合并顺序始终是注册顺序，与各源完成的先后无关，
// 这样后续去重的"先见者保留"裁决才是确定性的。
type Coordinator struct {
	fetchers []Fetcher
	policy   Policy
}

func NewCoordinator(fetchers []Fetcher, policy Policy) *Coordinator {
	if policy.SourceTimeout <= 0 {
		policy.SourceTimeout = 60 * time.Second
	}
	if policy.GlobalTimeout <= 0 {
		policy.GlobalTimeout = 120 * time.Second
	}
	if policy.MaxParallel <= 0 {
		policy.MaxParallel = 3
	}
	return &Coordinator{fetchers: fetchers, policy: policy}
}

type fetchSlot struct {
	result FetchResult
	err    error
	done   chan struct{}
}

// Run 执行一轮抓取。超过全局时限仍未完成的源被放弃，
// 其部分结果不采信。所有源都失败时返回 ErrAllSourcesFailed。
func (c *Coordinator) Run(ctx context.Context, topics []config.Topic) ([]NewsItem, []FundingEvent, []SourceStat, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	slots := make([]*fetchSlot, len(c.fetchers))
	sem := make(chan struct{}, c.policy.MaxParallel)

	for i, f := range c.fetchers {
		slot := &fetchSlot{done: make(chan struct{})}
		slots[i] = slot

		go func(f Fetcher, slot *fetchSlot) {
			defer close(slot.done)

			sem <- struct{}{}
			defer func() { <-sem }()

			srcCtx, srcCancel := context.WithTimeout(runCtx, c.policy.SourceTimeout)
			defer srcCancel()

			slot.result, slot.err = f.Fetch(srcCtx, topics)
		}(f, slot)
	}

	// 全局超时屏障：到点后不再等待，未完成的槽位整体丢弃
	timer := time.NewTimer(c.policy.GlobalTimeout)
	defer timer.Stop()

	completed := make([]bool, len(slots))
	expired := false
	for i, slot := range slots {
		if expired {
			select {
			case <-slot.done:
				completed[i] = true
			default:
			}
			continue
		}
		select {
		case <-slot.done:
			completed[i] = true
		case <-timer.C:
			expired = true
			select {
			case <-slot.done:
				completed[i] = true
			default:
			}
		}
	}

	var (
		items  []NewsItem
		events []FundingEvent
		stats  = make([]SourceStat, len(c.fetchers))
	)

	for i, f := range c.fetchers {
		stat := SourceStat{Source: f.Name()}
		if !completed[i] {
			stat.TimedOut = true
			log.Printf("fetch %s abandoned after global timeout %v", f.Name(), c.policy.GlobalTimeout)
			stats[i] = stat
			continue
		}

		slot := slots[i]
		stat.Fetched = len(slot.result.Items)
		stat.Events = len(slot.result.Events)
		stat.Skipped = slot.result.Skipped
		if slot.err != nil {
			stat.Error = slot.err.Error()
			log.Printf("fetch %s error: %v", f.Name(), slot.err)
		}
		stats[i] = stat

		items = append(items, slot.result.Items...)
		events = append(events, slot.result.Events...)
	}

	allFailed := len(c.fetchers) > 0
	for _, st := range stats {
		if !st.Failed() {
			allFailed = false
			break
		}
	}
	if allFailed {
		return nil, nil, stats, ErrAllSourcesFailed
	}

	return items, events, stats, nil
}
