package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"newscatcher/internal/config"
)

type fakeFetcher struct {
	name   string
	delay  time.Duration
	result FetchResult
	err    error
}

func (f *fakeFetcher) Name() string { return f.name }

func (f *fakeFetcher) Fetch(ctx context.Context, _ []config.Topic) (FetchResult, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return FetchResult{}, ctx.Err()
		}
	}
	return f.result, f.err
}

func newsItems(source string, titles ...string) []NewsItem {
	items := make([]NewsItem, 0, len(titles))
	for _, t := range titles {
		items = append(items, NewsItem{Title: t, URL: "https://example.com/" + t, Source: source})
	}
	return items
}

func TestCoordinatorPartialFailure(t *testing.T) {
	// 场景：A 超时失败，B、C 分别返回 5 条和 3 条
	fetchers := []Fetcher{
		&fakeFetcher{name: "a", err: errors.New("connection refused")},
		&fakeFetcher{name: "b", result: FetchResult{Items: newsItems("b", "b1", "b2", "b3", "b4", "b5")}},
		&fakeFetcher{name: "c", result: FetchResult{Items: newsItems("c", "c1", "c2", "c3")}},
	}

	co := NewCoordinator(fetchers, Policy{})
	items, _, stats, err := co.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(items) != 8 {
		t.Fatalf("merged items = %d, want 8", len(items))
	}
	if !stats[0].Failed() || stats[0].Fetched != 0 {
		t.Fatalf("source a should be failed with 0 items: %+v", stats[0])
	}
	if stats[1].Failed() || stats[2].Failed() {
		t.Fatalf("sources b/c should not be failed: %+v %+v", stats[1], stats[2])
	}
}

func TestCoordinatorAllSourcesFailed(t *testing.T) {
	fetchers := []Fetcher{
		&fakeFetcher{name: "a", err: errors.New("boom")},
		&fakeFetcher{name: "b", err: errors.New("boom")},
	}

	co := NewCoordinator(fetchers, Policy{})
	_, _, stats, err := co.Run(context.Background(), nil)
	if !errors.Is(err, ErrAllSourcesFailed) {
		t.Fatalf("err = %v, want ErrAllSourcesFailed", err)
	}
	for _, st := range stats {
		if !st.Failed() {
			t.Fatalf("stat should be failed: %+v", st)
		}
	}
}

func TestCoordinatorQuietSourceIsNotFailure(t *testing.T) {
	// 0 条且无错误只是"今天没新闻"，不算失败
	fetchers := []Fetcher{
		&fakeFetcher{name: "quiet"},
		&fakeFetcher{name: "broken", err: errors.New("boom")},
	}

	co := NewCoordinator(fetchers, Policy{})
	_, _, stats, err := co.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if stats[0].Failed() {
		t.Fatalf("quiet source should not be failed: %+v", stats[0])
	}
}

func TestCoordinatorMergeOrderIsRegistrationOrder(t *testing.T) {
	// A 完成得比 B 晚，但合并结果里 A 的条目仍然在前
	fetchers := []Fetcher{
		&fakeFetcher{name: "a", delay: 80 * time.Millisecond, result: FetchResult{Items: newsItems("a", "a1")}},
		&fakeFetcher{name: "b", result: FetchResult{Items: newsItems("b", "b1")}},
	}

	co := NewCoordinator(fetchers, Policy{})
	items, _, _, err := co.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(items) != 2 || items[0].Source != "a" || items[1].Source != "b" {
		t.Fatalf("merge order should follow registration order: %+v", items)
	}
}

func TestCoordinatorGlobalTimeoutAbandonsSlowSource(t *testing.T) {
	fetchers := []Fetcher{
		&fakeFetcher{name: "slow", delay: 2 * time.Second, result: FetchResult{Items: newsItems("slow", "s1")}},
		&fakeFetcher{name: "fast", result: FetchResult{Items: newsItems("fast", "f1")}},
	}

	co := NewCoordinator(fetchers, Policy{GlobalTimeout: 100 * time.Millisecond, SourceTimeout: 5 * time.Second})
	items, _, stats, err := co.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	// 被放弃的源不采信任何部分结果
	if len(items) != 1 || items[0].Source != "fast" {
		t.Fatalf("only fast source items should survive: %+v", items)
	}
	if !stats[0].TimedOut || !stats[0].Failed() {
		t.Fatalf("slow source should be marked timed out: %+v", stats[0])
	}
}

func TestCoordinatorEventsMerged(t *testing.T) {
	fetchers := []Fetcher{
		&fakeFetcher{name: "pedaily", result: FetchResult{Events: []FundingEvent{
			{Company: "无界动力", Title: "无界动力完成超2亿元天使+轮融资", EventType: "融资", Round: "天使+轮", Amount: "超2亿元"},
		}}},
	}

	co := NewCoordinator(fetchers, Policy{})
	_, events, stats, err := co.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(events) != 1 || stats[0].Events != 1 {
		t.Fatalf("funding events should be merged into run: %+v %+v", events, stats)
	}
}
