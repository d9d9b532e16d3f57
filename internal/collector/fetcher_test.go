package collector

import (
	"testing"
	"time"
)

func TestCleanTextStripsTagsAndSpace(t *testing.T) {
	got := cleanText("  <em>央行</em>下调存款准备金率 <b>0.5</b> 个百分点\n")
	want := "央行下调存款准备金率 0.5 个百分点"
	if got != want {
		t.Fatalf("cleanText = %q, want %q", got, want)
	}
}

func TestTruncateRunesKeepsMultibyteIntact(t *testing.T) {
	s := "量子计算取得新突破"
	if got := truncateRunes(s, 4); got != "量子计算" {
		t.Fatalf("truncateRunes = %q", got)
	}
	if got := truncateRunes(s, 100); got != s {
		t.Fatalf("truncateRunes under limit should keep original: %q", got)
	}
}

func TestParsePublishTime(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)

	cases := []struct {
		in   string
		want time.Time
	}{
		{"新华社 2026-03-09 08:30", time.Date(2026, 3, 9, 8, 30, 0, 0, time.Local)},
		{"2026年3月8日", time.Date(2026, 3, 8, 0, 0, 0, 0, time.Local)},
		{"财联社 3小时前", now.Add(-3 * time.Hour)},
		{"15分钟前", now.Add(-15 * time.Minute)},
	}
	for _, tc := range cases {
		if got := parsePublishTime(tc.in, now); !got.Equal(tc.want) {
			t.Fatalf("parsePublishTime(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}

	// 解析不出时间时返回零值，下游按"未知时间"处理
	if got := parsePublishTime("某媒体", now); !got.IsZero() {
		t.Fatalf("unparseable time should be zero, got %v", got)
	}
}

func TestFundingEventHighlightText(t *testing.T) {
	evt := FundingEvent{Company: "无界动力", EventType: "融资", Round: "天使+轮", Amount: "超2亿元"}
	if got := evt.HighlightText(); got != "💰 无界动力完成天使+轮（超2亿元）" {
		t.Fatalf("HighlightText = %q", got)
	}

	ipo := FundingEvent{Company: "智谱", EventType: "IPO", Round: "IPO", Amount: "市值500亿"}
	if got := ipo.HighlightText(); got != "💰 智谱 IPO（市值500亿）" {
		t.Fatalf("HighlightText = %q", got)
	}
}
