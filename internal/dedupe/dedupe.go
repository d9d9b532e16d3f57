// Package dedupe 在单个话题的条目列表内做近重复折叠。
// 判重依据是归一化标题的字符二元组 Jaccard 相似度；
// 判为重复时保留合并顺序里先出现的那条（先见者保留），
// 因此在固定的源注册顺序下输出是确定性的。
package dedupe

import (
	"strings"
	"unicode"

	"newscatcher/internal/collector"
)

// DefaultThreshold 推荐判重阈值；可调参数而非固定契约
const DefaultThreshold = 0.8

// Stats 一次去重的进出统计
type Stats struct {
	In      int `json:"in"`
	Out     int `json:"out"`
	Removed int `json:"removed"`
}

// Items 对一个话题的条目列表去重。对已去重列表再执行一次不会再移除任何条目。
func Items(items []collector.NewsItem, threshold float64) ([]collector.NewsItem, Stats) {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}

	kept := make([]collector.NewsItem, 0, len(items))
	keptGrams := make([]map[string]struct{}, 0, len(items))

	for _, item := range items {
		grams := bigrams(normalizeTitle(item.Title))

		dup := false
		for _, kg := range keptGrams {
			if jaccard(grams, kg) >= threshold {
				dup = true
				break
			}
		}
		if dup {
			continue
		}

		kept = append(kept, item)
		keptGrams = append(keptGrams, grams)
	}

	return kept, Stats{In: len(items), Out: len(kept), Removed: len(items) - len(kept)}
}

// normalizeTitle 大小写折叠并去掉标点、符号与空白，
// 让"（更新）"之类的装饰后缀不影响判重
func normalizeTitle(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// bigrams 归一化标题的 rune 二元组集合；不足两个字符时整串作为单元素
func bigrams(s string) map[string]struct{} {
	rs := []rune(s)
	set := make(map[string]struct{}, len(rs))
	if len(rs) < 2 {
		if len(rs) > 0 {
			set[string(rs)] = struct{}{}
		}
		return set
	}
	for i := 0; i+1 < len(rs); i++ {
		set[string(rs[i:i+2])] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for g := range a {
		if _, ok := b[g]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
