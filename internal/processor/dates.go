package processor

import (
	"log"
	"strings"
	"time"
)

// 上游原生格式为 "2025-11-02 14:30:00"（UTC，无时区）
const upstreamLayout = "2006-01-02 15:04:05"

// isoLayouts ISO-8601 日期时间，时区可有可无
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

// DateNormalizer 解析上游各种格式的时间字符串，永不失败
type DateNormalizer struct {
	Clock Clock
}

// Parse 依次尝试 ISO-8601、上游格式、空格替换为 T 后的 ISO-8601；
// 全部失败时返回当前时间。
func (d DateNormalizer) Parse(raw string) time.Time {
	t, _ := d.ParseResolved(raw)
	return t
}

// ParseResolved 与 Parse 相同，额外返回是否真正解析出了日期
func (d DateNormalizer) ParseResolved(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return d.now(), false
	}

	if t, ok := parseISO(raw); ok {
		return t, true
	}
	if t, err := time.ParseInLocation(upstreamLayout, raw, time.UTC); err == nil {
		return t, true
	}
	if t, ok := parseISO(strings.ReplaceAll(raw, " ", "T")); ok {
		return t, true
	}

	log.Printf("warn: could not parse date %q, using current time", raw)
	return d.now(), false
}

func (d DateNormalizer) now() time.Time {
	if d.Clock == nil {
		return time.Now()
	}
	return d.Clock.Now()
}

func parseISO(s string) (time.Time, bool) {
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
