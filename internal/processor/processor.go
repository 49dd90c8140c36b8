package processor

import (
	"strings"
	"time"

	"github.com/LJTian/Newsy/internal/collector"
	"github.com/LJTian/Newsy/internal/storage"
)

const (
	// ArticlesPerCategory 每个分类最多保存的文章数
	ArticlesPerCategory = 4
	// DefaultMaxArticleAgeDays 默认只保留两天内发布的文章
	DefaultMaxArticleAgeDays = 2

	descriptionMaxRunes = 500

	defaultTitle       = "No Title"
	defaultAuthor      = "Unknown Author"
	defaultSource      = "Unknown Source"
	defaultDescription = "No description available"

	faviconServiceURL = "https://www.google.com/s2/favicons?domain="
	faviconDefaultKey = "news.com"
)

// DefaultCategories 默认抓取的分类，顺序即处理与展示顺序
var DefaultCategories = []string{"technology", "sports", "business", "education", "entertainment"}

// FallbackImage 未知分类使用的占位图
const FallbackImage = "https://images.unsplash.com/photo-1504711434969-e33886168f5c?w=800"

// DefaultImages 上游没有图片时按分类使用的占位图（key 为小写分类）
var DefaultImages = map[string]string{
	"technology":    "https://images.unsplash.com/photo-1518770660439-4636190af475?w=800",
	"sports":        "https://images.unsplash.com/photo-1461896836934-ffe607ba8211?w=800",
	"business":      "https://images.unsplash.com/photo-1486406146926-c627a92ad1ab?w=800",
	"education":     "https://images.unsplash.com/photo-1506748686214-e9df14d4d9d0?w=800",
	"entertainment": "https://images.unsplash.com/photo-1517841905240-472988babdf9?w=800",
}

// Clock 抽象当前时间，方便测试固定 now
type Clock interface {
	Now() time.Time
}

// ClockFunc 让普通函数满足 Clock，例如 ClockFunc(time.Now)
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock 使用墙上时间
var SystemClock Clock = ClockFunc(time.Now)

// NormalizeCategory 首字母大写、其余小写，例如 "TECHNOLOGY" -> "Technology"，与存储形式一致
func NormalizeCategory(s string) string {
	return storage.CanonicalCategory(s)
}

// Mapper 把上游原始记录转换为待入库的 Article，缺失字段一律给默认值
type Mapper struct {
	Dates DateNormalizer
}

func NewMapper(clock Clock) *Mapper {
	return &Mapper{Dates: DateNormalizer{Clock: clock}}
}

// Map 不做任何 I/O；FetchedAt 由入库方统一设置
func (m *Mapper) Map(raw collector.RawArticle, category string) storage.Article {
	category = NormalizeCategory(category)
	publishedAt, resolved := m.Dates.ParseResolved(raw.PubDate)

	return storage.Article{
		Title:             firstNonBlank(raw.Title, defaultTitle),
		Author:            authorOf(raw.Creator),
		SourceName:        firstNonBlank(raw.SourceName, raw.SourceID, defaultSource),
		URL:               strings.TrimSpace(raw.Link),
		PublishedAt:       publishedAt,
		PublishedResolved: resolved,
		Category:          category,
		Description:       describe(raw),
		ImageURL:          firstNonBlank(raw.ImageURL, DefaultImageFor(category)),
		SourceIcon:        firstNonBlank(raw.SourceIcon, FallbackSourceIcon(raw.SourceID)),
	}
}

// DefaultImageFor 返回分类占位图，分类名忽略大小写
func DefaultImageFor(category string) string {
	if img, ok := DefaultImages[strings.ToLower(strings.TrimSpace(category))]; ok {
		return img
	}
	return FallbackImage
}

// FallbackSourceIcon 上游没有 source_icon 时用 favicon 服务按 source id 生成
func FallbackSourceIcon(sourceID string) string {
	domain := strings.TrimSpace(sourceID)
	if domain == "" {
		domain = faviconDefaultKey
	}
	return faviconServiceURL + domain + "&sz=64"
}

func authorOf(creators []string) string {
	for _, c := range creators {
		if strings.TrimSpace(c) != "" {
			return c
		}
	}
	return defaultAuthor
}

// describe: description -> content(超过 500 字截断) -> 占位文案
func describe(raw collector.RawArticle) string {
	if d := strings.TrimSpace(raw.Description); d != "" {
		return raw.Description
	}
	if c := strings.TrimSpace(raw.Content); c != "" {
		return truncateRunes(raw.Content, descriptionMaxRunes)
	}
	return defaultDescription
}

// truncateRunes 按 rune 截断并追加 "..."；未超过 limit 时原样返回
func truncateRunes(s string, limit int) string {
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit]) + "..."
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
