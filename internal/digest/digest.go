package digest

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/LJTian/Newsy/internal/storage"
)

const (
	// DefaultMaxArticlesPerMail 每封邮件最多的文章数
	DefaultMaxArticlesPerMail = 8
	// TopPerCategory 每个订阅分类取的文章数
	TopPerCategory = 2
)

// ArticleSource 按分类取最新文章，排序同分类接口（最新抓取优先）
type ArticleSource interface {
	ListByCategory(ctx context.Context, category string, limit int) ([]storage.Article, error)
}

// Recipient 一个邮件接收人
type Recipient struct {
	Email            string
	Categories       []string
	UnsubscribeToken string
}

// Entry 邮件中的一篇文章
type Entry struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Summary string `json:"summary"`
}

type Compiler struct {
	source     ArticleSource
	maxPerMail int
}

func NewCompiler(source ArticleSource, maxPerMail int) *Compiler {
	if maxPerMail <= 0 {
		maxPerMail = DefaultMaxArticlesPerMail
	}
	return &Compiler{source: source, maxPerMail: maxPerMail}
}

// Compile 依订阅顺序每个分类取 2 篇，拼接后截断到 maxPerMail。
// 返回空列表表示无需发送，不是错误。
func (c *Compiler) Compile(ctx context.Context, r *Recipient) ([]Entry, error) {
	if r == nil {
		return []Entry{}, nil
	}

	entries := make([]Entry, 0, c.maxPerMail)
	for _, cat := range r.Categories {
		cat = strings.ToLower(strings.TrimSpace(cat))
		if cat == "" {
			continue
		}
		if len(entries) >= c.maxPerMail {
			break
		}

		articles, err := c.source.ListByCategory(ctx, cat, TopPerCategory)
		if err != nil {
			return nil, fmt.Errorf("digest: fetch %s for %s: %w", cat, r.Email, err)
		}
		if len(articles) > TopPerCategory {
			articles = articles[:TopPerCategory]
		}
		log.Printf("digest: fetched %d articles for %s (%s)", len(articles), cat, r.Email)

		for _, a := range articles {
			if len(entries) >= c.maxPerMail {
				break
			}
			entries = append(entries, Entry{Title: a.Title, URL: a.URL, Summary: a.Description})
		}
	}
	return entries, nil
}
