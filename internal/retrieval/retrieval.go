package retrieval

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/LJTian/Newsy/internal/processor"
	"github.com/LJTian/Newsy/internal/storage"
)

const (
	// CategoryLimit 单个分类接口最多返回的条数
	CategoryLimit = 5
	// GroupLimit 全量接口每个分类最多返回的条数
	GroupLimit = 4
)

// ArticleReader 只读查询，排序均为 fetched_at DESC, published_at DESC
type ArticleReader interface {
	ListByCategory(ctx context.Context, category string, limit int) ([]storage.Article, error)
	ListAll(ctx context.Context) ([]storage.Article, error)
}

type Group struct {
	Category string
	Articles []storage.Article
}

// Groups 保持分类首次出现的顺序，序列化为有序 JSON 对象
type Groups []Group

func (g Groups) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, group := range g {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(group.Category)
		if err != nil {
			return nil, err
		}
		articles := group.Articles
		if articles == nil {
			articles = []storage.Article{}
		}
		val, err := json.Marshal(articles)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Overview 全量接口的返回
type Overview struct {
	TotalCategories int    `json:"totalCategories"`
	TotalArticles   int    `json:"totalArticles"`
	News            Groups `json:"news"`
}

type Service struct {
	reader ArticleReader
}

func NewService(reader ArticleReader) *Service {
	return &Service{reader: reader}
}

// GetByCategory 返回某分类最新的至多 5 篇文章
func (s *Service) GetByCategory(ctx context.Context, category string) ([]storage.Article, error) {
	category = processor.NormalizeCategory(category)
	list, err := s.reader.ListByCategory(ctx, category, CategoryLimit)
	if err != nil {
		return nil, err
	}
	if len(list) > CategoryLimit {
		list = list[:CategoryLimit]
	}
	if list == nil {
		list = []storage.Article{}
	}
	return list, nil
}

// GetAll 按分类分组，每组至多 4 篇
func (s *Service) GetAll(ctx context.Context) (Overview, error) {
	list, err := s.reader.ListAll(ctx)
	if err != nil {
		return Overview{}, err
	}

	groups := Groups{}
	index := make(map[string]int)
	for _, a := range list {
		i, ok := index[a.Category]
		if !ok {
			i = len(groups)
			index[a.Category] = i
			groups = append(groups, Group{Category: a.Category})
		}
		if len(groups[i].Articles) < GroupLimit {
			groups[i].Articles = append(groups[i].Articles, a)
		}
	}

	total := 0
	for _, g := range groups {
		total += len(g.Articles)
	}
	return Overview{
		TotalCategories: len(groups),
		TotalArticles:   total,
		News:            groups,
	}, nil
}
