package collector

import "context"

// RawArticle 上游 NewsData.io 返回的单条原始记录
type RawArticle struct {
	Title       string   `json:"title"`
	Creator     []string `json:"creator"`
	Description string   `json:"description"`
	Content     string   `json:"content"`
	Link        string   `json:"link"`
	PubDate     string   `json:"pubDate"`
	ImageURL    string   `json:"image_url"`
	SourceID    string   `json:"source_id"`
	SourceName  string   `json:"source_name"`
	SourceIcon  string   `json:"source_icon"`
}

// Response 一次分类拉取的结果；Status 非 "success" 时 Articles 为空
type Response struct {
	Status   string
	Articles []RawArticle
}

// OK 表示本次拉取拿到了可用的文章
func (r *Response) OK() bool {
	return r != nil && r.Status == StatusSuccess && len(r.Articles) > 0
}

const StatusSuccess = "success"

// Fetcher 抽象上游新闻源，按分类拉取
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, category string) (*Response, error)
}
