package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
)

const (
	// NewsDataDefaultURL NewsData.io 最新新闻接口
	NewsDataDefaultURL = "https://newsdata.io/api/1/latest"
	// APIFetchSize 每个分类多拉一些，再在本地按日期过滤
	APIFetchSize = 10

	newsDataDefaultTimeout = 15 * time.Second
	newsDataUserAgent      = "NewsyBot/1.0"
	newsDataMaxBodyBytes   = 2 << 20 // 2MB
)

// NewsDataFetcher 通过 NewsData.io 按分类拉取英文新闻
type NewsDataFetcher struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

func NewNewsDataFetcher(baseURL, apiKey string, timeout time.Duration) *NewsDataFetcher {
	if baseURL == "" {
		baseURL = NewsDataDefaultURL
	}
	if timeout <= 0 {
		timeout = newsDataDefaultTimeout
	}
	return &NewsDataFetcher{BaseURL: baseURL, APIKey: apiKey, Timeout: timeout}
}

func (f *NewsDataFetcher) Name() string {
	return "newsdata"
}

// newsDataEnvelope 出错时 results 是一个对象而不是数组，所以先按原始 JSON 接收
type newsDataEnvelope struct {
	Status  string          `json:"status"`
	Results json.RawMessage `json:"results"`
}

func (f *NewsDataFetcher) Fetch(ctx context.Context, category string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	apiURL, err := f.requestURL(category)
	if err != nil {
		return nil, err
	}
	log.Printf("newsdata: fetch category=%s url=%s", category, f.redact(apiURL))

	c := colly.NewCollector(
		colly.UserAgent(newsDataUserAgent),
		colly.MaxBodySize(newsDataMaxBodyBytes),
	)
	// 请求上的 ctx 会被替换，超时也要挂在这个 ctx 上
	reqCtx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()
	c.SetRequestTimeout(f.Timeout)
	c.WithTransport(ctxTransport{ctx: reqCtx, base: http.DefaultTransport})

	var (
		out       *Response
		decodeErr error
	)
	c.OnResponse(func(r *colly.Response) {
		if ctx.Err() != nil {
			return
		}
		out, decodeErr = decodeNewsData(r.Body)
	})

	err = c.Visit(apiURL)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("newsdata: fetch %s: %w", category, ctxErr)
	}
	if err != nil {
		return nil, fmt.Errorf("newsdata: fetch %s: %s", category, f.redact(err.Error()))
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("newsdata: decode %s: %w", category, decodeErr)
	}
	if out == nil {
		return nil, errors.New("newsdata: empty response for " + category)
	}
	return out, nil
}

// ctxTransport colly 的请求不带 context，这里把抓取的 ctx 挂到每个请求上，取消时立即中断连接
type ctxTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t ctxTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(req.WithContext(t.ctx))
}

func (f *NewsDataFetcher) requestURL(category string) (string, error) {
	u, err := url.Parse(f.BaseURL)
	if err != nil {
		return "", fmt.Errorf("newsdata: invalid base url: %w", err)
	}
	q := u.Query()
	q.Set("apikey", f.APIKey)
	q.Set("category", strings.ToLower(strings.TrimSpace(category)))
	q.Set("language", "en")
	q.Set("size", strconv.Itoa(APIFetchSize))
	q.Set("removeduplicate", "1")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// redact 日志里隐藏 API key
func (f *NewsDataFetcher) redact(s string) string {
	if f.APIKey == "" {
		return s
	}
	s = strings.ReplaceAll(s, url.QueryEscape(f.APIKey), "***")
	return strings.ReplaceAll(s, f.APIKey, "***")
}

func decodeNewsData(body []byte) (*Response, error) {
	var env newsDataEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}

	out := &Response{Status: env.Status}
	if env.Status != StatusSuccess {
		return out, nil
	}
	results := strings.TrimSpace(string(env.Results))
	if results == "" || results == "null" {
		return out, nil
	}
	if err := json.Unmarshal(env.Results, &out.Articles); err != nil {
		return nil, err
	}
	return out, nil
}
