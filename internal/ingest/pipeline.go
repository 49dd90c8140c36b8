package ingest

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/LJTian/Newsy/internal/collector"
	"github.com/LJTian/Newsy/internal/processor"
	"github.com/LJTian/Newsy/internal/storage"
)

// ArticleWriter 分类整体替换。实现方应先删后写，并尽量放在同一事务中
type ArticleWriter interface {
	ReplaceCategory(ctx context.Context, category string, articles []storage.Article) error
}

// Outcome 单个分类本轮的处理结果
type Outcome string

const (
	OutcomeReplaced Outcome = "replaced"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

// CategoryResult 单个分类的处理记录
type CategoryResult struct {
	Category string  `json:"category"`
	Outcome  Outcome `json:"outcome"`
	Fetched  int     `json:"fetched"`
	Stored   int     `json:"stored"`
	Reason   string  `json:"reason,omitempty"`
	Err      error   `json:"-"`
}

// CycleReport 一轮抓取的汇总，本身永远不会失败
type CycleReport struct {
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt time.Time        `json:"finishedAt"`
	Results    []CategoryResult `json:"results"`
}

// Count 统计某种结果的分类数
func (r CycleReport) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

type Options struct {
	Categories  []string
	MaxAgeDays  int
	PerCategory int
	Clock       processor.Clock
}

// Pipeline 按分类执行 拉取 -> 映射 -> 过滤 -> 截断 -> 替换
type Pipeline struct {
	fetcher     collector.Fetcher
	store       ArticleWriter
	mapper      *processor.Mapper
	clock       processor.Clock
	categories  []string
	maxAgeDays  int
	perCategory int

	mu        sync.Mutex
	lastStamp map[string]time.Time
}

func New(fetcher collector.Fetcher, store ArticleWriter, opts Options) *Pipeline {
	if opts.Clock == nil {
		opts.Clock = processor.SystemClock
	}
	if len(opts.Categories) == 0 {
		opts.Categories = processor.DefaultCategories
	}
	if opts.MaxAgeDays <= 0 {
		opts.MaxAgeDays = processor.DefaultMaxArticleAgeDays
	}
	if opts.PerCategory <= 0 {
		opts.PerCategory = processor.ArticlesPerCategory
	}

	return &Pipeline{
		fetcher:     fetcher,
		store:       store,
		mapper:      processor.NewMapper(opts.Clock),
		clock:       opts.Clock,
		categories:  append([]string(nil), opts.Categories...),
		maxAgeDays:  opts.MaxAgeDays,
		perCategory: opts.PerCategory,
		lastStamp:   make(map[string]time.Time),
	}
}

// Categories 返回本管道负责的分类（规范化后的展示形式）
func (p *Pipeline) Categories() []string {
	out := make([]string, 0, len(p.categories))
	for _, c := range p.categories {
		out = append(out, processor.NormalizeCategory(c))
	}
	return out
}

// RunCycle 对所有分类各执行一次。分类之间写入互不相交，这里并发处理；
// 单个分类出错只记录在结果里，不影响其它分类。
func (p *Pipeline) RunCycle(ctx context.Context) CycleReport {
	report := CycleReport{StartedAt: p.clock.Now()}
	log.Printf("start news fetch cycle, categories=%d max_age_days=%d", len(p.categories), p.maxAgeDays)

	results := make([]CategoryResult, len(p.categories))
	var wg sync.WaitGroup
	for i, c := range p.categories {
		wg.Add(1)
		go func(i int, category string) {
			defer wg.Done()
			results[i] = p.runCategory(ctx, category)
		}(i, c)
	}
	wg.Wait()

	report.Results = results
	report.FinishedAt = p.clock.Now()
	log.Printf("news fetch cycle done: replaced=%d skipped=%d failed=%d",
		report.Count(OutcomeReplaced), report.Count(OutcomeSkipped), report.Count(OutcomeFailed))
	return report
}

func (p *Pipeline) runCategory(ctx context.Context, category string) (res CategoryResult) {
	display := processor.NormalizeCategory(category)
	res.Category = display

	defer func() {
		if r := recover(); r != nil {
			res.Outcome = OutcomeFailed
			res.Err = fmt.Errorf("panic: %v", r)
			res.Reason = "unexpected error"
			log.Printf("fetch %s panic: %v", display, r)
		}
	}()

	log.Printf("fetch latest %d articles for %s (keep %d within %d days)",
		collector.APIFetchSize, display, p.perCategory, p.maxAgeDays)

	resp, err := p.fetcher.Fetch(ctx, strings.ToLower(display))
	if err != nil {
		log.Printf("fetch %s error: %v", display, err)
		return failed(res, err, "upstream fetch failed")
	}
	if !resp.OK() {
		status := "null response"
		if resp != nil {
			status = resp.Status
		}
		log.Printf("no articles found for %s, status: %s", display, status)
		res.Outcome = OutcomeSkipped
		res.Reason = "no articles from upstream (status: " + status + ")"
		return res
	}
	res.Fetched = len(resp.Articles)

	now := p.clock.Now()
	articles := make([]storage.Article, 0, p.perCategory)
	for _, raw := range resp.Articles {
		a := p.mapper.Map(raw, display)
		if !processor.IsRecent(a, now, p.maxAgeDays) {
			continue
		}
		articles = append(articles, a)
		if len(articles) == p.perCategory {
			break
		}
	}

	if len(articles) == 0 {
		log.Printf("no recent articles (within %d days) for %s after filtering %d results",
			p.maxAgeDays, display, res.Fetched)
		res.Outcome = OutcomeSkipped
		res.Reason = fmt.Sprintf("no articles within %d days among %d results", p.maxAgeDays, res.Fetched)
		return res
	}

	stamp := p.nextStamp(display)
	for i := range articles {
		articles[i].FetchedAt = stamp
	}

	if err := p.store.ReplaceCategory(ctx, display, articles); err != nil {
		log.Printf("save %s error: %v", display, err)
		return failed(res, err, "storage replace failed")
	}

	res.Outcome = OutcomeReplaced
	res.Stored = len(articles)
	log.Printf("%s done, fetched=%d saved=%d", display, res.Fetched, res.Stored)
	return res
}

// failed 对外只暴露 reason，具体错误留在 Err 里供日志使用
func failed(res CategoryResult, err error, reason string) CategoryResult {
	res.Outcome = OutcomeFailed
	res.Err = err
	res.Reason = reason
	return res
}

// nextStamp 同一分类的 fetchedAt 严格递增，精度与 PostgreSQL 一致（微秒）
func (p *Pipeline) nextStamp(category string) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	stamp := p.clock.Now().UTC().Truncate(time.Microsecond)
	if last, ok := p.lastStamp[category]; ok && !stamp.After(last) {
		stamp = last.Add(time.Microsecond)
	}
	p.lastStamp[category] = stamp
	return stamp
}
