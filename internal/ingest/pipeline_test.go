package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/LJTian/Newsy/internal/collector"
	"github.com/LJTian/Newsy/internal/processor"
	"github.com/LJTian/Newsy/internal/storage"
)

var now = time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	mu       sync.Mutex
	byCat    map[string]*collector.Response
	errs     map[string]error
	panics   map[string]bool
	requests []string
}

func (f *fakeFetcher) Name() string { return "fake" }

func (f *fakeFetcher) Fetch(ctx context.Context, category string) (*collector.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, category)
	f.mu.Unlock()

	if f.panics[category] {
		panic("boom")
	}
	if err := f.errs[category]; err != nil {
		return nil, err
	}
	return f.byCat[category], nil
}

// memStore 内存版存储，按分类整体替换
type memStore struct {
	mu       sync.Mutex
	data     map[string][]storage.Article
	failFor  map[string]bool
	replaces int
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]storage.Article), failFor: make(map[string]bool)}
}

func (m *memStore) ReplaceCategory(ctx context.Context, category string, articles []storage.Article) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFor[category] {
		return errors.New("db down")
	}
	m.replaces++
	m.data[category] = append([]storage.Article(nil), articles...)
	return nil
}

func (m *memStore) get(category string) []storage.Article {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[category]
}

func raw(title string, published time.Time) collector.RawArticle {
	return collector.RawArticle{
		Title:   title,
		Link:    "https://example.com/" + title,
		PubDate: published.UTC().Format("2006-01-02 15:04:05"),
	}
}

func success(articles ...collector.RawArticle) *collector.Response {
	return &collector.Response{Status: collector.StatusSuccess, Articles: articles}
}

func newPipeline(f collector.Fetcher, s ArticleWriter, categories ...string) *Pipeline {
	return New(f, s, Options{
		Categories: categories,
		MaxAgeDays: 2,
		Clock:      processor.ClockFunc(func() time.Time { return now }),
	})
}

func TestRunCycleKeepsOnlyRecentArticles(t *testing.T) {
	// 10 篇文章，6 篇超过两天，4 篇在窗口内
	var articles []collector.RawArticle
	for i := 0; i < 10; i++ {
		published := now.Add(-time.Duration(i) * time.Hour)
		if i%2 == 0 || i == 9 {
			published = now.AddDate(0, 0, -3)
		}
		articles = append(articles, raw(fmt.Sprintf("t%d", i), published))
	}
	// 偶数下标 + 9 号是旧文章：0,2,4,6,8,9；新文章：1,3,5,7
	f := &fakeFetcher{byCat: map[string]*collector.Response{"technology": success(articles...)}}
	s := newMemStore()

	report := newPipeline(f, s, "technology").RunCycle(context.Background())

	got := s.get("Technology")
	if len(got) != 4 {
		t.Fatalf("stored %d articles, want 4", len(got))
	}
	want := []string{"t1", "t3", "t5", "t7"}
	for i, a := range got {
		if a.Title != want[i] {
			t.Fatalf("stored[%d] = %q, want %q (upstream order must be preserved)", i, a.Title, want[i])
		}
		if a.Category != "Technology" {
			t.Fatalf("stored category = %q", a.Category)
		}
		if !a.FetchedAt.Equal(got[0].FetchedAt) {
			t.Fatalf("all articles in one replace must share fetchedAt")
		}
	}

	if len(report.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(report.Results))
	}
	r := report.Results[0]
	if r.Outcome != OutcomeReplaced || r.Fetched != 10 || r.Stored != 4 {
		t.Fatalf("unexpected result: %+v", r)
	}
}

func TestRunCycleCapsAtArticlesPerCategory(t *testing.T) {
	var articles []collector.RawArticle
	for i := 0; i < 10; i++ {
		articles = append(articles, raw(fmt.Sprintf("a%d", i), now.Add(-time.Duration(i)*time.Minute)))
	}
	f := &fakeFetcher{byCat: map[string]*collector.Response{"business": success(articles...)}}
	s := newMemStore()

	newPipeline(f, s, "Business").RunCycle(context.Background())

	got := s.get("Business")
	if len(got) != processor.ArticlesPerCategory {
		t.Fatalf("stored %d, want %d", len(got), processor.ArticlesPerCategory)
	}
	for i, a := range got {
		if a.Title != fmt.Sprintf("a%d", i) {
			t.Fatalf("stored[%d] = %q, want first upstream entries", i, a.Title)
		}
	}
}

func TestRunCycleIsolatesCategoryFailures(t *testing.T) {
	f := &fakeFetcher{
		byCat: map[string]*collector.Response{
			"technology": success(raw("fresh", now.Add(-time.Hour))),
		},
		errs: map[string]error{"sports": errors.New("network unreachable")},
	}
	s := newMemStore()
	previous := []storage.Article{{Title: "old sports", Category: "Sports"}}
	s.data["Sports"] = previous

	report := newPipeline(f, s, "technology", "sports").RunCycle(context.Background())

	if got := s.get("Technology"); len(got) != 1 || got[0].Title != "fresh" {
		t.Fatalf("technology should be replaced, got %+v", got)
	}
	if got := s.get("Sports"); len(got) != 1 || got[0].Title != "old sports" {
		t.Fatalf("sports should be untouched, got %+v", got)
	}

	if report.Count(OutcomeReplaced) != 1 || report.Count(OutcomeFailed) != 1 {
		t.Fatalf("unexpected outcomes: %+v", report.Results)
	}
	// 结果顺序与配置顺序一致
	if report.Results[0].Category != "Technology" || report.Results[1].Category != "Sports" {
		t.Fatalf("unexpected result order: %+v", report.Results)
	}
	if report.Results[1].Err == nil {
		t.Fatalf("failed result should keep the error")
	}
	if report.Results[1].Reason != "upstream fetch failed" {
		t.Fatalf("reason should not expose internals: %q", report.Results[1].Reason)
	}
}

func TestRunCycleLeavesDataWhenNothingQualifies(t *testing.T) {
	f := &fakeFetcher{byCat: map[string]*collector.Response{
		"education":     success(raw("stale", now.AddDate(0, 0, -5))),
		"entertainment": {Status: "error"},
		"sports":        success(),
		"business":      nil,
	}}
	s := newMemStore()
	for _, c := range []string{"Education", "Entertainment", "Sports", "Business"} {
		s.data[c] = []storage.Article{{Title: "keep " + c}}
	}

	report := newPipeline(f, s, "education", "entertainment", "sports", "business").RunCycle(context.Background())

	if s.replaces != 0 {
		t.Fatalf("store must not be touched, got %d replaces", s.replaces)
	}
	for _, c := range []string{"Education", "Entertainment", "Sports", "Business"} {
		if got := s.get(c); len(got) != 1 || got[0].Title != "keep "+c {
			t.Fatalf("%s should be untouched, got %+v", c, got)
		}
	}
	if report.Count(OutcomeSkipped) != 4 {
		t.Fatalf("expected 4 skipped, got %+v", report.Results)
	}
}

func TestRunCycleExcludesUnparseableDates(t *testing.T) {
	f := &fakeFetcher{byCat: map[string]*collector.Response{
		"technology": success(collector.RawArticle{Title: "no date", PubDate: "not a date"}),
	}}
	s := newMemStore()

	report := newPipeline(f, s, "technology").RunCycle(context.Background())

	if report.Results[0].Outcome != OutcomeSkipped {
		t.Fatalf("unparseable dates must be excluded, got %+v", report.Results[0])
	}
}

func TestRunCycleStoreFailureAndPanicAreContained(t *testing.T) {
	f := &fakeFetcher{
		byCat: map[string]*collector.Response{
			"technology": success(raw("x", now.Add(-time.Hour))),
			"sports":     success(raw("y", now.Add(-time.Hour))),
		},
		panics: map[string]bool{"business": true},
	}
	s := newMemStore()
	s.failFor["Technology"] = true

	report := newPipeline(f, s, "technology", "business", "sports").RunCycle(context.Background())

	if report.Results[0].Outcome != OutcomeFailed || report.Results[0].Reason != "storage replace failed" {
		t.Fatalf("technology should fail on store error: %+v", report.Results[0])
	}
	if report.Results[1].Outcome != OutcomeFailed {
		t.Fatalf("business panic should be recorded as failure: %+v", report.Results[1])
	}
	if report.Results[2].Outcome != OutcomeReplaced {
		t.Fatalf("sports should still be replaced: %+v", report.Results[2])
	}
}

func TestFetchedAtStrictlyIncreasesAcrossCycles(t *testing.T) {
	f := &fakeFetcher{byCat: map[string]*collector.Response{
		"technology": success(raw("x", now.Add(-time.Hour))),
	}}
	s := newMemStore()
	// 时钟固定不动，仍要保证后一轮的 fetchedAt 更大
	p := newPipeline(f, s, "technology")

	p.RunCycle(context.Background())
	first := s.get("Technology")[0].FetchedAt
	p.RunCycle(context.Background())
	second := s.get("Technology")[0].FetchedAt

	if !second.After(first) {
		t.Fatalf("fetchedAt must increase across cycles: %v then %v", first, second)
	}
}

func TestFetcherReceivesLowerCaseCategory(t *testing.T) {
	f := &fakeFetcher{byCat: map[string]*collector.Response{}}
	p := newPipeline(f, newMemStore(), "TECHNOLOGY")
	p.RunCycle(context.Background())

	if len(f.requests) != 1 || f.requests[0] != "technology" {
		t.Fatalf("unexpected fetch requests: %v", f.requests)
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	p := New(&fakeFetcher{}, newMemStore(), Options{})
	got := p.Categories()
	want := []string{"Technology", "Sports", "Business", "Education", "Entertainment"}
	if len(got) != len(want) {
		t.Fatalf("Categories = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Categories[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if p.maxAgeDays != 2 || p.perCategory != 4 {
		t.Fatalf("unexpected defaults: maxAge=%d perCategory=%d", p.maxAgeDays, p.perCategory)
	}
}
