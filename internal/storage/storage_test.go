package storage

import (
	"context"
	"strings"
	"testing"
)

func TestCategoryCacheKeyIgnoresCase(t *testing.T) {
	a := categoryCacheKey("Technology")
	b := categoryCacheKey(" technology ")
	if a != b {
		t.Fatalf("categoryCacheKey should be case-insensitive: %q vs %q", a, b)
	}
	if !strings.HasPrefix(a, "news:category:") {
		t.Fatalf("unexpected key prefix: %q", a)
	}
	if a == allCacheKey {
		t.Fatalf("category key must differ from the all-news key")
	}
}

func TestTruncateRunesDB(t *testing.T) {
	if got := truncateRunesDB("héllo wörld", 5); got != "héllo" {
		t.Fatalf("truncateRunesDB = %q, want %q", got, "héllo")
	}
	if got := truncateRunesDB("short", 10); got != "short" {
		t.Fatalf("truncateRunesDB should keep short strings: %q", got)
	}
	if got := truncateRunesDB("anything", 0); got != "" {
		t.Fatalf("truncateRunesDB with zero limit = %q, want empty", got)
	}
}

func TestSanitizeArticleFixesInvalidUTF8AndLength(t *testing.T) {
	a := Article{
		Title:       "bad \xff title",
		Author:      strings.Repeat("a", 300),
		Description: "desc \xfe",
	}
	sanitizeArticle(&a)

	if strings.Contains(a.Title, "\xff") {
		t.Fatalf("title still contains invalid byte: %q", a.Title)
	}
	if !strings.Contains(a.Title, "\uFFFD") {
		t.Fatalf("title should contain replacement rune: %q", a.Title)
	}
	if len([]rune(a.Author)) != 256 {
		t.Fatalf("author length = %d, want 256", len([]rune(a.Author)))
	}
	if strings.Contains(a.Description, "\xfe") {
		t.Fatalf("description still contains invalid byte: %q", a.Description)
	}
}

func TestListByCategoryNonPositiveLimit(t *testing.T) {
	s := &Store{}
	list, err := s.ListByCategory(context.Background(), "Technology", 0)
	if err != nil {
		t.Fatalf("ListByCategory error: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list for zero limit, got %d", len(list))
	}
}

func TestCacheHelpersWithoutRedis(t *testing.T) {
	s := &Store{}
	ctx := context.Background()

	if _, ok := s.cachedList(ctx, allCacheKey); ok {
		t.Fatalf("cachedList should miss when redis is not configured")
	}
	if _, ok := s.cacheGeneration(ctx, allGenKey); ok {
		t.Fatalf("cacheGeneration should report uncacheable when redis is not configured")
	}
	// 未配置 Redis 时写缓存与递增代数都应静默跳过
	s.storeList(ctx, allCacheKey, []Article{{Title: "x"}})
	s.bumpGeneration(ctx, allGenKey)
}

func TestCanonicalCategory(t *testing.T) {
	cases := map[string]string{
		"technology":    "Technology",
		" SPORTS ":      "Sports",
		"eNTERTAINMENT": "Entertainment",
		"":              "",
	}
	for in, want := range cases {
		if got := CanonicalCategory(in); got != want {
			t.Fatalf("CanonicalCategory(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestVersionedKeyChangesWithGeneration(t *testing.T) {
	base := categoryCacheKey("Technology")
	if versionedKey(base, 1) == versionedKey(base, 2) {
		t.Fatalf("different generations must map to different keys")
	}
	if categoryGenKey("Technology") == categoryCacheKey("Technology") {
		t.Fatalf("generation key must differ from list key")
	}
}
