package collector

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewsDataFetchRequestsExpectedQuery(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = map[string]string{
			"apikey":          q.Get("apikey"),
			"category":        q.Get("category"),
			"language":        q.Get("language"),
			"size":            q.Get("size"),
			"removeduplicate": q.Get("removeduplicate"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","totalResults":2,"results":[
			{"title":"A","creator":[null,"Jane"],"link":"https://a.example/1","pubDate":"2025-11-02 14:30:00","source_id":"aexample"},
			{"title":"B","description":"desc","source_name":"B News","source_icon":"https://b.example/icon.png"}
		]}`))
	}))
	defer srv.Close()

	f := NewNewsDataFetcher(srv.URL+"/api/1/latest", "secret", 5*time.Second)
	resp, err := f.Fetch(context.Background(), "Technology")
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}

	want := map[string]string{
		"apikey":          "secret",
		"category":        "technology",
		"language":        "en",
		"size":            "10",
		"removeduplicate": "1",
	}
	for k, v := range want {
		if gotQuery[k] != v {
			t.Fatalf("query %s = %q, want %q", k, gotQuery[k], v)
		}
	}

	if !resp.OK() {
		t.Fatalf("expected OK response, got %+v", resp)
	}
	if len(resp.Articles) != 2 {
		t.Fatalf("expected 2 articles, got %d", len(resp.Articles))
	}
	a := resp.Articles[0]
	if a.Title != "A" || a.PubDate != "2025-11-02 14:30:00" || a.SourceID != "aexample" {
		t.Fatalf("unexpected first article: %+v", a)
	}
	if len(a.Creator) != 2 || a.Creator[0] != "" || a.Creator[1] != "Jane" {
		t.Fatalf("unexpected creator list: %#v", a.Creator)
	}
	if resp.Articles[1].SourceIcon != "https://b.example/icon.png" {
		t.Fatalf("source_icon not decoded: %+v", resp.Articles[1])
	}
}

func TestNewsDataErrorStatusIsNotAFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"error","results":{"message":"rate limited","code":"RateLimitExceeded"}}`))
	}))
	defer srv.Close()

	f := NewNewsDataFetcher(srv.URL, "k", time.Second)
	resp, err := f.Fetch(context.Background(), "sports")
	if err != nil {
		t.Fatalf("error status should not be a transport error: %v", err)
	}
	if resp.OK() {
		t.Fatalf("error status must not be OK")
	}
	if resp.Status != "error" || len(resp.Articles) != 0 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestNewsDataHTTPErrorIsFailureAndRedactsKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewNewsDataFetcher(srv.URL, "topsecret", time.Second)
	_, err := f.Fetch(context.Background(), "business")
	if err == nil {
		t.Fatalf("expected error for HTTP 500")
	}
	if strings.Contains(err.Error(), "topsecret") {
		t.Fatalf("error leaks api key: %v", err)
	}
}

func TestNewsDataMalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	f := NewNewsDataFetcher(srv.URL, "k", time.Second)
	if _, err := f.Fetch(context.Background(), "education"); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestNewsDataFetchHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := NewNewsDataFetcher("http://127.0.0.1:1", "k", time.Second)
	if _, err := f.Fetch(ctx, "technology"); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
}

func TestNewsDataFetchAbortsInFlightRequestOnCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	f := NewNewsDataFetcher(srv.URL, "k", 30*time.Second)
	done := make(chan error, 1)
	go func() {
		_, err := f.Fetch(ctx, "technology")
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Fetch did not return after context cancellation")
	}
}

func TestDecodeNewsDataNullResults(t *testing.T) {
	resp, err := decodeNewsData([]byte(`{"status":"success","results":null}`))
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp.OK() {
		t.Fatalf("null results must not be OK")
	}
}

func TestNewNewsDataFetcherDefaults(t *testing.T) {
	f := NewNewsDataFetcher("", "k", 0)
	if f.BaseURL != NewsDataDefaultURL {
		t.Fatalf("BaseURL = %q, want default", f.BaseURL)
	}
	if f.Timeout != newsDataDefaultTimeout {
		t.Fatalf("Timeout = %v, want %v", f.Timeout, newsDataDefaultTimeout)
	}
	if f.Name() != "newsdata" {
		t.Fatalf("Name = %q", f.Name())
	}
}
