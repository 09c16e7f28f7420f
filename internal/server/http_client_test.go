package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/discussionblog/offline-agent/internal/config"
	"github.com/discussionblog/offline-agent/internal/fetch"
)

func TestNewUpstreamClientUsesConfigTimeout(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{
			UpstreamTimeout: config.Duration(45 * time.Second),
		},
	}

	client := NewUpstreamClient(cfg)
	if client.Timeout != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %s", client.Timeout)
	}
}

func TestNewUpstreamClientWithoutTimeout(t *testing.T) {
	if client := NewUpstreamClient(&config.Config{}); client.Timeout != 0 {
		t.Fatalf("zero timeout should leave client unbounded, got %s", client.Timeout)
	}
}

func TestCopyHeadersSkipsHopByHop(t *testing.T) {
	src := http.Header{}
	src.Add("Connection", "keep-alive")
	src.Add("Keep-Alive", "timeout=5")
	src.Add("X-Test-Header", "1")
	src.Add("x-test-header", "2")

	dst := http.Header{}
	CopyHeaders(dst, src)

	if _, exists := dst["Connection"]; exists {
		t.Fatalf("connection header should not be copied")
	}
	if _, exists := dst["Keep-Alive"]; exists {
		t.Fatalf("keep-alive header should not be copied")
	}

	got := dst.Values("X-Test-Header")
	if len(got) != 2 {
		t.Fatalf("expected 2 values, got %v", got)
	}
}

func TestHTTPFetcherReturnsStatusAsResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Client") != "page" {
			t.Errorf("request headers should be forwarded")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":"boom"}`)
	}))
	defer upstream.Close()

	origin, _ := url.Parse(upstream.URL)
	fetcher := NewHTTPFetcher(upstream.Client(), origin)
	req, _ := fetch.NewRequest(http.MethodGet, upstream.URL+"/posts", nil)
	req.Header.Set("X-Client", "page")

	resp, err := fetcher.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("HTTP errors are not network failures: %v", err)
	}
	body, _ := resp.Bytes()
	if resp.Status != http.StatusInternalServerError || string(body) != `{"error":"boom"}` {
		t.Fatalf("unexpected response %d %s", resp.Status, body)
	}
	if resp.Type != fetch.TypeBasic {
		t.Fatalf("same-origin response should be basic, got %s", resp.Type)
	}
	if resp.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("response headers should be kept")
	}
}

func TestHTTPFetcherMarksCrossOriginRedirects(t *testing.T) {
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "css")
	}))
	defer cdn.Close()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, cdn.URL+"/site.css", http.StatusFound)
	}))
	defer upstream.Close()

	origin, _ := url.Parse(upstream.URL)
	fetcher := NewHTTPFetcher(nil, origin)
	req, _ := fetch.NewRequest(http.MethodGet, upstream.URL+"/static/css", nil)

	resp, err := fetcher.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if resp.Type != fetch.TypeCORS {
		t.Fatalf("redirected response should be cross-origin, got %s", resp.Type)
	}
}

func TestHTTPFetcherWrapsTransportErrors(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := upstream.URL
	upstream.Close()

	origin, _ := url.Parse(addr)
	fetcher := NewHTTPFetcher(nil, origin)
	req, _ := fetch.NewRequest(http.MethodGet, addr+"/posts", nil)
	if _, err := fetcher.Fetch(context.Background(), req); !errors.Is(err, fetch.ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
}
