package fetch

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/discussionblog/offline-agent/internal/cache"
)

func TestResponseBodyIsSingleUse(t *testing.T) {
	resp := NewResponse(http.StatusOK, nil, io.NopCloser(strings.NewReader("A")))
	if _, err := resp.Bytes(); err != nil {
		t.Fatalf("first read failed: %v", err)
	}
	if _, err := resp.Body(); !errors.Is(err, ErrBodyUsed) {
		t.Fatalf("expected ErrBodyUsed, got %v", err)
	}
	if _, err := resp.Clone(); !errors.Is(err, ErrBodyUsed) {
		t.Fatalf("clone after consumption should fail, got %v", err)
	}
}

func TestResponseCloneGivesIndependentBodies(t *testing.T) {
	resp := NewResponse(http.StatusOK, http.Header{"X-Test": []string{"1"}}, io.NopCloser(strings.NewReader("payload")))
	resp.Type = TypeBasic
	clone, err := resp.Clone()
	if err != nil {
		t.Fatalf("clone failed: %v", err)
	}

	original, err := resp.Bytes()
	if err != nil {
		t.Fatalf("read original failed: %v", err)
	}
	copied, err := clone.Bytes()
	if err != nil {
		t.Fatalf("read clone failed: %v", err)
	}
	if string(original) != "payload" || string(copied) != "payload" {
		t.Fatalf("bodies differ: %q vs %q", original, copied)
	}
	clone.Header.Set("X-Test", "2")
	if resp.Header.Get("X-Test") != "1" {
		t.Fatalf("clone must not share headers")
	}
	if clone.Type != TypeBasic {
		t.Fatalf("clone should keep response type")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	resp := NewResponse(http.StatusOK, http.Header{"Content-Type": []string{"text/css"}}, io.NopCloser(strings.NewReader("body{}")))
	resp.URL = "https://blog.local/static/css"
	resp.Type = TypeBasic
	snap, err := resp.Snapshot()
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if !resp.BodyUsed() {
		t.Fatalf("snapshot should consume the body")
	}

	first := FromSnapshot(snap)
	second := FromSnapshot(snap)
	a, _ := first.Bytes()
	b, _ := second.Bytes()
	if string(a) != "body{}" || string(b) != "body{}" {
		t.Fatalf("restored responses should each carry the body: %q %q", a, b)
	}
	if first.Type != TypeBasic || first.URL != resp.URL {
		t.Fatalf("metadata lost: %+v", first)
	}
}

func TestRequestCloneBuffersBody(t *testing.T) {
	req, err := NewRequest("post", "https://blog.local/search", strings.NewReader("q=go"))
	if err != nil {
		t.Fatalf("new request failed: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	clone, err := req.Clone()
	if err != nil {
		t.Fatalf("clone failed: %v", err)
	}
	for _, r := range []*Request{req, clone} {
		body, err := r.Body()
		if err != nil {
			t.Fatalf("body failed: %v", err)
		}
		data, _ := io.ReadAll(body)
		if string(data) != "q=go" {
			t.Fatalf("unexpected body %q", data)
		}
	}
	if _, err := req.Clone(); !errors.Is(err, ErrBodyUsed) {
		t.Fatalf("expected ErrBodyUsed, got %v", err)
	}
	if req.Method != http.MethodPost {
		t.Fatalf("method should be normalised, got %s", req.Method)
	}
}

func TestRequestDescriptor(t *testing.T) {
	req, err := NewRequest("", "https://blog.local/post/123?x=1", nil)
	if err != nil {
		t.Fatalf("new request failed: %v", err)
	}
	want := cache.Descriptor{Method: http.MethodGet, URL: "https://blog.local/post/123?x=1"}
	if req.Descriptor() != want {
		t.Fatalf("descriptor mismatch: %+v", req.Descriptor())
	}
	if _, err := NewRequest("GET", "/relative", nil); err == nil {
		t.Fatalf("relative url should be rejected")
	}
}
