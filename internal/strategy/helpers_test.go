package strategy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/discussionblog/offline-agent/internal/cache"
	"github.com/discussionblog/offline-agent/internal/fetch"
)

const testOrigin = "https://blog.local"

type upstreamReply struct {
	status  int
	body    string
	respTyp fetch.Type
	err     error
}

// stubNetwork 按路径返回预设响应，并记录每个路径被请求的次数。
type stubNetwork struct {
	mu      sync.Mutex
	replies map[string]upstreamReply
	calls   map[string]int
}

func newStubNetwork() *stubNetwork {
	return &stubNetwork{replies: map[string]upstreamReply{}, calls: map[string]int{}}
}

func (s *stubNetwork) reply(path string, status int, body string) {
	s.set(path, upstreamReply{status: status, body: body, respTyp: fetch.TypeBasic})
}

func (s *stubNetwork) fail(path string) {
	s.set(path, upstreamReply{err: fmt.Errorf("%w: dial tcp: connection refused", fetch.ErrNetwork)})
}

func (s *stubNetwork) set(path string, r upstreamReply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[path] = r
}

func (s *stubNetwork) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

func (s *stubNetwork) Fetch(ctx context.Context, req *fetch.Request) (*fetch.Response, error) {
	s.mu.Lock()
	s.calls[req.URL.Path]++
	reply, ok := s.replies[req.URL.Path]
	s.mu.Unlock()
	if !ok {
		reply = upstreamReply{err: fmt.Errorf("%w: no route for %s", fetch.ErrNetwork, req.URL.Path)}
	}
	if reply.err != nil {
		return nil, reply.err
	}
	resp := fetch.NewResponse(reply.status, http.Header{"Content-Type": []string{"text/plain"}}, io.NopCloser(strings.NewReader(reply.body)))
	resp.URL = req.URL.String()
	resp.Type = reply.respTyp
	return resp, nil
}

type testEnv struct {
	dispatcher *Dispatcher
	network    *stubNetwork
	storage    cache.Storage
	registry   cache.Registry
	logs       *logtest.Hook
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithStorage(t, cache.NewMemoryStorage())
}

func newTestEnvWithStorage(t *testing.T, storage cache.Storage) *testEnv {
	t.Helper()
	registry, err := cache.NewRegistry("v1", map[cache.Partition]string{
		cache.PartitionStatic: "blog-cache",
		cache.PartitionData:   "blog-data-cache",
	})
	if err != nil {
		t.Fatalf("registry error: %v", err)
	}
	origin, _ := url.Parse(testOrigin)
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	network := newStubNetwork()

	dispatcher, err := NewDispatcher(Options{
		Fetcher:    network,
		Storage:    storage,
		Registry:   registry,
		Rules:      DefaultRules(),
		Origin:     origin,
		OfflineURL: "/offline.html",
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("dispatcher error: %v", err)
	}
	return &testEnv{dispatcher: dispatcher, network: network, storage: storage, registry: registry, logs: hook}
}

// dispatch 执行一次拦截并等待后台写入结束，返回读取后的正文。
func (e *testEnv) dispatch(t *testing.T, req *fetch.Request) (Result, string, error) {
	t.Helper()
	ev := NewEvent(context.Background(), req)
	result, err := e.dispatcher.Handle(ev)
	body := ""
	if err == nil && result.Response != nil {
		data, readErr := result.Response.Bytes()
		if readErr != nil {
			t.Fatalf("read response failed: %v", readErr)
		}
		body = string(data)
	}
	if settleErr := ev.Settle(); settleErr != nil {
		t.Fatalf("settle failed: %v", settleErr)
	}
	return result, body, err
}

func (e *testEnv) seed(t *testing.T, partition cache.Partition, path, body string) {
	t.Helper()
	store, err := e.storage.Open(context.Background(), e.registry.Name(partition))
	if err != nil {
		t.Fatalf("open store failed: %v", err)
	}
	desc := cache.NewDescriptor(http.MethodGet, testOrigin+path)
	if err := store.Put(context.Background(), desc, cache.Snapshot{Status: http.StatusOK, Body: []byte(body), Type: "basic"}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
}

func (e *testEnv) stored(t *testing.T, partition cache.Partition, path string) (cache.Snapshot, bool) {
	t.Helper()
	store, err := e.storage.Open(context.Background(), e.registry.Name(partition))
	if err != nil {
		t.Fatalf("open store failed: %v", err)
	}
	snap, err := store.Match(context.Background(), cache.NewDescriptor(http.MethodGet, testOrigin+path))
	if err != nil {
		return cache.Snapshot{}, false
	}
	return snap, true
}

func newGet(t *testing.T, path string) *fetch.Request {
	t.Helper()
	req, err := fetch.NewRequest(http.MethodGet, testOrigin+path, nil)
	if err != nil {
		t.Fatalf("new request failed: %v", err)
	}
	return req
}

func newNavigation(t *testing.T, path string) *fetch.Request {
	t.Helper()
	req := newGet(t, path)
	req.Mode = fetch.ModeNavigate
	return req
}
