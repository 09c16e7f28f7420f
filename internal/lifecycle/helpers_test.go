package lifecycle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/discussionblog/offline-agent/internal/cache"
	"github.com/discussionblog/offline-agent/internal/fetch"
	"github.com/discussionblog/offline-agent/internal/strategy"
)

const testOrigin = "https://blog.local"

// origin 模拟博客源站：每个路径返回固定状态码，failing 中的路径直接网络失败。
type origin struct {
	mu      sync.Mutex
	status  map[string]int
	failing map[string]bool
}

func newOrigin() *origin {
	o := &origin{status: map[string]int{}, failing: map[string]bool{}}
	for _, path := range DefaultPrecache {
		o.status[path] = http.StatusOK
	}
	return o
}

func (o *origin) setStatus(path string, status int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status[path] = status
}

func (o *origin) fail(path string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failing[path] = true
}

func (o *origin) Fetch(ctx context.Context, req *fetch.Request) (*fetch.Response, error) {
	o.mu.Lock()
	failing := o.failing[req.URL.Path]
	status, ok := o.status[req.URL.Path]
	o.mu.Unlock()
	if failing {
		return nil, fmt.Errorf("%w: connection reset", fetch.ErrNetwork)
	}
	if !ok {
		status = http.StatusNotFound
	}
	resp := fetch.NewResponse(status, http.Header{}, io.NopCloser(strings.NewReader("content of "+req.URL.Path)))
	resp.URL = req.URL.String()
	resp.Type = fetch.TypeBasic
	return resp, nil
}

type fixture struct {
	storage cache.Storage
	origin  *origin
	clients *Clients
	reg     *Registration
	logs    *logtest.Hook
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	clients := NewClients()
	return &fixture{
		storage: cache.NewMemoryStorage(),
		origin:  newOrigin(),
		clients: clients,
		reg:     NewRegistration(clients, logger),
		logs:    hook,
	}
}

func (f *fixture) worker(t *testing.T, version string, skipWaiting bool) *Worker {
	t.Helper()
	registry, err := cache.NewRegistry(version, map[cache.Partition]string{
		cache.PartitionStatic: "blog-cache",
		cache.PartitionData:   "blog-data-cache",
	})
	if err != nil {
		t.Fatalf("registry error: %v", err)
	}
	base, _ := url.Parse(testOrigin)
	w, err := NewWorker(Options{
		Registry:    registry,
		Storage:     f.storage,
		Fetcher:     f.origin,
		Origin:      base,
		Rules:       strategy.DefaultRules(),
		SkipWaiting: skipWaiting,
		Concurrency: 2,
		Clients:     f.clients,
		Logger:      f.reg.logger,
	})
	if err != nil {
		t.Fatalf("new worker error: %v", err)
	}
	return w
}

func (f *fixture) names(t *testing.T) []string {
	t.Helper()
	names, err := f.storage.Names(context.Background())
	if err != nil {
		t.Fatalf("names error: %v", err)
	}
	return names
}

func (f *fixture) keys(t *testing.T, name string) int {
	t.Helper()
	store, err := f.storage.Open(context.Background(), name)
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	keys, err := store.Keys(context.Background())
	if err != nil {
		t.Fatalf("keys error: %v", err)
	}
	return len(keys)
}
