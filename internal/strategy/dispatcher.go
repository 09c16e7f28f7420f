package strategy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/discussionblog/offline-agent/internal/cache"
	"github.com/discussionblog/offline-agent/internal/fetch"
	"github.com/discussionblog/offline-agent/internal/logging"
)

// Source 标记响应来自网络、缓存还是离线页。
type Source string

const (
	SourceNetwork Source = "network"
	SourceCache   Source = "cache"
	SourceOffline Source = "offline"
)

// Result 是一次调度的结果。
type Result struct {
	Response *fetch.Response
	Class    RouteClass
	Source   Source
}

// Options 汇总调度器依赖，网络与存储均可注入替身。
type Options struct {
	Fetcher    fetch.Fetcher
	Storage    cache.Storage
	Registry   cache.Registry
	Rules      Rules
	Origin     *url.URL
	OfflineURL string
	Logger     *logrus.Logger
}

// Dispatcher 对每个被拦截的请求分类，并执行对应的缓存策略。
type Dispatcher struct {
	fetcher  fetch.Fetcher
	storage  cache.Storage
	registry cache.Registry
	rules    Rules
	offline  cache.Descriptor
	logger   *logrus.Logger

	// stores 缓存已打开的句柄：缓存被激活流程删除后，旧句柄的写入会失败，而不是重新建出缓存。
	stores sync.Map
}

// NewDispatcher 校验依赖并解析离线页地址。
func NewDispatcher(opts Options) (*Dispatcher, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Storage == nil {
		return nil, errors.New("cache storage is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Origin == nil || !opts.Origin.IsAbs() {
		return nil, errors.New("absolute origin is required")
	}
	if opts.Registry.Name(cache.PartitionStatic) == "" || opts.Registry.Name(cache.PartitionData) == "" {
		return nil, errors.New("cache registry is required")
	}
	offlinePath := opts.OfflineURL
	if offlinePath == "" {
		offlinePath = "/offline.html"
	}
	offlineURL, err := opts.Origin.Parse(offlinePath)
	if err != nil {
		return nil, fmt.Errorf("invalid offline url: %w", err)
	}
	return &Dispatcher{
		fetcher:  opts.Fetcher,
		storage:  opts.Storage,
		registry: opts.Registry,
		rules:    opts.Rules,
		offline:  cache.NewDescriptor(http.MethodGet, offlineURL.String()),
		logger:   opts.Logger,
	}, nil
}

// Classify 暴露路由分类，便于诊断。
func (d *Dispatcher) Classify(req *fetch.Request) RouteClass {
	return d.rules.Classify(req)
}

// Handle 为事件选择策略。返回错误意味着网络失败且没有可用的缓存兜底。
func (d *Dispatcher) Handle(ev *Event) (Result, error) {
	started := time.Now()
	class := d.rules.Classify(ev.Request)

	var (
		result Result
		err    error
	)
	switch class {
	case RouteNavigation:
		result, err = d.networkWithOfflineFallback(ev)
	case RouteAPI:
		result, err = d.networkFirst(ev, cache.PartitionData)
	case RouteStaticAsset:
		result, err = d.cacheFirst(ev, cache.PartitionStatic)
	default:
		result, err = d.networkFirstAnyStore(ev)
	}
	result.Class = class
	d.logResult(ev, result, started, err)
	return result, err
}

// networkWithOfflineFallback：导航请求只走网络，失败时返回离线页，而不是把错误交给浏览器。
func (d *Dispatcher) networkWithOfflineFallback(ev *Event) (Result, error) {
	resp, err := d.fetcher.Fetch(ev.Context(), ev.Request)
	if err == nil {
		return Result{Response: resp, Source: SourceNetwork}, nil
	}
	snap, matchErr := d.storage.Match(ev.Context(), d.offline)
	if matchErr != nil {
		d.logMatchFailure(ev, "offline", matchErr)
		return Result{}, err
	}
	return Result{Response: fetch.FromSnapshot(snap), Source: SourceOffline}, nil
}

// networkFirst：网络优先，200 响应克隆后写入分区；网络失败时回退到该分区的缓存。
func (d *Dispatcher) networkFirst(ev *Event, partition cache.Partition) (Result, error) {
	desc := ev.Request.Descriptor()
	resp, err := d.fetcher.Fetch(ev.Context(), ev.Request)
	if err != nil {
		snap, matchErr := d.matchPartition(ev, partition, desc)
		if matchErr != nil {
			d.logMatchFailure(ev, string(partition), matchErr)
			return Result{}, err
		}
		return Result{Response: fetch.FromSnapshot(snap), Source: SourceCache}, nil
	}

	if resp.Status == http.StatusOK {
		d.persist(ev, partition, desc, resp)
	}
	return Result{Response: resp, Source: SourceNetwork}, nil
}

// cacheFirst：先查分区缓存，未命中再回源；只有同源的 200 响应会被写回。
func (d *Dispatcher) cacheFirst(ev *Event, partition cache.Partition) (Result, error) {
	desc := ev.Request.Descriptor()
	if snap, err := d.matchPartition(ev, partition, desc); err == nil {
		return Result{Response: fetch.FromSnapshot(snap), Source: SourceCache}, nil
	} else if !errors.Is(err, cache.ErrNotFound) {
		d.logMatchFailure(ev, string(partition), err)
	}

	// 请求正文同样只能消费一次，回源使用副本，原请求留给缓存键。
	fetchReq, err := ev.Request.Clone()
	if err != nil {
		return Result{}, err
	}
	resp, err := d.fetcher.Fetch(ev.Context(), fetchReq)
	if err != nil {
		return Result{}, err
	}
	if resp == nil || resp.Status != http.StatusOK || resp.Type != fetch.TypeBasic {
		return Result{Response: resp, Source: SourceNetwork}, nil
	}
	d.persist(ev, partition, desc, resp)
	return Result{Response: resp, Source: SourceNetwork}, nil
}

// networkFirstAnyStore：网络失败时在全部缓存中查找，不限定分区。
func (d *Dispatcher) networkFirstAnyStore(ev *Event) (Result, error) {
	resp, err := d.fetcher.Fetch(ev.Context(), ev.Request)
	if err == nil {
		return Result{Response: resp, Source: SourceNetwork}, nil
	}
	snap, matchErr := d.storage.Match(ev.Context(), ev.Request.Descriptor())
	if matchErr != nil {
		d.logMatchFailure(ev, "any", matchErr)
		return Result{}, err
	}
	return Result{Response: fetch.FromSnapshot(snap), Source: SourceCache}, nil
}

func (d *Dispatcher) matchPartition(ev *Event, partition cache.Partition, desc cache.Descriptor) (cache.Snapshot, error) {
	store, err := d.store(ev.Context(), partition)
	if err != nil {
		return cache.Snapshot{}, err
	}
	return store.Match(ev.Context(), desc)
}

func (d *Dispatcher) store(ctx context.Context, partition cache.Partition) (cache.Store, error) {
	if value, ok := d.stores.Load(partition); ok {
		return value.(cache.Store), nil
	}
	store, err := d.storage.Open(ctx, d.registry.Name(partition))
	if err != nil {
		return nil, err
	}
	actual, _ := d.stores.LoadOrStore(partition, store)
	return actual.(cache.Store), nil
}

// persist 在响应被读取前克隆，并把副本交给后台写入；写入失败只记录日志。
func (d *Dispatcher) persist(ev *Event, partition cache.Partition, desc cache.Descriptor, resp *fetch.Response) {
	clone, err := resp.Clone()
	if err != nil {
		d.logPutFailure(ev, partition, desc, err)
		return
	}
	name := d.registry.Name(partition)
	ev.WaitUntil(func(ctx context.Context) {
		snap, err := clone.Snapshot()
		if err != nil {
			d.logPutFailure(ev, partition, desc, err)
			return
		}
		store, err := d.store(ctx, partition)
		if err != nil {
			d.logPutFailure(ev, partition, desc, err)
			return
		}
		if err := store.Put(ctx, desc, snap); err != nil {
			d.logPutFailure(ev, partition, desc, err)
			return
		}
		d.logger.WithFields(logrus.Fields{
			"action":     "cache_put",
			"cache":      name,
			"url":        desc.URL,
			"request_id": ev.ID,
		}).Debug("cache_put_complete")
	})
}

func (d *Dispatcher) logResult(ev *Event, result Result, started time.Time, err error) {
	fields := logging.RequestFields(ev.ID, ev.Request.Method, ev.Request.URL.String(), string(result.Class), string(result.Source))
	fields["action"] = "fetch"
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if result.Response != nil {
		fields["status"] = result.Response.Status
	}
	if err != nil {
		fields["error"] = err.Error()
		d.logger.WithFields(fields).Warn("fetch_failed")
		return
	}
	d.logger.WithFields(fields).Info("fetch_complete")
}

func (d *Dispatcher) logPutFailure(ev *Event, partition cache.Partition, desc cache.Descriptor, err error) {
	d.logger.WithError(err).WithFields(logrus.Fields{
		"action":     "cache_put",
		"partition":  string(partition),
		"url":        desc.URL,
		"method":     desc.Method,
		"request_id": ev.ID,
	}).Warn("cache_put_failed")
}

func (d *Dispatcher) logMatchFailure(ev *Event, scope string, err error) {
	entry := d.logger.WithFields(logrus.Fields{
		"action":     "cache_match",
		"scope":      scope,
		"url":        ev.Request.URL.String(),
		"request_id": ev.ID,
	})
	if errors.Is(err, cache.ErrNotFound) {
		entry.Debug("cache_miss")
		return
	}
	entry.WithError(err).Warn("cache_match_failed")
}
