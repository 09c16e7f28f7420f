package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"github.com/discussionblog/offline-agent/internal/cache"
	"github.com/discussionblog/offline-agent/internal/fetch"
	"github.com/discussionblog/offline-agent/internal/logging"
	"github.com/discussionblog/offline-agent/internal/strategy"
)

// DefaultPrecache 是安装阶段必须全部拉取成功的静态清单。
var DefaultPrecache = []string{"/", "/static/css", "/favicon", "/offline.html"}

// Options 描述一个版本的 worker。
type Options struct {
	Registry    cache.Registry
	Storage     cache.Storage
	Fetcher     fetch.Fetcher
	Origin      *url.URL
	Precache    []string
	OfflineURL  string
	Rules       strategy.Rules
	SkipWaiting bool
	// Concurrency 限制安装时并发拉取的数量，<=0 表示不限制。
	Concurrency int
	Clients     *Clients
	Logger      *logrus.Logger
}

// Status 是 worker 的诊断视图。
type Status struct {
	ID          string     `json:"id"`
	Version     string     `json:"version"`
	State       State      `json:"state"`
	Caches      []string   `json:"caches"`
	InstalledAt *time.Time `json:"installed_at,omitempty"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
}

// Worker 绑定一个缓存版本，按 installing → installed → activating → activated 推进。
type Worker struct {
	id         string
	opts       Options
	manifest   []cache.Descriptor
	dispatcher *strategy.Dispatcher

	mu          sync.RWMutex
	state       State
	skipWaiting bool
	installedAt time.Time
	activatedAt time.Time
}

// NewWorker 校验依赖、解析清单地址并构建该版本的调度器。
func NewWorker(opts Options) (*Worker, error) {
	if opts.Storage == nil {
		return nil, errors.New("cache storage is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Clients == nil {
		return nil, errors.New("clients registry is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Origin == nil || !opts.Origin.IsAbs() {
		return nil, errors.New("absolute origin is required")
	}
	if opts.Registry.Version() == "" {
		return nil, errors.New("cache registry is required")
	}
	if len(opts.Precache) == 0 {
		opts.Precache = DefaultPrecache
	}

	manifest := make([]cache.Descriptor, 0, len(opts.Precache))
	seen := make(map[string]struct{}, len(opts.Precache))
	for _, raw := range opts.Precache {
		resolved, err := opts.Origin.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid precache url %q: %w", raw, err)
		}
		desc := cache.NewDescriptor(http.MethodGet, resolved.String())
		if _, dup := seen[desc.Key()]; dup {
			continue
		}
		seen[desc.Key()] = struct{}{}
		manifest = append(manifest, desc)
	}

	dispatcher, err := strategy.NewDispatcher(strategy.Options{
		Fetcher:    opts.Fetcher,
		Storage:    opts.Storage,
		Registry:   opts.Registry,
		Rules:      opts.Rules,
		Origin:     opts.Origin,
		OfflineURL: opts.OfflineURL,
		Logger:     opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	return &Worker{
		id:         uuid.NewString(),
		opts:       opts,
		manifest:   manifest,
		dispatcher: dispatcher,
		state:      StateParsed,
	}, nil
}

// ID 返回 worker 的唯一标识。
func (w *Worker) ID() string {
	return w.id
}

// Version 返回 worker 绑定的缓存版本。
func (w *Worker) Version() string {
	return w.opts.Registry.Version()
}

// State 返回当前阶段。
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// SkipWaitingSignalled 报告安装阶段是否请求跳过等待。
func (w *Worker) SkipWaitingSignalled() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.skipWaiting
}

// Dispatcher 返回该版本的策略调度器。
func (w *Worker) Dispatcher() *strategy.Dispatcher {
	return w.dispatcher
}

// Handle 交给调度器处理拦截任务。
func (w *Worker) Handle(ev *strategy.Event) (strategy.Result, error) {
	return w.dispatcher.Handle(ev)
}

// Status 返回诊断视图。
func (w *Worker) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	st := Status{
		ID:      w.id,
		Version: w.Version(),
		State:   w.state,
		Caches:  w.opts.Registry.Whitelist(),
	}
	if !w.installedAt.IsZero() {
		at := w.installedAt
		st.InstalledAt = &at
	}
	if !w.activatedAt.IsZero() {
		at := w.activatedAt
		st.ActivatedAt = &at
	}
	return st
}

// Install 并发拉取清单，全部返回 200 后才写入静态缓存。
// 任何一项失败都会让该版本进入 redundant，并撤销本次新建的静态缓存。
func (w *Worker) Install(ctx context.Context) error {
	if err := w.transition(StateInstalling); err != nil {
		return err
	}
	logger := w.logger("install")
	logger.WithField("entries", len(w.manifest)).Info("install_start")

	staticName := w.opts.Registry.Name(cache.PartitionStatic)
	existed, err := w.opts.Storage.Has(ctx, staticName)
	if err != nil {
		return w.failInstall(ctx, logger, staticName, true, fmt.Errorf("%w: %w", ErrInstallFailed, err))
	}

	snapshots, err := w.fetchManifest(ctx)
	if err != nil {
		return w.failInstall(ctx, logger, staticName, existed, err)
	}

	store, err := w.opts.Storage.Open(ctx, staticName)
	if err != nil {
		return w.failInstall(ctx, logger, staticName, existed, fmt.Errorf("%w: open %s: %w", ErrInstallFailed, staticName, err))
	}
	for _, desc := range w.manifest {
		if err := store.Put(ctx, desc, snapshots[desc.Key()]); err != nil {
			return w.failInstall(ctx, logger, staticName, existed, fmt.Errorf("%w: store %s: %w", ErrInstallFailed, desc.URL, err))
		}
	}

	w.mu.Lock()
	w.state = StateInstalled
	w.installedAt = time.Now().UTC()
	w.skipWaiting = w.opts.SkipWaiting
	w.mu.Unlock()
	w.logger("install").Info("install_complete")
	return nil
}

func (w *Worker) fetchManifest(ctx context.Context) (map[string]cache.Snapshot, error) {
	var mu sync.Mutex
	snapshots := make(map[string]cache.Snapshot, len(w.manifest))

	base := pool.New()
	if w.opts.Concurrency > 0 {
		base = base.WithMaxGoroutines(w.opts.Concurrency)
	}
	p := base.WithContext(ctx).WithCancelOnError()
	for _, desc := range w.manifest {
		p.Go(func(ctx context.Context) error {
			req, err := fetch.NewRequest(desc.Method, desc.URL, nil)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrInstallFailed, err)
			}
			resp, err := w.opts.Fetcher.Fetch(ctx, req)
			if err != nil {
				return fmt.Errorf("%w: fetch %s: %w", ErrInstallFailed, desc.URL, err)
			}
			snap, err := resp.Snapshot()
			if err != nil {
				return fmt.Errorf("%w: read %s: %w", ErrInstallFailed, desc.URL, err)
			}
			if snap.Status != http.StatusOK {
				return fmt.Errorf("%w: %s returned status %d", ErrInstallFailed, desc.URL, snap.Status)
			}
			mu.Lock()
			snapshots[desc.Key()] = snap
			mu.Unlock()
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return snapshots, nil
}

func (w *Worker) failInstall(ctx context.Context, logger *logrus.Entry, staticName string, existed bool, cause error) error {
	if !existed {
		if _, err := w.opts.Storage.Delete(context.WithoutCancel(ctx), staticName); err != nil {
			logger.WithError(err).WithField("cache", staticName).Warn("install_cleanup_failed")
		}
	}
	w.markRedundant()
	logger.WithError(cause).Error("install_failed")
	return cause
}

// Activate 删除白名单以外的全部缓存，随后接管所有页面。
func (w *Worker) Activate(ctx context.Context) error {
	if err := w.transition(StateActivating); err != nil {
		return err
	}
	logger := w.logger("activate")

	names, err := w.opts.Storage.Names(ctx)
	if err != nil {
		w.markRedundant()
		return fmt.Errorf("list caches: %w", err)
	}
	var removed []string
	for _, name := range names {
		if w.opts.Registry.Contains(name) {
			continue
		}
		if _, err := w.opts.Storage.Delete(ctx, name); err != nil {
			w.markRedundant()
			return fmt.Errorf("delete cache %s: %w", name, err)
		}
		removed = append(removed, name)
		logger.WithField("cache", name).Info("cache_deleted")
	}

	claimed := w.opts.Clients.Claim(w)

	w.mu.Lock()
	w.state = StateActivated
	w.activatedAt = time.Now().UTC()
	w.mu.Unlock()
	w.logger("activate").WithFields(logrus.Fields{
		"removed": removed,
		"claimed": claimed,
	}).Info("activate_complete")
	return nil
}

func (w *Worker) transition(to State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !canTransition(w.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, w.state, to)
	}
	w.state = to
	return nil
}

func (w *Worker) markRedundant() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = StateRedundant
}

func (w *Worker) logger(action string) *logrus.Entry {
	return w.opts.Logger.WithFields(logging.WorkerFields(action, w.Version(), string(w.State()))).
		WithField("worker_id", w.id)
}
