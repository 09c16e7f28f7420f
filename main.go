package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/discussionblog/offline-agent/internal/cache"
	"github.com/discussionblog/offline-agent/internal/config"
	"github.com/discussionblog/offline-agent/internal/fetch"
	"github.com/discussionblog/offline-agent/internal/lifecycle"
	"github.com/discussionblog/offline-agent/internal/logging"
	"github.com/discussionblog/offline-agent/internal/notify"
	"github.com/discussionblog/offline-agent/internal/proxy"
	"github.com/discussionblog/offline-agent/internal/server"
	"github.com/discussionblog/offline-agent/internal/server/routes"
	"github.com/discussionblog/offline-agent/internal/strategy"
	"github.com/discussionblog/offline-agent/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

const shutdownTimeout = 10 * time.Second

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["origin"] = cfg.Global.Origin
		fields["cache_version"] = cfg.Agent.CacheVersion
		fields["storage_driver"] = cfg.Global.StorageDriver
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// CLI 启动遵循“配置 → 日志 → 缓存存储 → 安装/激活 → Fiber server”顺序，
	// 保证所有请求共享同一份存储与注册表。
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newAgent(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存存储失败: %v\n", err)
		return 1
	}
	defer a.close()

	if err := a.install(ctx, cfg); err != nil {
		fmt.Fprintf(stdErr, "安装缓存版本失败: %v\n", err)
		return 1
	}

	if err := config.Watch(opts.configPath, a.onConfigChange); err != nil {
		logger.WithFields(logging.BaseFields("config_watch", opts.configPath)).WithError(err).Warn("配置监听未启用")
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["origin"] = cfg.Global.Origin
	fields["listen_port"] = cfg.Global.ListenPort
	fields["cache_version"] = cfg.Agent.CacheVersion
	fields["storage_driver"] = cfg.Global.StorageDriver
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(ctx, cfg, a, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("offline-agent", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 OFFLINE_AGENT_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("OFFLINE_AGENT_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

// agent 持有进程内共享的存储、网络与注册表，配置热更新时复用。
type agent struct {
	logger       *logrus.Logger
	origin       *url.URL
	storage      cache.Storage
	fetcher      fetch.Fetcher
	registration *lifecycle.Registration
	handler      *proxy.Handler
	sync         *notify.SyncHandler
	center       *notify.Center

	mu      sync.Mutex
	version string
}

func newAgent(cfg *config.Config, logger *logrus.Logger) (*agent, error) {
	origin, err := url.Parse(cfg.Global.Origin)
	if err != nil {
		return nil, fmt.Errorf("invalid origin: %w", err)
	}
	storage, err := cache.NewStorage(cfg.Global.StorageDriver, cfg.Global.StoragePath)
	if err != nil {
		return nil, err
	}
	fetcher := server.NewHTTPFetcher(server.NewUpstreamClient(cfg), origin)
	clients := lifecycle.NewClients()
	registration := lifecycle.NewRegistration(clients, logger)

	n := cfg.Notification
	return &agent{
		logger:       logger,
		origin:       origin,
		storage:      storage,
		fetcher:      fetcher,
		registration: registration,
		handler:      proxy.NewHandler(registration, fetcher, origin, logger),
		sync:         notify.NewSyncHandler(logger, cfg.Agent.SyncTags),
		center: notify.NewCenter(notify.Template{
			Title:    n.Title,
			Body:     n.Body,
			Icon:     n.Icon,
			Badge:    n.Badge,
			ClickURL: n.ClickURL,
		}, clients, logger),
	}, nil
}

// newWorker 按配置构建一个版本的 worker。
func (a *agent) newWorker(cfg *config.Config) (*lifecycle.Worker, error) {
	registry, err := cache.NewRegistry(cfg.Agent.CacheVersion, map[cache.Partition]string{
		cache.PartitionStatic: cfg.Agent.StaticCachePrefix,
		cache.PartitionData:   cfg.Agent.DataCachePrefix,
	})
	if err != nil {
		return nil, err
	}
	return lifecycle.NewWorker(lifecycle.Options{
		Registry:   registry,
		Storage:    a.storage,
		Fetcher:    a.fetcher,
		Origin:     a.origin,
		Precache:   cfg.Agent.Precache,
		OfflineURL: cfg.Agent.OfflineURL,
		Rules: strategy.Rules{
			APIPrefixes: cfg.Agent.APIPrefixes,
			StaticPaths: cfg.Agent.StaticPaths,
		},
		SkipWaiting: cfg.Agent.SkipWaiting,
		Concurrency: cfg.Agent.InstallConcurrency,
		Clients:     a.registration.Clients(),
		Logger:      a.logger,
	})
}

// install 注册配置中的版本；失败时仅当已有激活版本才继续运行。
func (a *agent) install(ctx context.Context, cfg *config.Config) error {
	w, err := a.newWorker(cfg)
	if err != nil {
		return err
	}
	if err := a.registration.Register(ctx, w); err != nil {
		if a.registration.Active() == nil {
			return err
		}
		a.logger.WithFields(logging.WorkerFields("register", w.Version(), string(w.State()))).
			WithError(err).Warn("版本安装失败，继续使用当前版本")
		return nil
	}
	a.mu.Lock()
	a.version = cfg.Agent.CacheVersion
	a.mu.Unlock()
	return nil
}

// onConfigChange 只关心缓存版本号：版本变化时注册新 worker，其他字段需重启生效。
func (a *agent) onConfigChange(cfg *config.Config, err error) {
	if err != nil {
		a.logger.WithFields(logrus.Fields{"action": "config_reload"}).WithError(err).Warn("配置重载失败")
		return
	}
	a.mu.Lock()
	current := a.version
	a.mu.Unlock()
	if cfg.Agent.CacheVersion == current {
		return
	}
	a.logger.WithFields(logrus.Fields{
		"action": "config_reload",
		"from":   current,
		"to":     cfg.Agent.CacheVersion,
	}).Info("检测到缓存版本变化")
	if err := a.install(context.Background(), cfg); err != nil {
		a.logger.WithFields(logrus.Fields{"action": "config_reload"}).WithError(err).Error("新版本安装失败")
	}
}

func (a *agent) close() {
	a.handler.Drain()
	if err := a.storage.Close(); err != nil {
		a.logger.WithError(err).WithField("action", "shutdown").Warn("关闭缓存存储失败")
	}
}

// buildApp 组装 Fiber 应用：拦截路由与 /-/agent 管理接口。
func buildApp(cfg *config.Config, a *agent, logger *logrus.Logger) (*fiber.App, error) {
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Proxy:      a.handler,
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		return nil, err
	}
	routes.RegisterAgentRoutes(app, routes.AgentDeps{
		Registration:  a.registration,
		Storage:       a.storage,
		Sync:          a.sync,
		Notifications: a.center,
	})
	return app, nil
}

func startHTTPServer(ctx context.Context, cfg *config.Config, a *agent, logger *logrus.Logger) error {
	app, err := buildApp(cfg, a, logger)
	if err != nil {
		return err
	}

	port := cfg.Global.ListenPort
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.WithFields(logrus.Fields{"action": "shutdown"}).Info("收到退出信号，等待缓存写入完成")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
