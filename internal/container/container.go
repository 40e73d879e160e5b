package container

import (
	"context"
	"errors"
	"fmt"
	"time"

	"darkpool-go/config"
	"darkpool-go/infrastructure/alert"
	"darkpool-go/infrastructure/logger"
	"darkpool-go/infrastructure/monitor"
	hotreload "darkpool-go/internal/config"
	"darkpool-go/internal/engine"
	"darkpool-go/ledger"
	"darkpool-go/publisher"
	"darkpool-go/server"
)

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	// 配置
	cfg        *config.AppConfig
	configPath string

	// 基础设施
	logger  *logger.Logger
	monitor *monitor.Monitor
	alerts  *alert.Manager

	// 外部依赖
	ledger    ledger.Ledger
	publisher *publisher.KafkaPublisher

	// 核心服务
	engine   *engine.Engine
	api      *server.Server
	reloader *hotreload.HotReloader

	// 生命周期管理
	lifecycle *LifecycleManager
}

// New 创建新的Container实例
func New(configPath string) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	c := NewWithConfig(cfg)
	c.configPath = configPath
	return c, nil
}

// NewWithConfig builds a container from an already loaded config. Hot reload
// stays off because there is no file to watch.
func NewWithConfig(cfg config.AppConfig) *Container {
	return &Container{
		cfg:       &cfg,
		lifecycle: NewLifecycleManager(),
	}
}

// Build 构建所有组件
func (c *Container) Build() error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}

	if err := c.buildLedger(); err != nil {
		return fmt.Errorf("build ledger failed: %w", err)
	}

	if err := c.buildCoreServices(); err != nil {
		return fmt.Errorf("build core services failed: %w", err)
	}

	c.registerLifecycleComponents()
	c.logger.Info("container built successfully")
	return nil
}

func (c *Container) buildInfrastructure() error {
	var err error
	c.logger, err = logger.New(c.cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}
	c.logger = c.logger.WithFields(map[string]interface{}{"env": c.cfg.Env})

	c.monitor = monitor.New(monitor.DefaultConfig())

	throttle := time.Duration(c.cfg.Alert.ThrottleSeconds) * time.Second
	c.alerts = alert.NewManager([]alert.Channel{alert.NewLogChannel("log", c.logger)}, throttle)

	c.logger.Info("infrastructure built")
	return nil
}

func (c *Container) buildLedger() error {
	lc := c.cfg.Ledger
	switch lc.Mode {
	case config.LedgerMemory:
		c.ledger = ledger.NewMemoryLedger()
	case config.LedgerHTTP:
		client := &ledger.HTTPClient{
			BaseURL:    lc.BaseURL,
			APIKey:     lc.APIKey,
			HTTPClient: ledger.NewDefaultHTTPClient(),
			MaxRetries: lc.MaxRetries,
			RetryDelay: time.Duration(lc.RetryDelayMs) * time.Millisecond,
		}
		if lc.TimeoutMs > 0 {
			client.HTTPClient.Timeout = time.Duration(lc.TimeoutMs) * time.Millisecond
		}
		if lc.RateLimit > 0 {
			client.Limiter = ledger.NewTokenBucketLimiter(lc.RateLimit, lc.Burst)
		}
		c.ledger = client
	case config.LedgerDisabled:
		// 引擎仅本地撮合
	default:
		return fmt.Errorf("unknown ledger mode %q", lc.Mode)
	}
	if c.ledger != nil && lc.BreakerThreshold > 0 {
		c.ledger = ledger.NewBreakerLedger(c.ledger, ledger.BreakerConfig{
			Threshold: lc.BreakerThreshold,
			Timeout:   time.Duration(lc.BreakerTimeoutMs) * time.Millisecond,
		})
	}

	c.logger.Info(fmt.Sprintf("ledger built (mode=%s)", lc.Mode))
	return nil
}

func (c *Container) buildCoreServices() error {
	opts := engine.Options{
		Clock:   engine.RealClock(),
		Rand:    engine.NewRandomizer(c.cfg.Engine.Seed),
		Ledger:  c.ledger,
		Logger:  c.logger,
		Monitor: c.monitor,
		Alerts:  c.alerts,
	}

	if c.cfg.Kafka.Enabled {
		pub, err := publisher.NewKafkaPublisher(publisher.Config{
			Brokers:         c.cfg.Kafka.Brokers,
			Topic:           c.cfg.Kafka.Topic,
			ConnectAttempts: c.cfg.Kafka.ConnectAttempts,
			ConnectBackoff:  time.Duration(c.cfg.Kafka.ConnectBackoffMs) * time.Millisecond,
		}, c.logger)
		if err != nil {
			return fmt.Errorf("create kafka publisher failed: %w", err)
		}
		c.publisher = pub
		opts.Sink = pub
	}

	eng, err := engine.New(c.cfg.EngineConfig(), opts)
	if err != nil {
		return fmt.Errorf("create engine failed: %w", err)
	}
	c.engine = eng

	c.api = server.New(eng, server.Config{
		Addr:       c.cfg.Server.Addr,
		AuthToken:  c.cfg.Server.AuthToken,
		CORSOrigin: c.cfg.Server.CORSOrigin,
	}, c.logger)

	if c.configPath != "" {
		reloader, err := hotreload.NewHotReloader(c.configPath, hotreload.DefaultHotReloadConfig(), c.logger)
		if err != nil {
			return fmt.Errorf("create hot reloader failed: %w", err)
		}
		reloader.OnReload(hotreload.EngineApplier(eng))
		c.reloader = reloader
	}

	c.logger.Info("core services built")
	return nil
}

// registerLifecycleComponents 启动顺序：发布者 → 引擎 → API → 指标 → 热更新，停止时逆序
func (c *Container) registerLifecycleComponents() {
	if c.publisher != nil {
		c.lifecycle.Register(&closerComponent{name: "kafka_publisher", close: c.publisher.Close})
	}
	c.lifecycle.Register(&engineComponent{engine: c.engine})
	c.lifecycle.Register(&apiServerComponent{server: c.api, logger: c.logger})
	if c.monitor != nil && c.cfg.Server.MetricsAddr != "" {
		c.lifecycle.Register(&httpServerComponent{
			name:    "metrics_server",
			handler: c.monitor.Handler(),
			addr:    c.cfg.Server.MetricsAddr,
			logger:  c.logger,
		})
	}
	if c.reloader != nil {
		c.lifecycle.Register(&reloaderComponent{reloader: c.reloader})
	}
}

func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")

	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}

	c.logger.Info("container started")
	return nil
}

// Stop 逆序停止组件。引擎状态保留在内存中，进程退出即丢弃。
func (c *Container) Stop() error {
	c.logger.Info("stopping container...")

	err := c.lifecycle.StopAll()
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	}

	state := c.engine.Snapshot()
	c.logger.Info(fmt.Sprintf("final state: %d epochs, %d orders", len(state.Epochs), len(state.Orders)))

	if c.logger != nil {
		_ = c.logger.Close()
	}
	return err
}

func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

// Engine 返回撮合引擎，Build 之后可用
func (c *Container) Engine() *engine.Engine {
	return c.engine
}

// Logger 返回容器日志器，Build 之后可用
func (c *Container) Logger() *logger.Logger {
	return c.logger
}

// engineComponent 引擎组件
type engineComponent struct {
	engine *engine.Engine
}

func (e *engineComponent) Start(ctx context.Context) error {
	return e.engine.Start(ctx)
}

func (e *engineComponent) Stop() error {
	if err := e.engine.Stop(); err != nil && !errors.Is(err, engine.ErrNotRunning) {
		return err
	}
	return nil
}

func (e *engineComponent) Health() error {
	if !e.engine.Running() {
		return errors.New("engine not running")
	}
	return nil
}

// reloaderComponent 配置热更新组件
type reloaderComponent struct {
	reloader *hotreload.HotReloader
}

func (r *reloaderComponent) Start(ctx context.Context) error { return r.reloader.Start(ctx) }
func (r *reloaderComponent) Stop() error                     { return r.reloader.Stop() }
func (r *reloaderComponent) Health() error                   { return nil }

// closerComponent 只需要在退出时关闭的组件
type closerComponent struct {
	name  string
	close func() error
}

func (c *closerComponent) Start(context.Context) error { return nil }
func (c *closerComponent) Health() error               { return nil }
func (c *closerComponent) Stop() error {
	if err := c.close(); err != nil {
		return fmt.Errorf("%s close failed: %w", c.name, err)
	}
	return nil
}
