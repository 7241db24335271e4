package container

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"market-board-go/config"
	"market-board-go/display"
	"market-board-go/gateway"
	"market-board-go/infrastructure/alert"
	"market-board-go/infrastructure/logger"
	"market-board-go/internal/session"
	"market-board-go/market"
	"market-board-go/metrics"
)

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	// 配置
	cfg        *config.AppConfig
	configPath string

	// 基础设施
	logger  *logger.Logger
	metrics *metrics.Metrics
	alerts  *alert.Manager

	// 行情
	feed       *gateway.FeedClient
	marketData *market.Service
	session    *session.Session

	// HTTP服务器
	router        *gin.Engine
	displayServer *http.Server
	displayComp   *httpServerComponent

	// 生命周期管理
	lifecycle *LifecycleManager
}

// New 创建新的Container实例
func New(configPath string) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	return NewWithConfig(cfg, configPath), nil
}

// NewWithConfig 使用已加载的配置；configPath 为空时不监听配置文件。
func NewWithConfig(cfg config.AppConfig, configPath string) *Container {
	return &Container{
		cfg:        &cfg,
		configPath: configPath,
		lifecycle:  NewLifecycleManager(),
	}
}

// Build 构建所有组件
func (c *Container) Build() error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}
	if err := c.buildFeed(); err != nil {
		return fmt.Errorf("build feed failed: %w", err)
	}
	c.buildDisplay()

	c.registerLifecycleComponents()
	c.logger.Info("container built successfully",
		zap.String("session", c.session.ID()),
		zap.Strings("symbols", c.cfg.Symbols),
	)
	return nil
}

func (c *Container) buildInfrastructure() error {
	var err error
	c.logger, err = logger.New(c.cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}

	c.metrics = metrics.New(c.cfg.Metrics.Namespace)

	throttle := time.Duration(c.cfg.Feed.AlertThrottleSec) * time.Second
	c.alerts = alert.NewManager([]alert.Channel{alert.NewLogChannel("log", c.logger.Logger)}, throttle)

	c.logger.Info("infrastructure built")
	return nil
}

func (c *Container) buildFeed() error {
	c.feed = gateway.NewFeedClient(c.cfg.Feed.Endpoint, c.cfg.Feed.AccessKey)
	c.feed.ReadTimeout = time.Duration(c.cfg.Feed.ReadTimeoutMs) * time.Millisecond
	c.feed.Logger = c.logger.WithFields(map[string]interface{}{"component": "feed"}).Logger
	if _, err := c.feed.FeedURL(); err != nil {
		return err
	}

	c.marketData = market.NewService(market.NewPublisher())
	c.session = session.New(c.cfg.Feed.Endpoint, session.FromClient(c.feed), c.marketData, c.logger, c.metrics)
	c.session.Limiter = gateway.NewTokenBucketLimiter(c.cfg.Feed.ResubscribeRate, c.cfg.Feed.ResubscribeBurst)
	c.session.Alerts = c.alerts

	c.logger.Info("feed built")
	return nil
}

func (c *Container) buildDisplay() {
	if c.cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	c.router = display.NewRouter(display.Options{
		Service: c.marketData,
		Title:   c.cfg.Display.Title,
		Session: c.session.ID(),
		Symbols: c.session.Symbols,
		Metrics: c.metrics.Handler(),
		Logger:  c.logger.WithFields(map[string]interface{}{"component": "display"}).Logger,
		Health:  c.HealthCheck,
	})
}

func (c *Container) registerLifecycleComponents() {
	c.lifecycle.Register(&sessionComponent{
		session: c.session,
		symbols: c.cfg.Symbols,
		logger:  c.logger,
	})
	if c.configPath != "" {
		c.lifecycle.Register(&watcherComponent{
			watcher: config.Watcher{Path: c.configPath, Cooldown: 500 * time.Millisecond},
			onUpdate: func(cfg config.AppConfig) {
				c.logger.LogFeed("config_reloaded", map[string]interface{}{"path": c.configPath})
				c.session.SetSymbols(cfg.Symbols)
			},
			logger: c.logger,
		})
	}
	c.displayComp = &httpServerComponent{
		name:    "display_server",
		handler: c.router,
		addr:    c.cfg.Display.Addr,
		logger:  c.logger,
		server:  &c.displayServer,
	}
	c.lifecycle.Register(c.displayComp)
}

func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")

	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}

	c.logger.Info("container started")
	return nil
}

func (c *Container) Stop() error {
	c.logger.Info("stopping container...")

	if err := c.lifecycle.StopAll(); err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
		return err
	}

	c.logger.Info("container stopped")
	if c.logger != nil {
		_ = c.logger.Close()
	}
	return nil
}

// HealthCheck 汇总各组件健康状态，供 /healthz 使用。
func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

// Router 暴露看板路由，便于测试。
func (c *Container) Router() http.Handler { return c.router }

// DisplayAddr 返回看板实际监听地址；未启动时为空。
func (c *Container) DisplayAddr() string {
	if c.displayComp == nil {
		return ""
	}
	return c.displayComp.Addr()
}

// Service 暴露行情服务。
func (c *Container) Service() *market.Service { return c.marketData }

// Session 暴露当前订阅会话。
func (c *Container) Session() *session.Session { return c.session }
