package container

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mautops/qms-gin/internal/api"
	"github.com/mautops/qms-gin/internal/auth"
	"github.com/mautops/qms-gin/internal/blob"
	"github.com/mautops/qms-gin/internal/config"
	"github.com/mautops/qms-gin/internal/database"
	"github.com/mautops/qms-gin/internal/engine"
	"github.com/mautops/qms-gin/internal/metrics"
	"github.com/mautops/qms-gin/internal/notify"
	"github.com/mautops/qms-gin/internal/scheduler"
	"github.com/mautops/qms-gin/internal/service"
	"github.com/mautops/qms-gin/internal/websocket"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Container 依赖注入容器
// 管理所有应用依赖,包括数据库、引擎、通知、鉴权和服务
type Container struct {
	cfg    *config.Config
	logger *logrus.Logger

	db         *gorm.DB
	blobs      *blob.FSStore
	engine     *engine.Engine
	dispatcher *notify.Dispatcher
	kafka      *notify.KafkaSink
	hub        *websocket.Hub
	sweeper    *scheduler.Sweeper
	collector  *metrics.Collector
	watcher    *config.ConfigWatcher

	validator *auth.KeycloakTokenValidator
	resolver  *auth.ActorResolver
	fgaClient *auth.OpenFGAClient
	authz     auth.Authorizer

	records    service.RecordService
	capas      service.CapaService
	access     service.AccessService
	blobSvc    service.BlobService
	queries    service.QueryService
	auditLog   service.AuditLogService
	statistics service.StatisticsService
	export     service.ExportService

	cancel  context.CancelFunc
	started bool
}

// NewContainer 创建依赖注入容器
// 根据配置初始化所有依赖组件
func NewContainer(cfg *config.Config) (*Container, error) {
	c := &Container{cfg: cfg}

	// 1. 日志
	logger, err := api.NewLoggerFromConfig(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	api.SetLogger(logger)
	c.logger = logger

	// 2. 数据库（带重试机制）
	// 默认重试 3 次，初始间隔 1 秒，指数退避
	db, err := database.ConnectWithRetry(cfg.Database, 3, time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	c.db = db

	if err := database.Migrate(db); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	// 3. 文件存储
	blobs, err := blob.NewFSStore(cfg.Blob.Dir, cfg.Blob.MaxSize)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize blob store: %w", err)
	}
	c.blobs = blobs

	// 4. 通知: 发件箱分发到 WebSocket / Kafka / Webhook
	c.hub = websocket.NewHub()
	c.dispatcher = notify.NewDispatcher(db, notify.Options{
		Workers:    cfg.Notify.Workers,
		QueueSize:  cfg.Notify.QueueSize,
		MaxRetries: cfg.Notify.MaxRetries,
		Backoff:    time.Duration(cfg.Notify.Backoff) * time.Millisecond,
	}, logger, c.hub)
	if cfg.Kafka.Enabled {
		kafkaSink, err := notify.NewKafkaSink(cfg.Kafka)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to initialize kafka sink: %w", err)
		}
		c.kafka = kafkaSink
		c.dispatcher.AddSink(kafkaSink)
	}
	webhookClient := &http.Client{Timeout: 10 * time.Second}
	for _, hook := range cfg.Notify.Webhooks {
		c.dispatcher.AddSink(notify.NewWebhookSink(hook, webhookClient))
	}

	// 5. 生命周期引擎
	opts := engine.OptionsFromConfig(cfg)
	opts.Notifier = c.dispatcher
	opts.Logger = logger
	eng, err := engine.New(db, opts)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize engine: %w", err)
	}
	c.engine = eng

	// 6. 身份与权限
	if cfg.Keycloak.Issuer != "" {
		validator, err := auth.NewKeycloakTokenValidator(cfg.Keycloak.Issuer, cfg.Keycloak.JWKSURL)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to initialize keycloak validator: %w", err)
		}
		c.validator = validator
	}
	c.resolver = auth.NewActorResolver(c.validator, cfg.Auth.DevHeader)

	if cfg.OpenFGA.Enabled {
		fgaClient, err := auth.NewOpenFGAClientWithRetry(cfg.OpenFGA.APIURL, cfg.OpenFGA.StoreID, cfg.OpenFGA.ModelID, 3, time.Second)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to initialize OpenFGA client: %w", err)
		}
		c.fgaClient = fgaClient
		c.authz = auth.NewCachedAuthorizer(fgaClient, auth.NewPermissionCache(0, time.Duration(cfg.OpenFGA.CacheTTL)*time.Second))
	}

	// 7. 后台任务
	c.sweeper = scheduler.NewSweeper(db, time.Duration(cfg.Scheduler.SweepInterval)*time.Second, logger)
	c.collector = metrics.NewCollector(db, time.Minute)

	// 8. 服务
	c.records = service.NewRecordService(eng, blobs, logger, c.authz)
	c.capas = service.NewCapaService(eng, blobs, c.authz)
	c.access = service.NewAccessService(eng, c.authz, logger)
	c.blobSvc = service.NewBlobService(blobs)
	c.queries = service.NewQueryService(eng)
	c.auditLog = service.NewAuditLogService(eng, db)
	c.statistics = service.NewStatisticsService(db)
	c.export = service.NewExportService(eng, blobs)

	return c, nil
}

// Start 启动后台组件并恢复未完成的转换
func (c *Container) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go c.hub.Run()
	c.dispatcher.Start(ctx)

	// 崩溃前已写日志但未应用的转换
	recovered, err := c.engine.RecoverPending(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover pending transitions: %w", err)
	}
	if recovered > 0 {
		c.logger.WithField("count", recovered).Info("Recovered pending transitions")
	}

	if c.cfg.Scheduler.Enabled {
		c.sweeper.Start()
	}
	c.collector.Start()
	c.started = true
	return nil
}

// WatchConfig 监听配置文件, 热更新日志级别和 CAPA 效果阈值
func (c *Container) WatchConfig(configPath string) error {
	watcher, err := config.NewConfigWatcher(c.cfg, configPath)
	if err != nil {
		return fmt.Errorf("failed to watch config: %w", err)
	}
	watcher.OnConfigChange(c.applyConfig)
	watcher.Start()
	c.watcher = watcher
	return nil
}

// applyConfig 应用可热更新的配置项
func (c *Container) applyConfig(old, updated *config.Config) {
	if old.Log.Level != updated.Log.Level && api.ApplyLevel(c.logger, updated.Log.Level) {
		c.logger.WithField("level", updated.Log.Level).Info("Log level updated")
	}
	if updated.CAPA.EffectivenessThreshold > 0 && old.CAPA.EffectivenessThreshold != updated.CAPA.EffectivenessThreshold {
		c.engine.SetEffectivenessThreshold(updated.CAPA.EffectivenessThreshold)
		c.logger.WithField("threshold", updated.CAPA.EffectivenessThreshold).Info("Effectiveness threshold updated")
	}
}

// Router 创建 HTTP 路由
func (c *Container) Router() *gin.Engine {
	deps := &api.RouterDeps{
		Config:     c.cfg,
		DB:         c.db,
		Logger:     c.logger,
		Hub:        c.hub,
		Resolver:   c.resolver,
		Authorizer: c.authz,
		Records:    c.records,
		Capas:      c.capas,
		Access:     c.access,
		Blobs:      c.blobSvc,
		Queries:    c.queries,
		AuditLog:   c.auditLog,
		Statistics: c.statistics,
		Export:     c.export,
	}
	if c.fgaClient != nil {
		deps.FGAHealth = c.fgaClient
	}
	return api.SetupRoutes(deps)
}

// DB 获取数据库连接
func (c *Container) DB() *gorm.DB {
	return c.db
}

// Engine 获取生命周期引擎
func (c *Container) Engine() *engine.Engine {
	return c.engine
}

// Logger 获取日志
func (c *Container) Logger() *logrus.Logger {
	return c.logger
}

// Sweeper 获取到期扫描器
func (c *Container) Sweeper() *scheduler.Sweeper {
	return c.sweeper
}

// Hub 获取事件推送 Hub
func (c *Container) Hub() *websocket.Hub {
	return c.hub
}

// Close 关闭容器,清理资源
func (c *Container) Close() error {
	if c.watcher != nil {
		c.watcher.Stop()
	}
	if c.sweeper != nil {
		c.sweeper.Stop()
	}
	if c.collector != nil && c.started {
		c.collector.Stop()
	}
	if c.cancel != nil {
		c.cancel()
	}
	if c.dispatcher != nil {
		c.dispatcher.Stop()
	}
	if c.hub != nil {
		c.hub.Stop()
	}
	if c.kafka != nil {
		if err := c.kafka.Close(); err != nil && c.logger != nil {
			c.logger.WithError(err).Warn("Failed to close kafka writer")
		}
	}
	if c.db != nil {
		return database.Close(c.db)
	}
	return nil
}
