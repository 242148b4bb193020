package api

import (
	"github.com/gin-gonic/gin"
	"github.com/mautops/qms-gin/internal/auth"
	"github.com/mautops/qms-gin/internal/config"
	"github.com/mautops/qms-gin/internal/service"
	"github.com/mautops/qms-gin/internal/websocket"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RouterDeps 路由依赖
type RouterDeps struct {
	Config   *config.Config
	DB       *gorm.DB
	Logger   *logrus.Logger
	Hub      *websocket.Hub
	Resolver *auth.ActorResolver
	// Authorizer 为 nil 时不做关系权限检查
	Authorizer auth.Authorizer
	// FGAHealth 为 nil 时健康检查跳过 OpenFGA
	FGAHealth HealthChecker

	Records    service.RecordService
	Capas      service.CapaService
	Access     service.AccessService
	Blobs      service.BlobService
	Queries    service.QueryService
	AuditLog   service.AuditLogService
	Statistics service.StatisticsService
	Export     service.ExportService
}

// SetupRoutes 配置路由
func SetupRoutes(deps *RouterDeps) *gin.Engine {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if config.IsProduction(cfg) {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// 中间件
	router.Use(gin.Recovery())
	router.Use(RequestIDMiddleware())
	if cfg.Tracing.Enabled {
		router.Use(TracingMiddleware(cfg.Tracing.ServiceName))
		router.Use(SpanAttributesMiddleware())
	}
	router.Use(RequestLogMiddleware(deps.Logger))
	router.Use(SecurityHeadersMiddleware(config.IsProduction(cfg)))
	router.Use(CORSMiddleware(cfg.CORS))
	router.Use(ErrorHandlerMiddleware())

	// 健康检查
	healthController := NewHealthController(deps.DB, deps.FGAHealth, cfg.Blob.Dir)
	router.GET("/health", healthController.Check)

	// Prometheus 指标端点
	router.GET("/metrics", MetricsHandler)

	// 事件推送: WebSocket 与 SSE 共用 Hub
	if deps.Hub != nil && deps.Resolver != nil {
		upgrader := websocket.NewUpgrader(cfg.CORS.AllowedOrigins)
		router.GET("/ws/records", websocket.WebSocketHandler(deps.Hub, deps.Resolver, upgrader))
		router.GET("/ws/records/:id", websocket.WebSocketHandler(deps.Hub, deps.Resolver, upgrader))
		router.GET("/sse/records/:id", SSEHandler(deps.Hub, deps.Resolver))
	}

	recordController := NewRecordController(deps.Records, deps.Export)
	versionController := NewVersionController(deps.Records)
	capaController := NewCapaController(deps.Capas)
	blobController := NewBlobController(deps.Blobs, cfg.Blob.MaxSize)
	historyController := NewHistoryController(deps.Queries, deps.AuditLog, deps.Statistics)

	authz := deps.Authorizer
	viewer := requireRecord(authz, auth.RelationViewer)
	editor := requireRecord(authz, auth.RelationEditor)
	owner := requireRecord(authz, auth.RelationOwner)
	reviewer := requireRecord(authz, auth.RelationReviewer)
	versionViewer := RecordPermission(authz, auth.RelationViewer, VersionRecord(deps.Records))
	versionEditor := RecordPermission(authz, auth.RelationEditor, VersionRecord(deps.Records))
	versionApprover := RecordPermission(authz, auth.RelationApprover, VersionRecord(deps.Records))
	actionOwner := RecordPermission(authz, auth.RelationActionOwner, ActionRecord(deps.Capas))
	actionReviewer := RecordPermission(authz, auth.RelationReviewer, ActionRecord(deps.Capas))

	// API v1 路由组
	v1 := router.Group("/api/v1")
	v1.Use(deps.Resolver.Middleware())
	if cfg.RateLimit.Enabled {
		v1.Use(RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	}
	{
		// 记录管理路由
		records := v1.Group("/records")
		{
			records.POST("", recordController.Create)
			records.GET("", recordController.List)
			records.GET("/:id", viewer, recordController.Get)
			records.POST("/:id/versions", editor, recordController.Supersede)
			records.GET("/:id/versions", viewer, recordController.ListVersions)
			records.GET("/:id/redline", viewer, recordController.Redline)
			records.GET("/:id/export", viewer, recordController.Export)

			if deps.Access != nil {
				accessController := NewAccessController(deps.Access)
				records.POST("/:id/grants", owner, accessController.Grant)
				records.DELETE("/:id/grants", owner, accessController.Revoke)
			}

			records.GET("/:id/history", viewer, historyController.History)
			records.POST("/:id/history/verify", viewer, historyController.Verify)
			records.POST("/:id/annotations", editor, historyController.Annotate)
			records.GET("/:id/schedule", viewer, historyController.GetSchedule)
			records.POST("/:id/review", editor, historyController.CompleteReview)

			// 验证人和效果复审人通过 reviewer 关系授权, 独立性由引擎检查
			records.GET("/:id/capa", viewer, capaController.Get)
			records.POST("/:id/capa/actions", editor, capaController.AddAction)
			records.POST("/:id/capa/start", editor, capaController.Start)
			records.POST("/:id/capa/mark-ready", editor, capaController.MarkReady)
			records.POST("/:id/capa/close", reviewer, capaController.Close)
			records.POST("/:id/capa/cancel", editor, capaController.Cancel)
		}

		// 版本与审批路由
		versions := v1.Group("/versions")
		{
			versions.GET("/:version_id", versionViewer, versionController.Get)
			versions.PATCH("/:version_id", versionEditor, versionController.Edit)
			versions.POST("/:version_id/submit", versionEditor, versionController.Submit)
			versions.POST("/:version_id/sign", versionApprover, versionController.Sign)
			versions.POST("/:version_id/activate", versionEditor, versionController.Activate)
			versions.POST("/:version_id/retire", versionEditor, versionController.Retire)
			versions.GET("/:version_id/approvals", versionViewer, versionController.ListApprovals)
		}

		// CAPA 措施路由
		actions := v1.Group("/actions")
		{
			actions.POST("/:action_id/evidence", actionOwner, capaController.AddEvidence)
			actions.POST("/:action_id/verify", actionReviewer, capaController.VerifyAction)
		}

		// 文件内容路由, 引用是内容摘要
		blobs := v1.Group("/blobs")
		{
			blobs.POST("", blobController.Upload)
			blobs.GET("/:ref", blobController.Download)
		}

		v1.GET("/me/activity", historyController.MyActivity)

		statistics := v1.Group("/statistics")
		{
			statistics.GET("/records", historyController.RecordStatistics)
			statistics.GET("/approvals", historyController.ApprovalStatistics)
			statistics.GET("/overdue", historyController.OverdueStatistics)
		}
	}

	return router
}
