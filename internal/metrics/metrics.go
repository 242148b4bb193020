package metrics

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

var (
	// API 请求计数器
	apiRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	// API 请求响应时间
	apiRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 记录创建数
	recordsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qms_records_created_total",
			Help: "Total number of controlled records created",
		},
		[]string{"kind"},
	)

	// 已提交的状态转换
	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qms_transitions_total",
			Help: "Total number of committed lifecycle operations",
		},
		[]string{"operation"},
	)

	// 被拒绝的转换
	rejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qms_transition_rejections_total",
			Help: "Total number of rejected lifecycle operations by error kind and code",
		},
		[]string{"operation", "kind", "code"},
	)

	// 审计日志写入数
	auditEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qms_audit_entries_total",
			Help: "Total number of audit entries appended",
		},
		[]string{"event_type"},
	)

	// 事务日志重放数
	journalReplaysTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "qms_journal_replays_total",
			Help: "Total number of pending journal entries replayed",
		},
	)

	// 通知投递结果
	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qms_notifications_total",
			Help: "Total number of notification deliveries by sink and result",
		},
		[]string{"sink", "result"},
	)

	// 过期计数
	overdueGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qms_overdue",
			Help: "Number of overdue items by category",
		},
		[]string{"category"}, // review, capa_due, capa_follow_up
	)

	// 文件存储写入
	blobUploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qms_blob_uploads_total",
			Help: "Total number of blob uploads by result",
		},
		[]string{"result"}, // stored, rejected, error
	)

	// 数据库连接数
	databaseConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_active",
			Help: "Number of active database connections",
		},
	)

	databaseConnectionsIdle = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_idle",
			Help: "Number of idle database connections",
		},
	)

	databaseConnectionsMax = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_max",
			Help: "Maximum number of database connections",
		},
	)

	// 记录状态分布
	recordsByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qms_records_by_state",
			Help: "Number of records by kind and state",
		},
		[]string{"kind", "state"},
	)
)

var (
	once sync.Once
)

func init() {
	// 注册指标
	prometheus.MustRegister(apiRequestsTotal)
	prometheus.MustRegister(apiRequestDuration)
	prometheus.MustRegister(recordsCreatedTotal)
	prometheus.MustRegister(transitionsTotal)
	prometheus.MustRegister(rejectionsTotal)
	prometheus.MustRegister(auditEntriesTotal)
	prometheus.MustRegister(journalReplaysTotal)
	prometheus.MustRegister(notificationsTotal)
	prometheus.MustRegister(overdueGauge)
	prometheus.MustRegister(blobUploadsTotal)
	prometheus.MustRegister(databaseConnectionsActive)
	prometheus.MustRegister(databaseConnectionsIdle)
	prometheus.MustRegister(databaseConnectionsMax)
	prometheus.MustRegister(recordsByState)

	// 注册 Go 运行时指标（只注册一次）
	once.Do(func() {
		_ = prometheus.Register(prometheus.NewGoCollector())
		_ = prometheus.Register(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	})
}

// Handler 返回 Prometheus 指标处理器
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAPIRequest 记录 API 请求
func RecordAPIRequest(method, path string, status int, duration float64) {
	statusText := http.StatusText(status)
	if statusText == "" {
		statusText = fmt.Sprintf("%d", status)
	}
	apiRequestsTotal.WithLabelValues(method, path, statusText).Inc()
	apiRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// RecordRecordCreated 记录创建
func RecordRecordCreated(kind string) {
	recordsCreatedTotal.WithLabelValues(kind).Inc()
}

// RecordTransition 记录已提交的转换
func RecordTransition(operation string) {
	transitionsTotal.WithLabelValues(operation).Inc()
}

// RecordRejection 记录被拒绝的转换
func RecordRejection(operation, kind, code string) {
	rejectionsTotal.WithLabelValues(operation, kind, code).Inc()
}

// RecordAuditEntry 记录审计日志写入
func RecordAuditEntry(eventType string) {
	auditEntriesTotal.WithLabelValues(eventType).Inc()
}

// RecordJournalReplay 记录事务日志重放
func RecordJournalReplay(n int) {
	journalReplaysTotal.Add(float64(n))
}

// RecordNotification 记录通知投递结果
func RecordNotification(sink, result string) {
	notificationsTotal.WithLabelValues(sink, result).Inc()
}

// RecordBlobUpload 记录文件写入结果
func RecordBlobUpload(result string) {
	blobUploadsTotal.WithLabelValues(result).Inc()
}

// SetOverdue 更新过期计数
func SetOverdue(category string, count int) {
	overdueGauge.WithLabelValues(category).Set(float64(count))
}

// UpdateDatabaseConnections 更新数据库连接数指标
func UpdateDatabaseConnections(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}

	stats := sqlDB.Stats()
	databaseConnectionsActive.Set(float64(stats.OpenConnections - stats.Idle))
	databaseConnectionsIdle.Set(float64(stats.Idle))
	databaseConnectionsMax.Set(float64(stats.MaxOpenConnections))

	return nil
}

// UpdateRecordsByState 更新记录状态分布指标
func UpdateRecordsByState(kind, state string, count float64) {
	recordsByState.WithLabelValues(kind, state).Set(count)
}
