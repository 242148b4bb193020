package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/mautops/qms-gin/internal/engine"
	"github.com/mautops/qms-gin/internal/model"
	"github.com/mautops/qms-gin/internal/repository"
	"gorm.io/gorm"
)

// AuditLogService 审计批注与操作人活动服务
type AuditLogService interface {
	Annotate(ctx context.Context, actorID, recordID string, req *AnnotateRequest) (*model.AuditEntryModel, error)
	ActorActivity(ctx context.Context, actorID string, limit int) ([]*model.AuditEntryModel, error)
}

// AnnotateRequest 审计批注请求
type AnnotateRequest struct {
	EntryID   int64                  `json:"entry_id"` // 为 0 时自动分配
	VersionID string                 `json:"version_id"`
	EventType string                 `json:"event_type" example:"note.training_completed" binding:"required"`
	Details   map[string]interface{} `json:"details"`
}

// auditLogService 审计批注服务实现
type auditLogService struct {
	engine *engine.Engine
	db     *gorm.DB
}

// NewAuditLogService 创建审计批注服务
func NewAuditLogService(eng *engine.Engine, db *gorm.DB) AuditLogService {
	return &auditLogService{engine: eng, db: db}
}

// Annotate 追加审计批注, 请求来源写入批注内容
func (s *auditLogService) Annotate(ctx context.Context, actorID, recordID string, req *AnnotateRequest) (*model.AuditEntryModel, error) {
	payload := make(map[string]interface{}, len(req.Details)+2)
	for k, v := range req.Details {
		payload[k] = v
	}
	if requestID := GetRequestID(ctx); requestID != "" {
		payload["request_id"] = requestID
	}
	if ip := GetClientIP(ctx); ip != "" {
		payload["ip"] = ip
	}

	return s.engine.RecordAuditEvent(ctx, engine.AuditEventInput{
		EntryID:   req.EntryID,
		RecordID:  recordID,
		VersionID: req.VersionID,
		EventType: req.EventType,
		Payload:   payload,
		ActorID:   actorID,
	})
}

// ActorActivity 操作人最近的审计日志
func (s *auditLogService) ActorActivity(ctx context.Context, actorID string, limit int) ([]*model.AuditEntryModel, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return nil, invalidRequest("actor id is required")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	entries, err := repository.NewAuditEntryRepository(s.db.WithContext(ctx)).FindByActor(actorID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity of %s: %w", actorID, err)
	}
	return entries, nil
}

type contextKey string

// 请求信息在 context 中的键
const (
	ContextKeyRequestID contextKey = "request_id"
	ContextKeyClientIP  contextKey = "ip"
)

// WithRequestInfo 把请求信息写入 context
func WithRequestInfo(ctx context.Context, requestID, ip string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyRequestID, requestID)
	return context.WithValue(ctx, ContextKeyClientIP, ip)
}

// GetRequestID 从 context 获取请求 ID
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return v
	}
	return ""
}

// GetClientIP 从 context 获取客户端 IP
func GetClientIP(ctx context.Context) string {
	if v, ok := ctx.Value(ContextKeyClientIP).(string); ok {
		return v
	}
	return ""
}
