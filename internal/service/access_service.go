package service

import (
	"context"
	"strings"

	"github.com/mautops/qms-gin/internal/auth"
	"github.com/mautops/qms-gin/internal/engine"
	"github.com/mautops/qms-gin/internal/utils"
	"github.com/sirupsen/logrus"
)

// AccessService 记录访问授权服务接口
type AccessService interface {
	Grant(ctx context.Context, actorID, recordID string, req *GrantRequest) error
	Revoke(ctx context.Context, actorID, recordID string, req *GrantRequest) error
}

// GrantRequest 授权请求
type GrantRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	Relation string `json:"relation" example:"reviewer" binding:"required"` // viewer/editor/action_owner/reviewer
}

// grantableRelations 可以手动授予的关系
// owner 随记录创建, approver 随提交审批授予
var grantableRelations = map[string]bool{
	auth.RelationViewer:      true,
	auth.RelationEditor:      true,
	auth.RelationActionOwner: true,
	auth.RelationReviewer:    true,
}

// accessService 授权服务实现, 每次变更都写一条审计批注
type accessService struct {
	engine *engine.Engine
	authz  auth.Authorizer
	logger *logrus.Logger
}

// NewAccessService 创建授权服务, authz 为 nil 时拒绝所有授权变更
func NewAccessService(eng *engine.Engine, authz auth.Authorizer, logger *logrus.Logger) AccessService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &accessService{engine: eng, authz: authz, logger: logger}
}

// Grant 授予关系
func (s *accessService) Grant(ctx context.Context, actorID, recordID string, req *GrantRequest) error {
	userID, relation, err := s.check(ctx, recordID, req)
	if err != nil {
		return err
	}
	if err := s.authz.SetRelation(ctx, userID, relation, auth.ObjectRecord, recordID); err != nil {
		return infrastructure("failed to grant access", err)
	}
	return s.annotate(ctx, actorID, recordID, "note.access_granted", userID, relation)
}

// Revoke 撤销关系
func (s *accessService) Revoke(ctx context.Context, actorID, recordID string, req *GrantRequest) error {
	userID, relation, err := s.check(ctx, recordID, req)
	if err != nil {
		return err
	}
	if err := s.authz.DeleteRelation(ctx, userID, relation, auth.ObjectRecord, recordID); err != nil {
		return infrastructure("failed to revoke access", err)
	}
	return s.annotate(ctx, actorID, recordID, "note.access_revoked", userID, relation)
}

func (s *accessService) check(ctx context.Context, recordID string, req *GrantRequest) (string, string, error) {
	if s.authz == nil {
		return "", "", invalidRequest("record authorization is disabled")
	}
	userID := strings.TrimSpace(req.UserID)
	if err := utils.ValidateActorID(userID); err != nil {
		return "", "", invalidRequest("user_id: %v", err)
	}
	relation := strings.ToLower(strings.TrimSpace(req.Relation))
	if !grantableRelations[relation] {
		return "", "", invalidRequest("relation %q cannot be granted", req.Relation)
	}
	if _, err := s.engine.GetRecord(ctx, recordID); err != nil {
		return "", "", err
	}
	return userID, relation, nil
}

// annotate 授权已经生效, 批注失败只返回错误不回滚
func (s *accessService) annotate(ctx context.Context, actorID, recordID, eventType, userID, relation string) error {
	_, err := s.engine.RecordAuditEvent(ctx, engine.AuditEventInput{
		RecordID:  recordID,
		EventType: eventType,
		ActorID:   actorID,
		Payload: map[string]interface{}{
			"user_id":  userID,
			"relation": relation,
		},
	})
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"record_id":  recordID,
			"user_id":    userID,
			"relation":   relation,
			"event_type": eventType,
		}).WithError(err).Warn("failed to audit access change")
	}
	return err
}

// writeRelation 写入权限关系, 失败不影响已提交的状态转换
func writeRelation(ctx context.Context, authz auth.Authorizer, logger *logrus.Logger, userID, relation, recordID string) {
	userID = strings.TrimSpace(userID)
	if authz == nil || userID == "" {
		return
	}
	if err := authz.SetRelation(ctx, userID, relation, auth.ObjectRecord, recordID); err != nil {
		if logger == nil {
			logger = logrus.StandardLogger()
		}
		logger.WithFields(logrus.Fields{
			"record_id": recordID,
			"user_id":   userID,
			"relation":  relation,
		}).WithError(err).Warn("failed to write authorization tuple")
	}
}
