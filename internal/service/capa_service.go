package service

import (
	"context"
	"strings"
	"time"

	"github.com/mautops/qms-gin/internal/auth"
	"github.com/mautops/qms-gin/internal/blob"
	"github.com/mautops/qms-gin/internal/engine"
	"github.com/mautops/qms-gin/internal/lifecycle"
	"github.com/mautops/qms-gin/internal/model"
)

// CapaService CAPA 服务接口
type CapaService interface {
	Get(ctx context.Context, capaID string) (*engine.CapaView, error)
	GetAction(ctx context.Context, actionID string) (*model.CapaActionModel, error)
	AddAction(ctx context.Context, actorID, capaID string, req *AddActionRequest) (*engine.Result, error)
	Start(ctx context.Context, actorID, capaID string, req *RevisionRequest) (*engine.Result, error)
	AddEvidence(ctx context.Context, actorID, actionID string, req *AddEvidenceRequest) (*engine.Result, error)
	VerifyAction(ctx context.Context, actorID, actionID string, req *VerifyActionRequest) (*engine.Result, error)
	MarkReady(ctx context.Context, actorID, capaID string, req *RevisionRequest) (*engine.Result, error)
	Close(ctx context.Context, actorID, capaID string, req *CloseCapaRequest) (*engine.Result, error)
	Cancel(ctx context.Context, actorID, capaID string, req *CancelCapaRequest) (*engine.Result, error)
}

// RevisionRequest 只携带期望修订号的请求
type RevisionRequest struct {
	ExpectedRevision int64 `json:"expected_revision"`
}

// AddActionRequest 添加措施请求
type AddActionRequest struct {
	Description      string     `json:"description" binding:"required"`
	OwnerID          string     `json:"owner_id" binding:"required"`
	DueDate          *time.Time `json:"due_date"`
	ExpectedRevision int64      `json:"expected_revision"`
}

// AddEvidenceRequest 添加证据请求, 内容与引用二选一
type AddEvidenceRequest struct {
	Description      string `json:"description"`
	Content          []byte `json:"content"`
	ContentRef       string `json:"content_ref"`
	ExpectedRevision int64  `json:"expected_revision"`
}

// VerifyActionRequest 验证措施请求, 验证人为当前用户
type VerifyActionRequest struct {
	Decision         string `json:"decision" example:"verified" binding:"required"` // verified/rejected
	Comment          string `json:"comment"`
	ExpectedRevision int64  `json:"expected_revision"`
}

// CloseCapaRequest 效果复审请求, 复审人为当前用户
type CloseCapaRequest struct {
	Score              *int   `json:"score" binding:"required"`
	VerificationMethod string `json:"verification_method" binding:"required"`
	Comment            string `json:"comment"`
	SignatureConfirmed bool   `json:"signature_confirmed"`
	ExpectedRevision   int64  `json:"expected_revision"`
}

// CancelCapaRequest 取消 CAPA 请求
type CancelCapaRequest struct {
	Reason           string `json:"reason" binding:"required"`
	ExpectedRevision int64  `json:"expected_revision"`
}

// capaService CAPA 服务实现
type capaService struct {
	engine *engine.Engine
	blobs  blob.Store
	authz  auth.Authorizer
}

// NewCapaService 创建 CAPA 服务, authz 为空时不写入权限关系
func NewCapaService(eng *engine.Engine, blobs blob.Store, authz ...auth.Authorizer) CapaService {
	s := &capaService{engine: eng, blobs: blobs}
	if len(authz) > 0 {
		s.authz = authz[0]
	}
	return s
}

// Get 读取 CAPA
func (s *capaService) Get(ctx context.Context, capaID string) (*engine.CapaView, error) {
	return s.engine.GetCapa(ctx, capaID)
}

// GetAction 读取措施
func (s *capaService) GetAction(ctx context.Context, actionID string) (*model.CapaActionModel, error) {
	return s.engine.GetAction(ctx, actionID)
}

// AddAction 添加措施, 措施负责人获得提交证据的权限
func (s *capaService) AddAction(ctx context.Context, actorID, capaID string, req *AddActionRequest) (*engine.Result, error) {
	res, err := s.engine.AddAction(ctx, engine.AddActionInput{
		CapaID:           capaID,
		Description:      req.Description,
		OwnerID:          req.OwnerID,
		DueDate:          req.DueDate,
		ActorID:          actorID,
		ExpectedRevision: req.ExpectedRevision,
	})
	if err != nil {
		return nil, err
	}
	if res.Action != nil {
		writeRelation(ctx, s.authz, nil, res.Action.OwnerID, auth.RelationActionOwner, capaID)
	}
	return res, nil
}

// Start 开始执行
func (s *capaService) Start(ctx context.Context, actorID, capaID string, req *RevisionRequest) (*engine.Result, error) {
	return s.engine.StartCapa(ctx, capaID, actorID, req.ExpectedRevision)
}

// AddEvidence 添加证据
func (s *capaService) AddEvidence(ctx context.Context, actorID, actionID string, req *AddEvidenceRequest) (*engine.Result, error) {
	contentRef, err := resolveContent(ctx, s.blobs, req.Content, req.ContentRef)
	if err != nil {
		return nil, err
	}
	return s.engine.AddEvidence(ctx, engine.AddEvidenceInput{
		ActionID:         actionID,
		Description:      req.Description,
		ContentRef:       contentRef,
		ActorID:          actorID,
		ExpectedRevision: req.ExpectedRevision,
	})
}

// VerifyAction 验证措施
func (s *capaService) VerifyAction(ctx context.Context, actorID, actionID string, req *VerifyActionRequest) (*engine.Result, error) {
	return s.engine.VerifyAction(ctx, engine.VerifyActionInput{
		ActionID:         actionID,
		VerifierID:       actorID,
		Decision:         lifecycle.VerificationDecision(strings.ToLower(strings.TrimSpace(req.Decision))),
		Comment:          req.Comment,
		ExpectedRevision: req.ExpectedRevision,
	})
}

// MarkReady 标记可以进行效果复审
func (s *capaService) MarkReady(ctx context.Context, actorID, capaID string, req *RevisionRequest) (*engine.Result, error) {
	return s.engine.MarkReady(ctx, capaID, actorID, req.ExpectedRevision)
}

// Close 效果复审并关闭
// 评分未达标时返回 EffectivenessNotDemonstrated, 同时返回已记录复审结果的状态
func (s *capaService) Close(ctx context.Context, actorID, capaID string, req *CloseCapaRequest) (*engine.Result, error) {
	if req.Score == nil {
		return nil, invalidRequest("score is required")
	}
	return s.engine.CloseCapa(ctx, engine.CloseCapaInput{
		CapaID:             capaID,
		Score:              *req.Score,
		VerificationMethod: req.VerificationMethod,
		Comment:            req.Comment,
		ReviewerID:         actorID,
		SignatureConfirmed: req.SignatureConfirmed,
		ExpectedRevision:   req.ExpectedRevision,
	})
}

// Cancel 取消 CAPA
func (s *capaService) Cancel(ctx context.Context, actorID, capaID string, req *CancelCapaRequest) (*engine.Result, error) {
	return s.engine.CancelCapa(ctx, capaID, req.Reason, actorID, req.ExpectedRevision)
}
