package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mautops/qms-gin/internal/auth"
	"github.com/mautops/qms-gin/internal/blob"
	"github.com/mautops/qms-gin/internal/engine"
	"github.com/mautops/qms-gin/internal/lifecycle"
	"github.com/mautops/qms-gin/internal/model"
	"github.com/mautops/qms-gin/internal/repository"
	"github.com/sirupsen/logrus"
)

// RecordService 受控记录服务接口
type RecordService interface {
	Create(ctx context.Context, actorID string, req *CreateRecordRequest) (*engine.Result, error)
	Get(ctx context.Context, recordID string) (*RecordDetail, error)
	List(ctx context.Context, filter *RecordListFilter) (*RecordListResponse, error)
	Supersede(ctx context.Context, actorID, recordID string, req *SupersedeRequest) (*engine.Result, error)

	GetVersion(ctx context.Context, versionID string) (*model.VersionModel, error)
	ListVersions(ctx context.Context, recordID string) ([]*model.VersionModel, error)
	ListApprovals(ctx context.Context, versionID string) ([]*model.ApprovalEventModel, error)
	EditDraft(ctx context.Context, actorID, versionID string, req *EditDraftRequest) (*engine.Result, error)
	Submit(ctx context.Context, actorID, versionID string, req *SubmitRequest) (*engine.Result, error)
	Sign(ctx context.Context, actorID, versionID string, req *SignRequest) (*engine.Result, error)
	Activate(ctx context.Context, actorID, versionID string, req *ActivateRequest) (*engine.Result, error)
	Retire(ctx context.Context, actorID, versionID string, req *RetireRequest) (*engine.Result, error)
	Redline(ctx context.Context, fromVersionID, toVersionID string) (*Redline, error)
}

// CreateRecordRequest 创建记录请求
// @Description 创建受控记录及其第一个草稿版本
type CreateRecordRequest struct {
	Kind       string          `json:"kind" example:"document" binding:"required"` // document/capa/audit
	Prefix     string          `json:"prefix" example:"SOP"`                       // 文档前缀
	Title      string          `json:"title" example:"Cleanroom gowning" binding:"required"`
	Payload    json.RawMessage `json:"payload"`     // 版本元数据, JSON 对象
	Content    []byte          `json:"content"`     // 文件内容, base64
	ContentRef string          `json:"content_ref"` // 已上传文件的引用
	OwnerID    string          `json:"owner_id"`    // 为空时为当前用户

	CapaType    string     `json:"capa_type" example:"corrective"`
	CapaDueDate *time.Time `json:"capa_due_date"`
}

// SupersedeRequest 创建新版本请求
type SupersedeRequest struct {
	Payload          json.RawMessage `json:"payload"`
	Content          []byte          `json:"content"`
	ContentRef       string          `json:"content_ref"`
	ExpectedRevision int64           `json:"expected_revision"`
}

// EditDraftRequest 编辑草稿请求
type EditDraftRequest struct {
	Payload          json.RawMessage `json:"payload"`
	Content          []byte          `json:"content"`
	ContentRef       *string         `json:"content_ref"`
	ExpectedRevision int64           `json:"expected_revision"`
}

// SubmitRequest 提交审批请求
type SubmitRequest struct {
	RequiredSigners  []string `json:"required_signers" binding:"required"`
	ExpectedRevision int64    `json:"expected_revision"`
}

// SignRequest 电子签名请求
// SignatureConfirmed 表示签名人已经重新确认身份
type SignRequest struct {
	Decision           string `json:"decision" example:"approved" binding:"required"` // approved/rejected
	Comment            string `json:"comment"`
	SignatureConfirmed bool   `json:"signature_confirmed"`
	ExpectedRevision   int64  `json:"expected_revision"`
}

// ActivateRequest 生效请求
type ActivateRequest struct {
	EffectiveDate    time.Time `json:"effective_date" binding:"required"`
	ExpectedRevision int64     `json:"expected_revision"`
}

// RetireRequest 废止请求
type RetireRequest struct {
	Reason           string `json:"reason" binding:"required"`
	ExpectedRevision int64  `json:"expected_revision"`
}

// RecordDetail 记录详情
type RecordDetail struct {
	Record    *model.RecordModel         `json:"record"`
	Current   *model.VersionModel        `json:"current_version"`
	Published *model.VersionModel        `json:"published_version,omitempty"`
	Schedule  *model.ReviewScheduleModel `json:"schedule,omitempty"`
}

// RecordListFilter 记录列表查询过滤器
type RecordListFilter struct {
	Kind     string
	State    string
	OwnerID  string
	Prefix   string
	Flagged  *bool
	Page     int
	PageSize int
	SortBy   string
	Order    string // asc/desc
}

// RecordListResponse 记录列表响应
type RecordListResponse struct {
	Data       []*model.RecordModel `json:"data"`
	Pagination PaginationInfo       `json:"pagination"`
}

// PaginationInfo 分页信息
type PaginationInfo struct {
	Page      int   `json:"page"`
	PageSize  int   `json:"page_size"`
	Total     int64 `json:"total"`
	TotalPage int   `json:"total_page"`
}

// recordService 受控记录服务实现
type recordService struct {
	engine *engine.Engine
	blobs  blob.Store
	authz  auth.Authorizer
	logger *logrus.Logger
}

// NewRecordService 创建受控记录服务, authz 为空时不写入权限关系
func NewRecordService(eng *engine.Engine, blobs blob.Store, logger *logrus.Logger, authz ...auth.Authorizer) RecordService {
	var a auth.Authorizer
	if len(authz) > 0 {
		a = authz[0]
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &recordService{
		engine: eng,
		blobs:  blobs,
		authz:  a,
		logger: logger,
	}
}

// Create 创建记录
func (s *recordService) Create(ctx context.Context, actorID string, req *CreateRecordRequest) (*engine.Result, error) {
	// 1. 解析类别
	kind, err := lifecycle.ParseRecordKind(req.Kind)
	if err != nil {
		return nil, invalidRequest("kind: %v", err)
	}

	// 2. 保存文件内容
	contentRef, err := resolveContent(ctx, s.blobs, req.Content, req.ContentRef)
	if err != nil {
		return nil, err
	}

	// 3. 调用引擎创建
	res, err := s.engine.CreateRecord(ctx, engine.CreateRecordInput{
		Kind:        kind,
		Prefix:      req.Prefix,
		Title:       req.Title,
		Payload:     req.Payload,
		ContentRef:  contentRef,
		OwnerID:     req.OwnerID,
		ActorID:     actorID,
		CapaType:    lifecycle.CapaType(strings.ToLower(strings.TrimSpace(req.CapaType))),
		CapaDueDate: req.CapaDueDate,
	})
	if err != nil {
		return nil, err
	}

	// 4. 设置权限关系, 失败不影响已提交的记录
	s.grant(ctx, res.Record.OwnerID, auth.RelationOwner, res.Record.RecordID)
	if res.Record.OwnerID != strings.TrimSpace(actorID) {
		s.grant(ctx, actorID, auth.RelationEditor, res.Record.RecordID)
	}
	return res, nil
}

// Get 读取记录详情
func (s *recordService) Get(ctx context.Context, recordID string) (*RecordDetail, error) {
	rec, err := s.engine.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	detail := &RecordDetail{Record: rec}

	if detail.Current, err = s.engine.GetCurrentVersion(ctx, recordID); err != nil {
		return nil, err
	}
	if rec.PublishedVersionID != nil {
		if detail.Published, err = s.engine.GetPublishedVersion(ctx, recordID); err != nil {
			return nil, err
		}
	}
	schedule, err := s.engine.GetSchedule(ctx, recordID)
	switch {
	case err == nil:
		detail.Schedule = schedule
	case engine.CodeOf(err) != engine.CodeNoActiveSchedule:
		return nil, err
	}
	return detail, nil
}

// List 列出记录
func (s *recordService) List(ctx context.Context, filter *RecordListFilter) (*RecordListResponse, error) {
	if filter == nil {
		filter = &RecordListFilter{}
	}
	repoFilter := &repository.RecordFilter{
		Flagged:  filter.Flagged,
		Page:     filter.Page,
		PageSize: filter.PageSize,
		SortBy:   filter.SortBy,
		Order:    filter.Order,
	}
	if filter.Kind != "" {
		repoFilter.Kind = &filter.Kind
	}
	if filter.State != "" {
		repoFilter.State = &filter.State
	}
	if filter.OwnerID != "" {
		repoFilter.OwnerID = &filter.OwnerID
	}
	if filter.Prefix != "" {
		prefix := strings.ToUpper(filter.Prefix)
		repoFilter.Prefix = &prefix
	}

	records, total, err := s.engine.ListRecords(ctx, repoFilter)
	if err != nil {
		return nil, err
	}
	return &RecordListResponse{
		Data:       records,
		Pagination: pagination(repoFilter.Page, repoFilter.PageSize, total),
	}, nil
}

// Supersede 创建新版本
func (s *recordService) Supersede(ctx context.Context, actorID, recordID string, req *SupersedeRequest) (*engine.Result, error) {
	contentRef, err := resolveContent(ctx, s.blobs, req.Content, req.ContentRef)
	if err != nil {
		return nil, err
	}
	return s.engine.Supersede(ctx, engine.SupersedeInput{
		RecordID:         recordID,
		Payload:          req.Payload,
		ContentRef:       contentRef,
		ActorID:          actorID,
		ExpectedRevision: req.ExpectedRevision,
	})
}

// GetVersion 读取版本
func (s *recordService) GetVersion(ctx context.Context, versionID string) (*model.VersionModel, error) {
	return s.engine.GetVersion(ctx, versionID)
}

// ListVersions 列出记录的版本
func (s *recordService) ListVersions(ctx context.Context, recordID string) ([]*model.VersionModel, error) {
	return s.engine.ListVersions(ctx, recordID)
}

// ListApprovals 列出版本的签名
func (s *recordService) ListApprovals(ctx context.Context, versionID string) ([]*model.ApprovalEventModel, error) {
	return s.engine.ListApprovals(ctx, versionID)
}

// EditDraft 编辑草稿
func (s *recordService) EditDraft(ctx context.Context, actorID, versionID string, req *EditDraftRequest) (*engine.Result, error) {
	contentRef := req.ContentRef
	if len(req.Content) > 0 {
		ref, err := resolveContent(ctx, s.blobs, req.Content, "")
		if err != nil {
			return nil, err
		}
		contentRef = &ref
	} else if contentRef != nil && *contentRef != "" {
		if _, err := resolveContent(ctx, s.blobs, nil, *contentRef); err != nil {
			return nil, err
		}
	}
	return s.engine.EditDraft(ctx, engine.EditDraftInput{
		VersionID:        versionID,
		Payload:          req.Payload,
		ContentRef:       contentRef,
		ActorID:          actorID,
		ExpectedRevision: req.ExpectedRevision,
	})
}

// Submit 提交审批, 并为签名人授予审批关系
func (s *recordService) Submit(ctx context.Context, actorID, versionID string, req *SubmitRequest) (*engine.Result, error) {
	res, err := s.engine.SubmitForReview(ctx, engine.SubmitForReviewInput{
		VersionID:        versionID,
		RequiredSigners:  req.RequiredSigners,
		ActorID:          actorID,
		ExpectedRevision: req.ExpectedRevision,
	})
	if err != nil {
		return nil, err
	}
	for _, signer := range res.Version.RequiredSigners {
		s.grant(ctx, signer, auth.RelationApprover, res.Record.RecordID)
	}
	return res, nil
}

// Sign 签名, 签名人为当前用户
func (s *recordService) Sign(ctx context.Context, actorID, versionID string, req *SignRequest) (*engine.Result, error) {
	return s.engine.SignApproval(ctx, engine.SignApprovalInput{
		VersionID:          versionID,
		SignerID:           actorID,
		Decision:           lifecycle.Decision(strings.ToLower(strings.TrimSpace(req.Decision))),
		Comment:            req.Comment,
		SignatureConfirmed: req.SignatureConfirmed,
		ExpectedRevision:   req.ExpectedRevision,
	})
}

// Activate 生效
func (s *recordService) Activate(ctx context.Context, actorID, versionID string, req *ActivateRequest) (*engine.Result, error) {
	return s.engine.Activate(ctx, engine.ActivateInput{
		VersionID:        versionID,
		EffectiveDate:    req.EffectiveDate,
		ActorID:          actorID,
		ExpectedRevision: req.ExpectedRevision,
	})
}

// Retire 废止
func (s *recordService) Retire(ctx context.Context, actorID, versionID string, req *RetireRequest) (*engine.Result, error) {
	return s.engine.Retire(ctx, engine.RetireInput{
		VersionID:        versionID,
		Reason:           req.Reason,
		ActorID:          actorID,
		ExpectedRevision: req.ExpectedRevision,
	})
}

// grant 写入权限关系
func (s *recordService) grant(ctx context.Context, userID, relation, recordID string) {
	writeRelation(ctx, s.authz, s.logger, userID, relation, recordID)
}

// pagination 计算分页信息
func pagination(page, pageSize int, total int64) PaginationInfo {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	totalPage := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPage++
	}
	return PaginationInfo{
		Page:      page,
		PageSize:  pageSize,
		Total:     total,
		TotalPage: totalPage,
	}
}

// invalidRequest 构造参数错误
func invalidRequest(format string, args ...interface{}) error {
	return &engine.Error{
		Kind:    engine.KindValidation,
		Code:    engine.CodeInvalidPayload,
		Message: fmt.Sprintf(format, args...),
	}
}

// infrastructure 构造基础设施错误, 原因不返回给客户端
func infrastructure(message string, err error) error {
	return &engine.Error{
		Kind:    engine.KindInfrastructure,
		Code:    engine.CodeInternal,
		Message: message,
		Err:     err,
	}
}
