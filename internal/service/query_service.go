package service

import (
	"context"
	"strings"
	"time"

	"github.com/mautops/qms-gin/internal/engine"
	"github.com/mautops/qms-gin/internal/model"
)

// QueryService 审计历史与复审计划查询服务接口
type QueryService interface {
	History(ctx context.Context, recordID string, filter *HistoryFilter) (*HistoryPage, error)
	Verify(ctx context.Context, recordID string) (*VerifyResult, error)
	GetSchedule(ctx context.Context, recordID string) (*model.ReviewScheduleModel, error)
	CompleteReview(ctx context.Context, actorID, recordID string, req *CompleteReviewRequest) (*engine.Result, error)
}

// HistoryFilter 审计历史过滤器
type HistoryFilter struct {
	AfterEntryID int64  // 只返回该条目之后的日志
	EventType    string // 前缀匹配, 如 version. 或 capa.
	Limit        int
}

// HistoryPage 审计历史分页
type HistoryPage struct {
	RecordID string                   `json:"record_id"`
	Entries  []*model.AuditEntryModel `json:"entries"`
	// NextAfter 不为 0 时还有更多日志
	NextAfter int64 `json:"next_after,omitempty"`
}

// VerifyResult 哈希链校验结果
type VerifyResult struct {
	RecordID   string    `json:"record_id"`
	Entries    int       `json:"entries"`
	Valid      bool      `json:"valid"`
	VerifiedAt time.Time `json:"verified_at"`
}

// CompleteReviewRequest 完成周期复审请求
type CompleteReviewRequest struct {
	ReviewedAt       *time.Time `json:"reviewed_at"` // 为空时为当前时间
	Comment          string     `json:"comment"`
	ExpectedRevision int64      `json:"expected_revision"`
}

// queryService 查询服务实现
type queryService struct {
	engine *engine.Engine
}

// NewQueryService 创建查询服务
func NewQueryService(eng *engine.Engine) QueryService {
	return &queryService{engine: eng}
}

// History 按顺序读取审计历史, 读取过程中逐条校验哈希链
func (s *queryService) History(ctx context.Context, recordID string, filter *HistoryFilter) (*HistoryPage, error) {
	if filter == nil {
		filter = &HistoryFilter{}
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	h, err := s.engine.QueryHistory(ctx, recordID, limit)
	if err != nil {
		return nil, err
	}

	page := &HistoryPage{RecordID: recordID, Entries: []*model.AuditEntryModel{}}
	for h.Next() {
		entry := h.Entry()
		if entry.EntryID <= filter.AfterEntryID {
			continue
		}
		if filter.EventType != "" && !strings.HasPrefix(entry.EventType, filter.EventType) {
			continue
		}
		if len(page.Entries) == limit {
			page.NextAfter = page.Entries[limit-1].EntryID
			break
		}
		page.Entries = append(page.Entries, entry)
	}
	if err := h.Err(); err != nil {
		return nil, err
	}
	return page, nil
}

// Verify 校验整条哈希链
// 校验失败时记录已被隔离, 返回完整性错误
func (s *queryService) Verify(ctx context.Context, recordID string) (*VerifyResult, error) {
	n, err := s.engine.VerifyHistory(ctx, recordID)
	if err != nil {
		return nil, err
	}
	return &VerifyResult{
		RecordID:   recordID,
		Entries:    n,
		Valid:      true,
		VerifiedAt: time.Now().UTC(),
	}, nil
}

// GetSchedule 读取复审计划
func (s *queryService) GetSchedule(ctx context.Context, recordID string) (*model.ReviewScheduleModel, error) {
	return s.engine.GetSchedule(ctx, recordID)
}

// CompleteReview 完成周期复审
func (s *queryService) CompleteReview(ctx context.Context, actorID, recordID string, req *CompleteReviewRequest) (*engine.Result, error) {
	in := engine.CompleteReviewInput{
		RecordID:         recordID,
		Comment:          req.Comment,
		ActorID:          actorID,
		ExpectedRevision: req.ExpectedRevision,
	}
	if req.ReviewedAt != nil {
		in.ReviewedAt = *req.ReviewedAt
	}
	return s.engine.CompletePeriodicReview(ctx, in)
}
