package engine

import (
	"context"
	"regexp"
	"strings"

	"github.com/mautops/qms-gin/internal/audit"
	"github.com/mautops/qms-gin/internal/model"
	"github.com/mautops/qms-gin/internal/utils"
)

// History 记录审计历史的游标, 错误已转换为引擎错误
type History struct {
	cursor *audit.HistoryCursor
}

// Next 前进到下一条
func (h *History) Next() bool {
	return h.cursor.Next()
}

// Entry 当前日志
func (h *History) Entry() *model.AuditEntryModel {
	return h.cursor.Entry()
}

// Err 遍历中的错误, 哈希不一致时为 AuditHashMismatch
func (h *History) Err() error {
	if err := h.cursor.Err(); err != nil {
		return translateAudit(err)
	}
	return nil
}

// Reset 从头重新遍历
func (h *History) Reset() {
	h.cursor.Reset()
}

// Collect 读取剩余全部日志
func (h *History) Collect() ([]*model.AuditEntryModel, error) {
	entries, err := h.cursor.Collect()
	if err != nil {
		return entries, translateAudit(err)
	}
	return entries, nil
}

// QueryHistory 返回记录的审计历史, 按 entry_id 升序
func (e *Engine) QueryHistory(ctx context.Context, recordID string, pageSize int) (*History, error) {
	if _, err := e.loadRecord(ctx, recordID, false); err != nil {
		return nil, err
	}
	return &History{cursor: e.recorder.QueryHistory(ctx, recordID).WithPageSize(pageSize)}, nil
}

// VerifyHistory 校验记录的完整哈希链, 返回校验通过的条数
func (e *Engine) VerifyHistory(ctx context.Context, recordID string) (int, error) {
	h, err := e.QueryHistory(ctx, recordID, 0)
	if err != nil {
		return 0, err
	}
	n := 0
	for h.Next() {
		n++
	}
	return n, h.Err()
}

// AuditEventInput 追加审计批注参数
type AuditEventInput struct {
	EntryID   int64 // 为 0 时自动分配
	RecordID  string
	VersionID string
	EventType string
	Payload   map[string]interface{}
	ActorID   string
}

var annotationType = regexp.MustCompile(`^note(\.[a-z][a-z0-9_]*)+$`)

// RecordAuditEvent 在记录上追加一条不改变状态的审计批注
// 显式 entry_id 已存在时返回 DuplicateEntryID
func (e *Engine) RecordAuditEvent(ctx context.Context, in AuditEventInput) (entry *model.AuditEntryModel, err error) {
	defer func() { e.observe("record_audit_event", in.RecordID, err) }()

	if err := utils.ValidateActorID(in.ActorID); err != nil {
		return nil, invalid("actor: %v", err)
	}
	eventType := strings.TrimSpace(in.EventType)
	if !annotationType.MatchString(eventType) {
		return nil, invalid("annotation event type %q must look like note.<name>", eventType)
	}
	if in.EntryID < 0 {
		return nil, invalid("entry id must be positive")
	}

	unlock := e.locks.Lock(in.RecordID)
	defer unlock()

	rec, err := e.loadRecord(ctx, in.RecordID, true)
	if err != nil {
		return nil, err
	}
	if rec.IntegrityFlag {
		return nil, integrityError(rec.RecordID, rec.IntegrityReason)
	}

	entry, err = e.recorder.Record(ctx, audit.Entry{
		EntryID:     in.EntryID,
		RecordID:    rec.RecordID,
		VersionID:   in.VersionID,
		ActorID:     strings.TrimSpace(in.ActorID),
		EventType:   eventType,
		BeforeState: rec.State,
		AfterState:  rec.State,
		Payload:     in.Payload,
		Timestamp:   e.now().UTC(),
	})
	if err != nil {
		return nil, translateAudit(err)
	}
	return entry, nil
}
