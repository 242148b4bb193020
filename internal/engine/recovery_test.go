package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mautops/qms-gin/internal/audit"
	"github.com/mautops/qms-gin/internal/lifecycle"
	"github.com/mautops/qms-gin/internal/model"
	"github.com/mautops/qms-gin/internal/notify"
	"github.com/mautops/qms-gin/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errCrash = errors.New("simulated crash")

// TestJournalReplay_OnRead 两个事务之间崩溃, 下一次读取时重放
func TestJournalReplay_OnRead(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	res := f.createSOP(t)

	f.engine.beforeApply = func(string) error { return errCrash }
	_, err := f.engine.SubmitForReview(ctx, SubmitForReviewInput{
		VersionID: res.Version.ID, RequiredSigners: []string{"bob"}, ActorID: "alice", ExpectedRevision: 1,
	})
	require.Error(t, err)
	assert.Equal(t, KindInfrastructure, KindOf(err))
	assert.ErrorIs(t, err, errCrash)
	assert.ErrorIs(t, err, ErrTransitionJournaled)
	assert.Contains(t, err.Error(), "will be replayed on the next read")
	f.engine.beforeApply = nil

	// 存储中记录仍被占用, 版本尚未变化
	raw, err := repository.NewRecordRepository(f.db).FindByID(res.Record.RecordID)
	require.NoError(t, err)
	require.NotNil(t, raw.PendingJournalID)
	assert.Equal(t, string(lifecycle.VersionDraft), raw.State)
	rawVersion, err := repository.NewVersionRepository(f.db).FindByID(res.Version.ID)
	require.NoError(t, err)
	assert.Equal(t, string(lifecycle.VersionDraft), rawVersion.State)

	// 审计日志已经先于状态写入
	logged, err := repository.NewAuditEntryRepository(f.db).FindPage(res.Record.RecordID, 0, 10)
	require.NoError(t, err)
	require.Len(t, logged, 2)
	assert.Equal(t, notify.EventVersionSubmitted, logged[1].EventType)
	assert.Equal(t, *raw.PendingJournalID, logged[1].JournalID)

	rec, err := f.engine.GetRecord(ctx, res.Record.RecordID)
	require.NoError(t, err)
	assert.Nil(t, rec.PendingJournalID)
	assert.Equal(t, string(lifecycle.VersionInReview), rec.State)
	assert.Equal(t, int64(2), rec.Revision)

	v, err := f.engine.GetVersion(ctx, res.Version.ID)
	require.NoError(t, err)
	assert.Equal(t, string(lifecycle.VersionInReview), v.State)

	// 重放后可以继续转换
	res, err = f.engine.SignApproval(ctx, SignApprovalInput{
		VersionID: v.ID, SignerID: "bob", Decision: lifecycle.DecisionApproved, SignatureConfirmed: true, ExpectedRevision: rec.Revision,
	})
	require.NoError(t, err)
	assert.Equal(t, string(lifecycle.VersionApproved), res.Version.State)
}

// TestJournalReplay_CreateAndRecoverPending 创建时崩溃, 启动恢复重放
func TestJournalReplay_CreateAndRecoverPending(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	f.engine.beforeApply = func(string) error { return errCrash }
	_, err := f.engine.CreateRecord(ctx, CreateRecordInput{Kind: lifecycle.KindDocument, Prefix: "SOP", Title: "Crashed", ActorID: "alice"})
	require.Error(t, err)
	f.engine.beforeApply = nil

	// 占位记录没有版本
	versions, err := repository.NewVersionRepository(f.db).FindByRecordID("SOP-2025-001")
	require.NoError(t, err)
	assert.Empty(t, versions)

	n, err := f.engine.RecoverPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	current, err := f.engine.GetCurrentVersion(ctx, "SOP-2025-001")
	require.NoError(t, err)
	assert.Equal(t, 1, current.VersionNumber)
	assert.Equal(t, string(lifecycle.VersionDraft), current.State)

	n, err = f.engine.RecoverPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// TestJournalReplay_ActivateKeepsSingleEffective 生效时崩溃, 重放后仍只有一个 Effective 版本
func TestJournalReplay_ActivateKeepsSingleEffective(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	res := f.activate(t, f.approve(t, f.createSOP(t)))
	res, err := f.engine.Supersede(ctx, SupersedeInput{RecordID: res.Record.RecordID, ActorID: "alice", ExpectedRevision: res.Record.Revision})
	require.NoError(t, err)
	res = f.approve(t, res)

	f.engine.beforeApply = func(string) error { return errCrash }
	_, err = f.engine.Activate(ctx, ActivateInput{VersionID: res.Version.ID, EffectiveDate: f.clock.Now(), ActorID: "alice", ExpectedRevision: res.Record.Revision})
	require.Error(t, err)
	f.engine.beforeApply = nil

	// 崩溃窗口内存储中仍是旧的 Effective 版本
	assert.Equal(t, int64(1), f.countEffective(t, res.Record.RecordID))
	published, err := f.engine.GetPublishedVersion(ctx, res.Record.RecordID)
	require.NoError(t, err)
	assert.Equal(t, res.Version.ID, published.ID)
	assert.Equal(t, int64(1), f.countEffective(t, res.Record.RecordID))
	assert.Equal(t, 2, published.VersionNumber)
}

// crashAfterSubmit 提交审批在两个事务之间崩溃, 返回遗留的事务日志 ID
func (f *fixture) crashAfterSubmit(t *testing.T, res *Result) string {
	t.Helper()
	f.engine.beforeApply = func(string) error { return errCrash }
	_, err := f.engine.SubmitForReview(context.Background(), SubmitForReviewInput{
		VersionID: res.Version.ID, RequiredSigners: []string{"bob"}, ActorID: "alice", ExpectedRevision: res.Record.Revision,
	})
	require.ErrorIs(t, err, errCrash)
	f.engine.beforeApply = nil

	raw, err := repository.NewRecordRepository(f.db).FindByID(res.Record.RecordID)
	require.NoError(t, err)
	require.NotNil(t, raw.PendingJournalID)
	return *raw.PendingJournalID
}

func (f *fixture) tamperSubmission(t *testing.T, recordID string) {
	t.Helper()
	require.NoError(t, f.db.Model(&model.AuditEntryModel{}).
		Where("record_id = ? AND event_type = ?", recordID, notify.EventVersionSubmitted).
		Update("actor_id", "mallory").Error)
}

// TestRecoverPending_TamperedAuditRollsBack 审计链被篡改的 pending 日志不重放
func TestRecoverPending_TamperedAuditRollsBack(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	res := f.createSOP(t)
	journalID := f.crashAfterSubmit(t, res)
	f.tamperSubmission(t, res.Record.RecordID)

	n, err := f.engine.RecoverPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	entry, err := f.engine.journal.Get(ctx, journalID)
	require.NoError(t, err)
	assert.Equal(t, model.JournalRolledBack, entry.Status)
	assert.NotEmpty(t, entry.Error)

	raw, err := repository.NewRecordRepository(f.db).FindByID(res.Record.RecordID)
	require.NoError(t, err)
	assert.Nil(t, raw.PendingJournalID)
	assert.True(t, raw.IntegrityFlag)
	assert.Equal(t, string(lifecycle.VersionDraft), raw.State)
	assert.Equal(t, int64(1), raw.Revision)

	v, err := repository.NewVersionRepository(f.db).FindByID(res.Version.ID)
	require.NoError(t, err)
	assert.Equal(t, string(lifecycle.VersionDraft), v.State)

	// 被隔离的记录拒绝后续转换, 其他记录不受影响
	_, err = f.engine.EditDraft(ctx, EditDraftInput{
		VersionID: res.Version.ID, Payload: json.RawMessage(`{"title":"x"}`), ActorID: "alice", ExpectedRevision: 1,
	})
	require.Error(t, err)
	assert.Equal(t, KindIntegrity, KindOf(err))
	assert.Equal(t, "SOP-2025-002", f.createSOP(t).Record.RecordID)
	assert.Contains(t, f.notifier.types(), notify.EventIntegrityViolation)
}

// TestJournalReplay_OnReadTamperedAudit 读取时发现审计链被篡改, 回滚而不是重放
func TestJournalReplay_OnReadTamperedAudit(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	res := f.createSOP(t)
	journalID := f.crashAfterSubmit(t, res)
	f.tamperSubmission(t, res.Record.RecordID)

	rec, err := f.engine.GetRecord(ctx, res.Record.RecordID)
	require.NoError(t, err)
	assert.True(t, rec.IntegrityFlag)
	assert.Nil(t, rec.PendingJournalID)
	assert.Equal(t, string(lifecycle.VersionDraft), rec.State)

	entry, err := f.engine.journal.Get(ctx, journalID)
	require.NoError(t, err)
	assert.Equal(t, model.JournalRolledBack, entry.Status)
}

// TestTamperDetection 篡改审计日志后记录被隔离
func TestTamperDetection(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	res := f.createSOP(t)
	res, err := f.engine.SubmitForReview(ctx, SubmitForReviewInput{
		VersionID: res.Version.ID, RequiredSigners: []string{"bob"}, ActorID: "alice", ExpectedRevision: 1,
	})
	require.NoError(t, err)

	n, err := f.engine.VerifyHistory(ctx, res.Record.RecordID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, f.db.Model(&model.AuditEntryModel{}).
		Where("record_id = ? AND event_type = ?", res.Record.RecordID, notify.EventVersionSubmitted).
		Update("actor_id", "mallory").Error)

	h, err := f.engine.QueryHistory(ctx, res.Record.RecordID, 0)
	require.NoError(t, err)
	entries, err := h.Collect()
	require.Error(t, err)
	assert.Len(t, entries, 1)
	assert.ErrorIs(t, err, ErrAuditHashMismatch)
	assert.Equal(t, KindIntegrity, KindOf(err))

	// 游标可以重置后重新读取, 结果相同
	h.Reset()
	require.True(t, h.Next())
	assert.False(t, h.Next())
	assert.ErrorIs(t, h.Err(), ErrAuditHashMismatch)

	rec, err := f.engine.GetRecord(ctx, res.Record.RecordID)
	require.NoError(t, err)
	assert.True(t, rec.IntegrityFlag)
	assert.Equal(t, string(CodeAuditHashMismatch), rec.IntegrityReason)

	// 隔离只影响该记录
	_, err = f.engine.SignApproval(ctx, SignApprovalInput{
		VersionID: res.Version.ID, SignerID: "bob", Decision: lifecycle.DecisionApproved, SignatureConfirmed: true, ExpectedRevision: rec.Revision,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuditHashMismatch)
	other := f.createSOP(t)
	assert.Equal(t, "SOP-2025-002", other.Record.RecordID)

	assert.Contains(t, f.notifier.types(), notify.EventIntegrityViolation)
}

// TestRecordAuditEvent 显式 entry_id 为一次写入键
func TestRecordAuditEvent(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	res := f.createSOP(t)

	entry, err := f.engine.RecordAuditEvent(ctx, AuditEventInput{
		EntryID: 100, RecordID: res.Record.RecordID, EventType: "note.training_assigned",
		Payload: map[string]interface{}{"group": "line 3"}, ActorID: "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), entry.EntryID)
	assert.Equal(t, string(lifecycle.VersionDraft), entry.AfterState)

	_, err = f.engine.RecordAuditEvent(ctx, AuditEventInput{
		EntryID: 100, RecordID: res.Record.RecordID, EventType: "note.training_assigned", ActorID: "alice",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateEntryID)

	_, err = f.engine.RecordAuditEvent(ctx, AuditEventInput{RecordID: res.Record.RecordID, EventType: "version.approved", ActorID: "alice"})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = f.engine.RecordAuditEvent(ctx, AuditEventInput{RecordID: "SOP-2099-999", EventType: "note.x", ActorID: "alice"})
	assert.ErrorIs(t, err, ErrRecordNotFound)

	// 批注不改变修订号, 之后的自动编号继续递增
	rec, err := f.engine.GetRecord(ctx, res.Record.RecordID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Revision)

	next, err := f.engine.RecordAuditEvent(ctx, AuditEventInput{RecordID: res.Record.RecordID, EventType: "note.comment", ActorID: "bob"})
	require.NoError(t, err)
	assert.Equal(t, int64(101), next.EntryID)

	n, err := f.engine.VerifyHistory(ctx, res.Record.RecordID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

// TestEffectivenessThreshold_HotReload 测试阈值热更新
func TestEffectivenessThreshold_HotReload(t *testing.T) {
	f := setupEngine(t)
	assert.Equal(t, 70, f.engine.EffectivenessThreshold())

	f.engine.SetEffectivenessThreshold(55)
	assert.Equal(t, 55, f.engine.EffectivenessThreshold())

	f.engine.SetEffectivenessThreshold(150)
	assert.Equal(t, 55, f.engine.EffectivenessThreshold())
}

// TestNumberFormat 测试编号格式
func TestNumberFormat(t *testing.T) {
	at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "SOP-2025-014", formatNumber("{PREFIX}-{YEAR}-{SEQ:3}", "SOP", at, 14))
	assert.Equal(t, "CAPA-0042", formatNumber("CAPA-{SEQ:4}", "CAPA", at, 42))
	assert.Equal(t, "SOP-2025-1000", formatNumber("{PREFIX}-{YEAR}-{SEQ:3}", "SOP", at, 1000))
	assert.Equal(t, "AUD-7", formatNumber("AUD-{SEQ}", "AUD", at, 7))

	assert.Equal(t, "SOP-2025", numberScope("{PREFIX}-{YEAR}-{SEQ:3}", "SOP", at))
	assert.Equal(t, "CAPA", numberScope("CAPA-{SEQ:4}", "CAPA", at))

	assert.NoError(t, validateNumberFormat("{PREFIX}-{SEQ}"))
	assert.Error(t, validateNumberFormat("{PREFIX}-{YEAR}"))
}

// TestErrors 测试错误匹配
func TestErrors(t *testing.T) {
	err := newError(ErrStateConflict, "record %s is at revision %d", "SOP-2025-001", 3)
	assert.ErrorIs(t, err, ErrStateConflict)
	assert.NotErrorIs(t, err, ErrDuplicateIdentifier)
	assert.Equal(t, KindConcurrency, KindOf(err))
	assert.Contains(t, err.Error(), "StateConflict")

	cause := errors.New("connection refused")
	wrapped := infra(cause, "failed to load record")
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, CodeInternal, CodeOf(wrapped))
	assert.Equal(t, KindInfrastructure, KindOf(errors.New("plain")))

	flagged := integrityError("SOP-2025-001", "JournalRolledBack")
	assert.ErrorIs(t, flagged, ErrJournalRolledBack)
}

// TestTranslateAudit 测试审计写入错误的分类
func TestTranslateAudit(t *testing.T) {
	tests := []struct {
		err  error
		want *Error
	}{
		{audit.ErrDuplicateEntryID, ErrDuplicateEntryID},
		{audit.ErrOutOfOrder, ErrDuplicateEntryID},
		{&audit.MismatchError{RecordID: "SOP-2025-001", EntryID: 3, Reason: "broken chain link"}, ErrAuditHashMismatch},
		{fmt.Errorf("%w: %d", audit.ErrEntryIDConflict, 12), ErrStateConflict},
		{errors.New("disk full"), &Error{Kind: KindInfrastructure, Code: CodeInternal}},
	}
	for _, tt := range tests {
		got := translateAudit(tt.err)
		assert.ErrorIs(t, got, tt.want, tt.err.Error())
		assert.Equal(t, tt.want.Kind, KindOf(got), tt.err.Error())
		assert.ErrorIs(t, got, tt.err)
	}
}
