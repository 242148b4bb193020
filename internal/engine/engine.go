// Package engine 受控记录生命周期引擎.
//
// 每个修改操作在记录锁内完成校验, 然后分两个事务提交:
//  1. 条件更新修订号占用记录, 追加审计日志, 写入 pending 状态的变更集;
//  2. 应用变更集, 释放记录并把日志标记为 committed.
//
// 两步之间进程崩溃时, 启动恢复、recover 命令或下一次读取该记录都会重放变更集.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mautops/qms-gin/internal/audit"
	"github.com/mautops/qms-gin/internal/config"
	"github.com/mautops/qms-gin/internal/journal"
	"github.com/mautops/qms-gin/internal/lifecycle"
	"github.com/mautops/qms-gin/internal/metrics"
	"github.com/mautops/qms-gin/internal/model"
	"github.com/mautops/qms-gin/internal/notify"
	"github.com/mautops/qms-gin/internal/repository"
	"github.com/mautops/qms-gin/internal/scheduler"
	"github.com/mautops/qms-gin/internal/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Options 引擎配置
type Options struct {
	// NumberFormats 按类别的编号格式, 缺省使用 DefaultNumberFormats
	NumberFormats map[lifecycle.RecordKind]string
	// Cadence 按前缀和类别返回复审周期(天)
	Cadence func(prefix string, kind lifecycle.RecordKind) int
	// EffectivenessThreshold CAPA 效果评分阈值
	EffectivenessThreshold int
	// FollowUpDays 效果未达标时的跟进天数
	FollowUpDays int
	// CacheSize 已发布版本缓存容量
	CacheSize int

	Notifier notify.Notifier
	Logger   *logrus.Logger
	Now      func() time.Time
}

// OptionsFromConfig 由配置生成引擎配置
func OptionsFromConfig(cfg *config.Config) Options {
	formats := make(map[lifecycle.RecordKind]string, len(cfg.Lifecycle.NumberFormats))
	for kind, format := range cfg.Lifecycle.NumberFormats {
		formats[lifecycle.RecordKind(strings.ToLower(kind))] = format
	}
	lc := cfg.Lifecycle
	return Options{
		NumberFormats: formats,
		Cadence: func(prefix string, kind lifecycle.RecordKind) int {
			return lc.CadenceFor(prefix, string(kind))
		},
		EffectivenessThreshold: cfg.CAPA.EffectivenessThreshold,
		FollowUpDays:           cfg.CAPA.FollowUpDays,
		CacheSize:              cfg.Lifecycle.CacheSize,
	}
}

// Engine 生命周期引擎
type Engine struct {
	db        *gorm.DB
	recorder  *audit.Recorder
	journal   *journal.Journal
	locks     *keyedMutex
	published *lru.Cache[string, model.VersionModel]
	notifier  notify.Notifier
	logger    *logrus.Logger
	now       func() time.Time

	formats      map[lifecycle.RecordKind]string
	cadence      func(prefix string, kind lifecycle.RecordKind) int
	followUpDays int
	threshold    atomic.Int64

	// beforeApply 在两个事务之间调用, 测试用它模拟崩溃
	beforeApply func(journalID string) error
}

// New 创建生命周期引擎
func New(db *gorm.DB, opts Options) (*Engine, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NopNotifier{}
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1024
	}
	if opts.EffectivenessThreshold <= 0 {
		opts.EffectivenessThreshold = 70
	}
	if opts.FollowUpDays <= 0 {
		opts.FollowUpDays = 30
	}
	if opts.Cadence == nil {
		opts.Cadence = func(string, lifecycle.RecordKind) int { return scheduler.DefaultCadenceDays }
	}

	formats := make(map[lifecycle.RecordKind]string, len(DefaultNumberFormats))
	for k, v := range DefaultNumberFormats {
		formats[k] = v
	}
	for k, v := range opts.NumberFormats {
		if v != "" {
			formats[k] = v
		}
	}

	cache, err := lru.New[string, model.VersionModel](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create version cache: %w", err)
	}

	e := &Engine{
		db:           db,
		recorder:     audit.NewRecorder(db),
		journal:      journal.New(db, opts.Logger),
		locks:        newKeyedMutex(),
		published:    cache,
		notifier:     opts.Notifier,
		logger:       opts.Logger,
		now:          opts.Now,
		formats:      formats,
		cadence:      opts.Cadence,
		followUpDays: opts.FollowUpDays,
	}
	e.threshold.Store(int64(opts.EffectivenessThreshold))
	e.recorder.SetClock(opts.Now)
	e.journal.SetClock(opts.Now)
	e.recorder.OnMismatch(e.quarantine)
	e.journal.SetVerifier(chainVerifier{recorder: e.recorder})
	return e, nil
}

// chainVerifier 用审计记录器校验整条链, 不一致时记录同时被隔离
type chainVerifier struct {
	recorder *audit.Recorder
}

func (v chainVerifier) VerifyChain(ctx context.Context, recordID string) (string, error) {
	_, err := v.recorder.Verify(ctx, recordID)
	var mismatch *audit.MismatchError
	if errors.As(err, &mismatch) {
		return mismatch.Error(), nil
	}
	return "", err
}

// SetEffectivenessThreshold 热更新效果评分阈值
func (e *Engine) SetEffectivenessThreshold(n int) {
	if n < 0 || n > 100 {
		return
	}
	e.threshold.Store(int64(n))
}

// EffectivenessThreshold 当前效果评分阈值
func (e *Engine) EffectivenessThreshold() int {
	return int(e.threshold.Load())
}

// Recorder 审计日志记录器
func (e *Engine) Recorder() *audit.Recorder {
	return e.recorder
}

// RecoverPending 重放全部未完成的事务日志
func (e *Engine) RecoverPending(ctx context.Context) (int, error) {
	n, err := e.journal.RecoverPending(ctx)
	metrics.RecordJournalReplay(n)
	if n > 0 {
		e.logger.WithField("count", n).Warn("replayed pending journal entries")
	}
	if err != nil {
		return n, infra(err, "journal recovery incomplete")
	}
	return n, nil
}

// Result 操作提交后的权威状态
type Result struct {
	Record   *model.RecordModel         `json:"record"`
	Version  *model.VersionModel        `json:"version,omitempty"`
	Capa     *model.CapaModel           `json:"capa,omitempty"`
	Action   *model.CapaActionModel     `json:"action,omitempty"`
	Schedule *model.ReviewScheduleModel `json:"schedule,omitempty"`
}

// mutation 一次转换的全部写入
type mutation struct {
	operation string
	actor     string
	expected  int64
	created   bool
	now       time.Time

	record  model.RecordModel
	changes journal.ChangeSet
	entries []audit.Entry

	focusVersion string
	focusAction  string

	// outcome 提交后仍需返回给调用方的错误
	outcome *Error
}

func (m *mutation) saveVersion(v model.VersionModel) {
	v.UpdatedAt = m.now
	m.changes.Versions = append(m.changes.Versions, v)
}

func (m *mutation) saveApproval(a model.ApprovalEventModel) {
	m.changes.Approvals = append(m.changes.Approvals, a)
}

func (m *mutation) saveCapa(c model.CapaModel) {
	c.UpdatedAt = m.now
	m.changes.Capas = append(m.changes.Capas, c)
}

func (m *mutation) saveAction(a model.CapaActionModel) {
	a.UpdatedAt = m.now
	m.changes.Actions = append(m.changes.Actions, a)
}

func (m *mutation) saveEvidence(ev model.CapaEvidenceModel) {
	m.changes.Evidence = append(m.changes.Evidence, ev)
}

func (m *mutation) saveSchedule(s model.ReviewScheduleModel) {
	m.changes.Schedules = append(m.changes.Schedules, s)
}

// log 追加一条审计事件
func (m *mutation) log(eventType, versionID, before, after string, payload map[string]interface{}) {
	m.entries = append(m.entries, audit.Entry{
		RecordID:    m.record.RecordID,
		VersionID:   versionID,
		ActorID:     m.actor,
		EventType:   eventType,
		BeforeState: before,
		AfterState:  after,
		Payload:     payload,
		Timestamp:   m.now,
	})
}

func (m *mutation) result() *Result {
	rec := m.record
	res := &Result{Record: &rec}
	for i := len(m.changes.Versions) - 1; i >= 0; i-- {
		if m.changes.Versions[i].ID == m.focusVersion {
			v := m.changes.Versions[i]
			res.Version = &v
			break
		}
	}
	if n := len(m.changes.Capas); n > 0 {
		c := m.changes.Capas[n-1]
		res.Capa = &c
	}
	for i := len(m.changes.Actions) - 1; i >= 0; i-- {
		if m.changes.Actions[i].ID == m.focusAction {
			a := m.changes.Actions[i]
			res.Action = &a
			break
		}
	}
	if n := len(m.changes.Schedules); n > 0 {
		s := m.changes.Schedules[n-1]
		res.Schedule = &s
	}
	return res
}

// withRecord 在记录锁内加载记录并执行 fn, fn 成功后提交变更
func (e *Engine) withRecord(ctx context.Context, op, recordID, actor string, expected int64, fn func(m *mutation) error) (res *Result, err error) {
	defer func() { e.observe(op, recordID, err) }()

	if err := utils.ValidateActorID(actor); err != nil {
		return nil, invalid("actor: %v", err)
	}

	unlock := e.locks.Lock(recordID)
	defer unlock()

	rec, err := e.loadRecord(ctx, recordID, true)
	if err != nil {
		return nil, err
	}
	if rec.IntegrityFlag {
		return nil, integrityError(rec.RecordID, rec.IntegrityReason)
	}
	if rec.Revision != expected {
		return nil, newError(ErrStateConflict, "record %s is at revision %d, expected %d", recordID, rec.Revision, expected)
	}

	m := &mutation{
		operation: op,
		actor:     strings.TrimSpace(actor),
		expected:  expected,
		now:       e.now().UTC(),
		record:    *rec,
	}
	if err := fn(m); err != nil {
		return nil, err
	}
	if err := e.commit(ctx, m); err != nil {
		return nil, err
	}
	if m.outcome != nil {
		return m.result(), m.outcome
	}
	return m.result(), nil
}

// commit 分两个事务写入变更
func (e *Engine) commit(ctx context.Context, m *mutation) error {
	journalID := uuid.New().String()

	rec := m.record
	rec.PendingJournalID = nil
	rec.UpdatedAt = m.now
	if m.created {
		rec.Revision = 1
		rec.CreatedAt = m.now
	} else {
		rec.Revision = m.expected + 1
	}
	m.record = rec
	m.changes.Records = append([]model.RecordModel{rec}, m.changes.Records...)

	// 1. 占用记录, 追加审计日志, 写入 pending 日志
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		records := repository.NewRecordRepository(tx)
		if m.created {
			exists, err := records.Exists(rec.RecordID)
			if err != nil {
				return infra(err, "failed to check record identifier")
			}
			if exists {
				return newError(ErrDuplicateIdentifier, "record identifier %s already exists", rec.RecordID)
			}
			placeholder := rec
			placeholder.PendingJournalID = &journalID
			if err := records.Create(&placeholder); err != nil {
				return infra(err, "failed to reserve record %s", rec.RecordID)
			}
		} else {
			ok, err := records.Claim(rec.RecordID, m.expected, journalID)
			if err != nil {
				return infra(err, "failed to claim record %s", rec.RecordID)
			}
			if !ok {
				return newError(ErrStateConflict, "record %s was modified concurrently", rec.RecordID)
			}
		}

		recorder := e.recorder.WithTx(tx)
		for _, entry := range m.entries {
			entry.JournalID = journalID
			if _, err := recorder.Record(ctx, entry); err != nil {
				return translateAudit(err)
			}
		}

		if err := e.journal.Begin(tx, journalID, rec.RecordID, m.operation, &m.changes); err != nil {
			return infra(err, "failed to write journal")
		}
		return nil
	})
	if err != nil {
		var engineErr *Error
		if errors.As(err, &engineErr) {
			return engineErr
		}
		return infra(err, "failed to commit %s", m.operation)
	}

	if e.beforeApply != nil {
		if err := e.beforeApply(journalID); err != nil {
			return journaled(err, m.operation, rec.RecordID)
		}
	}

	// 2. 应用变更集
	if err := e.journal.Apply(ctx, journalID); err != nil {
		return journaled(err, m.operation, rec.RecordID)
	}

	e.published.Remove(rec.RecordID)
	metrics.RecordTransition(m.operation)
	if m.created {
		metrics.RecordRecordCreated(rec.Kind)
	}
	e.logger.WithFields(logrus.Fields{
		"operation":  m.operation,
		"record_id":  rec.RecordID,
		"actor_id":   m.actor,
		"state":      rec.State,
		"revision":   rec.Revision,
		"journal_id": journalID,
	}).Info("transition committed")

	e.publish(ctx, m)
	return nil
}

// journaled 第二个事务失败; 转换已经记录, 不能当作未提交重试
func journaled(err error, operation, recordID string) *Error {
	return &Error{
		Kind:    ErrTransitionJournaled.Kind,
		Code:    ErrTransitionJournaled.Code,
		Message: fmt.Sprintf("%s on %s is journaled but not yet applied; it will be replayed on the next read, re-read the record before retrying", operation, recordID),
		Err:     err,
	}
}

// publish 提交后分发通知, 失败只记录日志
func (e *Engine) publish(ctx context.Context, m *mutation) {
	if len(m.entries) == 0 {
		return
	}
	types := make([]string, 0, len(m.entries))
	for _, entry := range m.entries {
		types = append(types, entry.EventType)
	}
	last := m.entries[len(m.entries)-1]
	evt := notify.Event{
		ID:        uuid.New().String(),
		Type:      last.EventType,
		RecordID:  m.record.RecordID,
		VersionID: last.VersionID,
		ActorID:   m.actor,
		State:     m.record.State,
		Revision:  m.record.Revision,
		Data: map[string]interface{}{
			"operation": m.operation,
			"events":    types,
		},
		OccurredAt: m.now,
	}
	if err := e.notifier.Notify(ctx, evt); err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"record_id": evt.RecordID,
			"type":      evt.Type,
		}).Warn("failed to dispatch notification")
	}
}

// observe 记录被拒绝的操作
func (e *Engine) observe(op, recordID string, err error) {
	if err == nil {
		return
	}
	kind, code := KindOf(err), CodeOf(err)
	metrics.RecordRejection(op, string(kind), string(code))

	entry := e.logger.WithFields(logrus.Fields{
		"operation":  op,
		"record_id":  recordID,
		"kind":       kind,
		"error_code": code,
	})
	switch kind {
	case KindIntegrity:
		entry.WithError(err).Error("operation blocked by integrity check")
	case KindInfrastructure:
		entry.WithError(err).Error("operation failed")
	default:
		entry.Debug(err.Error())
	}
}

// loadRecord 加载记录, 发现未完成的事务日志时先重放
// locked 表示调用方已持有记录锁
func (e *Engine) loadRecord(ctx context.Context, id string, locked bool) (*model.RecordModel, error) {
	repo := repository.NewRecordRepository(e.db.WithContext(ctx))
	rec, err := repo.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(ErrRecordNotFound, "record %s not found", id)
		}
		return nil, infra(err, "failed to load record %s", id)
	}
	if rec.PendingJournalID == nil {
		return rec, nil
	}

	if !locked {
		unlock := e.locks.Lock(id)
		defer unlock()
	}
	if err := e.replay(ctx, rec.RecordID, *rec.PendingJournalID); err != nil {
		return nil, err
	}
	rec, err = repo.FindByID(id)
	if err != nil {
		return nil, infra(err, "failed to reload record %s", id)
	}
	return rec, nil
}

func (e *Engine) replay(ctx context.Context, recordID, journalID string) error {
	err := e.journal.Replay(ctx, journalID)
	if errors.Is(err, journal.ErrRolledBack) {
		// 记录已被隔离, 调用方重新加载后得到完整性错误
		return nil
	}
	if err != nil {
		return infra(err, "failed to replay journal %s", journalID)
	}
	metrics.RecordJournalReplay(1)
	e.published.Remove(recordID)
	e.logger.WithFields(logrus.Fields{
		"record_id":  recordID,
		"journal_id": journalID,
	}).Warn("replayed pending journal entry")
	return nil
}

// quarantine 审计哈希校验失败时隔离记录
func (e *Engine) quarantine(ctx context.Context, mismatch *audit.MismatchError) {
	err := repository.NewRecordRepository(e.db.WithContext(ctx)).Flag(mismatch.RecordID, string(CodeAuditHashMismatch))
	fields := logrus.Fields{
		"record_id": mismatch.RecordID,
		"entry_id":  mismatch.EntryID,
		"reason":    mismatch.Reason,
	}
	if err != nil {
		e.logger.WithError(err).WithFields(fields).Error("failed to flag record after audit mismatch")
		return
	}
	e.logger.WithFields(fields).Error("audit chain mismatch, record quarantined")

	evt := notify.Event{
		ID:         uuid.New().String(),
		Type:       notify.EventIntegrityViolation,
		RecordID:   mismatch.RecordID,
		ActorID:    "system",
		Data:       map[string]interface{}{"entry_id": mismatch.EntryID, "reason": mismatch.Reason},
		OccurredAt: e.now().UTC(),
	}
	if err := e.notifier.Notify(ctx, evt); err != nil {
		e.logger.WithError(err).Warn("failed to dispatch integrity notification")
	}
}

func translateAudit(err error) error {
	switch {
	case errors.Is(err, audit.ErrDuplicateEntryID):
		return &Error{Kind: KindValidation, Code: CodeDuplicateEntryID, Message: "audit entry id already exists", Err: err}
	case errors.Is(err, audit.ErrOutOfOrder):
		return &Error{Kind: KindValidation, Code: CodeDuplicateEntryID, Message: "audit entry id is not monotonic", Err: err}
	case errors.Is(err, audit.ErrEntryIDConflict):
		return &Error{Kind: KindConcurrency, Code: CodeStateConflict, Message: "audit entry id was taken by another writer, re-read the record and retry", Err: err}
	case errors.Is(err, audit.ErrHashMismatch):
		return &Error{Kind: KindIntegrity, Code: CodeAuditHashMismatch, Message: "audit chain verification failed", Err: err}
	}
	return infra(err, "failed to write audit entry")
}
