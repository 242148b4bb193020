// Package journal 状态转换的预写日志.
//
// 每次转换先在同一个事务里写入审计日志和 pending 状态的变更集,
// 再在第二个事务里应用变更集并标记 committed. 两步之间崩溃时,
// 重放 pending 条目即可得到一致状态. 应用操作是幂等的.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mautops/qms-gin/internal/model"
	"github.com/mautops/qms-gin/internal/repository"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrRolledBack 事务日志已回滚
var ErrRolledBack = errors.New("journal entry was rolled back")

// ChangeSet 一次转换写入的全部行
// 版本按列表顺序写入, 被替代的 Effective 版本必须排在新版本之前
type ChangeSet struct {
	Records   []model.RecordModel         `json:"records,omitempty"`
	Versions  []model.VersionModel        `json:"versions,omitempty"`
	Approvals []model.ApprovalEventModel  `json:"approvals,omitempty"`
	Capas     []model.CapaModel           `json:"capas,omitempty"`
	Actions   []model.CapaActionModel     `json:"actions,omitempty"`
	Evidence  []model.CapaEvidenceModel   `json:"evidence,omitempty"`
	Schedules []model.ReviewScheduleModel `json:"schedules,omitempty"`
}

// Empty 变更集是否为空
func (cs *ChangeSet) Empty() bool {
	return len(cs.Records) == 0 && len(cs.Versions) == 0 && len(cs.Approvals) == 0 &&
		len(cs.Capas) == 0 && len(cs.Actions) == 0 && len(cs.Evidence) == 0 && len(cs.Schedules) == 0
}

// ChainVerifier 重放前校验记录的审计链
// 链不一致时返回非空 reason, err 只表示校验本身失败
type ChainVerifier interface {
	VerifyChain(ctx context.Context, recordID string) (reason string, err error)
}

// Journal 预写日志
type Journal struct {
	db       *gorm.DB
	now      func() time.Time
	logger   *logrus.Logger
	verifier ChainVerifier
}

// New 创建预写日志
func New(db *gorm.DB, logger *logrus.Logger) *Journal {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Journal{db: db, now: time.Now, logger: logger}
}

// SetClock 设置时间来源
func (j *Journal) SetClock(now func() time.Time) {
	j.now = now
}

// SetVerifier 设置重放前的审计链校验
func (j *Journal) SetVerifier(v ChainVerifier) {
	j.verifier = v
}

// Begin 在调用方事务中写入 pending 日志
func (j *Journal) Begin(tx *gorm.DB, id, recordID, operation string, cs *ChangeSet) error {
	data, err := json.Marshal(cs)
	if err != nil {
		return fmt.Errorf("failed to marshal change set: %w", err)
	}
	entry := &model.JournalEntryModel{
		ID:        id,
		RecordID:  recordID,
		Operation: operation,
		Status:    model.JournalPending,
		ChangeSet: data,
		StartedAt: j.now().UTC(),
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	if err := repository.NewJournalRepository(tx).Create(entry); err != nil {
		return fmt.Errorf("failed to write journal entry: %w", err)
	}
	return nil
}

// Apply 应用 pending 日志的变更集并提交, 已提交的日志直接返回
func (j *Journal) Apply(ctx context.Context, id string) error {
	return j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		journals := repository.NewJournalRepository(tx)
		records := repository.NewRecordRepository(tx)

		entry, err := journals.FindByID(id)
		if err != nil {
			return fmt.Errorf("failed to load journal entry %s: %w", id, err)
		}

		switch entry.Status {
		case model.JournalCommitted:
			return records.ClearPending(id)
		case model.JournalRolledBack:
			if err := records.ClearPending(id); err != nil {
				return err
			}
			return ErrRolledBack
		}

		var cs ChangeSet
		if err := json.Unmarshal(entry.ChangeSet, &cs); err != nil {
			return fmt.Errorf("failed to decode change set: %w", err)
		}
		if err := applyChangeSet(tx, &cs); err != nil {
			return fmt.Errorf("failed to apply change set: %w", err)
		}
		if err := records.ClearPending(id); err != nil {
			return fmt.Errorf("failed to release record: %w", err)
		}
		if err := journals.MarkCompleted(id, model.JournalCommitted, "", j.now().UTC()); err != nil {
			return fmt.Errorf("failed to commit journal entry: %w", err)
		}
		return nil
	})
}

// Rollback 放弃无法应用的日志并标记记录需要人工介入
// 审计日志已经写入, 回滚后记录进入完整性隔离
func (j *Journal) Rollback(ctx context.Context, id string, reason string) error {
	return j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		journals := repository.NewJournalRepository(tx)
		records := repository.NewRecordRepository(tx)

		entry, err := journals.FindByID(id)
		if err != nil {
			return fmt.Errorf("failed to load journal entry %s: %w", id, err)
		}
		if entry.Status != model.JournalPending {
			return nil
		}
		if err := journals.MarkCompleted(id, model.JournalRolledBack, reason, j.now().UTC()); err != nil {
			return err
		}
		if err := records.ClearPending(id); err != nil {
			return err
		}
		return records.Flag(entry.RecordID, "JournalRolledBack")
	})
}

// Replay 校验审计链后应用 pending 日志
// 审计链不一致时回滚日志并隔离记录, 返回包装了 ErrRolledBack 的错误
func (j *Journal) Replay(ctx context.Context, id string) error {
	entry, err := j.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load journal entry %s: %w", id, err)
	}
	if entry.Status == model.JournalPending && j.verifier != nil {
		reason, err := j.verifier.VerifyChain(ctx, entry.RecordID)
		if err != nil {
			return fmt.Errorf("failed to verify audit chain of %s: %w", entry.RecordID, err)
		}
		if reason != "" {
			if err := j.Rollback(ctx, id, reason); err != nil {
				return fmt.Errorf("failed to roll back journal entry %s: %w", id, err)
			}
			j.logger.WithFields(logrus.Fields{
				"journal_id": id,
				"record_id":  entry.RecordID,
				"operation":  entry.Operation,
				"reason":     reason,
			}).Error("journal entry rolled back, record quarantined")
			return fmt.Errorf("%w: %s", ErrRolledBack, reason)
		}
	}
	return j.Apply(ctx, id)
}

// RecoverPending 校验并重放全部 pending 日志, 返回成功重放的条数
// 审计链不一致而回滚的条目不计数, 也不作为错误返回
func (j *Journal) RecoverPending(ctx context.Context) (int, error) {
	entries, err := repository.NewJournalRepository(j.db.WithContext(ctx)).FindPending()
	if err != nil {
		return 0, fmt.Errorf("failed to list pending journal entries: %w", err)
	}

	var errs []error
	recovered := 0
	for _, entry := range entries {
		if err := j.Replay(ctx, entry.ID); err != nil {
			if errors.Is(err, ErrRolledBack) {
				continue
			}
			j.logger.WithError(err).WithFields(logrus.Fields{
				"journal_id": entry.ID,
				"record_id":  entry.RecordID,
				"operation":  entry.Operation,
			}).Error("journal replay failed")
			errs = append(errs, err)
			continue
		}
		recovered++
		j.logger.WithFields(logrus.Fields{
			"journal_id": entry.ID,
			"record_id":  entry.RecordID,
			"operation":  entry.Operation,
		}).Info("journal entry replayed")
	}
	return recovered, errors.Join(errs...)
}

// Get 读取日志条目
func (j *Journal) Get(ctx context.Context, id string) (*model.JournalEntryModel, error) {
	return repository.NewJournalRepository(j.db.WithContext(ctx)).FindByID(id)
}

func applyChangeSet(tx *gorm.DB, cs *ChangeSet) error {
	records := repository.NewRecordRepository(tx)
	for i := range cs.Records {
		if err := records.Save(&cs.Records[i]); err != nil {
			return err
		}
	}
	versions := repository.NewVersionRepository(tx)
	for i := range cs.Versions {
		if err := versions.Save(&cs.Versions[i]); err != nil {
			return err
		}
	}
	approvals := repository.NewApprovalEventRepository(tx)
	for i := range cs.Approvals {
		if err := approvals.Save(&cs.Approvals[i]); err != nil {
			return err
		}
	}
	capas := repository.NewCapaRepository(tx)
	for i := range cs.Capas {
		if err := capas.Save(&cs.Capas[i]); err != nil {
			return err
		}
	}
	for i := range cs.Actions {
		if err := capas.SaveAction(&cs.Actions[i]); err != nil {
			return err
		}
	}
	for i := range cs.Evidence {
		if err := capas.SaveEvidence(&cs.Evidence[i]); err != nil {
			return err
		}
	}
	schedules := repository.NewReviewScheduleRepository(tx)
	for i := range cs.Schedules {
		if err := schedules.Save(&cs.Schedules[i]); err != nil {
			return err
		}
	}
	return nil
}
