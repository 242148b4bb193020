package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mautops/qms-gin/internal/model"
	"github.com/mautops/qms-gin/internal/notify"
	"github.com/mautops/qms-gin/internal/repository"
	"github.com/mautops/qms-gin/internal/scheduler"
	"github.com/mautops/qms-gin/internal/utils"
	"gorm.io/gorm"
)

// CompleteReviewInput 完成周期复审参数
type CompleteReviewInput struct {
	RecordID         string
	ReviewedAt       time.Time // 为零时取当前时间
	Comment          string
	ActorID          string
	ExpectedRevision int64
}

// CompletePeriodicReview 完成一次周期复审, 记录内容不变, 下次到期从复审日起算
func (e *Engine) CompletePeriodicReview(ctx context.Context, in CompleteReviewInput) (*Result, error) {
	return e.withRecord(ctx, "complete_review", in.RecordID, in.ActorID, in.ExpectedRevision, func(m *mutation) error {
		reviewedAt := in.ReviewedAt
		if reviewedAt.IsZero() {
			reviewedAt = m.now
		}
		if scheduler.Day(reviewedAt).After(scheduler.Day(m.now)) {
			return invalid("review date %s is in the future", reviewedAt.Format("2006-01-02"))
		}

		sched, err := repository.NewReviewScheduleRepository(e.db.WithContext(ctx)).FindByRecordID(m.record.RecordID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return infra(err, "failed to load review schedule")
		}
		if err != nil || !sched.Active {
			return newError(ErrNoActiveSchedule, "record %s has no active review schedule", m.record.RecordID)
		}

		previous := sched.NextDueDate
		wasOverdue := sched.Overdue
		updated := scheduler.Complete(*sched, reviewedAt, m.now)
		m.saveSchedule(updated)

		versionID := ""
		if m.record.PublishedVersionID != nil {
			versionID = *m.record.PublishedVersionID
		}
		m.log(notify.EventReviewCompleted, versionID, m.record.State, m.record.State, map[string]interface{}{
			"reviewed_at":       scheduler.Day(reviewedAt).Format("2006-01-02"),
			"previous_due_date": previous.Format("2006-01-02"),
			"next_due_date":     updated.NextDueDate.Format("2006-01-02"),
			"was_overdue":       wasOverdue,
			"comment":           utils.SanitizeString(strings.TrimSpace(in.Comment)),
		})
		return nil
	})
}

// GetSchedule 读取记录的复审计划, 返回前按今天重算过期标记
func (e *Engine) GetSchedule(ctx context.Context, recordID string) (*model.ReviewScheduleModel, error) {
	if _, err := e.loadRecord(ctx, recordID, false); err != nil {
		return nil, err
	}
	sched, err := repository.NewReviewScheduleRepository(e.db.WithContext(ctx)).FindByRecordID(recordID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(ErrNoActiveSchedule, "record %s has never been scheduled for review", recordID)
		}
		return nil, infra(err, "failed to load review schedule")
	}
	scheduler.Recompute(sched, e.now())
	return sched, nil
}
