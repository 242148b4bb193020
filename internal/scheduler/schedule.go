// Package scheduler 周期复审和效果复审的到期计算.
package scheduler

import (
	"time"

	"github.com/mautops/qms-gin/internal/model"
)

// DefaultCadenceDays 未配置时的复审周期
const DefaultCadenceDays = 365

// Day 返回 UTC 日历日的零点
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// NextDueDate 计算下次复审日期: 生效日 + 周期天数
func NextDueDate(cadenceDays int, effectiveDate time.Time) time.Time {
	if cadenceDays <= 0 {
		cadenceDays = DefaultCadenceDays
	}
	return Day(effectiveDate).AddDate(0, 0, cadenceDays)
}

// IsOverdue 到期日早于今天即为过期
func IsOverdue(nextDue, today time.Time) bool {
	return Day(nextDue).Before(Day(today))
}

// Recompute 重新计算过期标记, 返回标记是否发生变化
// 过期只用于报告, 不阻塞任何转换
func Recompute(schedule *model.ReviewScheduleModel, today time.Time) bool {
	overdue := schedule.Active && IsOverdue(schedule.NextDueDate, today)
	changed := overdue != schedule.Overdue
	schedule.Overdue = overdue
	return changed
}

// NewSchedule 记录生效时创建或重算复审计划
// existing 为空时创建新计划, 否则保留创建时间和上次完成时间
func NewSchedule(existing *model.ReviewScheduleModel, recordID string, cadenceDays int, effectiveDate, now time.Time) model.ReviewScheduleModel {
	if cadenceDays <= 0 {
		cadenceDays = DefaultCadenceDays
	}
	s := model.ReviewScheduleModel{
		RecordID:  recordID,
		CreatedAt: now,
	}
	if existing != nil {
		s = *existing
	}
	s.CadenceDays = cadenceDays
	s.NextDueDate = NextDueDate(cadenceDays, effectiveDate)
	s.Active = true
	s.UpdatedAt = now
	Recompute(&s, now)
	return s
}

// Complete 完成一次周期复审, 下次到期从复审日起算
func Complete(schedule model.ReviewScheduleModel, reviewedAt, now time.Time) model.ReviewScheduleModel {
	at := reviewedAt.UTC()
	schedule.LastCompletedAt = &at
	schedule.NextDueDate = NextDueDate(schedule.CadenceDays, reviewedAt)
	schedule.UpdatedAt = now
	Recompute(&schedule, now)
	return schedule
}

// FollowUpDate 效果复审未达标时的跟进日期
func FollowUpDate(today time.Time, followUpDays int) time.Time {
	if followUpDays <= 0 {
		followUpDays = 30
	}
	return Day(today).AddDate(0, 0, followUpDays)
}
