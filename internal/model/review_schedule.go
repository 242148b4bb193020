package model

import (
	"errors"
	"time"
)

// ReviewScheduleModel 周期复审计划数据模型
type ReviewScheduleModel struct {
	RecordID        string     `gorm:"primaryKey;type:varchar(64)" json:"record_id"`
	CadenceDays     int        `gorm:"not null" json:"cadence_days"`
	NextDueDate     time.Time  `gorm:"not null;index" json:"next_due_date"`
	LastCompletedAt *time.Time `json:"last_completed_at,omitempty"`
	Overdue         bool       `gorm:"not null;default:false;index" json:"overdue"` // 仅供报告, 不阻塞
	Active          bool       `gorm:"not null;default:true" json:"active"`
	CreatedAt       time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"not null" json:"updated_at"`
}

// TableName 指定表名
func (ReviewScheduleModel) TableName() string {
	return "review_schedules"
}

// Validate 验证复审计划
func (sm *ReviewScheduleModel) Validate() error {
	if sm.RecordID == "" {
		return errors.New("record ID is required")
	}
	if sm.CadenceDays <= 0 {
		return errors.New("cadence days must be positive")
	}
	return nil
}
