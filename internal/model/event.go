package model

import (
	"errors"
	"time"

	"gorm.io/datatypes"
)

// 通知投递状态
const (
	EventPending = "pending"
	EventSuccess = "success"
	EventFailed  = "failed"
)

// EventModel 通知发件箱数据模型
type EventModel struct {
	ID         string         `gorm:"primaryKey;type:varchar(64)"`
	RecordID   string         `gorm:"type:varchar(64);not null;index"`
	Type       string         `gorm:"type:varchar(64);not null;index"`
	Data       datatypes.JSON `gorm:"not null"`                                             // 序列化后的事件数据
	Status     string         `gorm:"type:varchar(32);not null;default:'pending';index"` // pending/success/failed
	RetryCount int            `gorm:"type:int;default:0"`
	LastError  string         `gorm:"type:text"`
	CreatedAt  time.Time      `gorm:"not null;index"`
	UpdatedAt  time.Time      `gorm:"not null"`
}

// TableName 指定表名
func (EventModel) TableName() string {
	return "notification_outbox"
}

// Validate 验证事件模型
func (em *EventModel) Validate() error {
	if em.ID == "" {
		return errors.New("event ID is required")
	}
	if em.RecordID == "" {
		return errors.New("record ID is required")
	}
	if em.Type == "" {
		return errors.New("event type is required")
	}
	if len(em.Data) == 0 {
		return errors.New("event data is required")
	}
	if em.Status == "" {
		em.Status = EventPending
	}
	return nil
}
