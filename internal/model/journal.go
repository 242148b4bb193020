package model

import (
	"errors"
	"time"

	"gorm.io/datatypes"
)

// 事务日志状态
const (
	JournalPending    = "pending"
	JournalCommitted  = "committed"
	JournalRolledBack = "rolled_back"
)

// JournalEntryModel 状态转换预写日志数据模型
type JournalEntryModel struct {
	ID          string         `gorm:"primaryKey;type:varchar(64)"`
	RecordID    string         `gorm:"type:varchar(64);not null;index"`
	Operation   string         `gorm:"type:varchar(64);not null"`
	Status      string         `gorm:"type:varchar(16);not null;index"` // pending/committed/rolled_back
	ChangeSet   datatypes.JSON `gorm:"not null"`                        // 序列化后的变更集
	Error       string         `gorm:"type:text"`
	StartedAt   time.Time      `gorm:"not null;index"`
	CompletedAt *time.Time
}

// TableName 指定表名
func (JournalEntryModel) TableName() string {
	return "transition_journal"
}

// Validate 验证日志条目
func (jm *JournalEntryModel) Validate() error {
	if jm.ID == "" {
		return errors.New("journal ID is required")
	}
	if jm.RecordID == "" {
		return errors.New("record ID is required")
	}
	if jm.Operation == "" {
		return errors.New("operation is required")
	}
	if len(jm.ChangeSet) == 0 {
		return errors.New("change set is required")
	}
	if jm.Status == "" {
		jm.Status = JournalPending
	}
	return nil
}
