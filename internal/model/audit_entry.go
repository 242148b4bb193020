package model

import (
	"errors"
	"time"

	"gorm.io/datatypes"
)

// AuditEntryModel 审计日志数据模型
// 只追加, 写入后不更新也不删除
type AuditEntryModel struct {
	EntryID     int64          `gorm:"primaryKey;autoIncrement:false;index:idx_audit_record_entry,priority:2" json:"entry_id"`
	RecordID    string         `gorm:"type:varchar(64);not null;index:idx_audit_record_entry,priority:1" json:"record_id"`
	VersionID   string         `gorm:"type:varchar(64)" json:"version_id,omitempty"`
	ActorID     string         `gorm:"type:varchar(64);not null;index" json:"actor_id"`
	EventType   string         `gorm:"type:varchar(64);not null" json:"event_type"`
	BeforeState string         `gorm:"type:varchar(40)" json:"before_state,omitempty"`
	AfterState  string         `gorm:"type:varchar(40)" json:"after_state,omitempty"`
	Payload     datatypes.JSON `json:"payload,omitempty"`
	Timestamp   time.Time      `gorm:"not null" json:"timestamp"`
	PrevHash    string         `gorm:"type:varchar(64)" json:"prev_hash,omitempty"`
	PayloadHash string         `gorm:"type:varchar(64);not null" json:"payload_hash"`
	JournalID   string         `gorm:"type:varchar(64);index" json:"journal_id,omitempty"`
}

// TableName 指定表名
func (AuditEntryModel) TableName() string {
	return "audit_entries"
}

// Validate 验证审计日志模型
func (am *AuditEntryModel) Validate() error {
	if am.EntryID <= 0 {
		return errors.New("entry ID is required")
	}
	if am.RecordID == "" {
		return errors.New("record ID is required")
	}
	if am.ActorID == "" {
		return errors.New("actor ID is required")
	}
	if am.EventType == "" {
		return errors.New("event type is required")
	}
	return nil
}
