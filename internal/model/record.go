package model

import (
	"errors"
	"time"

	"gorm.io/datatypes"
)

// RecordModel 受控记录数据模型
type RecordModel struct {
	RecordID           string    `gorm:"primaryKey;type:varchar(64)" json:"record_id"`
	Kind               string    `gorm:"type:varchar(16);not null;index" json:"kind"` // document/capa/audit
	Prefix             string    `gorm:"type:varchar(32);not null" json:"prefix"`
	Title              string    `gorm:"type:varchar(255)" json:"title"`
	OwnerID            string    `gorm:"type:varchar(64);not null;index" json:"owner_id"`
	CurrentVersionID   string    `gorm:"type:varchar(64);not null" json:"current_version_id"`
	PublishedVersionID *string   `gorm:"type:varchar(64)" json:"published_version_id,omitempty"`
	State              string    `gorm:"type:varchar(32);not null;index" json:"state"` // 与当前版本状态一致
	Revision           int64     `gorm:"not null;default:0" json:"revision"`           // 乐观并发修订号
	PendingJournalID   *string   `gorm:"type:varchar(64);index" json:"pending_journal_id,omitempty"`
	IntegrityFlag      bool      `gorm:"not null;default:false" json:"integrity_flag"`
	IntegrityReason    string    `gorm:"type:varchar(64)" json:"integrity_reason,omitempty"`
	CreatedBy          string    `gorm:"type:varchar(64);not null" json:"created_by"`
	CreatedAt          time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt          time.Time `gorm:"not null" json:"updated_at"`
}

// TableName 指定表名
func (RecordModel) TableName() string {
	return "records"
}

// Validate 验证记录模型
func (rm *RecordModel) Validate() error {
	if rm.RecordID == "" {
		return errors.New("record ID is required")
	}
	if rm.Kind == "" {
		return errors.New("record kind is required")
	}
	if rm.OwnerID == "" {
		return errors.New("owner ID is required")
	}
	if rm.CurrentVersionID == "" {
		return errors.New("current version ID is required")
	}
	if rm.State == "" {
		return errors.New("record state is required")
	}
	return nil
}

// VersionModel 记录版本数据模型
type VersionModel struct {
	ID                  string                      `gorm:"primaryKey;type:varchar(64)" json:"id"`
	RecordID            string                      `gorm:"type:varchar(64);not null;uniqueIndex:idx_versions_record_number" json:"record_id"`
	VersionNumber       int                         `gorm:"not null;uniqueIndex:idx_versions_record_number" json:"version_number"`
	State               string                      `gorm:"type:varchar(32);not null;index" json:"state"`
	Payload             datatypes.JSON              `json:"payload"`                                  // 文档元数据
	ContentRef          string                      `gorm:"type:varchar(128)" json:"content_ref,omitempty"` // 文件存储引用
	CreatedBy           string                      `gorm:"type:varchar(64);not null" json:"created_by"`
	CreatedAt           time.Time                   `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time                   `gorm:"not null" json:"updated_at"`
	EffectiveDate       *time.Time                  `json:"effective_date,omitempty"`
	SupersedesVersionID *string                     `gorm:"type:varchar(64)" json:"supersedes_version_id,omitempty"`
	ApprovalRound       int                         `gorm:"not null;default:0" json:"approval_round"`
	RequiredSigners     datatypes.JSONSlice[string] `json:"required_signers,omitempty"`
	FrozenAt            *time.Time                  `json:"frozen_at,omitempty"`
	ObsoletedAt         *time.Time                  `json:"obsoleted_at,omitempty"`
	RetireReason        string                      `gorm:"type:text" json:"retire_reason,omitempty"`
}

// TableName 指定表名
func (VersionModel) TableName() string {
	return "versions"
}

// Validate 验证版本模型
func (vm *VersionModel) Validate() error {
	if vm.ID == "" {
		return errors.New("version ID is required")
	}
	if vm.RecordID == "" {
		return errors.New("record ID is required")
	}
	if vm.VersionNumber <= 0 {
		return errors.New("version number must be positive")
	}
	if vm.CreatedBy == "" {
		return errors.New("created by is required")
	}
	return nil
}

// SequenceModel 编号序列数据模型
type SequenceModel struct {
	Scope     string `gorm:"primaryKey;type:varchar(64)"` // 如 SOP-2025, CAPA
	NextValue int64  `gorm:"not null"`
}

// TableName 指定表名
func (SequenceModel) TableName() string {
	return "record_sequences"
}
