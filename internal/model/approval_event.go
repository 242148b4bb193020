package model

import (
	"errors"
	"time"
)

// ApprovalEventModel 电子签名数据模型
// 每轮审批为每个必需签署人创建一条 pending 占位, 历史轮次保留
type ApprovalEventModel struct {
	ID                 string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	VersionID          string     `gorm:"type:varchar(64);not null;index" json:"version_id"`
	RecordID           string     `gorm:"type:varchar(64);not null;index" json:"record_id"`
	Round              int        `gorm:"not null" json:"round"`
	SignerID           string     `gorm:"type:varchar(64);not null;index" json:"signer_id"`
	Decision           string     `gorm:"type:varchar(16);not null" json:"decision"` // pending/approved/rejected/void
	Comment            string     `gorm:"type:text" json:"comment,omitempty"`
	SignedAt           *time.Time `json:"signed_at,omitempty"`
	SignatureConfirmed bool       `gorm:"not null;default:false" json:"signature_confirmed"`
	CreatedAt          time.Time  `gorm:"not null" json:"created_at"`
}

// TableName 指定表名
func (ApprovalEventModel) TableName() string {
	return "approval_events"
}

// Validate 验证签名模型
func (am *ApprovalEventModel) Validate() error {
	if am.ID == "" {
		return errors.New("approval event ID is required")
	}
	if am.VersionID == "" {
		return errors.New("version ID is required")
	}
	if am.SignerID == "" {
		return errors.New("signer ID is required")
	}
	if am.Round <= 0 {
		return errors.New("round must be positive")
	}
	return nil
}
