package model

import (
	"errors"
	"time"
)

// CapaModel CAPA 数据模型, 与 RecordModel 共用 record_id
type CapaModel struct {
	RecordID                    string     `gorm:"primaryKey;type:varchar(64)" json:"record_id"`
	TypeID                      string     `gorm:"type:varchar(32);not null" json:"type_id"` // corrective/preventive/complaint_derived
	State                       string     `gorm:"type:varchar(40);not null;index" json:"state"`
	DueDate                     *time.Time `gorm:"index" json:"due_date,omitempty"`
	ReadyForEffectivenessReview bool       `gorm:"not null;default:false" json:"ready_for_effectiveness_review"`
	EffectivenessScore          *int       `json:"effectiveness_score,omitempty"`
	VerificationMethod          string     `gorm:"type:varchar(255)" json:"verification_method,omitempty"`
	EffectivenessComment        string     `gorm:"type:text" json:"effectiveness_comment,omitempty"`
	EffectivenessReviewedBy     string     `gorm:"type:varchar(64)" json:"effectiveness_reviewed_by,omitempty"`
	EffectivenessReviewedAt     *time.Time `json:"effectiveness_reviewed_at,omitempty"`
	NextReviewDate              *time.Time `gorm:"index" json:"next_review_date,omitempty"` // 效果未达标时的跟进复审日期
	ReviewAttempts              int        `gorm:"not null;default:0" json:"review_attempts"`
	ClosedAt                    *time.Time `json:"closed_at,omitempty"`
	CancelReason                string     `gorm:"type:text" json:"cancel_reason,omitempty"`
	CreatedAt                   time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt                   time.Time  `gorm:"not null" json:"updated_at"`
}

// TableName 指定表名
func (CapaModel) TableName() string {
	return "capas"
}

// Validate 验证 CAPA 模型
func (cm *CapaModel) Validate() error {
	if cm.RecordID == "" {
		return errors.New("record ID is required")
	}
	if cm.TypeID == "" {
		return errors.New("capa type is required")
	}
	if cm.State == "" {
		return errors.New("capa state is required")
	}
	return nil
}

// CapaActionModel CAPA 措施数据模型
type CapaActionModel struct {
	ID                   string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	CapaID               string     `gorm:"type:varchar(64);not null;index" json:"capa_id"`
	Description          string     `gorm:"type:text;not null" json:"description"`
	OwnerID              string     `gorm:"type:varchar(64);not null" json:"owner_id"`
	DueDate              *time.Time `json:"due_date,omitempty"`
	VerifierID           string     `gorm:"type:varchar(64)" json:"verifier_id,omitempty"`
	VerificationDecision string     `gorm:"type:varchar(16)" json:"verification_decision,omitempty"` // verified/rejected
	VerificationComment  string     `gorm:"type:text" json:"verification_comment,omitempty"`
	VerifiedAt           *time.Time `json:"verified_at,omitempty"`
	CreatedBy            string     `gorm:"type:varchar(64);not null" json:"created_by"`
	CreatedAt            time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"not null" json:"updated_at"`
}

// TableName 指定表名
func (CapaActionModel) TableName() string {
	return "capa_actions"
}

// Verified 措施是否已验证通过
func (am *CapaActionModel) Verified() bool {
	return am.VerificationDecision == "verified"
}

// CapaEvidenceModel 措施证据数据模型
type CapaEvidenceModel struct {
	ID          string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ActionID    string    `gorm:"type:varchar(64);not null;index" json:"action_id"`
	CapaID      string    `gorm:"type:varchar(64);not null;index" json:"capa_id"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	ContentRef  string    `gorm:"type:varchar(128)" json:"content_ref,omitempty"`
	AddedBy     string    `gorm:"type:varchar(64);not null" json:"added_by"`
	AddedAt     time.Time `gorm:"not null" json:"added_at"`
}

// TableName 指定表名
func (CapaEvidenceModel) TableName() string {
	return "capa_evidence"
}
