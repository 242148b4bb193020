package repository

import (
	"time"

	"github.com/mautops/qms-gin/internal/model"
	"gorm.io/gorm"
)

// CapaRepository CAPA 仓储接口
type CapaRepository interface {
	Save(capa *model.CapaModel) error
	FindByID(recordID string) (*model.CapaModel, error)
	FindActions(capaID string) ([]*model.CapaActionModel, error)
	FindActionByID(actionID string) (*model.CapaActionModel, error)
	SaveAction(action *model.CapaActionModel) error
	FindEvidence(actionID string) ([]*model.CapaEvidenceModel, error)
	CountEvidence(actionID string) (int64, error)
	SaveEvidence(evidence *model.CapaEvidenceModel) error
	FindOverdue(today time.Time, openStates []string) ([]*model.CapaModel, error)
	FindFollowUpsDue(today time.Time, state string) ([]*model.CapaModel, error)
}

// capaRepository CAPA 仓储实现
type capaRepository struct {
	db *gorm.DB
}

// NewCapaRepository 创建 CAPA 仓储
func NewCapaRepository(db *gorm.DB) CapaRepository {
	return &capaRepository{db: db}
}

// Save 保存 CAPA
func (r *capaRepository) Save(capa *model.CapaModel) error {
	return r.db.Save(capa).Error
}

// FindByID 根据记录 ID 查找 CAPA
func (r *capaRepository) FindByID(recordID string) (*model.CapaModel, error) {
	var capa model.CapaModel
	if err := r.db.Where("record_id = ?", recordID).First(&capa).Error; err != nil {
		return nil, err
	}
	return &capa, nil
}

// FindActions 查找 CAPA 的全部措施
func (r *capaRepository) FindActions(capaID string) ([]*model.CapaActionModel, error) {
	var actions []*model.CapaActionModel
	err := r.db.Where("capa_id = ?", capaID).Order("created_at ASC").Order("id ASC").Find(&actions).Error
	return actions, err
}

// FindActionByID 根据 ID 查找措施
func (r *capaRepository) FindActionByID(actionID string) (*model.CapaActionModel, error) {
	var action model.CapaActionModel
	if err := r.db.Where("id = ?", actionID).First(&action).Error; err != nil {
		return nil, err
	}
	return &action, nil
}

// SaveAction 保存措施
func (r *capaRepository) SaveAction(action *model.CapaActionModel) error {
	return r.db.Save(action).Error
}

// FindEvidence 查找措施的证据
func (r *capaRepository) FindEvidence(actionID string) ([]*model.CapaEvidenceModel, error) {
	var evidence []*model.CapaEvidenceModel
	err := r.db.Where("action_id = ?", actionID).Order("added_at ASC").Find(&evidence).Error
	return evidence, err
}

// CountEvidence 统计措施的证据数量
func (r *capaRepository) CountEvidence(actionID string) (int64, error) {
	var count int64
	err := r.db.Model(&model.CapaEvidenceModel{}).Where("action_id = ?", actionID).Count(&count).Error
	return count, err
}

// SaveEvidence 保存证据
func (r *capaRepository) SaveEvidence(evidence *model.CapaEvidenceModel) error {
	return r.db.Save(evidence).Error
}

// FindOverdue 查找已过期且仍未关闭的 CAPA
func (r *capaRepository) FindOverdue(today time.Time, openStates []string) ([]*model.CapaModel, error) {
	var capas []*model.CapaModel
	err := r.db.Where("due_date IS NOT NULL AND due_date < ? AND state IN ?", today, openStates).
		Order("due_date ASC").
		Find(&capas).Error
	return capas, err
}

// FindFollowUpsDue 查找跟进复审已到期的 CAPA
func (r *capaRepository) FindFollowUpsDue(today time.Time, state string) ([]*model.CapaModel, error) {
	var capas []*model.CapaModel
	err := r.db.Where("next_review_date IS NOT NULL AND next_review_date <= ? AND state = ?", today, state).
		Order("next_review_date ASC").
		Find(&capas).Error
	return capas, err
}
