package repository

import (
	"github.com/mautops/qms-gin/internal/model"
	"gorm.io/gorm"
)

// ApprovalEventRepository 电子签名仓储接口
type ApprovalEventRepository interface {
	Save(event *model.ApprovalEventModel) error
	FindByVersionID(versionID string) ([]*model.ApprovalEventModel, error)
	FindByRound(versionID string, round int) ([]*model.ApprovalEventModel, error)
	FindBySigner(signerID string, decision string) ([]*model.ApprovalEventModel, error)
}

// approvalEventRepository 电子签名仓储实现
type approvalEventRepository struct {
	db *gorm.DB
}

// NewApprovalEventRepository 创建电子签名仓储
func NewApprovalEventRepository(db *gorm.DB) ApprovalEventRepository {
	return &approvalEventRepository{db: db}
}

// Save 保存签名
func (r *approvalEventRepository) Save(event *model.ApprovalEventModel) error {
	return r.db.Save(event).Error
}

// FindByVersionID 查找版本的全部签名, 按轮次排序
func (r *approvalEventRepository) FindByVersionID(versionID string) ([]*model.ApprovalEventModel, error) {
	var events []*model.ApprovalEventModel
	err := r.db.Where("version_id = ?", versionID).
		Order("round ASC").
		Order("signer_id ASC").
		Find(&events).Error
	return events, err
}

// FindByRound 查找指定轮次的签名
func (r *approvalEventRepository) FindByRound(versionID string, round int) ([]*model.ApprovalEventModel, error) {
	var events []*model.ApprovalEventModel
	err := r.db.Where("version_id = ? AND round = ?", versionID, round).
		Order("signer_id ASC").
		Find(&events).Error
	return events, err
}

// FindBySigner 查找签署人的签名, decision 为空时不过滤
func (r *approvalEventRepository) FindBySigner(signerID string, decision string) ([]*model.ApprovalEventModel, error) {
	var events []*model.ApprovalEventModel
	query := r.db.Where("signer_id = ?", signerID)
	if decision != "" {
		query = query.Where("decision = ?", decision)
	}
	err := query.Order("created_at ASC").Find(&events).Error
	return events, err
}
