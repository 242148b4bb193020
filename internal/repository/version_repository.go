package repository

import (
	"database/sql"

	"github.com/mautops/qms-gin/internal/model"
	"gorm.io/gorm"
)

// VersionRepository 版本仓储接口
type VersionRepository interface {
	Save(version *model.VersionModel) error
	FindByID(id string) (*model.VersionModel, error)
	FindByRecordID(recordID string) ([]*model.VersionModel, error)
	FindByState(recordID string, state string) ([]*model.VersionModel, error)
	MaxVersionNumber(recordID string) (int, error)
}

// versionRepository 版本仓储实现
type versionRepository struct {
	db *gorm.DB
}

// NewVersionRepository 创建版本仓储
func NewVersionRepository(db *gorm.DB) VersionRepository {
	return &versionRepository{db: db}
}

// Save 保存版本
func (r *versionRepository) Save(version *model.VersionModel) error {
	return r.db.Save(version).Error
}

// FindByID 根据 ID 查找版本
func (r *versionRepository) FindByID(id string) (*model.VersionModel, error) {
	var version model.VersionModel
	if err := r.db.Where("id = ?", id).First(&version).Error; err != nil {
		return nil, err
	}
	return &version, nil
}

// FindByRecordID 按版本号升序查找记录的全部版本
func (r *versionRepository) FindByRecordID(recordID string) ([]*model.VersionModel, error) {
	var versions []*model.VersionModel
	err := r.db.Where("record_id = ?", recordID).Order("version_number ASC").Find(&versions).Error
	return versions, err
}

// FindByState 查找记录下指定状态的版本
func (r *versionRepository) FindByState(recordID string, state string) ([]*model.VersionModel, error) {
	var versions []*model.VersionModel
	err := r.db.Where("record_id = ? AND state = ?", recordID, state).Order("version_number ASC").Find(&versions).Error
	return versions, err
}

// MaxVersionNumber 返回记录当前最大版本号, 没有版本时返回 0
func (r *versionRepository) MaxVersionNumber(recordID string) (int, error) {
	var max sql.NullInt64
	err := r.db.Model(&model.VersionModel{}).
		Where("record_id = ?", recordID).
		Select("MAX(version_number)").
		Row().
		Scan(&max)
	if err != nil {
		return 0, err
	}
	return int(max.Int64), nil
}
