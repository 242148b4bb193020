package repository

import (
	"github.com/mautops/qms-gin/internal/model"
	"gorm.io/gorm"
)

// ReviewScheduleRepository 复审计划仓储接口
type ReviewScheduleRepository interface {
	Save(schedule *model.ReviewScheduleModel) error
	FindByRecordID(recordID string) (*model.ReviewScheduleModel, error)
	FindActive() ([]*model.ReviewScheduleModel, error)
	FindOverdue() ([]*model.ReviewScheduleModel, error)
	UpdateOverdue(recordID string, overdue bool) error
}

// reviewScheduleRepository 复审计划仓储实现
type reviewScheduleRepository struct {
	db *gorm.DB
}

// NewReviewScheduleRepository 创建复审计划仓储
func NewReviewScheduleRepository(db *gorm.DB) ReviewScheduleRepository {
	return &reviewScheduleRepository{db: db}
}

// Save 保存复审计划
func (r *reviewScheduleRepository) Save(schedule *model.ReviewScheduleModel) error {
	return r.db.Save(schedule).Error
}

// FindByRecordID 根据记录 ID 查找复审计划
func (r *reviewScheduleRepository) FindByRecordID(recordID string) (*model.ReviewScheduleModel, error) {
	var schedule model.ReviewScheduleModel
	if err := r.db.Where("record_id = ?", recordID).First(&schedule).Error; err != nil {
		return nil, err
	}
	return &schedule, nil
}

// FindActive 查找全部生效中的复审计划
func (r *reviewScheduleRepository) FindActive() ([]*model.ReviewScheduleModel, error) {
	var schedules []*model.ReviewScheduleModel
	err := r.db.Where("active = ?", true).Order("next_due_date ASC").Find(&schedules).Error
	return schedules, err
}

// FindOverdue 查找已标记过期的复审计划
func (r *reviewScheduleRepository) FindOverdue() ([]*model.ReviewScheduleModel, error) {
	var schedules []*model.ReviewScheduleModel
	err := r.db.Where("active = ? AND overdue = ?", true, true).Order("next_due_date ASC").Find(&schedules).Error
	return schedules, err
}

// UpdateOverdue 只更新过期标记
func (r *reviewScheduleRepository) UpdateOverdue(recordID string, overdue bool) error {
	return r.db.Model(&model.ReviewScheduleModel{}).
		Where("record_id = ?", recordID).
		Update("overdue", overdue).Error
}
