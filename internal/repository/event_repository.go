package repository

import (
	"github.com/mautops/qms-gin/internal/model"
	"gorm.io/gorm"
)

// EventRepository 通知发件箱仓储接口
type EventRepository interface {
	Save(event *model.EventModel) error
	FindByID(id string) (*model.EventModel, error)
	FindByRecordID(recordID string) ([]*model.EventModel, error)
	FindPending(limit int) ([]*model.EventModel, error)
	CountByStatus(status string) (int64, error)
}

// eventRepository 通知发件箱仓储实现
type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository 创建通知发件箱仓储
func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{db: db}
}

// Save 保存事件
func (r *eventRepository) Save(event *model.EventModel) error {
	return r.db.Save(event).Error
}

// FindByID 根据 ID 查找事件
func (r *eventRepository) FindByID(id string) (*model.EventModel, error) {
	var event model.EventModel
	if err := r.db.Where("id = ?", id).First(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

// FindByRecordID 根据记录 ID 查找事件
func (r *eventRepository) FindByRecordID(recordID string) ([]*model.EventModel, error) {
	var events []*model.EventModel
	err := r.db.Where("record_id = ?", recordID).Order("created_at ASC").Find(&events).Error
	return events, err
}

// FindPending 查找待投递的事件
func (r *eventRepository) FindPending(limit int) ([]*model.EventModel, error) {
	var events []*model.EventModel
	query := r.db.Where("status = ?", model.EventPending).Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&events).Error
	return events, err
}

// CountByStatus 按状态统计事件
func (r *eventRepository) CountByStatus(status string) (int64, error) {
	var count int64
	err := r.db.Model(&model.EventModel{}).Where("status = ?", status).Count(&count).Error
	return count, err
}
