package repository

import (
	"time"

	"github.com/mautops/qms-gin/internal/model"
	"gorm.io/gorm"
)

// JournalRepository 事务日志仓储接口
type JournalRepository interface {
	Create(entry *model.JournalEntryModel) error
	FindByID(id string) (*model.JournalEntryModel, error)
	FindPending() ([]*model.JournalEntryModel, error)
	MarkCompleted(id string, status string, errMsg string, at time.Time) error
}

// journalRepository 事务日志仓储实现
type journalRepository struct {
	db *gorm.DB
}

// NewJournalRepository 创建事务日志仓储
func NewJournalRepository(db *gorm.DB) JournalRepository {
	return &journalRepository{db: db}
}

// Create 写入事务日志
func (r *journalRepository) Create(entry *model.JournalEntryModel) error {
	return r.db.Create(entry).Error
}

// FindByID 根据 ID 查找事务日志
func (r *journalRepository) FindByID(id string) (*model.JournalEntryModel, error) {
	var entry model.JournalEntryModel
	if err := r.db.Where("id = ?", id).First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// FindPending 按开始时间查找未完成的事务日志
func (r *journalRepository) FindPending() ([]*model.JournalEntryModel, error) {
	var entries []*model.JournalEntryModel
	err := r.db.Where("status = ?", model.JournalPending).Order("started_at ASC").Find(&entries).Error
	return entries, err
}

// MarkCompleted 只从 pending 状态更新为终态
func (r *journalRepository) MarkCompleted(id string, status string, errMsg string, at time.Time) error {
	return r.db.Model(&model.JournalEntryModel{}).
		Where("id = ? AND status = ?", id, model.JournalPending).
		Updates(map[string]interface{}{
			"status":       status,
			"error":        errMsg,
			"completed_at": at,
		}).Error
}
