package repository

import (
	"database/sql"

	"github.com/mautops/qms-gin/internal/model"
	"gorm.io/gorm"
)

// AuditEntryRepository 审计日志仓储接口
// 只提供追加与查询, 不提供更新和删除
type AuditEntryRepository interface {
	Create(entry *model.AuditEntryModel) error
	Exists(entryID int64) (bool, error)
	MaxEntryID() (int64, error)
	FindLatestByRecord(recordID string) (*model.AuditEntryModel, error)
	FindPage(recordID string, afterEntryID int64, limit int) ([]*model.AuditEntryModel, error)
	FindByJournalID(journalID string) ([]*model.AuditEntryModel, error)
	FindByActor(actorID string, limit int) ([]*model.AuditEntryModel, error)
}

// auditEntryRepository 审计日志仓储实现
type auditEntryRepository struct {
	db *gorm.DB
}

// NewAuditEntryRepository 创建审计日志仓储
func NewAuditEntryRepository(db *gorm.DB) AuditEntryRepository {
	return &auditEntryRepository{db: db}
}

// Create 追加审计日志, entry_id 重复时由主键约束拒绝
func (r *auditEntryRepository) Create(entry *model.AuditEntryModel) error {
	return r.db.Create(entry).Error
}

// Exists 判断 entry_id 是否已使用
func (r *auditEntryRepository) Exists(entryID int64) (bool, error) {
	var count int64
	if err := r.db.Model(&model.AuditEntryModel{}).Where("entry_id = ?", entryID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// MaxEntryID 返回当前最大 entry_id
func (r *auditEntryRepository) MaxEntryID() (int64, error) {
	var max sql.NullInt64
	err := r.db.Model(&model.AuditEntryModel{}).Select("MAX(entry_id)").Row().Scan(&max)
	if err != nil {
		return 0, err
	}
	return max.Int64, nil
}

// FindLatestByRecord 查找记录的最后一条审计日志
func (r *auditEntryRepository) FindLatestByRecord(recordID string) (*model.AuditEntryModel, error) {
	var entry model.AuditEntryModel
	err := r.db.Where("record_id = ?", recordID).Order("entry_id DESC").First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// FindPage 按 entry_id 升序分页查询
func (r *auditEntryRepository) FindPage(recordID string, afterEntryID int64, limit int) ([]*model.AuditEntryModel, error) {
	var entries []*model.AuditEntryModel
	err := r.db.Where("record_id = ? AND entry_id > ?", recordID, afterEntryID).
		Order("entry_id ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// FindByJournalID 查找同一事务日志写入的审计日志
func (r *auditEntryRepository) FindByJournalID(journalID string) ([]*model.AuditEntryModel, error) {
	var entries []*model.AuditEntryModel
	err := r.db.Where("journal_id = ?", journalID).Order("entry_id ASC").Find(&entries).Error
	return entries, err
}

// FindByActor 查找操作人最近的审计日志
func (r *auditEntryRepository) FindByActor(actorID string, limit int) ([]*model.AuditEntryModel, error) {
	var entries []*model.AuditEntryModel
	err := r.db.Where("actor_id = ?", actorID).Order("entry_id DESC").Limit(limit).Find(&entries).Error
	return entries, err
}
