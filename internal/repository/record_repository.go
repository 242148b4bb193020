package repository

import (
	"fmt"

	"github.com/mautops/qms-gin/internal/model"
	"github.com/mautops/qms-gin/internal/utils"
	"gorm.io/gorm"
)

// RecordRepository 受控记录仓储接口
type RecordRepository interface {
	Create(record *model.RecordModel) error
	Save(record *model.RecordModel) error
	FindByID(id string) (*model.RecordModel, error)
	Exists(id string) (bool, error)
	Claim(id string, expectedRevision int64, journalID string) (bool, error)
	ClearPending(journalID string) error
	Flag(id string, reason string) error
	FindPending() ([]*model.RecordModel, error)
	FindByFilter(filter *RecordFilter) ([]*model.RecordModel, int64, error)
}

// RecordFilter 记录查询过滤器
type RecordFilter struct {
	Kind     *string
	State    *string
	OwnerID  *string
	Prefix   *string
	Flagged  *bool
	Page     int
	PageSize int
	SortBy   string
	Order    string
}

// recordRepository 受控记录仓储实现
type recordRepository struct {
	db *gorm.DB
}

// NewRecordRepository 创建受控记录仓储
func NewRecordRepository(db *gorm.DB) RecordRepository {
	return &recordRepository{db: db}
}

// Create 创建记录, 主键冲突时返回错误
func (r *recordRepository) Create(record *model.RecordModel) error {
	return r.db.Create(record).Error
}

// Save 保存记录
// 完整性标记只由 Flag 写入, 此处不覆盖
func (r *recordRepository) Save(record *model.RecordModel) error {
	return r.db.Omit("integrity_flag", "integrity_reason").Save(record).Error
}

// FindByID 根据 ID 查找记录
func (r *recordRepository) FindByID(id string) (*model.RecordModel, error) {
	var record model.RecordModel
	if err := r.db.Where("record_id = ?", id).First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// Exists 判断记录是否存在
func (r *recordRepository) Exists(id string) (bool, error) {
	var count int64
	if err := r.db.Model(&model.RecordModel{}).Where("record_id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Claim 以条件更新占用记录: 修订号匹配且没有未完成的事务日志时修订号加一
func (r *recordRepository) Claim(id string, expectedRevision int64, journalID string) (bool, error) {
	result := r.db.Model(&model.RecordModel{}).
		Where("record_id = ? AND revision = ? AND pending_journal_id IS NULL AND integrity_flag = ?", id, expectedRevision, false).
		Updates(map[string]interface{}{
			"revision":           gorm.Expr("revision + 1"),
			"pending_journal_id": journalID,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ClearPending 清除指向事务日志的占用标记
func (r *recordRepository) ClearPending(journalID string) error {
	return r.db.Model(&model.RecordModel{}).
		Where("pending_journal_id = ?", journalID).
		Update("pending_journal_id", nil).Error
}

// Flag 标记记录需要人工介入, 已有标记时保留首次原因
func (r *recordRepository) Flag(id string, reason string) error {
	return r.db.Model(&model.RecordModel{}).
		Where("record_id = ? AND integrity_flag = ?", id, false).
		Updates(map[string]interface{}{
			"integrity_flag":   true,
			"integrity_reason": reason,
		}).Error
}

// FindPending 查找存在未完成事务日志的记录
func (r *recordRepository) FindPending() ([]*model.RecordModel, error) {
	var records []*model.RecordModel
	err := r.db.Where("pending_journal_id IS NOT NULL").Order("record_id ASC").Find(&records).Error
	return records, err
}

// FindByFilter 根据过滤器分页查找记录
func (r *recordRepository) FindByFilter(filter *RecordFilter) ([]*model.RecordModel, int64, error) {
	if filter == nil {
		filter = &RecordFilter{}
	}
	query := r.db.Model(&model.RecordModel{})

	if filter.Kind != nil {
		query = query.Where("kind = ?", *filter.Kind)
	}
	if filter.State != nil {
		query = query.Where("state = ?", *filter.State)
	}
	if filter.OwnerID != nil {
		query = query.Where("owner_id = ?", *filter.OwnerID)
	}
	if filter.Prefix != nil {
		query = query.Where("prefix = ?", *filter.Prefix)
	}
	if filter.Flagged != nil {
		query = query.Where("integrity_flag = ?", *filter.Flagged)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count records: %w", err)
	}

	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	if err := utils.ValidateSortField(sortBy, utils.RecordSortFields); err != nil {
		return nil, 0, fmt.Errorf("invalid sort field: %w", err)
	}
	order := utils.SanitizeSortOrder(filter.Order)

	page, pageSize := filter.Page, filter.PageSize
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	var records []*model.RecordModel
	err := query.Order(sortBy + " " + order).
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&records).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query records: %w", err)
	}
	return records, total, nil
}
