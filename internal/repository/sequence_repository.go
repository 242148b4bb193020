package repository

import (
	"errors"

	"github.com/mautops/qms-gin/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SequenceRepository 编号序列仓储接口
type SequenceRepository interface {
	Next(scope string) (int64, error)
	Peek(scope string) (int64, error)
}

// sequenceRepository 编号序列仓储实现
type sequenceRepository struct {
	db *gorm.DB
}

// NewSequenceRepository 创建编号序列仓储
func NewSequenceRepository(db *gorm.DB) SequenceRepository {
	return &sequenceRepository{db: db}
}

// Next 分配下一个序号, 应在事务中调用
func (r *sequenceRepository) Next(scope string) (int64, error) {
	// 1. 初始化序列
	err := r.db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.SequenceModel{Scope: scope, NextValue: 1}).Error
	if err != nil {
		return 0, err
	}

	// 2. 原子递增
	err = r.db.Model(&model.SequenceModel{}).
		Where("scope = ?", scope).
		UpdateColumn("next_value", gorm.Expr("next_value + 1")).Error
	if err != nil {
		return 0, err
	}

	// 3. 读取分配结果
	var seq model.SequenceModel
	if err := r.db.Where("scope = ?", scope).First(&seq).Error; err != nil {
		return 0, err
	}
	return seq.NextValue - 1, nil
}

// Peek 返回下一个将要分配的序号
func (r *sequenceRepository) Peek(scope string) (int64, error) {
	var seq model.SequenceModel
	err := r.db.Where("scope = ?", scope).First(&seq).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return seq.NextValue, nil
}
