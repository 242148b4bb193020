package service

import (
	"context"
	"fmt"

	"github.com/mautops/qms-gin/internal/lifecycle"
	"github.com/mautops/qms-gin/internal/model"
	"gorm.io/gorm"
)

// StatisticsService 统计服务接口
type StatisticsService interface {
	RecordsByState(ctx context.Context) ([]*RecordStatisticsByState, error)
	ApprovalStatistics(ctx context.Context) (*ApprovalStatistics, error)
	OverdueStatistics(ctx context.Context) (*OverdueStatistics, error)
}

// RecordStatisticsByState 按类别和状态统计
type RecordStatisticsByState struct {
	Kind  string `json:"kind"`
	State string `json:"state"`
	Count int64  `json:"count"`
}

// ApprovalStatistics 签名统计, 不含待签占位
type ApprovalStatistics struct {
	TotalSignatures int64   `json:"total_signatures"`
	ApprovedCount   int64   `json:"approved_count"`
	RejectedCount   int64   `json:"rejected_count"`
	PendingCount    int64   `json:"pending_count"`
	ApprovalRate    float64 `json:"approval_rate"`
}

// OverdueStatistics 过期统计, 以最近一次扫描的标记为准
type OverdueStatistics struct {
	OverdueReviews int64 `json:"overdue_reviews"`
	OpenCapas      int64 `json:"open_capas"`
	FlaggedRecords int64 `json:"flagged_records"`
}

// statisticsService 统计服务实现
type statisticsService struct {
	db *gorm.DB
}

// NewStatisticsService 创建统计服务
func NewStatisticsService(db *gorm.DB) StatisticsService {
	return &statisticsService{db: db}
}

// RecordsByState 按类别和状态统计记录
func (s *statisticsService) RecordsByState(ctx context.Context) ([]*RecordStatisticsByState, error) {
	var results []*RecordStatisticsByState
	err := s.db.WithContext(ctx).Model(&model.RecordModel{}).
		Select("kind, state, COUNT(*) as count").
		Group("kind, state").
		Order("kind, state").
		Scan(&results).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get record statistics by state: %w", err)
	}
	return results, nil
}

// ApprovalStatistics 获取签名统计
func (s *statisticsService) ApprovalStatistics(ctx context.Context) (*ApprovalStatistics, error) {
	var results []struct {
		Decision string
		Count    int64
	}
	err := s.db.WithContext(ctx).Model(&model.ApprovalEventModel{}).
		Select("decision, COUNT(*) as count").
		Group("decision").
		Scan(&results).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get approval statistics: %w", err)
	}

	stats := &ApprovalStatistics{}
	for _, r := range results {
		switch lifecycle.Decision(r.Decision) {
		case lifecycle.DecisionApproved:
			stats.ApprovedCount = r.Count
		case lifecycle.DecisionRejected:
			stats.RejectedCount = r.Count
		case lifecycle.DecisionPending:
			stats.PendingCount = r.Count
		}
	}
	stats.TotalSignatures = stats.ApprovedCount + stats.RejectedCount
	if stats.TotalSignatures > 0 {
		stats.ApprovalRate = float64(stats.ApprovedCount) / float64(stats.TotalSignatures) * 100
	}
	return stats, nil
}

// OverdueStatistics 获取过期统计
func (s *statisticsService) OverdueStatistics(ctx context.Context) (*OverdueStatistics, error) {
	db := s.db.WithContext(ctx)
	stats := &OverdueStatistics{}

	if err := db.Model(&model.ReviewScheduleModel{}).
		Where("active = ? AND overdue = ?", true, true).
		Count(&stats.OverdueReviews).Error; err != nil {
		return nil, fmt.Errorf("failed to count overdue reviews: %w", err)
	}
	if err := db.Model(&model.CapaModel{}).
		Where("state NOT IN ?", []string{string(lifecycle.CapaClosed), string(lifecycle.CapaCancelled)}).
		Count(&stats.OpenCapas).Error; err != nil {
		return nil, fmt.Errorf("failed to count open capas: %w", err)
	}
	if err := db.Model(&model.RecordModel{}).
		Where("integrity_flag = ?", true).
		Count(&stats.FlaggedRecords).Error; err != nil {
		return nil, fmt.Errorf("failed to count flagged records: %w", err)
	}
	return stats, nil
}
