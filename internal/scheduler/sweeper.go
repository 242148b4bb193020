package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mautops/qms-gin/internal/lifecycle"
	"github.com/mautops/qms-gin/internal/metrics"
	"github.com/mautops/qms-gin/internal/repository"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SweepReport 一次扫描的结果
type SweepReport struct {
	SchedulesChecked int       `json:"schedules_checked" yaml:"schedules_checked"`
	OverdueReviews   []string  `json:"overdue_reviews" yaml:"overdue_reviews"`
	OverdueCapas     []string  `json:"overdue_capas" yaml:"overdue_capas"`
	FollowUpsDue     []string  `json:"follow_ups_due" yaml:"follow_ups_due"`
	SweptAt          time.Time `json:"swept_at" yaml:"swept_at"`
}

// Sweeper 后台扫描过期复审和 CAPA
type Sweeper struct {
	db       *gorm.DB
	interval time.Duration
	now      func() time.Time
	logger   *logrus.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewSweeper 创建扫描器
func NewSweeper(db *gorm.DB, interval time.Duration, logger *logrus.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Sweeper{db: db, interval: interval, now: time.Now, logger: logger}
}

// SetClock 设置时间来源
func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Start 启动后台扫描
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.wg.Add(1)
	go s.loop(s.stopCh)
	s.logger.WithField("interval", s.interval.String()).Info("review sweeper started")
}

// Stop 停止后台扫描
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("review sweeper stopped")
}

func (s *Sweeper) loop(stop <-chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(context.Background()); err != nil {
				s.logger.WithError(err).Error("review sweep failed")
			}
		}
	}
}

// SweepOnce 执行一次扫描
func (s *Sweeper) SweepOnce(ctx context.Context) (*SweepReport, error) {
	now := s.now().UTC()
	db := s.db.WithContext(ctx)
	schedules := repository.NewReviewScheduleRepository(db)
	capas := repository.NewCapaRepository(db)

	report := &SweepReport{SweptAt: now}

	// 1. 周期复审
	active, err := schedules.FindActive()
	if err != nil {
		return nil, fmt.Errorf("failed to list active schedules: %w", err)
	}
	report.SchedulesChecked = len(active)
	for _, sched := range active {
		if Recompute(sched, now) {
			if err := schedules.UpdateOverdue(sched.RecordID, sched.Overdue); err != nil {
				return nil, fmt.Errorf("failed to update schedule %s: %w", sched.RecordID, err)
			}
		}
		if sched.Overdue {
			report.OverdueReviews = append(report.OverdueReviews, sched.RecordID)
		}
	}

	// 2. CAPA 到期
	open := []string{
		string(lifecycle.CapaOpen),
		string(lifecycle.CapaInProgress),
		string(lifecycle.CapaPendingEffectivenessReview),
	}
	overdue, err := capas.FindOverdue(Day(now), open)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue capas: %w", err)
	}
	for _, c := range overdue {
		report.OverdueCapas = append(report.OverdueCapas, c.RecordID)
	}

	// 3. 效果复审跟进
	followUps, err := capas.FindFollowUpsDue(Day(now), string(lifecycle.CapaPendingEffectivenessReview))
	if err != nil {
		return nil, fmt.Errorf("failed to list capa follow-ups: %w", err)
	}
	for _, c := range followUps {
		report.FollowUpsDue = append(report.FollowUpsDue, c.RecordID)
	}

	metrics.SetOverdue("review", len(report.OverdueReviews))
	metrics.SetOverdue("capa_due", len(report.OverdueCapas))
	metrics.SetOverdue("capa_follow_up", len(report.FollowUpsDue))

	s.logger.WithFields(logrus.Fields{
		"schedules": report.SchedulesChecked,
		"reviews":   len(report.OverdueReviews),
		"capas":     len(report.OverdueCapas),
		"follow_up": len(report.FollowUpsDue),
	}).Debug("review sweep completed")

	return report, nil
}
