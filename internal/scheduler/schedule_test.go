package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/mautops/qms-gin/internal/database"
	"github.com/mautops/qms-gin/internal/model"
	"github.com/mautops/qms-gin/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNextDueDate(t *testing.T) {
	tests := []struct {
		name    string
		cadence int
		eff     time.Time
		want    time.Time
	}{
		{"sop two years", 730, date(2025, 3, 1), date(2027, 3, 1)},
		{"one year", 365, date(2025, 1, 15), date(2026, 1, 15)},
		{"time of day ignored", 30, time.Date(2025, 1, 31, 23, 59, 0, 0, time.UTC), date(2025, 3, 2)},
		{"zero cadence uses default", 0, date(2025, 1, 1), date(2026, 1, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextDueDate(tt.cadence, tt.eff))
		})
	}
}

func TestDay_ConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	got := Day(time.Date(2025, 6, 1, 3, 0, 0, 0, loc))
	assert.Equal(t, date(2025, 5, 31), got)
}

func TestRecompute(t *testing.T) {
	s := &model.ReviewScheduleModel{RecordID: "SOP-2025-001", CadenceDays: 365, NextDueDate: date(2025, 6, 1), Active: true}

	assert.False(t, Recompute(s, date(2025, 6, 1)))
	assert.False(t, s.Overdue)

	assert.True(t, Recompute(s, date(2025, 6, 2)))
	assert.True(t, s.Overdue)

	s.Active = false
	assert.True(t, Recompute(s, date(2025, 6, 2)))
	assert.False(t, s.Overdue)
}

func TestNewSchedule_KeepsHistory(t *testing.T) {
	now := date(2026, 1, 1)
	completed := date(2025, 12, 1)
	existing := &model.ReviewScheduleModel{
		RecordID: "SOP-2025-001", CadenceDays: 730, NextDueDate: date(2025, 1, 1),
		LastCompletedAt: &completed, Overdue: true, Active: false, CreatedAt: date(2023, 1, 1),
	}

	s := NewSchedule(existing, "SOP-2025-001", 730, now, now)
	assert.True(t, s.Active)
	assert.False(t, s.Overdue)
	assert.Equal(t, date(2028, 1, 1), s.NextDueDate)
	assert.Equal(t, date(2023, 1, 1), s.CreatedAt)
	require.NotNil(t, s.LastCompletedAt)
}

func TestComplete(t *testing.T) {
	s := model.ReviewScheduleModel{RecordID: "SOP-2025-001", CadenceDays: 365, NextDueDate: date(2025, 6, 1), Overdue: true, Active: true}
	got := Complete(s, date(2025, 7, 1), date(2025, 7, 1))
	assert.Equal(t, date(2026, 7, 1), got.NextDueDate)
	assert.False(t, got.Overdue)
	require.NotNil(t, got.LastCompletedAt)
}

func TestFollowUpDate(t *testing.T) {
	assert.Equal(t, date(2025, 2, 14), FollowUpDate(time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC), 30))
}

func TestSweeper_SweepOnce(t *testing.T) {
	db, err := database.OpenMemory()
	require.NoError(t, err)

	now := date(2025, 6, 10)
	schedules := repository.NewReviewScheduleRepository(db)
	require.NoError(t, schedules.Save(&model.ReviewScheduleModel{RecordID: "SOP-2025-001", CadenceDays: 365, NextDueDate: date(2025, 6, 1), Active: true, CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, schedules.Save(&model.ReviewScheduleModel{RecordID: "SOP-2025-002", CadenceDays: 365, NextDueDate: date(2026, 6, 1), Active: true, CreatedAt: now, UpdatedAt: now}))

	due := date(2025, 6, 1)
	follow := date(2025, 6, 9)
	capas := repository.NewCapaRepository(db)
	require.NoError(t, capas.Save(&model.CapaModel{RecordID: "CAPA-0001", TypeID: "corrective", State: "in_progress", DueDate: &due, CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, capas.Save(&model.CapaModel{RecordID: "CAPA-0002", TypeID: "corrective", State: "closed", DueDate: &due, CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, capas.Save(&model.CapaModel{RecordID: "CAPA-0003", TypeID: "preventive", State: "pending_effectiveness_review", NextReviewDate: &follow, CreatedAt: now, UpdatedAt: now}))

	s := NewSweeper(db, time.Minute, nil)
	s.SetClock(func() time.Time { return now })
	report, err := s.SweepOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.SchedulesChecked)
	assert.Equal(t, []string{"SOP-2025-001"}, report.OverdueReviews)
	assert.Equal(t, []string{"CAPA-0001"}, report.OverdueCapas)
	assert.Equal(t, []string{"CAPA-0003"}, report.FollowUpsDue)

	stored, err := schedules.FindByRecordID("SOP-2025-001")
	require.NoError(t, err)
	assert.True(t, stored.Overdue)
}

func TestSweeper_StartStop(t *testing.T) {
	db, err := database.OpenMemory()
	require.NoError(t, err)

	s := NewSweeper(db, 10*time.Millisecond, nil)
	s.Start()
	s.Start()
	time.Sleep(30 * time.Millisecond)
	s.Stop()
	s.Stop()
}
