package audit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mautops/qms-gin/internal/audit"
	"github.com/mautops/qms-gin/internal/database"
	"github.com/mautops/qms-gin/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupRecorder(t *testing.T) (*audit.Recorder, *gorm.DB) {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	return audit.NewRecorder(db), db
}

func entry(recordID, event string) audit.Entry {
	return audit.Entry{
		RecordID:    recordID,
		VersionID:   "v1",
		ActorID:     "alice",
		EventType:   event,
		BeforeState: "draft",
		AfterState:  "in_review",
		Payload:     map[string]interface{}{"round": 1, "signers": []string{"bob", "carol"}},
	}
}

// TestRecorder_Record 测试写入与自动分配 entry_id
func TestRecorder_Record(t *testing.T) {
	rec, _ := setupRecorder(t)
	ctx := context.Background()

	first, err := rec.Record(ctx, entry("SOP-2025-001", "version.submitted"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.EntryID)
	assert.Empty(t, first.PrevHash)
	assert.Len(t, first.PayloadHash, 64)

	second, err := rec.Record(ctx, entry("SOP-2025-001", "approval.signed"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.EntryID)
	assert.Equal(t, first.PayloadHash, second.PrevHash)

	// 不同记录各自成链
	other, err := rec.Record(ctx, entry("SOP-2025-002", "record.created"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), other.EntryID)
	assert.Empty(t, other.PrevHash)
}

// TestRecorder_Validation 测试必填字段
func TestRecorder_Validation(t *testing.T) {
	rec, _ := setupRecorder(t)
	_, err := rec.Record(context.Background(), audit.Entry{RecordID: "SOP-2025-001", EventType: "x"})
	assert.Error(t, err)
}

// TestRecorder_DuplicateEntryID 测试重复 entry_id 被拒绝
func TestRecorder_DuplicateEntryID(t *testing.T) {
	rec, _ := setupRecorder(t)
	ctx := context.Background()

	e := entry("SOP-2025-001", "record.created")
	e.EntryID = 42
	_, err := rec.Record(ctx, e)
	require.NoError(t, err)

	_, err = rec.Record(ctx, e)
	assert.ErrorIs(t, err, audit.ErrDuplicateEntryID)

	// 自动分配从已用的最大值之后继续
	next, err := rec.Record(ctx, entry("SOP-2025-001", "version.edited"))
	require.NoError(t, err)
	assert.Equal(t, int64(43), next.EntryID)
}

// TestRecorder_OutOfOrder 测试同一记录内 entry_id 必须递增
func TestRecorder_OutOfOrder(t *testing.T) {
	rec, _ := setupRecorder(t)
	ctx := context.Background()

	e := entry("SOP-2025-001", "record.created")
	e.EntryID = 10
	_, err := rec.Record(ctx, e)
	require.NoError(t, err)

	e.EntryID = 5
	_, err = rec.Record(ctx, e)
	assert.ErrorIs(t, err, audit.ErrOutOfOrder)
}

// TestRecorder_SeedFromExisting 测试计数器从已有最大值初始化
func TestRecorder_SeedFromExisting(t *testing.T) {
	rec, db := setupRecorder(t)
	ctx := context.Background()

	e := entry("SOP-2025-001", "record.created")
	e.EntryID = 7
	_, err := rec.Record(ctx, e)
	require.NoError(t, err)

	fresh := audit.NewRecorder(db)
	got, err := fresh.Record(ctx, entry("SOP-2025-001", "version.edited"))
	require.NoError(t, err)
	assert.Equal(t, int64(8), got.EntryID)
}

// TestRecorder_SharedStore 测试两个写入方共用存储时 entry_id 不冲突
func TestRecorder_SharedStore(t *testing.T) {
	server, db := setupRecorder(t)
	cli := audit.NewRecorder(db)
	ctx := context.Background()

	var ids []int64
	for _, w := range []*audit.Recorder{server, cli, server, cli, server} {
		got, err := w.Record(ctx, entry("SOP-2025-001", "version.edited"))
		require.NoError(t, err)
		ids = append(ids, got.EntryID)
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, ids)

	n, err := server.Verify(ctx, "SOP-2025-001")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

// TestRecorder_Concurrent 测试并发写入保持单调
func TestRecorder_Concurrent(t *testing.T) {
	rec, _ := setupRecorder(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "SOP-2025-001"
			if i%2 == 1 {
				id = "SOP-2025-002"
			}
			_, err := rec.Record(ctx, entry(id, "version.edited"))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	for _, id := range []string{"SOP-2025-001", "SOP-2025-002"} {
		n, err := rec.Verify(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 10, n)
	}
}

// TestHistoryCursor 测试游标惰性分页与重置
func TestHistoryCursor(t *testing.T) {
	rec, _ := setupRecorder(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := rec.Record(ctx, entry("SOP-2025-001", "version.edited"))
		require.NoError(t, err)
	}
	_, err := rec.Record(ctx, entry("SOP-2025-009", "version.edited"))
	require.NoError(t, err)

	cur := rec.QueryHistory(ctx, "SOP-2025-001").WithPageSize(2)
	var ids []int64
	for cur.Next() {
		ids = append(ids, cur.Entry().EntryID)
	}
	require.NoError(t, cur.Err())
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, ids)
	assert.False(t, cur.Next())
	assert.Nil(t, cur.Entry())

	cur.Reset()
	all, err := cur.Collect()
	require.NoError(t, err)
	assert.Len(t, all, 5)

	empty, err := rec.QueryHistory(ctx, "SOP-2099-001").Collect()
	require.NoError(t, err)
	assert.Empty(t, empty)
}

// TestHistoryCursor_TamperDetection 测试篡改检测
func TestHistoryCursor_TamperDetection(t *testing.T) {
	rec, db := setupRecorder(t)
	ctx := context.Background()

	var flagged []*audit.MismatchError
	rec.OnMismatch(func(_ context.Context, err *audit.MismatchError) {
		flagged = append(flagged, err)
	})

	for i := 0; i < 3; i++ {
		_, err := rec.Record(ctx, entry("SOP-2025-001", "version.edited"))
		require.NoError(t, err)
	}

	// 绕过记录器直接修改存储
	require.NoError(t, db.Model(&model.AuditEntryModel{}).Where("entry_id = ?", 2).
		Update("after_state", "effective").Error)

	cur := rec.QueryHistory(ctx, "SOP-2025-001")
	require.True(t, cur.Next())
	assert.Equal(t, int64(1), cur.Entry().EntryID)
	assert.False(t, cur.Next())

	err := cur.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, audit.ErrHashMismatch)

	var mismatch *audit.MismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, int64(2), mismatch.EntryID)
	require.Len(t, flagged, 1)

	_, err = rec.Verify(ctx, "SOP-2025-001")
	assert.ErrorIs(t, err, audit.ErrHashMismatch)
}

// TestHistoryCursor_DeletedEntry 测试删除中间日志破坏链接
func TestHistoryCursor_DeletedEntry(t *testing.T) {
	rec, db := setupRecorder(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := rec.Record(ctx, entry("SOP-2025-001", "version.edited"))
		require.NoError(t, err)
	}
	require.NoError(t, db.Exec("DELETE FROM audit_entries WHERE entry_id = 2").Error)

	_, err := rec.Verify(ctx, "SOP-2025-001")
	assert.ErrorIs(t, err, audit.ErrHashMismatch)
}

// TestComputeHash_Deterministic 测试哈希与键顺序和时区无关
func TestComputeHash_Deterministic(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 0, 0, 123456789, time.FixedZone("CST", 8*3600))
	a := &model.AuditEntryModel{EntryID: 1, RecordID: "SOP-2025-001", ActorID: "alice", EventType: "x", Timestamp: ts, Payload: []byte(`{"b":1,"a":[1,2]}`)}
	b := *a
	b.Payload = []byte(`{ "a": [1, 2], "b": 1 }`)
	b.Timestamp = ts.UTC().Truncate(time.Microsecond)

	ha, err := audit.ComputeHash(a)
	require.NoError(t, err)
	hb, err := audit.ComputeHash(&b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)

	b.ActorID = "mallory"
	hc, err := audit.ComputeHash(&b)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hc)
}
