package repository_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/mautops/qms-gin/internal/database"
	"github.com/mautops/qms-gin/internal/model"
	"github.com/mautops/qms-gin/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

func newRecord(id, kind, owner string, created time.Time) *model.RecordModel {
	return &model.RecordModel{
		RecordID:         id,
		Kind:             kind,
		Prefix:           "SOP",
		Title:            "title " + id,
		OwnerID:          owner,
		CurrentVersionID: "v-" + id,
		State:            "draft",
		CreatedBy:        owner,
		CreatedAt:        created,
		UpdatedAt:        created,
	}
}

// TestRecordRepository_CreateFind 测试创建与查找
func TestRecordRepository_CreateFind(t *testing.T) {
	repo := repository.NewRecordRepository(setupDB(t))
	now := time.Now().UTC()

	require.NoError(t, repo.Create(newRecord("SOP-2025-001", "document", "alice", now)))
	// 主键冲突
	assert.Error(t, repo.Create(newRecord("SOP-2025-001", "document", "bob", now)))

	found, err := repo.FindByID("SOP-2025-001")
	require.NoError(t, err)
	assert.Equal(t, "alice", found.OwnerID)

	exists, err := repo.Exists("SOP-2025-001")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.Exists("SOP-2025-404")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = repo.FindByID("SOP-2025-404")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

// TestRecordRepository_Claim 测试修订号条件占用
func TestRecordRepository_Claim(t *testing.T) {
	repo := repository.NewRecordRepository(setupDB(t))
	require.NoError(t, repo.Create(newRecord("CAPA-0001", "capa", "alice", time.Now().UTC())))

	// 修订号不匹配
	ok, err := repo.Claim("CAPA-0001", 3, "journal-1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.Claim("CAPA-0001", 0, "journal-1")
	require.NoError(t, err)
	assert.True(t, ok)

	// 存在未完成的事务日志
	ok, err = repo.Claim("CAPA-0001", 1, "journal-2")
	require.NoError(t, err)
	assert.False(t, ok)

	pending, err := repo.FindPending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "journal-1", *pending[0].PendingJournalID)

	require.NoError(t, repo.ClearPending("journal-1"))
	ok, err = repo.Claim("CAPA-0001", 1, "journal-2")
	require.NoError(t, err)
	assert.True(t, ok)

	found, err := repo.FindByID("CAPA-0001")
	require.NoError(t, err)
	assert.Equal(t, int64(2), found.Revision)
}

// TestRecordRepository_Flag 测试完整性标记
func TestRecordRepository_Flag(t *testing.T) {
	repo := repository.NewRecordRepository(setupDB(t))
	require.NoError(t, repo.Create(newRecord("SOP-2025-002", "document", "alice", time.Now().UTC())))

	require.NoError(t, repo.Flag("SOP-2025-002", "audit_hash_mismatch"))
	require.NoError(t, repo.Flag("SOP-2025-002", "orphaned_version_pointer"))

	found, err := repo.FindByID("SOP-2025-002")
	require.NoError(t, err)
	assert.True(t, found.IntegrityFlag)
	assert.Equal(t, "audit_hash_mismatch", found.IntegrityReason)

	// Save 不覆盖标记
	found.Title = "renamed"
	found.IntegrityFlag = false
	require.NoError(t, repo.Save(found))
	found, err = repo.FindByID("SOP-2025-002")
	require.NoError(t, err)
	assert.True(t, found.IntegrityFlag)
	assert.Equal(t, "renamed", found.Title)

	// 已标记的记录不能被占用
	ok, err := repo.Claim("SOP-2025-002", found.Revision, "journal-3")
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestRecordRepository_FindByFilter 测试过滤、排序和分页
func TestRecordRepository_FindByFilter(t *testing.T) {
	repo := repository.NewRecordRepository(setupDB(t))
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= 5; i++ {
		owner := "alice"
		if i%2 == 0 {
			owner = "bob"
		}
		require.NoError(t, repo.Create(newRecord(fmt.Sprintf("SOP-2025-%03d", i), "document", owner, base.Add(time.Duration(i)*time.Hour))))
	}
	require.NoError(t, repo.Create(newRecord("CAPA-0001", "capa", "alice", base)))

	kind := "document"
	records, total, err := repo.FindByFilter(&repository.RecordFilter{Kind: &kind, PageSize: 2, SortBy: "record_id", Order: "asc"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, records, 2)
	assert.Equal(t, "SOP-2025-001", records[0].RecordID)

	records, _, err = repo.FindByFilter(&repository.RecordFilter{Kind: &kind, Page: 3, PageSize: 2, SortBy: "record_id", Order: "asc"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "SOP-2025-005", records[0].RecordID)

	owner := "bob"
	_, total, err = repo.FindByFilter(&repository.RecordFilter{OwnerID: &owner})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	// 默认按创建时间倒序
	records, _, err = repo.FindByFilter(nil)
	require.NoError(t, err)
	require.NotEmpty(t, records)
	assert.Equal(t, "SOP-2025-005", records[0].RecordID)

	_, _, err = repo.FindByFilter(&repository.RecordFilter{SortBy: "owner_id; DROP TABLE records"})
	assert.Error(t, err)
}

// TestSequenceRepository 测试序号分配连续且按作用域独立
func TestSequenceRepository(t *testing.T) {
	repo := repository.NewSequenceRepository(setupDB(t))

	next, err := repo.Peek("document:SOP:2025")
	require.NoError(t, err)
	assert.Equal(t, int64(1), next)

	for want := int64(1); want <= 3; want++ {
		got, err := repo.Next("document:SOP:2025")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	got, err := repo.Next("capa")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)

	next, err = repo.Peek("document:SOP:2025")
	require.NoError(t, err)
	assert.Equal(t, int64(4), next)
}
