package blob_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mautops/qms-gin/internal/blob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFSStore_PutGet 测试写入与读取
func TestFSStore_PutGet(t *testing.T) {
	store, err := blob.NewFSStore(t.TempDir(), 0)
	require.NoError(t, err)
	ctx := context.Background()

	ref, err := store.Put(ctx, []byte("SOP-2025-001 rev 1"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "sha256:"))
	assert.Len(t, ref, len("sha256:")+64)

	data, err := store.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "SOP-2025-001 rev 1", string(data))

	// 相同内容得到相同引用
	again, err := store.Put(ctx, []byte("SOP-2025-001 rev 1"))
	require.NoError(t, err)
	assert.Equal(t, ref, again)

	ok, err := store.Exists(ctx, ref)
	require.NoError(t, err)
	assert.True(t, ok)

	// 不留下临时文件
	var tmp []string
	require.NoError(t, filepath.Walk(store.Dir(), func(path string, info os.FileInfo, err error) error {
		if strings.HasSuffix(path, ".tmp") {
			tmp = append(tmp, path)
		}
		return err
	}))
	assert.Empty(t, tmp)
}

// TestFSStore_Errors 测试错误
func TestFSStore_Errors(t *testing.T) {
	store, err := blob.NewFSStore(t.TempDir(), 8)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Put(ctx, []byte("more than eight bytes"))
	assert.ErrorIs(t, err, blob.ErrTooLarge)

	_, err = store.Get(ctx, "md5:abc")
	assert.ErrorIs(t, err, blob.ErrInvalidRef)

	_, err = store.Get(ctx, "sha256:"+strings.Repeat("0", 64))
	assert.ErrorIs(t, err, blob.ErrNotFound)

	ok, err := store.Exists(ctx, "sha256:"+strings.Repeat("0", 64))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = blob.NewFSStore("", 0)
	assert.Error(t, err)
}

// TestFSStore_Corrupted 测试读取时校验内容
func TestFSStore_Corrupted(t *testing.T) {
	store, err := blob.NewFSStore(t.TempDir(), 0)
	require.NoError(t, err)
	ctx := context.Background()

	ref, err := store.Put(ctx, []byte("original"))
	require.NoError(t, err)
	digest, err := blob.ParseRef(ref)
	require.NoError(t, err)

	path := filepath.Join(store.Dir(), digest[:2], digest[2:4], digest)
	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0o600))

	_, err = store.Get(ctx, ref)
	assert.ErrorIs(t, err, blob.ErrCorrupted)
}

// TestFSStore_Cancelled 测试已取消的上下文
func TestFSStore_Cancelled(t *testing.T) {
	store, err := blob.NewFSStore(t.TempDir(), 0)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = store.Put(ctx, []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
}
