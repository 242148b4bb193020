package container_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/mautops/qms-gin/internal/config"
	"github.com/mautops/qms-gin/internal/container"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = filepath.Join(dir, "qms.db")
	cfg.Blob.Dir = filepath.Join(dir, "blobs")
	cfg.Log.Level = "error"
	cfg.Scheduler.Enabled = false
	return cfg
}

// TestContainer_NewContainer 测试基于 SQLite 创建容器
func TestContainer_NewContainer(t *testing.T) {
	c, err := container.NewContainer(sqliteConfig(t))
	require.NoError(t, err)
	defer c.Close()

	assert.NotNil(t, c.DB(), "database should be initialized")
	assert.NotNil(t, c.Engine(), "engine should be initialized")
	assert.NotNil(t, c.Logger(), "logger should be initialized")
	assert.NotNil(t, c.Sweeper(), "sweeper should be initialized")
	assert.NotNil(t, c.Hub(), "hub should be initialized")
}

// TestContainer_StartAndServe 测试启动后台组件并提供 HTTP 路由
func TestContainer_StartAndServe(t *testing.T) {
	c, err := container.NewContainer(sqliteConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Start(ctx))

	router := c.Router()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/records", nil)
	req.Header.Set("X-Actor-ID", "alice")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.NoError(t, c.Close())
}

// TestContainer_InvalidDriver 测试不支持的数据库驱动
func TestContainer_InvalidDriver(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.Database.Driver = "oracle"

	_, err := container.NewContainer(cfg)
	assert.Error(t, err)
}
