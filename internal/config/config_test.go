package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefault 测试默认配置
func TestDefault(t *testing.T) {
	cfg := Default()
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 70, cfg.CAPA.EffectivenessThreshold)
	assert.Equal(t, 30, cfg.CAPA.FollowUpDays)
	assert.Equal(t, "{PREFIX}-{YEAR}-{SEQ:3}", cfg.Lifecycle.NumberFormats["document"])
	assert.Equal(t, "CAPA-{SEQ:4}", cfg.Lifecycle.NumberFormats["capa"])
	assert.Equal(t, "AUD-{YEAR}-{SEQ:3}", cfg.Lifecycle.NumberFormats["audit"])
}

// TestCadenceFor 测试复审周期查找顺序
func TestCadenceFor(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 730, cfg.Lifecycle.CadenceFor("SOP", "document"))
	assert.Equal(t, 365, cfg.Lifecycle.CadenceFor("WI", "document"))
	assert.Equal(t, 365, cfg.Lifecycle.CadenceFor("CAPA", "capa"))
	assert.Equal(t, 365, cfg.Lifecycle.CadenceFor("X", "unknown"))
}

// TestLoad_FileAndEnv 测试配置文件与环境变量覆盖
func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: 9090
capa:
  effectiveness_threshold: 80
lifecycle:
  review_cadence:
    sop: 365
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	t.Setenv("APP_SERVER_HOST", "127.0.0.1")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 80, cfg.CAPA.EffectivenessThreshold)
	assert.Equal(t, 365, cfg.Lifecycle.CadenceFor("SOP", "document"))
}

// TestLoad_MissingFile 测试配置文件不存在
func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

// TestIsProduction 测试环境判断
func TestIsProduction(t *testing.T) {
	assert.False(t, IsProduction(nil))
	assert.True(t, IsProduction(&Config{Env: "production"}))
	assert.False(t, IsProduction(&Config{Env: "development"}))
}

// TestConfigWatcher_RequiresPath 测试监听器需要配置文件
func TestConfigWatcher_RequiresPath(t *testing.T) {
	_, err := NewConfigWatcher(Default(), "")
	assert.Error(t, err)
}

// TestConfigWatcher_Reload 测试变更回调
func TestConfigWatcher_Reload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("capa:\n  effectiveness_threshold: 75\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	w, err := NewConfigWatcher(cfg, path)
	require.NoError(t, err)

	var got int
	w.OnConfigChange(func(old, updated *Config) {
		assert.Equal(t, 75, old.CAPA.EffectivenessThreshold)
		got = updated.CAPA.EffectivenessThreshold
	})

	require.NoError(t, os.WriteFile(path, []byte("capa:\n  effectiveness_threshold: 85\n"), 0o644))
	require.NoError(t, w.viper.ReadInConfig())
	w.reload(path)

	assert.Equal(t, 85, got)
	assert.Equal(t, 85, w.GetConfig().CAPA.EffectivenessThreshold)

	w.Stop()
	w.reload(path)
}
