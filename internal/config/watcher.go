package config

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// ConfigWatcher 配置监听器
// 只有 capa.effectiveness_threshold 与 log.level 支持热更新, 其余字段需重启生效
type ConfigWatcher struct {
	config    *Config
	viper     *viper.Viper
	callbacks []func(old, updated *Config)
	mu        sync.RWMutex
	stopped   bool
}

// NewConfigWatcher 创建配置监听器
func NewConfigWatcher(cfg *Config, configPath string) (*ConfigWatcher, error) {
	if configPath == "" {
		return nil, fmt.Errorf("config path is required for watching")
	}
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	return &ConfigWatcher{config: cfg, viper: v}, nil
}

// OnConfigChange 注册配置变更回调
func (w *ConfigWatcher) OnConfigChange(callback func(old, updated *Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start 启动配置监听
func (w *ConfigWatcher) Start() {
	w.viper.OnConfigChange(func(e fsnotify.Event) {
		w.reload(e.Name)
	})
	w.viper.WatchConfig()
}

func (w *ConfigWatcher) reload(name string) {
	w.mu.RLock()
	if w.stopped {
		w.mu.RUnlock()
		return
	}
	old := w.config
	callbacks := make([]func(old, updated *Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	updated, err := unmarshal(w.viper)
	if err != nil {
		logrus.WithError(err).WithField("file", name).Warn("config reload rejected")
		return
	}

	// 在锁外执行回调
	for _, callback := range callbacks {
		callback(old, updated)
	}

	w.mu.Lock()
	w.config = updated
	w.mu.Unlock()
	logrus.WithField("file", name).Info("config reloaded")
}

// Stop 停止配置监听
func (w *ConfigWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
}

// GetConfig 获取当前配置
func (w *ConfigWatcher) GetConfig() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}
