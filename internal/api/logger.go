package api

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/mautops/qms-gin/internal/config"
	"github.com/sirupsen/logrus"
)

const logTimestampFormat = "2006-01-02T15:04:05.000Z07:00"

var (
	loggerMu      sync.RWMutex
	defaultLogger *logrus.Logger
)

// newFormatter 按配置选择日志格式, 生产环境使用 JSON 便于聚合
func newFormatter(format string) logrus.Formatter {
	if format == "json" {
		return &logrus.JSONFormatter{
			TimestampFormat: logTimestampFormat,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "time",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "msg",
			},
		}
	}
	return &logrus.TextFormatter{
		TimestampFormat: logTimestampFormat,
		FullTimestamp:   true,
	}
}

// openLogFile 打开追加写入的日志文件
func openLogFile(path string) (io.Writer, error) {
	if path == "" {
		path = filepath.Join("logs", "qms.log")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return file, nil
}

// NewLoggerFromConfig 根据配置创建日志记录器
// output 取值 stdout / file / both, 未知取值写 stdout
func NewLoggerFromConfig(cfg *config.LogConfig) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetFormatter(newFormatter(cfg.Format))

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	var writers []io.Writer
	switch cfg.Output {
	case "file":
		w, err := openLogFile(cfg.File)
		if err != nil {
			return nil, err
		}
		writers = append(writers, w)
	case "both":
		w, err := openLogFile(cfg.File)
		if err != nil {
			return nil, err
		}
		writers = append(writers, os.Stdout, w)
	default:
		writers = append(writers, os.Stdout)
	}
	logger.SetOutput(io.MultiWriter(writers...))

	logger.AddHook(&staticFieldsHook{fields: logrus.Fields{"service": "qms-gin"}})
	return logger, nil
}

// staticFieldsHook 给每条日志附加固定字段
type staticFieldsHook struct {
	fields logrus.Fields
}

func (h *staticFieldsHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *staticFieldsHook) Fire(entry *logrus.Entry) error {
	for k, v := range h.fields {
		if _, ok := entry.Data[k]; !ok {
			entry.Data[k] = v
		}
	}
	return nil
}

// SetLogger 设置进程级日志记录器
func SetLogger(logger *logrus.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	defaultLogger = logger
}

// GetLogger 获取进程级日志记录器, 未设置时使用 JSON 格式的 info 级别日志
func GetLogger() *logrus.Logger {
	loggerMu.RLock()
	logger := defaultLogger
	loggerMu.RUnlock()
	if logger != nil {
		return logger
	}

	loggerMu.Lock()
	defer loggerMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = logrus.New()
		defaultLogger.SetFormatter(newFormatter("json"))
		defaultLogger.SetOutput(os.Stdout)
	}
	return defaultLogger
}

// ApplyLevel 热更新日志级别, 无法解析或未变化时返回 false
func ApplyLevel(logger *logrus.Logger, level string) bool {
	parsed, err := logrus.ParseLevel(level)
	if err != nil || logger.GetLevel() == parsed {
		return false
	}
	logger.SetLevel(parsed)
	return true
}
