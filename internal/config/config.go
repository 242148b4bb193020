package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Env       string          `mapstructure:"env"` // 环境: development, production
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	OpenFGA   OpenFGAConfig   `mapstructure:"openfga"`
	Keycloak  KeycloakConfig  `mapstructure:"keycloak"`
	Auth      AuthConfig      `mapstructure:"auth"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Log       LogConfig       `mapstructure:"log"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Blob      BlobConfig      `mapstructure:"blob"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	CAPA      CAPAConfig      `mapstructure:"capa"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"` // postgres, sqlite
	Path            string `mapstructure:"path"`   // sqlite 文件路径
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`  // 秒
	ConnMaxIdleTime int    `mapstructure:"conn_max_idle_time"` // 秒
}

// OpenFGAConfig OpenFGA 配置
type OpenFGAConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	APIURL   string `mapstructure:"api_url"`
	StoreID  string `mapstructure:"store_id"`
	ModelID  string `mapstructure:"model_id"`
	CacheTTL int    `mapstructure:"cache_ttl"` // 秒
}

// KeycloakConfig Keycloak 配置
type KeycloakConfig struct {
	Issuer  string `mapstructure:"issuer"`
	JWKSURL string `mapstructure:"jwks_url"`
}

// AuthConfig 身份配置
type AuthConfig struct {
	// DevHeader 开发模式下接受 X-Actor-ID 请求头作为操作人
	DevHeader bool `mapstructure:"dev_header"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
	MaxAge         int      `mapstructure:"max_age"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`  // 日志级别: debug, info, warn, error
	Format string `mapstructure:"format"` // 日志格式: json, text
	Output string `mapstructure:"output"` // 输出位置: stdout, file, both
	File   string `mapstructure:"file"`
}

// TracingConfig 链路追踪配置
type TracingConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	ServiceName    string `mapstructure:"service_name"`
}

// BlobConfig 文件存储配置
type BlobConfig struct {
	Dir     string `mapstructure:"dir"`
	MaxSize int64  `mapstructure:"max_size"` // 字节
}

// KafkaConfig Kafka 通知配置
type KafkaConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	Brokers      []string `mapstructure:"brokers"`
	Topic        string   `mapstructure:"topic"`
	WriteTimeout int      `mapstructure:"write_timeout"` // 秒
	Username     string   `mapstructure:"username"`      // 设置后使用 SASL/PLAIN + TLS
	Password     string   `mapstructure:"password"`
}

// NotifyConfig 通知分发配置
type NotifyConfig struct {
	Workers    int             `mapstructure:"workers"`
	QueueSize  int             `mapstructure:"queue_size"`
	MaxRetries int             `mapstructure:"max_retries"`
	Backoff    int             `mapstructure:"backoff"` // 毫秒, 每次重试翻倍
	Webhooks   []WebhookConfig `mapstructure:"webhooks"`
}

// WebhookConfig Webhook 通知目标
type WebhookConfig struct {
	URL     string            `mapstructure:"url"`
	Method  string            `mapstructure:"method"`
	Headers map[string]string `mapstructure:"headers"`
	Token   string            `mapstructure:"token"` // Bearer token
}

// LifecycleConfig 记录生命周期配置
type LifecycleConfig struct {
	// NumberFormats 按类别的编号格式, 支持 {PREFIX} {YEAR} {SEQ:n}
	NumberFormats map[string]string `mapstructure:"number_formats"`
	// ReviewCadence 按前缀或类别的复审周期(天), 前缀优先
	ReviewCadence map[string]int `mapstructure:"review_cadence"`
	CacheSize     int            `mapstructure:"cache_size"`
}

// CAPAConfig CAPA 配置
type CAPAConfig struct {
	EffectivenessThreshold int `mapstructure:"effectiveness_threshold"`
	FollowUpDays           int `mapstructure:"follow_up_days"`
}

// SchedulerConfig 到期扫描配置
type SchedulerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	SweepInterval int  `mapstructure:"sweep_interval"` // 秒
}

// Load 加载配置,支持配置文件、.env 和环境变量
func Load(configPath string) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	return unmarshal(v)
}

func newViper(configPath string) (*viper.Viper, error) {
	// 开发环境从 .env 补充环境变量, 已存在的变量不覆盖
	_ = godotenv.Load()

	v := viper.New()

	// 设置默认值
	setDefaults(v)

	// 如果提供了配置文件路径,从文件加载
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		// 尝试从默认位置加载
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.qms-gin")
		// 忽略配置文件不存在的错误,使用默认值
		_ = v.ReadInConfig()
	}

	// 支持环境变量
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// IsProduction 判断是否为生产环境
func IsProduction(cfg *Config) bool {
	if cfg == nil {
		return false
	}
	return cfg.Env == "production"
}

// Default 返回默认配置
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// CadenceFor 返回前缀或类别对应的复审周期
func (c LifecycleConfig) CadenceFor(prefix, kind string) int {
	if days, ok := c.ReviewCadence[strings.ToLower(prefix)]; ok && days > 0 {
		return days
	}
	if days, ok := c.ReviewCadence[strings.ToLower(kind)]; ok && days > 0 {
		return days
	}
	return 365
}

// setDefaults 设置配置默认值
func setDefaults(v *viper.Viper) {
	// 环境变量
	env := v.GetString("env")
	if env == "" {
		env = os.Getenv("APP_ENV")
		if env == "" {
			env = "development"
		}
	}
	v.SetDefault("env", env)

	// 服务器默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	// 数据库默认配置
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.path", "qms.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "qms")
	v.SetDefault("database.sslmode", "disable")

	// 数据库连接池配置（根据环境设置默认值）
	if env == "production" {
		v.SetDefault("database.max_idle_conns", 20)
		v.SetDefault("database.max_open_conns", 200)
		v.SetDefault("database.conn_max_lifetime", 3600) // 1 小时
		v.SetDefault("database.conn_max_idle_time", 300) // 5 分钟
	} else {
		v.SetDefault("database.max_idle_conns", 10)
		v.SetDefault("database.max_open_conns", 100)
		v.SetDefault("database.conn_max_lifetime", 3600) // 1 小时
		v.SetDefault("database.conn_max_idle_time", 600) // 10 分钟
	}

	// OpenFGA 默认配置
	v.SetDefault("openfga.enabled", false)
	v.SetDefault("openfga.api_url", "http://localhost:8081")
	v.SetDefault("openfga.store_id", "")
	v.SetDefault("openfga.model_id", "")
	v.SetDefault("openfga.cache_ttl", 300)

	// Keycloak 默认配置
	v.SetDefault("keycloak.issuer", "")
	v.SetDefault("keycloak.jwks_url", "")
	v.SetDefault("auth.dev_header", env != "production")

	// CORS 默认配置
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Content-Type", "Authorization", "X-Request-ID", "X-Actor-ID"})
	v.SetDefault("cors.max_age", 86400)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.rps", 50)
	v.SetDefault("rate_limit.burst", 100)

	// 日志配置（根据环境设置默认值）
	if env == "production" {
		v.SetDefault("log.level", "warn")
		v.SetDefault("log.format", "json")
	} else {
		v.SetDefault("log.level", "debug")
		v.SetDefault("log.format", "text")
	}
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file", "logs/qms.log")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("tracing.service_name", "qms-gin")

	v.SetDefault("blob.dir", "data/blobs")
	v.SetDefault("blob.max_size", 64<<20)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "qms.record-events")
	v.SetDefault("kafka.write_timeout", 10)

	v.SetDefault("notify.workers", 4)
	v.SetDefault("notify.queue_size", 256)
	v.SetDefault("notify.max_retries", 3)
	v.SetDefault("notify.backoff", 1000)

	// 编号格式与复审周期
	v.SetDefault("lifecycle.number_formats", map[string]string{
		"document": "{PREFIX}-{YEAR}-{SEQ:3}",
		"capa":     "CAPA-{SEQ:4}",
		"audit":    "AUD-{YEAR}-{SEQ:3}",
	})
	v.SetDefault("lifecycle.review_cadence", map[string]int{
		"sop":      730,
		"document": 365,
		"capa":     365,
		"audit":    365,
	})
	v.SetDefault("lifecycle.cache_size", 1024)

	v.SetDefault("capa.effectiveness_threshold", 70)
	v.SetDefault("capa.follow_up_days", 30)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.sweep_interval", 3600)
}
