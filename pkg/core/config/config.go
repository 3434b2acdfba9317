// Package config 提供配置加载和管理功能
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/easyops/contextcore-go/pkg/core/errors"
	"github.com/easyops/contextcore-go/pkg/otel"
)

// Config 全局配置结构
type Config struct {
	// Engine 优化引擎配置
	Engine EngineConfig `koanf:"engine"`
	// Store 存储配置
	Store StoreConfig `koanf:"store"`
	// Observability 可观测性配置
	Observability ObservabilityConfig `koanf:"observability"`
}

// EngineConfig 优化引擎配置
type EngineConfig struct {
	// DefaultTokenBudget 上下文未设置预算时的默认 Token 预算
	DefaultTokenBudget int `koanf:"default_token_budget"`
	// MinRelevance 参与排序的最低相关性阈值 [0, 1]
	MinRelevance float64 `koanf:"min_relevance"`
	// TokenModel 计数器使用的模型名称
	TokenModel string `koanf:"token_model"`
	// MaxDepth 层级遍历的最大深度
	MaxDepth int `koanf:"max_depth"`
	// DebounceWindow 相关性连发折叠窗口
	DebounceWindow time.Duration `koanf:"debounce_window"`
	// RecomputeDelay 确认变更后触发重算的延迟
	RecomputeDelay time.Duration `koanf:"recompute_delay"`
	// PersistTimeout 单笔持久化的超时
	PersistTimeout time.Duration `koanf:"persist_timeout"`
	// RejectUnknownTypes 未知内容类型直接拒绝（默认跳过并标注）
	RejectUnknownTypes bool `koanf:"reject_unknown_types"`
}

// StoreConfig 存储配置
type StoreConfig struct {
	// ItemType 条目存储类型: memory / sqlite
	ItemType string `koanf:"item_type"`
	// GraphType 图存储类型: memory / neo4j
	GraphType string `koanf:"graph_type"`
	// SQLitePath SQLite 数据库文件路径
	SQLitePath string `koanf:"sqlite_path"`
	// Neo4jURI Neo4j 连接地址
	Neo4jURI string `koanf:"neo4j_uri"`
	// Neo4jUsername Neo4j 用户名
	Neo4jUsername string `koanf:"neo4j_username"`
	// Neo4jPassword Neo4j 密码
	Neo4jPassword string `koanf:"neo4j_password"`
	// MaxRetries 读路径的最大重试次数
	MaxRetries int `koanf:"max_retries"`
	// RetryDelay 重试的基础延迟
	RetryDelay time.Duration `koanf:"retry_delay"`
}

// ObservabilityConfig 可观测性配置
type ObservabilityConfig struct {
	// Enabled 是否启用
	Enabled bool `koanf:"enabled"`
	// ServiceName 服务名称
	ServiceName string `koanf:"service_name"`
	// ExporterType 导出器类型: stdout / otlp-grpc / otlp-http
	ExporterType string `koanf:"exporter_type"`
	// Endpoint OTLP 端点
	Endpoint string `koanf:"endpoint"`
	// SampleRate 采样率 [0, 1]
	SampleRate float64 `koanf:"sample_rate"`
}

// OTelConfig 将可观测性配置节映射为 otel 包的提供器配置。
// 追踪与指标共用同一导出器与端点，未填字段回落到 otel 默认值。
func (c ObservabilityConfig) OTelConfig() otel.Config {
	cfg := otel.Config{
		Enabled:     c.Enabled,
		ServiceName: c.ServiceName,
		Tracing: otel.TracingConfig{
			Enabled:    c.Enabled,
			Exporter:   otel.ExporterType(c.ExporterType),
			Endpoint:   c.Endpoint,
			Insecure:   true,
			SampleRate: c.SampleRate,
		},
		Metrics: otel.MetricsConfig{
			Enabled:  c.Enabled,
			Exporter: otel.ExporterType(c.ExporterType),
			Endpoint: c.Endpoint,
			Insecure: true,
		},
	}
	return cfg.WithDefaults()
}

// Loader 配置加载器
type Loader struct {
	k *koanf.Koanf
}

// NewLoader 创建配置加载器
func NewLoader() *Loader {
	return &Loader{
		k: koanf.New("."),
	}
}

// LoadEnv 从环境变量加载配置
func (l *Loader) LoadEnv(prefix string) error {
	return l.k.Load(env.Provider(prefix, ".", func(s string) string {
		// 转换环境变量名: CONTEXTCORE_ENGINE_TOKEN_MODEL -> engine.token_model
		s = strings.TrimPrefix(s, prefix)
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "_", ".")
		return s
	}), nil)
}

// Unmarshal 解析配置到结构体
func (l *Loader) Unmarshal(cfg *Config) error {
	return l.k.Unmarshal("", cfg)
}

// Get 获取配置值
func (l *Loader) Get(key string) interface{} {
	return l.k.Get(key)
}

// GetString 获取字符串配置值
func (l *Loader) GetString(key string) string {
	return l.k.String(key)
}

// GetInt 获取整数配置值
func (l *Loader) GetInt(key string) int {
	return l.k.Int(key)
}

// GetBool 获取布尔配置值
func (l *Loader) GetBool(key string) bool {
	return l.k.Bool(key)
}

// GetDuration 获取时间间隔配置值
func (l *Loader) GetDuration(key string) time.Duration {
	return l.k.Duration(key)
}

// Load 从环境变量加载完整配置
func Load() (*Config, error) {
	loader := NewLoader()

	if err := loader.LoadEnv("CONTEXTCORE_"); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := loader.Unmarshal(cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default 返回全默认配置
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults 应用默认配置值
func applyDefaults(cfg *Config) {
	// Engine 默认值
	if cfg.Engine.DefaultTokenBudget == 0 {
		cfg.Engine.DefaultTokenBudget = 8192
	}
	if cfg.Engine.TokenModel == "" {
		cfg.Engine.TokenModel = "gpt-4o"
	}
	if cfg.Engine.MaxDepth == 0 {
		cfg.Engine.MaxDepth = 64
	}
	if cfg.Engine.DebounceWindow == 0 {
		cfg.Engine.DebounceWindow = 150 * time.Millisecond
	}
	if cfg.Engine.RecomputeDelay == 0 {
		cfg.Engine.RecomputeDelay = 200 * time.Millisecond
	}
	if cfg.Engine.PersistTimeout == 0 {
		cfg.Engine.PersistTimeout = 5 * time.Second
	}

	// Store 默认值
	if cfg.Store.ItemType == "" {
		cfg.Store.ItemType = "memory"
	}
	if cfg.Store.GraphType == "" {
		cfg.Store.GraphType = "memory"
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = "contextcore.db"
	}
	if cfg.Store.MaxRetries == 0 {
		cfg.Store.MaxRetries = 3
	}
	if cfg.Store.RetryDelay == 0 {
		cfg.Store.RetryDelay = 100 * time.Millisecond
	}

	// Observability 默认值
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "contextcore"
	}
	if cfg.Observability.ExporterType == "" {
		cfg.Observability.ExporterType = "stdout"
	}
	if cfg.Observability.SampleRate == 0 {
		cfg.Observability.SampleRate = 1.0
	}
}

// Validate 校验配置的合法性
func Validate(cfg *Config) error {
	if cfg.Engine.DefaultTokenBudget < 0 {
		return errors.WrapError(errors.ErrInvalidConfig, "engine.default_token_budget must not be negative")
	}
	if cfg.Engine.MinRelevance < 0 || cfg.Engine.MinRelevance > 1 {
		return errors.WrapError(errors.ErrInvalidConfig, "engine.min_relevance must be in [0, 1]")
	}
	if cfg.Engine.MaxDepth < 1 {
		return errors.WrapError(errors.ErrInvalidConfig, "engine.max_depth must be positive")
	}
	if cfg.Observability.SampleRate < 0 || cfg.Observability.SampleRate > 1 {
		return errors.WrapError(errors.ErrInvalidConfig, "observability.sample_rate must be in [0, 1]")
	}
	switch cfg.Store.ItemType {
	case "memory", "sqlite":
	default:
		return errors.WrapError(errors.ErrInvalidConfig, "store.item_type must be memory or sqlite")
	}
	switch cfg.Store.GraphType {
	case "memory", "neo4j":
	default:
		return errors.WrapError(errors.ErrInvalidConfig, "store.graph_type must be memory or neo4j")
	}
	return nil
}
