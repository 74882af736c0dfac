// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config 应用配置结构体
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Raster     RasterConfig     `mapstructure:"raster"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Log        LogConfig        `mapstructure:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Secrets    SecretsConfig    `mapstructure:"secrets"`
}

// APIConfig API 服务配置
type APIConfig struct {
	Port    int        `mapstructure:"port"`
	Host    string     `mapstructure:"host"`
	Timeout string     `mapstructure:"timeout"`
	CORS    CORSConfig `mapstructure:"cors"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	Enable       bool     `mapstructure:"enable"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// PipelineConfig 处理管线配置（Coordinator 截止时间、marker 上下文过滤、三个阶段队列名）
type PipelineConfig struct {
	TimeoutMs          int64  `mapstructure:"timeout_ms"`           // 截止告警，默认 900000（15 分钟）
	MarkerContextRegex string `mapstructure:"marker_context_regex"` // 有效图纸名格式，默认 "^[A-Za-z][0-9]+$"
	MetadataQueue      string `mapstructure:"metadata_queue"`       // 默认 plan_metadata
	TileQueue          string `mapstructure:"tile_queue"`           // 默认 plan_tiles
	MarkerQueue        string `mapstructure:"marker_queue"`         // 默认 plan_markers
	AlarmScanInterval  string `mapstructure:"alarm_scan_interval"`  // 重启后 wake_at 扫描间隔，如 "30s"
}

// QueueConfig 阶段队列配置（至少一次投递）
type QueueConfig struct {
	Type         string `mapstructure:"type"`          // memory | postgres
	DSN          string `mapstructure:"dsn"`           // Postgres 连接串，type=postgres 时必填
	ClaimTimeout string `mapstructure:"claim_timeout"` // 认领可见性超时，如 "300s"；超时未 ack 的任务重新投递
	MaxAttempts  int    `mapstructure:"max_attempts"`  // 达到次数后标记 dead（死信），<=0 时默认 3
}

// StorageConfig 存储配置
type StorageConfig struct {
	Metadata MetadataConfig `mapstructure:"metadata"`
	Object   ObjectConfig   `mapstructure:"object"`
	Cache    CacheConfig    `mapstructure:"cache"`
}

// MetadataConfig 关系存储配置（processing_jobs、plan_sheets、coordinator state）
type MetadataConfig struct {
	Type     string `mapstructure:"type"` // memory | postgres
	DSN      string `mapstructure:"dsn"`
	PoolSize int    `mapstructure:"pool_size"`
}

// ObjectConfig 对象存储配置（页面图与瓦片）
type ObjectConfig struct {
	Type    string `mapstructure:"type"`     // memory | file
	BaseDir string `mapstructure:"base_dir"` // file 类型的根目录
}

// CacheConfig 进度快照缓存配置
type CacheConfig struct {
	Type     string `mapstructure:"type"` // memory | redis
	Addr     string `mapstructure:"addr"`
	DB       int    `mapstructure:"db"`
	Password string `mapstructure:"password"`
	TTL      string `mapstructure:"ttl"` // 如 "1s"
}

// RasterConfig 光栅化/OCR 服务客户端配置（不透明外部容器）
type RasterConfig struct {
	BaseURL       string  `mapstructure:"base_url"`
	Token         string  `mapstructure:"token"` // 可为 secret:// 引用，经 pkg/secrets 解析
	Timeout       string  `mapstructure:"timeout"`
	RetryCount    int     `mapstructure:"retry_count"`
	QPS           float64 `mapstructure:"qps"`
	Burst         int     `mapstructure:"burst"`
	MaxConcurrent int     `mapstructure:"max_concurrent"`
	PagecountMode string  `mapstructure:"pagecount_mode"` // local（unipdf）| service（rasterizer ping）
}

// WorkerConfig Worker 服务配置
type WorkerConfig struct {
	WorkerID     string   `mapstructure:"worker_id"`     // 空则用主机名+随机后缀
	Concurrency  int      `mapstructure:"concurrency"`   // 同时执行的阶段任务上限，<=0 时默认 4
	PollInterval string   `mapstructure:"poll_interval"` // 队列轮询间隔，如 "1s"
	Queues       []string `mapstructure:"queues"`        // 消费的队列列表；空表示三个阶段队列全部消费
	Coordinator  string   `mapstructure:"coordinator"`   // 完成回执地址；空表示进程内投递，否则为 API base URL
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// PrometheusConfig Prometheus 配置；Port 供 Worker 暴露独立 /metrics 端点
type PrometheusConfig struct {
	Enable bool `mapstructure:"enable"`
	Port   int  `mapstructure:"port"`
}

// TracingConfig 链路追踪配置（OpenTelemetry）
type TracingConfig struct {
	Enable         bool   `mapstructure:"enable"`
	ServiceName    string `mapstructure:"service_name"`
	ExportEndpoint string `mapstructure:"export_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
}

// SecretsConfig Secret Store 配置（DSN、服务 token 的 secret:// 引用解析）
type SecretsConfig struct {
	Provider string            `mapstructure:"provider"` // env | memory | vault
	Config   map[string]string `mapstructure:"config"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("无法读取配置文件: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("无法解析配置文件: %w", err)
	}

	replaceEnvVars(&config)
	applyDefaults(&config)
	return &config, nil
}

// replaceEnvVars 替换配置中的 ${ENV} 引用（DSN 与服务 token）
func replaceEnvVars(config *Config) {
	expand := func(s string) string {
		if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
			if val := os.Getenv(strings.TrimSuffix(strings.TrimPrefix(s, "${"), "}")); val != "" {
				return val
			}
		}
		return s
	}
	config.Queue.DSN = expand(config.Queue.DSN)
	config.Storage.Metadata.DSN = expand(config.Storage.Metadata.DSN)
	config.Storage.Cache.Password = expand(config.Storage.Cache.Password)
	config.Raster.Token = expand(config.Raster.Token)
}

// applyDefaults 填充管线缺省值
func applyDefaults(config *Config) {
	if config.Pipeline.TimeoutMs <= 0 {
		config.Pipeline.TimeoutMs = 900000
	}
	if config.Pipeline.MarkerContextRegex == "" {
		config.Pipeline.MarkerContextRegex = "^[A-Za-z][0-9]+$"
	}
	if config.Pipeline.MetadataQueue == "" {
		config.Pipeline.MetadataQueue = "plan_metadata"
	}
	if config.Pipeline.TileQueue == "" {
		config.Pipeline.TileQueue = "plan_tiles"
	}
	if config.Pipeline.MarkerQueue == "" {
		config.Pipeline.MarkerQueue = "plan_markers"
	}
}

// LoadAPIConfig 加载 API 配置（configs/api.yaml）
func LoadAPIConfig() (*Config, error) {
	return LoadConfig("configs/api.yaml")
}

// LoadWorkerConfig 加载 Worker 配置（configs/worker.yaml）
func LoadWorkerConfig() (*Config, error) {
	return LoadConfig("configs/worker.yaml")
}
