/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package config provides configuration management for the MLflow service.
// config 包提供 MLflow 服务的配置管理功能。
//
// Configuration loading priority (highest to lowest):
// 配置加载优先级（从高到低）：
// 1. Environment variables (including values loaded from .env) / 环境变量（包括从 .env 加载的值）
// 2. Configuration file / 配置文件
// 3. Default values / 默认值
//
// Environment variable names are fixed and unprefixed, they are the
// deployment surface shared with the container platform.
// 环境变量名固定且不带前缀，它们是与容器平台共享的部署接口。
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ErrConfig indicates a missing or invalid required setting
// ErrConfig 表示缺失或无效的必需配置
var ErrConfig = errors.New("invalid configuration")

// Default configuration values
// 默认配置值
const (
	DefaultTrackingPort   = 5001
	DefaultHost           = "0.0.0.0"
	DefaultFolderLocation = "mlflow-artifacts-v1"
	DefaultLogLevel       = "INFO"
	DefaultLogMaxSize     = 100 // MB
	DefaultLogMaxBackups  = 3
	DefaultLogMaxAge      = 7 // days
	DefaultEnvironment    = "development"
	DefaultGCInterval     = 20 * time.Second
	DefaultGCOlderThan    = "5m"
	DefaultCLI            = "mlflow"

	// BackendScheme is the scheme used when composing the backend URI from discrete fields
	// BackendScheme 是由离散字段组装后端 URI 时使用的协议
	BackendScheme = "postgresql+psycopg2"
)

// envBindings maps viper keys to the environment variables that feed them.
var envBindings = map[string]string{
	"server.tracking_port":          "MLFLOW_TRACKING_PORT",
	"server.port":                   "PORT",
	"server.host":                   "MLFLOW_HOST",
	"postgres.host":                 "POSTGRES_HOST",
	"postgres.port":                 "POSTGRES_PORT",
	"postgres.db":                   "POSTGRES_DB",
	"postgres.user":                 "POSTGRES_USER",
	"postgres.password":             "POSTGRES_PASSWORD",
	"postgres.connection_string":    "MLFLOW_POSTGRES_CONNECTION_STRING",
	"postgres.create_database":      "MLFLOW_CREATE_DATABASE",
	"artifacts.bucket_location":     "MLFLOW_BUCKET_LOCATION",
	"artifacts.folder_location":     "MLFLOW_FOLDER_LOCATION",
	"artifacts.s3_endpoint_url":     "MLFLOW_S3_ENDPOINT_URL",
	"artifacts.require_credentials": "MLFLOW_REQUIRE_ARTIFACT_CREDENTIALS",
	"artifacts.validate":            "MLFLOW_VALIDATE_ARTIFACT_STORE",
	"gcp.project":                   "GCP_PROJECT",
	"gcp.credentials_file":          "GOOGLE_APPLICATION_CREDENTIALS",
	"gcp.interactive_auth":          "USE_GCP_INTERACTIVE_AUTH",
	"gc.enabled":                    "MLFLOW_GC_ENABLED",
	"gc.interval_seconds":           "MLFLOW_GC_INTERVAL_SECONDS",
	"gc.older_than":                 "MLFLOW_GC_OLDER_THAN",
	"mlflow.cli":                    "MLFLOW_CLI",
	"log.level":                     "LOG_LEVEL",
	"log.format":                    "LOG_FORMAT",
	"log.file":                      "LOG_FILE",
	"log.max_size":                  "LOG_MAX_SIZE",
	"log.max_backups":               "LOG_MAX_BACKUPS",
	"log.max_age":                   "LOG_MAX_AGE",
	"environment":                   "ENVIRONMENT",
	"metrics.addr":                  "METRICS_ADDR",
	"telemetry.endpoint":            "OTEL_EXPORTER_OTLP_ENDPOINT",
	"telemetry.insecure":            "OTEL_EXPORTER_OTLP_INSECURE",
}

// Config represents the service configuration
// Config 表示服务配置
type Config struct {
	// Server holds the tracking server bind settings / Server 保存跟踪服务器绑定设置
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Postgres holds the backend store settings / Postgres 保存后端存储设置
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`

	// Artifacts holds the artifact store settings / Artifacts 保存制品存储设置
	Artifacts ArtifactConfig `mapstructure:"artifacts" yaml:"artifacts"`

	// GCP holds cloud credential settings / GCP 保存云凭证设置
	GCP GCPConfig `mapstructure:"gcp" yaml:"gcp"`

	// GC holds garbage collection settings / GC 保存垃圾回收设置
	GC GCConfig `mapstructure:"gc" yaml:"gc"`

	// MLflow holds the external tool settings / MLflow 保存外部工具设置
	MLflow MLflowConfig `mapstructure:"mlflow" yaml:"mlflow"`

	// Log holds logging settings / Log 保存日志设置
	Log LogConfig `mapstructure:"log" yaml:"log"`

	// Metrics holds the metrics endpoint settings / Metrics 保存指标端点设置
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Telemetry holds trace export settings / Telemetry 保存追踪导出设置
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Environment is the deployment environment name / Environment 是部署环境名称
	Environment string `mapstructure:"environment" yaml:"environment"`
}

// ServerConfig holds the tracking server bind settings
// ServerConfig 保存跟踪服务器绑定设置
type ServerConfig struct {
	TrackingPort int    `mapstructure:"tracking_port" yaml:"tracking_port"`
	Host         string `mapstructure:"host" yaml:"host"`

	// Port is the platform-injected override, nil when unset
	// Port 是平台注入的覆盖端口，未设置时为 nil
	Port *int `mapstructure:"-" yaml:"port,omitempty"`
}

// PostgresConfig holds the backend store settings
// PostgresConfig 保存后端存储设置
type PostgresConfig struct {
	Host             string `mapstructure:"host" yaml:"host"`
	Port             string `mapstructure:"port" yaml:"port"`
	DB               string `mapstructure:"db" yaml:"db"`
	User             string `mapstructure:"user" yaml:"user"`
	Password         string `mapstructure:"password" yaml:"password"`
	ConnectionString string `mapstructure:"connection_string" yaml:"connection_string"`
	CreateDatabase   bool   `mapstructure:"-" yaml:"create_database"`
}

// ArtifactConfig holds the artifact store settings
// ArtifactConfig 保存制品存储设置
type ArtifactConfig struct {
	BucketLocation     string `mapstructure:"bucket_location" yaml:"bucket_location"`
	FolderLocation     string `mapstructure:"folder_location" yaml:"folder_location"`
	S3EndpointURL      string `mapstructure:"s3_endpoint_url" yaml:"s3_endpoint_url,omitempty"`
	RequireCredentials bool   `mapstructure:"-" yaml:"require_credentials"`
	Validate           bool   `mapstructure:"-" yaml:"validate"`
}

// GCPConfig holds cloud credential settings
// GCPConfig 保存云凭证设置
type GCPConfig struct {
	Project         string `mapstructure:"project" yaml:"project"`
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file"`
	InteractiveAuth bool   `mapstructure:"-" yaml:"interactive_auth"`
}

// GCConfig holds garbage collection settings
// GCConfig 保存垃圾回收设置
type GCConfig struct {
	Enabled   bool          `mapstructure:"-" yaml:"enabled"`
	Interval  time.Duration `mapstructure:"-" yaml:"interval"`
	OlderThan string        `mapstructure:"-" yaml:"older_than"`
}

// MLflowConfig holds the external tool settings
// MLflowConfig 保存外部工具设置
type MLflowConfig struct {
	// CLI is the command used to invoke the tool, e.g. "mlflow" or "python -m mlflow"
	// CLI 是调用工具的命令，例如 "mlflow" 或 "python -m mlflow"
	CLI string `mapstructure:"cli" yaml:"cli"`
}

// LogConfig holds logging configuration
// LogConfig 保存日志配置
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format,omitempty"`
	File       string `mapstructure:"file" yaml:"file,omitempty"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`
}

// MetricsConfig holds the metrics endpoint settings
// MetricsConfig 保存指标端点设置
type MetricsConfig struct {
	// Addr is the listen address for /metrics; empty disables the endpoint
	// Addr 是 /metrics 的监听地址；为空时禁用
	Addr string `mapstructure:"addr" yaml:"addr,omitempty"`
}

// TelemetryConfig holds trace export settings
// TelemetryConfig 保存追踪导出设置
type TelemetryConfig struct {
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Insecure bool   `mapstructure:"-" yaml:"insecure"`
}

// Enabled reports whether traces should be exported
// Enabled 返回是否导出追踪
func (t TelemetryConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != ""
}

// Load loads configuration from the optional config file and the environment.
// Load 从可选的配置文件和环境变量加载配置。
// The .env file is expected to be loaded by the caller before Load runs.
// 调用方应在 Load 之前加载 .env 文件。
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set default values / 设置默认值
	setDefaults(v)

	// Bind fixed environment names / 绑定固定的环境变量名
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, statErr := os.Stat(configPath); statErr == nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// File doesn't exist, use environment and defaults / 文件不存在，使用环境变量和默认值
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	// Values whose parsing is more lenient than mapstructure allows
	// 解析规则比 mapstructure 更宽松的值
	if raw := strings.TrimSpace(v.GetString("server.port")); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: PORT must be an integer: %q", ErrConfig, raw)
		}
		cfg.Server.Port = &port
	}
	cfg.Postgres.CreateDatabase = ParseBool(v.GetString("postgres.create_database"), false)
	cfg.Artifacts.RequireCredentials = ParseBool(v.GetString("artifacts.require_credentials"), false)
	cfg.Artifacts.Validate = ParseBool(v.GetString("artifacts.validate"), false)
	cfg.GCP.InteractiveAuth = ParseBool(v.GetString("gcp.interactive_auth"), false)
	cfg.Telemetry.Insecure = ParseBool(v.GetString("telemetry.insecure"), true)
	cfg.GC.Enabled = ParseGCEnabled(v.GetString("gc.enabled"))
	cfg.GC.Interval = ParseGCInterval(v.GetString("gc.interval_seconds"))
	cfg.GC.OlderThan = ParseGCOlderThan(v.GetString("gc.older_than"))

	return &cfg, nil
}

// setDefaults sets default configuration values
// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// Server defaults / 服务器默认值
	v.SetDefault("server.tracking_port", DefaultTrackingPort)
	v.SetDefault("server.host", DefaultHost)

	// Artifact defaults / 制品默认值
	v.SetDefault("artifacts.folder_location", DefaultFolderLocation)

	// GC defaults / GC 默认值
	v.SetDefault("gc.enabled", "true")
	v.SetDefault("gc.interval_seconds", "20")
	v.SetDefault("gc.older_than", DefaultGCOlderThan)

	// Tool defaults / 工具默认值
	v.SetDefault("mlflow.cli", DefaultCLI)

	// Log defaults / 日志默认值
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.max_size", DefaultLogMaxSize)
	v.SetDefault("log.max_backups", DefaultLogMaxBackups)
	v.SetDefault("log.max_age", DefaultLogMaxAge)

	v.SetDefault("environment", DefaultEnvironment)
}

// Validate validates the configuration
// Validate 验证配置
func (c *Config) Validate() error {
	if c.Server.TrackingPort < 1 || c.Server.TrackingPort > 65535 {
		return fmt.Errorf("%w: MLFLOW_TRACKING_PORT out of range: %d", ErrConfig, c.Server.TrackingPort)
	}
	if c.Server.Port != nil && (*c.Server.Port < 1 || *c.Server.Port > 65535) {
		return fmt.Errorf("%w: PORT out of range: %d", ErrConfig, *c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("%w: MLFLOW_HOST is required", ErrConfig)
	}

	if strings.TrimSpace(c.Artifacts.BucketLocation) == "" {
		return fmt.Errorf("%w: MLFLOW_BUCKET_LOCATION is required", ErrConfig)
	}

	if _, err := ResolveBackendStoreURI(c.Postgres); err != nil {
		return err
	}

	// Validate log level / 验证日志级别
	if !validLogLevel(c.Log.Level) {
		return fmt.Errorf("%w: invalid log level: %s (must be debug, info, warning, error or critical)", ErrConfig, c.Log.Level)
	}

	if strings.TrimSpace(c.MLflow.CLI) == "" {
		return fmt.Errorf("%w: MLFLOW_CLI must not be empty", ErrConfig)
	}

	return nil
}

// IsDevelopment reports whether the service runs in the development environment
// IsDevelopment 返回服务是否运行在开发环境
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// IsProduction reports whether the service runs in the production environment
// IsProduction 返回服务是否运行在生产环境
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// String returns a redacted single-line summary of the configuration
// String 返回脱敏后的单行配置摘要
func (c *Config) String() string {
	port := EffectivePort(c.Server.Port, c.Server.TrackingPort)
	backend, _ := ResolveBackendStoreURI(c.Postgres)
	return fmt.Sprintf("Config{Host: %s, Port: %d, Backend: %s, ArtifactRoot: %s, GC: %v/%s, Env: %s}",
		c.Server.Host, port, RedactURI(backend),
		ArtifactRoot(c.Artifacts.BucketLocation, c.Artifacts.FolderLocation),
		c.GC.Enabled, c.GC.Interval, c.Environment)
}

// ToYAML serializes a redacted copy of the configuration to YAML
// ToYAML 将脱敏后的配置副本序列化为 YAML
func (c *Config) ToYAML() ([]byte, error) {
	redacted := *c
	if redacted.Postgres.Password != "" {
		redacted.Postgres.Password = redactedMarker
	}
	redacted.Postgres.ConnectionString = RedactURI(redacted.Postgres.ConnectionString)
	return yaml.Marshal(&redacted)
}

func validLogLevel(level string) bool {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "info", "warn", "warning", "error", "critical", "fatal":
		return true
	}
	return false
}
