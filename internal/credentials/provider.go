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

// Package credentials resolves the cloud credential used for the artifact store.
// credentials 包解析制品存储使用的云凭证。
//
// Strategies are tried in order and the first success wins:
// 按顺序尝试以下策略，第一个成功的生效：
// - Explicit credentials file / 显式凭证文件
// - Secret Manager payload written to a temporary file / 写入临时文件的 Secret Manager 密钥
// - Ambient default chain / 默认凭证链
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/mlops-orchestrator/mlflow-service/internal/config"
	"github.com/mlops-orchestrator/mlflow-service/internal/metrics"
	"github.com/mlops-orchestrator/mlflow-service/internal/objectstore"
	"github.com/mlops-orchestrator/mlflow-service/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
)

const (
	// CredentialsEnv is read by Google client libraries and inherited by the child
	// CredentialsEnv 由 Google 客户端库读取，并被子进程继承
	CredentialsEnv = "GOOGLE_APPLICATION_CREDENTIALS"

	// SecretID names the service account secret in Secret Manager
	// SecretID 是 Secret Manager 中服务账号密钥的名称
	SecretID = "GOOGLE_APPLICATION_CREDENTIALS_MLFLOWSA"

	// CloudPlatformScope is requested for typed credentials
	// CloudPlatformScope 是类型化凭证请求的范围
	CloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

	tempFilePattern = "mlflow_gcp_creds_*.json"
)

// Common errors for credential resolution
// 凭证解析的常见错误
var (
	// ErrNoCredentials indicates every strategy fell through
	// ErrNoCredentials 表示所有策略均未成功
	ErrNoCredentials = errors.New("no valid cloud credentials found")

	// ErrSecretPayload indicates the secret is not well-formed JSON
	// ErrSecretPayload 表示密钥内容不是合法的 JSON
	ErrSecretPayload = errors.New("secret payload is not valid JSON")
)

// Provenance tells where a credential came from
// Provenance 表示凭证的来源
type Provenance string

const (
	ProvenanceExplicitFile Provenance = "explicit_file"
	ProvenanceSecretStore  Provenance = "secret_store"
	ProvenanceAmbient      Provenance = "ambient"
	ProvenanceNone         Provenance = "none"
)

// Handle is a resolved credential
// Handle 是解析得到的凭证
type Handle struct {
	Provenance Provenance

	// Path is the credentials file, empty for ambient credentials
	// Path 是凭证文件路径，默认凭证链时为空
	Path string

	// Credentials is the typed credential when it could be parsed
	// Credentials 是可解析时得到的类型化凭证
	Credentials *google.Credentials
}

// GoogleCredentials returns the typed credential or nil; safe on a nil handle
// GoogleCredentials 返回类型化凭证或 nil；对 nil 句柄安全
func (h *Handle) GoogleCredentials() *google.Credentials {
	if h == nil {
		return nil
	}
	return h.Credentials
}

// DefaultFinder resolves ambient credentials
// DefaultFinder 解析默认凭证链
type DefaultFinder func(ctx context.Context, scopes ...string) (*google.Credentials, error)

// Provider walks the credential chain and owns the temporary file it creates
// Provider 遍历凭证链并负责其创建的临时文件
type Provider struct {
	mode        config.CredentialMode
	secrets     SecretFetcher
	findDefault DefaultFinder
	tempDir     string
	log         *zap.Logger
	metrics     *metrics.Metrics
	tracer      *tracing.Provider

	mu       sync.Mutex
	tempFile string
}

// Option configures a Provider
// Option 配置 Provider
type Option func(*Provider)

// WithSecretFetcher replaces the Secret Manager client
// WithSecretFetcher 替换 Secret Manager 客户端
func WithSecretFetcher(f SecretFetcher) Option {
	return func(p *Provider) { p.secrets = f }
}

// WithDefaultFinder replaces google.FindDefaultCredentials
// WithDefaultFinder 替换 google.FindDefaultCredentials
func WithDefaultFinder(f DefaultFinder) Option {
	return func(p *Provider) { p.findDefault = f }
}

// WithTempDir sets where secret payloads are written; empty uses os.TempDir
// WithTempDir 设置密钥内容写入的目录；为空时使用 os.TempDir
func WithTempDir(dir string) Option {
	return func(p *Provider) { p.tempDir = dir }
}

// WithMetrics records resolutions
// WithMetrics 记录解析结果
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Provider) { p.metrics = m }
}

// WithTracer wraps resolution in a span
// WithTracer 为解析过程创建 span
func WithTracer(t *tracing.Provider) Option {
	return func(p *Provider) { p.tracer = t }
}

// NewProvider creates a Provider for the configured strategies
// NewProvider 为已配置的策略创建 Provider
func NewProvider(mode config.CredentialMode, log *zap.Logger, opts ...Option) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Provider{
		mode:        mode,
		secrets:     NewSecretManagerFetcher(),
		findDefault: google.FindDefaultCredentials,
		log:         log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Resolve returns the first credential the chain yields, or ErrNoCredentials.
// Strategy failures are logged and never returned.
// Resolve 返回凭证链得到的第一个凭证，否则返回 ErrNoCredentials。策略失败仅记录日志，不会返回。
func (p *Provider) Resolve(ctx context.Context) (*Handle, error) {
	ctx, span := p.tracer.Start(ctx, "credentials.resolve")
	defer span.End()

	h := p.resolve(ctx)
	if h == nil {
		p.metrics.IncCredentialResolution(string(ProvenanceNone))
		span.SetAttributes(attribute.String("credentials.provenance", string(ProvenanceNone)))
		p.log.Error("No valid cloud credentials found / 未找到有效的云凭证")
		return nil, ErrNoCredentials
	}

	p.metrics.IncCredentialResolution(string(h.Provenance))
	span.SetAttributes(attribute.String("credentials.provenance", string(h.Provenance)))
	return h, nil
}

func (p *Provider) resolve(ctx context.Context) *Handle {
	if h := p.fromExplicitFile(ctx); h != nil {
		return h
	}

	if p.mode.Project != "" {
		h, err := p.fromSecretStore(ctx)
		if err == nil {
			return h
		}
		p.log.Error("Failed to get credentials from Secret Manager / 从 Secret Manager 获取凭证失败", zap.Error(err))
	}

	if p.mode.Interactive {
		creds, err := p.findDefault(ctx, CloudPlatformScope)
		if err == nil {
			p.log.Info("Using ambient default credentials / 使用默认凭证链")
			return &Handle{Provenance: ProvenanceAmbient, Credentials: creds}
		}
		p.log.Warn("Ambient default credentials unavailable / 默认凭证链不可用", zap.Error(err))
	}
	return nil
}

// fromExplicitFile uses the configured file as is. A path that does not exist
// is dropped, from the environment as well, so the chain can fall through.
// fromExplicitFile 原样使用配置的文件。路径不存在时将其丢弃（包括环境变量），以便继续尝试后续策略。
func (p *Provider) fromExplicitFile(ctx context.Context) *Handle {
	path := p.mode.CredentialsFile
	if path == "" {
		return nil
	}

	if _, err := os.Stat(path); err != nil {
		p.log.Warn("Credentials file does not exist, trying other methods / 凭证文件不存在，尝试其他方式",
			zap.String("path", path))
		if os.Getenv(CredentialsEnv) == path {
			_ = os.Unsetenv(CredentialsEnv)
		}
		p.mode.CredentialsFile = ""
		return nil
	}

	p.log.Info("Using existing credentials file / 使用已有的凭证文件", zap.String("path", path))
	return &Handle{
		Provenance:  ProvenanceExplicitFile,
		Path:        path,
		Credentials: p.parseFile(ctx, path),
	}
}

// fromSecretStore fetches the service account secret, writes it to a private
// temporary file and exports its path for child processes.
// fromSecretStore 获取服务账号密钥，写入私有临时文件，并为子进程导出其路径。
func (p *Provider) fromSecretStore(ctx context.Context) (*Handle, error) {
	name := SecretName(p.mode.Project)
	p.log.Info("Fetching credentials from Secret Manager / 从 Secret Manager 获取凭证", zap.String("secret", name))

	payload, err := p.secrets.AccessSecret(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("access secret %s: %w", name, err)
	}
	if !json.Valid(payload) {
		return nil, ErrSecretPayload
	}

	path, err := p.writeTempFile(payload)
	if err != nil {
		return nil, err
	}
	if err := os.Setenv(CredentialsEnv, path); err != nil {
		return nil, fmt.Errorf("export %s: %w", CredentialsEnv, err)
	}

	p.log.Info("Credentials configured from Secret Manager / 已从 Secret Manager 配置凭证")
	return &Handle{
		Provenance:  ProvenanceSecretStore,
		Path:        path,
		Credentials: p.parseJSON(ctx, payload),
	}, nil
}

// writeTempFile keeps at most one temporary file per provider
func (p *Provider) writeTempFile(payload []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tempFile != "" {
		_ = os.Remove(p.tempFile)
		p.tempFile = ""
	}

	f, err := os.CreateTemp(p.tempDir, tempFilePattern)
	if err != nil {
		return "", fmt.Errorf("create credentials file: %w", err)
	}
	if _, err := f.Write(payload); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write credentials file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("close credentials file: %w", err)
	}

	p.tempFile = f.Name()
	return p.tempFile, nil
}

func (p *Provider) parseFile(ctx context.Context, path string) *google.Credentials {
	data, err := os.ReadFile(path)
	if err != nil {
		p.log.Debug("Credentials file unreadable, relying on environment / 凭证文件不可读，依赖环境变量", zap.Error(err))
		return nil
	}
	return p.parseJSON(ctx, data)
}

// parseJSON returns typed credentials; a payload the SDK cannot parse is still
// usable through the environment variable
func (p *Provider) parseJSON(ctx context.Context, data []byte) *google.Credentials {
	creds, err := google.CredentialsFromJSON(ctx, data, CloudPlatformScope)
	if err != nil {
		p.log.Debug("Credentials not parsable as a typed credential / 凭证无法解析为类型化凭证", zap.Error(err))
		return nil
	}
	return creds
}

// TempFile returns the outstanding temporary file, if any
// TempFile 返回尚未清理的临时文件（如有）
func (p *Provider) TempFile() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tempFile
}

// Cleanup removes the temporary credentials file; safe to call repeatedly
// Cleanup 删除临时凭证文件；可重复调用
func (p *Provider) Cleanup() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tempFile == "" {
		return
	}
	if err := os.Remove(p.tempFile); err != nil && !os.IsNotExist(err) {
		p.log.Error("Failed to remove temporary credentials file / 删除临时凭证文件失败", zap.Error(err))
		return
	}
	if os.Getenv(CredentialsEnv) == p.tempFile {
		_ = os.Unsetenv(CredentialsEnv)
	}
	p.log.Info("Temporary credentials file removed / 临时凭证文件已删除")
	p.tempFile = ""
}

// Validate probes the bucket behind root with the handle's credential.
// It returns false on any failure and never returns an error.
// Validate 使用句柄中的凭证探测 root 所在的存储桶。任何失败都返回 false，不会返回错误。
func (p *Provider) Validate(ctx context.Context, root string, h *Handle, s3Endpoint string) bool {
	ctx, span := p.tracer.Start(ctx, "credentials.validate")
	defer span.End()

	ok := objectstore.ProbeRoot(ctx, root, objectstore.OpenOptions{
		GoogleCredentials: h.GoogleCredentials(),
		S3Endpoint:        s3Endpoint,
	}, p.log)
	span.SetAttributes(attribute.Bool("credentials.valid", ok))
	return ok
}
