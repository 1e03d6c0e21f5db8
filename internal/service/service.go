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

// Package service wires the components of the tracking server supervisor and
// drives staged startup and shutdown.
// service 包组装跟踪服务器监管器的各个组件，并驱动分阶段的启动与关闭。
//
// Startup order / 启动顺序:
// 1. mlflow CLI installation check / mlflow CLI 安装检查
// 2. Backend store preflight / 后端存储预检查
// 3. Artifact credentials and bucket validation / 制品凭证与存储桶验证
// 4. Schema migration gate / 模式迁移闸门
// 5. Tracking server start and readiness wait / 启动跟踪服务器并等待就绪
// 6. Metrics endpoint and GC loop / 指标端点与 GC 循环
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mlops-orchestrator/mlflow-service/internal/backend"
	"github.com/mlops-orchestrator/mlflow-service/internal/config"
	"github.com/mlops-orchestrator/mlflow-service/internal/credentials"
	"github.com/mlops-orchestrator/mlflow-service/internal/gc"
	"github.com/mlops-orchestrator/mlflow-service/internal/logger"
	"github.com/mlops-orchestrator/mlflow-service/internal/metrics"
	"github.com/mlops-orchestrator/mlflow-service/internal/migrate"
	"github.com/mlops-orchestrator/mlflow-service/internal/mlflowcli"
	"github.com/mlops-orchestrator/mlflow-service/internal/objectstore"
	"github.com/mlops-orchestrator/mlflow-service/internal/process"
	"github.com/mlops-orchestrator/mlflow-service/internal/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

const (
	installCheckTimeout = 30 * time.Second

	// DefaultPreflightTimeout bounds the advisory backend checks
	// DefaultPreflightTimeout 限制建议性后端检查的耗时
	DefaultPreflightTimeout = 10 * time.Second

	startupSteps        = 6
	shutdownSteps       = 4
)

// Common errors for staged startup
// 分阶段启动的常见错误
var (
	// ErrCLIUnavailable indicates the installation check failed
	// ErrCLIUnavailable 表示安装检查失败
	ErrCLIUnavailable = errors.New("mlflow CLI not available")

	// ErrArtifactStore indicates bucket validation failed while credentials are required
	// ErrArtifactStore 表示在要求凭证时存储桶验证失败
	ErrArtifactStore = errors.New("artifact store validation failed")

	// ErrShutdown indicates Shutdown ran before startup finished
	// ErrShutdown 表示在启动完成前已执行 Shutdown
	ErrShutdown = errors.New("service is shutting down")
)

// CredentialProvider resolves and cleans up artifact credentials
// CredentialProvider 解析并清理制品凭证
type CredentialProvider interface {
	Resolve(ctx context.Context) (*credentials.Handle, error)
	Validate(ctx context.Context, root string, h *credentials.Handle, s3Endpoint string) bool
	Cleanup()
}

// BackendChecker runs preflight checks against the backend store
// BackendChecker 对后端存储执行预检查
type BackendChecker interface {
	Ping(ctx context.Context) error
	EnsureDatabase(ctx context.Context) (bool, error)
}

// BackendOpener creates a BackendChecker for a store URI
// BackendOpener 为存储 URI 创建 BackendChecker
type BackendOpener func(uri string) (BackendChecker, error)

// Service owns every component of one supervised run
// Service 持有一次监管运行的所有组件
type Service struct {
	cfg         *config.EffectiveConfig
	cli         mlflowcli.CLI
	runner      process.Runner
	creds       CredentialProvider
	openBackend BackendOpener
	metrics     *metrics.Metrics
	gatherer    prometheus.Gatherer
	metricsAddr string
	tracer      *tracing.Provider
	log         *zap.Logger
	tlog        *otelzap.Logger
	out         io.Writer

	preflightTimeout time.Duration

	// supervisorOpts adjusts the supervisor before it is built
	// supervisorOpts 在构建监管器前调整其选项
	supervisorOpts func(*process.Options)

	mu         sync.Mutex
	supervisor *process.Supervisor
	gcLoop     *gc.Loop
	metricsSrv *metrics.Server
	handle     *credentials.Handle
	closed     bool

	bgCtx        context.Context
	bgCancel     context.CancelFunc
	shutdownOnce sync.Once
}

// Option configures a Service
// Option 配置 Service
type Option func(*Service)

// WithRunner replaces the one-shot command runner
// WithRunner 替换一次性命令运行器
func WithRunner(r process.Runner) Option {
	return func(s *Service) { s.runner = r }
}

// WithCredentialProvider replaces the credential chain
// WithCredentialProvider 替换凭证链
func WithCredentialProvider(p CredentialProvider) Option {
	return func(s *Service) { s.creds = p }
}

// WithBackendOpener replaces the backend checker factory
// WithBackendOpener 替换后端检查器工厂
func WithBackendOpener(o BackendOpener) Option {
	return func(s *Service) { s.openBackend = o }
}

// WithMetrics records metrics on m and serves g on addr when addr is set
// WithMetrics 将指标记录到 m，addr 非空时在 addr 上提供 g
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer, addr string) Option {
	return func(s *Service) {
		s.metrics = m
		s.gatherer = g
		s.metricsAddr = strings.TrimSpace(addr)
	}
}

// WithTracer sets the tracing provider
// WithTracer 设置追踪提供者
func WithTracer(t *tracing.Provider) Option {
	return func(s *Service) { s.tracer = t }
}

// WithOutput sets where startup banners are printed
// WithOutput 设置启动横幅的输出位置
func WithOutput(w io.Writer) Option {
	return func(s *Service) { s.out = w }
}

// WithPreflightTimeout bounds the backend preflight; non-positive keeps the default
// WithPreflightTimeout 限制后端预检查的耗时；非正值保持默认值
func WithPreflightTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.preflightTimeout = d
		}
	}
}

// WithSupervisorOptions adjusts the supervisor options before start
// WithSupervisorOptions 在启动前调整监管器选项
func WithSupervisorOptions(fn func(*process.Options)) Option {
	return func(s *Service) { s.supervisorOpts = fn }
}

// New creates a Service for cfg
// New 为 cfg 创建 Service
func New(cfg *config.EffectiveConfig, log *zap.Logger, opts ...Option) *Service {
	log = logger.OrNop(log)
	bgCtx, bgCancel := context.WithCancel(context.Background())

	s := &Service{
		cfg:      cfg,
		cli:      mlflowcli.New(cfg.CLI),
		runner:   process.NewExecRunner(),
		log:      log,
		out:      os.Stdout,
		bgCtx:    bgCtx,
		bgCancel: bgCancel,

		preflightTimeout: DefaultPreflightTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.tlog = logger.NewTraced(s.log)
	if s.creds == nil {
		s.creds = credentials.NewProvider(cfg.CredentialMode, s.log,
			credentials.WithMetrics(s.metrics),
			credentials.WithTracer(s.tracer))
	}
	if s.openBackend == nil {
		s.openBackend = func(uri string) (BackendChecker, error) {
			c, err := backend.NewChecker(uri, s.log, s.tracer)
			if err != nil {
				return nil, err
			}
			return c, nil
		}
	}
	return s
}

// Run starts the service and blocks until the tracking server exits
// Run 启动服务并阻塞直到跟踪服务器退出
func (s *Service) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	return s.Wait(ctx)
}

// Start runs every startup stage. It returns once the tracking server is ready
// and the background services are running.
// Start 执行所有启动阶段，在跟踪服务器就绪且后台服务运行后返回。
func (s *Service) Start(ctx context.Context) error {
	s.banner("MLflow tracking service starting...", "MLflow 跟踪服务正在启动...")
	fmt.Fprintf(s.out, "Tracking server: %s, Artifact root: %s\n", s.cli, s.cfg.ArtifactRoot)

	s.step(ctx, 1, startupSteps, "Checking mlflow CLI installation...", "检查 mlflow CLI 安装...")
	if _, err := s.CheckInstallation(ctx); err != nil {
		return err
	}

	s.step(ctx, 2, startupSteps, "Checking backend store...", "检查后端存储...")
	_ = s.Preflight(ctx)

	s.step(ctx, 3, startupSteps, "Preparing artifact credentials...", "准备制品凭证...")
	if err := s.PrepareArtifacts(ctx); err != nil {
		return err
	}

	s.step(ctx, 4, startupSteps, "Upgrading database schema...", "升级数据库模式...")
	if err := s.Migrate(ctx); err != nil {
		return err
	}

	s.step(ctx, 5, startupSteps, "Starting tracking server...", "启动跟踪服务器...")
	if err := s.startServer(ctx); err != nil {
		return err
	}

	s.step(ctx, 6, startupSteps, "Starting background services...", "启动后台服务...")
	s.startBackground()

	s.banner("Tracking service started successfully!", "跟踪服务启动成功！")
	s.tlog.Ctx(ctx).Info("Tracking server available / 跟踪服务器可用", zap.String("url", s.cfg.TrackingURI()))
	return nil
}

// CheckInstallation runs `<cli> --version` and returns the reported version
// CheckInstallation 运行 `<cli> --version` 并返回版本号
func (s *Service) CheckInstallation(ctx context.Context) (string, error) {
	res, err := s.runner.Run(ctx, process.Command{
		Args:    s.cli.VersionArgs(),
		Env:     s.cli.ChildEnv(os.Environ(), nil),
		Timeout: installCheckTimeout,
	})
	if err != nil {
		s.tlog.Ctx(ctx).Error("mlflow CLI is not installed or not runnable / mlflow CLI 未安装或无法运行",
			zap.String("cli", s.cli.String()), zap.Error(err))
		return "", fmt.Errorf("%w: %s: %w", ErrCLIUnavailable, s.cli.String(), err)
	}
	if !res.Success() {
		s.tlog.Ctx(ctx).Error("mlflow CLI check failed / mlflow CLI 检查失败",
			zap.Int("exit_code", res.ExitCode), zap.String("stderr", strings.TrimSpace(res.Stderr)))
		return "", fmt.Errorf("%w: %s exited with code %d", ErrCLIUnavailable, s.cli.String(), res.ExitCode)
	}

	version := mlflowcli.ParseVersion(res.Stdout)
	s.tlog.Ctx(ctx).Info("mlflow CLI available / mlflow CLI 可用", zap.String("version", version))
	return version, nil
}

// Preflight checks the backend store within the preflight timeout. Failures are
// logged as warnings and returned for callers that report them; startup
// continues either way.
// Preflight 在预检查超时内检查后端存储。失败记录为警告并返回给需要报告的调用方；启动流程不受影响。
func (s *Service) Preflight(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.preflightTimeout)
	defer cancel()

	checker, err := s.openBackend(s.cfg.BackendStoreURI)
	if err != nil {
		s.tlog.Ctx(ctx).Warn("Backend store not checked / 未检查后端存储", zap.Error(err))
		return err
	}

	if s.cfg.CreateDatabase {
		created, err := checker.EnsureDatabase(ctx)
		switch {
		case err != nil:
			s.tlog.Ctx(ctx).Warn("Could not create backend database / 无法创建后端数据库", zap.Error(err))
		case created:
			s.tlog.Ctx(ctx).Info("Backend database created / 后端数据库已创建")
		}
	}

	if err := checker.Ping(ctx); err != nil {
		s.tlog.Ctx(ctx).Warn("Backend store not reachable, the schema gate decides / 后端存储不可访问，由模式迁移闸门决定",
			zap.Error(err))
		return err
	}
	return nil
}

// credentialsRequired reports whether credential or validation failures abort startup
func (s *Service) credentialsRequired() bool {
	return s.cfg.RequireArtifactCredentials && s.cfg.ArtifactRootIsCloud()
}

// PrepareArtifacts resolves cloud credentials for gs:// roots and optionally
// validates the bucket. Failures abort only when credentials are required.
// PrepareArtifacts 为 gs:// 根目录解析云凭证，并可选地验证存储桶。仅在要求凭证时失败才会中止启动。
func (s *Service) PrepareArtifacts(ctx context.Context) error {
	root := s.cfg.ArtifactRoot
	required := s.credentialsRequired()

	loc, locErr := objectstore.ParseLocation(root)
	if locErr == nil && loc.Scheme == objectstore.SchemeGCS {
		h, err := s.creds.Resolve(ctx)
		if err != nil {
			if required {
				return fmt.Errorf("artifact credentials required for %s: %w", root, err)
			}
			s.tlog.Ctx(ctx).Warn("Continuing without cloud credentials / 在没有云凭证的情况下继续",
				zap.Error(err))
		} else {
			s.tlog.Ctx(ctx).Info("Artifact credentials resolved / 制品凭证已解析",
				zap.String("provenance", string(h.Provenance)))
		}
		s.mu.Lock()
		s.handle = h
		s.mu.Unlock()
	} else {
		s.tlog.Ctx(ctx).Info("Artifact root needs no Google credentials / 制品根目录无需 Google 凭证",
			zap.String("artifact_root", root))
	}

	if !s.cfg.ValidateArtifactStore || !s.cfg.ArtifactRootIsCloud() {
		return nil
	}

	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()
	if s.creds.Validate(ctx, root, h, s.cfg.S3EndpointURL) {
		s.tlog.Ctx(ctx).Info("Artifact store validated / 制品存储验证通过")
		return nil
	}
	if required {
		return fmt.Errorf("%w: %s", ErrArtifactStore, root)
	}
	s.tlog.Ctx(ctx).Warn("Artifact store validation failed, continuing / 制品存储验证失败，继续启动")
	return nil
}

// Migrate runs the schema gate and returns an error when it refuses startup
// Migrate 运行模式迁移闸门，拒绝启动时返回错误
func (s *Service) Migrate(ctx context.Context) error {
	m := migrate.New(s.cli, s.runner, s.log,
		migrate.WithMetrics(s.metrics),
		migrate.WithTracer(s.tracer))

	d := m.Upgrade(ctx, s.cfg.BackendStoreURI)
	if d.Proceed {
		return nil
	}
	if d.Err != nil {
		return d.Err
	}
	return fmt.Errorf("%w: outcome %s", migrate.ErrMigration, d.Outcome)
}

func (s *Service) startServer(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "server.start")
	defer span.End()

	opts := process.Options{
		Command: s.cli.ServerArgs(mlflowcli.ServerOptions{
			BackendStoreURI:      s.cfg.BackendStoreURI,
			ArtifactsDestination: s.cfg.ArtifactRoot,
			Host:                 s.cfg.Host,
			Port:                 s.cfg.Port,
		}),
		// Built after credentials so the child inherits them / 在凭证之后构建，子进程可继承
		Env:  s.cli.ChildEnv(os.Environ(), nil),
		Host: s.cfg.Host,
		Port: s.cfg.Port,
	}
	if s.supervisorOpts != nil {
		s.supervisorOpts(&opts)
	}

	sup := process.NewSupervisor(opts, s.log, s.metrics)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrShutdown
	}
	s.supervisor = sup
	s.mu.Unlock()

	if err := sup.Start(ctx); err != nil {
		span.RecordError(err)
		return err
	}

	// Shutdown may have found the child not yet spawned / Shutdown 可能在子进程启动前执行
	if s.isClosed() {
		_, _ = sup.Stop(context.WithoutCancel(ctx))
		return ErrShutdown
	}
	return nil
}

func (s *Service) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Service) startBackground() {
	if s.isClosed() {
		return
	}
	if s.metricsAddr != "" && s.gatherer != nil {
		srv := metrics.NewServer(s.metricsAddr, s.gatherer, s.log)
		if err := srv.Start(); err != nil {
			s.log.Warn("Metrics endpoint not started / 指标端点未启动", zap.Error(err))
		} else {
			s.mu.Lock()
			s.metricsSrv = srv
			s.mu.Unlock()
		}
	}

	if !s.cfg.GCEnabled {
		s.log.Info("GC loop disabled / GC 循环已禁用")
		return
	}
	loop := s.newGCLoop()
	s.mu.Lock()
	s.gcLoop = loop
	s.mu.Unlock()
	loop.Start(s.bgCtx)
}

func (s *Service) newGCLoop() *gc.Loop {
	return gc.New(s.cli, s.runner, gc.Options{
		BackendStoreURI: s.cfg.BackendStoreURI,
		OlderThan:       s.cfg.GCOlderThan,
		TrackingURI:     s.cfg.TrackingURI(),
		Interval:        s.cfg.GCInterval,
	}, s.log, gc.WithMetrics(s.metrics), gc.WithTracer(s.tracer))
}

// RunGCOnce runs a single GC cycle synchronously
// RunGCOnce 同步运行一次 GC 周期
func (s *Service) RunGCOnce(ctx context.Context) error {
	return s.newGCLoop().RunOnce(ctx)
}

// Wait blocks until the tracking server exits. A crash is returned as an
// error; an exit caused by Shutdown is not.
// Wait 阻塞直到跟踪服务器退出。崩溃时返回错误；由 Shutdown 导致的退出不返回错误。
func (s *Service) Wait(ctx context.Context) error {
	sup := s.currentSupervisor()
	if sup == nil {
		return process.ErrNotStarted
	}

	code, err := sup.Wait(ctx)
	if err != nil {
		if errors.Is(err, process.ErrChildExited) {
			s.tlog.Ctx(ctx).Error("Tracking server run ended with a crash / 跟踪服务器运行因崩溃结束", zap.Int("exit_code", code))
		}
		return err
	}
	s.tlog.Ctx(ctx).Info("Tracking server exited / 跟踪服务器已退出", zap.Int("exit_code", code))
	return nil
}

// Supervisor returns the tracking server supervisor, nil before stage 5
// Supervisor 返回跟踪服务器监管器，第 5 阶段之前为 nil
func (s *Service) Supervisor() *process.Supervisor {
	return s.currentSupervisor()
}

func (s *Service) currentSupervisor() *process.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.supervisor
}

// MetricsAddr returns the bound metrics address, empty when not serving
// MetricsAddr 返回指标端点实际绑定的地址，未提供服务时为空
func (s *Service) MetricsAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metricsSrv == nil {
		return ""
	}
	return s.metricsSrv.Addr()
}

// Shutdown stops the GC loop, stops the tracking server, removes temporary
// credentials and flushes telemetry. It is safe to call more than once and
// before Start.
// Shutdown 停止 GC 循环、停止跟踪服务器、删除临时凭证并刷新遥测数据。可多次调用，也可在 Start 之前调用。
func (s *Service) Shutdown(ctx context.Context) {
	s.shutdownOnce.Do(func() {
		s.banner("Shutting down tracking service...", "正在关闭跟踪服务...")

		s.mu.Lock()
		s.closed = true
		loop, sup, srv := s.gcLoop, s.supervisor, s.metricsSrv
		s.mu.Unlock()

		s.step(ctx, 1, shutdownSteps, "Stopping GC loop...", "停止 GC 循环...")
		if loop != nil {
			loop.Stop()
		}

		s.step(ctx, 2, shutdownSteps, "Stopping tracking server...", "停止跟踪服务器...")
		if sup != nil {
			code, err := sup.Stop(ctx)
			if err != nil {
				s.log.Warn("Error stopping tracking server / 停止跟踪服务器时出错", zap.Error(err))
			} else {
				s.log.Info("Tracking server exit code / 跟踪服务器退出码", zap.Int("exit_code", code))
			}
		}

		s.step(ctx, 3, shutdownSteps, "Cleaning up credentials...", "清理凭证...")
		s.creds.Cleanup()

		s.step(ctx, 4, shutdownSteps, "Flushing telemetry...", "刷新遥测数据...")
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				s.log.Warn("Error stopping metrics endpoint / 停止指标端点时出错", zap.Error(err))
			}
		}
		if err := s.tracer.Shutdown(ctx); err != nil {
			s.log.Warn("Error flushing traces / 刷新追踪数据时出错", zap.Error(err))
		}
		s.bgCancel()

		s.banner("Tracking service shutdown complete", "跟踪服务关闭完成")
	})
}

// Close releases credentials and flushes traces without the shutdown sequence.
// Used by the one-shot subcommands.
// Close 释放凭证并刷新追踪数据，不执行关闭流程。供一次性子命令使用。
func (s *Service) Close(ctx context.Context) {
	s.creds.Cleanup()
	if err := s.tracer.Shutdown(ctx); err != nil {
		s.log.Warn("Error flushing traces / 刷新追踪数据时出错", zap.Error(err))
	}
	s.bgCancel()
}

func (s *Service) banner(en, zh string) {
	fmt.Fprintln(s.out, "========================================")
	fmt.Fprintf(s.out, "  %s\n", en)
	fmt.Fprintf(s.out, "  %s\n", zh)
	fmt.Fprintln(s.out, "========================================")
}

func (s *Service) step(ctx context.Context, n, total int, en, zh string) {
	fmt.Fprintf(s.out, "[%d/%d] %s / %s\n", n, total, en, zh)
	s.tlog.Ctx(ctx).Debug(en, zap.Int("step", n), zap.Int("total", total))
}
