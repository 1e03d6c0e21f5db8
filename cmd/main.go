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

// Package main is the entry point of the MLflow tracking service supervisor.
// main 包是 MLflow 跟踪服务监管器的入口点。
//
// The service:
// 该服务负责：
// - Resolves configuration and artifact credentials / 解析配置与制品凭证
// - Gates startup on the database schema migration / 以数据库模式迁移作为启动闸门
// - Runs and supervises `mlflow server` / 运行并监管 `mlflow server`
// - Runs periodic `mlflow gc` in the background / 在后台定期运行 `mlflow gc`
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/mlops-orchestrator/mlflow-service/internal/config"
	"github.com/mlops-orchestrator/mlflow-service/internal/logger"
	"github.com/mlops-orchestrator/mlflow-service/internal/metrics"
	"github.com/mlops-orchestrator/mlflow-service/internal/service"
	"github.com/mlops-orchestrator/mlflow-service/internal/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version information, set at build time
// 版本信息，在构建时设置
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

const (
	defaultEnvFile  = ".env"
	shutdownTimeout = 30 * time.Second
)

var (
	// configFile is the path to the optional YAML configuration file
	// configFile 是可选 YAML 配置文件的路径
	configFile string

	// envFile is the dotenv file loaded before the environment is read
	// envFile 是读取环境变量前加载的 dotenv 文件
	envFile string
)

// rootCmd runs the supervised tracking server
// rootCmd 运行受监管的跟踪服务器
var rootCmd = &cobra.Command{
	Use:   "mlflow-service",
	Short: "MLflow tracking server supervisor",
	Long: `mlflow-service launches and supervises an MLflow tracking server.
mlflow-service 启动并监管 MLflow 跟踪服务器。

On start it:
启动时：
- Checks the mlflow CLI and the backend store / 检查 mlflow CLI 与后端存储
- Resolves artifact credentials / 解析制品凭证
- Upgrades the database schema / 升级数据库模式
- Starts the tracking server and the GC loop / 启动跟踪服务器与 GC 循环`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runService,
}

// versionCmd shows version information
// versionCmd 显示版本信息
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information / 打印版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "MLflow Service\n")
		fmt.Fprintf(out, "  Version:    %s\n", Version)
		fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
		fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
		fmt.Fprintf(out, "  Go Version: %s\n", runtime.Version())
		fmt.Fprintf(out, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

// configCmd prints the redacted configuration
// configCmd 打印脱敏后的配置
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration / 打印有效配置",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadEnvFile(envFile); err != nil {
			return err
		}
		cfg, err := config.Load(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		data, err := cfg.ToYAML()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprint(out, string(data))
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(out, "# invalid: %v\n", err)
		}
		return nil
	},
}

// migrateCmd runs only the schema gate
// migrateCmd 仅运行模式迁移闸门
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run the database schema upgrade / 运行数据库模式升级",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd.Context(), func(ctx context.Context, svc *service.Service) error {
			if _, err := svc.CheckInstallation(ctx); err != nil {
				return err
			}
			if err := svc.Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema migration gate passed / 模式迁移闸门已通过")
			return nil
		})
	},
}

// gcCmd runs exactly one GC cycle
// gcCmd 仅运行一次 GC 周期
var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Run one garbage collection cycle / 运行一次垃圾回收",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd.Context(), func(ctx context.Context, svc *service.Service) error {
			return svc.RunGCOnce(ctx)
		})
	},
}

// checkCmd runs the preflight checks
// checkCmd 运行预检查
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the CLI, backend store, credentials and bucket / 检查 CLI、后端存储、凭证与存储桶",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd.Context(), func(ctx context.Context, svc *service.Service) error {
			report := svc.Check(ctx)
			report.Print(cmd.OutOrStdout())
			if !report.OK() {
				return errors.New("preflight checks failed / 预检查失败")
			}
			return nil
		})
	},
}

func init() {
	// Add flags to root command
	// 向根命令添加标志
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (optional, environment overrides it)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load (default: .env when present)")

	// Add subcommands
	// 添加子命令
	rootCmd.AddCommand(versionCmd, configCmd, migrateCmd, gcCmd, checkCmd)
}

// loadEnvFile loads a dotenv file without overriding variables already set.
// An explicit path must exist; the default .env is optional.
// loadEnvFile 加载 dotenv 文件，不覆盖已设置的变量。显式路径必须存在；默认的 .env 可选。
func loadEnvFile(path string) error {
	if path == "" {
		if _, err := os.Stat(defaultEnvFile); err != nil {
			return nil
		}
		path = defaultEnvFile
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// app holds what every command needs once configuration is resolved
// app 保存配置解析后各命令所需的依赖
type app struct {
	cfg      *config.Config
	resolved *config.EffectiveConfig
	log      *zap.Logger
	tracer   *tracing.Provider
	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

// bootstrap loads and resolves configuration and builds logging, tracing and metrics
// bootstrap 加载并解析配置，构建日志、追踪与指标
func bootstrap(ctx context.Context) (*app, error) {
	if err := loadEnvFile(envFile); err != nil {
		return nil, err
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	resolved, err := cfg.Resolve()
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	instanceID := uuid.NewString()
	log, err := logger.New(logger.Options{
		Log:         cfg.Log,
		Development: cfg.IsDevelopment(),
		InstanceID:  instanceID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	log.Info("Configuration loaded / 配置已加载", zap.String("config", cfg.String()))
	return &app{
		cfg:      cfg,
		resolved: resolved,
		log:      log,
		tracer:   tracing.Init(ctx, cfg.Telemetry, instanceID, log),
		registry: registry,
		metrics:  metrics.New(registry),
	}, nil
}

func (a *app) newService() *service.Service {
	return service.New(a.resolved, a.log,
		service.WithMetrics(a.metrics, a.registry, a.cfg.Metrics.Addr),
		service.WithTracer(a.tracer))
}

// withService runs fn with a service that is closed afterwards
// withService 使用 service 运行 fn，结束后关闭 service
func withService(ctx context.Context, fn func(context.Context, *service.Service) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.log.Sync() }()

	svc := a.newService()
	defer svc.Close(context.WithoutCancel(ctx))
	return fn(ctx, svc)
}

// runService is the main entry point of the supervisor
// runService 是监管器的主入口点
func runService(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.log.Sync() }()

	svc := a.newService()

	// Setup signal handling for graceful shutdown
	// 设置信号处理以实现优雅关闭
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	// Run service in goroutine
	// 在 goroutine 中运行服务
	errChan := make(chan error, 1)
	go func() {
		errChan <- svc.Run(runCtx)
	}()

	// Wait for signal or exit
	// 等待信号或退出
	select {
	case sig := <-sigChan:
		fmt.Printf("\nReceived signal: %v / 收到信号：%v\n", sig, sig)
		a.log.Info("Received signal, shutting down / 收到信号，正在关闭", zap.String("signal", sig.String()))
		cancelRun()
		shutdown(svc)
		return nil
	case err := <-errChan:
		shutdown(svc)
		return err
	}
}

func shutdown(svc *service.Service) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	svc.Shutdown(ctx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
