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

// Package migrate runs the tool's schema upgrade as a pre-flight gate and
// decides whether startup may continue.
// migrate 包将工具的模式升级作为启动前闸门运行，并决定是否继续启动。
package migrate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mlops-orchestrator/mlflow-service/internal/config"
	"github.com/mlops-orchestrator/mlflow-service/internal/metrics"
	"github.com/mlops-orchestrator/mlflow-service/internal/mlflowcli"
	"github.com/mlops-orchestrator/mlflow-service/internal/process"
	"github.com/mlops-orchestrator/mlflow-service/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// ErrMigration indicates the schema gate refused to continue
// ErrMigration 表示模式闸门拒绝继续启动
var ErrMigration = errors.New("schema migration failed")

// DefaultTimeout bounds the upgrade command (60 seconds)
// DefaultTimeout 限制升级命令的运行时间（60秒）
const DefaultTimeout = 60 * time.Second

// Outcome classifies how the upgrade ended
// Outcome 对升级结果进行分类
type Outcome string

const (
	// OutcomeUpgraded means exit 0 with an upgrade or up-to-date message
	// OutcomeUpgraded 表示退出码为 0 且输出包含升级或已是最新的信息
	OutcomeUpgraded Outcome = "upgraded"

	// OutcomeCompleted means exit 0 with any other output
	// OutcomeCompleted 表示退出码为 0 且输出为其他内容
	OutcomeCompleted Outcome = "completed"

	// OutcomeDatabaseMissing means a tolerated failure: the database or relation does not exist yet
	// OutcomeDatabaseMissing 表示可容忍的失败：数据库或关系尚不存在
	OutcomeDatabaseMissing Outcome = "database_missing"

	// OutcomeTimeout means the command ran out of time; startup proceeds
	// OutcomeTimeout 表示命令超时；启动继续
	OutcomeTimeout Outcome = "timeout"

	// OutcomeFailed means a non-zero exit that is not tolerated
	// OutcomeFailed 表示不可容忍的非零退出
	OutcomeFailed Outcome = "failed"

	// OutcomeError means the command could not be run at all
	// OutcomeError 表示命令根本无法运行
	OutcomeError Outcome = "error"
)

// Decision is the result of the schema gate
// Decision 是模式闸门的结果
type Decision struct {
	Proceed bool
	Outcome Outcome

	// Err explains a refusal; nil when Proceed is true
	// Err 说明拒绝原因；Proceed 为 true 时为 nil
	Err error
}

var (
	upgradedMarkers  = []string{"upgraded", "is up to date", "alembic_version"}
	tolerableMarkers = []string{"does not exist", "operationalerror"}
)

// Migrator runs `<tool> db upgrade <uri>`
// Migrator 运行 `<tool> db upgrade <uri>`
type Migrator struct {
	cli     mlflowcli.CLI
	runner  process.Runner
	timeout time.Duration
	log     *zap.Logger
	metrics *metrics.Metrics
	tracer  *tracing.Provider
}

// Option configures a Migrator
// Option 配置 Migrator
type Option func(*Migrator)

// WithTimeout overrides DefaultTimeout
// WithTimeout 覆盖 DefaultTimeout
func WithTimeout(d time.Duration) Option {
	return func(m *Migrator) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithMetrics records decisions
// WithMetrics 记录闸门结果
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Migrator) { m.metrics = mt }
}

// WithTracer wraps each upgrade in a span
// WithTracer 为每次升级创建 span
func WithTracer(t *tracing.Provider) Option {
	return func(m *Migrator) { m.tracer = t }
}

// New creates a Migrator
// New 创建 Migrator
func New(cli mlflowcli.CLI, runner process.Runner, log *zap.Logger, opts ...Option) *Migrator {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Migrator{
		cli:     cli,
		runner:  runner,
		timeout: DefaultTimeout,
		log:     log,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Upgrade runs the schema upgrade and applies the gate policy:
// exit 0 proceeds; a non-zero exit proceeds only when stderr reports a missing
// database or an operational error; a timeout proceeds; anything else stops startup.
// Upgrade 运行模式升级并应用闸门策略：
// 退出码 0 继续；非零退出仅在 stderr 报告数据库不存在或操作错误时继续；超时继续；其他情况停止启动。
func (m *Migrator) Upgrade(ctx context.Context, backendStoreURI string) Decision {
	ctx, span := m.tracer.Start(ctx, "migrate.upgrade")
	defer span.End()

	d := m.upgrade(ctx, backendStoreURI)

	span.SetAttributes(
		attribute.String("migrate.outcome", string(d.Outcome)),
		attribute.Bool("migrate.proceed", d.Proceed),
	)
	if d.Err != nil {
		span.SetStatus(codes.Error, d.Err.Error())
	}
	m.metrics.IncMigrationDecision(string(d.Outcome))
	return d
}

func (m *Migrator) upgrade(ctx context.Context, backendStoreURI string) Decision {
	if strings.TrimSpace(backendStoreURI) == "" {
		m.log.Error("Backend store URI is not configured / 未配置后端存储 URI")
		return refuse(OutcomeError, fmt.Errorf("%w: backend store URI is not configured", ErrMigration))
	}

	m.log.Info("Checking and upgrading database schema / 检查并升级数据库模式",
		zap.String("backend_store_uri", config.RedactURI(backendStoreURI)))

	res, err := m.runner.Run(ctx, process.Command{
		Args:    m.cli.DBUpgradeArgs(backendStoreURI),
		Env:     m.cli.ChildEnv(os.Environ(), nil),
		Timeout: m.timeout,
	})
	if err != nil {
		if errors.Is(err, process.ErrTimeout) {
			m.log.Warn("Schema upgrade timed out, continuing startup / 模式升级超时，继续启动",
				zap.Duration("timeout", m.timeout))
			return Decision{Proceed: true, Outcome: OutcomeTimeout}
		}
		m.log.Error("Unexpected error during schema upgrade / 模式升级时发生意外错误", zap.Error(err))
		return refuse(OutcomeError, fmt.Errorf("%w: %v", ErrMigration, err))
	}

	stdout := strings.TrimSpace(res.Stdout)
	stderr := strings.TrimSpace(res.Stderr)

	if res.Success() {
		if containsAny(strings.ToLower(stdout), upgradedMarkers) {
			m.log.Info("Database schema upgraded or already up to date / 数据库模式已升级或已是最新")
			return Decision{Proceed: true, Outcome: OutcomeUpgraded}
		}
		if stdout != "" {
			m.log.Info("Schema upgrade finished / 模式升级完成", zap.String("output", stdout))
		} else {
			m.log.Info("Database schema upgraded / 数据库模式升级成功")
		}
		return Decision{Proceed: true, Outcome: OutcomeCompleted}
	}

	if containsAny(strings.ToLower(stderr), tolerableMarkers) {
		m.log.Warn("Database not reachable or not created yet, the server will create it on start / "+
			"数据库尚不存在或不可访问，服务器启动时将尝试创建",
			zap.Int("exit_code", res.ExitCode))
		return Decision{Proceed: true, Outcome: OutcomeDatabaseMissing}
	}

	m.log.Error("Failed to upgrade database schema / 数据库模式升级失败",
		zap.Int("exit_code", res.ExitCode),
		zap.String("stdout", stdout),
		zap.String("stderr", stderr))
	return refuse(OutcomeFailed, fmt.Errorf("%w: db upgrade exited with code %d", ErrMigration, res.ExitCode))
}

func refuse(o Outcome, err error) Decision {
	return Decision{Proceed: false, Outcome: o, Err: err}
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
