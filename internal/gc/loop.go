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

// Package gc runs the tool's garbage collection periodically in the background.
// gc 包在后台周期性运行工具的垃圾回收。
package gc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
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

// ErrCycleFailed indicates the gc command exited non-zero
// ErrCycleFailed 表示 gc 命令以非零码退出
var ErrCycleFailed = errors.New("gc cycle failed")

// Cycle results recorded in metrics
// 记录到指标中的周期结果
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
	ResultError  = "error"
)

// Options describes what the loop collects
// Options 描述回收循环的参数
type Options struct {
	BackendStoreURI string

	// OlderThan is passed through verbatim, e.g. "5m"
	// OlderThan 原样传递，例如 "5m"
	OlderThan string

	TrackingURI string

	// Interval between cycles; non-positive values use config.DefaultGCInterval
	// Interval 是周期间隔；非正值使用 config.DefaultGCInterval
	Interval time.Duration
}

// Loop runs one gc command per interval until stopped.
// Failures are logged and never end the loop.
// Loop 每个间隔运行一次 gc 命令直到停止。失败仅记录日志，不会结束循环。
type Loop struct {
	cli     mlflowcli.CLI
	runner  process.Runner
	opts    Options
	log     *zap.Logger
	metrics *metrics.Metrics
	tracer  *tracing.Provider

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	done      chan struct{}
}

// Option configures a Loop
// Option 配置 Loop
type Option func(*Loop)

// WithMetrics records cycles
// WithMetrics 记录回收周期
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// WithTracer wraps each cycle in a span
// WithTracer 为每个周期创建 span
func WithTracer(t *tracing.Provider) Option {
	return func(l *Loop) { l.tracer = t }
}

// New creates a stopped loop
// New 创建未启动的回收循环
func New(cli mlflowcli.CLI, runner process.Runner, opts Options, log *zap.Logger, options ...Option) *Loop {
	if opts.Interval <= 0 {
		opts.Interval = config.DefaultGCInterval
	}
	if strings.TrimSpace(opts.OlderThan) == "" {
		opts.OlderThan = config.DefaultGCOlderThan
	}
	if log == nil {
		log = zap.NewNop()
	}
	l := &Loop{
		cli:    cli,
		runner: runner,
		opts:   opts,
		log:    log.With(zap.String("component", "gc")),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, o := range options {
		o(l)
	}
	return l
}

// Start launches the loop goroutine once. Without a backend store URI the
// loop logs a warning and ends immediately.
// Start 仅启动一次回收协程。未配置后端存储 URI 时记录警告并立即结束。
func (l *Loop) Start(ctx context.Context) {
	l.startOnce.Do(func() {
		if strings.TrimSpace(l.opts.BackendStoreURI) == "" {
			l.log.Warn("GC disabled: backend store URI is not configured / GC 已禁用：未配置后端存储 URI")
			close(l.done)
			return
		}

		l.log.Info("GC loop started / GC 循环已启动",
			zap.Duration("interval", l.opts.Interval),
			zap.String("older_than", l.opts.OlderThan),
			zap.String("tracking_uri", l.opts.TrackingURI))

		go l.run(ctx)
	})
}

// Stop signals the loop to end without waiting; safe to call many times
// Stop 通知循环结束而不等待；可多次调用
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Done is closed once the loop has ended
// Done 在循环结束后关闭
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)

	// Stop also aborts an in-flight command / Stop 同时中止正在运行的命令
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-l.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	timer := time.NewTimer(l.opts.Interval)
	defer timer.Stop()

	for {
		select {
		case <-l.stopCh:
			l.log.Info("GC loop stopped / GC 循环已停止")
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := l.RunOnce(ctx); err != nil && ctx.Err() == nil {
			l.log.Warn("GC cycle failed / GC 周期失败", zap.Error(err))
		}

		timer.Reset(l.opts.Interval)
		select {
		case <-l.stopCh:
			l.log.Info("GC loop stopped / GC 循环已停止")
			return
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

// RunOnce runs a single gc command. Output is logged: stdout at info, stderr at warn.
// RunOnce 运行一次 gc 命令。stdout 以 info 级别记录，stderr 以 warn 级别记录。
func (l *Loop) RunOnce(ctx context.Context) error {
	ctx, span := l.tracer.Start(ctx, "gc.cycle")
	defer span.End()

	started := time.Now()
	res, err := l.runner.Run(ctx, process.Command{
		Args: l.cli.GCArgs(mlflowcli.GCOptions{
			BackendStoreURI: l.opts.BackendStoreURI,
			OlderThan:       l.opts.OlderThan,
			TrackingURI:     l.opts.TrackingURI,
		}),
		Env: l.cli.ChildEnv(os.Environ(), map[string]string{
			mlflowcli.TrackingURIEnv: l.opts.TrackingURI,
		}),
	})

	result := ResultOK
	switch {
	case err != nil:
		result = ResultError
		err = fmt.Errorf("run gc: %w", err)
	case !res.Success():
		result = ResultFailed
		err = fmt.Errorf("%w: exit code %d", ErrCycleFailed, res.ExitCode)
	}

	if out := strings.TrimSpace(res.Stdout); out != "" {
		l.log.Info(out, zap.String("stream", "stdout"))
	}
	if out := strings.TrimSpace(res.Stderr); out != "" {
		l.log.Warn(out, zap.String("stream", "stderr"))
	}

	span.SetAttributes(attribute.String("gc.result", result))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	l.metrics.ObserveGCCycle(result, time.Since(started))
	return err
}
