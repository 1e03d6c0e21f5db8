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

// Package process supervises the tracking server child process and runs
// one-shot tool commands.
// process 包监管跟踪服务器子进程并运行一次性工具命令。
//
// This package provides:
// 此包提供：
// - Port probe before spawning / 启动前端口探测
// - Non-blocking output drains with severity classification / 带级别分类的非阻塞输出读取
// - Bounded readiness wait / 有界的就绪等待
// - Graceful stop with forced kill fallback / 带强制终止回退的优雅停止
package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/mlops-orchestrator/mlflow-service/internal/metrics"
	"go.uber.org/zap"
)

// Common errors for process supervision
// 进程监管的常见错误
var (
	// ErrPortInUse indicates the target port already accepts connections
	// ErrPortInUse 表示目标端口已被占用
	ErrPortInUse = errors.New("port already in use")

	// ErrStartFailed indicates the child could not be spawned
	// ErrStartFailed 表示子进程无法启动
	ErrStartFailed = errors.New("process failed to start")

	// ErrChildExited indicates the child exited while it was expected to run
	// ErrChildExited 表示子进程在应当运行时退出
	ErrChildExited = errors.New("process exited unexpectedly")

	// ErrReadinessTimeout indicates the port never accepted connections in time
	// ErrReadinessTimeout 表示端口未在规定时间内接受连接
	ErrReadinessTimeout = errors.New("process did not become ready in time")

	// ErrAlreadyStarted indicates Start was called twice
	// ErrAlreadyStarted 表示重复调用 Start
	ErrAlreadyStarted = errors.New("process already started")

	// ErrNotStarted indicates there is no child to wait on
	// ErrNotStarted 表示没有可等待的子进程
	ErrNotStarted = errors.New("process not started")
)

// State is the lifecycle state of the supervised child
// State 是被监管子进程的生命周期状态
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateReady    State = "ready"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateCrashed  State = "crashed"
)

// Default configuration values
// 默认配置值
const (
	// DefaultReadyTimeout bounds the readiness wait (30 seconds)
	// DefaultReadyTimeout 限制就绪等待时间（30秒）
	DefaultReadyTimeout = 30 * time.Second

	// DefaultProbeInterval is the pause between readiness probes
	// DefaultProbeInterval 是就绪探测之间的间隔
	DefaultProbeInterval = time.Second

	// DefaultStopGrace is how long a terminated child may take to exit (10 seconds)
	// DefaultStopGrace 是子进程收到终止信号后允许的退出时间（10秒）
	DefaultStopGrace = 10 * time.Second

	// drainGrace bounds how long exit paths wait for output readers
	drainGrace = 2 * time.Second

	// maxLineSize caps a logged child output line; the rest of the line is discarded
	maxLineSize = 1024 * 1024

	readBufferSize = 64 * 1024

	// TruncatedSuffix marks a child output line cut at maxLineSize
	// TruncatedSuffix 标记在 maxLineSize 处被截断的子进程输出行
	TruncatedSuffix = " ...[truncated]"

	logSource = "mlflow-server"
)

// Options describes the supervised child
// Options 描述被监管的子进程
type Options struct {
	// Command is the full argv, Command[0] being the executable
	// Command 是完整的 argv，Command[0] 为可执行文件
	Command []string

	// Env is the child environment; nil inherits the current one
	// Env 是子进程环境；nil 表示继承当前环境
	Env []string

	Host string
	Port int

	ReadyTimeout  time.Duration
	ProbeInterval time.Duration
	StopGrace     time.Duration
}

func (o *Options) applyDefaults() {
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = DefaultReadyTimeout
	}
	if o.ProbeInterval <= 0 {
		o.ProbeInterval = DefaultProbeInterval
	}
	if o.StopGrace <= 0 {
		o.StopGrace = DefaultStopGrace
	}
}

// Supervisor owns exactly one child process for the lifetime of a run.
// A crashed child is never restarted.
// Supervisor 在一次运行期间只拥有一个子进程，崩溃的子进程不会被重启。
type Supervisor struct {
	opts    Options
	log     *zap.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	state    State
	cmd      *exec.Cmd
	done     chan struct{}
	exitCode int
	drains   sync.WaitGroup
}

// NewSupervisor creates a supervisor in the Idle state
// NewSupervisor 创建处于 Idle 状态的监管器
func NewSupervisor(opts Options, log *zap.Logger, m *metrics.Metrics) *Supervisor {
	opts.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	s := &Supervisor{
		opts:    opts,
		log:     log,
		metrics: m,
		state:   StateIdle,
	}
	m.TransitionState("", string(StateIdle))
	return s
}

// State returns the current lifecycle state
// State 返回当前生命周期状态
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PID returns the child pid, or 0 before spawn
// PID 返回子进程 pid，启动前返回 0
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Done is closed when the child exits; nil before spawn
// Done 在子进程退出时关闭；启动前为 nil
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// setState must be called with s.mu held
func (s *Supervisor) setState(next State) {
	if s.state == next {
		return
	}
	s.metrics.TransitionState(string(s.state), string(next))
	s.state = next
}

// Start probes the port, spawns the child, attaches the output drains and
// waits until the port accepts connections. On failure no child is left running.
// Start 探测端口、启动子进程、挂载输出读取器，并等待端口接受连接。失败时不会留下运行中的子进程。
func (s *Supervisor) Start(ctx context.Context) error {
	if len(s.opts.Command) == 0 {
		return fmt.Errorf("%w: empty command", ErrStartFailed)
	}

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}

	addr := ProbeAddress(s.opts.Host, s.opts.Port)
	if IsPortInUse(ctx, s.opts.Host, s.opts.Port) {
		s.mu.Unlock()
		s.log.Error("Port already in use / 端口已被占用", zap.String("addr", addr))
		return fmt.Errorf("%w: %s", ErrPortInUse, addr)
	}
	s.setState(StateStarting)

	if err := s.spawnLocked(); err != nil {
		s.setState(StateCrashed)
		s.mu.Unlock()
		s.log.Error("Failed to start tracking server / 启动跟踪服务器失败", zap.Error(err))
		return err
	}
	pid := s.cmd.Process.Pid
	done := s.done
	s.mu.Unlock()

	s.log.Info("Tracking server process started / 跟踪服务器进程已启动", zap.Int("pid", pid))

	started := time.Now()
	if err := s.waitReady(ctx, done); err != nil {
		s.log.Error("Tracking server did not become ready / 跟踪服务器未能就绪", zap.Error(err))
		// The reaper marks the run crashed / 由回收协程标记为崩溃
		s.stopChild(context.Background())
		return err
	}
	s.metrics.ObserveReadiness(time.Since(started))

	s.mu.Lock()
	s.setState(StateReady)
	s.mu.Unlock()

	s.log.Info("Tracking server is ready / 跟踪服务器已就绪", zap.String("addr", addr))
	return nil
}

// spawnLocked starts the child with both output streams on pipes.
// The write ends are plain files so cmd.Wait never waits on the readers.
func (s *Supervisor) spawnLocked() error {
	cmd := exec.Command(s.opts.Command[0], s.opts.Command[1:]...)
	cmd.Env = s.opts.Env
	setProcGroupAttr(cmd)

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStartFailed, err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdoutR, stdoutW)
		return fmt.Errorf("%w: %v", ErrStartFailed, err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		closeAll(stdoutR, stdoutW, stderrR, stderrW)
		return fmt.Errorf("%w: %v", ErrStartFailed, err)
	}
	// The child holds its own copies / 子进程持有自己的副本
	closeAll(stdoutW, stderrW)

	s.cmd = cmd
	s.done = make(chan struct{})

	s.drains.Add(2)
	go s.drain(stdoutR, "stdout")
	go s.drain(stderrR, "stderr")
	go s.reap(cmd, s.done)
	return nil
}

// reap waits for the child and records how it ended
func (s *Supervisor) reap(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()

	s.mu.Lock()
	s.exitCode = -1
	if cmd.ProcessState != nil {
		s.exitCode = cmd.ProcessState.ExitCode()
	}
	unexpected := s.state != StateStopping && s.state != StateStopped
	if unexpected {
		s.setState(StateCrashed)
	}
	code := s.exitCode
	s.mu.Unlock()

	if unexpected {
		s.log.Error("Tracking server exited unexpectedly / 跟踪服务器意外退出",
			zap.Int("exit_code", code), zap.Error(err))
	}
	close(done)
}

// drain forwards every line of one stream to the logger until the pipe closes.
// Over-long lines are truncated, never allowed to stop the reader.
// drain 将一个输出流的每一行转发到日志，直到管道关闭。过长的行会被截断，不会导致读取停止。
func (s *Supervisor) drain(r io.ReadCloser, stream string) {
	defer s.drains.Done()
	defer r.Close()

	log := s.log.With(zap.String("source", logSource), zap.String("stream", stream))
	reader := bufio.NewReaderSize(r, readBufferSize)

	var line []byte
	truncated := false
	for {
		chunk, isPrefix, err := reader.ReadLine()
		if len(chunk) > 0 {
			room := maxLineSize - len(line)
			if len(chunk) > room {
				chunk = chunk[:room]
				truncated = true
			}
			line = append(line, chunk...)
		}
		if err != nil {
			s.forward(log, line, truncated)
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				s.log.Warn("Failed to read tracking server output / 读取跟踪服务器输出失败",
					zap.String("stream", stream), zap.Error(err))
			}
			return
		}
		if isPrefix {
			continue
		}
		s.forward(log, line, truncated)
		line = line[:0]
		truncated = false
	}
}

// forward logs one child line at its classified severity
func (s *Supervisor) forward(log *zap.Logger, line []byte, truncated bool) {
	if len(line) == 0 {
		return
	}
	text := string(line)
	if truncated {
		text += TruncatedSuffix
	}
	sev := ClassifyLine(text)
	s.metrics.IncChildLogLine(sev.String())
	if ce := log.Check(sev.Level(), text); ce != nil {
		ce.Write()
	}
}

// waitDrains waits for the readers, giving up after drainGrace
func (s *Supervisor) waitDrains() {
	finished := make(chan struct{})
	go func() {
		s.drains.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(drainGrace):
		s.log.Debug("Output readers still open after exit / 退出后输出读取器仍未关闭")
	}
}

// waitReady polls the port once per interval. An exited child ends the wait at once.
// waitReady 按间隔探测端口。子进程退出时立即结束等待。
func (s *Supervisor) waitReady(ctx context.Context, done <-chan struct{}) error {
	timeout := time.NewTimer(s.opts.ReadyTimeout)
	defer timeout.Stop()
	ticker := time.NewTicker(s.opts.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return s.exitedError()
		default:
		}

		if IsPortInUse(ctx, s.opts.Host, s.opts.Port) {
			return nil
		}

		select {
		case <-done:
			return s.exitedError()
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			return fmt.Errorf("%w: %s after %s", ErrReadinessTimeout,
				ProbeAddress(s.opts.Host, s.opts.Port), s.opts.ReadyTimeout)
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) exitedError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Errorf("%w: exit code %d", ErrChildExited, s.exitCode)
}

// Wait blocks until the child exits or ctx is done and returns the exit code.
// A child exiting on its own is reported as ErrChildExited; one ended by Stop is not.
// Wait 阻塞直到子进程退出或 ctx 结束，并返回退出码。
// 子进程自行退出时返回 ErrChildExited；由 Stop 结束时不返回错误。
func (s *Supervisor) Wait(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.cmd == nil {
		s.mu.Unlock()
		return 0, ErrNotStarted
	}
	if s.state == StateReady {
		s.setState(StateRunning)
	}
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	s.waitDrains()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateCrashed {
		return s.exitCode, fmt.Errorf("%w: exit code %d", ErrChildExited, s.exitCode)
	}
	return s.exitCode, nil
}

// Stop sends SIGTERM, waits up to the grace period (or until ctx is done), then
// sends SIGKILL and waits for exit. Calling it without a live child is a no-op.
// Stop 发送 SIGTERM，等待宽限期（或直到 ctx 结束），随后发送 SIGKILL 并等待退出。
// 没有存活子进程时调用为空操作。
func (s *Supervisor) Stop(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.cmd == nil {
		s.mu.Unlock()
		return 0, nil
	}
	done := s.done
	select {
	case <-done:
		code := s.exitCode
		s.mu.Unlock()
		return code, nil
	default:
	}
	if s.state == StateStopping {
		s.mu.Unlock()
		<-done
		return s.ExitCode(), nil
	}
	s.setState(StateStopping)
	s.mu.Unlock()

	code := s.stopChild(ctx)

	s.mu.Lock()
	s.setState(StateStopped)
	s.mu.Unlock()

	s.log.Info("Tracking server stopped / 跟踪服务器已停止", zap.Int("exit_code", code))
	return code, nil
}

// stopChild terminates then kills the child and always waits for it to exit
func (s *Supervisor) stopChild(ctx context.Context) int {
	s.mu.Lock()
	cmd, done := s.cmd, s.done
	s.mu.Unlock()

	if err := terminate(cmd.Process); err != nil {
		s.log.Debug("Failed to send terminate signal / 发送终止信号失败", zap.Error(err))
	}

	grace := time.NewTimer(s.opts.StopGrace)
	defer grace.Stop()

	select {
	case <-done:
	case <-grace.C:
		s.log.Warn("Tracking server did not exit in time, killing / 跟踪服务器未按时退出，强制终止",
			zap.Duration("grace", s.opts.StopGrace))
		s.forceKill(cmd, done)
	case <-ctx.Done():
		s.log.Warn("Stop cancelled, killing tracking server / 停止被取消，强制终止跟踪服务器")
		s.forceKill(cmd, done)
	}
	s.waitDrains()
	return s.ExitCode()
}

func (s *Supervisor) forceKill(cmd *exec.Cmd, done <-chan struct{}) {
	if err := kill(cmd.Process); err != nil {
		s.log.Debug("Failed to send kill signal / 发送强制终止信号失败", zap.Error(err))
	}
	<-done
}

// ExitCode returns the child's exit code; -1 when it was ended by a signal
// ExitCode 返回子进程退出码；被信号终止时为 -1
func (s *Supervisor) ExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
