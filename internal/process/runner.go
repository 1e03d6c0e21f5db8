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

package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// ErrTimeout indicates a one-shot command exceeded its time bound
// ErrTimeout 表示一次性命令超出时间限制
var ErrTimeout = errors.New("command timed out")

// Command describes one bounded tool invocation
// Command 描述一次有时间限制的工具调用
type Command struct {
	// Args is the full argv / Args 是完整的 argv
	Args []string

	// Env is the child environment; nil inherits the current one
	// Env 是子进程环境；nil 表示继承当前环境
	Env []string

	// Timeout bounds the run; zero means unbounded
	// Timeout 限制运行时间；零表示不限制
	Timeout time.Duration
}

// Result holds the outcome of a command that ran to completion
// Result 保存运行结束的命令结果
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Success reports a zero exit code
// Success 返回退出码是否为零
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Runner runs one-shot commands
// Runner 运行一次性命令
type Runner interface {
	// Run executes the command. A non-zero exit is reported in Result, not as an error;
	// errors mean the command could not start (ErrStartFailed) or ran out of time (ErrTimeout).
	// Run 执行命令。非零退出码通过 Result 返回而非错误；
	// 错误表示命令无法启动（ErrStartFailed）或超时（ErrTimeout）。
	Run(ctx context.Context, c Command) (Result, error)
}

// ExecRunner runs commands with os/exec
// ExecRunner 使用 os/exec 运行命令
type ExecRunner struct{}

// NewExecRunner creates an ExecRunner
// NewExecRunner 创建 ExecRunner
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run implements Runner
// Run 实现 Runner 接口
func (r *ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	if len(c.Args) == 0 {
		return Result{}, fmt.Errorf("%w: empty command", ErrStartFailed)
	}

	runCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, c.Args[0], c.Args[1:]...)
	cmd.Env = c.Env
	setProcGroupAttr(cmd)
	cmd.Cancel = func() error { return kill(cmd.Process) }
	// Forked helpers may keep the pipes open / 派生的辅助进程可能保持管道打开
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrStartFailed, err)
	}
	waitErr := cmd.Wait()

	res := Result{
		ExitCode: -1,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(started),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if runCtx.Err() != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return res, fmt.Errorf("%w after %s", ErrTimeout, c.Timeout)
		}
		return res, ctx.Err()
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) && !errors.Is(waitErr, exec.ErrWaitDelay) {
		return res, waitErr
	}
	return res, nil
}
