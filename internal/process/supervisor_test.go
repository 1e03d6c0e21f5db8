//go:build !windows
// +build !windows

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
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	"github.com/mlops-orchestrator/mlflow-service/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func newTestSupervisor(t *testing.T, script string, port int, mutate ...func(*Options)) (*Supervisor, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	opts := Options{
		Command:       []string{"/bin/sh", "-c", script},
		Env:           []string{"PATH=" + os.Getenv("PATH")},
		Host:          "127.0.0.1",
		Port:          port,
		ReadyTimeout:  5 * time.Second,
		ProbeInterval: 20 * time.Millisecond,
		StopGrace:     2 * time.Second,
	}
	for _, m := range mutate {
		m(&opts)
	}
	return NewSupervisor(opts, zap.New(core), nil), logs
}

// startReady starts s and plays the part of the child's listener once it has spawned
func startReady(t *testing.T, s *Supervisor, port int) {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(context.Background()) }()

	require.Eventually(t, func() bool { return s.PID() > 0 }, 5*time.Second, 10*time.Millisecond)

	ln, err := net.Listen("tcp", ProbeAddress("127.0.0.1", port))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	require.NoError(t, <-errCh)
	require.Equal(t, StateReady, s.State())
}

// TestProbeAddress tests wildcard normalization
// TestProbeAddress 测试通配地址规范化
func TestProbeAddress(t *testing.T) {
	assert.Equal(t, "127.0.0.1:5001", ProbeAddress("0.0.0.0", 5001))
	assert.Equal(t, "127.0.0.1:5001", ProbeAddress("::", 5001))
	assert.Equal(t, "10.0.0.2:80", ProbeAddress("10.0.0.2", 80))
	assert.Equal(t, "[::1]:80", ProbeAddress("::1", 80))
}

// TestStartPortInUse tests that an occupied port spawns nothing
// TestStartPortInUse 测试端口被占用时不启动任何进程
func TestStartPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	s, _ := newTestSupervisor(t, "sleep 30", port, func(o *Options) { o.Host = "0.0.0.0" })
	err = s.Start(context.Background())

	assert.True(t, errors.Is(err, ErrPortInUse))
	assert.Equal(t, 0, s.PID())
	assert.Equal(t, StateIdle, s.State())
	assert.Nil(t, s.Done())
}

// TestStartChildExitsDuringReadiness tests that an exited child fails the wait at once
// TestStartChildExitsDuringReadiness 测试子进程退出时立即结束就绪等待
func TestStartChildExitsDuringReadiness(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	m := metrics.New(prometheus.NewRegistry())
	s := NewSupervisor(Options{
		Command:       []string{"/bin/sh", "-c", `echo "value=$MY_VAR"; echo "ERROR boom" >&2; exit 3`},
		Env:           []string{"MY_VAR=hello"},
		Host:          "127.0.0.1",
		Port:          freePort(t),
		ReadyTimeout:  20 * time.Second,
		ProbeInterval: 50 * time.Millisecond,
	}, zap.New(core), m)

	started := time.Now()
	err := s.Start(context.Background())

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrChildExited))
	assert.Less(t, time.Since(started), 10*time.Second)
	assert.Equal(t, StateCrashed, s.State())
	assert.Equal(t, 3, s.ExitCode())

	errLines := logs.FilterMessage("ERROR boom").All()
	require.Len(t, errLines, 1)
	assert.Equal(t, zapcore.ErrorLevel, errLines[0].Level)
	assert.Equal(t, "stderr", errLines[0].ContextMap()["stream"])
	assert.Equal(t, "mlflow-server", errLines[0].ContextMap()["source"])

	infoLines := logs.FilterMessage("value=hello").All()
	require.Len(t, infoLines, 1)
	assert.Equal(t, zapcore.InfoLevel, infoLines[0].Level)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ChildLogLines.WithLabelValues("error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SupervisorState.WithLabelValues("crashed")))
}

// TestStartReadinessTimeout tests that a silent child is terminated after the timeout
// TestStartReadinessTimeout 测试未监听端口的子进程在超时后被终止
func TestStartReadinessTimeout(t *testing.T) {
	s, _ := newTestSupervisor(t, "sleep 30", freePort(t), func(o *Options) {
		o.ReadyTimeout = 200 * time.Millisecond
	})

	err := s.Start(context.Background())
	assert.True(t, errors.Is(err, ErrReadinessTimeout))
	assert.Equal(t, StateCrashed, s.State())

	select {
	case <-s.Done():
	default:
		t.Fatal("child still running after readiness timeout")
	}
}

// TestDrainSurvivesLongLine tests that a line over the size cap is truncated
// and the lines after it are still forwarded while the child keeps running
// TestDrainSurvivesLongLine 测试超长行被截断，且其后的行继续转发，子进程保持运行
func TestDrainSurvivesLongLine(t *testing.T) {
	port := freePort(t)
	script := `head -c 2097152 /dev/zero | tr '\0' 'x'; echo; ` +
		`for i in 1 2 3 4 5; do echo "after $i"; done; sleep 30`
	s, logs := newTestSupervisor(t, script, port)
	startReady(t, s, port)
	defer func() { _, _ = s.Stop(context.Background()) }()

	require.Eventually(t, func() bool {
		return logs.FilterMessage("after 5").Len() == 1
	}, 5*time.Second, 20*time.Millisecond)

	for i := 1; i <= 5; i++ {
		assert.Equal(t, 1, logs.FilterMessage(fmt.Sprintf("after %d", i)).Len())
	}

	long := logs.FilterMessageSnippet(TruncatedSuffix).All()
	require.Len(t, long, 1)
	assert.Len(t, long[0].Message, maxLineSize+len(TruncatedSuffix))
	assert.Equal(t, 0, logs.FilterMessageSnippet("Failed to read").Len())

	select {
	case <-s.Done():
		t.Fatal("child exited after writing a long line")
	default:
	}
	assert.Equal(t, StateReady, s.State())
}

// TestStartTwice tests that a supervisor runs a single child
// TestStartTwice 测试监管器只运行一个子进程
func TestStartTwice(t *testing.T) {
	port := freePort(t)
	s, _ := newTestSupervisor(t, "sleep 30", port)
	startReady(t, s, port)
	defer func() { _, _ = s.Stop(context.Background()) }()

	assert.True(t, errors.Is(s.Start(context.Background()), ErrAlreadyStarted))
}

// TestStopGraceful tests terminate, state transitions and idempotence
// TestStopGraceful 测试终止、状态转换与幂等性
func TestStopGraceful(t *testing.T) {
	port := freePort(t)
	s, logs := newTestSupervisor(t, "echo ready; sleep 30", port)
	startReady(t, s, port)

	waitErr := make(chan error, 1)
	go func() {
		_, err := s.Wait(context.Background())
		waitErr <- err
	}()
	require.Eventually(t, func() bool { return s.State() == StateRunning }, 2*time.Second, 10*time.Millisecond)

	started := time.Now()
	code, err := s.Stop(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(started), 2*time.Second)
	assert.Equal(t, StateStopped, s.State())

	again, err := s.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, code, again)

	assert.NoError(t, <-waitErr)
	assert.Equal(t, 1, logs.FilterMessage("ready").Len())
}

// TestStopForcesKill tests the kill fallback for a child ignoring SIGTERM
// TestStopForcesKill 测试忽略 SIGTERM 的子进程会被强制终止
func TestStopForcesKill(t *testing.T) {
	port := freePort(t)
	s, logs := newTestSupervisor(t, "trap '' TERM; sleep 30", port, func(o *Options) {
		o.StopGrace = 300 * time.Millisecond
	})
	startReady(t, s, port)

	started := time.Now()
	code, err := s.Stop(context.Background())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(started), 300*time.Millisecond)
	assert.Equal(t, -1, code)
	assert.Equal(t, StateStopped, s.State())
	assert.Equal(t, 1, logs.FilterMessageSnippet("killing").Len())
}

// TestWaitReportsCrash tests that a child exiting on its own is a crash
// TestWaitReportsCrash 测试子进程自行退出被视为崩溃
func TestWaitReportsCrash(t *testing.T) {
	port := freePort(t)
	s, _ := newTestSupervisor(t, "sleep 1; exit 2", port)
	startReady(t, s, port)

	code, err := s.Wait(context.Background())
	assert.True(t, errors.Is(err, ErrChildExited))
	assert.Equal(t, 2, code)
	assert.Equal(t, StateCrashed, s.State())

	// Stopping an exited child is a no-op / 停止已退出的子进程为空操作
	code, err = s.Stop(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 2, code)
	assert.Equal(t, StateCrashed, s.State())
}

// TestWithoutChild tests the no-op paths before Start
// TestWithoutChild 测试 Start 之前的空操作路径
func TestWithoutChild(t *testing.T) {
	s := NewSupervisor(Options{Command: []string{"true"}}, nil, nil)

	code, err := s.Stop(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 0, code)

	_, err = s.Wait(context.Background())
	assert.True(t, errors.Is(err, ErrNotStarted))
}

// TestStartEmptyCommand tests command validation
// TestStartEmptyCommand 测试命令校验
func TestStartEmptyCommand(t *testing.T) {
	s := NewSupervisor(Options{}, nil, nil)
	assert.True(t, errors.Is(s.Start(context.Background()), ErrStartFailed))
}
