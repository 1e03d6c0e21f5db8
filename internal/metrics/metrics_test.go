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

package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTransitionState tests that only the active state is set
// TestTransitionState 测试只有当前状态被置位
func TestTransitionState(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.TransitionState("", "starting")
	m.TransitionState("starting", "running")

	assert.Equal(t, float64(0), testutil.ToFloat64(m.SupervisorState.WithLabelValues("starting")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SupervisorState.WithLabelValues("running")))
}

// TestCounters tests the counter helpers
// TestCounters 测试计数器辅助方法
func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncChildLogLine("error")
	m.IncChildLogLine("error")
	m.IncMigrationDecision("upgraded")
	m.IncCredentialResolution("secret_manager")
	m.ObserveGCCycle("ok", 2*time.Second)
	m.ObserveReadiness(time.Second)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.ChildLogLines.WithLabelValues("error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.MigrationDecisions.WithLabelValues("upgraded")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CredentialResolutions.WithLabelValues("secret_manager")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.GCCycles.WithLabelValues("ok")))
}

// TestNilMetrics tests nil safety
// TestNilMetrics 测试 nil 安全性
func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.TransitionState("a", "b")
		m.ObserveReadiness(time.Second)
		m.IncChildLogLine("info")
		m.IncMigrationDecision("x")
		m.ObserveGCCycle("ok", time.Second)
		m.IncCredentialResolution("none")
	})
}

// TestServerMetricsEndpoint tests scraping /metrics from a started server
// TestServerMetricsEndpoint 测试从已启动的服务器抓取 /metrics
func TestServerMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.IncMigrationDecision("up_to_date")

	s := NewServer("127.0.0.1:0", reg, nil)
	require.NoError(t, s.Start())
	defer func() { _ = s.Shutdown(context.Background()) }()

	assert.NotEqual(t, "127.0.0.1:0", s.Addr())

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `mlflow_service_migration_decisions_total{outcome="up_to_date"} 1`)
}

// TestServerShutdownIdempotent tests repeated shutdown
// TestServerShutdownIdempotent 测试重复关闭
func TestServerShutdownIdempotent(t *testing.T) {
	s := NewServer("127.0.0.1:0", prometheus.NewRegistry(), nil)
	assert.Equal(t, "127.0.0.1:0", s.Addr())
	assert.NoError(t, s.Shutdown(context.Background()))

	require.NoError(t, s.Start())
	assert.NoError(t, s.Shutdown(context.Background()))
	assert.NoError(t, s.Shutdown(context.Background()))
}
