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

// Package metrics holds the Prometheus collectors of the service and the
// optional HTTP endpoint that exposes them.
// metrics 包包含服务的 Prometheus 采集器以及暴露它们的可选 HTTP 端点。
//
// Every method is safe on a nil *Metrics so components can run without metrics.
// 所有方法在 *Metrics 为 nil 时都是安全的，组件可以在没有指标的情况下运行。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mlflow_service"

// Metrics groups every collector of the service
// Metrics 汇总服务的所有采集器
type Metrics struct {
	// SupervisorState is 1 for the current supervisor state, 0 otherwise
	// SupervisorState 当前监管器状态为 1，其余为 0
	SupervisorState *prometheus.GaugeVec

	// ReadinessWait tracks how long the child took to accept connections
	// ReadinessWait 记录子进程开始接受连接所用的时间
	ReadinessWait prometheus.Histogram

	// ChildLogLines counts forwarded child output lines by severity
	// ChildLogLines 按级别统计转发的子进程输出行数
	ChildLogLines *prometheus.CounterVec

	// MigrationDecisions counts schema gate outcomes
	// MigrationDecisions 统计模式迁移闸门的结果
	MigrationDecisions *prometheus.CounterVec

	// GCCycles counts GC cycles by result
	// GCCycles 按结果统计 GC 周期
	GCCycles *prometheus.CounterVec

	// GCCycleDuration tracks the duration of one GC invocation
	// GCCycleDuration 记录单次 GC 调用的耗时
	GCCycleDuration prometheus.Histogram

	// CredentialResolutions counts credential chain results by provenance
	// CredentialResolutions 按来源统计凭证链结果
	CredentialResolutions *prometheus.CounterVec
}

// New creates and registers the collectors on reg
// New 创建采集器并注册到 reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SupervisorState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "state",
			Help:      "Current state of the tracking server supervisor (1 = active state).",
		}, []string{"state"}),
		ReadinessWait: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "readiness_wait_seconds",
			Help:      "Time between spawning the tracking server and its port accepting connections.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30},
		}),
		ChildLogLines: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "child_log_lines_total",
			Help:      "Output lines forwarded from the tracking server, by classified severity.",
		}, []string{"severity"}),
		MigrationDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "migration",
			Name:      "decisions_total",
			Help:      "Schema upgrade gate outcomes.",
		}, []string{"outcome"}),
		GCCycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gc",
			Name:      "cycles_total",
			Help:      "Garbage collection cycles, by result.",
		}, []string{"result"}),
		GCCycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gc",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one garbage collection command.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		CredentialResolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "credential",
			Name:      "resolutions_total",
			Help:      "Credential chain results, by provenance.",
		}, []string{"provenance"}),
	}
}

// TransitionState moves the state gauge from one state to another
// TransitionState 将状态指标从一个状态切换到另一个状态
func (m *Metrics) TransitionState(from, to string) {
	if m == nil {
		return
	}
	if from != "" {
		m.SupervisorState.WithLabelValues(from).Set(0)
	}
	m.SupervisorState.WithLabelValues(to).Set(1)
}

// ObserveReadiness records the readiness wait
// ObserveReadiness 记录就绪等待时间
func (m *Metrics) ObserveReadiness(d time.Duration) {
	if m == nil {
		return
	}
	m.ReadinessWait.Observe(d.Seconds())
}

// IncChildLogLine counts one forwarded child line
// IncChildLogLine 统计一行转发的子进程输出
func (m *Metrics) IncChildLogLine(severity string) {
	if m == nil {
		return
	}
	m.ChildLogLines.WithLabelValues(severity).Inc()
}

// IncMigrationDecision counts one schema gate outcome
// IncMigrationDecision 统计一次模式迁移闸门结果
func (m *Metrics) IncMigrationDecision(outcome string) {
	if m == nil {
		return
	}
	m.MigrationDecisions.WithLabelValues(outcome).Inc()
}

// ObserveGCCycle records one GC cycle
// ObserveGCCycle 记录一次 GC 周期
func (m *Metrics) ObserveGCCycle(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.GCCycles.WithLabelValues(result).Inc()
	m.GCCycleDuration.Observe(d.Seconds())
}

// IncCredentialResolution counts one credential chain result
// IncCredentialResolution 统计一次凭证链结果
func (m *Metrics) IncCredentialResolution(provenance string) {
	if m == nil {
		return
	}
	m.CredentialResolutions.WithLabelValues(provenance).Inc()
}
