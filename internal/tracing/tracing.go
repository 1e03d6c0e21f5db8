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

// Package tracing sets up OpenTelemetry tracing for the service.
// tracing 包为服务设置 OpenTelemetry 追踪。
package tracing

import (
	"context"
	"errors"

	"github.com/mlops-orchestrator/mlflow-service/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/mlops-orchestrator/mlflow-service"

// Provider owns the tracer and its shutdown hooks
// Provider 持有追踪器及其关闭钩子
type Provider struct {
	tracer        trace.Tracer
	shutdownFuncs []func(context.Context) error
	enabled       bool
}

// NewNoop returns a provider whose spans are never recorded
// NewNoop 返回不记录任何 span 的提供者
func NewNoop() *Provider {
	return &Provider{tracer: noop.NewTracerProvider().Tracer("noop")}
}

// Init initializes tracing from configuration. Exporter failures degrade to a
// noop tracer instead of failing startup.
// Init 根据配置初始化追踪。导出器失败时降级为空操作追踪器，而不是启动失败。
func Init(ctx context.Context, cfg config.TelemetryConfig, instanceID string, log *zap.Logger) *Provider {
	if log == nil {
		log = zap.NewNop()
	}

	if !cfg.Enabled() {
		log.Debug("[Trace] OpenTelemetry tracing is disabled / OpenTelemetry 追踪已禁用")
		return NewNoop()
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tp, err := newTracerProvider(ctx, cfg, instanceID)
	if err != nil {
		log.Warn("[Trace] Failed to init trace provider, using noop tracer / 初始化追踪提供者失败，使用空操作追踪器",
			zap.Error(err))
		return NewNoop()
	}
	otel.SetTracerProvider(tp)

	log.Info("[Trace] OpenTelemetry tracing initialized / OpenTelemetry 追踪已初始化",
		zap.String("endpoint", cfg.Endpoint))

	return &Provider{
		tracer:        tp.Tracer(instrumentationName),
		shutdownFuncs: []func(context.Context) error{tp.Shutdown},
		enabled:       true,
	}
}

func newTracerProvider(ctx context.Context, cfg config.TelemetryConfig, instanceID string) (*sdktrace.TracerProvider, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", "mlflow-service"),
		attribute.String("service.instance.id", instanceID),
	)

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}

// IsEnabled returns whether tracing is enabled.
// IsEnabled 返回追踪是否已启用。
func (p *Provider) IsEnabled() bool {
	return p != nil && p.enabled
}

// Start starts a span, returning a noop span when the provider is nil
// Start 开始一个 span，提供者为 nil 时返回空操作 span
func (p *Provider) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if p == nil || p.tracer == nil {
		return ctx, noop.Span{}
	}
	return p.tracer.Start(ctx, name, opts...)
}

// Shutdown flushes and stops every exporter
// Shutdown 刷新并停止所有导出器
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	for _, fn := range p.shutdownFuncs {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	p.shutdownFuncs = nil
	return errors.Join(errs...)
}
