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

package tracing

import (
	"context"
	"testing"

	"github.com/mlops-orchestrator/mlflow-service/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestInitDisabled tests that an empty endpoint yields a noop provider
// TestInitDisabled 测试空端点返回空操作提供者
func TestInitDisabled(t *testing.T) {
	p := Init(context.Background(), config.TelemetryConfig{}, "id", nil)
	require.NotNil(t, p)
	assert.False(t, p.IsEnabled())

	ctx, span := p.Start(context.Background(), "noop")
	assert.NotNil(t, ctx)
	assert.False(t, span.SpanContext().IsValid())
	span.End()

	assert.NoError(t, p.Shutdown(context.Background()))
}

// TestInitEnabled tests that an endpoint yields a recording provider.
// The gRPC exporter connects lazily, so no collector is needed.
// TestInitEnabled 测试配置端点时返回可记录的提供者。gRPC 导出器延迟连接，无需收集器。
func TestInitEnabled(t *testing.T) {
	p := Init(context.Background(), config.TelemetryConfig{Endpoint: "127.0.0.1:4317", Insecure: true}, "id", nil)
	require.True(t, p.IsEnabled())

	_, span := p.Start(context.Background(), "span")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	_ = p.Shutdown(ctx)
}

// TestNilProvider tests nil safety
// TestNilProvider 测试 nil 安全性
func TestNilProvider(t *testing.T) {
	var p *Provider
	_, span := p.Start(context.Background(), "nil")
	span.End()
	assert.False(t, p.IsEnabled())
	assert.NoError(t, p.Shutdown(context.Background()))
}
