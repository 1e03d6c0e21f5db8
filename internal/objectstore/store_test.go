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

package objectstore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore fails at the named step and records what it saw
// fakeStore 在指定步骤失败并记录调用
type fakeStore struct {
	failAt  string
	steps   []string
	put     map[string]string
	deleted []string
}

func (f *fakeStore) step(name string) error {
	f.steps = append(f.steps, name)
	if f.failAt == name {
		return errors.New(name + " denied")
	}
	return nil
}

func (f *fakeStore) CheckBucket(context.Context, string) error { return f.step("check") }
func (f *fakeStore) ListOne(context.Context, string) error { return f.step("list") }

func (f *fakeStore) Put(_ context.Context, _ string, key string, data []byte) error {
	if f.put == nil {
		f.put = map[string]string{}
	}
	f.put[key] = string(data)
	return f.step("put")
}

func (f *fakeStore) Delete(_ context.Context, _ string, key string) error {
	f.deleted = append(f.deleted, key)
	return f.step("delete")
}

func (f *fakeStore) Close() error { return nil }

// TestParseLocation tests bucket locator parsing
// TestParseLocation 测试存储桶定位符解析
func TestParseLocation(t *testing.T) {
	tests := []struct {
		in      string
		want    Location
		wantErr bool
	}{
		{"gs://bucket/mlflow-artifacts-v1", Location{SchemeGCS, "bucket", "mlflow-artifacts-v1"}, false},
		{"gs://bucket", Location{SchemeGCS, "bucket", ""}, false},
		{"S3://data/a/b/", Location{SchemeS3, "data", "a/b"}, false},
		{"file:///tmp/artifacts", Location{}, true},
		{"/tmp/artifacts", Location{}, true},
		{"gs:///prefix", Location{}, true},
	}

	for _, tt := range tests {
		got, err := ParseLocation(tt.in)
		if tt.wantErr {
			assert.True(t, errors.Is(err, ErrUnsupportedScheme), tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	assert.Equal(t, "gs://bucket/x", Location{SchemeGCS, "bucket", "x"}.String())
}

// TestProbeSuccess tests the full probe sequence and marker naming
// TestProbeSuccess 测试完整探测流程与标记对象命名
func TestProbeSuccess(t *testing.T) {
	store := &fakeStore{}
	p := NewProber(store, nil)
	p.now = func() time.Time { return time.Unix(1700000000, 0) }

	assert.True(t, p.Probe(context.Background(), "bucket"))
	assert.Equal(t, []string{"check", "list", "put", "delete"}, store.steps)

	require.Len(t, store.put, 1)
	require.Len(t, store.deleted, 1)
	key := store.deleted[0]
	assert.Equal(t, "Test file for MLflow authentication", store.put[key])
	assert.True(t, strings.HasPrefix(key, "test_mlflow_auth_1700000000_"), key)
	assert.True(t, strings.HasSuffix(key, ".txt"), key)
}

// TestMarkerKeyUnique tests that validations in the same second use distinct markers
// TestMarkerKeyUnique 测试同一秒内的探测使用不同的标记对象
func TestMarkerKeyUnique(t *testing.T) {
	store := &fakeStore{}
	now := func() time.Time { return time.Unix(1700000000, 0) }

	for i := 0; i < 2; i++ {
		p := NewProber(store, nil)
		p.now = now
		require.True(t, p.Probe(context.Background(), "bucket"))
	}

	require.Len(t, store.deleted, 2)
	assert.NotEqual(t, store.deleted[0], store.deleted[1])
	assert.Len(t, store.put, 2)
}

// TestProbeFailures tests that each failing step yields false and stops the probe
// TestProbeFailures 测试任一步骤失败都返回 false 并停止探测
func TestProbeFailures(t *testing.T) {
	tests := []struct {
		failAt string
		steps  []string
	}{
		{"check", []string{"check"}},
		{"list", []string{"check", "list"}},
		{"put", []string{"check", "list", "put"}},
		{"delete", []string{"check", "list", "put", "delete"}},
	}

	for _, tt := range tests {
		store := &fakeStore{failAt: tt.failAt}
		assert.False(t, NewProber(store, nil).Probe(context.Background(), "bucket"), tt.failAt)
		assert.Equal(t, tt.steps, store.steps, tt.failAt)
	}
}

// TestProbeRootRejectsLocalRoot tests that non-bucket roots are not probed
// TestProbeRootRejectsLocalRoot 测试非存储桶根目录不会被探测
func TestProbeRootRejectsLocalRoot(t *testing.T) {
	assert.False(t, ProbeRoot(context.Background(), "/var/mlflow/artifacts", OpenOptions{}, nil))
}

// TestOpenUnsupported tests the factory guard
// TestOpenUnsupported 测试工厂方法的协议检查
func TestOpenUnsupported(t *testing.T) {
	_, err := Open(context.Background(), Location{Scheme: "azure", Bucket: "x"}, OpenOptions{})
	assert.True(t, errors.Is(err, ErrUnsupportedScheme))
}
