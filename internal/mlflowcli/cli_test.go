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

package mlflowcli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestServerArgs tests the server invocation contract
// TestServerArgs 测试服务器调用约定
func TestServerArgs(t *testing.T) {
	c := Parse("python -m mlflow")
	got := c.ServerArgs(ServerOptions{
		BackendStoreURI:      "postgresql+psycopg2://u:p@db:5432/mlflow",
		ArtifactsDestination: "gs://bucket/mlflow-artifacts-v1",
		Host:                 "0.0.0.0",
		Port:                 5001,
	})

	assert.Equal(t, []string{
		"python", "-m", "mlflow", "server",
		"--backend-store-uri", "postgresql+psycopg2://u:p@db:5432/mlflow",
		"--artifacts-destination", "gs://bucket/mlflow-artifacts-v1",
		"--host", "0.0.0.0",
		"--port", "5001",
		"--serve-artifacts",
	}, got)
	assert.Equal(t, "python", c.Name())
}

// TestSubcommandArgs tests db upgrade, gc and version
// TestSubcommandArgs 测试 db upgrade、gc 与 version
func TestSubcommandArgs(t *testing.T) {
	c := New(nil)
	assert.Equal(t, "mlflow", c.String())
	assert.Equal(t, []string{"mlflow", "db", "upgrade", "sqlite:///x.db"}, c.DBUpgradeArgs("sqlite:///x.db"))
	assert.Equal(t, []string{"mlflow", "--version"}, c.VersionArgs())
	assert.Equal(t, []string{
		"mlflow", "gc",
		"--backend-store-uri", "sqlite:///x.db",
		"--older-than", "5m",
		"--tracking-uri", "http://127.0.0.1:5001",
	}, c.GCArgs(GCOptions{BackendStoreURI: "sqlite:///x.db", OlderThan: "5m", TrackingURI: "http://127.0.0.1:5001"}))
}

// TestNewCopiesCommand tests that the caller's slice is not aliased
// TestNewCopiesCommand 测试调用方切片不会被共享
func TestNewCopiesCommand(t *testing.T) {
	cmd := []string{"mlflow"}
	c := New(cmd)
	cmd[0] = "changed"
	assert.Equal(t, "mlflow", c.Name())
}

// TestChildEnv tests worker stripping and overrides
// TestChildEnv 测试 worker 变量移除与覆盖
func TestChildEnv(t *testing.T) {
	base := []string{"PATH=/bin", "MLFLOW_WORKERS=4", "MLFLOW_TRACKING_URI=old"}
	extra := map[string]string{TrackingURIEnv: "http://127.0.0.1:5001"}

	win := New(nil).withGOOS("windows").ChildEnv(base, extra)
	assert.ElementsMatch(t, []string{"PATH=/bin", "MLFLOW_TRACKING_URI=http://127.0.0.1:5001"}, win)

	linux := New(nil).withGOOS("linux").ChildEnv(base, nil)
	assert.Equal(t, base, linux)
}

// TestParseVersion tests version extraction
// TestParseVersion 测试版本提取
func TestParseVersion(t *testing.T) {
	assert.Equal(t, "2.16.0", ParseVersion("mlflow, version 2.16.0\n"))
	assert.Equal(t, "3.1.0", ParseVersion("python -m mlflow, version 3.1.0"))
	assert.Equal(t, "unknown", ParseVersion("unknown"))
}
