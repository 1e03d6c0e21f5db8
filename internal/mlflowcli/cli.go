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

// Package mlflowcli builds invocations of the mlflow command line tool.
// mlflowcli 包构建 mlflow 命令行工具的调用参数。
package mlflowcli

import (
	"runtime"
	"strconv"
	"strings"
)

const (
	// WorkersEnv is read by the tool's server; unsupported on Windows
	// WorkersEnv 由工具的服务器读取；Windows 上不受支持
	WorkersEnv = "MLFLOW_WORKERS"

	// TrackingURIEnv points tool subcommands at the local tracking server
	// TrackingURIEnv 将工具子命令指向本地跟踪服务器
	TrackingURIEnv = "MLFLOW_TRACKING_URI"
)

// DefaultCommand is used when no command is configured
// DefaultCommand 未配置命令时使用
var DefaultCommand = []string{"mlflow"}

// ServerOptions describes one tracking server invocation
// ServerOptions 描述一次跟踪服务器调用
type ServerOptions struct {
	BackendStoreURI      string
	ArtifactsDestination string
	Host                 string
	Port                 int
}

// GCOptions describes one garbage collection invocation
// GCOptions 描述一次垃圾回收调用
type GCOptions struct {
	BackendStoreURI string
	OlderThan       string
	TrackingURI     string
}

// CLI is the tool command prefix, e.g. ["mlflow"] or ["python", "-m", "mlflow"]
// CLI 是工具命令前缀，例如 ["mlflow"] 或 ["python", "-m", "mlflow"]
type CLI struct {
	command []string
	goos    string
}

// New creates a CLI for the given command prefix; an empty prefix uses DefaultCommand
// New 为给定命令前缀创建 CLI；前缀为空时使用 DefaultCommand
func New(command []string) CLI {
	if len(command) == 0 {
		command = DefaultCommand
	}
	return CLI{command: append([]string(nil), command...), goos: runtime.GOOS}
}

// Parse splits a command string on whitespace
// Parse 按空白拆分命令字符串
func Parse(command string) CLI {
	return New(strings.Fields(command))
}

// withGOOS overrides the target platform, for tests
func (c CLI) withGOOS(goos string) CLI {
	c.goos = goos
	return c
}

// Name returns the executable
// Name 返回可执行文件
func (c CLI) Name() string {
	return c.command[0]
}

// String renders the command prefix
// String 渲染命令前缀
func (c CLI) String() string {
	return strings.Join(c.command, " ")
}

func (c CLI) argv(args ...string) []string {
	out := make([]string, 0, len(c.command)+len(args))
	out = append(out, c.command...)
	return append(out, args...)
}

// ServerArgs returns the argv of the tracking server
// ServerArgs 返回跟踪服务器的 argv
func (c CLI) ServerArgs(opts ServerOptions) []string {
	return c.argv("server",
		"--backend-store-uri", opts.BackendStoreURI,
		"--artifacts-destination", opts.ArtifactsDestination,
		"--host", opts.Host,
		"--port", strconv.Itoa(opts.Port),
		"--serve-artifacts",
	)
}

// DBUpgradeArgs returns the argv of the schema migration
// DBUpgradeArgs 返回模式迁移的 argv
func (c CLI) DBUpgradeArgs(backendStoreURI string) []string {
	return c.argv("db", "upgrade", backendStoreURI)
}

// GCArgs returns the argv of one garbage collection run
// GCArgs 返回一次垃圾回收运行的 argv
func (c CLI) GCArgs(opts GCOptions) []string {
	return c.argv("gc",
		"--backend-store-uri", opts.BackendStoreURI,
		"--older-than", opts.OlderThan,
		"--tracking-uri", opts.TrackingURI,
	)
}

// VersionArgs returns the argv of the installation check
// VersionArgs 返回安装检查的 argv
func (c CLI) VersionArgs() []string {
	return c.argv("--version")
}

// ChildEnv copies base for a child process, dropping MLFLOW_WORKERS on Windows
// and applying extra KEY=VALUE overrides.
// ChildEnv 为子进程复制 base，在 Windows 上移除 MLFLOW_WORKERS，并应用额外的 KEY=VALUE 覆盖。
func (c CLI) ChildEnv(base []string, extra map[string]string) []string {
	env := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if c.goos == "windows" && strings.EqualFold(key, WorkersEnv) {
			continue
		}
		if _, overridden := extra[key]; overridden {
			continue
		}
		env = append(env, kv)
	}
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

// ParseVersion extracts the version from `mlflow --version` output,
// e.g. "mlflow, version 2.16.0" yields "2.16.0".
// ParseVersion 从 `mlflow --version` 输出中提取版本号。
func ParseVersion(output string) string {
	line := strings.TrimSpace(output)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	if _, v, ok := strings.Cut(line, "version"); ok {
		return strings.TrimSpace(v)
	}
	return line
}
