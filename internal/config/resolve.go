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

package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mlops-orchestrator/mlflow-service/internal/objectstore"
)

const (
	gcsPrefix      = "gs://"
	redactedMarker = "******"
	loopbackHost   = "127.0.0.1"
)

// CredentialMode describes which credential strategies are configured
// CredentialMode 描述已配置的凭证策略
type CredentialMode struct {
	CredentialsFile string
	Project         string
	Interactive     bool
}

// EffectiveConfig is the immutable snapshot every component reads from
// EffectiveConfig 是所有组件读取的不可变配置快照
type EffectiveConfig struct {
	Host            string
	Port            int
	BackendStoreURI string
	ArtifactRoot    string

	GCEnabled   bool
	GCInterval  time.Duration
	GCOlderThan string

	CredentialMode CredentialMode

	// RequireArtifactCredentials makes credential failure fatal for cloud artifact roots
	// RequireArtifactCredentials 使云制品根目录的凭证失败成为致命错误
	RequireArtifactCredentials bool

	// ValidateArtifactStore runs the bucket probe before the server starts
	// ValidateArtifactStore 在服务器启动前运行存储桶探测
	ValidateArtifactStore bool

	CreateDatabase bool
	S3EndpointURL  string

	// CLI is the tool command split into argv
	// CLI 是拆分为 argv 的工具命令
	CLI []string
}

// Resolve validates the configuration and derives the effective snapshot.
// Resolve 验证配置并派生有效配置快照。
func (c *Config) Resolve() (*EffectiveConfig, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	backend, err := ResolveBackendStoreURI(c.Postgres)
	if err != nil {
		return nil, err
	}

	return &EffectiveConfig{
		Host:            strings.TrimSpace(c.Server.Host),
		Port:            EffectivePort(c.Server.Port, c.Server.TrackingPort),
		BackendStoreURI: backend,
		ArtifactRoot:    ArtifactRoot(c.Artifacts.BucketLocation, c.Artifacts.FolderLocation),
		GCEnabled:       c.GC.Enabled,
		GCInterval:      c.GC.Interval,
		GCOlderThan:     c.GC.OlderThan,
		CredentialMode: CredentialMode{
			CredentialsFile: strings.TrimSpace(c.GCP.CredentialsFile),
			Project:         strings.TrimSpace(c.GCP.Project),
			Interactive:     c.GCP.InteractiveAuth,
		},
		RequireArtifactCredentials: c.Artifacts.RequireCredentials,
		ValidateArtifactStore:      c.Artifacts.Validate,
		CreateDatabase:             c.Postgres.CreateDatabase,
		S3EndpointURL:              strings.TrimSpace(c.Artifacts.S3EndpointURL),
		CLI:                        strings.Fields(c.MLflow.CLI),
	}, nil
}

// TrackingURI returns the local HTTP endpoint of the tracking server
// TrackingURI 返回跟踪服务器的本地 HTTP 端点
func (e *EffectiveConfig) TrackingURI() string {
	return "http://" + net.JoinHostPort(LoopbackHost(e.Host), strconv.Itoa(e.Port))
}

// ArtifactRootIsCloud reports whether artifacts live in a bucket the object
// store can open, using the same parsing as the bucket probe
// ArtifactRootIsCloud 返回制品是否存放在对象存储可打开的存储桶中，解析规则与存储桶探测一致
func (e *EffectiveConfig) ArtifactRootIsCloud() bool {
	_, err := objectstore.ParseLocation(e.ArtifactRoot)
	return err == nil
}

// EffectivePort returns the override port when present, else the service default
// EffectivePort 存在覆盖端口时返回覆盖端口，否则返回服务默认端口
func EffectivePort(override *int, defaultPort int) int {
	if override != nil {
		return *override
	}
	return defaultPort
}

// ResolveBackendStoreURI returns the explicit connection string when usable,
// otherwise composes one from the discrete fields.
// ResolveBackendStoreURI 优先使用显式连接字符串，否则由离散字段组装。
func ResolveBackendStoreURI(pg PostgresConfig) (string, error) {
	if explicit := StripConnectionString(pg.ConnectionString); explicit != "" {
		return explicit, nil
	}

	var missing []string
	if strings.TrimSpace(pg.Host) == "" {
		missing = append(missing, "POSTGRES_HOST")
	}
	if strings.TrimSpace(pg.Port) == "" {
		missing = append(missing, "POSTGRES_PORT")
	}
	if strings.TrimSpace(pg.DB) == "" {
		missing = append(missing, "POSTGRES_DB")
	}
	if strings.TrimSpace(pg.User) == "" {
		missing = append(missing, "POSTGRES_USER")
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: backend store URI not configured: set MLFLOW_POSTGRES_CONNECTION_STRING or %s",
			ErrConfig, strings.Join(missing, ", "))
	}

	port := strings.TrimSpace(pg.Port)
	if _, err := strconv.Atoi(port); err != nil {
		return "", fmt.Errorf("%w: POSTGRES_PORT must be an integer: %q", ErrConfig, pg.Port)
	}

	u := url.URL{
		Scheme: BackendScheme,
		User:   url.UserPassword(pg.User, pg.Password),
		Host:   net.JoinHostPort(strings.TrimSpace(pg.Host), port),
		Path:   "/" + strings.TrimSpace(pg.DB),
	}
	return u.String(), nil
}

// StripConnectionString trims whitespace and surrounding quote characters
// StripConnectionString 去除首尾空白和引号
func StripConnectionString(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, `'"`)
	return strings.TrimSpace(s)
}

// ArtifactRoot joins the folder onto the bucket location unless the folder
// already appears as a path segment (or run of segments) of the location.
// ArtifactRoot 将目录拼接到存储桶位置，若目录已是位置中的路径段则不再拼接。
func ArtifactRoot(bucketLocation, folderLocation string) string {
	folder := strings.Trim(folderLocation, "/")
	if folder == "" {
		return bucketLocation
	}
	if containsSegments(strings.Split(bucketLocation, "/"), strings.Split(folder, "/")) {
		return bucketLocation
	}
	if strings.HasSuffix(bucketLocation, "/") {
		return bucketLocation + folder
	}
	return bucketLocation + "/" + folder
}

func containsSegments(haystack, needle []string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// GCSBucketName extracts the bucket from a gs://bucket/... locator
// GCSBucketName 从 gs://bucket/... 定位符中提取存储桶名称
func GCSBucketName(location string) (string, error) {
	if !strings.HasPrefix(location, gcsPrefix) {
		return "", fmt.Errorf("%w: MLFLOW_BUCKET_LOCATION must start with %q: %s", ErrConfig, gcsPrefix, location)
	}
	bucket, _, _ := strings.Cut(strings.TrimPrefix(location, gcsPrefix), "/")
	if bucket == "" {
		return "", fmt.Errorf("%w: cannot extract bucket name from %s", ErrConfig, location)
	}
	return bucket, nil
}

// LoopbackHost maps wildcard bind addresses to the IPv4 loopback address
// LoopbackHost 将通配绑定地址映射为 IPv4 回环地址
func LoopbackHost(host string) string {
	switch strings.TrimSpace(host) {
	case "", "0.0.0.0", "::", "[::]":
		return loopbackHost
	}
	return host
}

// ParseBool parses common truthy and falsy spellings, returning def otherwise
// ParseBool 解析常见的真假值写法，无法识别时返回 def
func ParseBool(raw string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	}
	return def
}

// ParseGCEnabled treats "0", "false" and "no" as disabled, anything else as enabled
// ParseGCEnabled 将 "0"、"false"、"no" 视为禁用，其余视为启用
func ParseGCEnabled(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "0", "false", "no":
		return false
	}
	return true
}

// ParseGCInterval parses whole seconds; invalid or non-positive values fall back to the default
// ParseGCInterval 解析整秒数；无效或非正值回退为默认值
func ParseGCInterval(raw string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || seconds <= 0 {
		return DefaultGCInterval
	}
	return time.Duration(seconds) * time.Second
}

// ParseGCOlderThan trims the retention threshold, defaulting when blank
// ParseGCOlderThan 去除保留阈值空白，为空时使用默认值
func ParseGCOlderThan(raw string) string {
	if s := strings.TrimSpace(raw); s != "" {
		return s
	}
	return DefaultGCOlderThan
}

// RedactURI masks the password of a URI; unparsable input is returned unchanged
// RedactURI 隐藏 URI 中的密码；无法解析时原样返回
func RedactURI(raw string) string {
	if raw == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); !ok {
		return raw
	}
	u.User = url.UserPassword(u.User.Username(), redactedMarker)
	return u.String()
}
