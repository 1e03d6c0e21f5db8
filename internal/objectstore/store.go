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

// Package objectstore probes the bucket behind the artifact root.
// objectstore 包探测制品根目录所在的存储桶。
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
)

// ErrUnsupportedScheme indicates an artifact root that is not gs:// or s3://
// ErrUnsupportedScheme 表示制品根目录不是 gs:// 或 s3://
var ErrUnsupportedScheme = errors.New("unsupported object store scheme")

// Supported schemes
// 支持的协议
const (
	SchemeGCS = "gs"
	SchemeS3  = "s3"
)

const (
	markerPrefix  = "test_mlflow_auth_"
	markerContent = "Test file for MLflow authentication"
)

// Location is a parsed bucket locator
// Location 是解析后的存储桶定位符
type Location struct {
	Scheme string
	Bucket string
	Prefix string
}

// String renders the locator
// String 渲染定位符
func (l Location) String() string {
	s := l.Scheme + "://" + l.Bucket
	if l.Prefix != "" {
		s += "/" + l.Prefix
	}
	return s
}

// ParseLocation parses gs://bucket/prefix and s3://bucket/prefix
// ParseLocation 解析 gs://bucket/prefix 与 s3://bucket/prefix
func ParseLocation(root string) (Location, error) {
	scheme, rest, ok := strings.Cut(strings.TrimSpace(root), "://")
	if !ok {
		return Location{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, root)
	}
	scheme = strings.ToLower(scheme)
	if scheme != SchemeGCS && scheme != SchemeS3 {
		return Location{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return Location{}, fmt.Errorf("%w: missing bucket in %q", ErrUnsupportedScheme, root)
	}
	return Location{Scheme: scheme, Bucket: bucket, Prefix: strings.Trim(prefix, "/")}, nil
}

// Store is the minimal bucket surface the probe needs
// Store 是探测所需的最小存储桶接口
type Store interface {
	CheckBucket(ctx context.Context, bucket string) error
	ListOne(ctx context.Context, bucket string) error
	Put(ctx context.Context, bucket, key string, data []byte) error
	Delete(ctx context.Context, bucket, key string) error
	Close() error
}

// OpenOptions carries per-provider client settings
// OpenOptions 保存各云厂商客户端的设置
type OpenOptions struct {
	// GoogleCredentials is passed to the GCS client; nil uses the ambient chain
	// GoogleCredentials 传给 GCS 客户端；nil 表示使用默认凭证链
	GoogleCredentials *google.Credentials

	// S3Endpoint targets an S3-compatible service
	// S3Endpoint 指向兼容 S3 的服务
	S3Endpoint string
}

// Open creates the store for loc
// Open 为 loc 创建存储客户端
func Open(ctx context.Context, loc Location, opts OpenOptions) (Store, error) {
	switch loc.Scheme {
	case SchemeGCS:
		store, err := NewGCS(ctx, opts.GoogleCredentials)
		if err != nil {
			return nil, err
		}
		return store, nil
	case SchemeS3:
		store, err := NewS3(ctx, opts.S3Endpoint)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, loc.Scheme)
}

// Prober runs read and write probes against a bucket
// Prober 对存储桶运行读写探测
type Prober struct {
	store Store
	log   *zap.Logger
	now   func() time.Time
}

// NewProber creates a Prober over store
// NewProber 基于 store 创建 Prober
func NewProber(store Store, log *zap.Logger) *Prober {
	if log == nil {
		log = zap.NewNop()
	}
	return &Prober{store: store, log: log, now: time.Now}
}

// Probe fetches the bucket, lists one object, then writes and deletes a
// uniquely named marker. Any failure is logged and reported as false.
// Probe 获取存储桶、列出一个对象，然后写入并删除一个唯一命名的标记对象。任何失败都记录日志并返回 false。
func (p *Prober) Probe(ctx context.Context, bucket string) bool {
	log := p.log.With(zap.String("bucket", bucket))

	if err := p.store.CheckBucket(ctx, bucket); err != nil {
		log.Error("Failed to access bucket / 访问存储桶失败", zap.Error(err))
		return false
	}
	log.Info("Bucket access verified / 存储桶访问已验证")

	if err := p.store.ListOne(ctx, bucket); err != nil {
		log.Error("Failed to list bucket / 列出存储桶失败", zap.Error(err))
		return false
	}
	log.Info("Read permission verified / 读取权限已验证")

	key := p.markerKey()
	if err := p.store.Put(ctx, bucket, key, []byte(markerContent)); err != nil {
		log.Error("Failed to write marker object / 写入标记对象失败", zap.String("key", key), zap.Error(err))
		return false
	}
	if err := p.store.Delete(ctx, bucket, key); err != nil {
		log.Error("Failed to delete marker object / 删除标记对象失败", zap.String("key", key), zap.Error(err))
		return false
	}
	log.Info("Write permission verified / 写入权限已验证")
	return true
}

// markerKey names the write-probe object; the uuid keeps concurrent replicas apart
func (p *Prober) markerKey() string {
	return fmt.Sprintf("%s%d_%s.txt", markerPrefix, p.now().Unix(), uuid.NewString())
}

// ProbeRoot opens a client for the artifact root and probes its bucket.
// It never returns an error; every failure yields false.
// ProbeRoot 为制品根目录打开客户端并探测其存储桶。不会返回错误，任何失败都返回 false。
func ProbeRoot(ctx context.Context, root string, opts OpenOptions, log *zap.Logger) bool {
	if log == nil {
		log = zap.NewNop()
	}
	loc, err := ParseLocation(root)
	if err != nil {
		log.Warn("Artifact root is not a bucket, skipping validation / 制品根目录不是存储桶，跳过验证", zap.Error(err))
		return false
	}
	store, err := Open(ctx, loc, opts)
	if err != nil {
		log.Error("Failed to create storage client / 创建存储客户端失败",
			zap.String("scheme", loc.Scheme), zap.Error(err))
		return false
	}
	defer store.Close()
	log.Info("Storage client created / 存储客户端已创建", zap.String("scheme", loc.Scheme))

	return NewProber(store, log).Probe(ctx, loc.Bucket)
}
