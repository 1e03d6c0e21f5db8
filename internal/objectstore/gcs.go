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

	"cloud.google.com/go/storage"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSStore implements Store on Google Cloud Storage
// GCSStore 基于 Google Cloud Storage 实现 Store
type GCSStore struct {
	client *storage.Client
}

// NewGCS creates a GCS client; nil creds fall back to the ambient chain
// NewGCS 创建 GCS 客户端；creds 为 nil 时使用默认凭证链
func NewGCS(ctx context.Context, creds *google.Credentials) (*GCSStore, error) {
	var opts []option.ClientOption
	if creds != nil {
		opts = append(opts, option.WithCredentials(creds))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &GCSStore{client: client}, nil
}

// CheckBucket fetches the bucket attributes
// CheckBucket 获取存储桶属性
func (g *GCSStore) CheckBucket(ctx context.Context, bucket string) error {
	_, err := g.client.Bucket(bucket).Attrs(ctx)
	return err
}

// ListOne lists at most one object
// ListOne 最多列出一个对象
func (g *GCSStore) ListOne(ctx context.Context, bucket string) error {
	it := g.client.Bucket(bucket).Objects(ctx, nil)
	it.PageInfo().MaxSize = 1
	if _, err := it.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return err
	}
	return nil
}

// Put uploads data to key
// Put 将数据上传到 key
func (g *GCSStore) Put(ctx context.Context, bucket, key string, data []byte) error {
	w := g.client.Bucket(bucket).Object(key).NewWriter(ctx)
	w.ContentType = "text/plain"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// Delete removes key
// Delete 删除 key
func (g *GCSStore) Delete(ctx context.Context, bucket, key string) error {
	return g.client.Bucket(bucket).Object(key).Delete(ctx)
}

// Close releases the client
// Close 释放客户端
func (g *GCSStore) Close() error {
	return g.client.Close()
}
