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
	"bytes"
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Store implements Store on Amazon S3 or a compatible service
// S3Store 基于 Amazon S3 或兼容服务实现 Store
type S3Store struct {
	client *s3.Client
}

// NewS3 loads the default AWS configuration. A non-empty endpoint switches
// to path-style addressing against that endpoint.
// NewS3 加载默认 AWS 配置。endpoint 非空时使用路径风格寻址访问该端点。
func NewS3(ctx context.Context, endpoint string, optFns ...func(*awsconfig.LoadOptions) error) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, err
	}
	return NewS3FromConfig(cfg, endpoint), nil
}

// NewS3FromConfig creates the store from a loaded configuration
// NewS3FromConfig 基于已加载的配置创建存储
func NewS3FromConfig(cfg aws.Config, endpoint string) *S3Store {
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{client: client}
}

// CheckBucket issues HeadBucket
// CheckBucket 发起 HeadBucket 请求
func (s *S3Store) CheckBucket(ctx context.Context, bucket string) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	return err
}

// ListOne lists at most one key
// ListOne 最多列出一个 key
func (s *S3Store) ListOne(ctx context.Context, bucket string) error {
	_, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		MaxKeys: aws.Int32(1),
	})
	return err
}

// Put uploads data to key
// Put 将数据上传到 key
func (s *S3Store) Put(ctx context.Context, bucket, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("text/plain"),
	})
	return err
}

// Delete removes key
// Delete 删除 key
func (s *S3Store) Delete(ctx context.Context, bucket, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	return err
}

// Close is a no-op; the SDK client holds no resources to release
// Close 为空操作；SDK 客户端无需释放资源
func (s *S3Store) Close() error {
	return nil
}
