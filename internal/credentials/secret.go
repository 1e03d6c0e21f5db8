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

package credentials

import (
	"context"
	"fmt"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"
)

// SecretFetcher reads the latest payload of a secret version name
// SecretFetcher 读取密钥版本名称对应的最新内容
type SecretFetcher interface {
	AccessSecret(ctx context.Context, name string) ([]byte, error)
}

// SecretName returns the latest version name of SecretID in project
// SecretName 返回 project 中 SecretID 的最新版本名称
func SecretName(project string) string {
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", project, SecretID)
}

// SecretManagerFetcher reads secrets from Google Secret Manager
// SecretManagerFetcher 从 Google Secret Manager 读取密钥
type SecretManagerFetcher struct {
	opts []option.ClientOption
}

// NewSecretManagerFetcher creates a fetcher; the client uses the ambient chain unless opts say otherwise
// NewSecretManagerFetcher 创建读取器；除非 opts 另有指定，客户端使用默认凭证链
func NewSecretManagerFetcher(opts ...option.ClientOption) *SecretManagerFetcher {
	return &SecretManagerFetcher{opts: opts}
}

// AccessSecret implements SecretFetcher
// AccessSecret 实现 SecretFetcher 接口
func (f *SecretManagerFetcher) AccessSecret(ctx context.Context, name string) ([]byte, error) {
	client, err := secretmanager.NewClient(ctx, f.opts...)
	if err != nil {
		return nil, fmt.Errorf("create secret manager client: %w", err)
	}
	defer client.Close()

	resp, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return nil, err
	}
	return resp.GetPayload().GetData(), nil
}
