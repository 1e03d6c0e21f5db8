//go:build integration
// +build integration

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
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startLocalstack runs an S3-only localstack container and returns its endpoint
func startLocalstack(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "localstack/localstack:3.0",
			ExposedPorts: []string{"4566/tcp"},
			Env: map[string]string{
				"SERVICES":       "s3",
				"DEFAULT_REGION": "us-east-1",
			},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("4566/tcp"),
				wait.ForHTTP("/_localstack/health").
					WithPort("4566/tcp").
					WithStartupTimeout(90*time.Second),
			),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4566")
	require.NoError(t, err)

	return fmt.Sprintf("http://%s:%s", host, port.Port())
}

// TestS3ProbeAgainstLocalstack tests the probe against a real S3 API
// TestS3ProbeAgainstLocalstack 测试针对真实 S3 API 的探测
func TestS3ProbeAgainstLocalstack(t *testing.T) {
	endpoint := startLocalstack(t)
	ctx := context.Background()

	store, err := NewS3(ctx, endpoint,
		awsconfig.WithRegion("us-east-1"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
	)
	require.NoError(t, err)

	_, err = store.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String("mlflow-artifacts")})
	require.NoError(t, err)

	assert.True(t, NewProber(store, nil).Probe(ctx, "mlflow-artifacts"))

	// The marker object must be gone / 标记对象必须已被删除
	out, err := store.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: aws.String("mlflow-artifacts")})
	require.NoError(t, err)
	assert.Empty(t, out.Contents)

	assert.False(t, NewProber(store, nil).Probe(ctx, "missing-bucket"))
}
