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

package backend

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startPostgres runs a postgres container and returns host and port
func startPostgres(t *testing.T) (string, string) {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "mlflow",
				"POSTGRES_PASSWORD": "mlflow",
				"POSTGRES_DB":       "mlflow",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)
	return host, port.Port()
}

// TestPostgresPreflight tests ping, missing database detection and creation
// TestPostgresPreflight 测试连通性检查、数据库缺失检测与创建
func TestPostgresPreflight(t *testing.T) {
	host, port := startPostgres(t)
	ctx := context.Background()

	existing, err := NewChecker(fmt.Sprintf("postgresql+psycopg2://mlflow:mlflow@%s:%s/mlflow?sslmode=disable", host, port), nil, nil)
	require.NoError(t, err)
	require.NoError(t, existing.Ping(ctx))

	created, err := existing.EnsureDatabase(ctx)
	require.NoError(t, err)
	assert.False(t, created)

	missing, err := NewChecker(fmt.Sprintf("postgresql://mlflow:mlflow@%s:%s/tracking-db?sslmode=disable", host, port), nil, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, missing.Ping(ctx), ErrDatabaseMissing)

	created, err = missing.EnsureDatabase(ctx)
	require.NoError(t, err)
	assert.True(t, created)
	require.NoError(t, missing.Ping(ctx))

	created, err = missing.EnsureDatabase(ctx)
	require.NoError(t, err)
	assert.False(t, created)
}
