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
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mlops-orchestrator/mlflow-service/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"
)

// ErrDatabaseMissing indicates the server is reachable but the database does not exist
// ErrDatabaseMissing 表示服务器可达但数据库不存在
var ErrDatabaseMissing = errors.New("backend database does not exist")

const (
	maintenanceDatabase = "postgres"

	pgInvalidCatalogName = "3D000"
	pgDuplicateDatabase  = "42P04"
)

// Checker runs preflight checks against one backend store
// Checker 针对单个后端存储执行启动前检查
type Checker struct {
	uri    StoreURI
	log    *zap.Logger
	tracer *tracing.Provider
}

// NewChecker parses raw and returns a Checker for it
// NewChecker 解析 raw 并返回对应的 Checker
func NewChecker(raw string, log *zap.Logger, tracer *tracing.Provider) (*Checker, error) {
	uri, err := ParseStoreURI(raw)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Checker{
		uri:    uri,
		log:    log.With(zap.String("component", "backend"), zap.String("dialect", string(uri.Dialect))),
		tracer: tracer,
	}, nil
}

// URI returns the parsed store URI
func (c *Checker) URI() StoreURI {
	return c.uri
}

// Ping opens a connection and runs SELECT 1.
// A missing postgres database is reported as ErrDatabaseMissing.
// Ping 打开连接并执行 SELECT 1。postgres 数据库不存在时返回 ErrDatabaseMissing。
func (c *Checker) Ping(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "backend.ping")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", string(c.uri.Dialect)))

	dialector, err := c.uri.Dialector()
	if err != nil {
		return err
	}

	// The first connection is made by the query below so it honors ctx
	// 首次连接由下面的查询建立，以便遵循 ctx
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:               logger.Default.LogMode(logger.Silent),
		DisableAutomaticPing: true,
	})
	if err != nil {
		return c.connectError(err)
	}
	defer closeDB(db)

	if err := db.Use(gormtracing.NewPlugin(gormtracing.WithoutMetrics())); err != nil {
		c.log.Debug("Failed to attach tracing plugin / 附加追踪插件失败", zap.Error(err))
	}

	if err := db.WithContext(ctx).Exec("SELECT 1").Error; err != nil {
		return c.connectError(err)
	}

	c.log.Info("Backend store reachable / 后端存储可访问", zap.String("uri", c.uri.String()))
	return nil
}

func (c *Checker) connectError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgInvalidCatalogName {
		return fmt.Errorf("%w: %s", ErrDatabaseMissing, c.uri.Database)
	}
	return fmt.Errorf("connect to backend store %s: %w", c.uri.String(), err)
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// EnsureDatabase creates the postgres database when it does not exist.
// It returns true when the database was created; other dialects are a no-op.
// EnsureDatabase 在 postgres 数据库不存在时创建它。创建成功返回 true；其他数据库类型不做任何操作。
func (c *Checker) EnsureDatabase(ctx context.Context) (bool, error) {
	if c.uri.Dialect != DialectPostgres {
		c.log.Debug("Database creation only applies to postgres / 仅 postgres 支持创建数据库")
		return false, nil
	}

	ctx, span := c.tracer.Start(ctx, "backend.ensure_database")
	defer span.End()

	conn, err := pgx.Connect(ctx, c.uri.PostgresDSN(maintenanceDatabase))
	if err != nil {
		return false, fmt.Errorf("connect to maintenance database: %w", err)
	}
	defer conn.Close(context.WithoutCancel(ctx))

	var one int
	err = conn.QueryRow(ctx, "SELECT 1 FROM pg_database WHERE datname = $1", c.uri.Database).Scan(&one)
	switch {
	case err == nil:
		c.log.Info("Database already exists / 数据库已存在", zap.String("database", c.uri.Database))
		return false, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return false, fmt.Errorf("look up database %s: %w", c.uri.Database, err)
	}

	c.log.Info("Creating database / 正在创建数据库", zap.String("database", c.uri.Database))
	if _, err := conn.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{c.uri.Database}.Sanitize()); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgDuplicateDatabase {
			return false, nil
		}
		return false, fmt.Errorf("create database %s: %w", c.uri.Database, err)
	}

	c.log.Info("Database created / 数据库已创建", zap.String("database", c.uri.Database))
	span.SetAttributes(attribute.Bool("db.created", true))
	return true, nil
}
