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

// Package backend runs preflight checks against the tracking server's backend store.
// backend 包对追踪服务器的后端存储执行启动前检查。
package backend

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/mlops-orchestrator/mlflow-service/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// ErrUnsupportedBackend indicates a store URI this package cannot check
// ErrUnsupportedBackend 表示本包无法检查的存储 URI
var ErrUnsupportedBackend = errors.New("unsupported backend store")

// Dialect 数据库类型
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
)

const (
	defaultPostgresPort = "5432"
	defaultMySQLPort    = "3306"
	sqliteMemory        = ":memory:"
)

// StoreURI is a parsed SQLAlchemy-style backend store URI
// StoreURI 是解析后的 SQLAlchemy 风格后端存储 URI
type StoreURI struct {
	Dialect Dialect

	// Driver is the "+driver" suffix of the scheme, e.g. psycopg2
	// Driver 是 scheme 中的 "+driver" 后缀，例如 psycopg2
	Driver string

	Host     string
	Port     string
	User     string
	Password string
	Database string

	// Path is the database file for sqlite
	// Path 是 sqlite 的数据库文件
	Path string

	Query url.Values
	raw   string
}

// ParseStoreURI parses postgresql[+driver]://, postgres://, mysql[+driver]:// and sqlite:/// URIs
// ParseStoreURI 解析 postgresql[+driver]://、postgres://、mysql[+driver]:// 和 sqlite:/// URI
func ParseStoreURI(raw string) (StoreURI, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return StoreURI{}, fmt.Errorf("%w: empty URI", ErrUnsupportedBackend)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return StoreURI{}, fmt.Errorf("%w: %s", ErrUnsupportedBackend, config.RedactURI(raw))
	}

	scheme, driver, _ := strings.Cut(strings.ToLower(u.Scheme), "+")
	s := StoreURI{Driver: driver, Query: u.Query(), raw: raw}

	switch scheme {
	case "postgresql", "postgres":
		s.Dialect = DialectPostgres
		s.fillNetwork(u, defaultPostgresPort)
	case "mysql":
		s.Dialect = DialectMySQL
		s.fillNetwork(u, defaultMySQLPort)
	case "sqlite":
		s.Dialect = DialectSQLite
		// sqlite:///rel.db is relative, sqlite:////abs.db is absolute
		// sqlite:///rel.db 为相对路径，sqlite:////abs.db 为绝对路径
		s.Path = strings.TrimPrefix(u.Path, "/")
		if s.Path == "" {
			s.Path = sqliteMemory
		}
		return s, nil
	default:
		return StoreURI{}, fmt.Errorf("%w: scheme %q", ErrUnsupportedBackend, u.Scheme)
	}

	if s.Host == "" || s.Database == "" {
		return StoreURI{}, fmt.Errorf("%w: host and database are required in %s",
			ErrUnsupportedBackend, config.RedactURI(raw))
	}
	return s, nil
}

func (s *StoreURI) fillNetwork(u *url.URL, defaultPort string) {
	s.Host = u.Hostname()
	s.Port = u.Port()
	if s.Port == "" {
		s.Port = defaultPort
	}
	if u.User != nil {
		s.User = u.User.Username()
		s.Password, _ = u.User.Password()
	}
	s.Database = strings.TrimPrefix(u.Path, "/")
}

// String returns the URI with its password masked
// String 返回隐藏密码后的 URI
func (s StoreURI) String() string {
	return config.RedactURI(s.raw)
}

// PostgresDSN returns a pgx connection URL for database.
// Query parameters of the store URI such as sslmode are kept.
// PostgresDSN 返回连接 database 的 pgx 连接 URL，保留 sslmode 等查询参数。
func (s StoreURI) PostgresDSN(database string) string {
	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(s.Host, s.Port),
		Path:     "/" + database,
		RawQuery: s.Query.Encode(),
	}
	if s.User != "" {
		u.User = url.UserPassword(s.User, s.Password)
	}
	return u.String()
}

// MySQLDSN returns a go-sql-driver DSN
// MySQLDSN 返回 go-sql-driver 格式的 DSN
func (s StoreURI) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		s.User, s.Password, net.JoinHostPort(s.Host, s.Port), s.Database)
}

// Dialector returns the gorm dialector for the store
// Dialector 返回存储对应的 gorm 方言驱动
func (s StoreURI) Dialector() (gorm.Dialector, error) {
	switch s.Dialect {
	case DialectPostgres:
		return postgres.Open(s.PostgresDSN(s.Database)), nil
	case DialectMySQL:
		return mysql.Open(s.MySQLDSN()), nil
	case DialectSQLite:
		return sqlite.Open(s.Path), nil
	default:
		return nil, fmt.Errorf("%w: dialect %q", ErrUnsupportedBackend, s.Dialect)
	}
}
