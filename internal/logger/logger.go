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

// Package logger builds the zap loggers used across the service.
// logger 包构建服务使用的 zap 日志记录器。
package logger

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/mlops-orchestrator/mlflow-service/internal/config"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ServiceName is attached to every log entry
// ServiceName 附加到每条日志
const ServiceName = "mlflow-service"

// Options controls logger construction
// Options 控制日志记录器的构建
type Options struct {
	Log         config.LogConfig
	Development bool

	// InstanceID identifies this run; generated when empty
	// InstanceID 标识本次运行；为空时自动生成
	InstanceID string
}

// New creates a zap logger writing to stderr and, when configured, to a rotated file.
// New 创建写入 stderr 的 zap 日志记录器，配置文件路径时同时写入轮转文件。
func New(opts Options) (*zap.Logger, error) {
	level, err := ParseLevel(opts.Log.Level)
	if err != nil {
		return nil, err
	}

	encoder := newEncoder(opts.Log.Format, opts.Development)
	atomic := zap.NewAtomicLevelAt(level)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), atomic),
	}

	if opts.Log.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.Log.File,
			MaxSize:    opts.Log.MaxSize,
			MaxBackups: opts.Log.MaxBackups,
			MaxAge:     opts.Log.MaxAge,
			Compress:   true,
		}
		// Files always get JSON / 文件始终使用 JSON
		cores = append(cores, zapcore.NewCore(newEncoder("json", false), zapcore.AddSync(rotator), atomic))
	}

	instanceID := opts.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	zapOpts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if opts.Development {
		zapOpts = append(zapOpts, zap.Development())
	}

	return zap.New(zapcore.NewTee(cores...), zapOpts...).With(
		zap.String("service", ServiceName),
		zap.String("instance_id", instanceID),
	), nil
}

// NewTraced wraps a logger so that entries written through Ctx(ctx) are also
// recorded as events on the active span.
// NewTraced 包装日志记录器，使通过 Ctx(ctx) 写入的日志同时记录为当前 span 的事件。
func NewTraced(l *zap.Logger) *otelzap.Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return otelzap.New(l, otelzap.WithMinLevel(zapcore.InfoLevel))
}

// ParseLevel maps level names, including Python-style spellings, to zap levels
// ParseLevel 将日志级别名称（包括 Python 风格写法）映射为 zap 级别
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warning":
		return zapcore.WarnLevel, nil
	case "critical", "fatal":
		// Fatal in zap exits the process, keep it at error / zap 的 fatal 会退出进程，保持为 error
		return zapcore.ErrorLevel, nil
	}

	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return l, nil
}

// newEncoder picks json or console encoding; an explicit format wins over the environment
// newEncoder 选择 json 或 console 编码；显式格式优先于环境
func newEncoder(format string, development bool) zapcore.Encoder {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return zapcore.NewJSONEncoder(encoderConfig(false))
	case "console":
		return zapcore.NewConsoleEncoder(encoderConfig(true))
	}
	if development {
		return zapcore.NewConsoleEncoder(encoderConfig(true))
	}
	return zapcore.NewJSONEncoder(encoderConfig(false))
}

// encoderConfig returns encoder configuration based on environment.
func encoderConfig(development bool) zapcore.EncoderConfig {
	if development {
		return zapcore.EncoderConfig{
			TimeKey:        "T",
			LevelKey:       "L",
			NameKey:        "N",
			CallerKey:      "C",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "M",
			StacktraceKey:  "S",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		}
	}

	return zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// OrNop returns l, or a no-op logger when l is nil
// OrNop 返回 l，l 为 nil 时返回空操作日志记录器
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
