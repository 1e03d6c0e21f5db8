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

package process

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// Severity is the classified level of one child output line
// Severity 是子进程输出行的分类级别
type Severity int

const (
	// SeverityInfo is the default classification / SeverityInfo 是默认分类
	SeverityInfo Severity = iota
	// SeverityWarning marks warning lines / SeverityWarning 标记警告行
	SeverityWarning
	// SeverityError marks failure lines / SeverityError 标记错误行
	SeverityError
)

// String returns the severity name
// String 返回级别名称
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "info"
	}
}

// Level maps the severity to a zap level
// Level 将级别映射为 zap 级别
func (s Severity) Level() zapcore.Level {
	switch s {
	case SeverityWarning:
		return zapcore.WarnLevel
	case SeverityError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

var (
	errorMarkers = []string{
		"traceback (most recent call last):",
		" error ",
		"[error",
		" critical ",
		"fatal",
	}
	warningMarkers = []string{
		" warn ",
		"[warning",
	}
)

// ClassifyLine maps a line of tracking server output to a severity.
// The server's own level prefixes are not reliable, so markers are matched
// case-insensitively anywhere in the line.
// ClassifyLine 将跟踪服务器的一行输出映射为日志级别。
// 服务器自身的级别前缀不可靠，因此在整行中不区分大小写地匹配标记。
func ClassifyLine(line string) Severity {
	lower := strings.ToLower(strings.TrimSpace(line))

	if strings.HasPrefix(lower, "error") || containsAny(lower, errorMarkers) {
		return SeverityError
	}
	if strings.HasPrefix(lower, "warning") || containsAny(lower, warningMarkers) {
		return SeverityWarning
	}
	return SeverityInfo
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
