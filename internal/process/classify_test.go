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
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
	"pgregory.net/rapid"
)

// TestClassifyLine tests the marker rules
// TestClassifyLine 测试标记规则
func TestClassifyLine(t *testing.T) {
	tests := []struct {
		line string
		want Severity
	}{
		{"Traceback (most recent call last):", SeverityError},
		{"ERROR: could not bind", SeverityError},
		{"2024-01-01 [ERROR] worker died", SeverityError},
		{"something error happened", SeverityError},
		{"a CRITICAL failure here", SeverityError},
		{"Fatal Python error", SeverityError},
		{"  error with leading space", SeverityError},
		{"WARNING: deprecated option", SeverityWarning},
		{"[2024-01-01] [WARNING] slow query", SeverityWarning},
		{"this may warn you", SeverityWarning},
		{"[INFO] Booting worker with pid: 42", SeverityInfo},
		{"0 errors", SeverityInfo},
		{"no_errors_here", SeverityInfo},
		{"", SeverityInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyLine(tt.line), tt.line)
	}
}

// TestSeverityLevel tests the zap level mapping
// TestSeverityLevel 测试 zap 级别映射
func TestSeverityLevel(t *testing.T) {
	assert.Equal(t, zapcore.InfoLevel, SeverityInfo.Level())
	assert.Equal(t, zapcore.WarnLevel, SeverityWarning.Level())
	assert.Equal(t, zapcore.ErrorLevel, SeverityError.Level())
	assert.Equal(t, "warning", SeverityWarning.String())
}

// **Feature: mlflow-service, Property 5: Case Insensitive Classification**
//
// Property: For any ASCII line, upper and lower case spellings classify the same.
// 属性：对于任意 ASCII 行，大小写写法的分类结果相同。
func TestProperty_ClassifyLineCaseInsensitive(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		line := rapid.StringMatching(`[a-zA-Z \[\]:]{0,40}`).Draw(t, "line")
		assert.Equal(t, ClassifyLine(strings.ToLower(line)), ClassifyLine(strings.ToUpper(line)))
	})
}

// **Feature: mlflow-service, Property 6: Error Markers Dominate**
//
// Property: A line holding both an error marker and a warning marker is an error.
// 属性：同时包含错误标记与警告标记的行被分类为错误。
func TestProperty_ErrorMarkerWins(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		prefix := rapid.StringMatching(`[a-z ]{0,20}`).Draw(t, "prefix")
		suffix := rapid.StringMatching(`[a-z ]{0,20}`).Draw(t, "suffix")
		marker := rapid.SampledFrom([]string{"fatal", "[error", " critical ", "traceback (most recent call last):"}).Draw(t, "marker")
		line := prefix + marker + " [warning " + suffix
		assert.Equal(t, SeverityError, ClassifyLine(line))
	})
}
