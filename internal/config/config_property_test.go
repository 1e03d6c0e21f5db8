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

package config

import (
	"strconv"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

// **Feature: mlflow-service, Property 1: Idempotent Artifact Root Join**
//
// Property: For any bucket location and folder, joining twice yields the same
// string, and a folder already present as a path segment leaves the location unchanged.
// 属性：对于任意存储桶位置和目录，拼接两次结果相同；目录已是路径段时位置保持不变。
func TestProperty_ArtifactRootIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		scheme := rapid.SampledFrom([]string{"gs://", "s3://", ""}).Draw(t, "scheme")
		bucket := rapid.StringMatching(`[a-z][a-z0-9-]{0,12}`).Draw(t, "bucket")
		prefixSegs := rapid.SliceOfN(rapid.StringMatching(`[a-z0-9_-]{1,8}`), 0, 3).Draw(t, "prefix")
		trailing := rapid.Bool().Draw(t, "trailingSlash")
		folder := rapid.StringMatching(`[a-z0-9_-]{1,10}(/[a-z0-9_-]{1,6})?`).Draw(t, "folder")

		location := scheme + bucket
		if len(prefixSegs) > 0 {
			location += "/" + strings.Join(prefixSegs, "/")
		}
		if trailing {
			location += "/"
		}

		once := ArtifactRoot(location, folder)
		twice := ArtifactRoot(once, folder)
		if once != twice {
			t.Fatalf("join not idempotent: %q -> %q -> %q (folder %q)", location, once, twice, folder)
		}

		// Folder already a segment / 目录已是路径段
		withFolder := scheme + bucket + "/" + folder
		if got := ArtifactRoot(withFolder, folder); got != withFolder {
			t.Fatalf("expected %q unchanged, got %q", withFolder, got)
		}
	})
}

// **Feature: mlflow-service, Property 2: Connection String Stripping**
//
// Property: For any explicit connection string wrapped in quotes and whitespace,
// the resolved backend URI equals the bare string.
// 属性：对于任何被引号和空白包裹的显式连接字符串，解析后的后端 URI 等于原始字符串。
func TestProperty_ConnectionStringStripped(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		user := rapid.StringMatching(`[a-z]{1,8}`).Draw(t, "user")
		host := rapid.StringMatching(`[a-z][a-z0-9.-]{0,15}`).Draw(t, "host")
		db := rapid.StringMatching(`[a-z_]{1,10}`).Draw(t, "db")
		bare := "postgresql://" + user + "@" + host + ":5432/" + db

		left := rapid.StringMatching(`[ \t]{0,3}["']{0,2}[ ]{0,2}`).Draw(t, "left")
		right := rapid.StringMatching(`[ ]{0,2}["']{0,2}[ \t]{0,3}`).Draw(t, "right")

		got, err := ResolveBackendStoreURI(PostgresConfig{ConnectionString: left + bare + right})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != bare {
			t.Fatalf("expected %q, got %q (input %q)", bare, got, left+bare+right)
		}
	})
}

// **Feature: mlflow-service, Property 3: Effective Port Priority**
//
// Property: The effective port equals the override when set, the default otherwise.
// 属性：设置覆盖端口时有效端口等于覆盖端口，否则等于默认端口。
func TestProperty_EffectivePortPriority(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		def := rapid.IntRange(1, 65535).Draw(t, "default")
		hasOverride := rapid.Bool().Draw(t, "hasOverride")

		if !hasOverride {
			if got := EffectivePort(nil, def); got != def {
				t.Fatalf("expected default %d, got %d", def, got)
			}
			return
		}

		override := rapid.IntRange(1, 65535).Draw(t, "override")
		if got := EffectivePort(&override, def); got != override {
			t.Fatalf("expected override %d, got %d", override, got)
		}
	})
}

// **Feature: mlflow-service, Property 4: GC Interval Clamping**
//
// Property: Any non-positive or non-numeric interval falls back to the default,
// any positive integer is used verbatim as seconds.
// 属性：任何非正数或非数字的间隔回退为默认值，正整数按秒原样使用。
func TestProperty_GCIntervalClamping(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(-1000, 1000).Draw(t, "seconds")
		got := ParseGCInterval(strings.Repeat(" ", rapid.IntRange(0, 2).Draw(t, "pad")) + strconv.Itoa(n))
		if n <= 0 {
			if got != DefaultGCInterval {
				t.Fatalf("expected default for %d, got %v", n, got)
			}
			return
		}
		if got.Seconds() != float64(n) {
			t.Fatalf("expected %ds, got %v", n, got)
		}
	})
}
