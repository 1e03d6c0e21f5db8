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

package service

import (
	"context"
	"fmt"
	"io"

	"github.com/mlops-orchestrator/mlflow-service/internal/credentials"
	"github.com/mlops-orchestrator/mlflow-service/internal/objectstore"
)

// CheckReport summarizes the preflight checks run by Check
// CheckReport 汇总 Check 执行的预检查结果
type CheckReport struct {
	CLIVersion string
	CLIErr     error

	BackendErr error

	Provenance    credentials.Provenance
	CredentialErr error

	// StoreChecked is false when the artifact root is not a bucket
	// StoreChecked 在制品根目录不是存储桶时为 false
	StoreChecked bool
	StoreValid   bool
}

// OK reports whether the CLI is usable and the bucket, if probed, is valid
// OK 返回 CLI 是否可用，以及（若探测）存储桶是否有效
func (r CheckReport) OK() bool {
	return r.CLIErr == nil && (!r.StoreChecked || r.StoreValid)
}

// Check runs the installation check, backend preflight, credential chain and
// bucket probe without starting anything.
// Check 执行安装检查、后端预检查、凭证链和存储桶探测，不启动任何进程。
func (s *Service) Check(ctx context.Context) CheckReport {
	var r CheckReport
	r.CLIVersion, r.CLIErr = s.CheckInstallation(ctx)
	r.BackendErr = s.Preflight(ctx)

	h, err := s.creds.Resolve(ctx)
	r.CredentialErr = err
	r.Provenance = credentials.ProvenanceNone
	if h != nil {
		r.Provenance = h.Provenance
	}

	if _, err := objectstore.ParseLocation(s.cfg.ArtifactRoot); err == nil {
		r.StoreChecked = true
		r.StoreValid = s.creds.Validate(ctx, s.cfg.ArtifactRoot, h, s.cfg.S3EndpointURL)
	}
	return r
}

// Print writes the report in a human readable form
// Print 以可读形式输出报告
func (r CheckReport) Print(w io.Writer) {
	fmt.Fprintln(w, "Preflight Results / 预检查结果:")
	fmt.Fprintln(w, "================================")
	printItem(w, "mlflow CLI", r.CLIErr, r.CLIVersion, "✗")
	printItem(w, "Backend store", r.BackendErr, "reachable", "⚠")
	printItem(w, "Credentials", r.CredentialErr, string(r.Provenance), "⚠")
	switch {
	case !r.StoreChecked:
		fmt.Fprintln(w, "- Artifact store: skipped (not a bucket)")
	case r.StoreValid:
		fmt.Fprintln(w, "✓ Artifact store: valid")
	default:
		fmt.Fprintln(w, "✗ Artifact store: validation failed")
	}
	fmt.Fprintln(w, "================================")
	if r.OK() {
		fmt.Fprintln(w, "Overall: PASSED / 总体：通过")
	} else {
		fmt.Fprintln(w, "Overall: FAILED / 总体：失败")
	}
}

func printItem(w io.Writer, name string, err error, ok, failIcon string) {
	if err != nil {
		fmt.Fprintf(w, "%s %s: %v\n", failIcon, name, err)
		return
	}
	fmt.Fprintf(w, "✓ %s: %s\n", name, ok)
}
