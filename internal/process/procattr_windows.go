//go:build windows
// +build windows

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
	"os"
	"os/exec"
)

// setProcGroupAttr is a no-op on Windows
// setProcGroupAttr 在 Windows 上为空操作
func setProcGroupAttr(_ *exec.Cmd) {}

// terminate kills the child; Windows has no SIGTERM delivery
// terminate 终止子进程；Windows 无法投递 SIGTERM
func terminate(p *os.Process) error {
	return p.Kill()
}

// kill terminates the child
// kill 终止子进程
func kill(p *os.Process) error {
	return p.Kill()
}
