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
	"context"
	"net"
	"strconv"
	"time"
)

// DefaultProbeTimeout bounds one connect attempt
// DefaultProbeTimeout 限制单次连接尝试的时间
const DefaultProbeTimeout = time.Second

// ProbeAddress returns the dialable address for a bind host.
// A listener bound to 0.0.0.0 or :: is reached through the IPv4 loopback.
// ProbeAddress 返回绑定主机对应的可连接地址。绑定到 0.0.0.0 或 :: 的监听器通过 IPv4 回环地址访问。
func ProbeAddress(host string, port int) string {
	switch host {
	case "", "0.0.0.0", "::", "[::]":
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// IsPortInUse reports whether something accepts TCP connections on host:port
// IsPortInUse 返回 host:port 上是否有程序接受 TCP 连接
func IsPortInUse(ctx context.Context, host string, port int) bool {
	dialer := net.Dialer{Timeout: DefaultProbeTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", ProbeAddress(host, port))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
