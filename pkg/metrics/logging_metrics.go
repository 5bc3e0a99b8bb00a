// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	chatLogMetricSubsystem = "chatlog"
)

var (
	chatLogRegisterOnce sync.Once

	ChatLogWrittenLines = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: chatNamespace,
		Subsystem: chatLogMetricSubsystem,
		Name:      "written_lines",
		Help:      "成功写入聊天日志的行数",
	})

	ChatLogWrittenBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: chatNamespace,
		Subsystem: chatLogMetricSubsystem,
		Name:      "written_bytes",
		Help:      "成功写入聊天日志的总字节数",
	})

	ChatLogWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: chatNamespace,
		Subsystem: chatLogMetricSubsystem,
		Name:      "write_failures",
		Help:      "写入聊天日志失败（已被忽略）的次数",
	})
)

// RegisterChatLog 注册聊天日志相关指标。
func RegisterChatLog(registry prometheus.Registerer) {
	chatLogRegisterOnce.Do(func() {
		registry.MustRegister(ChatLogWrittenLines)
		registry.MustRegister(ChatLogWrittenBytes)
		registry.MustRegister(ChatLogWriteFailures)
	})
}
