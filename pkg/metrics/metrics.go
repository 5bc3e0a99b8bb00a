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
	"net/http"
	// #nosec
	_ "net/http/pprof"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// chatNamespace 是当前项目所有 Prometheus 指标使用的命名空间。
	chatNamespace = "chat"

	sessionSubsystem = "session"
	routerSubsystem  = "router"
	commandSubsystem = "command"
	authSubsystem    = "auth"

	// 以下为当前使用的通用标签名。
	ReasonLabelName  = "reason"
	VerbLabelName    = "verb"
	ResultLabelName  = "result"
	ModeLabelName    = "mode"
	KindLabelName    = "kind"
	SuccessLabel     = "success"
	FailLabel        = "fail"
	UnavailableLabel = "unavailable"
)

var (
	// buckets 为耗时直方图的桶划分，单位为毫秒。
	// [1 2 4 8 16 32 64 128 256 512 1024 2048 4096]
	buckets = prometheus.ExponentialBuckets(1, 2, 13)

	// ActiveSessions 当前已注册（Active）的会话数量。
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: chatNamespace,
			Subsystem: sessionSubsystem,
			Name:      "active",
			Help:      "number of registered sessions",
		})

	AcceptedConnections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: chatNamespace,
			Subsystem: sessionSubsystem,
			Name:      "accepted_total",
			Help:      "number of accepted raw connections",
		})

	// Teardowns 按触发原因统计的断开次数（receive/quit/broadcast/shutdown）。
	Teardowns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: chatNamespace,
			Subsystem: sessionSubsystem,
			Name:      "teardown_total",
			Help:      "number of connection teardowns by trigger",
		}, []string{ReasonLabelName})

	Broadcasts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: chatNamespace,
			Subsystem: routerSubsystem,
			Name:      "broadcast_total",
			Help:      "number of broadcast fan-outs",
		})

	BroadcastLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: chatNamespace,
			Subsystem: routerSubsystem,
			Name:      "broadcast_latency",
			Help:      "latency of one broadcast fan-out pass in milliseconds",
			Buckets:   buckets,
		})

	// SendFailures 单个接收方投递失败的次数。
	SendFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: chatNamespace,
			Subsystem: routerSubsystem,
			Name:      "send_failure_total",
			Help:      "number of per-recipient send failures",
		})

	DirectDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: chatNamespace,
			Subsystem: routerSubsystem,
			Name:      "direct_delivery_total",
			Help:      "number of direct deliveries by result",
		}, []string{ResultLabelName})

	MailboxAppends = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: chatNamespace,
			Subsystem: routerSubsystem,
			Name:      "mailbox_append_total",
			Help:      "number of messages deferred into mailboxes",
		})

	Commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: chatNamespace,
			Subsystem: commandSubsystem,
			Name:      "total",
			Help:      "number of dispatched commands by verb and result",
		}, []string{VerbLabelName, ResultLabelName})

	Handshakes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: chatNamespace,
			Subsystem: authSubsystem,
			Name:      "handshake_total",
			Help:      "number of handshakes by mode and result",
		}, []string{ModeLabelName, ResultLabelName})

	metricRegisterer prometheus.Registerer
	registerOnce     sync.Once
)

// GetRegisterer 返回全局 Prometheus Registerer。
// 如果尚未通过 Register 显式设置，则返回 prometheus.DefaultRegisterer。
func GetRegisterer() prometheus.Registerer {
	if metricRegisterer == nil {
		return prometheus.DefaultRegisterer
	}
	return metricRegisterer
}

// Register 注册当前定义的所有指标，多次调用只生效一次。
func Register(r prometheus.Registerer) {
	registerOnce.Do(func() {
		r.MustRegister(ActiveSessions)
		r.MustRegister(AcceptedConnections)
		r.MustRegister(Teardowns)
		r.MustRegister(Broadcasts)
		r.MustRegister(BroadcastLatency)
		r.MustRegister(SendFailures)
		r.MustRegister(DirectDeliveries)
		r.MustRegister(MailboxAppends)
		r.MustRegister(Commands)
		r.MustRegister(Handshakes)
		RegisterChatLog(r)
		metricRegisterer = r
	})
}

// Handler 返回暴露指标的 HTTP handler，同时挂载 pprof。
func Handler(g prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.Handle("/debug/pprof/", http.DefaultServeMux)
	return mux
}
