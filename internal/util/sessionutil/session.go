// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sessionutil

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-chat/pkg/log"
)

const (
	// DefaultPrefix 为聊天服务实例在 etcd 中的注册根路径。
	DefaultPrefix = "/chat/servers"
	// DefaultTTL 为注册租约的 TTL，单位秒。
	DefaultTTL int64 = 10
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Info 是写入 etcd 的实例描述。
type Info struct {
	ServerID  string    `json:"server_id"`
	Address   string    `json:"address"`
	StartedAt time.Time `json:"started_at"`
}

// Session 用带租约的键在 etcd 中宣告一个聊天服务实例的存在。
//
// 说明：
//   - Register 成功后由 KeepAlive 续约，进程异常退出时键随租约过期自动删除；
//   - Stop 主动撤销租约，正常关闭时其他节点可以立即感知下线。
type Session struct {
	log.Binder

	cli    *clientv3.Client
	prefix string
	ttl    int64
	info   Info

	leaseID    clientv3.LeaseID
	cancel     context.CancelFunc
	registered atomic.Bool
	stopOnce   sync.Once
}

// NewSession 为 address 创建一个尚未注册的 Session。
func NewSession(cli *clientv3.Client, prefix, address string, ttl int64) *Session {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Session{
		cli:    cli,
		prefix: prefix,
		ttl:    ttl,
		info: Info{
			ServerID:  uuid.NewString(),
			Address:   address,
			StartedAt: time.Now(),
		},
	}
}

// Key 返回本实例的注册键。
func (s *Session) Key() string {
	return path.Join(s.prefix, s.info.ServerID)
}

// Info 返回本实例的描述。
func (s *Session) Info() Info {
	return s.info
}

// Registered 返回当前是否处于注册状态。
func (s *Session) Registered() bool {
	return s.registered.Load()
}

// Register 申请租约、写入实例键并启动续约。
func (s *Session) Register(ctx context.Context) error {
	value, err := json.Marshal(s.info)
	if err != nil {
		return errors.Wrap(err, "marshal session info")
	}
	lease, err := s.cli.Grant(ctx, s.ttl)
	if err != nil {
		return errors.Wrap(err, "grant session lease")
	}
	if _, err := s.cli.Put(ctx, s.Key(), string(value), clientv3.WithLease(lease.ID)); err != nil {
		return errors.Wrapf(err, "put session key %s", s.Key())
	}

	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := s.cli.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		cancel()
		return errors.Wrap(err, "keep session lease alive")
	}
	s.leaseID = lease.ID
	s.cancel = cancel
	s.registered.Store(true)

	go s.drainKeepAlive(ch)
	s.Logger().Info("server session registered", zap.String("key", s.Key()), zap.Int64("ttl", s.ttl))
	return nil
}

// drainKeepAlive 消费续约应答，通道关闭意味着租约已失效或被撤销。
func (s *Session) drainKeepAlive(ch <-chan *clientv3.LeaseKeepAliveResponse) {
	for range ch {
	}
	if s.registered.CompareAndSwap(true, false) {
		s.Logger().Warn("server session lease lost", zap.String("key", s.Key()))
	}
}

// Stop 停止续约并撤销租约，可重复调用。
func (s *Session) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		if s.cancel == nil {
			return
		}
		s.registered.Store(false)
		s.cancel()
		if _, rerr := s.cli.Revoke(ctx, s.leaseID); rerr != nil {
			err = errors.Wrap(rerr, "revoke session lease")
		}
	})
	return err
}

// GetSessions 列出 prefix 下所有已注册的实例，键为 ServerID。
func GetSessions(ctx context.Context, cli *clientv3.Client, prefix string) (map[string]Info, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	resp, err := cli.Get(ctx, prefix+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Wrapf(err, "list sessions under %s", prefix)
	}
	out := make(map[string]Info, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var info Info
		if err := json.Unmarshal(kv.Value, &info); err != nil {
			log.Warn("skip malformed session value", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		out[info.ServerID] = info
	}
	return out, nil
}
