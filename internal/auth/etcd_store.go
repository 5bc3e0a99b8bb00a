package auth

import (
	"context"
	"path"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/lk2023060901/danmu-chat/pkg/util/merr"
)

// DefaultEtcdPrefix 为 etcd 中凭据的默认根路径。
const DefaultEtcdPrefix = "/chat/users"

// EtcdStore 将凭据保存为 <prefix>/<username> 键。
type EtcdStore struct {
	cli    *clientv3.Client
	prefix string
	owned  bool
}

var _ Store = (*EtcdStore)(nil)

// NewEtcdStore 基于已有客户端创建存储，Close 不会关闭该客户端。
func NewEtcdStore(cli *clientv3.Client, prefix string) *EtcdStore {
	if prefix == "" {
		prefix = DefaultEtcdPrefix
	}
	return &EtcdStore{cli: cli, prefix: prefix}
}

// DialEtcdStore 连接 endpoints 并创建存储。
func DialEtcdStore(endpoints []string, prefix string) (*EtcdStore, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, merr.WrapErrCredentialStoreIO("etcd", err)
	}
	s := NewEtcdStore(cli, prefix)
	s.owned = true
	return s, nil
}

// Client 返回底层 etcd 客户端，供同一集群上的其他组件复用。
func (s *EtcdStore) Client() *clientv3.Client {
	return s.cli
}

func (s *EtcdStore) key(username string) string {
	return path.Join(s.prefix, username)
}

// Get 实现 Store.Get。
func (s *EtcdStore) Get(ctx context.Context, username string) (string, error) {
	key := s.key(username)
	resp, err := s.cli.Get(ctx, key)
	if err != nil {
		return "", merr.WrapErrCredentialStoreIO(key, err)
	}
	if len(resp.Kvs) == 0 {
		return "", merr.WrapErrUserNotFound(username)
	}
	return string(resp.Kvs[0].Value), nil
}

// Create 实现 Store.Create，使用事务保证键不存在时才写入。
func (s *EtcdStore) Create(ctx context.Context, username, hashed string) error {
	key := s.key(username)
	resp, err := s.cli.Txn(ctx).If(
		clientv3.Compare(clientv3.Version(key), "=", 0)).
		Then(clientv3.OpPut(key, hashed)).Commit()
	if err != nil {
		return merr.WrapErrCredentialStoreIO(key, err)
	}
	if !resp.Succeeded {
		return merr.WrapErrUserExists(username)
	}
	return nil
}

// Close 实现 Store.Close。
func (s *EtcdStore) Close() error {
	if s.owned {
		return s.cli.Close()
	}
	return nil
}
