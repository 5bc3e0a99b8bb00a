package auth

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/lk2023060901/danmu-chat/pkg/util/etcd"
	"github.com/lk2023060901/danmu-chat/pkg/util/merr"
)

const (
	dialTimeout = 5 * time.Second

	// DefaultHandshakeTimeout 为握手阶段每次读取的超时。
	DefaultHandshakeTimeout = 30 * time.Second
)

// 凭据存储类型。
const (
	StoreFile  = "file"
	StoreEtcd  = "etcd"
	StoreRedis = "redis"
)

// EtcdConfig 为 etcd 凭据存储配置。
type EtcdConfig struct {
	// Endpoints 为空且 Embed 为 true 时启动嵌入式 etcd。
	Endpoints []string `mapstructure:"endpoints"`
	Prefix    string   `mapstructure:"prefix"`
	Embed     bool     `mapstructure:"embed"`
	DataDir   string   `mapstructure:"data_dir"`
}

// RedisConfig 为 redis 凭据存储配置。
type RedisConfig struct {
	Addr   string `mapstructure:"addr"`
	Prefix string `mapstructure:"prefix"`
}

// Config 为认证相关配置。
type Config struct {
	Store            string        `mapstructure:"store"`
	File             string        `mapstructure:"file"`
	Etcd             EtcdConfig    `mapstructure:"etcd"`
	Redis            RedisConfig   `mapstructure:"redis"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	// Cost 为 bcrypt 计算强度，0 表示 DefaultCost。
	Cost int `mapstructure:"cost"`
}

// DefaultConfig 返回默认配置：文件存储 users.json。
func DefaultConfig() Config {
	return Config{
		Store:            StoreFile,
		File:             "users.json",
		Etcd:             EtcdConfig{Prefix: DefaultEtcdPrefix, DataDir: "etcd-data"},
		Redis:            RedisConfig{Addr: "127.0.0.1:6379", Prefix: DefaultRedisPrefix},
		HandshakeTimeout: DefaultHandshakeTimeout,
	}
}

// OpenStore 按配置打开凭据存储；etcd 与 redis 存储会补齐默认账号。
func OpenStore(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Store) {
	case "", StoreFile:
		return OpenFileStore(cfg.File, cfg.Cost)
	case StoreEtcd:
		s, err := openEtcd(cfg.Etcd)
		if err != nil {
			return nil, err
		}
		return seedOrClose(ctx, s, cfg.Cost)
	case StoreRedis:
		s, err := DialRedisStore(ctx, cfg.Redis.Addr, cfg.Redis.Prefix)
		if err != nil {
			return nil, err
		}
		return seedOrClose(ctx, s, cfg.Cost)
	default:
		return nil, merr.WrapErrParameterInvalidMsg("unknown credential store %q", cfg.Store)
	}
}

func openEtcd(cfg EtcdConfig) (*EtcdStore, error) {
	if len(cfg.Endpoints) > 0 {
		return DialEtcdStore(cfg.Endpoints, cfg.Prefix)
	}
	if !cfg.Embed {
		return nil, merr.WrapErrParameterMissing("auth.etcd.endpoints")
	}
	if err := etcd.InitEtcdServer(true, "", filepath.Clean(cfg.DataDir), "", "warn"); err != nil {
		return nil, merr.WrapErrCredentialStoreIO("embedded etcd", err)
	}
	cli, err := etcd.GetEmbedEtcdClient()
	if err != nil {
		return nil, merr.WrapErrCredentialStoreIO("embedded etcd", err)
	}
	s := NewEtcdStore(cli, cfg.Prefix)
	s.owned = true
	return s, nil
}

func seedOrClose(ctx context.Context, s Store, cost int) (Store, error) {
	if err := Seed(ctx, s, cost); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}
