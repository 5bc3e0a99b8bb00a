package etcd

import (
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/server/v3/embed"
	"go.etcd.io/etcd/server/v3/etcdserver/api/v3client"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-chat/pkg/log"
)

const readyTimeout = 30 * time.Second

// 嵌入式 etcd 服务的单例实例。
var (
	initOnce   sync.Once
	closeOnce  sync.Once
	etcdServer *embed.Etcd
)

// GetEmbedEtcdClient 返回嵌入式 etcd 服务对应的 v3 客户端。
// 需要先成功调用 InitEtcdServer。
func GetEmbedEtcdClient() (*clientv3.Client, error) {
	if etcdServer == nil {
		return nil, errors.New("embedded etcd server not initialized")
	}
	return v3client.New(etcdServer.Server), nil
}

// InitEtcdServer 初始化嵌入式 etcd 单例服务。
//
// 说明：
//   - useEmbedEtcd 为 false 时直接返回；
//   - configPath 非空时从文件加载 etcd 配置，否则使用随机本地端口；
//   - 会等待服务 ready 后才返回。
func InitEtcdServer(
	useEmbedEtcd bool,
	configPath string,
	dataDir string,
	logPath string,
	logLevel string,
) error {
	if !useEmbedEtcd {
		return nil
	}
	var initError error
	initOnce.Do(func() {
		var cfg *embed.Config
		if len(configPath) > 0 {
			cfgFromFile, err := embed.ConfigFromFile(configPath)
			if err != nil {
				initError = err
				return
			}
			cfg = cfgFromFile
		} else {
			cfg = embed.NewConfig()
			if err := useLocalPorts(cfg); err != nil {
				initError = err
				return
			}
		}
		cfg.Dir = dataDir
		if logPath != "" {
			cfg.LogOutputs = []string{logPath}
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		e, err := embed.StartEtcd(cfg)
		if err != nil {
			log.Error("failed to init embedded Etcd server", zap.Error(err))
			initError = err
			return
		}
		select {
		case <-e.Server.ReadyNotify():
		case <-time.After(readyTimeout):
			e.Close()
			initError = errors.Newf("embedded etcd not ready in %s", readyTimeout)
			return
		}
		etcdServer = e
		log.Info("finish init Etcd config", zap.String("path", configPath), zap.String("data", dataDir))
	})
	return initError
}

func HasServer() bool {
	return etcdServer != nil
}

// StopEtcdServer 关闭嵌入式 etcd 单例服务。
func StopEtcdServer() {
	if etcdServer != nil {
		closeOnce.Do(func() {
			etcdServer.Close()
		})
	}
}

// useLocalPorts 为 client/peer 地址挑选 127.0.0.1 上的空闲端口，避免与本机 etcd 冲突。
func useLocalPorts(cfg *embed.Config) error {
	clientURL, err := freeLocalURL()
	if err != nil {
		return err
	}
	peerURL, err := freeLocalURL()
	if err != nil {
		return err
	}
	cfg.ListenClientUrls = []url.URL{*clientURL}
	cfg.AdvertiseClientUrls = []url.URL{*clientURL}
	cfg.ListenPeerUrls = []url.URL{*peerURL}
	cfg.AdvertisePeerUrls = []url.URL{*peerURL}
	cfg.InitialCluster = cfg.InitialClusterFromName(cfg.Name)
	return nil
}

func freeLocalURL() (*url.URL, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	defer l.Close()
	return url.Parse(fmt.Sprintf("http://%s", l.Addr().String()))
}
