package server

import (
	"net"
	"strconv"
	"time"

	"github.com/lk2023060901/danmu-chat/internal/auth"
	"github.com/lk2023060901/danmu-chat/internal/chatlog"
	"github.com/lk2023060901/danmu-chat/internal/network/framer"
	"github.com/lk2023060901/danmu-chat/internal/network/session"
	"github.com/lk2023060901/danmu-chat/pkg/util/merr"
	"github.com/lk2023060901/danmu-chat/pkg/util/viper"
)

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 55556
)

// Config 为聊天服务器的完整配置。
type Config struct {
	Host string
	Port int

	AwayTimeout      time.Duration
	InactiveTimeout  time.Duration
	SendTimeout      time.Duration
	PollInterval     time.Duration
	ShutdownGrace    time.Duration
	MaxFrameSize     int
	BroadcastWorkers int
	BindAttempts     int

	// MetricsAddr 为空表示不启动指标端点。
	MetricsAddr string
	// Announce 为 true 且凭据存储为 etcd 时，在 etcd 中登记本实例。
	Announce    bool

	Auth    auth.Config
	ChatLog chatlog.Config
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		Host:             DefaultHost,
		Port:             DefaultPort,
		AwayTimeout:      session.DefaultAwayTimeout,
		InactiveTimeout:  session.DefaultInactiveTimeout,
		SendTimeout:      time.Second,
		PollInterval:     time.Second,
		ShutdownGrace:    time.Second,
		MaxFrameSize:     int(framer.DefaultMaxFrameSize),
		BroadcastWorkers: 64,
		BindAttempts:     3,
		Auth:             auth.DefaultConfig(),
		ChatLog:          chatlog.DefaultConfig(),
	}
}

// Addr 返回监听地址 host:port。
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate 检查配置取值。
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return merr.WrapErrParameterInvalidRange(0, 65535, c.Port, "server.port")
	}
	if c.AwayTimeout <= 0 || c.InactiveTimeout < c.AwayTimeout {
		return merr.WrapErrParameterInvalidMsg("invalid status thresholds away=%s inactive=%s", c.AwayTimeout, c.InactiveTimeout)
	}
	if c.SendTimeout <= 0 {
		return merr.WrapErrParameterInvalidMsg("server.send_timeout must be positive")
	}
	return nil
}

// SetDefaults 将所有配置项的默认值注册到 v，使环境变量覆盖对每个键都生效。
func SetDefaults(v *viper.Config) {
	def := DefaultConfig()
	v.SetDefault("server.host", def.Host)
	v.SetDefault("server.port", def.Port)
	v.SetDefault("server.away_timeout", def.AwayTimeout)
	v.SetDefault("server.inactive_timeout", def.InactiveTimeout)
	v.SetDefault("server.send_timeout", def.SendTimeout)
	v.SetDefault("server.poll_interval", def.PollInterval)
	v.SetDefault("server.shutdown_grace", def.ShutdownGrace)
	v.SetDefault("server.handshake_timeout", def.Auth.HandshakeTimeout)
	v.SetDefault("server.max_frame_size", def.MaxFrameSize)
	v.SetDefault("server.broadcast_workers", def.BroadcastWorkers)
	v.SetDefault("server.bind_attempts", def.BindAttempts)
	v.SetDefault("server.announce", def.Announce)

	v.SetDefault("auth.store", def.Auth.Store)
	v.SetDefault("auth.file", def.Auth.File)
	v.SetDefault("auth.cost", def.Auth.Cost)
	v.SetDefault("auth.etcd.endpoints", []string{})
	v.SetDefault("auth.etcd.prefix", def.Auth.Etcd.Prefix)
	v.SetDefault("auth.etcd.embed", def.Auth.Etcd.Embed)
	v.SetDefault("auth.etcd.data_dir", def.Auth.Etcd.DataDir)
	v.SetDefault("auth.redis.addr", def.Auth.Redis.Addr)
	v.SetDefault("auth.redis.prefix", def.Auth.Redis.Prefix)

	v.SetDefault("chatlog.dir", def.ChatLog.Dir)
	v.SetDefault("chatlog.max_size", def.ChatLog.MaxSize)
	v.SetDefault("chatlog.max_backups", def.ChatLog.MaxBackups)
	v.SetDefault("chatlog.max_days", def.ChatLog.MaxDays)
	v.SetDefault("chatlog.disabled", def.ChatLog.Disabled)

	v.SetDefault("metrics.addr", def.MetricsAddr)
}

// LoadConfig 从 v 中读取配置，调用前应先执行 SetDefaults。
func LoadConfig(v *viper.Config) (Config, error) {
	cfg := Config{
		Host:             v.GetString("server.host"),
		Port:             v.GetInt("server.port"),
		AwayTimeout:      v.GetDuration("server.away_timeout"),
		InactiveTimeout:  v.GetDuration("server.inactive_timeout"),
		SendTimeout:      v.GetDuration("server.send_timeout"),
		PollInterval:     v.GetDuration("server.poll_interval"),
		ShutdownGrace:    v.GetDuration("server.shutdown_grace"),
		MaxFrameSize:     v.GetInt("server.max_frame_size"),
		BroadcastWorkers: v.GetInt("server.broadcast_workers"),
		BindAttempts:     v.GetInt("server.bind_attempts"),
		MetricsAddr:      v.GetString("metrics.addr"),
		Announce:         v.GetBool("server.announce"),
		Auth: auth.Config{
			Store: v.GetString("auth.store"),
			File:  v.GetString("auth.file"),
			Cost:  v.GetInt("auth.cost"),
			Etcd: auth.EtcdConfig{
				Endpoints: v.GetStringSlice("auth.etcd.endpoints"),
				Prefix:    v.GetString("auth.etcd.prefix"),
				Embed:     v.GetBool("auth.etcd.embed"),
				DataDir:   v.GetString("auth.etcd.data_dir"),
			},
			Redis: auth.RedisConfig{
				Addr:   v.GetString("auth.redis.addr"),
				Prefix: v.GetString("auth.redis.prefix"),
			},
			HandshakeTimeout: v.GetDuration("server.handshake_timeout"),
		},
		ChatLog: chatlog.Config{
			Dir:        v.GetString("chatlog.dir"),
			MaxSize:    v.GetInt("chatlog.max_size"),
			MaxBackups: v.GetInt("chatlog.max_backups"),
			MaxDays:    v.GetInt("chatlog.max_days"),
			Disabled:   v.GetBool("chatlog.disabled"),
		},
	}
	return cfg, cfg.Validate()
}
