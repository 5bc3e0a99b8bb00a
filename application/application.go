package application

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-chat/internal/chat/server"
	zlog "github.com/lk2023060901/danmu-chat/pkg/log"
	zviper "github.com/lk2023060901/danmu-chat/pkg/util/viper"
)

// DefaultConfigPath 为未显式指定时尝试加载的配置文件，不存在时使用默认值。
const DefaultConfigPath = "./config.yaml"

// Application 是聊天服务进程的运行时容器，负责配置与日志的初始化。
type Application struct {
	configPath string
	cfg        *zviper.Config
	loggers    map[string]*zlog.MLogger
}

// New 创建 Application。configPath 为空时依次尝试 CHAT_CONFIG_FILE_PATH 与 ./config.yaml。
func New(configPath string) *Application {
	return &Application{configPath: configPath}
}

// Init 加载配置并初始化日志。
//
// 配置文件优先级：
//  1. 参数 configPath（命令行 --config），文件必须存在；
//  2. 环境变量 CHAT_CONFIG_FILE_PATH，文件必须存在；
//  3. ./config.yaml，不存在时忽略。
//
// 任意配置项都可被 CHAT_ 前缀的环境变量覆盖，例如 CHAT_SERVER_PORT。
func (a *Application) Init() error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	a.cfg = cfg
	return a.initLogging()
}

// Config 返回已加载的配置，Init 之前为 nil。
func (a *Application) Config() *zviper.Config {
	return a.cfg
}

// Logger 返回 logging 段中配置的命名日志，未配置时回退到全局日志。
func (a *Application) Logger(name string) *zlog.MLogger {
	if lg, ok := a.loggers[name]; ok && lg != nil {
		return lg
	}
	return &zlog.MLogger{Logger: zlog.L()}
}

// moduleLogger 返回 logging 段中配置的命名日志并附带 module 字段，未配置时返回 nil，
// 由调用方回退到全局日志。
func (a *Application) moduleLogger(name string) *zlog.MLogger {
	lg, ok := a.loggers[name]
	if !ok || lg == nil {
		return nil
	}
	return lg.With(zlog.FieldModule(name))
}

// ServerConfig 从已加载的配置中解析服务器配置。
func (a *Application) ServerConfig() (server.Config, error) {
	if a.cfg == nil {
		return server.Config{}, errors.New("application not initialized")
	}
	return server.LoadConfig(a.cfg)
}

// Serve 启动聊天服务器并阻塞，直到收到 SIGINT/SIGTERM 或 ctx 取消后完成关闭流程。
func (a *Application) Serve(ctx context.Context, cfg server.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	lg := a.Logger("server")
	srv, err := server.New(ctx, cfg, server.WithLoggers(a.moduleLogger))
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		srv.Shutdown(context.Background())
		return err
	}
	lg.Info("chat server listening", zap.Stringer("addr", srv.Addr()))

	err = srv.Run(ctx)
	_ = zlog.Sync()
	return err
}

// loadConfig 按优先级解析配置文件路径并加载。
func (a *Application) loadConfig() (*zviper.Config, error) {
	cfg := zviper.New()
	server.SetDefaults(cfg)

	path := a.configPath
	if path == "" {
		path = getenvDefault("CHAT_CONFIG_FILE_PATH", "")
	}
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if _, err := cfg.LoadOptionalFile(DefaultConfigPath); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (a *Application) initLogging() error {
	if err := a.initGlobalLoggerFromEnv(); err != nil {
		return err
	}
	return a.initModuleLoggersFromConfig()
}

// initGlobalLoggerFromEnv 根据 CHAT_LOG_* 环境变量配置进程级日志。
//
//   - CHAT_LOG_ENABLE: 是否输出日志，默认开启。
//   - CHAT_LOG_LEVEL: 日志级别，默认 info。
//   - CHAT_LOG_STDOUT: 是否输出到标准输出，默认开启。
//   - CHAT_LOG_FILE_DIR: 日志目录。
//   - CHAT_LOG_FILE: 日志文件名，为空表示不写文件。
//   - CHAT_LOG_FORMAT: text 或 json，默认 text。
func (a *Application) initGlobalLoggerFromEnv() error {
	cfg := &zlog.Config{
		Level:  getenvDefault("CHAT_LOG_LEVEL", "info"),
		Format: getenvDefault("CHAT_LOG_FORMAT", "text"),
		Stdout: getenvBool("CHAT_LOG_STDOUT", true),
		File: zlog.FileLogConfig{
			RootPath: getenvDefault("CHAT_LOG_FILE_DIR", ""),
			Filename: getenvDefault("CHAT_LOG_FILE", ""),
		},
	}
	if !getenvBool("CHAT_LOG_ENABLE", true) {
		cfg.Stdout = false
		cfg.File.Filename = ""
	}

	logger, props, err := zlog.InitLogger(cfg)
	if err != nil {
		return errors.Wrap(err, "init global logger from env")
	}
	zlog.ReplaceGlobals(logger, props)
	return nil
}

// initModuleLoggersFromConfig 根据 logging 段创建命名日志，例如：
//
//	logging:
//	  server:
//	    level: debug
//	    stdout: true
//	    file:
//	      rootpath: ./logs
//	      filename: server.log
func (a *Application) initModuleLoggersFromConfig() error {
	raw := make(map[string]zlog.Config)
	if err := a.cfg.UnmarshalKey("logging", &raw); err != nil {
		return errors.Wrap(err, "unmarshal logging section")
	}
	if len(raw) == 0 {
		return nil
	}

	a.loggers = make(map[string]*zlog.MLogger, len(raw))
	for name, lc := range raw {
		cfgCopy := lc
		logger, _, err := zlog.InitLogger(&cfgCopy)
		if err != nil {
			return errors.Wrapf(err, "init module logger %q", name)
		}
		a.loggers[name] = &zlog.MLogger{Logger: logger}
	}
	return nil
}

func getenvDefault(key, def string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	return val
}

func getenvBool(key string, def bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
