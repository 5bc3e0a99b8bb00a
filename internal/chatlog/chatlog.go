package chatlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/lk2023060901/danmu-chat/pkg/log"
	"github.com/lk2023060901/danmu-chat/pkg/metrics"
)

const timestampLayout = "2006-01-02 15:04:05"

// Sink 是追加式的聊天日志。
//
// 写入是尽力而为的：任何失败只记录到进程日志和指标中，不会返回给调用方。
type Sink interface {
	Append(line string)
}

// Config 描述聊天日志文件的位置与轮转策略。
type Config struct {
	Dir        string `mapstructure:"dir"`
	MaxSize    int    `mapstructure:"max_size"` // 单位 MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxDays    int    `mapstructure:"max_days"`
	Disabled   bool   `mapstructure:"disabled"`
}

// DefaultConfig 返回默认配置：logs 目录，单文件 100MB。
func DefaultConfig() Config {
	return Config{
		Dir:     "logs",
		MaxSize: 100,
	}
}

// FileSink 将带时间戳的行写入 chat_log_YYYYMMDD.txt，文件名在打开时按当天日期确定。
type FileSink struct {
	mu  sync.Mutex
	w   *lumberjack.Logger
	now func() time.Time
}

var _ Sink = (*FileSink)(nil)

// FileName 返回 t 当天对应的日志文件名。
func FileName(t time.Time) string {
	return fmt.Sprintf("chat_log_%s.txt", t.Format("20060102"))
}

// Open 根据配置创建聊天日志；Disabled 为 true 时返回 Discard。
func Open(cfg Config) (Sink, error) {
	if cfg.Disabled {
		return Discard, nil
	}
	return NewFileSink(cfg, time.Now)
}

// NewFileSink 创建文件日志，now 用于生成时间戳与文件名。
func NewFileSink(cfg Config, now func() time.Time) (*FileSink, error) {
	if cfg.Dir == "" {
		cfg.Dir = DefaultConfig().Dir
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create chat log dir %s", cfg.Dir)
	}
	if now == nil {
		now = time.Now
	}
	return &FileSink{
		w: &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, FileName(now())),
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxDays,
			LocalTime:  true,
		},
		now: now,
	}, nil
}

// Append 实现 Sink.Append。
func (s *FileSink) Append(line string) {
	entry := fmt.Sprintf("[%s] %s\n", s.now().Format(timestampLayout), line)

	s.mu.Lock()
	n, err := s.w.Write([]byte(entry))
	s.mu.Unlock()

	if err != nil {
		metrics.ChatLogWriteFailures.Inc()
		log.With(log.FieldComponent("chatlog")).RatedWarn(1, "write chat log failed",
			zap.String("file", s.w.Filename), zap.Error(err))
		return
	}
	metrics.ChatLogWrittenLines.Inc()
	metrics.ChatLogWrittenBytes.Add(float64(n))
}

// Path 返回当前日志文件路径。
func (s *FileSink) Path() string {
	return s.w.Filename
}

// Close 关闭底层文件。
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Close()
}

type discard struct{}

func (discard) Append(string) {}

// Discard 丢弃所有写入。
var Discard Sink = discard{}
