package auth

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-chat/pkg/log"
	"github.com/lk2023060901/danmu-chat/pkg/util/merr"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FileStore 将凭据以 JSON 对象保存在单个文件中。
//
// 说明：
//   - 文件不存在时写入默认账号；文件损坏或格式不是对象时退回默认账号（不覆盖原文件）；
//   - 每次保存前先复制一份 <file>.bak，写入失败时从备份恢复。
type FileStore struct {
	mu    sync.Mutex
	path  string
	users map[string]string
}

var _ Store = (*FileStore)(nil)

// OpenFileStore 打开或创建 path 处的凭据文件。
func OpenFileStore(path string, cost int) (*FileStore, error) {
	s := &FileStore{path: path}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if s.users, err = hashDefaults(cost); err != nil {
			return nil, err
		}
		if err := s.save(); err != nil {
			log.Warn("create default credential file failed", zap.String("path", path), zap.Error(err))
		}
		return s, nil
	case err != nil:
		log.Warn("read credential file failed, using default accounts", zap.String("path", path), zap.Error(err))
		return s.withDefaults(cost)
	}

	users := make(map[string]string)
	if err := json.Unmarshal(data, &users); err != nil {
		log.Warn("invalid credential file, using default accounts", zap.String("path", path), zap.Error(err))
		return s.withDefaults(cost)
	}
	s.users = users
	return s, nil
}

func (s *FileStore) withDefaults(cost int) (*FileStore, error) {
	users, err := hashDefaults(cost)
	if err != nil {
		return nil, err
	}
	s.users = users
	return s, nil
}

// Path 返回凭据文件路径。
func (s *FileStore) Path() string {
	return s.path
}

// Get 实现 Store.Get。
func (s *FileStore) Get(_ context.Context, username string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hashed, ok := s.users[username]
	if !ok {
		return "", merr.WrapErrUserNotFound(username)
	}
	return hashed, nil
}

// Create 实现 Store.Create。
func (s *FileStore) Create(_ context.Context, username, hashed string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; ok {
		return merr.WrapErrUserExists(username)
	}
	s.users[username] = hashed
	if err := s.save(); err != nil {
		// 内存中保留新账号，与原文件是否写入成功无关。
		log.Warn("save credential file failed", zap.String("path", s.path), zap.Error(err))
	}
	return nil
}

// Close 实现 Store.Close。
func (s *FileStore) Close() error {
	return nil
}

// save 在持有 mu 时调用。
func (s *FileStore) save() error {
	data, err := json.MarshalIndent(s.users, "", "    ")
	if err != nil {
		return errors.Wrap(err, "encode credentials")
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return merr.WrapErrCredentialStoreIO(s.path, err)
		}
	}

	backup := s.path + ".bak"
	if prev, err := os.ReadFile(s.path); err == nil {
		if err := os.WriteFile(backup, prev, 0o600); err != nil {
			log.Debug("backup credential file failed", zap.String("path", backup), zap.Error(err))
		}
	}

	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		if prev, rerr := os.ReadFile(backup); rerr == nil {
			_ = os.WriteFile(s.path, prev, 0o600)
		}
		return merr.WrapErrCredentialStoreIO(s.path, err)
	}
	return nil
}
