// Copyright 2019 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInitLoggerLevel(t *testing.T) {
	lg, props, err := InitLogger(&Config{Level: "warn"})
	require.NoError(t, err)
	require.NotNil(t, lg)
	assert.Equal(t, zapcore.WarnLevel, props.Level.Level())

	_, props, err = InitLogger(&Config{Level: "trace"})
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, props.Level.Level())

	_, _, err = InitLogger(&Config{Level: "loud"})
	assert.Error(t, err)
}

func TestInitLoggerFile(t *testing.T) {
	dir := t.TempDir()
	lg, _, err := InitLogger(&Config{
		Level: "info",
		File:  FileLogConfig{RootPath: dir, Filename: "chat.log"},
	})
	require.NoError(t, err)
	lg.Info("hello file")
	require.NoError(t, lg.Sync())

	data, err := os.ReadFile(filepath.Join(dir, "chat.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello file")

	_, _, err = InitLogger(&Config{File: FileLogConfig{RootPath: dir, Filename: "."}})
	assert.Error(t, err)
}

func TestBinderFallback(t *testing.T) {
	var b Binder
	assert.NotNil(t, b.Logger())

	lg, _, err := InitTestLogger(t, &Config{Level: "debug"})
	require.NoError(t, err)
	custom := &MLogger{Logger: lg}
	b.SetLogger(custom)
	assert.Same(t, custom, b.Logger())
}

func TestContextFields(t *testing.T) {
	assert.NotNil(t, Ctx(context.Background()))

	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithModule(ctx, "router")
	first := Ctx(ctx)
	assert.Same(t, first, Ctx(ctx))

	ctx2 := WithFields(ctx, zap.String("user", "alice"))
	assert.NotSame(t, first, Ctx(ctx2))
}

func TestRateLimiterDefaultsToNop(t *testing.T) {
	assert.True(t, R().CheckCredit(1000))
	assert.True(t, getenvBool("CHAT_LOG_TEST_UNSET", true))
	t.Setenv("CHAT_LOG_TEST_FLOAT", "2.5")
	assert.Equal(t, 2.5, getenvFloat("CHAT_LOG_TEST_FLOAT", 1))
	assert.Equal(t, 1.0, getenvFloat("CHAT_LOG_TEST_UNSET", 1))
}
