package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/danmu-chat/pkg/util/merr"
	"github.com/lk2023060901/danmu-chat/pkg/util/viper"
)

func TestLoadConfigDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadConfig(v)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:55556", cfg.Addr())
	assert.Equal(t, 60*time.Second, cfg.AwayTimeout)
	assert.Equal(t, 300*time.Second, cfg.InactiveTimeout)
	assert.Equal(t, time.Second, cfg.SendTimeout)
	assert.Equal(t, 30*time.Second, cfg.Auth.HandshakeTimeout)
	assert.Equal(t, 64*1024, cfg.MaxFrameSize)
	assert.Equal(t, "file", cfg.Auth.Store)
	assert.Equal(t, "logs", cfg.ChatLog.Dir)
	assert.Empty(t, cfg.MetricsAddr)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("CHAT_SERVER_PORT", "6000")
	t.Setenv("CHAT_SERVER_AWAY_TIMEOUT", "2m")
	t.Setenv("CHAT_AUTH_STORE", "redis")

	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, 6000, cfg.Port)
	assert.Equal(t, 2*time.Minute, cfg.AwayTimeout)
	assert.Equal(t, "redis", cfg.Auth.Store)
}

func TestLoadConfigExplicitSet(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("server.host", "0.0.0.0")
	v.Set("server.port", 7000)
	cfg, err := LoadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:7000", cfg.Addr())
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = 70000
	assert.ErrorIs(t, cfg.Validate(), merr.ErrParameterInvalid)

	cfg = DefaultConfig()
	cfg.InactiveTimeout = time.Second
	assert.ErrorIs(t, cfg.Validate(), merr.ErrParameterInvalid)
}
