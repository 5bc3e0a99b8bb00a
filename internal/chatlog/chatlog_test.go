package chatlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSink(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	now := time.Date(2024, 5, 1, 9, 30, 15, 0, time.Local)

	sink, err := NewFileSink(Config{Dir: dir, MaxSize: 1}, func() time.Time { return now })
	require.NoError(t, err)
	defer sink.Close()

	sink.Append("alice: hello")
	sink.Append("bob has disconnected.")

	assert.Equal(t, filepath.Join(dir, "chat_log_20240501.txt"), sink.Path())
	data, err := os.ReadFile(sink.Path())
	require.NoError(t, err)
	assert.Equal(t,
		"[2024-05-01 09:30:15] alice: hello\n[2024-05-01 09:30:15] bob has disconnected.\n",
		string(data))
}

func TestOpenDisabled(t *testing.T) {
	sink, err := Open(Config{Disabled: true})
	require.NoError(t, err)
	assert.Equal(t, Discard, sink)
	sink.Append("ignored")
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "chat_log_20231231.txt", FileName(time.Date(2023, 12, 31, 23, 59, 0, 0, time.UTC)))
}
