// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/scalpel-replay/internal/config"
)

// syncBuffer is a goroutine-safe WriteSyncer for capturing output.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Sync() error { return nil }

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestInitialize(t *testing.T) {
	t.Run("console output with colored level and component name", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)

		out := &syncBuffer{}
		Initialize(config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "replay",
			Colors:      config.ColorConfig{Info: "green"},
		}, out)

		GetLogger().Named("scheduler").Info("Flow finished.", zap.String("flow_id", "login"))
		Sync()

		line := out.String()
		assert.Contains(t, line, colorGreen+"INFO"+colorReset)
		assert.Contains(t, line, "replay.scheduler.")
		assert.Contains(t, line, "Flow finished.")
		assert.Contains(t, line, `"flow_id": "login"`)
	})

	t.Run("json output respects the level", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)

		out := &syncBuffer{}
		Initialize(config.LoggerConfig{Level: "warn", Format: "json", ServiceName: "replay"}, out)

		GetLogger().Info("hidden")
		GetLogger().Warn("shown", zap.Int("attempt", 2))

		lines := strings.Split(strings.TrimSpace(out.String()), "\n")
		require.Len(t, lines, 1)
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "shown", entry["msg"])
		assert.Equal(t, "replay", entry["logger"])
		assert.EqualValues(t, 2, entry["attempt"])
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)

		out := &syncBuffer{}
		Initialize(config.LoggerConfig{Level: "chatty", Format: "json"}, out)
		GetLogger().Debug("dropped")
		GetLogger().Info("kept")
		assert.NotContains(t, out.String(), "dropped")
		assert.Contains(t, out.String(), "kept")
	})

	t.Run("initializes only once", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)

		first, second := &syncBuffer{}, &syncBuffer{}
		Initialize(config.LoggerConfig{Level: "info", Format: "json"}, first)
		Initialize(config.LoggerConfig{Level: "info", Format: "json"}, second)
		GetLogger().Info("once")
		assert.Contains(t, first.String(), "once")
		assert.Empty(t, second.String())
	})

	t.Run("log file receives json entries", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)

		path := filepath.Join(t.TempDir(), "replay.log")
		Initialize(config.LoggerConfig{Level: "info", Format: "console", LogFile: path, MaxSize: 1}, zapcore.AddSync(&syncBuffer{}))
		GetLogger().Info("to file")
		Sync()

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"msg":"to file"`)
	})
}

func TestGetLogger(t *testing.T) {
	t.Run("falls back before initialization", func(t *testing.T) {
		ResetForTest()
		logger := GetLogger()
		require.NotNil(t, logger)
		assert.Nil(t, globalLogger.Load(), "the fallback is not stored")
	})

	t.Run("returns the initialized instance", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		Initialize(config.LoggerConfig{Level: "info", Format: "json"}, &syncBuffer{})
		assert.Same(t, globalLogger.Load(), GetLogger())
	})
}
