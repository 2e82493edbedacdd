package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"chessboards/meta"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("defaults without a file", func(t *testing.T) {
		t.Setenv("BOARD_URL", "")
		t.Setenv("BOARD_LOG_LEVEL", "")
		cfg, err := Load("")
		require.NoError(t, err)
		require.Equal(t, meta.VIEWPORT_LENGTH, cfg.ViewportLength)
		require.Equal(t, int(meta.MOVE_TIMEOUT/time.Millisecond), cfg.MoveTimeoutMs)
		require.Equal(t, "ws://localhost:8080/ws", cfg.URL)
	})

	t.Run("file overrides defaults and env overrides the file", func(t *testing.T) {
		path := writeConfig(t, `{
			"url": "ws://file/ws",
			"log_level": "warn",
			"viewport_length": 21,
			"connection": {"max_rate": 3, "disable_reconnect": true}
		}`)
		t.Setenv("BOARD_URL", "ws://env/ws")
		t.Setenv("BOARD_LOG_LEVEL", "")

		cfg, err := Load(path)
		require.NoError(t, err)
		require.Equal(t, "ws://env/ws", cfg.URL)
		require.Equal(t, 21, cfg.ViewportLength)
		require.Equal(t, 3, cfg.Connection.MaxRate)
		require.True(t, cfg.Connection.DisableReconnect)

		level, err := cfg.Level()
		require.NoError(t, err)
		require.Equal(t, zerolog.WarnLevel, level)
		require.NotEmpty(t, cfg.ConnectionOptions())
		require.Len(t, cfg.EngineOptions(), 3)
	})

	t.Run("invalid values are reported", func(t *testing.T) {
		t.Setenv("BOARD_LOG_LEVEL", "")
		_, err := Load(writeConfig(t, `{"viewport_length": 94}`))
		require.Error(t, err)

		_, err = Load(writeConfig(t, `{"log_level": "loud"}`))
		require.Error(t, err)

		_, err = Load(writeConfig(t, `{`))
		require.Error(t, err)

		_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
		require.ErrorIs(t, err, os.ErrNotExist)
	})
}
