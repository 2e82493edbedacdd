package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"chessboards/communication/client"
	"chessboards/engine"
	"chessboards/meta"

	"github.com/rs/zerolog"
)

// Config holds the client and demo server settings.
type Config struct {
	URL            string           `json:"url"`
	LogLevel       string           `json:"log_level"`
	ViewportLength int              `json:"viewport_length"`
	MoveTimeoutMs  int              `json:"move_timeout_ms"`
	DumpDir        string           `json:"dump_dir"`
	Connection     ConnectionConfig `json:"connection"`
	Server         ServerConfig     `json:"server"`
}

// ConnectionConfig tunes the websocket connection. Zero values keep the built-in defaults.
type ConnectionConfig struct {
	MaxConnections       int  `json:"max_connections"`
	MaxRate              int  `json:"max_rate"`
	DisableReconnect     bool `json:"disable_reconnect"`
	MaxReconnectAttempts int  `json:"max_reconnect_attempts"`
	ReconnectBaseMs      int  `json:"reconnect_base_ms"`
	ReconnectMaxMs       int  `json:"reconnect_max_ms"`
	HeartbeatIntervalMs  int  `json:"heartbeat_interval_ms"`
	PongTimeoutMs        int  `json:"pong_timeout_ms"`
	DisableRetry         bool `json:"disable_retry"`
	MaxRetries           int  `json:"max_retries"`
	RetryBaseMs          int  `json:"retry_base_ms"`
}

// ServerConfig configures the in-process board server.
type ServerConfig struct {
	Addr     string `json:"addr"`
	Compress bool   `json:"compress"`
	StartX   int    `json:"start_x"`
	StartY   int    `json:"start_y"`
}

func defaults() *Config {
	return &Config{
		URL:            "ws://localhost:8080/ws",
		LogLevel:       "info",
		ViewportLength: meta.VIEWPORT_LENGTH,
		MoveTimeoutMs:  int(meta.MOVE_TIMEOUT / time.Millisecond),
		DumpDir:        "dumps",
		Server: ServerConfig{
			Addr:   ":8080",
			StartX: meta.BOARD_SIZE / 2,
			StartY: meta.BOARD_SIZE / 2,
		},
	}
}

// Load reads the JSON file at path over the defaults, then applies BOARD_URL,
// BOARD_LOG_LEVEL and BOARD_SERVER_ADDR. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if url := os.Getenv("BOARD_URL"); url != "" {
		cfg.URL = url
	}
	if level := os.Getenv("BOARD_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if addr := os.Getenv("BOARD_SERVER_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}

	if cfg.ViewportLength <= 0 || cfg.ViewportLength%2 == 0 {
		return nil, fmt.Errorf("viewport_length must be a positive odd number, got %d", cfg.ViewportLength)
	}
	if _, err := cfg.Level(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Level() (zerolog.Level, error) {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("failed to parse log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// ConnectionOptions turns the connection section into client options.
func (c *Config) ConnectionOptions() []client.Option {
	cc := c.Connection
	options := []client.Option{
		client.WithAutoReconnect(!cc.DisableReconnect),
		client.WithReconnect(cc.MaxReconnectAttempts, ms(cc.ReconnectBaseMs), ms(cc.ReconnectMaxMs)),
		client.WithRetry(!cc.DisableRetry, cc.MaxRetries, ms(cc.RetryBaseMs)),
		client.WithMaxConnections(cc.MaxConnections),
	}
	if cc.MaxRate > 0 {
		options = append(options, client.WithMaxRate(cc.MaxRate))
	}
	if cc.HeartbeatIntervalMs > 0 {
		options = append(options, client.WithHeartbeat(ms(cc.HeartbeatIntervalMs), ms(cc.PongTimeoutMs)))
	}
	return options
}

// EngineOptions returns the engine options for this config, including the connection ones.
func (c *Config) EngineOptions() []engine.Option {
	return []engine.Option{
		engine.WithViewportLength(c.ViewportLength),
		engine.WithMoveTimeout(ms(c.MoveTimeoutMs)),
		engine.WithConnectionOptions(c.ConnectionOptions()...),
	}
}
