// Package config 載入協調器的配置
//
// 載入順序（後者覆蓋前者）：
//
//	Default() → YAML 檔案 → .env 檔案 → 環境變數（COORDINATOR_ 前綴）
//
// 最後執行 Validate。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/koopa0/system-design/game-coordinator/internal/game"
	apperrors "github.com/koopa0/system-design/game-coordinator/pkg/errors"
)

// EnvPrefix 環境變數前綴
const EnvPrefix = "COORDINATOR_"

// 事件匯流排類型
const (
	EventsDriverNone  = "none"
	EventsDriverNATS  = "nats"
	EventsDriverRedis = "redis"
)

// Config 整個應用的配置
type Config struct {
	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	Game      GameConfig      `yaml:"game" envPrefix:"GAME_"`
	WebSocket WebSocketConfig `yaml:"websocket" envPrefix:"WS_"`
	Events    EventsConfig    `yaml:"events" envPrefix:"EVENTS_"`
	Telemetry TelemetryConfig `yaml:"telemetry" envPrefix:"OTEL_"`
	Log       LogConfig       `yaml:"log" envPrefix:"LOG_"`
}

// ServerConfig HTTP 伺服器
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// GameConfig 遊戲與協調器
type GameConfig struct {
	Type      string `yaml:"type" env:"TYPE"`
	Seed      int64  `yaml:"seed" env:"SEED"` // 0 表示每次啟動隨機產生
	InboxSize int    `yaml:"inbox_size" env:"INBOX_SIZE"`
}

// WebSocketConfig 連接與心跳
type WebSocketConfig struct {
	PingInterval   time.Duration `yaml:"ping_interval" env:"PING_INTERVAL"`
	PongWait       time.Duration `yaml:"pong_wait" env:"PONG_WAIT"`
	WriteWait      time.Duration `yaml:"write_wait" env:"WRITE_WAIT"`
	MaxMessageSize int64         `yaml:"max_message_size" env:"MAX_MESSAGE_SIZE"`
	SendBufferSize int           `yaml:"send_buffer_size" env:"SEND_BUFFER_SIZE"`
}

// EventsConfig 事件匯流排
type EventsConfig struct {
	Driver         string        `yaml:"driver" env:"DRIVER"` // none / nats / redis
	Prefix         string        `yaml:"prefix" env:"PREFIX"`
	BufferSize     int           `yaml:"buffer_size" env:"BUFFER_SIZE"`
	PublishTimeout time.Duration `yaml:"publish_timeout" env:"PUBLISH_TIMEOUT"`
	NATS           NATSConfig    `yaml:"nats" envPrefix:"NATS_"`
	Redis          RedisConfig   `yaml:"redis" envPrefix:"REDIS_"`
}

// NATSConfig NATS 連接
type NATSConfig struct {
	URL string `yaml:"url" env:"URL"`
}

// RedisConfig Redis 連接
type RedisConfig struct {
	Addr         string        `yaml:"addr" env:"ADDR"`
	Password     string        `yaml:"password" env:"PASSWORD"`
	DB           int           `yaml:"db" env:"DB"`
	PoolSize     int           `yaml:"pool_size" env:"POOL_SIZE"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
}

// TelemetryConfig OpenTelemetry 追蹤
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled" env:"ENABLED"`
	Endpoint    string  `yaml:"endpoint" env:"ENDPOINT"`
	ServiceName string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRatio float64 `yaml:"sample_ratio" env:"SAMPLE_RATIO"`
}

// LogConfig 日誌
type LogConfig struct {
	Level     string `yaml:"level" env:"LEVEL"`
	Format    string `yaml:"format" env:"FORMAT"`
	AddSource bool   `yaml:"add_source" env:"ADD_SOURCE"`
}

// Default 返回預設配置
//
// 心跳預設每 5 秒 Ping，10 秒沒有回應就斷線。
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Game: GameConfig{
			Type:      "tictactoe",
			InboxSize: 256,
		},
		WebSocket: WebSocketConfig{
			PingInterval:   5 * time.Second,
			PongWait:       10 * time.Second,
			WriteWait:      10 * time.Second,
			MaxMessageSize: 4096,
			SendBufferSize: 256,
		},
		Events: EventsConfig{
			Driver:         EventsDriverNone,
			Prefix:         "game",
			BufferSize:     1024,
			PublishTimeout: 5 * time.Second,
			NATS: NATSConfig{
				URL: "nats://localhost:4222",
			},
			Redis: RedisConfig{
				Addr:         "localhost:6379",
				PoolSize:     10,
				DialTimeout:  5 * time.Second,
				WriteTimeout: 3 * time.Second,
			},
		},
		Telemetry: TelemetryConfig{
			ServiceName: "game-coordinator",
			SampleRatio: 1.0,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load 載入配置
//
// path 與 envFile 都是可選的，空字串表示跳過。
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("讀取配置檔失敗: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析配置檔失敗: %w", err)
		}
	}

	if envFile != "" {
		// 已經存在的環境變數優先，不會被 .env 覆蓋
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("載入 .env 失敗: %w", err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("解析環境變數失敗: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 檢查配置
func (c *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, apperrors.New(apperrors.ErrCodeInvalidInput, "invalid config").
			WithDetails(fmt.Sprintf(format, args...)))
	}

	if c.Server.Addr == "" {
		invalid("server.addr is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		invalid("server.shutdown_timeout must be positive")
	}

	if !isKnownGame(c.Game.Type) {
		invalid("game.type %q is not one of %s", c.Game.Type, strings.Join(game.Names(), ", "))
	}
	if c.Game.InboxSize <= 0 {
		invalid("game.inbox_size must be positive")
	}

	if c.WebSocket.PingInterval <= 0 || c.WebSocket.PongWait <= 0 {
		invalid("websocket.ping_interval and websocket.pong_wait must be positive")
	} else if c.WebSocket.PingInterval >= c.WebSocket.PongWait {
		invalid("websocket.ping_interval (%s) must be shorter than websocket.pong_wait (%s)",
			c.WebSocket.PingInterval, c.WebSocket.PongWait)
	}
	if c.WebSocket.SendBufferSize <= 0 {
		invalid("websocket.send_buffer_size must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		invalid("websocket.max_message_size must be positive")
	}

	switch c.Events.Driver {
	case EventsDriverNone:
	case EventsDriverNATS:
		if c.Events.NATS.URL == "" {
			invalid("events.nats.url is required when driver is nats")
		}
	case EventsDriverRedis:
		if c.Events.Redis.Addr == "" {
			invalid("events.redis.addr is required when driver is redis")
		}
	default:
		invalid("events.driver %q must be none, nats or redis", c.Events.Driver)
	}
	if c.Events.Driver != EventsDriverNone && c.Events.BufferSize <= 0 {
		invalid("events.buffer_size must be positive")
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		invalid("telemetry.endpoint is required when telemetry is enabled")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		invalid("telemetry.sample_ratio must be within [0, 1]")
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		invalid("log.format %q must be text or json", c.Log.Format)
	}

	return errors.Join(errs...)
}

func isKnownGame(name string) bool {
	for _, known := range game.Names() {
		if known == name {
			return true
		}
	}
	return false
}
