package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации сервиса реплеев.
type Config struct {
	Recording  RecordingConfig  `yaml:"recording"`
	Highlights HighlightsConfig `yaml:"highlights"`
	Playback   PlaybackConfig   `yaml:"playback"`
	Storage    StorageConfig    `yaml:"storage"`
	Cache      CacheConfig      `yaml:"cache"`
	EventBus   EventBusConfig   `yaml:"eventbus"`
	Server     ServerConfig     `yaml:"server"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type RecordingConfig struct {
	MaxEvents        int     `yaml:"max_events"`
	MoveThreshold    float64 `yaml:"move_threshold"`
	SampleIntervalMs int     `yaml:"sample_interval_ms"`
}

type HighlightsConfig struct {
	StreakWindowSeconds    float64 `yaml:"streak_window_seconds"`
	MinStreak              int     `yaml:"min_streak"`
	MassiveDamageThreshold float64 `yaml:"massive_damage_threshold"`
	CriticalAbility        string  `yaml:"critical_ability"`
}

type PlaybackConfig struct {
	DefaultSpeed float64 `yaml:"default_speed"`
	MinSpeed     float64 `yaml:"min_speed"`
	MaxSpeed     float64 `yaml:"max_speed"`
}

type StorageConfig struct {
	Backend    string      `yaml:"backend"` // memory | badger | mongo | maria
	BadgerPath string      `yaml:"badger_path"`
	Mongo      MongoConfig `yaml:"mongo"`
	Maria      MariaConfig `yaml:"maria"`
}

type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

type MariaConfig struct {
	DSN string `yaml:"dsn"`
}

type CacheConfig struct {
	Backend       string `yaml:"backend"` // local | redis
	MaxEntries    int    `yaml:"max_entries"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	KeyPrefix     string `yaml:"key_prefix"`
}

type EventBusConfig struct {
	URL       string          `yaml:"url"` // пусто: in-memory шина
	Stream    string          `yaml:"stream"`
	Retention int             `yaml:"retention_hours"`
	Buffer    int             `yaml:"buffer"`
	Webhooks  []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig исходящий webhook, получающий конверты шины
type WebhookConfig struct {
	Name       string   `yaml:"name"`
	URL        string   `yaml:"url"`
	Secret     string   `yaml:"secret"`
	Events     []string `yaml:"events"` // "*": все типы
	TimeoutSec int      `yaml:"timeout_sec"`
	RetryCount int      `yaml:"retry_count"`
}

type ServerConfig struct {
	RESTPort    int `yaml:"rest_port"`
	MetricsPort int `yaml:"metrics_port"`
}

type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Endpoint    string  `yaml:"endpoint"` // host:port OTLP HTTP, пусто: localhost:4318
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Dir    string `yaml:"dir"`
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults заполняет незаданные поля значениями по умолчанию
func (c *Config) ApplyDefaults() {
	if c.Recording.MaxEvents <= 0 {
		c.Recording.MaxEvents = 10000
	}
	if c.Recording.MoveThreshold <= 0 {
		c.Recording.MoveThreshold = 0.5
	}
	if c.Recording.SampleIntervalMs <= 0 {
		c.Recording.SampleIntervalMs = 250
	}

	if c.Highlights.StreakWindowSeconds <= 0 {
		c.Highlights.StreakWindowSeconds = 2.0
	}
	if c.Highlights.MinStreak <= 0 {
		c.Highlights.MinStreak = 3
	}
	if c.Highlights.MassiveDamageThreshold <= 0 {
		c.Highlights.MassiveDamageThreshold = 100
	}
	if c.Highlights.CriticalAbility == "" {
		c.Highlights.CriticalAbility = "Critical"
	}

	if c.Playback.DefaultSpeed <= 0 {
		c.Playback.DefaultSpeed = 1
	}
	if c.Playback.MinSpeed <= 0 {
		c.Playback.MinSpeed = 0.1
	}
	if c.Playback.MaxSpeed <= 0 {
		c.Playback.MaxSpeed = 8
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = getStringWithEnvFallback("", "REPLAY_STORAGE", "badger")
	}
	if c.Storage.BadgerPath == "" {
		c.Storage.BadgerPath = getStringWithEnvFallback("", "REPLAY_BADGER_PATH", "data/replays")
	}
	if c.Storage.Mongo.URI == "" {
		c.Storage.Mongo.URI = getStringWithEnvFallback("", "REPLAY_MONGO_URI", "mongodb://localhost:27017")
	}
	if c.Storage.Mongo.Database == "" {
		c.Storage.Mongo.Database = "blockverse"
	}
	if c.Storage.Mongo.Collection == "" {
		c.Storage.Mongo.Collection = "battle_replays"
	}
	if c.Storage.Maria.DSN == "" {
		c.Storage.Maria.DSN = os.Getenv("REPLAY_MARIA_DSN")
	}

	if c.Cache.Backend == "" {
		c.Cache.Backend = "local"
	}
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = 20
	}
	if c.Cache.RedisAddr == "" {
		c.Cache.RedisAddr = getStringWithEnvFallback("", "REPLAY_REDIS_ADDR", "localhost:6379")
	}
	if c.Cache.KeyPrefix == "" {
		c.Cache.KeyPrefix = "replay:cache:"
	}

	if c.EventBus.URL == "" {
		c.EventBus.URL = os.Getenv("REPLAY_NATS_URL")
	}
	if c.EventBus.Stream == "" {
		c.EventBus.Stream = "BATTLES"
	}
	if c.EventBus.Retention <= 0 {
		c.EventBus.Retention = 24
	}
	if c.EventBus.Buffer <= 0 {
		c.EventBus.Buffer = 1024
	}

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "battle-replay"
	}
	if c.Telemetry.Endpoint == "" {
		c.Telemetry.Endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT_HOST")
	}
	if c.Telemetry.SampleRatio <= 0 || c.Telemetry.SampleRatio > 1 {
		c.Telemetry.SampleRatio = 1
	}
	if c.Auth.JWTSecret == "" {
		c.Auth.JWTSecret = os.Getenv("REPLAY_JWT_SECRET")
	}

	if c.Logging.Level == "" {
		c.Logging.Level = getStringWithEnvFallback("", "LOG_LEVEL", "info")
	}
	if c.Logging.Format == "" {
		c.Logging.Format = getStringWithEnvFallback("", "LOG_FORMAT", "text")
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
}

// SampleInterval возвращает период семплирования позиций
func (r RecordingConfig) SampleInterval() time.Duration {
	return time.Duration(r.SampleIntervalMs) * time.Millisecond
}

// RetentionDuration возвращает срок хранения стрима JetStream
func (e EventBusConfig) RetentionDuration() time.Duration {
	return time.Duration(e.Retention) * time.Hour
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "REPLAY_REST_PORT", 8090)
}

// GetMetricsPort возвращает Prometheus метрики порт с поддержкой fallback значений
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "REPLAY_METRICS_PORT", 2113)
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

// getStringWithEnvFallback возвращает строку с приоритетом: config -> env -> default
func getStringWithEnvFallback(configVal, envVar, defaultVal string) string {
	if configVal != "" {
		return configVal
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		return envVal
	}
	return defaultVal
}

// Load читает YAML файл конфигурации и применяет значения по умолчанию.
// Если path == "", пытается прочитать путь из ENV REPLAY_CONFIG; без файла возвращает Default().
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("REPLAY_CONFIG")
		if path == "" {
			return Default(), nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}
