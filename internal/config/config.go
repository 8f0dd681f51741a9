package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	BusDriverRedis = "redis"
	BusDriverKafka = "kafka"

	AuthModeHTTP = "http"
	AuthModeJWT  = "jwt"
	AuthModeNone = "none"

	OverflowDropOldest = "drop_oldest"
	OverflowDisconnect = "disconnect"
)

type Config struct {
	App       AppConfig
	Server    ServerConfig
	Bus       BusConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Auth      AuthConfig
	WebSocket WebSocketConfig
}

var (
	ConfigInstance *Config
	loadErr        error
	once           sync.Once
)

type AppConfig struct {
	Name      string
	Version   string
	Env       string
	LogLevel  string
	LogFormat string
}

type ServerConfig struct {
	Host              string
	Port              string
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%s", s.Host, s.Port)
}

type BusConfig struct {
	Driver        string
	TopicPrefixes []string
}

type RedisConfig struct {
	Host        string
	Port        string
	Password    string
	DB          int
	Patterns    []string
	DialTimeout time.Duration
	PoolSize    int
}

type KafkaConfig struct {
	Brokers []string
	Topics  []string
	GroupID string
}

type AuthConfig struct {
	Mode      string
	APIURL    string
	Timeout   time.Duration
	FailOpen  bool
	JWTSecret string
}

type WebSocketConfig struct {
	HeartbeatInterval time.Duration
	SendQueueSize     int
	OverflowPolicy    string
	MaxMessageSize    int64
	RateLimit         float64
	RateBurst         int
	AllowedOrigins    []string
	// UpgradeLimit caps upgrade requests per client IP within UpgradeWindow;
	// zero disables the check.
	UpgradeLimit      int
	UpgradeWindow     time.Duration
}

// SetDefaults registers every key the service reads, so env lookups and
// bound flags resolve against a known key set.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("APP_NAME", "ChatApp WebSocket Server")
	v.SetDefault("APP_VERSION", "1.0.0")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "")

	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", "3001")
	v.SetDefault("READ_HEADER_TIMEOUT", "10s")
	v.SetDefault("IDLE_TIMEOUT", "60s")
	v.SetDefault("SHUTDOWN_TIMEOUT", "5s")

	v.SetDefault("BUS_DRIVER", BusDriverRedis)
	v.SetDefault("TOPIC_PREFIXES", "laravel-database-")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_PATTERN", "*")
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_POOL_SIZE", 10)

	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_TOPICS", "")
	v.SetDefault("KAFKA_GROUP_ID", "relay-service")

	v.SetDefault("AUTH_MODE", AuthModeHTTP)
	v.SetDefault("AUTH_API_URL", "")
	v.SetDefault("LARAVEL_API_URL", "http://localhost:8080/chatappAPI")
	v.SetDefault("AUTH_API_TIMEOUT", "5000")
	v.SetDefault("AUTH_FAIL_OPEN", true)
	v.SetDefault("AUTH_JWT_SECRET", "")

	v.SetDefault("HEARTBEAT_INTERVAL", "30s")
	v.SetDefault("SEND_QUEUE_SIZE", 256)
	v.SetDefault("SEND_OVERFLOW_POLICY", OverflowDropOldest)
	v.SetDefault("MAX_MESSAGE_SIZE", 64*1024)
	v.SetDefault("RATE_LIMIT_PER_SECOND", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("UPGRADE_RATE_LIMIT", 30)
	v.SetDefault("UPGRADE_RATE_WINDOW", "1m")
}

// LoadConfig reads the process configuration once, from an optional .env
// file and the environment, through the global viper instance.
func LoadConfig() (*Config, error) {
	once.Do(func() {
		if err := godotenv.Load(); err != nil {
			slog.Debug("No .env file found, using environment variables")
		}
		SetDefaults(viper.GetViper())
		viper.AutomaticEnv()
		ConfigInstance, loadErr = Load(viper.GetViper())
	})

	return ConfigInstance, loadErr
}

// Load builds a Config from v and validates it.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name:      v.GetString("APP_NAME"),
			Version:   v.GetString("APP_VERSION"),
			Env:       v.GetString("APP_ENV"),
			LogLevel:  strings.ToLower(v.GetString("LOG_LEVEL")),
			LogFormat: strings.ToLower(v.GetString("LOG_FORMAT")),
		},
		Server: ServerConfig{
			Host: v.GetString("HOST"),
			Port: v.GetString("PORT"),
		},
		Bus: BusConfig{
			Driver:        strings.ToLower(v.GetString("BUS_DRIVER")),
			TopicPrefixes: splitList(v.GetString("TOPIC_PREFIXES")),
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetString("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
			Patterns: splitList(v.GetString("REDIS_PATTERN")),
			PoolSize: v.GetInt("REDIS_POOL_SIZE"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(v.GetString("KAFKA_BROKERS")),
			Topics:  splitList(v.GetString("KAFKA_TOPICS")),
			GroupID: v.GetString("KAFKA_GROUP_ID"),
		},
		Auth: AuthConfig{
			Mode:      strings.ToLower(v.GetString("AUTH_MODE")),
			APIURL:    v.GetString("AUTH_API_URL"),
			FailOpen:  v.GetBool("AUTH_FAIL_OPEN"),
			JWTSecret: v.GetString("AUTH_JWT_SECRET"),
		},
		WebSocket: WebSocketConfig{
			SendQueueSize:  v.GetInt("SEND_QUEUE_SIZE"),
			OverflowPolicy: strings.ToLower(v.GetString("SEND_OVERFLOW_POLICY")),
			MaxMessageSize: v.GetInt64("MAX_MESSAGE_SIZE"),
			RateLimit:      v.GetFloat64("RATE_LIMIT_PER_SECOND"),
			RateBurst:      v.GetInt("RATE_LIMIT_BURST"),
			AllowedOrigins: splitList(v.GetString("ALLOWED_ORIGINS")),
			UpgradeLimit:   v.GetInt("UPGRADE_RATE_LIMIT"),
		},
	}
	if cfg.Auth.APIURL == "" {
		cfg.Auth.APIURL = v.GetString("LARAVEL_API_URL")
	}
	cfg.Auth.APIURL = strings.TrimRight(cfg.Auth.APIURL, "/")

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"READ_HEADER_TIMEOUT", &cfg.Server.ReadHeaderTimeout},
		{"IDLE_TIMEOUT", &cfg.Server.IdleTimeout},
		{"SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout},
		{"REDIS_DIAL_TIMEOUT", &cfg.Redis.DialTimeout},
		{"AUTH_API_TIMEOUT", &cfg.Auth.Timeout},
		{"HEARTBEAT_INTERVAL", &cfg.WebSocket.HeartbeatInterval},
		{"UPGRADE_RATE_WINDOW", &cfg.WebSocket.UpgradeWindow},
	}
	for _, d := range durations {
		parsed, err := ParseDuration(v.GetString(d.key))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	switch c.Bus.Driver {
	case BusDriverRedis:
		if len(c.Redis.Patterns) == 0 {
			return errors.New("REDIS_PATTERN must name at least one pattern")
		}
	case BusDriverKafka:
		if len(c.Kafka.Brokers) == 0 || len(c.Kafka.Topics) == 0 {
			return errors.New("KAFKA_BROKERS and KAFKA_TOPICS are required for the kafka bus driver")
		}
	default:
		return fmt.Errorf("unknown BUS_DRIVER %q", c.Bus.Driver)
	}

	switch c.Auth.Mode {
	case AuthModeHTTP, AuthModeNone:
	case AuthModeJWT:
		if c.Auth.JWTSecret == "" {
			return errors.New("AUTH_JWT_SECRET is required when AUTH_MODE=jwt")
		}
	default:
		return fmt.Errorf("unknown AUTH_MODE %q", c.Auth.Mode)
	}

	switch c.WebSocket.OverflowPolicy {
	case OverflowDropOldest, OverflowDisconnect:
	default:
		return fmt.Errorf("unknown SEND_OVERFLOW_POLICY %q", c.WebSocket.OverflowPolicy)
	}

	if c.WebSocket.HeartbeatInterval <= 0 {
		return errors.New("HEARTBEAT_INTERVAL must be positive")
	}
	if c.WebSocket.SendQueueSize <= 0 {
		return errors.New("SEND_QUEUE_SIZE must be positive")
	}
	if c.Auth.Timeout <= 0 {
		return errors.New("AUTH_API_TIMEOUT must be positive")
	}
	if c.WebSocket.UpgradeLimit > 0 && c.WebSocket.UpgradeWindow <= 0 {
		return errors.New("UPGRADE_RATE_WINDOW must be positive when UPGRADE_RATE_LIMIT is set")
	}
	return nil
}

// IsProduction reports whether the service runs with APP_ENV=production.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// ParseDuration accepts Go duration strings and bare integers, which are
// read as milliseconds.
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(raw)
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
