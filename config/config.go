package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. MMOSOCIAL_SERVER_PORT.
const EnvPrefix = "MMOSOCIAL"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Security SecurityConfig `mapstructure:"security"`
	Social   SocialConfig   `mapstructure:"social"`
	Audit    AuditConfig    `mapstructure:"audit"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"min=1,max=65535"`
	Debug    bool   `mapstructure:"debug"`
	AdminKey string `mapstructure:"admin_key"`
	// AdminIPs restricts /api/admin to these client IPs. Empty allows any.
	AdminIPs []string `mapstructure:"admin_ips"`
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode" validate:"oneof=sqlite mysql"`
	SQLitePath   string        `mapstructure:"sqlite_path" validate:"required_if=Mode sqlite"`
	MySQLDSN     string        `mapstructure:"mysql_dsn" validate:"required_if=Mode mysql"`
	MySQLMaxOpen int           `mapstructure:"mysql_max_open"`
	MySQLMaxIdle int           `mapstructure:"mysql_max_idle"`
	MySQLMaxLife time.Duration `mapstructure:"mysql_max_life"`
	// SlowQuery logs statements slower than this at warn level. 0 disables.
	SlowQuery time.Duration `mapstructure:"slow_query"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf" validate:"min=1"`
}

type SecurityConfig struct {
	JWTSecret      string  `mapstructure:"jwt_secret" validate:"required"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps" validate:"gt=0"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst" validate:"min=1"`
	// AllowedOrigins lists the WebSocket/SSE origins that are permitted.
	// An empty slice allows all origins (useful for local development only).
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// SocialConfig holds the tunables of the friend and group services.
type SocialConfig struct {
	MaxGroupMembers     int           `mapstructure:"max_group_members" validate:"min=2"`
	MaxGroupNameLen     int           `mapstructure:"max_group_name_len" validate:"min=1"`
	MaxMessageLen       int           `mapstructure:"max_message_len" validate:"min=1"`
	MuteExpiryInterval  time.Duration `mapstructure:"mute_expiry_interval" validate:"gt=0"`
	PresenceTTL         time.Duration `mapstructure:"presence_ttl" validate:"gt=0"`
	PresenceRefreshEach time.Duration `mapstructure:"presence_refresh_interval" validate:"gt=0"`
	// BlockedWords are masked with asterisks in posted messages.
	BlockedWords []string `mapstructure:"blocked_words"`
}

type AuditConfig struct {
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic" validate:"required_with=KafkaBrokers"`
}

// Load reads config from the given YAML file path. A .env file next to the
// process is loaded first so MMOSOCIAL_* variables can override any key.
// An empty path skips the file and uses defaults plus environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct-tag constraints on a loaded config.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("server.admin_key", "")
	v.SetDefault("server.admin_ips", []string{})
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/social.db")
	v.SetDefault("database.mysql_dsn", "")
	v.SetDefault("database.mysql_max_open", 50)
	v.SetDefault("database.mysql_max_idle", 10)
	v.SetDefault("database.mysql_max_life", "1h")
	v.SetDefault("database.slow_query", "200ms")
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("security.jwt_secret", "")
	v.SetDefault("security.rate_limit_rps", 100)
	v.SetDefault("security.rate_limit_burst", 200)
	v.SetDefault("security.allowed_origins", []string{})
	v.SetDefault("social.max_group_members", 100)
	v.SetDefault("social.max_group_name_len", 64)
	v.SetDefault("social.max_message_len", 2000)
	v.SetDefault("social.mute_expiry_interval", "1m")
	v.SetDefault("social.presence_ttl", "90s")
	v.SetDefault("social.presence_refresh_interval", "30s")
	v.SetDefault("social.blocked_words", []string{})
	v.SetDefault("audit.kafka_brokers", []string{})
	v.SetDefault("audit.kafka_topic", "")
}
