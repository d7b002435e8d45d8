package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Auction  AuctionConfig  `mapstructure:"auction"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Leader   LeaderConfig   `mapstructure:"leader"`
	Instance InstanceConfig `mapstructure:"instance"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

// RealtimeConfig addresses the WebSocket listener, which runs next to the
// HTTP API on its own port.
type RealtimeConfig struct {
	Port int `mapstructure:"port"`
}

// StorageConfig selects the auction store backend. "memory" keeps everything
// in process and needs neither MySQL nor Redis; "mysql" is the durable
// deployment.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MySQLConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// AuctionConfig tunes the bid pipeline and lifecycle policy.
type AuctionConfig struct {
	// MaxCommitRetries bounds re-validation attempts after an optimistic
	// commit conflict before the bid fails with busy.
	MaxCommitRetries int `mapstructure:"max_commit_retries"`
	// TickInterval is the lifecycle scheduler period.
	TickInterval time.Duration `mapstructure:"tick_interval"`
	// TickBudget caps store time spent on a single auction per tick.
	TickBudget time.Duration `mapstructure:"tick_budget"`
	// AntiSnipeEnabled turns on end-time extension for late bids.
	AntiSnipeEnabled bool `mapstructure:"anti_snipe_enabled"`
	// AntiSnipeWindow is how close to end_at a bid must land to extend.
	AntiSnipeWindow time.Duration `mapstructure:"anti_snipe_window"`
	// AntiSnipeExtension is how far past the bid the new end_at is pushed.
	AntiSnipeExtension time.Duration `mapstructure:"anti_snipe_extension"`
	// SubscriberBuffer is the per-subscriber event queue; events beyond it
	// are dropped for that subscriber only.
	SubscriberBuffer int `mapstructure:"subscriber_buffer"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type LeaderConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type InstanceConfig struct {
	ID string `mapstructure:"id"`
}

func Load() (*Config, error) {
	// Set default values
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("realtime.port", 8081)
	viper.SetDefault("storage.driver", "mysql")
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("mysql.dsn", "marketplace_user:marketplace_pass@tcp(localhost:3306)/marketplace_db?parseTime=true")
	viper.SetDefault("mysql.max_open_conns", 25)
	viper.SetDefault("mysql.max_idle_conns", 10)
	viper.SetDefault("mysql.conn_max_lifetime", 5*time.Minute)
	viper.SetDefault("auction.max_commit_retries", 5)
	viper.SetDefault("auction.tick_interval", 5*time.Second)
	viper.SetDefault("auction.tick_budget", 2*time.Second)
	viper.SetDefault("auction.anti_snipe_enabled", true)
	viper.SetDefault("auction.anti_snipe_window", 60*time.Second)
	viper.SetDefault("auction.anti_snipe_extension", 120*time.Second)
	viper.SetDefault("auction.subscriber_buffer", 16)
	viper.SetDefault("auth.jwt_secret", "dev-secret-change-me")
	viper.SetDefault("leader.ttl", 30*time.Second)
	viper.SetDefault("instance.id", "marketplace-1")

	// Configuration file settings
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/marketplace-backend/")

	// Environment variable support
	viper.AutomaticEnv()

	// Environment variable mappings
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.host", "SERVER_HOST")
	viper.BindEnv("realtime.port", "REALTIME_PORT")
	viper.BindEnv("storage.driver", "STORAGE_DRIVER")
	viper.BindEnv("redis.address", "REDIS_ADDRESS")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")
	viper.BindEnv("mysql.dsn", "MYSQL_DSN")
	viper.BindEnv("mysql.max_open_conns", "MYSQL_MAX_OPEN_CONNS")
	viper.BindEnv("mysql.max_idle_conns", "MYSQL_MAX_IDLE_CONNS")
	viper.BindEnv("mysql.conn_max_lifetime", "MYSQL_CONN_MAX_LIFETIME")
	viper.BindEnv("auction.anti_snipe_enabled", "AUCTION_ANTI_SNIPE_ENABLED")
	viper.BindEnv("auction.anti_snipe_window", "AUCTION_ANTI_SNIPE_WINDOW")
	viper.BindEnv("auction.anti_snipe_extension", "AUCTION_ANTI_SNIPE_EXTENSION")
	viper.BindEnv("auth.jwt_secret", "AUTH_JWT_SECRET")
	viper.BindEnv("leader.ttl", "LEADER_TTL")
	viper.BindEnv("instance.id", "INSTANCE_ID")

	// Read configuration file (optional - will use defaults/env vars if not found)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// Config file not found, continue with defaults and environment variables
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// GetConfigString returns a formatted string representation of the config
func (c *Config) GetConfigString() string {
	return fmt.Sprintf(
		"Server: %s:%d, Realtime: :%d, Storage: %s, Redis: %s, Instance: %s",
		c.Server.Host,
		c.Server.Port,
		c.Realtime.Port,
		c.Storage.Driver,
		c.Redis.Address,
		c.Instance.ID,
	)
}
