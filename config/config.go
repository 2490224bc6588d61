package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var strictAddressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Storage    StorageConfig    `mapstructure:"storage"`
	NonceCache NonceCacheConfig `mapstructure:"nonce_cache"`
	Engine     EngineConfig     `mapstructure:"engine"`
	EIP712     EIP712Config     `mapstructure:"eip712"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Operator   OperatorConfig   `mapstructure:"operator"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	User             string        `mapstructure:"user"`
	Password         string        `mapstructure:"password"`
	DBName           string        `mapstructure:"dbname"`
	SSLMode          string        `mapstructure:"sslmode"`
	MaxConns         int32         `mapstructure:"max_conns"`
	MinConns         int32         `mapstructure:"min_conns"`
	ConnMaxLifetime  time.Duration `mapstructure:"conn_max_lifetime"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
	LockTimeout      time.Duration `mapstructure:"lock_timeout"` // bounds waits on a locked channel or stream row
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// StorageConfig selects the durable ledger backend.
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // postgres, memory
}

// NonceCacheConfig configures the replay fast-path cache in front of the durable ledger.
type NonceCacheConfig struct {
	Backend       string        `mapstructure:"backend"` // memory, redis
	Capacity      int           `mapstructure:"capacity"`
	Shards        int           `mapstructure:"shards"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// EngineConfig holds the settlement rules.
type EngineConfig struct {
	FeeBps       uint64        `mapstructure:"fee_bps"`
	FeeCollector string        `mapstructure:"fee_collector"`
	MaxBatchSize int           `mapstructure:"max_batch_size"`
	SessionSkew  time.Duration `mapstructure:"session_skew"`
}

// EIP712Config is the signing domain every typed message is bound to.
type EIP712Config struct {
	Name              string `mapstructure:"name"`
	Version           string `mapstructure:"version"`
	ChainID           uint64 `mapstructure:"chain_id"`
	VerifyingContract string `mapstructure:"verifying_contract"`
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

// OperatorConfig holds the HMAC credentials of the deposit operator.
type OperatorConfig struct {
	AccessKey string `mapstructure:"access_key"`
	Secret    string `mapstructure:"secret"`
}

type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: OCS_ (Off-Chain Settlement).
// Nested keys use underscore: OCS_DATABASE_HOST, OCS_ENGINE_FEE_BPS, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "settlement")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.statement_timeout", "5s")
	v.SetDefault("database.lock_timeout", "2s")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.dial_timeout", "2s")
	v.SetDefault("redis.read_timeout", "500ms")
	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("nonce_cache.backend", "memory")
	v.SetDefault("nonce_cache.capacity", 10000)
	v.SetDefault("nonce_cache.shards", 16)
	v.SetDefault("nonce_cache.sweep_interval", "30s")
	v.SetDefault("engine.fee_bps", 10)
	v.SetDefault("engine.fee_collector", "")
	v.SetDefault("engine.max_batch_size", 100)
	v.SetDefault("engine.session_skew", "5m")
	v.SetDefault("eip712.name", "OffchainSettlement")
	v.SetDefault("eip712.version", "1")
	v.SetDefault("eip712.chain_id", 8453)
	v.SetDefault("eip712.verifying_contract", "")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "1h")
	v.SetDefault("jwt.issuer", "offchain-settlement")
	v.SetDefault("operator.access_key", "")
	v.SetDefault("operator.secret", "")
	v.SetDefault("ratelimit.enabled", false)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: OCS_DATABASE_HOST -> database.host
	v.SetEnvPrefix("OCS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// A config file is optional; env vars can supply everything.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the settings the engine cannot run safely without.
func (c *Config) Validate() error {
	var errs []error

	if c.Engine.FeeBps > 10_000 {
		errs = append(errs, fmt.Errorf("engine.fee_bps must be <= 10000, got %d", c.Engine.FeeBps))
	}
	if !strictAddressRe.MatchString(c.Engine.FeeCollector) {
		errs = append(errs, fmt.Errorf("engine.fee_collector must be a 0x-prefixed 20-byte hex address"))
	}
	if c.Engine.MaxBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("engine.max_batch_size must be positive"))
	}
	if !strictAddressRe.MatchString(c.EIP712.VerifyingContract) {
		errs = append(errs, fmt.Errorf("eip712.verifying_contract must be a 0x-prefixed 20-byte hex address"))
	}
	if c.EIP712.ChainID == 0 {
		errs = append(errs, fmt.Errorf("eip712.chain_id must be set"))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, fmt.Errorf("jwt.secret must be set"))
	}
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be postgres or memory, got %q", c.Storage.Driver))
	}
	switch c.NonceCache.Backend {
	case "memory":
		if c.NonceCache.Capacity <= 0 || c.NonceCache.Shards <= 0 {
			errs = append(errs, fmt.Errorf("nonce_cache.capacity and nonce_cache.shards must be positive"))
		}
	case "redis":
		if !c.Redis.Enabled {
			errs = append(errs, fmt.Errorf("nonce_cache.backend=redis requires redis.enabled"))
		}
	default:
		errs = append(errs, fmt.Errorf("nonce_cache.backend must be memory or redis, got %q", c.NonceCache.Backend))
	}

	return errors.Join(errs...)
}
