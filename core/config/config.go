package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Security SecurityConfig `mapstructure:"security"`
	Xero     XeroConfig     `mapstructure:"xero"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Worker   WorkerConfig   `mapstructure:"worker"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

type SecurityConfig struct {
	// EncryptionKey is a hex encoded 32 byte key used for client secrets at rest.
	EncryptionKey string `mapstructure:"encryption_key"`
}

type XeroConfig struct {
	AuthorizeURL       string        `mapstructure:"authorize_url"`
	TokenURL           string        `mapstructure:"token_url"`
	ConnectionsURL     string        `mapstructure:"connections_url"`
	APIBaseURL         string        `mapstructure:"api_base_url"`
	Scopes             string        `mapstructure:"scopes"`
	StateTTL           time.Duration `mapstructure:"state_ttl"`
	StateStore         string        `mapstructure:"state_store"`
	MinRequestInterval time.Duration `mapstructure:"min_request_interval"`
	RateLimitCooldown  time.Duration `mapstructure:"rate_limit_cooldown"`
	TokenTimeout       time.Duration `mapstructure:"token_timeout"`
	APITimeout         time.Duration `mapstructure:"api_timeout"`
	RefreshSkew        time.Duration `mapstructure:"refresh_skew"`
	TenantCacheTTL     time.Duration `mapstructure:"tenant_cache_ttl"`
}

type StorageConfig struct {
	S3Bucket        string `mapstructure:"s3_bucket"`
	S3Region        string `mapstructure:"s3_region"`
	S3Endpoint      string `mapstructure:"s3_endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

type WorkerConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	SweepSchedule   string        `mapstructure:"sweep_schedule"`
	RefreshSchedule string        `mapstructure:"refresh_schedule"`
	RefreshWindow   time.Duration `mapstructure:"refresh_window"`
}

// State store drivers.
const (
	StateStorePostgres = "postgres"
	StateStoreRedis    = "redis"
	StateStoreMemory   = "memory"
)

var (
	mu       sync.RWMutex
	instance *Config
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "compliance-api")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 7070)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "compliance")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.issuer", "compliance-api")

	v.SetDefault("security.encryption_key", "")

	v.SetDefault("xero.authorize_url", "https://login.xero.com/identity/connect/authorize")
	v.SetDefault("xero.token_url", "https://identity.xero.com/connect/token")
	v.SetDefault("xero.connections_url", "https://api.xero.com/connections")
	v.SetDefault("xero.api_base_url", "https://api.xero.com/api.xro/2.0")
	v.SetDefault("xero.scopes", "openid profile email offline_access accounting.transactions accounting.contacts accounting.settings")
	v.SetDefault("xero.state_ttl", 10*time.Minute)
	v.SetDefault("xero.state_store", StateStorePostgres)
	v.SetDefault("xero.min_request_interval", time.Second)
	v.SetDefault("xero.rate_limit_cooldown", 5*time.Second)
	v.SetDefault("xero.token_timeout", 10*time.Second)
	v.SetDefault("xero.api_timeout", 30*time.Second)
	v.SetDefault("xero.refresh_skew", 5*time.Minute)
	v.SetDefault("xero.tenant_cache_ttl", time.Hour)

	v.SetDefault("storage.s3_bucket", "")
	v.SetDefault("storage.s3_region", "us-east-1")
	v.SetDefault("storage.s3_endpoint", "")
	v.SetDefault("storage.access_key_id", "")
	v.SetDefault("storage.secret_access_key", "")
	v.SetDefault("storage.use_path_style", false)

	v.SetDefault("worker.concurrency", 5)
	v.SetDefault("worker.sweep_schedule", "@every 5m")
	v.SetDefault("worker.refresh_schedule", "@every 10m")
	v.SetDefault("worker.refresh_window", 15*time.Minute)
}

// Load reads an optional .env file and the environment, validates the result
// and stores it as the process configuration.
func Load() (*Config, error) {
	// .env is optional outside development
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	Set(&cfg)
	return &cfg, nil
}

// Validate checks values whose absence would only surface deep inside a request.
func (c *Config) Validate() error {
	if c.Xero.StateTTL <= 0 {
		return fmt.Errorf("xero.state_ttl must be positive")
	}
	if c.Xero.MinRequestInterval <= 0 {
		return fmt.Errorf("xero.min_request_interval must be positive")
	}
	if c.Xero.RateLimitCooldown <= c.Xero.MinRequestInterval {
		return fmt.Errorf("xero.rate_limit_cooldown must be longer than xero.min_request_interval")
	}
	switch c.Xero.StateStore {
	case StateStorePostgres, StateStoreRedis, StateStoreMemory:
	default:
		return fmt.Errorf("unknown xero.state_store %q", c.Xero.StateStore)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

func Set(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	instance = cfg
}

func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return instance
}

func GetSafe() (*Config, bool) {
	cfg := Get()
	return cfg, cfg != nil
}
