package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/aiqsync/datasync/internal/document"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	BackendMemory = "memory"
	BackendMongo  = "mongo"
	BackendRedis  = "redis"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Store     StoreConfig
	MongoDB   MongoDBConfig
	Redis     RedisConfig
	MinIO     MinIOConfig
	Keycloak  KeycloakConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Sync      SyncConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	Environment     string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// StoreConfig selects the document store backend.
type StoreConfig struct {
	Backend     string
	RedisPrefix string
}

type MongoDBConfig struct {
	URI          string
	Database     string
	Collection   string
	Timeout      time.Duration
	// ConnectRetry bounds the total time spent retrying the initial connection.
	ConnectRetry time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

func (r RedisConfig) Addr() string { return r.Host + ":" + r.Port }

// MinIOConfig holds the object storage used for memory store snapshots.
type MinIOConfig struct {
	Endpoint         string
	AccessKey        string
	SecretKey        string
	UseSSL           bool
	Bucket           string
	// SnapshotObject is the object key of the snapshot; empty disables snapshots.
	SnapshotObject   string
	// SnapshotInterval adds periodic snapshots; zero saves only on shutdown.
	SnapshotInterval time.Duration
}

// SnapshotsEnabled reports whether the memory store is persisted to MinIO.
func (m MinIOConfig) SnapshotsEnabled() bool {
	return m.Endpoint != "" && m.SnapshotObject != ""
}

type KeycloakConfig struct {
	URL           string
	Realm         string
	ClientID      string
	ClientSecret  string
	AllowInsecure bool
}

type JWTConfig struct {
	Secret         string
	AccessTokenTTL time.Duration
	// RevocationTTL is how long a logout keeps refusing older tokens.
	RevocationTTL  time.Duration
}

type RateLimitConfig struct {
	Enabled       bool
	UseRedis      bool
	RPS           float64
	Burst         int
	WindowSeconds int
}

// SyncConfig controls the sync protocol surface.
type SyncConfig struct {
	// LegacyRoutes exposes the single-level (organization only) routes.
	LegacyRoutes    bool
	DefaultSolution string
}

// LoadConfig loads configuration from environment variables and .env file
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(envFile())

	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", "5010")
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_ENVIRONMENT", "development")
	viper.SetDefault("SERVER_SHUTDOWN_TIMEOUT", 15)
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "console")
	viper.SetDefault("STORE_BACKEND", BackendMemory)
	viper.SetDefault("STORE_REDIS_PREFIX", "datasync:")
	viper.SetDefault("MONGODB_DATABASE", "datasync")
	viper.SetDefault("MONGODB_COLLECTION", "documents")
	viper.SetDefault("MONGODB_TIMEOUT", 10)
	viper.SetDefault("MONGODB_CONNECT_RETRY", 60)
	viper.SetDefault("REDIS_PORT", "6379")
	viper.SetDefault("MINIO_BUCKET", "datasync")
	viper.SetDefault("JWT_ACCESS_TOKEN_TTL", 15)
	viper.SetDefault("JWT_REVOCATION_TTL", 1440)
	viper.SetDefault("RATE_LIMIT_RPS", 20)
	viper.SetDefault("RATE_LIMIT_BURST", 40)
	viper.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 1)
	viper.SetDefault("SYNC_DEFAULT_SOLUTION", "default")

	cfg := &Config{
		Server: ServerConfig{
			Port:            viper.GetString("SERVER_PORT"),
			Host:            viper.GetString("SERVER_HOST"),
			Environment:     viper.GetString("SERVER_ENVIRONMENT"),
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: time.Duration(viper.GetInt("SERVER_SHUTDOWN_TIMEOUT")) * time.Second,
		},
		Log: LogConfig{
			Level:  viper.GetString("LOG_LEVEL"),
			Format: viper.GetString("LOG_FORMAT"),
		},
		Store: StoreConfig{
			Backend:     strings.ToLower(viper.GetString("STORE_BACKEND")),
			RedisPrefix: viper.GetString("STORE_REDIS_PREFIX"),
		},
		MongoDB: MongoDBConfig{
			URI:          viper.GetString("MONGODB_URI"),
			Database:     viper.GetString("MONGODB_DATABASE"),
			Collection:   viper.GetString("MONGODB_COLLECTION"),
			Timeout:      time.Duration(viper.GetInt("MONGODB_TIMEOUT")) * time.Second,
			ConnectRetry: time.Duration(viper.GetInt("MONGODB_CONNECT_RETRY")) * time.Second,
		},
		Redis: RedisConfig{
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetString("REDIS_PORT"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       viper.GetInt("REDIS_DB"),
		},
		MinIO: MinIOConfig{
			Endpoint:         viper.GetString("MINIO_ENDPOINT"),
			AccessKey:        viper.GetString("MINIO_ACCESS_KEY"),
			SecretKey:        os.Getenv("MINIO_SECRET_KEY"),
			UseSSL:           viper.GetBool("MINIO_USE_SSL"),
			Bucket:           viper.GetString("MINIO_BUCKET"),
			SnapshotObject:   viper.GetString("MINIO_SNAPSHOT_OBJECT"),
			SnapshotInterval: time.Duration(viper.GetInt("MINIO_SNAPSHOT_INTERVAL")) * time.Second,
		},
		Keycloak: KeycloakConfig{
			URL:           viper.GetString("KEYCLOAK_URL"),
			Realm:         viper.GetString("KEYCLOAK_REALM"),
			ClientID:      viper.GetString("KEYCLOAK_CLIENT_ID"),
			ClientSecret:  viper.GetString("KEYCLOAK_CLIENT_SECRET"),
			AllowInsecure: viper.GetBool("ALLOW_INSECURE_TOKEN"),
		},
		JWT: JWTConfig{
			Secret:         os.Getenv("JWT_SECRET"),
			AccessTokenTTL: time.Duration(viper.GetInt("JWT_ACCESS_TOKEN_TTL")) * time.Minute,
			RevocationTTL:  time.Duration(viper.GetInt("JWT_REVOCATION_TTL")) * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:       viper.GetBool("RATE_LIMIT_ENABLED"),
			UseRedis:      viper.GetBool("RATE_LIMIT_USE_REDIS"),
			RPS:           viper.GetFloat64("RATE_LIMIT_RPS"),
			Burst:         viper.GetInt("RATE_LIMIT_BURST"),
			WindowSeconds: viper.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},
		Sync: SyncConfig{
			LegacyRoutes:    viper.GetBool("SYNC_LEGACY_ROUTES"),
			DefaultSolution: viper.GetString("SYNC_DEFAULT_SOLUTION"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ENV_FILE overrides the .env location
func envFile() string {
	if f := os.Getenv("ENV_FILE"); f != "" {
		return f
	}
	return ".env"
}

var errNotIdentifier = errors.New("must be a valid identifier")

func identifier(value interface{}) error {
	s, _ := value.(string)
	if document.ValidateIdentifier("value", s) != nil {
		return errNotIdentifier
	}
	return nil
}

// Validate checks the settings that must hold before any connection is made.
func (c *Config) Validate() error {
	needRedis := c.Store.Backend == BackendRedis || (c.RateLimit.Enabled && c.RateLimit.UseRedis)
	return validation.Errors{
		"server": validation.ValidateStruct(&c.Server,
			validation.Field(&c.Server.Port, validation.Required),
		),
		"store": validation.ValidateStruct(&c.Store,
			validation.Field(&c.Store.Backend, validation.Required, validation.In(BackendMemory, BackendMongo, BackendRedis)),
		),
		"mongodb": validation.ValidateStruct(&c.MongoDB,
			validation.Field(&c.MongoDB.URI, validation.When(c.Store.Backend == BackendMongo, validation.Required)),
			validation.Field(&c.MongoDB.Database, validation.When(c.Store.Backend == BackendMongo, validation.Required)),
		),
		"redis": validation.ValidateStruct(&c.Redis,
			validation.Field(&c.Redis.Host, validation.When(needRedis, validation.Required)),
		),
		"minio": validation.ValidateStruct(&c.MinIO,
			validation.Field(&c.MinIO.Bucket, validation.When(c.MinIO.Endpoint != "", validation.Required)),
			validation.Field(&c.MinIO.SnapshotInterval, validation.Min(time.Duration(0))),
		),
		"rateLimit": validation.ValidateStruct(&c.RateLimit,
			validation.Field(&c.RateLimit.RPS, validation.When(c.RateLimit.Enabled, validation.Required, validation.Min(0.0).Exclusive())),
			validation.Field(&c.RateLimit.Burst, validation.Min(0)),
		),
		"sync": validation.ValidateStruct(&c.Sync,
			validation.Field(&c.Sync.DefaultSolution, validation.When(c.Sync.LegacyRoutes, validation.Required, validation.By(identifier))),
		),
	}.Filter()
}

// Production reports whether the service runs in production mode.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Server.Environment, "production")
}
