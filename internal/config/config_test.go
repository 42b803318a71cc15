package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("ENV_FILE", "does-not-exist.env")
	t.Setenv("STORE_BACKEND", "Mongo")
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017/testdb")
	t.Setenv("MONGODB_DATABASE", "datasync_test")
	t.Setenv("REDIS_HOST", "localhost")
	t.Setenv("JWT_SECRET", "testsecret123456789012345678901234")
	t.Setenv("SYNC_LEGACY_ROUTES", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, BackendMongo, cfg.Store.Backend)
	require.Equal(t, "datasync_test", cfg.MongoDB.Database)
	require.Equal(t, "documents", cfg.MongoDB.Collection)
	require.Equal(t, 10*time.Second, cfg.MongoDB.Timeout)
	require.Equal(t, "localhost:6379", cfg.Redis.Addr())
	require.Equal(t, 24*time.Hour, cfg.JWT.RevocationTTL)
	require.True(t, cfg.Sync.LegacyRoutes)
	require.Equal(t, "default", cfg.Sync.DefaultSolution)
	require.False(t, cfg.Production())
}

func TestLoadConfig_MongoBackendNeedsURI(t *testing.T) {
	t.Setenv("ENV_FILE", "does-not-exist.env")
	t.Setenv("STORE_BACKEND", "mongo")
	t.Setenv("MONGODB_URI", "")

	_, err := LoadConfig()
	require.Error(t, err)
	require.Contains(t, err.Error(), "mongodb")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server: ServerConfig{Port: "5010"},
			Store:  StoreConfig{Backend: BackendMemory},
			MinIO:  MinIOConfig{Bucket: "datasync"},
		}
	}
	require.NoError(t, valid().Validate())

	c := valid()
	c.Store.Backend = "cassandra"
	require.Error(t, c.Validate())

	c = valid()
	c.Store.Backend = BackendRedis
	require.Error(t, c.Validate())
	c.Redis.Host = "localhost"
	require.NoError(t, c.Validate())

	c = valid()
	c.RateLimit = RateLimitConfig{Enabled: true, UseRedis: true, RPS: 5}
	require.Error(t, c.Validate())

	c = valid()
	c.RateLimit = RateLimitConfig{Enabled: true}
	require.Error(t, c.Validate())

	c = valid()
	c.Sync = SyncConfig{LegacyRoutes: true, DefaultSolution: "has space"}
	require.Error(t, c.Validate())
	c.Sync.DefaultSolution = "solution"
	require.NoError(t, c.Validate())

	c = valid()
	c.MinIO = MinIOConfig{Endpoint: "localhost:9000"}
	require.Error(t, c.Validate())
}
