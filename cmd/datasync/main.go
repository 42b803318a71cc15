package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aiqsync/datasync/handlers"
	"github.com/aiqsync/datasync/internal/config"
	"github.com/aiqsync/datasync/internal/database"
	"github.com/aiqsync/datasync/internal/document/handler"
	"github.com/aiqsync/datasync/internal/document/protocol"
	"github.com/aiqsync/datasync/internal/document/repository"
	"github.com/aiqsync/datasync/internal/document/service"
	"github.com/aiqsync/datasync/internal/oidc"
	"github.com/aiqsync/datasync/internal/sessions"
	"github.com/aiqsync/datasync/internal/snapshot"
	"github.com/aiqsync/datasync/internal/storage"
	"github.com/aiqsync/datasync/internal/tokens"
	"github.com/aiqsync/datasync/pkg/logger"
	"github.com/aiqsync/datasync/pkg/metrics"
	"github.com/aiqsync/datasync/pkg/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

var startTime = time.Now()

// runtime holds the dependencies the readiness probe reports on.
type runtime struct {
	cfg       *config.Config
	redis     *redis.Client
	mongo     *mongo.Client
	verifier  middleware.Verifier
	svc       service.Service
	memory    *repository.MemoryRepo
	snapshots *snapshot.Manager
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Init(cfg.Log.Level)
	if cfg.Log.Format != "" {
		logger.SetOutput(os.Stdout, cfg.Log.Format)
	}
	defer logger.Sync()
	logger.Infof("config loaded: store=%s keycloak=%v redis=%v minio=%v", cfg.Store.Backend, cfg.Keycloak.URL != "", cfg.Redis.Host != "", cfg.MinIO.Endpoint != "")

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt := &runtime{cfg: cfg}
	if cfg.Redis.Host != "" {
		rt.redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rt.redis.Ping(ctx).Err(); err != nil {
			logger.Warnf("redis ping failed (%s): %v", cfg.Redis.Addr(), err)
		} else {
			logger.Infof("connected to Redis: %s", cfg.Redis.Addr())
		}
		defer rt.redis.Close()
	}

	if err := rt.openStore(ctx); err != nil {
		logger.Fatalf("failed to open document store: %v", err)
	}
	if rt.mongo != nil {
		defer func() { _ = rt.mongo.Disconnect(context.Background()) }()
	}
	rt.openSnapshots(ctx)
	rt.verifier = newVerifier(ctx, cfg)

	revocations := newRevocations(ctx, rt)

	r := gin.New()
	r.Use(cors(), gin.Recovery(), middleware.RequestID(), middleware.AccessLog())
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis && rt.redis != nil {
			win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
			r.Use(middleware.RedisRateLimitMiddleware(rt.redis, cfg.RateLimit.RPS, cfg.RateLimit.Burst, win))
		} else {
			r.Use(middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})
	r.GET("/ready", rt.ready)

	var protect []gin.HandlerFunc
	if rt.verifier != nil {
		protect = append(protect, middleware.AuthMiddleware(rt.verifier), middleware.RequireOrganization("orgName"))
	} else {
		logger.Warn("no token verifier configured: sync routes are unauthenticated")
	}
	protect = append(protect, middleware.RejectRevoked(revocations, "orgName", protocol.HeaderUserID))

	handler.RegisterDocumentRoutes(r.Group("/aiq/integration"), rt.svc, handler.Options{
		Protect:         protect,
		Logout:          revocations,
		LegacyRoutes:    cfg.Sync.LegacyRoutes,
		DefaultSolution: cfg.Sync.DefaultSolution,
	})
	handlers.RegisterSwagger(r)

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if rt.snapshots != nil && cfg.MinIO.SnapshotInterval > 0 {
		go rt.snapshots.Run(ctx, cfg.MinIO.SnapshotInterval)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Infof("starting datasync service on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("graceful shutdown failed: %v", err)
	}
	// no request is in flight anymore, so the snapshot is consistent
	if rt.snapshots != nil {
		if _, err := rt.snapshots.Save(shutdownCtx); err != nil {
			logger.Errorf("final snapshot failed: %v", err)
		}
	}
}

// openStore selects the document store backend.
func (rt *runtime) openStore(ctx context.Context) error {
	cfg := rt.cfg
	switch cfg.Store.Backend {
	case config.BackendMongo:
		client, err := database.ConnectMongoWithRetry(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout, cfg.MongoDB.ConnectRetry)
		if err != nil {
			return err
		}
		rt.mongo = client
		col := client.Database(cfg.MongoDB.Database).Collection(cfg.MongoDB.Collection)
		svc, err := service.NewMongoService(ctx, col)
		if err != nil {
			return err
		}
		rt.svc = svc
		logger.Infof("using MongoDB document store: %s.%s", cfg.MongoDB.Database, cfg.MongoDB.Collection)
	case config.BackendRedis:
		if rt.redis == nil {
			return errors.New("redis backend selected but REDIS_HOST is empty")
		}
		rt.svc = service.NewRedisService(rt.redis, cfg.Store.RedisPrefix)
		logger.Infof("using Redis document store (prefix %q)", cfg.Store.RedisPrefix)
	default:
		rt.memory = repository.NewMemoryRepo()
		rt.svc = service.New(rt.memory)
		logger.Infof("using in-memory document store")
	}
	return nil
}

// openSnapshots restores the memory store from MinIO when snapshots are configured.
func (rt *runtime) openSnapshots(ctx context.Context) {
	cfg := rt.cfg
	if rt.memory == nil || !cfg.MinIO.SnapshotsEnabled() {
		return
	}
	objects, err := storage.NewMinIOStorage(ctx, cfg.MinIO)
	if err != nil {
		logger.Warnf("snapshots disabled: %v", err)
		return
	}
	rt.snapshots = snapshot.NewManager(rt.memory, objects, cfg.MinIO.SnapshotObject)
	n, err := rt.snapshots.Restore(ctx)
	if err != nil {
		logger.Errorf("snapshot restore incomplete: %v", err)
	}
	logger.Infof("restored %d documents from snapshot %s", n, cfg.MinIO.SnapshotObject)
}

// newVerifier prefers Keycloak, then the shared JWT secret, then the insecure
// verifier when explicitly allowed.
func newVerifier(ctx context.Context, cfg *config.Config) middleware.Verifier {
	if cfg.Keycloak.URL != "" && cfg.Keycloak.ClientID != "" {
		ver, err := oidc.NewKeycloakVerifier(ctx, cfg.Keycloak)
		if err == nil {
			logger.Infof("verifying tokens against %s", oidc.Issuer(cfg.Keycloak))
			return ver
		}
		logger.Warnf("failed to initialize OIDC verifier: %v", err)
	}
	if cfg.JWT.Secret != "" {
		logger.Infof("verifying HS256 tokens with the shared secret")
		return tokens.NewHMACVerifier(cfg.JWT.Secret)
	}
	if cfg.Keycloak.AllowInsecure {
		logger.Warn("enabling insecure token verifier (integration mode)")
		return oidc.NewInsecureVerifier()
	}
	return nil
}

// newRevocations keeps logout state in Redis when available so every
// instance sees it, then Mongo, then process memory.
func newRevocations(ctx context.Context, rt *runtime) *sessions.Service {
	ttl := rt.cfg.JWT.RevocationTTL
	if rt.redis != nil {
		return sessions.NewService(sessions.NewRedisRepository(rt.redis, "revoked:"), ttl)
	}
	if rt.mongo != nil {
		col := rt.mongo.Database(rt.cfg.MongoDB.Database).Collection("revocations")
		repo, err := sessions.NewMongoRepository(ctx, col)
		if err == nil {
			return sessions.NewService(repo, ttl)
		}
		logger.Warnf("mongo revocation store unavailable: %v", err)
	}
	return sessions.NewService(sessions.NewMemoryRepository(), ttl)
}

// ready returns 200 only when critical dependencies are available.
func (rt *runtime) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	deps := map[string]bool{"store": rt.svc != nil}
	ready := deps["store"]

	if rt.mongo != nil {
		deps["mongo"] = rt.mongo.Ping(ctx, nil) == nil
		ready = ready && deps["mongo"]
	}
	if rt.redis != nil {
		deps["redis"] = rt.redis.Ping(ctx).Err() == nil
		needed := rt.cfg.Store.Backend == config.BackendRedis || rt.cfg.RateLimit.UseRedis
		if needed {
			ready = ready && deps["redis"]
		}
	}
	if rt.cfg.Keycloak.URL != "" {
		deps["oidc"] = rt.verifier != nil
		ready = ready && deps["oidc"]
	}
	deps["snapshots"] = rt.snapshots != nil

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "deps": deps, "uptime": time.Since(startTime).String()})
}

// Lightweight CORS middleware: set common headers and answer preflight requests.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, If-Match, X-AIQ-UserId, X-AIQ-DeviceId, X-Request-Id")
		h.Set("Access-Control-Expose-Headers", "Content-Length, ETag, X-Request-Id")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}
