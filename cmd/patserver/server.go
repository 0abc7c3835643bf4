package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	patAuth "github.com/MrEthical07/patAuth"
	"github.com/MrEthical07/patAuth/directory/sqlite"
	"github.com/MrEthical07/patAuth/metrics/export/prometheus"
	"github.com/MrEthical07/patAuth/rest"
)

type server struct {
	cfg       *patAuth.FileConfig
	logger    *zap.Logger
	engine    *patAuth.Engine
	directory *sqlite.Directory
	redis     redis.UniversalClient
	http      *http.Server
}

func newServer(ctx context.Context, cfg *patAuth.FileConfig, logger *zap.Logger) (*server, error) {
	rdb := cfg.Redis.NewClient()
	s, err := assemble(ctx, cfg, logger, rdb)
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return s, nil
}

// assemble opens the directory, builds the engine and the router on top of
// an existing Redis client.
func assemble(ctx context.Context, cfg *patAuth.FileConfig, logger *zap.Logger, rdb redis.UniversalClient) (*server, error) {
	dir, err := sqlite.Open(ctx, cfg.Database.Path, sqlite.WithLogger(logger.Named("directory")))
	if err != nil {
		return nil, fmt.Errorf("open user directory: %w", err)
	}

	builder := patAuth.New().
		WithConfig(cfg.Engine).
		WithRedis(rdb).
		WithLogger(logger).
		WithUserDirectory(dir)
	if cfg.Engine.Federated.Enabled {
		builder = builder.WithProviderDirectory(dir)
	}
	if cfg.Engine.Audit.Enabled {
		builder = builder.WithAuditSink(patAuth.NewZapSink(logger.Named("audit")))
	}
	engine, err := builder.Build()
	if err != nil {
		_ = dir.Close()
		return nil, fmt.Errorf("build engine: %w", err)
	}

	router, err := newRouter(engine, cfg.Server)
	if err != nil {
		engine.Close()
		_ = dir.Close()
		return nil, err
	}

	return &server{
		cfg:       cfg,
		logger:    logger,
		engine:    engine,
		directory: dir,
		redis:     rdb,
		http: &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

func newRouter(engine *patAuth.Engine, cfg patAuth.ServerConfig) (*gin.Engine, error) {
	router := rest.NewRouter(engine, rest.RouterConfig{AllowedOrigins: cfg.AllowedOrigins})
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}

	router.GET("/metrics", gin.WrapH(prometheus.NewExporter(engine).Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		h := engine.Health(c.Request.Context())
		status := http.StatusOK
		if !h.RedisAvailable || !h.KeysLoaded {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"redis":            h.RedisAvailable,
			"redis_latency_ms": h.RedisLatency.Milliseconds(),
			"keys_loaded":      h.KeysLoaded,
		})
	})
	return router, nil
}

// reloadKeys rereads the key files and swaps them into the engine. A failed
// read or parse keeps the current keys.
func (s *server) reloadKeys() {
	signing, verification, err := s.cfg.ReadKeyFiles()
	if err != nil {
		s.logger.Error("key reload failed", zap.Error(err))
		return
	}
	if err := s.engine.ReloadKeys(signing, verification); err != nil {
		s.logger.Error("key reload rejected", zap.Error(err))
		return
	}
	s.logger.Info("signing keys reloaded")
}

func (s *server) shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.engine.Close()
	return errors.Join(err, s.directory.Close(), s.redis.Close())
}
