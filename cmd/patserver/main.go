// Command patserver serves the token endpoints over HTTP.
//
//	patserver -config patauth.yml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	patAuth "github.com/MrEthical07/patAuth"
)

func main() {
	configPath := flag.String("config", patAuth.DefaultConfigPath, "Path to YAML config file")
	flag.Parse()

	cfg, err := patAuth.LoadConfigFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := cfg.Log.NewLogger()
	if err != nil {
		logger, _ = zap.NewProduction()
		logger.Warn("log config rejected, fallback to zap production logger", zap.Error(err))
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := newServer(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize server", zap.Error(err))
	}

	if err := watchKeys(ctx, logger, []string{cfg.SigningKeyFile, cfg.VerificationKeyFile}, keyReloadDelay, srv.reloadKeys); err != nil {
		logger.Warn("key rotation watcher unavailable", zap.Error(err))
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.http.Addr))
		if err := srv.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.shutdown(shutdownCtx); err != nil {
		logger.Fatal("forced shutdown", zap.Error(err))
	}
	logger.Info("server exited")
}
