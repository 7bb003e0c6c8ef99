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

	"faultkb/internal/api"
	"faultkb/internal/app/kbapp"
	"faultkb/internal/platform/config"
	applog "faultkb/internal/platform/log"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Config load failed: %v\n", err)
		os.Exit(1)
	}

	applog.Init(applog.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File: applog.FileConfig{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		},
	})

	startCtx, startCancel := context.WithTimeout(context.Background(), time.Minute)
	app, err := kbapp.New(startCtx, cfg)
	startCancel()
	if err != nil {
		applog.Fatalf("❌ Failed to initialize: %v", err)
	}
	defer app.Close()

	app.Reconciler.Start()

	serverConfig := api.DefaultServerConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	serverConfig.ReadTimeout = config.Seconds(cfg.Server.ReadTimeoutSeconds)
	serverConfig.WriteTimeout = config.Seconds(cfg.Server.WriteTimeoutSeconds)
	serverConfig.RequestTimeout = config.Seconds(cfg.Server.RequestTimeoutSeconds)
	serverConfig.JWTSecret = cfg.Auth.JWTSecret
	serverConfig.JWTIssuer = cfg.Auth.JWTIssuer
	server := api.NewServer(serverConfig, app.Service)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		applog.Info("🔄 Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Stop(ctx); err != nil {
			applog.Errorf("❌ Server shutdown error: %v", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		applog.Fatalf("❌ Server error: %v", err)
	}

	applog.Info("👋 Server stopped")
}
