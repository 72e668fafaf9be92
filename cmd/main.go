package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cwrk-planet/logger/pkg/logger"
	"github.com/cwrk-planet/session-service/config"
	"github.com/cwrk-planet/session-service/internal/engine"
	"github.com/cwrk-planet/session-service/internal/session"
	httpx "github.com/cwrk-planet/session-service/internal/transport/http"
	"github.com/cwrk-planet/session-service/internal/transport/ws"
)

func main() {
	// --- config ---
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger.Init(logger.Config{
		Env:       logger.Env(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	})
	slog.Info("starting session-service",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version)

	// --- media engine client ---
	eng, err := engine.NewClient(engine.ClientOptions{
		Addr:    cfg.Engine.Addr,
		Timeout: cfg.EngineCallTimeout(),
	})
	if err != nil {
		log.Fatalf("engine client: %v", err)
	}

	// --- WS hub, broadcast dispatcher, session registry ---
	hub := ws.NewHub()
	dispatcher := ws.NewDispatcher(hub)
	registry := session.NewRegistry(eng, dispatcher, session.Options{
		RoomGracePeriod:   cfg.RoomGracePeriod(),
		EngineCallTimeout: cfg.EngineCallTimeout(),
		Logger:            slog.Default(),
	})
	wsServer := ws.NewServer(hub, registry)

	// --- HTTP ---
	handler := httpx.NewHandler(registry)
	router := httpx.NewRouter(handler, wsServer)
	httpSrv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http listen", "addr", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// --- graceful shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal", "sig", sig)
	case err := <-errCh:
		slog.Error("server error", "err", err)
	}

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpSrv.Shutdown(ctxShutdown)
	dispatcher.Stop()
	slog.Info("stopped")
}
