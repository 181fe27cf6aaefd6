package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/api"
	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/cache"
	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/config"
	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/metrics"
	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/scan"
	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/universalis"
	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/xivapi"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

	// --- Initialize cache store ---
	var st cache.Store
	var cleanup []func()

	if cfg.RedisURL != "" {
		rs, err := cache.NewRedisStore(cfg.RedisURL)
		if err != nil {
			slog.Error("redis connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, func() { rs.Close() })
		st = rs
		slog.Info("connected to Redis")
	} else {
		slog.Warn("REDIS_URL not set, using in-memory store (cache will not persist)")
		st = cache.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Upstream clients ---
	market := universalis.New(cfg, st)
	names := xivapi.New(cfg, st)

	// --- WebSocket hub ---
	hub := api.NewHub()
	go hub.Run()

	// --- Scan job ---
	job := scan.New(st, market, names, cfg, hub.Broadcast)
	reader := scan.NewReader(st, names, 0)

	// --- HTTP service ---
	svc := api.NewService(cfg, st, market, names, job, reader, hub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", svc.Health)

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", svc.Routes)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("ffxiv-broker listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down ffxiv-broker...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("ffxiv-broker stopped")
}
