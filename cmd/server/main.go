package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"posledger/backend/internal/analytics"
	"posledger/backend/internal/bridge"
	"posledger/backend/internal/config"
	"posledger/backend/internal/httpapi"
	"posledger/backend/internal/metrics"
	"posledger/backend/internal/service"
	"posledger/backend/internal/store"
	storememory "posledger/backend/internal/store/memory"
	storemongo "posledger/backend/internal/store/mongo"
)

type backend interface {
	store.Repository
	store.ChangeFeed
}

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var repo backend
	if cfg.MongoURI != "" {
		mongoStore, err := storemongo.New(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			log.Printf("[main] FATAL: mongodb: %v", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mongoStore.Close(shutdownCtx); err != nil {
				log.Printf("[main] WARN: mongodb close: %v", err)
			}
		}()
		repo = mongoStore
	} else {
		log.Printf("[main] MONGO_URI not set, using seeded in-memory store")
		repo = storememory.NewSeeded()
	}

	var cache analytics.SnapshotCache = analytics.NoopCache{}
	if cfg.RedisAddr != "" {
		redisCache, err := analytics.NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Printf("[main] FATAL: redis: %v", err)
			os.Exit(1)
		}
		defer redisCache.Close()
		cache = redisCache
		log.Printf("[main] analytics snapshot cache on redis %s", cfg.RedisAddr)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	mirror := bridge.New(repo)
	if err := mirror.Start(ctx); err != nil {
		log.Printf("[main] FATAL: change feed: %v", err)
		os.Exit(1)
	}
	defer mirror.Close()

	svc := service.New(repo, m)
	engine := analytics.NewEngine(mirror, cache, m, cfg.LowStockThreshold, cfg.SnapshotTTL)
	api := httpapi.New(svc, engine)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/", api.Handler())

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("[main] listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[main] FATAL: http server: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Printf("[main] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] WARN: http shutdown: %v", err)
	}
}
