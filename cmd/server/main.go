package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"anonid/internal/identity"
	"anonid/internal/intake"
	"anonid/internal/platform/config"
	"anonid/internal/platform/httpserver"
	"anonid/internal/platform/logger"
	platformredis "anonid/internal/platform/redis"
	"anonid/internal/region"
	"anonid/internal/secrets"
	"anonid/internal/signals"
	"anonid/internal/store"
)

// main hosts the anonymization subsystem as a standalone service for
// development and e2e use. In production the platform embeds the library
// packages directly; this binary only adds health, metrics, and a thin
// JSON harness around the pipeline.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	rdb, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}

	var shared store.Store
	if rdb != nil {
		shared = store.NewRedis(rdb.Client)
		defer rdb.Close()
	} else {
		log.Warn("redis not configured, falling back to in-memory store (single instance only)")
		shared = store.NewMemory()
	}

	salts := secrets.Salts{Current: cfg.Salts.Current, Previous: cfg.Salts.Previous}

	deviceOpts := []identity.Option{identity.WithLogger(log)}
	kafka, err := signals.NewKafka(cfg.Kafka)
	if err != nil {
		log.Warn("signal publisher unavailable, abuse signals limited to metrics", "error", err)
	} else if kafka != nil {
		defer kafka.Close()
		deviceOpts = append(deviceOpts, identity.WithSignals(kafka))
	}

	devices, err := identity.NewManager(cfg.Device, salts, shared, deviceOpts...)
	if err != nil {
		log.Error("device manager init failed", "error", err)
		os.Exit(1)
	}
	regions, err := region.NewAnonymizer(cfg.Region, salts, shared, region.WithLogger(log))
	if err != nil {
		log.Error("region anonymizer init failed", "error", err)
		os.Exit(1)
	}

	processor := intake.NewProcessor(devices, regions, log)
	router := newRouter(processor, devices, rdb)

	srv := httpserver.New(cfg.ServerAddr, router)

	log.Info("starting anonid", "addr", cfg.ServerAddr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}
