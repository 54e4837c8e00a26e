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

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	api "fairdatastation/internal/api"
	"fairdatastation/internal/artifacts"
	"fairdatastation/internal/config"
	"fairdatastation/internal/jobs"
	"fairdatastation/internal/ratelimit"
	"fairdatastation/internal/store"
	"fairdatastation/internal/worker"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := store.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("open store driver=%s: %v", cfg.StoreDriver, err)
	}
	defer closeRepo()

	artifactStore, err := artifacts.FromConfig(ctx, cfg)
	if err != nil {
		log.Fatalf("artifact storage: %v", err)
	}

	redisLimiter := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisLimiter.Close()
	limiter := ratelimit.NewTokenBucket(redisLimiter, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	jobSvc := jobs.NewService(repo, artifactStore)
	server := api.New(cfg, jobSvc, limiter)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.EmbeddedWorkers() {
		jobPoller, deliveryPoller, err := worker.Pollers(cfg, repo, jobSvc, "embedded")
		if err != nil {
			log.Fatalf("wire pollers: %v", err)
		}
		log.Printf("running pollers in-process store=%s", cfg.StoreDriver)
		g.Go(func() error { return ignoreCanceled(jobPoller.Run(gctx)) })
		g.Go(func() error { return ignoreCanceled(deliveryPoller.Run(gctx)) })
	}
	g.Go(func() error {
		log.Printf("api listening on :%s store=%s", cfg.HTTPPort, cfg.StoreDriver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		return httpServer.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.Fatalf("api: %v", err)
	}
	log.Printf("api stopped")
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
