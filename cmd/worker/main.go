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

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fairdatastation/internal/artifacts"
	"fairdatastation/internal/config"
	"fairdatastation/internal/jobs"
	"fairdatastation/internal/store"
	"fairdatastation/internal/telemetry"
	"fairdatastation/internal/worker"
)

func main() {
	cfg := config.Load()
	if cfg.EmbeddedWorkers() {
		log.Fatalf("store driver %q is private to one process; run cmd/api, which embeds the pollers in that mode", cfg.StoreDriver)
	}

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
	jobSvc := jobs.NewService(repo, artifactStore)

	workerID := uuid.NewString()[:8]
	if host, err := os.Hostname(); err == nil {
		workerID = host + "-" + workerID
	}
	jobPoller, deliveryPoller, err := worker.Pollers(cfg, repo, jobSvc, workerID)
	if err != nil {
		log.Fatalf("wire pollers: %v", err)
	}

	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           telemetry.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return jobPoller.Run(gctx) })
	g.Go(func() error { return deliveryPoller.Run(gctx) })
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		return metricsServer.Shutdown(shutdownCtx)
	})

	log.Printf("worker started id=%s store=%s metrics=%s", workerID, cfg.StoreDriver, cfg.MetricsAddr)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("worker: %v", err)
	}
	log.Printf("worker stopped id=%s", workerID)
}
