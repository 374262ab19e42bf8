package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DeafMist/insight-dashboard/internal/config"
	"github.com/DeafMist/insight-dashboard/internal/elasticsearch"
	"github.com/DeafMist/insight-dashboard/internal/insights"
	"github.com/DeafMist/insight-dashboard/internal/logger"
)

func main() {
	log := logger.New("api")
	cfg, err := config.LoadAPI()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	esClient, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, log)
	if err != nil {
		log.Error("init elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := esClient.Close(); err != nil {
			log.Error("close elasticsearch", slog.Any("err", err))
		}
	}()

	if err := esClient.WaitReady(ctx, cfg.StartupRetries, cfg.StartupRetryInterval); err != nil {
		log.Error("elasticsearch not ready", slog.Any("err", err))
		os.Exit(1)
	}

	srv := &server{
		log:    log,
		cfg:    cfg,
		svc:    insights.NewService(esClient, log),
		health: esClient,
	}

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		log.Info("api server starting",
			slog.String("addr", cfg.BindAddr),
			slog.String("index", cfg.ElasticsearchIndex),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", slog.Any("err", err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", slog.Any("err", err))
	}
}
