package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/welfare-scheme-portal/internal/bootstrap"
	"github.com/kirillkom/welfare-scheme-portal/internal/config"
	"github.com/kirillkom/welfare-scheme-portal/internal/core/ports"
	"github.com/kirillkom/welfare-scheme-portal/internal/core/usecase"
	snsnotify "github.com/kirillkom/welfare-scheme-portal/internal/infrastructure/notify/sns"
	"github.com/kirillkom/welfare-scheme-portal/internal/observability/logging"
	"github.com/kirillkom/welfare-scheme-portal/internal/observability/metrics"
)

func main() {
	envFile, envErr := config.LoadDotEnv()
	cfg := config.Load()
	logger := logging.NewJSONLogger("worker", cfg.LogLevel)
	if envErr != nil {
		logger.Warn("dotenv_load_failed", "error", envErr)
	} else if envFile != "" {
		logger.Info("dotenv_loaded", "path", envFile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	app, err := bootstrap.New(ctx, cfg, logger, workerMetrics)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	var reviews ports.ReviewWorkflow
	if app.Verification {
		reviews = app.Reviews
	} else {
		logger.Warn("external_verification_disabled", "reason", "DOC_LOCKER_URL is empty")
	}
	if app.Notifier == nil {
		logger.Warn("notifications_disabled", "reason", "SNS_TOPIC_ARN is empty")
	}
	handler := usecase.NewStatusEventHandler(usecase.StatusEventHandlerDeps{
		Reviews:      reviews,
		Notifier:     app.Notifier,
		ShouldNotify: snsnotify.Notifies,
		Observer:     workerMetrics,
		Logger:       logger,
	})

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("metrics_listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		logger.Info("worker_subscribed", "subject", cfg.NATSSubject, "queue_group", cfg.NATSQueueGroup)
		return app.Queue.SubscribeStatusChanged(groupCtx, handler.Handle)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("worker_stopped", "error", err)
		app.Close()
		os.Exit(1)
	}
	logger.Info("worker_stopped")
}
