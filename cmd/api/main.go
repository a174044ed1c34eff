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

	httpadapter "github.com/kirillkom/welfare-scheme-portal/internal/adapters/http"
	"github.com/kirillkom/welfare-scheme-portal/internal/bootstrap"
	"github.com/kirillkom/welfare-scheme-portal/internal/config"
	"github.com/kirillkom/welfare-scheme-portal/internal/observability/logging"
	"github.com/kirillkom/welfare-scheme-portal/internal/observability/metrics"
)

func main() {
	envFile, envErr := config.LoadDotEnv()
	cfg := config.Load()
	logger := logging.NewJSONLogger("api", cfg.LogLevel)
	if envErr != nil {
		logger.Warn("dotenv_load_failed", "error", envErr)
	} else if envFile != "" {
		logger.Info("dotenv_loaded", "path", envFile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpMetrics := metrics.NewHTTPServerMetrics("api")
	app, err := bootstrap.New(ctx, cfg, logger, httpMetrics)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	router, err := httpadapter.NewRouter(ctx, cfg, httpadapter.RouterDeps{
		Submissions: app.Submissions,
		Reviews:     app.Reviews,
		Payments:    app.Payments,
		Reads:       app.Reads,
		Metrics:     httpMetrics,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("router_init_failed", "error", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	metricsServer := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           httpMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("api_listening", "addr", server.Addr)
		return serve(server)
	})
	group.Go(func() error {
		logger.Info("metrics_listening", "addr", metricsServer.Addr)
		return serve(metricsServer)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return errors.Join(server.Shutdown(shutdownCtx), metricsServer.Shutdown(shutdownCtx))
	})

	if err := group.Wait(); err != nil {
		logger.Error("api_stopped", "error", err)
		app.Close()
		os.Exit(1)
	}
	logger.Info("api_stopped")
}

func serve(server *http.Server) error {
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
