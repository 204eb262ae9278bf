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

	"github.com/joho/godotenv"

	"github.com/kirillkom/pdf-study-assistant/internal/bootstrap"
	"github.com/kirillkom/pdf-study-assistant/internal/config"
	"github.com/kirillkom/pdf-study-assistant/internal/core/domain"
	"github.com/kirillkom/pdf-study-assistant/internal/core/ports"
	"github.com/kirillkom/pdf-study-assistant/internal/core/usecase"
	"github.com/kirillkom/pdf-study-assistant/internal/observability/logging"
	"github.com/kirillkom/pdf-study-assistant/internal/observability/metrics"
)

const serviceName = "worker"

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	cfg.IngestMode = usecase.IngestModeAsync
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	metricsServer := startMetricsServer(cfg.WorkerMetricsPort, workerMetrics.Handler(), logger)

	logger.Info("worker_subscribed", "subject", cfg.NATSSubject, "queue_group", cfg.NATSQueueGroup)
	err = app.Queue.SubscribeIngestJobs(ctx, func(handlerCtx context.Context, job ports.IngestJob) error {
		return processJob(handlerCtx, app, workerMetrics, cfg.IngestTimeout, job)
	})
	if err != nil {
		logger.Error("worker_subscribe_failed", "error", err)
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}
}

func processJob(ctx context.Context, app *bootstrap.App, m *metrics.WorkerMetrics, timeout time.Duration, job ports.IngestJob) error {
	m.StartDocument()
	start := time.Now()

	redelivered := false
	if doc, err := app.Repo.GetByID(ctx, job.OwnerID, job.DocumentID); err == nil {
		m.ObserveQueueLag(serviceName, start.Sub(doc.CreatedAt))
		redelivered = doc.Status() != domain.StatusProcessing
	}

	processCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := app.ProcessUC.ProcessByID(processCtx, job.OwnerID, job.DocumentID)

	m.FinishDocument(serviceName, time.Since(start), jobStatus(ctx, app.Repo, job, redelivered, err))
	return err
}

func jobStatus(ctx context.Context, repo ports.DocumentRepository, job ports.IngestJob, redelivered bool, err error) string {
	switch {
	case domain.IsKind(err, domain.ErrDocumentNotFound):
		return "not_found"
	case err != nil:
		return "failed"
	case redelivered:
		return "skipped"
	}
	doc, getErr := repo.GetByID(ctx, job.OwnerID, job.DocumentID)
	if getErr != nil {
		return "unknown"
	}
	return string(doc.Status())
}

func startMetricsServer(port string, handler http.Handler, logger *slog.Logger) *http.Server {
	if port == "" || port == "0" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", handler)
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("worker_metrics_server_failed", "error", err)
		}
	}()
	return server
}
