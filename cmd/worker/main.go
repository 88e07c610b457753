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

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/docs-assistant/internal/bootstrap"
	"github.com/kirillkom/docs-assistant/internal/config"
	"github.com/kirillkom/docs-assistant/internal/core/domain"
	"github.com/kirillkom/docs-assistant/internal/infrastructure/schedule"
	"github.com/kirillkom/docs-assistant/internal/infrastructure/watch"
	"github.com/kirillkom/docs-assistant/internal/observability/logging"
	"github.com/kirillkom/docs-assistant/internal/observability/metrics"
)

const serviceName = "worker"

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger(serviceName, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cfg.ValidateCorpus(); err != nil {
		slog.Error("worker_config_invalid", "error", err.Error())
		os.Exit(1)
	}
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Name: "docs-worker", Queue: true})
	if err != nil {
		slog.Error("bootstrap_failed", "error", err.Error())
		os.Exit(1)
	}
	defer app.Close()

	w := &worker{app: app, metrics: metrics.NewWorkerMetrics(serviceName), timeout: cfg.ReindexLeaseTTL()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serveMetrics(gctx, cfg.WorkerMetricsPort, w.metrics.Handler()) })

	g.Go(func() error {
		slog.Info("worker_subscribed", "subject", cfg.NATSReindexSubject)
		return app.Queue.SubscribeReindexRequested(gctx, func(handlerCtx context.Context, req domain.ReindexRequest) error {
			if !req.RequestedAt.IsZero() {
				w.metrics.ObserveQueueLag(serviceName, time.Since(req.RequestedAt))
			}
			return w.reindex(handlerCtx, req.Trigger)
		})
	})

	if cfg.ReindexCron != "" {
		scheduler := schedule.NewScheduler()
		if err := scheduler.AddJob("reindex", cfg.ReindexCron, func(jobCtx context.Context) error {
			return w.reindex(jobCtx, "cron")
		}); err != nil {
			slog.Error("worker_schedule_invalid", "error", err.Error())
			os.Exit(1)
		}
		scheduler.Start(gctx)
		defer scheduler.Stop()
	}

	if app.CorpusRoot != "" {
		watcher := watch.New(app.CorpusRoot, watch.DefaultDebounce, func(changeCtx context.Context) {
			_ = w.reindex(changeCtx, "watch")
		})
		g.Go(func() error { return watcher.Run(gctx) })
	}

	if !app.Keyword.Ready() {
		g.Go(func() error {
			_ = w.reindex(gctx, "startup")
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("worker_stopped", "error", err.Error())
		os.Exit(1)
	}
}

type worker struct {
	app     *bootstrap.App
	metrics *metrics.WorkerMetrics
	timeout time.Duration
}

// reindex runs one rebuild. A run already held by another worker is not an
// error for the caller.
func (w *worker) reindex(ctx context.Context, trigger string) error {
	runCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	w.metrics.StartReindex()
	start := time.Now()
	report, err := w.app.ReindexUC.Reindex(runCtx, trigger)
	w.metrics.FinishReindex(serviceName, trigger, time.Since(start), report, err)

	switch {
	case domain.IsKind(err, domain.ErrReindexInProgress):
		slog.Info("reindex_skipped", "trigger", trigger, "reason", "lease held by another run")
		return nil
	case err != nil:
		return err
	case report.Failed():
		return errors.New(report.Errors[0])
	}
	return nil
}

func serveMetrics(ctx context.Context, port string, handler http.Handler) error {
	if port == "" {
		<-ctx.Done()
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", handler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	slog.Info("worker_metrics_listening", "port", port)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
