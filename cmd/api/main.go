package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	httpadapter "github.com/kirillkom/docs-assistant/internal/adapters/http"
	"github.com/kirillkom/docs-assistant/internal/bootstrap"
	"github.com/kirillkom/docs-assistant/internal/config"
	"github.com/kirillkom/docs-assistant/internal/observability/logging"
	"github.com/kirillkom/docs-assistant/internal/observability/metrics"
)

const indexRefreshInterval = 30 * time.Second

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("api", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Name: "docs-api", Queue: true})
	if err != nil {
		slog.Error("bootstrap_failed", "error", err.Error())
		os.Exit(1)
	}
	defer app.Close()

	httpMetrics := metrics.NewHTTPServerMetrics("api")
	router, err := httpadapter.NewRouter(cfg, app.QueryUC, app.QueryUC, app.TriggerUC, app.ReindexUC, httpMetrics)
	if err != nil {
		slog.Error("router_init_failed", "error", err.Error())
		os.Exit(1)
	}

	server := &http.Server{
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	listener, err := net.Listen("tcp", ":"+cfg.APIPort)
	if err != nil {
		slog.Error("api_listen_failed", "port", cfg.APIPort, "error", err.Error())
		os.Exit(1)
	}
	if cfg.APIMaxConnections > 0 {
		listener = netutil.LimitListener(listener, cfg.APIMaxConnections)
	}

	go refreshIndexes(ctx, app)

	go func() {
		slog.Info("api_listening", "port", cfg.APIPort, "max_connections", cfg.APIMaxConnections)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api_server_failed", "error", err.Error())
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("api_shutdown_failed", "error", err.Error())
	}
}

// refreshIndexes picks up builds published by workers.
func refreshIndexes(ctx context.Context, app *bootstrap.App) {
	ticker := time.NewTicker(indexRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := app.RefreshIndexes(ctx); err != nil {
				slog.Warn("index_refresh_failed", "error", err.Error())
			}
		}
	}
}
