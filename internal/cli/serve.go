// internal/cli/serve.go
package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"collectortrack/internal/circulation"
	"collectortrack/internal/metrics"
	"collectortrack/internal/telemetry"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func newServeCommand(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the movement API over HTTP.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.HTTPAddr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	shutdownTracing, err := telemetry.Setup(ctx, a.cfg.ServiceName, a.cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			a.logger.Warn("tracer shutdown", zap.Error(err))
		}
	}()

	store, err := a.openStore(ctx, a.cfg.MigrateOnStart)
	if err != nil {
		return err
	}
	defer store.Close()

	recorder := metrics.NewRecorder()
	svc := a.service(store, circulation.WithMetrics(recorder))

	handlerOpts := []circulation.HandlerOption{circulation.WithHealthCheck(store.Ping)}
	if a.cfg.RateLimit > 0 {
		handlerOpts = append(handlerOpts, circulation.WithRateLimit(rate.NewLimiter(rate.Limit(a.cfg.RateLimit), a.cfg.RateBurst)))
	}
	handler := circulation.NewHandler(svc, a.logger, handlerOpts...)

	router := chi.NewRouter()
	router.Use(middleware.RequestID, middleware.Recoverer)
	router.Handle("/metrics", recorder.Handler())
	router.Mount("/", handler.Routes())

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(router, a.cfg.ServiceName),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		a.logger.Info("listening", zap.String("addr", a.cfg.HTTPAddr), zap.String("driver", a.cfg.DatabaseDriver))
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
