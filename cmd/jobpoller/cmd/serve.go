package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/jobpoller/api"
	"github.com/xraph/jobpoller/engine"
	"github.com/xraph/jobpoller/telemetry"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine, the cron scheduler and the admin API",
		Long: `Run the engine until SIGINT or SIGTERM.

On start every run left in CREATED, SUBMITTED or POLLING is resumed, the
configured cron entries are registered and the admin API starts listening.
On shutdown executing runs are interrupted and stay resumable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	providers, err := telemetry.Setup(ctx, a.cfg.Telemetry, telemetry.WithLogger(a.logger))
	if err != nil {
		return err
	}
	defer func() {
		if serr := providers.Shutdown(context.Background()); serr != nil {
			a.logger.Warn("telemetry shutdown", slog.String("error", serr.Error()))
		}
	}()

	var opts []engine.Option
	if providers.Tracer != nil {
		opts = append(opts, engine.WithTracerProvider(providers.Tracer))
	}
	if providers.Meter != nil {
		opts = append(opts, engine.WithMeterProvider(providers.Meter))
	}
	eng, cleanup, err := a.openEngine(ctx, opts...)
	if err != nil {
		return err
	}
	defer cleanup()

	if err = eng.Start(ctx); err != nil {
		return err
	}
	a.logger.Info("jobpoller started",
		slog.String("worker_id", eng.WorkerID().String()),
		slog.String("store", a.cfg.Store.Driver),
	)

	g, gctx := errgroup.WithContext(ctx)
	var srv *http.Server
	if !a.cfg.HTTP.Disabled {
		srv = &http.Server{
			Addr:              a.cfg.HTTP.Addr,
			Handler:           api.New(eng, api.WithLogger(a.logger)).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			a.logger.Info("admin api listening", slog.String("addr", srv.Addr))
			if lerr := srv.ListenAndServe(); lerr != nil && !errors.Is(lerr, http.ErrServerClosed) {
				return lerr
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		if srv != nil {
			if serr := srv.Shutdown(shutdownCtx); serr != nil {
				a.logger.Warn("admin api shutdown", slog.String("error", serr.Error()))
			}
		}
		return eng.Stop(shutdownCtx)
	})
	return g.Wait()
}
