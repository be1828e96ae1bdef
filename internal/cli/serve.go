package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/storefront-realtime/internal/backend/local"
	"github.com/DoyleJ11/storefront-realtime/internal/config"
	"github.com/DoyleJ11/storefront-realtime/internal/httpapi"
	"github.com/DoyleJ11/storefront-realtime/internal/hub"
	"github.com/DoyleJ11/storefront-realtime/internal/pgfeed"
	"github.com/DoyleJ11/storefront-realtime/internal/store"
)

type ServeOptions struct {
	*RootOptions
	Addr string
}

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and realtime server",
		Long: `Run the storefront server.

Tables live in DATABASE_URL (SQLite by default, Postgres for postgres:// URLs).
With REALTIME_SOURCE=postgres, change events come from database triggers
instead of the server's own writes, so writes made by other clients are
streamed too.

Example:
  storefront serve --addr :8080
  DATABASE_URL=postgres://localhost/shop REALTIME_SOURCE=postgres storefront serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			if opts.Addr != "" {
				cfg.Addr = opts.Addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides STOREFRONT_ADDR)")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, log *zap.Logger) (err error) {
	s, err := store.Open(cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, s.Close()) }()

	h := hub.NewHub(ctx, log)
	defer h.Shutdown()

	g, ctx := errgroup.WithContext(ctx)

	switch cfg.RealtimeSource {
	case config.SourcePostgres:
		feed := pgfeed.New(cfg.DatabaseURL, cfg.NotifyChannel, s, h, log)
		if err := feed.Install(ctx); err != nil {
			return fmt.Errorf("install change feed: %w", err)
		}
		g.Go(func() error { return feed.Run(ctx) })
	default:
		s.SetPublisher(h)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.SetupRoutes(local.New(s, h), h, log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Addr), zap.String("realtime", cfg.RealtimeSource))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		// stop realtime first so open websockets are closed by the server
		h.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
