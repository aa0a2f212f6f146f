package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/atmx/adaptive-amm/internal/api"
	"github.com/atmx/adaptive-amm/internal/config"
	"github.com/atmx/adaptive-amm/internal/fee"
	"github.com/atmx/adaptive-amm/internal/metrics"
	"github.com/atmx/adaptive-amm/internal/store"
	"github.com/atmx/adaptive-amm/internal/token"
)

func main() {
	root := &cobra.Command{
		Use:          "amm",
		Short:        "Adaptive constant-product AMM engine",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the AMM HTTP server",
		RunE:  runServe,
	}

	defaults := fee.DefaultConfig()
	serveCmd.Flags().String("port", "8080", "HTTP listen port")
	serveCmd.Flags().String("database-url", "", "PostgreSQL URL; in-memory store when empty")
	serveCmd.Flags().String("redis-url", "", "Redis URL for the read-through pool cache")
	serveCmd.Flags().Duration("cache-ttl", 30*time.Second, "pool cache TTL")
	serveCmd.Flags().String("admin-token", "", "bearer token for pool creation and parameter updates")
	serveCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	serveCmd.Flags().Uint64("min-fee-bps", defaults.MinFeeBps, "default minimum fee in bps")
	serveCmd.Flags().Uint64("max-fee-bps", defaults.MaxFeeBps, "default maximum fee in bps")
	serveCmd.Flags().Uint64("beta-vol", defaults.BetaVol, "default volatility coefficient (bps per 1.0)")
	serveCmd.Flags().Uint64("gamma-slip", defaults.GammaSlip, "default slippage coefficient (bps per 1.0)")
	serveCmd.Flags().Uint64("delta-shallow", defaults.DeltaShallow, "default depth coefficient (bps per 1.0)")
	serveCmd.Flags().String("ema-alpha", "0.05", "default EMA smoothing weight, (0, 1]")
	serveCmd.Flags().String("breaker-threshold", "0.2", "default circuit breaker volatility threshold")

	root.AddCommand(serveCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	level, _ := cfg.Level()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	poolDefaults, err := cfg.PoolDefaults()
	if err != nil {
		return err
	}
	if cfg.AdminToken == "" {
		slog.Warn("admin token not set, pool creation and parameter updates are disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	st, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run()
	defer wsHub.Stop()

	// --- Pool service ---
	svc := api.NewService(st, token.NewBank(), wsHub, api.Options{
		AdminToken: cfg.AdminToken,
		Defaults:   poolDefaults,
	})
	if err := svc.Load(ctx); err != nil {
		return fmt.Errorf("restore pools: %w", err)
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"adaptive-amm"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time pool events. Registered outside
		// the timeout group since connections are long-lived.
		r.Get("/ws", wsHub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			svc.Routes(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("adaptive-amm listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	// Graceful shutdown.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down adaptive-amm...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	slog.Info("adaptive-amm stopped")
	return nil
}

// openStore picks PostgreSQL (optionally behind Redis) when a database URL
// is configured, otherwise the in-memory store.
func openStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	var cleanup []func()
	closeAll := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	if cfg.DatabaseURL == "" {
		slog.Warn("database url not set, using in-memory store (data will not persist)")
		return store.NewMemoryStore(), closeAll, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	cleanup = append(cleanup, pool.Close)

	pg := store.NewPostgresStore(pool)
	if err := pg.Migrate(ctx); err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	slog.Info("connected to PostgreSQL")

	var st store.Store = pg
	// Wrap with Redis read-through cache if configured.
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("invalid redis url: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
		slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
	}
	return st, closeAll, nil
}
