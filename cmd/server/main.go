package main

import (
	"context"
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
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"github.com/finiq/paper-engine/internal/api"
	"github.com/finiq/paper-engine/internal/config"
	"github.com/finiq/paper-engine/internal/metrics"
	"github.com/finiq/paper-engine/internal/portfolio"
	"github.com/finiq/paper-engine/internal/quote"
	"github.com/finiq/paper-engine/internal/risk"
	"github.com/finiq/paper-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("PAPER_CONFIG"))
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	engineCfg := portfolio.Config{
		InitialCash:        decimal.NewFromFloat(cfg.Portfolio.InitialCash),
		SlippageBps:        decimal.NewFromFloat(cfg.Portfolio.SlippageBps),
		CommissionPerShare: decimal.NewFromFloat(cfg.Portfolio.CommissionPerShare),
		MinCommission:      decimal.NewFromFloat(cfg.Portfolio.MinCommission),
	}
	initial := engineCfg.InitialAccount()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.Database.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)

		pg := store.NewPostgresStore(pool)
		if err := pg.InitSchema(context.Background(), &initial); err != nil {
			slog.Error("schema init failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Redis.Addr != "" {
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, time.Duration(cfg.Redis.TTLSec)*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("database.url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore(initial)
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Risk limits ---
	var limits *risk.Limits
	if cfg.Risk.MaxPositionValue > 0 || cfg.Risk.MaxTotalExposure > 0 {
		limits = risk.NewLimits(
			decimal.NewFromFloat(cfg.Risk.MaxPositionValue),
			decimal.NewFromFloat(cfg.Risk.MaxTotalExposure),
		)
	}

	engine := portfolio.NewEngine(st, limits, engineCfg)
	feed := quote.NewFeed()

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run()

	svc := api.NewService(engine, feed, wsHub)

	// --- Background jobs ---
	if cfg.Cron.Enabled {
		c := cron.New()
		if _, err := c.AddFunc(cfg.Cron.Poll, func() { pollCycle(engine, feed, wsHub) }); err != nil {
			slog.Error("invalid poll cron spec", "spec", cfg.Cron.Poll, "err", err)
			os.Exit(1)
		}
		if _, err := c.AddFunc(cfg.Cron.Snapshot, func() { snapshotCycle(engine, feed) }); err != nil {
			slog.Error("invalid snapshot cron spec", "spec", cfg.Cron.Snapshot, "err", err)
			os.Exit(1)
		}
		c.Start()
		cleanup = append(cleanup, func() { c.Stop() })
		slog.Info("background jobs scheduled", "poll", cfg.Cron.Poll, "snapshot", cfg.Cron.Snapshot)
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
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
		w.Write([]byte(`{"status":"ok","service":"paper-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time fill and equity updates.
		r.Get("/ws", wsHub.HandleWS)
		svc.Routes(r)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("paper-engine listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down paper-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("paper-engine stopped")
}

// pollCycle sweeps the order book against the latest quotes and
// appends an equity point.
func pollCycle(engine *portfolio.Engine, feed *quote.Feed, hub *api.WSHub) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	prices := feed.Snapshot()
	if len(prices) == 0 {
		return
	}

	fills, err := engine.CheckAndFill(ctx, prices)
	if err != nil {
		slog.Error("order sweep failed", "err", err)
	}
	for _, f := range fills {
		if f.Fill == nil {
			continue
		}
		hub.Broadcast(api.WSMessage{
			Type:    "order_filled",
			OrderID: f.Order.ID,
			Ticker:  f.Fill.Ticker,
			Action:  string(f.Fill.Action),
			Shares:  f.Fill.Shares.String(),
			Price:   f.Fill.Price.String(),
		})
	}

	summary, err := engine.Summary(ctx, prices)
	if err != nil {
		slog.Error("valuation failed", "err", err)
		return
	}
	if err := engine.RecordEquityPoint(ctx, summary.TotalValue, summary.Cash, summary.PositionsValue); err != nil {
		slog.Error("equity point failed", "err", err)
		return
	}

	hub.Broadcast(api.WSMessage{
		Type:       "equity_update",
		TotalValue: summary.TotalValue.String(),
		Cash:       summary.Cash.String(),
	})
}

// snapshotCycle records the end-of-day valuation.
func snapshotCycle(engine *portfolio.Engine, feed *quote.Feed) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	summary, err := engine.Summary(ctx, feed.Snapshot())
	if err != nil {
		slog.Error("valuation failed", "err", err)
		return
	}
	if err := engine.SaveDailySnapshot(ctx, summary.TotalValue, summary.Cash, summary.PositionsValue); err != nil {
		slog.Error("daily snapshot failed", "err", err)
		return
	}
	slog.Info("daily snapshot saved", "total_value", summary.TotalValue.String())
}
