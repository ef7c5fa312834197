package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/riftzone/riftzone/internal/bot"
	"github.com/riftzone/riftzone/internal/catalog"
	"github.com/riftzone/riftzone/internal/config"
	"github.com/riftzone/riftzone/internal/game"
	"github.com/riftzone/riftzone/internal/handler/health"
	"github.com/riftzone/riftzone/internal/housekeeping"
	"github.com/riftzone/riftzone/internal/identity"
	"github.com/riftzone/riftzone/internal/server"
	"github.com/riftzone/riftzone/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	self, err := botIdentity(cfg)
	if err != nil {
		return err
	}

	// --- Quiz catalog ---
	cat, err := catalog.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening catalog: %w", err)
	}
	defer cat.Close()
	if err := cat.SeedDemo(ctx, logger); err != nil {
		return fmt.Errorf("seeding catalog: %w", err)
	}
	logger.Info("catalog ready", "path", cfg.DBPath)

	// --- Shared record store ---
	rdb, err := openRedis(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer rdb.Close()

	st, err := store.OpenRedis(ctx, rdb, self.ID, logger)
	if err != nil {
		return fmt.Errorf("opening record store: %w", err)
	}
	defer st.Close()
	logger.Info("record store ready", "client", self.ID)

	// --- Housekeeping ---
	sweeper := housekeeping.New(st, logger, cfg.MatchRetention, cfg.InviteTTL)
	if err := sweeper.Start(cfg.SweepInterval); err != nil {
		return fmt.Errorf("starting housekeeping: %w", err)
	}
	defer sweeper.Stop()

	// --- Practice opponent ---
	duelist := bot.New(st, logger, self, cfg.Policy(), bot.Strategy{
		Accuracy:    cfg.BotAccuracy,
		AnswerDelay: cfg.BotAnswerDelay,
	}, cfg.InviteTTL)

	// --- Ops HTTP server ---
	srv := server.New(cfg.HTTPAddr, logger, func(r chi.Router) {
		r.Mount("/healthz", health.NewHandler(logger, map[string]health.Checker{
			"redis":   health.CheckerFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
			"catalog": health.CheckerFunc(cat.Check),
		}).Routes())
	})

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		return srv.Shutdown(context.Background())
	})

	g.Go(func() error {
		return duelist.Run(gctx)
	})

	return g.Wait()
}

// botIdentity resolves the local participant: a verified auth token when
// configured, a fixed local identity otherwise.
func botIdentity(cfg *config.Config) (game.Participant, error) {
	if cfg.AuthToken != "" {
		self, err := identity.FromToken(cfg.AuthToken, []byte(cfg.AuthSecret))
		if err != nil {
			return game.Participant{}, fmt.Errorf("verifying auth token: %w", err)
		}
		return self, nil
	}
	return game.Participant{ID: "riftbot", Name: "Riftbot"}, nil
}

func openRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}
