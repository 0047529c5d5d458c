package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"golang.org/x/crypto/bcrypt"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/presence"
	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// A missing .env file is fine.
	envErr := godotenv.Load()

	cmd := &cli.Command{
		Name:  "roomchat",
		Usage: "room based realtime chat server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "port", Usage: "listen address, overrides SERVER_PORT"},
			&cli.StringFlag{Name: "env", Usage: "dev or prod, overrides APP_ENV"},
			&cli.StringFlag{Name: "store", Usage: "bolt or postgres, overrides STORE_DRIVER"},
			&cli.StringFlag{Name: "bolt-path", Usage: "bolt database file, overrides BOLT_PATH"},
			&cli.BoolFlag{Name: "case-insensitive-names", Usage: "fold case when checking duplicate names"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := server.NewConfigFromEnv()
			applyFlags(cmd, cfg)

			logger := server.NewLogger(cfg.Env)
			if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
				logger.Warn("error loading .env file", "err", envErr)
			}
			return run(ctx, *cfg, logger)
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func applyFlags(cmd *cli.Command, cfg *server.Config) {
	if cmd.IsSet("port") {
		cfg.Port = cmd.String("port")
	}
	if cmd.IsSet("env") {
		cfg.Env = cmd.String("env")
	}
	if cmd.IsSet("store") {
		cfg.StoreDriver = cmd.String("store")
	}
	if cmd.IsSet("bolt-path") {
		cfg.BoltPath = cmd.String("bolt-path")
	}
	if cmd.IsSet("case-insensitive-names") {
		cfg.CaseInsensitiveNames = cmd.Bool("case-insensitive-names")
	}
}

func run(ctx context.Context, cfg server.Config, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	users, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore.Close(); err != nil {
			logger.Warn("error closing store", "err", err)
		}
	}()

	var opts []presence.Option
	if cfg.CaseInsensitiveNames {
		opts = append(opts, presence.WithCaseInsensitiveNames())
	}
	registry := presence.New(opts...)
	metrics := server.NewMetrics(registry)

	accounts := auth.NewService(
		users,
		auth.NewPasswordHasher(bcrypt.DefaultCost),
		auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL),
		logger,
	)

	srv := server.New(cfg, registry, logger,
		server.WithMetrics(metrics),
		server.WithAccounts(accounts),
	)
	srv.Start()

	httpServer := server.CreateServer(cfg.Port, srv.Routes())
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer, logger)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			_ = srv.Shutdown(shutdownTimeout)
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	if err := server.ShutdownServer(httpServer, shutdownTimeout, logger); err != nil {
		logger.Error("HTTP server did not shut down cleanly", "err", err)
	}
	if err := srv.Shutdown(shutdownTimeout); err != nil {
		logger.Error("hub did not shut down cleanly", "err", err)
	}
	logger.Info("server stopped")
	return nil
}

// openStore returns the account store selected by cfg.StoreDriver.
func openStore(ctx context.Context, cfg server.Config, logger *slog.Logger) (auth.UserStore, io.Closer, error) {
	switch cfg.StoreDriver {
	case server.StorePostgres:
		pg, err := store.NewPostgres(ctx, cfg.PostgresURL, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("using postgres store")
		return pg, pg, nil
	default:
		bolt, err := store.OpenBolt(cfg.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using bolt store", "path", cfg.BoltPath)
		return bolt, bolt, nil
	}
}
