package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"guardian/internal/analytics"
	"guardian/internal/bot"
	"guardian/internal/config"
	"guardian/internal/modules/audit"
	"guardian/internal/mute"
	"guardian/internal/storage"
	"guardian/internal/storage/postgres"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := cli.App{
		Name:  "guardian",
		Usage: "discord moderation bot",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to the YAML config file",
				Value:   "config.yaml",
				EnvVars: []string{"CONFIG_PATH"},
			},
		},
		Action: runBot,
	}
	app.Commands = []*cli.Command{
		{
			Name:   "run",
			Usage:  "connect to discord and serve commands",
			Action: runBot,
		},
		{
			Name:  "invite",
			Usage: "print the OAuth2 URL that adds the bot to a server",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "application-id",
					Usage:    "discord application (client) id",
					EnvVars:  []string{"APPLICATION_ID"},
					Required: true,
				},
				&cli.StringFlag{
					Name:  "guild-id",
					Usage: "preselect a server in the invite dialog",
				},
			},
			Action: runInvite,
		},
	}
	app.RunAndExitOnError()
}

func runInvite(cctx *cli.Context) error {
	url, err := InviteURL(cctx.String("application-id"), cctx.String("guild-id"))
	if err != nil {
		return err
	}
	fmt.Println(url)
	return nil
}

func runBot(cctx *cli.Context) error {
	cfg, err := config.LoadFile(cctx.String("config"))
	if err != nil {
		return err
	}

	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, err := storage.New(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("storage init failed: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}

	ctx := cctx.Context
	mutes, closeMutes, err := openMuteStore(ctx, cfg, store)
	if err != nil {
		return err
	}
	defer closeMutes()

	auditLogger := audit.NewLogger(store, logger)
	analyticsEngine := analytics.New(store)

	botSvc, err := bot.New(cfg, logger, store, mutes, auditLogger, analyticsEngine)
	if err != nil {
		return fmt.Errorf("bot init failed: %w", err)
	}

	if err := botSvc.Start(ctx); err != nil {
		return fmt.Errorf("bot start failed: %w", err)
	}
	logger.Info("bot started", zap.String("storage", cfg.Storage.Driver))

	var server *http.Server
	if cfg.Health.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/health", botSvc.HealthHandler())
		mux.Handle("/metrics", promhttp.Handler())
		server = &http.Server{Addr: cfg.Health.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("health endpoint enabled", zap.String("addr", cfg.Health.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("health server error", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if server != nil {
		_ = server.Shutdown(shutdownCtx)
	}
	botSvc.Close(shutdownCtx)
	return nil
}

// openMuteStore picks where the mute ledger lives. Everything else stays in
// the SQLite store.
func openMuteStore(ctx context.Context, cfg config.Config, store *storage.Store) (mute.Persister, func(), error) {
	if cfg.Storage.Driver != config.DriverPostgres {
		return store.Mutes(), func() {}, nil
	}
	pg, err := postgres.New(ctx, cfg.Storage.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, nil, err
	}
	return pg, pg.Close, nil
}
