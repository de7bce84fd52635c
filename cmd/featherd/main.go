package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/featherproxy/feather/internal/server/app"
	"github.com/featherproxy/feather/internal/server/config"
	"github.com/featherproxy/feather/internal/server/db/sqlite"
	"github.com/featherproxy/feather/internal/server/eventbus/memory"
	"github.com/featherproxy/feather/internal/server/httpapi"
	"github.com/featherproxy/feather/internal/server/model"
	"github.com/featherproxy/feather/internal/server/reload"
	"github.com/featherproxy/feather/internal/server/secret"
	"github.com/featherproxy/feather/internal/shared/logging"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := logging.New("featherd")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	store, err := sqlite.Open(ctx, cfg.DatabasePath)
	if err != nil {
		logger.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}

	sealer, err := secret.NewSealer(cfg.AuthKey)
	if errors.Is(err, secret.ErrKeyMissing) {
		logger.Warn("FEATHER_AUTH_KEY not set; authentication writes are disabled")
		sealer = nil
	} else if err != nil {
		logger.Error("init token sealer", "error", err)
		os.Exit(1)
	}

	events := memory.New()

	reloader, err := app.NewReloader(cfg, events)
	if err != nil {
		logger.Error("init reload trigger", "error", err)
		os.Exit(1)
	}

	configModel, err := model.New(model.Params{
		Store:         store,
		Logger:        logger,
		Sealer:        sealer,
		Bus:           events,
		Reloader:      reloader,
		StoreTimeout:  cfg.StoreTimeout,
		ReloadTimeout: cfg.ReloadTimeout,
		AutoReload:    cfg.AutoReload,
	})
	if err != nil {
		logger.Error("init model", "error", err)
		os.Exit(1)
	}

	handler := httpapi.New(logger, configModel, events, httpapi.Options{
		APIKey:     cfg.APIKey,
		AllowCIDRs: cfg.APIAllowCIDRs,
	})
	relay := reload.NewHandler(reload.NewBus(events), cfg.ReloadKey, logger)

	daemon, err := app.New(cfg, logger, store, events, handler, relay)
	if err != nil {
		logger.Error("init app", "error", err)
		os.Exit(1)
	}

	if err := daemon.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("daemon exit", "error", err)
		os.Exit(1)
	}
}
