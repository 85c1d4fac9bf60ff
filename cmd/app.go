package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/ThatCatDev/runmymodel/internal/backend"
	"github.com/ThatCatDev/runmymodel/internal/catalog"
	"github.com/ThatCatDev/runmymodel/internal/chat"
	"github.com/ThatCatDev/runmymodel/internal/config"
	"github.com/ThatCatDev/runmymodel/internal/logging"
	"github.com/ThatCatDev/runmymodel/internal/prefs"
	"github.com/ThatCatDev/runmymodel/internal/prompts"
	"github.com/ThatCatDev/runmymodel/internal/storage"
)

// app wires the stores for one command invocation.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	logCloser io.Closer
	kv        storage.Store

	backend *backend.Client
	catalog *catalog.Store
	chats   *chat.Store
	prefs   *prefs.Store
	prompts *prompts.Library
}

// newApp builds every store from cfg. The catalog cache is initialized and
// the installed set fetched here, so the catalog store starts from the
// freshest data available.
// console enables stderr logging and must be off while the TUI owns the
// terminal.
func newApp(ctx context.Context, cfg *config.Config, console bool) (*app, error) {
	if err := config.EnsureDirs(cfg); err != nil {
		return nil, fmt.Errorf("create directories: %w", err)
	}

	logger, logCloser, err := logging.New(logging.Config{
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		Console: console,
	})
	if err != nil {
		return nil, err
	}

	kv, err := storage.Open(cfg.Storage)
	if err != nil {
		logCloser.Close()
		return nil, fmt.Errorf("open state: %w", err)
	}

	adapter, err := backend.NewAdapter(cfg, logger)
	if err != nil {
		kv.Close()
		logCloser.Close()
		return nil, err
	}

	library, err := prompts.Load(cfg.Prompts.File)
	if err != nil {
		logger.Warn().Err(err).Msg("using built-in prompts only")
		library = prompts.NewLibrary()
	}

	client := backend.New(adapter, kv,
		backend.WithTTL(cfg.Catalog.CacheTTL),
		backend.WithLogger(logger),
	)
	client.Initialize(ctx)

	a := &app{
		cfg:       cfg,
		logger:    logger,
		logCloser: logCloser,
		kv:        kv,
		backend:   client,
		catalog:   catalog.New(client, kv, catalog.WithLogger(logger)),
		chats: chat.New(client, kv,
			chat.WithLogger(logger),
			chat.WithTemperature(cfg.Chat.Temperature),
			chat.WithMaxTokens(cfg.Chat.MaxTokens),
		),
		prefs:   prefs.New(kv, logger),
		prompts: library,
	}
	if err := a.catalog.RefreshInstalledModels(ctx); err != nil {
		logger.Debug().Err(err).Msg("installed models unavailable")
	}
	logger.Debug().
		Str("backend", cfg.Backend.Kind).
		Str("url", cfg.Backend.URL).
		Str("storage", cfg.Storage.Driver).
		Int("models", len(client.AvailableModels())).
		Msg("client ready")
	return a, nil
}

func (a *app) Close() error {
	return errors.Join(a.kv.Close(), a.logCloser.Close())
}

// withApp runs fn with a freshly built app and closes it afterwards. A
// state change that could not be saved fails the command.
func withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := newApp(ctx, cfg, verbose)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := fn(a); err != nil {
		return err
	}
	return a.saveErr()
}

func (a *app) saveErr() error {
	if err := errors.Join(a.catalog.SaveErr(), a.chats.SaveErr()); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// resolveModel maps a user-typed name to a catalog ID. Unknown names are
// returned unchanged so backends can accept tags the catalog doesn't list.
func (a *app) resolveModel(name string) string {
	if m, err := a.backend.Resolve(name); err == nil {
		return m.ID
	}
	return name
}
