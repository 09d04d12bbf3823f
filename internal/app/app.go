package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/joho/godotenv"

	"chatdb/internal/retention"
	"chatdb/pkg/config"
	"chatdb/pkg/directory"
	"chatdb/pkg/logger"
	"chatdb/pkg/migrate"
	"chatdb/pkg/monitor"
	"chatdb/pkg/state"
	"chatdb/pkg/store"
)

// App encapsulates the server components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	store *store.Store
	dir   *directory.ChatDirectory
	mon   *monitor.Monitor

	retCancel context.CancelFunc
	srv       *http.Server
}

// New initializes everything that does not require a running context:
// config validation, runtime keys, state dirs, the store and the chat
// directory. Call Run to start the HTTP server and block until shutdown.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	// validate effective config early and fail fast
	if err := validateConfig(eff); err != nil {
		return nil, err
	}

	if err := logger.Init(eff.Config.Logging.Level, eff.Config.Logging.Format); err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}

	// runtime keys and directory admins
	runtimeCfg := &config.RuntimeConfig{
		BackendKeys: map[string]struct{}{},
		SigningKeys: map[string]struct{}{},
		AdminUsers:  map[string]struct{}{},
	}
	for _, k := range eff.Config.Security.APIKeys.Backend {
		runtimeCfg.BackendKeys[k] = struct{}{}
		runtimeCfg.SigningKeys[k] = struct{}{}
	}
	for _, u := range eff.Config.Directory.Admins {
		runtimeCfg.AdminUsers[u] = struct{}{}
	}
	config.SetRuntime(runtimeCfg)

	if err := state.EnsureStateDirs(eff.DBPath); err != nil {
		return nil, fmt.Errorf("state dirs: %w", err)
	}

	s, err := store.Open(eff.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", eff.DBPath, err)
	}

	if _, err := migrate.Run(context.Background(), s, version); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	a := &App{eff: eff, version: version, commit: commit, buildDate: buildDate, store: s}
	a.dir = directory.New(s, newIdentity(eff.Config), newAuthorizer(), newMediaResolver(eff.Config))
	a.mon = monitor.New(s, 0)
	return a, nil
}

// Run starts the retention scheduler and the HTTP server, and blocks
// until ctx is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	cancel, err := retention.Start(ctx, a.eff, a.store)
	if err != nil {
		return err
	}
	a.retCancel = cancel
	retention.SetRuntime(a.eff, a.store)

	a.mon.Start()

	a.printBanner()

	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Close releases app resources in shutdown order.
func (a *App) Close() error {
	if a.mon != nil {
		a.mon.Stop()
	}
	if a.retCancel != nil {
		a.retCancel()
	}
	if a.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = a.srv.Shutdown(ctx)
	}
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}
