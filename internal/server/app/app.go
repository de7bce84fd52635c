package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/featherproxy/feather/internal/server/config"
	"github.com/featherproxy/feather/internal/server/db"
	"github.com/featherproxy/feather/internal/server/eventbus"
	"github.com/featherproxy/feather/internal/server/events"
	"github.com/featherproxy/feather/internal/server/model"
	"github.com/featherproxy/feather/internal/server/reload"
)

// App wires the config, persistence, event bus and HTTP transports.
type App struct {
	cfg          config.ServerConfig
	logger       *slog.Logger
	store        db.Store
	events       eventbus.Bus
	httpServer   *http.Server
	reloadServer *http.Server
	shutdownWait time.Duration
}

// New constructs the daemon application. relay may be nil when no reload
// receiver is configured.
func New(cfg config.ServerConfig, logger *slog.Logger, store db.Store, events eventbus.Bus, api http.Handler, relay http.Handler) (*App, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	if api == nil {
		return nil, fmt.Errorf("api handler must not be nil")
	}

	a := &App{
		cfg:          cfg,
		logger:       logger,
		store:        store,
		events:       events,
		httpServer:   newServer(cfg.APIListenAddr, api),
		shutdownWait: 15 * time.Second,
	}
	if relay != nil && strings.TrimSpace(cfg.ReloadListenAddr) != "" {
		a.reloadServer = newServer(cfg.ReloadListenAddr, relay)
	}
	return a, nil
}

func newServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: the SSE and websocket event streams are long lived.
		IdleTimeout: 120 * time.Second,
	}
}

// NewReloader picks the reload trigger for cfg: an HTTP call to the data
// plane when FEATHER_RELOAD_URL is set, otherwise a publish on bus.
func NewReloader(cfg config.ServerConfig, bus eventbus.Bus) (model.Reloader, error) {
	if strings.TrimSpace(cfg.ReloadURL) != "" {
		trigger, err := reload.NewHTTP(cfg.ReloadURL, cfg.ReloadKey, &http.Client{Timeout: cfg.ReloadTimeout})
		if err != nil {
			return nil, err
		}
		return trigger, nil
	}
	if bus == nil {
		return nil, nil
	}
	return reload.NewBus(bus), nil
}

// Run serves the API (and the reload receiver, when configured), blocking
// until context cancellation.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 2)
	serve := func(name string, srv *http.Server) {
		a.logger.Info(name+" listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s: %w", name, err)
		}
	}
	go serve("api server", a.httpServer)
	if a.reloadServer != nil {
		go serve("reload receiver", a.reloadServer)
	}

	if a.events != nil {
		unsubscribe, err := a.watchReloads(ctx)
		if err != nil {
			a.logger.Warn("subscribe reload topic", "error", err)
		} else {
			defer unsubscribe()
		}
	}

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownWait)
	defer cancel()
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http shutdown", "error", err)
	}
	if a.reloadServer != nil {
		if err := a.reloadServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("reload receiver shutdown", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(shutdownCtx); err != nil {
			a.logger.Error("store close", "error", err)
		}
	}
	return runErr
}

// watchReloads logs every reload request published in process so an operator
// can see bus-delivered reloads even without an attached data plane.
func (a *App) watchReloads(ctx context.Context) (func(), error) {
	ch := make(chan any, 4)
	unsubscribe, err := a.events.Subscribe(events.TopicReload, ch)
	if err != nil {
		return nil, err
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case payload := <-ch:
				if event, ok := payload.(events.ConfigEvent); ok {
					a.logger.Info("reload requested", "at", event.Timestamp)
				}
			}
		}
	}()
	return unsubscribe, nil
}
