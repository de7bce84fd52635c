// Package model is the routing configuration consistency model. It validates
// every mutation, resolves cross-entity references inside one store
// transaction and keeps the route/authentication relations free of dangling
// ids.
package model

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/featherproxy/feather/internal/server/db"
	"github.com/featherproxy/feather/internal/server/eventbus"
	"github.com/featherproxy/feather/internal/server/events"
	"github.com/featherproxy/feather/internal/server/secret"
)

const (
	DefaultStoreTimeout  = 5 * time.Second
	DefaultReloadTimeout = 10 * time.Second
)

// Reloader signals a live data plane to re-read source server configuration.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Params wires dependencies for the configuration model.
type Params struct {
	Store  db.Store
	Logger *slog.Logger
	// Sealer encrypts authentication tokens. Nil leaves authentication
	// writes unavailable while every other operation keeps working.
	Sealer        *secret.Sealer
	Bus           eventbus.Bus
	Reloader      Reloader
	StoreTimeout  time.Duration
	ReloadTimeout time.Duration
	// AutoReload triggers Reloader after each source server mutation.
	AutoReload bool
}

// Model is safe for concurrent use; all shared state lives in the store.
type Model struct {
	store         db.Store
	logger        *slog.Logger
	sealer        *secret.Sealer
	bus           eventbus.Bus
	reloader      Reloader
	storeTimeout  time.Duration
	reloadTimeout time.Duration
	autoReload    bool
	newID         func() string
}

// New constructs a Model.
func New(params Params) (*Model, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("model: store is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("model: logger is required")
	}
	storeTimeout := params.StoreTimeout
	if storeTimeout <= 0 {
		storeTimeout = DefaultStoreTimeout
	}
	reloadTimeout := params.ReloadTimeout
	if reloadTimeout <= 0 {
		reloadTimeout = DefaultReloadTimeout
	}
	return &Model{
		store:         params.Store,
		logger:        params.Logger.With("component", "model"),
		sealer:        params.Sealer,
		bus:           params.Bus,
		reloader:      params.Reloader,
		storeTimeout:  storeTimeout,
		reloadTimeout: reloadTimeout,
		autoReload:    params.AutoReload,
		newID:         uuid.NewString,
	}, nil
}

// read runs fn against the root connection under the store timeout.
func (m *Model) read(ctx context.Context, op string, fn func(ctx context.Context, q db.Queries) error) error {
	ctx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	defer cancel()
	return classify(op, fn(ctx, m.store.Queries()))
}

// write runs fn inside one store transaction under the store timeout.
func (m *Model) write(ctx context.Context, op string, fn func(ctx context.Context, q db.Queries) error) error {
	ctx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	defer cancel()
	return classify(op, m.store.WithTx(ctx, func(q db.Queries) error {
		return fn(ctx, q)
	}))
}

func (m *Model) publish(ctx context.Context, typ string, kind events.Kind, id, message string) {
	if m.bus == nil {
		return
	}
	event := events.ConfigEvent{
		Type:      typ,
		Kind:      kind,
		ID:        id,
		Timestamp: time.Now().UTC(),
		Message:   message,
	}
	if err := m.bus.Publish(context.WithoutCancel(ctx), events.TopicConfig, event); err != nil {
		m.logger.Debug("publish config event failed", "type", typ, "kind", kind, "id", id, "error", err)
	}
}

// Reload invokes the configured Reloader, bounded by the reload timeout.
func (m *Model) Reload(ctx context.Context) error {
	if m.reloader == nil {
		return UnavailableError{Component: "reload trigger"}
	}
	ctx, cancel := context.WithTimeout(ctx, m.reloadTimeout)
	defer cancel()
	if err := m.reloader.Reload(ctx); err != nil {
		m.publish(ctx, events.TypeReloadFailed, events.KindReload, "", err.Error())
		return TransportError{Op: "reload", Err: err}
	}
	m.publish(ctx, events.TypeReloadRequested, events.KindReload, "", "reload delivered")
	return nil
}

// afterSourceServerChange fires an asynchronous reload when auto reload is on.
// Its outcome never affects the mutation that preceded it.
func (m *Model) afterSourceServerChange(id string) {
	if !m.autoReload || m.reloader == nil {
		return
	}
	go func() {
		if err := m.Reload(context.Background()); err != nil {
			m.logger.Warn("auto reload failed", "source_server", id, "error", err)
		}
	}()
}
