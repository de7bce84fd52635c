// Package reload signals a running data plane to re-read source server
// configuration. The daemon picks one Trigger from configuration; data planes
// mount NewHandler to receive the signal over HTTP.
package reload

import (
	"context"
	"time"

	"github.com/featherproxy/feather/internal/server/eventbus"
	"github.com/featherproxy/feather/internal/server/events"
)

// Trigger is a one-shot reload action. It never mutates configuration.
type Trigger interface {
	Reload(ctx context.Context) error
}

// Channel delivers reloads to an in-process data plane. Requests coalesce:
// while one is pending further ones are dropped.
type Channel struct {
	ch chan struct{}
}

// NewChannel returns a Channel with room for one pending request.
func NewChannel() *Channel {
	return &Channel{ch: make(chan struct{}, 1)}
}

// Reload enqueues a request without blocking.
func (c *Channel) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case c.ch <- struct{}{}:
	default:
	}
	return nil
}

// C is read by the data plane.
func (c *Channel) C() <-chan struct{} {
	return c.ch
}

// Bus publishes reload requests on events.TopicReload.
type Bus struct {
	bus eventbus.Bus
}

// NewBus wraps bus.
func NewBus(bus eventbus.Bus) *Bus {
	return &Bus{bus: bus}
}

func (b *Bus) Reload(ctx context.Context) error {
	return b.bus.Publish(ctx, events.TopicReload, events.ConfigEvent{
		Type:      events.TypeReloadRequested,
		Kind:      events.KindReload,
		Timestamp: time.Now().UTC(),
	})
}
