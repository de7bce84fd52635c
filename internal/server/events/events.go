package events

import "time"

// Kind names the entity family a ConfigEvent refers to.
type Kind string

const (
	KindSourceServer   Kind = "source_server"
	KindTargetServer   Kind = "target_server"
	KindAuthentication Kind = "authentication"
	KindRoute          Kind = "route"
	KindRouteAuth      Kind = "route_auth"
	KindServerOptions  Kind = "server_options"
	KindReload         Kind = "reload"
)

// ConfigEvent describes a committed change to the routing configuration.
type ConfigEvent struct {
	Type      string    `json:"type"`
	Kind      Kind      `json:"kind"`
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
}

const (
	TypeCreated         = "CREATED"
	TypeUpdated         = "UPDATED"
	TypeDeleted         = "DELETED"
	TypeReloadRequested = "RELOAD_REQUESTED"
	TypeReloadFailed    = "RELOAD_FAILED"
)

// TopicConfig carries every ConfigEvent published by the model.
const TopicConfig = "feather.config.events"

// TopicReload is consumed by in-process data planes that reload on demand.
const TopicReload = "feather.reload"
