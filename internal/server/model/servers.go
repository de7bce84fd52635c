package model

import (
	"context"
	"fmt"
	"strings"

	"github.com/featherproxy/feather/internal/server/db"
	"github.com/featherproxy/feather/internal/server/events"
)

// SourceServerInput carries the writable fields of a source server.
type SourceServerInput struct {
	Name     string
	Protocol string
	Host     string
	Port     int
}

// TargetServerInput carries the writable fields of a target server.
type TargetServerInput struct {
	Name     string
	Protocol string
	Host     string
	Port     int
	BasePath string
}

type serverFields struct {
	name     string
	protocol Protocol
	host     string
	port     int
}

func validateServer(name, protocol, host string, port int) (serverFields, error) {
	if err := validatePort(port); err != nil {
		return serverFields{}, err
	}
	p, err := validateProtocol(protocol)
	if err != nil {
		return serverFields{}, err
	}
	h, err := validateHost(host)
	if err != nil {
		return serverFields{}, err
	}
	return serverFields{name: strings.TrimSpace(name), protocol: p, host: h, port: port}, nil
}

func (in SourceServerInput) normalize() (serverFields, error) {
	return validateServer(in.Name, in.Protocol, in.Host, in.Port)
}

func (in TargetServerInput) normalize() (serverFields, string, error) {
	fields, err := validateServer(in.Name, in.Protocol, in.Host, in.Port)
	if err != nil {
		return serverFields{}, "", err
	}
	basePath, err := validatePath("base_path", in.BasePath, false)
	if err != nil {
		return serverFields{}, "", err
	}
	return fields, basePath, nil
}

// ListSourceServers returns every source server.
func (m *Model) ListSourceServers(ctx context.Context) ([]db.SourceServer, error) {
	var out []db.SourceServer
	err := m.read(ctx, "list source servers", func(ctx context.Context, q db.Queries) error {
		var err error
		out, err = q.SourceServers().List(ctx)
		return err
	})
	return out, err
}

// GetSourceServer resolves one source server.
func (m *Model) GetSourceServer(ctx context.Context, id string) (*db.SourceServer, error) {
	var out *db.SourceServer
	err := m.read(ctx, "get source server", func(ctx context.Context, q db.Queries) error {
		s, err := q.SourceServers().Get(ctx, id)
		if err != nil {
			return notFound(kindSourceServer, id, err)
		}
		out = s
		return nil
	})
	return out, err
}

// CreateSourceServer validates in and persists a new source server.
func (m *Model) CreateSourceServer(ctx context.Context, in SourceServerInput) (*db.SourceServer, error) {
	fields, err := in.normalize()
	if err != nil {
		return nil, err
	}
	server := &db.SourceServer{
		ID:       m.newID(),
		Name:     fields.name,
		Protocol: string(fields.protocol),
		Host:     fields.host,
		Port:     fields.port,
	}
	if err := m.write(ctx, "create source server", func(ctx context.Context, q db.Queries) error {
		return q.SourceServers().Create(ctx, server)
	}); err != nil {
		return nil, err
	}
	m.logger.Info("source server created", "id", server.ID, "label", DisplayLabel(server.Name, server.Host, server.Port))
	m.publish(ctx, events.TypeCreated, events.KindSourceServer, server.ID, "")
	m.afterSourceServerChange(server.ID)
	return server, nil
}

// UpdateSourceServer replaces the fields of an existing source server. A
// protocol change is refused when it would break any route using the server.
func (m *Model) UpdateSourceServer(ctx context.Context, id string, in SourceServerInput) (*db.SourceServer, error) {
	fields, err := in.normalize()
	if err != nil {
		return nil, err
	}
	var server *db.SourceServer
	err = m.write(ctx, "update source server", func(ctx context.Context, q db.Queries) error {
		current, err := q.SourceServers().Get(ctx, id)
		if err != nil {
			return notFound(kindSourceServer, id, err)
		}
		if ParseProtocol(current.Protocol) != fields.protocol {
			if err := checkDependentRoutes(ctx, q, id, fields.protocol, true); err != nil {
				return err
			}
		}
		current.Name = fields.name
		current.Protocol = string(fields.protocol)
		current.Host = fields.host
		current.Port = fields.port
		if err := q.SourceServers().Update(ctx, current); err != nil {
			return notFound(kindSourceServer, id, err)
		}
		server = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.publish(ctx, events.TypeUpdated, events.KindSourceServer, id, "")
	m.afterSourceServerChange(id)
	return server, nil
}

// DeleteSourceServer removes a source server and its options. It fails with
// ConflictError while any route still uses the server.
func (m *Model) DeleteSourceServer(ctx context.Context, id string) error {
	err := m.write(ctx, "delete source server", func(ctx context.Context, q db.Queries) error {
		if _, err := q.SourceServers().Get(ctx, id); err != nil {
			return notFound(kindSourceServer, id, err)
		}
		if err := refuseIfReferenced(ctx, q, kindSourceServer, id, func(r db.Route) bool { return r.SourceServerID == id }); err != nil {
			return err
		}
		if err := q.ServerOptions().DeleteForServer(ctx, id); err != nil {
			return err
		}
		return notFound(kindSourceServer, id, q.SourceServers().Delete(ctx, id))
	})
	if err != nil {
		return err
	}
	m.logger.Info("source server deleted", "id", id)
	m.publish(ctx, events.TypeDeleted, events.KindSourceServer, id, "")
	m.afterSourceServerChange(id)
	return nil
}

// ListTargetServers returns every target server.
func (m *Model) ListTargetServers(ctx context.Context) ([]db.TargetServer, error) {
	var out []db.TargetServer
	err := m.read(ctx, "list target servers", func(ctx context.Context, q db.Queries) error {
		var err error
		out, err = q.TargetServers().List(ctx)
		return err
	})
	return out, err
}

// GetTargetServer resolves one target server.
func (m *Model) GetTargetServer(ctx context.Context, id string) (*db.TargetServer, error) {
	var out *db.TargetServer
	err := m.read(ctx, "get target server", func(ctx context.Context, q db.Queries) error {
		t, err := q.TargetServers().Get(ctx, id)
		if err != nil {
			return notFound(kindTargetServer, id, err)
		}
		out = t
		return nil
	})
	return out, err
}

// CreateTargetServer validates in and persists a new target server.
func (m *Model) CreateTargetServer(ctx context.Context, in TargetServerInput) (*db.TargetServer, error) {
	fields, basePath, err := in.normalize()
	if err != nil {
		return nil, err
	}
	server := &db.TargetServer{
		ID:       m.newID(),
		Name:     fields.name,
		Protocol: string(fields.protocol),
		Host:     fields.host,
		Port:     fields.port,
		BasePath: basePath,
	}
	if err := m.write(ctx, "create target server", func(ctx context.Context, q db.Queries) error {
		return q.TargetServers().Create(ctx, server)
	}); err != nil {
		return nil, err
	}
	m.logger.Info("target server created", "id", server.ID, "label", DisplayLabel(server.Name, server.Host, server.Port))
	m.publish(ctx, events.TypeCreated, events.KindTargetServer, server.ID, "")
	return server, nil
}

// UpdateTargetServer replaces the fields of an existing target server.
func (m *Model) UpdateTargetServer(ctx context.Context, id string, in TargetServerInput) (*db.TargetServer, error) {
	fields, basePath, err := in.normalize()
	if err != nil {
		return nil, err
	}
	var server *db.TargetServer
	err = m.write(ctx, "update target server", func(ctx context.Context, q db.Queries) error {
		current, err := q.TargetServers().Get(ctx, id)
		if err != nil {
			return notFound(kindTargetServer, id, err)
		}
		if ParseProtocol(current.Protocol) != fields.protocol {
			if err := checkDependentRoutes(ctx, q, id, fields.protocol, false); err != nil {
				return err
			}
		}
		current.Name = fields.name
		current.Protocol = string(fields.protocol)
		current.Host = fields.host
		current.Port = fields.port
		current.BasePath = basePath
		if err := q.TargetServers().Update(ctx, current); err != nil {
			return notFound(kindTargetServer, id, err)
		}
		server = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.publish(ctx, events.TypeUpdated, events.KindTargetServer, id, "")
	return server, nil
}

// DeleteTargetServer removes a target server. It fails with ConflictError
// while any route still forwards to it.
func (m *Model) DeleteTargetServer(ctx context.Context, id string) error {
	err := m.write(ctx, "delete target server", func(ctx context.Context, q db.Queries) error {
		if _, err := q.TargetServers().Get(ctx, id); err != nil {
			return notFound(kindTargetServer, id, err)
		}
		if err := refuseIfReferenced(ctx, q, kindTargetServer, id, func(r db.Route) bool { return r.TargetServerID == id }); err != nil {
			return err
		}
		return notFound(kindTargetServer, id, q.TargetServers().Delete(ctx, id))
	})
	if err != nil {
		return err
	}
	m.logger.Info("target server deleted", "id", id)
	m.publish(ctx, events.TypeDeleted, events.KindTargetServer, id, "")
	return nil
}

func refuseIfReferenced(ctx context.Context, q db.Queries, kind, id string, uses func(db.Route) bool) error {
	routes, err := q.Routes().ListByServer(ctx, id)
	if err != nil {
		return err
	}
	count := 0
	for _, r := range routes {
		if uses(r) {
			count++
		}
	}
	if count > 0 {
		return ConflictError{Err: fmt.Errorf("%s %q is used by %d route(s); delete or re-point them first", kind, id, count)}
	}
	return nil
}

// checkDependentRoutes verifies that switching server id to protocol p keeps
// every route that references it compatible.
func checkDependentRoutes(ctx context.Context, q db.Queries, id string, p Protocol, isSource bool) error {
	routes, err := q.Routes().ListByServer(ctx, id)
	if err != nil {
		return err
	}
	for _, r := range routes {
		var source, target Protocol
		switch {
		case isSource && r.SourceServerID == id:
			peer, err := q.TargetServers().Get(ctx, r.TargetServerID)
			if err != nil {
				return notFound(kindTargetServer, r.TargetServerID, err)
			}
			source, target = p, ParseProtocol(peer.Protocol)
		case !isSource && r.TargetServerID == id:
			peer, err := q.SourceServers().Get(ctx, r.SourceServerID)
			if err != nil {
				return notFound(kindSourceServer, r.SourceServerID, err)
			}
			source, target = ParseProtocol(peer.Protocol), p
		default:
			continue
		}
		if !Compatible(source, target) {
			return invalid("protocol change would make route %s (%s -> %s) incompatible", r.ID, source, target)
		}
	}
	return nil
}
