package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/featherproxy/feather/internal/server/db"
	"github.com/featherproxy/feather/internal/server/events"
)

// RouteInput carries the writable fields of a route.
type RouteInput struct {
	SourceServerID string
	TargetServerID string
	Method         string
	SourcePath     string
	TargetPath     string
}

func (in RouteInput) normalize() (db.Route, error) {
	if in.SourceServerID == "" {
		return db.Route{}, invalid("source_server_id is required")
	}
	if in.TargetServerID == "" {
		return db.Route{}, invalid("target_server_id is required")
	}
	method, err := normalizeMethod(in.Method)
	if err != nil {
		return db.Route{}, err
	}
	sourcePath, err := validatePath("source_path", in.SourcePath, true)
	if err != nil {
		return db.Route{}, err
	}
	targetPath, err := validatePath("target_path", in.TargetPath, true)
	if err != nil {
		return db.Route{}, err
	}
	return db.Route{
		SourceServerID: in.SourceServerID,
		TargetServerID: in.TargetServerID,
		Method:         method,
		SourcePath:     sourcePath,
		TargetPath:     targetPath,
	}, nil
}

// ListRoutes returns every route.
func (m *Model) ListRoutes(ctx context.Context) ([]db.Route, error) {
	var out []db.Route
	err := m.read(ctx, "list routes", func(ctx context.Context, q db.Queries) error {
		var err error
		out, err = q.Routes().List(ctx)
		return err
	})
	return out, err
}

// GetRoute resolves one route.
func (m *Model) GetRoute(ctx context.Context, id string) (*db.Route, error) {
	var out *db.Route
	err := m.read(ctx, "get route", func(ctx context.Context, q db.Queries) error {
		r, err := q.Routes().Get(ctx, id)
		if err != nil {
			return notFound(kindRoute, id, err)
		}
		out = r
		return nil
	})
	return out, err
}

// CreateRoute resolves both servers, checks protocol compatibility and
// uniqueness, then persists the route, all in one transaction.
func (m *Model) CreateRoute(ctx context.Context, in RouteInput) (*db.Route, error) {
	route, err := in.normalize()
	if err != nil {
		return nil, err
	}
	route.ID = m.newID()
	err = m.write(ctx, "create route", func(ctx context.Context, q db.Queries) error {
		if err := checkRoute(ctx, q, &route); err != nil {
			return err
		}
		return routeWriteError(ctx, q, &route, q.Routes().Create(ctx, &route))
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("route created", "id", route.ID, "method", route.Method, "source_path", route.SourcePath)
	m.publish(ctx, events.TypeCreated, events.KindRoute, route.ID, "")
	return &route, nil
}

// UpdateRoute re-applies every CreateRoute check against the new fields.
func (m *Model) UpdateRoute(ctx context.Context, id string, in RouteInput) (*db.Route, error) {
	route, err := in.normalize()
	if err != nil {
		return nil, err
	}
	route.ID = id
	err = m.write(ctx, "update route", func(ctx context.Context, q db.Queries) error {
		current, err := q.Routes().Get(ctx, id)
		if err != nil {
			return notFound(kindRoute, id, err)
		}
		route.CreatedAt = current.CreatedAt
		if err := checkRoute(ctx, q, &route); err != nil {
			return err
		}
		return routeWriteError(ctx, q, &route, q.Routes().Update(ctx, &route))
	})
	if err != nil {
		return nil, err
	}
	m.publish(ctx, events.TypeUpdated, events.KindRoute, id, "")
	return &route, nil
}

// DeleteRoute removes a route together with its source-auth set and target
// auth.
func (m *Model) DeleteRoute(ctx context.Context, id string) error {
	err := m.write(ctx, "delete route", func(ctx context.Context, q db.Queries) error {
		if _, err := q.Routes().Get(ctx, id); err != nil {
			return notFound(kindRoute, id, err)
		}
		if err := q.RouteAuths().DeleteForRoute(ctx, id); err != nil {
			return err
		}
		return notFound(kindRoute, id, q.Routes().Delete(ctx, id))
	})
	if err != nil {
		return err
	}
	m.logger.Info("route deleted", "id", id)
	m.publish(ctx, events.TypeDeleted, events.KindRoute, id, "")
	return nil
}

// ListCandidateTargets returns the target servers a route from
// sourceServerID may forward to.
func (m *Model) ListCandidateTargets(ctx context.Context, sourceServerID string) ([]db.TargetServer, error) {
	var out []db.TargetServer
	err := m.read(ctx, "list candidate targets", func(ctx context.Context, q db.Queries) error {
		source, err := q.SourceServers().Get(ctx, sourceServerID)
		if err != nil {
			return notFound(kindSourceServer, sourceServerID, err)
		}
		targets, err := q.TargetServers().List(ctx)
		if err != nil {
			return err
		}
		sp := ParseProtocol(source.Protocol)
		out = make([]db.TargetServer, 0, len(targets))
		for _, t := range targets {
			tp := ParseProtocol(t.Protocol)
			if tp.Valid() && Compatible(sp, tp) {
				out = append(out, t)
			}
		}
		return nil
	})
	return out, err
}

// ResolveRoute finds the route bound to (method, path) on a source server.
// Matching is exact.
func (m *Model) ResolveRoute(ctx context.Context, sourceServerID, method, path string) (*db.Route, error) {
	normalized, err := normalizeMethod(method)
	if err != nil {
		return nil, err
	}
	var out *db.Route
	err = m.read(ctx, "resolve route", func(ctx context.Context, q db.Queries) error {
		r, err := q.Routes().FindBySourceMethodPath(ctx, sourceServerID, normalized, path)
		if err != nil {
			return notFound(kindRoute, normalized+" "+path, err)
		}
		out = r
		return nil
	})
	return out, err
}

// checkRoute resolves both servers through q, so the existence check and the
// write share one transaction.
func checkRoute(ctx context.Context, q db.Queries, route *db.Route) error {
	source, err := q.SourceServers().Get(ctx, route.SourceServerID)
	if err != nil {
		return notFound(kindSourceServer, route.SourceServerID, err)
	}
	target, err := q.TargetServers().Get(ctx, route.TargetServerID)
	if err != nil {
		return notFound(kindTargetServer, route.TargetServerID, err)
	}
	sp, tp := ParseProtocol(source.Protocol), ParseProtocol(target.Protocol)
	if !sp.Valid() {
		return invalid("source server %s has unsupported protocol %q", source.ID, source.Protocol)
	}
	if !tp.Valid() {
		return invalid("target server %s has unsupported protocol %q", target.ID, target.Protocol)
	}
	if !Compatible(sp, tp) {
		return invalid("source protocol %s is not compatible with target protocol %s", sp, tp)
	}

	existing, err := q.Routes().FindBySourceMethodPath(ctx, route.SourceServerID, route.Method, route.SourcePath)
	switch {
	case errors.Is(err, db.ErrNotFound):
		return nil
	case err != nil:
		return err
	case existing.ID != route.ID:
		return ConflictError{Err: fmt.Errorf("route %s %s already exists on source server %s (%s)",
			route.Method, route.SourcePath, route.SourceServerID, existing.ID)}
	}
	return nil
}

// routeWriteError turns a constraint failure on write into NotFoundError when
// a referenced server vanished, or ConflictError otherwise.
func routeWriteError(ctx context.Context, q db.Queries, route *db.Route, err error) error {
	if err == nil || !errors.Is(err, db.ErrConstraint) {
		return notFound(kindRoute, route.ID, err)
	}
	if _, getErr := q.SourceServers().Get(ctx, route.SourceServerID); errors.Is(getErr, db.ErrNotFound) {
		return NotFoundError{Kind: kindSourceServer, ID: route.SourceServerID}
	}
	if _, getErr := q.TargetServers().Get(ctx, route.TargetServerID); errors.Is(getErr, db.ErrNotFound) {
		return NotFoundError{Kind: kindTargetServer, ID: route.TargetServerID}
	}
	return ConflictError{Err: err}
}
