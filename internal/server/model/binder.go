package model

import (
	"context"
	"errors"
	"strings"

	"github.com/featherproxy/feather/internal/server/db"
	"github.com/featherproxy/feather/internal/server/events"
)

// Route authentication binding.
//
// A route carries two independent relations: the ordered set of
// authentications a caller may present (source auths) and at most one
// authentication the proxy presents upstream (target auth). SetSourceAuths
// and SetTargetAuth are each atomic on their own relation but not with each
// other: a caller issuing both may see one applied and the other fail, and a
// concurrent reader may observe either half alone. SetRouteAuth writes both
// in a single transaction and is the call to use when they must agree.

// RouteAuthUpdate selects which relations SetRouteAuth replaces.
type RouteAuthUpdate struct {
	// SourceAuthIDs replaces the source set when non-nil. An empty, non-nil
	// slice clears it.
	SourceAuthIDs *[]string
	// TargetAuthID replaces the target auth when non-nil. A pointer to ""
	// clears it.
	TargetAuthID *string
}

// RouteAuth is the authentication state of one route.
type RouteAuth struct {
	RouteID       string
	SourceAuthIDs []string
	TargetAuthID  string
}

// GetSourceAuths returns the route's source authentication ids in order.
func (m *Model) GetSourceAuths(ctx context.Context, routeID string) ([]string, error) {
	var out []string
	err := m.read(ctx, "get source auths", func(ctx context.Context, q db.Queries) error {
		if err := requireRoute(ctx, q, routeID); err != nil {
			return err
		}
		var err error
		out, err = sourceAuthIDs(ctx, q, routeID)
		return err
	})
	return out, err
}

// SetSourceAuths replaces the whole source set with ids. Duplicates collapse
// to their first occurrence.
func (m *Model) SetSourceAuths(ctx context.Context, routeID string, ids []string) error {
	return m.SetRouteAuth(ctx, routeID, RouteAuthUpdate{SourceAuthIDs: &ids})
}

// GetTargetAuth returns the route's target authentication id, if any.
func (m *Model) GetTargetAuth(ctx context.Context, routeID string) (string, bool, error) {
	var (
		id string
		ok bool
	)
	err := m.read(ctx, "get target auth", func(ctx context.Context, q db.Queries) error {
		if err := requireRoute(ctx, q, routeID); err != nil {
			return err
		}
		var err error
		id, ok, err = q.RouteAuths().GetTarget(ctx, routeID)
		return err
	})
	return id, ok, err
}

// SetTargetAuth sets the route's target authentication. Nil or empty clears.
func (m *Model) SetTargetAuth(ctx context.Context, routeID string, authID *string) error {
	id := ""
	if authID != nil {
		id = *authID
	}
	return m.SetRouteAuth(ctx, routeID, RouteAuthUpdate{TargetAuthID: &id})
}

// GetRouteAuth reads both relations of a route in one transaction.
func (m *Model) GetRouteAuth(ctx context.Context, routeID string) (*RouteAuth, error) {
	out := &RouteAuth{RouteID: routeID}
	err := m.write(ctx, "get route auth", func(ctx context.Context, q db.Queries) error {
		if err := requireRoute(ctx, q, routeID); err != nil {
			return err
		}
		var err error
		if out.SourceAuthIDs, err = sourceAuthIDs(ctx, q, routeID); err != nil {
			return err
		}
		out.TargetAuthID, _, err = q.RouteAuths().GetTarget(ctx, routeID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetRouteAuth replaces the selected relations in one transaction. Either
// both land or neither does.
func (m *Model) SetRouteAuth(ctx context.Context, routeID string, update RouteAuthUpdate) error {
	if update.SourceAuthIDs == nil && update.TargetAuthID == nil {
		return invalid("nothing to update: provide source auths, target auth or both")
	}
	var sourceIDs []string
	if update.SourceAuthIDs != nil {
		ids, err := dedupeIDs(*update.SourceAuthIDs)
		if err != nil {
			return err
		}
		sourceIDs = ids
	}
	targetID := ""
	if update.TargetAuthID != nil {
		targetID = strings.TrimSpace(*update.TargetAuthID)
	}

	err := m.write(ctx, "set route auth", func(ctx context.Context, q db.Queries) error {
		if err := requireRoute(ctx, q, routeID); err != nil {
			return err
		}
		if update.SourceAuthIDs != nil {
			for _, id := range sourceIDs {
				if err := requireAuthentication(ctx, q, id); err != nil {
					return err
				}
			}
			if err := q.RouteAuths().ReplaceSource(ctx, routeID, sourceIDs); err != nil {
				return err
			}
		}
		if update.TargetAuthID != nil {
			if targetID == "" {
				return q.RouteAuths().ClearTarget(ctx, routeID)
			}
			if err := requireAuthentication(ctx, q, targetID); err != nil {
				return err
			}
			return q.RouteAuths().SetTarget(ctx, routeID, targetID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.publish(ctx, events.TypeUpdated, events.KindRouteAuth, routeID, "")
	return nil
}

// OnAuthenticationDeleted removes authID from every source set and clears
// every target auth equal to it. DeleteAuthentication already does this; it
// is exposed for stores that lost a delete half way.
func (m *Model) OnAuthenticationDeleted(ctx context.Context, authID string) (int64, error) {
	var detached int64
	err := m.write(ctx, "detach authentication", func(ctx context.Context, q db.Queries) error {
		n, err := q.RouteAuths().DetachAuthentication(ctx, authID)
		detached = n
		return err
	})
	if err != nil {
		return 0, err
	}
	if detached > 0 {
		m.publish(ctx, events.TypeUpdated, events.KindRouteAuth, "", "detached authentication "+authID)
	}
	return detached, nil
}

// TargetCredential decrypts the outbound credential of a route for an
// in-process data plane.
func (m *Model) TargetCredential(ctx context.Context, routeID string) (*Credential, bool, error) {
	var record *db.Authentication
	err := m.read(ctx, "target credential", func(ctx context.Context, q db.Queries) error {
		if err := requireRoute(ctx, q, routeID); err != nil {
			return err
		}
		authID, ok, err := q.RouteAuths().GetTarget(ctx, routeID)
		if err != nil || !ok {
			return err
		}
		record, err = q.Authentications().Get(ctx, authID)
		return notFound(kindAuthentication, authID, err)
	})
	if err != nil || record == nil {
		return nil, false, err
	}
	if m.sealer == nil {
		return nil, false, UnavailableError{Component: "token sealing (FEATHER_AUTH_KEY)"}
	}
	token, err := m.sealer.Open(record.TokenSealed, record.TokenSalt)
	if err != nil {
		return nil, false, err
	}
	return &Credential{AuthenticationID: record.ID, TokenType: record.TokenType, Token: token}, true, nil
}

func requireRoute(ctx context.Context, q db.Queries, routeID string) error {
	_, err := q.Routes().Get(ctx, routeID)
	return notFound(kindRoute, routeID, err)
}

func requireAuthentication(ctx context.Context, q db.Queries, authID string) error {
	_, err := q.Authentications().Get(ctx, authID)
	if errors.Is(err, db.ErrNotFound) {
		return invalid("unknown authentication %q", authID)
	}
	return err
}

func sourceAuthIDs(ctx context.Context, q db.Queries, routeID string) ([]string, error) {
	entries, err := q.RouteAuths().ListSource(ctx, routeID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.AuthenticationID)
	}
	return ids, nil
}
