package model

import (
	"context"
	"errors"
	"time"

	"github.com/featherproxy/feather/internal/server/db"
)

// Snapshot is a consistent read of the whole configuration, taken in one
// transaction. Tokens appear masked only.
type Snapshot struct {
	TakenAt         time.Time
	SourceServers   []db.SourceServer
	TargetServers   []db.TargetServer
	Authentications []Authentication
	Routes          []RouteSnapshot
	ServerOptions   []db.ServerOptions
	ACLOptions      []db.ACLOptions
}

// RouteSnapshot is a route with both of its authentication relations.
type RouteSnapshot struct {
	db.Route
	SourceAuthIDs []string
	TargetAuthID  string
}

// Snapshot reads every entity and relation.
func (m *Model) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{TakenAt: time.Now().UTC()}
	err := m.write(ctx, "snapshot", func(ctx context.Context, q db.Queries) error {
		var err error
		if snap.SourceServers, err = q.SourceServers().List(ctx); err != nil {
			return err
		}
		if snap.TargetServers, err = q.TargetServers().List(ctx); err != nil {
			return err
		}
		auths, err := q.Authentications().List(ctx)
		if err != nil {
			return err
		}
		for i := range auths {
			snap.Authentications = append(snap.Authentications, authView(&auths[i]))
		}
		routes, err := q.Routes().List(ctx)
		if err != nil {
			return err
		}
		for _, r := range routes {
			entry := RouteSnapshot{Route: r}
			if entry.SourceAuthIDs, err = sourceAuthIDs(ctx, q, r.ID); err != nil {
				return err
			}
			if entry.TargetAuthID, _, err = q.RouteAuths().GetTarget(ctx, r.ID); err != nil {
				return err
			}
			snap.Routes = append(snap.Routes, entry)
		}
		for _, s := range snap.SourceServers {
			tls, err := q.ServerOptions().GetTLS(ctx, s.ID)
			switch {
			case err == nil:
				snap.ServerOptions = append(snap.ServerOptions, *tls)
			case !errors.Is(err, db.ErrNotFound):
				return err
			}
			acl, err := q.ServerOptions().GetACL(ctx, s.ID)
			switch {
			case err == nil:
				snap.ACLOptions = append(snap.ACLOptions, *acl)
			case !errors.Is(err, db.ErrNotFound):
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}
