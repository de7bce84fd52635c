package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/featherproxy/feather/internal/server/db"
)

func TestServerAndRouteRepositoryCRUD(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	t.Cleanup(func() { _ = store.Close(ctx) })

	q := store.Queries()
	src := &db.SourceServer{ID: "src-1", Name: "edge", Protocol: "http", Host: "0.0.0.0", Port: 8080}
	if err := q.SourceServers().Create(ctx, src); err != nil {
		t.Fatalf("create source server: %v", err)
	}
	tgt := &db.TargetServer{ID: "tgt-1", Name: "api", Protocol: "https", Host: "api.internal", Port: 443, BasePath: "/v1"}
	if err := q.TargetServers().Create(ctx, tgt); err != nil {
		t.Fatalf("create target server: %v", err)
	}

	route := &db.Route{ID: "route-1", SourceServerID: src.ID, TargetServerID: tgt.ID, Method: "GET", SourcePath: "/users", TargetPath: "/api/users"}
	if err := q.Routes().Create(ctx, route); err != nil {
		t.Fatalf("create route: %v", err)
	}

	fetched, err := q.Routes().Get(ctx, route.ID)
	if err != nil {
		t.Fatalf("get route: %v", err)
	}
	if fetched.TargetPath != "/api/users" || fetched.Method != "GET" {
		t.Fatalf("unexpected route fetched: %+v", fetched)
	}
	if fetched.CreatedAt.IsZero() || fetched.UpdatedAt.IsZero() {
		t.Fatalf("timestamps not populated: %+v", fetched)
	}

	found, err := q.Routes().FindBySourceMethodPath(ctx, src.ID, "GET", "/users")
	if err != nil {
		t.Fatalf("find route: %v", err)
	}
	if found.ID != route.ID {
		t.Fatalf("found wrong route: %+v", found)
	}
	if _, err := q.Routes().FindBySourceMethodPath(ctx, src.ID, "POST", "/users"); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown method, got %v", err)
	}

	byTarget, err := q.Routes().ListByServer(ctx, tgt.ID)
	if err != nil {
		t.Fatalf("list by server: %v", err)
	}
	if len(byTarget) != 1 {
		t.Fatalf("expected 1 route referencing target, got %d", len(byTarget))
	}

	route.TargetPath = "/api/v2/users"
	if err := q.Routes().Update(ctx, route); err != nil {
		t.Fatalf("update route: %v", err)
	}
	updated, err := q.Routes().Get(ctx, route.ID)
	if err != nil {
		t.Fatalf("get updated route: %v", err)
	}
	if updated.TargetPath != "/api/v2/users" {
		t.Fatalf("target path not updated: %s", updated.TargetPath)
	}

	if err := q.Routes().Delete(ctx, route.ID); err != nil {
		t.Fatalf("delete route: %v", err)
	}
	if _, err := q.Routes().Get(ctx, route.ID); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := q.Routes().Delete(ctx, route.ID); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestRouteUniquenessAndForeignKeys(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	t.Cleanup(func() { _ = store.Close(ctx) })

	q := store.Queries()
	seedServers(t, q)

	first := &db.Route{ID: "r1", SourceServerID: "src-1", TargetServerID: "tgt-1", Method: "GET", SourcePath: "/a", TargetPath: "/a"}
	if err := q.Routes().Create(ctx, first); err != nil {
		t.Fatalf("create route: %v", err)
	}
	dup := &db.Route{ID: "r2", SourceServerID: "src-1", TargetServerID: "tgt-1", Method: "GET", SourcePath: "/a", TargetPath: "/b"}
	if err := q.Routes().Create(ctx, dup); !errors.Is(err, db.ErrConstraint) {
		t.Fatalf("expected ErrConstraint for duplicate route, got %v", err)
	}

	orphan := &db.Route{ID: "r3", SourceServerID: "missing", TargetServerID: "tgt-1", Method: "GET", SourcePath: "/c", TargetPath: "/c"}
	if err := q.Routes().Create(ctx, orphan); !errors.Is(err, db.ErrConstraint) {
		t.Fatalf("expected ErrConstraint for unknown source server, got %v", err)
	}

	if err := q.TargetServers().Delete(ctx, "tgt-1"); !errors.Is(err, db.ErrConstraint) {
		t.Fatalf("expected ErrConstraint deleting referenced target, got %v", err)
	}
}

func TestRouteAuthRelations(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	t.Cleanup(func() { _ = store.Close(ctx) })

	q := store.Queries()
	seedServers(t, q)
	route := &db.Route{ID: "r1", SourceServerID: "src-1", TargetServerID: "tgt-1", Method: "GET", SourcePath: "/a", TargetPath: "/a"}
	if err := q.Routes().Create(ctx, route); err != nil {
		t.Fatalf("create route: %v", err)
	}
	for _, id := range []string{"a1", "a2", "a3"} {
		auth := &db.Authentication{ID: id, Name: id, TokenType: "bearer", TokenSealed: "x", TokenSalt: "y", TokenMasked: "****"}
		if err := q.Authentications().Create(ctx, auth); err != nil {
			t.Fatalf("create auth %s: %v", id, err)
		}
	}

	if err := q.RouteAuths().ReplaceSource(ctx, route.ID, []string{"a3", "a1"}); err != nil {
		t.Fatalf("replace source: %v", err)
	}
	entries, err := q.RouteAuths().ListSource(ctx, route.ID)
	if err != nil {
		t.Fatalf("list source: %v", err)
	}
	if len(entries) != 2 || entries[0].AuthenticationID != "a3" || entries[1].AuthenticationID != "a1" {
		t.Fatalf("unexpected source auth order: %+v", entries)
	}

	if err := q.RouteAuths().SetTarget(ctx, route.ID, "a2"); err != nil {
		t.Fatalf("set target: %v", err)
	}
	if err := q.RouteAuths().SetTarget(ctx, route.ID, "a3"); err != nil {
		t.Fatalf("overwrite target: %v", err)
	}
	authID, ok, err := q.RouteAuths().GetTarget(ctx, route.ID)
	if err != nil || !ok || authID != "a3" {
		t.Fatalf("unexpected target auth: %q %v %v", authID, ok, err)
	}

	touched, err := q.RouteAuths().DetachAuthentication(ctx, "a3")
	if err != nil {
		t.Fatalf("detach: %v", err)
	}
	if touched != 2 {
		t.Fatalf("expected 2 relation rows detached, got %d", touched)
	}
	if _, ok, _ := q.RouteAuths().GetTarget(ctx, route.ID); ok {
		t.Fatalf("expected target auth cleared")
	}
	entries, _ = q.RouteAuths().ListSource(ctx, route.ID)
	if len(entries) != 1 || entries[0].AuthenticationID != "a1" {
		t.Fatalf("unexpected source auths after detach: %+v", entries)
	}

	if err := q.RouteAuths().ReplaceSource(ctx, route.ID, []string{"nope"}); !errors.Is(err, db.ErrConstraint) {
		t.Fatalf("expected ErrConstraint for unknown auth, got %v", err)
	}
}

func TestWithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	t.Cleanup(func() { _ = store.Close(ctx) })

	sentinel := errors.New("boom")
	err := store.WithTx(ctx, func(q db.Queries) error {
		if err := q.SourceServers().Create(ctx, &db.SourceServer{ID: "s", Protocol: "http", Host: "h", Port: 80}); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if _, err := store.Queries().SourceServers().Get(ctx, "s"); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected rollback to discard insert, got %v", err)
	}
}

func TestServerOptionsUpsertAndCascade(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	t.Cleanup(func() { _ = store.Close(ctx) })

	q := store.Queries()
	seedServers(t, q)
	repo := q.ServerOptions()

	if _, err := repo.GetACL(ctx, "src-1"); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before upsert, got %v", err)
	}
	acl := &db.ACLOptions{SourceServerID: "src-1", Mode: "allow_only", ClientIPHeader: "X-Forwarded-For", AllowList: []string{"10.0.0.0/8", "192.168.1.4"}}
	if err := repo.UpsertACL(ctx, acl); err != nil {
		t.Fatalf("upsert acl: %v", err)
	}
	got, err := repo.GetACL(ctx, "src-1")
	if err != nil {
		t.Fatalf("get acl: %v", err)
	}
	if got.Mode != "allow_only" || len(got.AllowList) != 2 || len(got.DenyList) != 0 {
		t.Fatalf("unexpected acl: %+v", got)
	}

	if err := repo.UpsertTLS(ctx, &db.ServerOptions{SourceServerID: "src-1", TLSCertPath: "/c.pem", TLSKeyPath: "/k.pem"}); err != nil {
		t.Fatalf("upsert tls: %v", err)
	}
	if err := repo.UpsertTLS(ctx, &db.ServerOptions{SourceServerID: "src-1", TLSCertPath: "/c2.pem", TLSKeyPath: "/k2.pem"}); err != nil {
		t.Fatalf("second upsert tls: %v", err)
	}
	tls, err := repo.GetTLS(ctx, "src-1")
	if err != nil {
		t.Fatalf("get tls: %v", err)
	}
	if tls.TLSCertPath != "/c2.pem" {
		t.Fatalf("tls not overwritten: %+v", tls)
	}

	if err := q.SourceServers().Delete(ctx, "src-1"); err != nil {
		t.Fatalf("delete source server: %v", err)
	}
	if _, err := repo.GetTLS(ctx, "src-1"); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected tls options removed with server, got %v", err)
	}
}

func TestOpenRefusesSecondHolder(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "feather.db")
	first, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("open first: %v", err)
	}
	if _, err := Open(ctx, path); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked for second open, got %v", err)
	}
	if err := first.Close(ctx); err != nil {
		t.Fatalf("close first: %v", err)
	}
	second, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen after close: %v", err)
	}
	_ = second.Close(ctx)
}

func TestTimestampCoercionHandlesRFC3339(t *testing.T) {
	ts, err := coerceTime("2025-09-23T12:34:56Z")
	if err != nil {
		t.Fatalf("coerceTime: %v", err)
	}
	if ts.UTC().Format(time.RFC3339) != "2025-09-23T12:34:56Z" {
		t.Fatalf("unexpected coerced time: %s", ts)
	}
}

func seedServers(t *testing.T, q db.Queries) {
	t.Helper()
	ctx := context.Background()
	if err := q.SourceServers().Create(ctx, &db.SourceServer{ID: "src-1", Protocol: "http", Host: "0.0.0.0", Port: 8080}); err != nil {
		t.Fatalf("seed source server: %v", err)
	}
	if err := q.TargetServers().Create(ctx, &db.TargetServer{ID: "tgt-1", Protocol: "http", Host: "10.0.0.2", Port: 9000}); err != nil {
		t.Fatalf("seed target server: %v", err)
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feather.db")
	store, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}
