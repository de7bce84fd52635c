package model

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/featherproxy/feather/internal/server/db"
	"github.com/featherproxy/feather/internal/server/db/sqlite"
	"github.com/featherproxy/feather/internal/server/eventbus/memory"
	"github.com/featherproxy/feather/internal/server/events"
	"github.com/featherproxy/feather/internal/server/secret"
)

type chanReloader struct {
	ch  chan struct{}
	err error
}

func (r *chanReloader) Reload(ctx context.Context) error {
	select {
	case r.ch <- struct{}{}:
	default:
	}
	return r.err
}

type fixture struct {
	model *Model
	store *sqlite.Store
	bus   *memory.Bus
}

func newFixture(t *testing.T, mutate func(*Params)) fixture {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "feather.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(ctx) })

	sealer, err := secret.NewSealer("test-master-key")
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}
	bus := memory.New()
	params := Params{
		Store:  store,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Sealer: sealer,
		Bus:    bus,
	}
	if mutate != nil {
		mutate(&params)
	}
	m, err := New(params)
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	return fixture{model: m, store: store, bus: bus}
}

func mustSource(t *testing.T, m *Model, protocol string, port int) *db.SourceServer {
	t.Helper()
	s, err := m.CreateSourceServer(context.Background(), SourceServerInput{Protocol: protocol, Host: "a.example", Port: port})
	if err != nil {
		t.Fatalf("create source server: %v", err)
	}
	return s
}

func mustTarget(t *testing.T, m *Model, protocol string, port int) *db.TargetServer {
	t.Helper()
	s, err := m.CreateTargetServer(context.Background(), TargetServerInput{Protocol: protocol, Host: "b.example", Port: port})
	if err != nil {
		t.Fatalf("create target server: %v", err)
	}
	return s
}

func mustRoute(t *testing.T, m *Model, sourceID, targetID, path string) *db.Route {
	t.Helper()
	r, err := m.CreateRoute(context.Background(), RouteInput{
		SourceServerID: sourceID,
		TargetServerID: targetID,
		Method:         "GET",
		SourcePath:     path,
		TargetPath:     "/upstream" + path,
	})
	if err != nil {
		t.Fatalf("create route: %v", err)
	}
	return r
}

func mustAuth(t *testing.T, m *Model, name string) *Authentication {
	t.Helper()
	a, err := m.CreateAuthentication(context.Background(), AuthInput{Name: name, Token: "token-" + name + "-0123456789"})
	if err != nil {
		t.Fatalf("create authentication: %v", err)
	}
	return a
}

func TestNewRequiresStoreAndLogger(t *testing.T) {
	if _, err := New(Params{Logger: slog.Default()}); err == nil {
		t.Fatalf("expected error without store")
	}
	f := newFixture(t, nil)
	if _, err := New(Params{Store: f.store}); err == nil {
		t.Fatalf("expected error without logger")
	}
}

func TestServerPortBoundaries(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	cases := map[int]bool{0: false, 1: true, 8080: true, 65535: true, 65536: false, -1: false}
	for port, ok := range cases {
		_, err := f.model.CreateSourceServer(ctx, SourceServerInput{Protocol: "http", Host: "h", Port: port})
		if ok && err != nil {
			t.Fatalf("port %d: unexpected error %v", port, err)
		}
		if !ok {
			var ve ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("port %d: expected ValidationError, got %v", port, err)
			}
		}
		_, err = f.model.CreateTargetServer(ctx, TargetServerInput{Protocol: "https", Host: "h", Port: port})
		if ok != (err == nil) {
			t.Fatalf("target port %d: ok=%v err=%v", port, ok, err)
		}
	}
}

func TestServerFieldValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	bad := []SourceServerInput{
		{Protocol: "ftp", Host: "h", Port: 21},
		{Protocol: "", Host: "h", Port: 80},
		{Protocol: "http", Host: "  ", Port: 80},
		{Protocol: "http", Host: "http://h", Port: 80},
	}
	for _, in := range bad {
		var ve ValidationError
		if _, err := f.model.CreateSourceServer(ctx, in); !errors.As(err, &ve) {
			t.Fatalf("%+v: expected ValidationError, got %v", in, err)
		}
	}
	var ve ValidationError
	if _, err := f.model.CreateTargetServer(ctx, TargetServerInput{Protocol: "http", Host: "h", Port: 80, BasePath: "api"}); !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError for relative base_path, got %v", err)
	}

	s, err := f.model.CreateSourceServer(ctx, SourceServerInput{Protocol: " HTTPS ", Host: " edge.local ", Port: 443})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if s.Protocol != "https" || s.Host != "edge.local" || s.ID == "" {
		t.Fatalf("fields not normalized: %+v", s)
	}
	if got := DisplayLabel(s.Name, s.Host, s.Port); got != "edge.local:443" {
		t.Fatalf("unexpected display label %q", got)
	}
}

func TestUpdateUnknownServerIsNotFound(t *testing.T) {
	f := newFixture(t, nil)
	var nf NotFoundError
	_, err := f.model.UpdateSourceServer(context.Background(), "missing", SourceServerInput{Protocol: "http", Host: "h", Port: 80})
	if !errors.As(err, &nf) || nf.Kind != kindSourceServer {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	_, err = f.model.UpdateTargetServer(context.Background(), "missing", TargetServerInput{Protocol: "http", Host: "h", Port: 80})
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestEndToEndRouteCreation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	source, err := f.model.CreateSourceServer(ctx, SourceServerInput{Protocol: "http", Host: "a.example", Port: 8080})
	if err != nil {
		t.Fatalf("create source: %v", err)
	}
	target, err := f.model.CreateTargetServer(ctx, TargetServerInput{Protocol: "https", Host: "b.example", Port: 443})
	if err != nil {
		t.Fatalf("create target: %v", err)
	}
	in := RouteInput{SourceServerID: source.ID, TargetServerID: target.ID, Method: "GET", SourcePath: "/foo", TargetPath: "/bar"}
	route, err := f.model.CreateRoute(ctx, in)
	if err != nil {
		t.Fatalf("create route: %v", err)
	}
	if route.ID == "" || route.Method != "GET" {
		t.Fatalf("unexpected route %+v", route)
	}

	var ve ValidationError
	if _, err := f.model.CreateTargetServer(ctx, TargetServerInput{Protocol: "ftp", Host: "c.example", Port: 21}); !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError creating ftp target, got %v", err)
	}

	// A row that bypassed validation must still be refused at route time.
	legacy := &db.TargetServer{ID: "legacy-ftp", Protocol: "ftp", Host: "c.example", Port: 21}
	if err := f.store.Queries().TargetServers().Create(ctx, legacy); err != nil {
		t.Fatalf("insert legacy target: %v", err)
	}
	in.TargetServerID = legacy.ID
	in.SourcePath = "/foo2"
	if _, err := f.model.CreateRoute(ctx, in); !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError for unsupported target protocol, got %v", err)
	}
}

func TestCrossProtocolRouteHTTPSToHTTP(t *testing.T) {
	f := newFixture(t, nil)
	source := mustSource(t, f.model, "https", 443)
	target := mustTarget(t, f.model, "http", 8080)
	mustRoute(t, f.model, source.ID, target.ID, "/x")
}

func TestRouteValidationAndReferences(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	source := mustSource(t, f.model, "http", 80)
	target := mustTarget(t, f.model, "http", 81)

	var nf NotFoundError
	_, err := f.model.CreateRoute(ctx, RouteInput{SourceServerID: "nope", TargetServerID: target.ID, Method: "GET", SourcePath: "/a", TargetPath: "/a"})
	if !errors.As(err, &nf) || nf.Kind != kindSourceServer {
		t.Fatalf("expected source NotFoundError, got %v", err)
	}
	_, err = f.model.CreateRoute(ctx, RouteInput{SourceServerID: source.ID, TargetServerID: "nope", Method: "GET", SourcePath: "/a", TargetPath: "/a"})
	if !errors.As(err, &nf) || nf.Kind != kindTargetServer {
		t.Fatalf("expected target NotFoundError, got %v", err)
	}

	var ve ValidationError
	for _, in := range []RouteInput{
		{SourceServerID: source.ID, TargetServerID: target.ID, Method: "", SourcePath: "/a", TargetPath: "/a"},
		{SourceServerID: source.ID, TargetServerID: target.ID, Method: "GET", SourcePath: "a", TargetPath: "/a"},
		{SourceServerID: source.ID, TargetServerID: target.ID, Method: "GET", SourcePath: "/a", TargetPath: ""},
		{SourceServerID: source.ID, TargetServerID: target.ID, Method: "G ET", SourcePath: "/a", TargetPath: "/a"},
	} {
		if _, err := f.model.CreateRoute(ctx, in); !errors.As(err, &ve) {
			t.Fatalf("%+v: expected ValidationError, got %v", in, err)
		}
	}

	route, err := f.model.CreateRoute(ctx, RouteInput{SourceServerID: source.ID, TargetServerID: target.ID, Method: "post", SourcePath: "/a", TargetPath: "/a"})
	if err != nil {
		t.Fatalf("create route: %v", err)
	}
	if route.Method != "POST" {
		t.Fatalf("method not normalized: %s", route.Method)
	}

	var ce ConflictError
	if _, err := f.model.CreateRoute(ctx, RouteInput{SourceServerID: source.ID, TargetServerID: target.ID, Method: "POST", SourcePath: "/a", TargetPath: "/b"}); !errors.As(err, &ce) {
		t.Fatalf("expected ConflictError for duplicate route, got %v", err)
	}

	updated, err := f.model.UpdateRoute(ctx, route.ID, RouteInput{SourceServerID: source.ID, TargetServerID: target.ID, Method: "POST", SourcePath: "/a", TargetPath: "/c"})
	if err != nil {
		t.Fatalf("update route in place: %v", err)
	}
	if updated.TargetPath != "/c" {
		t.Fatalf("target path not updated: %+v", updated)
	}
	if _, err := f.model.UpdateRoute(ctx, "missing", RouteInput{SourceServerID: source.ID, TargetServerID: target.ID, Method: "GET", SourcePath: "/z", TargetPath: "/z"}); !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError updating missing route, got %v", err)
	}

	resolved, err := f.model.ResolveRoute(ctx, source.ID, "post", "/a")
	if err != nil {
		t.Fatalf("resolve route: %v", err)
	}
	if resolved.ID != route.ID {
		t.Fatalf("resolved wrong route %+v", resolved)
	}
	if _, err := f.model.ResolveRoute(ctx, source.ID, "GET", "/a"); !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError resolving unknown method, got %v", err)
	}
}

func TestServerDeleteBlockedWhileReferenced(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	source := mustSource(t, f.model, "http", 80)
	target := mustTarget(t, f.model, "http", 81)
	route := mustRoute(t, f.model, source.ID, target.ID, "/a")

	var ce ConflictError
	if err := f.model.DeleteSourceServer(ctx, source.ID); !errors.As(err, &ce) {
		t.Fatalf("expected ConflictError deleting referenced source, got %v", err)
	}
	if err := f.model.DeleteTargetServer(ctx, target.ID); !errors.As(err, &ce) {
		t.Fatalf("expected ConflictError deleting referenced target, got %v", err)
	}

	if err := f.model.DeleteRoute(ctx, route.ID); err != nil {
		t.Fatalf("delete route: %v", err)
	}
	if _, err := f.model.SetACLOptions(ctx, source.ID, ACLInput{Mode: "deny_only", DenyList: []string{"10.0.0.1"}}); err != nil {
		t.Fatalf("set acl: %v", err)
	}
	if err := f.model.DeleteSourceServer(ctx, source.ID); err != nil {
		t.Fatalf("delete source: %v", err)
	}
	if err := f.model.DeleteTargetServer(ctx, target.ID); err != nil {
		t.Fatalf("delete target: %v", err)
	}
	var nf NotFoundError
	if err := f.model.DeleteTargetServer(ctx, target.ID); !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError deleting twice, got %v", err)
	}
	if _, err := f.model.GetACLOptions(ctx, source.ID); !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError for acl of deleted server, got %v", err)
	}
}

func TestProtocolChangeRechecksRoutes(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	source := mustSource(t, f.model, "http", 80)

	legacy := &db.TargetServer{ID: "legacy", Protocol: "ftp", Host: "h", Port: 21}
	if err := f.store.Queries().TargetServers().Create(ctx, legacy); err != nil {
		t.Fatalf("insert legacy target: %v", err)
	}
	raw := &db.Route{ID: "raw", SourceServerID: source.ID, TargetServerID: legacy.ID, Method: "GET", SourcePath: "/x", TargetPath: "/x"}
	if err := f.store.Queries().Routes().Create(ctx, raw); err != nil {
		t.Fatalf("insert raw route: %v", err)
	}

	var ve ValidationError
	_, err := f.model.UpdateSourceServer(ctx, source.ID, SourceServerInput{Protocol: "https", Host: "a.example", Port: 80})
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError on incompatible protocol change, got %v", err)
	}

	// Same protocol leaves routes alone.
	updated, err := f.model.UpdateSourceServer(ctx, source.ID, SourceServerInput{Name: "edge", Protocol: "http", Host: "a.example", Port: 8080})
	if err != nil {
		t.Fatalf("update without protocol change: %v", err)
	}
	if updated.Port != 8080 || updated.Name != "edge" {
		t.Fatalf("update not applied: %+v", updated)
	}
}

func TestListCandidateTargets(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	source := mustSource(t, f.model, "https", 443)
	a := mustTarget(t, f.model, "http", 80)
	b := mustTarget(t, f.model, "https", 443)
	if err := f.store.Queries().TargetServers().Create(ctx, &db.TargetServer{ID: "ftp", Protocol: "ftp", Host: "h", Port: 21}); err != nil {
		t.Fatalf("insert ftp target: %v", err)
	}

	candidates, err := f.model.ListCandidateTargets(ctx, source.ID)
	if err != nil {
		t.Fatalf("list candidates: %v", err)
	}
	got := map[string]bool{}
	for _, c := range candidates {
		got[c.ID] = true
	}
	if len(got) != 2 || !got[a.ID] || !got[b.ID] {
		t.Fatalf("unexpected candidates: %+v", candidates)
	}

	var nf NotFoundError
	if _, err := f.model.ListCandidateTargets(ctx, "missing"); !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestCanceledContextIsTransportError(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var te TransportError
	if _, err := f.model.ListRoutes(ctx); !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if !te.Retryable() {
		t.Fatalf("transport errors must be retryable")
	}
}

func TestMutationsPublishEvents(t *testing.T) {
	f := newFixture(t, nil)
	ch := make(chan any, 8)
	unsub, err := f.bus.Subscribe(events.TopicConfig, ch)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsub()

	source := mustSource(t, f.model, "http", 80)
	select {
	case payload := <-ch:
		evt, ok := payload.(events.ConfigEvent)
		if !ok || evt.Type != events.TypeCreated || evt.Kind != events.KindSourceServer || evt.ID != source.ID {
			t.Fatalf("unexpected event %#v", payload)
		}
	case <-time.After(time.Second):
		t.Fatalf("no event published")
	}
}

func TestAutoReloadAfterSourceServerChange(t *testing.T) {
	reloader := &chanReloader{ch: make(chan struct{}, 1), err: errors.New("data plane down")}
	f := newFixture(t, func(p *Params) {
		p.Reloader = reloader
		p.AutoReload = true
	})

	// A failing reload must not undo the mutation.
	source := mustSource(t, f.model, "http", 80)
	select {
	case <-reloader.ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("auto reload not triggered")
	}
	if _, err := f.model.GetSourceServer(context.Background(), source.ID); err != nil {
		t.Fatalf("source server missing after failed reload: %v", err)
	}
}

func TestReloadWithoutTrigger(t *testing.T) {
	f := newFixture(t, nil)
	var ue UnavailableError
	if err := f.model.Reload(context.Background()); !errors.As(err, &ue) {
		t.Fatalf("expected UnavailableError, got %v", err)
	}

	reloader := &chanReloader{ch: make(chan struct{}, 1), err: errors.New("refused")}
	g := newFixture(t, func(p *Params) { p.Reloader = reloader })
	var te TransportError
	if err := g.model.Reload(context.Background()); !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	source := mustSource(t, f.model, "http", 80)
	target := mustTarget(t, f.model, "https", 443)
	route := mustRoute(t, f.model, source.ID, target.ID, "/a")
	auth := mustAuth(t, f.model, "svc")
	if err := f.model.SetSourceAuths(ctx, route.ID, []string{auth.ID}); err != nil {
		t.Fatalf("set source auths: %v", err)
	}
	if _, err := f.model.SetServerOptions(ctx, source.ID, ServerOptionsInput{TLSCertPath: "/c", TLSKeyPath: "/k"}); err != nil {
		t.Fatalf("set options: %v", err)
	}

	snap, err := f.model.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.SourceServers) != 1 || len(snap.TargetServers) != 1 || len(snap.Routes) != 1 || len(snap.Authentications) != 1 {
		t.Fatalf("unexpected snapshot sizes: %+v", snap)
	}
	if !reflect.DeepEqual(snap.Routes[0].SourceAuthIDs, []string{auth.ID}) {
		t.Fatalf("route auths missing from snapshot: %+v", snap.Routes[0])
	}
	if len(snap.ServerOptions) != 1 || len(snap.ACLOptions) != 0 {
		t.Fatalf("unexpected options in snapshot: %+v %+v", snap.ServerOptions, snap.ACLOptions)
	}
	if snap.Authentications[0].TokenMasked == "" {
		t.Fatalf("masked token missing")
	}
}
