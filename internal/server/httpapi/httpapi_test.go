package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/featherproxy/feather/internal/server/db/sqlite"
	"github.com/featherproxy/feather/internal/server/eventbus/memory"
	"github.com/featherproxy/feather/internal/server/events"
	"github.com/featherproxy/feather/internal/server/model"
	"github.com/featherproxy/feather/internal/server/reload"
	"github.com/featherproxy/feather/internal/server/secret"
)

type testAPI struct {
	srv    *httptest.Server
	bus    *memory.Bus
	reload *reload.Channel
}

func newTestAPI(t *testing.T, opts Options, withReloader bool) testAPI {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "feather.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(ctx) })

	sealer, err := secret.NewSealer("api-test-key")
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := memory.New()
	params := model.Params{Store: store, Logger: logger, Sealer: sealer, Bus: bus}
	var ch *reload.Channel
	if withReloader {
		ch = reload.NewChannel()
		params.Reloader = ch
	}
	m, err := model.New(params)
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	srv := httptest.NewServer(New(logger, m, bus, opts))
	t.Cleanup(srv.Close)
	return testAPI{srv: srv, bus: bus, reload: ch}
}

func (a testAPI) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := a.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (a testAPI) seedRoute(t *testing.T) (source, target serverResponse, route routeResponse) {
	t.Helper()
	if code := a.do(t, http.MethodPost, "/api/v1/source-servers", sourceServerRequest{Name: "edge", Protocol: "http", Host: "0.0.0.0", Port: 8080}, &source); code != http.StatusCreated {
		t.Fatalf("create source server: status %d", code)
	}
	if code := a.do(t, http.MethodPost, "/api/v1/target-servers", targetServerRequest{Protocol: "https", Host: "api.internal", Port: 443}, &target); code != http.StatusCreated {
		t.Fatalf("create target server: status %d", code)
	}
	req := routeRequest{SourceServerID: source.ID, TargetServerID: target.ID, Method: "get", SourcePath: "/users", TargetPath: "/v1/users"}
	if code := a.do(t, http.MethodPost, "/api/v1/routes", req, &route); code != http.StatusCreated {
		t.Fatalf("create route: status %d", code)
	}
	return source, target, route
}

func TestServerAndRouteEndpoints(t *testing.T) {
	api := newTestAPI(t, Options{}, false)
	source, target, route := api.seedRoute(t)

	if source.Label != "edge" || target.Label != "api.internal:443" {
		t.Fatalf("unexpected labels: %q %q", source.Label, target.Label)
	}
	if route.Method != "GET" {
		t.Fatalf("expected method normalized to GET, got %q", route.Method)
	}

	var resolved routeResponse
	code := api.do(t, http.MethodGet, "/api/v1/resolve?source_server_id="+source.ID+"&method=GET&path=/users", nil, &resolved)
	if code != http.StatusOK || resolved.ID != route.ID {
		t.Fatalf("resolve: status %d route %+v", code, resolved)
	}

	dup := routeRequest{SourceServerID: source.ID, TargetServerID: target.ID, Method: "GET", SourcePath: "/users", TargetPath: "/other"}
	if code := api.do(t, http.MethodPost, "/api/v1/routes", dup, nil); code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate route, got %d", code)
	}
	if code := api.do(t, http.MethodDelete, "/api/v1/target-servers/"+target.ID, nil, nil); code != http.StatusConflict {
		t.Fatalf("expected 409 deleting referenced target, got %d", code)
	}
	if code := api.do(t, http.MethodPost, "/api/v1/source-servers", sourceServerRequest{Protocol: "http", Host: "h", Port: 70000}, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad port, got %d", code)
	}
	if code := api.do(t, http.MethodGet, "/api/v1/routes/missing", nil, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown route, got %d", code)
	}

	var candidates []serverResponse
	if code := api.do(t, http.MethodGet, "/api/v1/source-servers/"+source.ID+"/candidate-targets", nil, &candidates); code != http.StatusOK {
		t.Fatalf("candidate targets: status %d", code)
	}
	if len(candidates) != 1 || candidates[0].ID != target.ID {
		t.Fatalf("unexpected candidates: %+v", candidates)
	}

	if code := api.do(t, http.MethodDelete, "/api/v1/routes/"+route.ID, nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete route: status %d", code)
	}
	if code := api.do(t, http.MethodDelete, "/api/v1/target-servers/"+target.ID, nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete target after route removal: status %d", code)
	}
}

func TestAuthenticationResponsesNeverCarryToken(t *testing.T) {
	api := newTestAPI(t, Options{}, false)
	const token = "super-secret-token-1234"

	req, err := http.NewRequest(http.MethodPost, api.srv.URL+"/api/v1/authentications",
		strings.NewReader(`{"name":"upstream","token":"`+token+`"}`))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := api.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("create authentication: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create authentication: status %d body %s", resp.StatusCode, raw)
	}
	if bytes.Contains(raw, []byte(token)) {
		t.Fatalf("response leaked token: %s", raw)
	}
	var created authenticationResponse
	if err := json.Unmarshal(raw, &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.TokenMasked != "****1234" || created.TokenType != "bearer" {
		t.Fatalf("unexpected authentication: %+v", created)
	}

	var renamed authenticationResponse
	if code := api.do(t, http.MethodPut, "/api/v1/authentications/"+created.ID, map[string]any{"name": "renamed"}, &renamed); code != http.StatusOK {
		t.Fatalf("update without token: status %d", code)
	}
	if renamed.Name != "renamed" || renamed.TokenMasked != created.TokenMasked {
		t.Fatalf("token should be kept on rename: %+v", renamed)
	}
	if code := api.do(t, http.MethodPut, "/api/v1/authentications/"+created.ID, map[string]any{"name": "renamed", "token": ""}, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 replacing with empty token, got %d", code)
	}
	if code := api.do(t, http.MethodPost, "/api/v1/authentications", map[string]any{"name": "no-token"}, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 creating without token, got %d", code)
	}
}

func TestRouteAuthEndpoints(t *testing.T) {
	api := newTestAPI(t, Options{}, false)
	_, _, route := api.seedRoute(t)

	var inbound, outbound authenticationResponse
	api.do(t, http.MethodPost, "/api/v1/authentications", map[string]any{"name": "in", "token": "inbound-token-0001"}, &inbound)
	api.do(t, http.MethodPost, "/api/v1/authentications", map[string]any{"name": "out", "token": "outbound-token-0002"}, &outbound)

	base := "/api/v1/routes/" + route.ID
	var state routeAuthResponse
	body := map[string]any{"source_auth_ids": []string{inbound.ID, inbound.ID}, "target_auth_id": outbound.ID}
	if code := api.do(t, http.MethodPut, base+"/auth", body, &state); code != http.StatusOK {
		t.Fatalf("set route auth: status %d", code)
	}
	if len(state.SourceAuthIDs) != 1 || state.TargetAuthID == nil || *state.TargetAuthID != outbound.ID {
		t.Fatalf("unexpected route auth: %+v", state)
	}

	if code := api.do(t, http.MethodPut, base+"/auth", map[string]any{}, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty update, got %d", code)
	}
	bad := map[string]any{"source_auth_ids": []string{"nope"}, "target_auth_id": nil}
	if code := api.do(t, http.MethodPut, base+"/auth", bad, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown auth, got %d", code)
	}

	var target targetAuthResponse
	if code := api.do(t, http.MethodPut, base+"/target-auth", map[string]any{"authentication_id": nil}, &target); code != http.StatusOK {
		t.Fatalf("clear target auth: status %d", code)
	}
	if target.AuthenticationID != nil {
		t.Fatalf("expected cleared target auth, got %v", *target.AuthenticationID)
	}

	if code := api.do(t, http.MethodDelete, "/api/v1/authentications/"+inbound.ID, nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete authentication: status %d", code)
	}
	var source sourceAuthResponse
	if code := api.do(t, http.MethodGet, base+"/source-auth", nil, &source); code != http.StatusOK {
		t.Fatalf("get source auth: status %d", code)
	}
	if len(source.AuthenticationIDs) != 0 {
		t.Fatalf("expected deleted auth detached, got %v", source.AuthenticationIDs)
	}
}

func TestAPIKeyMiddleware(t *testing.T) {
	api := newTestAPI(t, Options{APIKey: "operator-key"}, false)

	if code := api.do(t, http.MethodGet, "/healthz", nil, nil); code != http.StatusOK {
		t.Fatalf("healthz should bypass api key, got %d", code)
	}
	if code := api.do(t, http.MethodGet, "/api/v1/routes", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", code)
	}

	req, _ := http.NewRequest(http.MethodGet, api.srv.URL+"/api/v1/routes", nil)
	req.Header.Set(APIKeyHeader, "operator-key")
	resp, err := api.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("request with key: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with key, got %d", resp.StatusCode)
	}
}

func TestIPFilterRejectsOutsideCIDR(t *testing.T) {
	api := newTestAPI(t, Options{AllowCIDRs: []string{"10.0.0.0/8"}}, false)
	if code := api.do(t, http.MethodGet, "/api/v1/routes", nil, nil); code != http.StatusForbidden {
		t.Fatalf("expected 403 from loopback client, got %d", code)
	}
}

func TestReloadEndpoint(t *testing.T) {
	without := newTestAPI(t, Options{}, false)
	if code := without.do(t, http.MethodPost, "/api/v1/reload", nil, nil); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without trigger, got %d", code)
	}

	with := newTestAPI(t, Options{}, true)
	if code := with.do(t, http.MethodPost, "/api/v1/reload", nil, nil); code != http.StatusAccepted {
		t.Fatalf("expected 202 with trigger, got %d", code)
	}
	select {
	case <-with.reload.C():
	case <-time.After(time.Second):
		t.Fatalf("reload not delivered")
	}
}

func TestEventsWebSocket(t *testing.T) {
	api := newTestAPI(t, Options{}, false)

	wsURL := "ws" + strings.TrimPrefix(api.srv.URL, "http") + "/ws/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for api.bus.Subscribers(events.TopicConfig) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("websocket never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	var created serverResponse
	api.do(t, http.MethodPost, "/api/v1/source-servers", sourceServerRequest{Protocol: "http", Host: "0.0.0.0", Port: 9090}, &created)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event events.ConfigEvent
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.Type != events.TypeCreated || event.Kind != events.KindSourceServer || event.ID != created.ID {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestOpenAPIDocumentListsRoutes(t *testing.T) {
	api := newTestAPI(t, Options{}, false)
	var doc struct {
		OpenAPI string                    `json:"openapi"`
		Paths   map[string]map[string]any `json:"paths"`
	}
	if code := api.do(t, http.MethodGet, "/openapi.json", nil, &doc); code != http.StatusOK {
		t.Fatalf("openapi: status %d", code)
	}
	if doc.OpenAPI != "3.0.3" {
		t.Fatalf("unexpected openapi version %q", doc.OpenAPI)
	}
	for _, path := range []string{"/api/v1/routes", "/api/v1/routes/{id}/auth", "/api/v1/source-servers/{id}/acl", "/api/v1/snapshot"} {
		if _, ok := doc.Paths[path]; !ok {
			t.Fatalf("openapi document missing %s", path)
		}
	}
	if _, ok := doc.Paths["/api/v1/routes/{id}"]["delete"]; !ok {
		t.Fatalf("openapi document missing route delete operation")
	}
}

func TestStatusFromError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{model.ValidationError{Err: errors.New("bad")}, http.StatusBadRequest},
		{model.NotFoundError{Kind: "route", ID: "x"}, http.StatusNotFound},
		{model.ConflictError{Err: errors.New("dup")}, http.StatusConflict},
		{model.TransportError{Op: "list", Err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
		{model.TransportError{Op: "list", Err: context.Canceled}, http.StatusServiceUnavailable},
		{model.UnavailableError{Component: "reload trigger"}, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFromError(tc.err); got != tc.want {
			t.Fatalf("statusFromError(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
