package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/featherproxy/feather/internal/server/db"
)

var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339,
	time.RFC3339Nano,
}

// executor abstracts *sql.DB and *sql.Tx for shared query logic.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	exec executor
}

var _ db.Queries = (*queries)(nil)

func (q *queries) SourceServers() db.SourceServerRepository {
	return &sourceServerRepository{exec: q.exec}
}

func (q *queries) TargetServers() db.TargetServerRepository {
	return &targetServerRepository{exec: q.exec}
}

func (q *queries) Authentications() db.AuthenticationRepository {
	return &authenticationRepository{exec: q.exec}
}

func (q *queries) Routes() db.RouteRepository {
	return &routeRepository{exec: q.exec}
}

func (q *queries) RouteAuths() db.RouteAuthRepository {
	return &routeAuthRepository{exec: q.exec}
}

func (q *queries) ServerOptions() db.ServerOptionsRepository {
	return &serverOptionsRepository{exec: q.exec}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// ---- source servers ----

type sourceServerRepository struct {
	exec executor
}

var _ db.SourceServerRepository = (*sourceServerRepository)(nil)

const sourceServerColumns = `id, name, protocol, host, port, created_at, updated_at`

func (r *sourceServerRepository) Create(ctx context.Context, s *db.SourceServer) error {
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now
	if _, err := r.exec.ExecContext(ctx,
		`INSERT INTO source_servers (id, name, protocol, host, port, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?);`,
		s.ID, s.Name, s.Protocol, s.Host, s.Port, now, now,
	); err != nil {
		return fmt.Errorf("insert source server: %w", translate(err))
	}
	return nil
}

func (r *sourceServerRepository) Get(ctx context.Context, id string) (*db.SourceServer, error) {
	row := r.exec.QueryRowContext(ctx, `SELECT `+sourceServerColumns+` FROM source_servers WHERE id = ?;`, id)
	s, err := scanSourceServer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("source server %s: %w", id, db.ErrNotFound)
		}
		return nil, err
	}
	return &s, nil
}

func (r *sourceServerRepository) List(ctx context.Context) ([]db.SourceServer, error) {
	rows, err := r.exec.QueryContext(ctx, `SELECT `+sourceServerColumns+` FROM source_servers ORDER BY created_at ASC, id ASC;`)
	if err != nil {
		return nil, fmt.Errorf("query source servers: %w", err)
	}
	defer rows.Close()

	var result []db.SourceServer
	for rows.Next() {
		s, err := scanSourceServer(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source servers: %w", err)
	}
	return result, nil
}

func (r *sourceServerRepository) Update(ctx context.Context, s *db.SourceServer) error {
	now := time.Now().UTC()
	res, err := r.exec.ExecContext(ctx,
		`UPDATE source_servers SET name = ?, protocol = ?, host = ?, port = ?, updated_at = ? WHERE id = ?;`,
		s.Name, s.Protocol, s.Host, s.Port, now, s.ID,
	)
	if err != nil {
		return fmt.Errorf("update source server: %w", translate(err))
	}
	if err := expectAffected(res, "source server", s.ID); err != nil {
		return err
	}
	s.UpdatedAt = now
	return nil
}

func (r *sourceServerRepository) Delete(ctx context.Context, id string) error {
	res, err := r.exec.ExecContext(ctx, `DELETE FROM source_servers WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete source server: %w", translate(err))
	}
	return expectAffected(res, "source server", id)
}

func scanSourceServer(row rowScanner) (db.SourceServer, error) {
	var (
		s                db.SourceServer
		created, updated any
	)
	if err := row.Scan(&s.ID, &s.Name, &s.Protocol, &s.Host, &s.Port, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return db.SourceServer{}, sql.ErrNoRows
		}
		return db.SourceServer{}, fmt.Errorf("scan source server: %w", err)
	}
	s.CreatedAt, _ = coerceTime(created)
	s.UpdatedAt, _ = coerceTime(updated)
	return s, nil
}

// ---- target servers ----

type targetServerRepository struct {
	exec executor
}

var _ db.TargetServerRepository = (*targetServerRepository)(nil)

const targetServerColumns = `id, name, protocol, host, port, base_path, created_at, updated_at`

func (r *targetServerRepository) Create(ctx context.Context, t *db.TargetServer) error {
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	if _, err := r.exec.ExecContext(ctx,
		`INSERT INTO target_servers (id, name, protocol, host, port, base_path, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
		t.ID, t.Name, t.Protocol, t.Host, t.Port, t.BasePath, now, now,
	); err != nil {
		return fmt.Errorf("insert target server: %w", translate(err))
	}
	return nil
}

func (r *targetServerRepository) Get(ctx context.Context, id string) (*db.TargetServer, error) {
	row := r.exec.QueryRowContext(ctx, `SELECT `+targetServerColumns+` FROM target_servers WHERE id = ?;`, id)
	t, err := scanTargetServer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("target server %s: %w", id, db.ErrNotFound)
		}
		return nil, err
	}
	return &t, nil
}

func (r *targetServerRepository) List(ctx context.Context) ([]db.TargetServer, error) {
	rows, err := r.exec.QueryContext(ctx, `SELECT `+targetServerColumns+` FROM target_servers ORDER BY created_at ASC, id ASC;`)
	if err != nil {
		return nil, fmt.Errorf("query target servers: %w", err)
	}
	defer rows.Close()

	var result []db.TargetServer
	for rows.Next() {
		t, err := scanTargetServer(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate target servers: %w", err)
	}
	return result, nil
}

func (r *targetServerRepository) Update(ctx context.Context, t *db.TargetServer) error {
	now := time.Now().UTC()
	res, err := r.exec.ExecContext(ctx,
		`UPDATE target_servers SET name = ?, protocol = ?, host = ?, port = ?, base_path = ?, updated_at = ? WHERE id = ?;`,
		t.Name, t.Protocol, t.Host, t.Port, t.BasePath, now, t.ID,
	)
	if err != nil {
		return fmt.Errorf("update target server: %w", translate(err))
	}
	if err := expectAffected(res, "target server", t.ID); err != nil {
		return err
	}
	t.UpdatedAt = now
	return nil
}

func (r *targetServerRepository) Delete(ctx context.Context, id string) error {
	res, err := r.exec.ExecContext(ctx, `DELETE FROM target_servers WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete target server: %w", translate(err))
	}
	return expectAffected(res, "target server", id)
}

func scanTargetServer(row rowScanner) (db.TargetServer, error) {
	var (
		t                db.TargetServer
		created, updated any
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Protocol, &t.Host, &t.Port, &t.BasePath, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return db.TargetServer{}, sql.ErrNoRows
		}
		return db.TargetServer{}, fmt.Errorf("scan target server: %w", err)
	}
	t.CreatedAt, _ = coerceTime(created)
	t.UpdatedAt, _ = coerceTime(updated)
	return t, nil
}

// ---- authentications ----

type authenticationRepository struct {
	exec executor
}

var _ db.AuthenticationRepository = (*authenticationRepository)(nil)

const authenticationColumns = `id, name, token_type, token_sealed, token_salt, token_masked, created_at, updated_at`

func (r *authenticationRepository) Create(ctx context.Context, a *db.Authentication) error {
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	if _, err := r.exec.ExecContext(ctx,
		`INSERT INTO authentications (id, name, token_type, token_sealed, token_salt, token_masked, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
		a.ID, a.Name, a.TokenType, a.TokenSealed, a.TokenSalt, a.TokenMasked, now, now,
	); err != nil {
		return fmt.Errorf("insert authentication: %w", translate(err))
	}
	return nil
}

func (r *authenticationRepository) Get(ctx context.Context, id string) (*db.Authentication, error) {
	row := r.exec.QueryRowContext(ctx, `SELECT `+authenticationColumns+` FROM authentications WHERE id = ?;`, id)
	a, err := scanAuthentication(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("authentication %s: %w", id, db.ErrNotFound)
		}
		return nil, err
	}
	return &a, nil
}

func (r *authenticationRepository) List(ctx context.Context) ([]db.Authentication, error) {
	rows, err := r.exec.QueryContext(ctx, `SELECT `+authenticationColumns+` FROM authentications ORDER BY created_at ASC, id ASC;`)
	if err != nil {
		return nil, fmt.Errorf("query authentications: %w", err)
	}
	defer rows.Close()

	var result []db.Authentication
	for rows.Next() {
		a, err := scanAuthentication(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate authentications: %w", err)
	}
	return result, nil
}

func (r *authenticationRepository) Update(ctx context.Context, a *db.Authentication) error {
	now := time.Now().UTC()
	res, err := r.exec.ExecContext(ctx,
		`UPDATE authentications SET name = ?, token_type = ?, token_sealed = ?, token_salt = ?, token_masked = ?, updated_at = ? WHERE id = ?;`,
		a.Name, a.TokenType, a.TokenSealed, a.TokenSalt, a.TokenMasked, now, a.ID,
	)
	if err != nil {
		return fmt.Errorf("update authentication: %w", translate(err))
	}
	if err := expectAffected(res, "authentication", a.ID); err != nil {
		return err
	}
	a.UpdatedAt = now
	return nil
}

func (r *authenticationRepository) Delete(ctx context.Context, id string) error {
	res, err := r.exec.ExecContext(ctx, `DELETE FROM authentications WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete authentication: %w", translate(err))
	}
	return expectAffected(res, "authentication", id)
}

func scanAuthentication(row rowScanner) (db.Authentication, error) {
	var (
		a                db.Authentication
		created, updated any
	)
	if err := row.Scan(&a.ID, &a.Name, &a.TokenType, &a.TokenSealed, &a.TokenSalt, &a.TokenMasked, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return db.Authentication{}, sql.ErrNoRows
		}
		return db.Authentication{}, fmt.Errorf("scan authentication: %w", err)
	}
	a.CreatedAt, _ = coerceTime(created)
	a.UpdatedAt, _ = coerceTime(updated)
	return a, nil
}

// ---- routes ----

type routeRepository struct {
	exec executor
}

var _ db.RouteRepository = (*routeRepository)(nil)

const routeColumns = `id, source_server_id, target_server_id, method, source_path, target_path, created_at, updated_at`

func (r *routeRepository) Create(ctx context.Context, route *db.Route) error {
	now := time.Now().UTC()
	route.CreatedAt, route.UpdatedAt = now, now
	if _, err := r.exec.ExecContext(ctx,
		`INSERT INTO routes (id, source_server_id, target_server_id, method, source_path, target_path, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
		route.ID, route.SourceServerID, route.TargetServerID, route.Method, route.SourcePath, route.TargetPath, now, now,
	); err != nil {
		return fmt.Errorf("insert route: %w", translate(err))
	}
	return nil
}

func (r *routeRepository) Get(ctx context.Context, id string) (*db.Route, error) {
	row := r.exec.QueryRowContext(ctx, `SELECT `+routeColumns+` FROM routes WHERE id = ?;`, id)
	route, err := scanRoute(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("route %s: %w", id, db.ErrNotFound)
		}
		return nil, err
	}
	return &route, nil
}

func (r *routeRepository) List(ctx context.Context) ([]db.Route, error) {
	return r.list(ctx, `SELECT `+routeColumns+` FROM routes ORDER BY created_at ASC, id ASC;`)
}

func (r *routeRepository) ListByServer(ctx context.Context, serverID string) ([]db.Route, error) {
	return r.list(ctx, `SELECT `+routeColumns+` FROM routes WHERE source_server_id = ? OR target_server_id = ? ORDER BY created_at ASC, id ASC;`, serverID, serverID)
}

func (r *routeRepository) list(ctx context.Context, query string, args ...any) ([]db.Route, error) {
	rows, err := r.exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query routes: %w", err)
	}
	defer rows.Close()

	var result []db.Route
	for rows.Next() {
		route, err := scanRoute(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, route)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate routes: %w", err)
	}
	return result, nil
}

func (r *routeRepository) Update(ctx context.Context, route *db.Route) error {
	now := time.Now().UTC()
	res, err := r.exec.ExecContext(ctx,
		`UPDATE routes SET source_server_id = ?, target_server_id = ?, method = ?, source_path = ?, target_path = ?, updated_at = ? WHERE id = ?;`,
		route.SourceServerID, route.TargetServerID, route.Method, route.SourcePath, route.TargetPath, now, route.ID,
	)
	if err != nil {
		return fmt.Errorf("update route: %w", translate(err))
	}
	if err := expectAffected(res, "route", route.ID); err != nil {
		return err
	}
	route.UpdatedAt = now
	return nil
}

func (r *routeRepository) Delete(ctx context.Context, id string) error {
	res, err := r.exec.ExecContext(ctx, `DELETE FROM routes WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete route: %w", translate(err))
	}
	return expectAffected(res, "route", id)
}

func (r *routeRepository) FindBySourceMethodPath(ctx context.Context, sourceServerID, method, sourcePath string) (*db.Route, error) {
	row := r.exec.QueryRowContext(ctx,
		`SELECT `+routeColumns+` FROM routes WHERE source_server_id = ? AND method = ? AND source_path = ?;`,
		sourceServerID, method, sourcePath,
	)
	route, err := scanRoute(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("route %s %s: %w", method, sourcePath, db.ErrNotFound)
		}
		return nil, err
	}
	return &route, nil
}

func scanRoute(row rowScanner) (db.Route, error) {
	var (
		route            db.Route
		created, updated any
	)
	if err := row.Scan(&route.ID, &route.SourceServerID, &route.TargetServerID, &route.Method, &route.SourcePath, &route.TargetPath, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return db.Route{}, sql.ErrNoRows
		}
		return db.Route{}, fmt.Errorf("scan route: %w", err)
	}
	route.CreatedAt, _ = coerceTime(created)
	route.UpdatedAt, _ = coerceTime(updated)
	return route, nil
}

// ---- route authentications ----

type routeAuthRepository struct {
	exec executor
}

var _ db.RouteAuthRepository = (*routeAuthRepository)(nil)

func (r *routeAuthRepository) ListSource(ctx context.Context, routeID string) ([]db.RouteSourceAuth, error) {
	rows, err := r.exec.QueryContext(ctx,
		`SELECT route_id, authentication_id, position FROM route_source_auths WHERE route_id = ? ORDER BY position ASC;`, routeID)
	if err != nil {
		return nil, fmt.Errorf("query route source auths: %w", err)
	}
	defer rows.Close()

	var result []db.RouteSourceAuth
	for rows.Next() {
		var entry db.RouteSourceAuth
		if err := rows.Scan(&entry.RouteID, &entry.AuthenticationID, &entry.Position); err != nil {
			return nil, fmt.Errorf("scan route source auth: %w", err)
		}
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate route source auths: %w", err)
	}
	return result, nil
}

// ReplaceSource deletes the current set and inserts authIDs in order. Callers
// wanting the swap to be atomic run it inside Store.WithTx.
func (r *routeAuthRepository) ReplaceSource(ctx context.Context, routeID string, authIDs []string) error {
	if _, err := r.exec.ExecContext(ctx, `DELETE FROM route_source_auths WHERE route_id = ?;`, routeID); err != nil {
		return fmt.Errorf("clear route source auths: %w", translate(err))
	}
	for i, authID := range authIDs {
		if _, err := r.exec.ExecContext(ctx,
			`INSERT INTO route_source_auths (route_id, authentication_id, position) VALUES (?, ?, ?);`,
			routeID, authID, i,
		); err != nil {
			return fmt.Errorf("insert route source auth %s: %w", authID, translate(err))
		}
	}
	return nil
}

func (r *routeAuthRepository) GetTarget(ctx context.Context, routeID string) (string, bool, error) {
	var authID string
	err := r.exec.QueryRowContext(ctx, `SELECT authentication_id FROM route_target_auths WHERE route_id = ?;`, routeID).Scan(&authID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("query route target auth: %w", err)
	}
	return authID, true, nil
}

func (r *routeAuthRepository) SetTarget(ctx context.Context, routeID string, authID string) error {
	if _, err := r.exec.ExecContext(ctx,
		`INSERT INTO route_target_auths (route_id, authentication_id) VALUES (?, ?)
         ON CONFLICT(route_id) DO UPDATE SET authentication_id = excluded.authentication_id;`,
		routeID, authID,
	); err != nil {
		return fmt.Errorf("set route target auth: %w", translate(err))
	}
	return nil
}

func (r *routeAuthRepository) ClearTarget(ctx context.Context, routeID string) error {
	if _, err := r.exec.ExecContext(ctx, `DELETE FROM route_target_auths WHERE route_id = ?;`, routeID); err != nil {
		return fmt.Errorf("clear route target auth: %w", translate(err))
	}
	return nil
}

func (r *routeAuthRepository) DeleteForRoute(ctx context.Context, routeID string) error {
	if _, err := r.exec.ExecContext(ctx, `DELETE FROM route_source_auths WHERE route_id = ?;`, routeID); err != nil {
		return fmt.Errorf("delete route source auths: %w", err)
	}
	if _, err := r.exec.ExecContext(ctx, `DELETE FROM route_target_auths WHERE route_id = ?;`, routeID); err != nil {
		return fmt.Errorf("delete route target auth: %w", err)
	}
	return nil
}

func (r *routeAuthRepository) DetachAuthentication(ctx context.Context, authID string) (int64, error) {
	var total int64
	res, err := r.exec.ExecContext(ctx, `DELETE FROM route_source_auths WHERE authentication_id = ?;`, authID)
	if err != nil {
		return 0, fmt.Errorf("detach source auths: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}
	res, err = r.exec.ExecContext(ctx, `DELETE FROM route_target_auths WHERE authentication_id = ?;`, authID)
	if err != nil {
		return 0, fmt.Errorf("detach target auths: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}
	return total, nil
}

// ---- server options ----

type serverOptionsRepository struct {
	exec executor
}

var _ db.ServerOptionsRepository = (*serverOptionsRepository)(nil)

func (r *serverOptionsRepository) GetTLS(ctx context.Context, sourceServerID string) (*db.ServerOptions, error) {
	var (
		opts    db.ServerOptions
		updated any
	)
	err := r.exec.QueryRowContext(ctx,
		`SELECT source_server_id, tls_cert_path, tls_key_path, updated_at FROM server_options WHERE source_server_id = ?;`,
		sourceServerID,
	).Scan(&opts.SourceServerID, &opts.TLSCertPath, &opts.TLSKeyPath, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("server options %s: %w", sourceServerID, db.ErrNotFound)
		}
		return nil, fmt.Errorf("query server options: %w", err)
	}
	opts.UpdatedAt, _ = coerceTime(updated)
	return &opts, nil
}

func (r *serverOptionsRepository) UpsertTLS(ctx context.Context, opts *db.ServerOptions) error {
	now := time.Now().UTC()
	if _, err := r.exec.ExecContext(ctx,
		`INSERT INTO server_options (source_server_id, tls_cert_path, tls_key_path, updated_at) VALUES (?, ?, ?, ?)
         ON CONFLICT(source_server_id) DO UPDATE SET tls_cert_path = excluded.tls_cert_path, tls_key_path = excluded.tls_key_path, updated_at = excluded.updated_at;`,
		opts.SourceServerID, opts.TLSCertPath, opts.TLSKeyPath, now,
	); err != nil {
		return fmt.Errorf("upsert server options: %w", translate(err))
	}
	opts.UpdatedAt = now
	return nil
}

func (r *serverOptionsRepository) GetACL(ctx context.Context, sourceServerID string) (*db.ACLOptions, error) {
	var (
		opts              db.ACLOptions
		allowRaw, denyRaw string
		updated           any
	)
	err := r.exec.QueryRowContext(ctx,
		`SELECT source_server_id, mode, client_ip_header, allow_list, deny_list, updated_at FROM acl_options WHERE source_server_id = ?;`,
		sourceServerID,
	).Scan(&opts.SourceServerID, &opts.Mode, &opts.ClientIPHeader, &allowRaw, &denyRaw, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("acl options %s: %w", sourceServerID, db.ErrNotFound)
		}
		return nil, fmt.Errorf("query acl options: %w", err)
	}
	if opts.AllowList, err = decodeList(allowRaw); err != nil {
		return nil, fmt.Errorf("decode allow list: %w", err)
	}
	if opts.DenyList, err = decodeList(denyRaw); err != nil {
		return nil, fmt.Errorf("decode deny list: %w", err)
	}
	opts.UpdatedAt, _ = coerceTime(updated)
	return &opts, nil
}

func (r *serverOptionsRepository) UpsertACL(ctx context.Context, opts *db.ACLOptions) error {
	allow, err := encodeList(opts.AllowList)
	if err != nil {
		return fmt.Errorf("encode allow list: %w", err)
	}
	deny, err := encodeList(opts.DenyList)
	if err != nil {
		return fmt.Errorf("encode deny list: %w", err)
	}
	now := time.Now().UTC()
	if _, err := r.exec.ExecContext(ctx,
		`INSERT INTO acl_options (source_server_id, mode, client_ip_header, allow_list, deny_list, updated_at) VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT(source_server_id) DO UPDATE SET mode = excluded.mode, client_ip_header = excluded.client_ip_header,
             allow_list = excluded.allow_list, deny_list = excluded.deny_list, updated_at = excluded.updated_at;`,
		opts.SourceServerID, opts.Mode, opts.ClientIPHeader, allow, deny, now,
	); err != nil {
		return fmt.Errorf("upsert acl options: %w", translate(err))
	}
	opts.UpdatedAt = now
	return nil
}

func (r *serverOptionsRepository) DeleteForServer(ctx context.Context, sourceServerID string) error {
	if _, err := r.exec.ExecContext(ctx, `DELETE FROM server_options WHERE source_server_id = ?;`, sourceServerID); err != nil {
		return fmt.Errorf("delete server options: %w", err)
	}
	if _, err := r.exec.ExecContext(ctx, `DELETE FROM acl_options WHERE source_server_id = ?;`, sourceServerID); err != nil {
		return fmt.Errorf("delete acl options: %w", err)
	}
	return nil
}

// ---- helpers ----

func expectAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", kind, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, db.ErrNotFound)
	}
	return nil
}

// translate maps sqlite constraint failures onto db.ErrConstraint so callers
// never need to import the driver.
func translate(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %s", db.ErrConstraint, sqliteErr.Error())
	}
	return err
}

func encodeList(items []string) (string, error) {
	if len(items) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeList(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []string{}, nil
	}
	out := []string{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func coerceTime(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		for _, layout := range timestampLayouts {
			if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognised time format: %q", v)
	case []byte:
		s := string(v)
		for _, layout := range timestampLayouts {
			if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognised time format bytes: %q", s)
	case nil:
		return time.Time{}, nil
	default:
		return time.Time{}, fmt.Errorf("unsupported time type %T", value)
	}
}
