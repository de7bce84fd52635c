package db

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by repositories when a keyed row does not exist.
var ErrNotFound = errors.New("db: not found")

// ErrConstraint is returned when a write violates a uniqueness or foreign key
// constraint enforced by the backing database.
var ErrConstraint = errors.New("db: constraint violation")

// SourceServer is a listener the proxy accepts client traffic on.
type SourceServer struct {
	ID        string
	Name      string
	Protocol  string
	Host      string
	Port      int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TargetServer is an upstream the proxy forwards requests to.
type TargetServer struct {
	ID        string
	Name      string
	Protocol  string
	Host      string
	Port      int
	BasePath  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Authentication is a stored credential. The plain token is never persisted;
// TokenSealed and TokenSalt hold the encrypted form.
type Authentication struct {
	ID          string
	Name        string
	TokenType   string
	TokenSealed string
	TokenSalt   string
	TokenMasked string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Route binds (method, source path) on a source server to a target path on a
// target server.
type Route struct {
	ID             string
	SourceServerID string
	TargetServerID string
	Method         string
	SourcePath     string
	TargetPath     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RouteSourceAuth is one entry of a route's inbound authentication set.
type RouteSourceAuth struct {
	RouteID          string
	AuthenticationID string
	Position         int
}

// ServerOptions carries TLS material for a source server.
type ServerOptions struct {
	SourceServerID string
	TLSCertPath    string
	TLSKeyPath     string
	UpdatedAt      time.Time
}

// ACLOptions restricts which client addresses a source server accepts.
type ACLOptions struct {
	SourceServerID string
	Mode           string
	ClientIPHeader string
	AllowList      []string
	DenyList       []string
	UpdatedAt      time.Time
}

// Store describes the persistence surface consumed by the configuration model.
type Store interface {
	Close(ctx context.Context) error
	Queries() Queries
	WithTx(ctx context.Context, fn func(Queries) error) error
}

// Queries exposes repository accessors bound to a specific connection scope
// (either the root connection or a transaction).
type Queries interface {
	SourceServers() SourceServerRepository
	TargetServers() TargetServerRepository
	Authentications() AuthenticationRepository
	Routes() RouteRepository
	RouteAuths() RouteAuthRepository
	ServerOptions() ServerOptionsRepository
}

// SourceServerRepository manages source server rows.
type SourceServerRepository interface {
	Create(ctx context.Context, s *SourceServer) error
	Get(ctx context.Context, id string) (*SourceServer, error)
	List(ctx context.Context) ([]SourceServer, error)
	Update(ctx context.Context, s *SourceServer) error
	Delete(ctx context.Context, id string) error
}

// TargetServerRepository manages target server rows.
type TargetServerRepository interface {
	Create(ctx context.Context, t *TargetServer) error
	Get(ctx context.Context, id string) (*TargetServer, error)
	List(ctx context.Context) ([]TargetServer, error)
	Update(ctx context.Context, t *TargetServer) error
	Delete(ctx context.Context, id string) error
}

// AuthenticationRepository manages credential rows.
type AuthenticationRepository interface {
	Create(ctx context.Context, a *Authentication) error
	Get(ctx context.Context, id string) (*Authentication, error)
	List(ctx context.Context) ([]Authentication, error)
	Update(ctx context.Context, a *Authentication) error
	Delete(ctx context.Context, id string) error
}

// RouteRepository manages route rows.
type RouteRepository interface {
	Create(ctx context.Context, r *Route) error
	Get(ctx context.Context, id string) (*Route, error)
	List(ctx context.Context) ([]Route, error)
	Update(ctx context.Context, r *Route) error
	Delete(ctx context.Context, id string) error
	FindBySourceMethodPath(ctx context.Context, sourceServerID, method, sourcePath string) (*Route, error)
	ListByServer(ctx context.Context, serverID string) ([]Route, error)
}

// RouteAuthRepository manages the two route-authentication relations.
type RouteAuthRepository interface {
	ListSource(ctx context.Context, routeID string) ([]RouteSourceAuth, error)
	ReplaceSource(ctx context.Context, routeID string, authIDs []string) error
	GetTarget(ctx context.Context, routeID string) (string, bool, error)
	SetTarget(ctx context.Context, routeID string, authID string) error
	ClearTarget(ctx context.Context, routeID string) error
	DeleteForRoute(ctx context.Context, routeID string) error
	// DetachAuthentication removes authID from every source set and clears it
	// from every target relation, returning the number of rows touched.
	DetachAuthentication(ctx context.Context, authID string) (int64, error)
}

// ServerOptionsRepository manages the per-source-server option records.
type ServerOptionsRepository interface {
	GetTLS(ctx context.Context, sourceServerID string) (*ServerOptions, error)
	UpsertTLS(ctx context.Context, opts *ServerOptions) error
	GetACL(ctx context.Context, sourceServerID string) (*ACLOptions, error)
	UpsertACL(ctx context.Context, opts *ACLOptions) error
	DeleteForServer(ctx context.Context, sourceServerID string) error
}
