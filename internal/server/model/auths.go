package model

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/featherproxy/feather/internal/server/db"
	"github.com/featherproxy/feather/internal/server/events"
	"github.com/featherproxy/feather/internal/server/secret"
)

// DefaultTokenType is applied when an authentication omits token_type.
const DefaultTokenType = "bearer"

// Authentication is the read view of a stored credential. It never carries
// the token itself.
type Authentication struct {
	ID          string
	Name        string
	TokenType   string
	TokenMasked string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func authView(a *db.Authentication) Authentication {
	return Authentication{
		ID:          a.ID,
		Name:        a.Name,
		TokenType:   a.TokenType,
		TokenMasked: a.TokenMasked,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

// AuthInput creates an authentication. Token is mandatory.
type AuthInput struct {
	Name      string
	TokenType string
	Token     string
}

// AuthUpdate replaces name and token type; Token decides what happens to the
// stored secret.
type AuthUpdate struct {
	Name      string
	TokenType string
	Token     TokenUpdate
}

// TokenUpdate is either KeepToken or ReplaceToken. The zero value keeps.
type TokenUpdate struct {
	replace bool
	value   string
}

// KeepToken leaves the stored secret untouched.
func KeepToken() TokenUpdate { return TokenUpdate{} }

// ReplaceToken swaps the stored secret for value.
func ReplaceToken(value string) TokenUpdate { return TokenUpdate{replace: true, value: value} }

// Replaces reports whether the update carries a new secret.
func (u TokenUpdate) Replaces() bool { return u.replace }

// Credential is the decrypted outbound credential for a route.
type Credential struct {
	AuthenticationID string
	TokenType        string
	Token            string
}

func normalizeAuthFields(name, tokenType string) (string, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", "", invalid("name is required")
	}
	tokenType = strings.ToLower(strings.TrimSpace(tokenType))
	if tokenType == "" {
		tokenType = DefaultTokenType
	}
	if strings.ContainsAny(tokenType, " \t\r\n") {
		return "", "", invalid("token_type %q must be a single word", tokenType)
	}
	return name, tokenType, nil
}

func (m *Model) seal(record *db.Authentication, token string) error {
	if token == "" {
		return invalid("token is required")
	}
	sealed, salt, err := m.sealer.Seal(token)
	if errors.Is(err, secret.ErrKeyMissing) {
		return UnavailableError{Component: "token sealing (FEATHER_AUTH_KEY)"}
	}
	if err != nil {
		return err
	}
	record.TokenSealed = sealed
	record.TokenSalt = salt
	record.TokenMasked = secret.Mask(token)
	return nil
}

// ListAuthentications returns every authentication with masked tokens.
func (m *Model) ListAuthentications(ctx context.Context) ([]Authentication, error) {
	var out []Authentication
	err := m.read(ctx, "list authentications", func(ctx context.Context, q db.Queries) error {
		records, err := q.Authentications().List(ctx)
		if err != nil {
			return err
		}
		out = make([]Authentication, 0, len(records))
		for i := range records {
			out = append(out, authView(&records[i]))
		}
		return nil
	})
	return out, err
}

// GetAuthentication resolves one authentication.
func (m *Model) GetAuthentication(ctx context.Context, id string) (*Authentication, error) {
	var out Authentication
	err := m.read(ctx, "get authentication", func(ctx context.Context, q db.Queries) error {
		a, err := q.Authentications().Get(ctx, id)
		if err != nil {
			return notFound(kindAuthentication, id, err)
		}
		out = authView(a)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateAuthentication seals in.Token and persists the credential.
func (m *Model) CreateAuthentication(ctx context.Context, in AuthInput) (*Authentication, error) {
	name, tokenType, err := normalizeAuthFields(in.Name, in.TokenType)
	if err != nil {
		return nil, err
	}
	record := &db.Authentication{ID: m.newID(), Name: name, TokenType: tokenType}
	if err := m.seal(record, in.Token); err != nil {
		return nil, err
	}
	if err := m.write(ctx, "create authentication", func(ctx context.Context, q db.Queries) error {
		return q.Authentications().Create(ctx, record)
	}); err != nil {
		return nil, err
	}
	m.logger.Info("authentication created", "id", record.ID, "name", record.Name)
	m.publish(ctx, events.TypeCreated, events.KindAuthentication, record.ID, "")
	view := authView(record)
	return &view, nil
}

// UpdateAuthentication rewrites name and token type and, for ReplaceToken,
// the sealed secret.
func (m *Model) UpdateAuthentication(ctx context.Context, id string, in AuthUpdate) (*Authentication, error) {
	name, tokenType, err := normalizeAuthFields(in.Name, in.TokenType)
	if err != nil {
		return nil, err
	}
	var replacement db.Authentication
	if in.Token.Replaces() {
		if err := m.seal(&replacement, in.Token.value); err != nil {
			return nil, err
		}
	}
	var view Authentication
	err = m.write(ctx, "update authentication", func(ctx context.Context, q db.Queries) error {
		current, err := q.Authentications().Get(ctx, id)
		if err != nil {
			return notFound(kindAuthentication, id, err)
		}
		current.Name = name
		current.TokenType = tokenType
		if in.Token.Replaces() {
			current.TokenSealed = replacement.TokenSealed
			current.TokenSalt = replacement.TokenSalt
			current.TokenMasked = replacement.TokenMasked
		}
		if err := q.Authentications().Update(ctx, current); err != nil {
			return notFound(kindAuthentication, id, err)
		}
		view = authView(current)
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.publish(ctx, events.TypeUpdated, events.KindAuthentication, id, "")
	return &view, nil
}

// DeleteAuthentication detaches id from every route and deletes it in one
// transaction.
func (m *Model) DeleteAuthentication(ctx context.Context, id string) error {
	var detached int64
	err := m.write(ctx, "delete authentication", func(ctx context.Context, q db.Queries) error {
		if _, err := q.Authentications().Get(ctx, id); err != nil {
			return notFound(kindAuthentication, id, err)
		}
		n, err := q.RouteAuths().DetachAuthentication(ctx, id)
		if err != nil {
			return err
		}
		detached = n
		return notFound(kindAuthentication, id, q.Authentications().Delete(ctx, id))
	})
	if err != nil {
		return err
	}
	m.logger.Info("authentication deleted", "id", id, "detached_relations", detached)
	m.publish(ctx, events.TypeDeleted, events.KindAuthentication, id, "")
	return nil
}
