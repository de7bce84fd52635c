package model

import (
	"context"
	"errors"
	"strings"

	"github.com/featherproxy/feather/internal/server/db"
	"github.com/featherproxy/feather/internal/server/events"
)

// ACL modes.
const (
	ACLModeOff       = "off"
	ACLModeAllowOnly = "allow_only"
	ACLModeDenyOnly  = "deny_only"
)

// ServerOptionsInput carries TLS material for a source server.
type ServerOptionsInput struct {
	TLSCertPath string
	TLSKeyPath  string
}

// ACLInput carries the client address filter for a source server.
type ACLInput struct {
	Mode           string
	ClientIPHeader string
	AllowList      []string
	DenyList       []string
}

// GetServerOptions returns TLS options for a source server. A server without
// stored options yields an empty record.
func (m *Model) GetServerOptions(ctx context.Context, sourceServerID string) (*db.ServerOptions, error) {
	var out *db.ServerOptions
	err := m.read(ctx, "get server options", func(ctx context.Context, q db.Queries) error {
		if _, err := q.SourceServers().Get(ctx, sourceServerID); err != nil {
			return notFound(kindSourceServer, sourceServerID, err)
		}
		opts, err := q.ServerOptions().GetTLS(ctx, sourceServerID)
		if errors.Is(err, db.ErrNotFound) {
			out = &db.ServerOptions{SourceServerID: sourceServerID}
			return nil
		}
		out = opts
		return err
	})
	return out, err
}

// SetServerOptions stores TLS options. Cert and key paths are set together or
// not at all.
func (m *Model) SetServerOptions(ctx context.Context, sourceServerID string, in ServerOptionsInput) (*db.ServerOptions, error) {
	cert, key := strings.TrimSpace(in.TLSCertPath), strings.TrimSpace(in.TLSKeyPath)
	if (cert == "") != (key == "") {
		return nil, invalid("tls_cert_path and tls_key_path must be set together")
	}
	opts := &db.ServerOptions{SourceServerID: sourceServerID, TLSCertPath: cert, TLSKeyPath: key}
	err := m.write(ctx, "set server options", func(ctx context.Context, q db.Queries) error {
		if _, err := q.SourceServers().Get(ctx, sourceServerID); err != nil {
			return notFound(kindSourceServer, sourceServerID, err)
		}
		return q.ServerOptions().UpsertTLS(ctx, opts)
	})
	if err != nil {
		return nil, err
	}
	m.publish(ctx, events.TypeUpdated, events.KindServerOptions, sourceServerID, "tls")
	m.afterSourceServerChange(sourceServerID)
	return opts, nil
}

// GetACLOptions returns the ACL for a source server, defaulting to mode off.
func (m *Model) GetACLOptions(ctx context.Context, sourceServerID string) (*db.ACLOptions, error) {
	var out *db.ACLOptions
	err := m.read(ctx, "get acl options", func(ctx context.Context, q db.Queries) error {
		if _, err := q.SourceServers().Get(ctx, sourceServerID); err != nil {
			return notFound(kindSourceServer, sourceServerID, err)
		}
		opts, err := q.ServerOptions().GetACL(ctx, sourceServerID)
		if errors.Is(err, db.ErrNotFound) {
			out = &db.ACLOptions{SourceServerID: sourceServerID, Mode: ACLModeOff, AllowList: []string{}, DenyList: []string{}}
			return nil
		}
		out = opts
		return err
	})
	return out, err
}

// SetACLOptions validates and stores the ACL for a source server.
func (m *Model) SetACLOptions(ctx context.Context, sourceServerID string, in ACLInput) (*db.ACLOptions, error) {
	mode := strings.ToLower(strings.TrimSpace(in.Mode))
	if mode == "" {
		mode = ACLModeOff
	}
	switch mode {
	case ACLModeOff, ACLModeAllowOnly, ACLModeDenyOnly:
	default:
		return nil, invalid("unknown acl mode %q (want off, allow_only or deny_only)", in.Mode)
	}
	header := strings.TrimSpace(in.ClientIPHeader)
	if strings.ContainsAny(header, " \t:") {
		return nil, invalid("client_ip_header %q is not a valid header name", header)
	}
	allow, err := validateAddressList("allow_list", in.AllowList)
	if err != nil {
		return nil, err
	}
	deny, err := validateAddressList("deny_list", in.DenyList)
	if err != nil {
		return nil, err
	}
	opts := &db.ACLOptions{
		SourceServerID: sourceServerID,
		Mode:           mode,
		ClientIPHeader: header,
		AllowList:      allow,
		DenyList:       deny,
	}
	err = m.write(ctx, "set acl options", func(ctx context.Context, q db.Queries) error {
		if _, err := q.SourceServers().Get(ctx, sourceServerID); err != nil {
			return notFound(kindSourceServer, sourceServerID, err)
		}
		return q.ServerOptions().UpsertACL(ctx, opts)
	})
	if err != nil {
		return nil, err
	}
	m.publish(ctx, events.TypeUpdated, events.KindServerOptions, sourceServerID, "acl")
	m.afterSourceServerChange(sourceServerID)
	return opts, nil
}
