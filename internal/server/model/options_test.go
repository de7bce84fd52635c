package model

import (
	"context"
	"errors"
	"testing"
)

func TestServerOptionsAndACL(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	source := mustSource(t, f.model, "https", 443)

	opts, err := f.model.GetServerOptions(ctx, source.ID)
	if err != nil {
		t.Fatalf("get empty options: %v", err)
	}
	if opts.TLSCertPath != "" {
		t.Fatalf("expected empty options, got %+v", opts)
	}

	var ve ValidationError
	if _, err := f.model.SetServerOptions(ctx, source.ID, ServerOptionsInput{TLSCertPath: "/c.pem"}); !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError for lone cert, got %v", err)
	}
	if _, err := f.model.SetServerOptions(ctx, source.ID, ServerOptionsInput{TLSCertPath: "/c.pem", TLSKeyPath: "/k.pem"}); err != nil {
		t.Fatalf("set options: %v", err)
	}

	acl, err := f.model.GetACLOptions(ctx, source.ID)
	if err != nil {
		t.Fatalf("get default acl: %v", err)
	}
	if acl.Mode != ACLModeOff {
		t.Fatalf("expected default mode off, got %q", acl.Mode)
	}

	for _, in := range []ACLInput{
		{Mode: "block_all"},
		{Mode: "allow_only", AllowList: []string{"not-an-ip"}},
		{Mode: "deny_only", DenyList: []string{"10.0.0.0/99"}},
		{Mode: "allow_only", ClientIPHeader: "X Forwarded"},
	} {
		if _, err := f.model.SetACLOptions(ctx, source.ID, in); !errors.As(err, &ve) {
			t.Fatalf("%+v: expected ValidationError, got %v", in, err)
		}
	}

	stored, err := f.model.SetACLOptions(ctx, source.ID, ACLInput{
		Mode:           "ALLOW_ONLY",
		ClientIPHeader: "X-Forwarded-For",
		AllowList:      []string{"10.0.0.0/8", " 192.168.1.4 ", "10.0.0.0/8", ""},
	})
	if err != nil {
		t.Fatalf("set acl: %v", err)
	}
	if stored.Mode != ACLModeAllowOnly || len(stored.AllowList) != 2 {
		t.Fatalf("acl not normalized: %+v", stored)
	}

	var nf NotFoundError
	if _, err := f.model.SetACLOptions(ctx, "missing", ACLInput{}); !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}
