package model

import "testing"

func TestCompatible(t *testing.T) {
	cases := []struct {
		source, target Protocol
		want           bool
	}{
		{ProtocolHTTP, ProtocolHTTP, true},
		{ProtocolHTTPS, ProtocolHTTPS, true},
		{ProtocolHTTP, ProtocolHTTPS, true},
		{ProtocolHTTPS, ProtocolHTTP, true},
		{"HTTPS", "http", true},
		{"ftp", "ftp", true},
		{ProtocolHTTP, "ftp", false},
		{"ftp", ProtocolHTTPS, false},
		{"ftp", "ssh", false},
	}
	for _, tc := range cases {
		if got := Compatible(tc.source, tc.target); got != tc.want {
			t.Fatalf("Compatible(%q, %q) = %v, want %v", tc.source, tc.target, got, tc.want)
		}
	}
}

func TestProtocolValid(t *testing.T) {
	for _, p := range []Protocol{"http", "https", " HTTPS "} {
		if !p.Valid() {
			t.Fatalf("expected %q to be valid", p)
		}
	}
	for _, p := range []Protocol{"", "ftp", "tcp"} {
		if p.Valid() {
			t.Fatalf("expected %q to be invalid", p)
		}
	}
}
