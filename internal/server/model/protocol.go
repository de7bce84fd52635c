package model

import "strings"

// Protocol is the scheme a server speaks.
type Protocol string

const (
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
)

// ParseProtocol normalizes raw to lower case without checking membership.
func ParseProtocol(raw string) Protocol {
	return Protocol(strings.ToLower(strings.TrimSpace(raw)))
}

// Valid reports whether p is one of the recognized protocols.
func (p Protocol) Valid() bool {
	switch ParseProtocol(string(p)) {
	case ProtocolHTTP, ProtocolHTTPS:
		return true
	}
	return false
}

// Compatible reports whether a route may pair a source server speaking source
// with a target server speaking target. Equal protocols always pair, and
// http/https pair in either direction so TLS can be terminated or originated
// at the proxy.
func Compatible(source, target Protocol) bool {
	s, t := ParseProtocol(string(source)), ParseProtocol(string(target))
	if s == t {
		return true
	}
	return isWeb(s) && isWeb(t)
}

func isWeb(p Protocol) bool {
	return p == ProtocolHTTP || p == ProtocolHTTPS
}
