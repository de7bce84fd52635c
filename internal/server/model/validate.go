package model

import (
	"net"
	"net/netip"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

var methodPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_-]*$`)

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return invalid("port must be 1-65535, got %d", port)
	}
	return nil
}

func validateProtocol(raw string) (Protocol, error) {
	p := ParseProtocol(raw)
	if p == "" {
		return "", invalid("protocol is required")
	}
	if !p.Valid() {
		return "", invalid("unsupported protocol %q (want http or https)", raw)
	}
	return p, nil
}

func validateHost(raw string) (string, error) {
	host := strings.TrimSpace(raw)
	if host == "" {
		return "", invalid("host is required")
	}
	if strings.Contains(host, "://") {
		return "", invalid("host %q must not include a scheme", host)
	}
	if strings.IndexFunc(host, unicode.IsSpace) >= 0 {
		return "", invalid("host %q must not contain whitespace", host)
	}
	return host, nil
}

func validatePath(field, raw string, required bool) (string, error) {
	path := strings.TrimSpace(raw)
	if path == "" {
		if required {
			return "", invalid("%s is required", field)
		}
		return "", nil
	}
	if !strings.HasPrefix(path, "/") {
		return "", invalid("%s %q must start with /", field, path)
	}
	if strings.IndexFunc(path, unicode.IsSpace) >= 0 {
		return "", invalid("%s %q must not contain whitespace", field, path)
	}
	return path, nil
}

// normalizeMethod upper-cases raw. Any HTTP token is accepted.
func normalizeMethod(raw string) (string, error) {
	method := strings.ToUpper(strings.TrimSpace(raw))
	if method == "" {
		return "", invalid("method is required")
	}
	if !methodPattern.MatchString(method) {
		return "", invalid("method %q is not a valid HTTP method token", raw)
	}
	return method, nil
}

func validateAddressList(field string, entries []string) ([]string, error) {
	out := make([]string, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			if _, err := netip.ParsePrefix(entry); err != nil {
				return nil, invalid("%s entry %q is not a valid CIDR", field, entry)
			}
		} else if _, err := netip.ParseAddr(entry); err != nil {
			return nil, invalid("%s entry %q is not a valid IP address", field, entry)
		}
		if _, dup := seen[entry]; dup {
			continue
		}
		seen[entry] = struct{}{}
		out = append(out, entry)
	}
	return out, nil
}

// dedupeIDs trims ids, drops duplicates and keeps first-seen order.
func dedupeIDs(ids []string) ([]string, error) {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		if id == "" {
			return nil, invalid("authentication id must not be empty")
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// DisplayLabel returns name, or host:port when name is empty.
func DisplayLabel(name, host string, port int) string {
	if strings.TrimSpace(name) != "" {
		return name
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
