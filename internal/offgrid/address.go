package offgrid

import (
	"fmt"
	"net/url"
	"strings"
)

// Normalize is the one canonical address form used as the key in every store:
// lower-cased scheme and host, "/" for an empty path, query kept, fragment and
// user info dropped.
func Normalize(u *url.URL) string {
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	out := strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + path
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	return out
}

// resolveAddress turns an absolute url or an origin-relative path into a
// normalized address.
func resolveAddress(origin *url.URL, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty address")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse address %q: %w", raw, err)
	}
	if !u.IsAbs() {
		if !strings.HasPrefix(u.Path, "/") {
			u.Path = "/" + u.Path
		}
		u = origin.ResolveReference(u)
	}
	return Normalize(u), nil
}

func sameOrigin(origin, u *url.URL) bool {
	return strings.EqualFold(origin.Scheme, u.Scheme) && strings.EqualFold(origin.Host, u.Host)
}

func parseAbs(address string) (*url.URL, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, err
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("address %q is not absolute", address)
	}
	return u, nil
}
