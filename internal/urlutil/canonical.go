// Package urlutil normalizes target URLs so that the same product page always
// maps to the same target identity.
package urlutil

import (
	"fmt"
	"net/url"
	"strings"
)

// Tracking parameters that never affect which product a URL points at.
var droppedParams = map[string]bool{
	"ref": true, "fbclid": true, "gclid": true,
}

// Canonicalize returns the canonical form of a product URL: lowercased scheme
// and host, default ports and fragments stripped, tracking query parameters
// removed, and no trailing slash outside the root path.
func Canonicalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("url %q is not an absolute http(s) url", raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if (u.Scheme == "http" && u.Port() == "80") || (u.Scheme == "https" && u.Port() == "443") {
		u.Host = u.Hostname()
	}
	u.Fragment = ""

	if u.RawQuery != "" {
		q := u.Query()
		for name := range q {
			if droppedParams[name] || strings.HasPrefix(name, "utm_") {
				q.Del(name)
			}
		}
		u.RawQuery = q.Encode()
	}

	if len(u.Path) > 1 {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	return u.String(), nil
}

// Host returns the lowercased hostname of a URL, used for per-host request
// pacing. Invalid URLs map to the empty host bucket.
func Host(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
