// Package origin validates browser Origin headers against a configured
// allowlist for the WebSocket upgrade.
package origin

import (
	"net/url"
	"strconv"
	"strings"
)

// Normalize validates an Origin header value and returns it in canonical
// scheme://host[:port] form with default ports stripped. The special value
// "null" (sandboxed documents, file://) is returned as-is.
func Normalize(originHeader string) (string, bool) {
	trimmed := strings.TrimSpace(originHeader)
	if trimmed == "" {
		return "", false
	}
	if trimmed == "null" {
		return "null", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	if u.User != nil || u.Path != "" || u.RawQuery != "" || u.Fragment != "" {
		return "", false
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port != "" {
		if _, err := strconv.Atoi(port); err != nil {
			return "", false
		}
	}
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = host + ":" + port
	}
	return scheme + "://" + host, true
}

// Allowed reports whether originHeader passes the allowlist.
//
// An empty header is allowed (non-browser clients do not send Origin). An
// empty allowlist or a "*" entry allows every origin; otherwise the
// normalized origin must match an allowlist entry exactly.
func Allowed(originHeader string, allowlist []string) bool {
	if strings.TrimSpace(originHeader) == "" {
		return true
	}
	if len(allowlist) == 0 {
		return true
	}

	normalized, ok := Normalize(originHeader)
	if !ok {
		return false
	}

	for _, entry := range allowlist {
		if entry == "*" {
			return true
		}
		if allowed, ok := Normalize(entry); ok && allowed == normalized {
			return true
		}
	}
	return false
}
