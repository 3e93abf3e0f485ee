package core

import (
	"fmt"
	"net/url"
	"strings"
)

// ResolveBase normalises a configured origin into a WebSocket base URL. The
// ws/wss scheme follows the http/https scheme of the origin.
func ResolveBase(origin string) (string, error) {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return "", fmt.Errorf("%w: empty origin", ErrInvalidEndpoint)
	}
	u, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidEndpoint, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host in %q", ErrInvalidEndpoint, origin)
	}
	u.RawQuery = ""
	u.Fragment = ""
	return strings.TrimRight(u.String(), "/"), nil
}

// BuildURL returns {base}/ws/{subjectID}, with ?token= when token is set.
func BuildURL(base, subjectID, token string) string {
	endpoint := base + "/ws/" + url.PathEscape(subjectID)
	if token == "" {
		return endpoint
	}
	return endpoint + "?" + url.Values{"token": {token}}.Encode()
}
