// Package auth gates WebSocket connections and HTTP routes on a valid session
// and verifies user credentials at login.
package auth

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/Tyrowin/messenger/internal/session"
)

// ParseCookies splits a Cookie header into name/value pairs. Only the first
// '=' separates a name from its value, and values are URL-decoded. Pairs that
// fail to decode are skipped; a later duplicate name overrides an earlier one.
func ParseCookies(header string) map[string]string {
	cookies := make(map[string]string)
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, _ := strings.Cut(part, "=")
		if name == "" {
			continue
		}
		decoded, err := url.PathUnescape(value)
		if err != nil {
			continue
		}
		cookies[name] = decoded
	}
	return cookies
}

// TokenFromHeader extracts the session token from the request headers.
func TokenFromHeader(h http.Header) (string, bool) {
	raw := h.Values("Cookie")
	if len(raw) == 0 {
		return "", false
	}
	token := ParseCookies(strings.Join(raw, "; "))[session.CookieName]
	return token, token != ""
}
