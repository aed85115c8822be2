// Package server normalizes and validates HTTP origins for WebSocket requests
// to enforce configured access control.
package server

import (
	"log"
	"net/http"
	"net/url"
	"strings"
)

// canonicalOrigin reduces an origin to lowercase scheme://host form so that
// configured values and request headers compare consistently.
func canonicalOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// parseOriginList canonicalizes a configured origin list, dropping blank and
// malformed entries. A "*" entry switches the server to allow-all mode.
func parseOriginList(origins []string) (map[string]struct{}, bool) {
	allowed := make(map[string]struct{}, len(origins))
	allowAll := false

	for _, raw := range origins {
		entry := strings.TrimSpace(raw)
		switch {
		case entry == "":
			continue
		case entry == "*":
			allowAll = true
		default:
			canonical, ok := canonicalOrigin(entry)
			if !ok {
				log.Printf("Ignoring invalid origin in configuration: %q", raw)
				continue
			}
			allowed[canonical] = struct{}{}
		}
	}

	return allowed, allowAll
}

func checkOrigin(r *http.Request) bool {
	header := r.Header.Get("Origin")
	canonical, ok := canonicalOrigin(header)
	if header != "" && ok {
		configMu.RLock()
		_, permitted := allowedOrigins[canonical]
		permitted = permitted || allowAllOrigins
		configMu.RUnlock()

		if permitted {
			return true
		}
	}

	log.Printf("Blocked WebSocket connection from disallowed origin: %q", header)
	return false
}
