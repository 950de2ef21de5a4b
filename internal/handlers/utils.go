package handlers

import "strings"

// stripScheme removes an http(s):// prefix, leaving the host pattern.
func stripScheme(origin string) string {
	origin = strings.TrimSpace(origin)
	for _, p := range []string{"https://", "http://"} {
		if strings.HasPrefix(origin, p) {
			return strings.TrimPrefix(origin, p)
		}
	}
	return origin
}
