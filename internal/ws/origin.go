package ws

import (
	"net/http"
	"strings"
)

// OriginChecker returns a gorilla/websocket CheckOrigin function that accepts
// the comma-separated origins in allowed. Requests without an Origin header
// (same-origin or non-browser clients) are accepted; "*" accepts everything.
func OriginChecker(allowed string) func(r *http.Request) bool {
	var origins []string
	for _, o := range strings.Split(allowed, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range origins {
			if o == "*" || strings.EqualFold(origin, o) {
				return true
			}
		}
		return false
	}
}
