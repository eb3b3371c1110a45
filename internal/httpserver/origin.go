package httpserver

import (
	"net/http"
	"strings"

	"github.com/spkmeeting/signal-relay/internal/origin"
)

func (s *Server) withOriginPolicy(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		originHeader := strings.TrimSpace(r.Header.Get("Origin"))
		if originHeader == "" {
			next(w, r)
			return
		}

		if !origin.Allowed(originHeader, s.cfg.AllowedOrigins) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		// Same-origin requests do not need CORS headers, but setting them is
		// harmless and lets a frontend run on a separate origin during
		// development. All guarded routes are simple GETs, which browsers do
		// not preflight, so there is no OPTIONS handling.
		if normalized, ok := origin.Normalize(originHeader); ok {
			w.Header().Set("Access-Control-Allow-Origin", normalized)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
			w.Header().Add("Vary", "Origin")
		}

		next(w, r)
	}
}
