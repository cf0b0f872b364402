package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

type CORSPolicy struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// WithCORS answers preflights and decorates responses for allowed origins.
// An empty AllowedOrigins disables it.
func WithCORS(p CORSPolicy) Middleware {
	origins := map[string]struct{}{}
	wildcard := false
	for _, o := range trimAll(p.AllowedOrigins) {
		if o == "*" {
			wildcard = true
			continue
		}
		origins[strings.ToLower(o)] = struct{}{}
	}
	if !wildcard && len(origins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	methods := strings.Join(trimAll(p.AllowedMethods), ", ")
	headers := strings.Join(trimAll(p.AllowedHeaders), ", ")
	exposed := strings.Join(trimAll(append([]string{RequestIDHeader}, p.ExposedHeaders...)), ", ")
	maxAge := ""
	if secs := int(p.MaxAge.Seconds()); secs > 0 {
		maxAge = strconv.Itoa(secs)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			h := w.Header()
			h.Add("Vary", "Origin")

			_, listed := origins[strings.ToLower(origin)]
			if origin == "" || (!listed && !wildcard) {
				next.ServeHTTP(w, r)
				return
			}

			switch {
			case listed, p.AllowCredentials:
				h.Set("Access-Control-Allow-Origin", origin)
			default:
				h.Set("Access-Control-Allow-Origin", "*")
			}
			if p.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			h.Set("Access-Control-Expose-Headers", exposed)

			if r.Method != http.MethodOptions || r.Header.Get("Access-Control-Request-Method") == "" {
				next.ServeHTTP(w, r)
				return
			}
			h.Add("Vary", "Access-Control-Request-Method")
			h.Add("Vary", "Access-Control-Request-Headers")
			if methods != "" {
				h.Set("Access-Control-Allow-Methods", methods)
			}
			if headers != "" {
				h.Set("Access-Control-Allow-Headers", headers)
			}
			if maxAge != "" {
				h.Set("Access-Control-Max-Age", maxAge)
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
