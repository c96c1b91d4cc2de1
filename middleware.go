package main

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

const requestIDHeader = "X-Request-ID"

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withRequestLog tags each request with an ID and stores a request-scoped
// logger in its context.
func withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		logger := log.With().
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Logger()
		r = r.WithContext(logger.WithContext(r.Context()))

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		logger.Info().
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Str("client_ip", clientIP(r)).
			Msg("request handled")
	})
}

// withCORS answers preflight requests and sets CORS headers. An empty
// origin list allows any origin.
func withCORS(allowed []string, next http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:       allowed,
		AllowedMethods:       []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders:       []string{"Content-Type"},
		OptionsSuccessStatus: http.StatusOK,
	}).Handler(next)
}

// postOnly rejects every method but POST with 405.
func postOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusMethodNotAllowed)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "error": "method not allowed"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ipAllowlist restricts access to the given CIDR list. If allowedCIDRs is
// empty, all requests are allowed.
func ipAllowlist(allowedCIDRs string, next http.Handler) http.Handler {
	cidrs := parseCIDRs(allowedCIDRs)
	if len(cidrs) == 0 {
		return next
	}

	log.Info().Str("cidrs", allowedCIDRs).Msg("notify IP allowlist enabled")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := net.ParseIP(clientIP(r))
		if ip != nil {
			for _, cidr := range cidrs {
				if cidr.Contains(ip) {
					next.ServeHTTP(w, r)
					return
				}
			}
		}

		log.Ctx(r.Context()).Warn().Str("client_ip", clientIP(r)).Msg("notify access denied")
		http.Error(w, "Forbidden", http.StatusForbidden)
	})
}

func parseCIDRs(raw string) []*net.IPNet {
	var nets []*net.IPNet
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		// Bare IPs become single-host networks.
		if !strings.Contains(s, "/") {
			if strings.Contains(s, ":") {
				s += "/128"
			} else {
				s += "/32"
			}
		}
		_, cidr, err := net.ParseCIDR(s)
		if err != nil {
			log.Warn().Err(err).Str("cidr", s).Msg("ignoring invalid CIDR")
			continue
		}
		nets = append(nets, cidr)
	}
	return nets
}

// clientIP prefers the first X-Forwarded-For hop, then the peer address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
