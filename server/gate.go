package server

import (
	"crypto/subtle"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Gate decides whether a request may reach the admin surface at all.
type Gate interface {
	Allow(r *http.Request) bool
}

// OpenGate lets everything through.
type OpenGate struct{}

func (OpenGate) Allow(*http.Request) bool { return true }

// BasicAuthGate checks HTTP basic credentials in constant time.
type BasicAuthGate struct {
	Username string
	Password string
}

// NewGate returns an OpenGate when no credentials are configured.
func NewGate(username, password string) Gate {
	if username == "" && password == "" {
		return OpenGate{}
	}
	return BasicAuthGate{Username: username, Password: password}
}

func (g BasicAuthGate) Allow(r *http.Request) bool {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(g.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(g.Password)) == 1
	return userOK && passOK
}

func (s *Server) gateMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.gate.Allow(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="notification relay", charset="UTF-8"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Throttle caps accepted submissions with a token bucket.
type Throttle struct {
	limiter *rate.Limiter
}

// NewThrottle returns nil (no throttling) when perMinute is 0.
func NewThrottle(perMinute, burst int) *Throttle {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)}
}

func (t *Throttle) Allow() bool {
	return t.limiter.Allow()
}
