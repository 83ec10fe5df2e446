package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"notification_relay/relay"
)

//go:embed web/dist web/dist/* web/dist/assets/*
var embeddedStatic embed.FS

const maxFormBytes = 1 << 20

// Dispatcher is the core the submission endpoint hands drafts to.
type Dispatcher interface {
	Dispatch(ctx context.Context, draft relay.Draft) relay.Outcome
}

// Options configure the outer surface around the dispatcher.
type Options struct {
	Gate     Gate
	Throttle *Throttle
	Logger   zerolog.Logger
}

type Server struct {
	dispatcher Dispatcher
	gate       Gate
	throttle   *Throttle
	logger     zerolog.Logger
	staticFS   http.Handler
}

func New(d Dispatcher, opts Options) (*Server, error) {
	if d == nil {
		return nil, errors.New("dispatcher required")
	}

	sub, err := fs.Sub(embeddedStatic, "web/dist")
	if err != nil {
		return nil, err
	}

	gate := opts.Gate
	if gate == nil {
		gate = OpenGate{}
	}

	return &Server{
		dispatcher: d,
		gate:       gate,
		throttle:   opts.Throttle,
		logger:     opts.Logger,
		staticFS:   http.FileServer(http.FS(sub)),
	}, nil
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/notifications", s.handleSubmit)
	mux.Handle("/", s.staticHandler())

	root := http.NewServeMux()
	root.HandleFunc("/healthz", handleHealth)
	root.Handle("/", s.gateMiddleware(mux))
	return s.logMiddleware(root)
}

func (s *Server) staticHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			http.NotFound(w, r)
			return
		}
		s.staticFS.ServeHTTP(w, r)
	})
}

// --- Handlers ---

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.throttle != nil && !s.throttle.Allow() {
		http.Error(w, "too many submissions", http.StatusTooManyRequests)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := parseForm(r); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	draft := relay.Draft{
		Title: r.PostForm.Get("title"),
		Body:  r.PostForm.Get("body"),
	}

	outcome := s.dispatcher.Dispatch(r.Context(), draft)
	writeJSON(w, outcome)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// --- Helpers ---

func parseForm(r *http.Request) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return r.ParseMultipartForm(maxFormBytes)
	}
	return r.ParseForm()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)

		logger := s.logger.With().Str("request_id", id).Logger()
		r = r.WithContext(logger.WithContext(r.Context()))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if path == "" {
			path = "/"
		}
		logger.Debug().
			Str("method", r.Method).
			Str("path", path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
