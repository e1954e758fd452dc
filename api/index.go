package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	constants "multisource-digest/api/constants"
	models "multisource-digest/api/models"
)

const version = "1.0.0"

// maxPromptBytes bounds the request body of /api/run.
const maxPromptBytes = 1 << 20

// Runner executes one workflow run.
type Runner interface {
	Run(ctx context.Context, prompt string) models.WorkflowResult
}

// Evictor sweeps expired cache entries.
type Evictor interface {
	EvictExpired(ctx context.Context, retention time.Duration) (int64, error)
}

type RunRequest struct {
	Prompt string `json:"prompt"`
}

// Server serves the workflow over HTTP under /api.
type Server struct {
	runner      Runner
	evictor     Evictor
	retention   time.Duration
	updateKey   string
	artifactDir string
	metrics     http.Handler
	now         func() time.Time
}

type Option func(*Server)

// WithEvictor enables /api/evict, guarded by updateKey.
func WithEvictor(e Evictor, retention time.Duration, updateKey string) Option {
	return func(s *Server) {
		s.evictor = e
		s.retention = retention
		s.updateKey = updateKey
	}
}

// WithArtifacts serves generated audio and mindmaps from dir under /api/artifacts/.
func WithArtifacts(dir string) Option { return func(s *Server) { s.artifactDir = dir } }

func WithMetricsHandler(h http.Handler) Option { return func(s *Server) { s.metrics = h } }

func NewServer(runner Runner, opts ...Option) (*Server, error) {
	if runner == nil {
		return nil, errors.New("handler: runner must not be nil")
	}
	s := &Server{runner: runner, retention: constants.CacheRetention, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Simple CORS middleware
func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Update-Key")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")
	if path == "" {
		path = "/api"
	}

	corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case path == "/api":
			s.health(w)
		case path == "/api/run":
			s.run(w, r)
		case path == "/api/evict":
			s.evict(w, r)
		case path == "/metrics" && s.metrics != nil:
			s.metrics.ServeHTTP(w, r)
		case strings.HasPrefix(path, "/api/artifacts/") && s.artifactDir != "":
			http.StripPrefix("/api/artifacts/", http.FileServer(http.Dir(s.artifactDir))).ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})(w, r)
}

func (s *Server) health(w http.ResponseWriter) {
	endpoints := []string{"/api/run"}
	if s.evictor != nil {
		endpoints = append(endpoints, "/api/evict")
	}
	if s.artifactDir != "" {
		endpoints = append(endpoints, "/api/artifacts/")
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"endpoints":    endpoints,
		"cache_status": s.evictor != nil,
		"timestamp":    s.now().UTC().Format(time.RFC3339),
		"version":      version,
	})
}

func (s *Server) run(w http.ResponseWriter, r *http.Request) {
	var prompt string
	switch r.Method {
	case http.MethodGet:
		prompt = r.URL.Query().Get("prompt")
	case http.MethodPost:
		var req RunRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxPromptBytes)).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		prompt = req.Prompt
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if strings.TrimSpace(prompt) == "" {
		http.Error(w, "Missing prompt", http.StatusBadRequest)
		return
	}

	result := s.runner.Run(r.Context(), prompt)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) evict(w http.ResponseWriter, r *http.Request) {
	if s.evictor == nil {
		http.Error(w, "Cache disabled", http.StatusNotFound)
		return
	}
	if s.updateKey == "" || r.Header.Get("X-Update-Key") != s.updateKey {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	n, err := s.evictor.EvictExpired(r.Context(), s.retention)
	if err != nil {
		constants.Logger.Error("Failed to evict cache via API", "error", err)
		http.Error(w, "Error evicting cache", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "Cache evicted successfully",
		"evicted":   n,
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		constants.Logger.Error("Failed to encode response", "error", err)
	}
}
