package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/crossposter/crossposter/internal/config"
	"github.com/crossposter/crossposter/internal/credentials"
	"github.com/crossposter/crossposter/internal/events"
	"github.com/crossposter/crossposter/internal/mentions"
	"github.com/crossposter/crossposter/internal/platform"
	"github.com/crossposter/crossposter/internal/store"
	"github.com/crossposter/crossposter/internal/workflows"
)

const heartbeatInterval = 15 * time.Second

type Server struct {
	store       store.Store
	broker      Broker
	workflows   WorkflowService
	drafts      DraftGenerator
	credentials CredentialService
	cfg         config.Config
	logger      *zap.Logger
	heartbeat   time.Duration
}

type Broker interface {
	Publish(event events.JobEvent)
	Subscribe(ctx context.Context, jobID string) <-chan events.JobEvent
}

type WorkflowService interface {
	StartPublish(ctx context.Context, input workflows.PublishInput) error
}

type DraftGenerator interface {
	Generate(ctx context.Context, req mentions.Request) *events.Stream
}

type CredentialService interface {
	Save(ctx context.Context, email string, p platform.Platform, bundle credentials.Bundle) error
	Delete(ctx context.Context, email string, p platform.Platform) error
	Connected(ctx context.Context, email string) (map[platform.Platform]bool, error)
}

type Dependencies struct {
	Store       store.Store
	Broker      Broker
	Workflows   WorkflowService
	Drafts      DraftGenerator
	Credentials CredentialService
	Logger      *zap.Logger
}

func NewServer(deps Dependencies, cfg config.Config) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		store:       deps.Store,
		broker:      deps.Broker,
		workflows:   deps.Workflows,
		drafts:      deps.Drafts,
		credentials: deps.Credentials,
		cfg:         cfg,
		logger:      logger,
		heartbeat:   heartbeatInterval,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(quietRequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/health", s.health)
	r.Get("/ready", s.ready)
	r.Post("/posts/{id}/events", s.ingestJobEvent)

	r.Group(func(r chi.Router) {
		r.Use(s.requireUser)
		r.Get("/drafts", s.createDrafts)
		r.Post("/drafts", s.createDrafts)
		r.Post("/posts", s.createPost)
		r.Get("/posts/{id}", s.getPost)
		r.Get("/posts/{id}/events", s.streamJobEvents)
		r.Get("/users/me", s.getMe)
		r.Put("/users/me/credentials/{platform}", s.putCredentials)
		r.Delete("/users/me/credentials/{platform}", s.deleteCredentials)
		r.Put("/users/me/utm-rules", s.putUTMRules)
		r.Put("/users/me/linkedin-organization", s.putLinkedInOrganization)
	})

	return r
}

func quietRequestLogger(next http.Handler) http.Handler {
	logged := middleware.Logger(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shouldSuppressRequestLog(r.Method, r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		logged.ServeHTTP(w, r)
	})
}

func shouldSuppressRequestLog(method string, path string) bool {
	cleanPath := strings.TrimSpace(path)
	if strings.HasSuffix(cleanPath, "/events") && (method == http.MethodPost || method == http.MethodGet) {
		return true
	}
	if method == http.MethodGet && (cleanPath == "/health" || cleanPath == "/ready") {
		return true
	}
	return method == http.MethodOptions
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

type subsystemStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type readinessResponse struct {
	Status     string                     `json:"status"`
	Subsystems map[string]subsystemStatus `json:"subsystems"`
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	subsystems := map[string]subsystemStatus{}
	overall := http.StatusOK

	if err := s.store.Ping(ctx); err != nil {
		subsystems["store"] = subsystemStatus{Status: "error", Error: err.Error()}
		overall = http.StatusServiceUnavailable
	} else {
		subsystems["store"] = subsystemStatus{Status: "ok"}
	}

	if s.drafts == nil {
		subsystems["drafts"] = subsystemStatus{Status: "error", Error: "draft pipeline not configured"}
		overall = http.StatusServiceUnavailable
	} else {
		subsystems["drafts"] = subsystemStatus{Status: "ok"}
	}

	if s.workflows == nil {
		subsystems["publishing"] = subsystemStatus{Status: "skipped"}
	} else {
		subsystems["publishing"] = subsystemStatus{Status: "ok"}
	}

	status := "ok"
	if overall != http.StatusOK {
		status = "degraded"
	}
	writeJSONStatus(w, readinessResponse{Status: status, Subsystems: subsystems}, overall)
}

func writeJSON(w http.ResponseWriter, value any) {
	writeJSONStatus(w, value, http.StatusOK)
}

func writeJSONStatus(w http.ResponseWriter, value any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func prepareSSE(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	return flusher, true
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Last-Event-ID, "+userEmailHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()
	return server.ListenAndServe()
}
