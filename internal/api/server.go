// Package api serves the HTTP surface: room inspection, health, metrics,
// the compile and profile-image proxies and the WebSocket upgrade route.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"collabroom/internal/compiler"
	"collabroom/internal/logging"
	"collabroom/internal/metrics"
	"collabroom/pkg/interfaces"
	"collabroom/pkg/types"
)

// RoomInspector reads room state through the hub; the hub implements it
type RoomInspector interface {
	Rooms(ctx context.Context) ([]types.RoomSummary, error)
	Room(ctx context.Context, roomID string) (*types.RoomDetail, bool, error)
}

// ConnectionStats reports live connection counts; the websocket registry implements it
type ConnectionStats interface {
	GetStats() map[string]int
}

// Compiler executes code through the compile collaborator
type Compiler interface {
	Compile(ctx context.Context, req compiler.Request) (json.RawMessage, error)
}

// Dependencies wires the server. Journal, Compiler, ProfileImages, WebSocket and
// Gatherer are optional; their routes answer 503 or are omitted when nil.
type Dependencies struct {
	Rooms         RoomInspector
	Connections   ConnectionStats
	Journal       interfaces.ActivityJournal
	Compiler      Compiler
	ProfileImages http.Handler
	WebSocket     http.Handler
	Gatherer      prometheus.Gatherer
	Metrics       *metrics.Metrics
	Logger        *slog.Logger

	// AllowedOrigins restricts CORS; empty allows any origin
	AllowedOrigins []string
}

// Server is the HTTP API. It holds no room logic; reads go through the hub.
type Server struct {
	deps    Dependencies
	router  *mux.Router
	handler http.Handler
	logger  *slog.Logger
	started time.Time
}

// NewServer builds the router
func NewServer(deps Dependencies) *Server {
	s := &Server{
		deps:    deps,
		router:  mux.NewRouter(),
		logger:  logging.OrDefault(deps.Logger),
		started: time.Now(),
	}
	s.setupRoutes()

	// CORS wraps the router so preflights for any path are answered before method matching
	s.handler = s.corsMiddleware(s.router)
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.observeMiddleware)

	if s.deps.WebSocket != nil {
		s.router.Handle("/ws", s.deps.WebSocket)
	}
	if s.deps.Gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	s.router.Handle("/health", jsonMiddleware(http.HandlerFunc(s.healthCheck))).Methods(http.MethodGet)

	apiRouter := s.router.PathPrefix("/api").Subrouter()
	apiRouter.Handle("/rooms", jsonMiddleware(http.HandlerFunc(s.listRooms))).Methods(http.MethodGet)
	apiRouter.Handle("/rooms/{roomId}", jsonMiddleware(http.HandlerFunc(s.getRoom))).Methods(http.MethodGet)
	apiRouter.Handle("/rooms/{roomId}/activity", jsonMiddleware(http.HandlerFunc(s.roomActivity))).Methods(http.MethodGet)
	apiRouter.Handle("/compile", jsonMiddleware(http.HandlerFunc(s.compile))).Methods(http.MethodPost)
	if s.deps.ProfileImages != nil {
		apiRouter.Handle("/profile-image", s.deps.ProfileImages).Methods(http.MethodGet)
	}

	// Older clients post to /compile directly
	s.router.Handle("/compile", jsonMiddleware(http.HandlerFunc(s.compile))).Methods(http.MethodPost)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

type RoomsResponse struct {
	Rooms []types.RoomSummary `json:"rooms"`
}

type ActivityResponse struct {
	RoomID     string            `json:"roomId"`
	Activities []*types.Activity `json:"activities"`
}

type HealthResponse struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Hub         string                 `json:"hub"`
	Database    string                 `json:"database"`
	Rooms       int                    `json:"rooms"`
	Connections map[string]int         `json:"connections"`
	System      map[string]interface{} `json:"system"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /api/rooms
func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.deps.Rooms.Rooms(r.Context())
	if err != nil {
		s.logger.Warn("room listing failed", "error", err)
		s.sendError(w, "Room state unavailable", http.StatusServiceUnavailable)
		return
	}
	if rooms == nil {
		rooms = []types.RoomSummary{}
	}
	s.sendJSON(w, http.StatusOK, RoomsResponse{Rooms: rooms})
}

// GET /api/rooms/{roomId}
func (s *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	detail, ok, err := s.deps.Rooms.Room(r.Context(), roomID)
	if err != nil {
		s.logger.Warn("room lookup failed", "room_id", roomID, "error", err)
		s.sendError(w, "Room state unavailable", http.StatusServiceUnavailable)
		return
	}
	if !ok {
		s.sendError(w, "Room not found", http.StatusNotFound)
		return
	}
	s.sendJSON(w, http.StatusOK, detail)
}

// GET /api/rooms/{roomId}/activity?limit=N
// Closed rooms still have history, so an unknown room returns an empty list.
func (s *Server) roomActivity(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal == nil {
		s.sendError(w, "Activity journal disabled", http.StatusServiceUnavailable)
		return
	}
	roomID := mux.Vars(r)["roomId"]

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.sendError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	activities, err := s.deps.Journal.ListRoomActivity(r.Context(), roomID, limit)
	if err != nil {
		s.logger.Error("activity query failed", "room_id", roomID, "error", err)
		s.sendError(w, "Failed to load room activity", http.StatusInternalServerError)
		return
	}
	s.sendJSON(w, http.StatusOK, ActivityResponse{RoomID: roomID, Activities: activities})
}

// POST /api/compile {code, language}
func (s *Server) compile(w http.ResponseWriter, r *http.Request) {
	if s.deps.Compiler == nil {
		s.sendError(w, "Compiler not configured", http.StatusServiceUnavailable)
		return
	}

	var req compiler.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	result, err := s.deps.Compiler.Compile(r.Context(), req)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result)
	case errors.Is(err, compiler.ErrUnsupportedLanguage), errors.Is(err, compiler.ErrEmptyCode):
		s.sendError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, compiler.ErrNotConfigured):
		s.sendError(w, "Compiler not configured", http.StatusServiceUnavailable)
	default:
		s.logger.Warn("compile failed", "language", req.Language, "error", err)
		s.sendError(w, "Failed to compile code", http.StatusInternalServerError)
	}
}

// GET /health
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Hub:       "healthy",
		Database:  "disabled",
		System: map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"uptime":     time.Since(s.started).Round(time.Second).String(),
		},
	}

	rooms, err := s.deps.Rooms.Rooms(ctx)
	if err != nil {
		response.Status = "unhealthy"
		response.Hub = fmt.Sprintf("error: %v", err)
	}
	response.Rooms = len(rooms)

	if s.deps.Journal != nil {
		response.Database = "healthy"
		if err := s.deps.Journal.HealthCheck(ctx); err != nil {
			response.Status = "unhealthy"
			response.Database = fmt.Sprintf("error: %v", err)
		}
	}

	if s.deps.Connections != nil {
		response.Connections = s.deps.Connections.GetStats()
	}

	status := http.StatusOK
	if response.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	s.sendJSON(w, status, response)
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("response encoding failed", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// observeMiddleware logs each request and records it on the HTTP metrics.
// Routes are labelled by template so room ids do not explode cardinality.
func (s *Server) observeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)

		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		s.deps.Metrics.ObserveHTTP(r.Method, route, m.Code, m.Duration)
		s.logger.Debug("handled", "method", r.Method, "route", route, "status", m.Code, "duration", m.Duration)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowed := s.allowOrigin(origin); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			if allowed != "*" {
				w.Header().Add("Vary", "Origin")
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowOrigin(origin string) string {
	if len(s.deps.AllowedOrigins) == 0 {
		return "*"
	}
	for _, allowed := range s.deps.AllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if origin != "" && strings.EqualFold(allowed, origin) {
			return origin
		}
	}
	return ""
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
