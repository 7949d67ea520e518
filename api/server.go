// Package api implements the HTTP administration surface (spec.md §6):
// session CRUD, metrics, and health-check routes, plus the /ws upgrade
// route. Adapted from the deleted teacher handlers (api/room_handlers.go,
// api/user_handlers.go), generalized from room/canvas nouns to sessions,
// and from original_source/backend/app/main.py's FastAPI route surface.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"realtimeedit/go-server/coordinator"
	"realtimeedit/go-server/metrics"
	"realtimeedit/go-server/session"
)

// Server wires the HTTP administration surface against the session store,
// metrics aggregator, and connection hub, mirroring the teacher's
// handler-struct-with-dependencies shape.
type Server struct {
	store   session.Store
	metrics *metrics.Aggregator
	hub     *coordinator.Hub
	started time.Time
}

// NewServer returns a Server ready to be mounted via Routes.
func NewServer(store session.Store, agg *metrics.Aggregator, hub *coordinator.Hub) *Server {
	return &Server{store: store, metrics: agg, hub: hub, started: time.Now()}
}

// Routes registers every handler on mux, the same flat net/http.HandleFunc
// style the teacher's main.go used.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/api/sessions", s.handleSessionsCollection)
	mux.HandleFunc("/api/sessions/", s.handleSessionsItem)
	mux.HandleFunc("/api/metrics", s.handleMetrics)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/admin/cleanup", s.handleAdminCleanup)
	mux.HandleFunc("/ws/", s.handleWebSocket)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type createSessionRequest struct {
	SessionID string `json:"session_id"`
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
	UserCount int    `json:"user_count"`
}

func toSessionResponse(st *session.State) sessionResponse {
	return sessionResponse{
		SessionID: st.SessionID,
		Content:   st.Content,
		UserCount: len(st.Users),
	}
}

// handleSessionsCollection serves POST /api/sessions and GET /api/sessions.
func (s *Server) handleSessionsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req createSessionRequest
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req)
		}
		sessionID, err := s.store.Create(req.SessionID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to create session")
			return
		}
		st, err := s.store.Get(sessionID)
		if err != nil || st == nil {
			writeError(w, http.StatusInternalServerError, "failed to create session")
			return
		}
		writeJSON(w, http.StatusOK, toSessionResponse(st))

	case http.MethodGet:
		active, err := s.store.Active()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list sessions")
			return
		}
		totalConnections := 0
		for _, summary := range active {
			totalConnections += summary.UserCount
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"sessions":          active,
			"total_count":       len(active),
			"total_connections": totalConnections,
		})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleSessionsItem serves GET/DELETE /api/sessions/{id} and the
// /{id}/info and /{id}/metrics sub-resources.
func (s *Server) handleSessionsItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	rest = strings.Trim(rest, "/")
	if rest == "" {
		writeError(w, http.StatusNotFound, "session id required")
		return
	}

	parts := strings.SplitN(rest, "/", 2)
	sessionID := parts[0]
	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}

	switch sub {
	case "":
		s.handleSessionRoot(w, r, sessionID)
	case "info":
		s.handleSessionInfo(w, r, sessionID)
	case "metrics":
		s.handleSessionMetrics(w, r, sessionID)
	default:
		writeError(w, http.StatusNotFound, "unknown sub-resource")
	}
}

func (s *Server) handleSessionRoot(w http.ResponseWriter, r *http.Request, sessionID string) {
	switch r.Method {
	case http.MethodGet:
		st, err := s.store.Get(sessionID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load session")
			return
		}
		if st == nil {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeJSON(w, http.StatusOK, toSessionResponse(st))

	case http.MethodDelete:
		st, err := s.store.Get(sessionID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load session")
			return
		}
		if st == nil {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "session " + sessionID + " deleted"})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleSessionInfo(w http.ResponseWriter, r *http.Request, sessionID string) {
	st, err := s.store.Get(sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if st == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	users := make([]string, 0, len(st.Users))
	for u := range st.Users {
		users = append(users, u)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":     st.SessionID,
		"users":          users,
		"content_length": len([]rune(st.Content)),
		"created_at":     st.CreatedAt,
		"last_activity":  st.LastActivity,
	})
}

func (s *Server) handleSessionMetrics(w http.ResponseWriter, r *http.Request, sessionID string) {
	st, err := s.store.Get(sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if st == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"version":    st.Version,
		"timestamp":  time.Now().Unix(),
	})
}

// handleMetrics serves GET /api/metrics — the process-wide aggregated
// snapshot.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"performance": s.metrics.Snapshot(),
		"uptime_seconds": time.Since(s.started).Seconds(),
		"timestamp":       time.Now().Unix(),
	})
}

// handleHealth serves GET /api/health per spec §6's healthy/degraded/unhealthy
// derivation.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snap := s.metrics.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":             s.metrics.HealthStatus(),
		"timestamp":          time.Now().Unix(),
		"uptime_seconds":     time.Since(s.started).Seconds(),
		"active_connections": snap.ActiveConnections,
	})
}

// handleAdminCleanup serves POST /api/admin/cleanup, running the session
// store's expiry sweep. No timer runs Expire; this route is its only caller.
func (s *Server) handleAdminCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	removed, err := s.store.Expire()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cleanup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":          "cleanup complete",
		"sessions_expired": removed,
	})
}

// handleWebSocket upgrades /ws/{session_id}?user_id= connections, per
// spec §6's connection URL pattern.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(r.URL.Path, "/ws/")
	sessionID = strings.Trim(sessionID, "/")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session id required")
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = uuid.NewString()
	}
	coordinator.ServeWs(s.hub, w, r, sessionID, userID)
}
