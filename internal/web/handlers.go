package web

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/flowshift/mt5bridge/internal/registry"
)

// createReq is POST /api/sessions's body.
type createReq struct {
	Login    int    `json:"login"`
	Password string `json:"password"`
	Server   string `json:"server"`
}

// commandReq is POST /api/sessions/{id}/commands's body.
type commandReq struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params"`
}

// sessionInfo is the JSON shape of one list_sessions entry:
// `{ id, login, server, created_at: ISO8601, last_accessed: ISO8601,
// age_seconds }`.
type sessionInfo struct {
	ID           string  `json:"id"`
	Login        int     `json:"login"`
	Server       string  `json:"server"`
	CreatedAt    string  `json:"created_at"`
	LastAccessed string  `json:"last_accessed"`
	AgeSeconds   float64 `json:"age_seconds"`
}

// createGroup collapses concurrent HTTP retries of create_session for an
// identical, still-in-flight request body onto a single call. This is
// purely a router-level retry-storm guard: the registry's own
// CreateSession always spawns a new worker per call — singleflight never
// runs inside Registry.CreateSession itself, only around this handler's
// dedup key.
var createGroup singleflight.Group

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateSession(w, r)
	case http.MethodGet:
		s.handleListSessions(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}
	if !s.limiter.Allow() {
		writeAPIError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many create_session requests")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "failed to read body")
		return
	}
	var req createReq
	if err := json.Unmarshal(body, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed JSON body")
		return
	}

	// The dedup key includes the raw request body (password included), so
	// only byte-identical requests collapse; singleflight drops the key
	// once the in-flight call returns.
	key := strconv.Itoa(req.Login) + "|" + req.Server + "|" + string(body)
	v, err, _ := createGroup.Do(key, func() (any, error) {
		return s.registry.CreateSession(req.Login, req.Password, req.Server)
	})
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	s.publishEvent(v.(string), "created")
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": v.(string)})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	infos := s.registry.ListSessions()
	out := make(map[string]sessionInfo, len(infos))
	for _, info := range infos {
		out[info.ID] = sessionInfo{
			ID:           info.ID,
			Login:        info.Login,
			Server:       info.Server,
			CreatedAt:    info.CreatedAt.UTC().Format(time.RFC3339),
			LastAccessed: info.LastAccessed.UTC().Format(time.RFC3339),
			AgeSeconds:   info.AgeSeconds,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleSessionByID dispatches the path shapes nested under
// /api/sessions/: GET or DELETE .../{id} and POST .../{id}/commands.
func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	const prefix = "/api/sessions/"
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	if rest == "" {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "session id is required")
		return
	}

	if id, ok := strings.CutSuffix(rest, "/commands"); ok {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handleExecuteCommand(w, r, id)
		return
	}

	if strings.Contains(rest, "/") {
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "not found")
		return
	}

	switch r.Method {
	case http.MethodDelete:
		s.handleCleanupSession(w, r, rest)
	case http.MethodGet:
		s.handleGetSession(w, r, rest)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request, id string) {
	h, ok := s.registry.GetSession(id)
	if !ok {
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "unknown session: "+id)
		return
	}
	writeJSON(w, http.StatusOK, sessionInfo{
		ID:           h.ID,
		Login:        h.Login,
		Server:       h.Server,
		CreatedAt:    h.CreatedAt().UTC().Format(time.RFC3339),
		LastAccessed: h.LastAccessed().UTC().Format(time.RFC3339),
		AgeSeconds:   time.Since(h.CreatedAt()).Seconds(),
	})
}

func (s *Server) handleExecuteCommand(w http.ResponseWriter, r *http.Request, id string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "failed to read body")
		return
	}
	var req commandReq
	if err := json.Unmarshal(body, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed JSON body")
		return
	}

	resp, err := s.registry.ExecuteCommand(id, req.Type, req.Params)
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	s.publishEvent(id, "accessed")

	// A VendorError is still a 200 with success:false in the body — only
	// pipe/protocol/lookup failures map to HTTP errors.
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCleanupSession(w http.ResponseWriter, r *http.Request, id string) {
	removed := s.registry.CleanupSession(id)
	if removed {
		s.publishEvent(id, "closed")
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}
