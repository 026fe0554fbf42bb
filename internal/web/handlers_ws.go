package web

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flowshift/mt5bridge/internal/logging"
)

// lifecycleEvent is one notification pushed to a session's WebSocket
// subscribers: {event: connected|created|accessed|closed, session_id, time}.
type lifecycleEvent struct {
	Event     string    `json:"event"`
	SessionID string    `json:"session_id"`
	Time      time.Time `json:"time"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     allowWSOrigin,
}

func allowWSOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// handleSessionWS upgrades and streams lifecycle events for one session
// id. It is not a terminal PTY bridge — there is no terminal UI in this
// domain.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	const prefix = "/ws/sessions/"
	id := strings.TrimPrefix(r.URL.Path, prefix)
	if id == "" || strings.Contains(id, "/") {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "session id is required")
		return
	}
	if _, ok := s.registry.GetSession(id); !ok {
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "unknown session: "+id)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := s.subscribe(id)
	defer s.unsubscribe(id, ch)

	_ = conn.WriteJSON(lifecycleEvent{Event: "connected", SessionID: id, Time: time.Now().UTC()})

	// Detect client-initiated close without blocking on read forever.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-s.baseCtx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}

func (s *Server) subscribe(id string) chan lifecycleEvent {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()

	subs, ok := s.events[id]
	if !ok {
		subs = make(map[chan lifecycleEvent]struct{})
		s.events[id] = subs
	}
	ch := make(chan lifecycleEvent, 8)
	subs[ch] = struct{}{}
	return ch
}

func (s *Server) unsubscribe(id string, ch chan lifecycleEvent) {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()

	subs, ok := s.events[id]
	if !ok {
		return
	}
	delete(subs, ch)
	close(ch)
	if len(subs) == 0 {
		delete(s.events, id)
	}
}

// publishEvent fans a lifecycle event out to every current WebSocket
// subscriber of id, dropping it for any subscriber whose buffer is full
// rather than blocking the HTTP request path on a slow reader.
func (s *Server) publishEvent(id, event string) {
	s.eventsMu.Lock()
	subs := s.events[id]
	chans := make([]chan lifecycleEvent, 0, len(subs))
	for ch := range subs {
		chans = append(chans, ch)
	}
	s.eventsMu.Unlock()

	if len(chans) == 0 {
		return
	}
	ev := lifecycleEvent{Event: event, SessionID: id, Time: time.Now().UTC()}
	for _, ch := range chans {
		select {
		case ch <- ev:
		default:
			logging.ForComponent(logging.CompWeb).Debug("event_subscriber_backpressure", "session_id", id)
		}
	}
}
