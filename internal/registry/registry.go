package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flowshift/mt5bridge/internal/logging"
	"github.com/flowshift/mt5bridge/internal/platform"
	"github.com/flowshift/mt5bridge/internal/protocol"
	"github.com/flowshift/mt5bridge/internal/terminal"
)

var regLog = logging.ForComponent(logging.CompRegistry)

// Config configures a Registry.
type Config struct {
	WorkerBinPath     string
	TerminalExePath   string
	CommandTimeout    time.Duration
	InitTimeout       time.Duration
	IdleTimeout       time.Duration
	ReaperInterval    time.Duration
	// CloseAllFanOut bounds how many cleanups close_all_sessions runs
	// concurrently.
	CloseAllFanOut int
}

// Info is the point-in-time snapshot list_sessions exposes. It never
// exposes the Handle itself.
type Info struct {
	ID           string
	Login        int
	Server       string
	CreatedAt    time.Time
	LastAccessed time.Time
	AgeSeconds   float64
}

// Registry is the process-wide session-id → Handle map plus the
// operations the router consumes.
type Registry struct {
	cfg         Config
	provisioner *terminal.Provisioner

	// spawn defaults to spawnWorker; tests substitute a spawner that talks
	// to a re-exec'd helper process instead of a real Worker binary.
	spawn func(SpawnConfig) (*Handle, error)

	mu       sync.RWMutex
	sessions map[string]*Handle
}

// New constructs a Registry. provisioner must already have its Template's
// SessionsBase set; the Registry does not build the template itself.
func New(cfg Config, provisioner *terminal.Provisioner) *Registry {
	if cfg.CloseAllFanOut <= 0 {
		cfg.CloseAllFanOut = 8
	}
	return &Registry{
		cfg:         cfg,
		provisioner: provisioner,
		spawn:       spawnWorker,
		sessions:    make(map[string]*Handle),
	}
}

// CreateSession provisions a data dir, spawns a Worker, and blocks for its
// init handshake.
func (r *Registry) CreateSession(login int, secret, server string) (string, error) {
	id, err := newSessionID()
	if err != nil {
		return "", newErr(KindSpawnError, "", err)
	}

	dataDir, err := r.provisioner.Provision(id)
	if err != nil {
		return "", newErr(KindProvisionError, "", err)
	}

	if platform.PrefersLoopbackIPC() {
		// WSL1 and bare Windows hosts run the vendor terminal under an
		// emulation layer where stdio pipes to a Windows child are
		// unreliable. A production deployment on such a host allocates
		// an ephemeral loopback port here and passes it as
		// SpawnConfig.IPCPort; this registry always uses stdio, so it
		// only logs the mismatch rather than guessing a port.
		regLog.Warn("loopback_ipc_preferred_but_unused", slog.String("session_id", id))
	}

	handle, err := r.spawn(SpawnConfig{
		WorkerBinPath:   r.cfg.WorkerBinPath,
		SessionID:       id,
		Login:           login,
		Secret:          secret,
		Server:          server,
		DataDir:         dataDir,
		TerminalExePath: r.provisioner.ExecutablePath(id),
		InitTimeout:     r.cfg.InitTimeout,
	})
	if err != nil {
		_ = r.provisioner.Remove(id)
		return "", err
	}

	r.mu.Lock()
	r.sessions[id] = handle
	r.mu.Unlock()

	regLog.Info("session_created", slog.String("session_id", id), slog.Int("login", login), slog.String("server", server))
	return id, nil
}

// GetSession performs an atomic lookup. It never mutates last_accessed —
// that happens only inside SendCommand — so a deadlocked session is never
// masked from the Reaper by an observer merely glancing at it.
func (r *Registry) GetSession(id string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.sessions[id]
	return h, ok
}

// ExecuteCommand is the lookup + dispatch convenience wrapping GetSession
// and Handle.SendCommand.
func (r *Registry) ExecuteCommand(id, typ string, params []byte) (*protocol.Response, error) {
	h, ok := r.GetSession(id)
	if !ok {
		return nil, newErr(KindNotFound, "unknown session: "+id, nil)
	}

	resp, err := h.SendCommand(protocol.Request{Type: typ, Params: params}, r.cfg.CommandTimeout)
	if err != nil {
		switch KindOf(err) {
		case KindWorkerDead, KindProtocolError:
			r.CleanupSession(id)
		}
		return nil, err
	}
	return resp, nil
}

// ListSessions returns a point-in-time copy of every tracked session.
func (r *Registry) ListSessions() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	infos := make([]Info, 0, len(r.sessions))
	for _, h := range r.sessions {
		infos = append(infos, Info{
			ID:           h.ID,
			Login:        h.Login,
			Server:       h.Server,
			CreatedAt:    h.CreatedAt(),
			LastAccessed: h.LastAccessed(),
			AgeSeconds:   now.Sub(h.CreatedAt()).Seconds(),
		})
	}
	return infos
}

// CleanupSession atomically removes id from the map, then runs its
// Handle's cleanup outside the lock. Returns whether anything was removed.
func (r *Registry) CleanupSession(id string) bool {
	r.mu.Lock()
	h, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	h.Cleanup()
	regLog.Info("session_removed", slog.String("session_id", id))
	return true
}

// ForgetSession removes id from the map and tears down its Handle,
// without assuming the data dir still exists. Used by the DirWatcher when
// a session_<id> directory disappears out-of-band so the registry entry
// doesn't linger until the Reaper's idle threshold catches it.
func (r *Registry) ForgetSession(id string) {
	r.mu.Lock()
	h, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	h.Cleanup()
}

// CleanupOldSessions computes candidates under the lock, removes their map
// entries under the lock, then cleans each up outside the lock.
func (r *Registry) CleanupOldSessions(maxAge time.Duration) []string {
	threshold := time.Now().Add(-maxAge)

	r.mu.Lock()
	var candidates []*Handle
	var ids []string
	for id, h := range r.sessions {
		if h.LastAccessed().Before(threshold) {
			candidates = append(candidates, h)
			ids = append(ids, id)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, h := range candidates {
		h.Cleanup()
	}
	if len(ids) > 0 {
		regLog.Info("idle_sessions_reaped", slog.Int("count", len(ids)))
	}
	return ids
}

// CloseAllSessions drains the registry, running cleanups concurrently with
// a bounded fan-out.
func (r *Registry) CloseAllSessions(ctx context.Context) int {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.sessions))
	for id, h := range r.sessions {
		handles = append(handles, h)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if len(handles) == 0 {
		return 0
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.CloseAllFanOut)
	for _, h := range handles {
		h := h
		g.Go(func() error {
			h.Cleanup()
			return nil
		})
	}
	_ = g.Wait()

	regLog.Info("all_sessions_closed", slog.Int("count", len(handles)))
	return len(handles)
}

// Len reports the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
