package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowshift/mt5bridge/internal/protocol"
	"github.com/flowshift/mt5bridge/internal/terminal"
)

// helperSpawn adapts helperCommand/startHandle into the Registry's spawn
// seam, so CreateSession drives a re-exec'd stand-in process instead of a
// real Worker binary.
func helperSpawn(mode string) func(SpawnConfig) (*Handle, error) {
	return func(cfg SpawnConfig) (*Handle, error) {
		cmd := helperCommand(mode)
		return startHandle(cmd, cfg.SessionID, cfg.Login, cfg.Server, cfg.DataDir, cfg.TerminalExePath, cfg.InitTimeout)
	}
}

func newTestRegistry(t *testing.T, mode string) *Registry {
	t.Helper()
	prov := &terminal.Provisioner{Template: &terminal.Template{
		SourceRoot:   t.TempDir(), // empty install, no subtree allow-list: only generated files
		SessionsBase: t.TempDir(),
	}}

	r := New(Config{
		CommandTimeout: time.Second,
		InitTimeout:    2 * time.Second,
		IdleTimeout:    time.Hour,
		ReaperInterval: time.Minute,
	}, prov)
	r.spawn = helperSpawn(mode)
	return r
}

func TestCreateSessionHappyPath(t *testing.T) {
	r := newTestRegistry(t, "ok")

	id, err := r.CreateSession(42, "pw", "srv-A")
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Len(t, id, 32, "session id must be a 16-byte hex string")

	h, ok := r.GetSession(id)
	require.True(t, ok)
	require.Equal(t, 42, h.Login)
	require.Equal(t, "srv-A", h.Server)

	params, _ := json.Marshal(protocol.SymbolSelectParams{Symbol: "EURUSD", Enable: true})
	resp, err := r.ExecuteCommand(id, protocol.CommandSymbolSelect, params)
	require.NoError(t, err)
	require.True(t, resp.Success)

	infos := r.ListSessions()
	require.Len(t, infos, 1)
	require.Equal(t, 42, infos[0].Login)
	require.Equal(t, "srv-A", infos[0].Server)

	require.True(t, r.CleanupSession(id))
	_, ok = r.GetSession(id)
	require.False(t, ok)
}

func TestCreateSessionInitFailureLeavesNoSession(t *testing.T) {
	r := newTestRegistry(t, "init-fail")

	id, err := r.CreateSession(0, "", "")
	require.Error(t, err)
	require.Empty(t, id)
	require.Equal(t, KindInitError, KindOf(err))
	require.Equal(t, 0, r.Len())
}

func TestExecuteCommandUnknownSession(t *testing.T) {
	r := newTestRegistry(t, "ok")

	_, err := r.ExecuteCommand("does-not-exist", protocol.CommandQuote, nil)
	require.Error(t, err)
	require.Equal(t, KindNotFound, KindOf(err))
}

func TestCleanupSessionIsIdempotent(t *testing.T) {
	r := newTestRegistry(t, "ok")
	id, err := r.CreateSession(1, "pw", "srv")
	require.NoError(t, err)

	require.True(t, r.CleanupSession(id))
	require.False(t, r.CleanupSession(id))
}

func TestCleanupOldSessionsEvictsOnlyStale(t *testing.T) {
	r := newTestRegistry(t, "ok")
	staleID, err := r.CreateSession(1, "pw", "srv")
	require.NoError(t, err)
	freshID, err := r.CreateSession(2, "pw", "srv")
	require.NoError(t, err)

	r.mu.Lock()
	r.sessions[staleID].lastAccessed = time.Now().Add(-2 * time.Hour)
	r.mu.Unlock()

	removed := r.CleanupOldSessions(time.Hour)
	require.Equal(t, []string{staleID}, removed)

	_, ok := r.GetSession(staleID)
	require.False(t, ok)
	_, ok = r.GetSession(freshID)
	require.True(t, ok)
}

func TestCloseAllSessionsDrainsRegistry(t *testing.T) {
	r := newTestRegistry(t, "ok")
	for i := 0; i < 5; i++ {
		_, err := r.CreateSession(i, "pw", "srv")
		require.NoError(t, err)
	}
	require.Equal(t, 5, r.Len())

	n := r.CloseAllSessions(context.Background())
	require.Equal(t, 5, n)
	require.Equal(t, 0, r.Len())
}

// TestExecuteCommandSerializesConcurrentCallers drives spec.md §5's "no
// pipelining" guarantee: concurrent callers against one session must each
// see a clean, matched request/response round-trip rather than a response
// meant for another caller. The helper's single stdin/stdout pair would
// yield a JSON parse failure or a hang the moment two writers interleave
// on it, so a run that finishes with every call succeeding is evidence
// the per-Handle mutex serialized them.
func TestExecuteCommandSerializesConcurrentCallers(t *testing.T) {
	r := newTestRegistry(t, "ok")
	id, err := r.CreateSession(1, "pw", "srv")
	require.NoError(t, err)

	const callers = 8
	const callsPerCaller = 10

	var wg sync.WaitGroup
	errs := make(chan error, callers*callsPerCaller)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(caller int) {
			defer wg.Done()
			params, _ := json.Marshal(map[string]string{"symbol": "EURUSD"})
			for j := 0; j < callsPerCaller; j++ {
				resp, err := r.ExecuteCommand(id, protocol.CommandQuote, params)
				if err != nil {
					errs <- err
					continue
				}
				if !resp.Success {
					errs <- fmt.Errorf("caller %d: unexpected vendor failure: %s", caller, resp.Error)
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	h, ok := r.GetSession(id)
	require.True(t, ok, "a correctly serialized session stays healthy after concurrent dispatch")
	require.False(t, h.dead)
}

func TestExecuteCommandCleansUpOnWorkerDeath(t *testing.T) {
	r := newTestRegistry(t, "ok")
	id, err := r.CreateSession(1, "pw", "srv")
	require.NoError(t, err)

	h, _ := r.GetSession(id)
	_ = h.stdin.Close() // simulate a dead pipe

	_, err = r.ExecuteCommand(id, protocol.CommandQuote, nil)
	require.Error(t, err)
	require.Equal(t, KindWorkerDead, KindOf(err))

	_, ok := r.GetSession(id)
	require.False(t, ok, "a WorkerDead result must remove the session from the registry")
}
