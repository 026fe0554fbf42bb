package registry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/flowshift/mt5bridge/internal/logging"
	"github.com/flowshift/mt5bridge/internal/protocol"
)

var handleLog = logging.ForComponent(logging.CompTerminal)

// terminateGrace and killGrace are the two escalating wait windows of
// teardown: terminate, wait, escalate, wait, kill.
const (
	terminateGrace = 5 * time.Second
	killGrace      = 5 * time.Second
)

// Handle owns one Worker's stdio pipes and is the single point of contact
// for every caller of a session.
type Handle struct {
	ID     string
	Login  int
	Server string

	dataDir         string
	terminalExePath string
	cmd             *exec.Cmd
	stdin           io.WriteCloser
	stdout          *bufio.Scanner
	createdAt       time.Time

	mu           sync.Mutex // single-writer discipline over stdin/stdout
	lastAccessed time.Time
	terminalPID  *int
	dead         bool

	cleanupOnce sync.Once

	// terminateGrace and killGrace default to the package constants of the
	// same name; tests shrink them so the escalating-teardown path does
	// not turn every timeout/hang test into a multi-second sleep.
	terminateGrace time.Duration
	killGrace      time.Duration
}

// SpawnConfig carries everything needed to launch a Worker process for one
// session.
type SpawnConfig struct {
	WorkerBinPath   string
	SessionID       string
	Login           int
	Secret          string
	Server          string
	DataDir         string
	TerminalExePath string
	IPCPort         int // 0 means stdio IPC
	InitTimeout     time.Duration
}

// workerArgs builds the Worker's command-line arguments. Kept pure (no process interaction) so argument construction is
// unit-testable without spawning anything.
func workerArgs(cfg SpawnConfig) []string {
	args := []string{
		"-session-id", cfg.SessionID,
		"-login", fmt.Sprintf("%d", cfg.Login),
		"-server", cfg.Server,
		"-data-dir", cfg.DataDir,
		"-terminal-exe", cfg.TerminalExePath,
	}
	if cfg.IPCPort != 0 {
		args = append(args, "-ipc-port", fmt.Sprintf("%d", cfg.IPCPort))
	}
	return args
}

// spawnWorker starts the Worker process and blocks for its init line.
func spawnWorker(cfg SpawnConfig) (*Handle, error) {
	cmd := exec.Command(cfg.WorkerBinPath, workerArgs(cfg)...)
	cmd.Env = append(os.Environ(), fmt.Sprintf("MT5WORKER_SECRET=%s", cfg.Secret))

	// One process group per Worker so a hung child under the vendor
	// library's own subprocesses can be killed together.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = terminateGrace

	return startHandle(cmd, cfg.SessionID, cfg.Login, cfg.Server, cfg.DataDir, cfg.TerminalExePath, cfg.InitTimeout)
}

// startHandle wires an unstarted *exec.Cmd's pipes, starts it, and blocks
// for its init handshake. Split out from spawnWorker so tests can drive a
// helper process directly without going through workerArgs/SysProcAttr.
func startHandle(cmd *exec.Cmd, sessionID string, login int, server, dataDir, terminalExePath string, initTimeout time.Duration) (*Handle, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, newErr(KindSpawnError, "", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, newErr(KindSpawnError, "", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, newErr(KindSpawnError, "", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, newErr(KindSpawnError, "", err)
	}

	go drainStderr(sessionID, stderr)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	h := &Handle{
		ID:              sessionID,
		Login:           login,
		Server:          server,
		dataDir:         dataDir,
		terminalExePath: terminalExePath,
		cmd:             cmd,
		stdin:           stdin,
		stdout:          scanner,
		terminateGrace:  terminateGrace,
		killGrace:       killGrace,
	}

	init, err := h.readInit(initTimeout)
	if err != nil {
		h.abortSpawn()
		return nil, err
	}
	if !init.Success {
		h.abortSpawn()
		return nil, newErr(KindInitError, init.Error, nil)
	}

	h.terminalPID = init.MT5PID
	now := time.Now()
	h.createdAt = now
	h.lastAccessed = now

	handleLog.Info("session_initialized",
		slog.String("session_id", h.ID),
		slog.Int("pid", cmd.Process.Pid),
	)
	return h, nil
}

func drainStderr(sessionID string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		handleLog.Debug("worker_stderr", slog.String("session_id", sessionID), slog.String("line", scanner.Text()))
	}
}

// readInit reads the first stdout line within timeout.
func (h *Handle) readInit(timeout time.Duration) (*protocol.InitMessage, error) {
	type result struct {
		line []byte
		err  error
	}
	lines := make(chan result, 1)
	go func() {
		if h.stdout.Scan() {
			lines <- result{line: append([]byte(nil), h.stdout.Bytes()...)}
			return
		}
		err := h.stdout.Err()
		if err == nil {
			err = io.EOF
		}
		lines <- result{err: err}
	}()

	select {
	case r := <-lines:
		if r.err != nil {
			return nil, newErr(KindInitError, "worker exited before init", r.err)
		}
		var init protocol.InitMessage
		if err := json.Unmarshal(r.line, &init); err != nil {
			return nil, newErr(KindProtocolError, "unparseable init line", err)
		}
		return &init, nil
	case <-time.After(timeout):
		return nil, newErr(KindInitError, "init timed out", nil)
	}
}

// SendCommand serializes req onto the Worker's stdin and reads exactly one
// response line.
func (h *Handle) SendCommand(req protocol.Request, timeout time.Duration) (*protocol.Response, error) {
	// correlationID ties this call's aggregated log line back to a
	// specific dispatch without logging one line per command.
	correlationID := uuid.NewString()
	defer func() {
		logging.Aggregate(logging.CompRegistry, "command_dispatch",
			slog.String("session_id", h.ID),
			slog.String("type", req.Type),
			slog.String("correlation_id", correlationID),
		)
	}()

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.dead {
		return nil, newErr(KindWorkerDead, "session already marked dead", nil)
	}

	line, err := json.Marshal(req)
	if err != nil {
		return nil, newErr(KindProtocolError, "encoding request", err)
	}
	line = append(line, '\n')

	if _, err := h.stdin.Write(line); err != nil {
		h.dead = true
		return nil, newErr(KindWorkerDead, "writing to worker stdin", err)
	}

	type result struct {
		line []byte
		err  error
	}
	lines := make(chan result, 1)
	go func() {
		if h.stdout.Scan() {
			lines <- result{line: append([]byte(nil), h.stdout.Bytes()...)}
			return
		}
		err := h.stdout.Err()
		if err == nil {
			err = io.EOF
		}
		lines <- result{err: err}
	}()

	select {
	case r := <-lines:
		if r.err != nil {
			h.dead = true
			return nil, newErr(KindWorkerDead, "worker pipe closed", r.err)
		}
		var resp protocol.Response
		if err := json.Unmarshal(r.line, &resp); err != nil {
			h.dead = true
			return nil, newErr(KindProtocolError, "unparseable response", err)
		}
		h.lastAccessed = time.Now()
		return &resp, nil
	case <-time.After(timeout):
		h.dead = true
		return nil, newErr(KindTimeout, "command timed out", nil)
	}
}

// LastAccessed returns the time of the last successful round-trip.
func (h *Handle) LastAccessed() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastAccessed
}

// CreatedAt returns the session's creation time.
func (h *Handle) CreatedAt() time.Time {
	return h.createdAt
}

// Cleanup performs the ordered, idempotent teardown: terminate, close
// stdin, bounded wait, escalate, kill, terminate the vendor terminal pid
// if known, remove the data dir. Every step is best-effort; Cleanup never
// returns an error the caller must act on.
func (h *Handle) Cleanup() {
	h.cleanupOnce.Do(func() {
		h.mu.Lock()
		h.dead = true
		// Best-effort terminate line; ignore write errors (step 1).
		line, _ := json.Marshal(protocol.Request{Type: protocol.TerminateType})
		_, _ = h.stdin.Write(append(line, '\n'))
		_ = h.stdin.Close() // step 2
		h.mu.Unlock()

		h.waitOrKill() // steps 3-5

		if h.terminalPID != nil {
			terminateTerminalProcess(*h.terminalPID, h.terminalExePath)
		}

		if err := os.RemoveAll(h.dataDir); err != nil {
			handleLog.Warn("cleanup_datadir_remove_failed",
				slog.String("session_id", h.ID), slog.String("error", err.Error()))
		}

		handleLog.Info("session_cleaned_up", slog.String("session_id", h.ID))
	})
}

func (h *Handle) waitOrKill() {
	done := make(chan error, 1)
	go func() { done <- h.cmd.Wait() }()

	select {
	case <-done:
		return
	case <-time.After(h.terminateGrace):
	}

	_ = h.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-done:
		return
	case <-time.After(h.killGrace):
	}

	h.killAndWait()
	<-done
}

func (h *Handle) killAndWait() {
	if h.cmd.Process == nil {
		return
	}
	// The common case is a Setpgid'd Worker, where killing the negative
	// pid kills its whole process group. A process without its own group
	// (e.g. a test's helper process) doesn't answer to that, so fall back
	// to a direct kill of just the pid.
	if err := syscall.Kill(-h.cmd.Process.Pid, syscall.SIGKILL); err != nil {
		_ = h.cmd.Process.Kill()
	}
}

// abortSpawn kills and reaps a Worker that failed its init handshake, so a
// failed create_session never leaves a zombie process behind.
func (h *Handle) abortSpawn() {
	h.killAndWait()
	_, _ = h.cmd.Process.Wait()
}

// terminateTerminalProcess best-effort-kills the vendor terminal process
// the Worker reported at init, matching by pid and by the data-dir-local
// executable path so unrelated instances are never touched.
func terminateTerminalProcess(pid int, terminalExePath string) {
	exeLink := filepath.Join("/proc", fmt.Sprint(pid), "exe")
	resolved, err := os.Readlink(exeLink)
	if err != nil {
		return
	}
	if resolved != terminalExePath {
		handleLog.Debug("terminal_pid_mismatch_skip", slog.Int("pid", pid))
		return
	}
	_ = syscall.Kill(pid, syscall.SIGTERM)
	time.Sleep(200 * time.Millisecond)
	_ = syscall.Kill(pid, syscall.SIGKILL)
}
