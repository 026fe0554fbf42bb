package terminal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// commonINI disables the terminal's own update checking and caps log
// verbosity, ported from the original bridge's create_session_directory.
const commonINI = `[General]
SkipUpdate=1

[Logs]
Level=error
MaxLogSizeMB=1
`

// startupFootprintDirs are scrubbed after every provisioning copy so a
// session never inherits chart layouts, EAs, or indicators left behind in
// the template from a previous run.
var startupFootprintDirs = []string{
	filepath.Join("profiles", "charts", "Default"),
	filepath.Join("MQL5", "Experts"),
	filepath.Join("MQL5", "Indicators"),
}

// Provisioner materializes one isolated data directory per session by
// cloning the shared Template.
type Provisioner struct {
	Template *Template
}

// Provision creates (or recreates) the session_<id> data directory for
// sessionID and returns its path. An existing directory for the same
// sessionID is removed first so provisioning is idempotent. On any copy
// failure the partially written directory is removed before returning.
func (p *Provisioner) Provision(sessionID string) (string, error) {
	if err := p.Template.Ensure(); err != nil {
		return "", fmt.Errorf("provisioning %s: %w", sessionID, err)
	}

	dataDir := p.DataDir(sessionID)

	if err := os.RemoveAll(dataDir); err != nil {
		return "", fmt.Errorf("clearing existing session directory: %w", err)
	}

	if err := copyTree(p.Template.Path(), dataDir); err != nil {
		_ = os.RemoveAll(dataDir)
		return "", fmt.Errorf("copying template into session directory: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dataDir, "common.ini"), []byte(commonINI), 0o644); err != nil {
		_ = os.RemoveAll(dataDir)
		return "", fmt.Errorf("writing common.ini: %w", err)
	}

	for _, rel := range startupFootprintDirs {
		if err := clearDir(filepath.Join(dataDir, rel)); err != nil {
			_ = os.RemoveAll(dataDir)
			return "", fmt.Errorf("scrubbing %s: %w", rel, err)
		}
	}

	templateLog.Info("session_provisioned", slog.String("session_id", sessionID), slog.String("data_dir", dataDir))
	return dataDir, nil
}

// DataDir returns the path a session's data directory occupies,
// regardless of whether it has been provisioned yet.
func (p *Provisioner) DataDir(sessionID string) string {
	return filepath.Join(p.Template.SessionsBase, "session_"+sessionID)
}

// ExecutablePath returns the path to the terminal executable inside a
// session's data directory, the value spawnWorker's terminal-executable
// command-line argument carries.
func (p *Provisioner) ExecutablePath(sessionID string) string {
	return filepath.Join(p.DataDir(sessionID), ExecutableName)
}

// Remove deletes a session's data directory. Called when create_session
// fails after provisioning; safe to call on an already-removed directory.
func (p *Provisioner) Remove(sessionID string) error {
	return os.RemoveAll(p.DataDir(sessionID))
}
