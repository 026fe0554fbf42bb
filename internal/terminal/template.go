package terminal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/flowshift/mt5bridge/internal/logging"
)

var templateLog = logging.ForComponent(logging.CompTerminal)

const (
	// TemplateDirName is the name of the sibling directory under
	// sessions-base that holds the stripped, canonical installation.
	TemplateDirName = "_template"

	// ExecutableName is the terminal executable's filename at the root of
	// both the template and every provisioned session directory.
	ExecutableName = "terminal64.exe"

	terminalExeName    = ExecutableName
	portableMarkerFile = "portable_mode"
)

// mql5SubDirs are always materialized empty even if the source
// installation doesn't have them, so a Worker's MQL5 environment is
// always well-formed.
var mql5SubDirs = []string{"Files", "Libraries", "Experts", "Scripts", "Include"}

// Template owns the single, process-wide template directory construction.
// It is safe to share across goroutines; Ensure is idempotent and
// internally serialized.
type Template struct {
	// SourceRoot is the vendor installation root to strip down.
	SourceRoot string
	// SessionsBase is the filesystem root under which _template and all
	// session_<id> directories live.
	SessionsBase string
	// Subtrees is the allow-list of directories copied from SourceRoot.
	// Stripping the template down to this list is a configuration
	// concern, not a hardcoded one.
	Subtrees []string

	mu      sync.Mutex
	checked bool
}

// Path returns the template directory's path, regardless of whether it
// has been built yet.
func (t *Template) Path() string {
	return filepath.Join(t.SessionsBase, TemplateDirName)
}

// Ensure builds the template directory if it does not already contain the
// terminal executable. Idempotent and safe to call concurrently and
// repeatedly; only the first caller after process start does the I/O,
// later callers on a distinct process first check the filesystem.
func (t *Template) Ensure() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.checked {
		return nil
	}

	path := t.Path()
	if _, err := os.Stat(filepath.Join(path, terminalExeName)); err == nil {
		t.checked = true
		return nil
	}

	if err := t.build(path); err != nil {
		return fmt.Errorf("building template: %w", err)
	}
	t.checked = true
	templateLog.Info("template_built", slog.String("path", path))
	return nil
}

func (t *Template) build(path string) error {
	if t.SourceRoot == "" {
		return fmt.Errorf("portable_terminal_path is not configured")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}

	// Step 2: copy the executable and dynamic libraries at the
	// installation root (non-recursive top-level files only).
	entries, err := os.ReadDir(t.SourceRoot)
	if err != nil {
		return fmt.Errorf("reading %s: %w", t.SourceRoot, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		src := filepath.Join(t.SourceRoot, entry.Name())
		dst := filepath.Join(path, entry.Name())
		if err := copyFile(src, dst, info.Mode().Perm()); err != nil {
			return fmt.Errorf("copying %s: %w", entry.Name(), err)
		}
	}

	// Step 3: copy the allow-listed subtrees. Missing subtrees become
	// empty directories rather than an error.
	for _, sub := range t.Subtrees {
		srcSub := filepath.Join(t.SourceRoot, sub)
		dstSub := filepath.Join(path, sub)
		if _, err := os.Stat(srcSub); os.IsNotExist(err) {
			if err := os.MkdirAll(dstSub, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := copyTree(srcSub, dstSub); err != nil {
			return fmt.Errorf("copying subtree %s: %w", sub, err)
		}
	}

	// Step 4: portable-mode marker.
	if err := os.WriteFile(filepath.Join(path, portableMarkerFile), []byte("portable"), 0o644); err != nil {
		return err
	}

	// Step 5: terminal.ini with an offscreen, silent, API-enabled window.
	if err := writeTerminalINI(filepath.Join(path, "Config", "terminal.ini")); err != nil {
		return err
	}

	// Step 6: MQL5 subdirectories exist, empty, regardless of what the
	// source installation carried.
	for _, sub := range mql5SubDirs {
		if err := os.MkdirAll(filepath.Join(path, "MQL5", sub), 0o755); err != nil {
			return err
		}
	}

	return nil
}

// terminalINI is rendered with an off-screen, 1x1, silent-startup window
// and update/news disabled so a Worker's terminal never paints a visible
// window or reaches out to the network on its own.
const terminalINI = `[Common]
Login=0
[StartUp]
Expert=
Script=
[Window]
Left=-3000
Top=-3000
Width=1
Height=1
WindowMode=0
[Experts]
AllowAutoTrading=0
[UpdateChecker]
Enabled=0
[News]
Enabled=0
[API]
Enabled=1
`

func writeTerminalINI(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(terminalINI), 0o644)
}
