package terminal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestProvisioner(t *testing.T) *Provisioner {
	t.Helper()
	tpl := newTestTemplate(t)
	return &Provisioner{Template: tpl}
}

func TestProvisionCreatesIsolatedDataDir(t *testing.T) {
	p := newTestProvisioner(t)

	dataDir, err := p.Provision("abc123")
	require.NoError(t, err)
	require.Equal(t, p.DataDir("abc123"), dataDir)

	require.FileExists(t, filepath.Join(dataDir, terminalExeName))
	require.FileExists(t, filepath.Join(dataDir, "common.ini"))

	content, err := os.ReadFile(filepath.Join(dataDir, "common.ini"))
	require.NoError(t, err)
	require.Contains(t, string(content), "SkipUpdate=1")
	require.Contains(t, string(content), "Level=error")
}

func TestProvisionScrubsStartupFootprint(t *testing.T) {
	p := newTestProvisioner(t)

	// Seed the template with leftover chart/EA state from a prior run.
	leftover := filepath.Join(p.Template.Path(), "MQL5", "Experts", "scalper.ex5")
	require.NoError(t, p.Template.Ensure())
	writeFile(t, leftover, "compiled-ea")

	dataDir, err := p.Provision("sess1")
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(dataDir, "MQL5", "Experts"))
	require.NoError(t, err)
	require.Empty(t, entries, "Experts directory must be scrubbed after provisioning")
}

func TestProvisionIsIdempotentPerSession(t *testing.T) {
	p := newTestProvisioner(t)

	dataDir, err := p.Provision("dup")
	require.NoError(t, err)
	writeFile(t, filepath.Join(dataDir, "stray.tmp"), "from a previous crashed session")

	dataDir2, err := p.Provision("dup")
	require.NoError(t, err)
	require.Equal(t, dataDir, dataDir2)
	require.NoFileExists(t, filepath.Join(dataDir2, "stray.tmp"))
}

func TestProvisionTwoSessionsAreIsolated(t *testing.T) {
	p := newTestProvisioner(t)

	dirA, err := p.Provision("a")
	require.NoError(t, err)
	dirB, err := p.Provision("b")
	require.NoError(t, err)
	require.NotEqual(t, dirA, dirB)

	writeFile(t, filepath.Join(dirA, "MQL5", "Files", "mark.txt"), "only in A")
	require.NoFileExists(t, filepath.Join(dirB, "MQL5", "Files", "mark.txt"))
}

func TestRemoveDeletesDataDir(t *testing.T) {
	p := newTestProvisioner(t)
	dataDir, err := p.Provision("gone")
	require.NoError(t, err)

	require.NoError(t, p.Remove("gone"))
	require.NoDirExists(t, dataDir)

	require.NoError(t, p.Remove("gone"), "Remove on an already-removed directory must not error")
}
