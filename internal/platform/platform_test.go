package platform

import (
	"runtime"
	"testing"
)

func TestDetect(t *testing.T) {
	// Reset detection cache for clean test
	detectionDone = false
	detectedPlatform = ""

	p := Detect()

	// Should return a valid platform
	if p == "" {
		t.Error("Detect() returned empty platform")
	}

	// On macOS, should detect macOS
	if runtime.GOOS == "darwin" {
		if p != PlatformMacOS {
			t.Errorf("Expected PlatformMacOS on darwin, got %s", p)
		}
	}

	// Detection should be cached
	p2 := Detect()
	if p != p2 {
		t.Errorf("Detect() not cached: got %s then %s", p, p2)
	}
}

func TestPlatformString(t *testing.T) {
	tests := []struct {
		platform Platform
		expected string
	}{
		{PlatformMacOS, "macOS"},
		{PlatformLinux, "Linux"},
		{PlatformWSL1, "WSL1"},
		{PlatformWSL2, "WSL2"},
		{PlatformWindows, "Windows"},
		{PlatformUnknown, "Unknown"},
	}

	for _, tt := range tests {
		if got := tt.platform.String(); got != tt.expected {
			t.Errorf("Platform(%s).String() = %s, want %s", tt.platform, got, tt.expected)
		}
	}
}

func TestPrefersLoopbackIPC(t *testing.T) {
	tests := []struct {
		platform Platform
		prefers  bool
	}{
		{PlatformMacOS, false},
		{PlatformLinux, false},
		{PlatformWSL2, false},
		{PlatformWSL1, true},
		{PlatformWindows, true},
	}

	for _, tt := range tests {
		detectedPlatform = tt.platform
		detectionDone = true

		if got := PrefersLoopbackIPC(); got != tt.prefers {
			t.Errorf("PrefersLoopbackIPC() for %s = %v, want %v", tt.platform, got, tt.prefers)
		}
	}

	detectionDone = false
}

func TestWineEnv(t *testing.T) {
	detectionDone = true

	detectedPlatform = PlatformWindows
	if env := WineEnv("/data/session_abc"); env != nil {
		t.Errorf("WineEnv on Windows = %v, want nil", env)
	}

	detectedPlatform = PlatformLinux
	env := WineEnv("/data/session_abc")
	if len(env) == 0 {
		t.Fatal("WineEnv on Linux returned no variables")
	}
	found := false
	for _, kv := range env {
		if kv == "WINEPREFIX=/data/session_abc" {
			found = true
		}
	}
	if !found {
		t.Errorf("WineEnv(%q) = %v, want WINEPREFIX set to the data dir", "/data/session_abc", env)
	}

	detectionDone = false
}

func TestDetectOnCurrentPlatform(t *testing.T) {
	// Reset cache
	detectionDone = false
	detectedPlatform = ""

	p := Detect()

	// Basic sanity checks based on runtime.GOOS
	switch runtime.GOOS {
	case "darwin":
		if p != PlatformMacOS {
			t.Errorf("On darwin, expected macOS, got %s", p)
		}
	case "linux":
		// Could be Linux or WSL
		if p != PlatformLinux && p != PlatformWSL1 && p != PlatformWSL2 {
			t.Errorf("On linux, expected Linux/WSL, got %s", p)
		}
	case "windows":
		if p != PlatformWindows {
			t.Errorf("On windows, expected Windows, got %s", p)
		}
	}
}
