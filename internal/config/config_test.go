package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.MaxBrowsers != 4 {
		t.Errorf("Expected MaxBrowsers=4, got %d", cfg.MaxBrowsers)
	}
	if cfg.MaxContextsPerBrowser != 4 {
		t.Errorf("Expected MaxContextsPerBrowser=4, got %d", cfg.MaxContextsPerBrowser)
	}
	if cfg.ContextTimeout != 30*time.Second {
		t.Errorf("Expected ContextTimeout=30s, got %v", cfg.ContextTimeout)
	}
	if cfg.WaitTimeout != 5*time.Second {
		t.Errorf("Expected WaitTimeout=5s, got %v", cfg.WaitTimeout)
	}
	if cfg.RecycleUses != 50 {
		t.Errorf("Expected RecycleUses=50, got %d", cfg.RecycleUses)
	}
	if cfg.ReaperInterval != 10*time.Second {
		t.Errorf("Expected ReaperInterval=10s, got %v", cfg.ReaperInterval)
	}
	if !cfg.Headless {
		t.Error("Expected Headless=true by default")
	}
	if cfg.Port != 8191 {
		t.Errorf("Expected Port=8191, got %d", cfg.Port)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("POOL_MAX_BROWSERS", "2")
	t.Setenv("POOL_MAX_CONTEXTS_PER_BROWSER", "8")
	t.Setenv("POOL_CONTEXT_TIMEOUT", "15s")
	t.Setenv("POOL_WAIT_TIMEOUT", "2s")
	t.Setenv("HEADLESS", "false")

	cfg := Load()

	if cfg.MaxBrowsers != 2 {
		t.Errorf("Expected MaxBrowsers=2, got %d", cfg.MaxBrowsers)
	}
	if cfg.MaxContextsPerBrowser != 8 {
		t.Errorf("Expected MaxContextsPerBrowser=8, got %d", cfg.MaxContextsPerBrowser)
	}
	if cfg.ContextTimeout != 15*time.Second {
		t.Errorf("Expected ContextTimeout=15s, got %v", cfg.ContextTimeout)
	}
	if cfg.WaitTimeout != 2*time.Second {
		t.Errorf("Expected WaitTimeout=2s, got %v", cfg.WaitTimeout)
	}
	if cfg.Headless {
		t.Error("Expected Headless=false")
	}
}

func TestLoadInvalidEnvFallsBack(t *testing.T) {
	t.Setenv("POOL_MAX_BROWSERS", "not-a-number")
	t.Setenv("POOL_CONTEXT_TIMEOUT", "-5s")
	t.Setenv("HEADLESS", "maybe")

	cfg := Load()

	if cfg.MaxBrowsers != 4 {
		t.Errorf("Expected default MaxBrowsers=4 on parse error, got %d", cfg.MaxBrowsers)
	}
	if cfg.ContextTimeout != 30*time.Second {
		t.Errorf("Expected default ContextTimeout=30s on negative value, got %v", cfg.ContextTimeout)
	}
	if !cfg.Headless {
		t.Error("Expected default Headless=true on parse error")
	}
}

func TestValidateClampsBounds(t *testing.T) {
	cfg := Load()
	cfg.MaxBrowsers = 1000
	cfg.MaxContextsPerBrowser = 0
	cfg.ContextTimeout = time.Millisecond
	cfg.WaitTimeout = time.Hour
	cfg.RecycleUses = -1
	cfg.ReaperInterval = time.Hour
	cfg.Port = 99999

	cfg.Validate()

	if cfg.MaxBrowsers != 20 {
		t.Errorf("Expected MaxBrowsers capped to 20, got %d", cfg.MaxBrowsers)
	}
	if cfg.MaxContextsPerBrowser != 4 {
		t.Errorf("Expected MaxContextsPerBrowser reset to 4, got %d", cfg.MaxContextsPerBrowser)
	}
	if cfg.ContextTimeout != time.Second {
		t.Errorf("Expected ContextTimeout raised to 1s, got %v", cfg.ContextTimeout)
	}
	if cfg.WaitTimeout != 5*time.Minute {
		t.Errorf("Expected WaitTimeout capped to 5m, got %v", cfg.WaitTimeout)
	}
	if cfg.RecycleUses != 50 {
		t.Errorf("Expected RecycleUses reset to 50, got %d", cfg.RecycleUses)
	}
	if cfg.ReaperInterval != time.Minute {
		t.Errorf("Expected ReaperInterval capped to 1m, got %v", cfg.ReaperInterval)
	}
	if cfg.Port != 8191 {
		t.Errorf("Expected Port reset to 8191, got %d", cfg.Port)
	}
}

func TestValidateBrowserPathTraversal(t *testing.T) {
	cfg := Load()
	cfg.BrowserPath = "/usr/bin/../../etc/passwd"

	cfg.Validate()

	if cfg.BrowserPath != "" {
		t.Errorf("Expected traversal path to be cleared, got %q", cfg.BrowserPath)
	}
}

func TestValidateHotReloadWithoutPath(t *testing.T) {
	cfg := Load()
	cfg.FingerprintsHotReload = true
	cfg.FingerprintsPath = ""

	cfg.Validate()

	if cfg.FingerprintsHotReload {
		t.Error("Expected hot-reload disabled when no path is set")
	}
}

func TestValidateLogLevel(t *testing.T) {
	cfg := Load()
	cfg.LogLevel = "verbose"

	cfg.Validate()

	if cfg.LogLevel != "info" {
		t.Errorf("Expected invalid log level reset to info, got %q", cfg.LogLevel)
	}
}
