package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.GC.InitialThresholdBytes != 1<<20 {
		t.Errorf("GC.InitialThresholdBytes = %d, want %d", cfg.GC.InitialThresholdBytes, 1<<20)
	}
	if cfg.GC.MaxHeapBytes != 0 {
		t.Errorf("GC.MaxHeapBytes = %d, want 0 (unbounded)", cfg.GC.MaxHeapBytes)
	}
	if cfg.Stack.MaxDepth != 4096 {
		t.Errorf("Stack.MaxDepth = %d, want 4096", cfg.Stack.MaxDepth)
	}
	if !cfg.JIT.Enabled {
		t.Errorf("JIT.Enabled = false, want true")
	}
	if cfg.JIT.TriggerCount != 1000 {
		t.Errorf("JIT.TriggerCount = %d, want 1000", cfg.JIT.TriggerCount)
	}
}

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load returned error for missing file: %v", err)
	}
	if cfg != Default() {
		t.Errorf("Load(missing) = %+v, want Default() %+v", cfg, Default())
	}
}

func TestLoadOverridesOnlySetFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lumen.yaml")
	data := "gc:\n  initial_threshold_bytes: 4096\njit:\n  enabled: false\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GC.InitialThresholdBytes != 4096 {
		t.Errorf("GC.InitialThresholdBytes = %d, want 4096", cfg.GC.InitialThresholdBytes)
	}
	if cfg.JIT.Enabled {
		t.Errorf("JIT.Enabled = true, want false (overridden)")
	}
	// Fields absent from the file keep Default()'s values.
	if cfg.Stack.MaxDepth != 4096 {
		t.Errorf("Stack.MaxDepth = %d, want unset default 4096", cfg.Stack.MaxDepth)
	}
	if cfg.JIT.TriggerCount != 1000 {
		t.Errorf("JIT.TriggerCount = %d, want unset default 1000", cfg.JIT.TriggerCount)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lumen.yaml")
	if err := os.WriteFile(path, []byte("gc: [this, is, not, a, map]"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Errorf("Load(malformed yaml) returned nil error, want a parse error")
	}
}
