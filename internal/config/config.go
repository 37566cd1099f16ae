// Package config loads the runtime's tunable knobs from lumen.yaml: GC
// thresholds, plus stack and JIT settings that are loaded but not read by
// any other package. None of
// this has a teacher equivalent (DWScript has no comparable config file);
// it exists because a complete runtime needs these values to live
// somewhere other than compiled-in constants.
package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// Config mirrors lumen.yaml's top-level shape. Zero values are replaced by
// Default()'s values on Load, so a partial file only overrides what it sets.
type Config struct {
	GC      GCConfig      `yaml:"gc"`
	Stack   StackConfig   `yaml:"stack"`
	JIT     JITConfig     `yaml:"jit"`
	Verbose bool          `yaml:"verbose"`
}

// GCConfig tunes the mark-sweep collector's adaptive threshold.
type GCConfig struct {
	InitialThresholdBytes uint64 `yaml:"initial_threshold_bytes"`
	MaxHeapBytes          uint64 `yaml:"max_heap_bytes"`
}

// StackConfig holds a stack depth setting. It is loaded but nothing reads
// it; the VM's operand stack and call frames are not bounded by it.
type StackConfig struct {
	MaxDepth int `yaml:"max_depth"`
}

// JITConfig holds hot-loop JIT settings. The VM has no JIT, and nothing
// reads these fields.
type JITConfig struct {
	Enabled      bool `yaml:"enabled"`
	TriggerCount int  `yaml:"trigger_count"`
}

// Default returns the runtime's built-in defaults, used when no lumen.yaml
// is present or a field is left unset in one that is.
func Default() Config {
	return Config{
		GC: GCConfig{
			InitialThresholdBytes: 1 << 20,
			MaxHeapBytes:          0, // 0 means unbounded
		},
		Stack: StackConfig{MaxDepth: 4096},
		JIT:   JITConfig{Enabled: true, TriggerCount: 1000},
	}
}

// Load reads and parses path, merging it over Default(). A missing file is
// not an error — it returns Default() unchanged, since lumen.yaml is
// optional.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}
