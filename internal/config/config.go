// Package config holds the knobs spec.md calls out as "configurable":
// the library search path, address-mode, and debug verbosity the
// façade's CreateARM64 needs but the spec itself treats as host policy
// rather than emulator state. Loaded from a YAML file with CLI flags
// overriding file values, the same precedence cmd/galago's flag set
// already used before this package existed.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/zboralski/galago/internal/emulator"
	"github.com/zboralski/galago/internal/linker"
)

// Config is the on-disk/flag-bindable shape of an emulator session.
// Field names match the YAML keys a `galago.yaml` file would use.
type Config struct {
	// SearchPaths lists directories searched in order for a DT_NEEDED
	// library the façade didn't already resolve as a virtual module.
	SearchPaths []string `yaml:"search_paths"`
	// BigAddress selects the 0x7200_... guest memory layout instead of
	// the small 32-bit-style one.
	BigAddress bool `yaml:"big_address"`
	// Debug turns on verbose zap logging across every collaborator
	// package.
	Debug bool `yaml:"debug"`
	// SchedQuantum bounds how many guest instructions the dispatcher
	// runs a task for before reconsidering which task to schedule; 0
	// selects sched.DefaultQuantum (10000 instructions).
	SchedQuantum uint32 `yaml:"sched_quantum"`
	// RootDir anchors the guest's "/" for openat/fstatat/readlinkat
	// against real host files (outside the five synthesized pseudo-
	// files, which ignore it); empty means no host path is reachable.
	RootDir string `yaml:"root_dir"`
	// HookScript, if set, is a path to a JS file loaded by
	// internal/script and installed as both a hook listener and an SVC
	// callback (see cmd/galago's --hook-script flag).
	HookScript string `yaml:"hook_script"`
}

// Default returns the configuration used when no file and no flags
// override it: the teacher's own default search path, small-address
// layout, logging off.
func Default() Config {
	return Config{
		SearchPaths: []string{linker.DefaultSearchPath},
	}
}

// Load reads path as YAML into Default(), returning the defaults
// unchanged if path is empty. A missing or malformed file is an error
// the caller (the CLI) should report rather than silently ignore, since
// a typo'd config path should not silently fall back to defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// EmulatorConfig adapts this package's Config into the emulator
// façade's own Config shape, the one piece of config that crosses the
// package boundary CreateARM64 needs directly.
func (c Config) EmulatorConfig() emulator.Config {
	return emulator.Config{
		BigAddress:   c.BigAddress,
		SearchPaths:  c.SearchPaths,
		RootDir:      c.RootDir,
		Debug:        c.Debug,
		SchedQuantum: c.SchedQuantum,
	}
}
