// Package config loads rploc.yaml project configuration and detects
// Ren'Py project layouts.
//
// When an rploc.yaml file exists in the project root it is the sole source
// of truth for project settings: source layout, backend defaults,
// validation thresholds and dictionary paths. The loaded Config is
// immutable by convention and threaded explicitly through each command;
// nothing reads it from ambient state.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileName is the default config file name.
const FileName = "rploc.yaml"

// ---------------------------------------------------------------------------
// YAML schema
// ---------------------------------------------------------------------------

// Config is the top-level rploc.yaml structure.
type Config struct {
	// SourceLang and TargetLang are language codes (default en, zh).
	SourceLang string `yaml:"source_lang,omitempty"`
	TargetLang string `yaml:"target_lang,omitempty"`

	// Lang is the overlay language directory name (default zh_CN).
	Lang string `yaml:"lang,omitempty"`

	// Mode is the patch/build output mode: "mirror" or "overlay".
	// Empty defers to the command-line flag.
	Mode string `yaml:"mode,omitempty"`

	// ExcludeDirs are directory names skipped while scanning the project.
	ExcludeDirs []string `yaml:"exclude_dirs,omitempty"`

	// Workers caps parallel file extraction and patching (0 = auto).
	Workers int `yaml:"workers,omitempty"`

	Backend    Backend    `yaml:"backend,omitempty"`
	Validation Validation `yaml:"validation,omitempty"`
	Dictionary Dictionary `yaml:"dictionary,omitempty"`

	// Terms maps do-not-translate terms to their mandated rendering.
	// An empty value means the term must appear verbatim.
	Terms map[string]string `yaml:"terms,omitempty"`
}

// Backend holds translation backend defaults.
type Backend struct {
	// ID selects the backend: "openai" or "ollama".
	ID string `yaml:"id,omitempty"`
	// Model is the model name sent to the backend.
	Model string `yaml:"model,omitempty"`
	// BaseURL overrides the backend endpoint.
	BaseURL string `yaml:"base_url,omitempty"`
	// TimeoutSec is the per-request timeout in seconds.
	TimeoutSec int `yaml:"timeout_sec,omitempty"`
	// Workers caps concurrent backend calls.
	Workers int `yaml:"workers,omitempty"`
	// RetryBudget is the validation/backoff retry budget per unit.
	RetryBudget int `yaml:"retry_budget,omitempty"`
	// CheckpointInterval flushes partial results every N completed units.
	CheckpointInterval int `yaml:"checkpoint_interval,omitempty"`
}

// Validation holds validator thresholds.
type Validation struct {
	// LenRatioMin and LenRatioMax bound translation/source rune length.
	LenRatioMin float64 `yaml:"len_ratio_min,omitempty"`
	LenRatioMax float64 `yaml:"len_ratio_max,omitempty"`
	// Strict promotes format warnings to errors.
	Strict bool `yaml:"strict,omitempty"`
	// UIMaxWidth is the display-width cap for short UI tokens.
	UIMaxWidth int `yaml:"ui_max_width,omitempty"`
}

// Dictionary holds dictionary and prefill settings.
type Dictionary struct {
	// Paths are dictionary files or directories, global first; later
	// entries are project-local and win on key collision.
	Paths []string `yaml:"paths,omitempty"`
	// CaseInsensitive folds keys for lookup.
	CaseInsensitive bool `yaml:"case_insensitive,omitempty"`
	// Store selects the lookup backend: "memory" or "indexed".
	Store string `yaml:"store,omitempty"`
	// IndexPath is the indexed store's database file.
	IndexPath string `yaml:"index_path,omitempty"`
	// FillAll lifts the short-token guard and fills every exact match.
	FillAll bool `yaml:"fill_all,omitempty"`
}

// ---------------------------------------------------------------------------
// Defaults and loading
// ---------------------------------------------------------------------------

// Default returns the configuration used when no rploc.yaml exists.
func Default() *Config {
	return &Config{
		SourceLang:  "en",
		TargetLang:  "zh",
		Lang:        "zh_CN",
		ExcludeDirs: []string{"tl", "saves", "cache"},
		Backend:     Backend{ID: "openai"},
		Dictionary:  Dictionary{Store: "memory"},
	}
}

// Load reads and validates rploc.yaml from the given directory. A missing
// file yields the defaults, not an error.
func Load(rootDir string) (*Config, error) {
	path := filepath.Join(rootDir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.validate(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate(path string) error {
	switch c.Mode {
	case "", "mirror", "overlay":
	default:
		return fmt.Errorf("%s: unknown mode %q (valid: mirror, overlay)", path, c.Mode)
	}
	switch c.Backend.ID {
	case "", "openai", "ollama":
	default:
		return fmt.Errorf("%s: unknown backend %q (valid: openai, ollama)", path, c.Backend.ID)
	}
	switch c.Dictionary.Store {
	case "", "memory", "indexed":
	default:
		return fmt.Errorf("%s: unknown dictionary store %q (valid: memory, indexed)", path, c.Dictionary.Store)
	}
	if c.Dictionary.Store == "indexed" && c.Dictionary.IndexPath == "" {
		return fmt.Errorf("%s: dictionary store \"indexed\" needs index_path", path)
	}
	v := c.Validation
	if v.LenRatioMin != 0 && v.LenRatioMax != 0 && v.LenRatioMin >= v.LenRatioMax {
		return fmt.Errorf("%s: len_ratio_min %.2f must be below len_ratio_max %.2f", path, v.LenRatioMin, v.LenRatioMax)
	}
	if c.Workers < 0 || c.Backend.Workers < 0 {
		return fmt.Errorf("%s: worker counts cannot be negative", path)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Mode resolution
// ---------------------------------------------------------------------------

// ModeConflictError marks contradictory mode selections for one target.
// The caller treats it as a configuration error and exits with code 2.
type ModeConflictError struct {
	Config string
	Flag   string
}

func (e *ModeConflictError) Error() string {
	return fmt.Sprintf("mode %q from rploc.yaml conflicts with --mode %q: pick one", e.Config, e.Flag)
}

// ResolveMode combines the config file mode with a command-line flag.
// Both set to different values is a conflict, never a silent merge.
func (c *Config) ResolveMode(flagMode string) (string, error) {
	cfgMode := strings.TrimSpace(c.Mode)
	flagMode = strings.TrimSpace(flagMode)
	switch {
	case cfgMode == "" && flagMode == "":
		return "", nil
	case cfgMode == "":
		return flagMode, nil
	case flagMode == "" || flagMode == cfgMode:
		return cfgMode, nil
	}
	return "", &ModeConflictError{Config: cfgMode, Flag: flagMode}
}
