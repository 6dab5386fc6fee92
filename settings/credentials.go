// Package settings stores per-backend credentials for rploc.
//
// Credentials live in the XDG data directory:
//
//	$XDG_DATA_HOME/rploc/auth.json  (default: ~/.local/share/rploc/auth.json)
//
// The file is a JSON object keyed by backend ID ("openai", "ollama", or a
// user-defined ID), holding an API key and optional base URL per backend.
// File permissions are 0600 (owner read/write only).
//
// Lookup order for API keys:
//  1. --api-key flag (highest priority)
//  2. RPLOC_API_KEY, then <BACKEND>_API_KEY environment variable
//  3. This credential store
//
// A .env file in the project root is honored when present; LoadDotEnv reads
// it into the process environment without overriding variables already set.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

const (
	dataDirName = "rploc"
	fileName    = "auth.json"
)

// ---------------------------------------------------------------------------
// Credential entries
// ---------------------------------------------------------------------------

// Info holds the stored credentials for one backend.
type Info struct {
	// Key is the API key sent as a bearer token.
	Key string `json:"key,omitempty"`

	// BaseURL overrides the backend's default endpoint.
	BaseURL string `json:"baseUrl,omitempty"`

	// Model is the default model for this backend, if the user pinned one.
	Model string `json:"model,omitempty"`
}

// Store holds all backend credentials, keyed by backend ID.
type Store map[string]*Info

// ---------------------------------------------------------------------------
// File path
// ---------------------------------------------------------------------------

// dataDir returns the XDG data directory for rploc.
// Respects $XDG_DATA_HOME (falls back to ~/.local/share).
func dataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, dataDirName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", dataDirName), nil
}

// filePath returns the path to the auth file.
func filePath() (string, error) {
	dir, err := dataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fileName), nil
}

// FilePath returns the auth.json file path for display purposes.
func FilePath() string {
	p, err := filePath()
	if err != nil {
		return ""
	}
	return p
}

// DataDir returns the rploc data directory path.
// Default: ~/.local/share/rploc (or $XDG_DATA_HOME/rploc).
func DataDir() (string, error) {
	return dataDir()
}

// ---------------------------------------------------------------------------
// Load / Save
// ---------------------------------------------------------------------------

// Load reads the credential store from disk.
// Returns an empty store if the file doesn't exist or is invalid.
func Load() Store {
	path, err := filePath()
	if err != nil {
		return make(Store)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return make(Store)
	}

	var store Store
	if err := json.Unmarshal(data, &store); err != nil {
		return make(Store)
	}

	if store == nil {
		return make(Store)
	}

	return store
}

// Save writes the credential store to disk with 0600 permissions.
func Save(store Store) error {
	path, err := filePath()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing auth file: %w", err)
	}

	return nil
}

// ---------------------------------------------------------------------------
// Get / Set / Remove
// ---------------------------------------------------------------------------

// Get returns the entry for a backend, or nil if not found.
func Get(backendID string) *Info {
	store := Load()
	return store[backendID]
}

// Set stores an entry for a backend (upsert).
func Set(backendID string, info *Info) error {
	store := Load()
	store[backendID] = info
	return Save(store)
}

// Remove deletes credentials for a backend.
func Remove(backendID string) error {
	store := Load()
	if _, ok := store[backendID]; !ok {
		return nil // Nothing to delete
	}
	delete(store, backendID)
	return Save(store)
}

// SetAPIKey stores an API key for a backend, preserving any stored base URL.
func SetAPIKey(backendID, key string) error {
	store := Load()
	info := store[backendID]
	if info == nil {
		info = &Info{}
	}
	info.Key = key
	store[backendID] = info
	return Save(store)
}

// SetAPIKeyWithBaseURL stores an API key and base URL for a backend.
func SetAPIKeyWithBaseURL(backendID, key, baseURL string) error {
	return Set(backendID, &Info{Key: key, BaseURL: baseURL})
}

// GetAPIKey retrieves the stored API key for a backend.
// Returns empty string if not found.
func GetAPIKey(backendID string) string {
	info := Get(backendID)
	if info == nil {
		return ""
	}
	return info.Key
}

// GetBaseURL retrieves the stored base URL for a backend.
// Returns empty string if not found.
func GetBaseURL(backendID string) string {
	info := Get(backendID)
	if info == nil {
		return ""
	}
	return info.BaseURL
}

// ---------------------------------------------------------------------------
// Resolution
// ---------------------------------------------------------------------------

// EnvVarForBackend returns the backend-specific environment variable name
// checked after RPLOC_API_KEY, e.g. "OPENAI_API_KEY" for "openai".
// Backends that need no key (ollama) return empty.
func EnvVarForBackend(backendID string) string {
	switch backendID {
	case "ollama", "mock", "":
		return ""
	}
	id := strings.Map(func(r rune) rune {
		if r == '-' || r == '.' {
			return '_'
		}
		return r
	}, strings.ToUpper(backendID))
	return id + "_API_KEY"
}

// ResolveAPIKey applies the lookup order: flag value, RPLOC_API_KEY,
// backend-specific environment variable, then the credential store.
func ResolveAPIKey(backendID, flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if key := os.Getenv("RPLOC_API_KEY"); key != "" {
		return key
	}
	if name := EnvVarForBackend(backendID); name != "" {
		if key := os.Getenv(name); key != "" {
			return key
		}
	}
	return GetAPIKey(backendID)
}

// LoadDotEnv loads a .env file from dir into the process environment.
// Variables already set in the environment keep their values. A missing
// file is not an error.
func LoadDotEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Display helpers
// ---------------------------------------------------------------------------

// MaskKey returns a masked version of a key for display.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// RemoveAll removes all stored credentials.
func RemoveAll() error {
	path, err := filePath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing auth file: %w", err)
	}
	return nil
}
