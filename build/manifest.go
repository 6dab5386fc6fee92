// Package build assembles a distributable translated package from patched
// files plus untouched assets. A per-file content hash manifest makes
// rebuilds incremental: files whose hash is unchanged and whose output
// already exists are skipped. Layout invariants are checked before any
// write so a rejected build leaves the previous output intact.
package build

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ManifestName is the manifest file name in the build output directory.
const ManifestName = "rploc.manifest.json"

// ManifestVersion is the manifest format version.
const ManifestVersion = 1

// ---------------------------------------------------------------------------
// Manifest
// ---------------------------------------------------------------------------

// Manifest records the content hash of every source file at the last
// successful build. A file appears at most once; the whole object is
// replaced atomically on save, never partially written.
type Manifest struct {
	Version int               `json:"version"`
	Files   map[string]string `json:"files"` // rel path -> content hash

	mu   sync.Mutex `json:"-"`
	path string     `json:"-"`
}

// LoadManifest reads the manifest from dir. A missing file yields an
// empty manifest, not an error.
func LoadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestName)
	m := &Manifest{
		Version: ManifestVersion,
		Files:   make(map[string]string),
		path:    path,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	m.path = path
	if m.Files == nil {
		m.Files = make(map[string]string)
	}
	return m, nil
}

// Save atomically replaces the manifest on disk (temp file + rename).
func (m *Manifest) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.path == "" {
		return fmt.Errorf("manifest path not set")
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+ManifestName+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), m.path)
}

// Path returns the manifest file path.
func (m *Manifest) Path() string {
	return m.path
}

// ---------------------------------------------------------------------------
// Hashing
// ---------------------------------------------------------------------------

// Hash computes the content hash of a byte slice.
func Hash(data []byte) string {
	return fmt.Sprintf("%x", md5.Sum(data))
}

// HashFile computes the content hash of a file.
func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return Hash(data), nil
}

// ---------------------------------------------------------------------------
// Change tracking
// ---------------------------------------------------------------------------

// IsChanged reports whether rel is new or its content hash differs from
// the recorded one.
func (m *Manifest) IsChanged(rel, hash string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.Files[rel]
	return !ok || old != hash
}

// Update records the hash for rel.
func (m *Manifest) Update(rel, hash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Files[rel] = hash
}

// Clean drops entries whose path is no longer in current, so deleted
// sources do not accumulate stale hashes.
func (m *Manifest) Clean(current []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	valid := make(map[string]bool, len(current))
	for _, rel := range current {
		valid[rel] = true
	}
	for rel := range m.Files {
		if !valid[rel] {
			delete(m.Files, rel)
		}
	}
}

// Paths returns the recorded paths, sorted.
func (m *Manifest) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	paths := make([]string, 0, len(m.Files))
	for rel := range m.Files {
		paths = append(paths, rel)
	}
	sort.Strings(paths)
	return paths
}

// Len returns the number of recorded files.
func (m *Manifest) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Files)
}
