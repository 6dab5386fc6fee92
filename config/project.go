// Project auto-detection: finds the script directory, counts scripts and
// lists existing translation-layer languages so commands can default
// sensibly without an rploc.yaml.
package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Project describes a detected Ren'Py project layout.
type Project struct {
	// Root is the project root as given.
	Root string
	// GameDir is the directory holding the scripts, usually <root>/game.
	GameDir string
	// Scripts is the number of .rpy files outside excluded directories.
	Scripts int
	// TLLanguages lists existing game/tl/<lang> directories, sorted.
	TLLanguages []string
	// HasConfig reports whether rploc.yaml exists at the root.
	HasConfig bool
}

var langDirRe = regexp.MustCompile(`^[A-Za-z]{2}(?:_[A-Za-z]{2,4})?$`)

// Detect inspects rootDir and returns nil when it does not look like a
// Ren'Py project (no .rpy files at all).
func Detect(rootDir string) *Project {
	p := &Project{Root: rootDir}

	gameDir := filepath.Join(rootDir, "game")
	if info, err := os.Stat(gameDir); err == nil && info.IsDir() {
		p.GameDir = gameDir
	} else {
		p.GameDir = rootDir
	}

	p.Scripts = countScripts(p.GameDir)
	if p.Scripts == 0 {
		return nil
	}

	p.TLLanguages = detectTLLanguages(filepath.Join(p.GameDir, "tl"))
	if _, err := os.Stat(filepath.Join(rootDir, FileName)); err == nil {
		p.HasConfig = true
	}
	return p
}

func countScripts(dir string) int {
	count := 0
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			switch d.Name() {
			case "tl", "saves", "cache":
				if path != dir {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".rpy") {
			count++
		}
		return nil
	})
	return count
}

// detectTLLanguages lists language directories under game/tl that contain
// at least one script.
func detectTLLanguages(tlDir string) []string {
	entries, err := os.ReadDir(tlDir)
	if err != nil {
		return nil
	}

	var langs []string
	for _, e := range entries {
		if !e.IsDir() || e.Name() == "None" {
			continue
		}
		if !langDirRe.MatchString(e.Name()) && !isKnownLangName(e.Name()) {
			continue
		}
		if countScripts(filepath.Join(tlDir, e.Name())) == 0 {
			continue
		}
		langs = append(langs, e.Name())
	}
	sort.Strings(langs)
	return langs
}

// isKnownLangName covers the word-style language directory names the
// engine's own templates use.
func isKnownLangName(s string) bool {
	switch strings.ToLower(s) {
	case "chinese", "schinese", "tchinese", "japanese", "korean",
		"russian", "french", "german", "spanish", "portuguese", "italian":
		return true
	}
	return false
}
