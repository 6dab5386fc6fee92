package build

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vn-tools/rploc/patch"
)

// ModeAuto lets the builder infer mirror or overlay from the translated
// output layout.
const ModeAuto = "auto"

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// Options controls one build invocation.
type Options struct {
	// Mode is auto, mirror or overlay. Empty means auto.
	Mode string
	// TranslatedDir is the patch output root to fold into the build.
	TranslatedDir string
	// Lang is the overlay language directory (default zh_CN).
	Lang string
	// ExcludeDirs are directory names never copied from the source tree.
	ExcludeDirs []string
	// DryRun reports what would happen without writing anything.
	DryRun bool

	OnProgress func(done, total int)
	OnLog      func(format string, args ...any)
	OnWarning  func(format string, args ...any)
}

func (o Options) effectiveMode() string {
	if o.Mode == "" {
		return ModeAuto
	}
	return o.Mode
}

func (o Options) effectiveLang() string {
	if o.Lang == "" {
		return "zh_CN"
	}
	return o.Lang
}

func (o Options) effectiveExcludeDirs() []string {
	if len(o.ExcludeDirs) > 0 {
		return o.ExcludeDirs
	}
	return []string{"tl", "saves", "cache"}
}

func (o Options) log(format string, args ...any) {
	if o.OnLog != nil {
		o.OnLog(format, args...)
	}
}

// Result summarizes one build.
type Result struct {
	Mode       patch.Mode
	Copied     int
	Skipped    int
	Translated int
}

// ---------------------------------------------------------------------------
// Invariant violations
// ---------------------------------------------------------------------------

// Violation kinds.
const (
	ViolationModeCoexistence = "mode-coexistence"
	ViolationOrphanedMirror  = "orphaned-mirror"
)

// InvariantViolation is a fatal pre-write check failure. The build halts
// before modifying the target, leaving the previous build intact.
type InvariantViolation struct {
	Kind string
	Path string
}

func (e *InvariantViolation) Error() string {
	switch e.Kind {
	case ViolationModeCoexistence:
		return fmt.Sprintf("build target mixes mirror and overlay output (%s): clean the target or pick one mode", e.Path)
	case ViolationOrphanedMirror:
		return fmt.Sprintf("orphaned mirror file %s has no corresponding source", e.Path)
	}
	return fmt.Sprintf("build invariant violated: %s (%s)", e.Kind, e.Path)
}

// ---------------------------------------------------------------------------
// Build
// ---------------------------------------------------------------------------

// Run assembles the translated package for root into outDir. The manifest
// is read once at the start and atomically replaced at the end; no file in
// outDir is touched until every invariant check has passed.
func Run(root, outDir string, opts Options) (*Result, error) {
	manifest, err := LoadManifest(outDir)
	if err != nil {
		return nil, err
	}

	mode, err := resolveMode(opts)
	if err != nil {
		return nil, err
	}

	if err := checkTarget(root, outDir, mode, opts); err != nil {
		return nil, err
	}

	sources, err := listFiles(root, opts.effectiveExcludeDirs())
	if err != nil {
		return nil, err
	}
	translated, err := listTranslated(opts.TranslatedDir, mode, opts.effectiveLang())
	if err != nil {
		return nil, err
	}

	res := &Result{Mode: mode}
	total := len(sources) + len(translated)
	done := 0
	tick := func() {
		done++
		if opts.OnProgress != nil {
			opts.OnProgress(done, total)
		}
	}

	seen := make([]string, 0, total)
	for _, rel := range sources {
		src := filepath.Join(root, filepath.FromSlash(rel))
		data, err := os.ReadFile(src)
		if err != nil {
			return res, fmt.Errorf("reading %s: %w", rel, err)
		}
		hash := Hash(data)
		dst := filepath.Join(outDir, filepath.FromSlash(rel))
		seen = append(seen, rel)

		if !manifest.IsChanged(rel, hash) && fileExists(dst) {
			res.Skipped++
			tick()
			continue
		}
		if !opts.DryRun {
			if err := writeCopy(dst, data); err != nil {
				return res, err
			}
		}
		manifest.Update(rel, hash)
		res.Copied++
		tick()
	}

	for _, rel := range translated {
		src := filepath.Join(opts.TranslatedDir, filepath.FromSlash(rel))
		data, err := os.ReadFile(src)
		if err != nil {
			return res, fmt.Errorf("reading %s: %w", rel, err)
		}
		hash := Hash(data)
		dst := filepath.Join(outDir, filepath.FromSlash(rel))
		seen = append(seen, rel)

		if !manifest.IsChanged(rel, hash) && fileExists(dst) {
			res.Skipped++
			tick()
			continue
		}
		if !opts.DryRun {
			if err := writeCopy(dst, data); err != nil {
				return res, err
			}
		}
		manifest.Update(rel, hash)
		res.Translated++
		tick()
	}

	manifest.Clean(seen)
	if !opts.DryRun {
		if err := manifest.Save(); err != nil {
			return res, err
		}
	}
	opts.log("build: %d copied, %d translated, %d unchanged (%s mode)",
		res.Copied, res.Translated, res.Skipped, mode)
	return res, nil
}

// resolveMode turns the configured mode into mirror or overlay, inferring
// from the translated output layout in auto mode. A translated directory
// holding both layouts cannot be folded in safely.
func resolveMode(opts Options) (patch.Mode, error) {
	switch opts.effectiveMode() {
	case string(patch.ModeMirror):
		return patch.ModeMirror, nil
	case string(patch.ModeOverlay):
		return patch.ModeOverlay, nil
	case ModeAuto:
	default:
		return "", fmt.Errorf("unknown build mode %q (want auto, mirror or overlay)", opts.Mode)
	}

	mirrors, err := globMirrorFiles(opts.TranslatedDir)
	if err != nil {
		return "", err
	}
	hasMirror := len(mirrors) > 0
	hasOverlay := dirHasFiles(filepath.Join(opts.TranslatedDir, "game", "tl"))
	switch {
	case hasMirror && hasOverlay:
		return "", &InvariantViolation{Kind: ViolationModeCoexistence, Path: opts.TranslatedDir}
	case hasMirror:
		return patch.ModeMirror, nil
	case hasOverlay:
		return patch.ModeOverlay, nil
	}
	return "", fmt.Errorf("no translated output found under %s", opts.TranslatedDir)
}

// checkTarget rejects a target that holds leftovers from the other output
// mode, or mirror files whose source no longer exists.
func checkTarget(root, outDir string, mode patch.Mode, opts Options) error {
	mirrors, err := globMirrorFiles(outDir)
	if err != nil {
		return err
	}
	overlayLeft := dirHasFiles(filepath.Join(outDir, "game", "tl"))

	if mode == patch.ModeMirror && overlayLeft {
		return &InvariantViolation{Kind: ViolationModeCoexistence, Path: filepath.Join(outDir, "game", "tl")}
	}
	if mode == patch.ModeOverlay && len(mirrors) > 0 {
		return &InvariantViolation{Kind: ViolationModeCoexistence, Path: mirrors[0]}
	}

	for _, rel := range mirrors {
		srcRel := strings.TrimSuffix(rel, patch.MirrorSuffix) + ".rpy"
		if !fileExists(filepath.Join(root, filepath.FromSlash(srcRel))) {
			return &InvariantViolation{Kind: ViolationOrphanedMirror, Path: rel}
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// File listing
// ---------------------------------------------------------------------------

// listFiles returns all project-relative file paths under root, sorted,
// with excluded directories pruned.
func listFiles(root string, excludeDirs []string) ([]string, error) {
	excluded := make(map[string]bool, len(excludeDirs))
	for _, d := range excludeDirs {
		excluded[d] = true
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && excluded[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// listTranslated returns the translated-output files to fold in, relative
// to the translated directory.
func listTranslated(dir string, mode patch.Mode, lang string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	if mode == patch.ModeOverlay {
		sub := filepath.Join(dir, "game", "tl", lang)
		if !dirHasFiles(sub) {
			return nil, nil
		}
		files, err := listFiles(sub, nil)
		if err != nil {
			return nil, err
		}
		for i, rel := range files {
			files[i] = "game/tl/" + lang + "/" + rel
		}
		return files, nil
	}
	return globMirrorFiles(dir)
}

// globMirrorFiles returns all mirror-suffixed files under dir, relative
// to dir, sorted. A missing dir yields an empty list.
func globMirrorFiles(dir string) ([]string, error) {
	if dir == "" || !dirExists(dir) {
		return nil, nil
	}
	all, err := listFiles(dir, nil)
	if err != nil {
		return nil, err
	}
	var mirrors []string
	for _, rel := range all {
		if strings.HasSuffix(rel, patch.MirrorSuffix) {
			mirrors = append(mirrors, rel)
		}
	}
	return mirrors, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// dirHasFiles reports whether dir exists and contains at least one file
// anywhere below it.
func dirHasFiles(dir string) bool {
	if !dirExists(dir) {
		return false
	}
	found := false
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			found = true
			return fs.SkipAll
		}
		return nil
	})
	return found
}

func writeCopy(dst string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}
