// rploc — Ren'Py localization toolkit: extract, prefill, translate, validate,
// patch, and build translated visual novel projects.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vn-tools/rploc/build"
	"github.com/vn-tools/rploc/config"
	"github.com/vn-tools/rploc/dictionary"
	"github.com/vn-tools/rploc/extract"
	"github.com/vn-tools/rploc/merge"
	"github.com/vn-tools/rploc/patch"
	"github.com/vn-tools/rploc/settings"
	"github.com/vn-tools/rploc/translate"
	"github.com/vn-tools/rploc/unit"
	"github.com/vn-tools/rploc/validate"
)

// Version information (set via -ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ANSI colors
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[0;31m"
	colorGreen  = "\033[0;32m"
	colorYellow = "\033[1;33m"
	colorBlue   = "\033[0;34m"
)

func logInfo(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorBlue+"[INFO]"+colorReset+" "+format+"\n", args...)
}

func logSuccess(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorGreen+"[OK]"+colorReset+" "+format+"\n", args...)
}

func logWarning(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorYellow+"[WARN]"+colorReset+" "+format+"\n", args...)
}

func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorRed+"[ERROR]"+colorReset+" "+format+"\n", args...)
}

// log is the structured diagnostic logger. It stays at warn level unless
// --verbose raises it to debug; user-facing output goes through the colored
// helpers above.
var log = logrus.New()

// ---------------------------------------------------------------------------
// Global flags
// ---------------------------------------------------------------------------

var (
	rootDir string
	verbose bool
)

// errIssues marks a run that finished but reported recoverable problems
// (validation failures, patch conflicts). It maps to exit code 1 without an
// extra error line; the command already printed the details.
var errIssues = errors.New("completed with issues")

// exitCode maps an Execute error to the process exit code: 2 for
// configuration conflicts and build invariant violations, 1 for everything
// else, 0 for success.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var mc *config.ModeConflictError
	if errors.As(err, &mc) {
		return 2
	}
	var iv *build.InvariantViolation
	if errors.As(err, &iv) {
		return 2
	}
	return 1
}

// ---------------------------------------------------------------------------
// Root command
// ---------------------------------------------------------------------------

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rploc",
		Short: "Ren'Py visual novel localization toolkit",
		Long: `rploc — Ren'Py visual novel localization toolkit.

Extracts translatable text from .rpy scripts into JSON Lines, prefills
translations from layered dictionaries, translates the rest through an AI
backend with validation and retries, writes translations back into scripts
byte-faithfully, and assembles a translated game tree incrementally.

Commands:
  status      Show project info and translation progress
  extract     Extract translatable text units from a project
  prefill     Fill units from dictionaries before any backend call
  translate   Translate units through an AI backend
  validate    Validate translated units and write QA reports
  patch       Write translations back into scripts
  build       Assemble the translated game directory
  auth        Manage backend API keys

Backends:
  openai   OpenAI-compatible chat endpoint (API key)
  ollama   Local Ollama server (no auth)
  mock     Deterministic echo backend for dry runs`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.SetOutput(os.Stderr)
			log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
			if verbose {
				log.SetLevel(logrus.DebugLevel)
			} else {
				log.SetLevel(logrus.WarnLevel)
			}
		},
	}

	// Global persistent flags — inherited by all subcommands
	root.PersistentFlags().StringVar(&rootDir, "root", ".", "Project root directory")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newStatusCmd(),
		newExtractCmd(),
		newPrefillCmd(),
		newTranslateCmd(),
		newValidateCmd(),
		newPatchCmd(),
		newBuildCmd(),
		newAuthCmd(),
		newVersionCmd(),
	)

	return root
}

func main() {
	err := newRootCmd().Execute()
	if err != nil && !errors.Is(err, errIssues) {
		logError("%v", err)
	}
	os.Exit(exitCode(err))
}

// ---------------------------------------------------------------------------
// version
// ---------------------------------------------------------------------------

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rploc version %s\n", version)
			fmt.Printf("  commit:    %s\n", commit)
			fmt.Printf("  built:     %s\n", date)
		},
	}
}

// ---------------------------------------------------------------------------
// status (read-only: project info + translation progress)
// ---------------------------------------------------------------------------

func newStatusCmd() *cobra.Command {
	var unitsPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show project info and translation progress",
		Long: `Show the detected Ren'Py project layout and translation progress.

Displays the game directory, script count, and any existing translation
language directories. With --units, also shows how many units in the given
JSONL file carry a translation. Does not modify any files.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(unitsPath)
		},
	}

	cmd.Flags().StringVar(&unitsPath, "units", "", "Units JSONL file to report progress for")

	return cmd
}

func runStatus(unitsPath string) error {
	proj := config.Detect(rootDir)
	if proj == nil {
		return fmt.Errorf("no Ren'Py project found at %s", rootDir)
	}

	fmt.Fprintf(os.Stderr, "\n%sProject%s\n", colorBlue, colorReset)
	fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))

	absRoot, _ := filepath.Abs(proj.Root)
	fmt.Fprintf(os.Stderr, "  Root:       %s\n", absRoot)
	fmt.Fprintf(os.Stderr, "  Game dir:   %s\n", proj.GameDir)
	fmt.Fprintf(os.Stderr, "  Scripts:    %d\n", proj.Scripts)
	if len(proj.TLLanguages) > 0 {
		fmt.Fprintf(os.Stderr, "  Languages:  %s\n", strings.Join(proj.TLLanguages, ", "))
	}
	if proj.HasConfig {
		fmt.Fprintf(os.Stderr, "  Config:     %s\n", config.FileName)
	}

	if unitsPath != "" {
		units, malformed, err := unit.ReadFile(unitsPath)
		if err != nil {
			return err
		}
		if malformed > 0 {
			logWarning("%d malformed lines in %s", malformed, unitsPath)
		}
		translated := 0
		for _, u := range units {
			if u.Translation != "" {
				translated++
			}
		}
		percent := 0
		if len(units) > 0 {
			percent = translated * 100 / len(units)
		}
		fmt.Fprintf(os.Stderr, "\n%sTranslation%s\n", colorBlue, colorReset)
		fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))
		fmt.Fprintf(os.Stderr, "  %s  %d/%d units\n", progressBar(percent, 24), translated, len(units))
	}

	fmt.Fprintln(os.Stderr, "")
	return nil
}

// progressBar renders a colored bar like "████░░░░  50%". Percent is
// clamped to [0, 100].
func progressBar(percent, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := percent * width / 100

	color := colorRed
	switch {
	case percent >= 80:
		color = colorGreen
	case percent >= 40:
		color = colorYellow
	}

	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	return fmt.Sprintf("%s%s%s %3d%%", color, bar, colorReset, percent)
}

// ---------------------------------------------------------------------------
// extract
// ---------------------------------------------------------------------------

func newExtractCmd() *cobra.Command {
	var (
		outDir  string
		workers int
	)

	cmd := &cobra.Command{
		Use:   "extract <project_root>",
		Short: "Extract translatable text units from a project",
		Long: `Scan every .rpy script under the project root and write one JSON Lines
record per translatable literal to <out>/units.jsonl, plus a translation
memory seed (per-text occurrence counts) to <out>/tm_seed.csv.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(args[0], outDir, workers)
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "out", "Output directory")
	cmd.Flags().IntVar(&workers, "workers", 0, "Parallel file scanners (0 = NumCPU-1)")

	return cmd
}

func runExtract(projectRoot, outDir string, workers int) error {
	cfg, err := config.Load(projectRoot)
	if err != nil {
		return err
	}

	opts := extract.DefaultOptions()
	opts.Workers = workers
	if len(cfg.ExcludeDirs) > 0 {
		opts.ExcludeDirs = cfg.ExcludeDirs
	}

	logInfo("extracting from %s", projectRoot)
	res, err := extract.Project(projectRoot, opts)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"files": res.Files,
		"units": len(res.Units),
	}).Debug("extraction complete")

	for _, w := range res.Warnings {
		log.WithField("file", w.File).Debugf("line %d skipped: %s", w.Line, w.Reason)
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}
	unitsPath := filepath.Join(outDir, "units.jsonl")
	if err := unit.WriteFile(unitsPath, res.Units); err != nil {
		return err
	}
	if err := extract.WriteTMSeed(filepath.Join(outDir, "tm_seed.csv"), res.Units); err != nil {
		return err
	}

	logSuccess("%d units from %d files → %s", len(res.Units), res.Files, unitsPath)
	return nil
}

// ---------------------------------------------------------------------------
// prefill
// ---------------------------------------------------------------------------

func newPrefillCmd() *cobra.Command {
	var (
		outPath         string
		caseInsensitive bool
		storeBackend    string
		indexPath       string
		fillAll         bool
	)

	cmd := &cobra.Command{
		Use:   "prefill <units.jsonl> <dict_dir_or_file>",
		Short: "Fill units from dictionaries before any backend call",
		Long: `Fill translations for exact dictionary matches so they never reach a
paid backend. Dictionaries are JSONL, CSV, or gettext PO; a directory is
loaded per file, with names.* and ui.* selecting the priority layers.

Project dictionaries from ` + config.FileName + ` load as the global layer
below the one given on the command line.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrefill(args[0], args[1], outPath, caseInsensitive, storeBackend, indexPath, fillAll)
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "prefilled.jsonl", "Output JSONL file")
	cmd.Flags().BoolVar(&caseInsensitive, "case-insensitive", true, "Case-fold dictionary lookups")
	cmd.Flags().StringVar(&storeBackend, "backend", "memory", "Dictionary store: memory or indexed")
	cmd.Flags().StringVar(&indexPath, "index-path", "", "SQLite path for the indexed store")
	cmd.Flags().BoolVar(&fillAll, "fill-all", false, "Fill every exact match, not only short UI tokens")

	return cmd
}

func runPrefill(unitsPath, dictPath, outPath string, caseInsensitive bool, storeBackend, indexPath string, fillAll bool) error {
	cfg, err := config.Load(rootDir)
	if err != nil {
		return err
	}
	if cfg.Dictionary.FillAll {
		fillAll = true
	}

	units, malformed, err := unit.ReadFile(unitsPath)
	if err != nil {
		return err
	}
	if malformed > 0 {
		logWarning("%d malformed lines skipped in %s", malformed, unitsPath)
	}

	local, err := openStore(storeBackend, indexPath, caseInsensitive, cfg)
	if err != nil {
		return err
	}
	defer local.Close()
	if err := dictionary.LoadPath(local, dictPath); err != nil {
		return err
	}

	layered := &dictionary.Layered{Local: local}
	if len(cfg.Dictionary.Paths) > 0 {
		global := dictionary.NewMemory(caseInsensitive)
		for _, p := range cfg.Dictionary.Paths {
			if !filepath.IsAbs(p) {
				p = filepath.Join(rootDir, p)
			}
			if err := dictionary.LoadPath(global, p); err != nil {
				return err
			}
		}
		layered.Global = global
	}

	opts := dictionary.DefaultPrefillOptions()
	opts.FillAll = fillAll

	stats := dictionary.Prefill(units, layered, opts)
	log.WithField("per_layer", stats.PerLayer).Debug("prefill layer hits")

	if err := unit.WriteFile(outPath, units); err != nil {
		return err
	}

	logSuccess("%d/%d units filled from dictionaries → %s", stats.Filled, stats.Total, outPath)
	return nil
}

// openStore builds the dictionary store named by the command line, falling
// back to the config file's choice when the flag keeps its default.
func openStore(backend, indexPath string, caseInsensitive bool, cfg *config.Config) (dictionary.Store, error) {
	if backend == "memory" && cfg.Dictionary.Store == "indexed" {
		backend = "indexed"
	}
	if indexPath == "" {
		indexPath = cfg.Dictionary.IndexPath
	}
	switch backend {
	case "", "memory":
		return dictionary.NewMemory(caseInsensitive), nil
	case "indexed":
		if indexPath == "" {
			return nil, errors.New("indexed store needs --index-path")
		}
		return dictionary.OpenSQLite(indexPath, caseInsensitive)
	default:
		return nil, fmt.Errorf("unknown dictionary store %q", backend)
	}
}

// ---------------------------------------------------------------------------
// translate
// ---------------------------------------------------------------------------

func newTranslateCmd() *cobra.Command {
	var (
		outDir             string
		backendID          string
		model              string
		baseURL            string
		apiKey             string
		workers            int
		retryBudget        int
		checkpointInterval int
		timeoutSec         int
		deadlineMin        int
	)

	cmd := &cobra.Command{
		Use:   "translate <units.jsonl>",
		Short: "Translate units through an AI backend",
		Long: `Translate every unfilled unit through the selected backend, validating
each response and retrying failures within the retry budget. Partial results
are checkpointed to <out>/checkpoint.jsonl so an interrupted run can be
inspected; the final set lands in <out>/translated.jsonl with run statistics
in <out>/stats.json.

API keys resolve in order: --api-key, RPLOC_API_KEY, <BACKEND>_API_KEY
(also from a .env file in the project root), then the credential store
(rploc auth set).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranslate(cmd.Context(), args[0], outDir, backendID, model, baseURL, apiKey,
				workers, retryBudget, checkpointInterval, timeoutSec, deadlineMin)
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "out", "Output directory")
	cmd.Flags().StringVar(&backendID, "backend", "", "Backend: openai, ollama, or mock")
	cmd.Flags().StringVar(&model, "model", "", "Model name override")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Backend base URL override")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key (overrides env and stored credentials)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent backend calls")
	cmd.Flags().IntVar(&retryBudget, "retry-budget", -1, "Validation-failure retries per unit")
	cmd.Flags().IntVar(&checkpointInterval, "checkpoint-interval", 0, "Checkpoint flush interval in units")
	cmd.Flags().IntVar(&timeoutSec, "timeout", 0, "Per-request timeout in seconds")
	cmd.Flags().IntVar(&deadlineMin, "deadline", 0, "Whole-run deadline in minutes (0 = none)")

	return cmd
}

func runTranslate(ctx context.Context, unitsPath, outDir, backendID, model, baseURL, apiKey string,
	workers, retryBudget, checkpointInterval, timeoutSec, deadlineMin int) error {

	cfg, err := config.Load(rootDir)
	if err != nil {
		return err
	}
	if backendID == "" {
		backendID = cfg.Backend.ID
	}
	if model == "" {
		model = cfg.Backend.Model
	}
	if baseURL == "" {
		baseURL = cfg.Backend.BaseURL
	}
	if workers == 0 {
		workers = cfg.Backend.Workers
	}
	if retryBudget < 0 {
		retryBudget = cfg.Backend.RetryBudget
	}
	if checkpointInterval == 0 {
		checkpointInterval = cfg.Backend.CheckpointInterval
	}
	if timeoutSec == 0 {
		timeoutSec = cfg.Backend.TimeoutSec
	}

	units, malformed, err := unit.ReadFile(unitsPath)
	if err != nil {
		return err
	}
	if malformed > 0 {
		logWarning("%d malformed lines skipped in %s", malformed, unitsPath)
	}

	backend, err := makeBackend(backendID, model, baseURL, apiKey, timeoutSec)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}

	vopts := validationOptions(cfg, false)
	opts := translate.Options{
		Workers:            workers,
		RetryBudget:        retryBudget,
		CheckpointPath:     filepath.Join(outDir, "checkpoint.jsonl"),
		CheckpointInterval: checkpointInterval,
		Deadline:           time.Duration(deadlineMin) * time.Minute,
		Validation:         vopts,
		OnProgress: func(done, total int) {
			fmt.Fprintf(os.Stderr, "\r  %s  %d/%d", progressBar(done*100/max(total, 1), 24), done, total)
			if done == total {
				fmt.Fprintln(os.Stderr, "")
			}
		},
		OnLog:   func(format string, args ...any) { log.Debugf(format, args...) },
		OnError: func(format string, args ...any) { logWarning(format, args...) },
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logInfo("translating %d units via %s", len(units), backend.Name())
	stats, err := translate.Run(ctx, units, backend, opts)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"run_id":  stats.RunID,
		"retried": stats.Retried,
		"elapsed": stats.Elapsed,
	}).Debug("translation run complete")

	outPath := filepath.Join(outDir, "translated.jsonl")
	if err := unit.WriteFile(outPath, units); err != nil {
		return err
	}
	if err := writeStats(filepath.Join(outDir, "stats.json"), stats); err != nil {
		return err
	}

	logSuccess("%d validated, %d skipped, %d failed → %s",
		stats.Validated, stats.Skipped, stats.Failed, outPath)
	if stats.Failed > 0 {
		logWarning("%d units failed validation after retries; reasons recorded per unit", stats.Failed)
		return errIssues
	}
	return nil
}

// makeBackend builds the translation backend, resolving the API key for
// HTTP providers that need one.
func makeBackend(id, model, baseURL, apiKey string, timeoutSec int) (translate.Backend, error) {
	if id == "mock" {
		return &translate.MockBackend{}, nil
	}

	if err := settings.LoadDotEnv(rootDir); err != nil {
		return nil, err
	}
	key := settings.ResolveAPIKey(id, apiKey)
	if baseURL == "" {
		baseURL = settings.GetBaseURL(id)
	}

	prov := translate.Provider{
		ID:      id,
		Name:    id,
		BaseURL: baseURL,
		Model:   model,
		APIKey:  key,
		Timeout: time.Duration(timeoutSec) * time.Second,
	}
	return translate.NewBackend(prov, nil, "")
}

func writeStats(path string, stats *translate.Stats) error {
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

// ---------------------------------------------------------------------------
// validate
// ---------------------------------------------------------------------------

func newValidateCmd() *cobra.Command {
	var (
		reportJSON    string
		reportTSV     string
		reportHTML    string
		strict        bool
		ignoreUIPunct bool
	)

	cmd := &cobra.Command{
		Use:   "validate <source.jsonl> <translated.jsonl>",
		Short: "Validate translated units and write QA reports",
		Long: `Merge translations into the source unit set by id, run every unit
through the validation rules, and write the same result set as JSON, TSV,
and optionally HTML. Exits 1 when any unit fails a structural rule.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(args[0], args[1], reportJSON, reportTSV, reportHTML, strict, ignoreUIPunct)
		},
	}

	cmd.Flags().StringVar(&reportJSON, "report-json", "report.json", "JSON report path")
	cmd.Flags().StringVar(&reportTSV, "report-tsv", "report.tsv", "TSV report path")
	cmd.Flags().StringVar(&reportHTML, "report-html", "", "HTML report path (optional)")
	cmd.Flags().BoolVar(&strict, "strict", false, "Promote format warnings to errors")
	cmd.Flags().BoolVar(&ignoreUIPunct, "ignore-ui-punct", false, "Exempt short UI tokens from the end-punctuation rule")

	return cmd
}

func runValidate(sourcePath, translatedPath, reportJSON, reportTSV, reportHTML string, strict, ignoreUIPunct bool) error {
	cfg, err := config.Load(rootDir)
	if err != nil {
		return err
	}

	merged, err := os.CreateTemp("", "rploc-merged-*.jsonl")
	if err != nil {
		return err
	}
	merged.Close()
	defer os.Remove(merged.Name())

	mres, err := merge.Merge(sourcePath, translatedPath, merged.Name())
	if err != nil {
		return err
	}
	if mres.Unmatched > 0 {
		logWarning("%d translated records matched no source unit", mres.Unmatched)
	}
	log.WithFields(logrus.Fields{
		"total":  mres.Total,
		"filled": mres.Filled,
	}).Debug("merge complete")

	units, malformed, err := unit.ReadFile(merged.Name())
	if err != nil {
		return err
	}
	if malformed > 0 {
		logWarning("%d malformed lines skipped", malformed)
	}

	vopts := validationOptions(cfg, strict)
	vopts.IgnoreUIPunct = ignoreUIPunct
	rep := validate.Run(units, vopts)

	if err := rep.WriteJSON(reportJSON); err != nil {
		return err
	}
	if err := rep.WriteTSV(reportTSV); err != nil {
		return err
	}
	if reportHTML != "" {
		if err := rep.WriteHTML(reportHTML); err != nil {
			return err
		}
	}

	if rep.Summary.Failed > 0 {
		logWarning("%d/%d units failed validation; see %s", rep.Summary.Failed, rep.Summary.Total, reportTSV)
		return errIssues
	}
	logSuccess("%d/%d units passed", rep.Summary.Passed, rep.Summary.Total)
	return nil
}

// validationOptions builds validator thresholds from the project config.
func validationOptions(cfg *config.Config, strict bool) validate.Options {
	opts := validate.DefaultOptions()
	if cfg.Validation.LenRatioMin > 0 {
		opts.LenRatioMin = cfg.Validation.LenRatioMin
	}
	if cfg.Validation.LenRatioMax > 0 {
		opts.LenRatioMax = cfg.Validation.LenRatioMax
	}
	if cfg.Validation.UIMaxWidth > 0 {
		opts.UIMaxWidth = cfg.Validation.UIMaxWidth
	}
	opts.StrictFormat = strict || cfg.Validation.Strict
	if len(cfg.Terms) > 0 {
		opts.Terms = cfg.Terms
	}
	return opts
}

// ---------------------------------------------------------------------------
// patch
// ---------------------------------------------------------------------------

func newPatchCmd() *cobra.Command {
	var (
		outDir   string
		modeFlag string
		lang     string
		workers  int
		dryRun   bool
		report   string
	)

	cmd := &cobra.Command{
		Use:   "patch <project_root> <translated.jsonl>",
		Short: "Write translations back into scripts",
		Long: `Write translated units back into the project's scripts.

Mirror mode (default) writes a parallel tree of *.zh.rpy files under the
output directory. Overlay mode writes Ren'Py "translate ... strings" files
under game/tl/<lang>/ instead. Units whose literal moved since extraction
are re-anchored; ambiguous or missing matches are reported as conflicts and
left untranslated. A per-unit TSV report is always written.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPatch(args[0], args[1], outDir, modeFlag, lang, workers, dryRun, report)
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "out", "Output directory")
	cmd.Flags().StringVar(&modeFlag, "mode", "", "Patch mode: mirror or overlay")
	cmd.Flags().StringVar(&lang, "lang", "", "Overlay language directory name")
	cmd.Flags().IntVar(&workers, "workers", 0, "Parallel file patchers (0 = NumCPU-1)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report without writing files")
	cmd.Flags().StringVar(&report, "report", "patch_report.tsv", "TSV report path (relative to --out)")

	return cmd
}

func runPatch(projectRoot, unitsPath, outDir, modeFlag, lang string, workers int, dryRun bool, report string) error {
	cfg, err := config.Load(projectRoot)
	if err != nil {
		return err
	}
	modeName, err := cfg.ResolveMode(modeFlag)
	if err != nil {
		return err
	}
	mode := patch.ModeMirror
	if modeName != "" {
		if mode, err = patch.ParseMode(modeName); err != nil {
			return err
		}
	}
	if lang == "" {
		lang = cfg.Lang
	}

	units, malformed, err := unit.ReadFile(unitsPath)
	if err != nil {
		return err
	}
	if malformed > 0 {
		logWarning("%d malformed lines skipped in %s", malformed, unitsPath)
	}

	opts := patch.Options{
		Mode:    mode,
		Lang:    lang,
		Workers: workers,
		DryRun:  dryRun,
		OnLog:   func(format string, args ...any) { log.Debugf(format, args...) },
		OnWarning: func(format string, args ...any) {
			logWarning(format, args...)
		},
	}

	logInfo("patching %s in %s mode", projectRoot, mode)
	rep, err := patch.Project(projectRoot, units, outDir, opts)
	if err != nil {
		return err
	}

	if !dryRun && report != "" {
		if err := os.MkdirAll(outDir, 0755); err != nil {
			return err
		}
		if err := rep.WriteTSV(filepath.Join(outDir, report)); err != nil {
			return err
		}
	}

	logSuccess("%d applied, %d relocated across %d files",
		rep.Applied, rep.Relocated, rep.Files)
	if rep.HasConflicts() {
		logWarning("%d conflicts left untranslated; see %s", rep.Conflicts, report)
		return errIssues
	}
	return nil
}

// ---------------------------------------------------------------------------
// build
// ---------------------------------------------------------------------------

func newBuildCmd() *cobra.Command {
	var (
		outDir        string
		translatedDir string
		modeFlag      string
		dryRun        bool
	)

	cmd := &cobra.Command{
		Use:   "build <project_root>",
		Short: "Assemble the translated game directory",
		Long: `Copy the project into the output directory with translated files from
the patch step swapped in, skipping files whose content hash is unchanged
since the previous build. Mode auto-detects from the translated directory's
layout; a directory mixing mirror and overlay layouts, or a mirror file
whose source script no longer exists, halts the build before writing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(args[0], outDir, translatedDir, modeFlag, dryRun)
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "dist", "Output directory")
	cmd.Flags().StringVar(&translatedDir, "translated-mirror", "", "Directory holding patch output")
	cmd.Flags().StringVar(&modeFlag, "mode", "", "Build mode: auto, mirror, or overlay")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Plan without writing files")

	return cmd
}

func runBuild(projectRoot, outDir, translatedDir, modeFlag string, dryRun bool) error {
	if translatedDir == "" {
		return errors.New("--translated-mirror is required")
	}
	cfg, err := config.Load(projectRoot)
	if err != nil {
		return err
	}
	mode := modeFlag
	if mode == "" || mode == build.ModeAuto {
		// The config's patch mode only decides when set; otherwise the
		// builder auto-detects from the translated tree.
		if cfg.Mode != "" && mode != build.ModeAuto {
			mode = cfg.Mode
		}
	} else if cfg.Mode != "" && cfg.Mode != mode {
		return &config.ModeConflictError{Config: cfg.Mode, Flag: mode}
	}

	opts := build.Options{
		Mode:          mode,
		TranslatedDir: translatedDir,
		Lang:          cfg.Lang,
		ExcludeDirs:   cfg.ExcludeDirs,
		DryRun:        dryRun,
		OnLog:         func(format string, args ...any) { log.Debugf(format, args...) },
		OnWarning: func(format string, args ...any) {
			logWarning(format, args...)
		},
	}

	logInfo("building %s → %s", projectRoot, outDir)
	res, err := build.Run(projectRoot, outDir, opts)
	if err != nil {
		return err
	}

	logSuccess("%s mode: %d copied, %d unchanged, %d translated",
		res.Mode, res.Copied, res.Skipped, res.Translated)
	return nil
}

// ---------------------------------------------------------------------------
// auth (API key management)
// ---------------------------------------------------------------------------

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage backend API keys",
		Long: `Manage stored backend credentials.

Keys live in ` + "`$XDG_DATA_HOME/rploc/auth.json`" + ` (0600). At translate
time the key resolves in order: --api-key flag, RPLOC_API_KEY,
<BACKEND>_API_KEY, then this store.

Examples:
  rploc auth set --backend openai              Prompt for a key
  rploc auth set --backend openai --base-url https://api.example.com/v1
  rploc auth list                              Show stored keys (masked)
  rploc auth remove --backend openai           Forget one backend
  rploc auth remove --all                      Forget everything`,
	}

	cmd.AddCommand(
		newAuthSetCmd(),
		newAuthListCmd(),
		newAuthRemoveCmd(),
	)

	return cmd
}

func newAuthSetCmd() *cobra.Command {
	var (
		backendID string
		apiKey    string
		baseURL   string
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store an API key for a backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			if backendID == "" {
				return errors.New("--backend is required")
			}
			if apiKey == "" {
				fmt.Fprintf(os.Stderr, "API key for %s: ", backendID)
				reader := bufio.NewReader(os.Stdin)
				line, err := reader.ReadString('\n')
				if err != nil {
					return err
				}
				apiKey = strings.TrimSpace(line)
			}
			if apiKey == "" {
				return errors.New("empty API key")
			}
			var err error
			if baseURL != "" {
				err = settings.SetAPIKeyWithBaseURL(backendID, apiKey, baseURL)
			} else {
				err = settings.SetAPIKey(backendID, apiKey)
			}
			if err != nil {
				return err
			}
			logSuccess("stored key for %s (%s)", backendID, settings.MaskKey(apiKey))
			return nil
		},
	}

	cmd.Flags().StringVar(&backendID, "backend", "", "Backend name")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key (prompted when omitted)")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Backend base URL")

	return cmd
}

func newAuthListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := settings.Load()
			if len(store) == 0 {
				logInfo("no stored credentials (%s)", settings.FilePath())
				return nil
			}
			names := make([]string, 0, len(store))
			for name := range store {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				info := store[name]
				line := fmt.Sprintf("  %-14s %s", name, settings.MaskKey(info.Key))
				if info.BaseURL != "" {
					line += "  " + info.BaseURL
				}
				fmt.Fprintln(os.Stderr, line)
			}
			return nil
		},
	}
}

func newAuthRemoveCmd() *cobra.Command {
	var (
		backendID string
		all       bool
	)

	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				if err := settings.RemoveAll(); err != nil {
					return err
				}
				logSuccess("removed all stored credentials")
				return nil
			}
			if backendID == "" {
				return errors.New("--backend or --all is required")
			}
			if err := settings.Remove(backendID); err != nil {
				return err
			}
			logSuccess("removed credentials for %s", backendID)
			return nil
		},
	}

	cmd.Flags().StringVar(&backendID, "backend", "", "Backend name")
	cmd.Flags().BoolVar(&all, "all", false, "Remove every stored credential")

	return cmd
}

// ---------------------------------------------------------------------------
// Small helpers
// ---------------------------------------------------------------------------

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
