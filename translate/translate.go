package translate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vn-tools/rploc/unit"
	"github.com/vn-tools/rploc/validate"
)

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// Options controls one translation run.
type Options struct {
	// Workers bounds concurrent backend calls. Default: 4.
	Workers int
	// RetryBudget is how many validation-failure resubmissions a unit
	// gets after its first call. Default: 3.
	RetryBudget int
	// CheckpointPath receives append-only partial results; empty
	// disables checkpointing.
	CheckpointPath string
	// CheckpointInterval flushes the checkpoint every N completed units.
	// Default: 25.
	CheckpointInterval int
	// Deadline bounds the whole run; zero means no deadline.
	Deadline time.Duration
	// Validation holds the thresholds each response is scored against.
	Validation validate.Options

	// OnProgress is called after each completed unit.
	OnProgress func(done, total int)
	// OnLog emits log messages during the run.
	OnLog func(format string, args ...any)
	// OnError emits error messages during the run.
	OnError func(format string, args ...any)
}

func (o *Options) log(format string, args ...any) {
	if o.OnLog != nil {
		o.OnLog(format, args...)
	}
}

func (o *Options) logError(format string, args ...any) {
	if o.OnError != nil {
		o.OnError(format, args...)
	} else if o.OnLog != nil {
		o.OnLog(format, args...)
	}
}

func (o *Options) effectiveWorkers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return 4
}

func (o *Options) effectiveRetryBudget() int {
	if o.RetryBudget > 0 {
		return o.RetryBudget
	}
	return 3
}

func (o *Options) effectiveCheckpointInterval() int {
	if o.CheckpointInterval > 0 {
		return o.CheckpointInterval
	}
	return 25
}

// FailReasonCancelled marks units the deadline cut off mid-run.
const FailReasonCancelled = "cancelled"

// ---------------------------------------------------------------------------
// Rate limit state (global pause shared by all workers)
// ---------------------------------------------------------------------------

type rateLimitState struct {
	mu       sync.Mutex
	paused   int32
	pauseEnd time.Time
}

func (r *rateLimitState) pause(duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pauseEnd = time.Now().Add(duration)
	atomic.StoreInt32(&r.paused, 1)
}

func (r *rateLimitState) unpause() {
	atomic.StoreInt32(&r.paused, 0)
}

// waitIfPaused blocks until the shared pause window has passed.
func (r *rateLimitState) waitIfPaused(ctx context.Context) error {
	for atomic.LoadInt32(&r.paused) == 1 {
		r.mu.Lock()
		remaining := time.Until(r.pauseEnd)
		r.mu.Unlock()
		if remaining <= 0 {
			r.unpause()
			return nil
		}
		if remaining > 100*time.Millisecond {
			remaining = 100 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(remaining):
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

// Stats aggregates one run.
type Stats struct {
	RunID      string         `json:"run_id"`
	Total      int            `json:"total"`
	Skipped    int            `json:"skipped"`
	Validated  int            `json:"validated"`
	Failed     int            `json:"failed"`
	Retried    int            `json:"retried"`
	AvgRetries float64        `json:"avg_retries"`
	PerRule    map[string]int `json:"per_rule,omitempty"`
	Elapsed    time.Duration  `json:"-"`
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

// Run translates every untranslated unit in place and returns aggregate
// statistics. Dictionary-filled units are skipped. Units are processed by
// a bounded worker pool; the input slice order is never changed, so the
// caller's output stays deterministic.
func Run(ctx context.Context, units []*unit.TextUnit, backend Backend, opts Options) (*Stats, error) {
	start := time.Now()
	stats := &Stats{RunID: uuid.NewString(), Total: len(units), PerRule: make(map[string]int)}

	if opts.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Deadline)
		defer cancel()
	}

	var todo []*unit.TextUnit
	for _, u := range units {
		if u.Origin == unit.OriginDictionary || u.Translated() {
			stats.Skipped++
			continue
		}
		todo = append(todo, u)
	}
	opts.log("run %s: %d units to translate, %d workers, %d skipped",
		stats.RunID, len(todo), opts.effectiveWorkers(), stats.Skipped)

	cp, err := newCheckpointer(opts.CheckpointPath, opts.effectiveCheckpointInterval())
	if err != nil {
		return nil, err
	}

	rl := &rateLimitState{}
	jobs := make(chan *unit.TextUnit)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done int
	)

	complete := func(u *unit.TextUnit, retries int, failRules []string) {
		mu.Lock()
		done++
		doneNow := done
		stats.Retried += retries
		if u.Translated() && u.FailReason == "" {
			stats.Validated++
		} else {
			stats.Failed++
		}
		for _, rule := range failRules {
			stats.PerRule[rule]++
		}
		mu.Unlock()
		cp.record(u)
		if opts.OnProgress != nil {
			opts.OnProgress(doneNow, len(todo))
		}
	}

	for i := 0; i < opts.effectiveWorkers(); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range jobs {
				retries, failRules := translateUnit(ctx, u, backend, rl, &opts)
				complete(u, retries, failRules)
			}
		}()
	}

feed:
	for _, u := range todo {
		select {
		case jobs <- u:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	// Anything the deadline cut off is failed with an explicit reason,
	// never left half-resolved. Units that never reached a worker were
	// not counted by complete().
	for _, u := range todo {
		if !u.Translated() && u.FailReason == "" {
			u.FailReason = FailReasonCancelled
		}
	}
	stats.Failed += len(todo) - done

	if err := cp.close(); err != nil {
		opts.logError("checkpoint: %v", err)
	}

	if stats.Validated+stats.Failed > 0 {
		stats.AvgRetries = float64(stats.Retried) / float64(stats.Validated+stats.Failed)
	}
	stats.Elapsed = time.Since(start)
	opts.log("run %s: %d validated, %d failed, %d skipped in %s",
		stats.RunID, stats.Validated, stats.Failed, stats.Skipped, stats.Elapsed.Round(time.Millisecond))

	if err := ctx.Err(); err != nil && errors.Is(err, context.DeadlineExceeded) {
		return stats, fmt.Errorf("run deadline exceeded: %w", err)
	}
	return stats, nil
}

// translateUnit walks one unit through pending, in_flight and then
// validated, retrying or failed. It performs at most retry budget + 1
// backend calls and records the last findings when it gives up.
func translateUnit(ctx context.Context, u *unit.TextUnit, backend Backend, rl *rateLimitState, opts *Options) (retries int, failRules []string) {
	budget := opts.effectiveRetryBudget()
	tctx := Context{Label: u.Label, Speaker: u.Speaker}

	for attempt := 0; attempt <= budget; attempt++ {
		if err := rl.waitIfPaused(ctx); err != nil {
			return retries, failRules
		}
		if ctx.Err() != nil {
			return retries, failRules
		}

		text, err := backend.Translate(ctx, u.Source, tctx)
		if err != nil {
			var be *BackendError
			if errors.As(err, &be) {
				if be.RetryAfter > 0 {
					rl.pause(be.RetryAfter)
				}
				if be.Temporary && attempt < budget {
					retries++
					backoff(ctx, attempt)
					continue
				}
			}
			if ctx.Err() != nil {
				return retries, failRules
			}
			u.Retries = retries
			u.FailReason = err.Error()
			return retries, failRules
		}

		findings := validate.Evaluate(u.Source, text, opts.Validation)
		if !validate.Passed(findings) {
			// Try a deterministic repair before spending a retry.
			if fix := validate.AutoFix(u.Source, text, opts.Validation); fix.Passed && len(fix.Applied) > 0 {
				opts.log("unit %s repaired: %s", u.ID, strings.Join(fix.Applied, ";"))
				text = fix.Fixed
				findings = validate.Evaluate(u.Source, text, opts.Validation)
			}
		}
		if validate.Passed(findings) {
			u.Translation = text
			u.Origin = unit.OriginBackend
			u.Retries = retries
			u.FailReason = ""
			return retries, failRules
		}

		failRules = failRules[:0]
		for _, f := range findings {
			if f.Severity == validate.SeverityError {
				failRules = append(failRules, f.Rule)
			}
		}
		opts.logError("unit %s attempt %d rejected: %s", u.ID, attempt+1, strings.Join(failRules, ";"))
		if attempt < budget {
			retries++
			// Feed the violated rules back so the next attempt can fix
			// the specific problem.
			tctx.Notes = append(tctx.Notes[:0], failRules...)
		}
	}

	u.Retries = retries
	u.FailReason = "validation failed: " + strings.Join(failRules, ";")
	return retries, failRules
}

// backoff sleeps 2^attempt seconds, capped at 30s, unless ctx ends first.
func backoff(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * time.Second
	if wait > 30*time.Second {
		wait = 30 * time.Second
	}
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
}

// ---------------------------------------------------------------------------
// Checkpointing (single writer)
// ---------------------------------------------------------------------------

// checkpointer serializes partial results through one goroutine so the
// checkpoint file sees no concurrent writes. The file is append-only; a
// crash loses at most one flush interval.
type checkpointer struct {
	ch   chan *unit.TextUnit
	done chan error
}

func newCheckpointer(path string, interval int) (*checkpointer, error) {
	cp := &checkpointer{done: make(chan error, 1)}
	if path == "" {
		return cp, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating checkpoint dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint %s: %w", path, err)
	}

	cp.ch = make(chan *unit.TextUnit, interval)
	go func() {
		defer f.Close()
		var pending []*unit.TextUnit
		var firstErr error
		flush := func() {
			if len(pending) == 0 {
				return
			}
			if err := unit.Write(f, pending); err != nil && firstErr == nil {
				firstErr = err
			}
			pending = pending[:0]
			if err := f.Sync(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		for u := range cp.ch {
			pending = append(pending, u)
			if len(pending) >= interval {
				flush()
			}
		}
		flush()
		cp.done <- firstErr
	}()
	return cp, nil
}

func (cp *checkpointer) record(u *unit.TextUnit) {
	if cp.ch != nil {
		cp.ch <- u
	}
}

func (cp *checkpointer) close() error {
	if cp.ch == nil {
		return nil
	}
	close(cp.ch)
	return <-cp.done
}
