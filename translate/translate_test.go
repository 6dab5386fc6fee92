package translate

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vn-tools/rploc/unit"
	"github.com/vn-tools/rploc/validate"
)

func testOptions() Options {
	return Options{Workers: 1, Validation: validate.DefaultOptions()}
}

func TestRun_ValidatedOnFirstAttempt(t *testing.T) {
	units := []*unit.TextUnit{
		{ID: "a:1:0", Source: "Hello, [name]!", Label: "start", Speaker: "e"},
	}
	mock := &MockBackend{Responses: map[string][]string{
		"Hello, [name]!": {"你好，[name]！"},
	}}
	stats, err := Run(context.Background(), units, mock, testOptions())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Validated != 1 || stats.Failed != 0 {
		t.Errorf("stats = %+v", stats)
	}
	u := units[0]
	if u.Translation != "你好，[name]！" || u.Origin != unit.OriginBackend {
		t.Errorf("unit = %+v", u)
	}
	if stats.RunID == "" {
		t.Error("missing run id")
	}
	if len(mock.Calls) != 1 {
		t.Fatalf("calls = %d", len(mock.Calls))
	}
	if c := mock.Calls[0].Context; c.Label != "start" || c.Speaker != "e" {
		t.Errorf("context = %+v", c)
	}
}

func TestRun_RetryCarriesViolatedRule(t *testing.T) {
	units := []*unit.TextUnit{{ID: "a:1:0", Source: "Hello, [name]!"}}
	// A duplicated placeholder cannot be repaired in place, so the first
	// attempt must be resubmitted.
	mock := &MockBackend{Responses: map[string][]string{
		"Hello, [name]!": {"你好，[name][name]！", "你好，[name]！"},
	}}
	stats, err := Run(context.Background(), units, mock, testOptions())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Validated != 1 || stats.Retried != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if units[0].Retries != 1 {
		t.Errorf("unit retries = %d", units[0].Retries)
	}
	if len(mock.Calls) != 2 {
		t.Fatalf("calls = %d", len(mock.Calls))
	}
	notes := mock.Calls[1].Context.Notes
	if len(notes) != 1 || notes[0] != validate.RulePlaceholderCountMismatch {
		t.Errorf("retry notes = %v", notes)
	}
}

func TestRun_AutoFixRepairsBeforeRetry(t *testing.T) {
	units := []*unit.TextUnit{{ID: "a:1:0", Source: "Hello, [name]!"}}
	// The dropped placeholder is re-inserted in place; no second call.
	mock := &MockBackend{Responses: map[string][]string{
		"Hello, [name]!": {"你好！"},
	}}
	opts := testOptions()
	opts.RetryBudget = 3
	stats, err := Run(context.Background(), units, mock, opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := mock.CallCount("Hello, [name]!"); got != 1 {
		t.Errorf("backend calls = %d, want 1", got)
	}
	if stats.Validated != 1 || stats.Retried != 0 {
		t.Errorf("stats = %+v", stats)
	}
	u := units[0]
	if !strings.Contains(u.Translation, "[name]") || u.Origin != unit.OriginBackend {
		t.Errorf("unit = %+v", u)
	}
	if u.Retries != 0 || u.FailReason != "" {
		t.Errorf("unit = %+v", u)
	}
}

func TestRun_RetryBudgetTerminates(t *testing.T) {
	units := []*unit.TextUnit{{ID: "a:1:0", Source: "Hello, [name]!"}}
	// Always duplicates the placeholder, which no fixer can undo, so
	// every attempt fails validation.
	mock := &MockBackend{Responses: map[string][]string{
		"Hello, [name]!": {"你好，[name][name]！"},
	}}
	opts := testOptions()
	opts.RetryBudget = 3
	stats, err := Run(context.Background(), units, mock, opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := mock.CallCount("Hello, [name]!"); got != 4 {
		t.Errorf("backend calls = %d, want retry budget + 1", got)
	}
	if stats.Failed != 1 || units[0].Translated() {
		t.Errorf("stats = %+v, unit = %+v", stats, units[0])
	}
	if !strings.Contains(units[0].FailReason, validate.RulePlaceholderCountMismatch) {
		t.Errorf("fail reason = %q", units[0].FailReason)
	}
	if stats.PerRule[validate.RulePlaceholderCountMismatch] == 0 {
		t.Errorf("per-rule = %v", stats.PerRule)
	}
}

func TestRun_SkipsDictionaryUnits(t *testing.T) {
	units := []*unit.TextUnit{
		{ID: "a:1:0", Source: "OK", Translation: "好的", Origin: unit.OriginDictionary},
		{ID: "a:2:0", Source: "Later", Translation: "回头见"},
	}
	mock := &MockBackend{}
	stats, err := Run(context.Background(), units, mock, testOptions())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Skipped != 2 || len(mock.Calls) != 0 {
		t.Errorf("stats = %+v, calls = %d", stats, len(mock.Calls))
	}
}

func TestRun_PermanentBackendErrorFails(t *testing.T) {
	units := []*unit.TextUnit{{ID: "a:1:0", Source: "Hello"}}
	mock := &MockBackend{Errors: map[string]error{
		"Hello": &BackendError{Backend: "mock", Status: 401, Err: errors.New("bad key")},
	}}
	stats, err := Run(context.Background(), units, mock, testOptions())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Failed != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if got := mock.CallCount("Hello"); got != 1 {
		t.Errorf("permanent error retried: %d calls", got)
	}
	if !strings.Contains(units[0].FailReason, "401") {
		t.Errorf("fail reason = %q", units[0].FailReason)
	}
}

func TestRun_CancellationMarksUnitsFailed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	units := []*unit.TextUnit{
		{ID: "a:1:0", Source: "First"},
		{ID: "a:2:0", Source: "Second"},
	}
	stats, err := Run(ctx, units, &MockBackend{}, testOptions())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Failed != 2 {
		t.Errorf("stats = %+v", stats)
	}
	for _, u := range units {
		if u.FailReason != FailReasonCancelled {
			t.Errorf("unit %s fail reason = %q", u.ID, u.FailReason)
		}
	}
}

func TestRun_CheckpointWritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.jsonl")
	units := []*unit.TextUnit{
		{ID: "a:1:0", Source: "One"},
		{ID: "a:2:0", Source: "Two"},
		{ID: "a:3:0", Source: "Three"},
	}
	opts := testOptions()
	opts.CheckpointPath = path
	opts.CheckpointInterval = 2
	if _, err := Run(context.Background(), units, &MockBackend{}, opts); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, malformed, err := unit.ReadFile(path)
	if err != nil || malformed != 0 {
		t.Fatalf("ReadFile: %v (malformed %d)", err, malformed)
	}
	if len(got) != 3 {
		t.Errorf("checkpoint records = %d, want 3", len(got))
	}
}

type slowBackend struct{ delay time.Duration }

func (s *slowBackend) Name() string { return "slow" }

func (s *slowBackend) Translate(ctx context.Context, text string, _ Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(s.delay):
		return "迟到的译文", nil
	}
}

func TestRun_DeadlineReported(t *testing.T) {
	units := []*unit.TextUnit{{ID: "a:1:0", Source: "Slow"}}
	opts := testOptions()
	opts.Deadline = 20 * time.Millisecond
	stats, err := Run(context.Background(), units, &slowBackend{delay: 200 * time.Millisecond}, opts)
	if err == nil {
		t.Fatal("deadline overrun not reported")
	}
	if stats.Failed != 1 || units[0].FailReason != FailReasonCancelled {
		t.Errorf("stats = %+v, unit = %+v", stats, units[0])
	}
}

func TestBackendError_Unwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := error(&BackendError{Backend: "test", Temporary: true, Err: inner})
	if !errors.Is(err, inner) {
		t.Error("Unwrap broken")
	}
	var be *BackendError
	if !errors.As(err, &be) || !be.Temporary {
		t.Error("As broken")
	}
}

func TestUserPrompt(t *testing.T) {
	got := userPrompt("Hello", Context{Label: "intro", Speaker: "e", Notes: []string{"newline-count-mismatch"}})
	for _, want := range []string{"Scene: intro", "Speaker: e", "newline-count-mismatch", "Hello"} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
}
