package translate

import (
	"context"
	"sync"
)

// MockBackend is a deterministic in-process backend for tests and dry
// runs. Responses come from a fixed table; unmatched texts echo back with
// a marker prefix so the output stays traceable.
type MockBackend struct {
	mu sync.Mutex
	// Responses maps source text to the returned translation. A response
	// slice yields one element per successive call, so a test can model
	// "wrong answer first, corrected on retry".
	Responses map[string][]string
	// Errors maps source text to an error returned instead.
	Errors map[string]error
	// Calls records every request in order.
	Calls []MockCall

	served map[string]int
}

// MockCall is one recorded Translate invocation.
type MockCall struct {
	Text    string
	Context Context
}

func (m *MockBackend) Name() string { return "mock" }

func (m *MockBackend) Translate(ctx context.Context, text string, tctx Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MockCall{Text: text, Context: tctx})
	if err, ok := m.Errors[text]; ok {
		return "", err
	}
	if rs, ok := m.Responses[text]; ok && len(rs) > 0 {
		if m.served == nil {
			m.served = make(map[string]int)
		}
		i := m.served[text]
		if i >= len(rs) {
			i = len(rs) - 1
		}
		m.served[text]++
		return rs[i], nil
	}
	return "«" + text + "»", nil
}

// CallCount reports how many times one source text was submitted.
func (m *MockBackend) CallCount(text string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if c.Text == text {
			n++
		}
	}
	return n
}
