// Package translate drives untranslated units through a translation
// backend, validating each result and retrying on failure with the
// violated rule fed back into the request context.
//
// Backends sit behind one narrow interface: OpenAI-compatible chat APIs,
// a local Ollama server, and a deterministic mock for tests.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ---------------------------------------------------------------------------
// Backend contract
// ---------------------------------------------------------------------------

// Context carries the unit's semantic surroundings to the backend. Notes
// accumulate violated validation rules across retries.
type Context struct {
	Label   string
	Speaker string
	Notes   []string
}

// Backend is the narrow translation capability. Implementations perform
// exactly one request per call; retry policy lives in the orchestrator.
type Backend interface {
	Name() string
	Translate(ctx context.Context, text string, tctx Context) (string, error)
}

// BackendError is a failed backend call. Temporary errors (timeouts,
// 5xx, rate limits) are retried with backoff; the rest fail the attempt.
type BackendError struct {
	Backend    string
	Status     int
	Temporary  bool
	RetryAfter time.Duration
	Err        error
}

func (e *BackendError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Backend, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// ---------------------------------------------------------------------------
// Provider configuration
// ---------------------------------------------------------------------------

// Provider configures an HTTP backend.
type Provider struct {
	// ID selects the wire protocol: "openai" or "ollama".
	ID      string
	Name    string
	BaseURL string
	Model   string
	APIKey  string
	Proxy   string
	Timeout time.Duration
}

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// NewBackend builds a backend for a provider over a shared HTTP client.
// All workers reuse the client so connections are pooled instead of
// opened per call.
func NewBackend(prov Provider, client *http.Client, systemPrompt string) (Backend, error) {
	if client == nil {
		client = makeHTTPClient(prov.Proxy, prov.Timeout)
	}
	switch prov.ID {
	case ProviderOllama:
		return &ollamaBackend{prov: prov, client: client, prompt: systemPrompt}, nil
	case ProviderOpenAI, "":
		return &openAIBackend{prov: prov, client: client, prompt: systemPrompt}, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", prov.ID)
	}
}

// makeHTTPClient builds the shared client, honoring an explicit proxy or
// the standard proxy environment variables.
func makeHTTPClient(proxyURL string, timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != "" {
		if parsed, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(parsed)
		}
	} else {
		transport.Proxy = http.ProxyFromEnvironment
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

// DefaultSystemPrompt instructs the model to keep the placeholder and
// markup contract the validator enforces.
const DefaultSystemPrompt = `You are translating visual-novel dialogue from English to Simplified Chinese.
Rules:
- Preserve every placeholder exactly: [name], {0}, %s and similar tokens must appear unchanged.
- Preserve Ren'Py style tags like {i}...{/i} and their nesting.
- Keep the same number of line breaks as the source.
- Translate naturally for spoken dialogue; do not add explanations.
Reply with the translation only.`

// userPrompt renders the request text with its context block.
func userPrompt(text string, tctx Context) string {
	var b strings.Builder
	if tctx.Label != "" {
		fmt.Fprintf(&b, "Scene: %s\n", tctx.Label)
	}
	if tctx.Speaker != "" {
		fmt.Fprintf(&b, "Speaker: %s\n", tctx.Speaker)
	}
	for _, note := range tctx.Notes {
		fmt.Fprintf(&b, "Previous attempt violated rule: %s. Fix that.\n", note)
	}
	b.WriteString("Text:\n")
	b.WriteString(text)
	return b.String()
}

// ---------------------------------------------------------------------------
// OpenAI-compatible chat backend
// ---------------------------------------------------------------------------

type openAIBackend struct {
	prov   Provider
	client *http.Client
	prompt string
}

func (b *openAIBackend) Name() string { return b.prov.Name }

func (b *openAIBackend) Translate(ctx context.Context, text string, tctx Context) (string, error) {
	payload := map[string]any{
		"model": b.prov.Model,
		"messages": []map[string]string{
			{"role": "system", "content": b.systemPrompt()},
			{"role": "user", "content": userPrompt(text, tctx)},
		},
		"temperature": 0.3,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	endpoint := strings.TrimRight(b.prov.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{"Content-Type": "application/json"}
	if b.prov.APIKey != "" {
		headers["Authorization"] = "Bearer " + b.prov.APIKey
	}
	respBody, err := doRequest(ctx, b.client, b.prov.Name, endpoint, headers, body)
	if err != nil {
		return "", err
	}

	// Chat and legacy completion shapes.
	for _, path := range []string{"choices.0.message.content", "choices.0.text"} {
		if v := gjson.GetBytes(respBody, path); v.Exists() && v.String() != "" {
			return strings.TrimSpace(v.String()), nil
		}
	}
	return "", &BackendError{Backend: b.prov.Name, Err: fmt.Errorf("no translation in response: %s", truncate(string(respBody), 200))}
}

func (b *openAIBackend) systemPrompt() string {
	if b.prompt != "" {
		return b.prompt
	}
	return DefaultSystemPrompt
}

// ---------------------------------------------------------------------------
// Ollama backend
// ---------------------------------------------------------------------------

type ollamaBackend struct {
	prov   Provider
	client *http.Client
	prompt string
}

func (b *ollamaBackend) Name() string { return b.prov.Name }

func (b *ollamaBackend) Translate(ctx context.Context, text string, tctx Context) (string, error) {
	payload := map[string]any{
		"model":  b.prov.Model,
		"system": b.systemPrompt(),
		"prompt": userPrompt(text, tctx),
		"stream": false,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	endpoint := strings.TrimRight(b.prov.BaseURL, "/") + "/api/generate"
	respBody, err := doRequest(ctx, b.client, b.prov.Name, endpoint,
		map[string]string{"Content-Type": "application/json"}, body)
	if err != nil {
		return "", err
	}

	if v := gjson.GetBytes(respBody, "response"); v.Exists() && v.String() != "" {
		return strings.TrimSpace(v.String()), nil
	}
	return "", &BackendError{Backend: b.prov.Name, Err: fmt.Errorf("no translation in response: %s", truncate(string(respBody), 200))}
}

func (b *ollamaBackend) systemPrompt() string {
	if b.prompt != "" {
		return b.prompt
	}
	return DefaultSystemPrompt
}

// ---------------------------------------------------------------------------
// Shared request plumbing
// ---------------------------------------------------------------------------

// doRequest performs one POST and classifies failures. 429 carries the
// server's suggested delay so the orchestrator can pause all workers.
func doRequest(ctx context.Context, client *http.Client, name, endpoint string, headers map[string]string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &BackendError{Backend: name, Temporary: true, Err: err}
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &BackendError{Backend: name, Temporary: true, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return respBody, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &BackendError{
			Backend:    name,
			Status:     resp.StatusCode,
			Temporary:  true,
			RetryAfter: parseRetryAfter(resp, respBody),
			Err:        fmt.Errorf("rate limited"),
		}
	case resp.StatusCode >= 500:
		return nil, &BackendError{
			Backend:   name,
			Status:    resp.StatusCode,
			Temporary: true,
			Err:       fmt.Errorf("%s", truncate(string(respBody), 200)),
		}
	default:
		return nil, &BackendError{
			Backend: name,
			Status:  resp.StatusCode,
			Err:     fmt.Errorf("%s", truncate(string(respBody), 200)),
		}
	}
}

// parseRetryAfter extracts a retry delay from the Retry-After header or a
// retryDelay field in the response body. Defaults to 30s.
func parseRetryAfter(resp *http.Response, body []byte) time.Duration {
	if h := resp.Header.Get("Retry-After"); h != "" {
		if d, err := time.ParseDuration(h + "s"); err == nil && d > 0 {
			return d
		}
	}
	if v := gjson.GetBytes(body, "error.retryDelay"); v.Exists() {
		if d, err := time.ParseDuration(v.String()); err == nil && d > 0 {
			return d
		}
	}
	return 30 * time.Second
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
