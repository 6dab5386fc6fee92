package translate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestOpenAIBackend_ExtractsChatContent(t *testing.T) {
	var gotAuth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  你好，[name]！  "}}]}`))
	}))
	defer srv.Close()

	b, err := NewBackend(Provider{ID: ProviderOpenAI, Name: "test", BaseURL: srv.URL, Model: "m", APIKey: "sk-test"}, srv.Client(), "")
	if err != nil {
		t.Fatal(err)
	}
	got, err := b.Translate(context.Background(), "Hello, [name]!", Context{})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got != "你好，[name]！" {
		t.Errorf("got %q", got)
	}
	if gotAuth.Load() != "Bearer sk-test" {
		t.Errorf("auth header = %q", gotAuth.Load())
	}
}

func TestOllamaBackend_ExtractsResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"model":"m","response":"你好","done":true}`))
	}))
	defer srv.Close()

	b, err := NewBackend(Provider{ID: ProviderOllama, Name: "local", BaseURL: srv.URL, Model: "m"}, srv.Client(), "")
	if err != nil {
		t.Fatal(err)
	}
	got, err := b.Translate(context.Background(), "Hello", Context{})
	if err != nil || got != "你好" {
		t.Errorf("got %q, %v", got, err)
	}
}

func TestDoRequest_ClassifiesStatuses(t *testing.T) {
	cases := []struct {
		status    int
		temporary bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusUnauthorized, false},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
		}))
		_, err := doRequest(context.Background(), srv.Client(), "test", srv.URL, nil, []byte("{}"))
		srv.Close()
		var be *BackendError
		if !errors.As(err, &be) {
			t.Fatalf("status %d: err = %v", tc.status, err)
		}
		if be.Temporary != tc.temporary {
			t.Errorf("status %d: temporary = %v, want %v", tc.status, be.Temporary, tc.temporary)
		}
		if tc.status == http.StatusTooManyRequests && be.RetryAfter <= 0 {
			t.Error("429 without retry delay")
		}
	}
}

func TestNewBackend_UnknownProvider(t *testing.T) {
	if _, err := NewBackend(Provider{ID: "telepathy"}, nil, ""); err == nil {
		t.Error("unknown provider accepted")
	}
}
