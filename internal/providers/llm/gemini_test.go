package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGeminiSyntheticFallback(t *testing.T) {
	g := NewGemini(GeminiOptions{})

	req := CompletionRequest{System: "sys", Prompt: "write a plan", JSONOutput: true}
	first, err := g.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	second, err := g.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if first.Content != second.Content {
		t.Fatal("synthetic completions must be deterministic for the same input")
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(first.Content), &body); err != nil {
		t.Fatalf("synthetic completion is not JSON: %v", err)
	}

	other, _ := g.Complete(context.Background(), CompletionRequest{Prompt: "different"})
	if other.Content == first.Content {
		t.Fatal("different prompts must produce different synthetic completions")
	}
}

func TestGeminiRemoteCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("missing api key, query = %s", r.URL.RawQuery)
		}
		var req geminiGenerateContentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(geminiGenerateContentResponse{
			Candidates: []geminiCandidate{{Content: geminiContent{
				Parts: []geminiPart{{Text: `{"title":"remote"}`}},
			}}},
			UsageMetadata: &geminiUsage{TotalTokenCount: 42},
		})
	}))
	defer srv.Close()

	g := NewGemini(GeminiOptions{APIKey: "test-key", BaseURL: srv.URL, Model: "gemini-test"})
	resp, err := g.Complete(context.Background(), CompletionRequest{Prompt: "hello"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Content != `{"title":"remote"}` {
		t.Fatalf("Content = %q", resp.Content)
	}
	if resp.TokensUsed != 42 {
		t.Fatalf("TokensUsed = %d, want 42", resp.TokensUsed)
	}
}

func TestGeminiErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusBadRequest, false},
		{http.StatusNotFound, false},
	}
	for _, tc := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"code": tc.status, "message": "api error"},
			})
		}))

		g := NewGemini(GeminiOptions{APIKey: "k", BaseURL: srv.URL})
		_, err := g.Complete(context.Background(), CompletionRequest{Prompt: "x"})
		srv.Close()

		var provErr *ProviderError
		if !errors.As(err, &provErr) {
			t.Fatalf("status %d: error = %v, want ProviderError", tc.status, err)
		}
		if provErr.Transient != tc.transient {
			t.Fatalf("status %d: Transient = %v, want %v", tc.status, provErr.Transient, tc.transient)
		}
		if provErr.Status != tc.status {
			t.Fatalf("Status = %d, want %d", provErr.Status, tc.status)
		}
	}
}

func TestGeminiTransportErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	g := NewGemini(GeminiOptions{APIKey: "k", BaseURL: srv.URL})
	_, err := g.Complete(context.Background(), CompletionRequest{Prompt: "x"})

	var provErr *ProviderError
	if !errors.As(err, &provErr) || !provErr.Transient {
		t.Fatalf("error = %v, want transient ProviderError", err)
	}
}
