package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func completionBody(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "gpt-4o-mini",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	}
}

func TestOpenAIProviderGenerate(t *testing.T) {
	var received struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completionBody("  hello there  "))
	}))
	defer server.Close()

	provider := NewOpenAIProvider(OpenAIConfig{APIKey: "secret", Model: "gpt-4o-mini", BaseURL: server.URL + "/v1/"})
	out, err := provider.Generate(context.Background(), []Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "earlier"},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "hello there" {
		t.Fatalf("unexpected output %q", out)
	}
	if received.Model != "gpt-4o-mini" || len(received.Messages) != 3 {
		t.Fatalf("unexpected request %+v", received)
	}
	if received.Messages[0].Role != "system" || received.Messages[2].Role != "assistant" {
		t.Fatalf("unexpected roles %+v", received.Messages)
	}
}

func TestOpenAIProviderStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad model","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	provider := NewOpenAIProvider(OpenAIConfig{Name: "openrouter", APIKey: "secret", Model: "nope", BaseURL: server.URL})
	_, err := provider.Generate(context.Background(), []Message{{Role: "user", Content: "hi"}})
	var modelErr *ModelError
	if !errors.As(err, &modelErr) {
		t.Fatalf("expected ModelError, got %v", err)
	}
	if modelErr.Provider != "openrouter" || modelErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected model error %+v", modelErr)
	}
}

func TestOpenAIProviderEmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completionBody("   "))
	}))
	defer server.Close()

	provider := NewOpenAIProvider(OpenAIConfig{APIKey: "secret", Model: "m", BaseURL: server.URL})
	_, err := provider.Generate(context.Background(), []Message{{Role: "user", Content: "hi"}})
	var modelErr *ModelError
	if !errors.As(err, &modelErr) {
		t.Fatalf("expected ModelError, got %v", err)
	}
}

func TestOpenAIProviderRequiresKeyAndModel(t *testing.T) {
	_, err := NewOpenAIProvider(OpenAIConfig{Model: "m"}).Generate(context.Background(), nil)
	var modelErr *ModelError
	if !errors.As(err, &modelErr) {
		t.Fatalf("expected ModelError for missing key, got %v", err)
	}
	if modelErr.Provider != "openai" {
		t.Fatalf("expected openai provider, got %q", modelErr.Provider)
	}

	_, err = NewOpenAIProvider(OpenAIConfig{Name: "openrouter", APIKey: "k"}).Generate(context.Background(), nil)
	if !errors.As(err, &modelErr) {
		t.Fatalf("expected ModelError for missing model, got %v", err)
	}
	if modelErr.Provider != "openrouter" {
		t.Fatalf("expected openrouter provider, got %q", modelErr.Provider)
	}
}
