package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOllamaGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{
			"model": "llama3.2",
			"message": {"role": "assistant", "content": "hello there"},
			"done": true,
			"done_reason": "stop",
			"prompt_eval_count": 8,
			"eval_count": 3
		}`))
	}))
	defer srv.Close()

	adapter := NewOllamaAdapter(srv.URL)
	result, err := adapter.Generate(context.Background(), "hi", GenerateOptions{Model: "llama3.2", TimeoutSeconds: 10})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if result.Content != "hello there" {
		t.Errorf("content = %q", result.Content)
	}
	if result.Usage.TotalTokens != 11 {
		t.Errorf("total tokens = %d, want 11", result.Usage.TotalTokens)
	}
	if result.FinishReason != "stop" {
		t.Errorf("finish reason = %q", result.FinishReason)
	}
}

func TestOllamaListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models": [{"name": "llama3.2:latest"}, {"name": "qwen2.5:7b"}]}`))
	}))
	defer srv.Close()

	adapter := NewOllamaAdapter(srv.URL)
	models, err := adapter.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels failed: %v", err)
	}
	if len(models) != 2 || models[1].Name != "qwen2.5:7b" {
		t.Errorf("models = %+v", models)
	}
}

func TestOllamaValidateUnreachable(t *testing.T) {
	// Closed server simulates a daemon that is not running.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	adapter := NewOllamaAdapter(srv.URL)
	result := adapter.Validate(context.Background())
	if result.Valid {
		t.Error("unreachable daemon reported valid")
	}
	if result.Error == "" {
		t.Error("expected an error message")
	}
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		raw  string
		want Type
		ok   bool
	}{
		{"ollama", TypeOllama, true},
		{"OLLAMA", TypeOllama, true},
		{" OpenAI ", TypeOpenAI, true},
		{"openrouter", TypeOpenRouter, true},
		{"tinfoil", TypeTinfoil, true},
		{"azure", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := Normalize(tc.raw)
		if got != tc.want || ok != tc.ok {
			t.Errorf("Normalize(%q) = (%v, %v), want (%v, %v)", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}
