package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func chatCompletionHandler(content string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"model": "gpt-4o-mini",
			"choices": [{"message": {"content": "` + content + `"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17}
		}`))
	}
}

func TestOpenAIGenerate(t *testing.T) {
	srv := httptest.NewServer(chatCompletionHandler("TESTING 123"))
	defer srv.Close()

	adapter := NewOpenAIAdapter(TypeOpenAI, srv.URL, "sk-test")
	result, err := adapter.Generate(context.Background(), "say something", GenerateOptions{Model: "gpt-4o-mini", TimeoutSeconds: 30})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if result.Content != "TESTING 123" {
		t.Errorf("content = %q, want %q", result.Content, "TESTING 123")
	}
	if result.Usage.TotalTokens != 17 || result.Usage.PromptTokens != 12 || result.Usage.CompletionTokens != 5 {
		t.Errorf("usage = %+v, want 12/5/17", result.Usage)
	}
	if result.FinishReason != "stop" {
		t.Errorf("finish reason = %q, want stop", result.FinishReason)
	}
}

func TestOpenAIGenerateStatusClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   Code
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":"bad key"}`, CodeAuth},
		{"forbidden", http.StatusForbidden, `{"error":"forbidden"}`, CodeAuth},
		{"model missing", http.StatusNotFound, `{"error":"no such model"}`, CodeModelNotFound},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"code":"rate_limit_exceeded"}}`, CodeRateLimit},
		{"quota exhausted", http.StatusTooManyRequests, `{"error":{"code":"insufficient_quota"}}`, CodeInsufficientQuota},
		{"bad request", http.StatusBadRequest, `{"error":"invalid temperature"}`, CodeValidation},
		{"server error", http.StatusInternalServerError, `oops`, CodeConnection},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			adapter := NewOpenAIAdapter(TypeOpenAI, srv.URL, "sk-test")
			_, err := adapter.Generate(context.Background(), "hi", GenerateOptions{Model: "m", TimeoutSeconds: 5})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := CodeOf(err); got != tc.want {
				t.Errorf("code = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestOpenAIGenerateTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(5 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	adapter := NewOpenAIAdapter(TypeOpenAI, srv.URL, "sk-test")

	start := time.Now()
	_, err := adapter.Generate(context.Background(), "hi", GenerateOptions{Model: "m", TimeoutSeconds: 1})
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected timeout error")
	}
	if got := CodeOf(err); got != CodeTimeout {
		t.Errorf("code = %v, want %v", got, CodeTimeout)
	}
	if elapsed > 3*time.Second {
		t.Errorf("timed out after %v, want close to 1s", elapsed)
	}
}

func TestOpenAIGenerateCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(5 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	adapter := NewOpenAIAdapter(TypeOpenAI, srv.URL, "sk-test")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := adapter.Generate(ctx, "hi", GenerateOptions{Model: "m", TimeoutSeconds: 30})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if got := CodeOf(err); got != CodeCancelled {
		t.Errorf("code = %v, want %v; cancellation must be distinguishable from timeout", got, CodeCancelled)
	}
}

func TestOpenAIListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"data": [{"id": "gpt-4o"}, {"id": "gpt-4o-mini"}]}`))
	}))
	defer srv.Close()

	adapter := NewOpenAIAdapter(TypeOpenAI, srv.URL, "sk-test")
	models, err := adapter.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels failed: %v", err)
	}
	if len(models) != 2 || models[0].Name != "gpt-4o" {
		t.Errorf("models = %+v", models)
	}
}

func TestOpenAIListModelsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": []}`))
	}))
	defer srv.Close()

	adapter := NewOpenAIAdapter(TypeOpenAI, srv.URL, "sk-test")
	models, err := adapter.ListModels(context.Background())
	if err != nil {
		t.Fatalf("reachable backend with no models must not error: %v", err)
	}
	if len(models) != 0 {
		t.Errorf("models = %+v, want empty", models)
	}
}

func TestOpenAIValidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"data": []}`))
	}))
	defer srv.Close()

	good := NewOpenAIAdapter(TypeOpenAI, srv.URL, "sk-good")
	if result := good.Validate(context.Background()); !result.Valid {
		t.Errorf("valid key rejected: %+v", result)
	}

	bad := NewOpenAIAdapter(TypeOpenAI, srv.URL, "sk-bad")
	if result := bad.Validate(context.Background()); result.Valid {
		t.Error("invalid key accepted")
	}
}
