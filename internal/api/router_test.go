package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/promptdeck/promptd/internal/credential"
	"github.com/promptdeck/promptd/internal/events"
	"github.com/promptdeck/promptd/internal/logger"
	"github.com/promptdeck/promptd/internal/provider"
	"github.com/promptdeck/promptd/internal/queue"
	"github.com/promptdeck/promptd/internal/storage"
)

type fakeAdapter struct{}

func (fakeAdapter) Type() provider.Type { return provider.TypeOllama }

func (fakeAdapter) Validate(ctx context.Context) provider.ValidationResult {
	return provider.ValidationResult{Valid: true, Message: "connected"}
}

func (fakeAdapter) ListModels(ctx context.Context) ([]provider.ModelInfo, error) {
	return []provider.ModelInfo{{Name: "llama3.2:1b", Provider: provider.TypeOllama}}, nil
}

func (fakeAdapter) Generate(ctx context.Context, prompt string, opts provider.GenerateOptions) (*provider.GenerateResult, error) {
	return &provider.GenerateResult{Content: "generated: " + prompt, Model: opts.Model}, nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *storage.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.New(logger.Config{Level: slog.LevelError, Format: "text"})

	db, err := storage.Open(filepath.Join(t.TempDir(), "promptd.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store := storage.NewStore(db, log)
	files, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	svc := storage.NewService(store, files, log)
	creds := credential.NewService(filepath.Join(t.TempDir(), "master.key"), log)
	bus := events.NewBus(16, log)
	hub := events.NewHub(bus, log)
	hub.Start()
	t.Cleanup(hub.Stop)

	proc := queue.NewProcessor(queue.ProcessorConfig{
		Storage:     svc,
		Credentials: creds,
		Bus:         bus,
		Logger:      log,
		Factory: func(kind provider.Type, baseURL, cred string) (provider.Adapter, error) {
			return fakeAdapter{}, nil
		},
		DefaultTimeoutSeconds: 120,
	})
	proc.Start()
	t.Cleanup(proc.Stop)

	router := NewRouter(Deps{
		Storage:     svc,
		Credentials: creds,
		Processor:   proc,
		Bus:         bus,
		Hub:         hub,
		Logger:      log,
		AdapterFactory: func(kind provider.Type, baseURL, cred string) (provider.Adapter, error) {
			return fakeAdapter{}, nil
		},
	})
	return router, svc
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestSaveProviderValidation(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/providers", map[string]any{
		"providerType": "unknown-kind",
		"displayName":  "X",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown type: status = %d", w.Code)
	}

	badKey := "not-a-key"
	w = doJSON(t, router, http.MethodPost, "/api/providers", map[string]any{
		"providerType": "openai",
		"displayName":  "OpenAI",
		"credential":   badKey,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad credential shape: status = %d", w.Code)
	}

	w = doJSON(t, router, http.MethodPost, "/api/providers", map[string]any{
		"providerType":   "ollama",
		"displayName":    "Ollama",
		"timeoutSeconds": 5000,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("out-of-range timeout: status = %d", w.Code)
	}
}

func TestProviderLifecycle(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/providers", map[string]any{
		"providerType": "ollama",
		"displayName":  "Local Ollama",
		"modelName":    "llama3.2:1b",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("save: status = %d body = %s", w.Code, w.Body.String())
	}
	saved := decode(t, w)
	id := saved["id"].(string)

	// Saving a second config with the same type conflicts.
	w = doJSON(t, router, http.MethodPost, "/api/providers", map[string]any{
		"providerType": "ollama",
		"displayName":  "Another",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate type: status = %d", w.Code)
	}

	w = doJSON(t, router, http.MethodPost, "/api/providers/"+id+"/activate", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("activate: status = %d", w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/api/providers", nil)
	list := decode(t, w)["providers"].([]any)
	if len(list) != 1 {
		t.Fatalf("providers = %d, want 1", len(list))
	}
	if active := list[0].(map[string]any)["isActive"].(bool); !active {
		t.Error("provider not marked active")
	}

	w = doJSON(t, router, http.MethodDelete, "/api/providers/"+id, nil)
	if w.Code != http.StatusOK {
		t.Errorf("delete: status = %d", w.Code)
	}
	w = doJSON(t, router, http.MethodDelete, "/api/providers/"+id, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("double delete: status = %d", w.Code)
	}
}

func TestCallRequiresActiveProvider(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/llm/call", map[string]any{
		"promptId":      "p1",
		"promptName":    "Greeting",
		"promptContent": "hello",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	out := decode(t, w)
	if out["code"] != "no_active_provider" {
		t.Errorf("code = %v", out["code"])
	}
}

func TestCallFlow(t *testing.T) {
	router, svc := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/providers", map[string]any{
		"providerType": "ollama",
		"displayName":  "Local Ollama",
		"modelName":    "llama3.2:1b",
	})
	id := decode(t, w)["id"].(string)
	if w := doJSON(t, router, http.MethodPost, "/api/providers/"+id+"/activate", nil); w.Code != http.StatusOK {
		t.Fatalf("activate: %d", w.Code)
	}

	w = doJSON(t, router, http.MethodPost, "/api/llm/call", map[string]any{
		"promptId":      "p1",
		"promptName":    "Greeting",
		"promptContent": "Say hello to {{name}}",
		"parameters":    map[string]string{"name": "Ada"},
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("call: status = %d body = %s", w.Code, w.Body.String())
	}
	requestID := decode(t, w)["requestId"].(string)

	// Wait for the single-flight processor to finish the request.
	deadline := time.Now().Add(5 * time.Second)
	var content string
	for time.Now().Before(deadline) {
		meta, body, err := svc.GetResponse(context.Background(), requestID)
		if err == nil && meta.Status == storage.StatusCompleted {
			content = body
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if content != "generated: Say hello to Ada" {
		t.Fatalf("content = %q", content)
	}

	w = doJSON(t, router, http.MethodGet, "/api/llm/history/p1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history: %d", w.Code)
	}
	responses := decode(t, w)["responses"].([]any)
	if len(responses) != 1 {
		t.Fatalf("history length = %d", len(responses))
	}

	w = doJSON(t, router, http.MethodGet, "/api/llm/responses/"+requestID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get response: %d", w.Code)
	}

	w = doJSON(t, router, http.MethodDelete, "/api/llm/responses/"+requestID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete response: %d", w.Code)
	}
	w = doJSON(t, router, http.MethodGet, "/api/llm/responses/"+requestID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("deleted response still readable: %d", w.Code)
	}
}

func TestValidateProviderStampsTimestamp(t *testing.T) {
	router, svc := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/providers", map[string]any{
		"providerType": "ollama",
		"displayName":  "Local Ollama",
	})
	id := decode(t, w)["id"].(string)

	w = doJSON(t, router, http.MethodPost, "/api/providers/"+id+"/validate", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("validate: %d", w.Code)
	}
	out := decode(t, w)
	if valid, _ := out["valid"].(bool); !valid {
		t.Fatalf("validation result = %v", out)
	}

	cfg, err := svc.Store().GetProvider(context.Background(), id)
	if err != nil {
		t.Fatalf("GetProvider: %v", err)
	}
	if cfg.LastValidatedAt == nil {
		t.Error("LastValidatedAt not stamped after successful validation")
	}
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t)
	w := doJSON(t, router, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Errorf("healthz = %d", w.Code)
	}
}
