package titlegen

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/promptdeck/promptd/internal/credential"
	"github.com/promptdeck/promptd/internal/events"
	"github.com/promptdeck/promptd/internal/logger"
	"github.com/promptdeck/promptd/internal/provider"
	"github.com/promptdeck/promptd/internal/storage"
)

type fakeAdapter struct {
	generate func(ctx context.Context, prompt string, opts provider.GenerateOptions) (*provider.GenerateResult, error)
}

func (f *fakeAdapter) Type() provider.Type { return provider.TypeOllama }

func (f *fakeAdapter) Validate(ctx context.Context) provider.ValidationResult {
	return provider.ValidationResult{Valid: true}
}

func (f *fakeAdapter) ListModels(ctx context.Context) ([]provider.ModelInfo, error) {
	return nil, nil
}

func (f *fakeAdapter) Generate(ctx context.Context, prompt string, opts provider.GenerateOptions) (*provider.GenerateResult, error) {
	return f.generate(ctx, prompt, opts)
}

func newTestService(t *testing.T, gen func(ctx context.Context, prompt string, opts provider.GenerateOptions) (*provider.GenerateResult, error)) (*Service, *storage.Service, *events.Bus) {
	t.Helper()
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

	ts := NewService(Config{
		Enabled:        true,
		ProviderType:   "ollama",
		Model:          "llama3.2:1b",
		TimeoutSeconds: 10,
	}, svc, creds, bus, nil, log)
	ts.factory = func(kind provider.Type, baseURL, cred string) (provider.Adapter, error) {
		return &fakeAdapter{generate: gen}, nil
	}
	t.Cleanup(ts.Shutdown)
	return ts, svc, bus
}

func insertCompleted(t *testing.T, svc *storage.Service) *storage.ResponseMetadata {
	t.Helper()
	pending := storage.TitlePending
	meta := &storage.ResponseMetadata{
		PromptID:              "p1",
		ProviderType:          "ollama",
		Model:                 "llama3.2:1b",
		Status:                storage.StatusCompleted,
		TitleGenerationStatus: &pending,
	}
	if err := svc.SaveResponse(context.Background(), meta, "Greeting", "prompt text", "response body"); err != nil {
		t.Fatalf("SaveResponse: %v", err)
	}
	return meta
}

func waitTitleEvent(t *testing.T, ch <-chan events.Event, responseID string) events.TitleStatus {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Type != events.TypeTitleStatus {
				continue
			}
			payload := evt.Payload.(events.TitleStatus)
			if payload.ResponseID == responseID {
				return payload
			}
		case <-deadline:
			t.Fatalf("no title.status for %s", responseID)
		}
	}
}

func TestTitleGenerated(t *testing.T) {
	svcGen := func(ctx context.Context, prompt string, opts provider.GenerateOptions) (*provider.GenerateResult, error) {
		if !strings.Contains(prompt, "response body") {
			t.Errorf("content not included in instruction: %q", prompt)
		}
		return &provider.GenerateResult{Content: "\"Friendly Greeting Draft.\"\nsecond line ignored"}, nil
	}
	ts, svc, bus := newTestService(t, svcGen)

	meta := insertCompleted(t, svc)
	ch, cancel := bus.Subscribe()
	defer cancel()

	ts.Enqueue(meta.ID, "response body")
	evt := waitTitleEvent(t, ch, meta.ID)
	if evt.Status != string(storage.TitleCompleted) {
		t.Fatalf("status = %s", evt.Status)
	}
	if evt.Title != "Friendly Greeting Draft" {
		t.Errorf("title = %q", evt.Title)
	}

	got, err := svc.Store().GetResponseMeta(context.Background(), meta.ID)
	if err != nil {
		t.Fatalf("GetResponseMeta: %v", err)
	}
	if got.GeneratedTitle == nil || *got.GeneratedTitle != "Friendly Greeting Draft" {
		t.Errorf("GeneratedTitle = %v", got.GeneratedTitle)
	}
	if got.TitleGenerationStatus == nil || *got.TitleGenerationStatus != storage.TitleCompleted {
		t.Errorf("TitleGenerationStatus = %v", got.TitleGenerationStatus)
	}
	if got.TitleGeneratedAt == nil || got.TitleModel == nil || *got.TitleModel != "llama3.2:1b" {
		t.Errorf("title stamps: at=%v model=%v", got.TitleGeneratedAt, got.TitleModel)
	}

	// The content file's front-matter mirrors the title fields.
	fm, err := svc.Files().ReadFrontMatter(got.FilePath)
	if err != nil {
		t.Fatalf("ReadFrontMatter: %v", err)
	}
	if fm.GeneratedTitle == nil || *fm.GeneratedTitle != "Friendly Greeting Draft" {
		t.Errorf("file title = %v", fm.GeneratedTitle)
	}
	if fm.TitleGenerationStatus == nil || *fm.TitleGenerationStatus != string(storage.TitleCompleted) {
		t.Errorf("file title status = %v", fm.TitleGenerationStatus)
	}
	content, err := svc.Files().ReadContent(got.FilePath)
	if err != nil || content != "response body" {
		t.Errorf("body after title rewrite = %q, err = %v", content, err)
	}
}

func TestTitleTimeoutStillPersistsFallback(t *testing.T) {
	ts, svc, bus := newTestService(t, func(ctx context.Context, prompt string, opts provider.GenerateOptions) (*provider.GenerateResult, error) {
		<-ctx.Done()
		return nil, provider.WrapError(provider.CodeTimeout, "generate title", ctx.Err())
	})
	ts.cfg.TimeoutSeconds = 1

	meta := insertCompleted(t, svc)
	ch, cancel := bus.Subscribe()
	defer cancel()

	ts.Enqueue(meta.ID, "response body")
	evt := waitTitleEvent(t, ch, meta.ID)
	if evt.Status != string(storage.TitleFailed) {
		t.Fatalf("status = %s", evt.Status)
	}

	got, err := svc.Store().GetResponseMeta(context.Background(), meta.ID)
	if err != nil {
		t.Fatalf("GetResponseMeta: %v", err)
	}
	if got.TitleGenerationStatus == nil || *got.TitleGenerationStatus != storage.TitleFailed {
		t.Errorf("TitleGenerationStatus = %v, want failed after timeout", got.TitleGenerationStatus)
	}
	if got.GeneratedTitle == nil || *got.GeneratedTitle != "llama3.2:1b" {
		t.Errorf("fallback title = %v", got.GeneratedTitle)
	}
}

func TestTitleUsesStoredCredential(t *testing.T) {
	gen := func(ctx context.Context, prompt string, opts provider.GenerateOptions) (*provider.GenerateResult, error) {
		return &provider.GenerateResult{Content: "Short Title"}, nil
	}
	ts, svc, bus := newTestService(t, gen)
	ts.cfg.ProviderType = "openai"
	ts.cfg.Model = "gpt-4o-mini"

	gotCred := make(chan string, 1)
	ts.factory = func(kind provider.Type, baseURL, cred string) (provider.Adapter, error) {
		gotCred <- cred
		return &fakeAdapter{generate: gen}, nil
	}

	enc, err := ts.creds.Encrypt("sk-proj-title-credential")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	cfg := &storage.ProviderConfig{
		ProviderType:        "openai",
		DisplayName:         "OpenAI",
		ModelName:           "gpt-4o-mini",
		TimeoutSeconds:      60,
		EncryptedCredential: enc,
	}
	if err := svc.Store().SaveProvider(context.Background(), cfg); err != nil {
		t.Fatalf("SaveProvider: %v", err)
	}

	meta := insertCompleted(t, svc)
	ch, cancel := bus.Subscribe()
	defer cancel()

	ts.Enqueue(meta.ID, "response body")
	evt := waitTitleEvent(t, ch, meta.ID)
	if evt.Status != string(storage.TitleCompleted) {
		t.Fatalf("status = %s", evt.Status)
	}
	if cred := <-gotCred; cred != "sk-proj-title-credential" {
		t.Errorf("adapter credential = %q", cred)
	}
}

func TestTitleFailureFallsBackToModelName(t *testing.T) {
	ts, svc, bus := newTestService(t, func(ctx context.Context, prompt string, opts provider.GenerateOptions) (*provider.GenerateResult, error) {
		return nil, provider.NewError(provider.CodeConnection, "daemon unreachable")
	})

	meta := insertCompleted(t, svc)
	ch, cancel := bus.Subscribe()
	defer cancel()

	ts.Enqueue(meta.ID, "response body")
	evt := waitTitleEvent(t, ch, meta.ID)
	if evt.Status != string(storage.TitleFailed) {
		t.Fatalf("status = %s", evt.Status)
	}

	got, err := svc.Store().GetResponseMeta(context.Background(), meta.ID)
	if err != nil {
		t.Fatalf("GetResponseMeta: %v", err)
	}
	if got.TitleGenerationStatus == nil || *got.TitleGenerationStatus != storage.TitleFailed {
		t.Errorf("TitleGenerationStatus = %v", got.TitleGenerationStatus)
	}
	if got.GeneratedTitle == nil || *got.GeneratedTitle != "llama3.2:1b" {
		t.Errorf("fallback title = %v", got.GeneratedTitle)
	}
	if got.Status != storage.StatusCompleted {
		t.Errorf("response status disturbed: %s", got.Status)
	}
}

func TestEnqueueDisabledIsNoOp(t *testing.T) {
	called := false
	ts, svc, _ := newTestService(t, func(ctx context.Context, prompt string, opts provider.GenerateOptions) (*provider.GenerateResult, error) {
		called = true
		return &provider.GenerateResult{Content: "t"}, nil
	})
	ts.cfg.Enabled = false

	meta := insertCompleted(t, svc)
	ts.Enqueue(meta.ID, "body")
	time.Sleep(50 * time.Millisecond)
	if called {
		t.Error("disabled service still generated a title")
	}
}

func TestCleanTitle(t *testing.T) {
	long := strings.Repeat("x", 150)
	cases := []struct {
		in, want string
	}{
		{"  Plain Title  ", "Plain Title"},
		{"\"Quoted Title\"", "Quoted Title"},
		{"'Single Quoted.'", "Single Quoted"},
		{"First line\nSecond line", "First line"},
		{long, strings.Repeat("x", 100)},
		{"", ""},
	}
	for _, tc := range cases {
		if got := CleanTitle(tc.in); got != tc.want {
			t.Errorf("CleanTitle(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
