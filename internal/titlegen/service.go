// Package titlegen generates short display titles for completed
// responses. Generation is best effort: failures mark the response's
// title status failed and fall back to the model name, they never
// affect the response itself.
package titlegen

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/promptdeck/promptd/internal/credential"
	"github.com/promptdeck/promptd/internal/events"
	"github.com/promptdeck/promptd/internal/logger"
	"github.com/promptdeck/promptd/internal/metrics"
	"github.com/promptdeck/promptd/internal/provider"
	"github.com/promptdeck/promptd/internal/storage"
)

const (
	maxTitleRunes   = 100
	maxInputRunes   = 2000
	titleQueueDepth = 100
	workerPoolSize  = 2

	titleInstruction = "Write a short title (at most ten words) summarizing the following text. " +
		"Respond with the title only, no quotes, no trailing punctuation.\n\n"
)

// Config selects the backend used for title generation, independent of
// the provider handling the main request.
type Config struct {
	Enabled        bool
	ProviderType   string
	Model          string
	BaseURL        string
	TimeoutSeconds int
}

type job struct {
	responseID string
	content    string
}

// Service runs a small worker pool over a buffered job channel.
type Service struct {
	cfg     Config
	storage *storage.Service
	creds   *credential.Service
	bus     *events.Bus
	metrics *metrics.Metrics
	logger  *logger.Logger
	factory func(kind provider.Type, baseURL, cred string) (provider.Adapter, error)

	jobs     chan job
	workers  sync.WaitGroup
	shutdown chan struct{}
	closed   atomic.Bool
}

func NewService(cfg Config, store *storage.Service, creds *credential.Service, bus *events.Bus, m *metrics.Metrics, log *logger.Logger) *Service {
	s := &Service{
		cfg:      cfg,
		storage:  store,
		creds:    creds,
		bus:      bus,
		metrics:  m,
		logger:   log.WithComponent("titlegen"),
		factory:  provider.New,
		jobs:     make(chan job, titleQueueDepth),
		shutdown: make(chan struct{}),
	}
	for i := 0; i < workerPoolSize; i++ {
		s.workers.Add(1)
		go s.worker()
	}
	s.logger.Info("title generation service started",
		slog.Bool("enabled", cfg.Enabled),
		slog.String("provider", cfg.ProviderType),
		slog.String("model", cfg.Model))
	return s
}

// Enabled reports whether title generation is turned on. Callers use
// this to avoid marking responses as awaiting a title that will never
// be generated.
func (s *Service) Enabled() bool {
	return s.cfg.Enabled
}

// Enqueue schedules title generation for a completed response. Drops
// the job with a warning when the channel is full or the service is
// shutting down.
func (s *Service) Enqueue(responseID, content string) {
	if !s.cfg.Enabled || s.closed.Load() {
		return
	}
	select {
	case s.jobs <- job{responseID: responseID, content: content}:
	default:
		s.logger.Warn("title queue full, dropping job", slog.String("response_id", responseID))
		s.markFailed(context.Background(), responseID)
	}
}

// Shutdown stops accepting jobs and drains what is already queued.
func (s *Service) Shutdown() {
	if s.closed.Swap(true) {
		return
	}
	close(s.shutdown)
	s.workers.Wait()
	s.logger.Info("title generation service stopped")
}

func (s *Service) worker() {
	defer s.workers.Done()
	for {
		select {
		case j := <-s.jobs:
			s.handle(j)
		case <-s.shutdown:
			for {
				select {
				case j := <-s.jobs:
					s.handle(j)
				default:
					return
				}
			}
		}
	}
}

func (s *Service) handle(j job) {
	timeout := time.Duration(s.cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	log := s.logger.With("response_id", j.responseID)

	title, err := s.generate(ctx, j.content)
	now := time.Now().UTC()
	model := s.cfg.Model

	// When generation timed out, ctx is already dead; the outcome
	// still has to reach the database.
	persistCtx, persistCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer persistCancel()

	if err != nil {
		log.Warn("title generation failed, using model name", slog.String("error", err.Error()))
		// The model name is a usable label when no title could be made.
		fallback := s.cfg.Model
		if uerr := s.storage.SetTitle(persistCtx, j.responseID, &fallback, storage.TitleFailed, &now, &model); uerr != nil && !errors.Is(uerr, storage.ErrNotFound) {
			log.Error("persist title failure", slog.String("error", uerr.Error()))
		}
		s.publish(j.responseID, storage.TitleFailed, fallback, now)
		if s.metrics != nil {
			s.metrics.ObserveTitle(string(storage.TitleFailed))
		}
		return
	}

	if err := s.storage.SetTitle(persistCtx, j.responseID, &title, storage.TitleCompleted, &now, &model); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Error("persist title", slog.String("error", err.Error()))
		}
		return
	}
	log.Debug("title generated", slog.String("title", title))
	s.publish(j.responseID, storage.TitleCompleted, title, now)
	if s.metrics != nil {
		s.metrics.ObserveTitle(string(storage.TitleCompleted))
	}
}

func (s *Service) generate(ctx context.Context, content string) (string, error) {
	kind, ok := provider.Normalize(s.cfg.ProviderType)
	if !ok {
		return "", provider.NewError(provider.CodeValidation, "unsupported title provider: "+s.cfg.ProviderType)
	}

	baseURL, cred, err := s.resolveBackend(ctx, kind)
	if err != nil {
		return "", err
	}
	adapter, err := s.factory(kind, baseURL, cred)
	if err != nil {
		return "", err
	}

	input := content
	if runes := []rune(input); len(runes) > maxInputRunes {
		input = string(runes[:maxInputRunes])
	}

	res, err := adapter.Generate(ctx, titleInstruction+input, provider.GenerateOptions{
		Model:          s.cfg.Model,
		TimeoutSeconds: s.cfg.TimeoutSeconds,
	})
	if err != nil {
		return "", err
	}

	title := CleanTitle(res.Content)
	if title == "" {
		return "", provider.NewError(provider.CodeUnknown, "empty title returned")
	}
	return title, nil
}

// resolveBackend finds the stored configuration matching the title
// provider so a hosted backend authenticates with its saved credential.
// An unconfigured provider falls through to the bare base URL, which is
// enough for a local daemon.
func (s *Service) resolveBackend(ctx context.Context, kind provider.Type) (string, string, error) {
	baseURL := s.cfg.BaseURL

	cfgs, err := s.storage.Store().ListProviders(ctx)
	if err != nil {
		return baseURL, "", nil
	}
	for i := range cfgs {
		stored := &cfgs[i]
		k, ok := provider.Normalize(stored.ProviderType)
		if !ok || k != kind {
			continue
		}
		if baseURL == "" {
			baseURL = stored.BaseURL
		}
		if stored.HasCredential() {
			plain, derr := s.creds.Decrypt(stored.EncryptedCredential)
			if derr != nil {
				return "", "", provider.WrapError(provider.CodeAuth, "decrypt title credential", derr)
			}
			return baseURL, plain, nil
		}
		break
	}
	return baseURL, "", nil
}

func (s *Service) markFailed(ctx context.Context, responseID string) {
	now := time.Now().UTC()
	model := s.cfg.Model
	fallback := s.cfg.Model
	if err := s.storage.SetTitle(ctx, responseID, &fallback, storage.TitleFailed, &now, &model); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Error("persist dropped title job", slog.String("response_id", responseID), slog.String("error", err.Error()))
	}
}

func (s *Service) publish(responseID string, status storage.TitleStatus, title string, at time.Time) {
	s.bus.Publish(events.TypeTitleStatus, events.TitleStatus{
		ResponseID:  responseID,
		Status:      string(status),
		Title:       title,
		Model:       s.cfg.Model,
		GeneratedAt: &at,
	})
}

// CleanTitle normalizes raw model output into a display title: one
// line, no wrapping quotes, clamped to 100 runes.
func CleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = strings.TrimSpace(title[:i])
	}
	title = strings.Trim(title, `"'`)
	title = strings.TrimSuffix(title, ".")
	title = strings.TrimSpace(title)
	if runes := []rune(title); len(runes) > maxTitleRunes {
		title = strings.TrimSpace(string(runes[:maxTitleRunes]))
	}
	return title
}
