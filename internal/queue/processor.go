package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/promptdeck/promptd/internal/credential"
	"github.com/promptdeck/promptd/internal/events"
	"github.com/promptdeck/promptd/internal/logger"
	"github.com/promptdeck/promptd/internal/metrics"
	"github.com/promptdeck/promptd/internal/provider"
	"github.com/promptdeck/promptd/internal/storage"
)

// AdapterFactory builds an adapter for a provider configuration. It is
// injectable so tests can substitute a fake backend.
type AdapterFactory func(kind provider.Type, baseURL, cred string) (provider.Adapter, error)

// TitleRequester receives completed responses for best-effort title
// generation. Enabled gates the pending mark so responses are never
// left waiting for a title that will not be generated.
type TitleRequester interface {
	Enabled() bool
	Enqueue(responseID, content string)
}

// Status is a point-in-time view of the processor.
type Status struct {
	QueueSize        int        `json:"queueSize"`
	CurrentRequestID string     `json:"currentRequestId,omitempty"`
	Queued           []*Request `json:"queued"`
}

// Processor drains the queue one request at a time. Single-flight:
// exactly one provider call is ever in flight, so a local daemon is
// never hit concurrently.
type Processor struct {
	queue   *Queue
	storage *storage.Service
	creds   *credential.Service
	bus     *events.Bus
	titles  TitleRequester
	metrics *metrics.Metrics
	logger  *logger.Logger
	factory AdapterFactory

	defaultTimeoutSeconds int

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	current       *Request
	currentCancel context.CancelFunc
}

type ProcessorConfig struct {
	Storage               *storage.Service
	Credentials           *credential.Service
	Bus                   *events.Bus
	Titles                TitleRequester
	Metrics               *metrics.Metrics
	Logger                *logger.Logger
	Factory               AdapterFactory
	DefaultTimeoutSeconds int
}

func NewProcessor(cfg ProcessorConfig) *Processor {
	factory := cfg.Factory
	if factory == nil {
		factory = provider.New
	}
	timeout := cfg.DefaultTimeoutSeconds
	if timeout <= 0 {
		timeout = 120
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Processor{
		queue:                 New(),
		storage:               cfg.Storage,
		creds:                 cfg.Credentials,
		bus:                   cfg.Bus,
		titles:                cfg.Titles,
		metrics:               cfg.Metrics,
		logger:                cfg.Logger.WithComponent("queue_processor"),
		factory:               factory,
		defaultTimeoutSeconds: timeout,
		wake:                  make(chan struct{}, 1),
		ctx:                   ctx,
		cancel:                cancel,
	}
}

// Start launches the drain loop.
func (p *Processor) Start() {
	p.wg.Add(1)
	go p.run()
}

// Stop cancels the in-flight request, drains nothing further, and
// marks everything still queued as cancelled.
func (p *Processor) Stop() {
	p.cancel()
	p.wg.Wait()

	removed := p.queue.Clear()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, req := range removed {
		p.finishCancelledQueued(ctx, req)
	}
	p.setQueueDepth()
}

// Submit validates that a provider is active, records a pending row,
// and enqueues the request. Fails fast with
// storage.ErrNoActiveProvider when nothing is active.
func (p *Processor) Submit(ctx context.Context, req *Request) error {
	active, err := p.storage.Store().GetActiveProvider(ctx)
	if err != nil {
		return err
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.EnqueuedAt = time.Now().UTC()

	meta := &storage.ResponseMetadata{
		ID:           req.ID,
		PromptID:     req.PromptID,
		ProviderType: active.ProviderType,
		Model:        p.resolveModel(req, active),
		Parameters:   req.Parameters,
		CreatedAt:    req.EnqueuedAt,
	}
	if err := p.storage.CreatePending(ctx, meta); err != nil {
		return fmt.Errorf("record pending request: %w", err)
	}

	p.queue.Enqueue(req)
	size := p.queue.Size()
	p.setQueueDepth()
	p.bus.Publish(events.TypeQueueUpdated, events.QueueUpdated{QueueSize: size, AddedRequestID: req.ID})
	p.bus.Publish(events.TypeRequestProgress, events.RequestProgress{RequestID: req.ID, Status: string(storage.StatusPending)})

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

// Cancel aborts a request. Cancelling while still queued removes the
// request and its pending row, leaving no trace in history; the
// in-flight request has its context cancelled and is persisted as
// cancelled by the drain loop.
func (p *Processor) Cancel(id string) error {
	if req := p.queue.Remove(id); req != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p.discardQueued(ctx, req)
		p.setQueueDepth()
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil && p.current.ID == id {
		p.currentCancel()
		return nil
	}
	return storage.ErrNotFound
}

// CancelAll aborts everything and reports how many requests were
// affected.
func (p *Processor) CancelAll() int {
	removed := p.queue.Clear()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, req := range removed {
		p.discardQueued(ctx, req)
	}
	p.setQueueDepth()

	count := len(removed)
	p.mu.Lock()
	if p.current != nil {
		p.currentCancel()
		count++
	}
	p.mu.Unlock()
	return count
}

// Status reports queue size, the in-flight request, and the queued
// snapshot in arrival order.
func (p *Processor) Status() Status {
	st := Status{
		QueueSize: p.queue.Size(),
		Queued:    p.queue.Snapshot(),
	}
	p.mu.Lock()
	if p.current != nil {
		st.CurrentRequestID = p.current.ID
	}
	p.mu.Unlock()
	return st
}

func (p *Processor) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.wake:
		}
		for {
			req := p.queue.Dequeue()
			if req == nil {
				break
			}
			p.setQueueDepth()
			p.process(req)
			if p.ctx.Err() != nil {
				return
			}
		}
	}
}

func (p *Processor) process(req *Request) {
	reqCtx, cancel := context.WithCancel(p.ctx)
	p.mu.Lock()
	p.current = req
	p.currentCancel = cancel
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.current = nil
		p.currentCancel = nil
		p.mu.Unlock()
		cancel()
	}()

	log := p.logger.With("request_id", req.ID, "prompt_id", req.PromptID)
	log.Info("processing request", "queue_size", p.queue.Size())

	// Persistence must survive shutdown, so it never uses reqCtx.
	persistCtx, persistCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer persistCancel()

	if err := p.storage.MarkProcessing(persistCtx, req.ID); err != nil {
		log.Warn("mark processing failed", "error", err)
	}
	p.bus.Publish(events.TypeRequestProgress, events.RequestProgress{RequestID: req.ID, Status: string(storage.StatusProcessing)})

	start := time.Now()
	result, provErr := p.generate(reqCtx, req)
	elapsed := time.Since(start)
	elapsedMs := elapsed.Milliseconds()

	meta := &storage.ResponseMetadata{
		ID:             req.ID,
		PromptID:       req.PromptID,
		Parameters:     req.Parameters,
		CreatedAt:      req.EnqueuedAt,
		ResponseTimeMs: &elapsedMs,
	}
	content := ""

	switch {
	case provErr == nil:
		meta.Status = storage.StatusCompleted
		meta.ProviderType = string(result.providerType)
		meta.Model = result.res.Model
		if meta.Model == "" {
			meta.Model = result.opts.Model
		}
		content = result.res.Content
		if u := result.res.Usage; u.TotalTokens > 0 || u.PromptTokens > 0 || u.CompletionTokens > 0 {
			pt, ct, tt := u.PromptTokens, u.CompletionTokens, u.TotalTokens
			meta.PromptTokens, meta.CompletionTokens, meta.TotalTokens = &pt, &ct, &tt
		}
		if p.titles != nil && p.titles.Enabled() {
			ts := storage.TitlePending
			meta.TitleGenerationStatus = &ts
		}
	case provider.CodeOf(provErr) == provider.CodeCancelled:
		meta.Status = storage.StatusCancelled
		meta.ProviderType = string(result.providerType)
		meta.Model = result.opts.Model
		meta.ResponseTimeMs = nil
	default:
		meta.Status = storage.StatusFailed
		meta.ProviderType = string(result.providerType)
		meta.Model = result.opts.Model
		code := string(provider.CodeOf(provErr))
		msg := provErr.Error()
		meta.ErrorCode = &code
		meta.ErrorMessage = &msg
	}

	if err := p.storage.SaveResponse(persistCtx, meta, req.PromptName, req.PromptText, content); err != nil {
		log.Error("persist response failed", "error", err, "status", meta.Status)
	}

	progress := events.RequestProgress{
		RequestID: req.ID,
		Status:    string(meta.Status),
		ElapsedMs: elapsedMs,
	}
	if meta.PromptTokens != nil || meta.CompletionTokens != nil || meta.TotalTokens != nil {
		usage := &events.TokenUsage{}
		if meta.PromptTokens != nil {
			usage.Prompt = *meta.PromptTokens
		}
		if meta.CompletionTokens != nil {
			usage.Completion = *meta.CompletionTokens
		}
		if meta.TotalTokens != nil {
			usage.Total = *meta.TotalTokens
		}
		progress.TokenUsage = usage
	}
	p.bus.Publish(events.TypeRequestProgress, progress)

	evt := events.ResponseComplete{
		RequestID:  req.ID,
		ResponseID: meta.ID,
		PromptID:   req.PromptID,
		Status:     string(meta.Status),
	}
	if meta.ErrorMessage != nil {
		evt.Error = *meta.ErrorMessage
	}
	p.bus.Publish(events.TypeResponseComplete, evt)

	if p.metrics != nil {
		p.metrics.ObserveRequest(string(meta.Status), meta.ProviderType, elapsed.Seconds())
	}

	switch meta.Status {
	case storage.StatusCompleted:
		log.Info("request completed", "elapsed_ms", elapsedMs, "model", meta.Model)
		if p.titles != nil && p.titles.Enabled() {
			p.titles.Enqueue(meta.ID, content)
		}
	case storage.StatusCancelled:
		log.Info("request cancelled", "elapsed_ms", elapsedMs)
	default:
		log.Warn("request failed", "elapsed_ms", elapsedMs, "error_code", *meta.ErrorCode)
	}
}

type generateOutcome struct {
	res          *provider.GenerateResult
	opts         provider.GenerateOptions
	providerType provider.Type
}

func (p *Processor) generate(ctx context.Context, req *Request) (generateOutcome, error) {
	out := generateOutcome{}

	active, err := p.storage.Store().GetActiveProvider(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNoActiveProvider) {
			return out, provider.NewError(provider.CodeValidation, "no active provider configured")
		}
		return out, provider.WrapError(provider.CodeUnknown, "load active provider", err)
	}

	kind, ok := provider.Normalize(active.ProviderType)
	if !ok {
		return out, provider.NewError(provider.CodeValidation, "unsupported provider type: "+active.ProviderType)
	}
	out.providerType = kind

	cred := ""
	if active.HasCredential() {
		plain, err := p.creds.Decrypt(active.EncryptedCredential)
		if err != nil {
			return out, provider.WrapError(provider.CodeAuth, "decrypt credential", err)
		}
		cred = plain
	}

	adapter, err := p.factory(kind, active.BaseURL, cred)
	if err != nil {
		return out, err
	}

	out.opts = provider.GenerateOptions{
		Model:          p.resolveModel(req, active),
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
		TopP:           req.TopP,
		TimeoutSeconds: p.resolveTimeout(req, active),
	}
	if out.opts.Model == "" {
		return out, provider.NewError(provider.CodeValidation, "no model configured for provider "+string(kind))
	}

	res, err := adapter.Generate(ctx, req.PromptText, out.opts)
	if err != nil {
		return out, err
	}
	out.res = res
	return out, nil
}

func (p *Processor) resolveModel(req *Request, cfg *storage.ProviderConfig) string {
	if req.Model != "" {
		return req.Model
	}
	return cfg.ModelName
}

func (p *Processor) resolveTimeout(req *Request, cfg *storage.ProviderConfig) int {
	if req.TimeoutSeconds > 0 {
		return req.TimeoutSeconds
	}
	if cfg.TimeoutSeconds > 0 {
		return cfg.TimeoutSeconds
	}
	return p.defaultTimeoutSeconds
}

// discardQueued handles user cancellation of a request that never
// started: the pending row is deleted rather than marked, so cancelled
// queue entries do not surface in history.
func (p *Processor) discardQueued(ctx context.Context, req *Request) {
	if err := p.storage.Store().DeleteResponseMeta(ctx, req.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		p.logger.Warn("discard queued request failed", "request_id", req.ID, "error", err)
	}
	p.bus.Publish(events.TypeQueueUpdated, events.QueueUpdated{QueueSize: p.queue.Size(), RemovedRequestID: req.ID})
	p.bus.Publish(events.TypeResponseComplete, events.ResponseComplete{
		RequestID:  req.ID,
		ResponseID: req.ID,
		PromptID:   req.PromptID,
		Status:     string(storage.StatusCancelled),
	})
}

// finishCancelledQueued marks a queued row cancelled during shutdown,
// when nothing was explicitly cancelled but the row must not be left
// dangling.
func (p *Processor) finishCancelledQueued(ctx context.Context, req *Request) {
	if err := p.storage.Store().SetResponseStatus(ctx, req.ID, storage.StatusCancelled); err != nil {
		p.logger.Warn("mark queued request cancelled failed", "request_id", req.ID, "error", err)
	}
	p.bus.Publish(events.TypeQueueUpdated, events.QueueUpdated{QueueSize: p.queue.Size(), RemovedRequestID: req.ID})
}

func (p *Processor) setQueueDepth() {
	if p.metrics != nil {
		p.metrics.QueueDepth.Set(float64(p.queue.Size()))
	}
}
