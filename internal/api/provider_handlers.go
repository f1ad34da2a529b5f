package api

import (
	std_errors "errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/promptdeck/promptd/internal/credential"
	"github.com/promptdeck/promptd/internal/errors"
	"github.com/promptdeck/promptd/internal/events"
	"github.com/promptdeck/promptd/internal/logger"
	"github.com/promptdeck/promptd/internal/provider"
	"github.com/promptdeck/promptd/internal/queue"
	"github.com/promptdeck/promptd/internal/storage"
)

type handler struct {
	storage     *storage.Service
	creds       *credential.Service
	processor   *queue.Processor
	bus         *events.Bus
	hub         *events.Hub
	logger      *logger.Logger
	adapterFor  func(kind provider.Type, baseURL, cred string) (provider.Adapter, error)
	timeoutMin  int
	timeoutMax  int
}

func newHandler(deps Deps) *handler {
	min, max := deps.RequestTimeoutMin, deps.RequestTimeoutMax
	if min <= 0 {
		min = 1
	}
	if max <= 0 {
		max = 999
	}
	adapterFor := queue.AdapterFactory(provider.New)
	if deps.AdapterFactory != nil {
		adapterFor = deps.AdapterFactory
	}
	return &handler{
		storage:    deps.Storage,
		creds:      deps.Credentials,
		processor:  deps.Processor,
		bus:        deps.Bus,
		hub:        deps.Hub,
		logger:     deps.Logger.WithComponent("api"),
		adapterFor: adapterFor,
		timeoutMin: min,
		timeoutMax: max,
	}
}

// SaveProviderRequest is the body for creating or updating a provider
// configuration. A plaintext credential is accepted here, encrypted
// immediately, and never stored or logged in the clear.
type SaveProviderRequest struct {
	ID             string  `json:"id"`
	ProviderType   string  `json:"providerType" binding:"required"`
	DisplayName    string  `json:"displayName" binding:"required"`
	BaseURL        string  `json:"baseUrl"`
	ModelName      string  `json:"modelName"`
	Credential     *string `json:"credential"`
	TimeoutSeconds int     `json:"timeoutSeconds"`
}

// GET /api/providers
func (h *handler) ListProviders(c *gin.Context) {
	list, err := h.storage.Store().ListProviders(c.Request.Context())
	if err != nil {
		errors.Internal(c, "failed to list providers", nil)
		return
	}
	out := make([]gin.H, 0, len(list))
	for _, cfg := range list {
		out = append(out, providerView(&cfg))
	}
	c.JSON(http.StatusOK, gin.H{"providers": out})
}

// POST /api/providers
func (h *handler) SaveProvider(c *gin.Context) {
	var req SaveProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.BadRequest(c, "providerType and displayName are required", nil)
		return
	}

	kind, ok := provider.Normalize(req.ProviderType)
	if !ok {
		errors.Coded(c, http.StatusBadRequest, "unsupported provider type: "+req.ProviderType, "validation_error")
		return
	}
	if req.TimeoutSeconds != 0 && (req.TimeoutSeconds < h.timeoutMin || req.TimeoutSeconds > h.timeoutMax) {
		errors.Coded(c, http.StatusBadRequest, "timeoutSeconds out of range", "validation_error")
		return
	}

	cfg := &storage.ProviderConfig{
		ID:             req.ID,
		ProviderType:   string(kind),
		DisplayName:    req.DisplayName,
		BaseURL:        req.BaseURL,
		ModelName:      req.ModelName,
		TimeoutSeconds: req.TimeoutSeconds,
	}
	if cfg.TimeoutSeconds == 0 {
		cfg.TimeoutSeconds = 120
	}

	ctx := c.Request.Context()

	// Updates without a new credential keep the stored one.
	if req.ID != "" {
		existing, err := h.storage.Store().GetProvider(ctx, req.ID)
		if err != nil && !std_errors.Is(err, storage.ErrNotFound) {
			errors.Internal(c, "failed to load provider", nil)
			return
		}
		if existing != nil {
			cfg.EncryptedCredential = existing.EncryptedCredential
			cfg.CreatedAt = existing.CreatedAt
			cfg.IsActive = existing.IsActive
		}
	}

	if req.Credential != nil && *req.Credential != "" {
		if !credential.ValidateCredential(*req.Credential, string(kind)) {
			errors.Coded(c, http.StatusBadRequest, "credential does not match the expected shape for "+string(kind), "validation_error")
			return
		}
		encrypted, err := h.creds.Encrypt(*req.Credential)
		if err != nil {
			if std_errors.Is(err, credential.ErrEncryptionUnavailable) {
				errors.Coded(c, http.StatusServiceUnavailable, "credential encryption is unavailable", "encryption_unavailable")
				return
			}
			errors.Internal(c, "failed to encrypt credential", nil)
			return
		}
		cfg.EncryptedCredential = encrypted
	}

	if err := h.storage.Store().SaveProvider(ctx, cfg); err != nil {
		if std_errors.Is(err, storage.ErrDuplicate) {
			errors.Conflict(c, "a configuration for this provider type already exists", nil)
			return
		}
		errors.Internal(c, "failed to save provider", nil)
		return
	}
	c.JSON(http.StatusOK, providerView(cfg))
}

// POST /api/providers/:id/activate
func (h *handler) ActivateProvider(c *gin.Context) {
	id := c.Param("id")
	if err := h.storage.Store().SetActiveProvider(c.Request.Context(), id); err != nil {
		if std_errors.Is(err, storage.ErrNotFound) {
			errors.NotFound(c, "provider not found", nil)
			return
		}
		errors.Internal(c, "failed to activate provider", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activated": id})
}

// DELETE /api/providers/:id
func (h *handler) DeleteProvider(c *gin.Context) {
	id := c.Param("id")
	if err := h.storage.Store().DeleteProvider(c.Request.Context(), id); err != nil {
		if std_errors.Is(err, storage.ErrNotFound) {
			errors.NotFound(c, "provider not found", nil)
			return
		}
		errors.Internal(c, "failed to delete provider", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// POST /api/providers/:id/validate
func (h *handler) ValidateProvider(c *gin.Context) {
	ctx := c.Request.Context()
	cfg, err := h.storage.Store().GetProvider(ctx, c.Param("id"))
	if err != nil {
		if std_errors.Is(err, storage.ErrNotFound) {
			errors.NotFound(c, "provider not found", nil)
			return
		}
		errors.Internal(c, "failed to load provider", nil)
		return
	}

	adapter, res := h.buildAdapter(cfg)
	if adapter == nil {
		c.JSON(http.StatusOK, res)
		return
	}

	result := adapter.Validate(ctx)
	if result.Valid {
		if err := h.storage.Store().MarkValidated(ctx, cfg.ID, time.Now().UTC()); err != nil {
			h.logger.Warn("stamp validation failed", "provider_id", cfg.ID, "error", err)
		}
	}
	c.JSON(http.StatusOK, result)
}

// buildAdapter decrypts the stored credential and constructs the
// adapter. Failures come back as a ValidationResult rather than an
// HTTP error so the UI shows them inline.
func (h *handler) buildAdapter(cfg *storage.ProviderConfig) (provider.Adapter, provider.ValidationResult) {
	kind, ok := provider.Normalize(cfg.ProviderType)
	if !ok {
		return nil, provider.ValidationResult{Error: "unsupported provider type: " + cfg.ProviderType}
	}

	cred := ""
	if cfg.HasCredential() {
		plain, err := h.creds.Decrypt(cfg.EncryptedCredential)
		if err != nil {
			return nil, provider.ValidationResult{Error: "stored credential could not be decrypted"}
		}
		cred = plain
	}

	adapter, err := h.adapterFor(kind, cfg.BaseURL, cred)
	if err != nil {
		return nil, provider.ValidationResult{Error: err.Error()}
	}
	return adapter, provider.ValidationResult{}
}

func providerView(cfg *storage.ProviderConfig) gin.H {
	view := gin.H{
		"id":             cfg.ID,
		"providerType":   cfg.ProviderType,
		"displayName":    cfg.DisplayName,
		"timeoutSeconds": cfg.TimeoutSeconds,
		"isActive":       cfg.IsActive,
		"hasCredential":  cfg.HasCredential(),
		"createdAt":      cfg.CreatedAt,
		"updatedAt":      cfg.UpdatedAt,
	}
	if cfg.BaseURL != "" {
		view["baseUrl"] = cfg.BaseURL
	}
	if cfg.ModelName != "" {
		view["modelName"] = cfg.ModelName
	}
	if cfg.LastValidatedAt != nil {
		view["lastValidatedAt"] = cfg.LastValidatedAt
	}
	return view
}
