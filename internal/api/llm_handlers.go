package api

import (
	std_errors "errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/promptdeck/promptd/internal/errors"
	"github.com/promptdeck/promptd/internal/logger"
	"github.com/promptdeck/promptd/internal/provider"
	"github.com/promptdeck/promptd/internal/queue"
	"github.com/promptdeck/promptd/internal/storage"
	"github.com/promptdeck/promptd/internal/template"
)

// CallRequest is the body for queueing an LLM call. PromptContent is
// the raw template; placeholders are substituted server side so the
// stored prompt matches what the provider saw.
type CallRequest struct {
	PromptID       string            `json:"promptId" binding:"required"`
	PromptName     string            `json:"promptName" binding:"required"`
	PromptContent  string            `json:"promptContent" binding:"required"`
	Parameters     map[string]string `json:"parameters"`
	Model          string            `json:"model"`
	TimeoutSeconds int               `json:"timeoutSeconds"`
	Temperature    *float64          `json:"temperature"`
	MaxTokens      *int              `json:"maxTokens"`
	TopP           *float64          `json:"topP"`
}

// POST /api/llm/call
func (h *handler) Call(c *gin.Context) {
	var req CallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.BadRequest(c, "promptId, promptName and promptContent are required", nil)
		return
	}
	if strings.TrimSpace(req.PromptContent) == "" {
		errors.Coded(c, http.StatusBadRequest, "promptContent must not be empty", "validation_error")
		return
	}
	if req.TimeoutSeconds != 0 && (req.TimeoutSeconds < h.timeoutMin || req.TimeoutSeconds > h.timeoutMax) {
		errors.Coded(c, http.StatusBadRequest, "timeoutSeconds out of range", "validation_error")
		return
	}

	rendered := template.Render(req.PromptContent, req.Parameters)

	qr := &queue.Request{
		PromptID:       req.PromptID,
		PromptName:     req.PromptName,
		PromptText:     rendered,
		Parameters:     req.Parameters,
		Model:          req.Model,
		TimeoutSeconds: req.TimeoutSeconds,
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
		TopP:           req.TopP,
	}
	ctx := logger.WithOperation(logger.WithPromptID(c.Request.Context(), req.PromptID), "llm.call")
	if err := h.processor.Submit(ctx, qr); err != nil {
		if std_errors.Is(err, storage.ErrNoActiveProvider) {
			errors.Coded(c, http.StatusConflict, "no active provider configured", "no_active_provider")
			return
		}
		h.logger.LogError(ctx, err, "queue request failed")
		errors.Internal(c, "failed to queue request", nil)
		return
	}

	st := h.processor.Status()
	c.JSON(http.StatusAccepted, gin.H{"requestId": qr.ID, "queueSize": st.QueueSize})
}

// DELETE /api/llm/requests/:id
func (h *handler) CancelRequest(c *gin.Context) {
	id := c.Param("id")
	if err := h.processor.Cancel(id); err != nil {
		if std_errors.Is(err, storage.ErrNotFound) {
			errors.NotFound(c, "request not found", nil)
			return
		}
		errors.Internal(c, "failed to cancel request", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": id})
}

// DELETE /api/llm/requests
func (h *handler) CancelAllRequests(c *gin.Context) {
	n := h.processor.CancelAll()
	c.JSON(http.StatusOK, gin.H{"cancelledCount": n})
}

// GET /api/llm/queue
func (h *handler) QueueStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.processor.Status())
}

// GET /api/llm/models
func (h *handler) ListModels(c *gin.Context) {
	ctx := c.Request.Context()
	cfg, err := h.storage.Store().GetActiveProvider(ctx)
	if err != nil {
		if std_errors.Is(err, storage.ErrNoActiveProvider) {
			errors.Coded(c, http.StatusConflict, "no active provider configured", "no_active_provider")
			return
		}
		errors.Internal(c, "failed to load active provider", nil)
		return
	}

	adapter, res := h.buildAdapter(cfg)
	if adapter == nil {
		errors.Coded(c, http.StatusBadGateway, res.Error, "connection_error")
		return
	}

	models, err := adapter.ListModels(ctx)
	if err != nil {
		errors.Coded(c, providerErrorStatus(err), err.Error(), string(provider.CodeOf(err)))
		return
	}
	if models == nil {
		models = []provider.ModelInfo{}
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}

// GET /api/llm/history/:promptId
func (h *handler) GetHistory(c *gin.Context) {
	ctx := logger.WithPromptID(c.Request.Context(), c.Param("promptId"))
	list, err := h.storage.ListHistory(ctx, c.Param("promptId"))
	if err != nil {
		h.logger.LogError(ctx, err, "load history failed")
		errors.Internal(c, "failed to load history", nil)
		return
	}
	if list == nil {
		list = []storage.ResponseMetadata{}
	}
	c.JSON(http.StatusOK, gin.H{"responses": list})
}

// GET /api/llm/responses/:id
func (h *handler) GetResponse(c *gin.Context) {
	ctx := logger.WithResponseID(c.Request.Context(), c.Param("id"))
	meta, content, err := h.storage.GetResponse(ctx, c.Param("id"))
	if err != nil {
		if std_errors.Is(err, storage.ErrNotFound) {
			errors.NotFound(c, "response not found", nil)
			return
		}
		h.logger.LogError(ctx, err, "load response failed")
		errors.Internal(c, "failed to load response", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"metadata": meta, "content": content})
}

// DELETE /api/llm/responses/:id
func (h *handler) DeleteResponse(c *gin.Context) {
	ctx := logger.WithResponseID(c.Request.Context(), c.Param("id"))
	if err := h.storage.DeleteResponse(ctx, c.Param("id")); err != nil {
		if std_errors.Is(err, storage.ErrNotFound) {
			errors.NotFound(c, "response not found", nil)
			return
		}
		h.logger.LogError(ctx, err, "delete response failed")
		errors.Internal(c, "failed to delete response", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": c.Param("id")})
}

// DELETE /api/llm/history/:promptId
func (h *handler) DeleteAllResponses(c *gin.Context) {
	ctx := logger.WithPromptID(c.Request.Context(), c.Param("promptId"))
	n, err := h.storage.DeleteAllResponses(ctx, c.Param("promptId"))
	if err != nil {
		h.logger.LogError(ctx, err, "delete responses failed")
		errors.Internal(c, "failed to delete responses", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

// The server only listens on loopback; origin checks would reject the
// desktop webview's file origin.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// GET /events
func (h *handler) Events(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	h.hub.Register(conn)
}

func providerErrorStatus(err error) int {
	switch provider.CodeOf(err) {
	case provider.CodeAuth:
		return http.StatusUnauthorized
	case provider.CodeRateLimit, provider.CodeInsufficientQuota:
		return http.StatusTooManyRequests
	case provider.CodeModelNotFound:
		return http.StatusNotFound
	case provider.CodeValidation:
		return http.StatusBadRequest
	case provider.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
