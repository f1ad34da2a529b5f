// Package api exposes the desktop UI boundary: provider configuration,
// queueing LLM calls, response history, and the websocket event stream.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/promptdeck/promptd/internal/credential"
	"github.com/promptdeck/promptd/internal/events"
	"github.com/promptdeck/promptd/internal/logger"
	"github.com/promptdeck/promptd/internal/queue"
	"github.com/promptdeck/promptd/internal/storage"
)

// Deps carries everything the handlers need.
type Deps struct {
	Storage     *storage.Service
	Credentials *credential.Service
	Processor   *queue.Processor
	Bus         *events.Bus
	Hub         *events.Hub
	Logger      *logger.Logger
	Registry    *prometheus.Registry

	// AdapterFactory overrides the default provider constructor,
	// letting tests plug in a fake backend.
	AdapterFactory queue.AdapterFactory

	RequestTimeoutMin int
	RequestTimeoutMax int
}

// NewRouter builds the gin engine with all routes mounted.
func NewRouter(deps Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	httpLog := deps.Logger.WithComponent("http")
	router.Use(func(c *gin.Context) {
		ctx := logger.WithRequestID(c.Request.Context(), logger.GenerateRequestID())
		c.Request = c.Request.WithContext(ctx)
		start := time.Now()
		c.Next()
		httpLog.WithContext(ctx).Debug("request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed_ms", time.Since(start).Milliseconds())
	})

	h := newHandler(deps)

	api := router.Group("/api")
	{
		providers := api.Group("/providers")
		{
			providers.GET("", h.ListProviders)
			providers.POST("", h.SaveProvider)
			providers.POST("/:id/activate", h.ActivateProvider)
			providers.POST("/:id/validate", h.ValidateProvider)
			providers.DELETE("/:id", h.DeleteProvider)
		}

		llm := api.Group("/llm")
		{
			llm.POST("/call", h.Call)
			llm.DELETE("/requests/:id", h.CancelRequest)
			llm.DELETE("/requests", h.CancelAllRequests)
			llm.GET("/queue", h.QueueStatus)
			llm.GET("/models", h.ListModels)
			llm.GET("/history/:promptId", h.GetHistory)
			llm.DELETE("/history/:promptId", h.DeleteAllResponses)
			llm.GET("/responses/:id", h.GetResponse)
			llm.DELETE("/responses/:id", h.DeleteResponse)
		}
	}

	router.GET("/events", h.Events)

	if deps.Registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return router
}
