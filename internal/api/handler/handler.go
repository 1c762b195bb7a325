// Package handler exposes the mailbox to the deferred responder over HTTP:
// listing and answering pending questions, editing the knowledge overlay and
// streaming lifecycle events over a websocket.
package handler

import (
	"mailbox/backend/internal/events"
	"mailbox/backend/internal/knowledge"
	"mailbox/backend/internal/mailbox"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// KnowledgeStore is the part of knowledge.Overlay the API edits.
type KnowledgeStore interface {
	Document() (string, error)
	RenderContext() (string, error)
	Stats() (knowledge.Stats, error)
	AddFact(category, fact string) error
	UpdateSection(name, content string) error
}

// Handler містить залежності HTTP API.
type Handler struct {
	Engine    *mailbox.Engine
	Knowledge KnowledgeStore
	Broker    *events.Broker
	log       logrus.FieldLogger
}

func NewHandler(engine *mailbox.Engine, store KnowledgeStore, broker *events.Broker, log logrus.FieldLogger) *Handler {
	return &Handler{
		Engine:    engine,
		Knowledge: store,
		Broker:    broker,
		log:       log.WithField("component", "api"),
	}
}

// Router builds the gin engine. Everything under /api requires a token.
func (h *Handler) Router(tokens *TokenIssuer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), AccessLog(h.log))

	r.GET("/healthz", h.Health)

	api := r.Group("/api", AuthMiddleware(tokens))
	{
		api.GET("/questions/pending", h.ListPending)
		api.POST("/questions/:id/answer", h.SubmitAnswer)
		api.GET("/messages", h.History)

		api.GET("/knowledge/context", h.KnowledgeContext)
		api.GET("/knowledge/stats", h.KnowledgeStats)
		api.POST("/knowledge/facts", h.AddFact)
		api.PUT("/knowledge/sections/:name", h.UpdateSection)

		api.GET("/events", h.ServeEvents)
	}
	return r
}

func (h *Handler) Health(c *gin.Context) {
	if _, err := h.Engine.PendingCount(c.Request.Context()); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// fail maps domain errors to HTTP statuses.
func fail(c *gin.Context, status int, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
