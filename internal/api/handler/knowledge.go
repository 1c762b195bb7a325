package handler

import (
	"errors"
	"mailbox/backend/internal/knowledge"
	"net/http"

	"github.com/gin-gonic/gin"
)

type factRequest struct {
	Category string `json:"category"`
	Fact     string `json:"fact"`
}

type sectionRequest struct {
	Content string `json:"content"`
}

func (h *Handler) KnowledgeContext(c *gin.Context) {
	doc, err := h.Knowledge.Document()
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	facts, err := h.Knowledge.RenderContext()
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": doc, "facts": facts})
}

func (h *Handler) KnowledgeStats(c *gin.Context) {
	st, err := h.Knowledge.Stats()
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// AddFact додає факт; категорія "instructions" задає інструкції для fast responder.
func (h *Handler) AddFact(c *gin.Context) {
	var req factRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}

	err := h.Knowledge.AddFact(req.Category, req.Fact)
	if errors.Is(err, knowledge.ErrEmptyFact) {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"category": req.Category, "fact": req.Fact})
}

func (h *Handler) UpdateSection(c *gin.Context) {
	var req sectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}

	name := c.Param("name")
	err := h.Knowledge.UpdateSection(name, req.Content)
	if errors.Is(err, knowledge.ErrInvalidSection) {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"section": name})
}
