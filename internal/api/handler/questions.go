package handler

import (
	"errors"
	"mailbox/backend/internal/mailbox"
	"mailbox/backend/internal/storage"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const maxHistoryLimit = 500

type answerRequest struct {
	Answer string `json:"answer" binding:"required"`
}

// ListPending повертає питання, що чекають відповіді, від найстаршого.
func (h *Handler) ListPending(c *gin.Context) {
	pending, err := h.Engine.ListPending(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"questions": pending, "count": len(pending)})
}

// SubmitAnswer records a deferred answer and triggers its delivery.
func (h *Handler) SubmitAnswer(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		fail(c, http.StatusBadRequest, errors.New("question id must be a positive integer"))
		return
	}

	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}

	answerID, err := h.Engine.SubmitDeferredAnswer(c.Request.Context(), uint(id), req.Answer)
	switch {
	case errors.Is(err, mailbox.ErrEmptyAnswer):
		fail(c, http.StatusBadRequest, err)
		return
	case errors.Is(err, storage.ErrNotFound):
		fail(c, http.StatusNotFound, err)
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"question_id": id, "answer_id": answerID})
}

// History returns the latest messages, newest first.
func (h *Handler) History(c *gin.Context) {
	limit := storage.DefaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			fail(c, http.StatusBadRequest, errors.New("limit must be between 1 and 500"))
			return
		}
		limit = n
	}

	msgs, err := h.Engine.History(c.Request.Context(), limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}
