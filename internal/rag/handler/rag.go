// Package handler provides HTTP handlers for RAG service.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/compliance-rag/internal/pkg/httputils"
	"github.com/kart-io/compliance-rag/internal/rag/biz"
	"github.com/kart-io/compliance-rag/pkg/utils/errors"
	"github.com/kart-io/compliance-rag/pkg/utils/response"
)

// RAGHandler handles RAG HTTP requests.
type RAGHandler struct {
	service      biz.Service
	queryTimeout time.Duration
}

// NewRAGHandler creates a new RAGHandler.
// A zero queryTimeout leaves the request context untouched.
func NewRAGHandler(service biz.Service, queryTimeout time.Duration) *RAGHandler {
	return &RAGHandler{
		service:      service,
		queryTimeout: queryTimeout,
	}
}

// QueryRequest represents a query request.
type QueryRequest struct {
	Question string `json:"question" binding:"required"`
}

// SourceDocument is one grounding chunk returned with an answer.
type SourceDocument struct {
	Source string `json:"source"`
	Page   int    `json:"page,omitempty"`
	Text   string `json:"text"`
}

// QueryResponse represents a query response.
type QueryResponse struct {
	Answer  string           `json:"answer"`
	Sources []SourceDocument `json:"sources"`
}

// Index rebuilds the retrieval index from the documents directory.
func (h *RAGHandler) Index(c *gin.Context) {
	report, err := h.service.BuildIndex(c.Request.Context())
	if err != nil {
		logger.Errorw("index build failed", "error", err.Error())
		httputils.WriteResponse(c, err, nil)
		return
	}
	httputils.WriteResponse(c, nil, response.SuccessWithMessage("Index built successfully", report))
}

// Query answers a question.
func (h *RAGHandler) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputils.WriteResponse(c, errors.ErrRAGInvalidQuery.WithMessage("question is required").WithCause(err), nil)
		return
	}

	ctx := c.Request.Context()
	if h.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.queryTimeout)
		defer cancel()
	}

	result, err := h.service.Query(ctx, req.Question)
	if err != nil {
		httputils.WriteResponse(c, err, nil)
		return
	}

	resp := QueryResponse{
		Answer:  result.Generation,
		Sources: make([]SourceDocument, 0, len(result.Documents)),
	}
	for _, d := range result.Documents {
		resp.Sources = append(resp.Sources, SourceDocument{Source: d.Source, Page: d.Page, Text: d.Text})
	}
	httputils.WriteResponse(c, nil, resp)
}

// Stats returns index statistics.
func (h *RAGHandler) Stats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	httputils.WriteResponse(c, err, stats)
}

// Healthz reports liveness.
func (h *RAGHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz reports whether the index has been built.
func (h *RAGHandler) Readyz(c *gin.Context) {
	if !h.service.Ready(c.Request.Context()) {
		httputils.WriteResponse(c, errors.ErrRAGIndexNotReady, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
