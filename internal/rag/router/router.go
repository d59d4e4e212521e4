// Package router provides RAG service routing.
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kart-io/compliance-rag/internal/rag/handler"
	"github.com/kart-io/compliance-rag/internal/rag/metrics"
)

// Register registers the RAG service routes.
func Register(engine *gin.Engine, ragHandler *handler.RAGHandler, m *metrics.RAGMetrics) {
	logger.Info("Registering RAG routes...")

	engine.GET("/healthz", ragHandler.Healthz)
	engine.GET("/readyz", ragHandler.Readyz)
	if m != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})))
	}

	v1 := engine.Group("/v1")
	{
		rag := v1.Group("/rag")
		{
			rag.POST("/index", ragHandler.Index)
			rag.POST("/query", ragHandler.Query)
			rag.GET("/stats", ragHandler.Stats)
		}
	}

	logger.Info("HTTP routes registered")
}
