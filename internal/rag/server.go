package ragsvc

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/compliance-rag/internal/rag/handler"
	"github.com/kart-io/compliance-rag/internal/rag/router"
	"github.com/kart-io/compliance-rag/pkg/infra/middleware"
)

// Server represents the RAG server.
type Server struct {
	cfg  *Config
	rt   *Runtime
	http *http.Server
}

// NewServer initializes and returns a new Server instance.
func (cfg *Config) NewServer(ctx context.Context) (*Server, error) {
	printBanner(cfg)

	if err := cfg.InitLogger(); err != nil {
		return nil, err
	}
	logger.Info("Starting RAG service...")

	rt, err := cfg.NewRuntime(ctx)
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:  cfg,
		rt:   rt,
		http: cfg.newHTTPServer(rt),
	}, nil
}

func (cfg *Config) newHTTPServer(rt *Runtime) *http.Server {
	gin.SetMode(cfg.HTTPOptions.Mode)
	engine := gin.New()
	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logger(),
		middleware.Tracing(),
	)

	ragHandler := handler.NewRAGHandler(rt.Service, cfg.HTTPOptions.QueryTimeout)
	router.Register(engine, ragHandler, rt.Metrics)

	return &http.Server{
		Addr:         cfg.HTTPOptions.Addr,
		Handler:      engine,
		ReadTimeout:  cfg.HTTPOptions.ReadTimeout,
		WriteTimeout: cfg.HTTPOptions.WriteTimeout,
		IdleTimeout:  cfg.HTTPOptions.IdleTimeout,
	}
}

// Run starts the server and blocks until ctx is cancelled or serving fails.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Infow("HTTP server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down RAG service...")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.http.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("HTTP server shutdown failed", "error", err.Error())
	}
	if err := s.rt.Close(shutdownCtx); err != nil {
		logger.Warnw("failed to release resources", "error", err.Error())
	}

	if serveErr != nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	logger.Info("RAG service stopped")
	return nil
}

func printBanner(cfg *Config) {
	fmt.Printf("Starting %s...\n", Name)
	fmt.Printf("  Embedding: %s (%s)\n", cfg.EmbeddingOptions.Provider, cfg.EmbeddingOptions.Model)
	fmt.Printf("  Chat: %s (%s)\n", cfg.ChatOptions.Provider, cfg.ChatOptions.Model)
	fmt.Printf("  Index: %s\n", cfg.IndexOptions.Backend)
}
