// Package app provides the RAG server application.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kart-io/compliance-rag/cmd/rag/app/options"
	ragsvc "github.com/kart-io/compliance-rag/internal/rag"
	"github.com/kart-io/compliance-rag/pkg/infra/app"
)

// commandDesc is the description of the command.
const commandDesc = `Compliance RAG Service

Answers questions about oil and gas emissions regulations using a local
corpus of PDF and TXT documents.

This server provides:
  - Document ingestion and vector indexing (local files or Milvus)
  - A relevance check, retrieval and per-document grading before generation
  - Direct answers with a disclaimer for questions outside emissions compliance
  - Support for Ollama and OpenAI-compatible model providers`

// NewApp creates and returns a new App object with default parameters.
func NewApp() *app.App {
	opts := options.NewServerOptions()
	application := app.NewApp(
		app.WithName(ragsvc.Name),
		app.WithShortDescription("Emissions compliance question answering"),
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithRunFunc(run(opts)),
		app.WithCommands(
			newBuildCommand(opts),
			newAskCommand(opts),
		),
	)

	return application
}

// run contains the main logic for initializing and running the server.
func run(opts *options.ServerOptions) app.RunFunc {
	return func() error {
		// Load the configuration options
		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		ctx := setupSignalContext()

		// Build the server using the configuration
		server, err := cfg.NewServer(ctx)
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}

		// Run the server with signal context for graceful shutdown
		return server.Run(ctx)
	}
}

// setupSignalContext returns a context that is cancelled on SIGINT or SIGTERM.
func setupSignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		cancel()
		<-c
		os.Exit(1)
	}()
	return ctx
}
