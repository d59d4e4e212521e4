// Package rag provides RAG (Retrieval-Augmented Generation) configuration options.
package rag

import (
	"fmt"
	"strings"

	"github.com/kart-io/compliance-rag/pkg/options"
	"github.com/spf13/pflag"
)

var _ options.IOptions = (*Options)(nil)

// Options contains RAG-specific configuration.
type Options struct {
	// DocsDir is the root of the document corpus.
	DocsDir string `json:"docs-dir" mapstructure:"docs-dir"`

	// Extensions lists the file extensions picked up by the ingestor.
	Extensions []string `json:"extensions" mapstructure:"extensions"`

	// ChunkSize is the size of text chunks in runes.
	ChunkSize int `json:"chunk-size" mapstructure:"chunk-size"`

	// ChunkOverlap is the overlap between chunks in runes.
	ChunkOverlap int `json:"chunk-overlap" mapstructure:"chunk-overlap"`

	// TopK is the number of results to return from similarity search.
	TopK int `json:"top-k" mapstructure:"top-k"`

	// EmbeddingDim pins the embedding dimension. Zero accepts whatever the
	// provider returns at build time.
	EmbeddingDim int `json:"embedding-dim" mapstructure:"embedding-dim"`

	// EmbedBatchSize is the number of chunks embedded per provider call.
	EmbedBatchSize int `json:"embed-batch-size" mapstructure:"embed-batch-size"`

	// LoadWorkers bounds concurrent file reads during ingestion.
	LoadWorkers int `json:"load-workers" mapstructure:"load-workers"`

	// GradeWorkers bounds concurrent grading calls per query.
	GradeWorkers int `json:"grade-workers" mapstructure:"grade-workers"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		DocsDir:        "documents",
		Extensions:     []string{".pdf", ".txt"},
		ChunkSize:      1000,
		ChunkOverlap:   200,
		TopK:           4,
		EmbedBatchSize: 32,
		LoadWorkers:    4,
		GradeWorkers:   4,
	}
}

// AddFlags adds flags for RAG options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...)
	fs.StringVar(&o.DocsDir, p+"rag.docs-dir", o.DocsDir, "Directory holding the PDF/TXT corpus.")
	fs.StringSliceVar(&o.Extensions, p+"rag.extensions", o.Extensions, "File extensions to ingest.")
	fs.IntVar(&o.ChunkSize, p+"rag.chunk-size", o.ChunkSize, "Size of text chunks.")
	fs.IntVar(&o.ChunkOverlap, p+"rag.chunk-overlap", o.ChunkOverlap, "Overlap between chunks.")
	fs.IntVar(&o.TopK, p+"rag.top-k", o.TopK, "Number of results from similarity search.")
	fs.IntVar(&o.EmbeddingDim, p+"rag.embedding-dim", o.EmbeddingDim, "Expected embedding vector dimension (0 = detect).")
	fs.IntVar(&o.EmbedBatchSize, p+"rag.embed-batch-size", o.EmbedBatchSize, "Chunks per embedding request.")
	fs.IntVar(&o.LoadWorkers, p+"rag.load-workers", o.LoadWorkers, "Concurrent document readers.")
	fs.IntVar(&o.GradeWorkers, p+"rag.grade-workers", o.GradeWorkers, "Concurrent grading calls per query.")
}

// Validate validates the RAG options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.DocsDir == "" {
		errs = append(errs, fmt.Errorf("rag.docs-dir is required"))
	}
	if len(o.Extensions) == 0 {
		errs = append(errs, fmt.Errorf("rag.extensions must not be empty"))
	}
	if o.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("rag.chunk-size must be positive"))
	}
	if o.ChunkOverlap < 0 || o.ChunkOverlap >= o.ChunkSize {
		errs = append(errs, fmt.Errorf("rag.chunk-overlap must be within [0, chunk-size)"))
	}
	if o.TopK <= 0 {
		errs = append(errs, fmt.Errorf("rag.top-k must be positive"))
	}
	if o.EmbeddingDim < 0 {
		errs = append(errs, fmt.Errorf("rag.embedding-dim must not be negative"))
	}
	if o.EmbedBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("rag.embed-batch-size must be positive"))
	}
	if o.LoadWorkers <= 0 || o.GradeWorkers <= 0 {
		errs = append(errs, fmt.Errorf("rag.load-workers and rag.grade-workers must be positive"))
	}
	return errs
}

// Complete normalises extensions to lower case with a leading dot.
func (o *Options) Complete() error {
	for i, ext := range o.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		o.Extensions[i] = ext
	}
	return nil
}
