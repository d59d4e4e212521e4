// Package ragsvc wires the compliance RAG service together.
package ragsvc

import (
	"time"

	cacheopts "github.com/kart-io/compliance-rag/pkg/options/cache"
	httpopts "github.com/kart-io/compliance-rag/pkg/options/http"
	indexopts "github.com/kart-io/compliance-rag/pkg/options/index"
	llmopts "github.com/kart-io/compliance-rag/pkg/options/llm"
	logopts "github.com/kart-io/compliance-rag/pkg/options/logger"
	milvusopts "github.com/kart-io/compliance-rag/pkg/options/milvus"
	ragopts "github.com/kart-io/compliance-rag/pkg/options/rag"
	tracingopts "github.com/kart-io/compliance-rag/pkg/options/tracing"
)

// Name is the name of the application.
const Name = "compliance-rag"

// Config contains application-related configurations.
type Config struct {
	HTTPOptions      *httpopts.Options
	LogOptions       *logopts.Options
	TracingOptions   *tracingopts.Options
	EmbeddingOptions *llmopts.ProviderOptions
	ChatOptions      *llmopts.ProviderOptions
	RAGOptions       *ragopts.Options
	IndexOptions     *indexopts.Options
	MilvusOptions    *milvusopts.Options
	CacheOptions     *cacheopts.Options
	ShutdownTimeout  time.Duration
}
