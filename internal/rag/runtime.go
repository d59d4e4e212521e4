package ragsvc

import (
	"context"
	"fmt"
	"time"

	"github.com/kart-io/logger"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/kart-io/compliance-rag/internal/pkg/rag/loader"
	"github.com/kart-io/compliance-rag/internal/rag/biz"
	"github.com/kart-io/compliance-rag/internal/rag/metrics"
	"github.com/kart-io/compliance-rag/internal/rag/store"
	"github.com/kart-io/compliance-rag/pkg/component/milvus"
	"github.com/kart-io/compliance-rag/pkg/infra/app"
	"github.com/kart-io/compliance-rag/pkg/infra/pool"
	"github.com/kart-io/compliance-rag/pkg/infra/tracing"
	"github.com/kart-io/compliance-rag/pkg/llm"
	indexopts "github.com/kart-io/compliance-rag/pkg/options/index"

	// 导入 LLM 供应商以自动注册
	_ "github.com/kart-io/compliance-rag/pkg/llm/ollama"
	_ "github.com/kart-io/compliance-rag/pkg/llm/openai"
)

// Runtime holds the initialised service and everything it owns.
// The HTTP server and the one-shot CLI commands share it.
type Runtime struct {
	Service *biz.RAGService
	Metrics *metrics.RAGMetrics

	closers []func(context.Context) error
}

// InitLogger initialises the global logger with the service identity.
func (cfg *Config) InitLogger() error {
	cfg.LogOptions.AddInitialField("service.name", Name)
	cfg.LogOptions.AddInitialField("service.version", app.GetVersion())
	if err := cfg.LogOptions.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// NewRuntime builds providers, storage, pools and the RAG service.
// Resources acquired before a failure are released before returning.
func (cfg *Config) NewRuntime(ctx context.Context) (rt *Runtime, err error) {
	rt = &Runtime{Metrics: metrics.NewRAGMetrics()}
	defer func() {
		if err != nil {
			_ = rt.Close(context.Background())
			rt = nil
		}
	}()

	// 1. 链路追踪
	tp, err := tracing.NewProvider(ctx, cfg.TracingOptions, app.GetVersion())
	if err != nil {
		return rt, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	rt.onClose(tp.Shutdown)

	// 2. LLM 供应商
	embedder, err := cfg.newEmbeddingProvider(ctx, rt)
	if err != nil {
		return rt, err
	}
	chat, err := llm.NewChatProvider(cfg.ChatOptions.Provider, cfg.ChatOptions.ToConfigMap())
	if err != nil {
		return rt, fmt.Errorf("failed to initialize chat provider: %w", err)
	}
	logger.Infow("Chat provider initialized",
		"provider", cfg.ChatOptions.Provider,
		"model", cfg.ChatOptions.Model,
	)
	pingProvider(ctx, chat)

	// 3. 索引存储
	artifacts, err := cfg.newArtifactStore(ctx)
	if err != nil {
		return rt, err
	}
	rt.onClose(artifacts.Close)

	var ledger *store.Ledger
	if cfg.IndexOptions.LedgerPath != "" {
		ledger, err = store.OpenLedger(cfg.IndexOptions.LedgerPath)
		if err != nil {
			return rt, fmt.Errorf("failed to open build ledger: %w", err)
		}
		rt.onClose(func(context.Context) error { return ledger.Close() })
		logger.Infow("Build ledger opened", "path", cfg.IndexOptions.LedgerPath)
	}

	// 4. 协程池
	ingestPool, err := pool.NewPool("rag-ingest", pool.IngestPool, pool.IngestPoolConfig(cfg.RAGOptions.LoadWorkers))
	if err != nil {
		return rt, err
	}
	rt.onClose(releasePool(ingestPool))

	gradePool, err := pool.NewPool("rag-grading", pool.GradingPool, pool.GradingPoolConfig(cfg.RAGOptions.GradeWorkers))
	if err != nil {
		return rt, err
	}
	rt.onClose(releasePool(gradePool))

	// 5. Biz 层
	docs := loader.New(cfg.RAGOptions.DocsDir, cfg.RAGOptions.Extensions, ingestPool)
	index := biz.NewIndexManager(
		biz.IndexConfig{
			ChunkSize:      cfg.RAGOptions.ChunkSize,
			ChunkOverlap:   cfg.RAGOptions.ChunkOverlap,
			TopK:           cfg.RAGOptions.TopK,
			EmbeddingDim:   cfg.RAGOptions.EmbeddingDim,
			EmbedBatchSize: cfg.RAGOptions.EmbedBatchSize,
			EmbeddingModel: cfg.EmbeddingOptions.Provider + "/" + cfg.EmbeddingOptions.Model,
		},
		docs,
		embedder,
		artifacts,
		biz.WithLedger(ledger),
		biz.WithIndexMetrics(rt.Metrics),
	)
	rt.Service = biz.NewRAGService(index, chat,
		biz.WithGradePool(gradePool),
		biz.WithServiceMetrics(rt.Metrics),
	)

	logger.Infow("RAG service initialized",
		"docs_dir", cfg.RAGOptions.DocsDir,
		"backend", artifacts.Backend(),
		"index_ready", rt.Service.Ready(ctx),
	)
	return rt, nil
}

func (cfg *Config) newEmbeddingProvider(ctx context.Context, rt *Runtime) (llm.EmbeddingProvider, error) {
	embedder, err := llm.NewEmbeddingProvider(cfg.EmbeddingOptions.Provider, cfg.EmbeddingOptions.ToConfigMap())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}
	logger.Infow("Embedding provider initialized",
		"provider", cfg.EmbeddingOptions.Provider,
		"model", cfg.EmbeddingOptions.Model,
	)

	if !cfg.CacheOptions.Enabled {
		logger.Info("Embedding cache is disabled")
		return embedder, nil
	}

	client := cfg.CacheOptions.Redis.NewClient()
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warnw("failed to connect to redis, embedding cache will be disabled", "error", err.Error())
		_ = client.Close()
		return embedder, nil
	}
	rt.onClose(func(context.Context) error { return client.Close() })

	logger.Infow("Embedding cache initialized",
		"addr", cfg.CacheOptions.Redis.Addr(),
		"ttl", cfg.CacheOptions.TTL,
	)
	return llm.NewCachedEmbeddingProvider(embedder, client, &llm.EmbeddingCacheConfig{
		TTL:       cfg.CacheOptions.TTL,
		KeyPrefix: cfg.CacheOptions.KeyPrefix,
		Model:     cfg.EmbeddingOptions.Model,
	}), nil
}

func (cfg *Config) newArtifactStore(ctx context.Context) (store.ArtifactStore, error) {
	switch cfg.IndexOptions.Backend {
	case indexopts.BackendMilvus:
		client, err := milvus.New(ctx, cfg.MilvusOptions)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize milvus: %w", err)
		}
		logger.Infow("Milvus client initialized",
			"address", cfg.MilvusOptions.Address,
			"alias", cfg.IndexOptions.Collection,
		)
		return store.NewMilvusStore(client, cfg.IndexOptions.Collection), nil
	case indexopts.BackendLocal, "":
		logger.Infow("Local index store initialized", "path", cfg.IndexOptions.Path)
		return store.NewLocalStore(cfg.IndexOptions.Path), nil
	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.IndexOptions.Backend)
	}
}

// pingProvider 仅记录连通性，模型服务可能晚于本服务启动。
func pingProvider(ctx context.Context, p any) {
	pinger, ok := p.(llm.Pinger)
	if !ok {
		return
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pinger.Ping(pingCtx); err != nil {
		logger.Warnw("model provider is not reachable yet", "error", err.Error())
	}
}

func releasePool(p *pool.Pool) func(context.Context) error {
	return func(context.Context) error {
		p.Release()
		return nil
	}
}

func (rt *Runtime) onClose(fn func(context.Context) error) {
	rt.closers = append(rt.closers, fn)
}

// Close releases resources in reverse acquisition order.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return utilerrors.NewAggregate(errs)
}
