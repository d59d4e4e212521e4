package biz

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kart-io/compliance-rag/internal/rag/metrics"
	"github.com/kart-io/compliance-rag/pkg/utils/errors"
	"github.com/kart-io/logger"
)

const tracerName = "github.com/kart-io/compliance-rag/internal/rag/biz"

// Node 图中的节点。
type Node int

const (
	NodeEnd Node = iota
	NodeCheckRelevance
	NodeRetrieve
	NodeGradeDocuments
	NodeGenerate
	NodeDirectAnswer
	NodeNoDocumentsFallback
)

func (n Node) String() string {
	switch n {
	case NodeEnd:
		return "end"
	case NodeCheckRelevance:
		return "check_relevance"
	case NodeRetrieve:
		return "retrieve"
	case NodeGradeDocuments:
		return "grade_documents"
	case NodeGenerate:
		return "generate"
	case NodeDirectAnswer:
		return "direct_answer"
	case NodeNoDocumentsFallback:
		return "no_documents_fallback"
	default:
		return fmt.Sprintf("node(%d)", int(n))
	}
}

// Handler 节点处理函数，读写查询状态。
type Handler func(ctx context.Context, state *QueryState) error

// Router 条件边的路由函数，返回下一个节点。
type Router func(state *QueryState) Node

type edge struct {
	router  Router
	targets []Node
}

// GraphBuilder 构建并校验查询图。
type GraphBuilder struct {
	entry    Node
	handlers map[Node]Handler
	edges    map[Node]edge
	metrics  *metrics.RAGMetrics
	errs     []error
}

// NewGraphBuilder 创建图构建器。
func NewGraphBuilder() *GraphBuilder {
	return &GraphBuilder{
		handlers: make(map[Node]Handler),
		edges:    make(map[Node]edge),
	}
}

// SetEntry 设置入口节点。
func (b *GraphBuilder) SetEntry(n Node) *GraphBuilder {
	b.entry = n
	return b
}

// AddNode 注册节点处理函数。
func (b *GraphBuilder) AddNode(n Node, h Handler) *GraphBuilder {
	if n == NodeEnd {
		b.errs = append(b.errs, fmt.Errorf("end node cannot have a handler"))
		return b
	}
	if _, ok := b.handlers[n]; ok {
		b.errs = append(b.errs, fmt.Errorf("node %s registered twice", n))
		return b
	}
	b.handlers[n] = h
	return b
}

// AddEdge 添加无条件边。
func (b *GraphBuilder) AddEdge(from, to Node) *GraphBuilder {
	return b.AddConditionalEdge(from, func(*QueryState) Node { return to }, to)
}

// AddConditionalEdge 添加条件边，targets 声明路由函数可能返回的全部节点。
func (b *GraphBuilder) AddConditionalEdge(from Node, r Router, targets ...Node) *GraphBuilder {
	if _, ok := b.edges[from]; ok {
		b.errs = append(b.errs, fmt.Errorf("node %s has more than one outgoing edge", from))
		return b
	}
	if r == nil || len(targets) == 0 {
		b.errs = append(b.errs, fmt.Errorf("edge from %s has no router or targets", from))
		return b
	}
	b.edges[from] = edge{router: r, targets: targets}
	return b
}

// WithMetrics 设置阶段指标收集器。
func (b *GraphBuilder) WithMetrics(m *metrics.RAGMetrics) *GraphBuilder {
	b.metrics = m
	return b
}

// Compile 校验图结构：入口存在、每个节点有处理函数和出边、所有目标已注册、无环。
func (b *GraphBuilder) Compile() (*Graph, error) {
	errs := slices.Clone(b.errs)

	if _, ok := b.handlers[b.entry]; !ok {
		errs = append(errs, fmt.Errorf("entry node %s has no handler", b.entry))
	}
	for n := range b.handlers {
		if _, ok := b.edges[n]; !ok {
			errs = append(errs, fmt.Errorf("node %s has no outgoing edge", n))
		}
	}
	for from, e := range b.edges {
		if _, ok := b.handlers[from]; !ok {
			errs = append(errs, fmt.Errorf("edge from unregistered node %s", from))
		}
		for _, to := range e.targets {
			if _, ok := b.handlers[to]; !ok && to != NodeEnd {
				errs = append(errs, fmt.Errorf("edge %s -> %s targets unregistered node", from, to))
			}
		}
	}
	if len(errs) == 0 {
		if cycle := b.findCycle(); cycle != nil {
			errs = append(errs, fmt.Errorf("cycle detected: %v", cycle))
		}
	}
	if len(errs) > 0 {
		return nil, errors.ErrRAGGraph.WithMessagef("invalid graph: %v", errs)
	}

	return &Graph{
		entry:    b.entry,
		handlers: b.handlers,
		edges:    b.edges,
		metrics:  b.metrics,
		tracer:   otel.Tracer(tracerName),
	}, nil
}

func (b *GraphBuilder) findCycle() []Node {
	const (
		unvisited = iota
		visiting
		done
	)
	color := make(map[Node]int)
	var path []Node
	var visit func(n Node) []Node
	visit = func(n Node) []Node {
		switch color[n] {
		case visiting:
			return append(slices.Clone(path), n)
		case done:
			return nil
		}
		color[n] = visiting
		path = append(path, n)
		for _, to := range b.edges[n].targets {
			if to == NodeEnd {
				continue
			}
			if c := visit(to); c != nil {
				return c
			}
		}
		path = path[:len(path)-1]
		color[n] = done
		return nil
	}
	for n := range b.handlers {
		if c := visit(n); c != nil {
			return c
		}
	}
	return nil
}

// Graph 编译后的查询图，可并发执行多个互不相关的查询。
type Graph struct {
	entry    Node
	handlers map[Node]Handler
	edges    map[Node]edge
	metrics  *metrics.RAGMetrics
	tracer   trace.Tracer
}

// Run 从入口节点单向执行到终止，返回最后执行的节点。
// 调用方的 ctx 被取消时立即中止，状态应被丢弃。
func (g *Graph) Run(ctx context.Context, state *QueryState) (Node, error) {
	ctx, span := g.tracer.Start(ctx, "rag.graph")
	defer span.End()

	cur := g.entry
	// 无环图中每个节点至多执行一次
	for steps := 0; steps <= len(g.handlers); steps++ {
		if err := ctx.Err(); err != nil {
			return cur, err
		}

		if err := g.runNode(ctx, cur, state); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return cur, err
		}

		e := g.edges[cur]
		next := e.router(state)
		if !slices.Contains(e.targets, next) {
			return cur, errors.ErrRAGGraph.WithMessagef("router of %s returned undeclared target %s", cur, next)
		}
		if next == NodeEnd {
			span.SetAttributes(attribute.String("rag.terminal", cur.String()))
			if g.metrics != nil {
				g.metrics.RecordTerminal(cur.String())
			}
			return cur, nil
		}
		logger.Debugw("graph transition", "from", cur.String(), "to", next.String())
		cur = next
	}
	return cur, errors.ErrRAGGraph.WithMessage("graph did not terminate")
}

func (g *Graph) runNode(ctx context.Context, n Node, state *QueryState) error {
	ctx, span := g.tracer.Start(ctx, "rag."+n.String())
	defer span.End()

	start := time.Now()
	err := g.handlers[n](ctx, state)
	if g.metrics != nil {
		g.metrics.ObserveStage(n.String(), time.Since(start))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.Int("rag.documents", len(state.Documents)))
	return err
}
