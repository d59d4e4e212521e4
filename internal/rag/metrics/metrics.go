// Package metrics 提供 RAG 服务的业务指标收集。
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "compliance_rag"

// RAGMetrics RAG 服务业务指标。
type RAGMetrics struct {
	registry *prometheus.Registry

	// 查询指标
	queriesTotal *prometheus.CounterVec // 按结果分类：ok / error
	routesTotal  *prometheus.CounterVec // 按终止节点分类

	// 阶段耗时
	stageDuration *prometheus.HistogramVec

	// 评分指标
	gradesTotal *prometheus.CounterVec // yes / no / error

	// LLM 调用指标
	llmCallsTotal    *prometheus.CounterVec
	llmCallsDuration *prometheus.HistogramVec

	// 索引指标
	buildsTotal     *prometheus.CounterVec
	indexedChunks   prometheus.Gauge
	indexedDocument prometheus.Gauge
}

// globalRAGMetrics 全局 RAG 指标实例。
var (
	globalRAGMetrics *RAGMetrics
	ragMetricsOnce   sync.Once
)

// GetRAGMetrics 获取全局 RAG 指标实例。
func GetRAGMetrics() *RAGMetrics {
	ragMetricsOnce.Do(func() {
		globalRAGMetrics = NewRAGMetrics()
	})
	return globalRAGMetrics
}

// NewRAGMetrics 创建独立注册表的指标实例，并注册 Go 运行时和进程指标。
func NewRAGMetrics() *RAGMetrics {
	reg := prometheus.NewRegistry()
	m := &RAGMetrics{
		registry: reg,
		queriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total number of RAG queries by result.",
		}, []string{"result"}),
		routesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_terminal_total",
			Help:      "Number of queries finished at each terminal node.",
		}, []string{"node"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "graph_stage_duration_seconds",
			Help:      "Duration of each graph stage.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"stage"}),
		gradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grades_total",
			Help:      "Document grading verdicts.",
		}, []string{"verdict"}),
		llmCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "Language model calls by purpose and result.",
		}, []string{"purpose", "result"}),
		llmCallsDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_call_duration_seconds",
			Help:      "Language model call latency by purpose.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"purpose"}),
		buildsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_builds_total",
			Help:      "Index builds by result.",
		}, []string{"result"}),
		indexedChunks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "indexed_chunks",
			Help:      "Number of chunks in the last successful build.",
		}),
		indexedDocument: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "indexed_documents",
			Help:      "Number of documents in the last successful build.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.queriesTotal,
		m.routesTotal,
		m.stageDuration,
		m.gradesTotal,
		m.llmCallsTotal,
		m.llmCallsDuration,
		m.buildsTotal,
		m.indexedChunks,
		m.indexedDocument,
	)
	return m
}

// Registry 返回指标注册表，用于暴露 /metrics。
func (m *RAGMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordQuery 记录查询结果。
func (m *RAGMetrics) RecordQuery(err error) {
	m.queriesTotal.WithLabelValues(result(err)).Inc()
}

// RecordTerminal 记录查询结束时所在的终止节点。
func (m *RAGMetrics) RecordTerminal(node string) {
	m.routesTotal.WithLabelValues(node).Inc()
}

// ObserveStage 记录图节点耗时。
func (m *RAGMetrics) ObserveStage(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordGrade 记录单个文档的评分结果。
func (m *RAGMetrics) RecordGrade(relevant bool, err error) {
	switch {
	case err != nil:
		m.gradesTotal.WithLabelValues("error").Inc()
	case relevant:
		m.gradesTotal.WithLabelValues("yes").Inc()
	default:
		m.gradesTotal.WithLabelValues("no").Inc()
	}
}

// RecordLLMCall 记录 LLM 调用。
func (m *RAGMetrics) RecordLLMCall(purpose string, d time.Duration, err error) {
	m.llmCallsTotal.WithLabelValues(purpose, result(err)).Inc()
	if err == nil {
		m.llmCallsDuration.WithLabelValues(purpose).Observe(d.Seconds())
	}
}

// RecordIndexing 记录索引构建。
func (m *RAGMetrics) RecordIndexing(documents, chunks int, err error) {
	m.buildsTotal.WithLabelValues(result(err)).Inc()
	if err != nil {
		return
	}
	m.indexedDocument.Set(float64(documents))
	m.indexedChunks.Set(float64(chunks))
}
