package retrieval

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const retrievalInstrumentationName = "github.com/nelalabs/retrievald/internal/retrieval"

// Metrics holds all retrieval-related metrics.
type Metrics struct {
	meter           metric.Meter
	logger          *zap.Logger
	queryDuration   metric.Float64Histogram
	queryErrors     metric.Int64Counter
	rerankFallbacks metric.Int64Counter
}

// NewMetrics creates a new Metrics instance for retrieval.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{
		meter:  otel.Meter(retrievalInstrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.queryDuration, err = m.meter.Float64Histogram(
		"retrievald.retrieval.query_duration_seconds",
		metric.WithDescription("End-to-end hybrid query duration in seconds, embedding included"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0),
	)
	if err != nil {
		m.logger.Warn("failed to create query duration histogram", zap.Error(err))
	}

	m.queryErrors, err = m.meter.Int64Counter(
		"retrievald.retrieval.query_errors_total",
		metric.WithDescription("Total failed hybrid queries"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn("failed to create query errors counter", zap.Error(err))
	}

	m.rerankFallbacks, err = m.meter.Int64Counter(
		"retrievald.retrieval.rerank_fallbacks_total",
		metric.WithDescription("Queries answered with the fused ordering because the rerank strategy failed"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		m.logger.Warn("failed to create rerank fallbacks counter", zap.Error(err))
	}
}

// RecordQuery records one hybrid query.
func (m *Metrics) RecordQuery(ctx context.Context, duration time.Duration, err error) {
	if m.queryDuration != nil {
		m.queryDuration.Record(ctx, duration.Seconds())
	}
	if err != nil && m.queryErrors != nil {
		m.queryErrors.Add(ctx, 1)
	}
}

// RecordRerankFallback records a query that fell back to the fused order.
func (m *Metrics) RecordRerankFallback(ctx context.Context, strategy string) {
	if m.rerankFallbacks == nil {
		return
	}
	m.rerankFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", strategy)))
}
