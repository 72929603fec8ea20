package ingest

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const ingestInstrumentationName = "github.com/nelalabs/retrievald/internal/ingest"

// Metrics holds all ingestion-related metrics.
type Metrics struct {
	meter        metric.Meter
	logger       *zap.Logger
	jobDuration  metric.Float64Histogram
	jobsFinished metric.Int64Counter
	batchSize    metric.Int64Histogram
	embedRetries metric.Int64Counter
}

// NewMetrics creates a new Metrics instance for ingestion.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{
		meter:  otel.Meter(ingestInstrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.jobDuration, err = m.meter.Float64Histogram(
		"retrievald.ingest.job_duration_seconds",
		metric.WithDescription("Wall time per ingestion job by terminal status"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		m.logger.Warn("failed to create job duration histogram", zap.Error(err))
	}

	m.jobsFinished, err = m.meter.Int64Counter(
		"retrievald.ingest.jobs_finished_total",
		metric.WithDescription("Ingestion jobs reaching a terminal state, by status"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		m.logger.Warn("failed to create jobs finished counter", zap.Error(err))
	}

	m.batchSize, err = m.meter.Int64Histogram(
		"retrievald.ingest.batch_size",
		metric.WithDescription("Chunks per committed storage batch"),
		metric.WithUnit("{chunk}"),
		metric.WithExplicitBucketBoundaries(1, 10, 50, 100, 200, 300, 400, 500),
	)
	if err != nil {
		m.logger.Warn("failed to create batch size histogram", zap.Error(err))
	}

	m.embedRetries, err = m.meter.Int64Counter(
		"retrievald.ingest.embed_retries_total",
		metric.WithDescription("Embedding attempts retried after a transient failure"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		m.logger.Warn("failed to create embed retries counter", zap.Error(err))
	}
}

// RecordJob records one job reaching a terminal state.
func (m *Metrics) RecordJob(ctx context.Context, status string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	if m.jobDuration != nil {
		m.jobDuration.Record(ctx, duration.Seconds(), attrs)
	}
	if m.jobsFinished != nil {
		m.jobsFinished.Add(ctx, 1, attrs)
	}
}

// RecordBatch records one committed batch.
func (m *Metrics) RecordBatch(ctx context.Context, size int) {
	if m.batchSize != nil {
		m.batchSize.Record(ctx, int64(size))
	}
}

// RecordEmbedRetry records one embedding retry.
func (m *Metrics) RecordEmbedRetry(ctx context.Context) {
	if m.embedRetries != nil {
		m.embedRetries.Add(ctx, 1)
	}
}
