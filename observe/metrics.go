package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Outcome classifies a single cache lookup.
type Outcome string

const (
	// OutcomeHit means a valid entry was returned from the cache.
	OutcomeHit Outcome = "hit"
	// OutcomeMiss means no entry existed and the call was computed.
	OutcomeMiss Outcome = "miss"
	// OutcomeInvalidOutput means a stale result reference forced a
	// recompute.
	OutcomeInvalidOutput Outcome = "invalid_output"
	// OutcomeInvalidInput means a stale input reference failed the call.
	OutcomeInvalidInput Outcome = "invalid_input"
)

// Metrics records cache engine metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must honor cancellation/deadlines and return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordLookup records one cache lookup and its outcome.
	RecordLookup(ctx context.Context, meta CallMeta, outcome Outcome)

	// RecordCompute records an invocation of the underlying callable.
	RecordCompute(ctx context.Context, meta CallMeta, duration time.Duration, err error)

	// RecordClaimWait records time spent waiting for another caller's
	// claim on the same key.
	RecordClaimWait(ctx context.Context, meta CallMeta, wait time.Duration, timedOut bool)
}

// metricsImpl is the concrete implementation of Metrics.
type metricsImpl struct {
	meter         metric.Meter
	requests      metric.Int64Counter
	hits          metric.Int64Counter
	misses        metric.Int64Counter
	invalidations metric.Int64Counter
	computeHist   metric.Float64Histogram
	claimWaitHist metric.Float64Histogram
}

// newMetrics creates a new Metrics instance with the given meter.
func newMetrics(meter metric.Meter) (*metricsImpl, error) {
	requests, err := meter.Int64Counter(
		"cache.requests",
		metric.WithDescription("Total number of cache lookups"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	hits, err := meter.Int64Counter(
		"cache.hits",
		metric.WithDescription("Lookups answered from the cache"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	misses, err := meter.Int64Counter(
		"cache.misses",
		metric.WithDescription("Lookups that computed the call"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	invalidations, err := meter.Int64Counter(
		"cache.invalidations",
		metric.WithDescription("Entries found stale during validation"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	computeHist, err := meter.Float64Histogram(
		"cache.compute.duration_ms",
		metric.WithDescription("Underlying callable duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	claimWaitHist, err := meter.Float64Histogram(
		"cache.claim.wait_ms",
		metric.WithDescription("Time spent waiting on another caller's claim"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		meter:         meter,
		requests:      requests,
		hits:          hits,
		misses:        misses,
		invalidations: invalidations,
		computeHist:   computeHist,
		claimWaitHist: claimWaitHist,
	}, nil
}

func callAttrs(meta CallMeta) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("cache.func", meta.Func),
	}
	if meta.Tag != "" {
		attrs = append(attrs, attribute.String("cache.tag", meta.Tag))
	}
	return attrs
}

// RecordLookup records one cache lookup and its outcome.
func (m *metricsImpl) RecordLookup(ctx context.Context, meta CallMeta, outcome Outcome) {
	attrs := callAttrs(meta)
	attrs = append(attrs, attribute.String("cache.outcome", string(outcome)))
	opt := metric.WithAttributes(attrs...)

	m.requests.Add(ctx, 1, opt)
	switch outcome {
	case OutcomeHit:
		m.hits.Add(ctx, 1, opt)
	case OutcomeMiss:
		m.misses.Add(ctx, 1, opt)
	case OutcomeInvalidOutput, OutcomeInvalidInput:
		m.invalidations.Add(ctx, 1, opt)
	}
}

// RecordCompute records an invocation of the underlying callable.
func (m *metricsImpl) RecordCompute(ctx context.Context, meta CallMeta, duration time.Duration, err error) {
	attrs := callAttrs(meta)
	attrs = append(attrs, attribute.Bool("cache.error", err != nil))
	m.computeHist.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordClaimWait records time spent waiting for a contested key.
func (m *metricsImpl) RecordClaimWait(ctx context.Context, meta CallMeta, wait time.Duration, timedOut bool) {
	attrs := callAttrs(meta)
	attrs = append(attrs, attribute.Bool("cache.timeout", timedOut))
	m.claimWaitHist.Record(ctx, float64(wait.Milliseconds()), metric.WithAttributes(attrs...))
}

// noopMetrics is a metrics implementation that does nothing.
type noopMetrics struct{}

func (m *noopMetrics) RecordLookup(ctx context.Context, meta CallMeta, outcome Outcome) {}
func (m *noopMetrics) RecordCompute(ctx context.Context, meta CallMeta, duration time.Duration, err error) {
}
func (m *noopMetrics) RecordClaimWait(ctx context.Context, meta CallMeta, wait time.Duration, timedOut bool) {
}

// NewNoopMetrics returns a Metrics that records nothing.
func NewNoopMetrics() Metrics { return &noopMetrics{} }
