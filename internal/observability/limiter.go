package observability

import (
	"context"
	"time"

	"gatekeeper/internal/ratelimit"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "gatekeeper/ratelimit"

// RegistryStats exposes bucket registry counters for observable instruments.
type RegistryStats interface {
	Len() int
	Created() int64
	Evicted() int64
}

// LimiterOption customizes an InstrumentedLimiter.
type LimiterOption func(*limiterOptions)

type limiterOptions struct {
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	stats          RegistryStats
}

// WithMeterProvider overrides the global meter provider.
func WithMeterProvider(mp metric.MeterProvider) LimiterOption {
	return func(o *limiterOptions) { o.meterProvider = mp }
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) LimiterOption {
	return func(o *limiterOptions) { o.tracerProvider = tp }
}

// WithRegistryStats reports bucket counts from stats.
func WithRegistryStats(stats RegistryStats) LimiterOption {
	return func(o *limiterOptions) { o.stats = stats }
}

// InstrumentedLimiter wraps a ratelimit.Limiter with OpenTelemetry tracing
// and metrics.
type InstrumentedLimiter struct {
	inner        ratelimit.Limiter
	tracer       trace.Tracer
	decisions    metric.Int64Counter
	duration     metric.Float64Histogram
	registration metric.Registration
}

// NewInstrumentedLimiter creates a limiter wrapper that counts decisions,
// records decision latency and traces each decision made with a request
// context.
func NewInstrumentedLimiter(inner ratelimit.Limiter, opts ...LimiterOption) (*InstrumentedLimiter, error) {
	o := limiterOptions{
		meterProvider:  otel.GetMeterProvider(),
		tracerProvider: otel.GetTracerProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	meter := o.meterProvider.Meter(instrumentationName)

	decisions, err := meter.Int64Counter(
		"ratelimit.decisions",
		metric.WithDescription("Number of admission decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"ratelimit.decision.duration",
		metric.WithDescription("Duration of admission decisions in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	l := &InstrumentedLimiter{
		inner:     inner,
		tracer:    o.tracerProvider.Tracer(instrumentationName),
		decisions: decisions,
		duration:  duration,
	}

	if o.stats != nil {
		if l.registration, err = registerRegistryStats(meter, o.stats); err != nil {
			return nil, err
		}
	}

	return l, nil
}

func registerRegistryStats(meter metric.Meter, stats RegistryStats) (metric.Registration, error) {
	buckets, err := meter.Int64ObservableGauge(
		"ratelimit.buckets",
		metric.WithDescription("Number of live client buckets"),
		metric.WithUnit("{bucket}"),
	)
	if err != nil {
		return nil, err
	}

	created, err := meter.Int64ObservableCounter(
		"ratelimit.buckets.created",
		metric.WithDescription("Client buckets created since start"),
		metric.WithUnit("{bucket}"),
	)
	if err != nil {
		return nil, err
	}

	evicted, err := meter.Int64ObservableCounter(
		"ratelimit.buckets.evicted",
		metric.WithDescription("Client buckets evicted since start"),
		metric.WithUnit("{bucket}"),
	)
	if err != nil {
		return nil, err
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(buckets, int64(stats.Len()))
		o.ObserveInt64(created, stats.Created())
		o.ObserveInt64(evicted, stats.Evicted())
		return nil
	}, buckets, created, evicted)
}

// Allow records metrics for the decision without a span.
func (l *InstrumentedLimiter) Allow(key string) (bool, ratelimit.Info) {
	start := time.Now()
	allowed, info := l.inner.Allow(key)
	l.record(context.Background(), start, allowed)
	return allowed, info
}

// AllowContext records metrics and a span as a child of ctx.
func (l *InstrumentedLimiter) AllowContext(ctx context.Context, key string) (bool, ratelimit.Info) {
	ctx, span := l.tracer.Start(ctx, "ratelimit.Allow",
		trace.WithAttributes(attribute.String("ratelimit.key", key)),
	)
	defer span.End()

	start := time.Now()
	allowed, info := l.inner.Allow(key)
	l.record(ctx, start, allowed)

	span.SetAttributes(
		attribute.Bool("ratelimit.allowed", allowed),
		attribute.Int64("ratelimit.remaining", info.Remaining),
	)
	if !allowed {
		span.AddEvent("rate limit exceeded", trace.WithAttributes(
			attribute.Int64("ratelimit.retry_after_ms", info.RetryAfter.Milliseconds()),
		))
	}
	return allowed, info
}

func (l *InstrumentedLimiter) record(ctx context.Context, start time.Time, allowed bool) {
	attrs := metric.WithAttributes(attribute.Bool("allowed", allowed))
	l.decisions.Add(ctx, 1, attrs)
	l.duration.Record(ctx, time.Since(start).Seconds(), attrs)
}

// Close unregisters the registry callback and closes the inner limiter.
func (l *InstrumentedLimiter) Close() {
	if l.registration != nil {
		l.registration.Unregister()
	}
	l.inner.Close()
}
