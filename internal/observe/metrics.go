// Package observe holds the OpenTelemetry instruments for the bridge and the
// Prometheus exporter that serves them on /metrics.
package observe

import (
	"context"

	"github.com/foxseedlab/streamkoshin/internal/transcriber"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/foxseedlab/streamkoshin"

// Metrics implements session.Metrics on top of OTel instruments. All fields
// are safe for concurrent use.
type Metrics struct {
	ActiveSessions  metric.Int64UpDownCounter
	SessionsEnded   metric.Int64Counter
	Restarts        metric.Int64Counter
	TransportErrors metric.Int64Counter
	Finals          metric.Int64Counter
	AudioBytesSent  metric.Int64Counter

	HTTPRequestDuration metric.Float64Histogram
}

var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates every instrument from mp. Tests pass a provider backed
// by a ManualReader.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ActiveSessions, err = m.Int64UpDownCounter("streamkoshin.sessions.active",
		metric.WithDescription("Number of running transcription sessions."),
	); err != nil {
		return nil, err
	}
	if met.SessionsEnded, err = m.Int64Counter("streamkoshin.sessions.ended",
		metric.WithDescription("Finished sessions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Restarts, err = m.Int64Counter("streamkoshin.stream.restarts",
		metric.WithDescription("Upstream stream restarts by reason."),
	); err != nil {
		return nil, err
	}
	if met.TransportErrors, err = m.Int64Counter("streamkoshin.transport.errors",
		metric.WithDescription("Upstream transport errors by kind."),
	); err != nil {
		return nil, err
	}
	if met.Finals, err = m.Int64Counter("streamkoshin.transcripts.final",
		metric.WithDescription("Final transcripts delivered to sinks."),
	); err != nil {
		return nil, err
	}
	if met.AudioBytesSent, err = m.Int64Counter("streamkoshin.audio.sent",
		metric.WithDescription("Audio bytes sent upstream, replays included."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("streamkoshin.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	return met, nil
}

func (m *Metrics) SessionStarted(ctx context.Context) {
	m.ActiveSessions.Add(ctx, 1)
}

func (m *Metrics) SessionEnded(ctx context.Context, outcome string) {
	m.ActiveSessions.Add(ctx, -1)
	m.SessionsEnded.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) RestartRecorded(ctx context.Context, reason string) {
	m.Restarts.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) TransportError(ctx context.Context, kind transcriber.Kind) {
	m.TransportErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind.String())))
}

func (m *Metrics) FinalDelivered(ctx context.Context) {
	m.Finals.Add(ctx, 1)
}

func (m *Metrics) AudioSent(ctx context.Context, bytes int) {
	m.AudioBytesSent.Add(ctx, int64(bytes))
}
