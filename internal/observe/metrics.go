// Package observe wires Health Guide to OpenTelemetry: metric instruments for
// the call and chat pipelines, span helpers that stamp log lines with the
// trace ID, and an HTTP middleware for the probe listener.
//
// Instruments are created against whatever [metric.MeterProvider] is passed
// to [NewMetrics]. [InitProvider] installs the process-wide provider that
// exports to Prometheus; [DefaultMetrics] binds to it lazily. Tests build
// their own provider with a manual reader.
package observe

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/healthguide"

// Metrics holds the application's instruments. It is safe for concurrent use.
type Metrics struct {
	// SessionSetupDuration is the time from Start until the live connection
	// is ready or has failed, labelled by status.
	SessionSetupDuration metric.Float64Histogram
	// ChatDuration is the time to stream one complete chat reply.
	ChatDuration metric.Float64Histogram
	// HTTPRequestDuration is labelled by method, route and status code.
	HTTPRequestDuration metric.Float64Histogram

	FramesSent      metric.Int64Counter
	FramesDropped   metric.Int64Counter // by reason
	ChunksScheduled metric.Int64Counter
	ChunksDropped   metric.Int64Counter // undecodable model audio
	Interruptions   metric.Int64Counter
	ChatRequests    metric.Int64Counter // by status
	TransportErrors metric.Int64Counter // by kind: open, stream

	// ActiveSessions counts live voice sessions that hold audio devices.
	ActiveSessions metric.Int64UpDownCounter
}

// Seconds, from a fast local handshake to a slow streamed answer.
var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30}

// instruments gathers creation errors so NewMetrics reads as a flat list.
type instruments struct {
	m    metric.Meter
	errs []error
}

func (in *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := in.m.Int64Counter(name, metric.WithDescription(desc))
	in.errs = append(in.errs, err)
	return c
}

func (in *instruments) latency(name, desc string, buckets []float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if buckets != nil {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := in.m.Float64Histogram(name, opts...)
	in.errs = append(in.errs, err)
	return h
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	in := &instruments{m: mp.Meter(meterName)}
	met := &Metrics{
		SessionSetupDuration: in.latency("healthguide.session.setup.duration", "Latency of live session setup.", latencyBuckets),
		ChatDuration:         in.latency("healthguide.chat.duration", "Latency of a complete streamed chat reply.", latencyBuckets),
		HTTPRequestDuration:  in.latency("healthguide.http.request.duration", "Probe listener request latency.", nil),

		FramesSent:      in.counter("healthguide.capture.frames_sent", "Capture frames sent to the live transport."),
		FramesDropped:   in.counter("healthguide.capture.frames_dropped", "Capture frames dropped, by reason."),
		ChunksScheduled: in.counter("healthguide.playback.chunks_scheduled", "Model audio chunks scheduled for playback."),
		ChunksDropped:   in.counter("healthguide.playback.chunks_dropped", "Model audio chunks that failed to decode."),
		Interruptions:   in.counter("healthguide.playback.interruptions", "Barge-in interruptions that flushed playback."),
		ChatRequests:    in.counter("healthguide.chat.requests", "Chat turns, by status."),
		TransportErrors: in.counter("healthguide.transport.errors", "Live transport errors, by kind."),
	}
	var err error
	met.ActiveSessions, err = in.m.Int64UpDownCounter("healthguide.active_sessions",
		metric.WithDescription("Live voice sessions holding audio devices."))
	in.errs = append(in.errs, err)

	if err := errors.Join(in.errs...); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics], created on first use
// from [otel.GetMeterProvider]. Call [InitProvider] first so the instruments
// reach the Prometheus exporter.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

func label(key, value string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String(key, value))
}

// RecordFrameDropped counts a capture frame the transport did not take.
func (m *Metrics) RecordFrameDropped(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1, label("reason", reason))
}

// RecordTransportError counts a live transport failure; kind is "open" or
// "stream".
func (m *Metrics) RecordTransportError(ctx context.Context, kind string) {
	m.TransportErrors.Add(ctx, 1, label("kind", kind))
}

func (m *Metrics) RecordSessionSetup(ctx context.Context, seconds float64, status string) {
	m.SessionSetupDuration.Record(ctx, seconds, label("status", status))
}

// RecordChatRequest counts a chat turn. Only turns with status "ok" feed the
// latency histogram.
func (m *Metrics) RecordChatRequest(ctx context.Context, seconds float64, status string) {
	m.ChatRequests.Add(ctx, 1, label("status", status))
	if status == "ok" {
		m.ChatDuration.Record(ctx, seconds)
	}
}
