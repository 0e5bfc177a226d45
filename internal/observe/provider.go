package observe

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"

	"github.com/MrWong99/earwig/pkg/listen"
)

// Resource attribute keys describing the capture pipeline. The Prometheus
// exporter publishes them as labels of target_info.
const (
	AttrSampleRate   = attribute.Key("earwig.audio.sample_rate")
	AttrFrameMs      = attribute.Key("earwig.audio.frame_ms")
	AttrDevice       = attribute.Key("earwig.audio.device")
	AttrVAD          = attribute.Key("earwig.vad.provider")
	AttrSTT          = attribute.Key("earwig.stt.provider")
	AttrMaxUtterance = attribute.Key("earwig.endpoint.max_utterance_s")
)

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	// ServiceName defaults to "earwig".
	ServiceName    string
	ServiceVersion string

	// Listen is the pipeline configuration the process runs with. Its audio
	// format and endpointing cap are attached to every exported metric.
	Listen listen.Config

	// Device, VAD and STT name the configured providers. Empty values are
	// left out of the resource.
	Device string
	VAD    string
	STT    string

	// Registerer receives the Prometheus collector. Nil means the default
	// registry, which is what promhttp.Handler serves.
	Registerer prometheus.Registerer

	// TraceExporter is optional; without one spans are recorded but never
	// exported.
	TraceExporter sdktrace.SpanExporter
}

// NewResource describes this process: service identity plus the capture
// format and providers from cfg.
func NewResource(cfg ProviderConfig) (*resource.Resource, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "earwig"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	}
	if cfg.Listen.SampleRate > 0 {
		attrs = append(attrs,
			AttrSampleRate.Int(cfg.Listen.SampleRate),
			AttrFrameMs.Int(cfg.Listen.FrameDurationMs),
			AttrMaxUtterance.Int(cfg.Listen.MaxUtteranceS),
		)
	}
	for _, kv := range []struct {
		key attribute.Key
		val string
	}{{AttrDevice, cfg.Device}, {AttrVAD, cfg.VAD}, {AttrSTT, cfg.STT}} {
		if kv.val != "" {
			attrs = append(attrs, kv.key.String(kv.val))
		}
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, attrs...))
	if err != nil {
		return nil, fmt.Errorf("observe: resource: %w", err)
	}
	return res, nil
}

// InitProvider installs a Prometheus-backed [sdkmetric.MeterProvider] and a
// [sdktrace.TracerProvider] as the global OTel providers, both carrying the
// resource from [NewResource].
//
// The returned shutdown flushes and closes both; call it from main.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	res, err := NewResource(cfg)
	if err != nil {
		return nil, err
	}

	var expOpts []promexporter.Option
	if cfg.Registerer != nil {
		expOpts = append(expOpts, promexporter.WithRegisterer(cfg.Registerer))
	}
	promExp, err := promexporter.New(expOpts...)
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(mp.Shutdown(ctx), tp.Shutdown(ctx))
	}, nil
}
