package metrics

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// OtelBridge mirrors every Registry write into an OpenTelemetry float64
// gauge, as an alternate export path alongside PrometheusBridge. Grounded in
// the teacher's otel_provider.go, which lazily creates one instrument per
// metric name against a shared meter the same way PrometheusBridge lazily
// creates one collector per name against a shared Prometheus registry.
//
// Both bridges implement AlertSink and can be composed with Fanout, so a
// deployment can export to Prometheus, OTel, or both without the Registry
// knowing which.
type OtelBridge struct {
	meter metric.Meter

	mu         sync.Mutex
	gauges     map[string]metric.Float64Gauge
	lastValues map[string]float64
}

// NewOtelBridge constructs a bridge against an in-process SDK meter
// provider. Callers that already run an OTel collector pipeline can instead
// build their own metric.Meter and wire it via NewOtelBridgeWithMeter.
func NewOtelBridge() *OtelBridge {
	provider := sdkmetric.NewMeterProvider()
	return NewOtelBridgeWithMeter(provider.Meter("vagasbot/scraper"))
}

// NewOtelBridgeWithMeter builds a bridge against a caller-supplied meter,
// for deployments that already own a MeterProvider/exporter pipeline.
func NewOtelBridgeWithMeter(meter metric.Meter) *OtelBridge {
	return &OtelBridge{
		meter:      meter,
		gauges:     make(map[string]metric.Float64Gauge),
		lastValues: make(map[string]float64),
	}
}

// Observe implements AlertSink.
func (b *OtelBridge) Observe(name string, value float64, labels map[string]string) {
	instName := otelSafeName(name)

	b.mu.Lock()
	g, ok := b.gauges[instName]
	if !ok {
		var err error
		g, err = b.meter.Float64Gauge(instName, metric.WithDescription("bridged metric "+name))
		if err != nil {
			b.mu.Unlock()
			return
		}
		b.gauges[instName] = g
	}
	b.lastValues[instName] = value
	b.mu.Unlock()

	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	g.Record(context.Background(), value, metric.WithAttributes(attrs...))
}

func otelSafeName(name string) string {
	r := strings.NewReplacer(" ", "_")
	return r.Replace(name)
}
