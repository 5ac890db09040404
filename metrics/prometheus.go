package metrics

import (
	"net/http"
	"regexp"
	"strings"
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var metricNameRE = regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_:]*$`)

// PrometheusBridge mirrors every Registry write into a Prometheus registry,
// exposing it over an http.Handler. Grounded in the teacher's
// telemetry/metrics.PrometheusProvider, which lazily creates a collector per
// metric name on first use; this bridge does the same but drives itself off
// Registry writes instead of exposing its own New*() constructors, since the
// Registry is already the single point of truth for metric identity here.
type PrometheusBridge struct {
	reg     *prom.Registry
	mu      sync.Mutex
	gauges  map[string]*prom.GaugeVec
	handler http.Handler
}

// NewPrometheusBridge constructs a bridge with its own Prometheus registry.
func NewPrometheusBridge() *PrometheusBridge {
	reg := prom.NewRegistry()
	return &PrometheusBridge{
		reg:     reg,
		gauges:  make(map[string]*prom.GaugeVec),
		handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
}

// Handler exposes the bridged metrics for a /metrics endpoint.
func (b *PrometheusBridge) Handler() http.Handler { return b.handler }

// Observe implements AlertSink, so a bridge can be wired into
// Registry.SetAlertSink (typically via a Fanout alongside the Alert Engine).
// Every metric is exported as a gauge: the registry already distinguishes
// counter/gauge/timer/histogram semantics internally via Summarize, and a
// gauge reflecting "most recent value" is sufficient for dashboards scraping
// this bridge.
func (b *PrometheusBridge) Observe(name string, value float64, labels map[string]string) {
	fq := sanitizeName(name)
	if !metricNameRE.MatchString(fq) {
		return
	}
	labelNames := make([]string, 0, len(labels))
	labelValues := make([]string, 0, len(labels))
	for k := range labels {
		labelNames = append(labelNames, k)
	}
	for _, k := range labelNames {
		labelValues = append(labelValues, labels[k])
	}

	b.mu.Lock()
	gv, ok := b.gauges[fq]
	if !ok {
		gv = prom.NewGaugeVec(prom.GaugeOpts{Name: fq, Help: "bridged metric " + name}, labelNames)
		if err := b.reg.Register(gv); err != nil {
			if are, ok := err.(prom.AlreadyRegisteredError); ok {
				gv = are.ExistingCollector.(*prom.GaugeVec)
			} else {
				b.mu.Unlock()
				return
			}
		}
		b.gauges[fq] = gv
	}
	b.mu.Unlock()

	gv.WithLabelValues(labelValues...).Set(value)
}

func sanitizeName(name string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(name)
}
