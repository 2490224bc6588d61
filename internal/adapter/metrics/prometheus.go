package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "settlement"

// Prometheus implements ports.Metrics on its own registry so tests and
// multiple engines in one process never collide on the default registry.
type Prometheus struct {
	registry    *prometheus.Registry
	receipts    *prometheus.CounterVec
	channelOps  *prometheus.CounterVec
	streamOps   *prometheus.CounterVec
	transfers   *prometheus.CounterVec
	nonceCache  *prometheus.CounterVec
	httpReqs    *prometheus.CounterVec
	httpLatency *prometheus.HistogramVec
}

func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		receipts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipts_total",
			Help:      "Receipts processed, by outcome (settled or error code).",
		}, []string{"outcome"}),
		channelOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_operations_total",
			Help:      "Channel operations, by operation and outcome.",
		}, []string{"op", "outcome"}),
		streamOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_operations_total",
			Help:      "Stream operations, by operation and outcome.",
		}, []string{"op", "outcome"}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_authorizations_total",
			Help:      "Transfer authorizations verified, by outcome.",
		}, []string{"outcome"}),
		nonceCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nonce_cache_lookups_total",
			Help:      "Replay cache lookups, by result (hit, miss, error).",
		}, []string{"result"}),
		httpReqs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	p.registry.MustRegister(
		p.receipts, p.channelOps, p.streamOps, p.transfers, p.nonceCache,
		p.httpReqs, p.httpLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

func (p *Prometheus) ObserveReceipt(outcome string) {
	p.receipts.WithLabelValues(outcome).Inc()
}

func (p *Prometheus) ObserveChannel(op, outcome string) {
	p.channelOps.WithLabelValues(op, outcome).Inc()
}

func (p *Prometheus) ObserveStream(op, outcome string) {
	p.streamOps.WithLabelValues(op, outcome).Inc()
}

func (p *Prometheus) ObserveTransfer(outcome string) {
	p.transfers.WithLabelValues(outcome).Inc()
}

func (p *Prometheus) ObserveNonceCache(result string) {
	p.nonceCache.WithLabelValues(result).Inc()
}

// ObserveHTTP records one served request.
func (p *Prometheus) ObserveHTTP(route, method, status string, seconds float64) {
	p.httpReqs.WithLabelValues(route, method, status).Inc()
	p.httpLatency.WithLabelValues(route, method).Observe(seconds)
}

// Registry exposes the underlying registry.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}
