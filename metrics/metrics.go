package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hlsrelay"

// Result label values
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultHit     = "hit"
	ResultMiss    = "miss"
	ResultExpired = "expired"
	ResultInvalid = "invalid"
	ResultBadReq  = "malformed"
)

// Metrics 服务指标，注册在私有 registry 上
//
// All methods are safe on a nil receiver so components can run without metrics.
type Metrics struct {
	signaturesVerified *prometheus.CounterVec
	cacheLookups       *prometheus.CounterVec
	segmentsFetched    *prometheus.CounterVec
	segmentBytes       prometheus.Counter
	assemblyDuration   *prometheus.HistogramVec
	upstreamRequests   *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates the collectors and registers them.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.signaturesVerified = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signatures_verified_total",
			Help:      "Signed URL verifications by result",
		},
		[]string{"result"},
	)

	m.cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Response cache lookups by result",
		},
		[]string{"result"},
	)

	m.segmentsFetched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_fetched_total",
			Help:      "Segment fetches by result",
		},
		[]string{"result"},
	)

	m.segmentBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segment_bytes_total",
			Help:      "Bytes relayed from segments to clients",
		},
	)

	m.assemblyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "assembly_duration_seconds",
			Help:      "Duration of a full manifest assembly",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	m.upstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Requests to the content provider by endpoint and result",
		},
		[]string{"endpoint", "result"},
	)

	m.registry.MustRegister(
		m.signaturesVerified,
		m.cacheLookups,
		m.segmentsFetched,
		m.segmentBytes,
		m.assemblyDuration,
		m.upstreamRequests,
	)
	return m
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SignatureVerified(result string) {
	if m == nil {
		return
	}
	m.signaturesVerified.WithLabelValues(result).Inc()
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := ResultMiss
	if hit {
		result = ResultHit
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// SegmentFetched records one segment fetch and, on success, its size.
func (m *Metrics) SegmentFetched(ok bool, bytes int64) {
	if m == nil {
		return
	}
	if !ok {
		m.segmentsFetched.WithLabelValues(ResultError).Inc()
		return
	}
	m.segmentsFetched.WithLabelValues(ResultOK).Inc()
	m.segmentBytes.Add(float64(bytes))
}

func (m *Metrics) AssemblyFinished(ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := ResultOK
	if !ok {
		result = ResultError
	}
	m.assemblyDuration.WithLabelValues(result).Observe(elapsed.Seconds())
}

func (m *Metrics) UpstreamRequest(endpoint, result string) {
	if m == nil {
		return
	}
	m.upstreamRequests.WithLabelValues(endpoint, result).Inc()
}
