// Package telemetry provides OpenTelemetry-semantic observability for the
// rule engine service using only standard library constructs: counters,
// gauges, histograms, and a Prometheus text exposition endpoint, without
// importing the go.opentelemetry.io SDK.
package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// Config holds configuration for the telemetry provider.
type Config struct {
	ServiceName    string `json:"service_name"`
	ServiceVersion string `json:"service_version"`
	Environment    string `json:"environment"`
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "neprocare-server"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

// ---------------------------------------------------------------------------
// Histogram
// ---------------------------------------------------------------------------

// histogram is a thread-safe histogram with configurable bucket boundaries.
// Bucket counts are stored non-cumulative; cumulative counts are computed at
// export time.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits for atomic add
	mu           sync.Mutex
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

// Observe records a single value.
func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	atomicAddFloat64(&h.sum, v)

	h.mu.Lock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			h.mu.Unlock()
			return
		}
	}
	// Counted in +Inf at export.
	h.mu.Unlock()
}

func (h *histogram) Count() int64 {
	return atomic.LoadInt64(&h.count)
}

func (h *histogram) Sum() float64 {
	return math.Float64frombits(atomic.LoadUint64(&h.sum))
}

func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	raw := make([]int64, len(h.bucketCounts))
	copy(raw, h.bucketCounts)
	h.mu.Unlock()

	cum := make([]int64, len(raw))
	var running int64
	for i, c := range raw {
		running += c
		cum[i] = running
	}
	return cum
}

func atomicAddFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		newVal := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(addr, old, math.Float64bits(newVal)) {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Counter and gauge stores
// ---------------------------------------------------------------------------

type counterStore struct {
	mu    sync.RWMutex
	items map[string]*int64
}

func newCounterStore() *counterStore {
	return &counterStore{items: make(map[string]*int64)}
}

func (s *counterStore) inc(key string) {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		atomic.AddInt64(p, 1)
		return
	}
	s.mu.Lock()
	p, ok = s.items[key]
	if !ok {
		v := int64(1)
		s.items[key] = &v
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	atomic.AddInt64(p, 1)
}

func (s *counterStore) get(key string) int64 {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(p)
}

func (s *counterStore) snapshot() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]int64, len(s.items))
	for k, p := range s.items {
		cp[k] = atomic.LoadInt64(p)
	}
	return cp
}

type gaugeStore struct {
	mu    sync.RWMutex
	items map[string]*int64
}

func newGaugeStore() *gaugeStore {
	return &gaugeStore{items: make(map[string]*int64)}
}

func (s *gaugeStore) set(name string, val int64) {
	s.mu.RLock()
	p, ok := s.items[name]
	s.mu.RUnlock()
	if ok {
		atomic.StoreInt64(p, val)
		return
	}
	s.mu.Lock()
	if p, ok = s.items[name]; !ok {
		v := val
		s.items[name] = &v
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	atomic.StoreInt64(p, val)
}

func (s *gaugeStore) add(name string, delta int64) {
	s.mu.RLock()
	p, ok := s.items[name]
	s.mu.RUnlock()
	if ok {
		atomic.AddInt64(p, delta)
		return
	}
	s.mu.Lock()
	if p, ok = s.items[name]; !ok {
		v := delta
		s.items[name] = &v
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	atomic.AddInt64(p, delta)
}

func (s *gaugeStore) get(name string) int64 {
	s.mu.RLock()
	p, ok := s.items[name]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(p)
}

// ---------------------------------------------------------------------------
// Provider
// ---------------------------------------------------------------------------

// defaultDurationBuckets are histogram boundaries (seconds) for HTTP request
// and evaluation durations.
var defaultDurationBuckets = []float64{
	0.001, 0.005, 0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5,
}

// Provider manages all observability state for the service.
type Provider struct {
	cfg Config

	histograms map[string]*histogram
	histMu     sync.RWMutex
	counters   *counterStore
	gauges     *gaugeStore
}

// NewProvider creates and initialises the telemetry provider.
func NewProvider(cfg Config) *Provider {
	cfg.applyDefaults()
	return &Provider{
		cfg:        cfg,
		histograms: make(map[string]*histogram),
		counters:   newCounterStore(),
		gauges:     newGaugeStore(),
	}
}

// Resource returns the OTel resource attributes.
func (p *Provider) Resource() map[string]string {
	return map[string]string{
		"service.name":           p.cfg.ServiceName,
		"service.version":        p.cfg.ServiceVersion,
		"deployment.environment": p.cfg.Environment,
	}
}

func (p *Provider) getOrCreateHistogram(name string, boundaries []float64) *histogram {
	p.histMu.RLock()
	h, ok := p.histograms[name]
	p.histMu.RUnlock()
	if ok {
		return h
	}
	p.histMu.Lock()
	h, ok = p.histograms[name]
	if !ok {
		h = newHistogram(boundaries)
		p.histograms[name] = h
	}
	p.histMu.Unlock()
	return h
}

// ---------------------------------------------------------------------------
// Domain metrics
// ---------------------------------------------------------------------------

// RecordEvaluation counts one rule-set evaluation for a namespace and its
// duration.
func (p *Provider) RecordEvaluation(namespace string, d time.Duration) {
	p.counters.inc("rule.evaluation.count|" + namespace)
	p.getOrCreateHistogram("rule.evaluation.duration", defaultDurationBuckets).Observe(d.Seconds())
}

// RecordPublish counts one rule-set publish and updates the active-rules
// gauge for the namespace.
func (p *Provider) RecordPublish(namespace string, ruleCount int) {
	p.counters.inc("rule.publish.count|" + namespace)
	p.gauges.set("rule.set.size|"+namespace, int64(ruleCount))
}

// EvaluationCount returns the evaluation counter for a namespace.
func (p *Provider) EvaluationCount(namespace string) int64 {
	return p.counters.get("rule.evaluation.count|" + namespace)
}

// PublishCount returns the publish counter for a namespace.
func (p *Provider) PublishCount(namespace string) int64 {
	return p.counters.get("rule.publish.count|" + namespace)
}

// RuleSetSize returns the last published rule count for a namespace.
func (p *Provider) RuleSetSize(namespace string) int64 {
	return p.gauges.get("rule.set.size|" + namespace)
}

// ---------------------------------------------------------------------------
// HTTP middleware
// ---------------------------------------------------------------------------

// MetricsMiddleware returns an Echo middleware that records HTTP server
// metrics.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p.gauges.add("http.server.active_requests", 1)
			start := time.Now()

			err := next(c)

			p.gauges.add("http.server.active_requests", -1)
			p.getOrCreateHistogram("http.server.request.duration", defaultDurationBuckets).
				Observe(time.Since(start).Seconds())
			p.counters.inc(fmt.Sprintf("http.server.request.count|%s|%d",
				c.Request().Method, c.Response().Status))

			return err
		}
	}
}

// ---------------------------------------------------------------------------
// Prometheus exposition
// ---------------------------------------------------------------------------

// PrometheusHandler serves metrics in Prometheus text exposition format.
func (p *Provider) PrometheusHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		p.histMu.RLock()
		durationHist := p.histograms["http.server.request.duration"]
		evalHist := p.histograms["rule.evaluation.duration"]
		p.histMu.RUnlock()

		writeHistogram(&b, "http_server_request_duration_seconds",
			"Duration of HTTP requests in seconds.", durationHist, defaultDurationBuckets)
		writeHistogram(&b, "rule_evaluation_duration_seconds",
			"Duration of rule-set evaluations in seconds.", evalHist, defaultDurationBuckets)

		b.WriteString("# HELP http_server_active_requests Number of active HTTP requests.\n")
		b.WriteString("# TYPE http_server_active_requests gauge\n")
		fmt.Fprintf(&b, "http_server_active_requests %d\n\n", p.gauges.get("http.server.active_requests"))

		counters := p.counters.snapshot()
		writeLabeledCounter(&b, counters, "rule.evaluation.count", "rule_evaluation_count",
			"Total rule-set evaluations by namespace.", "namespace")
		writeLabeledCounter(&b, counters, "rule.publish.count", "rule_publish_count",
			"Total rule-set publishes by namespace.", "namespace")

		b.WriteString("# HELP rule_set_size Active rules in the last published set by namespace.\n")
		b.WriteString("# TYPE rule_set_size gauge\n")
		p.gauges.mu.RLock()
		for name, v := range p.gauges.items {
			if ns, ok := strings.CutPrefix(name, "rule.set.size|"); ok {
				fmt.Fprintf(&b, "rule_set_size{namespace=%q} %d\n", ns, atomic.LoadInt64(v))
			}
		}
		p.gauges.mu.RUnlock()
		b.WriteByte('\n')

		return c.String(http.StatusOK, b.String())
	}
}

func writeLabeledCounter(b *strings.Builder, counters map[string]int64, key, promName, help, label string) {
	fmt.Fprintf(b, "# HELP %s %s\n", promName, help)
	fmt.Fprintf(b, "# TYPE %s counter\n", promName)
	for k, v := range counters {
		if val, ok := strings.CutPrefix(k, key+"|"); ok {
			fmt.Fprintf(b, "%s{%s=%q} %d\n", promName, label, val, v)
		}
	}
	b.WriteByte('\n')
}

func writeHistogram(b *strings.Builder, name, help string, h *histogram, boundaries []float64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s histogram\n", name)
	if h != nil {
		cum := h.cumulativeBuckets()
		total := h.Count()
		for i, boundary := range boundaries {
			fmt.Fprintf(b, "%s_bucket{le=\"%g\"} %d\n", name, boundary, cum[i])
		}
		fmt.Fprintf(b, "%s_bucket{le=\"+Inf\"} %d\n", name, total)
		fmt.Fprintf(b, "%s_sum %g\n", name, h.Sum())
		fmt.Fprintf(b, "%s_count %d\n", name, total)
	}
	b.WriteByte('\n')
}
