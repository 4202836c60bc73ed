// Package metrics provides a small Prometheus-compatible registry using
// only the standard library: counters, gauges, and histograms, exposed
// via an HTTP /metrics endpoint in the text exposition format.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuckets are the default histogram buckets (in seconds).
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// Counter is a monotonically increasing counter.
type Counter struct{ val atomic.Int64 }

func (c *Counter) Inc()         { c.val.Add(1) }
func (c *Counter) Add(n int64)  { c.val.Add(n) }
func (c *Counter) Value() int64 { return c.val.Load() }

// Gauge can go up and down.
type Gauge struct{ val atomic.Int64 }

func (g *Gauge) Set(n int64)  { g.val.Store(n) }
func (g *Gauge) Inc()         { g.val.Add(1) }
func (g *Gauge) Dec()         { g.val.Add(-1) }
func (g *Gauge) Value() int64 { return g.val.Load() }

// Histogram tracks the distribution of observed values in fixed buckets.
type Histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *Histogram {
	b := make([]float64, len(buckets))
	copy(b, buckets)
	sort.Float64s(b)
	return &Histogram{buckets: b, counts: make([]uint64, len(b))}
}

// Observe records a value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	h.sum += v
	h.count++
	for i, b := range h.buckets {
		if v <= b {
			h.counts[i]++
			break
		}
	}
	h.mu.Unlock()
}

// Since observes the duration since t, in seconds.
func (h *Histogram) Since(t time.Time) {
	h.Observe(time.Since(t).Seconds())
}

func (h *Histogram) snapshot() ([]float64, []uint64, float64, uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := make([]uint64, len(h.counts))
	copy(c, h.counts)
	return h.buckets, c, h.sum, h.count
}

type metricKind int

const (
	kindCounter metricKind = iota
	kindGauge
	kindHistogram
)

// Registry holds named metrics. Label pairs are baked into the name as
// name{k="v"} so each label combination is its own metric line.
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
	kinds      map[string]metricKind
	help       map[string]string
	order      []string
}

// New creates a new Registry.
func New() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
		kinds:      make(map[string]metricKind),
		help:       make(map[string]string),
	}
}

func (r *Registry) track(name string, kind metricKind, help string) {
	base := baseName(name)
	if _, ok := r.kinds[base]; !ok {
		r.order = append(r.order, base)
	}
	r.kinds[base] = kind
	if help != "" {
		r.help[base] = help
	}
}

// Counter returns (or creates) a counter.
func (r *Registry) Counter(name, help string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c
	}
	c := &Counter{}
	r.counters[name] = c
	r.track(name, kindCounter, help)
	return c
}

// Gauge returns (or creates) a gauge.
func (r *Registry) Gauge(name, help string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[name]; ok {
		return g
	}
	g := &Gauge{}
	r.gauges[name] = g
	r.track(name, kindGauge, help)
	return g
}

// Histogram returns (or creates) a histogram.
func (r *Registry) Histogram(name, help string, buckets []float64) *Histogram {
	if buckets == nil {
		buckets = DefaultBuckets
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[name]; ok {
		return h
	}
	h := newHistogram(buckets)
	r.histograms[name] = h
	r.track(name, kindHistogram, help)
	return h
}

// WithLabels returns a metric name with labels appended, e.g.
// WithLabels("foo", "k", "v") => `foo{k="v"}`.
func WithLabels(name string, kvs ...string) string {
	if len(kvs) == 0 || len(kvs)%2 != 0 {
		return name
	}
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i := 0; i < len(kvs); i += 2 {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(kvs[i])
		b.WriteString(`="`)
		b.WriteString(kvs[i+1])
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}

func baseName(name string) string {
	if idx := strings.IndexByte(name, '{'); idx != -1 {
		return name[:idx]
	}
	return name
}

func (r *Registry) namesFor(base string, m map[string]struct{}) []string {
	var out []string
	for n := range m {
		if baseName(n) == base {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// Render returns the Prometheus text exposition format output.
func (r *Registry) Render() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counterNames := make(map[string]struct{}, len(r.counters))
	for n := range r.counters {
		counterNames[n] = struct{}{}
	}
	gaugeNames := make(map[string]struct{}, len(r.gauges))
	for n := range r.gauges {
		gaugeNames[n] = struct{}{}
	}
	histNames := make(map[string]struct{}, len(r.histograms))
	for n := range r.histograms {
		histNames[n] = struct{}{}
	}

	var b strings.Builder
	for _, base := range r.order {
		if h, ok := r.help[base]; ok {
			fmt.Fprintf(&b, "# HELP %s %s\n", base, h)
		}
		switch r.kinds[base] {
		case kindCounter:
			fmt.Fprintf(&b, "# TYPE %s counter\n", base)
			for _, n := range r.namesFor(base, counterNames) {
				fmt.Fprintf(&b, "%s %d\n", n, r.counters[n].Value())
			}
		case kindGauge:
			fmt.Fprintf(&b, "# TYPE %s gauge\n", base)
			for _, n := range r.namesFor(base, gaugeNames) {
				fmt.Fprintf(&b, "%s %d\n", n, r.gauges[n].Value())
			}
		case kindHistogram:
			fmt.Fprintf(&b, "# TYPE %s histogram\n", base)
			for _, n := range r.namesFor(base, histNames) {
				buckets, counts, sum, count := r.histograms[n].snapshot()
				cumulative := uint64(0)
				for i, bk := range buckets {
					cumulative += counts[i]
					fmt.Fprintf(&b, "%s_bucket{le=\"%g\"} %d\n", base, bk, cumulative)
				}
				fmt.Fprintf(&b, "%s_bucket{le=\"+Inf\"} %d\n", base, count)
				fmt.Fprintf(&b, "%s_sum %g\n", base, sum)
				fmt.Fprintf(&b, "%s_count %d\n", base, count)
			}
		}
	}
	return b.String()
}

// Handler returns an http.Handler that serves /metrics.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.Write([]byte(r.Render()))
	})
}
