// Package metrics keeps per-handler counters and latency quantiles in
// process so the health tool can answer synchronously.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// maxSamples bounds the per-handler latency window; quantiles are computed
// over the most recent window only.
const maxSamples = 1024

type handlerStats struct {
	calls     int64
	failures  int64
	degraded  int64
	latencies []time.Duration
	next      int
	filled    bool
}

type Registry struct {
	mu       sync.Mutex
	handlers map[string]*handlerStats
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]*handlerStats)}
}

func (r *Registry) Observe(handler string, d time.Duration, failed, degraded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := r.handlers[handler]
	if h == nil {
		h = &handlerStats{latencies: make([]time.Duration, maxSamples)}
		r.handlers[handler] = h
	}
	h.calls++
	if failed {
		h.failures++
	}
	if degraded {
		h.degraded++
	}
	h.latencies[h.next] = d
	h.next++
	if h.next == maxSamples {
		h.next = 0
		h.filled = true
	}
}

// HandlerSnapshot is one handler's counters and latency quantiles.
type HandlerSnapshot struct {
	Calls        int64   `json:"calls"`
	Failures     int64   `json:"failures"`
	Degraded     int64   `json:"degraded"`
	P50Ms        float64 `json:"p50_ms"`
	P95Ms        float64 `json:"p95_ms"`
	P99Ms        float64 `json:"p99_ms"`
	SLACompliant bool    `json:"sla_compliant"`
}

// SLA targets in milliseconds, keyed by handler name prefix. The default
// covers "average tool execution <= 2s"; specific handlers are tighter.
var slaTargetsMs = map[string]float64{
	"tools/list":           500,
	"thought.create":       100,
	"thought.find_similar": 50,
}

const defaultSLAMs = 2000

func slaTarget(handler string) float64 {
	if t, ok := slaTargetsMs[handler]; ok {
		return t
	}
	return defaultSLAMs
}

func (r *Registry) Snapshot() map[string]HandlerSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]HandlerSnapshot, len(r.handlers))
	for name, h := range r.handlers {
		n := h.next
		if h.filled {
			n = maxSamples
		}
		window := make([]time.Duration, n)
		copy(window, h.latencies[:n])
		sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })

		snap := HandlerSnapshot{
			Calls:    h.calls,
			Failures: h.failures,
			Degraded: h.degraded,
		}
		if n > 0 {
			snap.P50Ms = ms(quantile(window, 0.50))
			snap.P95Ms = ms(quantile(window, 0.95))
			snap.P99Ms = ms(quantile(window, 0.99))
		}
		snap.SLACompliant = snap.P95Ms <= slaTarget(name)
		out[name] = snap
	}
	return out
}

func quantile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q * float64(len(sorted)-1))
	return sorted[idx]
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
