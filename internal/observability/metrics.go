// Package observability keeps in-process counters for step invocations,
// breaker activity and webhook outcomes, exposed as a JSON snapshot.
package observability

import (
	"strconv"
	"sync"
	"time"

	"bookflow/internal/saga"
)

type StepSnapshot struct {
	Count         int64            `json:"count"`
	Errors        int64            `json:"errors"`
	ErrorsByName  map[string]int64 `json:"errors_by_name,omitempty"`
	InFlight      int64            `json:"in_flight"`
	AvgLatencyMs  float64          `json:"avg_latency_ms"`
	MaxLatencyMs  float64          `json:"max_latency_ms"`
	LastLatencyMs float64          `json:"last_latency_ms"`
}

type BreakerSnapshot struct {
	Trips      int64 `json:"trips"`
	Rejections int64 `json:"rejections"`
}

type Snapshot struct {
	UptimeSec       int64                      `json:"uptime_sec"`
	TotalRequests   int64                      `json:"total_requests"`
	TotalErrors     int64                      `json:"total_errors"`
	InFlight        int64                      `json:"in_flight"`
	RateLimitWaits  int64                      `json:"rate_limit_waits"`
	RateLimitWaitMs int64                      `json:"rate_limit_wait_ms"`
	Lifecycle       *LifecycleSnapshot         `json:"lifecycle,omitempty"`
	Steps           map[string]StepSnapshot    `json:"steps"`
	Breakers        map[string]BreakerSnapshot `json:"breakers,omitempty"`
	Webhooks        map[string]int64           `json:"webhooks,omitempty"`
}

type stepStats struct {
	count        int64
	errors       int64
	errorsByName map[string]int64
	inFlight     int64
	totalLatency time.Duration
	maxLatency   time.Duration
	lastLatency  time.Duration
}

type Metrics struct {
	mu             sync.Mutex
	start          time.Time
	steps          map[string]*stepStats
	breakers       map[string]*BreakerSnapshot
	webhooks       map[string]int64
	rateLimitWaits int64
	rateLimitWait  time.Duration
	lifecycle      lifecycleStats
}

// Span measures one step invocation.
type Span struct {
	metrics *Metrics
	step    string
	start   time.Time
}

type lifecycleStats struct {
	shutdownAt time.Time
	inflight   int64
}

type LifecycleSnapshot struct {
	ShutdownAt         time.Time `json:"shutdown_at"`
	InFlightAtShutdown int64     `json:"inflight_at_shutdown"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		start:    time.Now(),
		steps:    make(map[string]*stepStats),
		breakers: make(map[string]*BreakerSnapshot),
		webhooks: make(map[string]int64),
	}
}

func (m *Metrics) Start(step string) *Span {
	if m == nil {
		return &Span{}
	}
	m.mu.Lock()
	stats := m.ensureStep(step)
	stats.inFlight++
	m.mu.Unlock()
	return &Span{
		metrics: m,
		step:    step,
		start:   time.Now(),
	}
}

// End records the invocation. Errors are bucketed by taxonomy name.
func (s *Span) End(err error) {
	if s == nil || s.metrics == nil {
		return
	}
	s.metrics.finish(s.step, time.Since(s.start), err)
}

// InFlight returns the number of step invocations currently running.
func (m *Metrics) InFlight() int64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, stats := range m.steps {
		total += stats.inFlight
	}
	return total
}

func (m *Metrics) AddRateLimitWait(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.mu.Lock()
	m.rateLimitWaits++
	m.rateLimitWait += d
	m.mu.Unlock()
}

func (m *Metrics) BreakerTripped(service string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.ensureBreaker(service).Trips++
	m.mu.Unlock()
}

func (m *Metrics) BreakerRejected(service string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.ensureBreaker(service).Rejections++
	m.mu.Unlock()
}

// WebhookOutcome counts a webhook response by HTTP status.
func (m *Metrics) WebhookOutcome(status int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.webhooks[strconv.Itoa(status)]++
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	snap := Snapshot{
		UptimeSec:       int64(now.Sub(m.start).Seconds()),
		Steps:           make(map[string]StepSnapshot),
		RateLimitWaits:  m.rateLimitWaits,
		RateLimitWaitMs: int64(m.rateLimitWait / time.Millisecond),
	}

	for step, stats := range m.steps {
		avg := 0.0
		if stats.count > 0 {
			avg = float64(stats.totalLatency.Milliseconds()) / float64(stats.count)
		}
		var byName map[string]int64
		if len(stats.errorsByName) > 0 {
			byName = make(map[string]int64, len(stats.errorsByName))
			for name, n := range stats.errorsByName {
				byName[name] = n
			}
		}
		snap.Steps[step] = StepSnapshot{
			Count:         stats.count,
			Errors:        stats.errors,
			ErrorsByName:  byName,
			InFlight:      stats.inFlight,
			AvgLatencyMs:  avg,
			MaxLatencyMs:  float64(stats.maxLatency.Milliseconds()),
			LastLatencyMs: float64(stats.lastLatency.Milliseconds()),
		}
		snap.TotalRequests += stats.count
		snap.TotalErrors += stats.errors
		snap.InFlight += stats.inFlight
	}

	if len(m.breakers) > 0 {
		snap.Breakers = make(map[string]BreakerSnapshot, len(m.breakers))
		for service, b := range m.breakers {
			snap.Breakers[service] = *b
		}
	}
	if len(m.webhooks) > 0 {
		snap.Webhooks = make(map[string]int64, len(m.webhooks))
		for status, n := range m.webhooks {
			snap.Webhooks[status] = n
		}
	}

	if !m.lifecycle.shutdownAt.IsZero() {
		snap.Lifecycle = &LifecycleSnapshot{
			ShutdownAt:         m.lifecycle.shutdownAt,
			InFlightAtShutdown: m.lifecycle.inflight,
		}
	}

	return snap
}

func (m *Metrics) ensureStep(step string) *stepStats {
	stats, ok := m.steps[step]
	if !ok {
		stats = &stepStats{}
		m.steps[step] = stats
	}
	return stats
}

func (m *Metrics) ensureBreaker(service string) *BreakerSnapshot {
	b, ok := m.breakers[service]
	if !ok {
		b = &BreakerSnapshot{}
		m.breakers[service] = b
	}
	return b
}

func (m *Metrics) finish(step string, dur time.Duration, err error) {
	m.mu.Lock()
	stats := m.ensureStep(step)
	stats.inFlight--
	stats.count++
	if err != nil {
		stats.errors++
		name := saga.ErrorName(err)
		if name == "" {
			name = "Other"
		}
		if stats.errorsByName == nil {
			stats.errorsByName = make(map[string]int64)
		}
		stats.errorsByName[name]++
	}
	stats.totalLatency += dur
	if dur > stats.maxLatency {
		stats.maxLatency = dur
	}
	stats.lastLatency = dur
	m.mu.Unlock()
}

func (m *Metrics) MarkShutdown(inflight int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.lifecycle.shutdownAt = time.Now()
	m.lifecycle.inflight = inflight
	m.mu.Unlock()
}
