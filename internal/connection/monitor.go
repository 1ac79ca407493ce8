package connection

import (
	"sync"
	"time"
)

// Quality is a coarse classification of network health. Larger is worse.
type Quality int

const (
	Excellent Quality = iota
	Good
	Poor
	Offline
)

func (q Quality) String() string {
	switch q {
	case Excellent:
		return "excellent"
	case Good:
		return "good"
	case Poor:
		return "poor"
	case Offline:
		return "offline"
	}
	return "unknown"
}

func ParseQuality(s string) (Quality, bool) {
	for q := Excellent; q <= Offline; q++ {
		if q.String() == s {
			return q, true
		}
	}
	return Excellent, false
}

// Sample is the outcome of one remote attempt.
type Sample struct {
	Succeeded bool
	Latency   time.Duration
	// Connectivity marks failures caused by the network itself (no route, timeout).
	Connectivity bool
}

type Config struct {
	Window           int
	MaxFailureRate   float64
	PoorLatency      time.Duration
	ExcellentLatency time.Duration

	// ConsecutiveFailures trailing failures mark the connection poor regardless of history.
	ConsecutiveFailures int
}

func DefaultConfig() Config {
	return Config{
		Window:           10,
		MaxFailureRate:   0.3,
		PoorLatency:      3 * time.Second,
		ExcellentLatency: 800 * time.Millisecond,

		ConsecutiveFailures: 3,
	}
}

// Monitor keeps a rolling window of attempt samples. Reads are side-effect free.
type Monitor struct {
	mu      sync.RWMutex
	cfg     Config
	samples []Sample
	next    int
	full    bool
}

func NewMonitor(cfg Config) *Monitor {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MaxFailureRate <= 0 {
		cfg.MaxFailureRate = def.MaxFailureRate
	}
	if cfg.PoorLatency <= 0 {
		cfg.PoorLatency = def.PoorLatency
	}
	if cfg.ExcellentLatency <= 0 {
		cfg.ExcellentLatency = def.ExcellentLatency
	}
	if cfg.ConsecutiveFailures <= 0 {
		cfg.ConsecutiveFailures = def.ConsecutiveFailures
	}
	return &Monitor{cfg: cfg, samples: make([]Sample, cfg.Window)}
}

func (m *Monitor) Record(s Sample) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.samples[m.next] = s
	m.next = (m.next + 1) % len(m.samples)
	if m.next == 0 {
		m.full = true
	}
}

func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.samples = make([]Sample, m.cfg.Window)
	m.next = 0
	m.full = false
}

// Snapshot returns the window contents, oldest first.
func (m *Monitor) Snapshot() []Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *Monitor) snapshotLocked() []Sample {
	if !m.full {
		return append([]Sample(nil), m.samples[:m.next]...)
	}
	out := make([]Sample, 0, len(m.samples))
	out = append(out, m.samples[m.next:]...)
	return append(out, m.samples[:m.next]...)
}

func (m *Monitor) CurrentQuality() Quality {
	m.mu.RLock()
	window := m.snapshotLocked()
	m.mu.RUnlock()

	if len(window) == 0 {
		return Excellent
	}

	var failures int
	var anySuccess bool
	var total time.Duration
	for _, s := range window {
		if s.Succeeded {
			anySuccess = true
		} else {
			failures++
		}
		total += s.Latency
	}

	last := window[len(window)-1]
	if !last.Succeeded && last.Connectivity && !anySuccess {
		return Offline
	}

	trailing := 0
	for i := len(window) - 1; i >= 0 && !window[i].Succeeded; i-- {
		trailing++
	}

	avg := total / time.Duration(len(window))
	if trailing >= m.cfg.ConsecutiveFailures ||
		float64(failures)/float64(len(window)) > m.cfg.MaxFailureRate ||
		avg > m.cfg.PoorLatency {
		return Poor
	}
	if avg > m.cfg.ExcellentLatency {
		return Good
	}
	return Excellent
}
