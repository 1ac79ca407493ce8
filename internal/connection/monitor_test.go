package connection

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(latency time.Duration) Sample {
	return Sample{Succeeded: true, Latency: latency}
}

func TestEmptyWindowIsExcellent(t *testing.T) {
	m := NewMonitor(Config{})
	assert.Equal(t, Excellent, m.CurrentQuality())
}

func TestQualityByLatency(t *testing.T) {
	m := NewMonitor(DefaultConfig())
	m.Record(ok(100 * time.Millisecond))
	assert.Equal(t, Excellent, m.CurrentQuality())

	m.Reset()
	m.Record(ok(time.Second))
	assert.Equal(t, Good, m.CurrentQuality())

	m.Reset()
	m.Record(ok(5 * time.Second))
	assert.Equal(t, Poor, m.CurrentQuality())
}

func TestThreeConsecutiveFailuresDegrade(t *testing.T) {
	m := NewMonitor(DefaultConfig())
	for i := 0; i < 7; i++ {
		m.Record(ok(50 * time.Millisecond))
	}
	for i := 0; i < 3; i++ {
		m.Record(Sample{Succeeded: false, Latency: 50 * time.Millisecond})
	}
	q := m.CurrentQuality()
	assert.True(t, q == Poor || q == Offline, "got %s", q)
}

func TestOfflineRequiresNoSuccessInWindow(t *testing.T) {
	m := NewMonitor(Config{Window: 4})
	m.Record(Sample{Connectivity: true})
	assert.Equal(t, Offline, m.CurrentQuality())

	m.Record(ok(10 * time.Millisecond))
	m.Record(Sample{Connectivity: true})
	assert.Equal(t, Poor, m.CurrentQuality(), "success still in window")

	// push the success out of the window
	m.Record(Sample{Connectivity: true})
	m.Record(Sample{Connectivity: true})
	m.Record(Sample{Connectivity: true})
	assert.Equal(t, Offline, m.CurrentQuality())
}

func TestServerFailuresAreNotOffline(t *testing.T) {
	m := NewMonitor(DefaultConfig())
	for i := 0; i < 3; i++ {
		m.Record(Sample{Succeeded: false})
	}
	assert.Equal(t, Poor, m.CurrentQuality())
}

func TestWindowRollsOver(t *testing.T) {
	m := NewMonitor(Config{Window: 3})
	for i := 0; i < 5; i++ {
		m.Record(ok(time.Duration(i) * time.Millisecond))
	}
	snap := m.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, 2*time.Millisecond, snap[0].Latency)
	assert.Equal(t, 4*time.Millisecond, snap[2].Latency)
}

func TestParseQuality(t *testing.T) {
	for q := Excellent; q <= Offline; q++ {
		got, ok := ParseQuality(q.String())
		assert.True(t, ok)
		assert.Equal(t, q, got)
	}
	_, ok := ParseQuality("great")
	assert.False(t, ok)
}

func TestConcurrentRecord(t *testing.T) {
	m := NewMonitor(DefaultConfig())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Record(ok(time.Millisecond))
			_ = m.CurrentQuality()
		}()
	}
	wg.Wait()
	assert.Len(t, m.Snapshot(), 10)
}
