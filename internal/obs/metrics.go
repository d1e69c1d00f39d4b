// Package obs collects lightweight runtime counters: per-kind event
// counts, drop counts and loop latency stats. Everything is atomic so the
// hot path never takes a lock.
package obs

import (
	"sync/atomic"
	"time"

	"github.com/kylebaus/Baus/internal/event"
)

const maxEventKind = int(event.KindDisconnect)

// Metrics collects counters and latency stats. A nil *Metrics is a valid
// no-op receiver so wiring can leave observation out entirely.
type Metrics struct {
	eventCounts [maxEventKind + 1]uint64
	queueDrops  uint64

	loopLatency  LatencyStats
	drainLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	EventCounts  map[event.Kind]uint64
	QueueDrops   uint64
	LoopLatency  LatencySnapshot
	DrainLatency LatencySnapshot
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveEvent counts one routed event by kind.
func (m *Metrics) ObserveEvent(kind event.Kind) {
	if m == nil {
		return
	}
	idx := int(kind)
	if idx >= 0 && idx < len(m.eventCounts) {
		atomic.AddUint64(&m.eventCounts[idx], 1)
	}
}

// IncQueueDrop records a dropped event or command.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueDrops, 1)
}

// ObserveLoop measures one runtime loop pass.
func (m *Metrics) ObserveLoop(d time.Duration) {
	if m == nil {
		return
	}
	m.loopLatency.Observe(d)
}

// ObserveDrain measures one dispatcher drain.
func (m *Metrics) ObserveDrain(d time.Duration) {
	if m == nil {
		return
	}
	m.drainLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	eventCounts := make(map[event.Kind]uint64)
	for i := range m.eventCounts {
		if v := atomic.LoadUint64(&m.eventCounts[i]); v > 0 {
			eventCounts[event.Kind(i)] = v
		}
	}
	return Snapshot{
		EventCounts:  eventCounts,
		QueueDrops:   atomic.LoadUint64(&m.queueDrops),
		LoopLatency:  m.loopLatency.Snapshot(),
		DrainLatency: m.drainLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
