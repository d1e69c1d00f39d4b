package obs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kylebaus/Baus/internal/event"
)

func TestSnapshotCountsByKind(t *testing.T) {
	m := NewMetrics()
	m.ObserveEvent(event.KindFill)
	m.ObserveEvent(event.KindFill)
	m.ObserveEvent(event.KindTopOfBook)
	m.IncQueueDrop()

	snapshot := m.Snapshot()
	assert.Equal(t, uint64(2), snapshot.EventCounts[event.KindFill])
	assert.Equal(t, uint64(1), snapshot.EventCounts[event.KindTopOfBook])
	assert.Equal(t, uint64(1), snapshot.QueueDrops)
}

func TestLatencyStatsTrackMinMaxAvg(t *testing.T) {
	m := NewMetrics()
	m.ObserveLoop(2 * time.Millisecond)
	m.ObserveLoop(4 * time.Millisecond)
	m.ObserveLoop(6 * time.Millisecond)

	stats := m.Snapshot().LoopLatency
	assert.Equal(t, uint64(3), stats.Count)
	assert.Equal(t, 2*time.Millisecond, stats.Min)
	assert.Equal(t, 6*time.Millisecond, stats.Max)
	assert.Equal(t, 4*time.Millisecond, stats.Avg)
}

func TestNilMetricsIsNoOp(t *testing.T) {
	var m *Metrics
	m.ObserveEvent(event.KindFill)
	m.IncQueueDrop()
	m.ObserveLoop(time.Millisecond)
	assert.Equal(t, Snapshot{}, m.Snapshot())
}
