package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLatencyTracker_Percentiles(t *testing.T) {
	lt := NewLatencyTracker(100)
	for i := 1; i <= 100; i++ {
		lt.Record(time.Duration(i) * time.Millisecond)
	}

	s := lt.Stats()
	assert.Equal(t, int64(100), s.Count)
	assert.Equal(t, time.Millisecond, s.Min)
	assert.Equal(t, 100*time.Millisecond, s.Max)
	assert.Equal(t, 50*time.Millisecond, s.P50)
	assert.Equal(t, 99*time.Millisecond, s.P99)
}

func TestLatencyTracker_WindowBounded(t *testing.T) {
	lt := NewLatencyTracker(10)
	for i := 0; i < 25; i++ {
		lt.Record(time.Millisecond)
	}
	assert.LessOrEqual(t, lt.Stats().Count, int64(10))
}

func TestLatencyRegistry(t *testing.T) {
	r := NewLatencyRegistry(10)
	r.Record("POST /reconcile", 5*time.Millisecond)
	r.Record("GET /labels", time.Millisecond)

	all := r.AllStats()
	assert.Len(t, all, 2)
	assert.Equal(t, int64(1), all["GET /labels"].Count)
}

func TestAssessDBPoolHealth(t *testing.T) {
	assert.Equal(t, PoolHealthy, AssessDBPoolHealth(DBPoolStats{}).Status)
	assert.Equal(t, PoolUnhealthy, AssessDBPoolHealth(DBPoolStats{InUse: 10, MaxOpenConnections: 10}).Status)
	assert.Equal(t, PoolDegraded, AssessDBPoolHealth(DBPoolStats{InUse: 8, MaxOpenConnections: 10}).Status)

	waited := AssessDBPoolHealth(DBPoolStats{InUse: 1, MaxOpenConnections: 10, WaitCount: 3, WaitDuration: 6 * time.Second})
	assert.Equal(t, PoolDegraded, waited.Status)
}
