package runtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/hexroute/internal/runtime/errors"
)

func TestPortStats_CountsTraffic(t *testing.T) {
	stats := newPortStats("orders", nil)

	stats.onStart()
	stats.onFinish(10*time.Millisecond, "", "")
	stats.onStart()
	stats.onFinish(20*time.Millisecond, errspkg.KindHandler, "boom")

	assert.EqualValues(t, 2, stats.EnvelopesProcessed)
	assert.EqualValues(t, 1, stats.EnvelopesFailed)
	assert.EqualValues(t, 1, stats.Errors.Handler)
	assert.Equal(t, "boom", stats.Errors.LastError)
	assert.False(t, stats.LastProcessedAt.IsZero())
	assert.EqualValues(t, 0, stats.InFlight)
}

func TestPortStats_TracksMaxInFlight(t *testing.T) {
	stats := newPortStats("orders", nil)

	stats.onStart()
	stats.onStart()
	stats.onStart()
	assert.EqualValues(t, 3, stats.InFlight)
	assert.EqualValues(t, 3, stats.MaxInFlight)

	stats.onFinish(time.Millisecond, "", "")
	assert.EqualValues(t, 2, stats.InFlight)
	assert.EqualValues(t, 3, stats.MaxInFlight, "high-water mark stays")
}

func TestPortStats_LatencyPercentiles(t *testing.T) {
	stats := newPortStats("orders", nil)

	for i := 1; i <= 100; i++ {
		stats.onStart()
		stats.onFinish(time.Duration(i)*time.Millisecond, "", "")
	}

	assert.EqualValues(t, 100, stats.Latency.SampleSize)
	assert.InDelta(t, float64(50*time.Millisecond), float64(stats.Latency.P50Ns), float64(2*time.Millisecond))
	assert.InDelta(t, float64(95*time.Millisecond), float64(stats.Latency.P95Ns), float64(2*time.Millisecond))
	assert.InDelta(t, float64(99*time.Millisecond), float64(stats.Latency.P99Ns), float64(2*time.Millisecond))
	assert.EqualValues(t, 100*time.Millisecond, stats.Latency.LastNs)
}

func TestPortStats_MarshalJSON(t *testing.T) {
	stats := newPortStats("orders", newResourceTracker())
	stats.onStart()
	stats.onFinish(5*time.Millisecond, "", "")

	data, err := json.Marshal(stats)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.EqualValues(t, 1, decoded["envelopes_processed"])
	assert.Contains(t, decoded, "latency")
	assert.Contains(t, decoded, "throughput")
	assert.Contains(t, decoded, "errors")
}

func TestErrorBreakdown_Record(t *testing.T) {
	var breakdown ErrorBreakdown

	breakdown.Record(errspkg.KindValidation, "bad payload")
	breakdown.Record(errspkg.KindTimeout, "too slow")
	breakdown.Record(errspkg.KindBackpressure, "full")
	breakdown.Record(errspkg.KindDelivery, "unreachable")
	breakdown.Record(errspkg.KindUnknown, "???")

	assert.EqualValues(t, 1, breakdown.Validation)
	assert.EqualValues(t, 1, breakdown.Timeout)
	assert.EqualValues(t, 1, breakdown.Backpressure)
	assert.EqualValues(t, 1, breakdown.Delivery)
	assert.EqualValues(t, 1, breakdown.Other)
	assert.Equal(t, "???", breakdown.LastError)
}

func TestLatencyWindow_WrapsAround(t *testing.T) {
	lw := newLatencyWindow(4)

	for i := 1; i <= 6; i++ {
		lw.Add(time.Duration(i) * time.Millisecond)
	}

	snapshot := lw.Snapshot()
	assert.Equal(t, 4, snapshot.SampleSize)
	// Only the most recent four samples (3..6ms) remain.
	assert.EqualValues(t, 6*time.Millisecond, snapshot.LastNs)
	assert.GreaterOrEqual(t, snapshot.AverageNs, int64(3*time.Millisecond))
	assert.LessOrEqual(t, snapshot.AverageNs, int64(6*time.Millisecond))
	assert.GreaterOrEqual(t, snapshot.P50Ns, int64(3*time.Millisecond))
}

func TestPercentile(t *testing.T) {
	samples := []int64{10, 20, 30, 40, 50}

	assert.EqualValues(t, 30, percentile(samples, 0.5))
	assert.EqualValues(t, 10, percentile(samples, 0))
	assert.EqualValues(t, 50, percentile(samples, 1))
	assert.EqualValues(t, 0, percentile(nil, 0.5))
}

func TestThroughputWindow_DropsExpiredSamples(t *testing.T) {
	tw := newThroughputWindow(time.Minute)
	now := time.Now()

	tw.AddAndSnapshot(now.Add(-2 * time.Minute))
	snapshot := tw.AddAndSnapshot(now)

	assert.Equal(t, 1, snapshot.Count, "samples older than the horizon are evicted")
}

func TestResourceTracker_Snapshot(t *testing.T) {
	tracker := newResourceTracker()

	first := tracker.Snapshot()
	assert.Positive(t, first.Goroutines)
	assert.Positive(t, first.MemoryBytes)

	// A second sample has a wall-clock delta to compute CPU against.
	second := tracker.Snapshot()
	assert.GreaterOrEqual(t, second.CPUPercent, 0.0)
}

func TestResourceTracker_NilSafe(t *testing.T) {
	var tracker *resourceTracker
	assert.Equal(t, ResourceUsage{}, tracker.Snapshot())
}
