package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

const cpuSampleName = "/sched/cpu:seconds"

// resourceTracker samples coarse process CPU and memory usage for the port
// stats snapshots. One tracker is shared across all ports of a runtime.
type resourceTracker struct {
	mu sync.Mutex

	cpuSample  []metrics.Sample
	prevCPU    float64
	prevWall   time.Time
	cpuDivisor float64
}

func newResourceTracker() *resourceTracker {
	return &resourceTracker{
		cpuSample:  []metrics.Sample{{Name: cpuSampleName}},
		cpuDivisor: float64(runtime.NumCPU()),
	}
}

func (rt *resourceTracker) Snapshot() ResourceUsage {
	if rt == nil {
		return ResourceUsage{}
	}

	rt.mu.Lock()
	cpuPercent := rt.sampleCPULocked(time.Now())
	rt.mu.Unlock()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return ResourceUsage{
		CPUPercent:  cpuPercent,
		MemoryBytes: mem.Alloc,
		Goroutines:  runtime.NumGoroutine(),
	}
}

func (rt *resourceTracker) sampleCPULocked(now time.Time) float64 {
	metrics.Read(rt.cpuSample)
	if rt.cpuSample[0].Value.Kind() != metrics.KindFloat64 {
		rt.prevWall = now
		return 0
	}
	cpuSeconds := rt.cpuSample[0].Value.Float64()

	var percent float64
	if !rt.prevWall.IsZero() && rt.cpuDivisor > 0 {
		wall := now.Sub(rt.prevWall).Seconds()
		if wall > 0 {
			percent = (cpuSeconds - rt.prevCPU) / wall / rt.cpuDivisor * 100
		}
	}

	rt.prevCPU = cpuSeconds
	rt.prevWall = now
	return percent
}
