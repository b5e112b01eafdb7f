package metrics

import (
	"runtime"
	"time"
)

// CollectSystem samples runtime statistics into the system gauges.
func CollectSystem() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	UpdateSystemMemoryUsage(ms.HeapAlloc)
	UpdateSystemGoroutineCount(runtime.NumGoroutine())
	if ms.NumGC > 0 {
		pause := time.Duration(ms.PauseNs[(ms.NumGC+255)%256])
		RecordSystemGCPauseTime(float64(pause.Microseconds()) / 1000)
	}
}
