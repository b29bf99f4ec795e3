package infrastructure

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// RuntimeMetrics records Go runtime health through the OTel meter so the
// /metrics endpoint exposes process vitals next to the business metrics.
type RuntimeMetrics struct {
	goroutines metric.Int64Gauge
	heapAlloc  metric.Int64Gauge
	heapSys    metric.Int64Gauge
	gcCount    metric.Int64Gauge
	gcPause    metric.Float64Histogram
	uptime     metric.Float64Gauge
}

// NewRuntimeMetrics registers the runtime instruments on the meter.
func NewRuntimeMetrics(meter metric.Meter) (*RuntimeMetrics, error) {
	goroutines, err := meter.Int64Gauge(
		"runtime_goroutines",
		metric.WithDescription("Number of live goroutines"),
	)
	if err != nil {
		return nil, err
	}

	heapAlloc, err := meter.Int64Gauge(
		"runtime_heap_alloc_bytes",
		metric.WithDescription("Bytes of allocated heap objects"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	heapSys, err := meter.Int64Gauge(
		"runtime_heap_sys_bytes",
		metric.WithDescription("Bytes of heap memory obtained from the OS"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	gcCount, err := meter.Int64Gauge(
		"runtime_gc_count",
		metric.WithDescription("Completed garbage collection cycles"),
	)
	if err != nil {
		return nil, err
	}

	gcPause, err := meter.Float64Histogram(
		"runtime_gc_pause_seconds",
		metric.WithDescription("Most recent garbage collection pause"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	uptime, err := meter.Float64Gauge(
		"runtime_uptime_seconds",
		metric.WithDescription("Process uptime"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &RuntimeMetrics{
		goroutines: goroutines,
		heapAlloc:  heapAlloc,
		heapSys:    heapSys,
		gcCount:    gcCount,
		gcPause:    gcPause,
		uptime:     uptime,
	}, nil
}

// RuntimeStats is one observation of the runtime.
type RuntimeStats struct {
	Goroutines  int
	HeapAlloc   uint64
	HeapSys     uint64
	GCCount     uint32
	LastGCPause time.Duration
	Uptime      time.Duration
	Timestamp   time.Time
}

// Collect reads the runtime and records one observation.
func (rm *RuntimeMetrics) Collect(ctx context.Context, startTime time.Time) RuntimeStats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	stats := RuntimeStats{
		Goroutines:  runtime.NumGoroutine(),
		HeapAlloc:   mem.HeapAlloc,
		HeapSys:     mem.HeapSys,
		GCCount:     mem.NumGC,
		LastGCPause: time.Duration(mem.PauseNs[(mem.NumGC+255)%256]),
		Uptime:      time.Since(startTime),
		Timestamp:   time.Now(),
	}

	rm.goroutines.Record(ctx, int64(stats.Goroutines))
	rm.heapAlloc.Record(ctx, int64(stats.HeapAlloc))
	rm.heapSys.Record(ctx, int64(stats.HeapSys))
	rm.gcCount.Record(ctx, int64(stats.GCCount))
	rm.uptime.Record(ctx, stats.Uptime.Seconds())

	if stats.LastGCPause > 0 {
		rm.gcPause.Record(ctx, stats.LastGCPause.Seconds())
	}

	return stats
}

// RuntimeCollector samples the runtime on a fixed interval for the
// lifetime of the process.
type RuntimeCollector struct {
	metrics   *RuntimeMetrics
	startTime time.Time
	interval  time.Duration
	stopCh    chan struct{}
}

// NewRuntimeCollector builds a collector over the meter. A non-positive
// interval falls back to 15 seconds.
func NewRuntimeCollector(meter metric.Meter, interval time.Duration) (*RuntimeCollector, error) {
	metrics, err := NewRuntimeMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("creating runtime metrics: %w", err)
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}

	return &RuntimeCollector{
		metrics:   metrics,
		startTime: time.Now(),
		interval:  interval,
		stopCh:    make(chan struct{}),
	}, nil
}

// Start samples until Stop is called or the context ends. Run it on its
// own goroutine.
func (rc *RuntimeCollector) Start(ctx context.Context) {
	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	rc.metrics.Collect(ctx, rc.startTime)

	for {
		select {
		case <-ticker.C:
			rc.metrics.Collect(ctx, rc.startTime)
		case <-rc.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the sampling loop. Safe to call once.
func (rc *RuntimeCollector) Stop() {
	close(rc.stopCh)
}

// Snapshot records and returns one observation outside the loop.
func (rc *RuntimeCollector) Snapshot(ctx context.Context) RuntimeStats {
	return rc.metrics.Collect(ctx, rc.startTime)
}
