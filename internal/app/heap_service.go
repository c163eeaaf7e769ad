package app

import (
	"context"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightlink/internal/metrics"
)

// HeapService periodically reports heap usage.
type HeapService struct {
	interval time.Duration
	metrics  *metrics.AppMetrics
}

// NewHeapService creates a heap monitor ticking every interval.
func NewHeapService(interval time.Duration, m *metrics.AppMetrics) *HeapService {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &HeapService{interval: interval, metrics: m}
}

// Start launches the monitor loop.
func (s *HeapService) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *HeapService) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sample()
		}
	}
}

// Sample reads memory stats once, logs them and updates the gauges.
func (s *HeapService) Sample() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	if s.metrics != nil {
		s.metrics.HeapAlloc.Set(float64(ms.HeapAlloc))
		s.metrics.HeapSys.Set(float64(ms.HeapSys))
	}

	log.Debug().
		Uint64("heap_alloc", ms.HeapAlloc).
		Uint64("heap_idle", ms.HeapIdle).
		Uint64("heap_sys", ms.HeapSys).
		Int("goroutines", runtime.NumGoroutine()).
		Msg("Heap usage")
}
