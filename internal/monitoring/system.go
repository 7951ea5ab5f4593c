// Package monitoring samples process and host resource usage on a timer
// and publishes it to the metrics registry. One sampler serves the whole
// process; components read gauges instead of measuring on their own.
package monitoring

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/Blackjack1937/Babble/internal/metrics"
)

// SystemMonitor periodically refreshes CPU, memory and goroutine gauges.
type SystemMonitor struct {
	log      zerolog.Logger
	metrics  *metrics.Registry
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a monitor sampling every interval.
func New(logger zerolog.Logger, m *metrics.Registry, interval time.Duration) *SystemMonitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &SystemMonitor{
		log:      logger.With().Str("component", "system_monitor").Logger(),
		metrics:  m,
		interval: interval,
	}
}

// Start launches the sampling goroutine.
func (sm *SystemMonitor) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	sm.cancel = cancel

	sm.wg.Add(1)
	go func() {
		defer sm.wg.Done()
		ticker := time.NewTicker(sm.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sm.sample()
			}
		}
	}()
}

// Stop terminates sampling and waits for the goroutine to exit.
func (sm *SystemMonitor) Stop() {
	if sm.cancel != nil {
		sm.cancel()
	}
	sm.wg.Wait()
}

func (sm *SystemMonitor) sample() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	goroutines := runtime.NumGoroutine()

	var cpuPct float64
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		cpuPct = pcts[0]
	}

	sm.metrics.CPUPercent.Set(cpuPct)
	sm.metrics.MemoryBytes.Set(float64(ms.HeapInuse))
	sm.metrics.Goroutines.Set(float64(goroutines))

	sm.log.Debug().
		Float64("cpu_percent", cpuPct).
		Uint64("heap_inuse", ms.HeapInuse).
		Int("goroutines", goroutines).
		Msg("system sample")
}
