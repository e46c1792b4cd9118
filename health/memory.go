package health

import (
	"context"
	"fmt"
	"runtime"
)

// MemoryCheckerConfig configures the runtime memory checker. An
// in-process entry store lives entirely on the heap, so the checker
// reports degraded or unhealthy when heap usage crosses the
// configured fractions of MaxAlloc.
type MemoryCheckerConfig struct {
	// WarningThreshold is the heap usage fraction (0..1) that reports
	// degraded. Default 0.8.
	WarningThreshold float64

	// CriticalThreshold is the heap usage fraction (0..1) that reports
	// unhealthy. Default 0.95.
	CriticalThreshold float64

	// MaxAlloc is the allocation budget in bytes. When zero the
	// runtime's Sys figure is used.
	MaxAlloc uint64
}

// MemoryChecker reports process heap pressure.
type MemoryChecker struct {
	config MemoryCheckerConfig
}

// NewMemoryChecker creates a memory checker, clamping the thresholds
// into (0,1) with warning below critical.
func NewMemoryChecker(config MemoryCheckerConfig) *MemoryChecker {
	if config.WarningThreshold <= 0 || config.WarningThreshold >= 1 {
		config.WarningThreshold = 0.8
	}
	if config.CriticalThreshold <= 0 || config.CriticalThreshold >= 1 {
		config.CriticalThreshold = 0.95
	}
	if config.CriticalThreshold < config.WarningThreshold {
		config.CriticalThreshold = config.WarningThreshold + 0.1
		if config.CriticalThreshold > 1 {
			config.CriticalThreshold = 0.99
		}
	}
	return &MemoryChecker{config: config}
}

// Name returns the checker name.
func (m *MemoryChecker) Name() string { return "memory" }

// Check reads runtime memory stats and grades heap usage against the
// configured thresholds.
func (m *MemoryChecker) Check(ctx context.Context) Result {
	select {
	case <-ctx.Done():
		return Unhealthy("context cancelled", ctx.Err())
	default:
	}

	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	maxAlloc := m.config.MaxAlloc
	if maxAlloc == 0 {
		maxAlloc = stats.Sys
	}
	if maxAlloc == 0 {
		return Healthy("memory stats unavailable").WithDetails(map[string]any{
			"alloc": stats.Alloc,
			"sys":   stats.Sys,
		})
	}

	usage := float64(stats.Alloc) / float64(maxAlloc)
	details := map[string]any{
		"alloc_bytes":   stats.Alloc,
		"max_alloc":     maxAlloc,
		"usage_percent": usage * 100,
		"heap_objects":  stats.HeapObjects,
		"num_gc":        stats.NumGC,
		"goroutines":    runtime.NumGoroutine(),
	}

	switch {
	case usage >= m.config.CriticalThreshold:
		return Unhealthy(
			fmt.Sprintf("memory usage critical: %.1f%%", usage*100),
			ErrCheckFailed,
		).WithDetails(details)
	case usage >= m.config.WarningThreshold:
		return Degraded(
			fmt.Sprintf("memory usage high: %.1f%%", usage*100),
		).WithDetails(details)
	}
	return Healthy(
		fmt.Sprintf("memory usage normal: %.1f%%", usage*100),
	).WithDetails(details)
}
