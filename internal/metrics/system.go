package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

var (
	SystemCPUUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "system_cpu_usage_percent",
			Help: "Current CPU usage percentage",
		},
		[]string{"service"},
	)

	SystemMemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "system_memory_usage_bytes",
			Help: "Current memory usage in bytes",
		},
		[]string{"service", "type"},
	)

	GoMemstatsAllocBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "go_memstats_alloc_bytes_service",
			Help: "Number of bytes allocated and still in use",
		},
		[]string{"service"},
	)

	GoGoroutines = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "go_goroutines_service",
			Help: "Number of goroutines that currently exist",
		},
		[]string{"service"},
	)
)

// UpdateSystemMetrics samples CPU, memory and Go runtime gauges once.
func UpdateSystemMetrics(serviceName string) {
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		SystemCPUUsage.WithLabelValues(serviceName).Set(percents[0])
	} else if err != nil {
		log.Debug().Err(err).Msg("Failed to sample CPU usage")
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		SystemMemoryUsage.WithLabelValues(serviceName, "used").Set(float64(vm.Used))
		SystemMemoryUsage.WithLabelValues(serviceName, "available").Set(float64(vm.Available))
	} else {
		log.Debug().Err(err).Msg("Failed to sample memory usage")
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	GoMemstatsAllocBytes.WithLabelValues(serviceName).Set(float64(m.Alloc))
	GoGoroutines.WithLabelValues(serviceName).Set(float64(runtime.NumGoroutine()))
}

// StartSystemMetricsCollection starts a goroutine collecting system metrics
// on a fixed interval.
func StartSystemMetricsCollection(serviceName string) {
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			UpdateSystemMetrics(serviceName)
		}
	}()
}
