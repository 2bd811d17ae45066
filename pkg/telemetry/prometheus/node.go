package prometheus

import (
	"time"

	"github.com/mackerelio/go-osstat/memory"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

const (
	qualityNamespace string = "quality_manager"
)

var (
	initialized atomic.Bool

	promNodeLoadGauge   *prometheus.GaugeVec
	promNodeMemoryGauge prometheus.Gauge
)

// NodeStats is a snapshot of host load and request totals.
type NodeStats struct {
	StartedAt        int64
	UpdatedAt        int64
	NumCPUs          uint32
	CPULoad          float32
	LoadAvgLast1Min  float32
	LoadAvgLast5Min  float32
	LoadAvgLast15Min float32
	MemoryLoad       float32

	ActionsHandled      uint64
	SessionsAdmitted    uint64
	SessionsRejected    uint64
	MetricSamples       uint64
	Optimizations       uint64
	OptimizationChanges uint64
}

func Init(nodeID string, env string) {
	if initialized.Swap(true) {
		return
	}

	labels := prometheus.Labels{"node_id": nodeID, "env": env}
	promNodeLoadGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   qualityNamespace,
			Subsystem:   "node",
			Name:        "load",
			ConstLabels: labels,
			Help:        "Host CPU utilization and load averages.",
		},
		[]string{"type"},
	)
	promNodeMemoryGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   qualityNamespace,
			Subsystem:   "node",
			Name:        "memory_load",
			ConstLabels: labels,
			Help:        "Fraction of host memory in use.",
		},
	)

	prometheus.MustRegister(promNodeLoadGauge)
	prometheus.MustRegister(promNodeMemoryGauge)

	initQualityStats(labels)
}

func getMemoryStats() (memoryLoad float32, err error) {
	memInfo, err := memory.Get()
	if err != nil {
		return
	}

	if memInfo.Total != 0 {
		memoryLoad = float32(memInfo.Used) / float32(memInfo.Total)
	}
	return
}

// GetUpdatedNodeStats samples host load, refreshes the node gauges and
// returns the snapshot along with request totals.
func GetUpdatedNodeStats(prev *NodeStats) (*NodeStats, error) {
	loadAvg, err := getLoadAvg()
	if err != nil {
		return nil, err
	}

	cpuLoad, numCPUs, err := getCPUStats()
	if err != nil {
		return nil, err
	}

	// memory stats are unavailable on some platforms; use them when present
	memoryLoad, _ := getMemoryStats()

	stats := &NodeStats{
		UpdatedAt:           time.Now().Unix(),
		NumCPUs:             numCPUs,
		CPULoad:             cpuLoad,
		LoadAvgLast1Min:     float32(loadAvg.Loadavg1),
		LoadAvgLast5Min:     float32(loadAvg.Loadavg5),
		LoadAvgLast15Min:    float32(loadAvg.Loadavg15),
		MemoryLoad:          memoryLoad,
		ActionsHandled:      actionsTotal.Load(),
		SessionsAdmitted:    sessionsAdmittedTotal.Load(),
		SessionsRejected:    sessionsRejectedTotal.Load(),
		MetricSamples:       samplesTotal.Load(),
		Optimizations:       optimizationsTotal.Load(),
		OptimizationChanges: optimizationChangesTotal.Load(),
	}
	if prev != nil {
		stats.StartedAt = prev.StartedAt
	} else {
		stats.StartedAt = stats.UpdatedAt
	}

	if initialized.Load() {
		promNodeLoadGauge.WithLabelValues("cpu").Set(float64(cpuLoad))
		promNodeLoadGauge.WithLabelValues("load1").Set(loadAvg.Loadavg1)
		promNodeLoadGauge.WithLabelValues("load5").Set(loadAvg.Loadavg5)
		promNodeLoadGauge.WithLabelValues("load15").Set(loadAvg.Loadavg15)
		promNodeMemoryGauge.Set(float64(memoryLoad))
	}
	return stats, nil
}
