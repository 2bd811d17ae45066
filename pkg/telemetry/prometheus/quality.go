package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"

	"github.com/livekit/quality-manager/pkg/quality"
)

var (
	actionsTotal             atomic.Uint64
	sessionsAdmittedTotal    atomic.Uint64
	sessionsRejectedTotal    atomic.Uint64
	samplesTotal             atomic.Uint64
	optimizationsTotal       atomic.Uint64
	optimizationChangesTotal atomic.Uint64

	promActionCounter    *prometheus.CounterVec
	promActionDuration   *prometheus.HistogramVec
	promSessionsAdmitted *prometheus.CounterVec
	promSessionsRejected *prometheus.CounterVec
	promMetricSamples    *prometheus.CounterVec
	promOptimizations    *prometheus.CounterVec
	promPerformanceScore *prometheus.HistogramVec
)

func initQualityStats(labels prometheus.Labels) {
	promActionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   qualityNamespace,
		Subsystem:   "action",
		Name:        "total",
		ConstLabels: labels,
	}, []string{"action", "status"})
	promActionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   qualityNamespace,
		Subsystem:   "action",
		Name:        "duration_seconds",
		ConstLabels: labels,
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"action"})
	promSessionsAdmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   qualityNamespace,
		Subsystem:   "session",
		Name:        "admitted",
		ConstLabels: labels,
	}, []string{"tier", "quality"})
	promSessionsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   qualityNamespace,
		Subsystem:   "session",
		Name:        "rejected",
		ConstLabels: labels,
	}, []string{"tier", "reason"})
	promMetricSamples = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   qualityNamespace,
		Subsystem:   "viewer",
		Name:        "metric_samples",
		ConstLabels: labels,
	}, []string{"triggered"})
	promOptimizations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   qualityNamespace,
		Subsystem:   "optimization",
		Name:        "total",
		ConstLabels: labels,
	}, []string{"tier", "changed"})
	promPerformanceScore = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   qualityNamespace,
		Subsystem:   "optimization",
		Name:        "performance_score",
		ConstLabels: labels,
		Buckets:     []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	}, []string{"tier"})

	prometheus.MustRegister(promActionCounter)
	prometheus.MustRegister(promActionDuration)
	prometheus.MustRegister(promSessionsAdmitted)
	prometheus.MustRegister(promSessionsRejected)
	prometheus.MustRegister(promMetricSamples)
	prometheus.MustRegister(promOptimizations)
	prometheus.MustRegister(promPerformanceScore)
}

// QualityMetrics exports quality manager activity. Totals are always kept;
// prometheus series are only updated after Init.
type QualityMetrics struct{}

func NewQualityMetrics() *QualityMetrics {
	return &QualityMetrics{}
}

func (QualityMetrics) ActionHandled(action string, status int, elapsed time.Duration) {
	actionsTotal.Inc()
	if !initialized.Load() {
		return
	}
	promActionCounter.WithLabelValues(action, strconv.Itoa(status)).Inc()
	promActionDuration.WithLabelValues(action).Observe(elapsed.Seconds())
}

func (QualityMetrics) SessionAdmitted(tier quality.Tier, level quality.Level) {
	sessionsAdmittedTotal.Inc()
	if !initialized.Load() {
		return
	}
	promSessionsAdmitted.WithLabelValues(string(tier), string(level)).Inc()
}

func (QualityMetrics) SessionRejected(tier quality.Tier, reason string) {
	sessionsRejectedTotal.Inc()
	if !initialized.Load() {
		return
	}
	promSessionsRejected.WithLabelValues(string(tier), reason).Inc()
}

func (QualityMetrics) MetricSampleStored(triggered bool) {
	samplesTotal.Inc()
	if !initialized.Load() {
		return
	}
	promMetricSamples.WithLabelValues(strconv.FormatBool(triggered)).Inc()
}

func (QualityMetrics) OptimizationRecorded(tier quality.Tier, score float64, changed bool) {
	optimizationsTotal.Inc()
	if changed {
		optimizationChangesTotal.Inc()
	}
	if !initialized.Load() {
		return
	}
	promOptimizations.WithLabelValues(string(tier), strconv.FormatBool(changed)).Inc()
	promPerformanceScore.WithLabelValues(string(tier)).Observe(score)
}
