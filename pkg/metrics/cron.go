package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CronJobMetrics records metadata for scheduled jobs.
type CronJobMetrics struct {
	duration      *prometheus.HistogramVec
	success       *prometheus.CounterVec
	failure       *prometheus.CounterVec
	sweptTranches *prometheus.CounterVec
	sweptPoints   *prometheus.CounterVec
}

// NewCronJobMetrics registers the cron job metrics on the provided registerer.
func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pointbank",
		Subsystem: "cron",
		Name:      "job_duration_seconds",
		Help:      "Duration of cron jobs in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"job"})
	success := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pointbank",
		Subsystem: "cron",
		Name:      "job_success",
		Help:      "Successful cron job executions.",
	}, []string{"job"})
	failure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pointbank",
		Subsystem: "cron",
		Name:      "job_failure",
		Help:      "Failed cron job executions.",
	}, []string{"job"})
	sweptTranches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pointbank",
		Subsystem: "cron",
		Name:      "swept_tranches_total",
		Help:      "Expired point tranches zeroed by the expiration sweep.",
	}, []string{"job"})
	sweptPoints := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pointbank",
		Subsystem: "cron",
		Name:      "swept_points_total",
		Help:      "Point balance removed by the expiration sweep.",
	}, []string{"job"})
	reg.MustRegister(duration, success, failure, sweptTranches, sweptPoints)
	return &CronJobMetrics{
		duration:      duration,
		success:       success,
		failure:       failure,
		sweptTranches: sweptTranches,
		sweptPoints:   sweptPoints,
	}
}

// ObserveDuration records the duration for the named job.
func (c *CronJobMetrics) ObserveDuration(job string, duration time.Duration) {
	if c == nil || c.duration == nil {
		return
	}
	c.duration.WithLabelValues(normalizeLabel(job)).Observe(duration.Seconds())
}

// IncSuccess increments the success counter for the named job.
func (c *CronJobMetrics) IncSuccess(job string) {
	if c == nil || c.success == nil {
		return
	}
	c.success.WithLabelValues(normalizeLabel(job)).Inc()
}

// IncFailure increments the failure counter for the named job.
func (c *CronJobMetrics) IncFailure(job string) {
	if c == nil || c.failure == nil {
		return
	}
	c.failure.WithLabelValues(normalizeLabel(job)).Inc()
}

// AddSwept records how many tranches and points an expiration sweep removed.
func (c *CronJobMetrics) AddSwept(job string, tranches, points int) {
	if c == nil || c.sweptTranches == nil {
		return
	}
	c.sweptTranches.WithLabelValues(normalizeLabel(job)).Add(float64(tranches))
	c.sweptPoints.WithLabelValues(normalizeLabel(job)).Add(float64(points))
}

func normalizeLabel(job string) string {
	if job == "" {
		return "unknown"
	}
	return job
}
