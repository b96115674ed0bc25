package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Akhil-Ferry/Smart-city/internal/database"
)

// Collector owns the Prometheus metrics for the alerting service. It
// satisfies the lifecycle and notification recorder contracts.
type Collector struct {
	logger *slog.Logger
	alerts *database.AlertRepository

	alertsCreated      *prometheus.CounterVec
	transitionsTotal   *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	alertsByStatus     *prometheus.GaugeVec
	dispatchDuration   prometheus.Histogram
}

func NewCollector(alerts *database.AlertRepository, logger *slog.Logger) *Collector {
	return &Collector{
		logger: logger,
		alerts: alerts,

		alertsCreated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alerting_alerts_created_total",
				Help: "Total number of alerts created",
			},
			[]string{"severity", "category"},
		),
		transitionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alerting_transitions_total",
				Help: "Lifecycle transition attempts by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		notificationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alerting_notifications_total",
				Help: "Notification delivery attempts by channel and status",
			},
			[]string{"channel", "status"},
		),
		alertsByStatus: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "alerting_alerts_by_status",
				Help: "Current number of alerts per lifecycle status",
			},
			[]string{"status"},
		),
		dispatchDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "alerting_dispatch_duration_seconds",
				Help:    "Wall time of one notification dispatch run",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

// RecordAlertCreated counts a freshly created alert.
func (c *Collector) RecordAlertCreated(severity, category string) {
	c.alertsCreated.WithLabelValues(severity, category).Inc()
}

// RecordTransition counts one lifecycle transition attempt.
func (c *Collector) RecordTransition(action, outcome string) {
	c.transitionsTotal.WithLabelValues(action, outcome).Inc()
}

// RecordNotification counts one notification delivery attempt.
func (c *Collector) RecordNotification(channel, status string) {
	c.notificationsTotal.WithLabelValues(channel, status).Inc()
}

// ObserveDispatchDuration records how long a dispatch run took.
func (c *Collector) ObserveDispatchDuration(d time.Duration) {
	c.dispatchDuration.Observe(d.Seconds())
}

// Run refreshes the status gauges from the database until ctx is done.
func (c *Collector) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refreshStatusGauges(ctx)
		}
	}
}

func (c *Collector) refreshStatusGauges(ctx context.Context) {
	to := time.Now().UTC()
	stats, err := c.alerts.GetStats(ctx, to.AddDate(0, 0, -30), to)
	if err != nil {
		c.logger.Warn("failed to refresh alert status gauges", "error", err)
		return
	}

	c.alertsByStatus.WithLabelValues("active").Set(float64(stats.Active))
	c.alertsByStatus.WithLabelValues("acknowledged").Set(float64(stats.Acknowledged))
	c.alertsByStatus.WithLabelValues("resolved").Set(float64(stats.Resolved))
	c.alertsByStatus.WithLabelValues("false_positive").Set(float64(stats.FalsePositive))
	c.alertsByStatus.WithLabelValues("expired").Set(float64(stats.Expired))
}
