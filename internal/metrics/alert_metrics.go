package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/airguardian/airguardian/internal/models"
)

var (
	// Alert lifecycle metrics
	AlertsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "airguardian_alerts_active",
			Help: "Number of unresolved alerts by severity and category",
		},
		[]string{"severity", "category"},
	)

	AlertsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airguardian_alerts_created_total",
			Help: "Total number of alerts created by severity and category",
		},
		[]string{"severity", "category"},
	)

	AlertsUpdatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airguardian_alerts_updated_total",
			Help: "Total number of recurring findings folded into an existing alert",
		},
		[]string{"severity", "category"},
	)

	AlertsResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airguardian_alerts_resolved_total",
			Help: "Total number of alerts resolved by an operator",
		},
		[]string{"category"},
	)

	AlertsExpiredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airguardian_alerts_expired_total",
			Help: "Total number of unresolved alerts deleted after going unseen",
		},
		[]string{"category"},
	)

	AlertsPurgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "airguardian_alerts_purged_total",
			Help: "Total number of resolved alerts purged after the retention window",
		},
	)

	AlertOpenSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "airguardian_alert_open_seconds",
			Help:    "Time from alert creation to resolution or expiry",
			Buckets: []float64{30, 60, 120, 300, 600, 900, 1800, 3600, 7200},
		},
		[]string{"outcome"},
	)

	AudioPreparedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airguardian_audio_prepared_total",
			Help: "Speech clips prepared for HIGH alerts by result",
		},
		[]string{"result"},
	)
)

// RecordAlertCreated records a new unresolved alert
func RecordAlertCreated(alert *models.Alert) {
	AlertsCreatedTotal.WithLabelValues(string(alert.Severity), string(alert.Category)).Inc()
	AlertsActive.WithLabelValues(string(alert.Severity), string(alert.Category)).Inc()
}

// RecordAlertUpdated records a recurrence folded into an existing alert
func RecordAlertUpdated(alert *models.Alert) {
	AlertsUpdatedTotal.WithLabelValues(string(alert.Severity), string(alert.Category)).Inc()
}

// RecordAlertResolved records an operator resolution
func RecordAlertResolved(alert *models.Alert) {
	AlertsResolvedTotal.WithLabelValues(string(alert.Category)).Inc()
	AlertsActive.WithLabelValues(string(alert.Severity), string(alert.Category)).Dec()
	if alert.ResolvedAt != nil {
		AlertOpenSeconds.WithLabelValues("resolved").Observe(alert.ResolvedAt.Sub(alert.CreatedAt).Seconds())
	}
}

// RecordAlertExpired records an unresolved alert removed by the sweep
func RecordAlertExpired(alert *models.Alert) {
	AlertsExpiredTotal.WithLabelValues(string(alert.Category)).Inc()
	AlertsActive.WithLabelValues(string(alert.Severity), string(alert.Category)).Dec()
	AlertOpenSeconds.WithLabelValues("expired").Observe(alert.LastSeenAt.Sub(alert.CreatedAt).Seconds())
}

// RecordAlertPurged records a resolved alert removed after retention
func RecordAlertPurged(*models.Alert) {
	AlertsPurgedTotal.Inc()
}

// RecordAudioPrepared records the outcome of one speech synthesis attempt
func RecordAudioPrepared(ok bool) {
	if ok {
		AudioPreparedTotal.WithLabelValues("success").Inc()
		return
	}
	AudioPreparedTotal.WithLabelValues("error").Inc()
}

// RecordAlertRestored counts an unresolved alert loaded from disk at startup
func RecordAlertRestored(alert *models.Alert) {
	AlertsActive.WithLabelValues(string(alert.Severity), string(alert.Category)).Inc()
}
