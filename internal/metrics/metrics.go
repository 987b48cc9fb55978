// Package metrics содержит Prometheus-метрики сервиса.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "modhub"

// Metrics - набор коллекторов. Методы безопасно вызывать на nil.
type Metrics struct {
	uploads        *prometheus.CounterVec
	uploadDuration prometheus.Histogram
	verifications  *prometheus.CounterVec
	reconciled     prometheus.Counter
	downloads      prometheus.Counter
	jobRuns        *prometheus.CounterVec
	jobAlerts      *prometheus.CounterVec
	notified       prometheus.Counter
}

// New создает коллекторы и регистрирует их в reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Загрузки модов по исходу и причине отказа.",
		}, []string{"status", "reason"}),
		uploadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_duration_seconds",
			Help:      "Время обработки загрузки.",
			Buckets:   prometheus.DefBuckets,
		}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Проверенные моды по способу проверки.",
		}, []string{"mode"}),
		reconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciled_total",
			Help:      "Исправленные устаревшие проекции модов.",
		}),
		downloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Скачивания архивов.",
		}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Запуски фоновых задач по результату.",
		}, []string{"job", "result"}),
		jobAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_alerts_total",
			Help:      "Тревоги по задачам, превысившим порог последовательных сбоев.",
		}, []string{"job"}),
		notified: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_notified_total",
			Help:      "Доставленные записи журнала действий.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.uploads, m.uploadDuration, m.verifications, m.reconciled,
			m.downloads, m.jobRuns, m.jobAlerts, m.notified)
	}
	return m
}

// ObserveUpload учитывает исход загрузки.
func (m *Metrics) ObserveUpload(status, reason string, seconds float64) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(status, reason).Inc()
	m.uploadDuration.Observe(seconds)
}

// Verified учитывает проверку мода: mode = manual | auto.
func (m *Metrics) Verified(mode string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(mode).Inc()
}

// Reconciled учитывает исправленные проекции.
func (m *Metrics) Reconciled(n int) {
	if m == nil {
		return
	}
	m.reconciled.Add(float64(n))
}

// Downloaded учитывает скачивание.
func (m *Metrics) Downloaded() {
	if m == nil {
		return
	}
	m.downloads.Inc()
}

// JobRun учитывает запуск задачи: result = ok | error | skipped.
func (m *Metrics) JobRun(job, result string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job, result).Inc()
}

// JobAlert учитывает тревогу по задаче.
func (m *Metrics) JobAlert(job string) {
	if m == nil {
		return
	}
	m.jobAlerts.WithLabelValues(job).Inc()
}

// Notified учитывает доставленные записи журнала.
func (m *Metrics) Notified(n int) {
	if m == nil {
		return
	}
	m.notified.Add(float64(n))
}
