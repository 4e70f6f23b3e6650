// Package metrics holds the prometheus collectors for the batch workflow.
// A nil *Adjustment is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Adjustment struct {
	batches       *prometheus.CounterVec
	itemsAppended *prometheus.CounterVec
	retries       *prometheus.CounterVec
	executeTime   *prometheus.HistogramVec
	skipped       *prometheus.CounterVec
}

func NewAdjustment(reg prometheus.Registerer) *Adjustment {
	f := promauto.With(reg)
	return &Adjustment{
		batches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "adjustment_batches_total",
			Help: "Batch status transitions by kind and resulting status.",
		}, []string{"kind", "status"}),
		itemsAppended: f.NewCounterVec(prometheus.CounterOpts{
			Name: "adjustment_items_appended_total",
			Help: "Record versions appended by batch execution.",
		}, []string{"kind"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "adjustment_execute_retries_total",
			Help: "Execute attempts retried after a retryable conflict.",
		}, []string{"kind"}),
		executeTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "adjustment_execute_seconds",
			Help:    "Batch execution latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind", "outcome"}),
		skipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "adjustment_skipped_items_total",
			Help: "Persons excluded from a preview because their record was corrupt.",
		}, []string{"kind"}),
	}
}

func (m *Adjustment) BatchTransition(kind string, status string) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(kind, status).Inc()
}

func (m *Adjustment) ItemsAppended(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.itemsAppended.WithLabelValues(kind).Add(float64(n))
}

func (m *Adjustment) ExecuteRetry(kind string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(kind).Inc()
}

func (m *Adjustment) ObserveExecute(kind string, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.executeTime.WithLabelValues(kind, outcome).Observe(d.Seconds())
}

func (m *Adjustment) Skipped(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.skipped.WithLabelValues(kind).Add(float64(n))
}
