package metrics

import "github.com/prometheus/client_golang/prometheus"

// SchedulingMetrics exposes counters and histograms for the booking flow.
type SchedulingMetrics struct {
	transitions     *prometheus.CounterVec
	confirmOutcomes *prometheus.CounterVec
	casRetries      prometheus.Counter
	slotQueries     *prometheus.HistogramVec
	notifications   *prometheus.CounterVec
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "transitions_total",
			Help:      "Appointment status transitions",
		}, []string{"event", "from", "to"}),
		confirmOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "confirm_outcomes_total",
			Help:      "Confirm and reschedule attempts by outcome",
		}, []string{"outcome"}),
		casRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "calendar_cas_retries_total",
			Help:      "Commits retried because the provider calendar changed",
		}),
		slotQueries: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "slot_generation_seconds",
			Help:      "Latency of slot generation",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Notification deliveries by event type and status",
		}, []string{"event_type", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitions, m.confirmOutcomes, m.casRetries, m.slotQueries, m.notifications)
	return m
}

func (m *SchedulingMetrics) ObserveTransition(event, from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(event, from, to).Inc()
}

func (m *SchedulingMetrics) ObserveConfirm(outcome string) {
	if m == nil {
		return
	}
	m.confirmOutcomes.WithLabelValues(outcome).Inc()
}

func (m *SchedulingMetrics) ObserveCASRetry() {
	if m == nil {
		return
	}
	m.casRetries.Inc()
}

func (m *SchedulingMetrics) ObserveSlotQuery(status string, seconds float64) {
	if m == nil {
		return
	}
	m.slotQueries.WithLabelValues(status).Observe(seconds)
}

func (m *SchedulingMetrics) ObserveNotification(eventType, status string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(eventType, status).Inc()
}
