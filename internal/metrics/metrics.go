package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters for the booking flow and the Redis
// helpers around it.  A nil *BookingMetrics is valid and records nothing.
type BookingMetrics struct {
	bookingAttempts *prometheus.CounterVec
	lockAcquire     *prometheus.CounterVec
	cacheRequests   *prometheus.CounterVec
	refunds         *prometheus.CounterVec
	reaperExpired   prometheus.Counter
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		bookingAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consult",
			Name:      "booking_attempts_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		lockAcquire: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consult",
			Name:      "lock_acquire_total",
			Help:      "Slot lock acquisitions by result (acquired, contended, fail_open)",
		}, []string{"result"}),
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consult",
			Name:      "cache_requests_total",
			Help:      "Read cache lookups by cache and result",
		}, []string{"cache", "result"}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consult",
			Name:      "refunds_total",
			Help:      "Refund calls by result",
		}, []string{"result"}),
		reaperExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "consult",
			Name:      "reaper_expired_total",
			Help:      "Unpaid holds moved to failed by the reaper",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingAttempts, m.lockAcquire, m.cacheRequests, m.refunds, m.reaperExpired)
	return m
}

func (m *BookingMetrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingAttempts.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveLock(result string) {
	if m == nil {
		return
	}
	m.lockAcquire.WithLabelValues(result).Inc()
}

func (m *BookingMetrics) ObserveCache(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheRequests.WithLabelValues(cache, result).Inc()
}

func (m *BookingMetrics) ObserveRefund(result string) {
	if m == nil {
		return
	}
	m.refunds.WithLabelValues(result).Inc()
}

func (m *BookingMetrics) AddReaped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reaperExpired.Add(float64(n))
}
