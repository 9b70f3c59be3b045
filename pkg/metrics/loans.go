package metrics

import "github.com/prometheus/client_golang/prometheus"

// LoanMetrics counts circulation outcomes.
type LoanMetrics struct {
	checkouts    *prometheus.CounterVec
	returns      prometheus.Counter
	overdue      prometheus.Counter
	reservations *prometheus.CounterVec
}

// Checkout outcomes.
const (
	OutcomeSuccess    = "success"
	OutcomeOutOfStock = "out_of_stock"
	OutcomeNotFound   = "not_found"
	OutcomeError      = "error"
)

// NewLoanMetrics registers the circulation counters on reg. A nil registerer
// yields a no-op recorder.
func NewLoanMetrics(reg prometheus.Registerer) *LoanMetrics {
	if reg == nil {
		return &LoanMetrics{}
	}
	m := &LoanMetrics{
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "library_checkouts_total",
			Help: "Checkout attempts by outcome.",
		}, []string{"outcome"}),
		returns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "library_returns_total",
			Help: "Borrows returned.",
		}),
		overdue: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "library_borrows_marked_overdue_total",
			Help: "Borrows transitioned to OVERDUE by the sweep.",
		}),
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "library_reservations_total",
			Help: "Reservation transitions by resulting status.",
		}, []string{"status"}),
	}
	reg.MustRegister(m.checkouts, m.returns, m.overdue, m.reservations)
	return m
}

func (m *LoanMetrics) IncCheckout(outcome string) {
	if m == nil || m.checkouts == nil {
		return
	}
	m.checkouts.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *LoanMetrics) IncReturn() {
	if m == nil || m.returns == nil {
		return
	}
	m.returns.Inc()
}

func (m *LoanMetrics) AddOverdue(n int) {
	if m == nil || m.overdue == nil || n <= 0 {
		return
	}
	m.overdue.Add(float64(n))
}

func (m *LoanMetrics) IncReservation(status string) {
	if m == nil || m.reservations == nil {
		return
	}
	m.reservations.WithLabelValues(normalizeLabel(status)).Inc()
}
