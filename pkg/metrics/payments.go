package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics records the payment recording pipeline's outcomes.
type PaymentMetrics struct {
	recorded  *prometheus.CounterVec
	conflicts prometheus.Counter
	applied   prometheus.Counter
	unapplied prometheus.Counter
}

// NewPaymentMetrics registers payment metrics on the provided registerer.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	recorded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_recorded_total",
		Help: "Payments recorded, labelled by outcome.",
	}, []string{"outcome"})
	conflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payments_lock_conflicts_total",
		Help: "Payment attempts that exhausted the per-student lock retries.",
	})
	applied := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payments_applied_cents_total",
		Help: "Total cents applied to invoices.",
	})
	unapplied := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payments_unapplied_cents_total",
		Help: "Total cents received beyond outstanding balances.",
	})
	reg.MustRegister(recorded, conflicts, applied, unapplied)
	return &PaymentMetrics{
		recorded:  recorded,
		conflicts: conflicts,
		applied:   applied,
		unapplied: unapplied,
	}
}

// IncRecorded increments the payment counter for the given outcome.
func (p *PaymentMetrics) IncRecorded(outcome string) {
	if p == nil || p.recorded == nil {
		return
	}
	p.recorded.WithLabelValues(orUnknown(outcome)).Inc()
}

// IncLockConflict counts a payment rejected because the student lock was held.
func (p *PaymentMetrics) IncLockConflict() {
	if p == nil || p.conflicts == nil {
		return
	}
	p.conflicts.Inc()
}

// AddAppliedCents accumulates cents applied to invoices.
func (p *PaymentMetrics) AddAppliedCents(cents int64) {
	if p == nil || p.applied == nil || cents <= 0 {
		return
	}
	p.applied.Add(float64(cents))
}

// AddUnappliedCents accumulates overpayment cents left on receipts.
func (p *PaymentMetrics) AddUnappliedCents(cents int64) {
	if p == nil || p.unapplied == nil || cents <= 0 {
		return
	}
	p.unapplied.Add(float64(cents))
}
