package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for series issuance and redemption.
type Metrics struct {
	SeriesCreated    prometheus.Counter
	Purchases        *prometheus.CounterVec
	Redemptions      *prometheus.CounterVec
	PrincipalIssued  prometheus.Counter
	PayoutDisbursed  prometheus.Counter
	Failures         *prometheus.CounterVec
	Unreconciled     *prometheus.CounterVec
	PurchaseDuration prometheus.Histogram
	RedeemDuration   prometheus.Histogram
}

var durationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

// New registers the bond metrics with the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SeriesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "bondledger_series_created_total",
			Help: "Total number of bond series created",
		}),
		Purchases: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bondledger_purchases_total",
			Help: "Successful purchases by accounting model",
		}, []string{"model"}),
		Redemptions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bondledger_redemptions_total",
			Help: "Successful redemptions by claim kind",
		}, []string{"claim"}),
		PrincipalIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "bondledger_principal_issued_total",
			Help: "Principal accepted across all series",
		}),
		PayoutDisbursed: factory.NewCounter(prometheus.CounterOpts{
			Name: "bondledger_payout_disbursed_total",
			Help: "Principal plus interest paid out on redemption",
		}),
		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bondledger_operation_failures_total",
			Help: "Failed operations by operation and error code",
		}, []string{"operation", "code"}),
		Unreconciled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bondledger_unreconciled_total",
			Help: "Collateral movements left without a committed ledger change, by kind",
		}, []string{"kind"}),
		PurchaseDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bondledger_purchase_duration_seconds",
			Help:    "Duration of purchase operations",
			Buckets: durationBuckets,
		}),
		RedeemDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bondledger_redeem_duration_seconds",
			Help:    "Duration of redeem operations",
			Buckets: durationBuckets,
		}),
	}
}

// ObservePurchase records the duration of a purchase started at start.
func (m *Metrics) ObservePurchase(start time.Time) {
	m.PurchaseDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveRedeem(start time.Time) {
	m.RedeemDuration.Observe(time.Since(start).Seconds())
}
