package service

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the coupon business counters.
type Metrics struct {
	validations *prometheus.CounterVec
	redemptions *prometheus.CounterVec
}

// NewMetrics registers the coupon counters with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		validations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coupon_validations_total",
			Help: "Checkout coupon validations by result.",
		}, []string{"result"}),
		redemptions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coupon_redemptions_total",
			Help: "Coupon usage recordings by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) validation(result string) {
	if m != nil {
		m.validations.WithLabelValues(label(result)).Inc()
	}
}

func (m *Metrics) redemption(outcome string) {
	if m != nil {
		m.redemptions.WithLabelValues(label(outcome)).Inc()
	}
}

func label(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, " ", "_"), "-", "_")
}
