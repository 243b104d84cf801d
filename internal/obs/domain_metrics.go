package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// BillsOpenedTotal counts bills created by the register.
	BillsOpenedTotal prometheus.Counter
	// BillSubmissionsTotal counts bill submissions handed to the register by outcome.
	BillSubmissionsTotal *prometheus.CounterVec
	// BillNoticesTotal counts policy rejections (mutating or resubmitting a submitted bill).
	BillNoticesTotal *prometheus.CounterVec
	// ItemValidationWarnings counts item field coercions by field.
	ItemValidationWarnings *prometheus.CounterVec
	// SystemTotal tracks the register's running total in minor units.
	SystemTotal *prometheus.GaugeVec
)

// MustRegisterDomainMetrics initialises and registers point-of-sale Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		BillsOpenedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bills_opened_total",
			Help:      "Number of bills opened by the register.",
		})
		BillSubmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bill_submissions_total",
			Help:      "Count of bill submissions by outcome.",
		}, []string{"result"})
		BillNoticesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bill_notices_total",
			Help:      "Count of ignored operations on submitted bills.",
		}, []string{"operation"})
		ItemValidationWarnings = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "item_validation_warnings_total",
			Help:      "Count of item field values coerced to a default.",
		}, []string{"field"})
		SystemTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "register_system_total_minor",
			Help:      "Sum of accepted bill subtotals in minor currency units.",
		}, []string{"currency"})

		mustRegisterCollector(reg, BillsOpenedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				BillsOpenedTotal = v
			}
		})
		mustRegisterCollector(reg, BillSubmissionsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				BillSubmissionsTotal = v
			}
		})
		mustRegisterCollector(reg, BillNoticesTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				BillNoticesTotal = v
			}
		})
		mustRegisterCollector(reg, ItemValidationWarnings, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ItemValidationWarnings = v
			}
		})
		mustRegisterCollector(reg, SystemTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.GaugeVec); ok {
				SystemTotal = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register metric: %w", err))
	}
}
