package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Claim outcomes used as the status label
const (
	ClaimSuccess   = "success"
	ClaimExisting  = "existing"
	ClaimExhausted = "exhausted"
	ClaimInvalid   = "invalid"
	ClaimFailed    = "failed"
)

var (
	// ClaimDuration tracks the latency of code claims
	ClaimDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "coupon_code_claim_duration_seconds",
			Help: "Duration of code claim requests in seconds",
			Buckets: []float64{
				0.001, // 1ms
				0.005, // 5ms
				0.01,  // 10ms
				0.025, // 25ms
				0.05,  // 50ms
				0.1,   // 100ms
				0.25,  // 250ms
				0.5,   // 500ms
				1.0,   // 1s
				2.5,   // 2.5s
				5.0,   // 5s
				10.0,  // 10s
			},
		},
		[]string{"status"},
	)

	// CodesAdded counts codes stored by generation or upload
	CodesAdded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coupon_codes_added_total",
			Help: "Number of codes added to pools",
		},
		[]string{"source"}, // generate or upload
	)

	// CodesSkipped counts codes dropped because the pool already held them
	CodesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coupon_codes_skipped_total",
			Help: "Number of duplicate codes skipped during bulk inserts",
		},
		[]string{"source"},
	)

	// CodesDeleted counts removed codes
	CodesDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coupon_codes_deleted_total",
			Help: "Number of codes deleted from pools",
		},
		[]string{"state"}, // unused or claimed
	)
)

// RecordClaimDuration records the duration of a claim request
func RecordClaimDuration(status string, duration float64) {
	ClaimDuration.WithLabelValues(status).Observe(duration)
}

// RecordCodesAdded records the outcome of a bulk insert
func RecordCodesAdded(source string, inserted, skipped int) {
	CodesAdded.WithLabelValues(source).Add(float64(inserted))
	CodesSkipped.WithLabelValues(source).Add(float64(skipped))
}

// RecordCodesDeleted records a bulk delete
func RecordCodesDeleted(unused, claimed int) {
	CodesDeleted.WithLabelValues("unused").Add(float64(unused))
	CodesDeleted.WithLabelValues("claimed").Add(float64(claimed))
}
