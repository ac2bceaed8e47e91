/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics exposes every subsystem's Prometheus collectors: the
// admission gate's rate and latency, tick-budget breaches per dispatcher
// stratum, receipt-append volume, andon state, MAPE-K cycle count, and
// proposer rate-limit rejections.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AdmissionRequestsTotal counts admission attempts by outcome
	// (admitted/rejected) and rejection stage, if rejected.
	AdmissionRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "knhk_admission_requests_total",
		Help: "Total admission attempts by outcome and stage.",
	}, []string{"outcome", "stage"})

	// AdmissionLatencySeconds measures wall-clock time spent in the
	// admission gate, end to end.
	AdmissionLatencySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "knhk_admission_latency_seconds",
		Help:    "Admission gate latency in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	// TickBudgetBreachesTotal counts executor runs whose tick count
	// exceeded their stratum's budget, labeled by stratum.
	TickBudgetBreachesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "knhk_tick_budget_breaches_total",
		Help: "Executions whose tick count exceeded their stratum's budget.",
	}, []string{"stratum"})

	// ReceiptsAppendedTotal counts receipts appended to the receipt log,
	// labeled by success.
	ReceiptsAppendedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "knhk_receipts_appended_total",
		Help: "Receipts appended to the receipt log.",
	}, []string{"success"})

	// AndonState reports the andon monitor's current state as a gauge:
	// 0 = green, 1 = yellow, 2 = red.
	AndonState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "knhk_andon_state",
		Help: "Current andon state (0=green, 1=yellow, 2=red).",
	})

	// MAPEKCyclesTotal counts completed Monitor-Analyze-Plan-Validate-
	// Execute-Knowledge cycles.
	MAPEKCyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "knhk_mapek_cycles_total",
		Help: "Completed MAPE-K cycles.",
	})

	// ProposerRateLimitRejectionsTotal counts overlay proposals rejected
	// by the proposer's rate limiter before ever reaching validation.
	ProposerRateLimitRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "knhk_proposer_rate_limit_rejections_total",
		Help: "Overlay proposals rejected by the proposer rate limiter.",
	})
)

// RecordAdmission records one admission attempt's outcome and latency.
// stage is empty for an admitted request.
func RecordAdmission(outcome, stage string, elapsed time.Duration) {
	AdmissionRequestsTotal.WithLabelValues(outcome, stage).Inc()
	AdmissionLatencySeconds.Observe(elapsed.Seconds())
}

// RecordTickBudgetBreach records one stratum-budget breach.
func RecordTickBudgetBreach(stratum string) {
	TickBudgetBreachesTotal.WithLabelValues(stratum).Inc()
}

// RecordReceiptAppended records one receipt append, labeled by whether the
// underlying execution succeeded.
func RecordReceiptAppended(success bool) {
	label := "true"
	if !success {
		label = "false"
	}
	ReceiptsAppendedTotal.WithLabelValues(label).Inc()
}

// SetAndonState publishes the andon monitor's current state.
func SetAndonState(level float64) {
	AndonState.Set(level)
}

// RecordMAPEKCycle records one completed MAPE-K cycle.
func RecordMAPEKCycle() {
	MAPEKCyclesTotal.Inc()
}

// RecordProposerRateLimitRejection records one proposer rejection.
func RecordProposerRateLimitRejection() {
	ProposerRateLimitRejectionsTotal.Inc()
}
