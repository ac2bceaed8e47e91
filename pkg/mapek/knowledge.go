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

package mapek

import (
	"sync"

	"github.com/seanchatmangpt/knhk-sub006/pkg/metrics"
)

// knowledgeEMAAlpha weights the rolling acceptance-rate estimator: how much
// the newest cycle's outcome moves the running average. Not a trained
// weight — a fixed smoothing constant (spec §4.5's "no training loop").
const knowledgeEMAAlpha = 0.2

// KnowledgePhase updates the rolling acceptance-rate estimator and closes
// the cycle, handing control back to Monitor. Obtain
// one only from ExecutePhase.Run.
type KnowledgePhase struct {
	cycleHadOverlays bool
	overlaysPromoted int
}

// Estimator is the rolling model the loop updates once per cycle: an
// exponential moving average of the proposer's acceptance rate, plus the
// total cycle count. The loop reports it in CycleReport.AcceptanceRate;
// Analyze and Plan do not read it. Safe for concurrent use, so it may be
// read from a different goroutine than the one driving the loop.
type Estimator struct {
	mu             sync.Mutex
	acceptanceRate float64
	cycles         uint64
}

// NewEstimator constructs an Estimator with a neutral starting rate.
func NewEstimator() *Estimator {
	return &Estimator{acceptanceRate: 1}
}

// AcceptanceRate returns the current rolling acceptance-rate estimate.
func (e *Estimator) AcceptanceRate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acceptanceRate
}

// Cycles returns the total number of completed MAPE-K cycles.
func (e *Estimator) Cycles() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cycles
}

// Run folds this cycle's outcome into est, closing the cycle. The loop
// driver obtains the next MonitorPhase itself (Monitor needs the receipt
// log and window configuration, which Knowledge never carries) — what
// Knowledge guarantees is that no cycle completes without updating est
// first, matching spec §4.5's "the type system returns to the Monitor
// type."
//
// observed is 1 if the cycle promoted at least one overlay, 0 if Plan
// produced nothing or everything failed validation.
func (k *KnowledgePhase) Run(est *Estimator) {
	observed := 0.0
	if k.cycleHadOverlays && k.overlaysPromoted > 0 {
		observed = 1
	}

	est.mu.Lock()
	est.acceptanceRate = knowledgeEMAAlpha*observed + (1-knowledgeEMAAlpha)*est.acceptanceRate
	est.cycles++
	est.mu.Unlock()

	metrics.RecordMAPEKCycle()
}
