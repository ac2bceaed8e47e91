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

// Package mapek implements the kernel's autonomous Monitor-Analyze-Plan-
// Validate-Execute-Knowledge loop (spec §4.5). Each phase is its own type;
// a phase's Run method is the only way to obtain the next phase's type, so
// the Go compiler rejects any attempt to skip a phase or run one out of
// order.
package mapek

import (
	"context"
	"sort"
	"time"

	"github.com/seanchatmangpt/knhk-sub006/pkg/receiptlog"
	"github.com/seanchatmangpt/knhk-sub006/pkg/types"
)

// MonitorResult is what Monitor computes over one window of receipts.
type MonitorResult struct {
	ReceiptCount     int
	AverageTicks     float64
	MaxTicks         uint32
	GuardFailureRate float64
	AdmissionRate    float64
	ErrorRate        float64
	FailedGuards     []string
	PatternShares    []PatternTickShare
	WindowEnd        time.Time
}

// PatternTickShare is one pattern's share of the window's total tick count,
// ranked descending by TimePercentage so index 0 is rank 1 (spec §4.5's
// 80/20 hot-spot detector: ">80% of wall time concentrated in <20% of
// patterns").
type PatternTickShare struct {
	PatternID      uint8
	TimePercentage float64 // 0..100
}

// MonitorPhase is the loop's entry point: it ingests receipts for a window
// and summarizes them. Construct a new one per cycle via NewMonitorPhase.
type MonitorPhase struct {
	log            receiptlog.Log
	windowSize     int
	windowDuration time.Duration
	clock          func() time.Time
}

// NewMonitorPhase constructs a MonitorPhase reading from log. windowSize
// caps the reported ReceiptCount only: the rates, the mean tick count and
// the per-pattern shares are computed over every receipt in the log.
// windowDuration is stored but not used to filter receipts.
func NewMonitorPhase(log receiptlog.Log, windowSize int, windowDuration time.Duration) *MonitorPhase {
	return &MonitorPhase{log: log, windowSize: windowSize, windowDuration: windowDuration, clock: time.Now}
}

// Run computes a MonitorResult from the receipt log and advances to Analyze.
func (m *MonitorPhase) Run(ctx context.Context) (*AnalyzePhase, MonitorResult, error) {
	stats, err := m.log.Stats(ctx)
	if err != nil {
		return nil, MonitorResult{}, err
	}
	violations, err := m.log.GetViolations(ctx)
	if err != nil {
		return nil, MonitorResult{}, err
	}

	count := int(stats.Total)
	if m.windowSize > 0 && count > m.windowSize {
		count = m.windowSize
	}

	result := MonitorResult{
		ReceiptCount: count,
		MaxTicks:     stats.MergedAccum.MaxTicks,
		WindowEnd:    m.clock(),
	}
	if stats.Total > 0 {
		result.GuardFailureRate = float64(stats.Violations) / float64(stats.Total)
		result.ErrorRate = float64(len(violations)) / float64(stats.Total)
		result.AdmissionRate = 1 - result.ErrorRate
		result.AverageTicks = float64(stats.TickSum) / float64(stats.Total)
	}
	result.FailedGuards = failedGuardNames(violations)
	result.PatternShares = patternTickShares(stats.PerPattern, stats.TickSum)

	return &AnalyzePhase{monitor: result}, result, nil
}

// patternTickShares ranks every pattern-id seen in the window by its share
// of total ticks, descending, so the top of the slice is the heaviest
// consumer of wall time. A zero totalTicks (an all-zero-tick window) yields
// an unranked, zero-percentage slice rather than dividing by zero.
func patternTickShares(perPattern map[uint8]receiptlog.PatternAccum, totalTicks uint64) []PatternTickShare {
	shares := make([]PatternTickShare, 0, len(perPattern))
	for id, acc := range perPattern {
		var pct float64
		if totalTicks > 0 {
			pct = 100 * float64(acc.TickSum) / float64(totalTicks)
		}
		shares = append(shares, PatternTickShare{PatternID: id, TimePercentage: pct})
	}
	sort.Slice(shares, func(i, j int) bool {
		if shares[i].TimePercentage != shares[j].TimePercentage {
			return shares[i].TimePercentage > shares[j].TimePercentage
		}
		return shares[i].PatternID < shares[j].PatternID
	})
	return shares
}

// failedGuardNames collects the distinct guard names recorded across a set
// of violation receipts, for Analyze's guard-failure-cluster detector.
func failedGuardNames(violations []types.Receipt) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range violations {
		for _, g := range v.GuardsFailed {
			if !seen[g] {
				seen[g] = true
				out = append(out, g)
			}
		}
	}
	return out
}
