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
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/seanchatmangpt/knhk-sub006/pkg/receiptlog"
	"github.com/seanchatmangpt/knhk-sub006/pkg/types"
)

// LoopConfig bundles everything one RunCycle needs across all six phases.
type LoopConfig struct {
	Log            receiptlog.Log
	WindowSize     int
	WindowDuration time.Duration
	Advisor        Advisor // nil: skip the optional severity ranking
	Limiter        RateLimiter
	Validator      *Validator
	Execute        ExecuteDeps
	Strategy       types.CompositionStrategy
	NextSnapshotID func() (id string, version uint64)
	Estimator      *Estimator
}

// Loop drives one MAPE-K cycle at a time. It holds no phase state between
// calls to RunCycle: every cycle starts fresh at Monitor, per spec §4.5.
type Loop struct {
	cfg LoopConfig
	log logr.Logger
}

// NewLoop constructs a Loop.
func NewLoop(log logr.Logger, cfg LoopConfig) *Loop {
	return &Loop{cfg: cfg, log: log}
}

// CycleReport summarizes one completed cycle for the caller (typically the
// kernel daemon's scheduler loop, which decides when to call RunCycle
// again).
type CycleReport struct {
	Monitor          MonitorResult
	Symptoms         []Symptom
	ProposedOverlays int
	ProvenOverlays   int
	FailedOverlays   int
	AcceptanceRate   float64
}

// RunCycle drives Monitor through Knowledge once, in order, with no way to
// skip a phase short of not calling this method at all.
func (l *Loop) RunCycle(ctx context.Context) (CycleReport, error) {
	monitor := NewMonitorPhase(l.cfg.Log, l.cfg.WindowSize, l.cfg.WindowDuration)
	analyze, monitorResult, err := monitor.Run(ctx)
	if err != nil {
		return CycleReport{}, err
	}

	plan, symptoms, err := analyze.Run(ctx, l.cfg.Advisor)
	if err != nil {
		return CycleReport{}, err
	}

	snapshotID, version := l.cfg.NextSnapshotID()
	validate, overlays, err := plan.Run(ctx, l.cfg.Limiter, l.currentSnapshotID())
	if err != nil {
		return CycleReport{}, err
	}

	execute, proven, failed, err := validate.Run(ctx, l.cfg.Validator)
	if err != nil {
		return CycleReport{}, err
	}
	for _, f := range failed {
		l.log.Info("mapek: overlay failed validation", "overlay_id", f.ID, "failed_obligations", len(f.FailedObligations()))
	}

	knowledge, err := execute.Run(ctx, l.cfg.Execute, l.cfg.Strategy, snapshotID, version)
	if err != nil {
		return CycleReport{}, err
	}
	knowledge.Run(l.cfg.Estimator)

	return CycleReport{
		Monitor:          monitorResult,
		Symptoms:         symptoms,
		ProposedOverlays: len(overlays),
		ProvenOverlays:   len(proven),
		FailedOverlays:   len(failed),
		AcceptanceRate:   l.cfg.Estimator.AcceptanceRate(),
	}, nil
}

// currentSnapshotID reads the base snapshot Plan scopes its overlays
// against, from the same store Execute will compose a candidate against.
func (l *Loop) currentSnapshotID() string {
	cur := l.cfg.Execute.Store.Current()
	if cur == nil {
		return ""
	}
	return cur.ID
}
