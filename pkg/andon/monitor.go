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

// Package andon implements the kernel's Green/Yellow/Red operational
// indicator (spec §4.6): a circuit breaker over the admission and execution
// fault rate that gates hot-path admission when tripped Red, and requires an
// explicit operator acknowledgement to clear.
package andon

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/sony/gobreaker"

	kherrors "github.com/seanchatmangpt/knhk-sub006/internal/errors"
)

// State is the monitor's three-valued operational indicator.
type State string

const (
	Green  State = "green"
	Yellow State = "yellow"
	Red    State = "red"
)

// Notifier is posted to on every transition into Red. SlackNotifier is the
// kernel's Slack-backed implementation, wired only when a Slack token is
// configured; otherwise the notifier is nil.
type Notifier interface {
	NotifyRed(ctx context.Context, reason string) error
}

// Config configures a Monitor (mirrors internal/config.AndonConfig).
type Config struct {
	AutoStopOnRed    bool
	FailureThreshold float64
	ResetTimeout     time.Duration
	HalfOpenMaxProbe uint32
}

// Monitor tracks operational health via a sony/gobreaker circuit breaker:
// breaker-open maps to Red, breaker-half-open maps to Yellow, breaker-closed
// maps to Green. ReportFault/ReportSuccess feed the breaker; State reads
// the current indicator without mutating it.
type Monitor struct {
	log      logr.Logger
	cfg      Config
	breaker  *gobreaker.CircuitBreaker[struct{}]
	notifier Notifier

	mu         sync.Mutex
	acked      bool
	lastReason string
}

// NewMonitor constructs a Monitor. notifier may be nil, in which case Red
// transitions are logged only.
func NewMonitor(log logr.Logger, cfg Config, notifier Notifier) *Monitor {
	m := &Monitor{log: log, cfg: cfg, notifier: notifier}

	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = 0.5
	}
	resetTimeout := cfg.ResetTimeout
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	maxProbe := cfg.HalfOpenMaxProbe
	if maxProbe == 0 {
		maxProbe = 1
	}

	settings := gobreaker.Settings{
		Name:        "knhk-andon",
		MaxRequests: maxProbe,
		Interval:    0,
		Timeout:     resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 4 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			m.onStateChange(from, to)
		},
	}
	m.breaker = gobreaker.NewCircuitBreaker[struct{}](settings)
	return m
}

func (m *Monitor) onStateChange(from, to gobreaker.State) {
	m.log.Info("andon state transition", "from", from.String(), "to", to.String())
	if to == gobreaker.StateOpen {
		m.mu.Lock()
		m.acked = false
		reason := m.lastReason
		m.mu.Unlock()
		if m.notifier != nil {
			if err := m.notifier.NotifyRed(context.Background(), reason); err != nil {
				m.log.Error(err, "andon red notification failed")
			}
		}
	}
}

// ReportFault records a failed operation (a stage fault, a tick-budget
// breach, a guard failure) against the breaker. stageName is recorded as the
// trip reason shown to the notifier and to operators inspecting State.
func (m *Monitor) ReportFault(stageName string) {
	m.mu.Lock()
	m.lastReason = stageName
	m.mu.Unlock()
	_, _ = m.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, kherrors.Newf(kherrors.ErrorTypeRuntime, "andon fault: %s", stageName)
	})
}

// ReportSuccess records a successful operation against the breaker, so the
// failure-rate window is a true rate rather than a fault counter.
func (m *Monitor) ReportSuccess() {
	_, _ = m.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, nil
	})
}

// State reports the monitor's current indicator.
func (m *Monitor) State() State {
	switch m.breaker.State() {
	case gobreaker.StateOpen:
		return Red
	case gobreaker.StateHalfOpen:
		return Yellow
	default:
		return Green
	}
}

// ShouldGate reports whether hot-path admission should be refused because
// the monitor is Red and auto_stop_on_red policy is active and the Red state
// has not yet been acknowledged by an operator.
func (m *Monitor) ShouldGate() bool {
	if !m.cfg.AutoStopOnRed {
		return false
	}
	if m.State() != Red {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.acked
}

// Ack clears the gate on a Red indicator without waiting for the breaker's
// own reset timeout: an operator has investigated and wants admission
// resumed immediately. It does not force the breaker itself back to closed
// — the next probe still governs whether the breaker actually recovers.
func (m *Monitor) Ack(_ context.Context, operator string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if operator == "" {
		return kherrors.New(kherrors.ErrorTypeValidation, "andon ack requires a non-empty operator name")
	}
	m.acked = true
	m.log.Info("andon red acknowledged", "operator", operator)
	return nil
}
