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

package dispatcher

import "github.com/seanchatmangpt/knhk-sub006/pkg/types"

// Stratum is one of the three execution isolation tiers a task is routed
// to (spec §4.4): Hot tasks run under the chatman-constant tick budget,
// Warm tasks get a looser budget, Cold tasks run with no timing constraint.
type Stratum uint8

const (
	StratumHot Stratum = iota
	StratumWarm
	StratumCold
)

func (s Stratum) String() string {
	switch s {
	case StratumHot:
		return "hot"
	case StratumWarm:
		return "warm"
	case StratumCold:
		return "cold"
	default:
		return "unknown"
	}
}

// HotTickBudget and WarmTickBudget bound their respective strata; a task
// that exceeds its stratum's budget is demoted to the next one down.
const (
	HotTickBudget  = types.ChatmanConstant
	WarmTickBudget = 100
)

// HotBatchSize, WarmBatchSize, ColdBatchSize are the number of tasks one
// poll iteration drains from each stratum's queue before yielding.
const (
	HotBatchSize  = 8
	WarmBatchSize = 4
	ColdBatchSize = 1
)

// HotQueueCapacity and WarmQueueCapacity bound their rings; the cold queue
// is an unbounded mutex-guarded slice.
const (
	HotQueueCapacity  = 1024
	WarmQueueCapacity = 1024
)

// coldPatternClasses names pattern classes whose structure (unbounded
// recursion, arbitrary cycles) rules out the hot and warm paths regardless
// of observation count.
var coldPatternClasses = map[types.PatternClass]bool{
	types.PatternRecursion:       true,
	types.PatternArbitraryCycles: true,
}

var warmPatternClasses = map[types.PatternClass]bool{
	types.PatternMultipleInstancesRuntime:        true,
	types.PatternInterleavedParallelRouting:      true,
	types.PatternMultipleInstancesNoPriorRuntime: true,
}

// maxHotObservations is the observation-count ceiling for an otherwise
// simple pattern to still qualify for the hot stratum.
const maxHotObservations = 4

// AssignStratum routes a task to a stratum based on its pattern class and
// observation count: a pure function with no side effects, so dispatcher
// behavior stays testable without a running queue (spec §4.4).
func AssignStratum(class types.PatternClass, obsCount int) Stratum {
	switch {
	case coldPatternClasses[class]:
		return StratumCold
	case warmPatternClasses[class]:
		return StratumWarm
	case obsCount <= maxHotObservations:
		return StratumHot
	default:
		return StratumWarm
	}
}
