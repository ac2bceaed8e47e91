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

package types

import (
	"sort"
	"time"

	"golang.org/x/crypto/sha3"
)

// Observation (O) is an input tuple admitted for execution: a payload, a
// pattern selector, optional signature material, and a timestamp.
type Observation struct {
	Payload      []byte
	PatternByte  uint8
	Signature    []byte
	Timestamp    time.Time
	WorkflowInstanceID string
}

// Hash is the SHA3-256 digest of the observation's canonical byte form, used
// to populate a Receipt's o_in_hash field.
func (o Observation) Hash() [32]byte {
	return sha3.Sum256(o.canonicalBytes())
}

func (o Observation) canonicalBytes() []byte {
	buf := make([]byte, 0, len(o.Payload)+len(o.Signature)+32)
	buf = append(buf, o.Payload...)
	buf = append(buf, o.PatternByte)
	buf = append(buf, o.Signature...)
	ts, _ := o.Timestamp.UTC().MarshalBinary()
	buf = append(buf, ts...)
	buf = append(buf, o.WorkflowInstanceID...)
	return buf
}

// EffectRecord is one side-effect an Action requests the host perform.
type EffectRecord struct {
	Port    string
	Payload []byte
}

// Action (A) is an executor step's output: effect records, pattern-local
// variable updates, the next-activity set, and a termination flag.
type Action struct {
	Effects        []EffectRecord
	VariableUpdates map[string]string
	NextActivities []uint8
	Terminated     bool
}

// Hash is the SHA3-256 digest of the action's canonical byte form, used to
// populate a Receipt's a_out_hash field. Recomputing this hash and comparing
// it to the recorded a_out_hash is half of proving A = μ(O) (spec P2).
func (a Action) Hash() [32]byte {
	return sha3.Sum256(a.canonicalBytes())
}

func (a Action) canonicalBytes() []byte {
	buf := make([]byte, 0, 64)
	for _, e := range a.Effects {
		buf = append(buf, e.Port...)
		buf = append(buf, e.Payload...)
	}
	keys := make([]string, 0, len(a.VariableUpdates))
	for k := range a.VariableUpdates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		buf = append(buf, k...)
		buf = append(buf, a.VariableUpdates[k]...)
	}
	buf = append(buf, a.NextActivities...)
	if a.Terminated {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}
