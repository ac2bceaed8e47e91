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

// Package catalog loads the pattern and guard catalog the compiler needs at
// startup from a YAML document on disk, independent of any snapshot's
// triples. A kernel with no catalog file configured falls back to Default,
// a single-pattern bootstrap catalog sufficient to admit and execute a
// sequence workflow.
package catalog

import (
	"os"

	"gopkg.in/yaml.v3"

	kherrors "github.com/seanchatmangpt/knhk-sub006/internal/errors"
	"github.com/seanchatmangpt/knhk-sub006/pkg/types"
)

// phaseDef is one YAML-declared phase of a patternDef.
type phaseDef struct {
	Name         string `yaml:"name"`
	Kind         string `yaml:"kind"` // "pure" | "effect" | "receipt"
	TickEstimate int    `yaml:"tick_estimate"`
}

// patternDef is one YAML-declared pattern, before conversion to
// types.Pattern.
type patternDef struct {
	ID             uint8      `yaml:"id"`
	Name           string     `yaml:"name"`
	Class          string     `yaml:"class"`
	RequiredInputs int        `yaml:"required_inputs"`
	Phases         []phaseDef `yaml:"phases"`
}

// guardInstrDef is one YAML-declared guard bytecode instruction.
type guardInstrDef struct {
	Op      string `yaml:"op"`
	Operand int    `yaml:"operand"`
}

// guardDef is one YAML-declared guard, before conversion to types.Guard.
type guardDef struct {
	Name      string          `yaml:"name"`
	Constants []string        `yaml:"constants"`
	Program   []guardInstrDef `yaml:"program"`
}

// document is the top-level shape of a catalog YAML file.
type document struct {
	Patterns []patternDef `yaml:"patterns"`
	Guards   []guardDef   `yaml:"guards"`
}

var handlerKinds = map[string]types.HandlerKind{
	"pure":    types.HandlerPure,
	"effect":  types.HandlerEffect,
	"receipt": types.HandlerReceiptEmitting,
}

var patternClasses = map[string]types.PatternClass{}

func init() {
	for c := types.PatternClass(0); int(c) < types.NumPatternClasses; c++ {
		patternClasses[c.String()] = c
	}
}

var guardOps = map[string]types.GuardOp{
	"const":            types.GuardConst,
	"read_observation": types.GuardReadObservation,
	"compare_eq":       types.GuardCompareEQ,
	"compare_lt":       types.GuardCompareLT,
	"compare_gt":       types.GuardCompareGT,
	"and":              types.GuardAnd,
	"or":               types.GuardOr,
	"not":              types.GuardNot,
}

// Load reads and decodes the catalog YAML file at path into the pattern
// and guard tables compiler.Compile expects. A pattern naming an unknown
// class, or a guard instruction naming an unknown op, fails the whole load
// rather than silently dropping an entry.
func Load(path string) ([]types.Pattern, []types.Guard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, kherrors.Wrapf(err, kherrors.ErrorTypeFatal, "read pattern catalog %s", path)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, kherrors.Wrapf(err, kherrors.ErrorTypeFatal, "parse pattern catalog %s", path)
	}

	patterns := make([]types.Pattern, 0, len(doc.Patterns))
	for _, pd := range doc.Patterns {
		class, ok := patternClasses[pd.Class]
		if !ok {
			return nil, nil, kherrors.Newf(kherrors.ErrorTypeFatal, "catalog: pattern %q names unknown class %q", pd.Name, pd.Class)
		}
		phases := make([]types.Phase, 0, len(pd.Phases))
		for _, ph := range pd.Phases {
			kind, ok := handlerKinds[ph.Kind]
			if !ok {
				return nil, nil, kherrors.Newf(kherrors.ErrorTypeFatal, "catalog: pattern %q phase %q names unknown kind %q", pd.Name, ph.Name, ph.Kind)
			}
			phases = append(phases, types.Phase{Name: ph.Name, Kind: kind, TickEstimate: ph.TickEstimate})
		}
		pattern := types.Pattern{
			ID:             pd.ID,
			Name:           pd.Name,
			Class:          class,
			Phases:         phases,
			RequiredInputs: pd.RequiredInputs,
		}
		if err := pattern.Validate(); err != nil {
			return nil, nil, kherrors.Wrapf(err, kherrors.ErrorTypeFatal, "catalog: pattern %q", pd.Name)
		}
		patterns = append(patterns, pattern)
	}

	guards := make([]types.Guard, 0, len(doc.Guards))
	for _, gd := range doc.Guards {
		program := make([]types.GuardInstr, 0, len(gd.Program))
		for _, in := range gd.Program {
			op, ok := guardOps[in.Op]
			if !ok {
				return nil, nil, kherrors.Newf(kherrors.ErrorTypeFatal, "catalog: guard %q names unknown op %q", gd.Name, in.Op)
			}
			program = append(program, types.GuardInstr{Op: op, Operand: in.Operand})
		}
		guards = append(guards, types.Guard{Name: gd.Name, Constants: gd.Constants, Program: program})
	}

	return patterns, guards, nil
}

// Default returns the bootstrap catalog a freshly installed kernel runs
// with when no catalog file is configured: a single two-phase sequence
// pattern and an always-true guard, just enough to admit and execute a
// trivial workflow while an operator prepares a real catalog.
func Default() ([]types.Pattern, []types.Guard) {
	patterns := []types.Pattern{
		{
			ID:    0,
			Name:  "bootstrap_sequence",
			Class: types.PatternSequence,
			Phases: []types.Phase{
				{Name: "observe", Kind: types.HandlerPure, TickEstimate: 1},
				{Name: "record", Kind: types.HandlerReceiptEmitting, TickEstimate: 1},
			},
			RequiredInputs: 1,
		},
	}
	guards := []types.Guard{
		{
			Name:      "ALWAYS_TRUE",
			Constants: []string{"true"},
			Program:   []types.GuardInstr{{Op: types.GuardConst, Operand: 0}},
		},
	}
	return patterns, guards
}

// AsLookup adapts a pattern slice, indexed by ID, into the
// pkg/admission.PatternLookup function the gate's congruence stage calls.
func AsLookup(patterns []types.Pattern) func(patternByte uint8) *types.Pattern {
	byID := make(map[uint8]types.Pattern, len(patterns))
	for _, p := range patterns {
		byID[p.ID] = p
	}
	return func(patternByte uint8) *types.Pattern {
		p, ok := byID[patternByte]
		if !ok {
			return nil
		}
		return &p
	}
}

// AsValidatorTables adapts pattern and guard slices into the
// map[uint8]types.Pattern / map[string]types.Guard tables
// pkg/mapek.NewValidator expects.
func AsValidatorTables(patterns []types.Pattern, guards []types.Guard) (map[uint8]types.Pattern, map[string]types.Guard) {
	patternMap := make(map[uint8]types.Pattern, len(patterns))
	for _, p := range patterns {
		patternMap[p.ID] = p
	}
	guardMap := make(map[string]types.Guard, len(guards))
	for _, g := range guards {
		guardMap[g.Name] = g
	}
	return patternMap, guardMap
}
