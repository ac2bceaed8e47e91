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

package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanchatmangpt/knhk-sub006/pkg/types"
)

const validYAML = `
patterns:
  - id: 1
    name: two_phase_sequence
    class: sequence
    required_inputs: 1
    phases:
      - name: observe
        kind: pure
        tick_estimate: 2
      - name: record
        kind: receipt
        tick_estimate: 1
guards:
  - name: BUDGET_OK
    constants: ["8"]
    program:
      - op: const
        operand: 0
      - op: read_observation
        operand: 0
      - op: compare_lt
        operand: 0
`

func writeCatalog(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadParsesAValidCatalogIntoPatternsAndGuards(t *testing.T) {
	patterns, guards, err := Load(writeCatalog(t, validYAML))
	require.NoError(t, err)

	require.Len(t, patterns, 1)
	assert.Equal(t, uint8(1), patterns[0].ID)
	assert.Equal(t, types.PatternSequence, patterns[0].Class)
	assert.Equal(t, 3, patterns[0].TotalTicks())

	require.Len(t, guards, 1)
	assert.Equal(t, "BUDGET_OK", guards[0].Name)
	assert.Equal(t, types.GuardCompareLT, guards[0].Program[2].Op)
}

func TestLoadRejectsAnUnknownPatternClass(t *testing.T) {
	_, _, err := Load(writeCatalog(t, `
patterns:
  - id: 1
    name: bogus
    class: not_a_real_class
    phases:
      - name: p
        kind: pure
        tick_estimate: 1
`))
	assert.Error(t, err)
}

func TestLoadRejectsAnUnknownGuardOp(t *testing.T) {
	_, _, err := Load(writeCatalog(t, `
guards:
  - name: BAD
    program:
      - op: not_a_real_op
        operand: 0
`))
	assert.Error(t, err)
}

func TestLoadRejectsAPatternThatExceedsTheTickBudget(t *testing.T) {
	_, _, err := Load(writeCatalog(t, `
patterns:
  - id: 1
    name: too_slow
    class: sequence
    phases:
      - name: a
        kind: pure
        tick_estimate: 5
      - name: b
        kind: pure
        tick_estimate: 5
`))
	assert.Error(t, err)
}

func TestLoadOnAMissingFileFails(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultReturnsAValidBootstrapCatalog(t *testing.T) {
	patterns, guards, err := func() ([]types.Pattern, []types.Guard, error) {
		p, g := Default()
		for _, pattern := range p {
			if err := pattern.Validate(); err != nil {
				return nil, nil, err
			}
		}
		return p, g, nil
	}()
	require.NoError(t, err)
	assert.NotEmpty(t, patterns)
	assert.NotEmpty(t, guards)
}

func TestAsLookupResolvesByPatternIDAndMissesCleanly(t *testing.T) {
	patterns, _ := Default()
	lookup := AsLookup(patterns)

	found := lookup(patterns[0].ID)
	require.NotNil(t, found)
	assert.Equal(t, patterns[0].Name, found.Name)

	assert.Nil(t, lookup(255))
}

func TestAsValidatorTablesIndexesByIDAndName(t *testing.T) {
	patterns, guards := Default()
	patternMap, guardMap := AsValidatorTables(patterns, guards)

	assert.Contains(t, patternMap, patterns[0].ID)
	assert.Contains(t, guardMap, guards[0].Name)
}
