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

package binfmt

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanchatmangpt/knhk-sub006/pkg/types"
)

func testDescriptor() *types.Descriptor {
	return &types.Descriptor{
		Header: types.DescriptorHeader{
			Magic:         types.DescriptorMagic,
			FormatVersion: types.DescriptorFormatVersion,
			PatternCount:  1,
			Timestamp:     1234567890,
			Checksum:      0xDEADBEEF,
			VersionString: "1.0.0",
		},
		Code: []byte{0x01, 0x02, 0x03, 0x04},
		Data: []byte{0x10, 0x11, 0x20, 0x30},
		Symbols: []types.Symbol{
			{Type: types.SymbolPattern, Flags: 0, Address: 0x100, Size: 4, Name: "seq"},
		},
		Relocations: []types.Relocation{
			{Offset: 4, SymbolIndex: 0, Type: types.RelocAbsolute, Addend: 0},
		},
		EntryPoints: []types.EntryPoint{
			{PatternID: 1, Address: 0x100},
		},
	}
}

func TestEncodeProducesMagicAndMinimumHeader(t *testing.T) {
	d := testDescriptor()
	out, err := Encode(d)
	require.NoError(t, err)
	assert.Greater(t, len(out), 64)
	assert.Equal(t, types.DescriptorMagic, string(out[0:4]))
}

func TestEncodeRejectsBadMagic(t *testing.T) {
	d := testDescriptor()
	d.Header.Magic = "X"
	_, err := Encode(d)
	assert.Error(t, err)
}

func TestCodeSegmentStartsAtFixedOffset(t *testing.T) {
	d := testDescriptor()
	out, err := Encode(d)
	require.NoError(t, err)
	hdr, err := DecodeHeader(out)
	require.NoError(t, err)
	assert.EqualValues(t, types.CodeOffset, hdr.CodeOffset)
}

func TestCodeSegmentIsAlignedAndNOPPadded(t *testing.T) {
	d := testDescriptor()
	out, err := Encode(d)
	require.NoError(t, err)
	hdr, err := DecodeHeader(out)
	require.NoError(t, err)
	assert.Zero(t, hdr.CodeSize%types.CodeAlignment)

	codeStart := hdr.CodeOffset
	codeEnd := codeStart + hdr.CodeSize
	pad := out[codeStart+uint64(len(d.Code)) : codeEnd]
	for _, b := range pad {
		assert.Equal(t, byte(0x00), b)
	}
}

func TestDecodeHeaderRejectsTruncatedInput(t *testing.T) {
	_, err := DecodeHeader([]byte{0x01, 0x02})
	assert.Error(t, err)
}

func TestDecodeHeaderRejectsUnsupportedVersion(t *testing.T) {
	d := testDescriptor()
	out, err := Encode(d)
	require.NoError(t, err)
	out[4] = 0xFF
	_, err = DecodeHeader(out)
	assert.Error(t, err)
}

func TestRoundTripPreservesEverySection(t *testing.T) {
	d := testDescriptor()
	out, err := Encode(d)
	require.NoError(t, err)

	got, err := Decode(out)
	require.NoError(t, err)

	assert.Equal(t, d.Header.Magic, got.Header.Magic)
	assert.Equal(t, d.Header.PatternCount, got.Header.PatternCount)
	assert.Equal(t, d.Header.Timestamp, got.Header.Timestamp)
	assert.Equal(t, d.Header.Checksum, got.Header.Checksum)
	assert.Equal(t, d.Header.VersionString, got.Header.VersionString)
	assert.Equal(t, d.Code, got.Code)
	assert.Equal(t, d.Data, got.Data)

	if diff := cmp.Diff(d.Symbols, got.Symbols); diff != "" {
		t.Errorf("symbols mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(d.Relocations, got.Relocations); diff != "" {
		t.Errorf("relocations mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(d.EntryPoints, got.EntryPoints); diff != "" {
		t.Errorf("entry points mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRejectsTruncatedDataSegment(t *testing.T) {
	d := testDescriptor()
	out, err := Encode(d)
	require.NoError(t, err)
	_, err = Decode(out[:len(out)-100])
	assert.Error(t, err)
}
