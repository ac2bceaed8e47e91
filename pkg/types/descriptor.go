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

// DescriptorMagic is the four-byte magic number every descriptor header
// begins with (spec §6).
const DescriptorMagic = "KNHK"

// DescriptorFormatVersion is the format version this kernel emits and reads.
const DescriptorFormatVersion uint32 = 1

// CodeAlignment is the byte boundary code-segment entries are aligned to.
const CodeAlignment = 64

// CodeOffset is the fixed offset the code segment begins at (header + fixed
// metadata region).
const CodeOffset = 256

// SymbolType classifies one symbol-table entry.
type SymbolType uint8

const (
	SymbolPattern SymbolType = iota
	SymbolGuard
	SymbolConstant
)

// Symbol is one symbol-table entry: name, address, size, type and flags.
type Symbol struct {
	Type    SymbolType
	Flags   uint32
	Address uint32
	Size    uint32
	Name    string
}

// RelocationType classifies one relocation-table entry.
type RelocationType uint8

const (
	RelocAbsolute RelocationType = iota
	RelocRelative
)

// Relocation is one relocation-table entry.
type Relocation struct {
	Offset      uint32
	SymbolIndex uint16
	Type        RelocationType
	Addend      uint32
}

// EntryPoint maps one pattern-id to the compiled code address its handler
// chain begins at.
type EntryPoint struct {
	PatternID uint8
	Address   uint32
}

// DescriptorHeader mirrors the wire header fields (spec §6), in declared
// order.
type DescriptorHeader struct {
	Magic         string
	FormatVersion uint32
	HeaderSize    uint32
	PatternCount  uint32
	CodeOffset    uint64
	CodeSize      uint64
	DataOffset    uint64
	DataSize      uint64
	SymbolOffset  uint64
	SymbolCount   uint32
	Flags         uint32
	Timestamp     uint64
	Checksum      uint32
	VersionString string
}

// FlagCompressed is bit 0 of DescriptorHeader.Flags: compression present.
const FlagCompressed uint32 = 1 << 0

// Descriptor (Σ*) is the compiled, loadable form of a Snapshot: a code
// segment, a data segment, a symbol table, a relocation table, a
// pattern-id→entry-point map, and a header (spec §3, §6).
type Descriptor struct {
	Header        DescriptorHeader
	Code          []byte // bytecode, NOP-padded to CodeAlignment
	Data          []byte // constants ‖ string pool, padded to 8 bytes
	Symbols       []Symbol
	Relocations   []Relocation
	EntryPoints   []EntryPoint // sorted by PatternID
	SourceSnapshotID string
}

// EntryPointFor returns the code address for patternID, and whether one was
// found. The dispatcher/executor use this as the dense table lookup spec §9
// describes in place of virtual dispatch.
func (d *Descriptor) EntryPointFor(patternID uint8) (uint32, bool) {
	// EntryPoints is sorted by PatternID (spec §6); a linear scan is used
	// rather than a binary search because NumPatternClasses is tiny (43).
	for _, ep := range d.EntryPoints {
		if ep.PatternID == patternID {
			return ep.Address, true
		}
	}
	return 0, false
}
