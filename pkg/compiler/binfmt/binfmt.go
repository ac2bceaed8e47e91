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

// Package binfmt serializes and deserializes a compiled types.Descriptor to
// and from the kernel's binary wire format (spec §6): a fixed 64-byte
// header at offset 0, a fixed metadata region filling out to the 256-byte
// code offset, then the code segment (64-byte aligned, NOP-padded), the data
// segment (8-byte aligned), the symbol table, the relocation table, and the
// pattern-id-sorted entry-point table.
package binfmt

import (
	"bytes"
	"encoding/binary"
	"fmt"

	kherrors "github.com/seanchatmangpt/knhk-sub006/internal/errors"
	"github.com/seanchatmangpt/knhk-sub006/pkg/types"
)

var byteOrder = binary.LittleEndian

// Encode serializes d to its binary wire form.
func Encode(d *types.Descriptor) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(len(d.Code) + len(d.Data) + 4096)

	if err := writeHeader(buf, d); err != nil {
		return nil, err
	}
	writeMetadata(buf, d)
	writeCodeSegment(buf, d)
	writeDataSegment(buf, d)
	writeSymbolTable(buf, d)
	writeRelocationTable(buf, d)
	writeEntryPoints(buf, d)

	return buf.Bytes(), nil
}

func writeHeader(buf *bytes.Buffer, d *types.Descriptor) error {
	if len(d.Header.Magic) != 4 {
		return kherrors.Newf(kherrors.ErrorTypeValidation, "binfmt: magic must be 4 bytes, got %d", len(d.Header.Magic))
	}
	buf.WriteString(d.Header.Magic)
	writeU32(buf, d.Header.FormatVersion)
	writeU32(buf, uint32(types.CodeOffset)) // header+metadata size, fixed
	writeU32(buf, d.Header.PatternCount)

	codeOffset := uint64(types.CodeOffset)
	writeU64(buf, codeOffset)
	codeSize := uint64(len(alignedCode(d.Code)))
	writeU64(buf, codeSize)

	dataOffset := codeOffset + codeSize
	writeU64(buf, dataOffset)
	dataSize := uint64(len(alignedData(d.Data)))
	writeU64(buf, dataSize)

	symbolOffset := dataOffset + dataSize
	writeU64(buf, symbolOffset)
	writeU32(buf, uint32(len(d.Symbols)))
	writeU32(buf, d.Header.Flags)
	return nil
}

func writeMetadata(buf *bytes.Buffer, d *types.Descriptor) {
	writeU64(buf, d.Header.Timestamp)
	writeU32(buf, d.Header.Checksum)
	v := []byte(d.Header.VersionString)
	writeU32(buf, uint32(len(v)))
	buf.Write(v)
	padTo(buf, 16)
}

func alignedCode(code []byte) []byte {
	padLen := (types.CodeAlignment - len(code)%types.CodeAlignment) % types.CodeAlignment
	return append(append([]byte{}, code...), make([]byte, padLen)...)
}

func alignedData(data []byte) []byte {
	padLen := (8 - len(data)%8) % 8
	return append(append([]byte{}, data...), make([]byte, padLen)...)
}

func writeCodeSegment(buf *bytes.Buffer, d *types.Descriptor) {
	for buf.Len() < types.CodeOffset {
		buf.WriteByte(0)
	}
	buf.Write(alignedCode(d.Code))
}

func writeDataSegment(buf *bytes.Buffer, d *types.Descriptor) {
	buf.Write(alignedData(d.Data))
}

func writeSymbolTable(buf *bytes.Buffer, d *types.Descriptor) {
	writeU32(buf, uint32(len(d.Symbols)))
	for _, s := range d.Symbols {
		buf.WriteByte(byte(s.Type))
		writeU32(buf, s.Flags)
		writeU32(buf, s.Address)
		writeU32(buf, s.Size)
		name := []byte(s.Name)
		writeU16(buf, uint16(len(name)))
		buf.Write(name)
		padTo4(buf)
	}
}

func writeRelocationTable(buf *bytes.Buffer, d *types.Descriptor) {
	writeU32(buf, uint32(len(d.Relocations)))
	for _, r := range d.Relocations {
		writeU32(buf, r.Offset)
		writeU16(buf, r.SymbolIndex)
		buf.WriteByte(byte(r.Type))
		buf.WriteByte(0) // padding
		writeU32(buf, r.Addend)
	}
}

func writeEntryPoints(buf *bytes.Buffer, d *types.Descriptor) {
	writeU32(buf, uint32(len(d.EntryPoints)))
	for _, ep := range d.EntryPoints {
		buf.WriteByte(ep.PatternID)
		buf.Write([]byte{0, 0, 0})
		writeU32(buf, ep.Address)
	}
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	byteOrder.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	byteOrder.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	byteOrder.PutUint64(b[:], v)
	buf.Write(b[:])
}

func padTo(buf *bytes.Buffer, n int) {
	for buf.Len()%n != 0 {
		buf.WriteByte(0)
	}
}

func padTo4(buf *bytes.Buffer) {
	padTo(buf, 4)
}

// Header is the subset of header fields recoverable directly from the
// fixed-size leading bytes, used to validate a descriptor before the full
// variable-length sections are parsed.
type Header struct {
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
}

// DecodeHeader parses the fixed 64-byte header from the front of data,
// without touching the variable-length sections that follow.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < 64 {
		return Header{}, kherrors.New(kherrors.ErrorTypeValidation, "binfmt: descriptor shorter than header")
	}
	magic := string(data[0:4])
	if magic != types.DescriptorMagic {
		return Header{}, kherrors.Newf(kherrors.ErrorTypeValidation, "binfmt: bad magic %q", magic)
	}
	version := byteOrder.Uint32(data[4:8])
	if version != types.DescriptorFormatVersion {
		return Header{}, kherrors.Newf(kherrors.ErrorTypeValidation, "binfmt: unsupported format version %d", version)
	}
	return Header{
		Magic:         magic,
		FormatVersion: version,
		HeaderSize:    byteOrder.Uint32(data[8:12]),
		PatternCount:  byteOrder.Uint32(data[12:16]),
		CodeOffset:    byteOrder.Uint64(data[16:24]),
		CodeSize:      byteOrder.Uint64(data[24:32]),
		DataOffset:    byteOrder.Uint64(data[32:40]),
		DataSize:      byteOrder.Uint64(data[40:48]),
		SymbolOffset:  byteOrder.Uint64(data[48:56]),
		SymbolCount:   byteOrder.Uint32(data[56:60]),
		Flags:         byteOrder.Uint32(data[60:64]),
	}, nil
}

// Decode fully parses data back into a Descriptor, validating section
// offsets against what Encode would have produced.
func Decode(data []byte) (*types.Descriptor, error) {
	hdr, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	if uint64(len(data)) < hdr.DataOffset+hdr.DataSize {
		return nil, kherrors.New(kherrors.ErrorTypeValidation, "binfmt: descriptor truncated before data segment end")
	}

	r := &reader{data: data, pos: 64}
	timestamp := r.u64()
	checksum := r.u32()
	versionLen := r.u32()
	versionString := string(r.bytes(int(versionLen)))
	r.padTo(16)

	code := append([]byte{}, data[hdr.CodeOffset:hdr.CodeOffset+hdr.CodeSize]...)
	dataSeg := append([]byte{}, data[hdr.DataOffset:hdr.DataOffset+hdr.DataSize]...)

	r.pos = int(hdr.SymbolOffset)
	symCount := r.u32()
	symbols := make([]types.Symbol, 0, symCount)
	for i := uint32(0); i < symCount; i++ {
		typ := types.SymbolType(r.byte())
		flags := r.u32()
		addr := r.u32()
		size := r.u32()
		nameLen := r.u16()
		name := string(r.bytes(int(nameLen)))
		r.padTo(4)
		symbols = append(symbols, types.Symbol{Type: typ, Flags: flags, Address: addr, Size: size, Name: name})
	}

	relocCount := r.u32()
	relocs := make([]types.Relocation, 0, relocCount)
	for i := uint32(0); i < relocCount; i++ {
		offset := r.u32()
		symIdx := r.u16()
		typ := types.RelocationType(r.byte())
		r.byte() // padding
		addend := r.u32()
		relocs = append(relocs, types.Relocation{Offset: offset, SymbolIndex: symIdx, Type: typ, Addend: addend})
	}

	epCount := r.u32()
	eps := make([]types.EntryPoint, 0, epCount)
	for i := uint32(0); i < epCount; i++ {
		patternID := r.byte()
		r.bytes(3) // padding
		addr := r.u32()
		eps = append(eps, types.EntryPoint{PatternID: patternID, Address: addr})
	}

	if r.err != nil {
		return nil, kherrors.Wrap(r.err, kherrors.ErrorTypeValidation, "binfmt: decode truncated")
	}

	return &types.Descriptor{
		Header: types.DescriptorHeader{
			Magic:         hdr.Magic,
			FormatVersion: hdr.FormatVersion,
			HeaderSize:    hdr.HeaderSize,
			PatternCount:  hdr.PatternCount,
			CodeOffset:    hdr.CodeOffset,
			CodeSize:      hdr.CodeSize,
			DataOffset:    hdr.DataOffset,
			DataSize:      hdr.DataSize,
			SymbolOffset:  hdr.SymbolOffset,
			SymbolCount:   hdr.SymbolCount,
			Flags:         hdr.Flags,
			Timestamp:     timestamp,
			Checksum:      checksum,
			VersionString: versionString,
		},
		Code:        code,
		Data:        dataSeg,
		Symbols:     symbols,
		Relocations: relocs,
		EntryPoints: eps,
	}, nil
}

// reader is a small bounds-checked cursor over a byte slice, used by Decode
// so every section walk shares one truncation-error path.
type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.pos+n > len(r.data) {
		r.err = fmt.Errorf("binfmt: truncated at offset %d wanting %d bytes", r.pos, n)
		return false
	}
	return true
}

func (r *reader) byte() byte {
	if !r.need(1) {
		return 0
	}
	b := r.data[r.pos]
	r.pos++
	return b
}

func (r *reader) bytes(n int) []byte {
	if n == 0 || !r.need(n) {
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *reader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := byteOrder.Uint16(r.data[r.pos:])
	r.pos += 2
	return v
}

func (r *reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := byteOrder.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

func (r *reader) u64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := byteOrder.Uint64(r.data[r.pos:])
	r.pos += 8
	return v
}

func (r *reader) padTo(n int) {
	for r.pos%n != 0 {
		r.pos++
	}
}
