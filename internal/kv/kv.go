// Copyright 2018 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package kv packs and unpacks the fixed-width binary records stored in a MAF
// index.
//
// All multi-byte fields are big-endian and unsigned, so the byte order of an
// encoded key equals the order of its (sequence, bin, start, end) tuple.
//
//	Key (12 bytes):   0xFF | seq id u8 | bin u16 | start u32 | end u32
//	Value (25 bytes): offset u64 | length u32 | text size u32 | sequences u8 | species u64
//
// For a block on sequence 0, bin 1195, start 80082334, end 80082368, offset
// 16 and length 1087:
//
//	key: FF 00 04 AB 04 C5 F5 9E 04 C5 F5 C0
//	val: 00 00 00 00 00 00 00 10 00 00 04 3F ...
package kv

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// Marker is the first byte of every index key.  Metadata keys are ASCII and
	// therefore always sort before index keys.
	Marker = 0xFF

	// KeySize is the length of an encoded Key.
	KeySize = 12
	// ValueSize is the length of an encoded Value.
	ValueSize = 25
	// PrefixSize is the length of the (marker, sequence, bin) prefix.
	PrefixSize = 4
)

// Field offsets inside encoded records.
const (
	offsetPos   = 0
	lengthPos   = 8
	textSizePos = 12
	nSeqPos     = 16
	speciesPos  = 17
	keySeqPos   = 1
	keyBinPos   = 2
	keyStartPos = 4
	keyEndPos   = 8
)

// ErrMalformed is returned when a record does not have the expected size or
// marker.
var ErrMalformed = errors.New("malformed index record")

// MaxSpecies is the number of distinct species a value can describe.
const MaxSpecies = 64

// Key identifies one indexed sequence occurrence.  Start is zero-based
// inclusive and End is exclusive.
type Key struct {
	SeqID uint8
	Bin   uint16
	Start uint32
	End   uint32
}

// Value locates an alignment block in the source file.
type Value struct {
	Offset     uint64
	Length     uint32
	TextSize   uint32
	NSeq       uint8
	SpeciesVec uint64
}

// Encode returns the binary representation of k.
func (k Key) Encode() []byte {
	return AppendKey(make([]byte, 0, KeySize), k)
}

// AppendKey appends the binary representation of k to dst.
func AppendKey(dst []byte, k Key) []byte {
	dst = append(dst, Marker, k.SeqID)
	dst = binary.BigEndian.AppendUint16(dst, k.Bin)
	dst = binary.BigEndian.AppendUint32(dst, k.Start)
	return binary.BigEndian.AppendUint32(dst, k.End)
}

// DecodeKey parses an encoded key.
func DecodeKey(b []byte) (Key, error) {
	if len(b) != KeySize || b[0] != Marker {
		return Key{}, fmt.Errorf("decoding key %x: %w", b, ErrMalformed)
	}
	seq, bin, start, end := ScanKey(b)
	return Key{SeqID: seq, Bin: bin, Start: start, End: end}, nil
}

// ScanKey extracts the fields of a key without validating it.  The caller must
// ensure that len(b) == KeySize.
func ScanKey(b []byte) (seqID uint8, bin uint16, start, end uint32) {
	return b[keySeqPos],
		binary.BigEndian.Uint16(b[keyBinPos:]),
		binary.BigEndian.Uint32(b[keyStartPos:]),
		binary.BigEndian.Uint32(b[keyEndPos:])
}

// BinStartPrefix returns the smallest key prefix for entries of seqID in bin.
func BinStartPrefix(seqID uint8, bin uint16) []byte {
	b := []byte{Marker, seqID, 0, 0}
	binary.BigEndian.PutUint16(b[keyBinPos:], bin)
	return b
}

// Encode returns the binary representation of v.
func (v Value) Encode() []byte {
	b := make([]byte, 0, ValueSize)
	b = binary.BigEndian.AppendUint64(b, v.Offset)
	b = binary.BigEndian.AppendUint32(b, v.Length)
	b = binary.BigEndian.AppendUint32(b, v.TextSize)
	b = append(b, v.NSeq)
	return binary.BigEndian.AppendUint64(b, v.SpeciesVec)
}

// DecodeValue parses an encoded value.
func DecodeValue(b []byte) (Value, error) {
	if err := CheckValue(b); err != nil {
		return Value{}, err
	}
	offset, length := OffsetLength(b)
	return Value{
		Offset:     offset,
		Length:     length,
		TextSize:   TextSize(b),
		NSeq:       NSeq(b),
		SpeciesVec: SpeciesVec(b),
	}, nil
}

// CheckValue reports an error unless b can be passed to the value extractors.
func CheckValue(b []byte) error {
	if len(b) != ValueSize {
		return fmt.Errorf("decoding value of %d bytes: %w", len(b), ErrMalformed)
	}
	return nil
}

// The extractors below read a single field of an encoded value.  They expect
// len(b) == ValueSize.

// OffsetLength returns the block offset and length.
func OffsetLength(b []byte) (uint64, uint32) {
	return binary.BigEndian.Uint64(b[offsetPos:]), binary.BigEndian.Uint32(b[lengthPos:])
}

// TextSize returns the block text size.
func TextSize(b []byte) uint32 {
	return binary.BigEndian.Uint32(b[textSizePos:])
}

// NSeq returns the number of sequences in the block.
func NSeq(b []byte) uint8 {
	return b[nSeqPos]
}

// SpeciesVec returns the species bit vector of the block.
func SpeciesVec(b []byte) uint64 {
	return binary.BigEndian.Uint64(b[speciesPos:])
}
