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

package kv

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"
)

func TestKeyEncoding(t *testing.T) {
	key := Key{SeqID: 0, Bin: 1195, Start: 80082334, End: 80082368}
	encoded := key.Encode()
	if got, want := hex.EncodeToString(encoded), "ff0004ab04c5f59e04c5f5c0"; got != want {
		t.Fatalf("Wrong encoding: got %s, want %s", got, want)
	}

	decoded, err := DecodeKey(encoded)
	if err != nil {
		t.Fatalf("DecodeKey() returned unexpected error: %v", err)
	}
	if decoded != key {
		t.Errorf("Wrong key: got %+v, want %+v", decoded, key)
	}
}

func TestValueEncoding(t *testing.T) {
	testCases := []struct {
		name  string
		value Value
	}{
		{"zero", Value{}},
		{"example", Value{Offset: 16, Length: 1087, TextSize: 54, NSeq: 3, SpeciesVec: 0x7}},
		{"maximum", Value{^uint64(0), ^uint32(0), ^uint32(0), ^uint8(0), ^uint64(0)}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			encoded := tc.value.Encode()
			if got, want := len(encoded), ValueSize; got != want {
				t.Fatalf("Wrong value size: got %d, want %d", got, want)
			}
			decoded, err := DecodeValue(encoded)
			if err != nil {
				t.Fatalf("DecodeValue() returned unexpected error: %v", err)
			}
			if decoded != tc.value {
				t.Errorf("Wrong value: got %+v, want %+v", decoded, tc.value)
			}

			offset, length := OffsetLength(encoded)
			if offset != tc.value.Offset || length != tc.value.Length {
				t.Errorf("Wrong offset and length: got %d+%d, want %d+%d", offset, length, tc.value.Offset, tc.value.Length)
			}
			if got, want := TextSize(encoded), tc.value.TextSize; got != want {
				t.Errorf("Wrong text size: got %d, want %d", got, want)
			}
			if got, want := NSeq(encoded), tc.value.NSeq; got != want {
				t.Errorf("Wrong sequence count: got %d, want %d", got, want)
			}
			if got, want := SpeciesVec(encoded), tc.value.SpeciesVec; got != want {
				t.Errorf("Wrong species vector: got %x, want %x", got, want)
			}
		})
	}
}

func TestValueLayout(t *testing.T) {
	encoded := Value{Offset: 16, Length: 1087}.Encode()
	if got, want := hex.EncodeToString(encoded[:12]), "00000000000000100000043f"; got != want {
		t.Errorf("Wrong encoding: got %s, want %s", got, want)
	}
}

func TestKeyOrdering(t *testing.T) {
	keys := []Key{
		{0, 0, 0, 0},
		{0, 0, 0, 1},
		{0, 0, 1, 0},
		{0, 0, 255, 0},
		{0, 0, 256, 0},
		{0, 1, 0, 0},
		{0, 1195, 80082334, 80082368},
		{0, 1195, 80082334, 80082369},
		{0, 256, 0, 0},
		{1, 0, 0, 0},
		{255, 65535, ^uint32(0), ^uint32(0)},
	}
	// The slice above is not fully sorted by tuple; compare every pair.
	for i := range keys {
		for j := range keys {
			a, b := keys[i], keys[j]
			want := compareTuples(a, b)
			if got := bytes.Compare(a.Encode(), b.Encode()); got != want {
				t.Errorf("Compare(%+v, %+v): got %d, want %d", a, b, got, want)
			}
		}
	}
}

func TestBinStartPrefix(t *testing.T) {
	prefix := BinStartPrefix(3, 1195)
	if got, want := len(prefix), PrefixSize; got != want {
		t.Fatalf("Wrong prefix length: got %d, want %d", got, want)
	}
	smallest := Key{SeqID: 3, Bin: 1195}.Encode()
	if !bytes.HasPrefix(smallest, prefix) {
		t.Errorf("Prefix %x does not prefix %x", prefix, smallest)
	}
	if bytes.Compare(prefix, Key{SeqID: 3, Bin: 1194, Start: ^uint32(0)}.Encode()) <= 0 {
		t.Errorf("Prefix %x sorts before the previous bin", prefix)
	}
}

func TestDecodeErrors(t *testing.T) {
	testCases := []struct {
		name  string
		input []byte
	}{
		{"empty", nil},
		{"short", []byte{0xFF, 0, 0, 0}},
		{"metadata", []byte("sequence:mm8")},
		{"wrong marker", Key{}.Encode()[1:]},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeKey(tc.input); !errors.Is(err, ErrMalformed) {
				t.Errorf("DecodeKey(%x): got %v, want ErrMalformed", tc.input, err)
			}
			if _, err := DecodeValue(tc.input); !errors.Is(err, ErrMalformed) {
				t.Errorf("DecodeValue(%x): got %v, want ErrMalformed", tc.input, err)
			}
		})
	}
}

func compareTuples(a, b Key) int {
	fields := [][2]uint64{
		{uint64(a.SeqID), uint64(b.SeqID)},
		{uint64(a.Bin), uint64(b.Bin)},
		{uint64(a.Start), uint64(b.Start)},
		{uint64(a.End), uint64(b.End)},
	}
	for _, f := range fields {
		switch {
		case f[0] < f[1]:
			return -1
		case f[0] > f[1]:
			return 1
		}
	}
	return 0
}
