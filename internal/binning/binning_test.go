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

package binning

import (
	"math/rand"
	"testing"
)

func TestBinForRange(t *testing.T) {
	testCases := []struct {
		name       string
		start, end uint32
		bin        uint16
	}{
		{"finest level", 80082334, 80082368, 1195},
		{"first bin", 0, 1, 585},
		{"crosses 128k boundary", 131071, 131073, 73},
		{"crosses 1M boundary", 1<<20 - 1, 1<<20 + 1, 9},
		{"whole standard range", 0, StandardLimit, 0},
		{"extended finest level", 600000000, 600000100, 4681 + 4681 + 4577},
		{"extended straddles limit", StandardLimit - 10, StandardLimit + 10, 4681},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			bin, err := BinForRange(tc.start, tc.end)
			if err != nil {
				t.Fatalf("BinForRange() returned unexpected error: %v", err)
			}
			if bin != tc.bin {
				t.Errorf("Wrong bin: got %d, want %d", bin, tc.bin)
			}
		})
	}
}

func TestBinForRange_Empty(t *testing.T) {
	if _, err := BinForRange(10, 10); err == nil {
		t.Error("BinForRange() accepted an empty range")
	}
}

func TestBinsOverlapping(t *testing.T) {
	bins := BinsOverlapping(80082330, 80082340)
	want := []uint16{
		0, 1 + 1, 9 + 9, 73 + 76, 1195,
		4681, 4681 + 1, 4681 + 9 + 1, 4681 + 73 + 9, 4681 + 585 + 76, 4681 + 4681 + 610,
	}
	if len(bins) != len(want) {
		t.Fatalf("Wrong bins: got %v, want %v", bins, want)
	}
	for i := range want {
		if bins[i] != want[i] {
			t.Errorf("Wrong bin %d: got %d, want %d", i, bins[i], want[i])
		}
	}

	if got := BinsOverlapping(5, 5); len(got) != 0 {
		t.Errorf("Empty range returned bins %v", got)
	}
}

func TestBinsOverlapping_ContainsEntryBins(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 10000; i++ {
		start := r.Uint32() >> uint(r.Intn(8))
		size := 1 + r.Uint32()>>uint(8+r.Intn(24))
		if start > ^uint32(0)-size {
			continue
		}
		end := start + size

		entry, err := BinForRange(start, end)
		if err != nil {
			t.Fatalf("BinForRange(%d, %d) returned unexpected error: %v", start, end, err)
		}

		// Any query touching the entry must consider its bin.
		qStart := start + uint32(r.Int63n(int64(size)))
		qEnd := qStart + 1 + uint32(r.Intn(1<<20))
		if qEnd < qStart {
			continue
		}
		found := false
		for _, bin := range BinsOverlapping(qStart, qEnd) {
			if bin == entry {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("BinsOverlapping(%d, %d) is missing bin %d of entry [%d, %d)", qStart, qEnd, entry, start, end)
		}
	}
}
