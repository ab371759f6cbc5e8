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

// Package binning implements the UCSC hierarchical binning scheme used to
// group index entries by genomic position.
//
// The standard scheme covers coordinates below 512 Mbp with five levels of
// 128 kbp, 1 Mbp, 8 Mbp, 64 Mbp and 512 Mbp bins.  Ranges ending past 512 Mbp
// use the extended scheme, which adds a 4 Gbp level and offsets every bin ID
// past the standard ones.
package binning

import "fmt"

const (
	firstShift = 17
	nextShift  = 3

	// StandardLimit is the exclusive end of the standard binning scheme.
	StandardLimit = 1 << 29

	// extendedOffset is added to every bin ID of the extended scheme.
	extendedOffset = 4681
)

var (
	standardOffsets = []uint32{512 + 64 + 8 + 1, 64 + 8 + 1, 8 + 1, 1, 0}
	extendedOffsets = []uint32{4096 + 512 + 64 + 8 + 1, 512 + 64 + 8 + 1, 64 + 8 + 1, 8 + 1, 1, 0}
)

// BinForRange returns the smallest bin that fully contains the zero-based,
// half-open range [start, end).
func BinForRange(start, end uint32) (uint16, error) {
	if end <= start {
		return 0, fmt.Errorf("invalid range [%d, %d)", start, end)
	}
	if end <= StandardLimit {
		return binForRange(start, end, standardOffsets, 0)
	}
	return binForRange(start, end, extendedOffsets, extendedOffset)
}

func binForRange(start, end uint32, offsets []uint32, base uint32) (uint16, error) {
	startBin, endBin := start>>firstShift, (end-1)>>firstShift
	for _, offset := range offsets {
		if startBin == endBin {
			return uint16(base + offset + startBin), nil
		}
		startBin >>= nextShift
		endBin >>= nextShift
	}
	return 0, fmt.Errorf("range [%d, %d) out of range for binning scheme", start, end)
}

// BinsOverlapping returns every bin that may contain an entry overlapping the
// zero-based, half-open range [start, end), standard bins first, each scheme
// from the coarsest level to the finest.  Extended bins are always included
// since an entry ending past StandardLimit may start anywhere before it.
func BinsOverlapping(start, end uint32) []uint16 {
	if end <= start {
		return nil
	}

	var bins []uint16
	if start < StandardLimit {
		limit := end
		if limit > StandardLimit {
			limit = StandardLimit
		}
		bins = appendBins(bins, start, limit, standardOffsets, 0)
	}
	return appendBins(bins, start, end, extendedOffsets, extendedOffset)
}

func appendBins(bins []uint16, start, end uint32, offsets []uint32, base uint32) []uint16 {
	end--
	for level, shift := len(offsets)-1, uint(firstShift+nextShift*(len(offsets)-1)); level >= 0; level-- {
		offset := base + offsets[level]
		for i := start >> shift; i <= end>>shift; i++ {
			bins = append(bins, uint16(offset+i))
		}
		shift -= nextShift
	}
	return bins
}
