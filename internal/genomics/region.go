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

// Package genomics contains definitions related to Genomic data.
package genomics

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var errMissingChromosome = errors.New("no chromosome specified")

// Interval defines a region of genomic interest on a single sequence.
type Interval struct {
	// Chrom is the full sequence name as it appears in the alignment file, for
	// example "hg18.chr7".
	Chrom string
	// Start and End specify the zero-based, half-open range [Start, End) in base
	// pairs.
	Start, End uint32
}

func (i Interval) String() string {
	return fmt.Sprintf("%s:%d-%d", i.Chrom, i.Start, i.End)
}

// Validate checks that the interval names a sequence and is not empty.
func (i Interval) Validate() error {
	if i.Chrom == "" {
		return errMissingChromosome
	}
	if i.End <= i.Start {
		return fmt.Errorf("%s: start must be before end", i)
	}
	return nil
}

// Contains reports whether position lies inside the interval.
func (i Interval) Contains(position uint32) bool {
	return i.Start <= position && position < i.End
}

// ParseInterval parses input of the form "chrom:start-end" with zero-based,
// half-open coordinates.  The chromosome name may itself contain colons; the
// last one separates the range.
func ParseInterval(input string) (Interval, error) {
	sep := strings.LastIndexByte(input, ':')
	if sep < 0 {
		return Interval{}, fmt.Errorf("parsing %q: missing range", input)
	}
	bounds := strings.SplitN(input[sep+1:], "-", 2)
	if len(bounds) != 2 {
		return Interval{}, fmt.Errorf("parsing %q: range must be start-end", input)
	}

	interval := Interval{Chrom: input[:sep]}
	start, err := strconv.ParseUint(strings.ReplaceAll(bounds[0], ",", ""), 10, 32)
	if err != nil {
		return Interval{}, fmt.Errorf("parsing start: %v", err)
	}
	end, err := strconv.ParseUint(strings.ReplaceAll(bounds[1], ",", ""), 10, 32)
	if err != nil {
		return Interval{}, fmt.Errorf("parsing end: %v", err)
	}
	interval.Start, interval.End = uint32(start), uint32(end)

	if err := interval.Validate(); err != nil {
		return Interval{}, err
	}
	return interval, nil
}
