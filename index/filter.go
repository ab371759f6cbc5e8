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

package index

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/googlegenomics/mafindex/internal/kv"
)

// FilterKind identifies the test applied by a Filter.
type FilterKind int

// Supported filter kinds.
const (
	// WithAllSpecies matches blocks that contain every listed species.
	WithAllSpecies FilterKind = iota + 1
	// AtLeastNSequences matches blocks with at least N sequences.
	AtLeastNSequences
	// MinSize matches blocks with at least N alignment columns.
	MinSize
	// MaxSize matches blocks with at most N alignment columns.
	MaxSize
)

var filterNames = map[FilterKind]string{
	WithAllSpecies:    "with_all_species",
	AtLeastNSequences: "at_least_n_sequences",
	MinSize:           "min_size",
	MaxSize:           "max_size",
}

func (k FilterKind) String() string {
	if name, ok := filterNames[k]; ok {
		return name
	}
	return fmt.Sprintf("FilterKind(%d)", int(k))
}

// Filter restricts the blocks returned by a query.  Species is used by
// WithAllSpecies and N by the other kinds.
type Filter struct {
	Kind    FilterKind
	Species []string
	N       uint32
}

// ParseFilter builds a filter from its textual form, such as
// ("with_all_species", "hg19,mm10") or ("min_size", "100").
func ParseFilter(key, value string) (Filter, error) {
	for kind, name := range filterNames {
		if name != key {
			continue
		}
		if kind == WithAllSpecies {
			species := strings.Split(value, ",")
			for _, s := range species {
				if s == "" {
					return Filter{}, fmt.Errorf("parsing %s: empty species in %q", key, value)
				}
			}
			return Filter{Kind: kind, Species: species}, nil
		}
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return Filter{}, fmt.Errorf("parsing %s: %v", key, err)
		}
		return Filter{Kind: kind, N: uint32(n)}, nil
	}
	return Filter{}, fmt.Errorf("filter %q: %w", key, ErrUnknownFilter)
}

// predicate is a filter compiled against the species registry of an index.
type predicate struct {
	kind FilterKind
	mask uint64
	n    uint32
}

func (p predicate) match(value []byte) bool {
	switch p.kind {
	case WithAllSpecies:
		return kv.SpeciesVec(value)&p.mask == p.mask
	case AtLeastNSequences:
		return uint32(kv.NSeq(value)) >= p.n
	case MinSize:
		return kv.TextSize(value) >= p.n
	case MaxSize:
		return kv.TextSize(value) <= p.n
	}
	return false
}

type filterSet []predicate

// match reports whether an encoded value passes every filter.  The empty set
// matches without looking at the value.
func (fs filterSet) match(value []byte) (bool, error) {
	if len(fs) == 0 {
		return true, nil
	}
	if err := kv.CheckValue(value); err != nil {
		return false, err
	}
	for _, p := range fs {
		if !p.match(value) {
			return false, nil
		}
	}
	return true, nil
}

func (idx *Index) compileFilters(filters []Filter) (filterSet, error) {
	var fs filterSet
	for _, f := range filters {
		p := predicate{kind: f.Kind, n: f.N}
		switch f.Kind {
		case WithAllSpecies:
			mask, err := idx.speciesMask(f.Species)
			if err != nil {
				return nil, err
			}
			p.mask = mask
		case AtLeastNSequences, MinSize, MaxSize:
		default:
			return nil, fmt.Errorf("filter %v: %w", f.Kind, ErrUnknownFilter)
		}
		fs = append(fs, p)
	}
	return fs, nil
}

func (idx *Index) speciesMask(species []string) (uint64, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	var mask uint64
	for _, name := range species {
		id, ok := idx.species[name]
		if !ok {
			return 0, fmt.Errorf("species %q: %w", name, ErrUnknownSpecies)
		}
		mask |= 1 << id
	}
	return mask, nil
}
