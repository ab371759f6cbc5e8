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
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/googlegenomics/mafindex/internal/kv"
)

// maxSequences is the number of distinct sequence IDs a key can hold.
const maxSequences = 256

// loadRegistry reads every "<prefix><name>" row into m and returns the next
// unused ID.  IDs must be below limit.
func (idx *Index) loadRegistry(prefix string, m map[string]uint8, limit int) (int, error) {
	keys, err := idx.store.MatchPrefix([]byte(prefix))
	if err != nil {
		return 0, err
	}
	next := 0
	for _, key := range keys {
		value, _, err := idx.store.Get(key)
		if err != nil {
			return 0, fmt.Errorf("reading %s: %w", key, err)
		}
		id, err := strconv.Atoi(string(value))
		if err != nil || id < 0 || id >= limit {
			return 0, fmt.Errorf("invalid ID %q for %s: %w", value, key, ErrFormat)
		}
		m[string(bytes.TrimPrefix(key, []byte(prefix)))] = uint8(id)
		if id >= next {
			next = id + 1
		}
	}
	return next, nil
}

// sequenceID returns the ID of the named sequence, assigning and persisting a
// new one on first use.  idx.mu must be held.
func (idx *Index) sequenceID(name string) (uint8, error) {
	id, err := idx.assign(sequencePrefix, name, idx.sequences, &idx.nextSequence, maxSequences)
	if err != nil {
		return 0, fmt.Errorf("registering sequence %q: %w", name, err)
	}
	return id, nil
}

// speciesID returns the ID of the species of the given sequence source,
// assigning and persisting a new one on first use.  idx.mu must be held.
func (idx *Index) speciesID(source string) (uint8, error) {
	name := speciesName(source)
	id, err := idx.assign(speciesPrefix, name, idx.species, &idx.nextSpecies, kv.MaxSpecies)
	if err != nil {
		return 0, fmt.Errorf("registering species %q: %w", name, err)
	}
	return id, nil
}

func (idx *Index) assign(prefix, name string, m map[string]uint8, next *int, limit int) (uint8, error) {
	if id, ok := m[name]; ok {
		return id, nil
	}
	if *next >= limit {
		return 0, fmt.Errorf("more than %d distinct names: %w", limit, ErrCapacity)
	}
	id := uint8(*next)
	if err := idx.store.Set([]byte(prefix+name), []byte(strconv.Itoa(int(id)))); err != nil {
		return 0, err
	}
	m[name] = id
	*next++
	return id, nil
}

// speciesName returns the species part of a sequence source such as
// "hg19.chr1".  Sources without a species prefix are their own species.
func speciesName(source string) string {
	if i := strings.IndexByte(source, '.'); i > 0 {
		return source[:i]
	}
	return source
}
