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

// Package index builds and queries positional indexes of MAF alignment files.
//
// An index maps every indexed sequence occurrence of an alignment block to the
// block's location in the MAF file, keyed by sequence, UCSC bin and
// coordinates.  Queries turn a set of intervals into a fetch list: the sorted
// offsets and lengths of the blocks that overlap them.
package index

import (
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/googlegenomics/mafindex/internal/kv"
	"github.com/googlegenomics/mafindex/internal/store"
)

// FormatVersion is the index format written by Build and accepted by Open.
const FormatVersion = 2

// Metadata keys.
const (
	formatVersionKey = "bio-maf:index-format-version"
	fileKey          = "bio-maf:file"
	refSeqKey        = "bio-maf:reference-sequence"
	compressionKey   = "bio-maf:compression"

	sequencePrefix = "sequence:"
	speciesPrefix  = "species:"
)

const defaultPollInterval = 5 * time.Second

// Options controls how an index is queried.
type Options struct {
	// Workers is the number of concurrent scan workers.  It defaults to
	// GOMAXPROCS.
	Workers int
	// Profile restricts scans to a single worker so that profiles are easier
	// to read.
	Profile bool
	// PollInterval is how long the scan coordinator waits for a result before
	// checking that workers are still alive.  It defaults to five seconds.
	PollInterval time.Duration
}

func (o *Options) normalize() {
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if o.Profile {
		o.Workers = 1
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
}

// Index is an open MAF index.  Queries may be issued concurrently.
type Index struct {
	store store.Store
	path  string
	opts  Options

	mafFile     string
	refSeq      string
	compression string

	// mu guards the registries and the build state below.
	mu            sync.Mutex
	sequences     map[string]uint8
	nextSequence  int
	species       map[string]uint8
	nextSpecies   int
	allSequences  bool
	haveReference bool
}

func newIndex(s store.Store, path string, opts Options) *Index {
	opts.normalize()
	return &Index{
		store:     s,
		path:      path,
		opts:      opts,
		sequences: make(map[string]uint8),
		species:   make(map[string]uint8),
	}
}

// Open opens the existing index at path for querying.  A nil opts uses the
// defaults.
func Open(path string, opts *Options) (*Index, error) {
	s, err := store.Open(path, store.ReadOnly)
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}
	var o Options
	if opts != nil {
		o = *opts
	}
	idx := newIndex(s, path, o)
	if err := idx.load(); err != nil {
		s.Close()
		return nil, fmt.Errorf("loading index %q: %w", path, err)
	}
	return idx, nil
}

func (idx *Index) load() error {
	version, err := idx.metadata(formatVersionKey)
	if err != nil {
		return err
	}
	if v, err := strconv.Atoi(version); err != nil || v != FormatVersion {
		return fmt.Errorf("version %q, expected %d: %w", version, FormatVersion, ErrFormat)
	}
	if idx.mafFile, err = idx.metadata(fileKey); err != nil {
		return err
	}
	if idx.refSeq, err = idx.metadata(refSeqKey); err != nil {
		return err
	}
	idx.haveReference = idx.refSeq != ""
	if idx.compression, err = idx.metadata(compressionKey); err != nil {
		return err
	}
	if idx.nextSequence, err = idx.loadRegistry(sequencePrefix, idx.sequences, maxSequences); err != nil {
		return fmt.Errorf("loading sequences: %w", err)
	}
	if idx.nextSpecies, err = idx.loadRegistry(speciesPrefix, idx.species, kv.MaxSpecies); err != nil {
		return fmt.Errorf("loading species: %w", err)
	}
	return nil
}

// metadata returns the value of a metadata row, or "" if it is not set.
func (idx *Index) metadata(key string) (string, error) {
	value, _, err := idx.store.Get([]byte(key))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", key, err)
	}
	return string(value), nil
}

// Close releases the index.
func (idx *Index) Close() error {
	return idx.store.Close()
}

// Path returns the location of the index, or "" for an in-memory index.
func (idx *Index) Path() string { return idx.path }

// MAFFile returns the base name of the indexed MAF file.
func (idx *Index) MAFFile() string { return idx.mafFile }

// RefSeq returns the name of the reference sequence.
func (idx *Index) RefSeq() string {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.refSeq
}

// Compression returns the compression of the MAF file, such as "bgzf", or ""
// if it is not compressed.
func (idx *Index) Compression() string { return idx.compression }

// Species returns a copy of the species registry.
func (idx *Index) Species() map[string]uint8 {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return copyRegistry(idx.species)
}

// Sequences returns a copy of the sequence registry.
func (idx *Index) Sequences() map[string]uint8 {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return copyRegistry(idx.sequences)
}

func copyRegistry(m map[string]uint8) map[string]uint8 {
	c := make(map[string]uint8, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
