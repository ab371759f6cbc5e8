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
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/googlegenomics/mafindex/internal/binning"
	"github.com/googlegenomics/mafindex/internal/kv"
	"github.com/googlegenomics/mafindex/internal/store"
	"github.com/grailbio/base/log"
)

// Default chunk thresholds.  Blocks are indexed in chunks so that each chunk
// is written in a single batch.
const (
	DefaultChunkBytes  = 50 * 1024 * 1024
	DefaultChunkBlocks = 1000
)

// Sequence is one aligned sequence of a block.
type Sequence struct {
	// Source is the sequence name, such as "hg19.chr1".  The text before the
	// first '.' names the species.
	Source string
	// Start is the zero-based start of the aligned region on the source.
	Start uint32
	// Size is the number of bases of the source that are aligned.
	Size uint32
}

// Block is an alignment block of a MAF file.
type Block struct {
	// Offset is the location of the block in the file.  For BGZF files this
	// is a virtual address.
	Offset uint64
	// Size is the length of the block in bytes.
	Size uint32
	// TextSize is the number of alignment columns.
	TextSize uint32
	// Sequences lists the aligned sequences.  The first one is on the
	// reference sequence.
	Sequences []Sequence
}

// BlockSource produces the blocks of a MAF file in file order.
type BlockSource interface {
	// FileSpec returns the path of the MAF file.
	FileSpec() string
	// Compression returns the compression of the file, or "" if it is not
	// compressed.
	Compression() string
	// EachBlock calls fn for every block in the file.  fn may retain the
	// block.  EachBlock stops and returns the error if fn fails.
	EachBlock(ctx context.Context, fn func(*Block) error) error
}

// BuildOptions controls how an index is built.
type BuildOptions struct {
	// RefOnly indexes only the reference sequence of each block.
	RefOnly bool
	// ChunkBytes and ChunkBlocks bound the size of a chunk of blocks.  A chunk
	// is indexed once it exceeds either.  Zero selects the default.
	ChunkBytes  int
	ChunkBlocks int
	// Options controls queries on the built index.
	Options Options
}

// DefaultBuildOptions returns the options that index only the reference
// sequence with the default chunk thresholds.
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{
		RefOnly:     true,
		ChunkBytes:  DefaultChunkBytes,
		ChunkBlocks: DefaultChunkBlocks,
	}
}

func (o *BuildOptions) normalize() {
	if o.ChunkBytes <= 0 {
		o.ChunkBytes = DefaultChunkBytes
	}
	if o.ChunkBlocks <= 0 {
		o.ChunkBlocks = DefaultChunkBlocks
	}
}

var errEmptyBlock = errors.New("block has no sequences")

// Build indexes every block of src into a new index at path.  An empty path
// builds a temporary in-memory index.
func Build(ctx context.Context, src BlockSource, path string, opts BuildOptions) (*Index, error) {
	opts.normalize()
	s, err := store.Open(path, store.WriteCreate)
	if err != nil {
		return nil, fmt.Errorf("creating index: %w", err)
	}
	idx := newIndex(s, path, opts.Options)
	idx.allSequences = !opts.RefOnly
	if err := idx.build(ctx, src, opts); err != nil {
		s.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) build(ctx context.Context, src BlockSource, opts BuildOptions) error {
	start := time.Now()
	idx.mafFile = filepath.Base(src.FileSpec())
	idx.compression = src.Compression()
	header := map[string][]byte{
		formatVersionKey: []byte(fmt.Sprint(FormatVersion)),
		fileKey:          []byte(idx.mafFile),
	}
	if idx.compression != "" {
		header[compressionKey] = []byte(idx.compression)
	}
	if err := idx.store.SetBulk(header); err != nil {
		return fmt.Errorf("writing index header: %w", err)
	}

	var (
		chunk      []*Block
		chunkBytes int
		blocks     int
		entries    int
	)
	flush := func() error {
		n, err := idx.indexBlocks(chunk)
		if err != nil {
			return err
		}
		entries += n
		chunk, chunkBytes = nil, 0
		return nil
	}
	err := src.EachBlock(ctx, func(b *Block) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk = append(chunk, b)
		chunkBytes += int(b.Size)
		blocks++
		if chunkBytes > opts.ChunkBytes || len(chunk) > opts.ChunkBlocks {
			return flush()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("indexing %s: %w", src.FileSpec(), err)
	}
	if err := flush(); err != nil {
		return fmt.Errorf("indexing %s: %w", src.FileSpec(), err)
	}
	if err := idx.store.Sync(); err != nil {
		return fmt.Errorf("syncing index: %w", err)
	}
	log.Debug.Printf("Indexed %s blocks into %s entries for %d sequences in %.3fs.",
		humanize.Comma(int64(blocks)), humanize.Comma(int64(entries)), len(idx.Sequences()), time.Since(start).Seconds())
	return nil
}

// indexBlocks assigns IDs for a chunk of blocks and writes its entries in one
// batch.  It returns the number of entries written.
func (idx *Index) indexBlocks(blocks []*Block) (int, error) {
	if len(blocks) == 0 {
		return 0, nil
	}
	entries, err := idx.entriesFor(blocks)
	if err != nil {
		return 0, err
	}
	if err := idx.store.SetBulk(entries); err != nil {
		return 0, fmt.Errorf("writing %d index entries: %w", len(entries), err)
	}
	return len(entries), nil
}

func (idx *Index) entriesFor(blocks []*Block) (map[string][]byte, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if !idx.haveReference {
		first := blocks[0]
		if len(first.Sequences) == 0 {
			return nil, fmt.Errorf("block at offset %d: %w", first.Offset, errEmptyBlock)
		}
		idx.refSeq = first.Sequences[0].Source
		if err := idx.store.Set([]byte(refSeqKey), []byte(idx.refSeq)); err != nil {
			return nil, fmt.Errorf("writing reference sequence: %w", err)
		}
		idx.haveReference = true
	}

	entries := make(map[string][]byte)
	for _, b := range blocks {
		if err := idx.addEntries(entries, b); err != nil {
			log.Error.Printf("Failed to index block at offset %d: %v", b.Offset, err)
			return nil, fmt.Errorf("block at offset %d: %w", b.Offset, err)
		}
	}
	return entries, nil
}

func (idx *Index) addEntries(entries map[string][]byte, b *Block) error {
	if len(b.Sequences) == 0 {
		return errEmptyBlock
	}
	if ref := b.Sequences[0].Source; ref != idx.refSeq {
		return fmt.Errorf("got %q, want %q: %w", ref, idx.refSeq, ErrInconsistentReference)
	}
	value, err := idx.blockValue(b)
	if err != nil {
		return err
	}
	indexed := b.Sequences[:1]
	if idx.allSequences {
		indexed = b.Sequences
	}
	for _, seq := range indexed {
		id, err := idx.sequenceID(seq.Source)
		if err != nil {
			return err
		}
		if seq.Size == 0 {
			continue
		}
		end := seq.Start + seq.Size
		if end < seq.Start {
			return fmt.Errorf("sequence %s: range %d+%d overflows", seq.Source, seq.Start, seq.Size)
		}
		bin, err := binning.BinForRange(seq.Start, end)
		if err != nil {
			return fmt.Errorf("sequence %s: %v", seq.Source, err)
		}
		key := kv.Key{SeqID: id, Bin: bin, Start: seq.Start, End: end}
		entries[string(key.Encode())] = value
	}
	return nil
}

// blockValue encodes the value shared by every entry of a block.
func (idx *Index) blockValue(b *Block) ([]byte, error) {
	var species uint64
	for _, seq := range b.Sequences {
		id, err := idx.speciesID(seq.Source)
		if err != nil {
			return nil, err
		}
		species |= 1 << id
	}
	n := len(b.Sequences)
	if n > 255 {
		n = 255
	}
	v := kv.Value{
		Offset:     b.Offset,
		Length:     b.Size,
		TextSize:   b.TextSize,
		NSeq:       uint8(n),
		SpeciesVec: species,
	}
	return v.Encode(), nil
}
