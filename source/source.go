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

// Package source reads MAF alignment blocks out of local files and Cloud
// Storage objects.
package source

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"math"
	"os"

	"github.com/googlegenomics/mafindex/bgzf"
	"github.com/googlegenomics/mafindex/index"
)

// RangeReader returns a reader for length bytes of a file starting at start.
// A negative length reads to the end of the file.
type RangeReader func(ctx context.Context, start, length int64) (io.ReadCloser, error)

// NewFileRangeReader returns a RangeReader over file.  The readers it returns
// may be used concurrently and do not close file.
func NewFileRangeReader(file *os.File) RangeReader {
	return func(_ context.Context, start, length int64) (io.ReadCloser, error) {
		if start < 0 {
			return nil, fmt.Errorf("invalid start %d", start)
		}
		if length < 0 {
			length = math.MaxInt64 - start
		}
		return ioutil.NopCloser(io.NewSectionReader(file, start, length)), nil
	}
}

// Fetcher reads blocks listed in a fetch list.
type Fetcher struct {
	// Open reads ranges of the MAF file.
	Open RangeReader
	// Compressed is set for BGZF files, where entry offsets are virtual
	// addresses and lengths count uncompressed bytes.
	Compressed bool
}

// NewFetcher returns a Fetcher for a MAF file with the given compression, as
// reported by index.Index.Compression.
func NewFetcher(open RangeReader, compression string) (*Fetcher, error) {
	switch compression {
	case "":
		return &Fetcher{Open: open}, nil
	case "bgzf":
		return &Fetcher{Open: open, Compressed: true}, nil
	}
	return nil, fmt.Errorf("unsupported compression %q", compression)
}

// NewBlockReader returns a reader for the bytes of a single entry.
func (f *Fetcher) NewBlockReader(ctx context.Context, entry index.FetchEntry) (io.ReadCloser, error) {
	if !f.Compressed {
		return f.Open(ctx, int64(entry.Offset), int64(entry.Length))
	}
	address := bgzf.Address(entry.Offset)
	r, err := f.Open(ctx, int64(address.BlockOffset()), -1)
	if err != nil {
		return nil, err
	}
	return &readCloser{
		Reader: io.LimitReader(bgzf.NewReader(r, address), int64(entry.Length)),
		Closer: r,
	}, nil
}

// Fetch returns the bytes of a single entry.
func (f *Fetcher) Fetch(ctx context.Context, entry index.FetchEntry) ([]byte, error) {
	r, err := f.NewBlockReader(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("opening block at %d: %w", entry.Offset, err)
	}
	defer r.Close()

	data := make([]byte, entry.Length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("reading %d byte block at %d: %w", entry.Length, entry.Offset, err)
	}
	return data, nil
}

// FetchBlocks implements index.BlockFetcher.
func (f *Fetcher) FetchBlocks(ctx context.Context, entries []index.FetchEntry, fn func(index.FetchEntry, []byte) error) error {
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := f.Fetch(ctx, entry)
		if err != nil {
			return err
		}
		if err := fn(entry, data); err != nil {
			return err
		}
	}
	return nil
}

type readCloser struct {
	io.Reader
	io.Closer
}
