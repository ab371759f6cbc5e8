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
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/googlegenomics/mafindex/internal/binning"
	"github.com/googlegenomics/mafindex/internal/genomics"
	"github.com/googlegenomics/mafindex/internal/kv"
	"github.com/googlegenomics/mafindex/internal/store"
	"github.com/grailbio/base/log"
)

// FetchEntry locates one block in the MAF file.
type FetchEntry struct {
	Offset uint64
	Length uint32
}

// BlockFetcher reads blocks from a MAF file.
type BlockFetcher interface {
	// FetchBlocks calls fn with the bytes of every entry, in order.
	FetchBlocks(ctx context.Context, entries []FetchEntry, fn func(FetchEntry, []byte) error) error
}

type span struct {
	start, end uint32
}

// binJob is the scan of one bin for a set of spans sorted by start.
type binJob struct {
	bin   uint16
	spans []span
}

// FetchList returns the blocks that overlap any of the intervals and pass
// every filter, sorted by offset.  All intervals must be on the same
// sequence.
func (idx *Index) FetchList(ctx context.Context, intervals []genomics.Interval, filters []Filter) ([]FetchEntry, error) {
	if len(intervals) == 0 {
		return nil, ErrNoIntervals
	}
	chrom := intervals[0].Chrom
	idx.mu.Lock()
	seqID, ok := idx.sequences[chrom]
	idx.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%q: %w", chrom, ErrNotIndexed)
	}
	for _, iv := range intervals {
		if iv.Chrom != chrom {
			return nil, fmt.Errorf("%s and %s: %w", intervals[0], iv, ErrMixedChromosomes)
		}
	}
	fs, err := idx.compileFilters(filters)
	if err != nil {
		return nil, err
	}

	jobs := binJobs(intervals)
	var matches []FetchEntry
	if len(jobs) > parallelThreshold && idx.opts.Workers > 1 {
		matches, err = idx.scanParallel(ctx, seqID, jobs, fs)
	} else {
		matches, err = idx.scanSerial(ctx, seqID, jobs, fs)
	}
	if err != nil {
		return nil, err
	}
	sortFetchList(matches)
	return matches, nil
}

// binJobs groups the intervals by the bins that may hold overlapping entries.
// Jobs are returned in bin order.
func binJobs(intervals []genomics.Interval) []binJob {
	byBin := make(map[uint16][]span)
	for _, iv := range intervals {
		for _, bin := range binning.BinsOverlapping(iv.Start, iv.End) {
			byBin[bin] = append(byBin[bin], span{iv.Start, iv.End})
		}
	}
	jobs := make([]binJob, 0, len(byBin))
	for bin, spans := range byBin {
		sort.Slice(spans, func(i, j int) bool {
			if spans[i].start != spans[j].start {
				return spans[i].start < spans[j].start
			}
			return spans[i].end < spans[j].end
		})
		jobs = append(jobs, binJob{bin: bin, spans: spans})
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].bin < jobs[j].bin })
	return jobs
}

func (idx *Index) scanSerial(ctx context.Context, seqID uint8, jobs []binJob, fs filterSet) ([]FetchEntry, error) {
	cursor, err := idx.store.NewCursor()
	if err != nil {
		return nil, fmt.Errorf("opening cursor: %w", err)
	}
	defer cursor.Close()

	var matches []FetchEntry
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found, err := scanBin(cursor, seqID, job, fs)
		if err != nil {
			return nil, fmt.Errorf("scanning bin %d: %w", job.bin, err)
		}
		matches = append(matches, found...)
	}
	return matches, nil
}

// scanBin returns the entries of one bin that overlap any of the job's spans
// and pass the filters.
func scanBin(cursor store.Cursor, seqID uint8, job binJob, fs filterSet) ([]FetchEntry, error) {
	spans := job.spans
	if len(spans) == 0 {
		return nil, nil
	}
	spanStart, spanEnd := spans[0].start, spans[0].end
	for _, s := range spans[1:] {
		if s.end > spanEnd {
			spanEnd = s.end
		}
	}

	var matches []FetchEntry
	cursor.Jump(kv.BinStartPrefix(seqID, job.bin))
	for {
		key, value, ok := cursor.Next()
		if !ok {
			break
		}
		if len(key) != kv.KeySize || key[0] != kv.Marker {
			return nil, fmt.Errorf("key %x: %w", key, kv.ErrMalformed)
		}
		entrySeq, entryBin, entryStart, entryEnd := kv.ScanKey(key)
		if entrySeq != seqID || entryBin != job.bin || entryStart >= spanEnd {
			break
		}
		if entryEnd < spanStart {
			continue
		}
		for len(spans) > 0 && spans[0].end < entryStart {
			spans = spans[1:]
		}
		if len(spans) == 0 {
			break
		}
		for _, s := range spans {
			if s.start > entryEnd {
				break
			}
			overlaps := (entryStart <= s.start && s.start < entryEnd) || (s.start <= entryStart && entryStart < s.end)
			if !overlaps {
				continue
			}
			if err := kv.CheckValue(value); err != nil {
				return nil, fmt.Errorf("value for %x: %w", key, err)
			}
			pass, err := fs.match(value)
			if err != nil {
				return nil, err
			}
			if pass {
				offset, length := kv.OffsetLength(value)
				matches = append(matches, FetchEntry{Offset: offset, Length: length})
			}
			break
		}
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return matches, nil
}

func sortFetchList(list []FetchEntry) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Offset != list[j].Offset {
			return list[i].Offset < list[j].Offset
		}
		return list[i].Length < list[j].Length
	})
}

// Find calls fetcher with the fetch list for the intervals and filters.
// Nothing is fetched if no block matches.
func (idx *Index) Find(ctx context.Context, intervals []genomics.Interval, filters []Filter, fetcher BlockFetcher, fn func(FetchEntry, []byte) error) error {
	start := time.Now()
	list, err := idx.FetchList(ctx, intervals, filters)
	if err != nil {
		return err
	}
	log.Debug.Printf("Built fetch list of %s items in %.3fs.", humanize.Comma(int64(len(list))), time.Since(start).Seconds())
	if len(list) == 0 {
		return nil
	}
	return fetcher.FetchBlocks(ctx, list, fn)
}

// Slicer trims an alignment block to an interval.
type Slicer func(block []byte, interval genomics.Interval) ([]byte, error)

// Slice is like Find for a single interval, but passes every block through
// slice before calling fn.
func (idx *Index) Slice(ctx context.Context, interval genomics.Interval, filters []Filter, fetcher BlockFetcher, slice Slicer, fn func(FetchEntry, []byte) error) error {
	return idx.Find(ctx, []genomics.Interval{interval}, filters, fetcher, func(e FetchEntry, block []byte) error {
		sliced, err := slice(block, interval)
		if err != nil {
			return fmt.Errorf("slicing block at offset %d: %v", e.Offset, err)
		}
		return fn(e, sliced)
	})
}

// MergeFetchList coalesces entries of a sorted fetch list that touch or
// overlap into reads of at most sizeLimit bytes.  It must only be used for
// uncompressed files, where offsets are byte positions.
func MergeFetchList(list []FetchEntry, sizeLimit uint64) []FetchEntry {
	if sizeLimit > math.MaxUint32 {
		sizeLimit = math.MaxUint32
	}
	var merged []FetchEntry
	for _, e := range list {
		if n := len(merged); n > 0 {
			last := &merged[n-1]
			lastEnd := last.Offset + uint64(last.Length)
			end := e.Offset + uint64(e.Length)
			if e.Offset <= lastEnd && end-last.Offset <= sizeLimit {
				if end > lastEnd {
					last.Length = uint32(end - last.Offset)
				}
				continue
			}
		}
		merged = append(merged, e)
	}
	return merged
}
