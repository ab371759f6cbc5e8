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
	"reflect"
	"testing"

	"github.com/googlegenomics/mafindex/internal/genomics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	entryA = FetchEntry{Offset: 16, Length: 1087}
	entryB = FetchEntry{Offset: 1103, Length: 700}
	entryC = FetchEntry{Offset: 1803, Length: 500}
	entryD = FetchEntry{Offset: 2303, Length: 300}
)

func chr22(start, end uint32) genomics.Interval {
	return genomics.Interval{Chrom: "hg19.chr22", Start: start, End: end}
}

func TestFetchList(t *testing.T) {
	testCases := []struct {
		name      string
		intervals []genomics.Interval
		filters   []Filter
		want      []FetchEntry
	}{
		{"inside first block", []genomics.Interval{chr22(80082330, 80082340)}, nil, []FetchEntry{entryA}},
		{"exact block", []genomics.Interval{chr22(80082334, 80082368)}, nil, []FetchEntry{entryA}},
		{"last base", []genomics.Interval{chr22(80082367, 80082368)}, nil, []FetchEntry{entryA}},
		{"two blocks", []genomics.Interval{chr22(80082360, 80082370)}, nil, []FetchEntry{entryA, entryB}},
		{"ends at block start", []genomics.Interval{chr22(80082300, 80082334)}, nil, nil},
		{"gap", []genomics.Interval{chr22(80082378, 80082471)}, nil, nil},
		{"disjoint intervals", []genomics.Interval{chr22(89999999, 90000001), chr22(80082330, 80082340)}, nil, []FetchEntry{entryA, entryD}},
		{"overlapping intervals", []genomics.Interval{chr22(80082330, 80082370), chr22(80082335, 80082336)}, nil, []FetchEntry{entryA, entryB}},
		{"whole sequence", []genomics.Interval{chr22(0, 1000000000)}, nil, []FetchEntry{entryA, entryB, entryC, entryD}},
		{
			name:      "all species",
			intervals: []genomics.Interval{chr22(0, 1000000000)},
			filters:   []Filter{{Kind: WithAllSpecies, Species: []string{"hg19", "mm10"}}},
			want:      []FetchEntry{entryA, entryC, entryD},
		},
		{
			name:      "one species",
			intervals: []genomics.Interval{chr22(0, 1000000000)},
			filters:   []Filter{{Kind: WithAllSpecies, Species: []string{"panTro2"}}},
			want:      []FetchEntry{entryA, entryB},
		},
		{
			name:      "species of empty sequence",
			intervals: []genomics.Interval{chr22(0, 1000000000)},
			filters:   []Filter{{Kind: WithAllSpecies, Species: []string{"rn4"}}},
			want:      []FetchEntry{entryC},
		},
		{
			name:      "at least n sequences",
			intervals: []genomics.Interval{chr22(0, 1000000000)},
			filters:   []Filter{{Kind: AtLeastNSequences, N: 3}},
			want:      []FetchEntry{entryA, entryC},
		},
		{
			name:      "min size",
			intervals: []genomics.Interval{chr22(0, 1000000000)},
			filters:   []Filter{{Kind: MinSize, N: 50}},
			want:      []FetchEntry{entryA, entryC},
		},
		{
			name:      "max size",
			intervals: []genomics.Interval{chr22(0, 1000000000)},
			filters:   []Filter{{Kind: MaxSize, N: 20}},
			want:      []FetchEntry{entryB, entryD},
		},
		{
			name:      "combined",
			intervals: []genomics.Interval{chr22(0, 1000000000)},
			filters: []Filter{
				{Kind: WithAllSpecies, Species: []string{"hg19", "mm10"}},
				{Kind: MaxSize, N: 100},
			},
			want: []FetchEntry{entryA, entryD},
		},
		{
			name:      "filtered out",
			intervals: []genomics.Interval{chr22(80082330, 80082340)},
			filters:   []Filter{{Kind: MaxSize, N: 10}},
			want:      nil,
		},
	}
	for _, workers := range []int{1, 4} {
		src := &testSource{file: "chr22.maf", blocks: chr22Blocks()}
		opts := DefaultBuildOptions()
		opts.Options.Workers = workers
		idx, err := Build(context.Background(), src, "", opts)
		require.NoError(t, err)
		defer idx.Close()

		for _, tc := range testCases {
			t.Run(fmt.Sprintf("%s/%d workers", tc.name, workers), func(t *testing.T) {
				got, err := idx.FetchList(context.Background(), tc.intervals, tc.filters)
				if err != nil {
					t.Fatalf("FetchList() failed: %v", err)
				}
				if !reflect.DeepEqual(got, tc.want) {
					t.Errorf("FetchList() = %v, want %v", got, tc.want)
				}
			})
		}
	}
}

func TestFetchList_Errors(t *testing.T) {
	idx := buildTestIndex(t, "", chr22Blocks(), DefaultBuildOptions())

	testCases := []struct {
		name      string
		intervals []genomics.Interval
		filters   []Filter
		want      error
	}{
		{"no intervals", nil, nil, ErrNoIntervals},
		{"not indexed", []genomics.Interval{{Chrom: "hg19.chr1", Start: 0, End: 10}}, nil, ErrNotIndexed},
		{"mixed", []genomics.Interval{chr22(0, 10), {Chrom: "hg19.chr1", Start: 0, End: 10}}, nil, ErrMixedChromosomes},
		{"unknown species", []genomics.Interval{chr22(0, 10)}, []Filter{{Kind: WithAllSpecies, Species: []string{"dog"}}}, ErrUnknownSpecies},
		{"unknown filter", []genomics.Interval{chr22(0, 10)}, []Filter{{Kind: FilterKind(99)}}, ErrUnknownFilter},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := idx.FetchList(context.Background(), tc.intervals, tc.filters)
			if !errors.Is(err, tc.want) {
				t.Errorf("FetchList() = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestFetchList_Sorted(t *testing.T) {
	// Blocks whose file order differs from their position order.
	blocks := []*Block{
		block(500, 10, 1, seq("hg19.chr1", 5000000, 100)),
		block(100, 10, 1, seq("hg19.chr1", 10, 100)),
		block(300, 10, 1, seq("hg19.chr1", 600000000, 100)),
		block(200, 10, 1, seq("hg19.chr1", 200000, 5000000)),
	}
	idx := buildTestIndex(t, "", blocks, DefaultBuildOptions())

	got, err := idx.FetchList(context.Background(), []genomics.Interval{{Chrom: "hg19.chr1", Start: 0, End: 700000000}}, nil)
	require.NoError(t, err)
	want := []FetchEntry{{100, 10}, {200, 10}, {300, 10}, {500, 10}}
	assert.Equal(t, want, got)
}

type testFetcher struct {
	calls   int
	entries []FetchEntry
}

func (f *testFetcher) FetchBlocks(ctx context.Context, entries []FetchEntry, fn func(FetchEntry, []byte) error) error {
	f.calls++
	for _, e := range entries {
		f.entries = append(f.entries, e)
		if err := fn(e, []byte(fmt.Sprintf("block@%d", e.Offset))); err != nil {
			return err
		}
	}
	return nil
}

func TestFind(t *testing.T) {
	idx := buildTestIndex(t, "", chr22Blocks(), DefaultBuildOptions())

	var f testFetcher
	var got []string
	err := idx.Find(context.Background(), []genomics.Interval{chr22(80082360, 80082370)}, nil, &f, func(e FetchEntry, b []byte) error {
		got = append(got, string(b))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"block@16", "block@1103"}, got)
	assert.Equal(t, []FetchEntry{entryA, entryB}, f.entries)

	var empty testFetcher
	err = idx.Find(context.Background(), []genomics.Interval{chr22(0, 10)}, nil, &empty, func(FetchEntry, []byte) error {
		t.Error("unexpected block")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, empty.calls)
}

func TestSlice(t *testing.T) {
	idx := buildTestIndex(t, "", chr22Blocks(), DefaultBuildOptions())

	interval := chr22(80082330, 80082340)
	var got []string
	slicer := func(b []byte, iv genomics.Interval) ([]byte, error) {
		return []byte(fmt.Sprintf("%s[%s]", b, iv)), nil
	}
	err := idx.Slice(context.Background(), interval, nil, &testFetcher{}, slicer, func(e FetchEntry, b []byte) error {
		got = append(got, string(b))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"block@16[hg19.chr22:80082330-80082340]"}, got)

	failing := func([]byte, genomics.Interval) ([]byte, error) { return nil, errors.New("bad block") }
	err = idx.Slice(context.Background(), interval, nil, &testFetcher{}, failing, func(FetchEntry, []byte) error { return nil })
	assert.Error(t, err)
}

func TestMergeFetchList(t *testing.T) {
	testCases := []struct {
		name  string
		list  []FetchEntry
		limit uint64
		want  []FetchEntry
	}{
		{"empty", nil, 100, nil},
		{"adjacent", []FetchEntry{{0, 10}, {10, 10}, {20, 5}}, 100, []FetchEntry{{0, 25}}},
		{"gap", []FetchEntry{{0, 10}, {11, 10}}, 100, []FetchEntry{{0, 10}, {11, 10}}},
		{"limit", []FetchEntry{{0, 10}, {10, 10}, {20, 10}}, 20, []FetchEntry{{0, 20}, {20, 10}}},
		{"contained", []FetchEntry{{0, 30}, {10, 5}}, 100, []FetchEntry{{0, 30}}},
		{"oversized entry", []FetchEntry{{0, 50}, {50, 10}}, 20, []FetchEntry{{0, 50}, {50, 10}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := MergeFetchList(tc.list, tc.limit); !reflect.DeepEqual(got, tc.want) {
				t.Errorf("MergeFetchList() = %v, want %v", got, tc.want)
			}
		})
	}
}
