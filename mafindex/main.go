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

// This binary inspects and queries MAF indexes.
//
// Usage:
//
//	mafindex dump INDEX
//	mafindex [flags] find INDEX MAF INTERVAL...
//
// Intervals are written as "sequence:start-end" with zero-based, half-open
// coordinates.  The blocks that overlap any interval are written to standard
// output in file order.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/googlegenomics/mafindex/index"
	"github.com/googlegenomics/mafindex/internal/genomics"
	"github.com/googlegenomics/mafindex/source"
	"github.com/grailbio/base/log"
	"github.com/pkg/profile"
)

var (
	workers    = flag.Int("workers", 0, "concurrent scan workers (default GOMAXPROCS)")
	profileDir = flag.String("profile", "", "if set, write a CPU profile to this directory and scan with one worker")
	list       = flag.Bool("list", false, "print the fetch list instead of the blocks")

	withAllSpecies = flag.String("with_all_species", "", "only return blocks containing all of these comma-separated species")
	atLeastN       = flag.Uint("at_least_n_sequences", 0, "only return blocks with at least this many sequences")
	minSize        = flag.Uint("min_size", 0, "only return blocks with at least this many alignment columns")
	maxSize        = flag.Uint("max_size", 0, "only return blocks with at most this many alignment columns")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage:\n  %[1]s dump INDEX\n  %[1]s [flags] find INDEX MAF INTERVAL...\n\nFlags:\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	log.AddFlags()
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 2 {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(flag.Arg(0), flag.Args()[1:]); err != nil {
		log.Fatalf("%s: %v", flag.Arg(0), err)
	}
}

func run(cmd string, args []string) error {
	if *profileDir != "" {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(*profileDir)).Stop()
	}

	opts := &index.Options{Workers: *workers, Profile: *profileDir != ""}
	switch cmd {
	case "dump":
		return dump(args, opts)
	case "find":
		return find(args, opts)
	}
	return fmt.Errorf("unknown command")
}

func dump(args []string, opts *index.Options) error {
	if len(args) != 1 {
		return fmt.Errorf("dump takes a single index")
	}
	idx, err := index.Open(args[0], opts)
	if err != nil {
		return err
	}
	defer idx.Close()

	w := bufio.NewWriter(os.Stdout)
	if err := idx.Dump(w); err != nil {
		return err
	}
	return w.Flush()
}

func filters() ([]index.Filter, error) {
	var fs []index.Filter
	if *withAllSpecies != "" {
		f, err := index.ParseFilter("with_all_species", *withAllSpecies)
		if err != nil {
			return nil, err
		}
		fs = append(fs, f)
	}
	for _, f := range []struct {
		kind  index.FilterKind
		value uint
	}{
		{index.AtLeastNSequences, *atLeastN},
		{index.MinSize, *minSize},
		{index.MaxSize, *maxSize},
	} {
		if f.value > 0 {
			fs = append(fs, index.Filter{Kind: f.kind, N: uint32(f.value)})
		}
	}
	return fs, nil
}

func find(args []string, opts *index.Options) error {
	if len(args) < 3 {
		return fmt.Errorf("find takes an index, a MAF file and at least one interval")
	}
	var intervals []genomics.Interval
	for _, arg := range args[2:] {
		interval, err := genomics.ParseInterval(arg)
		if err != nil {
			return err
		}
		intervals = append(intervals, interval)
	}
	fs, err := filters()
	if err != nil {
		return err
	}

	idx, err := index.Open(args[0], opts)
	if err != nil {
		return err
	}
	defer idx.Close()

	ctx := context.Background()
	w := bufio.NewWriter(os.Stdout)
	if *list {
		entries, err := idx.FetchList(ctx, intervals, fs)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Fprintf(w, "%d\t%d\n", e.Offset, e.Length)
		}
		return w.Flush()
	}

	f, err := os.Open(args[1])
	if err != nil {
		return err
	}
	defer f.Close()
	fetcher, err := source.NewFetcher(source.NewFileRangeReader(f), idx.Compression())
	if err != nil {
		return err
	}

	var blocks, total uint64
	err = idx.Find(ctx, intervals, fs, fetcher, func(_ index.FetchEntry, block []byte) error {
		blocks++
		total += uint64(len(block))
		_, err := w.Write(block)
		return err
	})
	if err != nil {
		return err
	}
	log.Printf("Wrote %s blocks (%s) for %s", humanize.Comma(int64(blocks)), humanize.Bytes(total), strings.Join(args[2:], " "))
	return w.Flush()
}
