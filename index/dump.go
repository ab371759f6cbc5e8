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
	"io"

	"github.com/dustin/go-humanize"
	"github.com/googlegenomics/mafindex/bgzf"
	"github.com/googlegenomics/mafindex/internal/kv"
)

// Dump writes a human readable listing of the metadata and entries of the
// index to w.
func (idx *Index) Dump(w io.Writer) error {
	cursor, err := idx.store.NewCursor()
	if err != nil {
		return fmt.Errorf("opening cursor: %w", err)
	}
	defer cursor.Close()

	fmt.Fprintf(w, "MAF index: %s\n", idx.path)
	fmt.Fprintln(w, "== Metadata ==")
	entries := 0
	for {
		key, value, ok := cursor.Next()
		if !ok {
			break
		}
		if len(key) == 0 || key[0] != kv.Marker {
			fmt.Fprintf(w, "%s: %s\n", key, value)
			continue
		}
		if entries == 0 {
			fmt.Fprintln(w, "== Index records ==")
		}
		entries++
		k, err := kv.DecodeKey(key)
		if err != nil {
			return fmt.Errorf("entry %d: %w", entries, err)
		}
		v, err := kv.DecodeValue(value)
		if err != nil {
			return fmt.Errorf("entry %d: %w", entries, err)
		}
		if _, err := fmt.Fprintf(w, "seq %d bin %d [%d, %d) -> offset %s length %d text %d sequences %d species %064b\n",
			k.SeqID, k.Bin, k.Start, k.End, idx.formatOffset(v.Offset), v.Length, v.TextSize, v.NSeq, v.SpeciesVec); err != nil {
			return err
		}
	}
	if err := cursor.Err(); err != nil {
		return fmt.Errorf("reading index: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s index records\n", humanize.Comma(int64(entries)))
	return err
}

func (idx *Index) formatOffset(offset uint64) string {
	if idx.compression == "bgzf" {
		a := bgzf.Address(offset)
		return fmt.Sprintf("%d:%d", a.BlockOffset(), a.DataOffset())
	}
	return fmt.Sprint(offset)
}
