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

package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/storage"
	"github.com/googlegenomics/mafindex/bgzf"
	"github.com/googlegenomics/mafindex/index"
	"google.golang.org/api/option"
)

func writeTempFile(t *testing.T, data []byte) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.maf")
	if err := ioutil.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open %s: %v", path, err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

const testMAF = "##maf version=1\n\na score=1\ns hg19.chr1 0 4 + 100 ACGT\n\na score=2\ns hg19.chr1 4 4 + 100 TTGA\n\n"

func collect(t *testing.T, f *Fetcher, entries []index.FetchEntry) []string {
	t.Helper()
	var got []string
	err := f.FetchBlocks(context.Background(), entries, func(e index.FetchEntry, b []byte) error {
		got = append(got, string(b))
		return nil
	})
	if err != nil {
		t.Fatalf("FetchBlocks() failed: %v", err)
	}
	return got
}

func TestFetcher_Plain(t *testing.T) {
	f, err := NewFetcher(NewFileRangeReader(writeTempFile(t, []byte(testMAF))), "")
	if err != nil {
		t.Fatalf("NewFetcher() failed: %v", err)
	}

	first := strings.Index(testMAF, "a score=1")
	second := strings.Index(testMAF, "a score=2")
	entries := []index.FetchEntry{
		{Offset: uint64(first), Length: uint32(second - first)},
		{Offset: uint64(second), Length: uint32(len(testMAF) - second)},
	}
	got := collect(t, f, entries)
	want := []string{testMAF[first:second], testMAF[second:]}
	if len(got) != len(want) {
		t.Fatalf("got %d blocks, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("block %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestFetcher_PlainTruncated(t *testing.T) {
	f := &Fetcher{Open: NewFileRangeReader(writeTempFile(t, []byte(testMAF)))}
	_, err := f.Fetch(context.Background(), index.FetchEntry{Offset: uint64(len(testMAF) - 4), Length: 10})
	if err == nil {
		t.Fatal("Fetch() succeeded, want error")
	}
}

// bgzfFile compresses each part into its own BGZF block and returns the file
// contents with the block offsets.
func bgzfFile(t *testing.T, parts ...string) ([]byte, []uint64) {
	t.Helper()
	var buf bytes.Buffer
	var offsets []uint64
	for _, part := range parts {
		offsets = append(offsets, uint64(buf.Len()))
		encoded, err := bgzf.EncodeBlock([]byte(part))
		if err != nil {
			t.Fatalf("EncodeBlock() failed: %v", err)
		}
		buf.Write(encoded)
	}
	return buf.Bytes(), offsets
}

func TestFetcher_BGZF(t *testing.T) {
	parts := []string{"##maf version=1\n\na score=1\n", "s hg19.chr1 0 4 + 100 ACGT\n\n", "a score=2\ns hg19.chr1 4 4 + 100 TTGA\n\n"}
	data, offsets := bgzfFile(t, parts...)
	f, err := NewFetcher(NewFileRangeReader(writeTempFile(t, data)), "bgzf")
	if err != nil {
		t.Fatalf("NewFetcher() failed: %v", err)
	}

	plain := strings.Join(parts, "")
	first := strings.Index(parts[0], "a score=1")
	entries := []index.FetchEntry{
		// The first alignment spans the first two blocks.
		{Offset: uint64(bgzf.NewAddress(offsets[0], uint16(first))), Length: uint32(len(parts[0]) - first + len(parts[1]))},
		{Offset: uint64(bgzf.NewAddress(offsets[2], 0)), Length: uint32(len(parts[2]))},
	}
	got := collect(t, f, entries)
	want := []string{plain[first : len(parts[0])+len(parts[1])], parts[2]}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("block %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNewFetcher_Unsupported(t *testing.T) {
	if _, err := NewFetcher(nil, "xz"); err == nil {
		t.Fatal("NewFetcher(xz) succeeded, want error")
	}
}

func TestFetchBlocks_Error(t *testing.T) {
	f := &Fetcher{Open: NewFileRangeReader(writeTempFile(t, []byte(testMAF)))}
	want := errors.New("stop")
	err := f.FetchBlocks(context.Background(), []index.FetchEntry{{Offset: 0, Length: 2}, {Offset: 2, Length: 2}}, func(index.FetchEntry, []byte) error {
		return want
	})
	if err != want {
		t.Errorf("FetchBlocks() = %v, want %v", err, want)
	}
}

func TestNewGCSClient(t *testing.T) {
	testCases := []struct {
		authorization string
		wantErr       bool
	}{
		{"", true},
		{"Bearer", true},
		{"Bearer ", true},
		{"Basic dXNlcjpwYXNz", true},
		{"Bearer a b", true},
		{"Bearer ya29.token", false},
	}
	for _, tc := range testCases {
		client, err := NewGCSClient(context.Background(), tc.authorization)
		if gotErr := err != nil; gotErr != tc.wantErr {
			t.Errorf("NewGCSClient(%q) = %v, want error %v", tc.authorization, err, tc.wantErr)
		}
		if tc.wantErr && err != ErrMissingOrInvalidToken {
			t.Errorf("NewGCSClient(%q) = %v, want %v", tc.authorization, err, ErrMissingOrInvalidToken)
		}
		if client != nil {
			client.Close()
		}
	}
}

type fakeGCS struct {
	content []byte
}

func (fake *fakeGCS) RoundTrip(req *http.Request) (*http.Response, error) {
	w := httptest.NewRecorder()
	http.ServeContent(w, req, "test.maf", time.Now(), bytes.NewReader(fake.content))
	return w.Result(), nil
}

func TestGCSRangeReader(t *testing.T) {
	ctx := context.Background()
	client, err := storage.NewClient(ctx, option.WithHTTPClient(&http.Client{Transport: &fakeGCS{[]byte(testMAF)}}))
	if err != nil {
		t.Fatalf("Failed to create storage client: %v", err)
	}
	defer client.Close()

	f := &Fetcher{Open: NewGCSRangeReader(client.Bucket("bucket").Object("test.maf"))}
	second := strings.Index(testMAF, "a score=2")
	got, err := f.Fetch(ctx, index.FetchEntry{Offset: uint64(second), Length: uint32(len(testMAF) - second)})
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if got, want := string(got), testMAF[second:]; got != want {
		t.Errorf("Fetch() = %q, want %q", got, want)
	}
}

func ExampleNewFetcher() {
	open := func(_ context.Context, start, length int64) (io.ReadCloser, error) {
		return ioutil.NopCloser(strings.NewReader(testMAF[start : start+length])), nil
	}
	f, _ := NewFetcher(open, "")
	block, _ := f.Fetch(context.Background(), index.FetchEntry{Offset: 0, Length: 15})
	fmt.Println(string(block))
	// Output: ##maf version=1
}
