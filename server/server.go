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

// Package server implements an htsget style retrieval API for indexed MAF
// files.
//
// A reads request returns a ticket listing one URL per (merged) block of the
// fetch list.  Each URL points back at the block endpoint of the same server.
package server

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/googlegenomics/mafindex/analytics"
	"github.com/googlegenomics/mafindex/index"
	"github.com/googlegenomics/mafindex/internal/genomics"
	"github.com/googlegenomics/mafindex/source"
	"github.com/grailbio/base/log"
	"google.golang.org/api/option"
)

const (
	readsPath = "/reads/"
	blockPath = "/block/"

	// DefaultBlockSizeLimit is the default soft limit on the size of a block
	// returned for an uncompressed MAF file.
	DefaultBlockSizeLimit = 1024 * 1024 * 1024
)

var (
	errInvalidOrUnspecifiedID = errors.New("invalid or unspecified ID")
	errMissingReferenceName   = errors.New("no reference name specified")
)

// Config controls a Server.
type Config struct {
	// Directory holds the indexes, named <id>.idx, and the MAF files unless
	// Bucket is set.
	Directory string
	// Bucket is the Cloud Storage bucket that holds the MAF files.
	Bucket string
	// Secure forwards the bearer token of each request to Cloud Storage and
	// repeats it in the block URLs of tickets.
	Secure bool
	// BlockSizeLimit bounds the blocks returned for uncompressed files, though
	// alignment blocks that already exceed it are not split.
	BlockSizeLimit uint64
	// Index controls queries on the opened indexes.
	Index index.Options
	// StorageOptions are used when creating Cloud Storage clients.
	StorageOptions []option.ClientOption
}

// Server serves tickets and blocks for the indexes in a directory.  Must be
// created with New.
type Server struct {
	cfg Config

	mu      sync.Mutex
	indexes map[string]*index.Index
	public  *storage.Client
}

// New returns a Server for cfg.
func New(cfg Config) (*Server, error) {
	if cfg.Directory == "" {
		return nil, errors.New("no index directory specified")
	}
	if cfg.BlockSizeLimit == 0 {
		cfg.BlockSizeLimit = DefaultBlockSizeLimit
	}
	return &Server{cfg: cfg, indexes: make(map[string]*index.Index)}, nil
}

// Register adds the reads and block endpoints to router.
func (s *Server) Register(router gin.IRouter) {
	router.Use(forwardOrigin)
	router.GET(readsPath+":id", s.serveReads)
	router.GET(blockPath+":id", s.serveBlock)
}

// Close closes every index opened by the server.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for id, idx := range s.indexes {
		if err := idx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %v", id, err))
		}
		delete(s.indexes, id)
	}
	if s.public != nil {
		s.public.Close()
		s.public = nil
	}
	if len(errs) > 0 {
		return fmt.Errorf("one or more errors: %v", errs)
	}
	return nil
}

func forwardOrigin(c *gin.Context) {
	if origin := c.GetHeader("Origin"); origin != "" {
		c.Header("Access-Control-Allow-Origin", origin)
	}
	c.Next()
}

// index returns the open index for id, opening it on first use.
func (s *Server) index(id string) (*index.Index, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return nil, newInvalidInputError("parsing ID", errInvalidOrUnspecifiedID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.indexes[id]; ok {
		return idx, nil
	}
	path := filepath.Join(s.cfg.Directory, id+".idx")
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, newNotFoundError("opening index", fmt.Errorf("no index for %q", id))
		}
		return nil, fmt.Errorf("opening index: %w", err)
	}
	opts := s.cfg.Index
	idx, err := index.Open(path, &opts)
	if err != nil {
		return nil, err
	}
	log.Printf("Opened index %s for %s", path, idx.MAFFile())
	s.indexes[id] = idx
	return idx, nil
}

func (s *Server) serveReads(c *gin.Context) {
	ctx := c.Request.Context()
	requestID := uuid.New().String()
	track := analytics.TrackerFromContext(ctx)
	track(analytics.Event("Reads", "Reads Request Received", "", nil))

	if err := parseFormat(c.Query("format")); err != nil {
		writeError(c, newUnsupportedFormatError(err))
		return
	}

	id := c.Param("id")
	idx, err := s.index(id)
	if err != nil {
		writeError(c, err)
		return
	}

	interval, err := parseInterval(c.Request.URL.Query(), idx)
	if err != nil {
		writeError(c, err)
		return
	}
	filters, err := parseFilters(c.Request.URL.Query())
	if err != nil {
		writeError(c, newInvalidInputError("parsing filters", err))
		return
	}

	start := time.Now()
	list, err := idx.FetchList(ctx, []genomics.Interval{interval}, filters)
	if err != nil {
		track(analytics.Event("Reads", "Reads Internal Error", "", nil))
		writeError(c, newQueryError(err))
		return
	}
	track(analytics.Timing("Reads", "Fetch List", time.Since(start)))
	if idx.Compression() == "" {
		list = index.MergeFetchList(list, s.cfg.BlockSizeLimit)
	}
	log.Debug.Printf("Request %s: %s in %s matched %d blocks", requestID, interval, id, len(list))

	base := requestBase(c.Request) + blockPath + url.PathEscape(id)
	var headers map[string]string
	if s.cfg.Secure {
		headers = map[string]string{"Authorization": c.GetHeader("Authorization")}
	}
	urls := make([]map[string]interface{}, 0, len(list))
	for _, e := range list {
		u := map[string]interface{}{
			"url": fmt.Sprintf("%s?offset=%d&length=%d", base, e.Offset, e.Length),
		}
		if headers != nil {
			u["headers"] = headers
		}
		urls = append(urls, u)
	}

	writeJSON(c, http.StatusOK, map[string]interface{}{
		"htsget": map[string]interface{}{
			"format": "MAF",
			"urls":   urls,
		}})

	count := int64(len(urls))
	track(analytics.Event("Reads", "Reads Response URL Count", "", &count))
	track(analytics.Event("Reads", "Reads Response Sent", "", nil))
}

func (s *Server) serveBlock(c *gin.Context) {
	ctx := c.Request.Context()
	idx, err := s.index(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	entry, err := parseEntry(c.Query("offset"), c.Query("length"))
	if err != nil {
		writeError(c, newInvalidInputError("parsing block", err))
		return
	}

	open, closer, err := s.rangeReader(c.Request, idx.MAFFile())
	if err != nil {
		writeError(c, err)
		return
	}
	defer closer.Close()

	fetcher, err := source.NewFetcher(open, idx.Compression())
	if err != nil {
		writeError(c, err)
		return
	}
	r, err := fetcher.NewBlockReader(ctx, entry)
	if err != nil {
		writeError(c, newStorageError("opening block", err))
		return
	}
	defer r.Close()

	c.Header("Content-Type", "application/octet-stream")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, r); err != nil {
		log.Error.Printf("Failed to copy block at %d: %v", entry.Offset, err)
	}
}

// rangeReader returns a RangeReader over the named MAF file and a closer that
// releases it.
func (s *Server) rangeReader(req *http.Request, mafFile string) (source.RangeReader, io.Closer, error) {
	if s.cfg.Bucket == "" {
		f, err := os.Open(filepath.Join(s.cfg.Directory, mafFile))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil, newNotFoundError("opening MAF file", err)
			}
			return nil, nil, fmt.Errorf("opening MAF file: %w", err)
		}
		return source.NewFileRangeReader(f), f, nil
	}

	client, closer, err := s.storageClient(req)
	if err != nil {
		return nil, nil, newStorageError("creating client", err)
	}
	return source.NewGCSRangeReader(client.Bucket(s.cfg.Bucket).Object(mafFile)), closer, nil
}

func (s *Server) storageClient(req *http.Request) (*storage.Client, io.Closer, error) {
	if s.cfg.Secure {
		client, err := source.NewGCSClient(req.Context(), req.Header.Get("Authorization"), s.cfg.StorageOptions...)
		if err != nil {
			return nil, nil, err
		}
		return client, client, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.public == nil {
		client, err := source.NewPublicGCSClient(req.Context(), s.cfg.StorageOptions...)
		if err != nil {
			return nil, nil, err
		}
		s.public = client
	}
	return s.public, noClose{}, nil
}

// noClose is the closer of shared resources.
type noClose struct{}

func (noClose) Close() error { return nil }

func requestBase(req *http.Request) string {
	if req.Host == "" {
		return ""
	}
	if req.TLS != nil {
		return "https://" + req.Host
	}
	return "http://" + req.Host
}

func parseFormat(format string) error {
	if format != "" && format != "MAF" {
		return fmt.Errorf("unsupported format %q", format)
	}
	return nil
}

// queryParameters are the reads parameters that are not filters.
var queryParameters = map[string]bool{
	"format":        true,
	"referenceName": true,
	"start":         true,
	"end":           true,
}

func parseInterval(query url.Values, idx *index.Index) (genomics.Interval, error) {
	var (
		name  = query.Get("referenceName")
		start = query.Get("start")
		end   = query.Get("end")
	)
	if name == "" {
		return genomics.Interval{}, newInvalidInputError("parsing interval", errMissingReferenceName)
	}
	interval := genomics.Interval{Chrom: resolveSequence(idx, name), End: math.MaxUint32}

	if start != "" {
		n, err := strconv.ParseUint(start, 10, 32)
		if err != nil {
			return genomics.Interval{}, newInvalidInputError("parsing start", err)
		}
		interval.Start = uint32(n)
	}
	if end != "" {
		n, err := strconv.ParseUint(end, 10, 32)
		if err != nil {
			return genomics.Interval{}, newInvalidInputError("parsing end", err)
		}
		interval.End = uint32(n)
	}
	if interval.Start >= interval.End {
		return genomics.Interval{}, newInvalidRangeError(fmt.Errorf("%s: start must be before end", interval))
	}
	return interval, nil
}

// resolveSequence maps a bare sequence name such as "chr22" to the indexed
// name qualified with the species of the reference sequence.
func resolveSequence(idx *index.Index, name string) string {
	sequences := idx.Sequences()
	if _, ok := sequences[name]; ok {
		return name
	}
	if i := strings.IndexByte(idx.RefSeq(), '.'); i > 0 {
		qualified := idx.RefSeq()[:i+1] + name
		if _, ok := sequences[qualified]; ok {
			return qualified
		}
	}
	return name
}

func parseFilters(query url.Values) ([]index.Filter, error) {
	var keys []string
	for key := range query {
		if !queryParameters[key] {
			keys = append(keys, key)
		}
	}
	// Build filters in a stable order so that errors are deterministic.
	sort.Strings(keys)

	var filters []index.Filter
	for _, key := range keys {
		f, err := index.ParseFilter(key, query.Get(key))
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filters, nil
}

func parseEntry(offset, length string) (index.FetchEntry, error) {
	o, err := strconv.ParseUint(offset, 10, 64)
	if err != nil {
		return index.FetchEntry{}, fmt.Errorf("parsing offset: %v", err)
	}
	l, err := strconv.ParseUint(length, 10, 32)
	if err != nil {
		return index.FetchEntry{}, fmt.Errorf("parsing length: %v", err)
	}
	return index.FetchEntry{Offset: o, Length: uint32(l)}, nil
}
