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

// Package store provides the ordered key/value store that backs a MAF index.
//
// Keys are kept in byte order.  The only backing implementation is a Pebble
// database, either on disk or on an in-memory filesystem for temporary
// indexes.
package store

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// Mode selects how a store is opened.
type Mode int

const (
	// ReadOnly opens an existing store for reading.
	ReadOnly Mode = iota
	// WriteCreate opens a store for writing, creating it if needed.
	WriteCreate
)

// memDirname is the directory used for stores on the in-memory filesystem.
const memDirname = "index"

// Store is an ordered key/value store.
type Store interface {
	// Get returns a copy of the value stored under key.  ok is false if the key
	// does not exist.
	Get(key []byte) (value []byte, ok bool, err error)
	// Set stores value under key.
	Set(key, value []byte) error
	// SetBulk stores every pair in entries in a single atomic batch.
	SetBulk(entries map[string][]byte) error
	// MatchPrefix returns all keys that start with prefix, in ascending order.
	MatchPrefix(prefix []byte) ([][]byte, error)
	// NewCursor returns a cursor over the store.  Cursors may be used from
	// different goroutines concurrently, but a single cursor may not.
	NewCursor() (Cursor, error)
	// Sync makes every write durable.
	Sync() error
	// Close releases the store.  Cursors must be closed first.
	Close() error
}

// Cursor iterates over the keys of a store in ascending byte order.
type Cursor interface {
	// Jump positions the cursor so that the next call to Next returns the first
	// key greater than or equal to key.
	Jump(key []byte)
	// Next returns the entry at the cursor and advances it.  The returned slices
	// are only valid until the next call to Jump, Next or Close.
	Next() (key, value []byte, ok bool)
	// Err returns any error encountered while iterating.
	Err() error
	// Close releases the cursor.
	Close() error
}

type pebbleStore struct {
	db *pebble.DB
}

// Open opens the store at path.  An empty path opened with WriteCreate
// creates a store held entirely in memory.
func Open(path string, mode Mode) (Store, error) {
	opts := &pebble.Options{}
	switch mode {
	case ReadOnly:
		if path == "" {
			return nil, errors.New("opening read-only store: no path specified")
		}
		opts.ReadOnly = true
		opts.ErrorIfNotExists = true
	case WriteCreate:
		if path == "" {
			opts.FS = vfs.NewMem()
			path = memDirname
		}
	default:
		return nil, fmt.Errorf("opening store: unsupported mode %d", mode)
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("opening store %q: %w", path, err)
	}
	return &pebbleStore{db}, nil
}

func (s *pebbleStore) Get(key []byte) ([]byte, bool, error) {
	value, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading %q: %w", key, err)
	}
	defer closer.Close()
	return append([]byte(nil), value...), true, nil
}

func (s *pebbleStore) Set(key, value []byte) error {
	if err := s.db.Set(key, value, pebble.NoSync); err != nil {
		return fmt.Errorf("writing %q: %w", key, err)
	}
	return nil
}

func (s *pebbleStore) SetBulk(entries map[string][]byte) error {
	if len(entries) == 0 {
		return nil
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	for key, value := range entries {
		if err := batch.Set([]byte(key), value, nil); err != nil {
			return fmt.Errorf("staging %q: %w", key, err)
		}
	}
	if err := batch.Commit(pebble.NoSync); err != nil {
		return fmt.Errorf("committing %d entries: %w", len(entries), err)
	}
	return nil
}

func (s *pebbleStore) MatchPrefix(prefix []byte) ([][]byte, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: nextPrefix(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("creating iterator: %w", err)
	}

	var keys [][]byte
	for valid := iter.First(); valid; valid = iter.Next() {
		keys = append(keys, append([]byte(nil), iter.Key()...))
	}
	if err := iter.Error(); err != nil {
		iter.Close()
		return nil, fmt.Errorf("scanning prefix %q: %w", prefix, err)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("closing iterator: %w", err)
	}
	return keys, nil
}

func (s *pebbleStore) NewCursor() (Cursor, error) {
	iter, err := s.db.NewIter(nil)
	if err != nil {
		return nil, fmt.Errorf("creating iterator: %w", err)
	}
	return &pebbleCursor{iter: iter}, nil
}

func (s *pebbleStore) Sync() error {
	if err := s.db.Flush(); err != nil {
		return fmt.Errorf("flushing store: %w", err)
	}
	return nil
}

func (s *pebbleStore) Close() error {
	return s.db.Close()
}

type pebbleCursor struct {
	iter *pebble.Iterator

	target     []byte
	seek       bool
	positioned bool
	exhausted  bool
}

func (c *pebbleCursor) Jump(key []byte) {
	c.target = append(c.target[:0], key...)
	c.seek = true
}

func (c *pebbleCursor) Next() ([]byte, []byte, bool) {
	var valid bool
	switch {
	case c.seek:
		valid = c.iter.SeekGE(c.target)
		c.seek = false
	case !c.positioned:
		valid = c.iter.First()
	case c.exhausted:
		return nil, nil, false
	default:
		valid = c.iter.Next()
	}
	c.positioned = true
	c.exhausted = !valid
	if !valid {
		return nil, nil, false
	}
	return c.iter.Key(), c.iter.Value(), true
}

func (c *pebbleCursor) Err() error {
	return c.iter.Error()
}

func (c *pebbleCursor) Close() error {
	return c.iter.Close()
}

// nextPrefix returns the smallest key greater than every key starting with
// p, or nil if there is none.
func nextPrefix(p []byte) []byte {
	next := append([]byte(nil), p...)
	for i := len(next) - 1; i >= 0; i-- {
		if next[i] < 0xFF {
			next[i]++
			return next[:i+1]
		}
	}
	return nil
}
