// Package storage implements the document store backing one replica node.
// Documents are schemaless JSON objects grouped into named collections and
// queried by field equality, which is the only query form the read and
// analytics layers need.
package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
)

// ErrNotFound is returned when no document matches a lookup.
var ErrNotFound = errors.New("document not found")

// Document is one schemaless JSON object.
type Document = map[string]any

// Filter selects documents whose fields equal every filter value. An empty
// filter matches every document.
type Filter = map[string]any

// Store defines the interface for a collection-oriented document store.
// All implementations must be thread-safe for concurrent access.
type Store interface {
	// Insert appends a document to a collection, creating the collection on
	// first use.
	Insert(collection string, doc Document) error

	// Upsert replaces the first document whose key fields all equal those of
	// doc, or inserts doc when none matches.
	Upsert(collection string, keys []string, doc Document) error

	// FindOne returns the first document matching filter.
	// Returns ErrNotFound when nothing matches.
	FindOne(collection string, filter Filter) (Document, error)

	// Find returns every document matching filter, in insertion order.
	Find(collection string, filter Filter) ([]Document, error)

	// Delete removes every document matching filter and reports how many
	// were removed.
	Delete(collection string, filter Filter) (int, error)

	// Collections returns the collection names in sorted order.
	Collections() []string

	// Stats returns per-collection document counts.
	Stats() Stats
}

// Stats contains per-collection statistics.
type Stats struct {
	Collections map[string]int `json:"collections"` // collection -> document count
}

// MemoryStore implements Store with in-memory collections.
// Uses sync.RWMutex for thread-safe concurrent access.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]Document // collection -> documents in insertion order
}

// NewMemoryStore creates a new in-memory document store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]Document),
	}
}

// Insert appends a copy of doc to the collection.
func (m *MemoryStore) Insert(collection string, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[collection] = append(m.data[collection], copyDoc(doc))
	return nil
}

// Upsert replaces the first document agreeing with doc on every key field, or
// appends doc when no such document exists. Rerunning an upsert with the same
// keys never produces duplicates.
func (m *MemoryStore) Upsert(collection string, keys []string, doc Document) error {
	if len(keys) == 0 {
		return errors.New("upsert requires at least one key field")
	}
	filter := make(Filter, len(keys))
	for _, k := range keys {
		v, ok := doc[k]
		if !ok {
			return fmt.Errorf("upsert: document missing key field %q", k)
		}
		filter[k] = v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	docs := m.data[collection]
	for i, existing := range docs {
		if matches(existing, filter) {
			docs[i] = copyDoc(doc)
			return nil
		}
	}
	m.data[collection] = append(docs, copyDoc(doc))
	return nil
}

// FindOne returns a copy of the first matching document.
func (m *MemoryStore) FindOne(collection string, filter Filter) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, doc := range m.data[collection] {
		if matches(doc, filter) {
			return copyDoc(doc), nil
		}
	}
	return nil, ErrNotFound
}

// Find returns copies of every matching document in insertion order.
func (m *MemoryStore) Find(collection string, filter Filter) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Document
	for _, doc := range m.data[collection] {
		if matches(doc, filter) {
			out = append(out, copyDoc(doc))
		}
	}
	return out, nil
}

// Delete removes every matching document (idempotent).
func (m *MemoryStore) Delete(collection string, filter Filter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	docs := m.data[collection]
	kept := docs[:0]
	removed := 0
	for _, doc := range docs {
		if matches(doc, filter) {
			removed++
			continue
		}
		kept = append(kept, doc)
	}
	m.data[collection] = kept
	return removed, nil
}

// Collections returns the collection names in sorted order.
func (m *MemoryStore) Collections() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.data))
	for name := range m.data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats returns per-collection document counts.
func (m *MemoryStore) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[string]int, len(m.data))
	for name, docs := range m.data {
		counts[name] = len(docs)
	}
	return Stats{Collections: counts}
}

// ImportNDJSON bulk-loads newline-delimited JSON documents into a collection.
// Malformed lines are reported and skipped; the import continues. Returns the
// number of imported documents and one error per rejected line.
func ImportNDJSON(s Store, collection string, r io.Reader) (int, []error) {
	var (
		imported int
		errs     []error
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var doc Document
		if err := json.Unmarshal(line, &doc); err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", lineNum, err))
			continue
		}
		if err := s.Insert(collection, doc); err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", lineNum, err))
			continue
		}
		imported++
	}
	if err := scanner.Err(); err != nil {
		errs = append(errs, fmt.Errorf("read: %w", err))
	}
	return imported, errs
}

// matches reports whether doc satisfies every field of filter. Numeric values
// are compared loosely: JSON decoding turns every number into float64, while
// filters built in code carry ints.
func matches(doc Document, filter Filter) bool {
	for field, want := range filter {
		got, ok := doc[field]
		if !ok {
			return false
		}
		if !looseEqual(got, want) {
			return false
		}
	}
	return true
}

func looseEqual(a, b any) bool {
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		return bok && af == bf
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// copyDoc makes a shallow copy of a document to prevent external modification
// of stored state. Nested values are shared; callers must not mutate them.
func copyDoc(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
