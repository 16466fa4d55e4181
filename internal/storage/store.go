package storage

import (
	"strings"
	"time"

	"github.com/benbjohnson/clock"
)

// Kind identifies what a key currently holds.
type Kind int

const (
	KindNone Kind = iota
	KindString
	KindStream
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindStream:
		return "stream"
	default:
		return "none"
	}
}

// Field is a single name/value pair inside a stream entry. Pairs keep the
// order the client supplied them in.
type Field struct {
	Name  []byte
	Value []byte
}

// StreamEntry is one appended entry of a stream.
type StreamEntry struct {
	ID     string
	Fields []Field
}

// entry is the value slot behind a key: either a string with an optional
// expiry, or a stream of entries in insertion order. Never both.
type entry struct {
	kind      Kind
	value     []byte
	expiresAt *time.Time
	stream    []StreamEntry
}

// Store is the in-memory keyspace. It is owned by the dispatcher goroutine
// and performs no locking of its own; expiry decisions come from the
// injected clock so tests can drive time directly.
type Store struct {
	clock clock.Clock
	items map[string]*entry
}

func New(clk clock.Clock) *Store {
	return &Store{
		clock: clk,
		items: make(map[string]*entry),
	}
}

// lookup returns the live entry for key, lazily removing a string entry
// whose expiry has passed.
func (s *Store) lookup(key string) *entry {
	e, ok := s.items[key]
	if !ok {
		return nil
	}
	if e.kind == KindString && e.expiresAt != nil && !s.clock.Now().Before(*e.expiresAt) {
		delete(s.items, key)
		return nil
	}
	return e
}

// Get returns the string value behind key. The second result reports
// whether the key was present; a stream key yields ErrWrongType.
func (s *Store) Get(key string) ([]byte, bool, error) {
	e := s.lookup(key)
	if e == nil {
		return nil, false, nil
	}
	if e.kind != KindString {
		return nil, false, ErrWrongType
	}
	return e.value, true, nil
}

// Set stores a string value under key, replacing whatever entry was there
// before and overwriting any previous expiry.
func (s *Store) Set(key string, value []byte, expiresAt *time.Time) {
	s.items[key] = &entry{
		kind:      KindString,
		value:     value,
		expiresAt: expiresAt,
	}
}

// Keys lists every live key. Only the literal * pattern is supported.
func (s *Store) Keys(pattern string) ([]string, error) {
	if pattern != "*" {
		return nil, ErrBadPattern
	}

	keys := make([]string, 0, len(s.items))
	for key := range s.items {
		if s.lookup(key) != nil {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Type reports what key currently holds, honoring lazy expiry.
func (s *Store) Type(key string) Kind {
	e := s.lookup(key)
	if e == nil {
		return KindNone
	}
	return e.kind
}

// XAdd appends an entry to the stream at key, creating the stream if the
// key is absent. Appending to a string key fails and leaves the string
// untouched. Entry ids are opaque; the auto-generation forms (* and ms-*)
// are rejected.
func (s *Store) XAdd(key, id string, fields []Field) error {
	if id == "*" || strings.HasSuffix(id, "-*") {
		return ErrBadEntryID
	}

	e := s.lookup(key)
	switch {
	case e == nil:
		s.items[key] = &entry{
			kind:   KindStream,
			stream: []StreamEntry{{ID: id, Fields: fields}},
		}
	case e.kind == KindStream:
		e.stream = append(e.stream, StreamEntry{ID: id, Fields: fields})
	default:
		return ErrWrongType
	}
	return nil
}

// XRange returns the stream entries behind key in insertion order.
func (s *Store) XRange(key string) ([]StreamEntry, error) {
	e := s.lookup(key)
	if e == nil {
		return nil, nil
	}
	if e.kind != KindStream {
		return nil, ErrWrongType
	}
	return e.stream, nil
}

// Len reports the number of live entries, counting expired-but-unswept
// strings as absent.
func (s *Store) Len() int {
	n := 0
	for key := range s.items {
		if s.lookup(key) != nil {
			n++
		}
	}
	return n
}
