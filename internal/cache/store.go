package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/dgnsrekt/narrate/internal/generate"
)

// StoreStats holds payload store metrics.
type StoreStats struct {
	Capacity  int64 // Maximum stored bytes
	Size      int64 // Stored bytes, after compression
	Raw       int64 // Stored bytes, before compression
	ItemCount int64
	Hits      int64
	Misses    int64
	Evictions int64
	HitRate   float64
}

// Key identifies a payload by the text and voices it was generated from.
func Key(text string, v generate.Voices) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s", text, v.Narrator, v.Dialogue)
	return hex.EncodeToString(h.Sum(nil))
}

// PayloadStore keeps recently generated payloads in memory with LRU eviction,
// bounded by stored bytes. Payloads larger than 1KB are zstd-compressed when
// that makes them smaller.
type PayloadStore struct {
	capacity int64
	size     int64
	raw      int64

	items    map[string]*list.Element
	eviction *list.List

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	mu     sync.Mutex
	stats  StoreStats
	closed bool
}

type storeEntry struct {
	key        string
	value      []byte
	rawSize    int64
	compressed bool
}

// NewPayloadStore creates a store holding up to capacity bytes. A level of 0
// disables compression; otherwise level is a zstd level (1-22).
func NewPayloadStore(capacity int64, level int) (*PayloadStore, error) {
	s := &PayloadStore{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		eviction: list.New(),
		stats:    StoreStats{Capacity: capacity},
	}
	if level > 0 {
		var err error
		s.encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		s.decoder, err = zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
	}
	return s, nil
}

// Get returns a copy of the payload stored under key.
func (s *PayloadStore) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[key]
	if !ok || s.closed {
		s.stats.Misses++
		return nil, false
	}

	entry := elem.Value.(*storeEntry)
	var out []byte
	if entry.compressed {
		decoded, err := s.decoder.DecodeAll(entry.value, nil)
		if err != nil {
			// corrupted entry, drop it
			s.removeElement(elem)
			s.stats.Misses++
			return nil, false
		}
		out = decoded
	} else {
		out = append([]byte(nil), entry.value...)
	}

	s.eviction.MoveToFront(elem)
	s.stats.Hits++
	return out, true
}

// Put stores a copy of value under key. Put after Close returns ErrClosed.
func (s *PayloadStore) Put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	stored, compressed := s.encode(value)
	storedSize := int64(len(stored))
	if storedSize > s.capacity {
		return ErrItemTooLarge
	}

	if elem, ok := s.items[key]; ok {
		s.removeElement(elem)
	}

	for s.size+storedSize > s.capacity && s.eviction.Len() > 0 {
		s.evictOldest()
	}

	entry := &storeEntry{
		key:        key,
		value:      stored,
		rawSize:    int64(len(value)),
		compressed: compressed,
	}
	s.items[key] = s.eviction.PushFront(entry)
	s.size += storedSize
	s.raw += entry.rawSize
	return nil
}

func (s *PayloadStore) encode(value []byte) ([]byte, bool) {
	if s.encoder != nil && len(value) > 1024 {
		c := s.encoder.EncodeAll(value, nil)
		if len(c) < len(value) {
			return c, true
		}
	}
	return append([]byte(nil), value...), false
}

// Clear removes all entries.
func (s *PayloadStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

func (s *PayloadStore) clearLocked() {
	s.items = make(map[string]*list.Element)
	s.eviction.Init()
	s.size = 0
	s.raw = 0
}

// Stats returns store statistics.
func (s *PayloadStore) Stats() StoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.stats
	stats.Size = s.size
	stats.Raw = s.raw
	stats.ItemCount = int64(len(s.items))
	if stats.Hits+stats.Misses > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.Hits+stats.Misses)
	}
	return stats
}

// Close drops every entry and releases the compression resources.
func (s *PayloadStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.clearLocked()
	if s.encoder != nil {
		_ = s.encoder.Close()
	}
	if s.decoder != nil {
		s.decoder.Close()
	}
}

// evictOldest removes the least recently used entry (must be called with lock held).
func (s *PayloadStore) evictOldest() {
	if elem := s.eviction.Back(); elem != nil {
		s.removeElement(elem)
		s.stats.Evictions++
	}
}

// removeElement must be called with lock held.
func (s *PayloadStore) removeElement(elem *list.Element) {
	s.eviction.Remove(elem)
	entry := elem.Value.(*storeEntry)
	delete(s.items, entry.key)
	s.size -= int64(len(entry.value))
	s.raw -= entry.rawSize
}
