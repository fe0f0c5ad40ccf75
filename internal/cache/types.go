package cache

import (
	"errors"

	"github.com/dgnsrekt/narrate/internal/handle"
	"github.com/dgnsrekt/narrate/internal/queue"
)

// Common errors for cache operations
var (
	// ErrItemTooLarge is returned when a payload exceeds the store capacity
	ErrItemTooLarge = errors.New("item too large for cache")

	// ErrOutOfRange is returned for a paragraph index outside the list
	ErrOutOfRange = errors.New("paragraph index out of range")

	// ErrClosed is returned after Close
	ErrClosed = errors.New("cache is closed")

	// ErrStaleResult marks a generation result that arrived after its
	// paragraph was invalidated or reclaimed. It is logged, never surfaced.
	ErrStaleResult = errors.New("stale generation result")
)

// State is the lifecycle state of a paragraph's audio.
type State int

const (
	// NotRequested means no audio exists or is being generated.
	NotRequested State = iota
	// Loading means a generation request is pending or running.
	Loading
	// Ready means the entry holds a playable handle.
	Ready
	// Failed means the last generation failed; only an explicit retry
	// requests it again.
	Failed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case NotRequested:
		return "not-requested"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Entry is a read-only view of one paragraph's cache entry. Handle is set
// only when State is Ready and remains owned by the cache; callers borrow it.
type Entry struct {
	Index  int
	State  State
	Handle *handle.Handle
	Err    error
}

// Update reports that the entry at Index changed. It is a hint: read the
// current entry with Get before acting on it.
type Update struct {
	Index int
	State State
}

// Set is a set of paragraph indices.
type Set interface {
	Contains(index int) bool
}

// Indices is a Set backed by an explicit list.
type Indices []int

// Contains reports whether index is in the list.
func (s Indices) Contains(index int) bool {
	for _, i := range s {
		if i == index {
			return true
		}
	}
	return false
}

// Stats holds paragraph cache metrics.
type Stats struct {
	Paragraphs    int
	Ready         int
	Loading       int
	Failed        int
	Generations   int64 // generation calls issued
	StoreHits     int64 // payloads served from the payload store
	StaleDiscards int64
	LiveHandles   int64
	Store         StoreStats
	Queue         queue.Stats // generation jobs waiting for a worker
}
