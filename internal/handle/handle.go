// Package handle wraps synthesized audio payloads in playable, revocable
// handles and tracks their lifecycle.
//
// A Handle is minted from an opaque payload by a Manager and must be released
// exactly once. Release is idempotent: a second call is a no-op, so teardown
// paths that race with cache reclamation never fail.
package handle

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

var (
	// ErrReleased is returned by operations on a handle that has been released.
	ErrReleased = errors.New("handle released")

	// ErrEmptyPayload is returned when minting a handle from an empty payload.
	ErrEmptyPayload = errors.New("empty audio payload")
)

// EventKind identifies a media event.
type EventKind int

const (
	// EventCompleted is sent when playback reaches the end of the media.
	EventCompleted EventKind = iota
	// EventFailed is sent when the media reports a load or play error.
	EventFailed
)

// String returns the string representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is emitted by a Media to its registered observer.
type Event struct {
	Kind EventKind
	Err  error
}

// Media is the host's playable element for a single payload.
type Media interface {
	Play() error
	Pause() error
	Seek(pos time.Duration) error
	SetSpeed(speed float64) error
	Position() time.Duration
	Duration() time.Duration
	// Notify registers fn to receive media events. A nil fn detaches the
	// current observer. Events may be delivered from any goroutine.
	Notify(fn func(Event))
	Close() error
}

// Factory turns a payload into playable media.
type Factory interface {
	NewMedia(payload []byte) (Media, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(payload []byte) (Media, error)

// NewMedia calls f(payload).
func (f FactoryFunc) NewMedia(payload []byte) (Media, error) {
	return f(payload)
}

// Handle is a playable reference to one payload. The owner releases it; any
// borrower only plays it.
type Handle struct {
	id   uint64
	size int
	mgr  *Manager

	mu       sync.Mutex
	media    Media
	released bool
	once     sync.Once
}

// ID returns the handle's unique identifier within its manager.
func (h *Handle) ID() uint64 { return h.id }

// Size returns the payload size in bytes.
func (h *Handle) Size() int { return h.size }

// Released reports whether the handle has been released.
func (h *Handle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

// Play starts or resumes playback.
func (h *Handle) Play() error {
	return h.with(func(m Media) error { return m.Play() })
}

// Pause pauses playback and keeps the position.
func (h *Handle) Pause() error {
	return h.with(func(m Media) error { return m.Pause() })
}

// Seek moves the playback position.
func (h *Handle) Seek(pos time.Duration) error {
	return h.with(func(m Media) error { return m.Seek(pos) })
}

// SetSpeed changes the playback rate without interrupting playback.
func (h *Handle) SetSpeed(speed float64) error {
	return h.with(func(m Media) error { return m.SetSpeed(speed) })
}

// Notify registers the observer for completion and error events.
func (h *Handle) Notify(fn func(Event)) {
	_ = h.with(func(m Media) error {
		m.Notify(fn)
		return nil
	})
}

// Position returns the current playback position, or 0 once released.
func (h *Handle) Position() time.Duration {
	var pos time.Duration
	_ = h.with(func(m Media) error {
		pos = m.Position()
		return nil
	})
	return pos
}

// Duration returns the media duration, or 0 once released.
func (h *Handle) Duration() time.Duration {
	var d time.Duration
	_ = h.with(func(m Media) error {
		d = m.Duration()
		return nil
	})
	return d
}

// Release releases the handle through its manager.
func (h *Handle) Release() {
	h.mgr.Release(h)
}

func (h *Handle) with(fn func(Media) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return ErrReleased
	}
	return fn(h.media)
}

// Stats reports handle lifecycle counters.
type Stats struct {
	Minted   int64
	Released int64
	Live     int64
}

// Manager mints and releases handles.
type Manager struct {
	factory Factory
	logger  *log.Logger

	nextID   atomic.Uint64
	minted   atomic.Int64
	released atomic.Int64
}

// NewManager creates a manager that builds media with factory.
func NewManager(factory Factory, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		factory: factory,
		logger:  logger.WithPrefix("handle"),
	}
}

// Mint wraps payload in a new handle.
func (m *Manager) Mint(payload []byte) (*Handle, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	media, err := m.factory.NewMedia(payload)
	if err != nil {
		return nil, fmt.Errorf("create media: %w", err)
	}
	h := &Handle{
		id:    m.nextID.Add(1),
		size:  len(payload),
		mgr:   m,
		media: media,
	}
	m.minted.Add(1)
	m.logger.Debug("minted", "id", h.id, "bytes", h.size)
	return h, nil
}

// Release detaches and closes the handle's media. Releasing a nil or already
// released handle is a no-op.
func (m *Manager) Release(h *Handle) {
	if h == nil {
		return
	}
	first := false
	h.once.Do(func() {
		first = true
		h.mu.Lock()
		h.released = true
		media := h.media
		h.media = nil
		h.mu.Unlock()

		media.Notify(nil)
		if err := media.Close(); err != nil {
			m.logger.Warn("close media", "id", h.id, "err", err)
		}
		m.released.Add(1)
		m.logger.Debug("released", "id", h.id)
	})
	if !first {
		m.logger.Debug("release of released handle ignored", "id", h.id)
	}
}

// Live returns the number of handles minted and not yet released.
func (m *Manager) Live() int64 {
	return m.minted.Load() - m.released.Load()
}

// Stats returns lifecycle counters.
func (m *Manager) Stats() Stats {
	minted, released := m.minted.Load(), m.released.Load()
	return Stats{Minted: minted, Released: released, Live: minted - released}
}
