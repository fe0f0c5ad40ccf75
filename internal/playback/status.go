package playback

import (
	"sync"
	"time"

	"github.com/dgnsrekt/narrate/internal/generate"
)

// Status is a read-only snapshot of the controller.
type Status struct {
	ActiveIndex int // -1 before the first SetActive
	Total       int
	State       State
	IsPlaying   bool
	PlayPending bool // play requested while loading
	Position    time.Duration
	Duration    time.Duration
	Speed       float64
	Voices      generate.Voices
	Err         error
}

// Progress returns the position as a fraction of the duration.
func (s Status) Progress() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.Position) / float64(s.Duration)
}

func (c *Controller) snapshot() Status {
	pos := c.position
	if c.bound != nil && c.sm.Current() == Playing {
		pos = c.bound.Position()
	}
	return Status{
		ActiveIndex: c.active,
		Total:       c.cache.Len(),
		State:       c.sm.Current(),
		IsPlaying:   c.sm.Current() == Playing,
		PlayPending: c.sm.Current() == Loading && c.intent,
		Position:    pos,
		Duration:    c.duration,
		Speed:       c.speed,
		Voices:      c.voices,
		Err:         c.err,
	}
}

func (c *Controller) publish() {
	c.hub.set(c.snapshot())
}

// hub fans the latest status out to subscribers.
type hub struct {
	mu     sync.Mutex
	latest Status
	subs   map[int]chan Status
	nextID int
	closed bool
}

func (h *hub) init() {
	h.subs = make(map[int]chan Status)
}

func (h *hub) get() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest
}

func (h *hub) set(s Status) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.latest = s
	for _, ch := range h.subs {
		offer(ch, s)
	}
}

// offer replaces whatever the subscriber has not read yet with s.
func offer(ch chan Status, s Status) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}

func (h *hub) subscribe() (<-chan Status, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Status, 1)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	ch <- h.latest

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}
