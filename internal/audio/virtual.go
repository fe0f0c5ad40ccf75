package audio

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/narrate/internal/handle"
)

// Virtual is a handle.Factory whose media keep time without producing sound.
// Completion fires after the payload's duration divided by the speed.
type Virtual struct {
	format Format
	logger *log.Logger
}

// NewVirtual creates a virtual backend for payloads in format.
func NewVirtual(format Format, logger *log.Logger) (*Virtual, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Virtual{format: format, logger: logger.WithPrefix("audio")}, nil
}

// NewMedia implements handle.Factory.
func (v *Virtual) NewMedia(payload []byte) (handle.Media, error) {
	return NewVirtualMedia(v.format.Duration(len(payload))), nil
}

// VirtualMedia simulates playback of a clip of a fixed duration.
type VirtualMedia struct {
	mu       sync.Mutex
	state    PlayerState
	duration time.Duration
	offset   time.Duration // position when anchor was taken
	anchor   time.Time
	speed    float64
	timer    *time.Timer
	gen      uint64
	observer func(handle.Event)
}

// NewVirtualMedia creates media that plays for d at speed 1.
func NewVirtualMedia(d time.Duration) *VirtualMedia {
	return &VirtualMedia{duration: d, speed: 1}
}

// Play starts or resumes playback. Playing a finished clip starts over.
func (m *VirtualMedia) Play() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateClosed:
		return ErrClosed
	case StatePlaying:
		return nil
	}
	if m.offset >= m.duration {
		m.offset = 0
	}
	m.anchor = time.Now()
	m.state = StatePlaying
	m.scheduleLocked()
	return nil
}

// Pause stops playback and keeps the position.
func (m *VirtualMedia) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateClosed:
		return ErrClosed
	case StatePlaying:
		m.offset = m.positionLocked()
		m.stopTimerLocked()
		m.state = StatePaused
	}
	return nil
}

// Seek moves to pos, clamped to the clip.
func (m *VirtualMedia) Seek(pos time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateClosed {
		return ErrClosed
	}
	m.offset = clampPosition(pos, m.duration)
	if m.state == StatePlaying {
		m.anchor = time.Now()
		m.scheduleLocked()
	}
	return nil
}

// SetSpeed changes the rate without interrupting playback.
func (m *VirtualMedia) SetSpeed(speed float64) error {
	if speed <= 0 {
		return ErrInvalidSpeed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateClosed {
		return ErrClosed
	}
	if m.state == StatePlaying {
		m.offset = m.positionLocked()
		m.anchor = time.Now()
		m.speed = speed
		m.scheduleLocked()
		return nil
	}
	m.speed = speed
	return nil
}

// Position returns the current position.
func (m *VirtualMedia) Position() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.positionLocked()
}

// Duration returns the clip length at speed 1.
func (m *VirtualMedia) Duration() time.Duration {
	return m.duration
}

// State returns the playback state.
func (m *VirtualMedia) State() PlayerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Notify sets the completion observer.
func (m *VirtualMedia) Notify(fn func(handle.Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = fn
}

// Close stops the clock. It is safe to call more than once.
func (m *VirtualMedia) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopTimerLocked()
	m.state = StateClosed
	m.observer = nil
	return nil
}

func (m *VirtualMedia) positionLocked() time.Duration {
	if m.state != StatePlaying {
		return m.offset
	}
	elapsed := time.Duration(float64(time.Since(m.anchor)) * m.speed)
	return clampPosition(m.offset+elapsed, m.duration)
}

func (m *VirtualMedia) scheduleLocked() {
	m.stopTimerLocked()
	gen := m.gen
	remaining := time.Duration(float64(m.duration-m.offset) / m.speed)
	m.timer = time.AfterFunc(remaining, func() { m.finish(gen) })
}

// stopTimerLocked cancels the pending completion; a timer that already fired
// sees a newer generation and does nothing.
func (m *VirtualMedia) stopTimerLocked() {
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *VirtualMedia) finish(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != StatePlaying {
		m.mu.Unlock()
		return
	}
	m.offset = m.duration
	m.state = StateStopped
	m.timer = nil
	fn := m.observer
	m.mu.Unlock()

	if fn != nil {
		fn(handle.Event{Kind: handle.EventCompleted})
	}
}

var (
	_ handle.Factory = (*Virtual)(nil)
	_ handle.Media   = (*VirtualMedia)(nil)
)
