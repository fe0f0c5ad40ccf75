package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"

	"github.com/dgnsrekt/narrate/internal/handle"
)

const (
	// DefaultBufferSize is the device buffer in bytes.
	DefaultBufferSize = 4096

	watchInterval = 20 * time.Millisecond
)

// Device plays media through the system audio output. Only one Device may
// exist per process; oto allows a single context.
type Device struct {
	context *oto.Context
	format  Format
	logger  *log.Logger
}

// NewDevice opens the audio output for payloads in format and waits for it
// to become ready.
func NewDevice(format Format, bufferSize int, logger *log.Logger) (*Device, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("invalid audio format: %w", err)
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = log.Default()
	}

	op := &oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   format.Duration(bufferSize),
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-ready

	logger = logger.WithPrefix("audio")
	logger.Debug("audio device ready", "sample_rate", format.SampleRate, "channels", format.Channels)
	return &Device{context: ctx, format: format, logger: logger}, nil
}

// NewMedia implements handle.Factory. The payload is copied.
func (d *Device) NewMedia(payload []byte) (handle.Media, error) {
	if d.format.Frames(len(payload)) == 0 {
		return nil, fmt.Errorf("payload of %d bytes holds no audio frames", len(payload))
	}
	data := append([]byte(nil), payload...)
	r := newPCMReader(data, d.format)
	return &deviceMedia{
		player: d.context.NewPlayer(r),
		reader: r,
		logger: d.logger,
	}, nil
}

type deviceMedia struct {
	mu       sync.Mutex
	player   *oto.Player
	reader   *pcmReader
	state    PlayerState
	gen      uint64
	observer func(handle.Event)
	logger   *log.Logger
}

func (m *deviceMedia) Play() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateClosed:
		return ErrClosed
	case StatePlaying:
		return nil
	}
	if m.reader.exhausted() {
		m.reader.seek(0)
	}
	m.player.Play()
	m.state = StatePlaying
	m.gen++
	go m.watch(m.gen)
	return nil
}

func (m *deviceMedia) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateClosed:
		return ErrClosed
	case StatePlaying:
		m.player.Pause()
		m.state = StatePaused
		m.gen++
	}
	return nil
}

func (m *deviceMedia) Seek(pos time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateClosed {
		return ErrClosed
	}
	m.reader.seek(clampPosition(pos, m.reader.duration()))
	return nil
}

func (m *deviceMedia) SetSpeed(speed float64) error {
	if speed <= 0 {
		return ErrInvalidSpeed
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateClosed {
		return ErrClosed
	}
	m.reader.setSpeed(speed)
	return nil
}

func (m *deviceMedia) Position() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateClosed {
		return 0
	}
	return m.reader.position(m.player.BufferedSize())
}

func (m *deviceMedia) Duration() time.Duration {
	return m.reader.duration()
}

func (m *deviceMedia) Notify(fn func(handle.Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = fn
}

func (m *deviceMedia) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateClosed {
		return nil
	}
	m.gen++
	m.player.Pause()
	m.player.Close()
	m.reader.release()
	m.state = StateClosed
	m.observer = nil
	return nil
}

// watch polls the player until the payload has been fully played or the
// player reports an error. A newer generation (pause, close, replay) ends it.
func (m *deviceMedia) watch(gen uint64) {
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for range ticker.C {
		m.mu.Lock()
		if gen != m.gen || m.state != StatePlaying {
			m.mu.Unlock()
			return
		}

		var ev *handle.Event
		if err := m.player.Err(); err != nil {
			ev = &handle.Event{Kind: handle.EventFailed, Err: err}
		} else if m.reader.exhausted() && !m.player.IsPlaying() {
			ev = &handle.Event{Kind: handle.EventCompleted}
		}
		if ev == nil {
			m.mu.Unlock()
			continue
		}

		m.state = StateStopped
		m.gen++
		fn := m.observer
		m.mu.Unlock()

		if ev.Err != nil {
			m.logger.Warn("playback error", "err", ev.Err)
		}
		if fn != nil {
			fn(*ev)
		}
		return
	}
}

var (
	_ handle.Factory = (*Device)(nil)
	_ handle.Media   = (*deviceMedia)(nil)
)
