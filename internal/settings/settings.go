// Package settings holds the reader's voice and speed settings.
//
// Changing a voice changes what every paragraph sounds like, so observers
// treat a voice event as a reason to drop all generated audio. A speed change
// only adjusts the audio that is playing.
package settings

import (
	"errors"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/narrate/internal/generate"
)

// Default voice identifiers.
const (
	DefaultNarrator = "narrator"
	DefaultDialogue = "dialogue"
)

// ErrEmptyVoice is returned when a voice identifier is blank.
var ErrEmptyVoice = errors.New("voice must not be empty")

// Settings is a snapshot of the current settings.
type Settings struct {
	Narrator string  `yaml:"narrator"`
	Dialogue string  `yaml:"dialogue"`
	Speed    float64 `yaml:"speed"`
}

// Defaults returns the settings a new session starts with.
func Defaults() Settings {
	return Settings{
		Narrator: DefaultNarrator,
		Dialogue: DefaultDialogue,
		Speed:    DefaultSpeed,
	}
}

// Voices returns the voice pair used for generation.
func (s Settings) Voices() generate.Voices {
	return generate.Voices{Narrator: s.Narrator, Dialogue: s.Dialogue}
}

func (s Settings) normalize() Settings {
	s.Narrator = strings.TrimSpace(s.Narrator)
	s.Dialogue = strings.TrimSpace(s.Dialogue)
	if s.Narrator == "" {
		s.Narrator = DefaultNarrator
	}
	if s.Dialogue == "" {
		s.Dialogue = s.Narrator
	}
	if s.Speed == 0 {
		s.Speed = DefaultSpeed
	}
	s.Speed = SnapSpeed(s.Speed)
	return s
}

// ChangeKind says which part of the settings changed.
type ChangeKind int

const (
	VoicesChanged ChangeKind = iota
	SpeedChanged
)

func (k ChangeKind) String() string {
	switch k {
	case VoicesChanged:
		return "voices"
	case SpeedChanged:
		return "speed"
	default:
		return "unknown"
	}
}

// Change is delivered to observers after a mutation.
type Change struct {
	Kind     ChangeKind
	Settings Settings
}

// Store is the single owner of the settings. Mutations go through its
// setters, which notify observers and persist the result when a path is set.
type Store struct {
	mu        sync.Mutex
	cur       Settings
	observers map[int]func(Change)
	nextID    int
	path      string
	logger    *log.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithPath persists the settings to path after every change.
func WithPath(path string) Option {
	return func(s *Store) { s.path = path }
}

// WithLogger sets the store logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a store. Blank voices fall back to the defaults and the speed
// is snapped to a step.
func New(initial Settings, opts ...Option) *Store {
	s := &Store{
		cur:       initial.normalize(),
		observers: make(map[int]func(Change)),
		logger:    log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithPrefix("settings")
	return s
}

// Get returns the current settings.
func (s *Store) Get() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// Voices returns the current voice pair.
func (s *Store) Voices() generate.Voices {
	return s.Get().Voices()
}

// Speed returns the current speed.
func (s *Store) Speed() float64 {
	return s.Get().Speed
}

// SetVoices changes the voices and reports whether anything changed. A blank
// dialogue voice uses the narrator voice.
func (s *Store) SetVoices(narrator, dialogue string) (bool, error) {
	narrator = strings.TrimSpace(narrator)
	dialogue = strings.TrimSpace(dialogue)
	if narrator == "" {
		return false, ErrEmptyVoice
	}
	if dialogue == "" {
		dialogue = narrator
	}

	s.mu.Lock()
	if s.cur.Narrator == narrator && s.cur.Dialogue == dialogue {
		s.mu.Unlock()
		return false, nil
	}
	s.cur.Narrator = narrator
	s.cur.Dialogue = dialogue
	snap := s.cur
	s.mu.Unlock()

	s.logger.Debug("voices changed", "narrator", narrator, "dialogue", dialogue)
	s.changed(Change{Kind: VoicesChanged, Settings: snap})
	return true, nil
}

// SetSpeed snaps v to the nearest step, stores it and returns it.
func (s *Store) SetSpeed(v float64) float64 {
	v = SnapSpeed(v)

	s.mu.Lock()
	if s.cur.Speed == v {
		s.mu.Unlock()
		return v
	}
	s.cur.Speed = v
	snap := s.cur
	s.mu.Unlock()

	s.logger.Debug("speed changed", "speed", v)
	s.changed(Change{Kind: SpeedChanged, Settings: snap})
	return v
}

// CycleSpeed moves to the next speed step, wrapping from the fastest to the
// slowest, and returns the new speed.
func (s *Store) CycleSpeed() float64 {
	return s.SetSpeed(NextSpeed(s.Speed()))
}

// CycleSpeedDown moves to the previous speed step, wrapping from the slowest
// to the fastest, and returns the new speed.
func (s *Store) CycleSpeedDown() float64 {
	return s.SetSpeed(PreviousSpeed(s.Speed()))
}

// Subscribe registers fn for changes and returns a function that removes it.
// fn runs on the goroutine that made the change and must not block.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

func (s *Store) changed(c Change) {
	s.mu.Lock()
	fns := make([]func(Change), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	path := s.path
	s.mu.Unlock()

	if path != "" {
		if err := Save(path, c.Settings); err != nil {
			s.logger.Warn("unable to save settings", "path", path, "err", err)
		}
	}
	for _, fn := range fns {
		fn(c)
	}
}
