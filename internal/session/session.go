// Package session assembles a running narrator from a configuration: the
// generation client, the audio backend, the paragraph cache, the settings
// store and the playback controller.
package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"github.com/dgnsrekt/narrate/internal/audio"
	"github.com/dgnsrekt/narrate/internal/cache"
	"github.com/dgnsrekt/narrate/internal/chapter"
	"github.com/dgnsrekt/narrate/internal/config"
	"github.com/dgnsrekt/narrate/internal/generate"
	"github.com/dgnsrekt/narrate/internal/handle"
	"github.com/dgnsrekt/narrate/internal/playback"
	"github.com/dgnsrekt/narrate/internal/settings"
)

// Options configures Open.
type Options struct {
	Config config.Config

	// SettingsPath persists voices and speed. Empty keeps them in memory.
	SettingsPath string

	// Client and Factory replace the configured engine and audio backend.
	Client  generate.Client
	Factory handle.Factory

	Logger *log.Logger
}

// Session is an open chapter with everything needed to narrate it.
type Session struct {
	Controller *playback.Controller
	Cache      *cache.ParagraphCache
	Settings   *settings.Store
	Handles    *handle.Manager

	cfg    config.Config
	store  *cache.PayloadStore
	logger *log.Logger

	mu      sync.Mutex
	chapter chapter.Chapter
}

// Open wires up a session for ch. The controller starts idle.
func Open(ch chapter.Chapter, opts Options) (*Session, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	client := opts.Client
	if client == nil {
		var err error
		client, err = generate.New(generate.EngineType(cfg.TTS.Engine), cfg.GenerateOptions())
		if err != nil {
			return nil, fmt.Errorf("unable to create generation client: %w", err)
		}
	}

	factory := opts.Factory
	if factory == nil {
		var err error
		factory, err = newFactory(cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	var store *cache.PayloadStore
	if cfg.Cache.PayloadBytes > 0 {
		var err error
		store, err = cache.NewPayloadStore(cfg.Cache.PayloadBytes, cfg.Cache.CompressionLevel)
		if err != nil {
			return nil, fmt.Errorf("unable to create payload store: %w", err)
		}
	}

	initial, err := loadSettings(cfg, opts.SettingsPath)
	if err != nil {
		logger.Warn("Could not load settings, using configured defaults", "err", err)
	}
	var storeOpts []settings.Option
	if opts.SettingsPath != "" {
		storeOpts = append(storeOpts, settings.WithPath(opts.SettingsPath))
	}
	storeOpts = append(storeOpts, settings.WithLogger(logger))

	handles := handle.NewManager(factory, logger)
	pc := cache.New(client, handles, cache.Options{
		Workers: cfg.TTS.MaxConcurrent,
		Store:   store,
		Logger:  logger,
	})
	pc.Replace(ch.Paragraphs)

	s := &Session{
		Cache:    pc,
		Settings: settings.New(initial, storeOpts...),
		Handles:  handles,
		cfg:      cfg,
		store:    store,
		chapter:  ch,
		logger:   logger.WithPrefix("session"),
	}
	s.Controller = playback.New(pc, s.Settings, playback.Options{
		Budget: cfg.Playback.PrefetchChars,
		Logger: logger,
	})

	s.logger.Debug("session opened",
		"chapter", ch.Path,
		"paragraphs", len(ch.Paragraphs),
		"engine", cfg.TTS.Engine,
		"audio", cfg.Playback.Audio,
		"payload_store", humanize.IBytes(uint64(max(cfg.Cache.PayloadBytes, 0))),
	)
	return s, nil
}

func newFactory(cfg config.Config, logger *log.Logger) (handle.Factory, error) {
	switch cfg.Playback.Audio {
	case config.AudioVirtual:
		return audio.NewVirtual(cfg.Format(), logger)
	default:
		d, err := audio.NewDevice(cfg.Format(), audio.DefaultBufferSize, logger)
		if err != nil {
			return nil, fmt.Errorf("unable to open audio device: %w", err)
		}
		return d, nil
	}
}

// loadSettings returns the persisted settings when a settings file exists,
// and the configured voices and speed otherwise.
func loadSettings(cfg config.Config, path string) (settings.Settings, error) {
	if path == "" {
		return cfg.Settings(), nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return cfg.Settings(), nil
	}
	s, err := settings.Load(path)
	if err != nil {
		return cfg.Settings(), err
	}
	return s, nil
}

// Chapter returns the chapter being narrated.
func (s *Session) Chapter() chapter.Chapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chapter
}

// Config returns the configuration the session was opened with.
func (s *Session) Config() config.Config {
	return s.cfg
}

// Start makes index active and starts playback when autoplay is set or play
// is true.
func (s *Session) Start(index int, play bool) error {
	if err := s.Controller.SetActive(index); err != nil {
		return err
	}
	if play || s.cfg.Playback.Autoplay {
		return s.Controller.Play()
	}
	return nil
}

// Reload re-reads the chapter from disk and hands the new paragraphs to the
// controller.
func (s *Session) Reload() error {
	path := s.Chapter().Path
	if path == "" {
		return nil
	}
	ch, err := chapter.Load(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.chapter = ch
	s.mu.Unlock()
	s.logger.Info("chapter reloaded", "path", ch.Path, "paragraphs", len(ch.Paragraphs))
	return s.Controller.Load(ch.Paragraphs)
}

// WatchChapter reloads the chapter whenever its file changes, until ctx is
// done. onReload, when set, is called after each reload with its result.
func (s *Session) WatchChapter(ctx context.Context, onReload func(error)) error {
	path := s.Chapter().Path
	if path == "" {
		return nil
	}
	return config.Watch(ctx, path, func() {
		err := s.Reload()
		if err != nil {
			s.logger.Error("chapter reload failed", "path", path, "err", err)
		}
		if onReload != nil {
			onReload(err)
		}
	})
}

// Stats returns the cache statistics, payload store included.
func (s *Session) Stats() cache.Stats {
	return s.Cache.Stats()
}

// Close stops playback, releases every handle and drops the payload store.
func (s *Session) Close() error {
	err := s.Controller.Close()
	if s.store != nil {
		s.store.Close()
	}
	h := s.Handles.Stats()
	s.logger.Debug("session closed", "minted", h.Minted, "released", h.Released, "live", h.Live)
	return err
}
