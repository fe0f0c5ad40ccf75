// Package ui provides the terminal reader for narrate: the chapter text with
// the active paragraph marked, a status bar and the playback keys.
package ui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/narrate/internal/session"
)

// NewProgram returns a new Tea program reading the session's chapter.
func NewProgram(cfg Config, s *session.Session) *tea.Program {
	log.Debug(
		"Starting narrate",
		"path",
		cfg.Path,
		"known_voices",
		len(cfg.KnownVoices),
	)

	opts := []tea.ProgramOption{tea.WithAltScreen()}
	if cfg.EnableMouse {
		opts = append(opts, tea.WithMouseCellMotion())
	}
	m := newModel(cfg, s.Controller, s.Chapter, s.Stats)
	return tea.NewProgram(m, opts...)
}

// Run runs the reader until the user quits. Chapter edits on disk are
// reloaded while it runs.
func Run(cfg Config, s *session.Session) error {
	p := NewProgram(cfg, s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.WatchChapter(ctx, func(err error) { p.Send(reloadMsg{err}) }); err != nil {
		log.Warn("Could not watch chapter", "err", err)
	}

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("unable to run tui program: %w", err)
	}
	return nil
}
