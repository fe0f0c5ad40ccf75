package ui

import (
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/narrate/internal/cache"
	"github.com/dgnsrekt/narrate/internal/chapter"
	"github.com/dgnsrekt/narrate/internal/playback"
	"github.com/dgnsrekt/narrate/internal/settings"
)

// Player is the playback controller as driven by the UI.
type Player interface {
	SetActive(index int) error
	Next() error
	Previous() error
	Toggle() error
	Seek(pos time.Duration) error
	CycleSpeed() error
	CycleSpeedDown() error
	SetVoices(narrator, dialogue string) error
	Retry() error
	Status() playback.Status
	Subscribe() (<-chan playback.Status, func())
}

type model struct {
	cfg     Config
	player  Player
	chapter func() chapter.Chapter
	stats   func() cache.Stats

	status      playback.Status
	updates     <-chan playback.Status
	unsubscribe func()

	width, height int
	viewport      viewport.Model
	help          help.Model
	spinner       spinner.Model
	prompt        textinput.Model
	prompting     bool

	// first rendered line of each paragraph
	offsets []int
	lastTop int

	statusMessage      string
	statusMessageTimer *time.Timer
	err                error
}

func newModel(cfg Config, player Player, ch func() chapter.Chapter, stats func() cache.Stats) model {
	updates, unsubscribe := player.Subscribe()

	ti := textinput.New()
	ti.Prompt = "voices: "
	ti.Placeholder = "narrator/dialogue"
	ti.PromptStyle = promptStyle
	ti.CharLimit = 128

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = promptStyle

	return model{
		cfg:         cfg,
		player:      player,
		chapter:     ch,
		stats:       stats,
		status:      player.Status(),
		updates:     updates,
		unsubscribe: unsubscribe,
		viewport:    viewport.New(0, 0),
		help:        help.New(),
		spinner:     sp,
		prompt:      ti,
		lastTop:     -1,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForStatus(m.updates), m.spinner.Tick)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.prompting {
			return m.updatePrompt(msg)
		}
		return m.handleKey(msg)

	// Window size is received when starting up and on every resize
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.prompt.Width = max(msg.Width-len(m.prompt.Prompt)-2, 10)
		m.setSize()
		m.render()

	case statusMsg:
		prev := m.status
		m.status = playback.Status(msg)
		if prev.ActiveIndex != m.status.ActiveIndex || prev.Total != m.status.Total || prev.State != m.status.State {
			m.render()
		}
		if m.status.Err != nil && m.status.Err != prev.Err {
			log.Debug("playback error", "err", m.status.Err)
		}
		cmds = append(cmds, waitForStatus(m.updates))

	case statusClosedMsg:
		return m, tea.Quit

	case reloadMsg:
		if msg.err != nil {
			m.err = msg.err
			break
		}
		m.render()
		cmds = append(cmds, m.showStatusMessage("Chapter reloaded"))

	case voicesMsg:
		narrator, dialogue := msg.narrator, msg.dialogue
		cmds = append(cmds,
			run(func() error { return m.player.SetVoices(narrator, dialogue) }),
			m.showStatusMessage("Voices: "+narrator+"/"+dialogue),
		)

	case errMsg:
		m.err = msg.err

	case statusMessageTimeoutMsg:
		m.statusMessage = ""

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// a new action clears the last error
	if !key.Matches(msg, keys.Help) {
		m.err = nil
	}

	switch {
	case key.Matches(msg, keys.Quit):
		m.unsubscribe()
		return m, tea.Quit
	case key.Matches(msg, keys.Toggle):
		return m, run(m.player.Toggle)
	case key.Matches(msg, keys.Next):
		return m, run(m.player.Next)
	case key.Matches(msg, keys.Previous):
		return m, run(m.player.Previous)
	case key.Matches(msg, keys.Top):
		return m, run(func() error { return m.player.SetActive(0) })
	case key.Matches(msg, keys.Forward):
		pos := m.status.Position + m.seekStep()
		return m, run(func() error { return m.player.Seek(pos) })
	case key.Matches(msg, keys.Back):
		pos := max(m.status.Position-m.seekStep(), 0)
		return m, run(func() error { return m.player.Seek(pos) })
	case key.Matches(msg, keys.Speed):
		return m, run(m.player.CycleSpeed)
	case key.Matches(msg, keys.Slower):
		return m, run(m.player.CycleSpeedDown)
	case key.Matches(msg, keys.Retry):
		return m, run(m.player.Retry)
	case key.Matches(msg, keys.Copy):
		text, ok := m.activeText()
		if !ok {
			return m, nil
		}
		// Copy using native system clipboard
		if err := clipboard.WriteAll(text); err != nil {
			log.Debug("clipboard", "err", err)
		}
		return m, m.showStatusMessage("Copied paragraph")
	case key.Matches(msg, keys.Voices):
		m.prompting = true
		m.prompt.SetValue(m.status.Voices.Narrator + "/" + m.status.Voices.Dialogue)
		m.prompt.CursorEnd()
		m.setSize()
		return m, m.prompt.Focus()
	case key.Matches(msg, keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		m.setSize()
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m model) updatePrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "ctrl+c":
		m.closePrompt()
		return m, nil
	case "enter":
		value := m.prompt.Value()
		m.closePrompt()
		return m, m.resolveVoices(value)
	}

	var cmd tea.Cmd
	m.prompt, cmd = m.prompt.Update(msg)
	return m, cmd
}

func (m *model) closePrompt() {
	m.prompting = false
	m.prompt.Blur()
	m.prompt.Reset()
	m.setSize()
}

// resolveVoices parses "narrator/dialogue" and matches each name against
// the known voices. A missing dialogue voice follows the narrator.
func (m model) resolveVoices(value string) tea.Cmd {
	known := m.cfg.KnownVoices
	return func() tea.Msg {
		n, d, _ := strings.Cut(value, "/")
		narrator, err := settings.ResolveVoice(n, known)
		if err != nil {
			return errMsg{err}
		}
		dialogue := narrator
		if strings.TrimSpace(d) != "" {
			if dialogue, err = settings.ResolveVoice(d, known); err != nil {
				return errMsg{err}
			}
		}
		return voicesMsg{narrator: narrator, dialogue: dialogue}
	}
}

func (m *model) showStatusMessage(s string) tea.Cmd {
	m.statusMessage = s
	if m.statusMessageTimer != nil {
		m.statusMessageTimer.Stop()
	}
	m.statusMessageTimer = time.NewTimer(statusMessageTimeout)
	return waitForStatusMessageTimeout(m.statusMessageTimer)
}

func (m model) seekStep() time.Duration {
	if m.cfg.SeekStep <= 0 {
		return 5 * time.Second
	}
	return time.Duration(m.cfg.SeekStep) * time.Second
}

func (m model) activeText() (string, bool) {
	paragraphs := m.chapter().Paragraphs
	i := m.status.ActiveIndex
	if i < 0 || i >= len(paragraphs) {
		return "", false
	}
	return paragraphs[i].Text, true
}
