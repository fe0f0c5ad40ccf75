package ui

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dgnsrekt/narrate/internal/cache"
	"github.com/dgnsrekt/narrate/internal/chapter"
	"github.com/dgnsrekt/narrate/internal/generate"
	"github.com/dgnsrekt/narrate/internal/playback"
)

type fakePlayer struct {
	mu      sync.Mutex
	calls   []string
	seek    time.Duration
	voices  [2]string
	status  playback.Status
	updates chan playback.Status
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{
		status: playback.Status{
			ActiveIndex: -1,
			Speed:       1,
			Voices:      generate.Voices{Narrator: "alto", Dialogue: "tenor"},
		},
		updates: make(chan playback.Status, 1),
	}
}

func (p *fakePlayer) record(call string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
	return nil
}

func (p *fakePlayer) SetActive(int) error   { return p.record("set_active") }
func (p *fakePlayer) Next() error           { return p.record("next") }
func (p *fakePlayer) Previous() error       { return p.record("previous") }
func (p *fakePlayer) Toggle() error         { return p.record("toggle") }
func (p *fakePlayer) CycleSpeed() error     { return p.record("speed") }
func (p *fakePlayer) CycleSpeedDown() error { return p.record("slower") }
func (p *fakePlayer) Retry() error          { return p.record("retry") }

func (p *fakePlayer) Seek(pos time.Duration) error {
	p.seek = pos
	return p.record("seek")
}

func (p *fakePlayer) SetVoices(narrator, dialogue string) error {
	p.voices = [2]string{narrator, dialogue}
	return p.record("voices")
}

func (p *fakePlayer) Status() playback.Status { return p.status }

func (p *fakePlayer) Subscribe() (<-chan playback.Status, func()) {
	return p.updates, func() {}
}

func (p *fakePlayer) lastCall() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) == 0 {
		return ""
	}
	return p.calls[len(p.calls)-1]
}

var testChapter = chapter.Chapter{
	Title: "The Lighthouse",
	Paragraphs: chapter.FromTexts(
		"The Lighthouse",
		"The keeper climbed the stairs.",
		"Nobody answered her.",
	),
}

func newTestModel(p *fakePlayer, cfg Config) model {
	m := newModel(cfg, p, func() chapter.Chapter { return testChapter }, func() cache.Stats { return cache.Stats{} })
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	return next.(model)
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestKeysDrivePlayer(t *testing.T) {
	tests := []struct {
		key  tea.KeyMsg
		want string
	}{
		{tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}, "toggle"},
		{runes("n"), "next"},
		{tea.KeyMsg{Type: tea.KeyRight}, "next"},
		{runes("p"), "previous"},
		{tea.KeyMsg{Type: tea.KeyLeft}, "previous"},
		{runes("g"), "set_active"},
		{runes("s"), "speed"},
		{runes("S"), "slower"},
		{runes("r"), "retry"},
		{runes("."), "seek"},
	}

	for _, tc := range tests {
		t.Run(tc.key.String(), func(t *testing.T) {
			p := newFakePlayer()
			m := newTestModel(p, Config{})

			_, cmd := m.Update(tc.key)
			if cmd == nil {
				t.Fatalf("no command for %q", tc.key.String())
			}
			if msg := cmd(); msg != nil {
				t.Fatalf("unexpected message %T", msg)
			}
			if got := p.lastCall(); got != tc.want {
				t.Errorf("key %q called %q, want %q", tc.key.String(), got, tc.want)
			}
		})
	}
}

func TestSeekRelativeToPosition(t *testing.T) {
	p := newFakePlayer()
	m := newTestModel(p, Config{SeekStep: 5})

	next, _ := m.Update(statusMsg(playback.Status{ActiveIndex: 1, Total: 3, State: playback.Playing, Position: 3 * time.Second, Duration: 20 * time.Second}))
	m = next.(model)

	_, cmd := m.Update(runes("."))
	cmd()
	if p.seek != 8*time.Second {
		t.Errorf("seek forward to %v, want 8s", p.seek)
	}

	_, cmd = m.Update(runes(","))
	cmd()
	if p.seek != 0 {
		t.Errorf("seek back to %v, want 0", p.seek)
	}
}

func TestVoicePrompt(t *testing.T) {
	p := newFakePlayer()
	m := newTestModel(p, Config{KnownVoices: []string{"alto", "baritone", "tenor"}})

	next, _ := m.Update(runes("v"))
	m = next.(model)
	if !m.prompting {
		t.Fatal("v should open the voice prompt")
	}
	if got := m.prompt.Value(); got != "alto/tenor" {
		t.Errorf("prompt prefilled with %q", got)
	}

	// keys go to the prompt while it is open
	next, _ = m.Update(runes("n"))
	m = next.(model)
	if p.lastCall() != "" {
		t.Fatalf("prompt leaked key to player: %q", p.lastCall())
	}

	m.prompt.SetValue("bari")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(model)
	if m.prompting {
		t.Error("enter should close the prompt")
	}

	msg := cmd()
	vm, ok := msg.(voicesMsg)
	if !ok {
		t.Fatalf("got %T, want voicesMsg", msg)
	}
	if vm.narrator != "baritone" || vm.dialogue != "baritone" {
		t.Errorf("resolved %+v", vm)
	}

	_, cmd = m.Update(vm)
	batch, ok := cmd().(tea.BatchMsg)
	if !ok || len(batch) == 0 {
		t.Fatal("expected a batch")
	}
	batch[0]()
	if p.voices != [2]string{"baritone", "baritone"} {
		t.Errorf("SetVoices(%v)", p.voices)
	}
}

func TestVoicePromptUnknownVoice(t *testing.T) {
	p := newFakePlayer()
	m := newTestModel(p, Config{KnownVoices: []string{"alto", "tenor"}})

	next, _ := m.Update(runes("v"))
	m = next.(model)
	m.prompt.SetValue("alto/zzz")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})

	msg, ok := cmd().(errMsg)
	if !ok {
		t.Fatal("expected an error for an unknown dialogue voice")
	}
	next, _ = m.Update(msg)
	if !strings.Contains(next.(model).View(), "zzz") {
		t.Error("error should be shown")
	}
}

func TestVoicePromptEscape(t *testing.T) {
	p := newFakePlayer()
	m := newTestModel(p, Config{})

	next, _ := m.Update(runes("v"))
	next, cmd := next.(model).Update(tea.KeyMsg{Type: tea.KeyEsc})
	if next.(model).prompting || cmd != nil {
		t.Error("esc should close the prompt without a command")
	}
}

func TestView(t *testing.T) {
	p := newFakePlayer()
	m := newTestModel(p, Config{Path: "lighthouse.md"})

	next, cmd := m.Update(statusMsg(playback.Status{
		ActiveIndex: 1,
		Total:       3,
		State:       playback.Paused,
		Duration:    75 * time.Second,
		Speed:       1.25,
		Voices:      generate.Voices{Narrator: "alto", Dialogue: "tenor"},
	}))
	if cmd == nil {
		t.Error("status updates should keep listening")
	}
	view := next.(model).View()

	for _, want := range []string{"The Lighthouse", "lighthouse.md", "The keeper climbed the stairs.", "¶ 2/3", "0:00/1:15", "1.25x", "alto/tenor"} {
		if !strings.Contains(view, want) {
			t.Errorf("view is missing %q:\n%s", want, view)
		}
	}
}

func TestErrorClearedByNextAction(t *testing.T) {
	p := newFakePlayer()
	m := newTestModel(p, Config{})

	next, _ := m.Update(errMsg{errors.New("generate paragraph 1: boom")})
	m = next.(model)
	if !strings.Contains(m.View(), "boom") {
		t.Fatal("error should be shown")
	}
	next, _ = m.Update(runes("n"))
	if strings.Contains(next.(model).View(), "boom") {
		t.Error("error should clear on the next action")
	}
}

func TestStatusClosedQuits(t *testing.T) {
	m := newTestModel(newFakePlayer(), Config{})

	_, cmd := m.Update(statusClosedMsg{})
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("closing the status stream should quit")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := map[time.Duration]string{
		-time.Second:                 "0:00",
		0:                            "0:00",
		1500 * time.Millisecond:      "0:02",
		65 * time.Second:             "1:05",
		61*time.Minute + time.Second: "61:01",
	}
	for d, want := range tests {
		if got := formatDuration(d); got != want {
			t.Errorf("formatDuration(%v) = %q, want %q", d, got, want)
		}
	}
}

func TestStatsInStatusBar(t *testing.T) {
	p := newFakePlayer()
	stats := cache.Stats{Ready: 2, Loading: 1}
	stats.Queue.CurrentSize = 3
	stats.Store.Size = 2048

	m := newModel(Config{ShowStats: true}, p, func() chapter.Chapter { return testChapter }, func() cache.Stats { return stats })
	next, _ := m.Update(tea.WindowSizeMsg{Width: 160, Height: 24})
	m = next.(model)

	bar := m.statusBarView()
	for _, want := range []string{"2 ready 1 loading 3 queued", "2.0 KiB"} {
		if !strings.Contains(bar, want) {
			t.Errorf("status bar is missing %q: %s", want, bar)
		}
	}
}
