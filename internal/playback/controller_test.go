package playback

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/narrate/internal/cache"
	"github.com/dgnsrekt/narrate/internal/chapter"
	"github.com/dgnsrekt/narrate/internal/generate"
	"github.com/dgnsrekt/narrate/internal/handle"
	"github.com/dgnsrekt/narrate/internal/settings"
)

// gateGen answers immediately unless a text is held, in which case requests
// for it wait until released or canceled.
type gateGen struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
	fail  map[string]error
	calls []generate.Request
}

func newGateGen() *gateGen {
	return &gateGen{gates: make(map[string]chan struct{}), fail: make(map[string]error)}
}

func (g *gateGen) hold(text string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gates[text] = make(chan struct{})
}

func (g *gateGen) release(text string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if gate, ok := g.gates[text]; ok {
		close(gate)
		delete(g.gates, text)
	}
}

func (g *gateGen) setFail(text string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.fail, text)
		return
	}
	g.fail[text] = err
}

func (g *gateGen) count(text string, v generate.Voices) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, r := range g.calls {
		if r.Text == text && r.Voices == v {
			n++
		}
	}
	return n
}

func (g *gateGen) Generate(ctx context.Context, req generate.Request) ([]byte, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	gate := g.gates[req.Text]
	err := g.fail[req.Text]
	g.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, generate.NewError(generate.CodeCanceled, "request canceled", ctx.Err())
		}
	}
	if err != nil {
		return nil, err
	}
	return []byte("pcm:" + req.Text + ":" + req.Voices.String()), nil
}

// fakeMedia is a one-second clip whose completion the test triggers.
type fakeMedia struct {
	mu       sync.Mutex
	playing  bool
	plays    int
	pos      time.Duration
	speed    float64
	closed   bool
	observer func(handle.Event)
}

func (m *fakeMedia) Play() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playing = true
	m.plays++
	return nil
}

func (m *fakeMedia) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playing = false
	return nil
}

func (m *fakeMedia) Seek(pos time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pos = pos
	return nil
}

func (m *fakeMedia) SetSpeed(v float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.speed = v
	return nil
}

func (m *fakeMedia) Position() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos
}

func (m *fakeMedia) Duration() time.Duration { return time.Second }

func (m *fakeMedia) Notify(fn func(handle.Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = fn
}

func (m *fakeMedia) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.playing = false
	return nil
}

func (m *fakeMedia) emit(ev handle.Event) {
	m.mu.Lock()
	fn := m.observer
	m.playing = false
	m.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (m *fakeMedia) complete() { m.emit(handle.Event{Kind: handle.EventCompleted}) }

func (m *fakeMedia) snapshot() (playing bool, plays int, speed float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing, m.plays, m.speed
}

var startVoices = settings.Settings{Narrator: "alloy", Dialogue: "nova", Speed: 1}

type harness struct {
	t     *testing.T
	gen   *gateGen
	mgr   *handle.Manager
	cache *cache.ParagraphCache
	store *settings.Store
	ctl   *Controller

	mu    sync.Mutex
	media map[string][]*fakeMedia
}

func newHarness(t *testing.T, texts ...string) *harness {
	t.Helper()
	h := &harness{t: t, gen: newGateGen(), media: make(map[string][]*fakeMedia)}
	h.mgr = handle.NewManager(handle.FactoryFunc(func(payload []byte) (handle.Media, error) {
		text := strings.Split(string(payload), ":")[1]
		m := &fakeMedia{speed: 1}
		h.mu.Lock()
		h.media[text] = append(h.media[text], m)
		h.mu.Unlock()
		return m, nil
	}), nil)
	h.cache = cache.New(h.gen, h.mgr, cache.Options{Workers: 2})
	h.cache.Replace(chapter.FromTexts(texts...))
	h.store = settings.New(startVoices)
	h.ctl = New(h.cache, h.store, Options{Tick: 10 * time.Millisecond})
	t.Cleanup(func() { _ = h.ctl.Close() })
	return h
}

// mediaFor returns the most recently minted media for text.
func (h *harness) mediaFor(text string) *fakeMedia {
	h.mu.Lock()
	defer h.mu.Unlock()
	ms := h.media[text]
	if len(ms) == 0 {
		return nil
	}
	return ms[len(ms)-1]
}

func (h *harness) waitStatus(what string, cond func(Status) bool) Status {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s := h.ctl.Status()
		if cond(s) {
			return s
		}
		if time.Now().After(deadline) {
			h.t.Fatalf("timed out waiting for %s; last status %+v", what, s)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (h *harness) waitPlaying(index int) Status {
	h.t.Helper()
	return h.waitStatus("playing", func(s Status) bool {
		return s.ActiveIndex == index && s.State == Playing && s.IsPlaying
	})
}

func (h *harness) waitPaused(index int) Status {
	h.t.Helper()
	return h.waitStatus("paused", func(s Status) bool {
		return s.ActiveIndex == index && s.State == Paused
	})
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func TestAutoAdvanceKeepsPlaying(t *testing.T) {
	h := newHarness(t, "P0", "P1", "P2")
	h.gen.hold("P1")

	must(t, h.ctl.SetActive(0))
	must(t, h.ctl.Play())
	h.waitPlaying(0)

	h.mediaFor("P0").complete()
	s := h.waitStatus("advance", func(s Status) bool { return s.ActiveIndex == 1 })
	if s.State != Loading || !s.PlayPending {
		t.Fatalf("after completion: %+v, want loading with play pending", s)
	}

	h.gen.release("P1")
	h.waitPlaying(1)
	if playing, plays, _ := h.mediaFor("P1").snapshot(); !playing || plays != 1 {
		t.Errorf("P1 media playing=%v plays=%d", playing, plays)
	}
}

func TestAutoAdvanceWhilePausedStaysPaused(t *testing.T) {
	h := newHarness(t, "P0", "P1")

	must(t, h.ctl.SetActive(0))
	h.waitPaused(0)

	// a completion can only arrive while playing; simulate a late one
	must(t, h.ctl.Play())
	h.waitPlaying(0)
	must(t, h.ctl.Pause())
	h.mediaFor("P0").complete()

	h.waitPaused(1)
}

func TestEndOfListGoesIdle(t *testing.T) {
	h := newHarness(t, "P0", "P1", "P2")

	must(t, h.ctl.SetActive(2))
	must(t, h.ctl.Play())
	h.waitPlaying(2)

	h.mediaFor("P2").complete()
	s := h.waitStatus("idle", func(s Status) bool { return s.State == Idle })
	if s.ActiveIndex != 2 || s.IsPlaying {
		t.Errorf("end status = %+v", s)
	}

	// playing again restarts the last paragraph
	must(t, h.ctl.Play())
	h.waitPlaying(2)
}

func TestPlayBeforeReady(t *testing.T) {
	h := newHarness(t, "P0", "P1")
	h.gen.hold("P0")

	must(t, h.ctl.SetActive(0))
	if s := h.ctl.Status(); s.State != Loading || s.PlayPending {
		t.Fatalf("status = %+v, want loading without play pending", s)
	}
	must(t, h.ctl.Play())
	if s := h.ctl.Status(); !s.PlayPending {
		t.Fatal("play request not recorded")
	}

	h.gen.release("P0")
	h.waitPlaying(0)
}

func TestPauseWhileLoadingCancelsPlay(t *testing.T) {
	h := newHarness(t, "P0")
	h.gen.hold("P0")

	must(t, h.ctl.SetActive(0))
	must(t, h.ctl.Play())
	must(t, h.ctl.Pause())
	h.gen.release("P0")

	h.waitPaused(0)
	if playing, _, _ := h.mediaFor("P0").snapshot(); playing {
		t.Error("media started after pause")
	}
}

func TestRapidSetActiveOnlyLatestPlays(t *testing.T) {
	h := newHarness(t, "P0", "P1", "P2")

	must(t, h.ctl.SetActive(0))
	must(t, h.ctl.Play())
	h.waitPlaying(0)

	// P1 and P2 were prefetched; drop them so new requests are issued
	h.gen.hold("P1")
	h.gen.hold("P2")
	must(t, h.ctl.Load(chapter.FromTexts("P0", "P1", "P2")))
	h.waitPlaying(0)

	must(t, h.ctl.SetActive(1))
	must(t, h.ctl.SetActive(2))
	h.gen.release("P1")

	time.Sleep(20 * time.Millisecond)
	s := h.ctl.Status()
	if s.ActiveIndex != 2 || s.State != Loading || !s.PlayPending {
		t.Fatalf("status = %+v, want loading 2 with play pending", s)
	}

	h.gen.release("P2")
	h.waitPlaying(2)
	if m := h.mediaFor("P1"); m != nil {
		if _, plays, _ := m.snapshot(); plays != 0 {
			t.Error("superseded paragraph played")
		}
	}
}

func TestOutOfRangeIgnored(t *testing.T) {
	h := newHarness(t, "P0", "P1")

	must(t, h.ctl.SetActive(-1))
	must(t, h.ctl.SetActive(2))
	if s := h.ctl.Status(); s.ActiveIndex != -1 || s.State != Idle {
		t.Errorf("status = %+v, want untouched", s)
	}

	must(t, h.ctl.SetActive(1))
	h.waitPaused(1)
	must(t, h.ctl.Next())
	if s := h.ctl.Status(); s.ActiveIndex != 1 {
		t.Errorf("Next past the end moved to %d", s.ActiveIndex)
	}
	must(t, h.ctl.Previous())
	h.waitPaused(0)
	must(t, h.ctl.Previous())
	if s := h.ctl.Status(); s.ActiveIndex != 0 {
		t.Errorf("Previous before the start moved to %d", s.ActiveIndex)
	}
}

func TestVoiceChangeInvalidatesCache(t *testing.T) {
	h := newHarness(t, "P0", "P1")

	// warm P0 without activating it
	must(t, h.cache.Ensure(0, h.store.Voices()))
	deadline := time.Now().Add(2 * time.Second)
	for h.cache.Get(0).State != cache.Ready {
		if time.Now().After(deadline) {
			t.Fatal("P0 never became ready")
		}
		time.Sleep(2 * time.Millisecond)
	}
	old := h.cache.Get(0).Handle

	must(t, h.ctl.SetVoices("echo", "fable"))
	if got := h.cache.Get(0).State; got != cache.NotRequested {
		t.Errorf("P0 state after voice change = %v, want not-requested", got)
	}
	if !old.Released() {
		t.Error("old handle not released")
	}
	if v := h.ctl.Status().Voices; v.Narrator != "echo" || v.Dialogue != "fable" {
		t.Errorf("status voices = %+v", v)
	}
}

func TestVoiceChangeReloadsActive(t *testing.T) {
	h := newHarness(t, "P0", "P1")
	newVoices := generate.Voices{Narrator: "echo", Dialogue: "fable"}

	must(t, h.ctl.SetActive(0))
	must(t, h.ctl.Play())
	h.waitPlaying(0)
	old := h.cache.Get(0).Handle
	oldMedia := h.mediaFor("P0")

	h.gen.hold("P0")
	must(t, h.ctl.SetVoices(newVoices.Narrator, newVoices.Dialogue))
	if s := h.ctl.Status(); s.ActiveIndex != 0 || s.State != Loading || !s.PlayPending {
		t.Fatalf("status = %+v, want reloading 0 with play pending", s)
	}
	if !old.Released() {
		t.Error("old handle not released")
	}
	if playing, _, _ := oldMedia.snapshot(); playing {
		t.Error("old media still playing")
	}

	h.gen.release("P0")
	h.waitPlaying(0)
	if n := h.gen.count("P0", newVoices); n != 1 {
		t.Errorf("P0 generated %d times with new voices, want 1", n)
	}

	// the same voices again change nothing
	must(t, h.ctl.SetVoices(newVoices.Narrator, newVoices.Dialogue))
	if h.cache.Get(0).State != cache.Ready {
		t.Error("unchanged voices invalidated the cache")
	}
	if err := h.ctl.SetVoices("", ""); !errors.Is(err, settings.ErrEmptyVoice) {
		t.Errorf("SetVoices blank = %v", err)
	}
}

func TestSettingsStoreChangeReachesController(t *testing.T) {
	h := newHarness(t, "P0")

	must(t, h.ctl.SetActive(0))
	h.waitPaused(0)

	if _, err := h.store.SetVoices("echo", ""); err != nil {
		t.Fatal(err)
	}
	h.waitStatus("new voices", func(s Status) bool { return s.Voices.Narrator == "echo" && s.State == Paused })
	if n := h.gen.count("P0", generate.Voices{Narrator: "echo", Dialogue: "echo"}); n != 1 {
		t.Errorf("P0 regenerated %d times, want 1", n)
	}

	h.store.SetSpeed(2)
	h.waitStatus("speed", func(s Status) bool { return s.Speed == 2 })
	if _, _, speed := h.mediaFor("P0").snapshot(); speed != 2 {
		t.Errorf("media speed = %v, want 2", speed)
	}
}

func TestSeekClamps(t *testing.T) {
	h := newHarness(t, "P0")

	must(t, h.ctl.Seek(time.Second))
	if h.ctl.Status().Position != 0 {
		t.Error("seek while idle should be ignored")
	}

	must(t, h.ctl.SetActive(0))
	h.waitPaused(0)
	m := h.mediaFor("P0")

	must(t, h.ctl.Seek(5*time.Second))
	if s := h.ctl.Status(); s.Position != time.Second || m.Position() != time.Second {
		t.Errorf("seek past end: status %v media %v", s.Position, m.Position())
	}
	must(t, h.ctl.Seek(-time.Second))
	if s := h.ctl.Status(); s.Position != 0 || s.State != Paused {
		t.Errorf("seek before start: %+v", s)
	}
	must(t, h.ctl.Seek(300*time.Millisecond))
	if m.Position() != 300*time.Millisecond {
		t.Errorf("media position = %v", m.Position())
	}
}

func TestSpeedAppliedInPlace(t *testing.T) {
	h := newHarness(t, "P0", "P1")

	must(t, h.ctl.SetSpeed(1.5))
	must(t, h.ctl.SetActive(0))
	must(t, h.ctl.Play())
	h.waitPlaying(0)
	m := h.mediaFor("P0")
	if _, _, speed := m.snapshot(); speed != 1.5 {
		t.Errorf("speed on bind = %v, want 1.5", speed)
	}

	must(t, h.ctl.SetSpeed(1.3))
	playing, plays, speed := m.snapshot()
	if speed != 1.25 || !playing || plays != 1 {
		t.Errorf("after SetSpeed: speed %v playing %v plays %d", speed, playing, plays)
	}

	must(t, h.ctl.CycleSpeed())
	must(t, h.ctl.CycleSpeed())
	must(t, h.ctl.CycleSpeed())
	if s := h.ctl.Status(); s.Speed != 0.5 || h.store.Speed() != 0.5 {
		t.Errorf("speed after wrapping = %v", s.Speed)
	}

	must(t, h.ctl.CycleSpeedDown())
	if s := h.ctl.Status(); s.Speed != 2 {
		t.Errorf("speed after stepping down from 0.5 = %v, want 2", s.Speed)
	}
	if _, _, speed := m.snapshot(); speed != 2 {
		t.Errorf("media speed = %v, want 2", speed)
	}
}

func TestGenerationFailureNeedsRetry(t *testing.T) {
	h := newHarness(t, "P0", "P1")
	h.gen.setFail("P0", generate.NewError(generate.CodeHTTPStatus, "HTTP 502", nil))

	must(t, h.ctl.SetActive(0))
	must(t, h.ctl.Play())
	s := h.waitStatus("failure", func(s Status) bool { return s.State == Idle && s.Err != nil })

	var perr *Error
	if !errors.As(s.Err, &perr) || perr.Op != "generate" || perr.Index != 0 {
		t.Fatalf("Err = %v", s.Err)
	}
	if generate.CodeOf(s.Err) != generate.CodeHTTPStatus {
		t.Errorf("code = %v", generate.CodeOf(s.Err))
	}

	// other paragraphs are unaffected
	must(t, h.ctl.SetActive(1))
	h.waitPaused(1)
	must(t, h.ctl.SetActive(0))
	h.waitStatus("failed again", func(s Status) bool { return s.ActiveIndex == 0 && s.State == Idle })

	h.gen.setFail("P0", nil)
	must(t, h.ctl.Retry())
	h.waitPlaying(0)
	if s := h.ctl.Status(); s.Err != nil {
		t.Errorf("Err after retry = %v", s.Err)
	}
}

func TestPlaybackFailure(t *testing.T) {
	h := newHarness(t, "P0")

	must(t, h.ctl.SetActive(0))
	must(t, h.ctl.Play())
	h.waitPlaying(0)

	boom := errors.New("device lost")
	h.mediaFor("P0").emit(handle.Event{Kind: handle.EventFailed, Err: boom})
	s := h.waitStatus("paused with error", func(s Status) bool { return s.State == Paused && s.Err != nil })
	if !errors.Is(s.Err, boom) {
		t.Errorf("Err = %v", s.Err)
	}

	must(t, h.ctl.Play())
	h.waitPlaying(0)
}

func TestStaleMediaEventsIgnored(t *testing.T) {
	h := newHarness(t, "P0", "P1", "P2")

	must(t, h.ctl.SetActive(0))
	must(t, h.ctl.Play())
	h.waitPlaying(0)
	first := h.mediaFor("P0")

	must(t, h.ctl.SetActive(1))
	h.waitPlaying(1)

	// the old media was unbound; a completion from it is not an advance
	first.complete()
	time.Sleep(20 * time.Millisecond)
	if s := h.ctl.Status(); s.ActiveIndex != 1 {
		t.Errorf("stale completion moved to %d", s.ActiveIndex)
	}
}

func TestLoadReplacesParagraphs(t *testing.T) {
	h := newHarness(t, "P0", "P1", "P2")

	must(t, h.ctl.SetActive(2))
	must(t, h.ctl.Play())
	h.waitPlaying(2)
	old := h.cache.Get(2).Handle

	must(t, h.ctl.Load(chapter.FromTexts("Q0", "Q1")))
	if !old.Released() {
		t.Error("handle from the old list not released")
	}
	s := h.waitPlaying(1)
	if s.Total != 2 {
		t.Errorf("Total = %d", s.Total)
	}

	must(t, h.ctl.Load(nil))
	if s := h.ctl.Status(); s.State != Idle || s.ActiveIndex != -1 || s.Total != 0 {
		t.Errorf("empty list status = %+v", s)
	}
	if h.mgr.Live() != 0 {
		t.Errorf("Live = %d after empty load", h.mgr.Live())
	}
}

func TestSubscribe(t *testing.T) {
	h := newHarness(t, "P0")

	ch, cancel := h.ctl.Subscribe()
	first := <-ch
	if first.State != Idle || first.Total != 1 {
		t.Errorf("initial status = %+v", first)
	}

	must(t, h.ctl.SetActive(0))
	must(t, h.ctl.Play())
	timeout := time.After(2 * time.Second)
	for {
		select {
		case s := <-ch:
			if s.State == Playing {
				cancel()
				if _, ok := <-ch; ok {
					// at most one buffered status remains before close
					if _, ok := <-ch; ok {
						t.Error("channel not closed after cancel")
					}
				}
				return
			}
		case <-timeout:
			t.Fatal("no playing status delivered")
		}
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	h := newHarness(t, "P0", "P1", "P2")

	must(t, h.ctl.SetActive(0))
	must(t, h.ctl.Play())
	h.waitPlaying(0)
	h.waitStatus("prefetch", func(Status) bool { return h.cache.Stats().Ready == 3 })

	ch, _ := h.ctl.Subscribe()
	must(t, h.ctl.Close())

	if h.mgr.Live() != 0 {
		t.Errorf("Live = %d after Close", h.mgr.Live())
	}
	if s := h.mgr.Stats(); s.Released != s.Minted {
		t.Errorf("minted %d released %d", s.Minted, s.Released)
	}
	if err := h.ctl.Play(); !errors.Is(err, ErrClosed) {
		t.Errorf("Play after Close = %v", err)
	}
	for range ch {
	}
	if err := h.ctl.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}
