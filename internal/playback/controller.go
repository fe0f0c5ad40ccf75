// Package playback drives continuous narration across paragraphs.
//
// A Controller owns the playback state and mutates it from a single loop
// goroutine. Commands, cache updates, settings changes and media events are
// all posted to the loop's mailbox, so the state machine sees them one at a
// time. Commands block until the loop has handled them; nothing the loop does
// waits on generation.
package playback

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/narrate/internal/cache"
	"github.com/dgnsrekt/narrate/internal/chapter"
	"github.com/dgnsrekt/narrate/internal/generate"
	"github.com/dgnsrekt/narrate/internal/handle"
	"github.com/dgnsrekt/narrate/internal/scheduler"
	"github.com/dgnsrekt/narrate/internal/settings"
)

// DefaultTick is the default interval between position updates while playing.
const DefaultTick = 200 * time.Millisecond

// Cache is the paragraph cache as seen by the controller.
type Cache interface {
	scheduler.Cache
	Len() int
	Get(index int) cache.Entry
	Retry(index int, voices generate.Voices) error
	InvalidateAll()
	Replace(paragraphs []chapter.Paragraph)
	OnUpdate(fn func(cache.Update))
	Close() error
}

// Options configures a Controller.
type Options struct {
	Budget int           // prefetch budget in characters
	Tick   time.Duration // position update interval
	Logger *log.Logger
}

// Controller is the playback state machine.
type Controller struct {
	cache    Cache
	sched    *scheduler.Scheduler
	settings *settings.Store
	logger   *log.Logger
	tick     time.Duration

	// mailbox
	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
	closed  bool
	done    chan struct{}

	closeOnce   sync.Once
	unsubscribe func()

	// loop state
	sm        *machine
	active    int
	intent    bool
	bound     *handle.Handle
	bindToken uint64
	position  time.Duration
	duration  time.Duration
	speed     float64
	voices    generate.Voices
	err       error
	stopping  bool

	hub hub
}

// New creates a controller over c and starts its loop. The controller starts
// Idle with no active paragraph.
func New(c Cache, store *settings.Store, opts Options) *Controller {
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	ctl := &Controller{
		cache:    c,
		sched:    scheduler.New(c, opts.Budget, opts.Logger),
		settings: store,
		logger:   opts.Logger.WithPrefix("playback"),
		tick:     opts.Tick,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		sm:       newMachine(),
		active:   -1,
		speed:    store.Speed(),
		voices:   store.Voices(),
	}
	ctl.hub.init()
	ctl.sm.OnEnter(Idle, func(State) {
		ctl.intent = false
		ctl.position = 0
	})
	ctl.hub.set(ctl.snapshot())

	c.OnUpdate(func(u cache.Update) {
		ctl.post(func() { ctl.onCacheUpdate(u) })
	})
	ctl.unsubscribe = store.Subscribe(func(ch settings.Change) {
		ctl.post(func() { ctl.onSettings(ch) })
	})

	go ctl.run()
	return ctl
}

// SetActive makes index the active paragraph. Out-of-range indices are
// ignored. Playback continues on the new paragraph if it was playing or a
// play was pending.
func (c *Controller) SetActive(index int) error {
	return c.do(func() { c.setActive(index) })
}

// Next moves to the following paragraph.
func (c *Controller) Next() error {
	return c.do(func() { c.setActive(c.active + 1) })
}

// Previous moves to the preceding paragraph.
func (c *Controller) Previous() error {
	return c.do(func() {
		if c.active > 0 {
			c.setActive(c.active - 1)
		}
	})
}

// Play starts playback. While the active paragraph is loading, it records
// the request and playback starts once the audio is ready.
func (c *Controller) Play() error {
	return c.do(c.play)
}

// Pause pauses playback, or cancels a pending play request while loading.
func (c *Controller) Pause() error {
	return c.do(c.pause)
}

// Toggle plays when paused or idle and pauses otherwise.
func (c *Controller) Toggle() error {
	return c.do(func() {
		if c.sm.Current() == Playing || (c.sm.Current() == Loading && c.intent) {
			c.pause()
			return
		}
		c.play()
	})
}

// Seek moves within the active paragraph, clamped to [0, duration]. It is
// ignored unless playing or paused.
func (c *Controller) Seek(pos time.Duration) error {
	return c.do(func() { c.seek(pos) })
}

// SetSpeed stores v, snapped to a speed step, and applies it to the bound
// handle without interrupting playback.
func (c *Controller) SetSpeed(v float64) error {
	return c.do(func() { c.applySpeed(c.settings.SetSpeed(v)) })
}

// CycleSpeed moves to the next speed step, wrapping around.
func (c *Controller) CycleSpeed() error {
	return c.do(func() { c.applySpeed(c.settings.CycleSpeed()) })
}

// CycleSpeedDown moves to the previous speed step, wrapping around.
func (c *Controller) CycleSpeedDown() error {
	return c.do(func() { c.applySpeed(c.settings.CycleSpeedDown()) })
}

// SetVoices changes the voices. All generated audio is dropped and the
// active paragraph is loaded again, keeping its play/pause intent.
func (c *Controller) SetVoices(narrator, dialogue string) error {
	var err error
	if doErr := c.do(func() {
		if _, err = c.settings.SetVoices(narrator, dialogue); err == nil {
			c.applyVoices(c.settings.Voices())
		}
	}); doErr != nil {
		return doErr
	}
	return err
}

// Retry requests the active paragraph again after a generation failure and
// plays it when ready.
func (c *Controller) Retry() error {
	return c.do(c.retry)
}

// Load replaces the paragraph list. The active index is kept when it still
// exists and clamped to the last paragraph otherwise.
func (c *Controller) Load(paragraphs []chapter.Paragraph) error {
	return c.do(func() { c.load(paragraphs) })
}

// Status returns the latest published status.
func (c *Controller) Status() Status {
	return c.hub.get()
}

// Subscribe returns a channel that receives status updates and a function
// that ends the subscription. The channel holds only the latest status; a
// slow reader skips intermediate ones. It is closed by cancel or Close.
func (c *Controller) Subscribe() (<-chan Status, func()) {
	return c.hub.subscribe()
}

// Close stops playback, closes the cache, releasing every handle, and stops
// the loop. It is safe to call more than once.
func (c *Controller) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.unsubscribe()

		c.mu.Lock()
		c.closed = true
		c.pending = append(c.pending, func() {
			c.unbind()
			c.sm.Transition(Idle)
			err = c.cache.Close()
			c.publish()
			c.stopping = true
		})
		c.mu.Unlock()
		c.signal()

		<-c.done
		c.hub.close()
		c.logger.Debug("controller closed")
	})
	return err
}

// post queues fn for the loop without blocking. It reports false after Close.
func (c *Controller) post(fn func()) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.pending = append(c.pending, fn)
	c.mu.Unlock()
	c.signal()
	return true
}

// do runs fn on the loop and waits for it.
func (c *Controller) do(fn func()) error {
	done := make(chan struct{})
	if !c.post(func() { fn(); close(done) }) {
		return ErrClosed
	}
	<-done
	return nil
}

func (c *Controller) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Controller) run() {
	defer close(c.done)

	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-c.wake:
			c.mu.Lock()
			batch := c.pending
			c.pending = nil
			c.mu.Unlock()

			for _, fn := range batch {
				fn()
			}
			if c.stopping {
				return
			}
		case <-ticker.C:
			if c.sm.Current() == Playing {
				c.publish()
			}
		}
	}
}

func (c *Controller) transition(to State) {
	from := c.sm.Current()
	if !c.sm.Transition(to) {
		c.logger.Error("invalid state transition", "from", from, "to", to, "index", c.active)
		return
	}
	if from != to {
		c.logger.Debug("state", "from", from, "to", to, "index", c.active)
	}
}

func (c *Controller) setActive(index int) {
	if index < 0 || index >= c.cache.Len() {
		c.logger.Debug("ignoring out of range paragraph", "index", index, "paragraphs", c.cache.Len())
		return
	}
	st := c.sm.Current()
	if index == c.active && (st == Loading || st == Playing || st == Paused) {
		return
	}
	c.activate(index, st == Playing || (st == Loading && c.intent))
}

// activate unbinds the current handle, makes index active and waits for its
// audio. intent says whether to play once it is ready.
func (c *Controller) activate(index int, intent bool) {
	c.unbind()
	c.active = index
	c.err = nil
	c.position = 0
	c.duration = 0
	c.transition(Loading)
	c.intent = intent

	c.sched.Refill(index, c.voices)
	c.resolve()
	c.publish()
}

// resolve acts on the active entry while loading.
func (c *Controller) resolve() {
	if c.sm.Current() != Loading {
		return
	}

	e := c.cache.Get(c.active)
	switch e.State {
	case cache.Ready:
		c.bind(e.Handle)
		if c.intent {
			c.start()
		} else {
			c.transition(Paused)
		}
	case cache.Failed:
		c.err = &Error{Op: "generate", Index: c.active, Cause: e.Err}
		c.logger.Warn("paragraph failed", "index", c.active, "err", e.Err)
		c.transition(Idle)
	case cache.NotRequested:
		if err := c.cache.Ensure(c.active, c.voices); err != nil {
			c.logger.Warn("ensure active paragraph", "index", c.active, "err", err)
		}
	}
}

func (c *Controller) bind(h *handle.Handle) {
	c.bindToken++
	token := c.bindToken
	c.bound = h

	h.Notify(func(ev handle.Event) {
		c.post(func() { c.onMedia(token, ev) })
	})
	if err := h.SetSpeed(c.speed); err != nil {
		c.logger.Warn("apply speed", "index", c.active, "err", err)
	}
	if err := h.Seek(0); err != nil {
		c.logger.Warn("rewind", "index", c.active, "err", err)
	}
	c.duration = h.Duration()
}

// unbind detaches from the bound handle without releasing it; the cache
// owns it.
func (c *Controller) unbind() {
	c.bindToken++
	if c.bound == nil {
		return
	}
	c.bound.Notify(nil)
	if err := c.bound.Pause(); err != nil {
		c.logger.Debug("pause on unbind", "index", c.active, "err", err)
	}
	c.bound = nil
}

func (c *Controller) start() {
	c.intent = false
	if err := c.bound.Play(); err != nil {
		c.playbackFailed("play", err)
		return
	}
	c.transition(Playing)
}

func (c *Controller) playbackFailed(op string, err error) {
	c.err = &Error{Op: op, Index: c.active, Cause: err}
	c.logger.Warn("playback failed", "op", op, "index", c.active, "err", err)
	if c.bound != nil {
		_ = c.bound.Pause()
		c.position = c.bound.Position()
		c.transition(Paused)
		return
	}
	c.transition(Idle)
}

func (c *Controller) play() {
	switch c.sm.Current() {
	case Paused:
		c.err = nil
		c.start()
	case Loading:
		c.intent = true
	case Idle:
		if c.cache.Len() == 0 {
			return
		}
		index := max(c.active, 0)
		if c.cache.Get(index).State == cache.Failed {
			if err := c.cache.Retry(index, c.voices); err != nil {
				c.logger.Warn("retry", "index", index, "err", err)
			}
		}
		c.activate(index, true)
		return
	default:
		return
	}
	c.publish()
}

func (c *Controller) pause() {
	switch c.sm.Current() {
	case Playing:
		if err := c.bound.Pause(); err != nil {
			c.playbackFailed("pause", err)
			break
		}
		c.position = c.bound.Position()
		c.transition(Paused)
	case Loading:
		c.intent = false
	default:
		return
	}
	c.publish()
}

func (c *Controller) seek(pos time.Duration) {
	prev := c.sm.Current()
	if prev != Playing && prev != Paused {
		return
	}
	pos = min(max(pos, 0), c.duration)

	c.transition(Seeking)
	if err := c.bound.Seek(pos); err != nil {
		c.transition(prev)
		c.playbackFailed("seek", err)
		c.publish()
		return
	}
	c.position = pos
	c.transition(prev)
	c.publish()
}

func (c *Controller) applySpeed(v float64) {
	if v == c.speed {
		return
	}
	c.speed = v
	if c.bound != nil {
		if err := c.bound.SetSpeed(v); err != nil {
			c.playbackFailed("speed", err)
		}
	}
	c.publish()
}

func (c *Controller) applyVoices(v generate.Voices) {
	if v == c.voices {
		return
	}
	c.voices = v

	st := c.sm.Current()
	intent := st == Playing || (st == Loading && c.intent)
	c.unbind()
	c.cache.InvalidateAll()
	c.logger.Info("voices changed", "voices", v, "index", c.active)

	if st == Idle || c.active < 0 {
		c.publish()
		return
	}
	c.activate(c.active, intent)
}

func (c *Controller) retry() {
	if c.active < 0 || c.active >= c.cache.Len() {
		return
	}
	if c.cache.Get(c.active).State != cache.Failed {
		return
	}
	if err := c.cache.Retry(c.active, c.voices); err != nil {
		c.logger.Warn("retry", "index", c.active, "err", err)
		return
	}
	c.activate(c.active, true)
}

func (c *Controller) load(paragraphs []chapter.Paragraph) {
	st := c.sm.Current()
	intent := st == Playing || (st == Loading && c.intent)

	c.unbind()
	c.cache.Replace(paragraphs)
	c.err = nil

	if len(paragraphs) == 0 {
		c.active = -1
		c.transition(Idle)
		c.publish()
		return
	}
	if c.active >= len(paragraphs) {
		c.active = len(paragraphs) - 1
	}
	if st == Idle || c.active < 0 {
		c.transition(Idle)
		c.publish()
		return
	}
	c.activate(c.active, intent)
}

func (c *Controller) onCacheUpdate(u cache.Update) {
	if u.Index != c.active || c.sm.Current() != Loading {
		return
	}
	c.resolve()
	c.publish()
}

func (c *Controller) onSettings(ch settings.Change) {
	switch ch.Kind {
	case settings.VoicesChanged:
		c.applyVoices(ch.Settings.Voices())
	case settings.SpeedChanged:
		c.applySpeed(ch.Settings.Speed)
	}
}

func (c *Controller) onMedia(token uint64, ev handle.Event) {
	if token != c.bindToken {
		c.logger.Debug("ignoring event from unbound media", "event", ev.Kind)
		return
	}

	switch ev.Kind {
	case handle.EventCompleted:
		wasPlaying := c.sm.Current() == Playing
		if c.active >= c.cache.Len()-1 {
			c.unbind()
			c.transition(Idle)
			c.logger.Debug("end of chapter", "index", c.active)
			c.publish()
			return
		}
		c.activate(c.active+1, wasPlaying)
	case handle.EventFailed:
		c.playbackFailed("play", ev.Err)
		c.publish()
	}
}
