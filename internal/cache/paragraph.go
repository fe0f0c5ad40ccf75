package cache

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/narrate/internal/chapter"
	"github.com/dgnsrekt/narrate/internal/generate"
	"github.com/dgnsrekt/narrate/internal/handle"
	"github.com/dgnsrekt/narrate/internal/queue"
)

// DefaultWorkers is the default number of concurrent generations.
const DefaultWorkers = 2

// Options configures a ParagraphCache.
type Options struct {
	Workers int
	Store   *PayloadStore // optional
	Logger  *log.Logger
}

// ParagraphCache holds one entry per paragraph index.
//
// Requests are tracked twice: by entry state and by an in-flight set keyed by
// index and request token. A result is applied only if its token is still the
// in-flight token for the index, so results for entries that were invalidated
// or reclaimed meanwhile are discarded.
type ParagraphCache struct {
	gen     generate.Client
	handles *handle.Manager
	store   *PayloadStore
	queue   *queue.JobQueue
	logger  *log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	paragraphs []chapter.Paragraph
	entries    map[int]*entry
	inFlight   map[int]uint64
	nextToken  uint64
	closed     bool
	observers  []func(Update)

	generations   atomic.Int64
	storeHits     atomic.Int64
	staleDiscards atomic.Int64
}

type entry struct {
	state  State
	handle *handle.Handle
	err    error

	token  uint64
	req    generate.Request
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a cache that generates with gen and mints handles with handles.
func New(gen generate.Client, handles *handle.Manager, opts Options) *ParagraphCache {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &ParagraphCache{
		gen:      gen,
		handles:  handles,
		store:    opts.Store,
		queue:    queue.New(),
		logger:   opts.Logger.WithPrefix("cache"),
		ctx:      ctx,
		cancel:   cancel,
		entries:  make(map[int]*entry),
		inFlight: make(map[int]uint64),
	}

	for i := 0; i < opts.Workers; i++ {
		go c.worker()
	}
	return c
}

// OnUpdate registers fn to be called after an entry changes. fn may be called
// from any goroutine and must not block.
func (c *ParagraphCache) OnUpdate(fn func(Update)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Replace swaps the paragraph list. Every entry is reset and its handle
// released.
func (c *ParagraphCache) Replace(paragraphs []chapter.Paragraph) {
	c.mu.Lock()
	handles, indices := c.resetLocked(func(int) bool { return true })
	c.paragraphs = append([]chapter.Paragraph(nil), paragraphs...)
	c.queue.Clear()
	c.mu.Unlock()

	c.logger.Debug("paragraphs replaced", "count", len(paragraphs))
	c.finishReset(handles, indices)
}

// Paragraphs returns a copy of the paragraph list.
func (c *ParagraphCache) Paragraphs() []chapter.Paragraph {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]chapter.Paragraph(nil), c.paragraphs...)
}

// Len returns the number of paragraphs.
func (c *ParagraphCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.paragraphs)
}

// Get returns the entry for index. It never triggers work.
func (c *ParagraphCache) Get(index int) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := Entry{Index: index, State: NotRequested}
	if e, ok := c.entries[index]; ok {
		out.State = e.state
		out.Handle = e.handle
		out.Err = e.err
	}
	return out
}

// Ensure requests audio for index unless it is already loading, ready or
// failed. Failed entries are only requested again through Retry.
func (c *ParagraphCache) Ensure(index int, voices generate.Voices) error {
	c.mu.Lock()
	if err := c.checkLocked(index); err != nil {
		c.mu.Unlock()
		return err
	}
	if _, busy := c.inFlight[index]; busy {
		c.mu.Unlock()
		return nil
	}
	if e, ok := c.entries[index]; ok && e.state != NotRequested {
		c.mu.Unlock()
		return nil
	}
	c.startLocked(index, voices)
	c.mu.Unlock()

	c.notify(Update{Index: index, State: Loading})
	return nil
}

// Retry requests audio for a failed or unrequested index. Loading and ready
// entries are left alone.
func (c *ParagraphCache) Retry(index int, voices generate.Voices) error {
	c.mu.Lock()
	if err := c.checkLocked(index); err != nil {
		c.mu.Unlock()
		return err
	}
	if _, busy := c.inFlight[index]; busy {
		c.mu.Unlock()
		return nil
	}
	if e, ok := c.entries[index]; ok && e.state != Failed && e.state != NotRequested {
		c.mu.Unlock()
		return nil
	}
	c.logger.Debug("retry", "index", index)
	c.startLocked(index, voices)
	c.mu.Unlock()

	c.notify(Update{Index: index, State: Loading})
	return nil
}

// InvalidateAll releases every handle and resets every entry to NotRequested.
// Pending and running requests become stale.
func (c *ParagraphCache) InvalidateAll() {
	c.mu.Lock()
	handles, indices := c.resetLocked(func(int) bool { return true })
	c.queue.Clear()
	c.mu.Unlock()

	c.logger.Debug("invalidated", "entries", len(indices), "handles", len(handles))
	c.finishReset(handles, indices)
}

// Reclaim releases handles and resets entries whose index is not in keep.
func (c *ParagraphCache) Reclaim(keep Set) {
	drop := func(i int) bool { return !keep.Contains(i) }

	c.mu.Lock()
	handles, indices := c.resetLocked(drop)
	c.queue.Remove(func(j queue.Job) bool { return drop(j.Index) })
	c.mu.Unlock()

	if len(indices) > 0 {
		c.logger.Debug("reclaimed", "entries", len(indices), "handles", len(handles))
	}
	c.finishReset(handles, indices)
}

// Focus orders pending generations by distance from index.
func (c *ParagraphCache) Focus(index int) {
	c.queue.SetFocus(index)
}

// Stats returns cache statistics.
func (c *ParagraphCache) Stats() Stats {
	c.mu.Lock()
	s := Stats{Paragraphs: len(c.paragraphs)}
	for _, e := range c.entries {
		switch e.state {
		case Ready:
			s.Ready++
		case Loading:
			s.Loading++
		case Failed:
			s.Failed++
		}
	}
	c.mu.Unlock()

	s.Generations = c.generations.Load()
	s.StoreHits = c.storeHits.Load()
	s.StaleDiscards = c.staleDiscards.Load()
	s.LiveHandles = c.handles.Live()
	s.Queue = c.queue.Stats()
	if c.store != nil {
		s.Store = c.store.Stats()
	}
	return s
}

// Close resets every entry, releases every handle and stops the workers.
// It does not wait for generation calls still running; their results are
// discarded as stale when they return.
func (c *ParagraphCache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	handles, indices := c.resetLocked(func(int) bool { return true })
	c.mu.Unlock()

	c.cancel()
	c.queue.Close()
	c.finishReset(handles, indices)
	c.logger.Debug("closed", "live_handles", c.handles.Live())
	return nil
}

func (c *ParagraphCache) checkLocked(index int) error {
	if c.closed {
		return ErrClosed
	}
	if index < 0 || index >= len(c.paragraphs) {
		return fmt.Errorf("%w: %d of %d", ErrOutOfRange, index, len(c.paragraphs))
	}
	return nil
}

// startLocked marks index Loading and queues its request.
func (c *ParagraphCache) startLocked(index int, voices generate.Voices) {
	c.nextToken++
	tok := c.nextToken

	ctx, cancel := context.WithCancel(c.ctx)
	c.entries[index] = &entry{
		state:  Loading,
		token:  tok,
		req:    generate.Request{Text: c.paragraphs[index].Text, Voices: voices},
		ctx:    ctx,
		cancel: cancel,
	}
	c.inFlight[index] = tok

	if err := c.queue.Push(queue.Job{Index: index, Token: tok}); err != nil {
		c.logger.Error("queue generation", "index", index, "err", err)
	}
}

// resetLocked removes entries selected by drop and returns the handles to
// release and the affected indices.
func (c *ParagraphCache) resetLocked(drop func(int) bool) ([]*handle.Handle, []int) {
	var handles []*handle.Handle
	var indices []int
	for i, e := range c.entries {
		if !drop(i) {
			continue
		}
		if e.cancel != nil {
			e.cancel()
		}
		if e.handle != nil {
			handles = append(handles, e.handle)
		}
		delete(c.entries, i)
		delete(c.inFlight, i)
		indices = append(indices, i)
	}
	return handles, indices
}

func (c *ParagraphCache) finishReset(handles []*handle.Handle, indices []int) {
	for _, h := range handles {
		c.handles.Release(h)
	}
	for _, i := range indices {
		c.notify(Update{Index: i, State: NotRequested})
	}
}

func (c *ParagraphCache) notify(u Update) {
	c.mu.Lock()
	observers := slices.Clone(c.observers)
	c.mu.Unlock()

	for _, fn := range observers {
		fn(u)
	}
}

func (c *ParagraphCache) worker() {
	for {
		job, err := c.queue.Pop()
		if err != nil {
			return
		}
		c.run(job)
	}
}

// current reports whether job is still the in-flight request for its index
// (must be called with lock held).
func (c *ParagraphCache) current(job queue.Job) (*entry, bool) {
	e, ok := c.entries[job.Index]
	if !ok || e.token != job.Token || c.inFlight[job.Index] != job.Token {
		return nil, false
	}
	return e, true
}

func (c *ParagraphCache) run(job queue.Job) {
	c.mu.Lock()
	e, ok := c.current(job)
	if !ok {
		c.mu.Unlock()
		return
	}
	req, ctx := e.req, e.ctx
	c.mu.Unlock()

	key := Key(req.Text, req.Voices)
	var payload []byte
	var fromStore bool
	if c.store != nil {
		payload, fromStore = c.store.Get(key)
	}

	var err error
	if fromStore {
		c.storeHits.Add(1)
	} else {
		c.generations.Add(1)
		c.logger.Debug("generation started", "index", job.Index, "chars", len(req.Text), "voices", req.Voices)
		payload, err = c.gen.Generate(ctx, req)
	}

	// payloads are keyed by text and voices, so a stale result is still
	// worth keeping
	if err == nil && !fromStore && c.store != nil {
		if perr := c.store.Put(key, payload); perr != nil {
			c.logger.Debug("payload not stored", "index", job.Index, "err", perr)
		}
	}

	var h *handle.Handle
	if err == nil {
		h, err = c.handles.Mint(payload)
	}

	c.mu.Lock()
	e, ok = c.current(job)
	if !ok {
		c.mu.Unlock()
		c.staleDiscards.Add(1)
		c.handles.Release(h)
		c.logger.Debug("discarding result", "index", job.Index, "reason", ErrStaleResult)
		return
	}
	delete(c.inFlight, job.Index)
	e.cancel()
	if err != nil {
		e.state = Failed
		e.err = err
	} else {
		e.state = Ready
		e.handle = h
	}
	state := e.state
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("generation failed", "index", job.Index, "err", err)
	}
	c.notify(Update{Index: job.Index, State: state})
}
