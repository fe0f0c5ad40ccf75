// Package scheduler keeps audio generated for a forward window of paragraphs.
//
// The window starts at the current paragraph and grows forward until the
// paragraphs in it hold at least a character budget, so its size follows
// content length rather than a paragraph count.
package scheduler

import (
	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/narrate/internal/cache"
	"github.com/dgnsrekt/narrate/internal/chapter"
	"github.com/dgnsrekt/narrate/internal/generate"
)

// DefaultBudget is the default prefetch budget in characters.
const DefaultBudget = 1500

// Window is an inclusive range of paragraph indices. A window with End <
// Start is empty.
type Window struct {
	Start int
	End   int
}

// Empty reports whether the window holds no paragraphs.
func (w Window) Empty() bool { return w.End < w.Start }

// Len returns the number of paragraphs in the window.
func (w Window) Len() int {
	if w.Empty() {
		return 0
	}
	return w.End - w.Start + 1
}

// Contains reports whether index is inside the window.
func (w Window) Contains(index int) bool {
	return !w.Empty() && index >= w.Start && index <= w.End
}

// Indices lists the window in ascending order, which is also ascending
// distance from Start.
func (w Window) Indices() []int {
	out := make([]int, 0, w.Len())
	for i := w.Start; i <= w.End; i++ {
		out = append(out, i)
	}
	return out
}

var emptyWindow = Window{Start: 0, End: -1}

// ComputeWindow returns the prefetch window for current. End is the first
// index at which the running character count from current reaches budget, or
// the last index if it never does. An empty list or an out-of-range current
// yields an empty window.
func ComputeWindow(current int, paragraphs []chapter.Paragraph, budget int) Window {
	if current < 0 || current >= len(paragraphs) {
		return emptyWindow
	}

	last := len(paragraphs) - 1
	sum := 0
	end := current
	for ; end < last; end++ {
		sum += paragraphs[end].Len()
		if sum >= budget {
			break
		}
	}
	return Window{Start: current, End: end}
}

// Cache is the part of the paragraph cache the scheduler drives.
type Cache interface {
	Paragraphs() []chapter.Paragraph
	Focus(index int)
	Ensure(index int, voices generate.Voices) error
	Reclaim(keep cache.Set)
}

// Scheduler fills the window around the current paragraph and reclaims
// everything outside it.
type Scheduler struct {
	cache  Cache
	budget int
	logger *log.Logger
	last   Window
}

// New creates a scheduler with the given character budget.
func New(c Cache, budget int, logger *log.Logger) *Scheduler {
	if budget <= 0 {
		budget = DefaultBudget
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		cache:  c,
		budget: budget,
		logger: logger.WithPrefix("scheduler"),
		last:   emptyWindow,
	}
}

// Budget returns the character budget.
func (s *Scheduler) Budget() int { return s.budget }

// Last returns the window of the most recent Refill.
func (s *Scheduler) Last() Window { return s.last }

// Refill computes the window for current, ensures every paragraph in it,
// nearest first, and reclaims the rest. Refill is not safe for concurrent
// use; the playback controller calls it from its event loop.
func (s *Scheduler) Refill(current int, voices generate.Voices) Window {
	paragraphs := s.cache.Paragraphs()
	w := ComputeWindow(current, paragraphs, s.budget)

	if !w.Empty() {
		s.cache.Focus(w.Start)
		for _, i := range w.Indices() {
			if err := s.cache.Ensure(i, voices); err != nil {
				s.logger.Warn("ensure", "index", i, "err", err)
			}
		}
	}
	s.cache.Reclaim(w)

	if w != s.last {
		s.logger.Debug("window", "start", w.Start, "end", w.End, "paragraphs", w.Len())
	}
	s.last = w
	return w
}
