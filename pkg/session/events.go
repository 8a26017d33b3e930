package session

import (
	"time"

	"github.com/livedoc-io/livedoc/pkg/event"
	"github.com/livedoc-io/livedoc/pkg/metrics"
)

// PushEvent enqueues an interaction event for the next processing pass.
// While the session redirects to an embedded replacement (during a hot
// reload), events are forwarded there so none are lost mid-swap.
func (s *Session) PushEvent(ev event.Event) {
	if target := s.eventTarget.Load(); target != nil {
		target.PushEvent(ev)
		return
	}
	s.queue.Push(ev)
}

// SetEventTarget redirects all future events and incremental pulls to
// another session. Passing nil removes the redirection.
func (s *Session) SetEventTarget(target *Session) {
	s.eventTarget.Store(target)
}

// EventTarget returns the current redirection target, or nil.
func (s *Session) EventTarget() *Session {
	return s.eventTarget.Load()
}

// Handlers collects all event handlers registered in the document tree,
// keyed by their element name.
func (s *Session) Handlers() map[string]event.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	handlers := make(map[string]event.Handler)
	for _, ref := range s.root.ListRecursive() {
		if h, ok := ref.Node.Flags[event.HandlerFlag].(event.Handler); ok {
			handlers[ref.Name] = h
		}
	}
	return handlers
}

// HandleEvents runs one scheduling pass: it gives every registered handler
// its loop tick, then dispatches the drained event batch by target name.
// Handlers run outside the session locks so their callbacks may write into
// the document. The returned time is the earliest next scheduled action
// (zero when nothing is pending); the first handler error aborts nothing
// but is reported to the caller, matching the rule that rebuild faults
// propagate to whoever drives the loop.
func (s *Session) HandleEvents(now time.Time) (time.Time, error) {
	defer metrics.Timer(metrics.EventDispatch)()
	var next time.Time
	var firstErr error

	if target := s.eventTarget.Load(); target != nil {
		n, err := target.HandleEvents(now)
		next = earliest(next, n)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	batch := s.queue.Drain()
	handlers := s.Handlers()

	for _, h := range handlers {
		n, err := h.HandleLoop(now)
		next = earliest(next, n)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, ev := range batch {
		h, ok := handlers[ev.Target]
		if !ok {
			continue
		}
		if err := h.HandleEvent(ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return next, firstErr
}

func earliest(a, b time.Time) time.Time {
	if a.IsZero() {
		return b
	}
	if b.IsZero() || a.Before(b) {
		return a
	}
	return b
}
