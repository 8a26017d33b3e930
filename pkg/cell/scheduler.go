package cell

import (
	"context"
	"sync"
	"time"

	"github.com/livedoc-io/livedoc/pkg/session"
)

// MinRefresh bounds how tightly the run loop spins when a handler reports
// an imminent next tick.
const MinRefresh = 10 * time.Millisecond

// View holds the shared visibility state cells are gated against: which
// group patterns are shown or hidden and which page/tab is active. Routing
// a client to another page flips visibility without rebuilding anything.
type View struct {
	mu      sync.RWMutex
	visible []string
	hidden  []string
	page    string
	tab     string
}

// NewView creates a view showing every group.
func NewView() *View {
	return &View{visible: []string{"*"}}
}

// Show replaces the visible group patterns.
func (v *View) Show(patterns ...string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.visible = append([]string(nil), patterns...)
}

// Hide replaces the hidden group patterns.
func (v *View) Hide(patterns ...string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.hidden = append([]string(nil), patterns...)
}

// SetPage selects the active page routing key.
func (v *View) SetPage(page string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.page = page
}

// SetTab selects the active tab routing key.
func (v *View) SetTab(tab string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tab = tab
}

func (v *View) state() (page, tab string, visible, hidden []string) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.page, v.tab, v.visible, v.hidden
}

// Scheduler drives a session's cooperative scheduling loop: each tick runs
// every registered handler's loop turn and dispatches the pending event
// batch, then the loop sleeps until the earliest reported next action, at
// most Interval. There is no parallelism inside the loop; concurrency only
// exists between this loop and readers rendering the session.
type Scheduler struct {
	sess     *session.Session
	view     *View
	interval time.Duration
}

// NewScheduler creates a scheduler for the given session ticking at most
// every interval.
func NewScheduler(s *session.Session, view *View, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{sess: s, view: view, interval: interval}
}

// View returns the scheduler's visibility state.
func (sc *Scheduler) View() *View { return sc.view }

// Tick runs a single scheduling pass and returns the earliest next
// scheduled action together with the first rebuild error, if any.
func (sc *Scheduler) Tick(now time.Time) (time.Time, error) {
	return sc.sess.HandleEvents(now)
}

// Run loops until the context is cancelled. Rebuild errors do not stop the
// loop; the last error is returned on exit. Cancellation is only observed
// at tick boundaries, never mid-rebuild.
func (sc *Scheduler) Run(ctx context.Context) error {
	var lastErr error
	for {
		now := time.Now()
		next, err := sc.Tick(now)
		if err != nil {
			lastErr = err
		}

		sleep := sc.interval
		if !next.IsZero() {
			if until := time.Until(next); until < sleep {
				sleep = until
			}
		}
		if sleep < MinRefresh {
			sleep = MinRefresh
		}

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(sleep):
		}
	}
}
