// Package cell implements named, independently schedulable regions of a
// live document. A cell owns one sub-element of the document tree and a
// build callback; the scheduling state machine decides when the region is
// rebuilt: one-shot on invalidation (debounced to at most one rebuild per
// interval), continuously on a fixed interval, or progressively by
// appending instead of clearing.
package cell

import (
	"path"
	"strings"
	"sync"
	"time"

	"github.com/livedoc-io/livedoc/pkg/debug"
	"github.com/livedoc-io/livedoc/pkg/document"
	"github.com/livedoc-io/livedoc/pkg/event"
	"github.com/livedoc-io/livedoc/pkg/metrics"
	"github.com/livedoc-io/livedoc/pkg/session"
)

// DefaultInterval is the update interval used when a config specifies none.
const DefaultInterval = 250 * time.Millisecond

// nonZeroSuffix marks a required cache key that must also hold a non-empty
// value, e.g. "rows>0".
const nonZeroSuffix = ">0"

// BuildFunc builds a cell's content by writing into the session. The
// cursor is already inside the cell's sub-element when it runs.
type BuildFunc func(s *session.Session) error

// Config declares a cell. All fields are optional.
type Config struct {
	// Name overrides the generated unique element name.
	Name string
	// Interval is the minimum time between rebuilds. DefaultInterval when 0.
	Interval time.Duration
	// Continuous reschedules a rebuild every Interval without invalidation.
	Continuous bool
	// Progressive appends on rebuild instead of clearing first.
	Progressive bool
	// Requires lists cache keys that must exist before the callback may
	// run; a ">0" suffix additionally demands a non-empty value. Changes
	// to these keys invalidate the cell.
	Requires []string
	// Uses lists cache keys that merely invalidate the cell on change.
	Uses []string
	// Groups are visibility tags matched against the view's shown and
	// hidden patterns. Cells without groups belong to "default".
	Groups []string
	// Page and Tab restrict visibility to one routing target each.
	Page string
	Tab  string
}

// Stats carries build statistics of one cell.
type Stats struct {
	Builds          int
	TotalBuildTime  time.Duration
	LastBuildTime   time.Duration
	BuildsPerSecond float64
}

// Cell is a scheduled document region.
type Cell struct {
	sess *session.Session
	node *document.Node
	view *View

	name        string
	interval    time.Duration
	continuous  bool
	progressive bool
	requires    []string
	uses        []string
	groups      []string
	page        string
	tab         string
	onBuild     BuildFunc

	mu               sync.Mutex
	nextTick         time.Time
	lastInvalidation time.Time
	couldBuild       bool
	revisions        map[string]int64

	created   time.Time
	builds    int
	buildTime time.Duration
	lastBuild time.Duration
}

// New creates a cell at the session's current cursor position and performs
// its initial build. The build callback's error is returned unretried; the
// cell is still registered so a later tick can succeed.
func New(s *session.Session, view *View, cfg Config, onBuild BuildFunc) (*Cell, error) {
	now := time.Now()
	c := &Cell{
		sess:             s,
		view:             view,
		interval:         cfg.Interval,
		continuous:       cfg.Continuous,
		progressive:      cfg.Progressive,
		requires:         append([]string(nil), cfg.Requires...),
		uses:             append([]string(nil), cfg.Uses...),
		groups:           append([]string(nil), cfg.Groups...),
		page:             cfg.Page,
		tab:              cfg.Tab,
		onBuild:          onBuild,
		lastInvalidation: now,
		created:          now,
		revisions:        make(map[string]int64),
	}
	if c.interval <= 0 {
		c.interval = DefaultInterval
	}
	if len(c.groups) == 0 {
		c.groups = []string{"default"}
	}

	s.BeginUpdate()
	defer s.EndUpdate()

	c.name = cfg.Name
	if c.name == "" {
		c.name = s.ReserveUniqueName("cell", 4)
	}
	s.WriteHTML(`<div id="` + c.name + "\">\n")
	c.node = s.BeginSubElement(c.name)
	s.SetFlag(c.node, event.HandlerFlag, c)
	s.SetFlag(c.node, document.AnchorFlag, true)

	err := c.buildContent()

	s.EndSubElement()
	s.WriteHTML("</div><!-- " + c.name + " -->\n")

	if c.continuous {
		c.nextTick = now.Add(c.interval)
	}
	c.couldBuild = c.canBuild()
	return c, err
}

// Name returns the cell's unique element name.
func (c *Cell) Name() string { return c.name }

// Node returns the cell's bound sub-element.
func (c *Cell) Node() *document.Node { return c.node }

// Stats returns a snapshot of the cell's build statistics.
func (c *Cell) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		Builds:         c.builds,
		TotalBuildTime: c.buildTime,
		LastBuildTime:  c.lastBuild,
	}
	if alive := time.Since(c.created).Seconds(); alive > 0 {
		s.BuildsPerSecond = float64(c.builds) / alive
	}
	return s
}

// Invalidate schedules a rebuild at the next possible tick. Bursts of
// invalidations within one interval collapse into a single rebuild: when a
// tick is already pending the call is a no-op, otherwise the rebuild is
// scheduled no earlier than one interval after the previous invalidation.
func (c *Cell) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.nextTick.IsZero() {
		return
	}
	now := time.Now()
	next := c.lastInvalidation.Add(c.interval)
	if next.Before(now) {
		next = now
	}
	c.nextTick = next
	c.lastInvalidation = now
}

// Rebuild rebuilds the cell immediately, outside the scheduling loop.
func (c *Cell) Rebuild() error {
	return c.rebuild()
}

// HandleEvent implements event.Handler; a cell rebuild event triggers an
// immediate rebuild.
func (c *Cell) HandleEvent(ev event.Event) error {
	if ev.Type == event.TypeCellBuild {
		return c.rebuild()
	}
	return nil
}

// HandleLoop implements event.Handler and advances the scheduling state
// machine by one tick. A due tick rebuilds now; continuous cells are
// rescheduled one interval later, clamped to now so a stalled loop never
// fires a burst of catch-up rebuilds; one-shot ticks are consumed. Changes
// to observed cache keys and visibility flips force a due tick.
func (c *Cell) HandleLoop(now time.Time) (time.Time, error) {
	c.mu.Lock()
	if c.detectChanges() {
		c.nextTick = now
	}
	if can := c.canBuild(); can != c.couldBuild {
		c.couldBuild = can
		c.nextTick = now
	}
	if c.nextTick.IsZero() {
		c.mu.Unlock()
		return time.Time{}, nil
	}
	if now.Before(c.nextTick) {
		next := c.nextTick
		c.mu.Unlock()
		return next, nil
	}
	if c.continuous {
		c.nextTick = c.nextTick.Add(c.interval)
		if c.nextTick.Before(now) {
			c.nextTick = now
		}
	} else {
		c.nextTick = time.Time{}
	}
	next := c.nextTick
	c.mu.Unlock()

	err := c.rebuild()
	return next, err
}

// rebuild re-enters the cell's sub-element and rebuilds its content inside
// an atomic update bracket, so a reader pulling the page mid-rebuild still
// sees the previous state.
func (c *Cell) rebuild() error {
	c.sess.BeginUpdate()
	defer c.sess.EndUpdate()
	c.sess.EnterElement(c.node)
	defer c.sess.EndSubElement()
	return c.buildContent()
}

// buildContent assumes the cursor is inside the cell's sub-element. All
// tree mutations go through the session so they happen under the working
// tree lock, never racing a concurrent render or poll.
func (c *Cell) buildContent() error {
	if !c.progressive {
		c.sess.ClearElement(c.node)
		// Clear drops the flags along with the content.
		c.sess.SetFlag(c.node, event.HandlerFlag, c)
		c.sess.SetFlag(c.node, document.AnchorFlag, true)
	}
	c.sess.WriteHTML(`<div class="ld-cell">`)

	var err error
	if c.canBuild() && c.onBuild != nil {
		start := time.Now()
		err = c.onBuild(c.sess)
		took := time.Since(start)
		c.mu.Lock()
		c.builds++
		c.buildTime += took
		c.lastBuild = took
		c.mu.Unlock()
		metrics.CellBuild.Record(took)
		debug.LogTiming("cell "+c.name+" build", took)
	}

	c.sess.WriteHTML("</div>")
	c.updateRevisions()
	return err
}

// detectChanges reports whether any observed cache key changed since the
// last rebuild. Caller holds c.mu.
func (c *Cell) detectChanges() bool {
	cache := c.sess.Cache()
	for _, key := range c.observedKeys() {
		if cache.Revision(key) != c.revisions[key] {
			return true
		}
	}
	return false
}

func (c *Cell) updateRevisions() {
	cache := c.sess.Cache()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.observedKeys() {
		c.revisions[key] = cache.Revision(key)
	}
}

func (c *Cell) observedKeys() []string {
	keys := make([]string, 0, len(c.uses)+len(c.requires))
	keys = append(keys, c.uses...)
	for _, key := range c.requires {
		keys = append(keys, strings.TrimSuffix(key, nonZeroSuffix))
	}
	return keys
}

// canBuild reports whether all required cache keys are satisfied and the
// cell is visible under the current view. A cell with unmet requirements
// never runs its callback.
func (c *Cell) canBuild() bool {
	cache := c.sess.Cache()
	for _, key := range c.requires {
		if trimmed, ok := strings.CutSuffix(key, nonZeroSuffix); ok {
			if !cache.NonZero(trimmed) {
				return false
			}
		} else if !cache.Contains(key) {
			return false
		}
	}
	return c.mayBeShown()
}

// mayBeShown applies page/tab routing and group visibility patterns.
func (c *Cell) mayBeShown() bool {
	if c.view == nil {
		return true
	}
	page, tab, visible, hidden := c.view.state()
	if c.page != "" && c.page != page {
		return false
	}
	if c.tab != "" && c.tab != tab {
		return false
	}
	included := false
	for _, pattern := range visible {
		for _, group := range c.groups {
			if ok, _ := path.Match(pattern, group); ok {
				included = true
				break
			}
		}
	}
	if !included {
		return false
	}
	for _, pattern := range hidden {
		for _, group := range c.groups {
			if ok, _ := path.Match(pattern, group); ok {
				return false
			}
		}
	}
	return true
}
