// Package session implements the owner of one document tree: the write
// cursor, the atomic-update snapshot, per-format rendering and the routing
// of interaction events to the widgets and cells embedded in the tree.
package session

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/livedoc-io/livedoc/pkg/cache"
	"github.com/livedoc-io/livedoc/pkg/document"
	"github.com/livedoc-io/livedoc/pkg/event"
)

// RootName is the name of every session's root element and the first
// component of all element paths.
const RootName = "body"

// MaxNestingDepth bounds the write cursor stack. Exceeding it indicates a
// runaway begin/end imbalance in the calling code and panics.
const MaxNestingDepth = 100

// ConsoleSink mirrors console-format output to a terminal. Implemented by
// the console package.
type ConsoleSink interface {
	Print(text string)
	Clear()
	Progressive() bool
	// Replace redraws the whole console body for replacing sinks.
	Replace(body string)
	// PrintMarkdown pretty-prints markdown source for the terminal.
	PrintMarkdown(source string)
}

// Session holds the content of one live document and provides methods to
// write, snapshot and render it.
//
// Two locks guard the state: mu protects the working tree (writers only
// ever take this one), backupMu protects the most recent committed
// snapshot served to readers while an update bracket is open.
type Session struct {
	mu       sync.Mutex
	backupMu sync.Mutex

	title   string
	formats []string

	root   *document.Node
	backup *document.Node
	cursor *document.Node
	stack  []*document.Node

	updateDepth int

	nameCounter  map[string]int
	titleCounter map[string]int

	pageBackups map[string][]byte
	bodyBackups map[string][]byte

	queue       *event.Queue
	eventTarget atomic.Pointer[Session]
	invalid     atomic.Bool
	cache       *cache.Cache

	console ConsoleSink
	echo    io.Writer

	// Per-client incremental push bookkeeping.
	elementTimes map[string]time.Time
	lastClientID string
	oldClientIDs map[string]struct{}

	renderer *htmlRenderer
}

// Option configures a Session.
type Option func(*Session)

// WithTitle sets the page title used by the HTML renderer.
func WithTitle(title string) Option {
	return func(s *Session) { s.title = title }
}

// WithFormats sets the output formats the session records. Writes for any
// other format are silently skipped.
func WithFormats(formats ...string) Option {
	return func(s *Session) { s.formats = formats }
}

// WithCache attaches a prepared cache instead of the default in-memory one.
func WithCache(c *cache.Cache) Option {
	return func(s *Session) { s.cache = c }
}

// WithConsole mirrors console-format writes to the given sink.
func WithConsole(sink ConsoleSink) Option {
	return func(s *Session) { s.console = sink }
}

// WithEcho additionally copies text writes to an external stream.
func WithEcho(w io.Writer) Option {
	return func(s *Session) { s.echo = w }
}

// New creates a session with an empty document tree. Without options it
// records HTML only, matching the most common live-view setup.
func New(opts ...Option) *Session {
	s := &Session{
		title:   "Live Document",
		formats: []string{document.FormatHTML},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.root = document.NewNode(RootName, s.formats)
	s.cursor = s.root
	s.nameCounter = make(map[string]int)
	s.titleCounter = make(map[string]int)
	s.pageBackups = make(map[string][]byte)
	s.bodyBackups = make(map[string][]byte)
	s.elementTimes = make(map[string]time.Time)
	s.oldClientIDs = make(map[string]struct{})
	s.queue = event.NewQueue()
	if s.cache == nil {
		s.cache = cache.New(1)
	}
	s.renderer = newHTMLRenderer(s.title)
	// Unprocessed events of a prior run, if any, come back through the
	// cache the queue is bound to.
	_ = s.queue.Bind(s.cache)
	return s
}

// Title returns the session's page title.
func (s *Session) Title() string { return s.title }

// Formats returns the configured output formats.
func (s *Session) Formats() []string {
	return append([]string(nil), s.formats...)
}

// HasFormat reports whether the session records the given format.
func (s *Session) HasFormat(format string) bool {
	for _, f := range s.formats {
		if f == format {
			return true
		}
	}
	return false
}

// Cache returns the session's versioned key/value cache.
func (s *Session) Cache() *cache.Cache { return s.cache }

// Queue returns the session's pending event queue.
func (s *Session) Queue() *event.Queue { return s.queue }

// Root returns the document root. Intended for tests and read paths that
// hold no writes; writers go through the cursor API.
func (s *Session) Root() *document.Node { return s.root }

// Write appends content to the current cursor element for the given
// format. Unconfigured formats are skipped and reported as false.
func (s *Session) Write(format string, content []byte) bool {
	if !s.HasFormat(format) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.cursor.AddData(format, content)
	return true
}

// WriteHTML appends HTML code to the current element.
func (s *Session) WriteHTML(code string) bool {
	return s.Write(document.FormatHTML, []byte(code))
}

// WriteMarkdown appends markdown source, terminated by a newline.
func (s *Session) WriteMarkdown(code string) bool {
	return s.Write(document.FormatMarkdown, []byte(code+"\n"))
}

// WriteText appends plain text to the text, markdown and console streams
// and mirrors it to the attached console sink and echo stream, if any.
func (s *Session) WriteText(text string) bool {
	any := false
	if s.echo != nil {
		_, _ = io.WriteString(s.echo, text)
		any = true
	}
	if s.console != nil && s.console.Progressive() {
		s.console.Print(text)
		any = true
	}
	if s.Write(document.FormatText, []byte(text)) {
		any = true
	}
	if s.WriteMarkdown(text) {
		any = true
	}
	if s.Write(document.FormatConsole, []byte(text+"\n")) {
		any = true
	}
	return any
}

// BeginSubElement creates a named child at the cursor, pushes the cursor
// onto the element stack and makes the child the new write target.
func (s *Session) BeginSubElement(name string) *document.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stack) >= MaxNestingDepth {
		panic(fmt.Sprintf("session: sub element nesting exceeds %d levels, unbalanced begin/end calls", MaxNestingDepth))
	}
	child := s.cursor.AddSubElement(name)
	s.stack = append(s.stack, s.cursor)
	s.cursor = child
	return child
}

// EnterElement makes a previously created element the write target without
// creating a new one, e.g. to update a cell region in place.
func (s *Session) EnterElement(element *document.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stack) >= MaxNestingDepth {
		panic(fmt.Sprintf("session: sub element nesting exceeds %d levels, unbalanced begin/end calls", MaxNestingDepth))
	}
	s.stack = append(s.stack, s.cursor)
	s.cursor = element
}

// EndSubElement pops the cursor back to the previous element. Popping past
// the root is a programming defect and panics.
func (s *Session) EndSubElement() *document.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stack) == 0 {
		panic("session: no remaining elements on target stack, mismatching count of begin and end sub element calls")
	}
	s.cursor = s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	return s.cursor
}

// Depth returns the current cursor nesting depth.
func (s *Session) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stack)
}

// BeginUpdate opens an atomic update bracket. The bracket nests; only the
// outermost call snapshots the working tree into the backup slot, so
// readers keep seeing the last committed state until the matching
// outermost EndUpdate.
func (s *Session) BeginUpdate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backupMu.Lock()
	defer s.backupMu.Unlock()
	s.updateDepth++
	if s.updateDepth == 1 {
		s.backup = s.root.Clone(nil)
	}
}

// EndUpdate closes one level of the update bracket.
func (s *Session) EndUpdate() {
	s.backupMu.Lock()
	defer s.backupMu.Unlock()
	if s.updateDepth == 0 {
		panic("session: EndUpdate without matching BeginUpdate")
	}
	s.updateDepth--
}

// InUpdate reports whether an update bracket is currently open.
func (s *Session) InUpdate() bool {
	s.backupMu.Lock()
	defer s.backupMu.Unlock()
	return s.updateDepth > 0
}

// Snapshot explicitly refreshes the backup copy of the working tree.
func (s *Session) Snapshot() {
	s.mu.Lock()
	cp := s.root.Clone(nil)
	s.mu.Unlock()
	s.backupMu.Lock()
	s.backup = cp
	s.backupMu.Unlock()
}

// Clear empties the whole document and resets the cursor and the name and
// title counters. The root node's identity is preserved.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.root.Clear()
	s.cursor = s.root
	s.stack = nil
	s.nameCounter = make(map[string]int)
	s.titleCounter = make(map[string]int)
}

// ClearElement empties a bound element's content and children under the
// working-tree lock, so concurrent readers never observe a torn clear. The
// element keeps its identity and its place in the parent's entry list.
func (s *Session) ClearElement(element *document.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	element.Clear()
}

// SetFlag stores a routing flag on an element under the working-tree lock.
func (s *Session) SetFlag(element *document.Node, key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	element.Flags[key] = value
}

// ReserveUniqueName returns a name unique within this session, appending a
// numeric suffix from the second request on. digits pads the suffix, which
// keeps generated file and slot names sortable.
func (s *Session) ReserveUniqueName(name string, digits int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nameCounter[name]++
	n := s.nameCounter[name]
	if n == 1 && digits == 0 {
		return name
	}
	return fmt.Sprintf("%s_%0*d", name, digits, n)
}

// ReserveTitle deduplicates display titles by numbering repeats.
func (s *Session) ReserveTitle(title string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titleCounter[title]++
	if n := s.titleCounter[title]; n > 1 {
		return fmt.Sprintf("%s (%d)", title, n)
	}
	return title
}

// MarkInvalid flags the session's content as outdated, forcing the reload
// supervisor to re-execute the source artifact on its next tick even when
// the artifact bytes are unchanged.
func (s *Session) MarkInvalid() { s.invalid.Store(true) }

// Invalid reports whether the content was flagged as outdated. The flag is
// reset by the supervisor after a successful reload.
func (s *Session) Invalid() bool { return s.invalid.Load() }

// ResetInvalid clears the invalidation flag.
func (s *Session) ResetInvalid() { s.invalid.Store(false) }

// Embed appends another session's rendered body into this session at the
// current cursor, per shared format. The other session must have been
// rendered since its last change.
func (s *Session) Embed(other *Session) {
	for _, f := range s.formats {
		if !other.HasFormat(f) {
			continue
		}
		s.Write(f, other.GetBody(f))
	}
}
