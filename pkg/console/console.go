// Package console implements the terminal sink of a live document. A sink
// either appends text progressively (like a scrolling log) or clears and
// reprints the whole console body each render pass, and can pretty-print
// the markdown rendering of a document for interactive terminals.
package console

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"golang.org/x/term"
)

// DefaultWidth is used when the output is not a terminal.
const DefaultWidth = 80

// Styles for supervisor status banners.
var (
	sickStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	healthyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
)

// Sink writes console-format document output to a terminal or stream.
type Sink struct {
	out         io.Writer
	progressive bool
	width       int
}

// Option configures a Sink.
type Option func(*Sink)

// WithOutput directs the sink at the given writer instead of stdout.
func WithOutput(w io.Writer) Option {
	return func(s *Sink) { s.out = w }
}

// WithProgressive switches the sink to append-only mode: Replace calls
// print only and never clear the screen.
func WithProgressive(progressive bool) Option {
	return func(s *Sink) { s.progressive = progressive }
}

// WithWidth fixes the rendering width instead of detecting it.
func WithWidth(width int) Option {
	return func(s *Sink) { s.width = width }
}

// NewSink creates a console sink writing to stdout by default.
func NewSink(opts ...Option) *Sink {
	s := &Sink{out: os.Stdout}
	for _, opt := range opts {
		opt(s)
	}
	if s.width == 0 {
		s.width = detectWidth(s.out)
	}
	return s
}

// Progressive reports whether the sink appends instead of replacing.
func (s *Sink) Progressive() bool { return s.progressive }

// Width returns the rendering width in cells.
func (s *Sink) Width() int { return s.width }

// Print writes raw text to the sink.
func (s *Sink) Print(text string) {
	fmt.Fprint(s.out, text)
}

// Clear erases the terminal and homes the cursor. No-op for progressive
// sinks, which never rewrite history.
func (s *Sink) Clear() {
	if s.progressive {
		return
	}
	fmt.Fprint(s.out, "\033[2J\033[H")
}

// Replace redraws the console body: clear then print for replacing sinks,
// plain print for progressive ones.
func (s *Sink) Replace(body string) {
	s.Clear()
	s.Print(body)
}

// PrintMarkdown renders markdown source for the terminal and prints it.
// Falls back to the raw source when rendering fails.
func (s *Sink) PrintMarkdown(source string) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(s.width),
	)
	if err != nil {
		s.Print(source)
		return
	}
	rendered, err := r.Render(source)
	if err != nil {
		s.Print(source)
		return
	}
	s.Print(rendered)
}

// SickBanner formats the message shown when a reloaded artifact fails.
func SickBanner(msg string) string {
	return sickStyle.Render(msg)
}

// HealthyBanner formats the message shown when a previously failing
// artifact builds again.
func HealthyBanner(msg string) string {
	return healthyStyle.Render(msg)
}

// Rule returns a horizontal rule padded to the sink width, optionally with
// an embedded title.
func (s *Sink) Rule(title string) string {
	if title == "" {
		return strings.Repeat("─", s.width) + "\n"
	}
	label := " " + title + " "
	pad := s.width - runewidth.StringWidth(label) - 2
	if pad < 0 {
		pad = 0
	}
	return "──" + label + strings.Repeat("─", pad) + "\n"
}

func detectWidth(out io.Writer) int {
	if f, ok := out.(*os.File); ok {
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			return w
		}
	}
	return DefaultWidth
}
