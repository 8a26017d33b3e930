// Package widget provides the minimal interactive plumbing of a live
// document: buttons, sliders, file uploads and timers. Widgets render a
// small HTML control wired to the page's event script and register
// themselves as event handlers on their document node, so browser events
// are routed back to them by name.
package widget

import (
	"encoding/base64"
	"fmt"
	"html"
	"strconv"
	"time"

	"github.com/livedoc-io/livedoc/pkg/document"
	"github.com/livedoc-io/livedoc/pkg/event"
	"github.com/livedoc-io/livedoc/pkg/session"
)

// base carries what every widget shares: its unique element name and the
// bound sub-element.
type base struct {
	name string
	node *document.Node
	sess *session.Session
}

// Name returns the widget's unique element name.
func (b *base) Name() string { return b.name }

// Node returns the widget's bound document node.
func (b *base) Node() *document.Node { return b.node }

// attach creates the widget's sub-element at the cursor, wraps it in an
// id-carrying container so the page can swap it in place, and registers the
// handler under the widget back-link flag.
func attach(s *session.Session, kind string, h event.Handler) base {
	name := s.ReserveUniqueName(kind, 4)
	s.WriteHTML(`<div id="` + name + `">`)
	node := s.BeginSubElement(name)
	s.SetFlag(node, event.HandlerFlag, h)
	s.SetFlag(node, document.AnchorFlag, true)
	return base{name: name, node: node, sess: s}
}

// detach closes the widget's sub-element and its anchor container.
func (b *base) detach() {
	b.sess.EndSubElement()
	b.sess.WriteHTML("</div>")
}

// Button renders a clickable button. Clicks arrive as click events and
// invoke the callback on the next scheduling pass.
type Button struct {
	base
	onClick func() error
}

// NewButton adds a button with the given caption at the current cursor.
func NewButton(s *session.Session, caption string, onClick func() error) *Button {
	b := &Button{onClick: onClick}
	b.base = attach(s, "button", b)
	s.Write(document.FormatHTML, []byte(fmt.Sprintf(
		`<button onclick="livedocEvent('click','%s')">%s</button>`,
		b.name, html.EscapeString(caption))))
	s.Write(document.FormatText, []byte("["+caption+"]"))
	b.detach()
	return b
}

// HandleEvent implements event.Handler.
func (b *Button) HandleEvent(ev event.Event) error {
	if ev.Type == event.TypeClick && b.onClick != nil {
		return b.onClick()
	}
	return nil
}

// HandleLoop implements event.Handler; buttons schedule nothing.
func (b *Button) HandleLoop(time.Time) (time.Time, error) {
	return time.Time{}, nil
}

// Slider renders a value slider. Value events update the stored value and
// invoke the callback.
type Slider struct {
	base
	value    float64
	onChange func(value float64) error
}

// NewSlider adds a slider with the given range at the current cursor.
func NewSlider(s *session.Session, value, min, max, step float64, onChange func(float64) error) *Slider {
	sl := &Slider{value: value, onChange: onChange}
	sl.base = attach(s, "slider", sl)
	s.Write(document.FormatHTML, []byte(fmt.Sprintf(
		`<input type="range" value="%g" min="%g" max="%g" step="%g" `+
			`oninput="livedocEvent('value','%s',{value:this.value})">`,
		value, min, max, step, sl.name)))
	sl.detach()
	return sl
}

// Value returns the slider's last synced value.
func (sl *Slider) Value() float64 { return sl.value }

// HandleEvent implements event.Handler.
func (sl *Slider) HandleEvent(ev event.Event) error {
	if ev.Type != event.TypeValue {
		return nil
	}
	v, ok := payloadFloat(ev.Payload, "value")
	if !ok {
		return fmt.Errorf("slider %s: malformed value payload", sl.name)
	}
	sl.value = v
	if sl.onChange != nil {
		return sl.onChange(v)
	}
	return nil
}

// HandleLoop implements event.Handler; sliders schedule nothing.
func (sl *Slider) HandleLoop(time.Time) (time.Time, error) {
	return time.Time{}, nil
}

// FileUpload renders a file input. Upload events deliver the file name and
// base64-encoded content.
type FileUpload struct {
	base
	onUpload func(filename string, data []byte) error
}

// NewFileUpload adds a file upload control at the current cursor.
func NewFileUpload(s *session.Session, onUpload func(string, []byte) error) *FileUpload {
	u := &FileUpload{onUpload: onUpload}
	u.base = attach(s, "upload", u)
	s.Write(document.FormatHTML, []byte(fmt.Sprintf(
		`<input type="file" data-target="%s">`, u.name)))
	u.detach()
	return u
}

// HandleEvent implements event.Handler.
func (u *FileUpload) HandleEvent(ev event.Event) error {
	if ev.Type != event.TypeUpload || u.onUpload == nil {
		return nil
	}
	name, _ := ev.Payload["name"].(string)
	encoded, _ := ev.Payload["data"].(string)
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("upload %s: decode payload: %w", u.name, err)
	}
	return u.onUpload(name, data)
}

// HandleLoop implements event.Handler; uploads schedule nothing.
func (u *FileUpload) HandleLoop(time.Time) (time.Time, error) {
	return time.Time{}, nil
}

// Timer fires a callback in a fixed interval through the scheduling loop.
// It renders nothing; the node only anchors the handler registration.
type Timer struct {
	base
	interval time.Duration
	nextTick time.Time
	onTick   func() error
}

// NewTimer adds a timer firing every interval.
func NewTimer(s *session.Session, interval time.Duration, onTick func() error) *Timer {
	t := &Timer{interval: interval, onTick: onTick}
	t.base = attach(s, "timer", t)
	t.nextTick = time.Now().Add(interval)
	t.detach()
	return t
}

// HandleEvent implements event.Handler; timers receive no client events.
func (t *Timer) HandleEvent(event.Event) error { return nil }

// HandleLoop fires the callback when due and reschedules without building
// up debt after a stalled loop.
func (t *Timer) HandleLoop(now time.Time) (time.Time, error) {
	if now.Before(t.nextTick) {
		return t.nextTick, nil
	}
	t.nextTick = t.nextTick.Add(t.interval)
	if t.nextTick.Before(now) {
		t.nextTick = now
	}
	var err error
	if t.onTick != nil {
		err = t.onTick()
	}
	return t.nextTick, err
}

func payloadFloat(payload map[string]any, key string) (float64, bool) {
	switch v := payload[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
