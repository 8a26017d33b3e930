// Package event defines the interaction events raised by a live document
// page and the queue that buffers them between scheduler ticks.
package event

import "time"

// Well-known event types.
const (
	TypeClick     = "click"
	TypeValue     = "value"
	TypeUpload    = "upload"
	TypeCellBuild = "cell_build"
)

// Event is a single interaction raised by a connected client or by the
// engine itself. Target names the widget or cell the event is addressed to.
type Event struct {
	Type    string         `json:"type"`
	Target  string         `json:"target"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Handler consumes routed events and participates in the cooperative
// scheduling loop. Widgets and cells register themselves as handlers in
// their document node's Flags.
type Handler interface {
	// HandleEvent processes one event addressed to this handler.
	HandleEvent(ev Event) error
	// HandleLoop is called once per scheduler tick and returns the time of
	// the next scheduled action, or the zero time when none is pending.
	HandleLoop(now time.Time) (time.Time, error)
}

// HandlerFlag is the node flag key under which handlers register.
const HandlerFlag = "handler"
