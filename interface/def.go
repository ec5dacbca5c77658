package iface

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Point is a position in surface pixel coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Touch is one entry of a touch list, in client coordinates.
type Touch struct {
	ClientX float64 `json:"clientX"`
	ClientY float64 `json:"clientY"`
}

// PointerEvent is what the page forwards for every mouse or touch event.
// Left/Top are the surface's bounding-rect origin in client coordinates.
type PointerEvent struct {
	Type    string  `json:"type"`
	ClientX float64 `json:"clientX"`
	ClientY float64 `json:"clientY"`
	Left    float64 `json:"left"`
	Top     float64 `json:"top"`
	Touches []Touch `json:"touches,omitempty"`
}

type PointerAction int

const (
	PointerBegin PointerAction = iota + 1
	PointerExtend
	PointerEnd
)

var ErrUnknownPointerEvent = errors.New("unknown pointer event")

// Resolve maps a mouse or touch event onto the begin/extend/end contract.
// Touch events only ever look at the first touch point.
func (e PointerEvent) Resolve() (PointerAction, Point, error) {
	switch e.Type {
	case "mousedown", "pointerdown":
		return PointerBegin, e.mousePoint(), nil
	case "mousemove", "pointermove":
		return PointerExtend, e.mousePoint(), nil
	case "mouseup", "mouseout", "mouseleave", "pointerup", "pointerleave":
		return PointerEnd, Point{}, nil
	case "touchstart", "touchmove":
		if len(e.Touches) == 0 {
			return 0, Point{}, fmt.Errorf("%s without touch points", e.Type)
		}
		p := Point{X: e.Touches[0].ClientX - e.Left, Y: e.Touches[0].ClientY - e.Top}
		if e.Type == "touchstart" {
			return PointerBegin, p, nil
		}
		return PointerExtend, p, nil
	case "touchend", "touchcancel":
		return PointerEnd, Point{}, nil
	}
	return 0, Point{}, fmt.Errorf("%w: %q", ErrUnknownPointerEvent, e.Type)
}

func (e PointerEvent) mousePoint() Point {
	return Point{X: e.ClientX - e.Left, Y: e.ClientY - e.Top}
}

type StatusKind string

const (
	StatusChecking StatusKind = "checking"
	StatusOnline   StatusKind = "online"
	StatusOffline  StatusKind = "offline"
)

// Status of the model server as seen by the management endpoint.
type Status struct {
	Kind   StatusKind        `json:"kind"`
	Models []json.RawMessage `json:"models,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// Outcome of one prediction call. Elapsed and PayloadKB are filled in even
// when the call fails.
type Outcome struct {
	Structured bool              `json:"structured"`
	BBoxes     []json.RawMessage `json:"bbox_result,omitempty"`
	Segms      []json.RawMessage `json:"segm_result,omitempty"`
	Raw        json.RawMessage   `json:"raw,omitempty"`
	Elapsed    time.Duration     `json:"elapsed"`
	PayloadKB  int               `json:"payloadKB"`
}

// Empty reports a structured result with nothing detected.
func (o Outcome) Empty() bool {
	return o.Structured && len(o.BBoxes) == 0 && len(o.Segms) == 0
}
