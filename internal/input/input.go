// Package input models the viewer-to-host control channel: keyboard and
// mouse events captured on the viewer, carried as small frames on the input
// track, and injected into the host's desktop. OS-level capture and
// injection are external collaborators behind the Capturer and Injector
// contracts; this package owns the event model and its wire codec.
package input

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/zsiec/beam/internal/media"
	"github.com/zsiec/beam/internal/pump"
)

// Device identifies the originating device of an event.
type Device uint8

// Devices.
const (
	DeviceKeyboard Device = iota + 1
	DeviceMouse
)

// Action is what happened on the device.
type Action uint8

// Actions. Move and Scroll are mouse-only.
const (
	ActionPress Action = iota + 1
	ActionRelease
	ActionMove
	ActionScroll
)

// Event is one input event. Code is the key code or mouse button; X and Y
// carry absolute coordinates for moves and signed deltas for scrolls.
type Event struct {
	Device Device
	Action Action
	Code   uint16
	X      int32
	Y      int32
}

// wireSize is the fixed encoded size: device, action, code, x, y.
const wireSize = 1 + 1 + 2 + 4 + 4

// Encode serializes the event as one big-endian input-track frame.
func (e Event) Encode() media.Frame {
	buf := make([]byte, wireSize)
	buf[0] = byte(e.Device)
	buf[1] = byte(e.Action)
	binary.BigEndian.PutUint16(buf[2:], e.Code)
	binary.BigEndian.PutUint32(buf[4:], uint32(e.X))
	binary.BigEndian.PutUint32(buf[8:], uint32(e.Y))
	return buf
}

// Decode parses an input-track frame. Unknown device or action values are
// rejected so a corrupted frame cannot inject a nonsense event.
func Decode(frame media.Frame) (Event, error) {
	if len(frame) != wireSize {
		return Event{}, fmt.Errorf("input frame is %d bytes, want %d", len(frame), wireSize)
	}
	e := Event{
		Device: Device(frame[0]),
		Action: Action(frame[1]),
		Code:   binary.BigEndian.Uint16(frame[2:]),
		X:      int32(binary.BigEndian.Uint32(frame[4:])),
		Y:      int32(binary.BigEndian.Uint32(frame[8:])),
	}
	if e.Device != DeviceKeyboard && e.Device != DeviceMouse {
		return Event{}, fmt.Errorf("unknown input device %d", e.Device)
	}
	if e.Action < ActionPress || e.Action > ActionScroll {
		return Event{}, fmt.Errorf("unknown input action %d", e.Action)
	}
	if e.Device == DeviceKeyboard && (e.Action == ActionMove || e.Action == ActionScroll) {
		return Event{}, fmt.Errorf("keyboard cannot %d", e.Action)
	}
	return e, nil
}

// Capturer is the viewer-side collaborator grabbing local input. Events
// arrive on a bounded channel consumed by the input egress pump.
type Capturer interface {
	Events() <-chan Event
}

// Injector is the host-side collaborator applying remote input to the
// desktop. A failed injection is one failed pump attempt.
type Injector interface {
	Inject(Event) error
}

// ChannelCapturer is a channel-backed Capturer for loopback runs, tests,
// and embedders that feed events programmatically.
type ChannelCapturer chan Event

// Events returns the channel itself.
func (c ChannelCapturer) Events() <-chan Event { return c }

// LogInjector logs events instead of applying them, the headless default
// when no OS injector is wired in.
type LogInjector struct {
	Log *slog.Logger
}

// Inject logs the event.
func (i LogInjector) Inject(e Event) error {
	log := i.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("input event", "device", e.Device, "action", e.Action, "code", e.Code, "x", e.X, "y", e.Y)
	return nil
}

// InjectorSink adapts an Injector into the sink the input ingress pump
// writes decoded track frames to.
type InjectorSink struct {
	Injector Injector
}

// Put decodes and injects one event frame.
func (s InjectorSink) Put(frame media.Frame) error {
	ev, err := Decode(frame)
	if err != nil {
		return err
	}
	return s.Injector.Inject(ev)
}

// EncodeSource adapts a Capturer into the source the input egress pump
// takes wire frames from, racing capture against the stop signal.
type EncodeSource struct {
	Capturer Capturer
}

// Take returns the next captured event, already encoded.
func (s EncodeSource) Take(stop <-chan struct{}) (media.Frame, error) {
	select {
	case ev, ok := <-s.Capturer.Events():
		if !ok {
			return nil, fmt.Errorf("input capture closed")
		}
		return ev.Encode(), nil
	case <-stop:
		return nil, pump.ErrStopped
	}
}
