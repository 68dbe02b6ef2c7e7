// Package registry is the in-memory session and device directory for the
// relay hub. It tracks which devices have joined which sessions and buffers
// the files exchanged within each session.
package registry

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// OutboundMessage is a pre-serialized frame queued for delivery to a device's
// connection. Kind is a gorilla/websocket message type (TextMessage or
// BinaryMessage).
type OutboundMessage struct {
	Kind int
	Data []byte
}

const outboundQueueSize = 64

// Device is one live connection, identified for the lifetime of that
// connection. Out is drained by a single writer goroutine owned by the
// connection handler; sends to it are always non-blocking. sendMu
// serializes enqueue calls across goroutines (a connection's own handlers
// and a concurrent broadcast.ToSession from another connection both reach
// the same Device), so a multi-frame sequence can claim exclusivity via
// WithExclusiveSend.
type Device struct {
	ID          string
	Name        string
	Type        string
	ConnectedAt time.Time
	Out         chan OutboundMessage

	sendMu sync.Mutex
}

// NewDevice constructs a Device with a ready outbound queue.
func NewDevice(id, name, deviceType string) *Device {
	return &Device{
		ID:          id,
		Name:        name,
		Type:        deviceType,
		ConnectedAt: time.Now(),
		Out:         make(chan OutboundMessage, outboundQueueSize),
	}
}

// Send enqueues a frame for delivery, dropping it if the device's outbound
// queue is full. A slow or dead consumer must never block a broadcast to
// other session members.
func (d *Device) Send(msg OutboundMessage) {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()
	d.sendLocked(msg)
}

// SendJSON is a convenience wrapper that callers use once they've already
// marshalled a control frame to bytes.
func (d *Device) SendJSON(data []byte) {
	d.Send(OutboundMessage{Kind: websocket.TextMessage, Data: data})
}

// SendBinary enqueues a raw binary frame (already prefixed with the 36-byte
// file id, per the wire format).
func (d *Device) SendBinary(data []byte) {
	d.Send(OutboundMessage{Kind: websocket.BinaryMessage, Data: data})
}

func (d *Device) sendLocked(msg OutboundMessage) {
	select {
	case d.Out <- msg:
	default:
	}
}

// ExclusiveSender emits frames on a Device while that device's send lock is
// held, so the sequence can't be interleaved with a frame from another
// goroutine's Send/SendJSON/SendBinary call (most notably broadcast.ToSession
// running for another connection).
type ExclusiveSender struct {
	d *Device
}

// JSON enqueues a control frame as part of the exclusive sequence.
func (s ExclusiveSender) JSON(data []byte) {
	s.d.sendLocked(OutboundMessage{Kind: websocket.TextMessage, Data: data})
}

// Binary enqueues a binary frame as part of the exclusive sequence.
func (s ExclusiveSender) Binary(data []byte) {
	s.d.sendLocked(OutboundMessage{Kind: websocket.BinaryMessage, Data: data})
}

// WithExclusiveSend holds the device's send lock for the duration of fn.
// Use it for a multi-frame sequence that must reach the wire as a contiguous
// run, such as a file download's start/chunks/complete frames: while fn
// runs, any concurrent Send/SendJSON/SendBinary call on this device (e.g.
// from broadcast.ToSession on another connection's goroutine) blocks until
// fn returns, so it can never land a frame in the middle of the sequence.
func (d *Device) WithExclusiveSend(fn func(ExclusiveSender)) {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()
	fn(ExclusiveSender{d: d})
}
