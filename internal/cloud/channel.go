// Package cloud is the device side of the cloud IoT platform: registration,
// the downlink event stream and the uplink data endpoint.
package cloud

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrClosed is returned by Read and Write once the client has been closed.
	ErrClosed = errors.New("cloud channel closed")

	// ErrNotRegistered is returned by Write before Register succeeded.
	ErrNotRegistered = errors.New("cloud device not registered")

	// ErrMaxReconnectsExceeded is returned when the maximum number of reconnect attempts is exceeded.
	ErrMaxReconnectsExceeded = errors.New("max reconnects exceeded")
)

// Channel is the blocking read/write boundary the passthrough workers run against.
type Channel interface {
	// Read blocks until a downlink frame is available and copies it into buf.
	// It returns the full frame length, which exceeds len(buf) when the frame was truncated.
	Read(ctx context.Context, buf []byte) (int, error)

	// Write sends one uplink frame, giving up after timeout.
	Write(ctx context.Context, data []byte, timeout time.Duration) error
}

// Message is the JSON envelope carrying a raw frame in both directions.
type Message struct {
	MsgID string `json:"msg_id"`
	Raw   []byte `json:"raw,omitempty"` // base64 on the wire
}
