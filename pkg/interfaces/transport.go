// pkg/interfaces/transport.go
package interfaces

import (
	"context"
	"errors"
)

var (
	ErrConnectionFailed    = errors.New("connection failed")
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
	ErrNotConnected        = errors.New("transport not connected")
)

// Close codes from RFC 6455 that the notification channel cares about.
const (
	CloseNormalClosure   = 1000
	CloseGoingAway       = 1001
	CloseAbnormalClosure = 1006
)

type TransportProtocol interface {
	Connect(ctx context.Context) error
	Send(data []byte, msgType MessageType) error
	Receive() <-chan Message
	// Errors reports non-fatal transport errors (ping or write failures).
	Errors() <-chan error
	// Closed yields exactly one CloseEvent once the connection is gone.
	Closed() <-chan CloseEvent
	Close(code int, reason string) error
	ProtocolType() string
}

type Message struct {
	Payload []byte
	Type    MessageType
}

type MessageType int

const (
	MsgText    MessageType = iota // JSON or plain text
	MsgBinary                     // opaque binary frame
	MsgControl                    // ping/pong/close
)

// CloseEvent describes how a transport ended.
type CloseEvent struct {
	Code   int
	Reason string
	Err    error
}

// Deliberate reports whether the peer or the client closed on purpose.
func (e CloseEvent) Deliberate() bool {
	return e.Code == CloseNormalClosure
}
