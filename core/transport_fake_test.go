package core

import (
	"context"
	"sync"

	"github.com/lisuiheng/booking-notify/pkg/interfaces"
)

// fakeTransport follows the TransportProtocol contract: Receive is closed
// before the single CloseEvent is delivered.
type fakeTransport struct {
	endpoint   string
	connectErr error

	msgs   chan interfaces.Message
	errs   chan error
	closed chan interfaces.CloseEvent

	mu       sync.Mutex
	sent     [][]byte
	closeArg *int
	ended    bool
	dropOnce sync.Once
}

func newFakeTransport(endpoint string, connectErr error) *fakeTransport {
	return &fakeTransport{
		endpoint:   endpoint,
		connectErr: connectErr,
		msgs:       make(chan interfaces.Message, 16),
		errs:       make(chan error, 4),
		closed:     make(chan interfaces.CloseEvent, 1),
	}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	return f.connectErr
}

func (f *fakeTransport) Send(data []byte, _ interfaces.MessageType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) Receive() <-chan interfaces.Message { return f.msgs }

func (f *fakeTransport) Errors() <-chan error { return f.errs }

func (f *fakeTransport) Closed() <-chan interfaces.CloseEvent { return f.closed }

func (f *fakeTransport) ProtocolType() string { return "fake" }

func (f *fakeTransport) Close(code int, reason string) error {
	f.mu.Lock()
	if f.closeArg == nil {
		f.closeArg = &code
	}
	f.mu.Unlock()
	if f.connectErr == nil {
		f.drop(code, reason)
	}
	return nil
}

// push delivers an inbound text frame.
func (f *fakeTransport) push(payload string) {
	f.msgs <- interfaces.Message{Payload: []byte(payload), Type: interfaces.MsgText}
}

// drop ends the connection as if the peer closed with code.
func (f *fakeTransport) drop(code int, reason string) {
	f.dropOnce.Do(func() {
		f.mu.Lock()
		f.ended = true
		f.mu.Unlock()
		close(f.msgs)
		f.closed <- interfaces.CloseEvent{Code: code, Reason: reason}
	})
}

func (f *fakeTransport) closedWith() (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closeArg == nil {
		return 0, false
	}
	return *f.closeArg, true
}

func (f *fakeTransport) sentFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

// fakeDialer hands out fake transports; connect errors are consumed from
// failures in order, then transports connect successfully.
type fakeDialer struct {
	mu         sync.Mutex
	failures   []error
	transports []*fakeTransport
}

func (d *fakeDialer) factory(endpoint string) (interfaces.TransportProtocol, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var err error
	if len(d.failures) > 0 {
		err, d.failures = d.failures[0], d.failures[1:]
	}
	t := newFakeTransport(endpoint, err)
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *fakeDialer) failNext(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = append(d.failures, errs...)
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.transports)
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

func (d *fakeDialer) get(i int) *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transports[i]
}

// live counts transports that connected and have not ended.
func (d *fakeDialer) live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, t := range d.transports {
		if t.connectErr != nil {
			continue
		}
		t.mu.Lock()
		ended := t.ended
		t.mu.Unlock()
		if !ended {
			n++
		}
	}
	return n
}
