// protocols/websocket/transport.go
package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"gopkg.in/tomb.v2"

	"github.com/lisuiheng/booking-notify/pkg/interfaces"
)

var _ interfaces.TransportProtocol = (*WSProtocol)(nil)

var errClosedBeforeConnect = errors.New("transport closed before connect")

// WSProtocol is a single WebSocket connection. It is not reusable: once
// Closed has fired a new WSProtocol must be created.
type WSProtocol struct {
	conn      *websocket.Conn
	config    Config
	logger    *slog.Logger
	tmb       tomb.Tomb
	msgChan   chan interfaces.Message
	errChan   chan error
	closeChan chan interfaces.CloseEvent

	mu         sync.Mutex
	writeMu    sync.Mutex
	closed     bool
	localClose *interfaces.CloseEvent
}

// Config 定义websocket特有的配置
type Config struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// PingInterval enables a keepalive ping loop when positive.
	PingInterval time.Duration
	BufferSize   int
}

func NewWebSocketProtocol(config Config, log *slog.Logger) (*WSProtocol, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("%w: empty url", interfaces.ErrConnectionFailed)
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 100
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &WSProtocol{
		config:    config,
		logger:    log,
		msgChan:   make(chan interfaces.Message, config.BufferSize),
		errChan:   make(chan error, 8),
		closeChan: make(chan interfaces.CloseEvent, 1),
	}, nil
}

// Connect dials the server. Closed only ever fires for a transport whose
// Connect succeeded.
func (p *WSProtocol) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("%w: %v", interfaces.ErrConnectionFailed, errClosedBeforeConnect)
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: p.config.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, p.config.URL, p.config.Header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("%w: %v (http status %d)", interfaces.ErrConnectionFailed, err, resp.StatusCode)
		}
		return fmt.Errorf("%w: %v", interfaces.ErrConnectionFailed, err)
	}
	p.conn = conn

	if p.config.PingInterval > 0 {
		conn.SetPongHandler(func(string) error {
			p.logger.Debug("pong received")
			return nil
		})
	}

	p.tmb.Go(func() error {
		if p.config.PingInterval > 0 {
			p.tmb.Go(p.pingLoop)
		}
		return p.readPump()
	})
	return nil
}

func (p *WSProtocol) readPump() error {
	defer p.logger.Debug("websocket read pump stopped")

	for {
		msgType, data, err := p.conn.ReadMessage()
		if err != nil {
			ev := p.closeEvent(err)
			close(p.msgChan)
			p.closeChan <- ev
			p.conn.Close()
			// a nil return alone leaves the tomb alive and the ping loop running
			p.tmb.Kill(nil)
			if ev.Deliberate() {
				return nil
			}
			return err
		}
		select {
		case p.msgChan <- interfaces.Message{Payload: data, Type: convertMsgType(msgType)}:
		case <-p.tmb.Dying():
			// keep reading so the close frame or socket error still surfaces
		}
	}
}

// closeEvent maps a read error to the close the peer observed.
func (p *WSProtocol) closeEvent(err error) interfaces.CloseEvent {
	p.mu.Lock()
	local := p.localClose
	p.mu.Unlock()
	if local != nil {
		return *local
	}

	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return interfaces.CloseEvent{Code: ce.Code, Reason: ce.Text, Err: err}
	}
	return interfaces.CloseEvent{Code: interfaces.CloseAbnormalClosure, Reason: err.Error(), Err: err}
}

func (p *WSProtocol) pingLoop() error {
	ticker := time.NewTicker(p.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.tmb.Dying():
			return nil
		case <-ticker.C:
			deadline := time.Now().Add(p.config.WriteTimeout)
			if err := p.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				p.reportError(fmt.Errorf("send ping: %w", err))
			}
		}
	}
}

func (p *WSProtocol) reportError(err error) {
	select {
	case p.errChan <- err:
	default:
		p.logger.Warn("transport error dropped, channel full", "error", err)
	}
}

func convertMsgType(wsType int) interfaces.MessageType {
	switch wsType {
	case websocket.TextMessage:
		return interfaces.MsgText
	case websocket.BinaryMessage:
		return interfaces.MsgBinary
	default:
		return interfaces.MsgControl
	}
}

func (p *WSProtocol) Send(data []byte, msgType interfaces.MessageType) error {
	p.mu.Lock()
	conn, closed := p.conn, p.closed
	p.mu.Unlock()

	if conn == nil || closed {
		return interfaces.ErrNotConnected
	}

	wsType := websocket.TextMessage
	if msgType == interfaces.MsgBinary {
		wsType = websocket.BinaryMessage
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(p.config.WriteTimeout)); err != nil {
		return err
	}
	if err := conn.WriteMessage(wsType, data); err != nil {
		p.reportError(fmt.Errorf("write message: %w", err))
		return err
	}
	return nil
}

func (p *WSProtocol) Receive() <-chan interfaces.Message {
	return p.msgChan
}

func (p *WSProtocol) Errors() <-chan error {
	return p.errChan
}

func (p *WSProtocol) Closed() <-chan interfaces.CloseEvent {
	return p.closeChan
}

func (p *WSProtocol) ProtocolType() string { return "websocket" }

// Close sends a close frame with code and tears the socket down. The
// resulting CloseEvent carries code, whatever the peer answers.
func (p *WSProtocol) Close(code int, reason string) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.localClose = &interfaces.CloseEvent{Code: code, Reason: reason}
	conn := p.conn
	p.mu.Unlock()

	if conn == nil {
		return nil
	}

	deadline := time.Now().Add(time.Second)
	if err := conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline); err != nil {
		p.logger.Debug("failed to write close frame", "error", err)
	}
	err := conn.Close()
	p.tmb.Kill(nil)
	p.tmb.Wait()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
