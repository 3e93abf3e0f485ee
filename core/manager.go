package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"k8s.io/utils/clock"

	"github.com/lisuiheng/booking-notify/pkg/interfaces"
	"github.com/lisuiheng/booking-notify/protocols/websocket"
	"github.com/lisuiheng/booking-notify/storage"
	"github.com/lisuiheng/booking-notify/utils"
)

// State 表示通知通道的连接状态
type State string

const (
	StateClosed     State = "closed"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosing    State = "closing"
)

// Identity is who the channel is opened for. AuthToken overrides the token
// source when set.
type Identity struct {
	SubjectID string
	Role      string
	AuthToken string
}

// TransportFactory creates an unconnected transport for endpoint.
type TransportFactory func(endpoint string) (interfaces.TransportProtocol, error)

type Option func(*Manager)

func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.logger = log
		}
	}
}

func WithTransportFactory(f TransportFactory) Option {
	return func(m *Manager) { m.factory = f }
}

func WithTokenSource(src storage.TokenSource) Option {
	return func(m *Manager) { m.tokens = src }
}

func WithClock(c clock.WithDelayedExecution) Option {
	return func(m *Manager) { m.clock = c }
}

// Manager owns one logical notification channel: at most one live
// transport, a listener registry that survives reconnects, and the
// scheduled reconnect between them.
type Manager struct {
	config   Config
	base     string
	logger   *slog.Logger
	factory  TransportFactory
	tokens   storage.TokenSource
	clock    clock.WithDelayedExecution
	registry *Registry

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	identity   Identity
	transport  interfaces.TransportProtocol
	dialCancel context.CancelFunc
	retry      clock.Timer
	backoff    utils.ReconnectStrategy
	// gen changes whenever the current transport is superseded; events and
	// timers carrying an older gen are ignored.
	gen    uint64
	closed bool
}

// New 创建通知通道管理器
func New(cfg Config, opts ...Option) (*Manager, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base, err := ResolveBase(cfg.Realtime.WSURL)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		config: cfg,
		base:   base,
		logger: slog.Default(),
		clock:  clock.RealClock{},
		state:  StateClosed,
		backoff: utils.NewExponentialBackoff(
			cfg.Realtime.Reconnect.BaseDelay,
			cfg.Realtime.Reconnect.MaxDelay,
			cfg.Realtime.Reconnect.MaxAttempts,
		),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.factory == nil {
		m.factory = m.websocketFactory
	}
	m.registry = NewRegistry(m.logger)
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m, nil
}

func (m *Manager) websocketFactory(endpoint string) (interfaces.TransportProtocol, error) {
	return websocket.NewWebSocketProtocol(websocket.Config{
		URL:              endpoint,
		HandshakeTimeout: m.config.Realtime.HandshakeTimeout,
		WriteTimeout:     m.config.Realtime.WriteTimeout,
		PingInterval:     m.config.Realtime.PingInterval,
	}, m.logger.With("component", "transport"))
}

// Subscribe registers h for category, whether or not a connection exists.
func (m *Manager) Subscribe(category string, h Handler) (unsubscribe func()) {
	return m.registry.Subscribe(category, h)
}

// State 获取当前连接状态
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts is the number of reconnects scheduled since the last open.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backoff.Attempts()
}

// Connect opens the channel for id in the background. An empty SubjectID is
// a no-op. Any previous transport or pending reconnect is discarded first
// and the reconnect budget starts over.
func (m *Manager) Connect(id Identity) {
	if id.SubjectID == "" {
		m.logger.Info("No subject id provided, skipping websocket connection")
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.logger.Warn("Connect called on closed manager", "subject_id", id.SubjectID)
		return
	}
	prev, wasOpen := m.detachLocked()
	m.identity = id
	m.backoff.Reset()
	m.state = StateConnecting
	gen := m.gen
	m.mu.Unlock()

	m.closeTransport(prev, "superseded by new connection")
	if wasOpen {
		m.emitConnection(false)
	}
	go m.dial(gen)
}

// Disconnect closes the channel deliberately: no reconnect follows.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	prev, wasOpen := m.detachLocked()
	if prev != nil {
		m.state = StateClosing
	}
	m.backoff.Reset()
	m.mu.Unlock()

	if prev != nil {
		m.logger.Info("Disconnecting websocket")
	}
	m.closeTransport(prev, "Client disconnecting")

	m.mu.Lock()
	if m.state == StateClosing {
		m.state = StateClosed
	}
	m.mu.Unlock()

	if wasOpen {
		m.emitConnection(false)
	}
}

// Close tears the manager down. Later Connect calls are ignored.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.Disconnect()
	m.cancel()
	return nil
}

// SendMessage writes {type: category, ...data}. While the channel is not
// open the message is dropped and ErrNotConnected returned.
func (m *Manager) SendMessage(category string, data map[string]any) error {
	m.mu.Lock()
	t, state, closed := m.transport, m.state, m.closed
	m.mu.Unlock()

	if closed {
		return ErrManagerClosed
	}
	if t == nil || state != StateOpen {
		m.logger.Warn("Cannot send message: websocket not open", "type", category, "state", state)
		return ErrNotConnected
	}

	msg := make(map[string]any, len(data)+1)
	msg["type"] = category
	for k, v := range data {
		msg[k] = v
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		m.logger.Error("Failed to marshal message", "type", category, "error", err)
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := t.Send(payload, interfaces.MsgText); err != nil {
		m.logger.Error("Error sending message", "type", category, "error", err)
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	m.logger.Debug("Message sent", "type", category, "size", len(payload))
	return nil
}

// detachLocked invalidates the current transport, dial and retry timer.
func (m *Manager) detachLocked() (prev interfaces.TransportProtocol, wasOpen bool) {
	m.gen++
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	prev, wasOpen = m.transport, m.state == StateOpen
	m.transport = nil
	m.state = StateClosed
	return prev, wasOpen
}

func (m *Manager) closeTransport(t interfaces.TransportProtocol, reason string) {
	if t == nil {
		return
	}
	if err := t.Close(interfaces.CloseNormalClosure, reason); err != nil {
		m.logger.Debug("Failed to close transport", "error", err)
	}
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen && !m.closed
}

func (m *Manager) endpoint(id Identity) string {
	token := id.AuthToken
	if token == "" && m.tokens != nil {
		tok, err := m.tokens.Token()
		if err != nil {
			m.logger.Warn("Failed to read auth token", "error", err)
		}
		token = tok
	}
	if token == "" {
		m.logger.Warn("No token found, websocket connection may be rejected", "subject_id", id.SubjectID)
	}
	return BuildURL(m.base, id.SubjectID, token)
}

// dial runs one connection attempt for gen and then services the transport
// until it closes.
func (m *Manager) dial(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		return
	}
	m.retry = nil
	m.state = StateConnecting
	id := m.identity
	m.mu.Unlock()

	log := m.logger.With("subject_id", id.SubjectID, "role", id.Role)

	t, err := m.factory(m.endpoint(id))
	if err != nil {
		log.Error("Error creating websocket connection", "error", err)
		m.fail(gen, err)
		return
	}

	ctx, cancel := context.WithCancel(m.ctx)
	defer cancel()

	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		return
	}
	m.transport = t
	m.dialCancel = cancel
	m.mu.Unlock()

	log.Info("Attempting websocket connection", "base", m.base, "transport", t.ProtocolType())
	if err := t.Connect(ctx); err != nil {
		log.Error("WebSocket connection failed", "error", err)
		m.fail(gen, err)
		return
	}

	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		m.closeTransport(t, "superseded by new connection")
		return
	}
	m.dialCancel = nil
	m.state = StateOpen
	m.backoff.Reset()
	m.mu.Unlock()

	log.Info("WebSocket connected successfully")
	m.emitConnection(true)
	m.watch(gen, t)
}

// fail reports a dial that never reached open and handles it as an
// abnormal closure.
func (m *Manager) fail(gen uint64, err error) {
	if !m.current(gen) {
		return
	}
	m.registry.Emit(Event{Category: CategoryError, Err: err, ReceivedAt: m.clock.Now()})
	m.handleClose(gen, interfaces.CloseEvent{
		Code:   interfaces.CloseAbnormalClosure,
		Reason: err.Error(),
		Err:    err,
	})
}

func (m *Manager) watch(gen uint64, t interfaces.TransportProtocol) {
	msgs, errs := t.Receive(), t.Errors()
	for msgs != nil {
		select {
		case msg, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			if m.current(gen) {
				m.handleFrame(msg)
			}
		case err := <-errs:
			if m.current(gen) {
				m.logger.Error("WebSocket error", "error", err)
				m.registry.Emit(Event{Category: CategoryError, Err: err, ReceivedAt: m.clock.Now()})
			}
		}
	}
	ev := <-t.Closed()
	// release whatever the transport still holds once the peer is gone
	m.closeTransport(t, "connection closed")
	m.handleClose(gen, ev)
}

func (m *Manager) handleFrame(msg interfaces.Message) {
	ev := classifyFrame(msg.Payload, m.clock.Now())
	m.logger.Debug("WebSocket message received", "category", ev.Category, "size", len(msg.Payload))
	m.registry.Emit(ev)
}

func (m *Manager) handleClose(gen uint64, ev interfaces.CloseEvent) {
	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		return
	}
	m.transport = nil
	m.dialCancel = nil
	m.state = StateClosed

	log := m.logger.With("code", ev.Code, "reason", ev.Reason)
	if ev.Deliberate() {
		m.mu.Unlock()
		log.Info("WebSocket disconnected")
		m.emitConnection(false)
		return
	}

	delay := m.backoff.NextBackOff()
	if delay == backoff.Stop {
		m.mu.Unlock()
		log.Warn("Max reconnection attempts reached, giving up",
			"max_attempts", m.config.Realtime.Reconnect.MaxAttempts)
		m.emitConnection(false)
		return
	}
	attempt := m.backoff.Attempts()
	m.retry = m.clock.AfterFunc(delay, func() {
		go m.dial(gen)
	})
	m.mu.Unlock()

	log.Info("WebSocket disconnected, reconnect scheduled",
		"delay", delay,
		"attempt", attempt,
		"max_attempts", m.config.Realtime.Reconnect.MaxAttempts)
	m.emitConnection(false)
}

func (m *Manager) emitConnection(connected bool) {
	m.registry.Emit(Event{Category: CategoryConnection, Connected: connected, ReceivedAt: m.clock.Now()})
}
