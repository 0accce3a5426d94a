// Package channel maintains the push connection to the messaging server.
// It owns the websocket lifecycle: dialing, the read loop, reconnection
// with backoff, and publishing every parsed frame on the bus. Nothing
// here interprets messages; consumers subscribe to the bus for that.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/innosphere/chatsync/internal/bus"
	"github.com/innosphere/chatsync/internal/wire"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// ErrUnavailable is returned by Send when the push channel is down.
// Callers are expected to fall back to the REST send path.
var ErrUnavailable = errors.New("push channel unavailable")

// Manager owns the websocket connection to the server.
type Manager struct {
	wsURL  string
	bus    *bus.Bus
	logger *zap.Logger

	dialOpts *websocket.DialOptions

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	cancel context.CancelFunc

	recon *reconnector
}

// Option customizes a Manager.
type Option func(*Manager)

// WithHTTPClient replaces the HTTP client used for the websocket
// handshake (used by tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(m *Manager) { m.dialOpts.HTTPClient = hc }
}

// New creates a push channel manager for the given server and token.
// The connection is not established until Open is called.
func New(baseURL, token string, b *bus.Bus, logger *zap.Logger, opts ...Option) *Manager {
	wsURL := strings.Replace(baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL = strings.TrimRight(wsURL, "/") + "/ws/chat?token=" + url.QueryEscape(token)

	m := &Manager{
		wsURL:    wsURL,
		bus:      b,
		logger:   logger,
		dialOpts: &websocket.DialOptions{},
		recon:    newReconnector(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open starts the connection supervisor. It returns immediately; a
// failed dial does not fail Open, it leaves the channel unavailable
// and retrying in the background. The supervisor stops when ctx is
// cancelled or Close is called.
func (m *Manager) Open(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()
	go m.run(runCtx)
}

// Available reports whether the channel can currently carry a send.
func (m *Manager) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// Send writes an outbound frame on the live connection. Returns
// ErrUnavailable when the channel is down so the caller can degrade
// to REST.
func (m *Manager) Send(ctx context.Context, frame wire.SendFrame) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrUnavailable
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		m.logger.Warn("push channel write failed", zap.Error(err))
		return ErrUnavailable
	}
	return nil
}

// Close stops the supervisor and tears down the connection.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client close")
	}
	return nil
}

func (m *Manager) run(ctx context.Context) {
	announcedDown := false
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.Dial(ctx, m.wsURL, m.dialOpts)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !announcedDown {
				m.bus.Publish(bus.Event{Topic: bus.TopicChannelDown, Timestamp: time.Now()})
				announcedDown = true
			}
			delay := m.recon.nextDelay()
			m.logger.Warn("push channel dial failed",
				zap.Error(err),
				zap.Duration("retry_in", delay))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			conn.Close(websocket.StatusNormalClosure, "client close")
			return
		}
		m.conn = conn
		m.mu.Unlock()
		m.recon.markConnected()
		announcedDown = false

		m.logger.Info("push channel connected")
		m.bus.Publish(bus.Event{Topic: bus.TopicChannelUp, Timestamp: time.Now()})

		readErr := m.readLoop(ctx, conn)

		m.mu.Lock()
		m.conn = nil
		closed := m.closed
		m.mu.Unlock()

		m.bus.Publish(bus.Event{Topic: bus.TopicChannelDown, Timestamp: time.Now()})
		announcedDown = true

		if closed || ctx.Err() != nil {
			return
		}

		delay := m.recon.nextDelay()
		m.logger.Warn("push channel lost",
			zap.Error(readErr),
			zap.Duration("reconnect_in", delay))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		m.bus.Publish(bus.Event{Topic: bus.TopicChannelReconnecting, Timestamp: time.Now()})
	}
}

// readLoop reads frames until the connection dies. Malformed frames
// are dropped and logged, never fatal.
func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		evt, err := wire.ParseEvent(data)
		if err != nil {
			m.logger.Debug("dropping frame", zap.Error(err))
			continue
		}

		m.bus.Publish(bus.Event{
			Topic:     bus.TopicChannelMessage,
			Timestamp: time.Now(),
			Payload:   evt,
		})
	}
}
