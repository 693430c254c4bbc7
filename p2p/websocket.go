package p2p

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"bookagent.dev/logging"
	"bookagent.dev/protocol"
)

// ReconnectConfig controls a WebSocketDialer's reconnect-with-backoff loop.
type ReconnectConfig struct {
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultReconnectConfig mirrors the gateway-side coordinator's defaults.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		InitialDelay:  1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}
}

// wsTransport wraps a gorilla/websocket connection with a reconnect loop on
// the dial side; a connection accepted by a WebSocketListener never
// reconnects - a dropped inbound connection is the client's job to redial.
type wsTransport struct {
	url      string
	reconnect ReconnectConfig
	log      *logging.ContextLogger

	mu       sync.RWMutex
	conn     *websocket.Conn
	dialOnly bool // false for server-accepted connections, which don't redial

	ctx    context.Context
	cancel context.CancelFunc
}

// WebSocketDialer connects out to a gateway's WebSocket endpoint, redialing
// with exponential backoff whenever the connection drops.
type WebSocketDialer struct {
	URL       string
	Reconnect ReconnectConfig
	Log       *logging.ContextLogger
}

func (d *WebSocketDialer) Dial(ctx context.Context) (Transport, error) {
	reconnect := d.Reconnect
	if reconnect.BackoffFactor == 0 {
		reconnect = DefaultReconnectConfig()
	}

	tctx, cancel := context.WithCancel(ctx)
	t := &wsTransport{
		url:       d.URL,
		reconnect: reconnect,
		log:       d.Log,
		dialOnly:  true,
		ctx:       tctx,
		cancel:    cancel,
	}

	conn, err := t.dial(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	return t, nil
}

func (t *wsTransport) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, t.url, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", t.url, err)
	}
	return conn, nil
}

// reconnectLoop redials with exponential backoff, doubling (capped) each
// failure and resetting on success - mirrors coordinator.go's connectionLoop.
func (t *wsTransport) reconnectLoop() (*websocket.Conn, error) {
	delay := t.reconnect.InitialDelay

	for {
		select {
		case <-t.ctx.Done():
			return nil, t.ctx.Err()
		default:
		}

		conn, err := t.dial(t.ctx)
		if err == nil {
			return conn, nil
		}

		t.log.WithField("error", err.Error()).WithField("retry_in", delay.String()).
			Warn("p2p websocket reconnect failed, backing off")

		select {
		case <-t.ctx.Done():
			return nil, t.ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * t.reconnect.BackoffFactor)
		if delay > t.reconnect.MaxDelay {
			delay = t.reconnect.MaxDelay
		}
	}
}

func (t *wsTransport) Send(ctx context.Context, msg *protocol.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	data, err := msg.JSON()
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("p2p transport not connected")
	}

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if t.dialOnly {
			t.log.WithField("error", err.Error()).Warn("p2p send failed, reconnecting")
			newConn, rerr := t.reconnectLoop()
			if rerr != nil {
				return rerr
			}
			t.mu.Lock()
			t.conn = newConn
			t.mu.Unlock()
			return newConn.WriteMessage(websocket.TextMessage, data)
		}
		return err
	}
	return nil
}

func (t *wsTransport) Receive(ctx context.Context) (*protocol.Message, error) {
	for {
		t.mu.RLock()
		conn := t.conn
		t.mu.RUnlock()
		if conn == nil {
			return nil, fmt.Errorf("p2p transport not connected")
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if !t.dialOnly {
				return nil, fmt.Errorf("p2p read failed: %w", err)
			}
			t.log.WithField("error", err.Error()).Warn("p2p connection lost, reconnecting")
			newConn, rerr := t.reconnectLoop()
			if rerr != nil {
				return nil, rerr
			}
			t.mu.Lock()
			t.conn = newConn
			t.mu.Unlock()
			continue
		}

		return protocol.ParseMessage(data)
	}
}

func (t *wsTransport) Close() error {
	t.cancel()
	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// WebSocketListener accepts inbound client connections on a plain
// net/http + gorilla/websocket upgrade endpoint.
type WebSocketListener struct {
	addr     string
	upgrader websocket.Upgrader
	log      *logging.ContextLogger

	acceptCh chan Transport
	server   *http.Server
}

// NewWebSocketListener starts an HTTP server at addr upgrading every request
// on path "/ws" to a WebSocket connection.
func NewWebSocketListener(addr string, log *logging.ContextLogger) *WebSocketListener {
	l := &WebSocketListener{
		addr:     addr,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		log:      log,
		acceptCh: make(chan Transport),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", l.handleUpgrade)
	l.server = &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := l.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.log.WithField("error", err.Error()).Error("p2p websocket listener stopped")
		}
	}()

	return l
}

func (l *WebSocketListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.log.WithField("error", err.Error()).Warn("p2p websocket upgrade failed")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &wsTransport{
		conn:     conn,
		dialOnly: false,
		log:      l.log,
		ctx:      ctx,
		cancel:   cancel,
	}
	l.acceptCh <- t
}

func (l *WebSocketListener) Accept(ctx context.Context) (Transport, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case t := <-l.acceptCh:
		return t, nil
	}
}

func (l *WebSocketListener) Close() error {
	return l.server.Close()
}
