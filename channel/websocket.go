package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// frame is the wire envelope: one JSON object per websocket message.
type frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WebSocketConfig configures the default transport.
type WebSocketConfig struct {
	// URL is the websocket endpoint (ws:// or wss://).
	URL string
	// Header carries extra handshake headers, e.g. authorization.
	Header http.Header
	// HandshakeTimeout bounds the dial (default: 10s).
	HandshakeTimeout time.Duration
	// MaxReconnectInterval caps the redial backoff (default: 30s).
	MaxReconnectInterval time.Duration
	// EmitRate limits outbound events per second (default: 50).
	EmitRate rate.Limit
	// EmitBurst is the outbound burst allowance (default: 100).
	EmitBurst int
}

const (
	defaultHandshakeTimeout     = 10 * time.Second
	defaultMaxReconnectInterval = 30 * time.Second
	defaultEmitRate             = rate.Limit(50)
	defaultEmitBurst            = 100

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// WebSocketTransport implements Transport over a single websocket
// connection, redialing with exponential backoff whenever the
// connection drops. Outbound messages queue through a bounded channel
// and fail fast while disconnected.
type WebSocketTransport struct {
	url     string
	header  http.Header
	dialer  *websocket.Dialer
	limiter *rate.Limiter
	maxWait time.Duration

	mu        sync.Mutex
	handlers  map[string]map[int]Handler
	nextID    int
	outbound  chan []byte
	states    chan State
	cancel    context.CancelFunc
	runDone   chan struct{}
	closed    bool
	connected bool
}

// NewWebSocketTransport creates a transport for the given endpoint.
func NewWebSocketTransport(cfg WebSocketConfig) *WebSocketTransport {
	handshake := cfg.HandshakeTimeout
	if handshake <= 0 {
		handshake = defaultHandshakeTimeout
	}
	maxWait := cfg.MaxReconnectInterval
	if maxWait <= 0 {
		maxWait = defaultMaxReconnectInterval
	}
	emitRate := cfg.EmitRate
	if emitRate <= 0 {
		emitRate = defaultEmitRate
	}
	burst := cfg.EmitBurst
	if burst <= 0 {
		burst = defaultEmitBurst
	}

	return &WebSocketTransport{
		url:    cfg.URL,
		header: cfg.Header,
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshake,
		},
		limiter:  rate.NewLimiter(emitRate, burst),
		maxWait:  maxWait,
		handlers: make(map[string]map[int]Handler),
		outbound: make(chan []byte, 256),
		states:   make(chan State, 16),
	}
}

// Connect dials the server and keeps the connection alive until
// Disconnect. Returns after the first successful dial.
func (t *WebSocketTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.cancel != nil {
		t.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.runDone = make(chan struct{})
	t.mu.Unlock()

	conn, err := t.dial(ctx, 0)
	if err != nil {
		t.mu.Lock()
		t.cancel = nil
		runDone := t.runDone
		t.runDone = nil
		t.mu.Unlock()
		cancel()
		close(runDone)
		return fmt.Errorf("connect: %w", err)
	}

	t.setConnected(true)
	t.publish(State{Status: StatusConnected})

	go t.run(runCtx, conn)
	return nil
}

// run serves one connection after another until the transport shuts
// down.
func (t *WebSocketTransport) run(ctx context.Context, conn *websocket.Conn) {
	defer close(t.currentRunDone())

	for {
		err := t.serve(ctx, conn)
		t.setConnected(false)

		if ctx.Err() != nil {
			t.publish(State{Status: StatusDisconnected})
			return
		}

		t.publish(State{Status: StatusReconnecting, ReconnectAttempt: 1, Err: err})

		next, dialErr := t.dial(ctx, 1)
		if dialErr != nil {
			t.publish(State{Status: StatusErrored, Err: dialErr})
			return
		}

		conn = next
		t.setConnected(true)
		t.publish(State{Status: StatusConnected})
	}
}

func (t *WebSocketTransport) currentRunDone() chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runDone
}

// dial connects with exponential backoff. firstAttempt offsets the
// attempt counter reported in reconnecting states.
func (t *WebSocketTransport) dial(ctx context.Context, firstAttempt int) (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = t.maxWait

	attempt := firstAttempt
	return backoff.Retry(ctx, func() (*websocket.Conn, error) {
		conn, resp, err := t.dialer.DialContext(ctx, t.url, t.header)
		if err != nil {
			if resp != nil {
				err = fmt.Errorf("dial %s: status %d: %w", t.url, resp.StatusCode, err)
			} else {
				err = fmt.Errorf("dial %s: %w", t.url, err)
			}
			return nil, err
		}
		return conn, nil
	}, backoff.WithBackOff(b), backoff.WithNotify(func(err error, wait time.Duration) {
		attempt++
		t.publish(State{Status: StatusReconnecting, ReconnectAttempt: attempt, Err: err})
	}))
}

// serve runs the read and write pumps for one connection and returns
// the error that ended it.
func (t *WebSocketTransport) serve(ctx context.Context, conn *websocket.Conn) error {
	defer func() { _ = conn.Close() }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.readPump(conn) })
	g.Go(func() error { return t.writePump(gctx, conn) })
	return g.Wait()
}

func (t *WebSocketTransport) readPump(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Printf("channel: malformed frame dropped: %v", err)
			continue
		}
		t.deliver(f)
	}
}

func (t *WebSocketTransport) writePump(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return ctx.Err()
		case msg := <-t.outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

func (t *WebSocketTransport) deliver(f frame) {
	t.mu.Lock()
	var snapshot []Handler
	for _, h := range t.handlers[f.Event] {
		snapshot = append(snapshot, h)
	}
	t.mu.Unlock()

	for _, h := range snapshot {
		h(f.Payload)
	}
}

// On registers a handler for one inbound event name.
func (t *WebSocketTransport) On(event string, h Handler) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.handlers[event] == nil {
		t.handlers[event] = make(map[int]Handler)
	}
	id := t.nextID
	t.nextID++
	t.handlers[event][id] = h

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.handlers[event], id)
	}
}

// Emit queues one outbound event, respecting the rate limit.
func (t *WebSocketTransport) Emit(ctx context.Context, event string, payload any) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if !t.connected {
		t.mu.Unlock()
		return ErrNotConnected
	}
	t.mu.Unlock()

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	msg, err := json.Marshal(frame{Event: event, Payload: data})
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("emit rate limit: %w", err)
	}

	select {
	case t.outbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// States returns the connection state stream.
func (t *WebSocketTransport) States() <-chan State {
	return t.states
}

// Disconnect stops the reconnect loop and closes the connection.
func (t *WebSocketTransport) Disconnect() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cancel := t.cancel
	runDone := t.runDone
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if runDone != nil {
		<-runDone
	}
	close(t.states)
	return nil
}

func (t *WebSocketTransport) setConnected(up bool) {
	t.mu.Lock()
	t.connected = up
	t.mu.Unlock()
}

// publish sends a state transition without ever blocking the
// connection loop. A slow observer loses intermediate transitions, not
// the final one, because the buffer drains oldest-first.
func (t *WebSocketTransport) publish(s State) {
	for {
		select {
		case t.states <- s:
			return
		default:
			select {
			case <-t.states:
			default:
			}
		}
	}
}
