package popchat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

// ============================================================================
// Configuration
// ============================================================================

// TransportConfig configures a WSTransport.
type TransportConfig struct {
	// URL of the realtime endpoint. http(s) schemes are rewritten to ws(s) and
	// an empty path becomes /ws.
	URL string
	// UserID identifies the socket to the server.
	UserID string
	// SessionCookie is the session token sent with the upgrade request.
	SessionCookie        string
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
	// RequestTimeout bounds how long Request waits for an ack.
	RequestTimeout time.Duration
	HTTPClient     *http.Client
	Logger         *slog.Logger
}

func (c *TransportConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// endpoint builds the websocket URL to dial.
func (c *TransportConfig) endpoint() (string, error) {
	raw := strings.Replace(c.URL, "https://", "wss://", 1)
	raw = strings.Replace(raw, "http://", "ws://", 1)
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	if c.UserID != "" {
		q := u.Query()
		q.Set("id", c.UserID)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// ConnState represents the connection state.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
)

// frameAck is the type of frames that answer a request.
const frameAck = "ack"

// command is a client-to-server frame. Requests carry a RequestID; signals don't.
type command struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	RequestID string      `json:"requestId,omitempty"`
}

// ============================================================================
// Handlers
// ============================================================================

type handlers struct {
	mu             sync.RWMutex
	onEvent        []func(Envelope)
	onConnected    []func()
	onDisconnected []func(int, string)
	onReconnecting []func(int, time.Duration)
}

func (h *handlers) events() []func(Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]func(Envelope){}, h.onEvent...)
}

func (h *handlers) emitConnected() {
	h.mu.RLock()
	fns := append([]func(){}, h.onConnected...)
	h.mu.RUnlock()
	for _, f := range fns {
		go f()
	}
}

func (h *handlers) emitDisconnected(code int, reason string) {
	h.mu.RLock()
	fns := append([]func(int, string){}, h.onDisconnected...)
	h.mu.RUnlock()
	for _, f := range fns {
		go f(code, reason)
	}
}

func (h *handlers) emitReconnecting(attempt int, delay time.Duration) {
	h.mu.RLock()
	fns := append([]func(int, time.Duration){}, h.onReconnecting...)
	h.mu.RUnlock()
	for _, f := range fns {
		go f(attempt, delay)
	}
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *TransportConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

// nextDelay is exponential in the attempt with up to 50% jitter. A connection
// that stayed up for a minute starts the sequence over.
func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// ============================================================================
// WSTransport
// ============================================================================

// WSTransport is the websocket Transport. Acks are matched to requests on the
// read goroutine while pushed events are queued and handed to OnEvent
// handlers one at a time by a separate goroutine, so an event handler may
// itself issue requests.
type WSTransport struct {
	config *TransportConfig
	logger *slog.Logger

	mu               sync.Mutex
	conn             *websocket.Conn
	state            ConnState
	intentionalClose bool
	cancelFn         context.CancelFunc
	recon            *reconnector

	pendingMu sync.Mutex
	pending   map[string]chan *Response

	queueMu sync.Mutex
	queue   []Envelope
	wake    chan struct{}
	quit    chan struct{}
	once    sync.Once

	handlers handlers
}

// NewWSTransport creates a disconnected transport. Close releases it.
func NewWSTransport(config *TransportConfig) *WSTransport {
	if config == nil {
		config = &TransportConfig{}
	}
	config.defaults()
	t := &WSTransport{
		config:  config,
		logger:  config.Logger,
		state:   StateDisconnected,
		recon:   newReconnector(config),
		pending: make(map[string]chan *Response),
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
	}
	go t.dispatchLoop()
	return t
}

// OnEvent registers a handler for server-pushed events.
func (t *WSTransport) OnEvent(h func(Envelope)) {
	t.handlers.mu.Lock()
	t.handlers.onEvent = append(t.handlers.onEvent, h)
	t.handlers.mu.Unlock()
}

// OnConnected registers a handler called after every successful (re)connect.
func (t *WSTransport) OnConnected(h func()) {
	t.handlers.mu.Lock()
	t.handlers.onConnected = append(t.handlers.onConnected, h)
	t.handlers.mu.Unlock()
}

// OnDisconnected registers a handler for lost or closed connections.
func (t *WSTransport) OnDisconnected(h func(code int, reason string)) {
	t.handlers.mu.Lock()
	t.handlers.onDisconnected = append(t.handlers.onDisconnected, h)
	t.handlers.mu.Unlock()
}

// OnReconnecting registers a handler called before each reconnect attempt.
func (t *WSTransport) OnReconnecting(h func(attempt int, delay time.Duration)) {
	t.handlers.mu.Lock()
	t.handlers.onReconnecting = append(t.handlers.onReconnecting, h)
	t.handlers.mu.Unlock()
}

// State returns the current connection state.
func (t *WSTransport) State() ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *WSTransport) setState(s ConnState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// Connect dials the server. The connection lives until ctx is done or
// Disconnect is called.
func (t *WSTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.state == StateConnected || t.state == StateConnecting {
		t.mu.Unlock()
		return nil
	}
	t.state = StateConnecting
	t.intentionalClose = false
	t.mu.Unlock()

	endpoint, err := t.config.endpoint()
	if err != nil {
		t.setState(StateDisconnected)
		return err
	}

	header := http.Header{}
	if t.config.SessionCookie != "" {
		header.Set("Cookie", (&http.Cookie{Name: SessionCookieName, Value: t.config.SessionCookie}).String())
	}
	conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPClient: t.config.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		t.setState(StateDisconnected)
		return fmt.Errorf("websocket dial: %w", err)
	}

	connCtx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.conn = conn
	t.state = StateConnected
	t.cancelFn = cancel
	t.recon.markConnected()
	t.mu.Unlock()

	t.logger.Info("realtime connected", "url", endpoint)

	go t.readLoop(connCtx, ctx, conn)
	go t.heartbeatLoop(connCtx)
	t.handlers.emitConnected()
	return nil
}

// Disconnect closes the connection without reconnecting. Outstanding
// requests fail with ErrNotConnected.
func (t *WSTransport) Disconnect() error {
	t.mu.Lock()
	t.intentionalClose = true
	if t.cancelFn != nil {
		t.cancelFn()
		t.cancelFn = nil
	}
	conn := t.conn
	t.conn = nil
	t.state = StateDisconnected
	t.mu.Unlock()

	t.failPending()
	t.handlers.emitDisconnected(int(websocket.StatusNormalClosure), "client disconnect")

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

// Close disconnects and stops event dispatch.
func (t *WSTransport) Close() error {
	err := t.Disconnect()
	t.once.Do(func() { close(t.quit) })
	return err
}

// Request sends event with params and waits for the server's ack.
func (t *WSTransport) Request(ctx context.Context, event string, params interface{}) (*Response, error) {
	id := uuid.NewString()
	ch := make(chan *Response, 1)
	t.pendingMu.Lock()
	t.pending[id] = ch
	t.pendingMu.Unlock()

	if err := t.send(ctx, &command{Type: event, Payload: params, RequestID: id}); err != nil {
		t.dropPending(id)
		return nil, err
	}

	timer := time.NewTimer(t.config.RequestTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrNotConnected
		}
		return resp, nil
	case <-timer.C:
		t.dropPending(id)
		return nil, ErrRequestTimeout
	case <-ctx.Done():
		t.dropPending(id)
		return nil, ctx.Err()
	}
}

// Emit sends a signal that is not acknowledged.
func (t *WSTransport) Emit(ctx context.Context, event string, params interface{}) error {
	return t.send(ctx, &command{Type: event, Payload: params})
}

func (t *WSTransport) send(ctx context.Context, cmd *command) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode %s: %w", cmd.Type, err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write %s: %w", cmd.Type, err)
	}
	return nil
}

func (t *WSTransport) readLoop(ctx, parent context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.mu.Lock()
			intentional := t.intentionalClose
			if t.conn == conn {
				t.conn = nil
				t.state = StateDisconnected
			}
			t.mu.Unlock()
			if intentional {
				return
			}

			t.logger.Warn("realtime connection lost", "err", err)
			t.failPending()
			t.handlers.emitDisconnected(int(websocket.CloseStatus(err)), err.Error())
			t.reconnect(parent)
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.logger.Debug("dropping malformed frame", "err", err)
			continue
		}

		if env.Type == frameAck {
			t.resolve(env)
			continue
		}
		t.enqueue(env)
	}
}

func (t *WSTransport) resolve(env Envelope) {
	var resp Response
	if err := json.Unmarshal(env.Payload, &resp); err != nil {
		t.logger.Debug("dropping malformed ack", "requestId", env.RequestID, "err", err)
		return
	}
	t.pendingMu.Lock()
	ch, ok := t.pending[env.RequestID]
	if ok {
		delete(t.pending, env.RequestID)
	}
	t.pendingMu.Unlock()
	if ok {
		ch <- &resp
	}
}

func (t *WSTransport) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(t.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if t.State() != StateConnected {
				return
			}
			if _, err := t.Request(ctx, ReqPing, nil); err != nil {
				if ctx.Err() != nil {
					return
				}
				t.logger.Warn("heartbeat failed", "err", err)
				t.mu.Lock()
				conn := t.conn
				t.mu.Unlock()
				if conn != nil {
					conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				}
				return
			}
		}
	}
}

func (t *WSTransport) reconnect(ctx context.Context) {
	for t.config.AutoReconnect && t.recon.shouldReconnect() {
		delay := t.recon.nextDelay()
		t.setState(StateReconnecting)
		t.handlers.emitReconnecting(t.recon.attempt, delay)

		select {
		case <-ctx.Done():
			t.setState(StateDisconnected)
			return
		case <-t.quit:
			t.setState(StateDisconnected)
			return
		case <-time.After(delay):
		}

		err := t.Connect(ctx)
		if err == nil {
			return
		}
		t.logger.Warn("reconnect failed", "attempt", t.recon.attempt, "err", err)
	}
	t.setState(StateDisconnected)
}

func (t *WSTransport) dropPending(id string) {
	t.pendingMu.Lock()
	delete(t.pending, id)
	t.pendingMu.Unlock()
}

func (t *WSTransport) failPending() {
	t.pendingMu.Lock()
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
	t.pendingMu.Unlock()
}

// ============================================================================
// Event Queue
// ============================================================================

func (t *WSTransport) enqueue(env Envelope) {
	t.queueMu.Lock()
	t.queue = append(t.queue, env)
	t.queueMu.Unlock()

	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *WSTransport) dispatchLoop() {
	for {
		select {
		case <-t.quit:
			return
		case <-t.wake:
		}

		for {
			t.queueMu.Lock()
			if len(t.queue) == 0 {
				t.queueMu.Unlock()
				break
			}
			env := t.queue[0]
			t.queue = t.queue[1:]
			t.queueMu.Unlock()

			for _, h := range t.handlers.events() {
				h(env)
			}
		}
	}
}
