// Package tutorhub provides a Go client for the tutoring marketplace
// backend. Client holds the persistent hub connection used for chat
// (join/leave rooms, send messages, receive pushes); APIClient wraps the
// REST API (channels, history, bookings, payments, notifications).
package tutorhub

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/tutorhub/tutorhub-go-sdk/frame"
	"github.com/tutorhub/tutorhub-go-sdk/logger"
	"github.com/tutorhub/tutorhub-go-sdk/metrics"
	"github.com/tutorhub/tutorhub-go-sdk/wire"
)

// State is the lifecycle state of the hub connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// DefaultReconnectDelays is the wait before each automatic reconnect attempt.
var DefaultReconnectDelays = []time.Duration{0, 2 * time.Second, 10 * time.Second, 30 * time.Second}

// Config holds hub connection parameters.
type Config struct {
	HubURL             string       // e.g. "https://api.example.com/hubs/chat"
	AccessTokenFactory TokenFactory // called on every connect and reconnect
	SkipNegotiation    bool         // dial the WebSocket directly

	HandshakeTimeout  time.Duration // bounds one connect attempt; default 15s
	KeepAliveInterval time.Duration // client ping interval; default 15s
	ServerTimeout     time.Duration // silence before the server is presumed gone; default 30s

	ReconnectDelays  []time.Duration // nil means DefaultReconnectDelays
	DisableReconnect bool
}

func (cfg *Config) setDefaults() {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 15 * time.Second
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = 15 * time.Second
	}
	if cfg.ServerTimeout <= 0 {
		cfg.ServerTimeout = 30 * time.Second
	}
	if cfg.ReconnectDelays == nil {
		cfg.ReconnectDelays = DefaultReconnectDelays
	}
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client's logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Client) { c.log = logger.OrNop(l).Named("hub") }
}

// WithHTTPClient sets the HTTP client used for negotiation.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithDialer sets the WebSocket dialer. Its Header field is overwritten
// with the Authorization header on every attempt.
func WithDialer(d ws.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// EventHandler receives the raw arguments of a server-to-client invocation.
type EventHandler func(args []json.RawMessage)

// attempt is one in-flight connect. Everyone who calls Connect while it runs
// waits on the same done channel and observes the same err.
type attempt struct {
	done   chan struct{}
	err    error
	cancel context.CancelFunc
}

// Client maintains one hub connection and a small RPC surface over it.
type Client struct {
	cfg        Config
	log        *logger.Logger
	httpClient *http.Client
	dialer     ws.Dialer

	mu            sync.Mutex
	state         State
	pending       *attempt
	conn          *hubConn
	epoch         uint64        // bumped by Disconnect; stale attempts compare against it
	stop          chan struct{} // closed by Disconnect to wake reconnect sleeps
	handlers      map[string]EventHandler
	onReconnected func()
	onClosed      func(error)

	nextInvocation atomic.Uint64
	invMu          sync.Mutex
	invocations    map[string]chan wire.Completion
}

// NewClient creates a hub client. It performs no I/O; call Connect.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.setDefaults()
	c := &Client{
		cfg:         cfg,
		log:         logger.Nop(),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		stop:        make(chan struct{}),
		handlers:    make(map[string]EventHandler),
		invocations: make(map[string]chan wire.Completion),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect establishes the hub connection. It is idempotent: when connected
// it returns nil at once, and while an attempt is in flight every caller
// waits for that attempt instead of starting another. The attempt itself is
// bounded by HandshakeTimeout, not by ctx; ctx only bounds the wait.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	a := c.pending
	if a == nil {
		a = c.startAttemptLocked()
	}
	c.mu.Unlock()

	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) startAttemptLocked() *attempt {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout)
	a := &attempt{done: make(chan struct{}), cancel: cancel}
	c.pending = a
	if c.state != StateReconnecting {
		c.setStateLocked(StateConnecting)
	}
	go c.runAttempt(ctx, a, c.epoch)
	return a
}

func (c *Client) runAttempt(ctx context.Context, a *attempt, epoch uint64) {
	defer a.cancel()
	hc, rest, err := c.open(ctx)

	var reconnected func()
	c.mu.Lock()
	if c.epoch != epoch {
		if hc != nil {
			hc.close()
		}
		err = ErrConnectionAborted
	}
	if err == nil {
		wasReconnecting := c.state == StateReconnecting
		c.conn = hc
		c.setStateLocked(StateConnected)
		go c.readLoop(hc, rest)
		go c.writeLoop(hc)
		if wasReconnecting {
			reconnected = c.onReconnected
		}
	} else if c.state == StateConnecting {
		c.setStateLocked(StateDisconnected)
	}
	if c.pending == a {
		c.pending = nil
	}
	a.err = err
	close(a.done)
	c.mu.Unlock()

	switch {
	case err == nil:
		metrics.ConnectAttempts.WithLabelValues("ok").Inc()
		c.log.Info("connected to hub", zap.String("hub", c.cfg.HubURL))
	case errors.Is(err, ErrConnectionAborted):
		metrics.ConnectAttempts.WithLabelValues("aborted").Inc()
		c.log.Warn("connect attempt aborted by disconnect")
	default:
		metrics.ConnectAttempts.WithLabelValues("error").Inc()
		c.log.Warn("connect attempt failed", zap.Error(err))
	}
	if reconnected != nil {
		reconnected()
	}
}

// open performs credential lookup, negotiation, dial and handshake. It
// returns any records the server sent right after its handshake response.
func (c *Client) open(ctx context.Context) (*hubConn, []byte, error) {
	if c.cfg.AccessTokenFactory == nil {
		return nil, nil, &ConnectionError{Op: "credential", Err: ErrNoCredential}
	}
	token, err := c.cfg.AccessTokenFactory()
	if err != nil {
		return nil, nil, &ConnectionError{Op: "credential", Err: err}
	}
	if token == "" {
		return nil, nil, &ConnectionError{Op: "credential", Err: ErrNoCredential}
	}
	// Opaque tokens are passed through; only a JWT can be judged stale here.
	if id, err := ParseIdentity(token); err == nil && id.Expired(time.Now()) {
		return nil, nil, &ConnectionError{Op: "credential", Err: ErrCredentialExpired}
	}

	base := c.cfg.HubURL
	connID := ""
	if !c.cfg.SkipNegotiation {
		neg, err := c.negotiate(ctx, base, token)
		if err != nil {
			return nil, nil, &ConnectionError{Op: "negotiate", Err: err}
		}
		if neg.URL != "" {
			base = neg.URL
			if neg.AccessToken != "" {
				token = neg.AccessToken
			}
		}
		connID = neg.ConnectionID
		if neg.NegotiateVersion >= 1 && neg.ConnectionToken != "" {
			connID = neg.ConnectionToken
		}
	}

	target, err := socketURL(base, connID, token)
	if err != nil {
		return nil, nil, &ConnectionError{Op: "dial", Err: err}
	}

	dialer := c.dialer
	dialer.Header = ws.HandshakeHeaderHTTP(http.Header{"Authorization": {"Bearer " + token}})
	conn, br, _, err := dialer.Dial(ctx, target)
	if err != nil {
		return nil, nil, &ConnectionError{Op: "dial", Err: err}
	}
	if br != nil {
		conn = &bufferedConn{Conn: conn, r: br}
	}

	rest, err := handshake(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, nil, &ConnectionError{Op: "handshake", Err: err}
	}

	return newHubConn(conn), rest, nil
}

func handshake(ctx context.Context, conn net.Conn) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}
	// Unblock the read if the attempt is cancelled mid-handshake.
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()
	if err := wsutil.WriteClientText(conn, frame.EncodeHandshake()); err != nil {
		return nil, fmt.Errorf("send handshake: %w", err)
	}
	data, err := wsutil.ReadServerText(conn)
	if err != nil {
		return nil, fmt.Errorf("read handshake: %w", err)
	}
	return frame.DecodeHandshake(data)
}

func (c *Client) negotiate(ctx context.Context, base, token string) (*wire.NegotiateResponse, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + "/negotiate")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("negotiateVersion", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("negotiate: %d %s", resp.StatusCode, string(body))
	}
	var neg wire.NegotiateResponse
	if err := json.Unmarshal(body, &neg); err != nil {
		return nil, fmt.Errorf("decode negotiate: %w", err)
	}
	if neg.Error != "" {
		return nil, fmt.Errorf("negotiate: %s", neg.Error)
	}
	return &neg, nil
}

func socketURL(base, connID, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported hub scheme %q", u.Scheme)
	}
	q := u.Query()
	if connID != "" {
		q.Set("id", connID)
	}
	// Browsers cannot set headers on a WebSocket, so servers read the token
	// from the query string; send both.
	q.Set("access_token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Disconnect closes the connection and stops reconnecting. An attempt in
// flight is aborted and reports ErrConnectionAborted.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.epoch++
	if c.pending != nil {
		c.pending.cancel()
		c.pending = nil
	}
	hc := c.conn
	c.conn = nil
	close(c.stop)
	c.stop = make(chan struct{})
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if hc != nil {
		hc.close()
	}
	return nil
}

// On registers the handler for a server event, replacing any previous
// handler for the same event. Event names are case-insensitive.
func (c *Client) On(event string, h EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[strings.ToLower(event)] = h
}

// Off removes the handler for a server event.
func (c *Client) Off(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, strings.ToLower(event))
}

// OnMessageReceived registers the messageReceived handler. Payloads are
// normalized before h sees them.
func (c *Client) OnMessageReceived(h func(wire.Message)) {
	c.On(wire.EventMessageReceived, func(args []json.RawMessage) {
		if len(args) == 0 {
			return
		}
		msg, err := wire.NormalizeMessage(args[len(args)-1])
		if err != nil {
			c.log.Warn("dropping malformed message push", zap.Error(err))
			return
		}
		h(msg)
	})
}

// OffMessageReceived removes the messageReceived handler.
func (c *Client) OffMessageReceived() { c.Off(wire.EventMessageReceived) }

// OnUserJoined registers the userJoined handler.
func (c *Client) OnUserJoined(h func(wire.UserEvent)) {
	c.On(wire.EventUserJoined, userEventHandler(c, h))
}

// OnUserLeft registers the userLeft handler.
func (c *Client) OnUserLeft(h func(wire.UserEvent)) {
	c.On(wire.EventUserLeft, userEventHandler(c, h))
}

func userEventHandler(c *Client, h func(wire.UserEvent)) EventHandler {
	return func(args []json.RawMessage) {
		ev, err := wire.NormalizeUserEventArgs(args)
		if err != nil {
			c.log.Debug("dropping malformed user event", zap.Error(err))
			return
		}
		h(ev)
	}
}

// OnReconnected registers the hook run after an automatic reconnect.
// Rooms are not re-joined automatically; do it here.
func (c *Client) OnReconnected(h func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReconnected = h
}

// OnClosed registers the hook run when the connection is lost for good.
func (c *Client) OnClosed(h func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClosed = h
}

// JoinChannel subscribes this connection to a channel's room.
func (c *Client) JoinChannel(ctx context.Context, channelID int64) error {
	_, err := c.invoke(ctx, wire.MethodJoinChannel, channelID)
	return err
}

// LeaveChannel unsubscribes this connection from a channel's room.
func (c *Client) LeaveChannel(ctx context.Context, channelID int64) error {
	_, err := c.invoke(ctx, wire.MethodLeaveChannel, channelID)
	return err
}

// SendMessage posts content to a channel. The created message is not
// returned; it arrives later as a messageReceived push.
func (c *Client) SendMessage(ctx context.Context, channelID int64, content string) error {
	_, err := c.invoke(ctx, wire.MethodSendMessage, channelID, content)
	return err
}

func (c *Client) invoke(ctx context.Context, target string, args ...any) (res json.RawMessage, err error) {
	defer func() { metrics.RecordInvocation(target, err) }()

	c.mu.Lock()
	hc := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected || hc == nil {
		return nil, ErrNotConnected
	}

	id := strconv.FormatUint(c.nextInvocation.Add(1), 10)
	rec, err := frame.Encode(wire.Invocation{
		Type:         frame.TypeInvocation,
		InvocationID: id,
		Target:       target,
		Arguments:    args,
	})
	if err != nil {
		return nil, err
	}

	ch := make(chan wire.Completion, 1)
	c.invMu.Lock()
	c.invocations[id] = ch
	c.invMu.Unlock()
	defer func() {
		c.invMu.Lock()
		delete(c.invocations, id)
		c.invMu.Unlock()
	}()

	select {
	case hc.sendCh <- rec:
	case <-hc.done:
		return nil, ErrNotConnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case comp := <-ch:
		if comp.Error != "" {
			return nil, &InvocationError{Target: target, Message: comp.Error}
		}
		return comp.Result, nil
	case <-hc.done:
		return nil, fmt.Errorf("%s: connection lost: %w", target, ErrNotConnected)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// --- Internal ---

type hubConn struct {
	conn      net.Conn
	sendCh    chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu             sync.Mutex
	serverClosed   bool
	allowReconnect bool
	closeReason    string
}

func newHubConn(conn net.Conn) *hubConn {
	return &hubConn{
		conn:   conn,
		sendCh: make(chan []byte, 256),
		done:   make(chan struct{}),
	}
}

func (h *hubConn) close() {
	h.closeOnce.Do(func() {
		close(h.done)
		h.conn.Close()
	})
}

func (h *hubConn) markServerClose(cl wire.Close) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.serverClosed = true
	h.allowReconnect = cl.AllowReconnect
	h.closeReason = cl.Error
}

func (h *hubConn) mayReconnect() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.serverClosed || h.allowReconnect
}

type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) { return b.r.Read(p) }

func (c *Client) setStateLocked(s State) {
	c.state = s
	metrics.HubState.Set(float64(s))
}

func (c *Client) readLoop(hc *hubConn, initial []byte) {
	if len(initial) > 0 {
		c.dispatch(hc, initial)
	}
	for {
		hc.conn.SetReadDeadline(time.Now().Add(c.cfg.ServerTimeout))
		data, op, err := wsutil.ReadServerData(hc.conn)
		if err != nil {
			c.connectionLost(hc, err)
			return
		}
		if op != ws.OpText {
			continue
		}
		c.dispatch(hc, data)
	}
}

func (c *Client) dispatch(hc *hubConn, data []byte) {
	records, err := frame.Split(data)
	if err != nil {
		c.log.Debug("bad transport message", zap.Error(err))
	}
	for _, rec := range records {
		h, err := frame.Decode(rec)
		if err != nil {
			c.log.Debug("bad record", zap.Error(err))
			continue
		}

		switch h.Type {
		case frame.TypeInvocation:
			var inv wire.InboundInvocation
			if err := json.Unmarshal(rec, &inv); err != nil {
				continue
			}
			event := strings.ToLower(inv.Target)
			metrics.PushesReceived.WithLabelValues(event).Inc()
			c.mu.Lock()
			handler := c.handlers[event]
			c.mu.Unlock()
			if handler == nil {
				c.log.Debug("no handler for event", zap.String("event", inv.Target))
				continue
			}
			handler(inv.Arguments)

		case frame.TypeCompletion:
			var comp wire.Completion
			if err := json.Unmarshal(rec, &comp); err != nil {
				continue
			}
			c.invMu.Lock()
			ch, ok := c.invocations[comp.InvocationID]
			c.invMu.Unlock()
			if ok {
				ch <- comp
			}

		case frame.TypeClose:
			var cl wire.Close
			json.Unmarshal(rec, &cl)
			hc.markServerClose(cl)
			c.log.Info("server closed connection",
				zap.String("reason", cl.Error),
				zap.Bool("allow_reconnect", cl.AllowReconnect))
			hc.close()
			return

		case frame.TypePing:
			// read deadline already extended

		default:
			c.log.Debug("ignoring record", zap.Int("type", h.Type))
		}
	}
}

func (c *Client) writeLoop(hc *hubConn) {
	ping, _ := frame.Encode(wire.Ping{Type: frame.TypePing})
	ticker := time.NewTicker(c.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		var data []byte
		select {
		case data = <-hc.sendCh:
		case <-ticker.C:
			data = ping
		case <-hc.done:
			return
		}
		if err := wsutil.WriteClientText(hc.conn, data); err != nil {
			c.log.Warn("write error", zap.Error(err))
			hc.close()
			return
		}
	}
}

func (c *Client) connectionLost(hc *hubConn, cause error) {
	hc.close()

	c.mu.Lock()
	if c.conn != hc {
		// Disconnect got here first.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	if !c.cfg.DisableReconnect && len(c.cfg.ReconnectDelays) > 0 && hc.mayReconnect() {
		c.setStateLocked(StateReconnecting)
		epoch, stop := c.epoch, c.stop
		c.mu.Unlock()
		c.log.Warn("connection lost, reconnecting", zap.Error(cause))
		go c.reconnect(epoch, stop, cause)
		return
	}
	c.setStateLocked(StateDisconnected)
	onClosed := c.onClosed
	c.mu.Unlock()

	c.log.Warn("connection closed", zap.Error(cause))
	if onClosed != nil {
		onClosed(cause)
	}
}

func (c *Client) reconnect(epoch uint64, stop <-chan struct{}, cause error) {
	for i, delay := range c.cfg.ReconnectDelays {
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-stop:
				timer.Stop()
				return
			}
		}

		c.mu.Lock()
		if c.epoch != epoch || c.state == StateConnected {
			c.mu.Unlock()
			return
		}
		a := c.pending
		if a == nil {
			a = c.startAttemptLocked()
		}
		c.mu.Unlock()

		<-a.done
		if a.err == nil {
			metrics.Reconnects.WithLabelValues("ok").Inc()
			return
		}
		if errors.Is(a.err, ErrConnectionAborted) {
			return
		}
		metrics.Reconnects.WithLabelValues("error").Inc()
		c.log.Warn("reconnect attempt failed", zap.Int("attempt", i+1), zap.Error(a.err))
	}

	c.mu.Lock()
	if c.epoch != epoch || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateDisconnected)
	onClosed := c.onClosed
	c.mu.Unlock()

	c.log.Error("giving up on reconnect", zap.Error(cause))
	if onClosed != nil {
		onClosed(cause)
	}
}
