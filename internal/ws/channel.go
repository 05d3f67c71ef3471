package ws

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/connect4/client/internal/logger"
	"github.com/connect4/client/internal/metrics"
	"github.com/connect4/client/internal/protocol"
	"github.com/connect4/client/internal/pubsub"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 64 * 1024           // Maximum message size allowed from peer.
	sendBuffer     = 256

	// DefaultMaxAttempts counts automatic retries after the first failed
	// dial, so a channel dials at most DefaultMaxAttempts+1 times before it
	// reports Failed.
	DefaultMaxAttempts   = 5
	DefaultRetryInterval = 3 * time.Second
)

// Dialer opens the underlying WebSocket. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Options configures a Channel.
type Options struct {
	URL           string // ws(s)://host/ws; the session id is added as ?gameId=
	MaxAttempts   int    // automatic retries after the first failure
	RetryInterval time.Duration
	Dialer        Dialer
	Logger        *logger.Logger
}

type event struct {
	gen     uint64
	topic   string
	payload interface{}
}

type attempt struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (a *attempt) finish(err error) {
	a.err = err
	a.cancel()
	close(a.done)
}

// Channel owns one logical connection to the remote authority for a
// session. Handlers registered with Subscribe run on the goroutine that
// calls Run, one at a time, in the order events were received.
type Channel struct {
	opts Options
	log  *logger.Logger
	bus  *pubsub.Bus

	mu         sync.Mutex
	state      ConnectionState
	sessionID  string
	conn       *websocket.Conn
	send       chan []byte
	attempts   int
	retryTimer *time.Timer
	pending    *attempt
	gen        uint64
	queue      []event
	notify     chan struct{}
}

// NewChannel creates an Idle channel. Call Run to start delivering events.
func NewChannel(opts Options) *Channel {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 45 * time.Second,
		}
	}
	if opts.Logger == nil {
		opts.Logger = logger.WithComponent("ws")
	}
	metrics.AddChannel(Idle.String())
	return &Channel{
		opts:   opts,
		log:    opts.Logger,
		bus:    pubsub.NewBus(),
		notify: make(chan struct{}, 1),
	}
}

// Run delivers queued events to subscribers until ctx is done.
func (c *Channel) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.notify:
		}
		for {
			ev, ok := c.pop()
			if !ok {
				break
			}
			c.bus.Publish(ev.topic, ev.payload)
		}
	}
}

func (c *Channel) pop() (event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.queue) > 0 {
		ev := c.queue[0]
		c.queue[0] = event{}
		c.queue = c.queue[1:]
		if ev.gen == c.gen {
			return ev, true
		}
	}
	return event{}, false
}

// emitLocked queues an event for delivery. Must hold c.mu.
func (c *Channel) emitLocked(topic string, payload interface{}) {
	c.queue = append(c.queue, event{gen: c.gen, topic: topic, payload: payload})
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Channel) setStateLocked(s ConnectionState) {
	metrics.MoveChannelState(c.state.Kind.String(), s.Kind.String())
	c.state = s
	c.emitLocked(EventStateChange, s)
}

// State returns the current connection state.
func (c *Channel) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the automatic reconnection attempts made since the last
// successful open.
func (c *Channel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Subscribe registers handler for an inbound message type or a lifecycle
// topic. Message handlers receive the raw JSON payload.
func (c *Channel) Subscribe(eventType string, handler pubsub.Handler) pubsub.Unsubscribe {
	return c.bus.Subscribe(eventType, handler)
}

func (c *Channel) endpoint(sessionID string) (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("gameId", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect opens the connection for sessionID. It returns immediately when
// the channel is already open for that session and joins the in-flight
// attempt while connecting. A failed attempt arms the automatic retry
// sequence.
func (c *Channel) Connect(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	if c.state.Kind == Open && c.sessionID == sessionID {
		c.mu.Unlock()
		c.log.Debug("channel already open", map[string]interface{}{"gameId": sessionID})
		return nil
	}
	if a := c.pending; a != nil && c.sessionID == sessionID {
		c.mu.Unlock()
		return c.wait(ctx, a)
	}

	if c.pending != nil {
		c.pending.cancel()
		c.pending = nil
	}
	var stale chan []byte
	if c.conn != nil {
		// Switching sessions: retire the old socket without triggering a retry.
		stale = c.send
		c.conn, c.send = nil, nil
	}
	if c.state.Kind == Failed || c.state.Kind == Idle || c.sessionID != sessionID {
		c.attempts = 0
	}
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.sessionID = sessionID
	a, gen := c.beginLocked(ctx)
	c.mu.Unlock()

	if stale != nil {
		close(stale)
	}
	go c.dial(a, gen, sessionID)
	return c.wait(ctx, a)
}

func (c *Channel) wait(ctx context.Context, a *attempt) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// beginLocked registers a new pending attempt. Must hold c.mu.
func (c *Channel) beginLocked(parent context.Context) (*attempt, uint64) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	a := &attempt{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	c.pending = a
	c.setStateLocked(ConnectionState{Kind: Connecting})
	return a, c.gen
}

func (c *Channel) dial(a *attempt, gen uint64, sessionID string) {
	target, err := c.endpoint(sessionID)
	var conn *websocket.Conn
	var resp *http.Response
	if err == nil {
		c.log.Info("dialing", map[string]interface{}{"url": target})
		conn, resp, err = c.opts.Dialer.DialContext(a.ctx, target, nil)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c.mu.Lock()
	if gen != c.gen || c.pending != a {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		a.finish(ErrClosed)
		return
	}
	c.pending = nil

	if err != nil {
		cerr := &ConnectError{Kind: ErrHandshakeFailed, Attempt: c.attempts, Err: err}
		if resp != nil {
			cerr.Status = resp.StatusCode
		}
		c.log.Warn("connect failed", map[string]interface{}{"gameId": sessionID, "attempt": c.attempts, "error": err.Error()})
		c.failLocked()
		c.mu.Unlock()
		a.finish(cerr)
		return
	}

	send := make(chan []byte, sendBuffer)
	c.conn = conn
	c.send = send
	c.attempts = 0
	c.setStateLocked(ConnectionState{Kind: Open})
	c.mu.Unlock()

	c.log.Info("channel open", map[string]interface{}{"gameId": sessionID})
	go c.writePump(conn, send)
	go c.readPump(conn)
	a.finish(nil)
}

// failLocked handles a failed attempt or an unexpected close: it arms the
// next retry or, once the budget is spent, moves to Failed. A retry that is
// already armed absorbs the failure. Must hold c.mu.
func (c *Channel) failLocked() {
	if c.retryTimer != nil {
		c.setStateLocked(ConnectionState{Kind: Closed})
		return
	}
	if c.attempts >= c.opts.MaxAttempts {
		c.log.Error("max reconnection attempts reached", map[string]interface{}{"gameId": c.sessionID, "attempts": c.attempts})
		metrics.ChannelFailures.Inc()
		c.setStateLocked(ConnectionState{Kind: Failed, Reason: ErrMaxAttemptsExceeded})
		c.emitLocked(EventConnectionFailed, ConnectionFailed{Reason: ErrMaxAttemptsExceeded.Error()})
		return
	}
	c.attempts++
	gen := c.gen
	c.setStateLocked(ConnectionState{Kind: Closed})
	c.retryTimer = time.AfterFunc(c.opts.RetryInterval, func() { c.retry(gen) })
}

func (c *Channel) retry(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.retryTimer == nil {
		c.mu.Unlock()
		return
	}
	c.retryTimer = nil
	if c.pending != nil || c.state.Kind == Open {
		c.mu.Unlock()
		return
	}
	attemptNo := c.attempts
	sessionID := c.sessionID
	c.log.Info("attempting to reconnect", map[string]interface{}{"attempt": attemptNo, "max": c.opts.MaxAttempts})
	metrics.ChannelReconnectAttempts.Inc()
	c.emitLocked(EventReconnectionNeeded, ReconnectionNeeded{Attempt: attemptNo})
	a, g := c.beginLocked(context.Background())
	c.mu.Unlock()

	c.dial(a, g, sessionID)
}

// Send writes a typed message. Nothing is queued while the channel is not
// open: the message is dropped with a warning and ErrNotOpen is returned.
func (c *Channel) Send(msgType string, payload interface{}) error {
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Kind != Open || c.send == nil {
		c.log.Warn("cannot send message: channel not open", map[string]interface{}{"type": msgType, "state": c.state.String()})
		metrics.ChannelDroppedSends.Inc()
		return ErrNotOpen
	}
	select {
	case c.send <- data:
		return nil
	default:
		c.log.Warn("send buffer full, dropping message", map[string]interface{}{"type": msgType})
		metrics.ChannelDroppedSends.Inc()
		return ErrSendBufferFull
	}
}

// Close shuts the channel down deliberately: the retry timer and any
// pending attempt are cancelled, queued events are discarded, every handler
// is removed and the attempt counter is reset.
func (c *Channel) Close() error {
	c.mu.Lock()
	c.gen++
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if c.pending != nil {
		c.pending.cancel()
		c.pending = nil
	}
	send := c.send
	c.conn, c.send = nil, nil
	c.attempts = 0
	c.queue = nil
	metrics.MoveChannelState(c.state.Kind.String(), Closed.String())
	c.state = ConnectionState{Kind: Closed}
	c.mu.Unlock()

	c.bus.Clear()
	if send != nil {
		close(send)
	}
	c.log.Info("channel closed by client")
	return nil
}

// connLost runs when the read side of conn ends. Deliberate closes and
// retired sockets have already been detached and are ignored.
func (c *Channel) connLost(conn *websocket.Conn, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return
	}
	c.log.Warn("connection lost", map[string]interface{}{"gameId": c.sessionID, "error": errString(err)})
	close(c.send)
	c.conn, c.send = nil, nil
	c.failLocked()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// readPump reads frames until the connection fails and queues each decoded
// message under its type.
func (c *Channel) readPump(conn *websocket.Conn) {
	var readErr error
	defer func() {
		conn.Close()
		c.connLost(conn, readErr)
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("read error", map[string]interface{}{"error": err.Error()})
			}
			readErr = err
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			c.log.Error("dropping malformed message", map[string]interface{}{"error": err.Error()})
			metrics.ChannelDroppedFrames.Inc()
			continue
		}

		c.mu.Lock()
		if c.conn == conn {
			c.emitLocked(msg.Type, msg.Payload)
		}
		c.mu.Unlock()
	}
}

// writePump drains send onto conn and keeps the connection alive with
// pings. A closed send channel means a deliberate close.
func (c *Channel) writePump(conn *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "User disconnected"))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
