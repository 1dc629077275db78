// Package stream owns the single persistent socket to the broker's
// streaming gateway: the connect handshake, heartbeat supervision, and
// demultiplexing of inbound frames to per-subscription event channels.
package stream

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/traderepublic/broker-session/core/wire"
	"github.com/traderepublic/broker-session/internal/logger"
	"github.com/traderepublic/broker-session/internal/metrics"
)

// State is the connection lifecycle. Only Connected permits
// sub/unsub traffic.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

const (
	heartbeatInterval = 20 * time.Second
	staleAfter        = 40 * time.Second
	dialTimeout       = 10 * time.Second
	eventBuffer       = 64
)

// connectDescriptor is the fixed handshake body sent as the first
// outbound frame. Field order is insignificant but kept stable.
const connectDescriptor = `{"locale":"en","platformId":"webtrading","platformVersion":"chrome - 120.0.0","clientId":"app.traderepublic.com","clientVersion":"1.0.0"}`

// Event is what a registered subscription channel receives: a decoded
// message, or a terminal error (connection death, malformed frame).
type Event struct {
	Code    wire.Code
	Payload interface{}
	Err     error
}

// Socket is the minimal surface a StreamConnection needs from a
// connected transport, satisfied by *websocket.Conn. Abstracted for
// testability.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a Socket to url, carrying header on the upgrade request.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Socket, error)
}

type gorillaDialer struct{}

func (gorillaDialer) Dial(ctx context.Context, url string, header http.Header) (Socket, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Connection owns a single socket lifetime: one dial, one reader
// goroutine, one heartbeat supervisor. It is not reused across
// reconnects; callers build a fresh Connection to reconnect. No two
// Connections should be dialed concurrently for the same session.
type Connection struct {
	url    string
	dialer Dialer
	clock  func() time.Time
	log    logger.Logger

	writeMu sync.Mutex

	mu              sync.Mutex
	socket          Socket
	state           State
	codec           *wire.Codec
	subs            map[int]chan Event
	lastMessageTime time.Time

	group *errgroup.Group
}

// Option configures a Connection at construction time.
type Option func(*Connection)

func WithDialer(d Dialer) Option { return func(c *Connection) { c.dialer = d } }
func WithClock(clock func() time.Time) Option {
	return func(c *Connection) { c.clock = clock }
}
func WithLogger(log logger.Logger) Option { return func(c *Connection) { c.log = log } }
func WithStrictDelta(strict bool) Option {
	return func(c *Connection) { c.codec.Strict = strict }
}

// New builds a Connection targeting url (e.g. "wss://api.traderepublic.com").
func New(url string, opts ...Option) *Connection {
	c := &Connection{
		url:    url,
		dialer: gorillaDialer{},
		clock:  time.Now,
		log:    logger.GetDefaultLogger(),
		codec:  wire.NewCodec(),
		state:  Disconnected,
		subs:   make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State reports the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Dial opens the socket with cookie on the upgrade request, sends the
// connect frame, and starts the reader and heartbeat goroutines. It
// returns once the connect frame has been sent; use Wait to block until
// the connection dies.
func (c *Connection) Dial(ctx context.Context, cookie string) error {
	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return fmt.Errorf("%w: connection already %s", wire.ErrConnectionDead, c.state)
	}
	c.state = Connecting
	c.mu.Unlock()

	header := http.Header{}
	if cookie != "" {
		header.Set("Cookie", cookie)
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	socket, err := c.dialer.Dial(dialCtx, c.url, header)
	if err != nil {
		c.mu.Lock()
		c.state = Disconnected
		c.mu.Unlock()
		metrics.ConnectionsOpened.WithLabelValues("failure").Inc()
		return fmt.Errorf("%w: dial failed: %v", wire.ErrConnectionDead, err)
	}

	c.mu.Lock()
	c.socket = socket
	c.state = Connected
	c.lastMessageTime = c.clock()
	c.mu.Unlock()
	metrics.ConnectionsOpened.WithLabelValues("success").Inc()
	metrics.ConnectionsActive.Set(1)

	if err := c.Send(wire.BuildConnect([]byte(connectDescriptor))); err != nil {
		return fmt.Errorf("%w: %v", wire.ErrSendFailed, err)
	}

	group, gctx := errgroup.WithContext(ctx)
	c.group = group
	group.Go(func() error { return c.readLoop() })
	group.Go(func() error { return c.heartbeatLoop(gctx) })

	return nil
}

// Wait blocks until the reader and heartbeat goroutines both exit,
// returning the error that ended the connection.
func (c *Connection) Wait() error {
	if c.group == nil {
		return nil
	}
	return c.group.Wait()
}

// Send writes a raw outbound frame as a text message.
func (c *Connection) Send(frame string) error {
	c.mu.Lock()
	socket := c.socket
	c.mu.Unlock()
	if socket == nil {
		return fmt.Errorf("%w: not connected", wire.ErrSendFailed)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := socket.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		return fmt.Errorf("%w: %v", wire.ErrSendFailed, err)
	}
	return nil
}

// Register allocates an event channel for a subscription id, to be fed
// by the reader goroutine as frames for that id arrive. Must be called
// before the sub frame is sent to avoid a delivery race.
func (c *Connection) Register(id int) <-chan Event {
	ch := make(chan Event, eventBuffer)
	c.mu.Lock()
	c.subs[id] = ch
	c.mu.Unlock()
	metrics.SubscriptionsActive.Inc()
	return ch
}

// Unregister removes a subscription's event channel. Safe on unknown ids.
func (c *Connection) Unregister(id int) {
	c.mu.Lock()
	_, existed := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()
	if existed {
		metrics.SubscriptionsActive.Dec()
	}
}

// Close tears down the socket without notifying subscribers; used on
// explicit caller-driven shutdown rather than a heartbeat failure.
func (c *Connection) Close() error {
	c.mu.Lock()
	socket := c.socket
	c.socket = nil
	c.state = Disconnected
	c.mu.Unlock()
	if socket == nil {
		return nil
	}
	return socket.Close()
}

func (c *Connection) readLoop() error {
	for {
		c.mu.Lock()
		socket := c.socket
		c.mu.Unlock()
		if socket == nil {
			return wire.ErrConnectionDead
		}

		_, data, err := socket.ReadMessage()
		if err != nil {
			metrics.ReconnectsTotal.WithLabelValues("read_error").Inc()
			c.killConnection(fmt.Errorf("%w: %v", wire.ErrConnectionDead, err))
			return err
		}

		c.mu.Lock()
		c.lastMessageTime = c.clock()
		c.mu.Unlock()

		c.dispatch(string(data))
	}
}

func (c *Connection) dispatch(raw string) {
	start := c.clock()
	metrics.FrameSize.Observe(float64(len(raw)))
	defer func() { metrics.FrameProcessingDuration.Observe(c.clock().Sub(start).Seconds()) }()

	frame, err := wire.ParseRawFrame(raw)
	if err != nil {
		metrics.FrameDecodeErrors.WithLabelValues("malformed").Inc()
		c.log.Debug("dropping malformed frame", logger.Error(err))
		return
	}

	msg, err := c.codec.Decode(frame)
	metrics.FramesReceived.WithLabelValues(string(rune(frame.Code))).Inc()
	if err != nil {
		metrics.FrameDecodeErrors.WithLabelValues("decode_failed").Inc()
	}

	c.mu.Lock()
	sink, ok := c.subs[frame.ID]
	c.mu.Unlock()
	if !ok {
		metrics.FrameDroppedUnregistered.Inc()
		c.log.Debug("frame for unknown subscription", logger.Int("id", frame.ID))
		return
	}

	var event Event
	if err != nil {
		event = Event{Err: err}
	} else {
		event = Event{Code: msg.Code, Payload: msg.Payload}
	}

	select {
	case sink <- event:
	default:
		c.log.Debug("subscription channel full, dropping event", logger.Int("id", frame.ID))
	}
}

func (c *Connection) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.mu.Lock()
			age := c.clock().Sub(c.lastMessageTime)
			c.mu.Unlock()
			metrics.HeartbeatAgeSeconds.Set(age.Seconds())
			if age >= staleAfter {
				err := fmt.Errorf("%w: no message for %s", wire.ErrConnectionDead, age)
				metrics.ReconnectsTotal.WithLabelValues("stale_heartbeat").Inc()
				c.killConnection(err)
				return err
			}
		}
	}
}

// killConnection closes the socket, moves to Disconnected, and fails
// every active subscription with a scoped WireError.
func (c *Connection) killConnection(cause error) {
	c.mu.Lock()
	if c.state == Disconnected {
		c.mu.Unlock()
		return
	}
	c.state = Disconnected
	socket := c.socket
	c.socket = nil
	subs := c.subs
	c.subs = make(map[int]chan Event)
	c.mu.Unlock()

	metrics.ConnectionsActive.Set(0)
	metrics.SubscriptionsActive.Sub(float64(len(subs)))

	if socket != nil {
		_ = socket.Close()
	}

	for id, sink := range subs {
		select {
		case sink <- Event{Err: &wire.Error{SubscriptionID: id, Cause: cause}}:
		default:
		}
	}
}
