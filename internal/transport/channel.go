// Package transport owns the duplex STOMP connection to the chat server.
//
// A Channel is opened once per conversation, exposes one ordered event
// stream per subscribed topic and publishes outbound frames. It never
// reconnects on its own; when the connection drops every subscription
// stream ends with an error event and the Channel goes back to
// Disconnected, ready for another Open.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/saravenpi/wavechat/internal/logging"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	}
	return "unknown"
}

var (
	ErrNotConnected = errors.New("channel is not connected")
	ErrClosed       = errors.New("channel closed")
)

// ConnectionError reports a connection that could not be established or
// that dropped while connected.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SendError reports a publish that could not be handed to the connection.
type SendError struct {
	Destination string
	Err         error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s failed: %v", e.Destination, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

type Config struct {
	URL string
	// Host is the STOMP virtual host sent in the CONNECT frame.
	Host      string
	Login     string
	Passcode  string
	HeartBeat time.Duration
	// Header is sent with the websocket handshake. Session cookies and
	// bearer tokens go here.
	Header      http.Header
	DialTimeout time.Duration
}

// Dialer opens the raw byte stream STOMP runs over.
type Dialer func(ctx context.Context, cfg Config) (io.ReadWriteCloser, error)

// Event is one inbound frame. A non-nil Err is always the last event of a
// stream.
type Event struct {
	Destination string
	Body        []byte
	Err         error
}

// Subscription is a cancellable stream of events for one topic.
type Subscription interface {
	Events() <-chan Event
	Unsubscribe() error
}

type Option func(*Channel)

func WithDialer(d Dialer) Option {
	return func(c *Channel) { c.dial = d }
}

// WithStateHandler registers fn to be called on every state transition.
// It runs on the goroutine that caused the transition and must not call
// back into the Channel.
func WithStateHandler(fn func(State, error)) Option {
	return func(c *Channel) { c.onState = fn }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Channel) { c.log = l }
}

type Channel struct {
	cfg     Config
	dial    Dialer
	onState func(State, error)
	log     zerolog.Logger

	mu      sync.Mutex
	state   State
	conn    *stomp.Conn
	rwc     io.ReadWriteCloser
	subs    map[string]*subscription
	opening chan struct{}
	openErr error
	cancel  context.CancelFunc
	closed  bool
}

func NewChannel(cfg Config, opts ...Option) *Channel {
	c := &Channel{
		cfg:  cfg,
		dial: DialWebSocket,
		log:  logging.Component("transport"),
		subs: make(map[string]*subscription),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Open connects and performs the STOMP handshake. Calling Open while a
// connect is in flight waits for that attempt; calling it while connected
// returns nil immediately.
func (c *Channel) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return &ConnectionError{URL: c.cfg.URL, Err: ErrClosed}
	}
	switch c.state {
	case Connected:
		c.mu.Unlock()
		return nil
	case Connecting:
		wait := c.opening
		c.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return &ConnectionError{URL: c.cfg.URL, Err: ctx.Err()}
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.openErr
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.opening = done
	c.cancel = cancel
	c.openErr = nil
	c.setState(Connecting, nil)
	c.mu.Unlock()

	conn, rwc, err := c.connect(ctx)

	c.mu.Lock()
	defer func() {
		c.cancel = nil
		close(done)
		c.mu.Unlock()
		cancel()
	}()

	if err == nil && c.closed {
		conn.MustDisconnect()
		rwc.Close()
		err = ErrClosed
	}
	if err != nil {
		c.openErr = &ConnectionError{URL: c.cfg.URL, Err: err}
		if !c.closed {
			c.setState(Disconnected, c.openErr)
		}
		return c.openErr
	}

	c.conn = conn
	c.rwc = rwc
	c.setState(Connected, nil)
	c.log.Info().Str("url", c.cfg.URL).Msg("Connected")
	return nil
}

func (c *Channel) connect(ctx context.Context) (*stomp.Conn, io.ReadWriteCloser, error) {
	if c.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.DialTimeout)
		defer cancel()
	}

	rwc, err := c.dial(ctx, c.cfg)
	if err != nil {
		return nil, nil, err
	}

	// The handshake has no context of its own; closing the stream unblocks it.
	stop := context.AfterFunc(ctx, func() { rwc.Close() })
	conn, err := stomp.Connect(rwc, c.connOptions()...)
	if !stop() {
		if conn != nil {
			conn.MustDisconnect()
		}
		return nil, nil, ctx.Err()
	}
	if err != nil {
		rwc.Close()
		return nil, nil, err
	}
	return conn, rwc, nil
}

func (c *Channel) connOptions() []func(*stomp.Conn) error {
	host := c.cfg.Host
	if host == "" {
		host = "/"
	}
	opts := []func(*stomp.Conn) error{
		stomp.ConnOpt.Host(host),
		stomp.ConnOpt.HeartBeat(c.cfg.HeartBeat, c.cfg.HeartBeat),
	}
	if c.cfg.Login != "" {
		opts = append(opts, stomp.ConnOpt.Login(c.cfg.Login, c.cfg.Passcode))
	}
	return opts
}

// Subscribe registers a stream for topic. Events are delivered in arrival
// order.
func (c *Channel) Subscribe(topic string) (Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Connected {
		return nil, ErrNotConnected
	}

	id := uuid.NewString()
	ss, err := c.conn.Subscribe(topic, stomp.AckAuto, stomp.SubscribeOpt.Id(id))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	sub := &subscription{
		id:      id,
		topic:   topic,
		channel: c,
		inner:   ss,
		events:  make(chan Event, 64),
		done:    make(chan struct{}),
	}
	c.subs[id] = sub
	go sub.pump()

	c.log.Debug().Str("topic", topic).Str("subscription", id).Msg("Subscribed")
	return sub, nil
}

// Send publishes payload as JSON. There is no acknowledgement; delivery is
// only observable through inbound events.
func (c *Channel) Send(destination string, payload []byte) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == Connected
	c.mu.Unlock()

	if !connected {
		return &SendError{Destination: destination, Err: ErrNotConnected}
	}
	if err := conn.Send(destination, "application/json", payload); err != nil {
		return &SendError{Destination: destination, Err: err}
	}
	return nil
}

// Close cancels every subscription and releases the connection. It is safe
// to call in any state, including while Open is still in flight, and more
// than once.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
	conn, rwc := c.conn, c.rwc
	subs := c.takeSubs()
	if conn != nil {
		c.setState(Closing, nil)
	}
	c.mu.Unlock()

	for _, sub := range subs {
		sub.stop(conn != nil)
	}

	var err error
	if conn != nil {
		if derr := conn.Disconnect(); derr != nil && !errors.Is(derr, stomp.ErrAlreadyClosed) {
			err = derr
		}
		rwc.Close()
	}

	c.mu.Lock()
	c.conn = nil
	c.rwc = nil
	c.setState(Disconnected, nil)
	c.mu.Unlock()
	return err
}

// dropped moves the channel back to Disconnected after the connection
// failed underneath it.
func (c *Channel) dropped(err error) {
	c.mu.Lock()
	if c.state != Connected {
		c.mu.Unlock()
		return
	}
	rwc := c.rwc
	subs := c.takeSubs()
	c.conn = nil
	c.rwc = nil
	cerr := &ConnectionError{URL: c.cfg.URL, Err: err}
	c.setState(Disconnected, cerr)
	c.mu.Unlock()

	c.log.Warn().Err(err).Msg("Connection dropped")
	rwc.Close()
	for _, sub := range subs {
		sub.stop(false)
	}
}

func (c *Channel) takeSubs() []*subscription {
	subs := make([]*subscription, 0, len(c.subs))
	for id, sub := range c.subs {
		subs = append(subs, sub)
		delete(c.subs, id)
	}
	return subs
}

func (c *Channel) forget(id string) {
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
}

// setState must be called with mu held.
func (c *Channel) setState(s State, err error) {
	if c.state == s {
		return
	}
	c.state = s
	if c.onState != nil {
		c.onState(s, err)
	}
}

type subscription struct {
	id      string
	topic   string
	channel *Channel
	inner   *stomp.Subscription
	events  chan Event

	once sync.Once
	done chan struct{}
}

func (s *subscription) Events() <-chan Event {
	return s.events
}

func (s *subscription) Unsubscribe() error {
	s.channel.forget(s.id)
	return s.stop(true)
}

func (s *subscription) stop(remote bool) error {
	var err error
	s.once.Do(func() {
		close(s.done)
		if remote && s.inner.Active() {
			err = s.inner.Unsubscribe()
		}
	})
	return err
}

func (s *subscription) pump() {
	defer close(s.events)

	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-s.inner.C:
			if !ok {
				s.fail(io.ErrUnexpectedEOF)
				return
			}
			if msg.Err != nil {
				s.fail(msg.Err)
				return
			}
			select {
			case s.events <- Event{Destination: msg.Destination, Body: msg.Body}:
			case <-s.done:
				return
			}
		}
	}
}

// fail ends the stream with err unless it was cancelled locally.
func (s *subscription) fail(err error) {
	select {
	case <-s.done:
		return
	default:
	}
	s.channel.dropped(err)
	select {
	case s.events <- Event{Destination: s.topic, Err: &ConnectionError{URL: s.channel.cfg.URL, Err: err}}:
	default:
	}
}
