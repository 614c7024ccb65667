// Package conversation drives the active two-party conversation: it loads
// history, keeps the push subscription alive, and routes inbound frames and
// local actions into the thread store.
//
// Every asynchronous completion (history, profile, connect, inbound frame,
// reconnect timer) carries the epoch it was started under and is dropped if
// the conversation has since been closed or replaced.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/saravenpi/wavechat/internal/api"
	"github.com/saravenpi/wavechat/internal/logging"
	"github.com/saravenpi/wavechat/internal/models"
	"github.com/saravenpi/wavechat/internal/thread"
	"github.com/saravenpi/wavechat/internal/transport"
	"github.com/saravenpi/wavechat/internal/wire"
)

// SendDestination is where outbound chat messages are published.
const SendDestination = "/app/chat"

// Topic returns the private topic the server pushes a user's messages to.
func Topic(user models.UserID) string {
	return fmt.Sprintf("/user/%d/queue/messages", user)
}

type State int

const (
	Idle State = iota
	Loading
	Active
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Active:
		return "active"
	case Closed:
		return "closed"
	}
	return "unknown"
}

var (
	ErrNotActive     = errors.New("no active conversation")
	ErrNotConfirmed  = errors.New("message is not confirmed yet")
	ErrNotOwnMessage = errors.New("message was not sent by you")
	ErrNotFailed     = errors.New("message has not failed")
	ErrEmptyMessage  = errors.New("message is empty")
	ErrMessageGone   = errors.New("message no longer in conversation")
)

type HistoryClient interface {
	FetchHistory(ctx context.Context, local, peer models.UserID) ([]models.Message, error)
}

type Mutator interface {
	UpdateMessage(ctx context.Context, id models.MessageID, content string) error
	DeleteMessage(ctx context.Context, id models.MessageID) error
}

type ProfileSource interface {
	FetchProfile(ctx context.Context, user models.UserID) (models.Profile, error)
}

// Channel is the duplex connection of one conversation.
type Channel interface {
	Open(ctx context.Context) error
	Subscribe(topic string) (transport.Subscription, error)
	Send(destination string, payload []byte) error
	Close() error
}

// Notifier is told about messages that arrive for a conversation other than
// the open one.
type Notifier interface {
	MessageReceived(msg models.Message)
}

type Deps struct {
	History    HistoryClient
	Messages   Mutator
	Profiles   ProfileSource
	NewChannel func() Channel
}

// Snapshot is a consistent copy of the controller's observable state.
type Snapshot struct {
	State         State
	Peer          models.UserID
	Profile       models.Profile
	Messages      []models.Message
	Connection    transport.State
	Reconnecting  bool
	HistoryLoaded bool
	Err           error
	Unread        map[models.UserID]int
	Epoch         uint64
}

type Controller struct {
	local models.UserID
	deps  Deps

	window      time.Duration
	delay       time.Duration
	maxDelay    time.Duration
	maxAttempts int
	now         func() time.Time
	notifier    Notifier
	log         zerolog.Logger

	mu            sync.Mutex
	epoch         uint64
	state         State
	peer          models.UserID
	profile       models.Profile
	store         *thread.Store
	buffer        []models.Message
	historyLoaded bool
	channel       Channel
	sub           transport.Subscription
	conn          transport.State
	connecting    bool
	reconnecting  bool
	attempts      int
	timer         *time.Timer
	ctx           context.Context
	cancel        context.CancelFunc
	err           error
	unread        map[models.UserID]int

	updates chan struct{}
}

type Option func(*Controller)

func WithReconcileWindow(d time.Duration) Option {
	return func(c *Controller) { c.window = d }
}

// WithBackoff configures automatic reconnects. The delay doubles after each
// failed attempt up to max. attempts <= 0 retries forever.
func WithBackoff(delay, max time.Duration, attempts int) Option {
	return func(c *Controller) {
		c.delay = delay
		c.maxDelay = max
		c.maxAttempts = attempts
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

func New(local models.UserID, deps Deps, opts ...Option) *Controller {
	c := &Controller{
		local:       local,
		deps:        deps,
		window:      thread.DefaultReconcileWindow,
		delay:       2 * time.Second,
		maxDelay:    30 * time.Second,
		maxAttempts: 5,
		now:         time.Now,
		log:         logging.Component("conversation"),
		unread:      make(map[models.UserID]int),
		updates:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Updates signals that the snapshot changed. Signals coalesce; read
// Snapshot after each one.
func (c *Controller) Updates() <-chan struct{} {
	return c.updates
}

func (c *Controller) changed() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		State:         c.state,
		Peer:          c.peer,
		Profile:       c.profile,
		Connection:    c.conn,
		Reconnecting:  c.reconnecting,
		HistoryLoaded: c.historyLoaded,
		Err:           c.err,
		Epoch:         c.epoch,
		Unread:        make(map[models.UserID]int, len(c.unread)),
	}
	if c.store != nil {
		snap.Messages = c.store.Messages()
	}
	for peer, n := range c.unread {
		snap.Unread[peer] = n
	}
	return snap
}

func (c *Controller) Local() models.UserID {
	return c.local
}

// Open makes peer the active conversation. Any previous conversation is
// closed first. History, profile and channel are loaded concurrently.
func (c *Controller) Open(peer models.UserID) {
	c.mu.Lock()
	release := c.teardownLocked()

	c.epoch++
	epoch := c.epoch
	ctx, cancel := context.WithCancel(context.Background())
	c.ctx, c.cancel = ctx, cancel
	c.state = Loading
	c.peer = peer
	c.profile = models.Profile{ID: peer}
	c.err = nil
	c.store = thread.New(c.local,
		thread.WithWindow(c.window),
		thread.WithClock(c.now),
		thread.WithLogger(c.log.With().Int64("peer", int64(peer)).Logger()),
	)
	delete(c.unread, peer)

	ch := c.deps.NewChannel()
	c.channel = ch
	c.conn = transport.Connecting
	c.connecting = true
	c.mu.Unlock()

	release()
	c.log.Info().Int64("peer", int64(peer)).Uint64("epoch", epoch).Msg("Opening conversation")
	c.changed()

	go c.loadHistory(ctx, epoch, peer)
	go c.loadProfile(ctx, epoch, peer)
	go c.connect(ctx, epoch, ch)
}

// Close tears the active conversation down: in-flight work is cancelled,
// the subscription and channel are released and the thread is discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.state == Idle || c.state == Closed {
		c.state = Closed
		c.mu.Unlock()
		return
	}
	release := c.teardownLocked()
	c.epoch++
	c.state = Closed
	c.err = nil
	peer := c.peer
	c.mu.Unlock()

	release()
	c.log.Info().Int64("peer", int64(peer)).Msg("Closed conversation")
	c.changed()
}

// teardownLocked resets per-conversation state and returns a func that
// releases the channel. It must be called with mu held and the returned
// func run after unlocking.
func (c *Controller) teardownLocked() func() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}

	ch, sub := c.channel, c.sub
	c.channel, c.sub = nil, nil
	c.store = nil
	c.buffer = nil
	c.historyLoaded = false
	c.conn = transport.Disconnected
	c.connecting = false
	c.reconnecting = false
	c.attempts = 0

	return func() {
		if sub != nil {
			sub.Unsubscribe()
		}
		if ch != nil {
			if err := ch.Close(); err != nil {
				c.log.Warn().Err(err).Msg("Failed to close channel")
			}
		}
	}
}

// current reports whether work started under epoch may still mutate
// state. mu must be held.
func (c *Controller) current(epoch uint64) bool {
	return c.epoch == epoch && c.state != Closed && c.state != Idle
}

func (c *Controller) loadHistory(ctx context.Context, epoch uint64, peer models.UserID) {
	history, err := c.deps.History.FetchHistory(ctx, c.local, peer)

	c.mu.Lock()
	if !c.current(epoch) {
		c.mu.Unlock()
		c.log.Debug().Uint64("epoch", epoch).Msg("Dropping stale history")
		return
	}

	if err != nil {
		release := c.teardownLocked()
		c.state = Closed
		c.err = asFetchError(err)
		c.mu.Unlock()

		release()
		c.log.Error().Err(err).Int64("peer", int64(peer)).Msg("Failed to load history")
		c.changed()
		return
	}

	if aerr := c.store.LoadInitial(history); aerr != nil {
		c.log.Warn().Err(aerr).Int64("peer", int64(peer)).Msg("History out of order")
	}
	for _, msg := range c.buffer {
		c.applyLocked(msg)
	}
	replayed := len(c.buffer)
	c.buffer = nil
	c.historyLoaded = true
	c.activateLocked()
	c.mu.Unlock()

	c.log.Debug().Int("messages", len(history)).Int("replayed", replayed).Msg("History loaded")
	c.changed()
}

func (c *Controller) loadProfile(ctx context.Context, epoch uint64, peer models.UserID) {
	if c.deps.Profiles == nil {
		return
	}
	profile, err := c.deps.Profiles.FetchProfile(ctx, peer)
	if err != nil {
		c.log.Warn().Err(err).Int64("peer", int64(peer)).Msg("Failed to load profile")
		return
	}

	c.mu.Lock()
	if !c.current(epoch) {
		c.mu.Unlock()
		return
	}
	c.profile = profile
	c.mu.Unlock()
	c.changed()
}

// connect opens ch and subscribes to the local user's topic.
func (c *Controller) connect(ctx context.Context, epoch uint64, ch Channel) {
	err := ch.Open(ctx)
	var sub transport.Subscription
	if err == nil {
		sub, err = ch.Subscribe(Topic(c.local))
	}

	c.mu.Lock()
	if !c.current(epoch) || c.channel != ch {
		c.mu.Unlock()
		if sub != nil {
			sub.Unsubscribe()
		}
		return
	}
	c.connecting = false

	if err != nil {
		c.conn = transport.Disconnected
		c.err = err
		c.scheduleReconnectLocked(epoch)
		c.mu.Unlock()

		c.log.Warn().Err(err).Uint64("epoch", epoch).Msg("Failed to connect")
		c.changed()
		return
	}

	resync := c.historyLoaded && c.attempts > 0
	peer := c.peer
	c.sub = sub
	c.conn = transport.Connected
	c.reconnecting = false
	c.attempts = 0
	var connErr *transport.ConnectionError
	if errors.As(c.err, &connErr) {
		c.err = nil
	}
	c.activateLocked()
	c.mu.Unlock()

	c.changed()
	go c.pump(epoch, sub)
	if resync {
		go c.resync(ctx, epoch, peer)
	}
}

// activateLocked moves Loading to Active once history is in and the
// subscription is live.
func (c *Controller) activateLocked() {
	if c.state == Loading && c.historyLoaded && c.conn == transport.Connected {
		c.state = Active
		c.log.Info().Int64("peer", int64(c.peer)).Uint64("epoch", c.epoch).Msg("Conversation active")
	}
}

func (c *Controller) pump(epoch uint64, sub transport.Subscription) {
	for ev := range sub.Events() {
		if ev.Err != nil {
			c.dropped(epoch, sub, ev.Err)
			return
		}
		msg, err := wire.DecodeMessage(ev.Body)
		if err != nil {
			c.log.Warn().Err(err).Msg("Ignoring undecodable frame")
			continue
		}
		c.inbound(epoch, msg)
	}
	c.dropped(epoch, sub, &transport.ConnectionError{Err: errors.New("subscription ended")})
}

func (c *Controller) inbound(epoch uint64, msg models.Message) {
	c.mu.Lock()
	if !c.current(epoch) {
		c.mu.Unlock()
		return
	}

	if !msg.Involves(c.local, c.peer) {
		var notify bool
		if msg.SenderID != c.local {
			c.unread[msg.SenderID]++
			notify = c.notifier != nil
		}
		c.mu.Unlock()

		if notify {
			c.notifier.MessageReceived(msg)
		}
		c.changed()
		return
	}

	if !c.historyLoaded {
		c.buffer = append(c.buffer, msg)
		c.mu.Unlock()
		return
	}
	c.applyLocked(msg)
	c.mu.Unlock()
	c.changed()
}

func (c *Controller) applyLocked(msg models.Message) {
	outcome := c.store.ApplyInbound(msg)
	c.log.Debug().Int64("id", int64(msg.ID)).Stringer("outcome", outcome).Msg("Applied inbound message")
}

func (c *Controller) dropped(epoch uint64, sub transport.Subscription, err error) {
	c.mu.Lock()
	if !c.current(epoch) || c.sub != sub {
		c.mu.Unlock()
		return
	}
	c.sub = nil
	c.conn = transport.Disconnected
	c.err = err
	c.scheduleReconnectLocked(epoch)
	c.mu.Unlock()

	c.log.Warn().Err(err).Uint64("epoch", epoch).Msg("Connection lost")
	c.changed()
}

func (c *Controller) scheduleReconnectLocked(epoch uint64) {
	if c.maxAttempts > 0 && c.attempts >= c.maxAttempts {
		c.reconnecting = false
		c.log.Warn().Int("attempts", c.attempts).Msg("Giving up on reconnect")
		return
	}

	delay := c.delay
	for i := 0; i < c.attempts && delay < c.maxDelay; i++ {
		delay *= 2
	}
	if c.maxDelay > 0 && delay > c.maxDelay {
		delay = c.maxDelay
	}
	c.attempts++
	c.reconnecting = true
	c.timer = time.AfterFunc(delay, func() { c.redial(epoch) })
}

func (c *Controller) redial(epoch uint64) {
	c.mu.Lock()
	if !c.current(epoch) || c.connecting || c.conn == transport.Connected || c.channel == nil {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.connecting = true
	c.conn = transport.Connecting
	ch, ctx := c.channel, c.ctx
	c.mu.Unlock()

	c.log.Info().Uint64("epoch", epoch).Msg("Reconnecting")
	c.changed()
	c.connect(ctx, epoch, ch)
}

// Reconnect retries the connection now and resets the backoff.
func (c *Controller) Reconnect() error {
	c.mu.Lock()
	if c.state != Loading && c.state != Active {
		c.mu.Unlock()
		return ErrNotActive
	}
	if c.connecting || c.conn == transport.Connected {
		c.mu.Unlock()
		return nil
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	// Keep attempts non-zero so a successful connect resyncs history.
	c.attempts = 1
	epoch := c.epoch
	c.mu.Unlock()

	go c.redial(epoch)
	return nil
}

// resync merges a fresh history fetch after a reconnect so messages pushed
// while disconnected show up.
func (c *Controller) resync(ctx context.Context, epoch uint64, peer models.UserID) {
	history, err := c.deps.History.FetchHistory(ctx, c.local, peer)

	c.mu.Lock()
	if !c.current(epoch) || !c.historyLoaded {
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.err = asFetchError(err)
		c.mu.Unlock()
		c.log.Warn().Err(err).Msg("Failed to resync history")
		c.changed()
		return
	}
	for _, msg := range history {
		c.applyLocked(msg)
	}
	c.mu.Unlock()
	c.changed()
}

// Send appends content optimistically and publishes it. If the publish
// fails the entry is marked FAILED and the error returned; the message id
// is valid either way.
func (c *Controller) Send(content string) (models.MessageID, error) {
	if strings.TrimSpace(content) == "" {
		return 0, ErrEmptyMessage
	}

	c.mu.Lock()
	if !c.historyLoaded || (c.state != Loading && c.state != Active) {
		c.mu.Unlock()
		return 0, ErrNotActive
	}
	msg := c.store.AppendOptimistic(models.Draft{ReceiverID: c.peer, Content: content})
	epoch, ch := c.epoch, c.channel
	c.mu.Unlock()
	c.changed()

	return msg.ID, c.publish(epoch, ch, msg)
}

// Retry sends a FAILED message again.
func (c *Controller) Retry(id models.MessageID) error {
	c.mu.Lock()
	if !c.historyLoaded || (c.state != Loading && c.state != Active) {
		c.mu.Unlock()
		return ErrNotActive
	}
	existing, ok := c.store.Get(id)
	if !ok || !existing.Provisional {
		c.mu.Unlock()
		return fmt.Errorf("retry %d: %w", id, thread.ErrUnknownMessage)
	}
	if existing.Status != models.StatusFailed {
		c.mu.Unlock()
		return ErrNotFailed
	}
	msg, err := c.store.MarkRetrying(id)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	epoch, ch := c.epoch, c.channel
	c.mu.Unlock()
	c.changed()

	return c.publish(epoch, ch, msg)
}

func (c *Controller) publish(epoch uint64, ch Channel, msg models.Message) error {
	payload, err := json.Marshal(wire.NewOutbound(msg.SenderID, msg.ReceiverID, msg.Content))
	if err == nil {
		err = ch.Send(SendDestination, payload)
	}
	if err == nil {
		return nil
	}

	c.mu.Lock()
	if c.current(epoch) {
		c.store.MarkFailed(msg.ID)
		c.err = err
	}
	c.mu.Unlock()

	c.log.Warn().Err(err).Int64("id", int64(msg.ID)).Msg("Send failed")
	c.changed()
	return err
}

// Discard drops a FAILED local message. A PENDING one was already
// published and its echo would bring it back.
func (c *Controller) Discard(id models.MessageID) error {
	c.mu.Lock()
	defer c.changed()
	defer c.mu.Unlock()

	if c.store == nil {
		return ErrNotActive
	}
	existing, ok := c.store.Get(id)
	if ok && existing.Provisional && existing.Status != models.StatusFailed {
		return ErrNotFailed
	}
	return c.store.Discard(id)
}

// Edit changes the content of one of the local user's delivered messages.
// The server is asked first; the thread only changes once it agreed.
func (c *Controller) Edit(ctx context.Context, id models.MessageID, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}
	epoch, err := c.checkMutable(id)
	if err != nil {
		return err
	}

	if err := c.deps.Messages.UpdateMessage(ctx, id, content); err != nil {
		return c.mutationFailed(epoch, "edit", id, err)
	}

	c.mu.Lock()
	if !c.current(epoch) {
		c.mu.Unlock()
		return nil
	}
	err = c.store.ApplyEdit(id, content)
	if err != nil {
		err = &api.MutationError{Op: "edit", ID: id, Err: fmt.Errorf("%w: %w", ErrMessageGone, err)}
		c.err = err
	}
	c.mu.Unlock()

	c.changed()
	return err
}

// Delete removes one of the local user's delivered messages once the
// server confirmed the delete.
func (c *Controller) Delete(ctx context.Context, id models.MessageID) error {
	epoch, err := c.checkMutable(id)
	if err != nil {
		return err
	}

	if err := c.deps.Messages.DeleteMessage(ctx, id); err != nil {
		return c.mutationFailed(epoch, "delete", id, err)
	}

	c.mu.Lock()
	if c.current(epoch) {
		c.store.ApplyDelete(id)
	}
	c.mu.Unlock()

	c.changed()
	return nil
}

func (c *Controller) checkMutable(id models.MessageID) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Active {
		return 0, ErrNotActive
	}
	msg, ok := c.store.Get(id)
	switch {
	case !ok:
		return 0, fmt.Errorf("message %d: %w", id, ErrMessageGone)
	case msg.Provisional || msg.Status != models.StatusDelivered:
		return 0, ErrNotConfirmed
	case msg.SenderID != c.local:
		return 0, ErrNotOwnMessage
	}
	return c.epoch, nil
}

// mutationFailed surfaces err only if the conversation it belongs to is
// still open.
func (c *Controller) mutationFailed(epoch uint64, op string, id models.MessageID, err error) error {
	var mutErr *api.MutationError
	if !errors.As(err, &mutErr) {
		err = &api.MutationError{Op: op, ID: id, Err: err}
	}

	c.mu.Lock()
	if c.current(epoch) {
		c.err = err
	}
	c.mu.Unlock()

	c.log.Warn().Err(err).Int64("id", int64(id)).Msg("Mutation failed")
	c.changed()
	return err
}

// ClearError drops the surfaced error once the user has seen it.
func (c *Controller) ClearError() {
	c.mu.Lock()
	c.err = nil
	c.mu.Unlock()
	c.changed()
}

// ClearUnread resets the live unread tally for peer.
func (c *Controller) ClearUnread(peer models.UserID) {
	c.mu.Lock()
	delete(c.unread, peer)
	c.mu.Unlock()
	c.changed()
}

func asFetchError(err error) error {
	var fetchErr *api.FetchError
	if errors.As(err, &fetchErr) {
		return err
	}
	return &api.FetchError{Op: "history", Err: err}
}
