// Package thread keeps the ordered message sequence of the active
// conversation and merges history, pushed messages and optimistic local
// sends into it.
//
// A Store is not safe for concurrent use. The conversation controller owns
// it and serializes every call.
package thread

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/saravenpi/wavechat/internal/models"
)

const DefaultReconcileWindow = 30 * time.Second

var (
	ErrUnknownMessage = errors.New("message not in conversation")
	ErrNotProvisional = errors.New("message is not a local draft")
	ErrStillPending   = errors.New("message is still being sent")
)

// OrderingAnomaly reports data that violated the thread's ordering
// contract. It is never fatal: the store repairs what it can and carries on.
type OrderingAnomaly struct {
	Reason string
	ID     models.MessageID
}

func (e *OrderingAnomaly) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("ordering anomaly: %s (message %d)", e.Reason, e.ID)
	}
	return "ordering anomaly: " + e.Reason
}

// Outcome describes what ApplyInbound did with a message.
type Outcome int

const (
	Appended Outcome = iota
	Inserted
	Reconciled
	Duplicate
	Stale
)

func (o Outcome) String() string {
	switch o {
	case Appended:
		return "appended"
	case Inserted:
		return "inserted"
	case Reconciled:
		return "reconciled"
	case Duplicate:
		return "duplicate"
	case Stale:
		return "stale"
	}
	return "unknown"
}

type entry struct {
	msg models.Message
	// sentAt is when the latest send attempt of a provisional entry started.
	sentAt time.Time
}

type Store struct {
	local  models.UserID
	window time.Duration
	now    func() time.Time
	log    zerolog.Logger

	entries         []entry
	removed         map[models.MessageID]struct{}
	lastProvisional models.MessageID
}

type Option func(*Store)

// WithWindow sets how long an optimistic entry may wait for its echo and
// still be reconciled with it.
func WithWindow(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.window = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

func New(local models.UserID, opts ...Option) *Store {
	s := &Store{
		local:   local,
		window:  DefaultReconcileWindow,
		now:     time.Now,
		log:     zerolog.Nop(),
		removed: make(map[models.MessageID]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadInitial replaces the whole sequence with history, dropping any
// optimistic entries. History is expected in ascending timestamp order; if
// it is not, the store re-sorts it stably and returns an *OrderingAnomaly.
// Repeated ids keep their first occurrence.
func (s *Store) LoadInitial(history []models.Message) error {
	s.entries = make([]entry, 0, len(history))
	s.removed = make(map[models.MessageID]struct{})

	seen := make(map[models.MessageID]struct{}, len(history))
	var anomaly *OrderingAnomaly

	for i, msg := range history {
		if _, dup := seen[msg.ID]; dup {
			anomaly = &OrderingAnomaly{Reason: "history repeats an id", ID: msg.ID}
			continue
		}
		seen[msg.ID] = struct{}{}

		msg.Status = models.StatusDelivered
		msg.Provisional = false
		s.entries = append(s.entries, entry{msg: msg})

		if i > 0 && msg.Timestamp.Before(history[i-1].Timestamp) && anomaly == nil {
			anomaly = &OrderingAnomaly{Reason: "history timestamps are not ascending", ID: msg.ID}
		}
	}

	if anomaly != nil {
		sort.SliceStable(s.entries, func(i, j int) bool {
			return s.entries[i].msg.Timestamp.Before(s.entries[j].msg.Timestamp)
		})
		s.log.Warn().Err(anomaly).Int("count", len(s.entries)).Msg("Repaired history")
		return anomaly
	}

	return nil
}

// AppendOptimistic appends the local user's draft as a PENDING entry with a
// provisional id and returns it. No I/O happens here.
func (s *Store) AppendOptimistic(d models.Draft) models.Message {
	now := s.now()

	id := models.MessageID(now.UnixNano())
	if id <= s.lastProvisional {
		id = s.lastProvisional + 1
	}
	s.lastProvisional = id

	msg := models.Message{
		ID:          id,
		SenderID:    s.local,
		ReceiverID:  d.ReceiverID,
		Content:     d.Content,
		Timestamp:   now,
		Status:      models.StatusPending,
		Provisional: true,
	}
	s.entries = append(s.entries, entry{msg: msg, sentAt: now})
	return msg
}

// ApplyInbound merges a confirmed message from the server.
func (s *Store) ApplyInbound(msg models.Message) Outcome {
	msg.Status = models.StatusDelivered
	msg.Provisional = false

	if _, gone := s.removed[msg.ID]; gone {
		s.log.Warn().Err(&OrderingAnomaly{Reason: "inbound message was already deleted", ID: msg.ID}).Msg("Ignoring stale message")
		return Stale
	}
	if i := s.indexConfirmed(msg.ID); i >= 0 {
		return Duplicate
	}

	if msg.SenderID == s.local {
		if i := s.matchPending(msg); i >= 0 {
			s.entries[i] = entry{msg: msg}
			return Reconciled
		}
	}

	pos := s.insertPosition(msg.Timestamp)
	if pos == len(s.entries) {
		s.entries = append(s.entries, entry{msg: msg})
		return Appended
	}

	s.entries = append(s.entries, entry{})
	copy(s.entries[pos+1:], s.entries[pos:])
	s.entries[pos] = entry{msg: msg}
	s.log.Debug().Int64("id", int64(msg.ID)).Int("position", pos).Msg("Inserted out-of-order message")
	return Inserted
}

// matchPending finds the oldest PENDING provisional entry that the echo msg
// confirms.
func (s *Store) matchPending(msg models.Message) int {
	now := s.now()
	for i, e := range s.entries {
		if !e.msg.Provisional || e.msg.Status != models.StatusPending {
			continue
		}
		if e.msg.Content != msg.Content || e.msg.ReceiverID != msg.ReceiverID {
			continue
		}
		if now.Sub(e.sentAt) > s.window {
			continue
		}
		return i
	}
	return -1
}

// insertPosition returns the index after the last entry whose timestamp is
// not after ts, which keeps inserts stable. Reconciled entries keep their
// place but carry the server timestamp, so the sequence is not guaranteed
// sorted and the scan walks back from the tail.
func (s *Store) insertPosition(ts time.Time) int {
	i := len(s.entries)
	for i > 0 && s.entries[i-1].msg.Timestamp.After(ts) {
		i--
	}
	return i
}

// ApplyEdit replaces the content of a confirmed message. It returns
// ErrUnknownMessage when the id is not present, which usually means a
// delete won the race.
func (s *Store) ApplyEdit(id models.MessageID, content string) error {
	i := s.indexConfirmed(id)
	if i < 0 {
		return fmt.Errorf("edit %d: %w", id, ErrUnknownMessage)
	}
	s.entries[i].msg.Content = content
	return nil
}

// ApplyDelete removes a confirmed message. Deleting an absent id is a no-op.
// The id is remembered so a late echo cannot resurrect it.
func (s *Store) ApplyDelete(id models.MessageID) bool {
	s.removed[id] = struct{}{}
	i := s.indexConfirmed(id)
	if i < 0 {
		return false
	}
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	return true
}

// MarkFailed flips a PENDING provisional entry to FAILED. It keeps its
// position and is never reconciled away afterwards.
func (s *Store) MarkFailed(id models.MessageID) error {
	i := s.indexProvisional(id)
	if i < 0 {
		return fmt.Errorf("mark failed %d: %w", id, ErrUnknownMessage)
	}
	s.entries[i].msg.Status = models.StatusFailed
	return nil
}

// MarkRetrying puts a FAILED entry back to PENDING for another send
// attempt and restarts its reconciliation window.
func (s *Store) MarkRetrying(id models.MessageID) (models.Message, error) {
	i := s.indexProvisional(id)
	if i < 0 {
		return models.Message{}, fmt.Errorf("retry %d: %w", id, ErrUnknownMessage)
	}
	s.entries[i].msg.Status = models.StatusPending
	s.entries[i].sentAt = s.now()
	return s.entries[i].msg, nil
}

// Discard drops a FAILED provisional entry. PENDING entries are refused:
// their echo may still arrive and would be appended as a new message.
func (s *Store) Discard(id models.MessageID) error {
	i := s.indexProvisional(id)
	if i < 0 {
		if s.indexConfirmed(id) >= 0 {
			return fmt.Errorf("discard %d: %w", id, ErrNotProvisional)
		}
		return fmt.Errorf("discard %d: %w", id, ErrUnknownMessage)
	}
	if s.entries[i].msg.Status != models.StatusFailed {
		return fmt.Errorf("discard %d: %w", id, ErrStillPending)
	}
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	return nil
}

func (s *Store) Get(id models.MessageID) (models.Message, bool) {
	for _, e := range s.entries {
		if e.msg.ID == id {
			return e.msg, true
		}
	}
	return models.Message{}, false
}

// Messages returns a copy of the sequence in display order.
func (s *Store) Messages() []models.Message {
	out := make([]models.Message, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.msg
	}
	return out
}

func (s *Store) Len() int {
	return len(s.entries)
}

// Reset discards everything, including tombstones.
func (s *Store) Reset() {
	s.entries = nil
	s.removed = make(map[models.MessageID]struct{})
}

func (s *Store) indexConfirmed(id models.MessageID) int {
	for i, e := range s.entries {
		if !e.msg.Provisional && e.msg.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) indexProvisional(id models.MessageID) int {
	for i, e := range s.entries {
		if e.msg.Provisional && e.msg.ID == id {
			return i
		}
	}
	return -1
}
