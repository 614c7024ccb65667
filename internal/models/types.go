package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type UserID int64

// ParseUserID parses a positive numeric user id, tolerating a leading '#'.
func ParseUserID(s string) (UserID, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid user id %q", s)
	}
	return UserID(n), nil
}

type MessageID int64

// Status is the delivery state of a message in the thread.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusDelivered Status = "DELIVERED"
	StatusFailed    Status = "FAILED"
)

// Message is one entry of a two-party thread. Provisional is true while ID is
// a locally generated id that the server has not confirmed yet.
type Message struct {
	ID          MessageID
	SenderID    UserID
	ReceiverID  UserID
	Content     string
	Timestamp   time.Time
	Status      Status
	Provisional bool
}

// Confirmed reports whether the message carries a server-assigned id.
func (m Message) Confirmed() bool {
	return !m.Provisional
}

// Involves reports whether the message was exchanged between a and b.
func (m Message) Involves(a, b UserID) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// Draft is a message the local user is about to send.
type Draft struct {
	ReceiverID UserID
	Content    string
}

type Profile struct {
	ID        UserID
	FirstName string
	LastName  string
	ImageURL  string
}

func (p Profile) DisplayName() string {
	name := strings.TrimSpace(p.FirstName + " " + p.LastName)
	if name == "" {
		return "Unknown"
	}
	return name
}

func (p Profile) Initial() string {
	name := strings.TrimSpace(p.FirstName)
	if name == "" {
		return "?"
	}
	return strings.ToUpper(string([]rune(name)[0]))
}

type UnreadCount struct {
	SenderID UserID
	Count    int
}
