package notify

import (
	"errors"
	"strings"
	"testing"

	"github.com/saravenpi/wavechat/internal/models"
)

type names map[models.UserID]string

func (n names) Name(user models.UserID) string { return n[user] }

type sent struct{ title, body string }

func newTestNotifier(n Namer, err error) (*Notifier, *[]sent) {
	var got []sent
	notifier := New(n)
	notifier.send = func(title, body string) error {
		got = append(got, sent{title, body})
		return err
	}
	return notifier, &got
}

func TestMessageReceivedUsesName(t *testing.T) {
	n, got := newTestNotifier(names{4: "Ada Lovelace"}, nil)

	n.MessageReceived(models.Message{SenderID: 4, Content: "hello\n  there"})
	n.MessageReceived(models.Message{SenderID: 5, Content: "hi"})

	if len(*got) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(*got))
	}
	if (*got)[0].title != "Ada Lovelace" || (*got)[0].body != "hello there" {
		t.Fatalf("unexpected first notification: %+v", (*got)[0])
	}
	if (*got)[1].title != "User 5" {
		t.Fatalf("expected id fallback, got %q", (*got)[1].title)
	}
}

func TestMessageReceivedSwallowsErrors(t *testing.T) {
	n, got := newTestNotifier(nil, errors.New("no dbus"))
	n.MessageReceived(models.Message{SenderID: 1, Content: "x"})
	if len(*got) != 1 {
		t.Fatalf("expected one attempt, got %d", len(*got))
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("é", 150)
	got := truncate(long, 100)
	if len([]rune(got)) != 100 || !strings.HasSuffix(got, "…") {
		t.Fatalf("unexpected truncation: %d runes", len([]rune(got)))
	}
	if truncate("short", 100) != "short" {
		t.Fatal("short strings must be untouched")
	}
}
