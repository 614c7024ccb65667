// Package contacts keeps the local address book: nicknames for user ids,
// one YAML file per contact under ~/.wavechat/contacts.
package contacts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/saravenpi/wavechat/internal/models"
	"gopkg.in/yaml.v3"
)

var ErrNotFound = errors.New("contact not found")

type Contact struct {
	Name    string  `yaml:"name"`
	UserIDs []int64 `yaml:"user_ids"`
	Note    string  `yaml:"note,omitempty"`
}

// Primary returns the first user id of the contact, or 0.
func (c Contact) Primary() models.UserID {
	if len(c.UserIDs) == 0 {
		return 0
	}
	return models.UserID(c.UserIDs[0])
}

// Namer resolves a user id to a display name; "" means unknown.
type Namer interface {
	Name(user models.UserID) string
}

const cacheDuration = 30 * time.Second

type Book struct {
	dir string
	now func() time.Time

	mu       sync.RWMutex
	contacts []Contact
	lookup   map[models.UserID]string
	loadedAt time.Time
}

// NewBook returns the address book stored in dir.
func NewBook(dir string) *Book {
	return &Book{dir: dir, now: time.Now}
}

// sanitizeFilename converts a contact name to a safe filename.
func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "/", "-")
	name = strings.ReplaceAll(name, "\\", "-")
	name = strings.ReplaceAll(name, ":", "-")
	return name
}

func (b *Book) path(name string) string {
	return filepath.Join(b.dir, sanitizeFilename(name)+".yml")
}

// Save writes contact, replacing any contact of the same name.
func (b *Book) Save(contact Contact) error {
	contact.Name = strings.TrimSpace(contact.Name)
	if contact.Name == "" {
		return fmt.Errorf("contact name cannot be empty")
	}
	if len(contact.UserIDs) == 0 {
		return fmt.Errorf("contact needs at least one user id")
	}
	for _, id := range contact.UserIDs {
		if id <= 0 {
			return fmt.Errorf("invalid user id %d", id)
		}
	}

	if err := os.MkdirAll(b.dir, 0755); err != nil {
		return fmt.Errorf("failed to create contacts directory: %w", err)
	}

	data, err := yaml.Marshal(&contact)
	if err != nil {
		return fmt.Errorf("failed to marshal contact: %w", err)
	}

	if err := os.WriteFile(b.path(contact.Name), data, 0644); err != nil {
		return fmt.Errorf("failed to write contact file: %w", err)
	}

	b.Invalidate()
	return nil
}

func (b *Book) Load(name string) (Contact, error) {
	data, err := os.ReadFile(b.path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Contact{}, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return Contact{}, fmt.Errorf("failed to read contact file: %w", err)
	}

	var contact Contact
	if err := yaml.Unmarshal(data, &contact); err != nil {
		return Contact{}, fmt.Errorf("failed to parse contact file: %w", err)
	}
	return contact, nil
}

func (b *Book) Delete(name string) error {
	if err := os.Remove(b.path(name)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("failed to delete contact: %w", err)
	}
	b.Invalidate()
	return nil
}

// List returns every contact sorted by name. Results are cached for 30
// seconds; Save and Delete invalidate the cache.
func (b *Book) List() ([]Contact, error) {
	b.mu.RLock()
	if b.contacts != nil && b.now().Sub(b.loadedAt) < cacheDuration {
		defer b.mu.RUnlock()
		return append([]Contact(nil), b.contacts...), nil
	}
	b.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.contacts != nil && b.now().Sub(b.loadedAt) < cacheDuration {
		return append([]Contact(nil), b.contacts...), nil
	}

	entries, err := os.ReadDir(b.dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read contacts directory: %w", err)
	}

	contacts := []Contact{}
	lookup := make(map[models.UserID]string)

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yml") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(b.dir, entry.Name()))
		if err != nil {
			continue
		}

		var contact Contact
		if err := yaml.Unmarshal(data, &contact); err != nil || contact.Name == "" {
			continue
		}

		contacts = append(contacts, contact)
		for _, id := range contact.UserIDs {
			lookup[models.UserID(id)] = contact.Name
		}
	}

	sort.Slice(contacts, func(i, j int) bool {
		return strings.ToLower(contacts[i].Name) < strings.ToLower(contacts[j].Name)
	})

	b.contacts = contacts
	b.lookup = lookup
	b.loadedAt = b.now()

	return append([]Contact(nil), contacts...), nil
}

// Invalidate forces the next List to re-read the directory.
func (b *Book) Invalidate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loadedAt = time.Time{}
	b.contacts = nil
}

// Name returns the contact name for user, or "" if no contact has it.
func (b *Book) Name(user models.UserID) string {
	if _, err := b.List(); err != nil {
		return ""
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lookup[user]
}

// NameOr prefers contact names and falls back to next.
func (b *Book) NameOr(next Namer) Namer {
	return chain{b, next}
}

type chain []Namer

func (c chain) Name(user models.UserID) string {
	for _, n := range c {
		if n == nil {
			continue
		}
		if name := n.Name(user); name != "" {
			return name
		}
	}
	return ""
}
