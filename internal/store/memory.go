package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

var ErrNotFound = errors.New("conversation not found")

type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Conversation is the state kept per sender between messages.
type Conversation struct {
	SenderID  string          `json:"senderId"`
	Channel   string          `json:"channel,omitempty"`
	Turns     []Turn          `json:"turns"`
	LastOrder json.RawMessage `json:"lastOrder,omitempty"`
	Done      bool            `json:"done"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Clone returns a deep copy.
func (c *Conversation) Clone() *Conversation {
	out := *c
	out.Turns = append([]Turn(nil), c.Turns...)
	if c.LastOrder != nil {
		out.LastOrder = append(json.RawMessage(nil), c.LastOrder...)
	}
	return &out
}

// Append adds turns and keeps only the newest maxTurns (maxTurns <= 0 keeps all).
func (c *Conversation) Append(maxTurns int, turns ...Turn) {
	c.Turns = append(c.Turns, turns...)
	if maxTurns > 0 && len(c.Turns) > maxTurns {
		c.Turns = append([]Turn(nil), c.Turns[len(c.Turns)-maxTurns:]...)
	}
}

// ConversationStore persists Conversation values keyed by sender id.
// Get returns ErrNotFound for unknown or expired senders.
type ConversationStore interface {
	Get(ctx context.Context, senderID string) (*Conversation, error)
	Save(ctx context.Context, conv *Conversation) error
}

type memoryEntry struct {
	conv      *Conversation
	expiresAt time.Time
}

// MemoryStore is an in-process ConversationStore with a per-entry TTL.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, senderID string) (*Conversation, error) {
	m.mu.RLock()
	e, ok := m.entries[senderID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if m.ttl > 0 && m.now().After(e.expiresAt) {
		m.mu.Lock()
		if cur, ok := m.entries[senderID]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(m.entries, senderID)
		}
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	return e.conv.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, conv *Conversation) error {
	if conv == nil || conv.SenderID == "" {
		return errors.New("sender id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[conv.SenderID] = memoryEntry{conv: conv.Clone(), expiresAt: m.now().Add(m.ttl)}
	return nil
}

// Sweep drops expired entries and returns how many were removed.
func (m *MemoryStore) Sweep() int {
	if m.ttl <= 0 {
		return 0
	}
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored conversations, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
