package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Bagheerabaloo/jarvis/internal/conversation"
)

// MemoryStore keeps everything in process memory. Stored values are copies.
type MemoryStore struct {
	mu     sync.Mutex
	actors map[int64]conversation.Actor
	chats  map[int64]chatRow
	convs  map[conversation.Key]*conversation.Conversation
}

type chatRow struct {
	Kind, Title, FirstName, LastName, Username string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		actors: map[int64]conversation.Actor{},
		chats:  map[int64]chatRow{},
		convs:  map[conversation.Key]*conversation.Conversation{},
	}
}

func (m *MemoryStore) ListActors(ctx context.Context) ([]*conversation.Actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*conversation.Actor, 0, len(m.actors))
	for _, a := range m.actors {
		a := a
		out = append(out, &a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) GetActor(ctx context.Context, id int64) (*conversation.Actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actors[id]
	if !ok {
		return nil, fmt.Errorf("actor %d: %w", id, ErrNotFound)
	}
	return &a, nil
}

func (m *MemoryStore) SaveActor(ctx context.Context, a *conversation.Actor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actors[a.ID] = *a
	return nil
}

func (m *MemoryStore) ListChats(ctx context.Context) ([]*conversation.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*conversation.Chat, 0, len(m.chats))
	for id, row := range m.chats {
		out = append(out, row.chat(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) GetChat(ctx context.Context, id int64) (*conversation.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.chats[id]
	if !ok {
		return nil, fmt.Errorf("chat %d: %w", id, ErrNotFound)
	}
	return row.chat(id), nil
}

func (m *MemoryStore) SaveChat(ctx context.Context, c *conversation.Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats[c.ID] = chatRow{Kind: c.Kind, Title: c.Title, FirstName: c.FirstName, LastName: c.LastName, Username: c.Username}
	return nil
}

func (r chatRow) chat(id int64) *conversation.Chat {
	c := conversation.NewChat(id, r.Kind)
	c.Title = r.Title
	c.FirstName = r.FirstName
	c.LastName = r.LastName
	c.Username = r.Username
	return c
}

func (m *MemoryStore) GetConversations(ctx context.Context, chatID int64) ([]*conversation.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*conversation.Conversation
	for k, c := range m.convs {
		if k.ChatID == chatID {
			out = append(out, c.Clone())
		}
	}
	sortConversations(out)
	return out, nil
}

func (m *MemoryStore) GetConversationKeys(ctx context.Context) ([]conversation.Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]conversation.Key, 0, len(m.convs))
	for k := range m.convs {
		out = append(out, k)
	}
	return out, nil
}

func (m *MemoryStore) ListConversationHeaders(ctx context.Context) ([]Header, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Header, 0, len(m.convs))
	for k, c := range m.convs {
		out = append(out, Header{Key: k, Name: c.Name, CreatedAt: c.CreatedAt})
	}
	sortHeaders(out)
	return out, nil
}

func (m *MemoryStore) InsertConversation(ctx context.Context, c *conversation.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.convs[c.Key()]; ok {
		return fmt.Errorf("conversation %s: %w", c.Key(), ErrDuplicate)
	}
	m.convs[c.Key()] = c.Clone()
	return nil
}

func (m *MemoryStore) UpdateConversation(ctx context.Context, c *conversation.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.convs[c.Key()]; !ok {
		return fmt.Errorf("conversation %s: %w", c.Key(), ErrNotFound)
	}
	m.convs[c.Key()] = c.Clone()
	return nil
}

func (m *MemoryStore) DeleteConversations(ctx context.Context, keys []conversation.Key) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, k := range keys {
		if _, ok := m.convs[k]; ok {
			delete(m.convs, k)
			n++
		}
	}
	return n, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
