// Package store persists actors, chats and active conversations.
//
// Users and chats live in a UserStore, conversations in a ConversationStore.
// The two can be backed by different engines and joined with Composite.
package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/Bagheerabaloo/jarvis/internal/conversation"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when inserting a key that already exists.
	ErrDuplicate = errors.New("store: duplicate key")
)

// Header is the subset of a stored conversation garbage collection needs.
type Header struct {
	Key       conversation.Key
	Name      string
	CreatedAt time.Time
}

// UserStore persists actors and chats.
type UserStore interface {
	ListActors(ctx context.Context) ([]*conversation.Actor, error)
	GetActor(ctx context.Context, id int64) (*conversation.Actor, error)
	SaveActor(ctx context.Context, a *conversation.Actor) error
	ListChats(ctx context.Context) ([]*conversation.Chat, error)
	GetChat(ctx context.Context, id int64) (*conversation.Chat, error)
	SaveChat(ctx context.Context, c *conversation.Chat) error
}

// ConversationStore persists conversations keyed by (chat id, id).
type ConversationStore interface {
	// GetConversations returns a chat's stored conversations, oldest first.
	GetConversations(ctx context.Context, chatID int64) ([]*conversation.Conversation, error)
	GetConversationKeys(ctx context.Context) ([]conversation.Key, error)
	ListConversationHeaders(ctx context.Context) ([]Header, error)
	InsertConversation(ctx context.Context, c *conversation.Conversation) error
	UpdateConversation(ctx context.Context, c *conversation.Conversation) error
	// DeleteConversations removes the given keys and returns how many existed.
	DeleteConversations(ctx context.Context, keys []conversation.Key) (int, error)
}

// Store is the full persistence contract.
type Store interface {
	UserStore
	ConversationStore
	Close() error
}

// Composite joins a UserStore and a ConversationStore.
type Composite struct {
	UserStore
	ConversationStore
	closers []func() error
}

// NewComposite joins users and conversations. Each distinct backend that
// has a Close method is closed once by Close.
func NewComposite(users UserStore, convs ConversationStore) *Composite {
	c := &Composite{UserStore: users, ConversationStore: convs}
	seen := map[any]bool{}
	for _, b := range []any{users, convs} {
		cl, ok := b.(interface{ Close() error })
		if !ok || seen[b] {
			continue
		}
		seen[b] = true
		c.closers = append(c.closers, cl.Close)
	}
	return c
}

// Close closes every backend and returns the first error.
func (c *Composite) Close() error {
	var first error
	for _, cl := range c.closers {
		if err := cl(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func sortHeaders(hs []Header) {
	sort.Slice(hs, func(i, j int) bool {
		if !hs[i].CreatedAt.Equal(hs[j].CreatedAt) {
			return hs[i].CreatedAt.Before(hs[j].CreatedAt)
		}
		if hs[i].Key.ChatID != hs[j].Key.ChatID {
			return hs[i].Key.ChatID < hs[j].Key.ChatID
		}
		return hs[i].Key.ID < hs[j].Key.ID
	})
}

func sortConversations(cs []*conversation.Conversation) {
	sort.Slice(cs, func(i, j int) bool {
		if !cs[i].CreatedAt.Equal(cs[j].CreatedAt) {
			return cs[i].CreatedAt.Before(cs[j].CreatedAt)
		}
		return cs[i].ID < cs[j].ID
	})
}
