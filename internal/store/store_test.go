package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bagheerabaloo/jarvis/internal/conversation"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newSQLiteStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "jarvis.db"), 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	s := NewRedisStore(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func conversationStores(t *testing.T) map[string]ConversationStore {
	return map[string]ConversationStore{
		"memory": NewMemoryStore(),
		"sqlite": newSQLiteStore(t),
		"redis":  newRedisStore(t),
	}
}

func userStores(t *testing.T) map[string]UserStore {
	return map[string]UserStore{
		"memory": NewMemoryStore(),
		"sqlite": newSQLiteStore(t),
	}
}

func sampleConversation(chatID, id int64, created time.Time) *conversation.Conversation {
	c := conversation.New(id, chatID, "notes", created)
	c.State = 3
	c.PreviousState = 2
	c.UpdateID = 900 + id
	c.MessageID = 50 + id
	c.OpenForText = true
	c.Settings.Set("app", "jarvis")
	c.Settings.Set("count", 3)
	c.Settings.Set("draft", conversation.Note{Title: "groceries", Body: "milk", Tags: []string{"home"}})
	return c
}

func TestConversationStore_RoundTrip(t *testing.T) {
	for name, s := range conversationStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			want := sampleConversation(-100, 7, t0)
			require.NoError(t, s.InsertConversation(ctx, want))

			got, err := s.GetConversations(ctx, -100)
			require.NoError(t, err)
			require.Len(t, got, 1)
			c := got[0]
			assert.Equal(t, want.Key(), c.Key())
			assert.Equal(t, "notes", c.Name)
			assert.True(t, c.CreatedAt.Equal(t0))
			assert.Equal(t, 3, c.State)
			assert.Equal(t, 2, c.PreviousState)
			assert.Equal(t, int64(907), c.UpdateID)
			assert.Equal(t, int64(57), c.MessageID)
			assert.True(t, c.OpenForText)
			assert.Equal(t, "jarvis", c.Settings.String("app"))
			assert.Equal(t, int64(3), c.Settings.Int("count"))
			note, ok := conversation.Get[conversation.Note](c.Settings, "draft")
			require.True(t, ok)
			assert.Equal(t, []string{"home"}, note.Tags)

			other, err := s.GetConversations(ctx, 5)
			require.NoError(t, err)
			assert.Empty(t, other)
		})
	}
}

func TestConversationStore_InsertUpdate(t *testing.T) {
	for name, s := range conversationStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := sampleConversation(1, 1, t0)

			assert.ErrorIs(t, s.UpdateConversation(ctx, c), ErrNotFound)
			require.NoError(t, s.InsertConversation(ctx, c))
			assert.ErrorIs(t, s.InsertConversation(ctx, c), ErrDuplicate)

			c.State = 4
			c.OpenForText = false
			c.Settings.Set("app", "changed")
			require.NoError(t, s.UpdateConversation(ctx, c))
			require.NoError(t, s.UpdateConversation(ctx, c))

			got, err := s.GetConversations(ctx, 1)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, 4, got[0].State)
			assert.False(t, got[0].OpenForText)
			assert.Equal(t, "changed", got[0].Settings.String("app"))
		})
	}
}

func TestConversationStore_KeysHeadersDelete(t *testing.T) {
	for name, s := range conversationStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.InsertConversation(ctx, sampleConversation(1, 2, t0.Add(2*time.Hour))))
			require.NoError(t, s.InsertConversation(ctx, sampleConversation(1, 1, t0)))
			require.NoError(t, s.InsertConversation(ctx, sampleConversation(2, 9, t0.Add(time.Hour))))

			keys, err := s.GetConversationKeys(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, []conversation.Key{{ChatID: 1, ID: 1}, {ChatID: 1, ID: 2}, {ChatID: 2, ID: 9}}, keys)

			headers, err := s.ListConversationHeaders(ctx)
			require.NoError(t, err)
			require.Len(t, headers, 3)
			assert.Equal(t, conversation.Key{ChatID: 1, ID: 1}, headers[0].Key)
			assert.Equal(t, conversation.Key{ChatID: 2, ID: 9}, headers[1].Key)
			assert.Equal(t, conversation.Key{ChatID: 1, ID: 2}, headers[2].Key)
			assert.Equal(t, "notes", headers[0].Name)

			chat1, err := s.GetConversations(ctx, 1)
			require.NoError(t, err)
			require.Len(t, chat1, 2)
			assert.Equal(t, int64(1), chat1[0].ID)

			n, err := s.DeleteConversations(ctx, []conversation.Key{{ChatID: 1, ID: 1}, {ChatID: 3, ID: 3}})
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			keys, err = s.GetConversationKeys(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, []conversation.Key{{ChatID: 1, ID: 2}, {ChatID: 2, ID: 9}}, keys)

			n, err = s.DeleteConversations(ctx, nil)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestUserStore(t *testing.T) {
	for name, s := range userStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.GetActor(ctx, 1)
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.GetChat(ctx, 1)
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.SaveActor(ctx, &conversation.Actor{ID: 2, Name: "Bob"}))
			require.NoError(t, s.SaveActor(ctx, &conversation.Actor{ID: 1, Name: "Ada", Username: "ada", IsAdmin: true}))
			require.NoError(t, s.SaveActor(ctx, &conversation.Actor{ID: 2, Name: "Bob B"}))

			actors, err := s.ListActors(ctx)
			require.NoError(t, err)
			require.Len(t, actors, 2)
			assert.Equal(t, int64(1), actors[0].ID)
			assert.True(t, actors[0].IsAdmin)
			assert.Equal(t, "Bob B", actors[1].Name)

			a, err := s.GetActor(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, "ada", a.Username)

			chat := conversation.NewChat(-100, conversation.ChatGroup)
			chat.Title = "family"
			require.NoError(t, s.SaveChat(ctx, chat))
			require.NoError(t, s.SaveChat(ctx, conversation.NewChat(5, conversation.ChatPrivate)))

			chats, err := s.ListChats(ctx)
			require.NoError(t, err)
			require.Len(t, chats, 2)
			assert.Equal(t, int64(-100), chats[0].ID)
			assert.Equal(t, "family", chats[0].Title)
			assert.Equal(t, conversation.ChatGroup, chats[0].Kind)

			c, err := s.GetChat(ctx, 5)
			require.NoError(t, err)
			assert.True(t, c.IsPrivate())
		})
	}
}

func TestMemoryStore_StoresCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c := sampleConversation(1, 1, t0)
	require.NoError(t, s.InsertConversation(ctx, c))

	c.State = 9
	c.Settings.Set("app", "mutated")

	got, err := s.GetConversations(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, got[0].State)
	assert.Equal(t, "jarvis", got[0].Settings.String("app"))
}

type closeCounter struct {
	*MemoryStore
	n int
}

func (c *closeCounter) Close() error { c.n++; return nil }

func TestComposite(t *testing.T) {
	ctx := context.Background()
	users := &closeCounter{MemoryStore: NewMemoryStore()}
	convs := newRedisStore(t)

	s := NewComposite(users, convs)
	require.NoError(t, s.SaveActor(ctx, &conversation.Actor{ID: 1}))
	require.NoError(t, s.InsertConversation(ctx, sampleConversation(1, 1, t0)))

	keys, err := users.GetConversationKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	require.NoError(t, s.Close())
	assert.Equal(t, 1, users.n)

	shared := &closeCounter{MemoryStore: NewMemoryStore()}
	require.NoError(t, NewComposite(shared, shared).Close())
	assert.Equal(t, 1, shared.n)
}
