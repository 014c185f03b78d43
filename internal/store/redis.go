package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Bagheerabaloo/jarvis/internal/conversation"
	"github.com/Bagheerabaloo/jarvis/internal/redis"
)

type conversationDoc struct {
	ChatID         int64                 `json:"chat_id"`
	ID             int64                 `json:"id"`
	Name           string                `json:"name"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdateID       int64                 `json:"update_id"`
	MessageID      int64                 `json:"message_id"`
	PreviousState  int                   `json:"previous_state"`
	State          int                   `json:"state"`
	OpenForText    bool                  `json:"open_for_text"`
	HasInlineReply bool                  `json:"has_inline_reply"`
	BoundMessageID int64                 `json:"bound_message_id,omitempty"`
	Settings       conversation.Settings `json:"settings"`
}

func toDoc(c *conversation.Conversation) conversationDoc {
	return conversationDoc{
		ChatID:         c.ChatID,
		ID:             c.ID,
		Name:           c.Name,
		CreatedAt:      c.CreatedAt.UTC(),
		UpdateID:       c.UpdateID,
		MessageID:      c.MessageID,
		PreviousState:  c.PreviousState,
		State:          c.State,
		OpenForText:    c.OpenForText,
		HasInlineReply: c.HasInlineReply,
		BoundMessageID: c.BoundMessageID,
		Settings:       c.Settings,
	}
}

func (d conversationDoc) toConversation() *conversation.Conversation {
	c := conversation.New(d.ID, d.ChatID, d.Name, d.CreatedAt)
	c.UpdateID = d.UpdateID
	c.MessageID = d.MessageID
	c.PreviousState = d.PreviousState
	c.State = d.State
	c.OpenForText = d.OpenForText
	c.HasInlineReply = d.HasInlineReply
	c.BoundMessageID = d.BoundMessageID
	if d.Settings != nil {
		c.Settings = d.Settings
	}
	return c
}

// RedisStore implements ConversationStore on Redis. Each conversation is a
// JSON document; sorted sets scored by creation time index them per chat and
// globally.
type RedisStore struct {
	rdb *goredis.Client
}

// NewRedisStore wraps a connected client. Close closes the client.
func NewRedisStore(rdb *goredis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) GetConversations(ctx context.Context, chatID int64) ([]*conversation.Conversation, error) {
	ids, err := s.rdb.ZRange(ctx, redis.ChatIndexKey(chatID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get conversations of chat %d: %w", chatID, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(ids))
	for _, raw := range ids {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("get conversations of chat %d: bad index member %q", chatID, raw)
		}
		keys = append(keys, redis.ConversationKey(chatID, id))
	}
	docs, err := s.loadDocs(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("get conversations of chat %d: %w", chatID, err)
	}
	out := make([]*conversation.Conversation, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toConversation())
	}
	sortConversations(out)
	return out, nil
}

// loadDocs fetches documents by key, skipping keys whose document is gone.
func (s *RedisStore) loadDocs(ctx context.Context, keys []string) ([]conversationDoc, error) {
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]conversationDoc, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var d conversationDoc
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, fmt.Errorf("decode %s: %w", keys[i], err)
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *RedisStore) GetConversationKeys(ctx context.Context) ([]conversation.Key, error) {
	members, err := s.rdb.ZRange(ctx, redis.KeyIndex, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get conversation keys: %w", err)
	}
	out := make([]conversation.Key, 0, len(members))
	for _, m := range members {
		chatID, id, err := redis.ParseMember(m)
		if err != nil {
			return nil, fmt.Errorf("get conversation keys: %w", err)
		}
		out = append(out, conversation.Key{ChatID: chatID, ID: id})
	}
	return out, nil
}

func (s *RedisStore) ListConversationHeaders(ctx context.Context) ([]Header, error) {
	keys, err := s.GetConversationKeys(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	docKeys := make([]string, 0, len(keys))
	for _, k := range keys {
		docKeys = append(docKeys, redis.ConversationKey(k.ChatID, k.ID))
	}
	docs, err := s.loadDocs(ctx, docKeys)
	if err != nil {
		return nil, fmt.Errorf("list conversation headers: %w", err)
	}
	out := make([]Header, 0, len(docs))
	for _, d := range docs {
		out = append(out, Header{
			Key:       conversation.Key{ChatID: d.ChatID, ID: d.ID},
			Name:      d.Name,
			CreatedAt: d.CreatedAt,
		})
	}
	sortHeaders(out)
	return out, nil
}

func (s *RedisStore) InsertConversation(ctx context.Context, c *conversation.Conversation) error {
	data, err := json.Marshal(toDoc(c))
	if err != nil {
		return fmt.Errorf("encode conversation %s: %w", c.Key(), err)
	}
	ok, err := s.rdb.SetNX(ctx, redis.ConversationKey(c.ChatID, c.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("insert conversation %s: %w", c.Key(), err)
	}
	if !ok {
		return fmt.Errorf("conversation %s: %w", c.Key(), ErrDuplicate)
	}

	score := float64(c.CreatedAt.Unix())
	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZAdd(ctx, redis.ChatIndexKey(c.ChatID), goredis.Z{Score: score, Member: strconv.FormatInt(c.ID, 10)})
		pipe.ZAdd(ctx, redis.KeyIndex, goredis.Z{Score: score, Member: redis.Member(c.ChatID, c.ID)})
		return nil
	})
	if err != nil {
		return fmt.Errorf("index conversation %s: %w", c.Key(), err)
	}
	return nil
}

func (s *RedisStore) UpdateConversation(ctx context.Context, c *conversation.Conversation) error {
	data, err := json.Marshal(toDoc(c))
	if err != nil {
		return fmt.Errorf("encode conversation %s: %w", c.Key(), err)
	}
	ok, err := s.rdb.SetXX(ctx, redis.ConversationKey(c.ChatID, c.ID), data, 0).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return fmt.Errorf("conversation %s: %w", c.Key(), ErrNotFound)
		}
		return fmt.Errorf("update conversation %s: %w", c.Key(), err)
	}
	if !ok {
		return fmt.Errorf("conversation %s: %w", c.Key(), ErrNotFound)
	}
	return nil
}

func (s *RedisStore) DeleteConversations(ctx context.Context, keys []conversation.Key) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	dels := make([]*goredis.IntCmd, 0, len(keys))
	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, k := range keys {
			dels = append(dels, pipe.Del(ctx, redis.ConversationKey(k.ChatID, k.ID)))
			pipe.ZRem(ctx, redis.ChatIndexKey(k.ChatID), strconv.FormatInt(k.ID, 10))
			pipe.ZRem(ctx, redis.KeyIndex, redis.Member(k.ChatID, k.ID))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete conversations: %w", err)
	}
	n := 0
	for _, d := range dels {
		n += int(d.Val())
	}
	return n, nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
