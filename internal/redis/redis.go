// Package redis connects to Redis and names the keys jarvis writes there.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Bagheerabaloo/jarvis/internal/logging"
)

// Key prefixes.
const (
	KeyConversation = "jarvis:conv:"         // one JSON document per conversation
	KeyChatIndex    = "jarvis:chat:"         // per-chat sorted set of conversation ids
	KeyIndex        = "jarvis:conversations" // global sorted set of chat:id members
)

// Config holds Redis connection settings.
type Config struct {
	URL      string `json:"url" mapstructure:"url"` // redis://host:port
	Password string `json:"password" mapstructure:"password"`
	DB       int    `json:"db" mapstructure:"db"`
}

// Connect dials Redis and pings it.
func Connect(ctx context.Context, cfg Config, log *zap.Logger) (*redis.Client, error) {
	log = logging.OrNop(log)
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis: url not configured")
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis: invalid url: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.MaxRetries = 3

	c := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", opts.Addr, err)
	}

	log.Info("redis connected", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	return c, nil
}

// ConversationKey returns the key of one conversation document.
func ConversationKey(chatID, id int64) string {
	return fmt.Sprintf("%s%d:%d", KeyConversation, chatID, id)
}

// ChatIndexKey returns the key of a chat's conversation index.
func ChatIndexKey(chatID int64) string {
	return fmt.Sprintf("%s%d", KeyChatIndex, chatID)
}

// Member encodes a conversation key as a global index member.
func Member(chatID, id int64) string {
	return strconv.FormatInt(chatID, 10) + ":" + strconv.FormatInt(id, 10)
}

// ParseMember decodes a global index member.
func ParseMember(member string) (chatID, id int64, err error) {
	chat, conv, ok := strings.Cut(member, ":")
	if !ok {
		return 0, 0, fmt.Errorf("redis: malformed member %q", member)
	}
	if chatID, err = strconv.ParseInt(chat, 10, 64); err != nil {
		return 0, 0, fmt.Errorf("redis: malformed member %q: %w", member, err)
	}
	if id, err = strconv.ParseInt(conv, 10, 64); err != nil {
		return 0, 0, fmt.Errorf("redis: malformed member %q: %w", member, err)
	}
	return chatID, id, nil
}
