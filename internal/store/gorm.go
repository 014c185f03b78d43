package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Bagheerabaloo/jarvis/internal/conversation"
)

// Supported SQL drivers.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

type actorRecord struct {
	ID       int64  `gorm:"primaryKey;autoIncrement:false"`
	Name     string `gorm:"type:varchar(255)"`
	Username string `gorm:"type:varchar(64)"`
	IsAdmin  bool   `gorm:"not null;default:false"`
}

func (actorRecord) TableName() string { return "actors" }

type chatRecord struct {
	ID        int64  `gorm:"primaryKey;autoIncrement:false"`
	Kind      string `gorm:"type:varchar(16)"`
	Title     string `gorm:"type:varchar(255)"`
	FirstName string `gorm:"type:varchar(255)"`
	LastName  string `gorm:"type:varchar(255)"`
	Username  string `gorm:"type:varchar(64)"`
}

func (chatRecord) TableName() string { return "chats" }

type conversationRecord struct {
	ChatID         int64     `gorm:"primaryKey;autoIncrement:false"`
	ID             int64     `gorm:"primaryKey;autoIncrement:false"`
	Name           string    `gorm:"type:varchar(64);not null"`
	CreatedAt      time.Time `gorm:"not null;index"`
	UpdateID       int64
	MessageID      int64
	PreviousState  int
	State          int `gorm:"not null"`
	OpenForText    bool
	HasInlineReply bool
	BoundMessageID int64
	Settings       string `gorm:"type:text"`
}

func (conversationRecord) TableName() string { return "conversations" }

func toConversationRecord(c *conversation.Conversation) (conversationRecord, error) {
	settings, err := c.Settings.Encode()
	if err != nil {
		return conversationRecord{}, fmt.Errorf("encode settings of %s: %w", c.Key(), err)
	}
	return conversationRecord{
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
		Settings:       settings,
	}, nil
}

func (r conversationRecord) toConversation() (*conversation.Conversation, error) {
	settings, err := conversation.DecodeSettings(r.Settings)
	if err != nil {
		return nil, fmt.Errorf("decode settings of %d:%d: %w", r.ChatID, r.ID, err)
	}
	c := conversation.New(r.ID, r.ChatID, r.Name, r.CreatedAt)
	c.UpdateID = r.UpdateID
	c.MessageID = r.MessageID
	c.PreviousState = r.PreviousState
	c.State = r.State
	c.OpenForText = r.OpenForText
	c.HasInlineReply = r.HasInlineReply
	c.BoundMessageID = r.BoundMessageID
	c.Settings = settings
	return c, nil
}

// GormStore implements Store over a SQL database.
type GormStore struct {
	db *gorm.DB
}

// Open connects to the database, sizes the pool and migrates the schema.
func Open(driver, dsn string, poolSize int) (*GormStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres, "":
		dialector = postgres.Open(dsn)
	case DriverMySQL:
		dialector = mysql.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	if poolSize <= 0 {
		poolSize = 10
	}
	sqlDB.SetMaxIdleConns(poolSize)
	sqlDB.SetMaxOpenConns(poolSize)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return NewGormStore(db)
}

// NewGormStore wraps an open gorm handle and migrates the schema.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&actorRecord{}, &chatRecord{}, &conversationRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) ListActors(ctx context.Context) ([]*conversation.Actor, error) {
	var rows []actorRecord
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list actors: %w", err)
	}
	out := make([]*conversation.Actor, 0, len(rows))
	for _, r := range rows {
		out = append(out, &conversation.Actor{ID: r.ID, Name: r.Name, Username: r.Username, IsAdmin: r.IsAdmin})
	}
	return out, nil
}

func (s *GormStore) GetActor(ctx context.Context, id int64) (*conversation.Actor, error) {
	var r actorRecord
	if err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("actor %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get actor %d: %w", id, err)
	}
	return &conversation.Actor{ID: r.ID, Name: r.Name, Username: r.Username, IsAdmin: r.IsAdmin}, nil
}

func (s *GormStore) SaveActor(ctx context.Context, a *conversation.Actor) error {
	r := actorRecord{ID: a.ID, Name: a.Name, Username: a.Username, IsAdmin: a.IsAdmin}
	if err := s.db.WithContext(ctx).Save(&r).Error; err != nil {
		return fmt.Errorf("save actor %d: %w", a.ID, err)
	}
	return nil
}

func (s *GormStore) ListChats(ctx context.Context) ([]*conversation.Chat, error) {
	var rows []chatRecord
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	out := make([]*conversation.Chat, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toChat())
	}
	return out, nil
}

func (s *GormStore) GetChat(ctx context.Context, id int64) (*conversation.Chat, error) {
	var r chatRecord
	if err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("chat %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get chat %d: %w", id, err)
	}
	return r.toChat(), nil
}

func (s *GormStore) SaveChat(ctx context.Context, c *conversation.Chat) error {
	r := chatRecord{ID: c.ID, Kind: c.Kind, Title: c.Title, FirstName: c.FirstName, LastName: c.LastName, Username: c.Username}
	if err := s.db.WithContext(ctx).Save(&r).Error; err != nil {
		return fmt.Errorf("save chat %d: %w", c.ID, err)
	}
	return nil
}

func (r chatRecord) toChat() *conversation.Chat {
	return chatRow{Kind: r.Kind, Title: r.Title, FirstName: r.FirstName, LastName: r.LastName, Username: r.Username}.chat(r.ID)
}

func (s *GormStore) GetConversations(ctx context.Context, chatID int64) ([]*conversation.Conversation, error) {
	var rows []conversationRecord
	err := s.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at, id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("get conversations of chat %d: %w", chatID, err)
	}
	out := make([]*conversation.Conversation, 0, len(rows))
	for _, r := range rows {
		c, err := r.toConversation()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *GormStore) GetConversationKeys(ctx context.Context) ([]conversation.Key, error) {
	var rows []conversationRecord
	if err := s.db.WithContext(ctx).Select("chat_id", "id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("get conversation keys: %w", err)
	}
	out := make([]conversation.Key, 0, len(rows))
	for _, r := range rows {
		out = append(out, conversation.Key{ChatID: r.ChatID, ID: r.ID})
	}
	return out, nil
}

func (s *GormStore) ListConversationHeaders(ctx context.Context) ([]Header, error) {
	var rows []conversationRecord
	err := s.db.WithContext(ctx).
		Select("chat_id", "id", "name", "created_at").
		Order("created_at, chat_id, id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list conversation headers: %w", err)
	}
	out := make([]Header, 0, len(rows))
	for _, r := range rows {
		out = append(out, Header{
			Key:       conversation.Key{ChatID: r.ChatID, ID: r.ID},
			Name:      r.Name,
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}

func (s *GormStore) InsertConversation(ctx context.Context, c *conversation.Conversation) error {
	r, err := toConversationRecord(c)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&r).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("conversation %s: %w", c.Key(), ErrDuplicate)
		}
		return fmt.Errorf("insert conversation %s: %w", c.Key(), err)
	}
	return nil
}

func (s *GormStore) UpdateConversation(ctx context.Context, c *conversation.Conversation) error {
	r, err := toConversationRecord(c)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&conversationRecord{}).
			Where("chat_id = ? AND id = ?", c.ChatID, c.ID).
			Select("*").
			Updates(&r)
		if res.Error != nil {
			return fmt.Errorf("update conversation %s: %w", c.Key(), res.Error)
		}
		if res.RowsAffected > 0 {
			return nil
		}
		// MySQL reports zero affected rows when nothing changed.
		var n int64
		if err := tx.Model(&conversationRecord{}).Where("chat_id = ? AND id = ?", c.ChatID, c.ID).Count(&n).Error; err != nil {
			return fmt.Errorf("update conversation %s: %w", c.Key(), err)
		}
		if n == 0 {
			return fmt.Errorf("conversation %s: %w", c.Key(), ErrNotFound)
		}
		return nil
	})
}

func (s *GormStore) DeleteConversations(ctx context.Context, keys []conversation.Key) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	deleted := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, k := range keys {
			res := tx.Where("chat_id = ? AND id = ?", k.ChatID, k.ID).Delete(&conversationRecord{})
			if res.Error != nil {
				return fmt.Errorf("delete conversation %s: %w", k, res.Error)
			}
			deleted += int(res.RowsAffected)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// Close closes the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
