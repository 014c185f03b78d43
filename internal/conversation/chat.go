package conversation

import (
	"sort"

	"github.com/Bagheerabaloo/jarvis/internal/bus"
)

// Chat kinds as reported by Telegram.
const (
	ChatPrivate    = "private"
	ChatGroup      = "group"
	ChatSupergroup = "supergroup"
	ChatChannel    = "channel"
)

// MaxRecentMessages bounds the per-chat inbound history kept in memory.
const MaxRecentMessages = 50

// Chat is one remote endpoint and the conversations running in it.
// It is only touched by the dispatch goroutine.
type Chat struct {
	ID        int64
	Kind      string
	Title     string
	FirstName string
	LastName  string
	Username  string

	messages      []bus.Message
	conversations []*Conversation
}

// NewChat creates an empty chat.
func NewChat(id int64, kind string) *Chat {
	return &Chat{ID: id, Kind: kind}
}

// ChatFromMessage creates a chat from the attributes carried by msg.
func ChatFromMessage(msg bus.Message) *Chat {
	return &Chat{
		ID:        msg.ChatID,
		Kind:      msg.ChatType,
		Title:     msg.ChatTitle,
		FirstName: msg.ChatFirstName,
		LastName:  msg.ChatLastName,
		Username:  msg.ChatUsername,
	}
}

// IsPrivate reports whether the chat is one-to-one.
func (c *Chat) IsPrivate() bool { return c.Kind == ChatPrivate }

// Append records an inbound message, dropping the oldest past MaxRecentMessages.
func (c *Chat) Append(msg bus.Message) {
	c.messages = append(c.messages, msg)
	if n := len(c.messages); n > MaxRecentMessages {
		c.messages = append(c.messages[:0:0], c.messages[n-MaxRecentMessages:]...)
	}
}

// Messages returns the recent inbound messages, oldest first.
func (c *Chat) Messages() []bus.Message {
	return append([]bus.Message(nil), c.messages...)
}

// LastMessage returns the newest inbound message.
func (c *Chat) LastMessage() (bus.Message, bool) {
	if len(c.messages) == 0 {
		return bus.Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

// Conversations returns the active set in attach order.
func (c *Chat) Conversations() []*Conversation {
	return append([]*Conversation(nil), c.conversations...)
}

// Len returns the number of active conversations.
func (c *Chat) Len() int { return len(c.conversations) }

// Attach adds conv to the active set. It reports false if the id is taken.
func (c *Chat) Attach(conv *Conversation) bool {
	if c.Find(conv.ID) != nil {
		return false
	}
	conv.ChatID = c.ID
	c.conversations = append(c.conversations, conv)
	return true
}

// Find returns the active conversation with the given id.
func (c *Chat) Find(id int64) *Conversation {
	for _, conv := range c.conversations {
		if conv.ID == id {
			return conv
		}
	}
	return nil
}

// FindByBoundMessage returns the conversation whose keyboard lives on messageID.
func (c *Chat) FindByBoundMessage(messageID int64) *Conversation {
	if messageID == 0 {
		return nil
	}
	for _, conv := range c.conversations {
		if conv.BoundMessageID == messageID {
			return conv
		}
	}
	return nil
}

// OpenForText returns the conversation waiting for free text, preferring the
// highest update id, and how many conversations claimed the flag.
func (c *Chat) OpenForText() (*Conversation, int) {
	var open []*Conversation
	for _, conv := range c.conversations {
		if conv.OpenForText {
			open = append(open, conv)
		}
	}
	if len(open) == 0 {
		return nil, 0
	}
	sort.SliceStable(open, func(i, j int) bool { return open[i].UpdateID > open[j].UpdateID })
	return open[0], len(open)
}

// ClearOpenForText resets the free-text flag on every conversation but exceptID.
func (c *Chat) ClearOpenForText(exceptID int64) {
	for _, conv := range c.conversations {
		if conv.ID != exceptID {
			conv.OpenForText = false
		}
	}
}

// Remove drops the conversation with the given id from the active set.
func (c *Chat) Remove(id int64) bool {
	for i, conv := range c.conversations {
		if conv.ID == id {
			c.conversations = append(c.conversations[:i], c.conversations[i+1:]...)
			return true
		}
	}
	return false
}

// NextFreeID returns the smallest id in 1..limit not used by an active conversation.
func (c *Chat) NextFreeID(limit int64) (int64, bool) {
	used := make(map[int64]bool, len(c.conversations))
	for _, conv := range c.conversations {
		used[conv.ID] = true
	}
	for id := int64(1); id <= limit; id++ {
		if !used[id] {
			return id, true
		}
	}
	return 0, false
}
