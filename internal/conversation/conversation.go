// Package conversation holds the in-memory model owned by the dispatch loop:
// actors, chats and the resumable conversations attached to them.
package conversation

import (
	"errors"
	"fmt"
	"time"
)

// State bounds. Every handler exposes at most MaxState numbered steps.
const (
	MinState = 1
	MaxState = 10
)

// ErrInvalidState is returned when a conversation's state is outside 1..10.
var ErrInvalidState = errors.New("conversation state out of range")

// Key identifies a conversation across chats.
type Key struct {
	ChatID int64
	ID     int64
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%d", k.ChatID, k.ID)
}

// Conversation is one persisted, resumable unit of multi-step work.
// Its ID is the inbound message id that started it and never changes.
type Conversation struct {
	ID        int64
	ChatID    int64
	Name      string
	CreatedAt time.Time

	UpdateID  int64
	MessageID int64

	PreviousState int
	State         int

	OpenForText    bool
	HasInlineReply bool
	BoundMessageID int64

	Settings Settings
}

// New creates a conversation at step 1.
func New(id, chatID int64, name string, createdAt time.Time) *Conversation {
	return &Conversation{
		ID:            id,
		ChatID:        chatID,
		Name:          name,
		CreatedAt:     createdAt.UTC(),
		PreviousState: 0,
		State:         MinState,
		Settings:      Settings{},
	}
}

// Key returns the conversation's identity.
func (c *Conversation) Key() Key {
	return Key{ChatID: c.ChatID, ID: c.ID}
}

// Validate checks the state bounds.
func (c *Conversation) Validate() error {
	if c.State < MinState || c.State > MaxState {
		return fmt.Errorf("%w: %s state %d", ErrInvalidState, c.Name, c.State)
	}
	return nil
}

// Next advances one step.
func (c *Conversation) Next() { c.NextN(1) }

// NextN advances n steps.
func (c *Conversation) NextN(n int) {
	c.PreviousState = c.State
	c.State += n
}

// Back goes back one step.
func (c *Conversation) Back() { c.BackN(1) }

// BackN goes back n steps.
func (c *Conversation) BackN(n int) {
	c.PreviousState = c.State
	c.State -= n
}

// Same stays on the current step.
func (c *Conversation) Same() {
	c.PreviousState = c.State
}

// IsNext reports whether the step was entered by advancing depth steps.
func (c *Conversation) IsNext(depth int) bool {
	return c.State == c.PreviousState+depth
}

// IsBack reports whether the step was entered by going back depth steps.
func (c *Conversation) IsBack(depth int) bool {
	return c.State == c.PreviousState-depth
}

// Clone returns a deep copy.
func (c *Conversation) Clone() *Conversation {
	cp := *c
	cp.Settings = c.Settings.Clone()
	return &cp
}
