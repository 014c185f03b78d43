package conversation

import (
	"sort"

	"github.com/Bagheerabaloo/jarvis/internal/bus"
)

// Directory is the process-wide registry of actors and chats.
// It is filled at hydration and on first contact, owned by the dispatch
// goroutine, and read by the lifecycle manager only after that goroutine
// has stopped.
type Directory struct {
	actors map[int64]*Actor
	chats  map[int64]*Chat
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		actors: make(map[int64]*Actor),
		chats:  make(map[int64]*Chat),
	}
}

// Actor returns the actor with the given id.
func (d *Directory) Actor(id int64) (*Actor, bool) {
	a, ok := d.actors[id]
	return a, ok
}

// PutActor adds or replaces an actor.
func (d *Directory) PutActor(a *Actor) {
	d.actors[a.ID] = a
}

// Actors returns every actor sorted by id.
func (d *Directory) Actors() []*Actor {
	out := make([]*Actor, 0, len(d.actors))
	for _, a := range d.actors {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Admins returns the admin actors sorted by id.
func (d *Directory) Admins() []*Actor {
	var out []*Actor
	for _, a := range d.Actors() {
		if a.IsAdmin {
			out = append(out, a)
		}
	}
	return out
}

// Chat returns the chat with the given id.
func (d *Directory) Chat(id int64) (*Chat, bool) {
	c, ok := d.chats[id]
	return c, ok
}

// PutChat adds a chat unless one with the same id exists, and returns the stored one.
func (d *Directory) PutChat(c *Chat) *Chat {
	if existing, ok := d.chats[c.ID]; ok {
		return existing
	}
	d.chats[c.ID] = c
	return c
}

// EnsureChat returns the chat for msg, creating it on first contact.
func (d *Directory) EnsureChat(msg bus.Message) (*Chat, bool) {
	if c, ok := d.chats[msg.ChatID]; ok {
		return c, false
	}
	c := ChatFromMessage(msg)
	d.chats[c.ID] = c
	return c, true
}

// Chats returns every chat sorted by id.
func (d *Directory) Chats() []*Chat {
	out := make([]*Chat, 0, len(d.chats))
	for _, c := range d.chats {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Conversations returns every active conversation.
func (d *Directory) Conversations() []*Conversation {
	var out []*Conversation
	for _, c := range d.Chats() {
		out = append(out, c.conversations...)
	}
	return out
}

// ActiveCount returns the number of active conversations.
func (d *Directory) ActiveCount() int {
	n := 0
	for _, c := range d.chats {
		n += len(c.conversations)
	}
	return n
}

// NextFreeID returns the smallest id in 1..limit that no active conversation
// uses in any chat.
func (d *Directory) NextFreeID(limit int64) (int64, bool) {
	used := make(map[int64]bool)
	for _, c := range d.chats {
		for _, conv := range c.conversations {
			used[conv.ID] = true
		}
	}
	for id := int64(1); id <= limit; id++ {
		if !used[id] {
			return id, true
		}
	}
	return 0, false
}
