// Package function runs conversations: a handler is a table of up to ten
// numbered steps and a Function is the per-event runtime a step works with.
package function

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Bagheerabaloo/jarvis/internal/bus"
	"github.com/Bagheerabaloo/jarvis/internal/conversation"
	"github.com/Bagheerabaloo/jarvis/internal/outbound"
)

// Step is the body of one numbered state.
type Step func(ctx context.Context, f *Function) error

// Steps is indexed by state-1.
type Steps [conversation.MaxState]Step

// Handler is a conversation type.
type Handler interface {
	Name() string
	Steps() Steps
}

type stepTable struct {
	name  string
	steps Steps
}

func (s *stepTable) Name() string { return s.name }
func (s *stepTable) Steps() Steps { return s.steps }

// Define builds a Handler from steps given in order, starting at state 1.
func Define(name string, steps ...Step) Handler {
	if len(steps) > conversation.MaxState {
		panic(fmt.Sprintf("function %s: %d steps, at most %d allowed", name, len(steps), conversation.MaxState))
	}
	t := &stepTable{name: name}
	copy(t.steps[:], steps)
	return t
}

// Outbound is the delivery surface available to steps.
type Outbound interface {
	Send(ctx context.Context, chatID int64, text string, opts outbound.SendOptions) (int64, error)
	Edit(ctx context.Context, chatID, messageID int64, text string, kb *outbound.InlineKeyboard) (int64, error)
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// StartRequest asks the dispatcher to start another conversation once the
// current event is done.
type StartRequest struct {
	Name     string
	Settings conversation.Settings
	State    int
}

// Function is what a step sees while it runs.
type Function struct {
	Conv  *conversation.Conversation
	Chat  *conversation.Chat
	Actor *conversation.Actor
	Msg   bus.Message

	out Outbound
	log *zap.Logger

	isNew   bool
	closed  bool
	starts  []StartRequest
	refresh bool
}

// IsNew reports whether the conversation was created by this event.
func (f *Function) IsNew() bool { return f.isNew }

// Closed reports whether Close was called.
func (f *Function) Closed() bool { return f.closed }

// Settings returns the conversation's settings bag.
func (f *Function) Settings() conversation.Settings { return f.Conv.Settings }

// Text returns the inbound text, or the callback data for callbacks.
func (f *Function) Text() string { return f.Msg.Payload() }

// IsCallback reports whether the event is an inline button press.
func (f *Function) IsCallback() bool { return f.Msg.Kind == bus.KindCallback }

// IsAdmin reports whether the sender is an admin.
func (f *Function) IsAdmin() bool { return f.Actor != nil && f.Actor.IsAdmin }

// Log returns a logger scoped to the conversation.
func (f *Function) Log() *zap.Logger { return f.log }

// Send sends plain text without touching the routing flags.
func (f *Function) Send(ctx context.Context, text string) (int64, error) {
	return f.out.Send(ctx, f.Chat.ID, text, outbound.SendOptions{})
}

// SendWith sends with explicit options. A reply keyboard opens the
// conversation for free text and an inline keyboard binds it to the sent message.
func (f *Function) SendWith(ctx context.Context, text string, opts outbound.SendOptions) (int64, error) {
	id, err := f.out.Send(ctx, f.Chat.ID, text, opts)
	if err != nil || opts.Pending {
		return id, err
	}
	switch kb := opts.Keyboard.(type) {
	case *outbound.ReplyKeyboard:
		f.openForText()
	case *outbound.InlineKeyboard:
		if kb != nil {
			f.bind(id)
		}
	}
	return id, nil
}

// Pending queues text to be merged into the chat's next send.
func (f *Function) Pending(ctx context.Context, text string) {
	_, _ = f.out.Send(ctx, f.Chat.ID, text, outbound.SendOptions{Pending: true})
}

// Ask sends text and routes the chat's next free text here.
func (f *Function) Ask(ctx context.Context, text string) (int64, error) {
	id, err := f.Send(ctx, text)
	if err != nil {
		return id, err
	}
	f.openForText()
	return id, nil
}

// SendReplyKeyboard sends text with fixed answers and routes the next free text here.
func (f *Function) SendReplyKeyboard(ctx context.Context, text string, kb *outbound.ReplyKeyboard) (int64, error) {
	if kb == nil {
		return f.Ask(ctx, text)
	}
	return f.SendWith(ctx, text, outbound.SendOptions{Keyboard: kb})
}

// SendInline sends text with an inline keyboard bound to this conversation.
// A nil keyboard sends plain text and leaves the binding alone.
func (f *Function) SendInline(ctx context.Context, text string, kb *outbound.InlineKeyboard) (int64, error) {
	if kb == nil {
		return f.Send(ctx, text)
	}
	return f.SendWith(ctx, text, outbound.SendOptions{Keyboard: kb})
}

// Edit rewrites the bound message, or sends a new one when nothing is bound.
// Editing without a keyboard unbinds the conversation.
func (f *Function) Edit(ctx context.Context, text string, kb *outbound.InlineKeyboard) (int64, error) {
	if f.Conv.BoundMessageID == 0 {
		opts := outbound.SendOptions{}
		if kb != nil {
			opts.Keyboard = kb
		}
		return f.SendWith(ctx, text, opts)
	}
	id, err := f.out.Edit(ctx, f.Chat.ID, f.Conv.BoundMessageID, text, kb)
	if err != nil {
		return id, err
	}
	if kb != nil {
		f.bind(id)
	} else {
		f.Conv.HasInlineReply = false
		f.Conv.BoundMessageID = 0
	}
	return id, nil
}

// AnswerCallback acknowledges the callback that triggered this event.
func (f *Function) AnswerCallback(ctx context.Context, text string) error {
	if f.Msg.Kind != bus.KindCallback {
		return nil
	}
	return f.out.AnswerCallback(ctx, f.Msg.CallbackID, text)
}

func (f *Function) openForText() {
	f.Chat.ClearOpenForText(f.Conv.ID)
	f.Conv.OpenForText = true
}

func (f *Function) bind(messageID int64) {
	f.Conv.OpenForText = false
	f.Conv.HasInlineReply = true
	f.Conv.BoundMessageID = messageID
}

// State returns the current step number.
func (f *Function) State() int { return f.Conv.State }

// Next advances one step.
func (f *Function) Next() { f.Conv.Next() }

// NextN advances n steps.
func (f *Function) NextN(n int) { f.Conv.NextN(n) }

// Back goes back one step.
func (f *Function) Back() { f.Conv.Back() }

// BackN goes back n steps.
func (f *Function) BackN(n int) { f.Conv.BackN(n) }

// Same stays on the current step.
func (f *Function) Same() { f.Conv.Same() }

// IsNext reports whether this step was entered by advancing depth steps.
func (f *Function) IsNext(depth int) bool { return f.Conv.IsNext(depth) }

// IsBack reports whether this step was entered by going back depth steps.
func (f *Function) IsBack(depth int) bool { return f.Conv.IsBack(depth) }

// Close ends the conversation. A conversation created by this event is
// simply never attached; an existing one is removed from the chat.
func (f *Function) Close() {
	if f.closed {
		return
	}
	f.closed = true
	f.Conv.OpenForText = false
	if f.isNew {
		f.isNew = false
		return
	}
	f.Chat.Remove(f.Conv.ID)
}

// Start queues another conversation to begin after this event.
func (f *Function) Start(name string, settings conversation.Settings) {
	f.StartAt(name, settings, conversation.MinState)
}

// StartAt is Start with an explicit initial state.
func (f *Function) StartAt(name string, settings conversation.Settings, state int) {
	f.starts = append(f.starts, StartRequest{Name: name, Settings: settings, State: state})
}

// RefreshUsers asks the dispatcher to reload actors from the store.
func (f *Function) RefreshUsers() { f.refresh = true }
