package function

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Bagheerabaloo/jarvis/internal/bus"
	"github.com/Bagheerabaloo/jarvis/internal/conversation"
	"github.com/Bagheerabaloo/jarvis/internal/logging"
)

// ErrDuplicate is returned when a new conversation's id is already active in the chat.
var ErrDuplicate = errors.New("conversation already active")

// Result describes what one event did to a conversation.
type Result struct {
	Conversation *conversation.Conversation
	// Attached is true when the conversation is in the chat's active set afterwards.
	Attached     bool
	Closed       bool
	Starts       []StartRequest
	RefreshUsers bool
}

// Start describes a new conversation.
type Start struct {
	Handler  Handler
	ID       int64
	Chat     *conversation.Chat
	Actor    *conversation.Actor
	Msg      bus.Message
	Settings conversation.Settings
	// State defaults to 1.
	State int
}

// Engine executes conversation steps.
type Engine struct {
	out Outbound
	log *zap.Logger
	now func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock replaces time.Now for conversation timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine delivering through out.
func NewEngine(out Outbound, log *zap.Logger, opts ...EngineOption) *Engine {
	e := &Engine{out: out, log: logging.OrNop(log), now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunNew creates a conversation, runs its current step and attaches it to
// the chat unless the step closed it or failed.
func (e *Engine) RunNew(ctx context.Context, s Start) (Result, error) {
	if existing := s.Chat.Find(s.ID); existing != nil {
		return Result{Conversation: existing, Attached: true},
			fmt.Errorf("%w: %s", ErrDuplicate, existing.Key())
	}

	conv := conversation.New(s.ID, s.Chat.ID, s.Handler.Name(), e.now())
	conv.UpdateID = s.Msg.UpdateID
	conv.MessageID = s.Msg.MessageID
	if s.Settings != nil {
		conv.Settings = s.Settings.Clone()
	}
	if s.State != 0 {
		conv.State = s.State
	}
	s.Chat.ClearOpenForText(conv.ID)

	f := e.newFunction(conv, s.Chat, s.Actor, s.Msg, true)
	err := e.evaluate(ctx, s.Handler, f)
	res := result(f)
	if err != nil {
		return res, err
	}
	if f.isNew {
		res.Attached = s.Chat.Attach(conv)
	}
	return res, nil
}

// RunExisting resumes an attached conversation with msg.
func (e *Engine) RunExisting(ctx context.Context, h Handler, conv *conversation.Conversation,
	chat *conversation.Chat, actor *conversation.Actor, msg bus.Message) (Result, error) {
	conv.UpdateID = msg.UpdateID
	if msg.Kind != bus.KindCallback {
		conv.MessageID = msg.MessageID
	}

	f := e.newFunction(conv, chat, actor, msg, false)
	err := e.evaluate(ctx, h, f)
	res := result(f)
	res.Attached = !f.closed
	return res, err
}

func (e *Engine) newFunction(conv *conversation.Conversation, chat *conversation.Chat,
	actor *conversation.Actor, msg bus.Message, isNew bool) *Function {
	return &Function{
		Conv:  conv,
		Chat:  chat,
		Actor: actor,
		Msg:   msg,
		out:   e.out,
		log: e.log.With(
			zap.String("conversation", conv.Name),
			zap.Stringer("key", conv.Key()),
			zap.String("trace_id", msg.TraceID),
		),
		isNew: isNew,
	}
}

func (e *Engine) evaluate(ctx context.Context, h Handler, f *Function) error {
	if err := f.Conv.Validate(); err != nil {
		return err
	}
	state := f.Conv.State
	step := h.Steps()[state-1]
	if step == nil {
		return fmt.Errorf("%w: %s has no step %d", conversation.ErrInvalidState, h.Name(), state)
	}
	f.log.Debug("evaluate", zap.Int("state", state), zap.Int("previous_state", f.Conv.PreviousState))
	if err := step(ctx, f); err != nil {
		return fmt.Errorf("%s step %d: %w", h.Name(), state, err)
	}
	return nil
}

func result(f *Function) Result {
	return Result{
		Conversation: f.Conv,
		Closed:       f.closed,
		Starts:       f.starts,
		RefreshUsers: f.refresh,
	}
}
