// Package dispatch drains the message queue and routes every event to the
// conversation that should handle it.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"

	"github.com/Bagheerabaloo/jarvis/internal/bus"
	"github.com/Bagheerabaloo/jarvis/internal/conversation"
	"github.com/Bagheerabaloo/jarvis/internal/function"
	"github.com/Bagheerabaloo/jarvis/internal/logging"
	"github.com/Bagheerabaloo/jarvis/internal/metrics"
	"github.com/Bagheerabaloo/jarvis/internal/registry"
	"github.com/Bagheerabaloo/jarvis/internal/store"
)

// ErrEnd is returned by Run when the end command was dequeued.
var ErrEnd = errors.New("dispatch: end command received")

// Replies sent by the router itself.
const (
	TextNotImplemented = "Function not implemented or forbidden"
	TextAmbiguous      = "Warning: more than one function associated to this alias"
	TextNoAction       = "No Message Action set"
	TextAlreadyActive  = "Function already running, try again"
)

// Conversation names the router starts on its own.
const (
	BootstrapCommand = "start"
	ExpiredCommand   = "expired"
)

// MaxExpiredID bounds the ids handed out to programmatic conversations.
const MaxExpiredID = 99999

// Source is the consuming half of the queue.
type Source interface {
	TryPop() (bus.Message, bool)
	Len() int
}

// Replier sends a plain reply outside any conversation.
type Replier interface {
	Reply(ctx context.Context, chatID int64, text string) error
}

// Fallback handles free text that no conversation or alias claimed.
type Fallback func(ctx context.Context, chat *conversation.Chat, actor *conversation.Actor, msg bus.Message) error

// Config tunes the dispatch loop.
type Config struct {
	// AppName is passed to the bootstrap conversation as settings "app".
	AppName   string
	IdleSleep time.Duration
}

// DefaultConfig returns the loop defaults.
func DefaultConfig() Config {
	return Config{IdleSleep: 50 * time.Millisecond}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher's logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.log = logging.OrNop(l) }
}

// WithMetrics sets the dispatcher's collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// WithSleep replaces the idle sleep.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.sleep = fn
		}
	}
}

// WithClock replaces time.Now for checkpoint scheduling.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithUsers enables persisting new chats and reloading actors on request.
func WithUsers(users store.UserStore) Option {
	return func(d *Dispatcher) { d.users = users }
}

// WithNewUserFlow replaces how unknown senders are admitted.
func WithNewUserFlow(flow NewUserFlow) Option {
	return func(d *Dispatcher) {
		if flow != nil {
			d.newUsers = flow
		}
	}
}

// WithFallback replaces the reply to unclaimed free text.
func WithFallback(fn Fallback) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.fallback = fn
		}
	}
}

// WithCheckpoint runs fn from the dispatch goroutine whenever the cron
// expression expr comes due.
func WithCheckpoint(expr string, fn func(ctx context.Context) error) Option {
	return func(d *Dispatcher) {
		d.checkpointExpr = expr
		d.checkpoint = fn
	}
}

// Dispatcher is the dispatch loop. Chat and conversation state is only
// touched from the goroutine running Run.
type Dispatcher struct {
	queue  Source
	dir    *conversation.Directory
	reg    *registry.Registry
	engine *function.Engine
	out    Replier
	cfg    Config

	users    store.UserStore
	newUsers NewUserFlow
	fallback Fallback

	log     *zap.Logger
	metrics *metrics.Metrics
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time

	checkpointExpr string
	checkpoint     func(ctx context.Context) error
	nextCheckpoint time.Time

	lastUpdate int64
	stopped    atomic.Bool
}

// New creates a dispatcher reading from queue.
func New(queue Source, dir *conversation.Directory, reg *registry.Registry, engine *function.Engine,
	out Replier, cfg Config, opts ...Option) *Dispatcher {
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = DefaultConfig().IdleSleep
	}
	d := &Dispatcher{
		queue:    queue,
		dir:      dir,
		reg:      reg,
		engine:   engine,
		out:      out,
		cfg:      cfg,
		log:      zap.NewNop(),
		metrics:  metrics.New(nil),
		sleep:    sleepContext,
		now:      time.Now,
		newUsers: &Admission{},
	}
	d.fallback = d.replyNoAction
	for _, opt := range opts {
		opt(d)
	}
	if a, ok := d.newUsers.(*Admission); ok && a.Users == nil {
		a.Users = d.users
	}
	if d.checkpoint != nil {
		d.scheduleCheckpoint()
	}
	return d
}

func (d *Dispatcher) Name() string { return "dispatch" }

// Stop asks Run to return before its next iteration.
func (d *Dispatcher) Stop() { d.stopped.Store(true) }

// LastUpdateID returns the highest update id handled so far.
func (d *Dispatcher) LastUpdateID() int64 { return d.lastUpdate }

// SeedLastUpdateID raises the duplicate watermark, typically to the newest
// update id found in hydrated conversations. Call it before Run.
func (d *Dispatcher) SeedLastUpdateID(id int64) {
	if id > d.lastUpdate {
		d.lastUpdate = id
	}
}

// Run drains the queue until Stop, ctx cancellation or the end command.
// It returns ErrEnd in the last case and nil otherwise.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("dispatch loop started")
	defer d.log.Info("dispatch loop stopped")

	for !d.stopped.Load() {
		if ctx.Err() != nil {
			return nil
		}
		d.runCheckpoint(ctx)

		msg, ok := d.queue.TryPop()
		d.metrics.QueueDepth.Set(float64(d.queue.Len()))
		if !ok {
			if err := d.sleep(ctx, d.cfg.IdleSleep); err != nil {
				return nil
			}
			continue
		}
		if msg.IsEnd() {
			d.log.Info("end command received", zap.Int64("chat_id", msg.ChatID))
			return ErrEnd
		}
		d.Handle(ctx, msg)
	}
	return nil
}

// Handle routes one event. Errors and panics are logged and never escape.
func (d *Dispatcher) Handle(ctx context.Context, msg bus.Message) {
	log := d.log.With(
		zap.String("trace_id", msg.TraceID),
		zap.Int64("chat_id", msg.ChatID),
		zap.Int64("update_id", msg.UpdateID),
		zap.Stringer("kind", msg.Kind),
	)
	outcome := "ok"
	defer func() {
		if r := recover(); r != nil {
			log.Error("handler panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			outcome = "panic"
		}
		d.metrics.Events.WithLabelValues(msg.Kind.String(), outcome).Inc()
		d.metrics.ActiveConversations.Set(float64(d.dir.ActiveCount()))
	}()

	if msg.UpdateID != 0 && msg.UpdateID <= d.lastUpdate {
		log.Debug("update already processed")
		d.metrics.DuplicateEvents.Inc()
		outcome = "duplicate"
		return
	}
	if msg.UpdateID > d.lastUpdate {
		d.lastUpdate = msg.UpdateID
	}

	chat := d.chatFor(ctx, msg, log)
	chat.Append(msg)

	actor, known := d.dir.Actor(msg.SenderID)
	if !known {
		if msg.Kind != bus.KindCommand || msg.Alias() != BootstrapCommand {
			log.Debug("dropping event from unknown sender", zap.Int64("sender_id", msg.SenderID))
			outcome = "unknown_sender"
			return
		}
		if err := d.admit(ctx, chat, msg, log); err != nil {
			log.Warn("new user flow failed", zap.Error(err))
			outcome = "error"
		}
		return
	}

	var err error
	switch msg.Kind {
	case bus.KindCommand:
		err = d.routeCommand(ctx, chat, actor, msg, log)
	case bus.KindFreeText:
		err = d.routeText(ctx, chat, actor, msg, log)
	case bus.KindCallback:
		err = d.routeCallback(ctx, chat, actor, msg, log)
	default:
		err = fmt.Errorf("unknown event kind %d", msg.Kind)
	}
	if err != nil {
		log.Warn("event failed", zap.Error(err))
		outcome = "error"
	}
}

// Execute starts the named conversation in chatID outside of any inbound event.
func (d *Dispatcher) Execute(ctx context.Context, chatID int64, name string, settings conversation.Settings, state int) error {
	chat, ok := d.dir.Chat(chatID)
	if !ok {
		return fmt.Errorf("execute %s: chat %d: %w", name, chatID, store.ErrNotFound)
	}
	var actor *conversation.Actor
	if a, ok := d.dir.Actor(chatID); ok {
		actor = a
	}
	cmd, ok := d.reg.ByName(name, true)
	if !ok {
		return fmt.Errorf("execute %s: %w", name, registry.ErrUnknownCommand)
	}
	id, ok := d.dir.NextFreeID(MaxExpiredID)
	if !ok {
		return fmt.Errorf("execute %s: no free conversation id", name)
	}
	msg := bus.Message{ChatID: chatID, ChatType: chat.Kind, Date: d.now()}
	if last, ok := chat.LastMessage(); ok {
		msg.TraceID = last.TraceID
	}
	return d.run(ctx, function.Start{
		Handler: cmd.Handler, ID: id, Chat: chat, Actor: actor, Msg: msg, Settings: settings, State: state,
	}, d.log.With(zap.Int64("chat_id", chatID), zap.String("conversation", name)))
}

func (d *Dispatcher) chatFor(ctx context.Context, msg bus.Message, log *zap.Logger) *conversation.Chat {
	chat, created := d.dir.EnsureChat(msg)
	if created {
		log.Info("new chat", zap.String("chat_kind", chat.Kind))
		if d.users != nil {
			if err := d.users.SaveChat(ctx, chat); err != nil {
				log.Warn("save chat failed", zap.Error(err))
			}
		}
	}
	return chat
}

func (d *Dispatcher) routeCommand(ctx context.Context, chat *conversation.Chat, actor *conversation.Actor,
	msg bus.Message, log *zap.Logger) error {
	alias := msg.Alias()
	if alias == BootstrapCommand {
		log.Debug("start from known user ignored")
		return nil
	}
	matches := d.reg.Match(alias, actor.IsAdmin)
	switch len(matches) {
	case 0:
		return d.out.Reply(ctx, chat.ID, TextNotImplemented)
	case 1:
	default:
		return d.out.Reply(ctx, chat.ID, TextAmbiguous)
	}
	return d.run(ctx, function.Start{
		Handler: matches[0].Handler, ID: msg.MessageID, Chat: chat, Actor: actor, Msg: msg,
	}, log)
}

func (d *Dispatcher) routeText(ctx context.Context, chat *conversation.Chat, actor *conversation.Actor,
	msg bus.Message, log *zap.Logger) error {
	if conv, n := chat.OpenForText(); conv != nil {
		if n > 1 {
			log.Warn("several conversations open for text", zap.Int("open", n), zap.Stringer("picked", conv.Key()))
		}
		if cmd, ok := d.resumable(conv, chat, actor, log); ok {
			return d.resume(ctx, cmd, conv, chat, actor, msg, log)
		}
	}

	// free text must equal an alias, not just start with one
	alias := strings.Trim(strings.TrimSpace(msg.Text), "/")
	matches := d.reg.Match(alias, actor.IsAdmin)
	if len(matches) == 1 {
		return d.run(ctx, function.Start{
			Handler: matches[0].Handler, ID: msg.MessageID, Chat: chat, Actor: actor, Msg: msg,
		}, log)
	}
	if len(matches) > 1 {
		return d.out.Reply(ctx, chat.ID, TextAmbiguous)
	}
	return d.fallback(ctx, chat, actor, msg)
}

func (d *Dispatcher) routeCallback(ctx context.Context, chat *conversation.Chat, actor *conversation.Actor,
	msg bus.Message, log *zap.Logger) error {
	if conv := chat.FindByBoundMessage(msg.MessageID); conv != nil {
		if cmd, ok := d.resumable(conv, chat, actor, log); ok {
			return d.resume(ctx, cmd, conv, chat, actor, msg, log)
		}
	}

	cmd, ok := d.reg.ByName(ExpiredCommand, true)
	if !ok {
		log.Debug("callback for a finished conversation", zap.Int64("message_id", msg.MessageID))
		return nil
	}
	id, ok := d.dir.NextFreeID(MaxExpiredID)
	if !ok {
		return errors.New("no free conversation id for expired callback")
	}
	return d.run(ctx, function.Start{Handler: cmd.Handler, ID: id, Chat: chat, Actor: actor, Msg: msg}, log)
}

// resumable returns the command driving conv if actor may continue it. A
// conversation whose command is no longer registered is dropped from the chat;
// one reserved to admins is left for them.
func (d *Dispatcher) resumable(conv *conversation.Conversation, chat *conversation.Chat,
	actor *conversation.Actor, log *zap.Logger) (registry.Command, bool) {
	if cmd, ok := d.reg.ByName(conv.Name, actor != nil && actor.IsAdmin); ok {
		return cmd, true
	}
	if _, ok := d.reg.ByName(conv.Name, true); !ok {
		chat.Remove(conv.ID)
		log.Warn("dropped conversation of an unregistered command", zap.Stringer("conversation", conv.Key()),
			zap.String("name", conv.Name))
		return registry.Command{}, false
	}
	log.Debug("conversation reserved to admins", zap.Stringer("conversation", conv.Key()))
	return registry.Command{}, false
}

func (d *Dispatcher) resume(ctx context.Context, cmd registry.Command, conv *conversation.Conversation,
	chat *conversation.Chat, actor *conversation.Actor, msg bus.Message, log *zap.Logger) error {
	res, err := d.engine.RunExisting(ctx, cmd.Handler, conv, chat, actor, msg)
	d.apply(ctx, chat, res, log)
	return err
}

func (d *Dispatcher) run(ctx context.Context, s function.Start, log *zap.Logger) error {
	res, err := d.engine.RunNew(ctx, s)
	if errors.Is(err, function.ErrDuplicate) {
		log.Warn("conversation already active", zap.Int64("id", s.ID))
		return d.out.Reply(ctx, s.Chat.ID, TextAlreadyActive)
	}
	d.apply(ctx, s.Chat, res, log)
	return err
}

// apply carries out what a step asked for once it returned.
func (d *Dispatcher) apply(ctx context.Context, chat *conversation.Chat, res function.Result, log *zap.Logger) {
	if res.RefreshUsers {
		if err := d.RefreshUsers(ctx); err != nil {
			log.Warn("refresh users failed", zap.Error(err))
		}
	}
	for _, req := range res.Starts {
		if err := d.Execute(ctx, chat.ID, req.Name, req.Settings, req.State); err != nil {
			log.Warn("chained start failed", zap.String("conversation", req.Name), zap.Error(err))
		}
	}
}

// RefreshUsers reloads every actor from the user store.
func (d *Dispatcher) RefreshUsers(ctx context.Context) error {
	if d.users == nil {
		return nil
	}
	actors, err := d.users.ListActors(ctx)
	if err != nil {
		return fmt.Errorf("list actors: %w", err)
	}
	for _, a := range actors {
		d.dir.PutActor(a)
	}
	d.log.Debug("users refreshed", zap.Int("actors", len(actors)))
	return nil
}

func (d *Dispatcher) replyNoAction(ctx context.Context, chat *conversation.Chat, _ *conversation.Actor, _ bus.Message) error {
	return d.out.Reply(ctx, chat.ID, TextNoAction)
}

func (d *Dispatcher) scheduleCheckpoint() {
	expr := strings.TrimSpace(d.checkpointExpr)
	if !gronx.IsValid(expr) {
		d.log.Warn("checkpoint disabled: invalid cron", zap.String("cron", expr))
		d.checkpoint = nil
		return
	}
	next, err := gronx.NextTickAfter(expr, d.now(), false)
	if err != nil {
		d.log.Warn("checkpoint disabled", zap.String("cron", d.checkpointExpr), zap.Error(err))
		d.checkpoint = nil
		return
	}
	d.nextCheckpoint = next
}

func (d *Dispatcher) runCheckpoint(ctx context.Context) {
	if d.checkpoint == nil || d.now().Before(d.nextCheckpoint) {
		return
	}
	if err := d.checkpoint(ctx); err != nil {
		d.log.Warn("checkpoint failed", zap.Error(err))
	}
	d.scheduleCheckpoint()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
