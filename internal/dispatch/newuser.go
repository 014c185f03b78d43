package dispatch

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/Bagheerabaloo/jarvis/internal/bus"
	"github.com/Bagheerabaloo/jarvis/internal/conversation"
	"github.com/Bagheerabaloo/jarvis/internal/function"
	"github.com/Bagheerabaloo/jarvis/internal/store"
)

// NewUserFlow turns the sender of a bootstrap command into a known actor.
type NewUserFlow interface {
	Admit(ctx context.Context, msg bus.Message) (*conversation.Actor, error)
}

// Admission is the default NewUserFlow. It saves the sender as an actor,
// an admin when their id is listed in Admins.
type Admission struct {
	Users  store.UserStore
	Admins []int64
}

// Admit builds and persists the actor for msg's sender.
func (a *Admission) Admit(ctx context.Context, msg bus.Message) (*conversation.Actor, error) {
	actor := &conversation.Actor{
		ID:       msg.SenderID,
		Name:     msg.SenderName,
		Username: msg.SenderUsername,
		IsAdmin:  slices.Contains(a.Admins, msg.SenderID),
	}
	if a.Users == nil {
		return actor, nil
	}
	if err := a.Users.SaveActor(ctx, actor); err != nil {
		return nil, fmt.Errorf("save actor %d: %w", actor.ID, err)
	}
	return actor, nil
}

// admit runs the bootstrap flow for an unknown sender. Only one-to-one
// chats qualify.
func (d *Dispatcher) admit(ctx context.Context, chat *conversation.Chat, msg bus.Message, log *zap.Logger) error {
	if !chat.IsPrivate() || msg.ChatID != msg.SenderID {
		log.Debug("start outside a private chat ignored", zap.Int64("sender_id", msg.SenderID))
		return nil
	}
	actor, err := d.newUsers.Admit(ctx, msg)
	if err != nil {
		return err
	}
	d.dir.PutActor(actor)
	log.Info("new user", zap.Int64("user_id", actor.ID), zap.String("handle", actor.Handle()))

	notice := fmt.Sprintf("New user: %s (id %d)", actor.Handle(), actor.ID)
	for _, admin := range d.dir.Admins() {
		if admin.ID == actor.ID {
			continue
		}
		if err := d.out.Reply(ctx, admin.ID, notice); err != nil {
			log.Warn("notify admin failed", zap.Int64("admin_id", admin.ID), zap.Error(err))
		}
	}

	cmd, ok := d.reg.ByName(BootstrapCommand, actor.IsAdmin)
	if !ok {
		return nil
	}
	settings := conversation.Settings{}
	settings.Set("app", d.cfg.AppName)
	return d.run(ctx, function.Start{
		Handler: cmd.Handler, ID: msg.MessageID, Chat: chat, Actor: actor, Msg: msg, Settings: settings,
	}, log)
}
