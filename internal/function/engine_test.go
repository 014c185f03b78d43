package function

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bagheerabaloo/jarvis/internal/bus"
	"github.com/Bagheerabaloo/jarvis/internal/conversation"
	"github.com/Bagheerabaloo/jarvis/internal/outbound"
	"github.com/Bagheerabaloo/jarvis/internal/outbound/outboundtest"
)

var fixedNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newTestEngine() (*Engine, *outboundtest.Recorder) {
	rec := outboundtest.New()
	return NewEngine(rec, nil, WithClock(func() time.Time { return fixedNow })), rec
}

func textMsg(updateID, messageID int64, text string) bus.Message {
	return bus.Message{Kind: bus.KindFreeText, ChatID: 1, UpdateID: updateID, MessageID: messageID, Text: text}
}

// echo asks for text at step 1 and closes at step 2.
var echo = Define("echo",
	func(ctx context.Context, f *Function) error {
		_, err := f.Ask(ctx, "say something")
		f.Next()
		return err
	},
	func(ctx context.Context, f *Function) error {
		_, err := f.Send(ctx, "you said "+f.Text())
		f.Close()
		return err
	},
)

func TestDefine_TooManySteps(t *testing.T) {
	steps := make([]Step, conversation.MaxState+1)
	assert.Panics(t, func() { Define("big", steps...) })
}

func TestRunNew_AttachesAndResumes(t *testing.T) {
	e, rec := newTestEngine()
	chat := conversation.NewChat(1, conversation.ChatPrivate)

	res, err := e.RunNew(context.Background(), Start{Handler: echo, ID: 10, Chat: chat, Msg: textMsg(100, 10, "/echo")})
	require.NoError(t, err)
	assert.True(t, res.Attached)
	conv := chat.Find(10)
	require.NotNil(t, conv)
	assert.Equal(t, "echo", conv.Name)
	assert.Equal(t, 2, conv.State)
	assert.True(t, conv.OpenForText)
	assert.Equal(t, int64(100), conv.UpdateID)
	assert.True(t, conv.CreatedAt.Equal(fixedNow))

	res, err = e.RunExisting(context.Background(), echo, conv, chat, nil, textMsg(101, 11, "hi"))
	require.NoError(t, err)
	assert.True(t, res.Closed)
	assert.False(t, res.Attached)
	assert.Nil(t, chat.Find(10))
	assert.Equal(t, []string{"say something", "you said hi"}, rec.Texts(1))
}

func TestRunNew_CloseOnFirstStepIsNeverAttached(t *testing.T) {
	e, _ := newTestEngine()
	chat := conversation.NewChat(1, conversation.ChatPrivate)
	oneShot := Define("oneshot", func(ctx context.Context, f *Function) error {
		f.Close()
		return nil
	})

	res, err := e.RunNew(context.Background(), Start{Handler: oneShot, ID: 3, Chat: chat})
	require.NoError(t, err)
	assert.True(t, res.Closed)
	assert.False(t, res.Attached)
	assert.Equal(t, 0, chat.Len())
}

func TestRunNew_ClearsOtherOpenForText(t *testing.T) {
	e, _ := newTestEngine()
	chat := conversation.NewChat(1, conversation.ChatPrivate)
	old := conversation.New(1, 1, "echo", fixedNow)
	old.OpenForText = true
	chat.Attach(old)

	_, err := e.RunNew(context.Background(), Start{Handler: echo, ID: 2, Chat: chat, Msg: textMsg(5, 2, "/echo")})
	require.NoError(t, err)

	open, n := chat.OpenForText()
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(2), open.ID)
	assert.False(t, old.OpenForText)
}

func TestRunNew_Duplicate(t *testing.T) {
	e, rec := newTestEngine()
	chat := conversation.NewChat(1, conversation.ChatPrivate)
	_, err := e.RunNew(context.Background(), Start{Handler: echo, ID: 10, Chat: chat})
	require.NoError(t, err)

	_, err = e.RunNew(context.Background(), Start{Handler: echo, ID: 10, Chat: chat})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, 1, chat.Len())
	assert.Len(t, rec.Sent(), 1)
}

func TestRunNew_SettingsAndState(t *testing.T) {
	e, _ := newTestEngine()
	chat := conversation.NewChat(1, conversation.ChatPrivate)
	var seen string
	h := Define("two",
		func(ctx context.Context, f *Function) error { return errors.New("step 1 must not run") },
		func(ctx context.Context, f *Function) error {
			seen = f.Settings().String("app")
			f.Same()
			return nil
		},
	)
	settings := conversation.Settings{}
	settings.Set("app", "jarvis")

	res, err := e.RunNew(context.Background(), Start{Handler: h, ID: 1, Chat: chat, Settings: settings, State: 2})
	require.NoError(t, err)
	assert.Equal(t, "jarvis", seen)
	assert.Equal(t, 2, res.Conversation.State)

	res.Conversation.Settings.Set("app", "changed")
	assert.Equal(t, "jarvis", settings.String("app"))
}

func TestEvaluate_InvalidState(t *testing.T) {
	e, _ := newTestEngine()
	chat := conversation.NewChat(1, conversation.ChatPrivate)
	conv := conversation.New(1, 1, "echo", fixedNow)
	conv.State = 11
	chat.Attach(conv)

	_, err := e.RunExisting(context.Background(), echo, conv, chat, nil, textMsg(1, 1, "x"))
	assert.ErrorIs(t, err, conversation.ErrInvalidState)

	conv.State = 3
	_, err = e.RunExisting(context.Background(), echo, conv, chat, nil, textMsg(2, 2, "x"))
	assert.ErrorIs(t, err, conversation.ErrInvalidState)

	_, err = e.RunNew(context.Background(), Start{Handler: echo, ID: 2, Chat: chat, State: 12})
	assert.ErrorIs(t, err, conversation.ErrInvalidState)
	assert.Nil(t, chat.Find(2))
}

func TestRunNew_FailedStepIsNotAttached(t *testing.T) {
	e, _ := newTestEngine()
	chat := conversation.NewChat(1, conversation.ChatPrivate)
	boom := errors.New("boom")
	h := Define("fail", func(ctx context.Context, f *Function) error { return boom })

	_, err := e.RunNew(context.Background(), Start{Handler: h, ID: 1, Chat: chat})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, chat.Len())
}

func TestFunction_InlineBindingAndEdit(t *testing.T) {
	e, rec := newTestEngine()
	chat := conversation.NewChat(1, conversation.ChatPrivate)
	h := Define("menu",
		func(ctx context.Context, f *Function) error {
			_, err := f.SendInline(ctx, "pick", outbound.NewInlineKeyboard([]string{"a", "b"}))
			f.Next()
			return err
		},
		func(ctx context.Context, f *Function) error {
			if err := f.AnswerCallback(ctx, "got "+f.Text()); err != nil {
				return err
			}
			_, err := f.Edit(ctx, "picked "+f.Text(), nil)
			f.Close()
			return err
		},
	)

	_, err := e.RunNew(context.Background(), Start{Handler: h, ID: 5, Chat: chat, Msg: textMsg(8, 5, "/menu")})
	require.NoError(t, err)
	conv := chat.Find(5)
	require.NotNil(t, conv)
	assert.True(t, conv.HasInlineReply)
	assert.False(t, conv.OpenForText)
	assert.Equal(t, int64(1001), conv.BoundMessageID)
	assert.Same(t, conv, chat.FindByBoundMessage(1001))

	cb := bus.Message{Kind: bus.KindCallback, ChatID: 1, MessageID: 1001, UpdateID: 9, CallbackID: "cb", CallbackData: "a"}
	_, err = e.RunExisting(context.Background(), h, conv, chat, nil, cb)
	require.NoError(t, err)

	assert.Equal(t, []outboundtest.Answer{{CallbackID: "cb", Text: "got a"}}, rec.Answers())
	last, _ := rec.Last()
	assert.True(t, last.Edit)
	assert.Equal(t, int64(1001), last.MessageID)
	assert.Equal(t, "picked a", last.Text)
	assert.Zero(t, conv.BoundMessageID)
	assert.Equal(t, int64(5), conv.MessageID)
}

func TestFunction_ReplyKeyboardOpensForText(t *testing.T) {
	e, _ := newTestEngine()
	chat := conversation.NewChat(1, conversation.ChatPrivate)
	h := Define("kb", func(ctx context.Context, f *Function) error {
		f.Pending(ctx, "heads up")
		_, err := f.SendReplyKeyboard(ctx, "yes or no?", outbound.NewReplyKeyboard([]string{"yes", "no"}))
		return err
	})

	res, err := e.RunNew(context.Background(), Start{Handler: h, ID: 1, Chat: chat})
	require.NoError(t, err)
	assert.True(t, res.Conversation.OpenForText)
	assert.False(t, res.Conversation.HasInlineReply)
}

func TestFunction_NilKeyboards(t *testing.T) {
	e, rec := newTestEngine()
	chat := conversation.NewChat(1, conversation.ChatPrivate)
	h := Define("plain", func(ctx context.Context, f *Function) error {
		if _, err := f.SendInline(ctx, "no buttons", nil); err != nil {
			return err
		}
		_, err := f.SendReplyKeyboard(ctx, "type it", nil)
		return err
	})

	res, err := e.RunNew(context.Background(), Start{Handler: h, ID: 1, Chat: chat})
	require.NoError(t, err)
	assert.True(t, res.Conversation.OpenForText)
	assert.False(t, res.Conversation.HasInlineReply)
	assert.Zero(t, res.Conversation.BoundMessageID)
	assert.Equal(t, []string{"no buttons", "type it"}, rec.Texts(1))
	for _, sent := range rec.Sent() {
		assert.Nil(t, sent.Keyboard)
	}
}

func TestFunction_Requests(t *testing.T) {
	e, _ := newTestEngine()
	chat := conversation.NewChat(1, conversation.ChatPrivate)
	h := Define("chain", func(ctx context.Context, f *Function) error {
		f.Start("echo", nil)
		f.StartAt("menu", conversation.Settings{}, 2)
		f.RefreshUsers()
		f.Close()
		return nil
	})

	res, err := e.RunNew(context.Background(), Start{Handler: h, ID: 1, Chat: chat})
	require.NoError(t, err)
	require.Len(t, res.Starts, 2)
	assert.Equal(t, "echo", res.Starts[0].Name)
	assert.Equal(t, 1, res.Starts[0].State)
	assert.Equal(t, 2, res.Starts[1].State)
	assert.True(t, res.RefreshUsers)
}

func TestFunction_FreeTextScenario(t *testing.T) {
	// A conversation that advances then closes must not receive the next free text.
	e, _ := newTestEngine()
	chat := conversation.NewChat(1, conversation.ChatPrivate)
	conv := conversation.New(1, 1, "echo", fixedNow)
	conv.OpenForText = true
	chat.Attach(conv)
	h := Define("once", func(ctx context.Context, f *Function) error {
		f.Next()
		f.Close()
		return nil
	})

	open, _ := chat.OpenForText()
	require.NotNil(t, open)
	_, err := e.RunExisting(context.Background(), h, open, chat, nil, textMsg(1, 2, "first"))
	require.NoError(t, err)

	open, n := chat.OpenForText()
	assert.Nil(t, open)
	assert.Zero(t, n)
}
