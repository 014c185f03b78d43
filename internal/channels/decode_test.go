package channels

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bagheerabaloo/jarvis/internal/bus"
	"github.com/Bagheerabaloo/jarvis/internal/telegram"
)

func textUpdate(updateID int64, text string) telegram.Update {
	return telegram.Update{
		UpdateID: updateID,
		Message: &telegram.Message{
			MessageID: updateID * 10,
			From:      &telegram.User{ID: 7, FirstName: "Ada", LastName: "Lovelace", Username: "ada"},
			Chat:      telegram.Chat{ID: 7, Type: "private", FirstName: "Ada"},
			Date:      1714557600,
			Text:      text,
		},
	}
}

func TestDecode_Command(t *testing.T) {
	msg, ok := Decode(textUpdate(1, "/start@jarvis_bot now"))
	require.True(t, ok)
	assert.Equal(t, bus.KindCommand, msg.Kind)
	assert.Equal(t, "start now", msg.Text)
	assert.Equal(t, "/start@jarvis_bot now", msg.RawText)
	assert.Equal(t, "start", msg.Alias())
	assert.Equal(t, int64(10), msg.MessageID)
	assert.Equal(t, int64(1), msg.UpdateID)
	assert.Equal(t, "Ada Lovelace", msg.SenderName)
	assert.Equal(t, "ada", msg.SenderUsername)
	assert.True(t, msg.IsPrivate())
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), msg.Date)
	assert.NotEmpty(t, msg.TraceID)
}

func TestDecode_FreeTextAndCaption(t *testing.T) {
	msg, ok := Decode(textUpdate(2, "hello there"))
	require.True(t, ok)
	assert.Equal(t, bus.KindFreeText, msg.Kind)
	assert.Equal(t, "hello there", msg.Text)

	u := textUpdate(3, "")
	u.Message.Caption = "a photo"
	msg, ok = Decode(u)
	require.True(t, ok)
	assert.Equal(t, "a photo", msg.Text)
}

func TestDecode_Callback(t *testing.T) {
	u := telegram.Update{
		UpdateID: 4,
		CallbackQuery: &telegram.CallbackQuery{
			ID:   "cb-1",
			From: telegram.User{ID: 9, FirstName: "Grace"},
			Data: "save",
			Message: &telegram.Message{
				MessageID: 55,
				Chat:      telegram.Chat{ID: -100, Type: "group", Title: "team"},
			},
		},
	}
	msg, ok := Decode(u)
	require.True(t, ok)
	assert.Equal(t, bus.KindCallback, msg.Kind)
	assert.Equal(t, int64(-100), msg.ChatID)
	assert.Equal(t, int64(55), msg.MessageID)
	assert.Equal(t, int64(9), msg.SenderID)
	assert.Equal(t, "save", msg.Payload())
	assert.Equal(t, "cb-1", msg.CallbackID)
	assert.Equal(t, "team", msg.ChatTitle)
}

func TestDecode_Skips(t *testing.T) {
	_, ok := Decode(telegram.Update{UpdateID: 1})
	assert.False(t, ok)

	_, ok = Decode(textUpdate(2, "  "))
	assert.False(t, ok)

	_, ok = Decode(telegram.Update{UpdateID: 3, CallbackQuery: &telegram.CallbackQuery{ID: "x"}})
	assert.False(t, ok)
}

func TestDecode_EndSentinel(t *testing.T) {
	msg, ok := Decode(textUpdate(1, "/END"))
	require.True(t, ok)
	assert.True(t, msg.IsEnd())
}
