package channels

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Bagheerabaloo/jarvis/internal/bus"
	"github.com/Bagheerabaloo/jarvis/internal/telegram"
)

// Decode turns an update into a bus message. Updates that carry neither
// text, caption nor callback data are skipped.
func Decode(u telegram.Update) (bus.Message, bool) {
	if cq := u.CallbackQuery; cq != nil {
		if cq.Message == nil {
			return bus.Message{}, false
		}
		msg := fromChat(u.UpdateID, cq.Message)
		msg.Kind = bus.KindCallback
		msg.SenderID = cq.From.ID
		msg.SenderName = cq.From.FullName()
		msg.SenderUsername = cq.From.Username
		msg.CallbackData = cq.Data
		msg.CallbackID = cq.ID
		return msg, true
	}

	m := u.Message
	if m == nil {
		return bus.Message{}, false
	}
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	if strings.TrimSpace(text) == "" {
		return bus.Message{}, false
	}

	msg := fromChat(u.UpdateID, m)
	if m.From != nil {
		msg.SenderID = m.From.ID
		msg.SenderName = m.From.FullName()
		msg.SenderUsername = m.From.Username
	} else {
		// channel posts have no sender
		msg.SenderID = m.Chat.ID
		msg.SenderName = m.Chat.Title
	}
	msg.RawText = text
	if strings.HasPrefix(text, "/") {
		msg.Kind = bus.KindCommand
		msg.Text = stripCommand(text)
	} else {
		msg.Kind = bus.KindFreeText
		msg.Text = text
	}
	return msg, true
}

func fromChat(updateID int64, m *telegram.Message) bus.Message {
	return bus.Message{
		TraceID:       uuid.NewString(),
		ChatID:        m.Chat.ID,
		ChatType:      m.Chat.Type,
		ChatTitle:     m.Chat.Title,
		ChatFirstName: m.Chat.FirstName,
		ChatLastName:  m.Chat.LastName,
		ChatUsername:  m.Chat.Username,
		MessageID:     m.MessageID,
		Date:          time.Unix(m.Date, 0).UTC(),
		UpdateID:      updateID,
	}
}

// stripCommand removes the leading marker and a @botname suffix from the
// command word: "/start@jarvis_bot now" becomes "start now".
func stripCommand(text string) string {
	text = strings.TrimPrefix(text, "/")
	word, rest, hasRest := strings.Cut(text, " ")
	if at := strings.IndexByte(word, '@'); at >= 0 {
		word = word[:at]
	}
	if hasRest {
		return word + " " + rest
	}
	return word
}
