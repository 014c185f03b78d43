// Package bus carries normalized chat events from the ingestion loop to the dispatcher.
package bus

import (
	"strings"
	"time"
)

// Kind classifies an inbound event.
type Kind int

const (
	KindCommand Kind = iota + 1
	KindFreeText
	KindCallback
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindFreeText:
		return "free_text"
	case KindCallback:
		return "callback"
	default:
		return "unknown"
	}
}

// EndCommand stops the dispatch loop instead of being routed.
const EndCommand = "end"

// Message is one inbound update after decoding.
// It is created by the ingestion loop and consumed exactly once by the dispatcher.
type Message struct {
	Kind    Kind   `json:"kind"`
	TraceID string `json:"trace_id"`

	ChatID        int64  `json:"chat_id"`
	ChatType      string `json:"chat_type"`
	ChatTitle     string `json:"chat_title,omitempty"`
	ChatFirstName string `json:"chat_first_name,omitempty"`
	ChatLastName  string `json:"chat_last_name,omitempty"`
	ChatUsername  string `json:"chat_username,omitempty"`

	MessageID int64     `json:"message_id"`
	Date      time.Time `json:"date"`
	UpdateID  int64     `json:"update_id"`

	SenderID       int64  `json:"sender_id"`
	SenderName     string `json:"sender_name"`
	SenderUsername string `json:"sender_username,omitempty"`

	// Text holds the message text. For commands the leading marker and any
	// @botname suffix are removed; RawText keeps the original.
	Text    string `json:"text,omitempty"`
	RawText string `json:"raw_text,omitempty"`

	CallbackData string `json:"callback_data,omitempty"`
	CallbackID   string `json:"callback_id,omitempty"`
}

// IsEnd reports whether the message is the stop sentinel.
func (m Message) IsEnd() bool {
	return m.Kind == KindCommand && strings.EqualFold(strings.TrimSpace(m.Text), EndCommand)
}

// IsPrivate reports whether the message came from a one-to-one chat.
func (m Message) IsPrivate() bool {
	return m.ChatType == "private"
}

// Payload returns the callback data for callbacks and the text otherwise.
func (m Message) Payload() string {
	if m.Kind == KindCallback {
		return m.CallbackData
	}
	return m.Text
}

// Alias returns the first word of the text, the name a command event is
// routed by. Arguments after it stay in Text.
func (m Message) Alias() string {
	fields := strings.Fields(m.Text)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
