package outbound

import "github.com/Bagheerabaloo/jarvis/internal/telegram"

// Keyboard is a reply markup attached to an outgoing message.
type Keyboard interface {
	// Markup returns the Bot API reply_markup value.
	Markup() any
	// Inline reports whether button presses arrive as callbacks.
	Inline() bool
}

// ReplyKeyboard replaces the user's keyboard with fixed answers.
// Answers arrive as free text.
type ReplyKeyboard struct {
	Rows        [][]string
	OneTime     bool
	Resize      bool
	Placeholder string
}

// Markup implements Keyboard.
func (k *ReplyKeyboard) Markup() any {
	if k == nil {
		return nil
	}
	rows := make([][]telegram.KeyboardButton, 0, len(k.Rows))
	for _, row := range k.Rows {
		buttons := make([]telegram.KeyboardButton, 0, len(row))
		for _, text := range row {
			buttons = append(buttons, telegram.KeyboardButton{Text: text})
		}
		rows = append(rows, buttons)
	}
	return &telegram.ReplyKeyboardMarkup{
		Keyboard:              rows,
		ResizeKeyboard:        k.Resize,
		OneTimeKeyboard:       k.OneTime,
		InputFieldPlaceholder: k.Placeholder,
	}
}

// Inline implements Keyboard.
func (k *ReplyKeyboard) Inline() bool { return false }

// NewReplyKeyboard builds a resized one-time keyboard from rows of labels.
func NewReplyKeyboard(rows ...[]string) *ReplyKeyboard {
	return &ReplyKeyboard{Rows: rows, OneTime: true, Resize: true}
}

// InlineButton is one inline keyboard button. URL buttons carry no data.
type InlineButton struct {
	Text string
	Data string
	URL  string
}

// InlineKeyboard is attached under a message and produces callbacks.
type InlineKeyboard struct {
	Rows [][]InlineButton
}

// NewInlineKeyboard builds a keyboard whose callback data equals the label.
func NewInlineKeyboard(rows ...[]string) *InlineKeyboard {
	kb := &InlineKeyboard{Rows: make([][]InlineButton, 0, len(rows))}
	for _, row := range rows {
		buttons := make([]InlineButton, 0, len(row))
		for _, text := range row {
			buttons = append(buttons, InlineButton{Text: text, Data: text})
		}
		kb.Rows = append(kb.Rows, buttons)
	}
	return kb
}

// URLButton returns a button that opens url.
func URLButton(text, url string) InlineButton {
	return InlineButton{Text: text, URL: url}
}

// Markup implements Keyboard.
func (k *InlineKeyboard) Markup() any {
	if k == nil {
		return nil
	}
	return k.markup()
}

func (k *InlineKeyboard) markup() *telegram.InlineKeyboardMarkup {
	rows := make([][]telegram.InlineKeyboardButton, 0, len(k.Rows))
	for _, row := range k.Rows {
		buttons := make([]telegram.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			btn := telegram.InlineKeyboardButton{Text: b.Text, URL: b.URL}
			if b.URL == "" {
				btn.CallbackData = b.Data
			}
			buttons = append(buttons, btn)
		}
		rows = append(rows, buttons)
	}
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// Inline implements Keyboard.
func (k *InlineKeyboard) Inline() bool { return true }

// RemoveKeyboard hides a previously sent reply keyboard.
type RemoveKeyboard struct{}

// Markup implements Keyboard.
func (RemoveKeyboard) Markup() any { return &telegram.ReplyKeyboardRemove{RemoveKeyboard: true} }

// Inline implements Keyboard.
func (RemoveKeyboard) Inline() bool { return false }
