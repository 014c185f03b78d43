// Package outboundtest provides an in-memory outbound recorder for tests.
package outboundtest

import (
	"context"
	"sync"

	"github.com/Bagheerabaloo/jarvis/internal/outbound"
)

// Sent is one recorded send or edit.
type Sent struct {
	ChatID    int64
	MessageID int64
	Text      string
	Keyboard  outbound.Keyboard
	Edit      bool
}

// Answer is one recorded callback acknowledgement.
type Answer struct {
	CallbackID string
	Text       string
}

// Recorder implements the outbound surface used by handlers and the dispatcher.
type Recorder struct {
	mu      sync.Mutex
	nextID  int64
	sent    []Sent
	answers []Answer
	pending map[int64][]string

	// Err, when set, is returned by every call.
	Err error
}

// New returns a Recorder whose message ids start at 1000.
func New() *Recorder {
	return &Recorder{nextID: 1000, pending: map[int64][]string{}}
}

// Send records a message and returns a fresh id.
func (r *Recorder) Send(ctx context.Context, chatID int64, text string, opts outbound.SendOptions) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return 0, r.Err
	}
	if opts.Pending {
		r.pending[chatID] = append(r.pending[chatID], text)
		return 0, nil
	}
	r.nextID++
	r.sent = append(r.sent, Sent{ChatID: chatID, MessageID: r.nextID, Text: text, Keyboard: opts.Keyboard})
	return r.nextID, nil
}

// Edit records an edit and returns messageID.
func (r *Recorder) Edit(ctx context.Context, chatID, messageID int64, text string, kb *outbound.InlineKeyboard) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return 0, r.Err
	}
	s := Sent{ChatID: chatID, MessageID: messageID, Text: text, Edit: true}
	if kb != nil {
		s.Keyboard = kb
	}
	r.sent = append(r.sent, s)
	return messageID, nil
}

// AnswerCallback records an acknowledgement.
func (r *Recorder) AnswerCallback(ctx context.Context, callbackID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.answers = append(r.answers, Answer{CallbackID: callbackID, Text: text})
	return nil
}

// Reply records a plain message.
func (r *Recorder) Reply(ctx context.Context, chatID int64, text string) error {
	_, err := r.Send(ctx, chatID, text, outbound.SendOptions{})
	return err
}

// Sent returns every recorded send and edit.
func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

// Texts returns the recorded texts for chatID in order.
func (r *Recorder) Texts(chatID int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, s := range r.sent {
		if s.ChatID == chatID {
			out = append(out, s.Text)
		}
	}
	return out
}

// Last returns the newest recorded send or edit.
func (r *Recorder) Last() (Sent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return Sent{}, false
	}
	return r.sent[len(r.sent)-1], true
}

// Answers returns every recorded callback acknowledgement.
func (r *Recorder) Answers() []Answer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Answer(nil), r.answers...)
}

// Pending returns the queued fragments for chatID.
func (r *Recorder) Pending(chatID int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.pending[chatID]...)
}

// Reset forgets everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
	r.answers = nil
	r.pending = map[int64][]string{}
}
