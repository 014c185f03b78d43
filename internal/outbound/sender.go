// Package outbound delivers replies to Telegram.
//
// Every remote call takes one of a fixed number of permits and runs under a
// retry policy: rate-limit responses sleep for the server delay without using
// an attempt, transient failures back off exponentially with jitter, and
// permanent rejections are returned at once. Long texts are split into
// ordered chunks and per-chat pending fragments are merged into the next send.
package outbound

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/Bagheerabaloo/jarvis/internal/logging"
	"github.com/Bagheerabaloo/jarvis/internal/metrics"
	"github.com/Bagheerabaloo/jarvis/internal/telegram"
)

// DefaultPermits is the number of concurrent Bot API calls.
const DefaultPermits = 5

// API is the subset of the Bot API client used for delivery.
type API interface {
	SendMessage(ctx context.Context, req telegram.SendMessageRequest) (*telegram.Message, error)
	EditMessageText(ctx context.Context, req telegram.EditMessageTextRequest) (*telegram.Message, error)
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
}

// KeyboardPosition selects which chunk of a split message carries the keyboard.
type KeyboardPosition int

const (
	KeyboardOnLast KeyboardPosition = iota
	KeyboardOnFirst
)

// SendOptions tune a single Send.
type SendOptions struct {
	Keyboard Keyboard
	// Pending queues the text for the chat instead of sending it.
	Pending        bool
	ParseMode      string
	Markdown       bool
	DisablePreview bool
	Silent         bool
	KeyboardOn     KeyboardPosition
}

// Config configures a Sender.
type Config struct {
	Permits   int
	Retry     RetryPolicy
	RateLimit float64
	Burst     int
	MaxLength int
}

// DefaultConfig returns 5 permits, the default retry policy and no rate limit.
func DefaultConfig() Config {
	return Config{
		Permits:   DefaultPermits,
		Retry:     DefaultRetryPolicy(),
		MaxLength: MaxMessageLength,
	}
}

// Option configures a Sender.
type Option func(*Sender)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Sender) { s.log = logging.OrNop(l) }
}

// WithMetrics sets the collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sender) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithSleep replaces the retry sleep, mainly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Sender) {
		if fn != nil {
			s.sleep = fn
		}
	}
}

// Sender is safe for concurrent use.
type Sender struct {
	api       API
	permits   *semaphore.Weighted
	limiter   *rate.Limiter
	retry     RetryPolicy
	maxLength int
	sleep     func(ctx context.Context, d time.Duration) error
	log       *zap.Logger
	metrics   *metrics.Metrics

	mu      sync.Mutex
	pending map[int64][]string
}

// NewSender creates a Sender over api.
func NewSender(api API, cfg Config, opts ...Option) *Sender {
	def := DefaultConfig()
	if cfg.Permits <= 0 {
		cfg.Permits = def.Permits
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = def.Retry.MaxAttempts
	}
	if cfg.Retry.BaseDelay <= 0 {
		cfg.Retry.BaseDelay = def.Retry.BaseDelay
	}
	if cfg.Retry.Factor < 1 {
		cfg.Retry.Factor = def.Retry.Factor
	}
	if cfg.MaxLength <= 0 || cfg.MaxLength > MaxMessageLength {
		cfg.MaxLength = MaxMessageLength
	}

	s := &Sender{
		api:       api,
		permits:   semaphore.NewWeighted(int64(cfg.Permits)),
		retry:     cfg.Retry,
		maxLength: cfg.MaxLength,
		sleep:     sleepContext,
		log:       zap.NewNop(),
		metrics:   metrics.New(nil),
		pending:   make(map[int64][]string),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send delivers text to chatID and returns the id of the message carrying
// the keyboard, or of the last chunk when there is none.
// With opts.Pending the text is queued and 0 is returned.
func (s *Sender) Send(ctx context.Context, chatID int64, text string, opts SendOptions) (int64, error) {
	if opts.Pending {
		s.addPending(chatID, text)
		return 0, nil
	}
	text = s.takePending(chatID, text)
	if text == "" {
		return 0, nil
	}

	chunks := Split(text, s.maxLength)
	if len(chunks) > 1 {
		s.metrics.OutboundChunks.Add(float64(len(chunks) - 1))
	}
	keyboardAt := len(chunks) - 1
	if opts.KeyboardOn == KeyboardOnFirst {
		keyboardAt = 0
	}

	var id int64
	for i, chunk := range chunks {
		req := telegram.SendMessageRequest{
			ChatID:                chatID,
			Text:                  chunk,
			ParseMode:             opts.ParseMode,
			DisableWebPagePreview: opts.DisablePreview,
			DisableNotification:   opts.Silent,
		}
		if opts.Markdown {
			req.Text = telegram.MarkdownToHTML(chunk)
			req.ParseMode = telegram.ParseModeHTML
		}
		if i == keyboardAt && opts.Keyboard != nil {
			if markup := opts.Keyboard.Markup(); markup != nil {
				req.ReplyMarkup = markup
			}
		}

		var sent *telegram.Message
		err := s.do(ctx, "sendMessage", func(ctx context.Context) error {
			m, err := s.api.SendMessage(ctx, req)
			sent = m
			return err
		})
		if err != nil {
			return id, fmt.Errorf("send chunk %d/%d to %d: %w", i+1, len(chunks), chatID, err)
		}
		if i == keyboardAt && sent != nil {
			id = sent.MessageID
		}
	}
	return id, nil
}

// Reply sends plain text; it is the shortcut used for routing notices.
func (s *Sender) Reply(ctx context.Context, chatID int64, text string) error {
	_, err := s.Send(ctx, chatID, text, SendOptions{})
	return err
}

// Edit replaces the text of messageID. Pending fragments are merged in, and a
// text longer than the ceiling is sent as a new message instead.
func (s *Sender) Edit(ctx context.Context, chatID, messageID int64, text string, kb *InlineKeyboard) (int64, error) {
	text = s.takePending(chatID, text)
	if text == "" {
		return messageID, nil
	}
	if utf8.RuneCountInString(text) > s.maxLength {
		opts := SendOptions{}
		if kb != nil {
			opts.Keyboard = kb
		}
		return s.Send(ctx, chatID, text, opts)
	}

	req := telegram.EditMessageTextRequest{ChatID: chatID, MessageID: messageID, Text: text}
	if kb != nil {
		req.ReplyMarkup = kb.markup()
	}
	err := s.do(ctx, "editMessageText", func(ctx context.Context) error {
		_, err := s.api.EditMessageText(ctx, req)
		return err
	})
	if err != nil && !telegram.IsNotModified(err) {
		return messageID, fmt.Errorf("edit %d in %d: %w", messageID, chatID, err)
	}
	return messageID, nil
}

// AnswerCallback acknowledges a callback query.
func (s *Sender) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if callbackID == "" {
		return nil
	}
	return s.do(ctx, "answerCallbackQuery", func(ctx context.Context) error {
		return s.api.AnswerCallbackQuery(ctx, callbackID, text)
	})
}

// Delete removes a message.
func (s *Sender) Delete(ctx context.Context, chatID, messageID int64) error {
	return s.do(ctx, "deleteMessage", func(ctx context.Context) error {
		return s.api.DeleteMessage(ctx, chatID, messageID)
	})
}

// FlushPending sends whatever is queued for chatID.
func (s *Sender) FlushPending(ctx context.Context, chatID int64) (int64, error) {
	return s.Send(ctx, chatID, "", SendOptions{})
}

// PendingLen returns the number of queued fragments for chatID.
func (s *Sender) PendingLen(chatID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending[chatID])
}

func (s *Sender) addPending(chatID int64, text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	s.pending[chatID] = append(s.pending[chatID], text)
	s.mu.Unlock()
}

// takePending prepends and clears the queued fragments for chatID.
func (s *Sender) takePending(chatID int64, text string) string {
	s.mu.Lock()
	rows := s.pending[chatID]
	delete(s.pending, chatID)
	s.mu.Unlock()

	if len(rows) == 0 {
		return text
	}
	if text != "" {
		rows = append(rows, text)
	}
	return strings.Join(rows, "\n\n")
}
