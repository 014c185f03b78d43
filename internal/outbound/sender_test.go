package outbound

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bagheerabaloo/jarvis/internal/metrics"
	"github.com/Bagheerabaloo/jarvis/internal/telegram"
)

// fakeAPI records calls and returns scripted errors in order.
type fakeAPI struct {
	mu      sync.Mutex
	sends   []telegram.SendMessageRequest
	edits   []telegram.EditMessageTextRequest
	answers []string
	deletes []int64
	errs    []error
	nextID  int64

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	delay       time.Duration
}

func (f *fakeAPI) nextErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func (f *fakeAPI) track() func() {
	n := f.inFlight.Add(1)
	for {
		max := f.maxInFlight.Load()
		if n <= max || f.maxInFlight.CompareAndSwap(max, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return func() { f.inFlight.Add(-1) }
}

func (f *fakeAPI) SendMessage(ctx context.Context, req telegram.SendMessageRequest) (*telegram.Message, error) {
	defer f.track()()
	if err := f.nextErr(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, req)
	f.nextID++
	return &telegram.Message{MessageID: 100 + f.nextID, Chat: telegram.Chat{ID: req.ChatID}, Text: req.Text}, nil
}

func (f *fakeAPI) EditMessageText(ctx context.Context, req telegram.EditMessageTextRequest) (*telegram.Message, error) {
	if err := f.nextErr(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, req)
	return &telegram.Message{MessageID: req.MessageID}, nil
}

func (f *fakeAPI) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	if err := f.nextErr(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, callbackID+":"+text)
	return nil
}

func (f *fakeAPI) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, messageID)
	return nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sleeps = append(r.sleeps, d)
	return ctx.Err()
}

func newTestSender(api *fakeAPI, cfg Config) (*Sender, *sleepRecorder, *metrics.Metrics) {
	rec := &sleepRecorder{}
	m := metrics.New(nil)
	return NewSender(api, cfg, WithSleep(rec.sleep), WithMetrics(m)), rec, m
}

func TestSend_Plain(t *testing.T) {
	api := &fakeAPI{}
	s, _, _ := newTestSender(api, DefaultConfig())

	id, err := s.Send(context.Background(), 42, "hello", SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(101), id)
	require.Len(t, api.sends, 1)
	assert.Equal(t, "hello", api.sends[0].Text)
	assert.Nil(t, api.sends[0].ReplyMarkup)
}

func TestSend_EmptyIsNoop(t *testing.T) {
	api := &fakeAPI{}
	s, _, _ := newTestSender(api, DefaultConfig())

	id, err := s.Send(context.Background(), 42, "", SendOptions{})
	require.NoError(t, err)
	assert.Zero(t, id)
	assert.Empty(t, api.sends)
}

func TestSend_PendingCoalescing(t *testing.T) {
	api := &fakeAPI{}
	s, _, _ := newTestSender(api, DefaultConfig())
	ctx := context.Background()

	id, err := s.Send(ctx, 42, "first", SendOptions{Pending: true})
	require.NoError(t, err)
	assert.Zero(t, id)
	_, _ = s.Send(ctx, 42, "second", SendOptions{Pending: true})
	_, _ = s.Send(ctx, 7, "other chat", SendOptions{Pending: true})
	assert.Equal(t, 2, s.PendingLen(42))
	assert.Empty(t, api.sends)

	_, err = s.Send(ctx, 42, "final", SendOptions{})
	require.NoError(t, err)
	require.Len(t, api.sends, 1)
	assert.Equal(t, "first\n\nsecond\n\nfinal", api.sends[0].Text)
	assert.Zero(t, s.PendingLen(42))
	assert.Equal(t, 1, s.PendingLen(7))

	_, err = s.FlushPending(ctx, 7)
	require.NoError(t, err)
	require.Len(t, api.sends, 2)
	assert.Equal(t, "other chat", api.sends[1].Text)
}

func TestSend_ChunksLongText(t *testing.T) {
	api := &fakeAPI{}
	s, _, m := newTestSender(api, DefaultConfig())

	text := strings.Repeat("a", 9000)
	kb := NewInlineKeyboard([]string{"ok"})
	id, err := s.Send(context.Background(), 1, text, SendOptions{Keyboard: kb})
	require.NoError(t, err)

	require.Len(t, api.sends, 3)
	var joined strings.Builder
	for i, req := range api.sends {
		assert.LessOrEqual(t, len([]rune(req.Text)), MaxMessageLength)
		joined.WriteString(req.Text)
		if i == 2 {
			assert.NotNil(t, req.ReplyMarkup)
		} else {
			assert.Nil(t, req.ReplyMarkup)
		}
	}
	assert.Equal(t, text, joined.String())
	assert.Equal(t, int64(103), id)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.OutboundChunks))
}

func TestSend_KeyboardOnFirstChunk(t *testing.T) {
	api := &fakeAPI{}
	s, _, _ := newTestSender(api, DefaultConfig())

	id, err := s.Send(context.Background(), 1, strings.Repeat("b", 5000), SendOptions{
		Keyboard:   NewReplyKeyboard([]string{"yes", "no"}),
		KeyboardOn: KeyboardOnFirst,
	})
	require.NoError(t, err)
	require.Len(t, api.sends, 2)
	assert.NotNil(t, api.sends[0].ReplyMarkup)
	assert.Nil(t, api.sends[1].ReplyMarkup)
	assert.Equal(t, int64(101), id)
}

func TestSend_NilKeyboardSendsNoMarkup(t *testing.T) {
	api := &fakeAPI{}
	s, _, _ := newTestSender(api, DefaultConfig())

	var reply *ReplyKeyboard
	var inline *InlineKeyboard
	for _, kb := range []Keyboard{reply, inline} {
		_, err := s.Send(context.Background(), 1, "hi", SendOptions{Keyboard: kb})
		require.NoError(t, err)
	}
	require.Len(t, api.sends, 2)
	assert.Nil(t, api.sends[0].ReplyMarkup)
	assert.Nil(t, api.sends[1].ReplyMarkup)
}

func TestSend_Markdown(t *testing.T) {
	api := &fakeAPI{}
	s, _, _ := newTestSender(api, DefaultConfig())

	_, err := s.Send(context.Background(), 1, "**hi**", SendOptions{Markdown: true})
	require.NoError(t, err)
	assert.Equal(t, "<b>hi</b>", api.sends[0].Text)
	assert.Equal(t, telegram.ParseModeHTML, api.sends[0].ParseMode)
}

func TestSend_RetryAfterIsNotCounted(t *testing.T) {
	rl := &telegram.APIError{Code: 429, RetryAfter: 2 * time.Second}
	api := &fakeAPI{errs: []error{rl, rl, rl}}
	cfg := DefaultConfig()
	cfg.Retry.MaxAttempts = 2
	s, rec, m := newTestSender(api, cfg)

	_, err := s.Send(context.Background(), 1, "x", SendOptions{})
	require.NoError(t, err)
	require.Len(t, rec.sleeps, 3)
	for _, d := range rec.sleeps {
		assert.Equal(t, 3*time.Second, d)
	}
	assert.Equal(t, float64(3), testutil.ToFloat64(m.OutboundRetries.WithLabelValues("retry_after")))
}

func TestSend_TransientRetriesWithBackoff(t *testing.T) {
	transient := &telegram.APIError{Code: 502}
	api := &fakeAPI{errs: []error{transient, transient}}
	s, rec, _ := newTestSender(api, DefaultConfig())

	_, err := s.Send(context.Background(), 1, "x", SendOptions{})
	require.NoError(t, err)
	require.Len(t, rec.sleeps, 2)
	assert.GreaterOrEqual(t, rec.sleeps[0], 1200*time.Millisecond)
	assert.Less(t, rec.sleeps[0], 2400*time.Millisecond)
	assert.GreaterOrEqual(t, rec.sleeps[1], 2040*time.Millisecond)
	assert.Len(t, api.sends, 1)
}

func TestSend_TransientGivesUp(t *testing.T) {
	transient := &telegram.APIError{Code: 500}
	api := &fakeAPI{errs: []error{transient, transient, transient, transient}}
	cfg := DefaultConfig()
	cfg.Retry.MaxAttempts = 3
	s, rec, _ := newTestSender(api, cfg)

	_, err := s.Send(context.Background(), 1, "x", SendOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "giving up after 3 attempts")
	assert.Len(t, rec.sleeps, 2)
	assert.Empty(t, api.sends)
}

func TestSend_PermanentFailsImmediately(t *testing.T) {
	forbidden := &telegram.APIError{Code: 403, Description: "Forbidden: bot was blocked by the user"}
	api := &fakeAPI{errs: []error{forbidden}}
	s, rec, _ := newTestSender(api, DefaultConfig())

	_, err := s.Send(context.Background(), 1, "x", SendOptions{})
	require.Error(t, err)
	var apiErr *telegram.APIError
	assert.True(t, errors.As(err, &apiErr))
	assert.Empty(t, rec.sleeps)
}

func TestSend_PermitsBoundConcurrency(t *testing.T) {
	api := &fakeAPI{delay: 20 * time.Millisecond}
	cfg := DefaultConfig()
	cfg.Permits = 2
	s, _, _ := newTestSender(api, cfg)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = s.Send(context.Background(), int64(i), "x", SendOptions{})
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, api.maxInFlight.Load(), int32(2))
	assert.Len(t, api.sends, 8)
}

func TestEdit(t *testing.T) {
	api := &fakeAPI{}
	s, _, _ := newTestSender(api, DefaultConfig())
	ctx := context.Background()

	_, _ = s.Send(ctx, 5, "note", SendOptions{Pending: true})
	id, err := s.Edit(ctx, 5, 77, "edited", NewInlineKeyboard([]string{"a"}))
	require.NoError(t, err)
	assert.Equal(t, int64(77), id)
	require.Len(t, api.edits, 1)
	assert.Equal(t, "note\n\nedited", api.edits[0].Text)
	assert.NotNil(t, api.edits[0].ReplyMarkup)
}

func TestEdit_NotModifiedIsSuccess(t *testing.T) {
	api := &fakeAPI{errs: []error{&telegram.APIError{Code: 400, Description: "Bad Request: message is not modified"}}}
	s, _, _ := newTestSender(api, DefaultConfig())

	_, err := s.Edit(context.Background(), 5, 77, "same", nil)
	assert.NoError(t, err)
}

func TestEdit_TooLongFallsBackToSend(t *testing.T) {
	api := &fakeAPI{}
	s, _, _ := newTestSender(api, DefaultConfig())

	id, err := s.Edit(context.Background(), 5, 77, strings.Repeat("c", 5000), nil)
	require.NoError(t, err)
	assert.Empty(t, api.edits)
	assert.Len(t, api.sends, 2)
	assert.Equal(t, int64(102), id)
}

func TestAnswerCallbackAndDelete(t *testing.T) {
	api := &fakeAPI{}
	s, _, _ := newTestSender(api, DefaultConfig())

	require.NoError(t, s.AnswerCallback(context.Background(), "cb1", "Function has expired"))
	require.NoError(t, s.AnswerCallback(context.Background(), "", "ignored"))
	require.NoError(t, s.Delete(context.Background(), 1, 9))
	assert.Equal(t, []string{"cb1:Function has expired"}, api.answers)
	assert.Equal(t, []int64{9}, api.deletes)
}
