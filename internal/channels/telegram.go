package channels

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Bagheerabaloo/jarvis/internal/bus"
	"github.com/Bagheerabaloo/jarvis/internal/logging"
	"github.com/Bagheerabaloo/jarvis/internal/metrics"
	"github.com/Bagheerabaloo/jarvis/internal/telegram"
)

// Updates is the long-poll half of the Bot API.
type Updates interface {
	GetUpdates(ctx context.Context, offset int64, timeout int) ([]telegram.Update, error)
}

// PollerConfig tunes the ingestion loop.
type PollerConfig struct {
	// Timeout is the getUpdates long-poll timeout in seconds.
	Timeout      int
	PollInterval time.Duration
	ErrorBackoff time.Duration
	// FinalPollTimeout bounds the poll that confirms the last offset on stop.
	FinalPollTimeout time.Duration
	AllowFrom        AllowList
}

// DefaultPollerConfig returns the defaults used by serve.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Timeout:          30,
		PollInterval:     time.Second,
		ErrorBackoff:     5 * time.Second,
		FinalPollTimeout: 5 * time.Second,
	}
}

// PollerOption configures a TelegramPoller.
type PollerOption func(*TelegramPoller)

// WithLogger sets the poller's logger.
func WithLogger(l *zap.Logger) PollerOption {
	return func(p *TelegramPoller) { p.log = logging.OrNop(l) }
}

// WithMetrics sets the poller's collectors.
func WithMetrics(m *metrics.Metrics) PollerOption {
	return func(p *TelegramPoller) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithSleep replaces the context-aware sleep between polls.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) PollerOption {
	return func(p *TelegramPoller) {
		if fn != nil {
			p.sleep = fn
		}
	}
}

// TelegramPoller is the ingestion loop. It owns the update offset; nothing
// else reads or writes it while Run is active.
type TelegramPoller struct {
	api     Updates
	queue   Publisher
	replier Replier
	cfg     PollerConfig
	log     *zap.Logger
	metrics *metrics.Metrics
	sleep   func(ctx context.Context, d time.Duration) error

	offset  atomic.Int64
	stopped atomic.Bool
}

var _ Loop = (*TelegramPoller)(nil)

// NewTelegramPoller creates the ingestion loop.
func NewTelegramPoller(api Updates, queue Publisher, replier Replier, cfg PollerConfig, opts ...PollerOption) *TelegramPoller {
	def := DefaultPollerConfig()
	if cfg.Timeout < 0 {
		cfg.Timeout = 0
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = def.ErrorBackoff
	}
	if cfg.FinalPollTimeout <= 0 {
		cfg.FinalPollTimeout = def.FinalPollTimeout
	}
	p := &TelegramPoller{
		api:     api,
		queue:   queue,
		replier: replier,
		cfg:     cfg,
		log:     zap.NewNop(),
		metrics: metrics.New(nil),
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *TelegramPoller) Name() string { return "telegram" }

// Offset returns the offset the next getUpdates call will use.
func (p *TelegramPoller) Offset() int64 { return p.offset.Load() }

// SetOffset seeds the offset before Run.
func (p *TelegramPoller) SetOffset(offset int64) { p.offset.Store(offset) }

// Stop sets the stop flag. Run returns after its current poll and one
// final poll that confirms the consumed updates.
func (p *TelegramPoller) Stop() { p.stopped.Store(true) }

// Run polls until stopped or ctx is cancelled.
func (p *TelegramPoller) Run(ctx context.Context) error {
	p.log.Info("ingestion loop started", zap.Int64("offset", p.Offset()))
	defer p.finalPoll(ctx)

	for !p.stopped.Load() {
		if ctx.Err() != nil {
			return nil
		}

		updates, err := p.api.GetUpdates(ctx, p.Offset(), p.cfg.Timeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.metrics.PollErrors.Inc()
			p.log.Warn("getUpdates failed", zap.Error(err), zap.Duration("backoff", p.cfg.ErrorBackoff))
			_ = p.sleep(ctx, p.cfg.ErrorBackoff)
			continue
		}
		if len(updates) == 0 {
			_ = p.sleep(ctx, p.cfg.PollInterval)
			continue
		}

		for _, u := range updates {
			p.metrics.UpdatesReceived.Inc()
			if err := p.handle(ctx, u); err != nil {
				// Not confirmed: the update is delivered again on the next run.
				p.log.Warn("update not queued", zap.Int64("update_id", u.UpdateID), zap.Error(err))
				return nil
			}
			p.offset.Store(u.UpdateID + 1)
		}
	}
	return nil
}

func (p *TelegramPoller) handle(ctx context.Context, u telegram.Update) error {
	msg, ok := Decode(u)
	if !ok {
		p.log.Debug("skipping update without text", zap.Int64("update_id", u.UpdateID))
		return nil
	}
	if !p.cfg.AllowFrom.IsAllowed(msg.SenderID, msg.SenderUsername) {
		p.log.Info("sender not allowed",
			zap.Int64("sender_id", msg.SenderID), zap.Int64("chat_id", msg.ChatID))
		return nil
	}

	if msg.Kind != bus.KindCallback && IsHealthCheck(msg.RawText) {
		p.metrics.HealthReplies.Inc()
		if err := p.replier.Reply(ctx, msg.ChatID, HealthReply); err != nil {
			p.log.Warn("health reply failed", zap.Int64("chat_id", msg.ChatID), zap.Error(err))
		}
		return nil
	}

	if err := p.queue.Publish(ctx, msg); err != nil {
		return err
	}
	p.log.Debug("queued",
		zap.String("trace_id", msg.TraceID),
		zap.Stringer("kind", msg.Kind),
		zap.Int64("chat_id", msg.ChatID),
		zap.Int64("update_id", msg.UpdateID))
	return nil
}

// finalPoll confirms the last offset so the next run does not replay
// consumed updates. Its results are discarded.
func (p *TelegramPoller) finalPoll(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.FinalPollTimeout)
	defer cancel()
	if _, err := p.api.GetUpdates(ctx, p.Offset(), 0); err != nil {
		p.log.Warn("final getUpdates failed", zap.Int64("offset", p.Offset()), zap.Error(err))
		return
	}
	p.log.Info("ingestion loop stopped", zap.Int64("offset", p.Offset()))
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

// ErrNoToken is returned when the bot token is missing.
var ErrNoToken = errors.New("telegram bot token not configured")
