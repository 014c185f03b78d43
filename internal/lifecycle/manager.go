// Package lifecycle starts and stops the two loops and keeps the store in
// step with the conversations they run.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Bagheerabaloo/jarvis/internal/conversation"
	"github.com/Bagheerabaloo/jarvis/internal/dispatch"
	"github.com/Bagheerabaloo/jarvis/internal/logging"
	"github.com/Bagheerabaloo/jarvis/internal/metrics"
	"github.com/Bagheerabaloo/jarvis/internal/store"
)

var (
	// ErrStopped is returned by Stop once the manager has already stopped.
	ErrStopped = errors.New("lifecycle: already stopped")
	// ErrFlushIncomplete is returned when at least one conversation failed to persist.
	ErrFlushIncomplete = errors.New("lifecycle: flush incomplete")
)

// Manager states.
const (
	StateIdle     = "idle"
	StateStarting = "starting"
	StateRunning  = "running"
	StateStopping = "stopping"
	StateStopped  = "stopped"
)

// Loop is a long-running scheduler.
type Loop interface {
	Name() string
	Run(ctx context.Context) error
	Stop()
}

// DispatchLoop is the loop that owns chat state.
type DispatchLoop interface {
	Loop
	SeedLastUpdateID(id int64)
}

// PendingFlusher delivers text still queued for coalescing.
type PendingFlusher interface {
	PendingLen(chatID int64) int
	FlushPending(ctx context.Context, chatID int64) (int64, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.log = logging.OrNop(l) }
}

// WithMetrics sets the manager's collectors.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		if mt != nil {
			m.metrics = mt
		}
	}
}

// WithClock replaces time.Now for garbage collection.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithGCPolicy replaces DefaultGCPolicy.
func WithGCPolicy(p GCPolicy) Option {
	return func(m *Manager) { m.gc = p }
}

// WithPendingFlusher delivers leftover pending text on Stop.
func WithPendingFlusher(p PendingFlusher) Option {
	return func(m *Manager) { m.pending = p }
}

// Manager runs startup and shutdown.
type Manager struct {
	store    store.Store
	dir      *conversation.Directory
	ingest   Loop
	dispatch DispatchLoop
	pending  PendingFlusher

	gc      GCPolicy
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	state   *fsm.FSM

	// known holds the keys this process hydrated or wrote.
	known map[conversation.Key]bool

	cancel  context.CancelFunc
	ended   chan struct{}
	endOnce sync.Once
	done    chan struct{}
	runErr  error
}

// New creates a manager. The dispatch loop must be built on dir.
func New(s store.Store, dir *conversation.Directory, ingest Loop, dispatch DispatchLoop, opts ...Option) *Manager {
	m := &Manager{
		store:    s,
		dir:      dir,
		ingest:   ingest,
		dispatch: dispatch,
		gc:       DefaultGCPolicy(),
		log:      zap.NewNop(),
		metrics:  metrics.New(nil),
		now:      time.Now,
		known:    make(map[conversation.Key]bool),
		ended:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.state = fsm.NewFSM(StateIdle,
		fsm.Events{
			{Name: "start", Src: []string{StateIdle}, Dst: StateStarting},
			{Name: "started", Src: []string{StateStarting}, Dst: StateRunning},
			{Name: "stop", Src: []string{StateRunning}, Dst: StateStopping},
			{Name: "stopped", Src: []string{StateStarting, StateStopping}, Dst: StateStopped},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				m.log.Debug("lifecycle", zap.String("from", e.Src), zap.String("to", e.Dst))
			},
		},
	)
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() string { return m.state.Current() }

// Start collects garbage, hydrates the directory and launches both loops.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.state.Event(ctx, "start"); err != nil {
		return fmt.Errorf("lifecycle start: %w", err)
	}

	report, err := CollectGarbage(ctx, m.store, m.now(), m.gc, false, m.log)
	if err != nil {
		m.log.Warn("garbage collection failed", zap.Error(err))
	}
	m.metrics.GCDeleted.Add(float64(report.Deleted))
	if err := m.Hydrate(ctx); err != nil {
		_ = m.state.Event(ctx, "stopped")
		return fmt.Errorf("hydrate: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	g, gctx := errgroup.WithContext(runCtx)
	for _, loop := range []Loop{m.ingest, m.dispatch} {
		loop := loop
		g.Go(func() error { return m.run(gctx, loop) })
	}
	go func() {
		m.runErr = g.Wait()
		close(m.done)
	}()

	if err := m.state.Event(ctx, "started"); err != nil {
		return fmt.Errorf("lifecycle start: %w", err)
	}
	m.log.Info("started",
		zap.Int("actors", len(m.dir.Actors())),
		zap.Int("chats", len(m.dir.Chats())),
		zap.Int("conversations", m.dir.ActiveCount()))
	return nil
}

func (m *Manager) run(ctx context.Context, loop Loop) error {
	err := loop.Run(ctx)
	if errors.Is(err, dispatch.ErrEnd) {
		m.endOnce.Do(func() { close(m.ended) })
		return nil
	}
	if err != nil {
		m.log.Error("loop failed", zap.String("loop", loop.Name()), zap.Error(err))
		return fmt.Errorf("%s: %w", loop.Name(), err)
	}
	return nil
}

// Wait blocks until the dispatch loop received the end command, a loop
// failed, or ctx is done. The caller is expected to call Stop afterwards.
func (m *Manager) Wait(ctx context.Context) error {
	select {
	case <-m.ended:
		return nil
	case <-m.done:
		return m.runErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops both loops, waits for them, flushes conversations and closes the store.
func (m *Manager) Stop(ctx context.Context) error {
	if m.state.Is(StateStopped) {
		return ErrStopped
	}
	if err := m.state.Event(ctx, "stop"); err != nil {
		return fmt.Errorf("lifecycle stop: %w", err)
	}

	m.ingest.Stop()
	m.dispatch.Stop()
	m.cancel()

	var errs []error
	select {
	case <-m.done:
		if m.runErr != nil {
			errs = append(errs, m.runErr)
		}
		m.flushOutbound(ctx)
		if !m.Flush(ctx) {
			errs = append(errs, ErrFlushIncomplete)
		}
	case <-ctx.Done():
		// the dispatch loop may still be touching chat state
		m.log.Error("loops did not stop, skipping flush", zap.Error(ctx.Err()))
		errs = append(errs, fmt.Errorf("waiting for loops: %w", ctx.Err()), ErrFlushIncomplete)
	}
	if err := m.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	if err := m.state.Event(ctx, "stopped"); err != nil {
		errs = append(errs, err)
	}
	m.log.Info("stopped")
	return errors.Join(errs...)
}

// Hydrate loads actors, chats and their stored conversations into the directory.
func (m *Manager) Hydrate(ctx context.Context) error {
	actors, err := m.store.ListActors(ctx)
	if err != nil {
		return fmt.Errorf("list actors: %w", err)
	}
	for _, a := range actors {
		m.dir.PutActor(a)
	}
	chats, err := m.store.ListChats(ctx)
	if err != nil {
		return fmt.Errorf("list chats: %w", err)
	}
	for _, c := range chats {
		m.dir.PutChat(c)
	}

	keys, err := m.store.GetConversationKeys(ctx)
	if err != nil {
		return fmt.Errorf("conversation keys: %w", err)
	}
	for _, k := range keys {
		if _, ok := m.dir.Chat(k.ChatID); !ok {
			m.log.Warn("conversation for unknown chat", zap.Stringer("key", k))
			m.dir.PutChat(conversation.NewChat(k.ChatID, conversation.ChatPrivate))
		}
	}

	var newest int64
	for _, chat := range m.dir.Chats() {
		convs, err := m.store.GetConversations(ctx, chat.ID)
		if err != nil {
			return fmt.Errorf("conversations of chat %d: %w", chat.ID, err)
		}
		for _, conv := range convs {
			m.known[conv.Key()] = true
			if err := conv.Validate(); err != nil {
				m.log.Warn("skipping stored conversation", zap.Stringer("key", conv.Key()), zap.Error(err))
				continue
			}
			if !chat.Attach(conv) {
				m.log.Warn("duplicate stored conversation", zap.Stringer("key", conv.Key()))
				continue
			}
			if conv.UpdateID > newest {
				newest = conv.UpdateID
			}
		}
	}
	m.dispatch.SeedLastUpdateID(newest)
	m.metrics.ActiveConversations.Set(float64(m.dir.ActiveCount()))
	return nil
}

// Flush upserts every active conversation and deletes the stored ones this
// process knew about that are no longer active. It reports whether every
// write succeeded. It must not run concurrently with the dispatch loop.
func (m *Manager) Flush(ctx context.Context) bool {
	stored := make(map[conversation.Key]bool)
	keys, err := m.store.GetConversationKeys(ctx)
	if err != nil {
		m.log.Warn("listing stored keys failed, assuming known keys", zap.Error(err))
		for k := range m.known {
			stored[k] = true
		}
	} else {
		for _, k := range keys {
			stored[k] = true
		}
	}

	ok := true
	active := make(map[conversation.Key]bool)
	for _, conv := range m.dir.Conversations() {
		key := conv.Key()
		active[key] = true
		if err := m.upsert(ctx, conv, stored[key]); err != nil {
			m.log.Error("persist conversation failed", zap.Stringer("key", key), zap.Error(err))
			m.metrics.FlushFailures.Inc()
			ok = false
			continue
		}
		m.known[key] = true
	}

	var retired []conversation.Key
	for k := range m.known {
		if !active[k] && stored[k] {
			retired = append(retired, k)
		}
	}
	if len(retired) > 0 {
		n, err := m.store.DeleteConversations(ctx, retired)
		if err != nil {
			m.log.Error("delete finished conversations failed", zap.Error(err))
			ok = false
		} else {
			m.log.Debug("deleted finished conversations", zap.Int("deleted", n))
			for _, k := range retired {
				delete(m.known, k)
			}
		}
	}
	m.log.Info("flushed", zap.Int("active", len(active)), zap.Int("retired", len(retired)), zap.Bool("ok", ok))
	return ok
}

// Checkpoint is Flush as an error, for the dispatch loop's periodic hook.
func (m *Manager) Checkpoint(ctx context.Context) error {
	if !m.Flush(ctx) {
		return ErrFlushIncomplete
	}
	return nil
}

func (m *Manager) upsert(ctx context.Context, conv *conversation.Conversation, exists bool) error {
	if exists {
		err := m.store.UpdateConversation(ctx, conv)
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	err := m.store.InsertConversation(ctx, conv)
	if errors.Is(err, store.ErrDuplicate) {
		return m.store.UpdateConversation(ctx, conv)
	}
	return err
}

func (m *Manager) flushOutbound(ctx context.Context) {
	if m.pending == nil {
		return
	}
	for _, chat := range m.dir.Chats() {
		if m.pending.PendingLen(chat.ID) == 0 {
			continue
		}
		if _, err := m.pending.FlushPending(ctx, chat.ID); err != nil {
			m.log.Warn("flush pending messages failed", zap.Int64("chat_id", chat.ID), zap.Error(err))
		}
	}
}
