package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/Bagheerabaloo/jarvis/internal/conversation"
	"github.com/Bagheerabaloo/jarvis/internal/store"
)

// GCPolicy decides which stored conversations are pruned at startup.
type GCPolicy struct {
	// MinAge is the age past which a conversation becomes a candidate.
	MinAge time.Duration
	// MaxAge is the age past which a conversation is left alone again.
	MaxAge time.Duration
	// KeepLatest conversations, by creation time across all chats, are never pruned.
	KeepLatest int
}

// DefaultGCPolicy returns the one hour / one week / ten latest policy.
func DefaultGCPolicy() GCPolicy {
	return GCPolicy{MinAge: time.Hour, MaxAge: 7 * 24 * time.Hour, KeepLatest: 10}
}

// SelectGarbage returns the keys older than MinAge that are neither among
// the KeepLatest newest nor older than MaxAge. Conversations older than
// MaxAge are kept.
func SelectGarbage(headers []store.Header, now time.Time, p GCPolicy) []conversation.Key {
	sorted := append([]store.Header(nil), headers...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.After(sorted[j].CreatedAt) })

	latest := make(map[conversation.Key]bool, p.KeepLatest)
	for i := 0; i < len(sorted) && i < p.KeepLatest; i++ {
		latest[sorted[i].Key] = true
	}

	var out []conversation.Key
	for _, h := range headers {
		age := now.Sub(h.CreatedAt)
		if age <= p.MinAge || latest[h.Key] || age > p.MaxAge {
			continue
		}
		out = append(out, h.Key)
	}
	return out
}

// GCReport describes one collection.
type GCReport struct {
	Scanned  int
	Selected []conversation.Key
	Deleted  int
}

// CollectGarbage applies p to the conversations in s. With dryRun set it
// only reports what would be deleted.
func CollectGarbage(ctx context.Context, s store.ConversationStore, now time.Time, p GCPolicy,
	dryRun bool, log *zap.Logger) (GCReport, error) {
	headers, err := s.ListConversationHeaders(ctx)
	if err != nil {
		return GCReport{}, fmt.Errorf("list conversation headers: %w", err)
	}
	report := GCReport{Scanned: len(headers), Selected: SelectGarbage(headers, now, p)}
	if dryRun || len(report.Selected) == 0 {
		return report, nil
	}
	report.Deleted, err = s.DeleteConversations(ctx, report.Selected)
	if err != nil {
		return report, fmt.Errorf("delete conversations: %w", err)
	}
	if log != nil {
		log.Info("garbage collected",
			zap.Int("scanned", report.Scanned),
			zap.Int("deleted", report.Deleted))
	}
	return report, nil
}
