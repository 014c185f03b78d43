// Package channels runs the ingestion loop: it long-polls the Bot API and
// publishes decoded updates to the dispatcher's queue.
package channels

import (
	"context"
	"strconv"
	"strings"

	"github.com/Bagheerabaloo/jarvis/internal/bus"
)

// Loop is a long-running worker started and stopped by the lifecycle manager.
type Loop interface {
	// Name returns the loop identifier used in logs.
	Name() string

	// Run blocks until the loop stops or ctx is cancelled.
	Run(ctx context.Context) error

	// Stop asks the loop to finish its current iteration and return.
	Stop()
}

// Publisher accepts decoded messages.
type Publisher interface {
	Publish(ctx context.Context, msg bus.Message) error
}

// Replier sends a plain text reply outside of any conversation.
type Replier interface {
	Reply(ctx context.Context, chatID int64, text string) error
}

// AllowList restricts which senders reach the dispatcher. Entries are user
// ids or usernames, with or without the leading @. An empty list allows everyone.
type AllowList []string

// IsAllowed checks if a sender is permitted to interact with the bot.
func (a AllowList) IsAllowed(senderID int64, username string) bool {
	if len(a) == 0 {
		return true
	}
	id := strconv.FormatInt(senderID, 10)
	username = strings.TrimPrefix(username, "@")
	for _, allowed := range a {
		allowed = strings.TrimSpace(allowed)
		if allowed == id {
			return true
		}
		if username != "" && strings.EqualFold(strings.TrimPrefix(allowed, "@"), username) {
			return true
		}
	}
	return false
}

var healthTexts = []string{"TEST_TELEGRAM", "TEST TELEGRAM", "TESTTELEGRAM"}

// HealthReply is the answer to a health-check text.
const HealthReply = "TELEGRAM IS WORKING"

// IsHealthCheck reports whether text is one of the health-check probes.
func IsHealthCheck(text string) bool {
	text = strings.TrimPrefix(strings.TrimSpace(text), "/")
	for _, h := range healthTexts {
		if strings.EqualFold(text, h) {
			return true
		}
	}
	return false
}
