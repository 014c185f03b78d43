package conversation

import (
	"encoding/json"
)

// Note is a short titled text kept in conversation settings.
type Note struct {
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Tags   []string `json:"tags,omitempty"`
	Pinned bool     `json:"pinned,omitempty"`
}

// Domain kinds shipped with the bot.
const (
	KindNote  = "note"
	KindNotes = "notes"
)

func init() {
	RegisterKind[Note](KindNote, looksLikeNote)
	RegisterKind[[]Note](KindNotes, looksLikeNotes)
}

var noteFields = map[string]bool{"title": true, "body": true, "tags": true, "pinned": true}

func looksLikeNote(raw json.RawMessage) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return false
	}
	if _, ok := fields["title"]; !ok {
		return false
	}
	if _, ok := fields["body"]; !ok {
		return false
	}
	for k := range fields {
		if !noteFields[k] {
			return false
		}
	}
	return true
}

func looksLikeNotes(raw json.RawMessage) bool {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil || len(items) == 0 {
		return false
	}
	for _, item := range items {
		if !looksLikeNote(item) {
			return false
		}
	}
	return true
}
