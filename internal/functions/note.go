package functions

import (
	"context"
	"fmt"
	"strings"

	"github.com/Bagheerabaloo/jarvis/internal/conversation"
	"github.com/Bagheerabaloo/jarvis/internal/function"
	"github.com/Bagheerabaloo/jarvis/internal/outbound"
)

// Settings keys used by the notebook.
const (
	keyDraft = "draft"
	keyNotes = "notes"
)

// Notebook buttons.
const (
	BtnSave    = "Save"
	BtnEdit    = "Edit"
	BtnDiscard = "Discard"
	BtnNew     = "New note"
	BtnList    = "List"
	BtnDone    = "Done"
)

func draftKeyboard() *outbound.InlineKeyboard {
	return outbound.NewInlineKeyboard([]string{BtnSave, BtnEdit, BtnDiscard})
}

func menuKeyboard() *outbound.InlineKeyboard {
	return outbound.NewInlineKeyboard([]string{BtnNew, BtnList, BtnDone})
}

// Note is a notebook kept in the conversation's settings. It survives
// restarts with the conversation, drafts included.
//
//	1 ask title        2 ask body          3 preview with Save/Edit/Discard
//	4 handle preview   5 menu: New note/List/Done
var Note = function.Define(NameNote,
	func(ctx context.Context, f *function.Function) error {
		if _, err := f.Ask(ctx, "Title of the new note?"); err != nil {
			return err
		}
		f.Next()
		return nil
	},
	func(ctx context.Context, f *function.Function) error {
		title := strings.TrimSpace(f.Text())
		if title == "" {
			_, err := f.Ask(ctx, "The title cannot be empty")
			f.Same()
			return err
		}
		f.Settings().Set(keyDraft, conversation.Note{Title: title})
		if _, err := f.Ask(ctx, "Text of the note?"); err != nil {
			return err
		}
		f.Next()
		return nil
	},
	func(ctx context.Context, f *function.Function) error {
		draft, _ := conversation.Get[conversation.Note](f.Settings(), keyDraft)
		draft.Body = f.Text()
		f.Settings().Set(keyDraft, draft)

		text := preview(draft)
		if f.IsBack(1) {
			text = "Updated.\n\n" + text
		}
		if _, err := f.SendInline(ctx, text, draftKeyboard()); err != nil {
			return err
		}
		f.Next()
		return nil
	},
	func(ctx context.Context, f *function.Function) error {
		draft, _ := conversation.Get[conversation.Note](f.Settings(), keyDraft)
		switch f.Text() {
		case BtnSave:
			notes, _ := conversation.Get[[]conversation.Note](f.Settings(), keyNotes)
			notes = append(notes, draft)
			f.Settings().Set(keyNotes, notes)
			delete(f.Settings(), keyDraft)
			if err := f.AnswerCallback(ctx, "Saved"); err != nil {
				return err
			}
			_, err := f.Edit(ctx, fmt.Sprintf("%s\n\nSaved. %s", preview(draft), count(len(notes))), menuKeyboard())
			f.Next()
			return err
		case BtnEdit:
			if err := f.AnswerCallback(ctx, ""); err != nil {
				return err
			}
			if _, err := f.Edit(ctx, preview(draft), nil); err != nil {
				return err
			}
			_, err := f.Ask(ctx, "Send the new text")
			f.Back()
			return err
		case BtnDiscard:
			delete(f.Settings(), keyDraft)
			if err := f.AnswerCallback(ctx, "Discarded"); err != nil {
				return err
			}
			notes, _ := conversation.Get[[]conversation.Note](f.Settings(), keyNotes)
			_, err := f.Edit(ctx, "Note discarded. "+count(len(notes)), menuKeyboard())
			f.Next()
			return err
		default:
			f.Same()
			return f.AnswerCallback(ctx, "Unknown choice")
		}
	},
	func(ctx context.Context, f *function.Function) error {
		notes, _ := conversation.Get[[]conversation.Note](f.Settings(), keyNotes)
		switch f.Text() {
		case BtnNew:
			if err := f.AnswerCallback(ctx, ""); err != nil {
				return err
			}
			if _, err := f.Edit(ctx, count(len(notes)), nil); err != nil {
				return err
			}
			_, err := f.Ask(ctx, "Title of the new note?")
			f.BackN(3)
			return err
		case BtnList:
			f.Same()
			if err := f.AnswerCallback(ctx, ""); err != nil {
				return err
			}
			_, err := f.Edit(ctx, list(notes), menuKeyboard())
			return err
		case BtnDone:
			f.Close()
			if err := f.AnswerCallback(ctx, ""); err != nil {
				return err
			}
			_, err := f.Edit(ctx, "Notebook closed. "+count(len(notes)), nil)
			return err
		default:
			f.Same()
			return f.AnswerCallback(ctx, "Unknown choice")
		}
	},
)

func preview(n conversation.Note) string {
	return n.Title + "\n" + n.Body
}

func count(n int) string {
	if n == 1 {
		return "1 note in the notebook."
	}
	return fmt.Sprintf("%d notes in the notebook.", n)
}

func list(notes []conversation.Note) string {
	if len(notes) == 0 {
		return "The notebook is empty."
	}
	var b strings.Builder
	for i, n := range notes {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s", i+1, n.Title)
	}
	return b.String()
}
