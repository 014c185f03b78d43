package functions

import (
	"context"
	"fmt"
	"strings"

	"github.com/Bagheerabaloo/jarvis/internal/function"
	"github.com/Bagheerabaloo/jarvis/internal/registry"
)

// ExpiredText answers a button press whose conversation is gone.
const ExpiredText = "Function has expired"

// Ciao asks for "ciao" until it gets it.
var Ciao = function.Define(NameCiao,
	func(ctx context.Context, f *function.Function) error {
		if _, err := f.Ask(ctx, "scrivi ciao"); err != nil {
			return err
		}
		f.Next()
		return nil
	},
	func(ctx context.Context, f *function.Function) error {
		if f.Text() != "ciao" {
			_, err := f.Send(ctx, "Try again")
			return err
		}
		_, err := f.Send(ctx, "Bravo!")
		f.Close()
		return err
	},
)

// Expired acknowledges a stale callback and closes at once.
var Expired = function.Define(NameExpired,
	func(ctx context.Context, f *function.Function) error {
		f.Close()
		return f.AnswerCallback(ctx, ExpiredText)
	},
)

// Start welcomes a user who just got access.
var Start = function.Define(NameStart,
	func(ctx context.Context, f *function.Function) error {
		f.Close()
		text := "Welcome!"
		if app := f.Settings().String("app"); app != "" {
			text = fmt.Sprintf("Welcome to %s!", app)
		}
		_, err := f.Send(ctx, text+"\n\nWhat can I do with this app? /help")
		return err
	},
)

// Help lists the commands the caller may run.
func Help(reg *registry.Registry) function.Handler {
	return function.Define(NameHelp,
		func(ctx context.Context, f *function.Function) error {
			f.Close()
			var b strings.Builder
			b.WriteString("Here's a list of the main commands:")
			for _, cmd := range reg.List(f.IsAdmin()) {
				b.WriteString("\n/" + cmd.Aliases[0])
				if cmd.Description != "" {
					b.WriteString(" - " + cmd.Description)
				}
			}
			_, err := f.Send(ctx, b.String())
			return err
		},
	)
}
