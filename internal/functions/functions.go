// Package functions holds the built-in conversations.
package functions

import (
	"github.com/Bagheerabaloo/jarvis/internal/registry"
)

// Built-in conversation names.
const (
	NameCiao    = "ciao"
	NameHelp    = "help"
	NameExpired = "expired"
	NameStart   = "start"
	NameNote    = "note"
)

// Register adds the built-in commands to reg.
func Register(reg *registry.Registry) error {
	cmds := []registry.Command{
		{Handler: Ciao, AdminRequired: true, Description: "say hi"},
		{Handler: Help(reg), Description: "list the commands you can use"},
		{Handler: Note, Aliases: []string{"note", "notes"}, Description: "write down a note"},
		{Handler: Start, Restricted: true},
		{Handler: Expired, Restricted: true},
	}
	for _, cmd := range cmds {
		if err := reg.Register(cmd); err != nil {
			return err
		}
	}
	return nil
}
