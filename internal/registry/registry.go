// Package registry binds command aliases to conversation handlers.
//
// Commands are registered in code at startup. An optional commands.yaml can
// override aliases, descriptions and the admin/restricted flags per command.
package registry

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Bagheerabaloo/jarvis/internal/function"
	"github.com/Bagheerabaloo/jarvis/internal/logging"
)

// ErrUnknownCommand is returned when a spec names a command that is not registered.
var ErrUnknownCommand = errors.New("unknown command")

// Command binds aliases to a handler.
type Command struct {
	Name          string
	Aliases       []string
	AdminRequired bool
	// Restricted commands are never matched by alias, only started by name.
	Restricted  bool
	Description string
	Handler     function.Handler
}

// Matches reports whether alias is one of the command's aliases, ignoring case.
func (c Command) Matches(alias string) bool {
	alias = strings.TrimSpace(alias)
	for _, a := range c.Aliases {
		if strings.EqualFold(a, alias) {
			return true
		}
	}
	return false
}

func (c Command) allowed(isAdmin bool) bool {
	return isAdmin || !c.AdminRequired
}

// CommandSpec is one entry of commands.yaml.
type CommandSpec struct {
	Name          string   `yaml:"name" json:"name"`
	Aliases       []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	AdminRequired *bool    `yaml:"admin_required,omitempty" json:"adminRequired,omitempty"`
	Restricted    *bool    `yaml:"restricted,omitempty" json:"restricted,omitempty"`
	Description   string   `yaml:"description,omitempty" json:"description,omitempty"`
}

type commandsFile struct {
	Commands []CommandSpec `yaml:"commands"`
}

// LoadCommandSpecs reads commands.yaml. A missing file yields no specs.
func LoadCommandSpecs(path string) ([]CommandSpec, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read commands file: %w", err)
	}
	var f commandsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse commands file: %w", err)
	}
	return f.Commands, nil
}

// Registry holds the registered commands.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]*Command
	order    []string
	log      *zap.Logger
}

// New creates an empty registry.
func New(log *zap.Logger) *Registry {
	return &Registry{
		commands: make(map[string]*Command),
		log:      logging.OrNop(log),
	}
}

// Register adds a command. The name defaults to the handler's name and the
// aliases default to the name.
func (r *Registry) Register(cmd Command) error {
	if cmd.Handler == nil {
		return fmt.Errorf("register command %q: nil handler", cmd.Name)
	}
	if cmd.Name == "" {
		cmd.Name = cmd.Handler.Name()
	}
	if len(cmd.Aliases) == 0 {
		cmd.Aliases = []string{cmd.Name}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.ToLower(cmd.Name)
	if _, exists := r.commands[key]; exists {
		return fmt.Errorf("register command %q: already registered", cmd.Name)
	}
	r.commands[key] = &cmd
	r.order = append(r.order, key)

	r.log.Debug("registered command",
		zap.String("name", cmd.Name),
		zap.Strings("aliases", cmd.Aliases),
		zap.Bool("admin_required", cmd.AdminRequired),
		zap.Bool("restricted", cmd.Restricted))
	return nil
}

// MustRegister is Register that panics, for startup wiring.
func (r *Registry) MustRegister(cmds ...Command) {
	for _, cmd := range cmds {
		if err := r.Register(cmd); err != nil {
			panic(err)
		}
	}
}

// Apply overrides registered commands with specs.
func (r *Registry) Apply(specs []CommandSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, spec := range specs {
		cmd, ok := r.commands[strings.ToLower(spec.Name)]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownCommand, spec.Name)
		}
		if len(spec.Aliases) > 0 {
			cmd.Aliases = append([]string(nil), spec.Aliases...)
		}
		if spec.AdminRequired != nil {
			cmd.AdminRequired = *spec.AdminRequired
		}
		if spec.Restricted != nil {
			cmd.Restricted = *spec.Restricted
		}
		if spec.Description != "" {
			cmd.Description = spec.Description
		}
	}
	return nil
}

// Match returns the unrestricted commands with the given alias that the
// caller may run.
func (r *Registry) Match(alias string, isAdmin bool) []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Command
	for _, key := range r.order {
		cmd := r.commands[key]
		if cmd.Restricted || !cmd.allowed(isAdmin) {
			continue
		}
		if cmd.Matches(alias) {
			out = append(out, *cmd)
		}
	}
	return out
}

// ByName returns the command with the given name, restricted ones included.
func (r *Registry) ByName(name string, isAdmin bool) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[strings.ToLower(name)]
	if !ok || !cmd.allowed(isAdmin) {
		return Command{}, false
	}
	return *cmd, true
}

// List returns the unrestricted commands the caller may run, sorted by name.
func (r *Registry) List(isAdmin bool) []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Command
	for _, cmd := range r.commands {
		if !cmd.Restricted && cmd.allowed(isAdmin) {
			out = append(out, *cmd)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered commands.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// Specs describes every registered command, restricted ones included, sorted by name.
func (r *Registry) Specs() []CommandSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CommandSpec, 0, len(r.commands))
	for _, cmd := range r.commands {
		admin, restricted := cmd.AdminRequired, cmd.Restricted
		out = append(out, CommandSpec{
			Name:          cmd.Name,
			Aliases:       append([]string(nil), cmd.Aliases...),
			AdminRequired: &admin,
			Restricted:    &restricted,
			Description:   cmd.Description,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SaveCommandSpecs writes specs in the commands.yaml layout.
func SaveCommandSpecs(path string, specs []CommandSpec) error {
	data, err := yaml.Marshal(commandsFile{Commands: specs})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
