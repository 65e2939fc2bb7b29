package command

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/weblate/distributor/internal/domain"
	"github.com/weblate/distributor/internal/permission"
)

// Handler executes a parsed invocation on the tick goroutine.
type Handler interface {
	Execute(ctx context.Context, inv *Invocation) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, inv *Invocation) error

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, inv *Invocation) error {
	return f(ctx, inv)
}

// Scope restricts which audience kinds may run a command.
type Scope int

const (
	ScopeAny Scope = iota
	ScopePlayer
	ScopeConsole
)

func (s Scope) String() string {
	switch s {
	case ScopePlayer:
		return "players"
	case ScopeConsole:
		return "the console"
	}
	return "anyone"
}

// Definition describes a command. The registry keeps its own copy, so a
// registered definition never changes.
type Definition struct {
	Name        string
	Aliases     []string
	Description string
	Arguments   []Argument
	// Permission is the node required to run the command; empty means none.
	Permission string
	Scope      Scope
	Handler    Handler
}

var labelPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_\-]*$`)

// Allows reports whether the command's scope admits a.
func (d *Definition) Allows(a domain.Audience) bool {
	switch d.Scope {
	case ScopePlayer:
		return a.Kind == domain.KindPlayer
	case ScopeConsole:
		return a.IsPrivileged()
	}
	return true
}

// Usage renders the argument line, e.g. "kick <player> [reason...]".
func (d *Definition) Usage() string {
	parts := make([]string, 0, len(d.Arguments)+1)
	parts = append(parts, d.Name)
	for _, a := range d.Arguments {
		parts = append(parts, a.usage())
	}
	return strings.Join(parts, " ")
}

// Labels returns the name followed by every alias.
func (d *Definition) Labels() []string {
	return append([]string{d.Name}, d.Aliases...)
}

// normalized returns a validated deep copy of d with lower-cased labels.
func (d Definition) normalized() (*Definition, error) {
	out := d
	out.Name = strings.ToLower(strings.TrimSpace(d.Name))
	if !labelPattern.MatchString(out.Name) {
		return nil, fmt.Errorf("invalid command name %q", d.Name)
	}
	if d.Handler == nil {
		return nil, fmt.Errorf("command %q has no handler", out.Name)
	}

	out.Aliases = make([]string, 0, len(d.Aliases))
	for _, alias := range d.Aliases {
		alias = strings.ToLower(strings.TrimSpace(alias))
		if !labelPattern.MatchString(alias) {
			return nil, fmt.Errorf("command %q: invalid alias %q", out.Name, alias)
		}
		out.Aliases = append(out.Aliases, alias)
	}

	out.Arguments = append([]Argument(nil), d.Arguments...)
	names := make(map[string]bool, len(out.Arguments))
	optional := false
	for i, a := range out.Arguments {
		switch {
		case a.Name == "":
			return nil, fmt.Errorf("command %q: argument %d has no name", out.Name, i)
		case a.Type == nil:
			return nil, fmt.Errorf("command %q: argument %q has no type", out.Name, a.Name)
		case names[a.Name]:
			return nil, fmt.Errorf("command %q: duplicate argument %q", out.Name, a.Name)
		case a.Variadic && i != len(out.Arguments)-1:
			return nil, fmt.Errorf("command %q: variadic argument %q must be last", out.Name, a.Name)
		case a.Variadic && a.Default != nil && !isList(a.Default):
			return nil, fmt.Errorf("command %q: variadic argument %q needs a []any default", out.Name, a.Name)
		case optional && !a.Optional:
			return nil, fmt.Errorf("command %q: required argument %q follows an optional one", out.Name, a.Name)
		}
		names[a.Name] = true
		optional = optional || a.Optional
	}

	if d.Permission != "" {
		node, err := permission.NormalizeNode(d.Permission)
		if err != nil {
			return nil, fmt.Errorf("command %q: %w", out.Name, err)
		}
		out.Permission = node
	}
	return &out, nil
}

func isList(v any) bool {
	_, ok := v.([]any)
	return ok
}
