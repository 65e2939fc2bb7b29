package command

import (
	"strings"

	"github.com/weblate/distributor/internal/domain"
)

// Invocation is a definition bound to one audience and its parsed arguments.
type Invocation struct {
	Definition *Definition
	// Label is the name or alias the audience typed.
	Label    string
	Audience domain.Audience
	Args     map[string]any
	Tokens   []string

	reply domain.MessageSender
}

// Arg returns the bound value of an argument.
func (inv *Invocation) Arg(name string) (any, bool) {
	v, ok := inv.Args[name]
	return v, ok
}

// Get returns the bound value of name as T.
func Get[T any](inv *Invocation, name string) (T, bool) {
	v, ok := inv.Args[name].(T)
	return v, ok
}

// GetOr returns the bound value of name, or fallback when it is absent.
func GetOr[T any](inv *Invocation, name string, fallback T) T {
	if v, ok := Get[T](inv, name); ok {
		return v
	}
	return fallback
}

// WithReply sets where Reply and Fail messages go.
func (inv *Invocation) WithReply(sender domain.MessageSender) *Invocation {
	inv.reply = sender
	return inv
}

// Reply sends an info message to the invoking audience.
func (inv *Invocation) Reply(message string) error {
	return inv.send(domain.MessageInfo, message)
}

// Warn sends a warning to the invoking audience.
func (inv *Invocation) Warn(message string) error {
	return inv.send(domain.MessageWarning, message)
}

func (inv *Invocation) send(kind domain.MessageKind, message string) error {
	if inv.reply == nil {
		return nil
	}
	return inv.reply.Send(inv.Audience, kind, message)
}

// String re-serializes the invocation. Parsing the result with the same
// registry yields an equal invocation.
func (inv *Invocation) String() string {
	parts := []string{Quote(inv.Definition.Name)}
	for _, a := range inv.Definition.Arguments {
		v, ok := inv.Args[a.Name]
		if !ok {
			break
		}
		if a.Variadic {
			for _, item := range v.([]any) {
				parts = append(parts, Quote(a.Type.Format(item)))
			}
			continue
		}
		parts = append(parts, Quote(a.Type.Format(v)))
	}
	return strings.Join(parts, " ")
}
