package command

import (
	"strings"

	"github.com/weblate/distributor/internal/domain"
)

// Parser binds raw input to registered definitions.
type Parser struct {
	registry *Registry
}

// NewParser creates a parser reading from registry.
func NewParser(registry *Registry) *Parser {
	return &Parser{registry: registry}
}

// Registry returns the registry the parser reads from.
func (p *Parser) Registry() *Registry {
	return p.registry
}

// Parse tokenizes input, selects the definition named by the first token and
// binds the remaining tokens left to right. Failures are *domain.ParseFailure.
func (p *Parser) Parse(input string, sender domain.Audience) (*Invocation, error) {
	tokens, err := Tokenize(input)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, &domain.ParseFailure{Kind: domain.InvalidSyntax, Reason: "empty command"}
	}

	label := strings.ToLower(tokens[0])
	def, ok := p.registry.Lookup(label)
	if !ok {
		return nil, &domain.ParseFailure{Kind: domain.UnknownCommand, Command: tokens[0]}
	}

	args, err := bind(def, sender, tokens[1:])
	if err != nil {
		return nil, err
	}
	return &Invocation{
		Definition: def,
		Label:      label,
		Audience:   sender,
		Args:       args,
		Tokens:     tokens,
	}, nil
}

func bind(def *Definition, sender domain.Audience, rest []string) (map[string]any, error) {
	args := make(map[string]any, len(def.Arguments))
	pos := 0

	for i, arg := range def.Arguments {
		fail := func(token, reason string) error {
			return &domain.ParseFailure{
				Kind:     domain.BadArgument,
				Command:  def.Name,
				Index:    i,
				Argument: arg.Name,
				Expected: arg.Type.Name(),
				Token:    token,
				Reason:   reason,
			}
		}

		if pos >= len(rest) {
			if !arg.Optional {
				return nil, fail("", "missing argument")
			}
			if arg.Default != nil {
				args[arg.Name] = arg.Default
			}
			continue
		}

		if arg.Variadic {
			values := make([]any, 0, len(rest)-pos)
			for ; pos < len(rest); pos++ {
				v, err := arg.Type.Parse(sender, rest[pos])
				if err != nil {
					return nil, fail(rest[pos], err.Error())
				}
				values = append(values, v)
			}
			args[arg.Name] = values
			continue
		}

		v, err := arg.Type.Parse(sender, rest[pos])
		if err != nil {
			return nil, fail(rest[pos], err.Error())
		}
		args[arg.Name] = v
		pos++
	}

	if pos < len(rest) {
		return nil, &domain.ParseFailure{
			Kind:     domain.BadArgument,
			Command:  def.Name,
			Index:    len(def.Arguments),
			Expected: "end of input",
			Token:    rest[pos],
			Reason:   "too many arguments",
		}
	}
	return args, nil
}
