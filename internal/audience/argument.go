package audience

import (
	"errors"
	"fmt"

	"github.com/weblate/distributor/internal/command"
	"github.com/weblate/distributor/internal/domain"
)

// PlayerArgument resolves a token to exactly one online player.
type PlayerArgument struct {
	lookup *PlayerLookup
	prefix bool
}

// NewPlayerArgument creates an argument type backed by lookup. With prefix
// set, an unambiguous name prefix is accepted.
func NewPlayerArgument(lookup *PlayerLookup, prefix bool) *PlayerArgument {
	return &PlayerArgument{lookup: lookup, prefix: prefix}
}

func (p *PlayerArgument) Name() string { return "online player" }

func (p *PlayerArgument) Parse(_ domain.Audience, token string) (any, error) {
	found := p.lookup.Find(Query{Input: token, Prefix: p.prefix})
	switch len(found) {
	case 0:
		return nil, errors.New("no player online by that name")
	case 1:
		return found[0], nil
	}
	return nil, fmt.Errorf("%d players match", len(found))
}

// Format writes the id so the value parses back to the same player.
func (p *PlayerArgument) Format(v any) string {
	return v.(domain.Audience).ID
}

// Ensure PlayerArgument implements command.ArgumentType.
var _ command.ArgumentType = (*PlayerArgument)(nil)
